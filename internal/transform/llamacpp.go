package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cortexhub/anthropic-gateway/internal/canonical"
	"github.com/cortexhub/anthropic-gateway/internal/gatewayerr"
)

// LlamaCppConverter implements Converter for llama.cpp server's native
// /completion endpoint, which takes one flattened prompt string rather than
// a messages array and has no structured tool-calling support — any tool
// declarations are rendered into the prompt as a textual hint so the
// compatibility layer's textual-tool-call extraction (spec.md §4.5) has a
// chance to recover a tool_use block from the plain-text reply.
type LlamaCppConverter struct{}

type llamaCppRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

func (LlamaCppConverter) RequestOut(req *canonical.Request, model string) (interface{}, error) {
	var b strings.Builder
	if req.System != "" {
		fmt.Fprintf(&b, "System: %s\n\n", req.System)
	}
	for _, t := range req.Tools {
		fmt.Fprintf(&b, "Tool available: %s(%s)\n", t.Name, t.Description)
	}
	for _, m := range req.Messages {
		text := m.Text
		if m.Blocks != nil {
			for _, block := range m.Blocks {
				if block.Type == canonical.BlockText {
					text += block.Text
				}
			}
		}
		fmt.Fprintf(&b, "%s: %s\n", strings.Title(string(m.Role)), text)
	}
	b.WriteString("Assistant:")

	return llamaCppRequest{
		Prompt:      b.String(),
		NPredict:    req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}, nil
}

func (LlamaCppConverter) ResponseIn(virtualModel string, raw interface{}) (*canonical.Response, error) {
	body, ok := raw.([]byte)
	if !ok {
		return nil, gatewayerr.New(gatewayerr.KindInternal, "transformer", "", "ResponseIn expected raw bytes")
	}
	var resp struct {
		Content string `json:"content"`
		Stop    bool   `json:"stop"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, gatewayerr.New(gatewayerr.KindUpstreamProto, "transformer", "", fmt.Sprintf("malformed llama.cpp response: %v", err))
	}
	return &canonical.Response{
		Type: "message", Role: canonical.RoleAssistant, Model: virtualModel,
		Content:    []canonical.ContentBlock{{Type: canonical.BlockText, Text: resp.Content}},
		StopReason: canonical.StopEndTurn,
	}, nil
}
