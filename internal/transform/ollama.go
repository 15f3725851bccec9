package transform

import (
	"encoding/json"
	"fmt"

	"github.com/cortexhub/anthropic-gateway/internal/canonical"
	"github.com/cortexhub/anthropic-gateway/internal/gatewayerr"
)

// OllamaConverter implements Converter for Ollama's native /api/chat shape,
// which is message-based like OpenAI's but wraps usage fields and the
// reply differently (no choices array, no tool_calls envelope around a
// tool response — Ollama surfaces a tool call as message.tool_calls too,
// matching the newer Ollama tool-calling API).
type OllamaConverter struct{}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model          string        `json:"model"`
	Message        ollamaMessage `json:"message"`
	Done           bool          `json:"done"`
	DoneReason     string        `json:"done_reason"`
	PromptEvalCount int          `json:"prompt_eval_count"`
	EvalCount      int           `json:"eval_count"`
}

func (OllamaConverter) RequestOut(req *canonical.Request, model string) (interface{}, error) {
	out := ollamaRequest{Model: model, Stream: req.Stream, Options: map[string]interface{}{}}
	if req.Temperature != nil {
		out.Options["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		out.Options["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		out.Options["top_k"] = *req.TopK
	}
	if len(req.StopSequences) > 0 {
		out.Options["stop"] = req.StopSequences
	}
	if req.System != "" {
		out.Messages = append(out.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		text := m.Text
		if m.Blocks != nil {
			for _, b := range m.Blocks {
				if b.Type == canonical.BlockText {
					text += b.Text
				}
			}
		}
		out.Messages = append(out.Messages, ollamaMessage{Role: string(m.Role), Content: text})
	}
	for _, t := range req.Tools {
		tool := ollamaTool{Type: "function"}
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = t.InputSchema
		out.Tools = append(out.Tools, tool)
	}
	return out, nil
}

func (OllamaConverter) ResponseIn(virtualModel string, raw interface{}) (*canonical.Response, error) {
	body, ok := raw.([]byte)
	if !ok {
		return nil, gatewayerr.New(gatewayerr.KindInternal, "transformer", "", "ResponseIn expected raw bytes")
	}
	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, gatewayerr.New(gatewayerr.KindUpstreamProto, "transformer", "", fmt.Sprintf("malformed ollama response: %v", err))
	}

	out := &canonical.Response{
		Type: "message", Role: canonical.RoleAssistant, Model: virtualModel,
		Usage: canonical.Usage{InputTokens: resp.PromptEvalCount, OutputTokens: resp.EvalCount},
	}
	for _, tc := range resp.Message.ToolCalls {
		out.Content = append(out.Content, canonical.ContentBlock{
			Type: canonical.BlockToolUse, Name: tc.Function.Name, Input: tc.Function.Arguments,
		})
	}
	if resp.Message.Content != "" {
		out.Content = append(out.Content, canonical.ContentBlock{Type: canonical.BlockText, Text: resp.Message.Content})
	}
	if out.HasToolUse() {
		out.StopReason = canonical.StopToolUse
	} else if resp.DoneReason == "length" {
		out.StopReason = canonical.StopMaxTokens
	} else {
		out.StopReason = canonical.StopEndTurn
	}
	return out, nil
}
