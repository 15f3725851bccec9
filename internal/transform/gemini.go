package transform

import (
	"encoding/json"
	"fmt"

	"github.com/cortexhub/anthropic-gateway/internal/canonical"
	"github.com/cortexhub/anthropic-gateway/internal/gatewayerr"
)

// GeminiConverter implements Converter for Gemini's generateContent dialect
// (spec.md §4.4). Tools must be wrapped in a one-element
// [{functionDeclarations:[...]}] array — spec.md flags this shape as "a past
// regression point", so it is asserted by construction here rather than left
// to caller discipline.
type GeminiConverter struct{}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiToolWrapper struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiRequest struct {
	Contents         []geminiContent     `json:"contents"`
	Tools            []geminiToolWrapper `json:"tools,omitempty"`
	GenerationConfig struct {
		MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
		Temperature     *float64 `json:"temperature,omitempty"`
		TopP            *float64 `json:"topP,omitempty"`
		StopSequences   []string `json:"stopSequences,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (GeminiConverter) RequestOut(req *canonical.Request, model string) (interface{}, error) {
	out := geminiRequest{}
	out.GenerationConfig.MaxOutputTokens = req.MaxTokens
	out.GenerationConfig.Temperature = req.Temperature
	out.GenerationConfig.TopP = req.TopP
	out.GenerationConfig.StopSequences = req.StopSequences

	if req.System != "" {
		out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: "System: " + req.System}}})
	}
	for _, m := range req.Messages {
		content, err := convertMessageGemini(m)
		if err != nil {
			return nil, err
		}
		out.Contents = append(out.Contents, content)
	}

	if len(req.Tools) > 0 {
		wrapper := geminiToolWrapper{}
		for _, t := range req.Tools {
			wrapper.FunctionDeclarations = append(wrapper.FunctionDeclarations, geminiFunctionDeclaration{
				Name: t.Name, Description: t.Description, Parameters: t.InputSchema,
			})
		}
		// mandatory single-element wrapping (spec.md §4.4).
		out.Tools = []geminiToolWrapper{wrapper}
	}
	return out, nil
}

func convertMessageGemini(m canonical.Message) (geminiContent, error) {
	role := "user"
	if m.Role == canonical.RoleAssistant {
		role = "model"
	}
	if m.Blocks == nil {
		return geminiContent{Role: role, Parts: []geminiPart{{Text: m.Text}}}, nil
	}

	var parts []geminiPart
	for _, b := range m.Blocks {
		switch b.Type {
		case canonical.BlockText:
			parts = append(parts, geminiPart{Text: b.Text})
		case canonical.BlockToolUse:
			parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: b.Name, Args: b.Input}})
		case canonical.BlockToolResult:
			role = "user"
			parts = append(parts, geminiPart{Text: fmt.Sprintf("Tool %q result: %s", b.ToolUseID, string(b.Content))})
		case canonical.BlockImage:
			parts = append(parts, geminiPart{Text: "[image omitted]"})
		}
	}
	return geminiContent{Role: role, Parts: parts}, nil
}

func (GeminiConverter) ResponseIn(virtualModel string, raw interface{}) (*canonical.Response, error) {
	body, ok := raw.([]byte)
	if !ok {
		return nil, gatewayerr.New(gatewayerr.KindInternal, "transformer", "", "ResponseIn expected raw bytes")
	}
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, gatewayerr.New(gatewayerr.KindUpstreamProto, "transformer", "", fmt.Sprintf("malformed gemini response: %v", err))
	}
	if len(resp.Candidates) == 0 {
		return nil, gatewayerr.New(gatewayerr.KindUpstreamProto, "transformer", "", "gemini response has no candidates")
	}
	candidate := resp.Candidates[0]

	out := &canonical.Response{
		Type:  "message",
		Role:  canonical.RoleAssistant,
		Model: virtualModel,
		Usage: canonical.Usage{InputTokens: resp.UsageMetadata.PromptTokenCount, OutputTokens: resp.UsageMetadata.CandidatesTokenCount},
	}
	for _, p := range candidate.Content.Parts {
		if p.FunctionCall != nil {
			out.Content = append(out.Content, canonical.ContentBlock{
				Type: canonical.BlockToolUse, Name: p.FunctionCall.Name, Input: p.FunctionCall.Args,
			})
		} else if p.Text != "" {
			out.Content = append(out.Content, canonical.ContentBlock{Type: canonical.BlockText, Text: p.Text})
		}
	}
	out.StopReason = geminiStopReason(candidate.FinishReason, out.HasToolUse())
	return out, nil
}

func geminiStopReason(finishReason string, hasToolUse bool) canonical.StopReason {
	switch finishReason {
	case "MAX_TOKENS":
		return canonical.StopMaxTokens
	case "SAFETY", "RECITATION":
		return canonical.StopSequenceHit
	default:
		if hasToolUse {
			return canonical.StopToolUse
		}
		return canonical.StopEndTurn
	}
}
