package transform

import (
	"encoding/json"
	"fmt"

	"github.com/cortexhub/anthropic-gateway/internal/canonical"
	"github.com/cortexhub/anthropic-gateway/internal/gatewayerr"
)

// OpenAIConverter implements Converter for the OpenAI chat-completions
// dialect (spec.md §4.4), also used by any OpenAI-compatible provider
// (LMStudio, vLLM, TGI, OpenRouter) since they share this wire shape.
type OpenAIConverter struct{}

type oaMessage struct {
	Role       string          `json:"role"`
	Content    interface{}     `json:"content,omitempty"`
	ToolCalls  []oaToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
	TopP        *float64    `json:"top_p,omitempty"`
	Stop        []string    `json:"stop,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
	Tools       []oaTool    `json:"tools,omitempty"`
	ToolChoice  interface{} `json:"tool_choice,omitempty"`
}

type oaResponse struct {
	Choices []struct {
		Message      oaMessage `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// RequestOut implements spec.md §4.4's Anthropic→OpenAI request-out rules.
func (OpenAIConverter) RequestOut(req *canonical.Request, model string) (interface{}, error) {
	out := oaRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}

	if req.System != "" {
		out.Messages = append(out.Messages, oaMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		converted, err := convertMessageOut(m)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, converted...)
	}

	for _, t := range req.Tools {
		tool := oaTool{Type: "function"}
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = t.InputSchema
		out.Tools = append(out.Tools, tool)
	}
	if req.ToolChoice != nil && len(out.Tools) > 0 {
		out.ToolChoice = toolChoiceOut(*req.ToolChoice)
	}
	return out, nil
}

func toolChoiceOut(tc canonical.ToolChoice) interface{} {
	switch tc.Kind {
	case canonical.ToolChoiceAny:
		return "required"
	case canonical.ToolChoiceNamed:
		return map[string]interface{}{"type": "function", "function": map[string]string{"name": tc.Name}}
	default:
		return "auto"
	}
}

// convertMessageOut flattens a message's content to a single string when all
// blocks are text; tool_use blocks become assistant tool_calls; tool_result
// blocks become a standalone "tool" role message (spec.md §4.4).
func convertMessageOut(m canonical.Message) ([]oaMessage, error) {
	role := string(m.Role)
	if m.Blocks == nil {
		return []oaMessage{{Role: role, Content: m.Text}}, nil
	}

	var out []oaMessage
	var textParts string
	var toolCalls []oaToolCall
	for _, b := range m.Blocks {
		switch b.Type {
		case canonical.BlockText:
			textParts += b.Text
		case canonical.BlockToolUse:
			args, err := json.Marshal(json.RawMessage(b.Input))
			if err != nil {
				return nil, gatewayerr.New(gatewayerr.KindTransform, "transformer", "", fmt.Sprintf("tool_use input not representable: %v", err))
			}
			tc := oaToolCall{ID: b.ID, Type: "function"}
			tc.Function.Name = b.Name
			tc.Function.Arguments = string(args)
			toolCalls = append(toolCalls, tc)
		case canonical.BlockToolResult:
			out = append(out, oaMessage{Role: "tool", ToolCallID: b.ToolUseID, Content: string(b.Content)})
		case canonical.BlockImage:
			// image blocks require the multi-part content form; represented
			// as-is via a single describing string since the OpenAI-compatible
			// providers this gateway targets do not all support vision input.
			textParts += "[image omitted]"
		}
	}
	if textParts != "" || toolCalls != nil {
		msg := oaMessage{Role: role}
		if textParts != "" {
			msg.Content = textParts
		}
		msg.ToolCalls = toolCalls
		out = append([]oaMessage{msg}, out...)
	}
	return out, nil
}

// ResponseIn implements spec.md §4.4's OpenAI→Anthropic response-in rules.
func (OpenAIConverter) ResponseIn(virtualModel string, raw interface{}) (*canonical.Response, error) {
	body, ok := raw.([]byte)
	if !ok {
		return nil, gatewayerr.New(gatewayerr.KindInternal, "transformer", "", "ResponseIn expected raw bytes")
	}
	var resp oaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, gatewayerr.New(gatewayerr.KindUpstreamProto, "transformer", "", fmt.Sprintf("malformed openai response: %v", err))
	}
	if len(resp.Choices) == 0 {
		return nil, gatewayerr.New(gatewayerr.KindUpstreamProto, "transformer", "", "openai response has no choices")
	}
	choice := resp.Choices[0]

	out := &canonical.Response{
		Type:  "message",
		Role:  canonical.RoleAssistant,
		Model: virtualModel,
		Usage: canonical.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}

	if len(choice.Message.ToolCalls) > 0 {
		for _, tc := range choice.Message.ToolCalls {
			block := canonical.ContentBlock{Type: canonical.BlockToolUse, ID: tc.ID, Name: tc.Function.Name}
			if json.Valid([]byte(tc.Function.Arguments)) {
				block.Input = json.RawMessage(tc.Function.Arguments)
			} else {
				diagnostic, _ := json.Marshal(map[string]string{"_unparsed_arguments": tc.Function.Arguments})
				block.Input = diagnostic
			}
			out.Content = append(out.Content, block)
		}
	} else if content, ok := choice.Message.Content.(string); ok {
		out.Content = []canonical.ContentBlock{{Type: canonical.BlockText, Text: content}}
	}

	out.StopReason = stopReasonFromFinish(choice.FinishReason, out.HasToolUse())
	return out, nil
}

func stopReasonFromFinish(finishReason string, hasToolUse bool) canonical.StopReason {
	switch finishReason {
	case "length":
		return canonical.StopMaxTokens
	case "tool_calls":
		return canonical.StopToolUse
	case "content_filter":
		return canonical.StopSequenceHit
	case "stop":
		if hasToolUse {
			return canonical.StopToolUse
		}
		return canonical.StopEndTurn
	default:
		if hasToolUse {
			return canonical.StopToolUse
		}
		return canonical.StopEndTurn
	}
}
