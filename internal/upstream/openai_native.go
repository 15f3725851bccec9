package upstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// executeViaOpenAISDK is the one place the official openai-go client is
// used — scoped to provider.Protocol == "openai" (the hosted API), never
// the "openai-compatible" family, which keeps using the hand-rolled
// net/http path in internal/protocol since self-hosted servers frequently
// deviate from the real API's edge-case behaviour in ways the SDK does not
// tolerate. The SDK's own ChatCompletion struct already carries the exact
// field set OpenAIConverter.ResponseIn expects, so round-tripping it
// through json.Marshal hands back wire-identical bytes.
func executeViaOpenAISDK(ctx context.Context, baseURL, apiKey, model string, body map[string]interface{}) ([]byte, int, error) {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	messages, err := messageParamsFrom(body)
	if err != nil {
		return nil, 0, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, statusFromSDKError(err), err
	}

	encoded, err := json.Marshal(completion)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal openai completion: %w", err)
	}
	return encoded, 200, nil
}

func messageParamsFrom(body map[string]interface{}) ([]openai.ChatCompletionMessageParamUnion, error) {
	raw, ok := body["messages"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("openai sdk path: request body has no messages array")
	}
	var out []openai.ChatCompletionMessageParamUnion
	for _, entry := range raw {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		switch role {
		case "system":
			out = append(out, openai.SystemMessage(content))
		case "assistant":
			out = append(out, openai.AssistantMessage(content))
		default:
			out = append(out, openai.UserMessage(content))
		}
	}
	return out, nil
}

// statusFromSDKError best-efforts an HTTP status out of an openai-go error
// for the switching controller's classification; the SDK does not
// guarantee a typed status on every failure path (network errors have
// none), so 0 is a legitimate result here.
func statusFromSDKError(err error) int {
	var apiErr *openai.Error
	if ok := asOpenAIError(err, &apiErr); ok {
		return apiErr.StatusCode
	}
	return 0
}

func asOpenAIError(err error, target **openai.Error) bool {
	apiErr, ok := err.(*openai.Error)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}
