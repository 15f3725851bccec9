package compat

import (
	"time"

	"github.com/google/uuid"

	"github.com/cortexhub/anthropic-gateway/internal/config"
)

// FixFunc names a small deterministic transform with the contract "input
// may or may not exhibit the defect; output is guaranteed to satisfy the
// corresponding invariant" (spec.md §4.5). Every FixFunc here is idempotent.
type FixFunc func(body map[string]interface{})

var fixTags = map[string]FixFunc{
	"missing_id":            fixMissingID,
	"missing_created":        fixMissingCreated,
	"missing_usage":          fixMissingUsage,
	"choices_array_fix":      fixChoicesArray,
	"tool_calls_format":      fixToolCallsFormat,
	"basic_standardization":  fixBasicStandardization,
}

// ResponsePostprocess applies a provider's ordered fix-tag list, then —
// gated by the extract_textual_tool_calls tag — the textual-tool-call
// extraction pass (spec.md §4.5). Unrecognised tags are skipped rather than
// treated as a config error; the config preprocessor does not validate tag
// names against this registry.
func ResponsePostprocess(raw []byte, provider *config.Provider) []byte {
	body, err := decodeJSON(raw)
	if err != nil {
		return raw
	}

	extractTextual := false
	for _, tag := range provider.ResponseFixesNeeded {
		if tag == "extract_textual_tool_calls" {
			extractTextual = true
			continue
		}
		if fn, ok := fixTags[tag]; ok {
			fn(body)
		}
	}
	if extractTextual {
		extractTextualToolCalls(body)
	}

	out, err := encodeJSON(body)
	if err != nil {
		return raw
	}
	return out
}

func fixMissingID(body map[string]interface{}) {
	if id, ok := body["id"].(string); ok && id != "" {
		return
	}
	body["id"] = "chatcmpl-" + uuid.NewString()
}

func fixMissingCreated(body map[string]interface{}) {
	if _, ok := body["created"]; ok {
		return
	}
	body["created"] = time.Now().Unix()
}

func fixMissingUsage(body map[string]interface{}) {
	if _, ok := body["usage"]; ok {
		return
	}
	body["usage"] = map[string]interface{}{"prompt_tokens": 0, "completion_tokens": 0}
}

// fixChoicesArray handles providers that return a single "choice" object
// instead of a "choices" array — a recurring defect in lightly-maintained
// OpenAI-compatible servers.
func fixChoicesArray(body map[string]interface{}) {
	if _, ok := body["choices"].([]interface{}); ok {
		return
	}
	if choice, ok := body["choice"]; ok {
		body["choices"] = []interface{}{choice}
		delete(body, "choice")
		return
	}
	if _, ok := body["message"]; ok {
		body["choices"] = []interface{}{map[string]interface{}{
			"message":       body["message"],
			"finish_reason": body["finish_reason"],
		}}
	}
}

// fixToolCallsFormat normalises a tool_calls entry's function.arguments
// field to a JSON string when the provider emitted a nested object instead
// (the OpenAI wire contract requires arguments be a string).
func fixToolCallsFormat(body map[string]interface{}) {
	choices, ok := body["choices"].([]interface{})
	if !ok {
		return
	}
	for _, c := range choices {
		choice, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		message, ok := choice["message"].(map[string]interface{})
		if !ok {
			continue
		}
		toolCalls, ok := message["tool_calls"].([]interface{})
		if !ok {
			continue
		}
		for _, tc := range toolCalls {
			call, ok := tc.(map[string]interface{})
			if !ok {
				continue
			}
			fn, ok := call["function"].(map[string]interface{})
			if !ok {
				continue
			}
			if args, isString := fn["arguments"].(string); isString && args != "" {
				continue
			}
			encoded, err := encodeJSON(toMap(fn["arguments"]))
			if err == nil {
				fn["arguments"] = string(encoded)
			}
		}
	}
}

func toMap(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// fixBasicStandardization guarantees the minimal envelope fields every
// downstream fix and the transformer's ResponseIn assume are present.
func fixBasicStandardization(body map[string]interface{}) {
	if _, ok := body["object"]; !ok {
		body["object"] = "chat.completion"
	}
	fixMissingID(body)
	fixMissingCreated(body)
	fixMissingUsage(body)
	fixChoicesArray(body)
}
