package compat

import (
	"encoding/json"
	"regexp"
	"strings"
)

// toolCallPattern matches "Tool call: NAME(JSON)" and the "⏺ Tool call:
// NAME(JSON)" variant some providers prefix with a bullet glyph
// (spec.md §4.5).
var toolCallPattern = regexp.MustCompile(`(?:⏺\s*)?Tool call:\s*([A-Za-z_][A-Za-z0-9_]*)\((\{.*?\})\)`)

// inlineToolUsePattern matches a raw {"type":"tool_use", ...} JSON blob
// embedded in assistant text.
var inlineToolUsePattern = regexp.MustCompile(`\{"type"\s*:\s*"tool_use"[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)

// extractTextualToolCalls scans the first choice's assistant message text
// for embedded tool-call patterns and, when found, removes the matched
// substrings, synthesises proper tool_calls entries, and forces
// finish_reason to "tool_calls" so the transformer maps it to stop_reason
// tool_use (spec.md §4.5). Idempotent: a second pass over already-extracted
// text finds nothing left to match.
func extractTextualToolCalls(body map[string]interface{}) {
	choices, ok := body["choices"].([]interface{})
	if !ok || len(choices) == 0 {
		return
	}
	choice, ok := choices[0].(map[string]interface{})
	if !ok {
		return
	}
	message, ok := choice["message"].(map[string]interface{})
	if !ok {
		return
	}
	content, ok := message["content"].(string)
	if !ok || content == "" {
		return
	}

	var calls []interface{}
	remaining := content

	for _, m := range toolCallPattern.FindAllStringSubmatch(content, -1) {
		calls = append(calls, map[string]interface{}{
			"id":   "call_" + randomSuffix(len(calls)),
			"type": "function",
			"function": map[string]interface{}{
				"name":      m[1],
				"arguments": m[2],
			},
		})
		remaining = strings.Replace(remaining, m[0], "", 1)
	}

	for _, blob := range inlineToolUsePattern.FindAllString(content, -1) {
		var parsed struct {
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		}
		if err := json.Unmarshal([]byte(blob), &parsed); err == nil && parsed.Name != "" {
			args, _ := json.Marshal(parsed.Input)
			calls = append(calls, map[string]interface{}{
				"id":   "call_" + randomSuffix(len(calls)),
				"type": "function",
				"function": map[string]interface{}{
					"name":      parsed.Name,
					"arguments": string(args),
				},
			})
			remaining = strings.Replace(remaining, blob, "", 1)
		}
	}

	if len(calls) == 0 {
		return
	}

	message["content"] = strings.TrimSpace(collapseBlankLines(remaining))
	message["tool_calls"] = calls
	choice["finish_reason"] = "tool_calls"
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

// randomSuffix is deterministic-per-call-within-a-response rather than
// globally unique — good enough for correlating a tool_use id with its
// tool_result in the same turn, which is all the wire contract requires.
func randomSuffix(ordinal int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	n := ordinal + 1
	out := make([]byte, 8)
	for i := range out {
		out[i] = alphabet[(n*2654435761+i*97)%len(alphabet)]
	}
	return string(out)
}
