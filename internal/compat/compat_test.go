package compat

import (
	"encoding/json"
	"testing"

	"github.com/cortexhub/anthropic-gateway/internal/config"
)

func TestResponsePostprocess_TextualToolCallExtraction(t *testing.T) {
	provider := &config.Provider{ResponseFixesNeeded: []string{"extract_textual_tool_calls"}}
	raw := []byte(`{"choices":[{"message":{"role":"assistant","content":"Sure.\n\nTool call: Bash({\"command\":\"ls\"})\n\nDone."},"finish_reason":"stop"}]}`)

	out := ResponsePostprocess(raw, provider)

	var body map[string]interface{}
	if err := json.Unmarshal(out, &body); err != nil {
		t.Fatalf("unmarshal fixed body: %v", err)
	}
	choice := body["choices"].([]interface{})[0].(map[string]interface{})
	message := choice["message"].(map[string]interface{})
	if message["content"] != "Sure.\n\nDone." {
		t.Errorf("expected cleaned text, got %q", message["content"])
	}
	if choice["finish_reason"] != "tool_calls" {
		t.Errorf("expected finish_reason forced to tool_calls, got %v", choice["finish_reason"])
	}
	toolCalls := message["tool_calls"].([]interface{})
	if len(toolCalls) != 1 {
		t.Fatalf("expected one extracted tool call, got %d", len(toolCalls))
	}
}

func TestResponsePostprocess_Idempotent(t *testing.T) {
	provider := &config.Provider{ResponseFixesNeeded: []string{"missing_id", "missing_created", "missing_usage", "choices_array_fix"}}
	raw := []byte(`{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}`)

	once := ResponsePostprocess(raw, provider)
	twice := ResponsePostprocess(once, provider)

	var a, b map[string]interface{}
	json.Unmarshal(once, &a)
	json.Unmarshal(twice, &b)
	if a["id"] != b["id"] {
		t.Errorf("expected idempotent id, got %v then %v", a["id"], b["id"])
	}
	choicesA := a["choices"].([]interface{})
	choicesB := b["choices"].([]interface{})
	if len(choicesA) != 1 || len(choicesB) != 1 {
		t.Errorf("expected single-choice normalisation to stay stable, got %d then %d", len(choicesA), len(choicesB))
	}
}

func TestRequestPreprocess_ClampsAndDropsTools(t *testing.T) {
	max := 1.0
	provider := &config.Provider{
		ParameterLimits: map[string]config.ParamLimit{"temperature": {Max: &max}},
		Capabilities:    config.CapabilitiesConfig{SupportsTools: false},
	}
	raw := []byte(`{"temperature":1.9,"tools":[{"type":"function"}],"tool_choice":"auto"}`)

	out := RequestPreprocess(raw, provider)

	var body map[string]interface{}
	json.Unmarshal(out, &body)
	if _, ok := body["temperature"]; ok {
		t.Errorf("expected out-of-range temperature to be dropped, got %v", body["temperature"])
	}
	if _, ok := body["tools"]; ok {
		t.Error("expected tools dropped for a provider without tool support")
	}
	if _, ok := body["tool_choice"]; ok {
		t.Error("expected tool_choice dropped for a provider without tool support")
	}
}
