package toolschema

import (
	"encoding/json"
	"testing"

	"github.com/cortexhub/anthropic-gateway/internal/canonical"
)

func reqWithToolUse(t *testing.T, schema, input string) *canonical.Request {
	t.Helper()
	return &canonical.Request{
		Model:     "default",
		MaxTokens: 10,
		Tools:     []canonical.Tool{{Name: "lookup", InputSchema: json.RawMessage(schema)}},
		Messages: []canonical.Message{
			{Role: canonical.RoleAssistant, Blocks: []canonical.ContentBlock{
				{Type: canonical.BlockToolUse, ID: "t1", Name: "lookup", Input: json.RawMessage(input)},
			}},
		},
	}
}

func TestValidateToolUses_AcceptsMatchingInput(t *testing.T) {
	req := reqWithToolUse(t, `{"type":"object","required":["query"],"properties":{"query":{"type":"string"}}}`, `{"query":"weather"}`)
	if err := ValidateToolUses(req); err != nil {
		t.Fatalf("expected valid input to pass, got %v", err)
	}
}

func TestValidateToolUses_RejectsMissingRequiredField(t *testing.T) {
	req := reqWithToolUse(t, `{"type":"object","required":["query"],"properties":{"query":{"type":"string"}}}`, `{}`)
	if err := ValidateToolUses(req); err == nil {
		t.Fatal("expected a schema violation for a missing required field")
	}
}

func TestValidateToolUses_RejectsWrongType(t *testing.T) {
	req := reqWithToolUse(t, `{"type":"object","properties":{"query":{"type":"string"}}}`, `{"query":42}`)
	if err := ValidateToolUses(req); err == nil {
		t.Fatal("expected a schema violation for a wrong-typed field")
	}
}

func TestValidateToolUses_SkipsToolWithNoDeclaredSchema(t *testing.T) {
	req := &canonical.Request{
		Model: "default", MaxTokens: 10,
		Tools: []canonical.Tool{{Name: "lookup"}},
		Messages: []canonical.Message{
			{Role: canonical.RoleAssistant, Blocks: []canonical.ContentBlock{
				{Type: canonical.BlockToolUse, ID: "t1", Name: "lookup", Input: json.RawMessage(`{"anything":true}`)},
			}},
		},
	}
	if err := ValidateToolUses(req); err != nil {
		t.Fatalf("expected no error when the tool declares no schema, got %v", err)
	}
}
