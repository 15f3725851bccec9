package transform

import (
	"encoding/json"
	"testing"

	"github.com/cortexhub/anthropic-gateway/internal/canonical"
)

func TestOpenAIRequestOut_SystemAndTools(t *testing.T) {
	req := &canonical.Request{
		System:    "be terse",
		MaxTokens: 50,
		Messages:  []canonical.Message{{Role: canonical.RoleUser, Text: "hi"}},
		Tools:     []canonical.Tool{{Name: "get_weather", InputSchema: json.RawMessage(`{"type":"object"}`)}},
		ToolChoice: &canonical.ToolChoice{Kind: canonical.ToolChoiceAny},
	}
	out, err := OpenAIConverter{}.RequestOut(req, "gpt-test")
	if err != nil {
		t.Fatalf("RequestOut: %v", err)
	}
	body, ok := out.(oaRequest)
	if !ok {
		t.Fatalf("expected oaRequest, got %T", out)
	}
	if body.Messages[0].Role != "system" || body.Messages[0].Content != "be terse" {
		t.Errorf("expected system collapsed into leading message, got %+v", body.Messages[0])
	}
	if body.ToolChoice != "required" {
		t.Errorf("expected tool_choice=any -> required, got %v", body.ToolChoice)
	}
	if len(body.Tools) != 1 || body.Tools[0].Function.Name != "get_weather" {
		t.Errorf("expected translated tool, got %+v", body.Tools)
	}
}

func TestOpenAIResponseIn_HappyPath(t *testing.T) {
	raw := []byte(`{"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`)
	resp, err := OpenAIConverter{}.ResponseIn("default", raw)
	if err != nil {
		t.Fatalf("ResponseIn: %v", err)
	}
	if resp.StopReason != canonical.StopEndTurn {
		t.Errorf("expected end_turn, got %s", resp.StopReason)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "hello" {
		t.Errorf("expected single text block 'hello', got %+v", resp.Content)
	}
	if resp.Usage.InputTokens != 1 || resp.Usage.OutputTokens != 1 {
		t.Errorf("expected usage mapped, got %+v", resp.Usage)
	}
}

func TestOpenAIResponseIn_ToolCallRoundTrip(t *testing.T) {
	raw := []byte(`{"choices":[{"message":{"role":"assistant","tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"NYC\"}"}}]},"finish_reason":"tool_calls"}],"usage":{}}`)
	resp, err := OpenAIConverter{}.ResponseIn("default", raw)
	if err != nil {
		t.Fatalf("ResponseIn: %v", err)
	}
	if resp.StopReason != canonical.StopToolUse {
		t.Errorf("expected tool_use, got %s", resp.StopReason)
	}
	if !resp.HasToolUse() {
		t.Fatal("expected HasToolUse true")
	}
	if resp.Content[0].Name != "get_weather" {
		t.Errorf("expected get_weather tool_use block, got %+v", resp.Content[0])
	}
}

func TestOpenAIResponseIn_UnparsableArgumentsPreservedAsDiagnostic(t *testing.T) {
	raw := []byte(`{"choices":[{"message":{"role":"assistant","tool_calls":[{"id":"call_1","type":"function","function":{"name":"broken","arguments":"not json"}}]},"finish_reason":"tool_calls"}],"usage":{}}`)
	resp, err := OpenAIConverter{}.ResponseIn("default", raw)
	if err != nil {
		t.Fatalf("ResponseIn: %v", err)
	}
	var diag map[string]string
	if err := json.Unmarshal(resp.Content[0].Input, &diag); err != nil {
		t.Fatalf("expected diagnostic JSON, got %s: %v", resp.Content[0].Input, err)
	}
	if diag["_unparsed_arguments"] != "not json" {
		t.Errorf("expected original string preserved under diagnostic key, got %+v", diag)
	}
}

func TestOpenAIRoundTrip_PreservesModelAndMessageOrder(t *testing.T) {
	req := &canonical.Request{
		MaxTokens: 10,
		Messages: []canonical.Message{
			{Role: canonical.RoleUser, Text: "first"},
			{Role: canonical.RoleAssistant, Text: "second"},
			{Role: canonical.RoleUser, Text: "third"},
		},
		StopSequences: []string{"STOP"},
	}
	out, err := OpenAIConverter{}.RequestOut(req, "gpt-test")
	if err != nil {
		t.Fatalf("RequestOut: %v", err)
	}
	body := out.(oaRequest)
	if body.Model != "gpt-test" {
		t.Errorf("expected model gpt-test preserved, got %q", body.Model)
	}
	if len(body.Messages) != 3 {
		t.Fatalf("expected 3 messages preserved, got %d", len(body.Messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if body.Messages[i].Content != want {
			t.Errorf("message %d: expected %q, got %v", i, want, body.Messages[i].Content)
		}
	}
	if len(body.Stop) != 1 || body.Stop[0] != "STOP" {
		t.Errorf("expected stop sequences preserved, got %v", body.Stop)
	}
}
