package canonical

import (
	"encoding/json"
	"fmt"
)

// wireToolChoice mirrors the inbound {auto|any|{type:"tool", name}} shape
// exactly; ToolChoice itself stays a plain (Kind, Name) pair for callers.
type wireToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

func (c ToolChoice) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ToolChoiceAuto, ToolChoiceAny:
		return json.Marshal(string(c.Kind))
	case ToolChoiceNamed:
		return json.Marshal(wireToolChoice{Type: "tool", Name: c.Name})
	default:
		return json.Marshal(string(ToolChoiceAuto))
	}
}

func (c *ToolChoice) UnmarshalJSON(data []byte) error {
	trimmed := trimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var kind string
		if err := json.Unmarshal(trimmed, &kind); err != nil {
			return err
		}
		c.Kind = ToolChoiceKind(kind)
		return nil
	}
	var w wireToolChoice
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return err
	}
	if w.Type != "tool" {
		return fmt.Errorf("tool_choice: unsupported type %q", w.Type)
	}
	c.Kind = ToolChoiceNamed
	c.Name = w.Name
	return nil
}

type requestWire struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        string          `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, err
	}
	return json.Marshal(requestWire{
		Model: r.Model, Messages: r.Messages, System: r.System, MaxTokens: r.MaxTokens,
		Temperature: r.Temperature, TopP: r.TopP, TopK: r.TopK, StopSequences: r.StopSequences,
		Stream: r.Stream, Tools: r.Tools, ToolChoice: r.ToolChoice, Metadata: meta,
	})
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var w requestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Model, r.Messages, r.System, r.MaxTokens = w.Model, w.Messages, w.System, w.MaxTokens
	r.Temperature, r.TopP, r.TopK, r.StopSequences = w.Temperature, w.TopP, w.TopK, w.StopSequences
	r.Stream, r.Tools, r.ToolChoice = w.Stream, w.Tools, w.ToolChoice
	if len(w.Metadata) > 0 {
		if err := json.Unmarshal(w.Metadata, &r.Metadata); err != nil {
			return err
		}
	}
	return nil
}
