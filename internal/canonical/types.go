// Package canonical defines the Anthropic-shaped envelope every layer in a
// pipeline operates on (spec.md §3). Inbound and outbound dialects are
// converted to and from this shape at the transformer layer; nothing
// upstream of that layer ever sees a provider-specific field name.
package canonical

import "encoding/json"

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// BlockType discriminates a ContentBlock's payload.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one typed unit inside a Message's content list.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockImage
	Source *ImageSource `json:"source,omitempty"`

	// BlockToolUse
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// BlockToolResult
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ImageSource carries an inline base64 image payload.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Message is one turn in the conversation. Content is either a bare string
// (flattened text) or a list of ContentBlocks — Blocks is nil when Text is
// set and vice versa, mirroring the wire format's "string or array" field.
type Message struct {
	Role    Role           `json:"role"`
	Text    string         `json:"-"`
	Blocks  []ContentBlock `json:"-"`
}

// MarshalJSON emits content as a bare string when the message is pure text,
// or as a block array otherwise — matching the inbound wire shape exactly.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire struct {
		Role    Role        `json:"role"`
		Content interface{} `json:"content"`
	}
	if m.Blocks == nil {
		return json.Marshal(wire{Role: m.Role, Content: m.Text})
	}
	return json.Marshal(wire{Role: m.Role, Content: m.Blocks})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var wire struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Role = wire.Role
	trimmed := trimSpace(wire.Content)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &m.Text)
	}
	return json.Unmarshal(trimmed, &m.Blocks)
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

// ToolChoiceKind selects how the model is nudged to call tools.
type ToolChoiceKind string

const (
	ToolChoiceAuto  ToolChoiceKind = "auto"
	ToolChoiceAny   ToolChoiceKind = "any"
	ToolChoiceNamed ToolChoiceKind = "tool"
)

// ToolChoice mirrors the inbound {auto|any|{type:"tool", name}} shape.
type ToolChoice struct {
	Kind ToolChoiceKind
	Name string
}

// Tool is one callable declaration offered to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Metadata is the opaque correlation bag carried alongside a request.
type Metadata struct {
	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	Background     bool   `json:"-"`
	Thinking       bool   `json:"-"`
	Search         bool   `json:"-"`
}

// Request is the CanonicalRequest envelope (spec.md §3).
type Request struct {
	Model         string     `json:"model"`
	Messages      []Message  `json:"messages"`
	System        string     `json:"system,omitempty"`
	MaxTokens     int        `json:"max_tokens"`
	Temperature   *float64   `json:"temperature,omitempty"`
	TopP          *float64   `json:"top_p,omitempty"`
	TopK          *int       `json:"top_k,omitempty"`
	StopSequences []string   `json:"stop_sequences,omitempty"`
	Stream        bool       `json:"stream,omitempty"`
	Tools         []Tool     `json:"tools,omitempty"`
	ToolChoice    *ToolChoice `json:"-"`
	Metadata      Metadata   `json:"metadata,omitempty"`
}

// StopReason classifies why generation ended.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopSequenceHit  StopReason = "stop_sequence"
	StopToolUse      StopReason = "tool_use"
)

// Usage reports token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the CanonicalResponse envelope (spec.md §3).
type Response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       Role           `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// HasToolUse reports whether any content block is a tool_use block —
// used to enforce the invariant stop_reason=tool_use ⇔ ≥1 tool_use block.
func (r *Response) HasToolUse() bool {
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}
