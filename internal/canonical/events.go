package canonical

import "encoding/json"

// EventType enumerates the Anthropic SSE event sequence (spec.md §4.4, §6).
type EventType string

const (
	EventMessageStart      EventType = "message_start"
	EventContentBlockStart EventType = "content_block_start"
	EventContentBlockDelta EventType = "content_block_delta"
	EventContentBlockStop  EventType = "content_block_stop"
	EventMessageDelta      EventType = "message_delta"
	EventMessageStop       EventType = "message_stop"
	EventError             EventType = "error"
)

// StreamEvent is one canonical SSE event; Data is pre-marshalled so the HTTP
// writer only needs to format "event: NAME\ndata: DATA\n\n".
type StreamEvent struct {
	Type EventType
	Data json.RawMessage
}

// DeltaKind discriminates a content_block_delta payload.
type DeltaKind string

const (
	DeltaText        DeltaKind = "text_delta"
	DeltaInputJSON    DeltaKind = "input_json_delta"
)

func marshalEvent(t EventType, v interface{}) StreamEvent {
	data, _ := json.Marshal(v)
	return StreamEvent{Type: t, Data: data}
}

// MessageStart builds the opening event with a skeletal (content-less,
// zero-usage) copy of the response, matching Anthropic's streaming contract.
func MessageStart(r *Response) StreamEvent {
	shell := *r
	shell.Content = []ContentBlock{}
	shell.Usage = Usage{}
	return marshalEvent(EventMessageStart, struct {
		Type    EventType `json:"type"`
		Message *Response `json:"message"`
	}{EventMessageStart, &shell})
}

func ContentBlockStart(index int, block ContentBlock) StreamEvent {
	return marshalEvent(EventContentBlockStart, struct {
		Type         EventType    `json:"type"`
		Index        int          `json:"index"`
		ContentBlock ContentBlock `json:"content_block"`
	}{EventContentBlockStart, index, block})
}

func TextDelta(index int, text string) StreamEvent {
	return marshalEvent(EventContentBlockDelta, struct {
		Type  EventType `json:"type"`
		Index int       `json:"index"`
		Delta struct {
			Type DeltaKind `json:"type"`
			Text string    `json:"text"`
		} `json:"delta"`
	}{Type: EventContentBlockDelta, Index: index, Delta: struct {
		Type DeltaKind `json:"type"`
		Text string    `json:"text"`
	}{DeltaText, text}})
}

func InputJSONDelta(index int, partialJSON string) StreamEvent {
	return marshalEvent(EventContentBlockDelta, struct {
		Type  EventType `json:"type"`
		Index int       `json:"index"`
		Delta struct {
			Type        DeltaKind `json:"type"`
			PartialJSON string    `json:"partial_json"`
		} `json:"delta"`
	}{Type: EventContentBlockDelta, Index: index, Delta: struct {
		Type        DeltaKind `json:"type"`
		PartialJSON string    `json:"partial_json"`
	}{DeltaInputJSON, partialJSON}})
}

func ContentBlockStop(index int) StreamEvent {
	return marshalEvent(EventContentBlockStop, struct {
		Type  EventType `json:"type"`
		Index int       `json:"index"`
	}{EventContentBlockStop, index})
}

func MessageDelta(stopReason StopReason, usage Usage) StreamEvent {
	return marshalEvent(EventMessageDelta, struct {
		Type  EventType `json:"type"`
		Delta struct {
			StopReason StopReason `json:"stop_reason"`
		} `json:"delta"`
		Usage Usage `json:"usage"`
	}{Type: EventMessageDelta, Delta: struct {
		StopReason StopReason `json:"stop_reason"`
	}{stopReason}, Usage: usage})
}

func MessageStop() StreamEvent {
	return marshalEvent(EventMessageStop, struct {
		Type EventType `json:"type"`
	}{EventMessageStop})
}

// ErrorEvent is the terminal event for a stream that fails mid-flight
// (spec.md §7: "a final event error is emitted and the stream closes cleanly").
func ErrorEvent(kind, message string) StreamEvent {
	return marshalEvent(EventError, struct {
		Type  EventType `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}{Type: EventError, Error: struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{kind, message}})
}
