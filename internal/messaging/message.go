package messaging

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Priority levels a ConversationAnnouncement is published under; streams
// are sharded by priority so a consumer always drains the critical stream
// before the high one, and so on.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityNormal   = "normal"
	PriorityLow      = "low"
)

// ConsumerGroupInstances is the consumer group every gateway instance joins
// to read the shared queue/heartbeat streams.
const ConsumerGroupInstances = "gateway-instances"

// Stream names for the gateway pool's shared Redis Streams.
const (
	StreamQueueCritical = "gateway:queue:critical"
	StreamQueueHigh     = "gateway:queue:high"
	StreamQueueNormal   = "gateway:queue:normal"
	StreamQueueLow      = "gateway:queue:low"
	StreamHeartbeats    = "gateway:heartbeats"
	StreamDLQ           = "gateway:queue:dlq"
)

// ConversationAnnouncement is published when a gateway instance enqueues a
// flow.Processor, so every instance in the pool observes the same
// conversation traffic (SPEC_FULL.md's domain-stack note on go-redis: a
// shared conversation queue for multi-instance gateways).
type ConversationAnnouncement struct {
	ID             string `json:"id"`
	Instance       string `json:"instance"`
	Priority       string `json:"priority"`
	RequestID      string `json:"request_id"`
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id"`
	Created        int64  `json:"created"`
}

// NewConversationAnnouncement creates an announcement with a generated ID
// and the current timestamp.
func NewConversationAnnouncement(instance, priority, requestID, conversationID, sessionID string) ConversationAnnouncement {
	return ConversationAnnouncement{
		ID:             generateMessageID(),
		Instance:       instance,
		Priority:       priority,
		RequestID:      requestID,
		ConversationID: conversationID,
		SessionID:      sessionID,
		Created:        time.Now().Unix(),
	}
}

// ToRedisValues converts the announcement to a Redis stream values map.
func (a ConversationAnnouncement) ToRedisValues() map[string]interface{} {
	return map[string]interface{}{
		"id":              a.ID,
		"instance":        a.Instance,
		"priority":        a.Priority,
		"request_id":      a.RequestID,
		"conversation_id": a.ConversationID,
		"session_id":      a.SessionID,
		"created":         strconv.FormatInt(a.Created, 10),
	}
}

// ConversationAnnouncementFromRedisValues parses a Redis stream values map
// back into a ConversationAnnouncement.
func ConversationAnnouncementFromRedisValues(values map[string]interface{}) (*ConversationAnnouncement, error) {
	ann := &ConversationAnnouncement{}

	if v, ok := values["id"].(string); ok {
		ann.ID = v
	}
	if v, ok := values["instance"].(string); ok {
		ann.Instance = v
	}
	if v, ok := values["priority"].(string); ok {
		ann.Priority = v
	}
	if v, ok := values["request_id"].(string); ok {
		ann.RequestID = v
	}
	if v, ok := values["conversation_id"].(string); ok {
		ann.ConversationID = v
	}
	if v, ok := values["session_id"].(string); ok {
		ann.SessionID = v
	}
	if v, ok := values["created"].(string); ok {
		created, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created: %w", err)
		}
		ann.Created = created
	}

	return ann, nil
}

// StreamName returns the Redis stream name for a given priority.
func StreamName(priority string) string {
	switch priority {
	case PriorityCritical:
		return StreamQueueCritical
	case PriorityHigh:
		return StreamQueueHigh
	case PriorityNormal:
		return StreamQueueNormal
	case PriorityLow:
		return StreamQueueLow
	default:
		return StreamQueueNormal
	}
}

// HeartbeatStreamName returns the stream name for instance heartbeats.
func HeartbeatStreamName() string {
	return StreamHeartbeats
}

// DeadLetterStreamName returns the stream name for permanently-failed
// processors.
func DeadLetterStreamName() string {
	return StreamDLQ
}

// HeartbeatMessage is one gateway instance's liveness beacon.
type HeartbeatMessage struct {
	Instance  string                 `json:"instance"`
	Status    string                 `json:"status"`
	Timestamp int64                  `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToRedisValues converts HeartbeatMessage to a Redis stream values map.
func (h HeartbeatMessage) ToRedisValues() map[string]interface{} {
	metadataJSON, _ := json.Marshal(h.Metadata)
	return map[string]interface{}{
		"instance":  h.Instance,
		"status":    h.Status,
		"timestamp": strconv.FormatInt(h.Timestamp, 10),
		"metadata":  string(metadataJSON),
	}
}

// HeartbeatFromRedisValues parses a Redis stream values map into a
// HeartbeatMessage.
func HeartbeatFromRedisValues(values map[string]interface{}) (*HeartbeatMessage, error) {
	hb := &HeartbeatMessage{}

	if v, ok := values["instance"].(string); ok {
		hb.Instance = v
	}
	if v, ok := values["status"].(string); ok {
		hb.Status = v
	}
	if v, ok := values["timestamp"].(string); ok {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		hb.Timestamp = ts
	}
	if v, ok := values["metadata"].(string); ok {
		json.Unmarshal([]byte(v), &hb.Metadata)
	}

	return hb, nil
}

var messageIDCounter uint64

func generateMessageID() string {
	messageIDCounter++
	return fmt.Sprintf("ann_%d_%d", time.Now().UnixNano(), messageIDCounter)
}
