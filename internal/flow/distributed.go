package flow

import (
	"context"
	"sync"
	"time"

	"github.com/cortexhub/anthropic-gateway/internal/messaging"
)

// DeadLetterRecorder records a RequestProcessor that exhausted its retry
// budget or failed non-retryably, for operator inspection. A single-instance
// gateway keeps these in memory; a multi-instance deployment can share a
// Redis-backed recorder instead (spec.md's domain-stack wiring note on
// go-redis: "a dead-letter record of permanently-failed request
// processors").
type DeadLetterRecorder interface {
	Record(p *Processor)
}

// MemoryDeadLetterRecorder is the default, process-local recorder.
type MemoryDeadLetterRecorder struct {
	mu      sync.Mutex
	entries []DeadEntry
}

// DeadEntry is what the recorder keeps for one permanently-failed processor.
type DeadEntry struct {
	RequestID      string
	ConversationID string
	SessionID      string
	RetryCount     int
	FailedAt       time.Time
	Reason         string
}

func NewMemoryDeadLetterRecorder() *MemoryDeadLetterRecorder {
	return &MemoryDeadLetterRecorder{}
}

func (m *MemoryDeadLetterRecorder) Record(p *Processor) {
	reason := ""
	if p.Err != nil {
		reason = p.Err.Error()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, DeadEntry{
		RequestID:      p.RequestID,
		ConversationID: p.ConversationID,
		SessionID:      p.SessionID,
		RetryCount:     p.RetryCount,
		FailedAt:       time.Now(),
		Reason:         reason,
	})
}

// Entries returns a snapshot of every recorded dead letter.
func (m *MemoryDeadLetterRecorder) Entries() []DeadEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// RedisDeadLetterRecorder fans permanently-failed processors out to a
// shared Redis Stream via the messaging package, so every gateway instance
// in a multi-instance deployment can see the same dead-letter history
// instead of each holding its own in-process slice.
type RedisDeadLetterRecorder struct {
	dlq      *messaging.DeadLetterQueue
	instance string
}

func NewRedisDeadLetterRecorder(client *messaging.RedisClient, instanceName string) *RedisDeadLetterRecorder {
	return &RedisDeadLetterRecorder{dlq: messaging.NewDeadLetterQueue(client), instance: instanceName}
}

func (r *RedisDeadLetterRecorder) Record(p *Processor) {
	reason := ""
	if p.Err != nil {
		reason = p.Err.Error()
	}
	ann := messaging.NewConversationAnnouncement(r.instance, messagingPriority(p.Priority), p.RequestID, p.ConversationID, p.SessionID)
	// best-effort: a dead-letter sink failing to record must not itself
	// fail the request path that already gave up on this processor.
	_ = r.dlq.SendToDeadLetter(context.Background(), ann, reason, p.RetryCount)
}

// messagingPriority maps a flow Priority onto the messaging package's
// four-bucket scheme, which a multi-instance deployment's priority streams
// are already keyed by.
func messagingPriority(p Priority) string {
	switch p {
	case PriorityHigh:
		return messaging.PriorityHigh
	case PriorityLow:
		return messaging.PriorityLow
	default:
		return messaging.PriorityNormal
	}
}

// RemoteAnnouncer publishes a processor onto the shared priority streams a
// pool of gateway instances subscribes to, so peers can observe a
// conversation enqueued on this instance. Only identities are published;
// the processor is still dispatched by the instance that enqueued it. Adapted from
// messaging/priority_processor.go's stream layout; this side only publishes,
// it never consumes its own announcements.
type RemoteAnnouncer struct {
	instanceName string
	client       *messaging.RedisClient
}

func NewRemoteAnnouncer(client *messaging.RedisClient, instanceName string) *RemoteAnnouncer {
	return &RemoteAnnouncer{instanceName: instanceName, client: client}
}

// Announce publishes p's identity onto its priority stream. Best-effort: a
// gateway instance that can still process p itself must not fail the
// request path because the fan-out announcement couldn't be delivered.
func (a *RemoteAnnouncer) Announce(ctx context.Context, p *Processor) {
	priority := messagingPriority(p.Priority)
	ann := messaging.NewConversationAnnouncement(a.instanceName, priority, p.RequestID, p.ConversationID, p.SessionID)
	stream := messaging.StreamName(priority)
	if _, err := a.client.Publish(ctx, stream, ann.ToRedisValues()); err != nil {
		return
	}
}

// RemoteDispatchFunc handles a processor identity announced by another
// gateway instance; cmd/gateway's startDistributed wires it to a log line.
type RemoteDispatchFunc func(sessionID, conversationID, requestID string)

// RemoteListener consumes priority-ordered announcements from other gateway
// instances via messaging.PriorityProcessor, and invokes onAnnounce for
// each. It does not feed announcements into the local flow controller: each
// instance's FIFO queue stays per-process.
type RemoteListener struct {
	proc *messaging.PriorityProcessor
}

func NewRemoteListener(client *messaging.RedisClient, instanceName string) *RemoteListener {
	return &RemoteListener{proc: messaging.NewPriorityProcessor(client, instanceName)}
}

// Listen blocks, relaying announcements to onAnnounce until ctx is
// cancelled.
func (l *RemoteListener) Listen(ctx context.Context, onAnnounce RemoteDispatchFunc) {
	for ann := range l.proc.Start(ctx) {
		if ann.SessionID == "" || ann.ConversationID == "" {
			continue
		}
		onAnnounce(ann.SessionID, ann.ConversationID, ann.RequestID)
	}
}
