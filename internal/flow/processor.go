// Package flow implements the Flow Controller (spec.md §4.8): a three-level
// Session → Conversation → RequestProcessor hierarchy with per-conversation
// FIFO ordering, priority re-sort, retry backoff, capacity caps, and idle
// cleanup sweeps.
package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/cortexhub/anthropic-gateway/internal/canonical"
)

// Status is a RequestProcessor's place in its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusAborted    Status = "aborted"
)

// Priority buckets a conversation's queue is re-sorted by before dispatch.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) weight() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Processor is the unit of work the flow controller owns (spec.md §3).
type Processor struct {
	RequestID      string
	SessionID      string
	ConversationID string
	Priority       Priority
	Request        *canonical.Request

	Status      Status
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	RetryCount  int

	Response *canonical.Response
	Err      error

	seq    int64
	ctx    context.Context
	cancel context.CancelFunc
}

// NewProcessor creates a pending processor linked to a cancellation signal
// derived from parent (spec.md §5: "every task is linked to a cancellation
// signal tied to the request's lifetime").
func NewProcessor(parent context.Context, sessionID, conversationID, requestID string, priority Priority, req *canonical.Request) *Processor {
	ctx, cancel := context.WithCancel(parent)
	return &Processor{
		RequestID:      requestID,
		SessionID:      sessionID,
		ConversationID: conversationID,
		Priority:       priority,
		Request:        req,
		Status:         StatusPending,
		CreatedAt:      time.Now(),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Context is the processor's cancellation signal; the server layer's HTTP
// call is derived from this so a client disconnect aborts the in-flight
// upstream request.
func (p *Processor) Context() context.Context { return p.ctx }

// transition enforces pending → processing → {completed, failed, aborted};
// aborted is terminal from any non-terminal state.
func (p *Processor) transition(to Status) error {
	if p.Status == StatusCompleted || p.Status == StatusFailed || p.Status == StatusAborted {
		return fmt.Errorf("processor %s: %s is terminal, cannot move to %s", p.RequestID, p.Status, to)
	}
	switch to {
	case StatusProcessing:
		if p.Status != StatusPending {
			return fmt.Errorf("processor %s: only pending may start processing, was %s", p.RequestID, p.Status)
		}
	case StatusCompleted, StatusFailed:
		if p.Status != StatusProcessing {
			return fmt.Errorf("processor %s: only processing may complete or fail, was %s", p.RequestID, p.Status)
		}
	case StatusAborted:
		// abortable from pending or processing
	default:
		return fmt.Errorf("processor %s: invalid target status %s", p.RequestID, to)
	}
	p.Status = to
	return nil
}

// Abort cancels the processor's context and marks it aborted (terminal).
func (p *Processor) Abort() {
	if p.cancel != nil {
		p.cancel()
	}
	p.transition(StatusAborted)
	p.CompletedAt = time.Now()
}
