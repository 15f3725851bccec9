package flow

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrQueueFull is returned when a capacity cap would be exceeded; existing
// entries are never displaced (spec.md §4.8).
type ErrQueueFull struct{ Scope, ID string }

func (e ErrQueueFull) Error() string { return fmt.Sprintf("%s %s is at capacity", e.Scope, e.ID) }

const (
	retryBaseBackoff = 500 * time.Millisecond
	retryMaxBackoff  = 30 * time.Second
)

// retryBackoff grows exponentially with retry count, capped (mirrors
// internal/switching's cooldown shape for the same reason: a single
// backoff-growth idiom used everywhere the gateway retries something).
func retryBackoff(retryCount int) time.Duration {
	d := retryBaseBackoff
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= retryMaxBackoff {
			return retryMaxBackoff
		}
	}
	return d
}

// Conversation owns a FIFO of RequestProcessors. At most one may be
// processing; retries are re-enqueued at the head with a backoff delay.
type Conversation struct {
	mu           sync.Mutex
	ID           string
	maxRequests  int
	idleTimeout  time.Duration
	queue        []*Processor
	processing   *Processor
	nextSeq      int64
	lastActivity time.Time
	aborted      bool
}

func newConversation(id string, maxRequests int, idleTimeout time.Duration) *Conversation {
	return &Conversation{ID: id, maxRequests: maxRequests, idleTimeout: idleTimeout, lastActivity: time.Now()}
}

// Enqueue adds a pending processor to the queue, rejecting with ErrQueueFull
// once maxRequests is reached.
func (c *Conversation) Enqueue(p *Processor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted {
		return fmt.Errorf("conversation %s is aborted", c.ID)
	}
	if len(c.queue) >= c.maxRequests {
		return ErrQueueFull{Scope: "conversation", ID: c.ID}
	}
	p.seq = c.nextSeq
	c.nextSeq++
	c.queue = append(c.queue, p)
	c.lastActivity = time.Now()
	return nil
}

// sortedView returns the queue ordered by priority weight, then sequence —
// FIFO within a priority bucket, highest priority first overall.
func (c *Conversation) sortedView() []*Processor {
	view := append([]*Processor(nil), c.queue...)
	sort.SliceStable(view, func(i, j int) bool {
		wi, wj := view[i].Priority.weight(), view[j].Priority.weight()
		if wi != wj {
			return wi < wj
		}
		return view[i].seq < view[j].seq
	})
	return view
}

// Dispatch returns the next processor to run and marks it processing, or
// (nil, false) if one is already processing or the queue is empty.
func (c *Conversation) Dispatch() (*Processor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing != nil || len(c.queue) == 0 {
		return nil, false
	}
	view := c.sortedView()
	next := view[0]
	for i, p := range c.queue {
		if p == next {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	next.transition(StatusProcessing)
	next.StartedAt = time.Now()
	c.processing = next
	c.lastActivity = time.Now()
	return next, true
}

// DispatchIfHead marks p processing only if it is the conversation's current
// head by priority/FIFO order and nothing else is processing; otherwise it
// leaves the queue untouched. Unlike Dispatch, the caller always knows
// identity in advance — this is what lets many request goroutines poll the
// same conversation concurrently without one goroutine dequeuing a processor
// that belongs to another (spec.md §4.9's "awaits the eventual response").
func (c *Conversation) DispatchIfHead(p *Processor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing != nil || len(c.queue) == 0 {
		return false
	}
	view := c.sortedView()
	if view[0] != p {
		return false
	}
	for i, q := range c.queue {
		if q == p {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	p.transition(StatusProcessing)
	p.StartedAt = time.Now()
	c.processing = p
	c.lastActivity = time.Now()
	return true
}

// Complete marks the currently-processing processor completed or failed and
// frees the conversation to dispatch its next entry.
func (c *Conversation) Complete(p *Processor, status Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing != p {
		return fmt.Errorf("processor %s is not the conversation's active processor", p.RequestID)
	}
	if err := p.transition(status); err != nil {
		return err
	}
	p.CompletedAt = time.Now()
	c.processing = nil
	c.lastActivity = time.Now()
	return nil
}

// Retry re-enqueues a failed processor at the head of the queue right away,
// resetting it to pending; it does not wait out any backoff, so the
// processor is eligible for dispatch at once. Eligibility is decided by the caller
// (the switching controller's error classification — spec.md §4.8).
func (c *Conversation) Retry(p *Processor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing == p {
		c.processing = nil
	}
	p.RetryCount++
	p.Status = StatusPending
	p.seq = c.headSeq() - 1
	c.queue = append(c.queue, p)
	c.lastActivity = time.Now()
	return nil
}

// RetryDelay reports the exponential backoff for the processor's current
// retry count. Nothing in the flow controller waits on it; Retry re-enqueues
// without delay.
func (p *Processor) RetryDelay() time.Duration { return retryBackoff(p.RetryCount) }

func (c *Conversation) headSeq() int64 {
	min := c.nextSeq
	for _, p := range c.queue {
		if p.seq < min {
			min = p.seq
		}
	}
	return min
}

// Abort cancels every pending or processing processor in the conversation
// and marks it closed to new work (spec.md §5: "cancellation propagates
// downward").
func (c *Conversation) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = true
	if c.processing != nil {
		c.processing.Abort()
		c.processing = nil
	}
	for _, p := range c.queue {
		p.Abort()
	}
	c.queue = nil
}

// IdleSince reports whether the conversation has had no activity for its
// idle timeout, and nothing is currently in flight.
func (c *Conversation) IdleSince(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing != nil {
		return false
	}
	return now.Sub(c.lastActivity) > c.idleTimeout
}

// Len returns the number of queued (not processing) requests.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
