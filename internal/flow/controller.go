package flow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Limits are the flow controller's capacity caps (spec.md §4.8).
type Limits struct {
	MaxSessionsPerClient      int
	MaxConversationsPerSession int
	MaxRequestsPerConversation int
}

// IdleTimeouts bound how long an idle session/conversation survives a sweep.
type IdleTimeouts struct {
	Session      time.Duration
	Conversation time.Duration
}

// DefaultLimits mirrors the conservative caps a single-instance gateway
// would run with absent operator overrides.
func DefaultLimits() Limits {
	return Limits{MaxSessionsPerClient: 4, MaxConversationsPerSession: 50, MaxRequestsPerConversation: 100}
}

// DefaultIdleTimeouts is a 30 minute session / 10 minute conversation sweep.
func DefaultIdleTimeouts() IdleTimeouts {
	return IdleTimeouts{Session: 30 * time.Minute, Conversation: 10 * time.Minute}
}

// Controller is the FlowController: it owns every Session, Conversation and
// RequestProcessor (spec.md §3's ownership rule).
type Controller struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	limits      Limits
	idle        IdleTimeouts
	logger      *slog.Logger
	deadLetters DeadLetterRecorder
	announcer   *RemoteAnnouncer
}

func NewController(limits Limits, idle IdleTimeouts, logger *slog.Logger, dlq DeadLetterRecorder) *Controller {
	if dlq == nil {
		dlq = NewMemoryDeadLetterRecorder()
	}
	return &Controller{
		sessions:    make(map[string]*Session),
		limits:      limits,
		idle:        idle,
		logger:      logger,
		deadLetters: dlq,
	}
}

// SetAnnouncer wires a RemoteAnnouncer so every Enqueue fans out across a
// gateway pool. Left unset, a controller runs single-instance.
func (c *Controller) SetAnnouncer(a *RemoteAnnouncer) { c.announcer = a }

// SessionFor returns the session for sessionID, creating it (and enforcing
// the per-client session cap) if absent.
func (c *Controller) SessionFor(clientID, sessionID string) (*Session, error) {
	c.mu.RLock()
	if s, ok := c.sessions[sessionID]; ok {
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[sessionID]; ok {
		return s, nil
	}
	if c.countByClient(clientID) >= c.limits.MaxSessionsPerClient {
		return nil, ErrQueueFull{Scope: "client", ID: clientID}
	}
	s := newSession(sessionID, clientID, c.limits.MaxConversationsPerSession, c.limits.MaxRequestsPerConversation, c.idle.Conversation)
	c.sessions[sessionID] = s
	return s, nil
}

func (c *Controller) countByClient(clientID string) int {
	n := 0
	for _, s := range c.sessions {
		if s.ClientID == clientID {
			n++
		}
	}
	return n
}

// Enqueue places a processor onto its conversation's queue, creating the
// session/conversation as needed.
func (c *Controller) Enqueue(clientID string, p *Processor) error {
	sess, err := c.SessionFor(clientID, p.SessionID)
	if err != nil {
		return err
	}
	conv, err := sess.ConversationFor(p.ConversationID)
	if err != nil {
		return err
	}
	if err := conv.Enqueue(p); err != nil {
		return err
	}
	if c.announcer != nil {
		c.announcer.Announce(p.ctx, p)
	}
	return nil
}

// Dispatch returns the next processor to run in the named conversation.
func (c *Controller) Dispatch(sessionID, conversationID string) (*Processor, bool, error) {
	conv, err := c.conversation(sessionID, conversationID)
	if err != nil {
		return nil, false, err
	}
	p, ok := conv.Dispatch()
	return p, ok, nil
}

// DispatchIfHead marks p processing only if it is next in line for its
// conversation; safe to poll from many goroutines at once (see
// Conversation.DispatchIfHead).
func (c *Controller) DispatchIfHead(p *Processor) (bool, error) {
	conv, err := c.conversation(p.SessionID, p.ConversationID)
	if err != nil {
		return false, err
	}
	return conv.DispatchIfHead(p), nil
}

// Complete marks a processor completed or failed.
func (c *Controller) Complete(p *Processor, status Status) error {
	conv, err := c.conversation(p.SessionID, p.ConversationID)
	if err != nil {
		return err
	}
	return conv.Complete(p, status)
}

// Retry re-enqueues a processor at its conversation's head immediately, or —
// if retries are exhausted or the switching controller judged the failure
// non-retryable — records it to the dead-letter sink instead. No backoff
// delay is applied here: the processor is dispatchable again at once.
func (c *Controller) Retry(p *Processor, retryable bool, maxRetries int) error {
	if !retryable || p.RetryCount >= maxRetries {
		c.deadLetters.Record(p)
		return c.Complete(p, StatusFailed)
	}
	conv, err := c.conversation(p.SessionID, p.ConversationID)
	if err != nil {
		return err
	}
	return conv.Retry(p)
}

// Cancel aborts one processor; if it was the conversation's active entry,
// the conversation becomes free to dispatch its next entry; if it was still
// queued, it is removed so a terminal processor never lingers as dead
// weight in the FIFO.
func (c *Controller) Cancel(p *Processor) error {
	conv, err := c.conversation(p.SessionID, p.ConversationID)
	if err != nil {
		return err
	}
	conv.mu.Lock()
	if conv.processing == p {
		conv.processing = nil
	}
	for i, q := range conv.queue {
		if q == p {
			conv.queue = append(conv.queue[:i], conv.queue[i+1:]...)
			break
		}
	}
	conv.mu.Unlock()
	p.Abort()
	return nil
}

// CancelConversation aborts a conversation and everything queued within it.
func (c *Controller) CancelConversation(sessionID, conversationID string) error {
	conv, err := c.conversation(sessionID, conversationID)
	if err != nil {
		return err
	}
	conv.Abort()
	return nil
}

func (c *Controller) conversation(sessionID, conversationID string) (*Conversation, error) {
	c.mu.RLock()
	sess, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("flow: unknown session %s", sessionID)
	}
	return sess.ConversationFor(conversationID)
}

// Sweep removes idle conversations and sessions; call periodically from the
// scheduler (spec.md §4.8's "idle timeouts... trigger a cleanup sweep").
func (c *Controller) Sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range c.sessions {
		s.sweepIdleConversations(now)
		if s.isIdle(now, c.idle.Session) {
			delete(c.sessions, id)
			if c.logger != nil {
				c.logger.Debug("flow: swept idle session", "session_id", id)
			}
		}
	}
}

// SessionCount reports the number of live sessions (used by /status).
func (c *Controller) SessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}
