package flow

import (
	"sync"
	"time"
)

// Session owns a per-session-lockable map of conversations (spec.md §5: "the
// session/conversation tree is per-session-lockable: operations on one
// session never block operations on another").
type Session struct {
	mu                sync.Mutex
	ID                string
	ClientID          string
	maxConversations  int
	conversationIdle  time.Duration
	requestsPerConvo  int
	conversations     map[string]*Conversation
	lastActivity      time.Time
}

func newSession(id, clientID string, maxConversations, requestsPerConvo int, conversationIdle time.Duration) *Session {
	return &Session{
		ID:               id,
		ClientID:         clientID,
		maxConversations: maxConversations,
		conversationIdle: conversationIdle,
		requestsPerConvo: requestsPerConvo,
		conversations:    make(map[string]*Conversation),
		lastActivity:     time.Now(),
	}
}

// ConversationFor returns the named conversation, creating it if absent and
// capacity allows, or ErrQueueFull if the session is already at its cap.
func (s *Session) ConversationFor(conversationID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[conversationID]; ok {
		s.lastActivity = time.Now()
		return conv, nil
	}
	if len(s.conversations) >= s.maxConversations {
		return nil, ErrQueueFull{Scope: "session", ID: s.ID}
	}
	conv := newConversation(conversationID, s.requestsPerConvo, s.conversationIdle)
	s.conversations[conversationID] = conv
	s.lastActivity = time.Now()
	return conv, nil
}

// sweepIdleConversations removes conversations idle past their timeout. It
// returns nothing; whether the session is now empty is a separate check.
func (s *Session) sweepIdleConversations(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conv := range s.conversations {
		if conv.IdleSince(now) {
			delete(s.conversations, id)
		}
	}
}

func (s *Session) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

func (s *Session) isIdle(now time.Time, sessionIdle time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conversations) > 0 {
		return false
	}
	return now.Sub(s.lastActivity) > sessionIdle
}

// AbortAll cancels every conversation owned by the session.
func (s *Session) AbortAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		conv.Abort()
	}
}
