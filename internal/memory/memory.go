// Package memory provides conversation history for multi-turn RAG
// interactions: an in-process ring used for prompt assembly, and a
// background recorder that appends a durable copy after each answer.
package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/nexora/rag/internal/repository"
)

// Store keeps the last messages of each session in memory. Sessions are
// keyed per tenant; entries expire after a period of inactivity.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	maxMessages   int
	ttl           time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

type conversation struct {
	messages  []repository.ChatMessage
	updatedAt time.Time
}

// NewStore creates a conversation store. maxMessages bounds each session
// (default 20); ttl is the inactivity expiry (default 24h).
func NewStore(maxMessages int, ttl time.Duration) *Store {
	if maxMessages <= 0 {
		maxMessages = 20
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &Store{
		conversations: make(map[string]*conversation),
		maxMessages:   maxMessages,
		ttl:           ttl,
		stop:          make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Close stops the background expiry sweep.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func sessionKey(tenantID, sessionID string) string {
	return tenantID + "\x00" + sessionID
}

// Append adds messages to a session, trimming to the configured bound.
func (s *Store) Append(tenantID, sessionID string, msgs ...repository.ChatMessage) {
	if tenantID == "" || sessionID == "" || len(msgs) == 0 {
		return
	}
	key := sessionKey(tenantID, sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[key]
	if !exists {
		conv = &conversation{}
		s.conversations[key] = conv
	}
	conv.messages = append(conv.messages, msgs...)
	conv.updatedAt = time.Now()

	if len(conv.messages) > s.maxMessages {
		conv.messages = conv.messages[len(conv.messages)-s.maxMessages:]
	}
}

// History returns a copy of the session's messages, oldest first.
func (s *Store) History(tenantID, sessionID string) []repository.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[sessionKey(tenantID, sessionID)]
	if !exists {
		return nil
	}
	messages := make([]repository.ChatMessage, len(conv.messages))
	copy(messages, conv.messages)
	return messages
}

// Recent returns the last n messages of the session.
func (s *Store) Recent(tenantID, sessionID string, n int) []repository.ChatMessage {
	history := s.History(tenantID, sessionID)
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// Clear removes a session.
func (s *Store) Clear(tenantID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, sessionKey(tenantID, sessionID))
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, conv := range s.conversations {
		if now.Sub(conv.updatedAt) > s.ttl {
			delete(s.conversations, key)
		}
	}
}

// FormatForPrompt renders history as alternating "User:"/"Assistant:"
// lines for inclusion in an LLM prompt. Empty history yields "".
func FormatForPrompt(messages []repository.ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			b.WriteString("User: " + msg.Content + "\n")
		case "assistant":
			b.WriteString("Assistant: " + msg.Content + "\n")
		}
	}
	return b.String()
}
