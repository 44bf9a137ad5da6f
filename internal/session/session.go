// Package session provides conversation session management: durable
// PostgreSQL persistence fronted by a bounded in-memory LRU cache, with
// a Manager that serializes writes per session.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// Message role constants, matching the values stored in the database.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// MaxUserIDLength bounds user identifiers; anything longer is rejected
// before touching storage.
const MaxUserIDLength = 128

// Session is a conversation session owned by one user.
type Session struct {
	ID           uuid.UUID `json:"id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`

	// LastImageHandle references the most recently attached photo, so
	// later turns can still run simulations against it. Handles are
	// process-local and opaque; a restart invalidates them.
	LastImageHandle string `json:"-"`
}

// History holds the in-memory message list of one cached session.
// Thread-safe; the zero value is not useful, use NewHistory.
type History struct {
	mu       sync.RWMutex
	messages []*ai.Message
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{messages: make([]*ai.Message, 0)}
}

// SetMessages replaces the history with a defensive copy of messages.
func (h *History) SetMessages(messages []*ai.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = make([]*ai.Message, len(messages))
	copy(h.messages, messages)
}

// Messages returns a copy of the full message list.
func (h *History) Messages() []*ai.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*ai.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Tail returns a copy of the newest n messages (all of them when the
// history is shorter).
func (h *History) Tail(n int) []*ai.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := len(h.messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]*ai.Message, len(h.messages)-start)
	copy(out, h.messages[start:])
	return out
}

// AddTurn appends a user/model message pair.
func (h *History) AddTurn(userText, modelText string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages,
		ai.NewUserMessage(ai.NewTextPart(userText)),
		ai.NewModelMessage(ai.NewTextPart(modelText)),
	)
}

// Count returns the number of messages.
func (h *History) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Clear drops all messages.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = h.messages[:0]
}

// ValidateUserID checks a user identifier: non-blank, bounded length.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUserID
	}
	if len(userID) > MaxUserIDLength {
		return ErrInvalidUserID
	}
	return nil
}
