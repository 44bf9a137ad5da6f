package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/matiz0/matiz/internal/config"
)

// Storage defines the persistence operations the Manager needs.
// *Store is the production implementation.
type Storage interface {
	CreateSession(ctx context.Context, userID, title string) (*Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	LatestSession(ctx context.Context, userID string) (*Session, error)
	ListSessions(ctx context.Context, userID string, limit, offset int32) ([]*Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	ClearMessages(ctx context.Context, id uuid.UUID) error
	AppendMessages(ctx context.Context, sessionID uuid.UUID, messages []*ai.Message) error
	Messages(ctx context.Context, sessionID uuid.UUID, limit int32) ([]*ai.Message, error)
	SetTitle(ctx context.Context, id uuid.UUID, title string) error
	SetImageHandle(ctx context.Context, id uuid.UUID, handle string) error
}

// DefaultListLimit bounds ListSessions when the caller passes no limit.
const DefaultListLimit = 20

// Manager is the session façade: resolution policy, cached history
// reads, and serialized turn writes.
//
// Manager is safe for concurrent use. Writes to one session are
// serialized by a per-session mutex so a turn (user + model message) is
// stored as an uninterrupted pair.
type Manager struct {
	store  Storage
	cache  *Cache
	policy string
	window int
	logger *slog.Logger

	locks sync.Map // uuid.UUID -> *sync.Mutex
}

// NewManager creates a session manager. policy must be one of the
// config session policies; window is the number of newest messages
// exposed to the model.
func NewManager(store Storage, cache *Cache, policy string, window int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		cache:  cache,
		policy: policy,
		window: window,
		logger: logger,
	}
}

// Resolve maps (userID, optional session id) to a session. With an
// explicit id the session must exist and belong to the user. Without
// one, the configured policy decides: reuse-latest resumes the user's
// most recent session when one exists; always-new creates a fresh one.
// The second return reports whether a session was created.
func (m *Manager) Resolve(ctx context.Context, userID string, sessionID *uuid.UUID) (*Session, bool, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, false, err
	}

	if sessionID != nil {
		sess, err := m.store.GetSession(ctx, *sessionID)
		if err != nil {
			return nil, false, err
		}
		if sess.UserID != userID {
			return nil, false, ErrNotOwner
		}
		return sess, false, nil
	}

	if m.policy == config.PolicyReuseLatest {
		sess, err := m.store.LatestSession(ctx, userID)
		switch {
		case err == nil:
			return sess, false, nil
		case !errors.Is(err, ErrSessionNotFound):
			return nil, false, err
		}
	}

	sess, err := m.store.CreateSession(ctx, userID, "")
	if err != nil {
		return nil, false, err
	}
	m.cache.Put(sess.ID, userID, NewHistory())
	m.logger.Debug("created session", "id", sess.ID, "user_id", userID, "policy", m.policy)
	return sess, true, nil
}

// History returns the model-visible window of a session's messages,
// newest last. On a cache miss the full history is loaded from storage
// and cached.
func (m *Manager) History(ctx context.Context, sess *Session) ([]*ai.Message, error) {
	history, err := m.history(ctx, sess)
	if err != nil {
		return nil, err
	}
	return history.Tail(m.window), nil
}

// AppendTurn stores one completed exchange: the user message and the
// model's answer, as consecutive rows. Appends to the same session are
// serialized. The in-memory copy is authoritative: when the durable
// write fails, the turn is still committed to the cache and the error
// only logged, so the conversation continues uninterrupted.
func (m *Manager) AppendTurn(ctx context.Context, sess *Session, userText, modelText string) error {
	lock := m.sessionLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	messages := []*ai.Message{
		ai.NewUserMessage(ai.NewTextPart(userText)),
		ai.NewModelMessage(ai.NewTextPart(modelText)),
	}
	if err := m.store.AppendMessages(ctx, sess.ID, messages); err != nil {
		m.logger.Warn("turn write-through failed, serving from cache",
			"session_id", sess.ID, "error", err)
		m.cachedHistory(ctx, sess).AddTurn(userText, modelText)
		return nil
	}

	if sess.Title == "" {
		title := titleFromMessage(userText)
		if err := m.store.SetTitle(ctx, sess.ID, title); err != nil {
			m.logger.Warn("setting session title", "session_id", sess.ID, "error", err)
		} else {
			sess.Title = title
		}
	}

	// On a cache miss the next read loads the turn from storage.
	if history, ok := m.cache.Get(sess.ID); ok {
		history.AddTurn(userText, modelText)
	}
	return nil
}

// SetImageHandle records the session's most recently attached photo so
// later turns can still simulate against it. The durable write is best
// effort; the in-memory session always carries the handle.
func (m *Manager) SetImageHandle(ctx context.Context, sess *Session, handle string) {
	if err := m.store.SetImageHandle(ctx, sess.ID, handle); err != nil {
		m.logger.Warn("persisting image handle", "session_id", sess.ID, "error", err)
	}
	sess.LastImageHandle = handle
}

// Reset clears a session's history while keeping the session itself.
func (m *Manager) Reset(ctx context.Context, sess *Session) error {
	lock := m.sessionLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.ClearMessages(ctx, sess.ID); err != nil {
		return err
	}
	m.cache.Remove(sess.ID)
	m.logger.Debug("reset session", "id", sess.ID)
	return nil
}

// Delete removes a session and its history entirely.
func (m *Manager) Delete(ctx context.Context, sess *Session) error {
	lock := m.sessionLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.DeleteSession(ctx, sess.ID); err != nil {
		return err
	}
	m.cache.Remove(sess.ID)
	m.locks.Delete(sess.ID)
	return nil
}

// List returns a user's sessions, newest first.
func (m *Manager) List(ctx context.Context, userID string, limit, offset int32) ([]*Session, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return m.store.ListSessions(ctx, userID, limit, offset)
}

func (m *Manager) history(ctx context.Context, sess *Session) (*History, error) {
	if history, ok := m.cache.Get(sess.ID); ok {
		return history, nil
	}

	messages, err := m.store.Messages(ctx, sess.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("loading history of session %s: %w", sess.ID, err)
	}
	history := NewHistory()
	history.SetMessages(messages)
	m.cache.Put(sess.ID, sess.UserID, history)
	return history, nil
}

// cachedHistory returns the session's cached history, loading it from
// storage or starting an empty one when neither is available. Never
// returns nil, so append paths always have somewhere to commit.
func (m *Manager) cachedHistory(ctx context.Context, sess *Session) *History {
	if history, ok := m.cache.Get(sess.ID); ok {
		return history
	}
	if history, err := m.history(ctx, sess); err == nil {
		return history
	}
	history := NewHistory()
	m.cache.Put(sess.ID, sess.UserID, history)
	return history
}

// titleFromMessage derives a session title from its first user message.
func titleFromMessage(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= 60 {
		return text
	}
	return string(runes[:60]) + "..."
}

func (m *Manager) sessionLock(id uuid.UUID) *sync.Mutex {
	lock, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
