// Package assistant is the orchestration entry point: one Recommend
// call per user message, plus the auxiliary session operations. It
// wires the intent gate, the conversation manager, the recommendation
// agent and the simulation pipeline together.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/matiz0/matiz/internal/agent"
	"github.com/matiz0/matiz/internal/intent"
	"github.com/matiz0/matiz/internal/session"
	"github.com/matiz0/matiz/internal/simulate"
)

// ErrEmptyMessage indicates a request without message text.
var ErrEmptyMessage = errors.New("message must not be empty")

// Request is one user turn.
type Request struct {
	// UserID identifies the caller. Required.
	UserID string

	// Message is the user's text. Required.
	Message string

	// Image is an optional photo of the environment, raw bytes.
	Image []byte

	// SessionRef optionally resumes a specific session. Nil falls back
	// to the configured policy (new session or the user's latest).
	SessionRef *uuid.UUID
}

// Response is the assistant's reply.
type Response struct {
	// Reply is the natural-language answer, always non-empty.
	Reply string

	// Image is the simulation composite, when one was produced.
	Image []byte

	// SessionRef identifies the session the turn was recorded in; use
	// it to continue the conversation.
	SessionRef uuid.UUID

	// Intent is the classified category of the message.
	Intent intent.Category

	// Degraded marks best-effort answers produced under cap exhaustion.
	Degraded bool
}

// Classifier gates messages before the agent path.
type Classifier interface {
	Classify(ctx context.Context, message, previousReply string) intent.Classification
	GreetingReply() string
	OffTopicReply() string
}

// Sessions is the conversation-manager surface the assistant needs.
type Sessions interface {
	Resolve(ctx context.Context, userID string, sessionID *uuid.UUID) (*session.Session, bool, error)
	History(ctx context.Context, sess *session.Session) ([]*ai.Message, error)
	AppendTurn(ctx context.Context, sess *session.Session, userText, modelText string) error
	Reset(ctx context.Context, sess *session.Session) error
	List(ctx context.Context, userID string, limit, offset int32) ([]*session.Session, error)
	SetImageHandle(ctx context.Context, sess *session.Session, handle string)
}

// Agent runs one tool-loop turn.
type Agent interface {
	Run(ctx context.Context, turn *agent.Turn) (*agent.Answer, error)
}

// Assistant orchestrates one conversation turn end to end.
//
// Turns on the same session run one at a time: a second message for a
// session waits until the turn in flight has committed, so replies land
// in submission order. Different sessions proceed in parallel.
type Assistant struct {
	classifier Classifier
	sessions   Sessions
	agent      Agent
	images     ImageStore
	logger     *slog.Logger

	turnLocks sync.Map // uuid.UUID -> *sync.Mutex
}

// ImageStore is the image side-channel: Attach validates and stores an
// upload, Fetch returns a stored image by handle. *simulate.Pipeline is
// the production implementation.
type ImageStore interface {
	Attach(data []byte) (string, error)
	Fetch(handle string) (simulate.Image, bool)
}

// New creates the assistant.
func New(classifier Classifier, sessions Sessions, ag Agent, images ImageStore, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		classifier: classifier,
		sessions:   sessions,
		agent:      ag,
		images:     images,
		logger:     logger,
	}
}

// Recommend processes one user message: classify, short-circuit or run
// the agent, commit the turn. Greeting and off-topic turns are also
// recorded so the conversation reads coherently on resume.
func (a *Assistant) Recommend(ctx context.Context, req *Request) (*Response, error) {
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}

	sess, created, err := a.sessions.Resolve(ctx, req.UserID, req.SessionRef)
	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}

	// Serialize the whole turn per session, not just the append: the
	// history read, the agent call and the commit must see each other's
	// effects in submission order.
	lock := a.turnLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	history, err := a.sessions.History(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	classification := a.classifier.Classify(ctx, req.Message, lastModelText(history))
	a.logger.Debug("turn classified",
		"session_id", sess.ID,
		"category", classification.Category,
		"new_session", created)

	switch classification.Category {
	case intent.CategoryGreeting:
		return a.shortCircuit(ctx, sess, req.Message, a.classifier.GreetingReply(), classification.Category)
	case intent.CategoryOffTopic:
		return a.shortCircuit(ctx, sess, req.Message, a.classifier.OffTopicReply(), classification.Category)
	}

	// A fresh upload becomes the session's image; otherwise the turn
	// reuses whatever photo the session last saw, so simulations keep
	// working on follow-up messages.
	imageHandle := sess.LastImageHandle
	if len(req.Image) > 0 {
		imageHandle, err = a.images.Attach(req.Image)
		if err != nil {
			return nil, err
		}
		a.sessions.SetImageHandle(ctx, sess, imageHandle)
	}

	answer, err := a.agent.Run(ctx, &agent.Turn{
		Message:     req.Message,
		History:     history,
		ImageHandle: imageHandle,
	})
	if err != nil {
		// Unrecoverable provider failure: surface it, commit nothing.
		return nil, err
	}

	if err := a.sessions.AppendTurn(ctx, sess, req.Message, answer.Text); err != nil {
		// The reply exists; losing the durable copy is a degraded mode,
		// not a turn failure.
		a.logger.Error("turn write-through failed",
			"session_id", sess.ID, "error", err)
	}

	resp := &Response{
		Reply:      answer.Text,
		SessionRef: sess.ID,
		Intent:     classification.Category,
		Degraded:   answer.Degraded,
	}
	if answer.ImageHandle != "" {
		if img, ok := a.images.Fetch(answer.ImageHandle); ok {
			resp.Image = img.Data
		}
	}
	return resp, nil
}

// ListSessions returns the user's sessions, newest first.
func (a *Assistant) ListSessions(ctx context.Context, userID string, limit, offset int32) ([]*session.Session, error) {
	return a.sessions.List(ctx, userID, limit, offset)
}

// ResetSession clears a session's history. The session reference stays
// valid for subsequent turns.
func (a *Assistant) ResetSession(ctx context.Context, userID string, sessionID uuid.UUID) (*session.Session, error) {
	sess, _, err := a.sessions.Resolve(ctx, userID, &sessionID)
	if err != nil {
		return nil, err
	}
	if err := a.sessions.Reset(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (a *Assistant) shortCircuit(ctx context.Context, sess *session.Session, userText, reply string, category intent.Category) (*Response, error) {
	if err := a.sessions.AppendTurn(ctx, sess, userText, reply); err != nil {
		a.logger.Error("turn write-through failed",
			"session_id", sess.ID, "error", err)
	}
	return &Response{
		Reply:      reply,
		SessionRef: sess.ID,
		Intent:     category,
	}, nil
}

func (a *Assistant) turnLock(id uuid.UUID) *sync.Mutex {
	lock, _ := a.turnLocks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// lastModelText returns the newest model reply in history, for
// follow-up-aware classification.
func lastModelText(history []*ai.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != ai.RoleModel {
			continue
		}
		for _, part := range history[i].Content {
			if part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}
