package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the row-level database contract, satisfied by *pgxpool.Pool
// and pgx.Tx alike.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists sessions and their turns in PostgreSQL.
//
// Store is safe for concurrent use. When pool is nil (unit tests),
// AppendMessages falls back to a non-transactional path; production
// callers must pass the pool so turn writes are atomic.
type Store struct {
	db     DBTX
	pool   Beginner
	logger *slog.Logger
}

// NewStore creates a session store. db and pool normally both point at
// the same *pgxpool.Pool.
func NewStore(db DBTX, pool Beginner, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, pool: pool, logger: logger}
}

const sessionColumns = "id, user_id, title, created_at, updated_at, message_count, last_image_handle"

// CreateSession creates a session for the given user.
func (s *Store) CreateSession(ctx context.Context, userID, title string) (*Session, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO sessions (user_id, title)
		VALUES ($1, $2)
		RETURNING %s`, sessionColumns), userID, title)

	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("creating session for user %q: %w", userID, err)
	}
	s.logger.Debug("created session", "id", sess.ID, "user_id", userID)
	return sess, nil
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := s.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM sessions WHERE id = $1", sessionColumns), id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return sess, nil
}

// LatestSession returns the user's most recently updated session, or
// ErrSessionNotFound when the user has none.
func (s *Store) LatestSession(ctx context.Context, userID string) (*Session, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`, sessionColumns), userID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting latest session for user %q: %w", userID, err)
	}
	return sess, nil
}

// ListSessions lists a user's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, userID string, limit, offset int32) ([]*Session, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`, sessionColumns), userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions for user %q: %w", userID, err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sessions rows: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session and all its turns (CASCADE).
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM sessions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	s.logger.Debug("deleted session", "id", id)
	return nil
}

// ClearMessages removes every turn of a session and resets its counter,
// keeping the session row itself.
func (s *Store) ClearMessages(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx,
		"DELETE FROM session_turns WHERE session_id = $1", id); err != nil {
		return fmt.Errorf("clearing turns of session %s: %w", id, err)
	}
	tag, err := s.db.Exec(ctx,
		"UPDATE sessions SET message_count = 0, updated_at = now() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("resetting session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AppendMessages appends messages to a session with consecutive
// sequence numbers. With a pool, the whole append runs in one
// transaction guarded by a row lock, so concurrent appends cannot
// interleave sequence numbers.
func (s *Store) AppendMessages(ctx context.Context, sessionID uuid.UUID, messages []*ai.Message) error {
	if len(messages) == 0 {
		return nil
	}

	if s.pool == nil {
		return s.appendMessagesOn(ctx, s.db, sessionID, messages, false)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(ctx); rerr != nil && !errors.Is(rerr, pgx.ErrTxClosed) {
			s.logger.Debug("append transaction rollback", "error", rerr)
		}
	}()

	if err := s.appendMessagesOn(ctx, tx, sessionID, messages, true); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing append transaction: %w", err)
	}
	return nil
}

func (s *Store) appendMessagesOn(ctx context.Context, db DBTX, sessionID uuid.UUID, messages []*ai.Message, lock bool) error {
	if lock {
		var locked uuid.UUID
		err := db.QueryRow(ctx,
			"SELECT id FROM sessions WHERE id = $1 FOR UPDATE", sessionID).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("locking session %s: %w", sessionID, err)
		}
	}

	var maxSeq int32
	err := db.QueryRow(ctx,
		"SELECT COALESCE(MAX(sequence_number), 0) FROM session_turns WHERE session_id = $1",
		sessionID).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("reading max sequence for session %s: %w", sessionID, err)
	}

	for i, msg := range messages {
		if msg == nil {
			return fmt.Errorf("message %d is nil", i)
		}
		contentJSON, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshaling message %d content: %w", i, err)
		}
		seq := maxSeq + int32(i) + 1 // #nosec G115 -- i bounded by slice length
		if _, err := db.Exec(ctx, `
			INSERT INTO session_turns (session_id, role, content, sequence_number)
			VALUES ($1, $2, $3, $4)`,
			sessionID, string(msg.Role), contentJSON, seq); err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}

	newCount := maxSeq + int32(len(messages)) // #nosec G115 -- bounded by slice length
	if _, err := db.Exec(ctx, `
		UPDATE sessions SET message_count = $1, updated_at = now()
		WHERE id = $2`, newCount, sessionID); err != nil {
		return fmt.Errorf("updating session %s metadata: %w", sessionID, err)
	}

	s.logger.Debug("appended messages", "session_id", sessionID, "count", len(messages))
	return nil
}

// Messages loads the newest `limit` messages of a session in
// chronological order. limit <= 0 loads everything.
func (s *Store) Messages(ctx context.Context, sessionID uuid.UUID, limit int32) ([]*ai.Message, error) {
	sql := `
		SELECT role, content FROM (
			SELECT role, content, sequence_number
			FROM session_turns
			WHERE session_id = $1
			ORDER BY sequence_number DESC
			LIMIT $2
		) AS newest
		ORDER BY sequence_number ASC`
	if limit <= 0 {
		sql = `
			SELECT role, content
			FROM session_turns
			WHERE session_id = $1
			ORDER BY sequence_number ASC`
	}

	var (
		rows pgx.Rows
		err  error
	)
	if limit <= 0 {
		rows, err = s.db.Query(ctx, sql, sessionID)
	} else {
		rows, err = s.db.Query(ctx, sql, sessionID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("loading messages of session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var messages []*ai.Message
	for rows.Next() {
		var (
			role        string
			contentJSON []byte
		)
		if err := rows.Scan(&role, &contentJSON); err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}
		var parts []*ai.Part
		if err := json.Unmarshal(contentJSON, &parts); err != nil {
			return nil, fmt.Errorf("unmarshaling turn content: %w", err)
		}
		messages = append(messages, &ai.Message{
			Role:    ai.Role(role),
			Content: parts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading messages rows: %w", err)
	}
	return messages, nil
}

// SetTitle updates a session's title.
func (s *Store) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE sessions SET title = $1 WHERE id = $2", title, id)
	if err != nil {
		return fmt.Errorf("setting title of session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// SetImageHandle records the session's most recently attached photo.
func (s *Store) SetImageHandle(ctx context.Context, id uuid.UUID, handle string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE sessions SET last_image_handle = $1, updated_at = now() WHERE id = $2", handle, id)
	if err != nil {
		return fmt.Errorf("setting image handle of session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Title,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.MessageCount,
		&sess.LastImageHandle); err != nil {
		return nil, err
	}
	return &sess, nil
}
