package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/matiz0/matiz/internal/session"
)

// Pagination bounds for session listing.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	MaxListOffset    = 100000
)

// SessionView is the JSON shape of a session.
type SessionView struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

type sessionHandler struct {
	assistant Recommender
	logger    *slog.Logger
}

func newSessionHandler(rec Recommender, logger *slog.Logger) *sessionHandler {
	return &sessionHandler{assistant: rec, logger: logger}
}

func (h *sessionHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("POST /api/sessions/{id}/reset", h.reset)
}

// list returns the caller's sessions, newest first.
// Query parameters: user_id (required), limit, offset.
func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	// #nosec G115 -- limit and offset are bounded by MaxListLimit and MaxListOffset
	sessions, err := h.assistant.ListSessions(r.Context(), userID, int32(limit), int32(offset))
	if err != nil {
		if errors.Is(err, session.ErrInvalidUserID) {
			writeError(w, http.StatusBadRequest, "invalid_user", "user_id is invalid")
			return
		}
		h.logger.Error("listing sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list sessions")
		return
	}

	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toSessionView(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": views,
		"total":    len(views),
		"limit":    limit,
		"offset":   offset,
	})
}

// ResetSessionRequest is the request body for the reset endpoint.
type ResetSessionRequest struct {
	UserID string `json:"user_id"`
}

// reset clears a session's history. The session itself survives and
// its reference stays usable.
func (h *sessionHandler) reset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session", "session id is not a valid UUID")
		return
	}

	var req ResetSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	sess, err := h.assistant.ResetSession(r.Context(), req.UserID, id)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "session_not_found", "no such session")
		case errors.Is(err, session.ErrNotOwner):
			writeError(w, http.StatusForbidden, "forbidden", "session belongs to another user")
		case errors.Is(err, session.ErrInvalidUserID):
			writeError(w, http.StatusBadRequest, "invalid_user", "user_id is invalid")
		default:
			h.logger.Error("resetting session failed", "error", err, "session_id", id)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to reset session")
		}
		return
	}

	writeJSON(w, http.StatusOK, toSessionView(sess))
}

func toSessionView(s *session.Session) SessionView {
	return SessionView{
		ID:           s.ID.String(),
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: s.MessageCount,
	}
}

// parseIntParam parses an integer query parameter with bounds.
func parseIntParam(r *http.Request, name string, defaultVal, minVal, maxVal int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}
