package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/matiz0/matiz/internal/assistant"
	"github.com/matiz0/matiz/internal/session"
	"github.com/matiz0/matiz/internal/simulate"
)

const (
	// MaxMessageLength bounds the user message.
	MaxMessageLength = 4000

	// maxRequestBytes bounds the request body; covers an 8 MiB photo
	// after base64 expansion plus the JSON envelope.
	maxRequestBytes = 12 << 20
)

// RecommendRequest is the request body for POST /api/recommend.
type RecommendRequest struct {
	// UserID identifies the caller. Required.
	UserID string `json:"user_id"`

	// Message is the user's text. Required.
	Message string `json:"message"`

	// Image is an optional base64-encoded photo of the environment.
	Image string `json:"image,omitempty"`

	// SessionID optionally resumes a specific session.
	SessionID string `json:"session_id,omitempty"`
}

// RecommendResponse is the response body for POST /api/recommend.
type RecommendResponse struct {
	Reply     string `json:"reply"`
	Image     string `json:"image,omitempty"` // base64 png composite
	SessionID string `json:"session_id"`
	Intent    string `json:"intent"`
	Degraded  bool   `json:"degraded,omitempty"`
}

type recommendHandler struct {
	assistant Recommender
	logger    *slog.Logger
}

func newRecommendHandler(rec Recommender, logger *slog.Logger) *recommendHandler {
	return &recommendHandler{assistant: rec, logger: logger}
}

func (h *recommendHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/recommend", h.recommend)
}

func (h *recommendHandler) recommend(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req RecommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	if len(req.Message) > MaxMessageLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "message too long")
		return
	}

	areq := &assistant.Request{
		UserID:  req.UserID,
		Message: req.Message,
	}

	if req.Image != "" {
		data, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_image", "image is not valid base64")
			return
		}
		areq.Image = data
	}

	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_session", "session_id is not a valid UUID")
			return
		}
		areq.SessionRef = &id
	}

	resp, err := h.assistant.Recommend(r.Context(), areq)
	if err != nil {
		h.writeRecommendError(w, err)
		return
	}

	out := RecommendResponse{
		Reply:     resp.Reply,
		SessionID: resp.SessionRef.String(),
		Intent:    string(resp.Intent),
		Degraded:  resp.Degraded,
	}
	if len(resp.Image) > 0 {
		out.Image = base64.StdEncoding.EncodeToString(resp.Image)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *recommendHandler) writeRecommendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assistant.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
	case errors.Is(err, session.ErrInvalidUserID):
		writeError(w, http.StatusBadRequest, "invalid_user", "user_id is invalid")
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", "no such session")
	case errors.Is(err, session.ErrNotOwner):
		writeError(w, http.StatusForbidden, "forbidden", "session belongs to another user")
	case errors.Is(err, simulate.ErrInvalidImage):
		writeError(w, http.StatusBadRequest, "invalid_image", err.Error())
	default:
		h.logger.Error("recommendation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "recommendation failed")
	}
}
