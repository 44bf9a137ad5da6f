package genai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

// Stability API error conditions surfaced to callers.
var (
	// ErrImageEditRejected indicates the provider refused the request
	// (bad key, content policy, malformed input). Retrying won't help.
	ErrImageEditRejected = errors.New("image edit rejected by provider")

	// ErrImageEditUnavailable indicates a transient provider failure.
	ErrImageEditUnavailable = errors.New("image edit provider unavailable")
)

// stabilityTimeout stays below the agent's turn budget so a slow edit
// degrades one tool call instead of eating the whole turn.
const (
	stabilityTimeout     = 60 * time.Second
	maxErrorBodyBytes    = 2048
	defaultOutputFormat  = "png"
	defaultSelectPrompt  = "wall"
	maxEditResponseBytes = 32 << 20
)

// StabilityClient calls the Stability search-and-recolor endpoint to
// repaint a selected region of an interior photo.
type StabilityClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// NewStabilityClient creates an image editor backed by the Stability
// API. The endpoint must be the full edit URL.
func NewStabilityClient(endpoint, apiKey string, logger *slog.Logger) (*StabilityClient, error) {
	if endpoint == "" {
		return nil, errors.New("stability endpoint must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("stability API key must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StabilityClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: stabilityTimeout},
		logger:   logger,
	}, nil
}

// Edit implements ImageEditor. The request is a multipart form upload;
// the response body is the edited image in the requested format.
func (s *StabilityClient) Edit(ctx context.Context, req *ImageEditRequest) ([]byte, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrImageEditRejected)
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrImageEditRejected)
	}

	body, contentType, err := s.encodeForm(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("building edit request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Accept", "image/*")
	httpReq.Header.Set("Content-Type", contentType)

	started := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageEditUnavailable, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Warn("closing edit response body", "error", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		s.logger.Warn("image edit failed",
			"status", resp.StatusCode,
			"elapsed", time.Since(started),
			"body", string(snippet))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: status %d", ErrImageEditUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrImageEditRejected, resp.StatusCode, snippet)
	}

	edited, err := io.ReadAll(io.LimitReader(resp.Body, maxEditResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrImageEditUnavailable, err)
	}
	if len(edited) == 0 {
		return nil, fmt.Errorf("%w: empty response body", ErrImageEditUnavailable)
	}

	s.logger.Debug("image edit complete",
		"elapsed", time.Since(started),
		"bytes", len(edited))
	return edited, nil
}

func (s *StabilityClient) encodeForm(req *ImageEditRequest) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	imagePart, err := w.CreateFormFile("image", "image.png")
	if err != nil {
		return nil, "", fmt.Errorf("encoding image part: %w", err)
	}
	if _, err := imagePart.Write(req.Image); err != nil {
		return nil, "", fmt.Errorf("encoding image part: %w", err)
	}

	if len(req.Mask) > 0 {
		maskPart, err := w.CreateFormFile("mask", "mask.png")
		if err != nil {
			return nil, "", fmt.Errorf("encoding mask part: %w", err)
		}
		if _, err := maskPart.Write(req.Mask); err != nil {
			return nil, "", fmt.Errorf("encoding mask part: %w", err)
		}
	}

	selectPrompt := req.SelectPrompt
	if selectPrompt == "" {
		selectPrompt = defaultSelectPrompt
	}
	format := req.OutputFormat
	if format == "" {
		format = defaultOutputFormat
	}

	fields := map[string]string{
		"prompt":        req.Prompt,
		"select_prompt": selectPrompt,
		"output_format": format,
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("encoding field %q: %w", name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finalizing form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
