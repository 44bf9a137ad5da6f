package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matiz0/matiz/internal/genai"
)

// RetryConfig configures retry behavior for chat-model calls.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns defaults suited to LLM provider APIs.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups transient-error substrings by category,
// matched case-insensitively. Provider SDKs expose no typed errors for
// these conditions, so string matching is the only option; revisit if
// that changes.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},
	{"500", "502", "503", "504", "unavailable"},
	{"connection reset", "timeout", "temporary"},
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, pattern := range group {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}
	return false
}

// generateWithRetry runs one chat-model call with rate limiting,
// circuit breaking and exponential backoff on transient errors.
func (a *Agent) generateWithRetry(ctx context.Context, req *genai.GenerateRequest) (*genai.GenerateResponse, error) {
	var lastErr error
	delay := a.retryConfig.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= a.retryConfig.MaxRetries; attempt++ {
		if err := a.breaker.Allow(); err != nil {
			return nil, err
		}
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := a.generate(ctx, req)
		if err == nil {
			a.breaker.Success()
			a.logger.Debug("model call succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start))
			return resp, nil
		}
		a.breaker.Failure()
		lastErr = err

		// The turn budget is spent; let the caller degrade.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A per-call timeout with budget left is a stuck attempt, worth
		// retrying like any other transient failure.
		if !retryableError(err) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("model call: %w", err)
		}
		if attempt == a.retryConfig.MaxRetries {
			break
		}

		a.logger.Warn("transient model error, backing off",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > a.retryConfig.MaxInterval {
			delay = a.retryConfig.MaxInterval
		}
	}

	return nil, fmt.Errorf("model call failed after %d attempts: %w",
		a.retryConfig.MaxRetries+1, lastErr)
}

// generate runs one attempt under the per-call timeout, so a hung
// provider connection costs at most one backoff, never the whole turn.
func (a *Agent) generate(ctx context.Context, req *genai.GenerateRequest) (*genai.GenerateResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	return a.model.Generate(callCtx, req)
}
