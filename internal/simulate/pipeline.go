package simulate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/sourcegraph/conc/pool"

	"github.com/matiz0/matiz/internal/genai"
)

// translatePrompt normalizes the paint description to English; the
// image-edit provider only understands English prompts.
const translatePrompt = "Translate this paint color description to simple English " +
	"for an AI image generator. Only return the English translation, nothing else: %q"

// Config bounds the pipeline.
type Config struct {
	// MaxImageBytes is the upload size ceiling.
	MaxImageBytes int64

	// Workers bounds concurrent provider calls; slow generations queue
	// here instead of blocking other conversations.
	Workers int

	// Retry policy for provider calls.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxImageBytes:  8 << 20,
		Workers:        4,
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     15 * time.Second,
	}
}

// Pipeline runs paint simulations. Provider calls execute on a bounded
// worker pool; callers block only on their own simulation, never on the
// pool being busy with cheap work.
//
// Pipeline is safe for concurrent use.
type Pipeline struct {
	editor     genai.ImageEditor
	translator genai.ChatModel
	store      *ImageStore
	workers    *pool.Pool
	cfg        Config
	logger     *slog.Logger
}

// NewPipeline creates a pipeline. translator may be nil; descriptions
// are then sent to the provider as-is.
func NewPipeline(editor genai.ImageEditor, translator genai.ChatModel, store *ImageStore, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = def.MaxImageBytes
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}

	return &Pipeline{
		editor:     editor,
		translator: translator,
		store:      store,
		workers:    pool.New().WithMaxGoroutines(cfg.Workers),
		cfg:        cfg,
		logger:     logger,
	}
}

// Attach validates an uploaded photo and stores it, returning its
// handle. Invalid payloads fail with ErrInvalidImage.
func (p *Pipeline) Attach(data []byte) (string, error) {
	format, err := ValidateImage(data, p.cfg.MaxImageBytes)
	if err != nil {
		return "", err
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	return p.store.Put(Image{Data: stored, Format: format}), nil
}

// Fetch returns a stored image by handle.
func (p *Pipeline) Fetch(handle string) (Image, bool) {
	return p.store.Get(handle)
}

// Simulate renders the described paint onto the referenced photo and
// returns the handle of the composite. Validation failures never reach
// the provider. The provider call runs on the worker pool; Simulate
// itself blocks until the result or ctx is done.
func (p *Pipeline) Simulate(ctx context.Context, imageHandle, description string) (string, error) {
	img, ok := p.store.Get(imageHandle)
	if !ok {
		return "", ErrImageNotFound
	}
	if _, err := ValidateImage(img.Data, p.cfg.MaxImageBytes); err != nil {
		return "", err
	}
	if strings.TrimSpace(description) == "" {
		return "", fmt.Errorf("%w: empty description", ErrSimulationFailed)
	}

	type outcome struct {
		handle string
		err    error
	}
	done := make(chan outcome, 1)
	p.workers.Go(func() {
		handle, err := p.run(ctx, img, description)
		done <- outcome{handle: handle, err: err}
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case o := <-done:
		return o.handle, o.err
	}
}

// Close waits for in-flight simulations to finish.
func (p *Pipeline) Close() {
	p.workers.Wait()
}

func (p *Pipeline) run(ctx context.Context, img Image, description string) (string, error) {
	started := time.Now()

	mask, err := WallMask(img.Data)
	if err != nil {
		return "", err
	}

	prompt := p.translate(ctx, description)

	composite, err := p.editWithRetry(ctx, &genai.ImageEditRequest{
		Image:        img.Data,
		Mask:         mask,
		Prompt:       prompt,
		SelectPrompt: "wall",
		OutputFormat: "png",
	})
	if err != nil {
		return "", err
	}

	handle := p.store.Put(Image{Data: composite, Format: "png"})
	p.logger.Info("simulation complete",
		"elapsed", time.Since(started),
		"bytes", len(composite))
	return handle, nil
}

// translate normalizes the description to English. A failed
// translation falls back to the original text: a Portuguese prompt
// degrades quality, losing the whole simulation over it is worse.
func (p *Pipeline) translate(ctx context.Context, description string) string {
	if p.translator == nil {
		return description
	}

	resp, err := p.translator.Generate(ctx, &genai.GenerateRequest{
		Messages: []*ai.Message{
			ai.NewUserMessage(ai.NewTextPart(fmt.Sprintf(translatePrompt, description))),
		},
	})
	if err != nil {
		p.logger.Warn("description translation failed, using original", "error", err)
		return description
	}

	translated := strings.TrimSpace(resp.Text)
	translated = strings.Trim(translated, `"'`)
	if translated == "" {
		return description
	}
	p.logger.Debug("translated description", "from", description, "to", translated)
	return translated
}

func (p *Pipeline) editWithRetry(ctx context.Context, req *genai.ImageEditRequest) ([]byte, error) {
	var lastErr error
	delay := p.cfg.InitialBackoff

	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		composite, err := p.editor.Edit(ctx, req)
		if err == nil {
			return composite, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, fmt.Errorf("%w: %v", ErrSimulationFailed, err)
		}
		if attempt == p.cfg.MaxRetries {
			break
		}

		p.logger.Warn("image edit failed, backing off",
			"attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.cfg.MaxBackoff {
			delay = p.cfg.MaxBackoff
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrSimulationFailed, p.cfg.MaxRetries, lastErr)
}

// isRetryable: rejections (bad key, content policy, malformed input)
// are deterministic; everything else is worth another attempt.
func isRetryable(err error) bool {
	return !errors.Is(err, genai.ErrImageEditRejected)
}
