package simulate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/matiz0/matiz/internal/genai"
	"github.com/matiz0/matiz/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ============================================================================
// Mock Implementations and Fixtures
// ============================================================================

// mockEditor implements genai.ImageEditor.
type mockEditor struct {
	mu      sync.Mutex
	result  []byte
	errs    []error // consumed per call; nil entry = success
	calls   int
	lastReq *genai.ImageEditRequest
}

func (m *mockEditor) Edit(_ context.Context, req *genai.ImageEditRequest) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastReq = req
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if m.result == nil {
		return []byte("composite-png"), nil
	}
	return m.result, nil
}

func (m *mockEditor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockTranslator implements genai.ChatModel.
type mockTranslator struct {
	text string
	err  error
}

func (m *mockTranslator) Generate(_ context.Context, _ *genai.GenerateRequest) (*genai.GenerateResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &genai.GenerateResponse{Text: m.text}, nil
}

// testPNG renders a small photo-like image: bright upper half (wall),
// dark lower half (furniture).
func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := range 8 {
		for x := range 8 {
			if y < 4 {
				img.Set(x, y, color.RGBA{R: 220, G: 215, B: 205, A: 255})
			} else {
				img.Set(x, y, color.RGBA{R: 30, G: 25, B: 20, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	return buf.Bytes()
}

func fastConfig() Config {
	return Config{
		MaxImageBytes:  1 << 20,
		Workers:        2,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func newTestPipeline(editor genai.ImageEditor, translator genai.ChatModel) *Pipeline {
	return NewPipeline(editor, translator, NewImageStore(16), fastConfig(), log.NewNop())
}

// ============================================================================
// Validation Tests
// ============================================================================

func TestValidateImage(t *testing.T) {
	t.Run("valid png", func(t *testing.T) {
		format, err := ValidateImage(testPNG(t), 1<<20)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if format != "png" {
			t.Errorf("format = %q, want png", format)
		}
	})

	t.Run("oversized payload", func(t *testing.T) {
		data := testPNG(t)
		_, err := ValidateImage(data, int64(len(data))-1)
		if !errors.Is(err, ErrInvalidImage) {
			t.Fatalf("expected ErrInvalidImage, got %v", err)
		}
	})

	t.Run("not an image", func(t *testing.T) {
		_, err := ValidateImage([]byte("definitivamente não é uma imagem"), 1<<20)
		if !errors.Is(err, ErrInvalidImage) {
			t.Fatalf("expected ErrInvalidImage, got %v", err)
		}
	})

	t.Run("empty payload", func(t *testing.T) {
		_, err := ValidateImage(nil, 1<<20)
		if !errors.Is(err, ErrInvalidImage) {
			t.Fatalf("expected ErrInvalidImage, got %v", err)
		}
	})
}

func TestWallMask(t *testing.T) {
	mask, err := WallMask(testPNG(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(mask))
	if err != nil {
		t.Fatalf("mask is not a decodable png: %v", err)
	}

	// Bright wall pixels must be editable, dark furniture pixels not.
	wall := img.At(2, 1)
	furniture := img.At(2, 6)
	if r, _, _, _ := wall.RGBA(); r == 0 {
		t.Error("bright region masked out")
	}
	if r, _, _, _ := furniture.RGBA(); r != 0 {
		t.Error("dark region marked paintable")
	}
}

// ============================================================================
// Pipeline Tests
// ============================================================================

func TestSimulate(t *testing.T) {
	t.Run("happy path produces a stored composite", func(t *testing.T) {
		editor := &mockEditor{}
		p := newTestPipeline(editor, &mockTranslator{text: "wall painted in serene blue, matte finish"})
		defer p.Close()

		handle, err := p.Attach(testPNG(t))
		if err != nil {
			t.Fatalf("attach: %v", err)
		}

		composite, err := p.Simulate(context.Background(), handle, "parede Azul Sereno, acabamento fosco")
		if err != nil {
			t.Fatalf("simulate: %v", err)
		}
		if img, ok := p.Fetch(composite); !ok || len(img.Data) == 0 {
			t.Error("composite not retrievable from the store")
		}
		if editor.callCount() != 1 {
			t.Errorf("editor calls = %d, want 1", editor.callCount())
		}

		// The provider must receive the translated English prompt and a mask.
		editor.mu.Lock()
		req := editor.lastReq
		editor.mu.Unlock()
		if req.Prompt != "wall painted in serene blue, matte finish" {
			t.Errorf("prompt = %q", req.Prompt)
		}
		if len(req.Mask) == 0 {
			t.Error("no mask sent to the provider")
		}
		if req.SelectPrompt != "wall" {
			t.Errorf("select_prompt = %q, want wall", req.SelectPrompt)
		}
	})

	t.Run("invalid image never reaches the provider", func(t *testing.T) {
		editor := &mockEditor{}
		p := newTestPipeline(editor, &mockTranslator{text: "x"})
		defer p.Close()

		if _, err := p.Attach([]byte("not an image")); !errors.Is(err, ErrInvalidImage) {
			t.Fatalf("expected ErrInvalidImage at attach, got %v", err)
		}
		if editor.callCount() != 0 {
			t.Errorf("editor calls = %d, want 0", editor.callCount())
		}
	})

	t.Run("unknown handle", func(t *testing.T) {
		editor := &mockEditor{}
		p := newTestPipeline(editor, nil)
		defer p.Close()

		_, err := p.Simulate(context.Background(), "no-such-handle", "azul")
		if !errors.Is(err, ErrImageNotFound) {
			t.Fatalf("expected ErrImageNotFound, got %v", err)
		}
		if editor.callCount() != 0 {
			t.Errorf("editor calls = %d, want 0", editor.callCount())
		}
	})

	t.Run("transient provider failure is retried", func(t *testing.T) {
		editor := &mockEditor{errs: []error{
			fmt.Errorf("%w: status 503", genai.ErrImageEditUnavailable),
			nil,
		}}
		p := newTestPipeline(editor, nil)
		defer p.Close()

		handle, err := p.Attach(testPNG(t))
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		if _, err := p.Simulate(context.Background(), handle, "azul sereno"); err != nil {
			t.Fatalf("simulate: %v", err)
		}
		if editor.callCount() != 2 {
			t.Errorf("editor calls = %d, want 2", editor.callCount())
		}
	})

	t.Run("rejection is not retried", func(t *testing.T) {
		editor := &mockEditor{errs: []error{
			fmt.Errorf("%w: status 400", genai.ErrImageEditRejected),
		}}
		p := newTestPipeline(editor, nil)
		defer p.Close()

		handle, err := p.Attach(testPNG(t))
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		_, err = p.Simulate(context.Background(), handle, "azul")
		if !errors.Is(err, ErrSimulationFailed) {
			t.Fatalf("expected ErrSimulationFailed, got %v", err)
		}
		if editor.callCount() != 1 {
			t.Errorf("editor calls = %d, want 1 (no retry)", editor.callCount())
		}
	})

	t.Run("persistent failure exhausts retries", func(t *testing.T) {
		editor := &mockEditor{errs: []error{
			genai.ErrImageEditUnavailable,
			genai.ErrImageEditUnavailable,
			genai.ErrImageEditUnavailable,
		}}
		p := newTestPipeline(editor, nil)
		defer p.Close()

		handle, err := p.Attach(testPNG(t))
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		_, err = p.Simulate(context.Background(), handle, "azul")
		if !errors.Is(err, ErrSimulationFailed) {
			t.Fatalf("expected ErrSimulationFailed, got %v", err)
		}
		if editor.callCount() != 3 {
			t.Errorf("editor calls = %d, want 3", editor.callCount())
		}
	})

	t.Run("failed translation falls back to the original description", func(t *testing.T) {
		editor := &mockEditor{}
		p := newTestPipeline(editor, &mockTranslator{err: errors.New("provider down")})
		defer p.Close()

		handle, err := p.Attach(testPNG(t))
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		if _, err := p.Simulate(context.Background(), handle, "parede azul"); err != nil {
			t.Fatalf("simulate: %v", err)
		}
		editor.mu.Lock()
		prompt := editor.lastReq.Prompt
		editor.mu.Unlock()
		if prompt != "parede azul" {
			t.Errorf("prompt = %q, want the untranslated description", prompt)
		}
	})
}

func TestImageStoreBound(t *testing.T) {
	store := NewImageStore(2)

	h1 := store.Put(Image{Data: []byte("a")})
	h2 := store.Put(Image{Data: []byte("b")})
	h3 := store.Put(Image{Data: []byte("c")})

	if store.Len() != 2 {
		t.Fatalf("store size = %d, want 2", store.Len())
	}
	if _, ok := store.Get(h1); ok {
		t.Error("oldest image should have been dropped")
	}
	for _, h := range []string{h2, h3} {
		if _, ok := store.Get(h); !ok {
			t.Errorf("handle %s unexpectedly dropped", h)
		}
	}
}
