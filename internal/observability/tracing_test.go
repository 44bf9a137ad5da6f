package observability

import (
	"context"
	"testing"

	"github.com/matiz0/matiz/internal/log"
)

func TestSetup(t *testing.T) {
	t.Run("empty config uses the default endpoint", func(t *testing.T) {
		shutdown, err := Setup(context.Background(), Config{}, log.NewNop())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if shutdown == nil {
			t.Fatal("nil shutdown function")
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})

	t.Run("unreachable collector degrades without failing", func(t *testing.T) {
		shutdown, err := Setup(context.Background(), Config{
			Endpoint:    "localhost:1",
			Environment: "test",
			ServiceName: "matiz-test",
		}, log.NewNop())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
}

func TestTracerNeverNil(t *testing.T) {
	if Tracer("matiz-test") == nil {
		t.Fatal("nil tracer")
	}
}
