package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pgvector/pgvector-go"

	"github.com/matiz0/matiz/internal/log"
)

// ============================================================================
// Mock Implementations
// ============================================================================

// mockEmbedder implements genai.Embedder for testing.
type mockEmbedder struct {
	embedding []float32
	embedErr  error
	failFirst int // fail only the first N calls; 0 means every call
	callCount int
	lastText  string
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.callCount++
	m.lastText = text
	if m.embedErr != nil && (m.failFirst == 0 || m.callCount <= m.failFirst) {
		return nil, m.embedErr
	}
	if m.embedding == nil {
		return []float32{0.1, 0.2, 0.3}, nil
	}
	return m.embedding, nil
}

// mockQuerier implements Querier for testing.
type mockQuerier struct {
	searchResults []Result
	searchErr     error
	lastSearch    SearchParams

	filteredPaints []Paint
	filteredErr    error
	lastLimit      int

	paints map[int64]Paint

	forEmbedding     []Paint
	updatedIDs       []int64
	updateErr        error
	updateFailAfter  int // fail on the Nth update (1-based); 0 = never
}

func (m *mockQuerier) SearchSimilar(_ context.Context, arg SearchParams) ([]Result, error) {
	m.lastSearch = arg
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.searchResults, nil
}

func (m *mockQuerier) ListFiltered(_ context.Context, _ Filters, limit int) ([]Paint, error) {
	m.lastLimit = limit
	if m.filteredErr != nil {
		return nil, m.filteredErr
	}
	return m.filteredPaints, nil
}

func (m *mockQuerier) GetPaint(_ context.Context, id int64) (Paint, error) {
	p, ok := m.paints[id]
	if !ok {
		return Paint{}, ErrNotFound
	}
	return p, nil
}

func (m *mockQuerier) ListForEmbedding(_ context.Context, _ bool) ([]Paint, error) {
	return m.forEmbedding, nil
}

func (m *mockQuerier) UpdateEmbedding(_ context.Context, id int64, _ pgvector.Vector) error {
	if m.updateFailAfter > 0 && len(m.updatedIDs)+1 == m.updateFailAfter {
		return m.updateErr
	}
	m.updatedIDs = append(m.updatedIDs, id)
	return nil
}

// ============================================================================
// Search Tests
// ============================================================================

func TestSearch(t *testing.T) {
	t.Run("empty query is rejected without touching the embedder", func(t *testing.T) {
		embedder := &mockEmbedder{}
		index := NewIndex(&mockQuerier{}, embedder, log.NewNop())

		_, err := index.Search(context.Background(), "   ", Filters{}, 5)
		if !errors.Is(err, ErrEmptyQuery) {
			t.Fatalf("expected ErrEmptyQuery, got %v", err)
		}
		if embedder.callCount != 0 {
			t.Errorf("embedder called %d times, want 0", embedder.callCount)
		}
	})

	t.Run("passes filters and clamped topK to the store", func(t *testing.T) {
		querier := &mockQuerier{}
		index := NewIndex(querier, &mockEmbedder{}, log.NewNop())

		filters := Filters{Environment: EnvironmentInternal, Features: []string{"lavável"}}
		if _, err := index.Search(context.Background(), "tinta para quarto", filters, 100); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if querier.lastSearch.Limit != MaxTopK {
			t.Errorf("limit = %d, want clamped to %d", querier.lastSearch.Limit, MaxTopK)
		}
		if querier.lastSearch.Filters.Environment != EnvironmentInternal {
			t.Errorf("environment filter not forwarded: %+v", querier.lastSearch.Filters)
		}
		if querier.lastSearch.Threshold != similarityThreshold {
			t.Errorf("threshold = %v, want %v", querier.lastSearch.Threshold, similarityThreshold)
		}
	})

	t.Run("zero topK falls back to default", func(t *testing.T) {
		querier := &mockQuerier{}
		index := NewIndex(querier, &mockEmbedder{}, log.NewNop())

		if _, err := index.Search(context.Background(), "tinta branca", Filters{}, 0); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if querier.lastSearch.Limit != DefaultTopK {
			t.Errorf("limit = %d, want %d", querier.lastSearch.Limit, DefaultTopK)
		}
	})

	t.Run("embedder failure propagates after retries", func(t *testing.T) {
		embedErr := errors.New("provider down")
		embedder := &mockEmbedder{embedErr: embedErr}
		index := NewIndex(&mockQuerier{}, embedder, log.NewNop())

		_, err := index.Search(context.Background(), "tinta azul", Filters{}, 5)
		if !errors.Is(err, embedErr) {
			t.Fatalf("expected wrapped embed error, got %v", err)
		}
		if embedder.callCount != 3 {
			t.Errorf("embedder calls = %d, want 3 (two retries)", embedder.callCount)
		}
	})

	t.Run("transient embedder failure is retried", func(t *testing.T) {
		embedder := &mockEmbedder{embedErr: errors.New("503 unavailable"), failFirst: 1}
		index := NewIndex(&mockQuerier{}, embedder, log.NewNop())

		if _, err := index.Search(context.Background(), "tinta azul", Filters{}, 5); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if embedder.callCount != 2 {
			t.Errorf("embedder calls = %d, want 2", embedder.callCount)
		}
	})

	t.Run("empty result is not an error", func(t *testing.T) {
		index := NewIndex(&mockQuerier{}, &mockEmbedder{}, log.NewNop())

		results, err := index.Search(context.Background(), "tinta roxa metálica", Filters{}, 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 0 {
			t.Errorf("expected no results, got %d", len(results))
		}
	})

	t.Run("ties broken by score then price then id", func(t *testing.T) {
		querier := &mockQuerier{searchResults: []Result{
			{Paint: Paint{ID: 9, Price: 120}, Score: 0.9},
			{Paint: Paint{ID: 3, Price: 80}, Score: 0.9},
			{Paint: Paint{ID: 2, Price: 80}, Score: 0.9},
			{Paint: Paint{ID: 1, Price: 50}, Score: 0.95},
		}}
		index := NewIndex(querier, &mockEmbedder{}, log.NewNop())

		results, err := index.Search(context.Background(), "tinta lavável", Filters{}, 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		wantOrder := []int64{1, 2, 3, 9}
		for i, want := range wantOrder {
			if results[i].ID != want {
				t.Errorf("position %d: got id %d, want %d", i, results[i].ID, want)
			}
		}
	})
}

// ============================================================================
// Filter Tests
// ============================================================================

func TestFilter(t *testing.T) {
	t.Run("results carry score 1.0", func(t *testing.T) {
		querier := &mockQuerier{filteredPaints: []Paint{
			{ID: 1, Name: "Toque Suave", Price: 89.9},
			{ID: 2, Name: "Clima Externo", Price: 149.9},
		}}
		index := NewIndex(querier, &mockEmbedder{}, log.NewNop())

		results, err := index.Filter(context.Background(), Filters{FinishType: FinishMatte}, 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("got %d results, want 2", len(results))
		}
		for _, r := range results {
			if r.Score != 1.0 {
				t.Errorf("paint %d score = %v, want 1.0", r.ID, r.Score)
			}
		}
	})

	t.Run("equal scores fall back to price then id ordering", func(t *testing.T) {
		querier := &mockQuerier{filteredPaints: []Paint{
			{ID: 7, Price: 99.9},
			{ID: 4, Price: 59.9},
			{ID: 6, Price: 59.9},
		}}
		index := NewIndex(querier, &mockEmbedder{}, log.NewNop())

		results, err := index.Filter(context.Background(), Filters{}, 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		wantOrder := []int64{4, 6, 7}
		for i, want := range wantOrder {
			if results[i].ID != want {
				t.Errorf("position %d: got id %d, want %d", i, results[i].ID, want)
			}
		}
	})

	t.Run("negative topK clamps to default", func(t *testing.T) {
		querier := &mockQuerier{}
		index := NewIndex(querier, &mockEmbedder{}, log.NewNop())

		if _, err := index.Filter(context.Background(), Filters{}, -3); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if querier.lastLimit != DefaultTopK {
			t.Errorf("limit = %d, want %d", querier.lastLimit, DefaultTopK)
		}
	})
}

// ============================================================================
// Detail Tests
// ============================================================================

func TestDetail(t *testing.T) {
	querier := &mockQuerier{paints: map[int64]Paint{
		42: {ID: 42, Name: "Proteção Total", Environment: EnvironmentExternal},
	}}
	index := NewIndex(querier, &mockEmbedder{}, log.NewNop())

	t.Run("existing id", func(t *testing.T) {
		p, err := index.Detail(context.Background(), 42)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Name != "Proteção Total" {
			t.Errorf("got %q, want Proteção Total", p.Name)
		}
	})

	t.Run("unknown id returns ErrNotFound", func(t *testing.T) {
		_, err := index.Detail(context.Background(), 999)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

// ============================================================================
// PopulateEmbeddings Tests
// ============================================================================

func TestPopulateEmbeddings(t *testing.T) {
	t.Run("embeds and persists every pending paint", func(t *testing.T) {
		querier := &mockQuerier{forEmbedding: []Paint{
			{ID: 1, Name: "Toque Suave", Color: "Branco Neve"},
			{ID: 2, Name: "Clima Externo", Color: "Cinza Urbano"},
		}}
		embedder := &mockEmbedder{}
		index := NewIndex(querier, embedder, log.NewNop())

		n, err := index.PopulateEmbeddings(context.Background(), false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 2 {
			t.Errorf("processed = %d, want 2", n)
		}
		if embedder.callCount != 2 {
			t.Errorf("embedder calls = %d, want 2", embedder.callCount)
		}
		if len(querier.updatedIDs) != 2 {
			t.Errorf("updates = %d, want 2", len(querier.updatedIDs))
		}
	})

	t.Run("embedding text includes the product attributes", func(t *testing.T) {
		querier := &mockQuerier{forEmbedding: []Paint{{
			ID:         1,
			Name:       "Toque Suave",
			Color:      "Branco Neve",
			FinishType: FinishMatte,
			Features:   []string{"lavável", "antimofo"},
		}}}
		embedder := &mockEmbedder{}
		index := NewIndex(querier, embedder, log.NewNop())

		if _, err := index.PopulateEmbeddings(context.Background(), false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		for _, want := range []string{"Toque Suave", "Branco Neve", "fosco", "lavável, antimofo"} {
			if !strings.Contains(embedder.lastText, want) {
				t.Errorf("embedding text missing %q:\n%s", want, embedder.lastText)
			}
		}
	})

	t.Run("partial failure reports progress so far", func(t *testing.T) {
		querier := &mockQuerier{
			forEmbedding: []Paint{
				{ID: 1}, {ID: 2}, {ID: 3},
			},
			updateErr:       errors.New("connection reset"),
			updateFailAfter: 3,
		}
		index := NewIndex(querier, &mockEmbedder{}, log.NewNop())

		n, err := index.PopulateEmbeddings(context.Background(), false)
		if err == nil {
			t.Fatal("expected error")
		}
		if n != 2 {
			t.Errorf("processed = %d, want 2", n)
		}
	})

	t.Run("nothing pending is a no-op", func(t *testing.T) {
		embedder := &mockEmbedder{}
		index := NewIndex(&mockQuerier{}, embedder, log.NewNop())

		n, err := index.PopulateEmbeddings(context.Background(), false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 0 || embedder.callCount != 0 {
			t.Errorf("processed=%d embedCalls=%d, want 0/0", n, embedder.callCount)
		}
	})
}
