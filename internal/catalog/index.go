package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/matiz0/matiz/internal/genai"
)

// Retrieval defaults and bounds.
const (
	// DefaultTopK is used when the caller asks for zero or negative results.
	DefaultTopK = 5

	// MaxTopK caps result-set size regardless of what the caller asks for.
	MaxTopK = 20

	// similarityThreshold is the minimum cosine similarity a vector match
	// must reach to be returned.
	similarityThreshold = 0.7

	// embedBatchSize bounds embedding calls during catalog enrichment.
	embedBatchSize = 10

	// Embedding calls get a short timeout and a bounded retry; a search
	// blocked on a flaky embedding endpoint must not stall the turn.
	embedTimeout    = 10 * time.Second
	embedRetries    = 2
	embedRetryDelay = 200 * time.Millisecond
)

// Querier defines the database operations the index needs. Interfaces
// are defined by the consumer; *Store is the production implementation.
type Querier interface {
	SearchSimilar(ctx context.Context, arg SearchParams) ([]Result, error)
	ListFiltered(ctx context.Context, filters Filters, limit int) ([]Paint, error)
	GetPaint(ctx context.Context, id int64) (Paint, error)
	ListForEmbedding(ctx context.Context, force bool) ([]Paint, error)
	UpdateEmbedding(ctx context.Context, id int64, embedding pgvector.Vector) error
}

// Index answers catalog retrieval requests. It owns query embedding,
// topK clamping and deterministic result ordering.
//
// Index is safe for concurrent use.
type Index struct {
	queries  Querier
	embedder genai.Embedder
	logger   *slog.Logger
}

// NewIndex creates a catalog index.
func NewIndex(queries Querier, embedder genai.Embedder, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		queries:  queries,
		embedder: embedder,
		logger:   logger,
	}
}

// Search performs hybrid retrieval: attribute filters restrict the
// candidate set, cosine similarity ranks it. An empty result is a valid
// outcome, not an error.
func (x *Index) Search(ctx context.Context, query string, filters Filters, topK int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	topK = clampTopK(topK)

	embedding, err := x.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := x.queries.SearchSimilar(ctx, SearchParams{
		Embedding: pgvector.NewVector(embedding),
		Filters:   filters,
		Threshold: similarityThreshold,
		Limit:     topK,
	})
	if err != nil {
		return nil, err
	}

	sortResults(results)

	x.logger.Debug("catalog search",
		"query", query,
		"filtered", !filters.Empty(),
		"top_k", topK,
		"results", len(results))
	return results, nil
}

// Filter returns paints by exact attribute match, with no vector
// ranking. Every result carries score 1.0.
func (x *Index) Filter(ctx context.Context, filters Filters, topK int) ([]Result, error) {
	topK = clampTopK(topK)

	paints, err := x.queries.ListFiltered(ctx, filters, topK)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(paints))
	for _, p := range paints {
		results = append(results, Result{Paint: p, Score: 1.0})
	}
	sortResults(results)

	x.logger.Debug("catalog filter", "top_k", topK, "results", len(results))
	return results, nil
}

// Detail fetches one paint by id. Returns ErrNotFound when the id does
// not exist.
func (x *Index) Detail(ctx context.Context, id int64) (Paint, error) {
	return x.queries.GetPaint(ctx, id)
}

// PopulateEmbeddings generates embeddings for paints that are missing
// one, or for every paint when force is set. Returns the number of
// paints processed. Failures are returned after processing stops so a
// partial run still persists what it embedded.
func (x *Index) PopulateEmbeddings(ctx context.Context, force bool) (int, error) {
	paints, err := x.queries.ListForEmbedding(ctx, force)
	if err != nil {
		return 0, err
	}
	if len(paints) == 0 {
		x.logger.Info("no paints need embedding generation")
		return 0, nil
	}
	x.logger.Info("populating embeddings", "paints", len(paints), "force", force)

	processed := 0
	for start := 0; start < len(paints); start += embedBatchSize {
		end := min(start+embedBatchSize, len(paints))
		for _, p := range paints[start:end] {
			embedding, err := x.embed(ctx, p.EmbeddingText())
			if err != nil {
				return processed, fmt.Errorf("embedding paint %d: %w", p.ID, err)
			}
			if err := x.queries.UpdateEmbedding(ctx, p.ID, pgvector.NewVector(embedding)); err != nil {
				return processed, err
			}
			processed++
		}
		x.logger.Debug("embedded batch", "through", end, "total", len(paints))
	}

	x.logger.Info("populated embeddings", "processed", processed)
	return processed, nil
}

// embed runs one embedding call per attempt under embedTimeout,
// retrying up to embedRetries times while the parent context is alive.
func (x *Index) embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= embedRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, embedTimeout)
		embedding, err := x.embedder.Embed(callCtx, text)
		cancel()
		if err == nil {
			return embedding, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
		if attempt < embedRetries {
			x.logger.Warn("embedding call failed, retrying",
				"attempt", attempt+1, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(embedRetryDelay):
			}
		}
	}
	return nil, lastErr
}

func clampTopK(topK int) int {
	switch {
	case topK <= 0:
		return DefaultTopK
	case topK > MaxTopK:
		return MaxTopK
	default:
		return topK
	}
}

// sortResults orders by score descending, then price ascending, then id
// ascending. The database already orders by distance; re-sorting here
// makes the tie-break contract independent of SQL plan details.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Price != results[j].Price {
			return results[i].Price < results[j].Price
		}
		return results[i].ID < results[j].ID
	})
}
