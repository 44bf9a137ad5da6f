package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// DBTX is the database access contract, satisfied by *pgxpool.Pool and
// pgx.Tx alike.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store runs catalog queries against PostgreSQL.
type Store struct {
	db DBTX
}

// NewStore creates a PostgreSQL-backed catalog store.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

const paintColumns = `id, name, color, environment, finish_type, product_line,
	surface_types, features, price, ai_summary, usage_tags`

// SearchParams drives a vector similarity query with optional attribute
// filters.
type SearchParams struct {
	Embedding pgvector.Vector
	Filters   Filters
	Threshold float64
	Limit     int
}

// SearchSimilar performs cosine similarity search restricted by the
// given filters. Rows below the similarity threshold are excluded.
// Ordering is by distance ascending; the caller applies the full
// tie-break ordering.
func (s *Store) SearchSimilar(ctx context.Context, arg SearchParams) ([]Result, error) {
	where, args := buildFilterClauses(arg.Filters, 3)
	where = append([]string{
		"embedding IS NOT NULL",
		"1 - (embedding <=> $1) >= $2",
	}, where...)
	args = append([]any{arg.Embedding, arg.Threshold}, args...)

	sql := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $1) AS similarity_score
		FROM paints
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT %d`, paintColumns, strings.Join(where, " AND "), arg.Limit)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := scanPaint(rows, &r.Paint, &r.Score); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search rows: %w", err)
	}
	return results, nil
}

// ListFiltered returns paints matching the filters without vector
// ranking, ordered by price then id for stable output.
func (s *Store) ListFiltered(ctx context.Context, filters Filters, limit int) ([]Paint, error) {
	where, args := buildFilterClauses(filters, 1)
	sql := fmt.Sprintf("SELECT %s FROM paints", paintColumns)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += fmt.Sprintf(" ORDER BY price ASC, id ASC LIMIT %d", limit)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("filtered list: %w", err)
	}
	defer rows.Close()

	var paints []Paint
	for rows.Next() {
		var p Paint
		if err := scanPaint(rows, &p, nil); err != nil {
			return nil, fmt.Errorf("scanning paint row: %w", err)
		}
		paints = append(paints, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("filtered list rows: %w", err)
	}
	return paints, nil
}

// GetPaint fetches a single paint by id.
func (s *Store) GetPaint(ctx context.Context, id int64) (Paint, error) {
	sql := fmt.Sprintf("SELECT %s FROM paints WHERE id = $1", paintColumns)
	var p Paint
	row := s.db.QueryRow(ctx, sql, id)
	if err := scanPaint(row, &p, nil); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Paint{}, ErrNotFound
		}
		return Paint{}, fmt.Errorf("getting paint %d: %w", id, err)
	}
	return p, nil
}

// ListForEmbedding returns paints that need an embedding, or every
// paint when force is set.
func (s *Store) ListForEmbedding(ctx context.Context, force bool) ([]Paint, error) {
	sql := fmt.Sprintf("SELECT %s FROM paints", paintColumns)
	if !force {
		sql += " WHERE embedding IS NULL"
	}
	sql += " ORDER BY id ASC"

	rows, err := s.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("listing paints for embedding: %w", err)
	}
	defer rows.Close()

	var paints []Paint
	for rows.Next() {
		var p Paint
		if err := scanPaint(rows, &p, nil); err != nil {
			return nil, fmt.Errorf("scanning paint row: %w", err)
		}
		paints = append(paints, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing paints rows: %w", err)
	}
	return paints, nil
}

// UpdateEmbedding stores the embedding vector for one paint.
func (s *Store) UpdateEmbedding(ctx context.Context, id int64, embedding pgvector.Vector) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE paints SET embedding = $1, updated_at = now() WHERE id = $2",
		embedding, id)
	if err != nil {
		return fmt.Errorf("updating embedding for paint %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating embedding for paint %d: %w", id, ErrNotFound)
	}
	return nil
}

// buildFilterClauses translates Filters into SQL conditions starting at
// the given positional placeholder.
func buildFilterClauses(f Filters, nextArg int) ([]string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, value any) {
		where = append(where, fmt.Sprintf(cond, nextArg))
		args = append(args, value)
		nextArg++
	}

	if f.Environment != "" {
		add("environment = $%d", f.Environment)
	}
	if f.FinishType != "" {
		add("finish_type = $%d", f.FinishType)
	}
	if f.ProductLine != "" {
		add("product_line = $%d", f.ProductLine)
	}
	if f.Color != "" {
		add("color ILIKE $%d", "%"+f.Color+"%")
	}
	for _, feature := range f.Features {
		add("$%d = ANY(features)", feature)
	}
	for _, surface := range f.SurfaceTypes {
		add("$%d = ANY(surface_types)", surface)
	}
	return where, args
}

func scanPaint(row pgx.Row, p *Paint, score *float64) error {
	dest := []any{
		&p.ID, &p.Name, &p.Color, &p.Environment, &p.FinishType,
		&p.ProductLine, &p.SurfaceTypes, &p.Features, &p.Price,
		&p.AISummary, &p.UsageTags,
	}
	if score != nil {
		dest = append(dest, score)
	}
	return row.Scan(dest...)
}
