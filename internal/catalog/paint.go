// Package catalog provides retrieval over the paint product catalog:
// vector similarity search, attribute filtering, hybrid search and
// detail lookup, backed by PostgreSQL with pgvector.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrNotFound indicates the requested paint does not exist.
	ErrNotFound = errors.New("paint not found")

	// ErrEmptyQuery indicates a semantic search with no query text.
	ErrEmptyQuery = errors.New("search query must not be empty")
)

// Attribute vocabulary. Values are stored in Portuguese, matching the
// product data.
const (
	EnvironmentInternal = "interno"
	EnvironmentExternal = "externo"

	FinishMatte = "fosco"
	FinishSatin = "acetinado"
	FinishGloss = "brilhante"

	LinePremium  = "Premium"
	LineStandard = "Padrão"
)

// Paint is a single catalog item.
type Paint struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Color        string   `json:"color"`
	Environment  string   `json:"environment"`
	FinishType   string   `json:"finish_type"`
	ProductLine  string   `json:"product_line"`
	SurfaceTypes []string `json:"surface_types"`
	Features     []string `json:"features"`
	Price        float64  `json:"price"`
	AISummary    string   `json:"ai_summary,omitempty"`
	UsageTags    []string `json:"usage_tags,omitempty"`
}

// Result is a paint with its retrieval score. Score is cosine
// similarity in [0, 1] for vector search, and 1.0 for pure filtering.
type Result struct {
	Paint
	Score float64 `json:"relevance_score"`
}

// Filters narrows search candidates by product attributes. Zero-value
// fields are ignored. Features and SurfaceTypes require every listed
// value to be present on the product.
type Filters struct {
	Environment  string   `json:"environment,omitempty"`
	FinishType   string   `json:"finish_type,omitempty"`
	ProductLine  string   `json:"product_line,omitempty"`
	Color        string   `json:"color,omitempty"` // case-insensitive substring
	Features     []string `json:"features,omitempty"`
	SurfaceTypes []string `json:"surface_types,omitempty"`
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return f.Environment == "" && f.FinishType == "" && f.ProductLine == "" &&
		f.Color == "" && len(f.Features) == 0 && len(f.SurfaceTypes) == 0
}

// EmbeddingText builds the searchable text a paint is embedded from.
// Index time and query time must agree on this shape, so it lives next
// to the type rather than in the enrichment job.
func (p Paint) EmbeddingText() string {
	parts := []string{
		fmt.Sprintf("Product: %s", p.Name),
		fmt.Sprintf("Color: %s", p.Color),
		fmt.Sprintf("Environment: %s", p.Environment),
		fmt.Sprintf("Finish: %s", p.FinishType),
		fmt.Sprintf("Product Line: %s", p.ProductLine),
	}
	if len(p.SurfaceTypes) > 0 {
		parts = append(parts, fmt.Sprintf("Surface Types: %s", strings.Join(p.SurfaceTypes, ", ")))
	}
	if len(p.Features) > 0 {
		parts = append(parts, fmt.Sprintf("Features: %s", strings.Join(p.Features, ", ")))
	}
	if p.AISummary != "" {
		parts = append(parts, fmt.Sprintf("Summary: %s", p.AISummary))
	}
	if len(p.UsageTags) > 0 {
		parts = append(parts, fmt.Sprintf("Usage Tags: %s", strings.Join(p.UsageTags, ", ")))
	}
	return strings.Join(parts, "\n")
}
