package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/matiz0/matiz/internal/catalog"
)

// Catalog is the read-only retrieval surface the tools consume.
// *catalog.Index is the production implementation.
type Catalog interface {
	Search(ctx context.Context, query string, filters catalog.Filters, topK int) ([]catalog.Result, error)
	Filter(ctx context.Context, filters catalog.Filters, topK int) ([]catalog.Result, error)
	Detail(ctx context.Context, id int64) (catalog.Paint, error)
}

// Simulator renders a paint onto a previously attached photo. The image
// travels as an opaque handle; Simulate returns the handle of the
// composite.
type Simulator interface {
	Simulate(ctx context.Context, imageHandle, description string) (string, error)
}

// searchArgs are the arguments of search_paints.
type searchArgs struct {
	Query        string   `json:"query" jsonschema:"search query for paint products (color, room type, desired features)"`
	Environment  string   `json:"environment,omitempty" jsonschema:"'interno' for indoor use or 'externo' for outdoor use"`
	FinishType   string   `json:"finish_type,omitempty" jsonschema:"finish type: 'fosco', 'acetinado' or 'brilhante'"`
	ProductLine  string   `json:"product_line,omitempty" jsonschema:"product line, e.g. 'Premium' or 'Padrão'"`
	Color        string   `json:"color,omitempty" jsonschema:"color name or family"`
	Features     []string `json:"features,omitempty" jsonschema:"required features, e.g. 'lavável', 'antimofo'"`
	SurfaceTypes []string `json:"surface_types,omitempty" jsonschema:"required surfaces, e.g. 'parede', 'teto', 'madeira', 'metal'"`
	TopK         int      `json:"top_k,omitempty" jsonschema:"maximum number of results, default 5"`
}

// filterArgs are the arguments of filter_paints.
type filterArgs struct {
	Environment  string   `json:"environment,omitempty" jsonschema:"'interno' or 'externo'"`
	FinishType   string   `json:"finish_type,omitempty" jsonschema:"'fosco', 'acetinado' or 'brilhante'"`
	ProductLine  string   `json:"product_line,omitempty" jsonschema:"'Premium' or 'Padrão'"`
	Color        string   `json:"color,omitempty" jsonschema:"color name or family"`
	Features     []string `json:"features,omitempty" jsonschema:"required features"`
	SurfaceTypes []string `json:"surface_types,omitempty" jsonschema:"required surfaces"`
	TopK         int      `json:"top_k,omitempty" jsonschema:"maximum number of results, default 5"`
}

// detailArgs are the arguments of get_paint_details.
type detailArgs struct {
	ProductID int64 `json:"product_id" jsonschema:"exact product id from a prior search or filter result"`
}

// simulateArgs are the arguments of simulate_paint.
type simulateArgs struct {
	Description string `json:"description" jsonschema:"the paint to apply, e.g. 'parede na cor Azul Sereno, acabamento fosco'"`
}

// Toolset builds the per-turn tool registry for the paint assistant.
type Toolset struct {
	catalog   Catalog
	simulator Simulator
}

// NewToolset creates the paint toolset. simulator may be nil; the
// simulate tool is then omitted.
func NewToolset(cat Catalog, sim Simulator) *Toolset {
	return &Toolset{catalog: cat, simulator: sim}
}

// ForTurn returns the registry for one turn. imageHandle is the photo
// attached to the turn, empty when none; the simulate tool is only
// offered when a photo is present.
func (ts *Toolset) ForTurn(imageHandle string) *Registry {
	tools := []*Tool{
		NewTool("search_paints",
			"Search for paint products by meaning, optionally narrowed by attributes. Returns ranked matches with product ids.",
			func(ctx context.Context, args searchArgs) (Result, error) {
				results, err := ts.catalog.Search(ctx, args.Query, catalog.Filters{
					Environment:  args.Environment,
					FinishType:   args.FinishType,
					ProductLine:  args.ProductLine,
					Color:        args.Color,
					Features:     args.Features,
					SurfaceTypes: args.SurfaceTypes,
				}, args.TopK)
				if err != nil {
					return Result{}, err
				}
				return Result{Text: formatResults(results)}, nil
			}),
		NewTool("filter_paints",
			"List paint products matching exact attributes, without semantic ranking.",
			func(ctx context.Context, args filterArgs) (Result, error) {
				results, err := ts.catalog.Filter(ctx, catalog.Filters{
					Environment:  args.Environment,
					FinishType:   args.FinishType,
					ProductLine:  args.ProductLine,
					Color:        args.Color,
					Features:     args.Features,
					SurfaceTypes: args.SurfaceTypes,
				}, args.TopK)
				if err != nil {
					return Result{}, err
				}
				return Result{Text: formatResults(results)}, nil
			}),
		NewTool("get_paint_details",
			"Get full details of one paint product by its exact id (from a prior search or filter result).",
			func(ctx context.Context, args detailArgs) (Result, error) {
				paint, err := ts.catalog.Detail(ctx, args.ProductID)
				if err != nil {
					return Result{}, err
				}
				return Result{Text: formatDetail(paint)}, nil
			}),
	}

	if ts.simulator != nil && imageHandle != "" {
		tools = append(tools, NewTool("simulate_paint",
			"Render the described paint onto the photo the user attached to this conversation. Use after choosing a product.",
			func(ctx context.Context, args simulateArgs) (Result, error) {
				handle, err := ts.simulator.Simulate(ctx, imageHandle, args.Description)
				if err != nil {
					return Result{}, err
				}
				return Result{
					Text:        "Simulação concluída: a imagem com a nova cor foi gerada e será exibida junto com a resposta.",
					ImageHandle: handle,
				}, nil
			}))
	}

	return NewRegistry(tools...)
}

func formatResults(results []catalog.Result) string {
	if len(results) == 0 {
		return "Nenhum produto encontrado com esses critérios."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Encontrados %d produtos:\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s - %s (id %d)\n", i+1, r.Name, r.Color, r.ID)
		fmt.Fprintf(&b, "   Linha: %s | Ambiente: %s | Acabamento: %s\n",
			r.ProductLine, r.Environment, r.FinishType)
		fmt.Fprintf(&b, "   Preço: R$ %.2f\n", r.Price)
		if len(r.Features) > 0 {
			fmt.Fprintf(&b, "   Características: %s\n", strings.Join(r.Features, ", "))
		}
		if r.AISummary != "" {
			fmt.Fprintf(&b, "   Resumo: %s\n", r.AISummary)
		}
	}
	return b.String()
}

func formatDetail(p catalog.Paint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s - %s (id %d)\n", p.Name, p.Color, p.ID)
	fmt.Fprintf(&b, "Linha: %s\nAmbiente: %s\nAcabamento: %s\nPreço: R$ %.2f\n",
		p.ProductLine, p.Environment, p.FinishType, p.Price)
	if len(p.SurfaceTypes) > 0 {
		fmt.Fprintf(&b, "Superfícies: %s\n", strings.Join(p.SurfaceTypes, ", "))
	}
	if len(p.Features) > 0 {
		fmt.Fprintf(&b, "Características: %s\n", strings.Join(p.Features, ", "))
	}
	if len(p.UsageTags) > 0 {
		fmt.Fprintf(&b, "Usos: %s\n", strings.Join(p.UsageTags, ", "))
	}
	if p.AISummary != "" {
		fmt.Fprintf(&b, "Resumo: %s\n", p.AISummary)
	}
	return b.String()
}
