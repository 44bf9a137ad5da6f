package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/matiz0/matiz/internal/config"
)

// Genkit wires the configured provider plugin and exposes the ChatModel
// and Embedder capabilities on top of it.
type Genkit struct {
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger

	// Tool declarations are registered with Genkit once per name.
	mu         sync.Mutex
	registered map[string]ai.Tool
}

// NewGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), openai and ollama.
func NewGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Genkit, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama has no auto-discovery; models and embedders are explicit.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}

	default: // gemini / googleai
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
	}

	logger.Info("initialized genkit",
		"provider", cfg.Provider,
		"model", cfg.ModelName,
		"embedder", cfg.EmbedderModel)

	return &Genkit{
		g:          g,
		modelName:  cfg.FullModelName(),
		logger:     logger,
		registered: make(map[string]ai.Tool),
	}, nil
}

// Generate implements ChatModel. Tool requests are returned to the
// caller rather than executed by Genkit: the recommendation agent owns
// dispatch, validation and the loop caps.
func (k *Genkit) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	opts := []ai.GenerateOption{
		ai.WithModelName(k.modelName),
		ai.WithMessages(req.Messages...),
	}
	if req.System != "" {
		opts = append(opts, ai.WithSystem(req.System))
	}
	if len(req.Tools) > 0 {
		refs := make([]ai.ToolRef, 0, len(req.Tools))
		for _, def := range req.Tools {
			ref, err := k.toolRef(def)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
		opts = append(opts, ai.WithTools(refs...), ai.WithReturnToolRequests(true))
	}

	resp, err := genkit.Generate(ctx, k.g, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	return &GenerateResponse{
		Text:         resp.Text(),
		ToolRequests: resp.ToolRequests(),
	}, nil
}

// toolRef registers a declaration-only tool with Genkit, carrying the
// caller's argument schema so the model sees the real parameter names
// and types. The handler is unreachable because
// WithReturnToolRequests(true) short-circuits execution.
func (k *Genkit) toolRef(def ToolDef) (ai.Tool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if t, ok := k.registered[def.Name]; ok {
		return t, nil
	}

	schema, err := schemaAsMap(def.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", def.Name, err)
	}

	t := genkit.DefineToolWithInputSchema(k.g, def.Name, def.Description, schema,
		func(_ *ai.ToolContext, _ any) (string, error) {
			return "", fmt.Errorf("tool %q must be dispatched by the agent, not the provider", def.Name)
		})
	k.registered[def.Name] = t
	return t, nil
}

// schemaAsMap converts a declared JSON schema to the generic form
// Genkit's tool options accept.
func schemaAsMap(schema *jsonschema.Schema) (map[string]any, error) {
	if schema == nil {
		return map[string]any{"type": "object"}, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encoding input schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decoding input schema: %w", err)
	}
	return m, nil
}

// ChatEmbedder adapts a Genkit ai.Embedder to the Embedder capability.
type ChatEmbedder struct {
	embedder ai.Embedder
}

// NewEmbedder looks up the embedder registered by the provider plugin.
func NewEmbedder(k *Genkit, cfg *config.Config) (*ChatEmbedder, error) {
	var embedder ai.Embedder
	switch cfg.Provider {
	case config.ProviderOllama:
		embedder = ollama.Embedder(k.g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		embedder = genkit.LookupEmbedder(k.g, api.NewName("openai", cfg.EmbedderModel))
	default:
		embedder = googlegenai.GoogleAIEmbedder(k.g, cfg.EmbedderModel)
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	return &ChatEmbedder{embedder: embedder}, nil
}

// Embed implements Embedder.
func (e *ChatEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generating embedding: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return resp.Embeddings[0].Embedding, nil
}
