// Package app wires the application together: configuration, AI
// providers, database, conversation state and the assistant itself.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matiz0/matiz/internal/agent"
	"github.com/matiz0/matiz/internal/assistant"
	"github.com/matiz0/matiz/internal/catalog"
	"github.com/matiz0/matiz/internal/config"
	"github.com/matiz0/matiz/internal/database"
	"github.com/matiz0/matiz/internal/genai"
	"github.com/matiz0/matiz/internal/intent"
	"github.com/matiz0/matiz/internal/observability"
	"github.com/matiz0/matiz/internal/session"
	"github.com/matiz0/matiz/internal/simulate"
)

// App holds the initialized application components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Pool      *pgxpool.Pool
	Genkit    *genai.Genkit
	Catalog   *catalog.Index
	Sessions  *session.Manager
	Pipeline  *simulate.Pipeline
	Assistant *assistant.Assistant

	cleanups []func()
}

// Setup initializes every component in dependency order. On error,
// already-created resources are released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// Tracing must be registered before Genkit initializes so provider
	// calls are captured from the first turn.
	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.OTLPEndpoint,
			Environment: cfg.TraceEnvironment,
			ServiceName: cfg.ServiceName,
		}, logger.With("component", "observability"))
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		a.cleanups = append(a.cleanups, func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("flushing tracer provider", "error", err)
			}
		})
	}

	g, err := genai.NewGenkit(ctx, cfg, logger.With("component", "genai"))
	if err != nil {
		return nil, fmt.Errorf("initializing AI provider: %w", err)
	}
	a.Genkit = g

	embedder, err := genai.NewEmbedder(g, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing embedder: %w", err)
	}

	pool, poolCleanup, err := database.NewPool(ctx, cfg, logger.With("component", "database"))
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	a.Pool = pool
	a.cleanups = append(a.cleanups, poolCleanup)

	a.Catalog = catalog.NewIndex(
		catalog.NewStore(pool),
		embedder,
		logger.With("component", "catalog"))

	sessionStore := session.NewStore(pool, pool, logger.With("component", "session"))
	cache := session.NewCache(cfg.CacheMaxSessions, cfg.CacheMaxPerUser, logger.With("component", "session-cache"))
	a.Sessions = session.NewManager(sessionStore, cache, cfg.SessionPolicy, cfg.HistoryWindow,
		logger.With("component", "session"))

	// The simulation pipeline works without a Stability key: uploads are
	// still validated and stored, only the simulate tool is absent.
	var editor genai.ImageEditor
	if cfg.StabilityAPIKey != "" {
		stability, err := genai.NewStabilityClient(cfg.StabilityEndpoint, cfg.StabilityAPIKey,
			logger.With("component", "stability"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("initializing image editor: %w", err)
		}
		editor = stability
	} else {
		logger.Warn("no Stability API key configured, paint simulation disabled")
	}

	a.Pipeline = simulate.NewPipeline(editor, g, simulate.NewImageStore(256),
		simulate.Config{
			MaxImageBytes: cfg.ImageMaxBytes,
			Workers:       cfg.SimulateWorkers,
		},
		logger.With("component", "simulate"))
	a.cleanups = append(a.cleanups, a.Pipeline.Close)

	var simulator agent.Simulator
	if editor != nil {
		simulator = a.Pipeline
	}

	ag := agent.New(g, agent.NewToolset(a.Catalog, simulator),
		agent.Config{
			MaxIterations: cfg.AgentMaxIterations,
			TurnBudget:    cfg.AgentTurnBudget,
		},
		logger.With("component", "agent"))

	classifier := intent.NewClassifier(g, logger.With("component", "intent"))

	a.Assistant = assistant.New(classifier, a.Sessions, ag, a.Pipeline,
		logger.With("component", "assistant"))

	return a, nil
}

// Close releases resources in reverse initialization order.
func (a *App) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}
