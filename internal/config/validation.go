package config

import (
	"fmt"
	"time"
)

// Validation bounds.
const (
	minCacheSessions = 1
	maxCacheSessions = 100000

	minHistoryWindow = 2
	maxHistoryWindow = 500

	minAgentIterations = 1
	maxAgentIterations = 25

	minTurnBudget = 5 * time.Second
	maxTurnBudget = 10 * time.Minute

	maxImageBytes = 64 << 20
)

// Validate checks the configuration and fails fast with a wrapped
// sentinel error on the first problem found.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("%w: %q (expected gemini, googleai, openai or ollama)",
			ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	switch c.SessionPolicy {
	case PolicyAlwaysNew, PolicyReuseLatest:
	default:
		return fmt.Errorf("%w: %q (expected %q or %q)",
			ErrInvalidSessionPolicy, c.SessionPolicy, PolicyAlwaysNew, PolicyReuseLatest)
	}

	if c.CacheMaxSessions < minCacheSessions || c.CacheMaxSessions > maxCacheSessions {
		return fmt.Errorf("%w: cache_max_sessions %d not in [%d, %d]",
			ErrInvalidCacheBounds, c.CacheMaxSessions, minCacheSessions, maxCacheSessions)
	}
	if c.CacheMaxPerUser < 1 || c.CacheMaxPerUser > c.CacheMaxSessions {
		return fmt.Errorf("%w: cache_max_per_user %d not in [1, %d]",
			ErrInvalidCacheBounds, c.CacheMaxPerUser, c.CacheMaxSessions)
	}

	if c.HistoryWindow < minHistoryWindow || c.HistoryWindow > maxHistoryWindow {
		return fmt.Errorf("%w: %d not in [%d, %d]",
			ErrInvalidHistoryWindow, c.HistoryWindow, minHistoryWindow, maxHistoryWindow)
	}

	if c.AgentMaxIterations < minAgentIterations || c.AgentMaxIterations > maxAgentIterations {
		return fmt.Errorf("%w: max iterations %d not in [%d, %d]",
			ErrInvalidAgentCaps, c.AgentMaxIterations, minAgentIterations, maxAgentIterations)
	}
	if c.AgentTurnBudget < minTurnBudget || c.AgentTurnBudget > maxTurnBudget {
		return fmt.Errorf("%w: turn budget %s not in [%s, %s]",
			ErrInvalidAgentCaps, c.AgentTurnBudget, minTurnBudget, maxTurnBudget)
	}

	if c.ImageMaxBytes < 1 || c.ImageMaxBytes > maxImageBytes {
		return fmt.Errorf("%w: %d not in [1, %d]",
			ErrInvalidImageLimit, c.ImageMaxBytes, int64(maxImageBytes))
	}
	if c.SimulateWorkers < 1 {
		return fmt.Errorf("%w: simulate_workers must be positive", ErrInvalidWorkerCount)
	}

	return nil
}
