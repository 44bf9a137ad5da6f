// Package config provides application configuration with multi-source
// priority.
//
// Sources, highest to lowest:
//  1. Environment variables (runtime override)
//  2. Config file (~/.matiz/config.yaml, or ./config.yaml)
//  3. Built-in defaults
//
// Categories:
//   - AI: chat model, embedder, provider selection
//   - Storage: PostgreSQL connection
//   - Conversation: cache bounds, history window, session policy
//   - Agent: tool-loop iteration and time caps
//   - Simulation: image limits, provider endpoint and key
//
// Sensitive values (passwords, API keys) are masked in MarshalJSON and
// never logged in clear text.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidCacheBounds indicates the session cache bounds are invalid.
	ErrInvalidCacheBounds = errors.New("invalid session cache bounds")

	// ErrInvalidHistoryWindow indicates the model-visible window is invalid.
	ErrInvalidHistoryWindow = errors.New("invalid history window")

	// ErrInvalidAgentCaps indicates the agent loop caps are invalid.
	ErrInvalidAgentCaps = errors.New("invalid agent caps")

	// ErrInvalidSessionPolicy indicates an unknown new-session policy.
	ErrInvalidSessionPolicy = errors.New("invalid session policy")

	// ErrInvalidImageLimit indicates the simulation image limit is invalid.
	ErrInvalidImageLimit = errors.New("invalid image size limit")

	// ErrInvalidWorkerCount indicates the simulation worker count is invalid.
	ErrInvalidWorkerCount = errors.New("invalid worker count")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"
)

// Session resolution policies for requests that carry no session reference.
const (
	// PolicyAlwaysNew creates a fresh session for every nil reference.
	PolicyAlwaysNew = "always-new"

	// PolicyReuseLatest resumes the caller's most recent session when one
	// exists, creating a new one otherwise.
	PolicyReuseLatest = "reuse-latest"
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding new
// secrets, update MarshalJSON as well.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"`
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	OllamaHost    string  `mapstructure:"ollama_host" json:"ollama_host"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Conversation configuration
	SessionPolicy    string `mapstructure:"session_policy" json:"session_policy"`
	CacheMaxSessions int    `mapstructure:"cache_max_sessions" json:"cache_max_sessions"`
	CacheMaxPerUser  int    `mapstructure:"cache_max_per_user" json:"cache_max_per_user"`
	HistoryWindow    int    `mapstructure:"history_window" json:"history_window"`

	// Agent loop configuration
	AgentMaxIterations int           `mapstructure:"agent_max_iterations" json:"agent_max_iterations"`
	AgentTurnBudget    time.Duration `mapstructure:"agent_turn_budget" json:"agent_turn_budget"`

	// Visual simulation configuration
	ImageMaxBytes     int64  `mapstructure:"image_max_bytes" json:"image_max_bytes"`
	SimulateWorkers   int    `mapstructure:"simulate_workers" json:"simulate_workers"`
	StabilityEndpoint string `mapstructure:"stability_endpoint" json:"stability_endpoint"`
	StabilityAPIKey   string `mapstructure:"stability_api_key" json:"stability_api_key"` // SENSITIVE

	// HTTP server configuration
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`

	// Tracing configuration. An empty OTLP endpoint disables export.
	OTLPEndpoint     string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	TraceEnvironment string `mapstructure:"trace_environment" json:"trace_environment"`
	ServiceName      string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration with priority env > file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".matiz")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", "text-embedding-004")
	viper.SetDefault("temperature", 0.3)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "matiz")
	viper.SetDefault("postgres_password", "matiz_dev_password")
	viper.SetDefault("postgres_db_name", "matiz")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("session_policy", PolicyReuseLatest)
	viper.SetDefault("cache_max_sessions", 500)
	viper.SetDefault("cache_max_per_user", 10)
	viper.SetDefault("history_window", 20)

	viper.SetDefault("agent_max_iterations", 6)
	viper.SetDefault("agent_turn_budget", 90*time.Second)

	viper.SetDefault("image_max_bytes", 8<<20)
	viper.SetDefault("simulate_workers", 4)
	viper.SetDefault("stability_endpoint",
		"https://api.stability.ai/v2beta/stable-image/edit/search-and-recolor")

	viper.SetDefault("listen_addr", ":8080")

	viper.SetDefault("otlp_endpoint", "")
	viper.SetDefault("trace_environment", "dev")
	viper.SetDefault("service_name", "matiz")
}

// bindEnvVariables binds secret environment variables explicitly.
// GEMINI_API_KEY and OPENAI_API_KEY are read directly by the Genkit
// plugins, not via viper.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("stability_api_key", "STABILITY_API_KEY")
	mustBind("postgres_password", "MATIZ_POSTGRES_PASSWORD")
	mustBind("provider", "MATIZ_PROVIDER")
	mustBind("model_name", "MATIZ_MODEL_NAME")
	mustBind("ollama_host", "MATIZ_OLLAMA_HOST")
	mustBind("session_policy", "MATIZ_SESSION_POLICY")
	mustBind("listen_addr", "MATIZ_LISTEN_ADDR")
	mustBind("otlp_endpoint", "MATIZ_OTLP_ENDPOINT")
}

// DatabaseURL builds the postgres:// connection URL.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword,
		c.PostgresHost, c.PostgresPort,
		c.PostgresDBName, c.PostgresSSLMode)
}

// FullModelName returns the provider-qualified model name for Genkit.
// If ModelName already carries a provider prefix it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// maskedValue uses full-width blocks so masked output never contains a
// substring of the original secret.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 characters or
// fewer are fully masked; longer ones keep the first and last two
// characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON masks sensitive fields.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.StabilityAPIKey = maskSecret(a.StabilityAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
