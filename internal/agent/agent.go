package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"

	"github.com/matiz0/matiz/internal/genai"
)

// Config bounds one agent turn.
type Config struct {
	// MaxIterations caps model round-trips per turn.
	MaxIterations int

	// TurnBudget caps wall-clock time per turn.
	TurnBudget time.Duration

	// CallTimeout caps one model call attempt. Kept well below
	// TurnBudget so a hung connection costs one retry, not the turn.
	CallTimeout time.Duration

	// RequestsPerSecond rate-limits model calls; zero disables limiting.
	RequestsPerSecond float64

	Retry   RetryConfig
	Breaker CircuitBreakerConfig
	Tokens  TokenBudget
}

// Turn is one user message with its context.
type Turn struct {
	Message string

	// History is the model-visible window, read-only for the agent.
	History []*ai.Message

	// ImageHandle references a photo attached to this turn, empty when
	// none. Raw image bytes never enter model context.
	ImageHandle string
}

// Answer is the agent's reply for one turn.
type Answer struct {
	Text string

	// ImageHandle references a simulation composite, when one was made.
	ImageHandle string

	// Degraded marks answers synthesized after an iteration or
	// wall-clock cap, built from partial tool results.
	Degraded bool

	ToolCalls int
}

// Agent runs the tool-calling loop: model call, schema-validated tool
// dispatch in requested order, repeat until a final answer or a cap.
//
// Agent is stateless across turns and safe for concurrent use.
type Agent struct {
	model genai.ChatModel
	tools *Toolset

	maxIterations int
	turnBudget    time.Duration
	callTimeout   time.Duration
	retryConfig   RetryConfig
	breaker       *CircuitBreaker
	limiter       *rate.Limiter
	tokens        TokenBudget
	logger        *slog.Logger
}

// New creates an agent. Zero config fields fall back to defaults.
func New(model genai.ChatModel, tools *Toolset, cfg Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 6
	}
	if cfg.TurnBudget <= 0 {
		cfg.TurnBudget = 90 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.CallTimeout > cfg.TurnBudget {
		cfg.CallTimeout = cfg.TurnBudget
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Tokens == (TokenBudget{}) {
		cfg.Tokens = DefaultTokenBudget()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Agent{
		model:         model,
		tools:         tools,
		maxIterations: cfg.MaxIterations,
		turnBudget:    cfg.TurnBudget,
		callTimeout:   cfg.CallTimeout,
		retryConfig:   cfg.Retry,
		breaker:       NewCircuitBreaker(cfg.Breaker),
		limiter:       limiter,
		tokens:        cfg.Tokens,
		logger:        logger,
	}
}

// Run processes one turn. Cap exhaustion is not an error: the answer is
// synthesized from gathered tool results and marked Degraded. An
// unrecoverable provider failure is returned as an error; callers must
// not commit the turn in that case.
func (a *Agent) Run(ctx context.Context, turn *Turn) (*Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, a.turnBudget)
	defer cancel()

	registry := a.tools.ForTurn(turn.ImageHandle)

	userText := truncateInput(turn.Message, a.tokens.MaxInputTokens)
	if turn.ImageHandle != "" {
		userText += pendingImageNote
	}

	messages := truncateHistory(turn.History, a.tokens.MaxHistoryTokens)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(userText)))

	var (
		gathered    []string
		imageHandle string
		toolCalls   int
	)

	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		if ctx.Err() != nil {
			a.logger.Warn("turn budget exhausted", "iteration", iteration)
			return a.degradedAnswer(gathered, imageHandle, toolCalls), nil
		}

		resp, err := a.generateWithRetry(ctx, &genai.GenerateRequest{
			System:   systemPrompt,
			Messages: messages,
			Tools:    registry.Defs(),
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				a.logger.Warn("turn budget exhausted mid-call", "iteration", iteration)
				return a.degradedAnswer(gathered, imageHandle, toolCalls), nil
			}
			return nil, fmt.Errorf("agent turn: %w", err)
		}

		if len(resp.ToolRequests) == 0 {
			text := strings.TrimSpace(resp.Text)
			if text == "" {
				return a.degradedAnswer(gathered, imageHandle, toolCalls), nil
			}
			return &Answer{
				Text:        text,
				ImageHandle: imageHandle,
				ToolCalls:   toolCalls,
			}, nil
		}

		// Echo the model's tool requests into context, then execute them
		// sequentially in the requested order: later calls may depend on
		// earlier results.
		requestParts := make([]*ai.Part, 0, len(resp.ToolRequests))
		for _, req := range resp.ToolRequests {
			requestParts = append(requestParts, ai.NewToolRequestPart(req))
		}
		messages = append(messages, ai.NewMessage(ai.RoleModel, nil, requestParts...))

		for _, req := range resp.ToolRequests {
			toolCalls++
			result, err := registry.Execute(ctx, req.Name, toRawArgs(req.Input))

			var output string
			if err != nil {
				// Tool errors are model-visible context, not turn failures.
				output = fmt.Sprintf("erro na ferramenta %s: %v", req.Name, err)
				a.logger.Warn("tool call failed", "tool", req.Name, "error", err)
			} else {
				output = result.Text
				gathered = append(gathered, result.Text)
				if result.ImageHandle != "" {
					imageHandle = result.ImageHandle
				}
			}

			messages = append(messages, ai.NewMessage(ai.RoleTool, nil,
				ai.NewToolResponsePart(&ai.ToolResponse{
					Name:   req.Name,
					Ref:    req.Ref,
					Output: output,
				})))
		}
	}

	a.logger.Warn("iteration cap exhausted",
		"max_iterations", a.maxIterations, "tool_calls", toolCalls)
	return a.degradedAnswer(gathered, imageHandle, toolCalls), nil
}

// degradedAnswer builds the best-effort reply after cap exhaustion.
// Always non-empty.
func (a *Agent) degradedAnswer(gathered []string, imageHandle string, toolCalls int) *Answer {
	text := "Desculpe, não consegui concluir sua solicitação agora. " +
		"Pode reformular a pergunta ou tentar novamente em instantes?"
	if len(gathered) > 0 {
		text = "Não consegui concluir toda a análise a tempo, mas aqui está o que encontrei:\n\n" +
			strings.Join(gathered, "\n\n")
	}
	return &Answer{
		Text:        text,
		ImageHandle: imageHandle,
		Degraded:    true,
		ToolCalls:   toolCalls,
	}
}

// toRawArgs normalizes a tool request input to a map for schema
// validation. Genkit delivers map[string]any; anything else goes
// through a JSON round trip.
func toRawArgs(input any) map[string]any {
	switch v := input.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return map[string]any{}
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return map[string]any{}
		}
		return m
	}
}
