package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/matiz0/matiz/internal/catalog"
	"github.com/matiz0/matiz/internal/genai"
	"github.com/matiz0/matiz/internal/log"
)

// ============================================================================
// Mock Implementations
// ============================================================================

type scriptedStep struct {
	resp *genai.GenerateResponse
	err  error
}

// scriptedModel implements genai.ChatModel, replaying a fixed script
// and recording every request.
type scriptedModel struct {
	steps    []scriptedStep
	requests []*genai.GenerateRequest
}

func (m *scriptedModel) Generate(_ context.Context, req *genai.GenerateRequest) (*genai.GenerateResponse, error) {
	m.requests = append(m.requests, req)
	if len(m.steps) == 0 {
		return &genai.GenerateResponse{Text: "resposta final"}, nil
	}
	step := m.steps[0]
	m.steps = m.steps[1:]
	return step.resp, step.err
}

// mockCatalog implements Catalog.
type mockCatalog struct {
	results     []catalog.Result
	searchErr   error
	searchCalls int
	filterCalls int
	detailCalls int
}

func (m *mockCatalog) Search(_ context.Context, _ string, _ catalog.Filters, _ int) ([]catalog.Result, error) {
	m.searchCalls++
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.results, nil
}

func (m *mockCatalog) Filter(_ context.Context, _ catalog.Filters, _ int) ([]catalog.Result, error) {
	m.filterCalls++
	return m.results, nil
}

func (m *mockCatalog) Detail(_ context.Context, id int64) (catalog.Paint, error) {
	m.detailCalls++
	for _, r := range m.results {
		if r.ID == id {
			return r.Paint, nil
		}
	}
	return catalog.Paint{}, catalog.ErrNotFound
}

// mockSimulator implements Simulator.
type mockSimulator struct {
	handle string
	err    error
	calls  int
}

func (m *mockSimulator) Simulate(_ context.Context, _, _ string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.handle, nil
}

func toolRequestStep(name string, input map[string]any) scriptedStep {
	return scriptedStep{resp: &genai.GenerateResponse{
		ToolRequests: []*ai.ToolRequest{{Name: name, Ref: "1", Input: input}},
	}}
}

func finalStep(text string) scriptedStep {
	return scriptedStep{resp: &genai.GenerateResponse{Text: text}}
}

func newTestAgent(model genai.ChatModel, cat Catalog, sim Simulator, cfg Config) *Agent {
	return New(model, NewToolset(cat, sim), cfg, log.NewNop())
}

// ============================================================================
// Tests
// ============================================================================

func TestRunDirectAnswer(t *testing.T) {
	model := &scriptedModel{steps: []scriptedStep{finalStep("Olá! Como posso ajudar?")}}
	agent := newTestAgent(model, &mockCatalog{}, nil, Config{})

	answer, err := agent.Run(context.Background(), &Turn{Message: "oi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Degraded {
		t.Error("direct answer marked degraded")
	}
	if answer.Text != "Olá! Como posso ajudar?" {
		t.Errorf("text = %q", answer.Text)
	}
	if answer.ToolCalls != 0 {
		t.Errorf("tool calls = %d, want 0", answer.ToolCalls)
	}
}

func TestRunSearchThenAnswer(t *testing.T) {
	cat := &mockCatalog{results: []catalog.Result{
		{Paint: catalog.Paint{ID: 7, Name: "Toque Suave", Color: "Azul Sereno", Price: 89.9}, Score: 0.92},
	}}
	model := &scriptedModel{steps: []scriptedStep{
		toolRequestStep("search_paints", map[string]any{"query": "azul para quarto"}),
		finalStep("Recomendo a Toque Suave (id 7)."),
	}}
	agent := newTestAgent(model, cat, nil, Config{})

	answer, err := agent.Run(context.Background(), &Turn{Message: "quero um azul calmo para o quarto"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cat.searchCalls != 1 {
		t.Errorf("search calls = %d, want 1", cat.searchCalls)
	}
	if answer.ToolCalls != 1 {
		t.Errorf("tool calls = %d, want 1", answer.ToolCalls)
	}

	// The second model call must carry the tool result in context.
	if len(model.requests) != 2 {
		t.Fatalf("model calls = %d, want 2", len(model.requests))
	}
	last := model.requests[1].Messages
	found := false
	for _, msg := range last {
		for _, part := range msg.Content {
			if part.ToolResponse != nil {
				if out, ok := part.ToolResponse.Output.(string); ok && strings.Contains(out, "Toque Suave") {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("tool result not fed back into model context")
	}
}

func TestRunInvalidArgsBecomeToolError(t *testing.T) {
	model := &scriptedModel{steps: []scriptedStep{
		// search_paints requires a string query; send a number.
		toolRequestStep("search_paints", map[string]any{"query": 42}),
		finalStep("Poderia detalhar melhor o que procura?"),
	}}
	cat := &mockCatalog{}
	agent := newTestAgent(model, cat, nil, Config{})

	answer, err := agent.Run(context.Background(), &Turn{Message: "tinta"})
	if err != nil {
		t.Fatalf("invalid args must not fail the turn: %v", err)
	}
	if cat.searchCalls != 0 {
		t.Errorf("handler ran despite invalid args (%d calls)", cat.searchCalls)
	}
	if answer.Text == "" {
		t.Error("empty final answer")
	}

	// The model must have seen the tool error.
	errorSeen := false
	for _, msg := range model.requests[1].Messages {
		for _, part := range msg.Content {
			if part.ToolResponse != nil {
				if out, ok := part.ToolResponse.Output.(string); ok && strings.Contains(out, "erro na ferramenta") {
					errorSeen = true
				}
			}
		}
	}
	if !errorSeen {
		t.Error("tool error not surfaced to the model")
	}
}

func TestRunIterationCapDegrades(t *testing.T) {
	// The model keeps requesting tools forever.
	var steps []scriptedStep
	for range 20 {
		steps = append(steps, toolRequestStep("filter_paints", map[string]any{"environment": "interno"}))
	}
	cat := &mockCatalog{results: []catalog.Result{
		{Paint: catalog.Paint{ID: 1, Name: "Toque Suave"}, Score: 1.0},
	}}
	model := &scriptedModel{steps: steps}
	agent := newTestAgent(model, cat, nil, Config{MaxIterations: 3})

	answer, err := agent.Run(context.Background(), &Turn{Message: "tinta interna"})
	if err != nil {
		t.Fatalf("cap exhaustion must not be an error: %v", err)
	}
	if !answer.Degraded {
		t.Error("answer not marked degraded")
	}
	if answer.Text == "" {
		t.Error("degraded answer is empty")
	}
	if !strings.Contains(answer.Text, "Toque Suave") {
		t.Error("degraded answer does not use gathered tool results")
	}
	if len(model.requests) != 3 {
		t.Errorf("model calls = %d, want exactly the cap (3)", len(model.requests))
	}
}

func TestRunAllToolsFailStillAnswers(t *testing.T) {
	cat := &mockCatalog{searchErr: errors.New("index offline")}
	var steps []scriptedStep
	for range 5 {
		steps = append(steps, toolRequestStep("search_paints", map[string]any{"query": "azul"}))
	}
	model := &scriptedModel{steps: steps}
	agent := newTestAgent(model, cat, nil, Config{MaxIterations: 2})

	answer, err := agent.Run(context.Background(), &Turn{Message: "tinta azul"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Text == "" {
		t.Error("expected a non-empty best-effort answer")
	}
	if !answer.Degraded {
		t.Error("answer not marked degraded")
	}
}

func TestRunProviderFailureIsTurnError(t *testing.T) {
	model := &scriptedModel{steps: []scriptedStep{
		{err: errors.New("invalid api key")}, // non-retryable
	}}
	agent := newTestAgent(model, &mockCatalog{}, nil, Config{})

	_, err := agent.Run(context.Background(), &Turn{Message: "oi"})
	if err == nil {
		t.Fatal("expected provider failure to surface as an error")
	}
}

func TestRunTransientProviderErrorIsRetried(t *testing.T) {
	model := &scriptedModel{steps: []scriptedStep{
		{err: errors.New("503 service unavailable")},
		finalStep("tudo certo"),
	}}
	agent := newTestAgent(model, &mockCatalog{}, nil, Config{
		Retry: RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})

	answer, err := agent.Run(context.Background(), &Turn{Message: "oi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Text != "tudo certo" {
		t.Errorf("text = %q", answer.Text)
	}
	if len(model.requests) != 2 {
		t.Errorf("model calls = %d, want 2 (one retry)", len(model.requests))
	}
}

// hangingModel blocks until the call context expires, then answers
// normally on later calls.
type hangingModel struct {
	hangs int
	calls int
}

func (m *hangingModel) Generate(ctx context.Context, _ *genai.GenerateRequest) (*genai.GenerateResponse, error) {
	m.calls++
	if m.calls <= m.hangs {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &genai.GenerateResponse{Text: "demorou, mas foi"}, nil
}

func TestRunHungCallIsCutAndRetried(t *testing.T) {
	model := &hangingModel{hangs: 1}
	agent := newTestAgent(model, &mockCatalog{}, nil, Config{
		TurnBudget:  5 * time.Second,
		CallTimeout: 20 * time.Millisecond,
		Retry:       RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})

	start := time.Now()
	answer, err := agent.Run(context.Background(), &Turn{Message: "oi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Degraded {
		t.Error("retried call marked degraded")
	}
	if answer.Text != "demorou, mas foi" {
		t.Errorf("text = %q", answer.Text)
	}
	if model.calls != 2 {
		t.Errorf("model calls = %d, want 2 (hung attempt cut, then retried)", model.calls)
	}
	// The hung attempt must cost roughly one call timeout, not the turn.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("turn took %v despite the per-call cutoff", elapsed)
	}
}

func TestRunExhaustedBudgetDegradesNotErrors(t *testing.T) {
	model := &hangingModel{hangs: 100}
	agent := newTestAgent(model, &mockCatalog{}, nil, Config{
		TurnBudget:  50 * time.Millisecond,
		CallTimeout: 30 * time.Millisecond,
		Retry:       RetryConfig{MaxRetries: 5, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})

	answer, err := agent.Run(context.Background(), &Turn{Message: "oi"})
	if err != nil {
		t.Fatalf("budget exhaustion must degrade, not fail: %v", err)
	}
	if !answer.Degraded {
		t.Error("answer not marked degraded")
	}
	if answer.Text == "" {
		t.Error("degraded answer is empty")
	}
}

func TestRunSimulateProducesImage(t *testing.T) {
	sim := &mockSimulator{handle: "img-composite-1"}
	model := &scriptedModel{steps: []scriptedStep{
		toolRequestStep("simulate_paint", map[string]any{"description": "parede Azul Sereno fosco"}),
		finalStep("Aqui está a simulação!"),
	}}
	agent := newTestAgent(model, &mockCatalog{}, sim, Config{})

	answer, err := agent.Run(context.Background(), &Turn{
		Message:     "mostra essa cor na minha parede",
		ImageHandle: "img-base-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sim.calls != 1 {
		t.Errorf("simulator calls = %d, want 1", sim.calls)
	}
	if answer.ImageHandle != "img-composite-1" {
		t.Errorf("image handle = %q, want img-composite-1", answer.ImageHandle)
	}
}

func TestRunSimulateToolAbsentWithoutImage(t *testing.T) {
	sim := &mockSimulator{handle: "x"}
	model := &scriptedModel{steps: []scriptedStep{finalStep("ok")}}
	agent := newTestAgent(model, &mockCatalog{}, sim, Config{})

	if _, err := agent.Run(context.Background(), &Turn{Message: "oi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, def := range model.requests[0].Tools {
		if def.Name == "simulate_paint" {
			t.Error("simulate_paint offered without an attached image")
		}
	}
}

func TestRunSimulatorFailureStaysLocal(t *testing.T) {
	sim := &mockSimulator{err: errors.New("provider unavailable")}
	model := &scriptedModel{steps: []scriptedStep{
		toolRequestStep("simulate_paint", map[string]any{"description": "parede azul"}),
		finalStep("Não consegui gerar a simulação, mas a cor escolhida é ótima."),
	}}
	agent := newTestAgent(model, &mockCatalog{}, sim, Config{})

	answer, err := agent.Run(context.Background(), &Turn{
		Message:     "simula para mim",
		ImageHandle: "img-base-2",
	})
	if err != nil {
		t.Fatalf("simulation failure must not fail the turn: %v", err)
	}
	if answer.ImageHandle != "" {
		t.Errorf("image handle = %q, want empty", answer.ImageHandle)
	}
}
