// Package genai defines the capability boundary toward external AI
// providers: chat completion (with tool-call output), text embedding,
// and image editing.
//
// The interfaces here are consumed by intent classification, catalog
// retrieval, the recommendation agent and the simulation pipeline.
// Production implementations live in genkit.go (Genkit plugins) and
// stability.go (HTTP image editing); tests substitute in-memory fakes.
package genai

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/jsonschema-go/jsonschema"
)

// ToolDef declares a tool to the chat model: name, natural-language
// description and a JSON schema for its arguments. Execution stays on
// our side; the model only ever requests calls.
type ToolDef struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// GenerateRequest is a single chat-completion call.
type GenerateRequest struct {
	System   string
	Messages []*ai.Message

	// Tools, when non-empty, are offered to the model. Tool requests are
	// returned to the caller instead of being executed by the provider
	// integration.
	Tools []ToolDef
}

// GenerateResponse carries the model output: final text and/or requested
// tool calls, in the order the model emitted them.
type GenerateResponse struct {
	Text         string
	ToolRequests []*ai.ToolRequest
}

// ChatModel is the chat-completion capability.
type ChatModel interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// Embedder produces fixed-length vectors for text. The same embedder
// must be used at index time and query time; mixing models silently
// breaks similarity ranking.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ImageEditRequest asks the provider to repaint a region of the base
// image described by SelectPrompt (optionally constrained by Mask) with
// the content described by Prompt.
type ImageEditRequest struct {
	Image        []byte
	Mask         []byte // optional PNG mask; nil lets the provider locate the region
	Prompt       string
	SelectPrompt string
	OutputFormat string // "png" or "jpeg"; defaults to "png"
}

// ImageEditor is the image-generation capability.
type ImageEditor interface {
	Edit(ctx context.Context, req *ImageEditRequest) ([]byte, error)
}
