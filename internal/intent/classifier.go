// Package intent gates incoming messages before the expensive
// retrieval+agent path: greetings and off-topic chatter get canned
// replies, everything else flows on. This is a cost and latency
// control, not a correctness requirement, so classification fails open.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/matiz0/matiz/internal/genai"
)

// Category is the classified intent of a message.
type Category string

const (
	// CategoryPaintQuestion routes to the full agent.
	CategoryPaintQuestion Category = "paint_question"

	// CategoryGreeting short-circuits to a canned greeting.
	CategoryGreeting Category = "simple_greeting"

	// CategoryOffTopic short-circuits to a polite redirect.
	CategoryOffTopic Category = "off_topic"
)

// Classification is one classified message.
type Classification struct {
	Category      Category `json:"category"`
	Confidence    float64  `json:"confidence"`
	Justification string   `json:"justification"`
}

// greetingReplies rotate so repeat visitors don't see a frozen bot.
var greetingReplies = []string{
	"Olá! Sou seu especialista em tintas. Como posso ajudá-lo(a) a encontrar a tinta perfeita hoje?",
	"Oi! Estou aqui para ajudar com qualquer dúvida sobre tintas e cores. O que você gostaria de saber?",
	"Bom dia! Sou especialista em recomendações de tintas. Como posso auxiliá-lo(a) com seu projeto hoje?",
	"Olá! Pronto(a) para encontrar a tinta perfeita para o seu espaço? Pergunte sobre cores, acabamentos ou aplicações!",
}

const offTopicReply = "Sou um assistente especializado apenas em tintas e cores. " +
	"Posso ajudá-lo(a) a escolher a tinta ideal para o seu projeto, com informações sobre cores, " +
	"acabamentos e aplicações. Como posso auxiliá-lo(a) com tintas hoje?"

const classifyPrompt = `Classifique a mensagem do usuário de um assistente de recomendação de tintas em UMA das categorias:

- "paint_question": qualquer pergunta sobre tintas, cores, acabamentos, preços, superfícies, simulações de pintura, onde comprar, e também respostas curtas de continuação ("sim", "a primeira", "tem em verde?", "obrigado", "tchau").
- "simple_greeting": apenas cumprimentos simples sem pergunta ("oi", "olá", "bom dia", "tudo bem?").
- "off_topic": qualquer outro assunto sem relação com tintas.

Considere a mensagem anterior do assistente (se houver) para entender continuações.

Mensagem anterior do assistente: %q
Mensagem do usuário: %q

Responda SOMENTE com JSON neste formato:
{"category": "...", "confidence": 0.0, "justification": "..."}`

// Classifier classifies messages with a single structured-output model
// call. No conversation history is needed beyond the previous reply.
type Classifier struct {
	model  genai.ChatModel
	logger *slog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(model genai.ChatModel, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{model: model, logger: logger}
}

// Classify categorizes one message. previousReply is the assistant's
// last answer, empty on a fresh conversation. A failed or unparseable
// classification defaults to paint_question: dropping a real question
// costs more than one wasted agent run.
func (c *Classifier) Classify(ctx context.Context, message, previousReply string) Classification {
	prompt := fmt.Sprintf(classifyPrompt, previousReply, message)

	resp, err := c.model.Generate(ctx, &genai.GenerateRequest{
		Messages: []*ai.Message{ai.NewUserMessage(ai.NewTextPart(prompt))},
	})
	if err != nil {
		c.logger.Warn("intent classification failed, failing open", "error", err)
		return failOpen("classification call failed")
	}

	parsed, ok := parseClassification(resp.Text)
	if !ok {
		c.logger.Warn("unparseable intent classification, failing open", "raw", resp.Text)
		return failOpen("unparseable classification output")
	}

	c.logger.Debug("classified intent",
		"category", parsed.Category,
		"confidence", parsed.Confidence)
	return parsed
}

// GreetingReply returns one of the canned greetings.
func (c *Classifier) GreetingReply() string {
	return greetingReplies[rand.IntN(len(greetingReplies))]
}

// OffTopicReply returns the canned redirect for off-topic messages.
func (c *Classifier) OffTopicReply() string {
	return offTopicReply
}

func failOpen(reason string) Classification {
	return Classification{
		Category:      CategoryPaintQuestion,
		Confidence:    0,
		Justification: reason,
	}
}

// parseClassification extracts the JSON object from the model output,
// tolerating surrounding prose and code fences.
func parseClassification(text string) (Classification, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return Classification{}, false
	}

	var parsed Classification
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return Classification{}, false
	}

	switch parsed.Category {
	case CategoryPaintQuestion, CategoryGreeting, CategoryOffTopic:
		return parsed, true
	default:
		return Classification{}, false
	}
}
