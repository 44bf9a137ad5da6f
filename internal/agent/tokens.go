package agent

import (
	"slices"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
)

// TokenBudget bounds what one turn may put into model context.
type TokenBudget struct {
	MaxHistoryTokens int // conversation history
	MaxInputTokens   int // the user message itself
}

// DefaultTokenBudget returns conservative defaults.
func DefaultTokenBudget() TokenBudget {
	return TokenBudget{
		MaxHistoryTokens: 8000,
		MaxInputTokens:   2000,
	}
}

// estimateTokens gives a rough count: rune count divided by 2, which
// over-counts Latin text and under-counts nothing we care about.
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

func estimateMessagesTokens(msgs []*ai.Message) int {
	total := 0
	for _, msg := range msgs {
		for _, part := range msg.Content {
			total += estimateTokens(part.Text)
		}
	}
	return total
}

// truncateHistory drops the oldest messages until the remainder fits
// the budget, always keeping the newest ones.
func truncateHistory(msgs []*ai.Message, budget int) []*ai.Message {
	if len(msgs) == 0 || estimateMessagesTokens(msgs) <= budget {
		return msgs
	}

	remaining := budget
	kept := make([]*ai.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := estimateMessagesTokens([]*ai.Message{msgs[i]})
		if remaining < cost {
			break
		}
		kept = append(kept, msgs[i])
		remaining -= cost
	}
	slices.Reverse(kept)
	return kept
}

// truncateInput hard-caps the user message length by tokens, keeping
// the beginning (requests front-load the intent).
func truncateInput(text string, budget int) string {
	if estimateTokens(text) <= budget {
		return text
	}
	runes := []rune(text)
	return string(runes[:budget*2])
}
