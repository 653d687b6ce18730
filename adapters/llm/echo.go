package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/satriahrh/cocoa-fruit/relay/domain"
)

// EchoLLM is a deterministic model for local runs and tests. It replies
// by restating the prompt, a few words per delta.
type EchoLLM struct {
	// WordsPerDelta controls how the reply is split. Zero means 3.
	WordsPerDelta int
	// Delay is slept between deltas to mimic generation latency.
	Delay time.Duration
}

func NewEchoLLM() *EchoLLM {
	return &EchoLLM{WordsPerDelta: 3}
}

func (m *EchoLLM) GenerateStream(ctx context.Context, history []domain.ChatMessage, prompt string, onDelta func(string) error) error {
	reply := fmt.Sprintf("I hear you. You said %q. Tell me a little more about that.", strings.TrimSpace(prompt))
	if turns := countUserTurns(history); turns > 0 {
		reply = fmt.Sprintf("Thanks, that is message %d. %s", turns+1, reply)
	}

	n := m.WordsPerDelta
	if n <= 0 {
		n = 3
	}
	words := strings.SplitAfter(reply, " ")
	for i := 0; i < len(words); i += n {
		end := min(i+n, len(words))
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onDelta(strings.Join(words[i:end], "")); err != nil {
			return err
		}
		if m.Delay > 0 && end < len(words) {
			select {
			case <-time.After(m.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func countUserTurns(history []domain.ChatMessage) int {
	n := 0
	for _, m := range history {
		if m.Role == domain.UserRole {
			n++
		}
	}
	return n
}
