package domain

import "context"

// Llm abstracts any chat/LLM provider that can stream its reply.
type Llm interface {
	// GenerateStream sends prompt after history and calls onDelta for every
	// text fragment in generation order. An error from onDelta aborts
	// generation and is returned.
	GenerateStream(ctx context.Context, history []ChatMessage, prompt string, onDelta func(string) error) error
}

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
