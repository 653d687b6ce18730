package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/satriahrh/cocoa-fruit/relay/domain"
)

const DefaultGeminiModel = "gemini-2.0-flash-001"

type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient builds a streaming Gemini client. An empty apiKey leaves
// credential discovery to the SDK (GOOGLE_API_KEY, Vertex AI settings).
func NewGeminiClient(ctx context.Context, apiKey, model string) (domain.Llm, error) {
	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (g *GeminiClient) GenerateStream(ctx context.Context, history []domain.ChatMessage, prompt string, onDelta func(string) error) error {
	contents := toContents(history)
	contents = append(contents, &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: prompt}},
	})

	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, nil) {
		if err != nil {
			return fmt.Errorf("generate content stream: %w", err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		if err := onDelta(text); err != nil {
			return err
		}
	}
	return nil
}

func toContents(history []domain.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, msg := range history {
		role := genai.RoleModel
		if msg.Role == domain.UserRole {
			role = genai.RoleUser
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	return contents
}
