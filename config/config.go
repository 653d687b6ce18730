package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/satriahrh/cocoa-fruit/relay/usecase"
)

// Pacing mirrors usecase.PacingConfig so the typing effect can be tuned
// per deployment.
type Pacing struct {
	CharDelay         time.Duration `env:"PACING_CHAR_DELAY" envDefault:"15ms"`
	BatchSize         int           `env:"PACING_BATCH_SIZE" envDefault:"1"`
	MinAnimatedLength int           `env:"PACING_MIN_ANIMATED_LENGTH" envDefault:"3"`
	Adaptive          bool          `env:"PACING_ADAPTIVE" envDefault:"true"`
	AdaptiveThreshold int           `env:"PACING_ADAPTIVE_THRESHOLD" envDefault:"40"`
	MinDelay          time.Duration `env:"PACING_MIN_DELAY" envDefault:"1ms"`
}

func (p Pacing) Config() usecase.PacingConfig {
	batch := p.BatchSize
	if batch < 1 {
		batch = 1
	}
	return usecase.PacingConfig{
		CharDelay:         p.CharDelay,
		BatchSize:         batch,
		MinAnimatedLength: p.MinAnimatedLength,
		Adaptive:          p.Adaptive,
		AdaptiveThreshold: p.AdaptiveThreshold,
		MinDelay:          p.MinDelay,
	}
}

// Relay configures the forwarding service and its websocket bridge.
type Relay struct {
	Addr             string        `env:"RELAY_ADDR" envDefault:":8080"`
	UpstreamAPIURL   string        `env:"UPSTREAM_API_URL"`
	JWTSecret        string        `env:"JWT_SECRET"`
	MaxStreams       int           `env:"MAX_CONCURRENT_STREAMS" envDefault:"100"`
	RateLimit        float64       `env:"RATE_LIMIT" envDefault:"20"`
	BodyLimit        string        `env:"BODY_LIMIT" envDefault:"1MB"`
	AllowOrigins     []string      `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`
	UpstreamTimeout  time.Duration `env:"UPSTREAM_HEADER_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	Greeting         string        `env:"CHAT_GREETING"`
	MaxMessageLength int           `env:"MAX_MESSAGE_LENGTH" envDefault:"5000"`
	Pacing           Pacing
}

// Backend configures the conversational backend that produces event streams.
type Backend struct {
	Addr               string        `env:"BACKEND_ADDR" envDefault:":8090"`
	JWTSecret          string        `env:"JWT_SECRET"`
	DevAPIKey          string        `env:"DEV_API_KEY"`
	DevAPISecret       string        `env:"DEV_API_SECRET"`
	LLMProvider        string        `env:"LLM_PROVIDER" envDefault:"echo"`
	GeminiAPIKey       string        `env:"GEMINI_API_KEY"`
	GeminiModel        string        `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash-001"`
	QuestionBudget     int           `env:"QUESTION_BUDGET" envDefault:"5"`
	HistoryLimit       int           `env:"HISTORY_LIMIT" envDefault:"20"`
	MaxRecommendations int           `env:"MAX_RECOMMENDATIONS" envDefault:"10"`
	MaxConversations   int           `env:"MAX_CONVERSATIONS" envDefault:"1000"`
	EchoDelay          time.Duration `env:"ECHO_DELAY" envDefault:"40ms"`
	RateLimit          float64       `env:"RATE_LIMIT" envDefault:"20"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func (b *Backend) Reply() usecase.ReplyConfig {
	cfg := usecase.DefaultReplyConfig()
	if b.QuestionBudget > 0 {
		cfg.QuestionBudget = b.QuestionBudget
	}
	if b.HistoryLimit > 0 {
		cfg.HistoryLimit = b.HistoryLimit
	}
	if b.MaxRecommendations > 0 {
		cfg.MaxRecommendations = b.MaxRecommendations
	}
	if b.MaxConversations > 0 {
		cfg.MaxConversations = b.MaxConversations
	}
	return cfg
}

func LoadRelay() (*Relay, error) {
	cfg := &Relay{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse relay config: %w", err)
	}
	if cfg.MaxStreams < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_STREAMS must be positive, got %d", cfg.MaxStreams)
	}
	return cfg, nil
}

func LoadBackend() (*Backend, error) {
	cfg := &Backend{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse backend config: %w", err)
	}
	switch cfg.LLMProvider {
	case "echo":
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
	return cfg, nil
}
