package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/satriahrh/cocoa-fruit/relay/domain"
	"github.com/satriahrh/cocoa-fruit/relay/utils/log"
	"go.uber.org/zap"
)

const (
	IntentQuestion       = "question"
	IntentRecommendation = "recommendation"

	msgGenerationFailed = "The assistant could not finish its reply. Please try again."
)

var recommendationCues = []string{"recommend", "category", "categories", "award", "nominate", "which program", "suggest"}

type ReplyConfig struct {
	// QuestionBudget is the number of turns after which recommendations
	// are produced regardless of what the user asked.
	QuestionBudget     int
	HistoryLimit       int
	MaxRecommendations int
	// MaxConversations bounds the sessions kept in memory. The least
	// recently used one is forgotten first.
	MaxConversations int
}

func DefaultReplyConfig() ReplyConfig {
	return ReplyConfig{
		QuestionBudget:     5,
		HistoryLimit:       20,
		MaxRecommendations: domain.DefaultTopRecommendations,
		MaxConversations:   1000,
	}
}

// ReplyTurn is one inbound request to the backend.
type ReplyTurn struct {
	Route     domain.Route
	SessionID string
	Message   string
}

type conversation struct {
	turns    int
	history  []domain.ChatMessage
	userText []string
}

// ReplyService answers turns with an event stream. It keeps a bounded
// in-memory history per session and never persists anything.
type ReplyService struct {
	llm     domain.Llm
	catalog []Category
	cfg     ReplyConfig

	mu            sync.Mutex
	conversations *lru.Cache[string, *conversation]
}

func NewReplyService(llm domain.Llm, catalog []Category, cfg ReplyConfig) *ReplyService {
	if cfg.QuestionBudget <= 0 {
		cfg.QuestionBudget = DefaultReplyConfig().QuestionBudget
	}
	if cfg.MaxConversations <= 0 {
		cfg.MaxConversations = DefaultReplyConfig().MaxConversations
	}
	// Only fails for a non-positive size.
	conversations, _ := lru.New[string, *conversation](cfg.MaxConversations)
	return &ReplyService{
		llm:           llm,
		catalog:       catalog,
		cfg:           cfg,
		conversations: conversations,
	}
}

// Reply streams the answer to turn through emit and always ends with a
// terminal event. The returned error is non-nil only when emit failed,
// which means the client is gone.
func (s *ReplyService) Reply(ctx context.Context, turn ReplyTurn, emit func(domain.Event) error) error {
	logger := log.WithCtx(ctx)

	if turn.Route == domain.RouteAsk {
		return s.answer(ctx, turn.Message, emit)
	}

	turnNo, history, userText := s.begin(turn)
	budget := s.cfg.QuestionBudget
	if err := emit(domain.StatusEvent{
		Message:  "Thinking…",
		Progress: &domain.Progress{Current: min(turnNo, budget), Total: budget},
	}); err != nil {
		return err
	}

	intent := classify(turn.Message, turnNo, budget)
	if err := emit(domain.IntentEvent{Intent: intent}); err != nil {
		return err
	}

	var reply strings.Builder
	err := s.llm.GenerateStream(ctx, history, turn.Message, func(delta string) error {
		reply.WriteString(delta)
		if err := emit(domain.ChunkEvent{Content: delta}); err != nil {
			return &emitError{err: err}
		}
		return nil
	})
	var emitErr *emitError
	if errors.As(err, &emitErr) {
		return emitErr.err
	}
	if err != nil {
		logger.Error("generating reply", zap.Error(err))
		return emitAll(emit, domain.ErrorEvent{Message: msgGenerationFailed}, domain.DoneEvent{})
	}

	var recs []domain.Recommendation
	if intent == IntentRecommendation {
		recs = Recommend(s.catalog, strings.Join(userText, " "), s.cfg.MaxRecommendations)
	}
	if err := emit(domain.MetadataEvent{Confidence: confidence(intent, recs), Sources: []any{"catalog"}}); err != nil {
		return err
	}
	if intent == IntentRecommendation {
		if err := emit(domain.RecommendationsEvent{Recommendations: recs, Count: len(recs)}); err != nil {
			return err
		}
	}

	s.finish(turn.SessionID, turn.Message, reply.String())
	logger.Debug("reply sent", zap.String("intent", intent), zap.Int("recommendations", len(recs)))
	return emit(domain.DoneEvent{})
}

// answer serves the stateless question route.
func (s *ReplyService) answer(ctx context.Context, question string, emit func(domain.Event) error) error {
	err := s.llm.GenerateStream(ctx, nil, question, func(delta string) error {
		if err := emit(domain.ChunkEvent{Content: delta}); err != nil {
			return &emitError{err: err}
		}
		return nil
	})
	var emitErr *emitError
	if errors.As(err, &emitErr) {
		return emitErr.err
	}
	if err != nil {
		log.WithCtx(ctx).Error("answering question", zap.Error(err))
		return emitAll(emit, domain.ErrorEvent{Message: msgGenerationFailed}, domain.DoneEvent{})
	}
	return emit(domain.DoneEvent{})
}

func (s *ReplyService) begin(turn ReplyTurn) (int, []domain.ChatMessage, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations.Get(turn.SessionID)
	if !ok {
		c = &conversation{}
		s.conversations.Add(turn.SessionID, c)
	}
	c.turns++
	c.userText = append(c.userText, turn.Message)
	return c.turns, append([]domain.ChatMessage(nil), c.history...), append([]string(nil), c.userText...)
}

func (s *ReplyService) finish(sessionID, question, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations.Peek(sessionID)
	if !ok {
		return
	}
	c.history = append(c.history,
		domain.ChatMessage{Role: domain.UserRole, Content: question},
		domain.ChatMessage{Role: domain.AssistantRole, Content: reply},
	)
	if limit := s.cfg.HistoryLimit; limit > 0 && len(c.history) > limit {
		c.history = c.history[len(c.history)-limit:]
	}
}

func classify(message string, turnNo, budget int) string {
	if turnNo >= budget {
		return IntentRecommendation
	}
	lower := strings.ToLower(message)
	for _, cue := range recommendationCues {
		if strings.Contains(lower, cue) {
			return IntentRecommendation
		}
	}
	return IntentQuestion
}

func confidence(intent string, recs []domain.Recommendation) string {
	if intent != IntentRecommendation {
		return "medium"
	}
	switch {
	case len(recs) == 0:
		return "low"
	case recs[0].SimilarityScore >= 0.75:
		return "high"
	default:
		return "medium"
	}
}

// emitError marks a failure of the client side so it is not reported
// back to the client as a generation error.
type emitError struct{ err error }

func (e *emitError) Error() string { return e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

func emitAll(emit func(domain.Event) error, events ...domain.Event) error {
	for _, ev := range events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}
