package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/satriahrh/cocoa-fruit/relay/adapters/sse"
	"github.com/satriahrh/cocoa-fruit/relay/domain"
	"github.com/satriahrh/cocoa-fruit/relay/utils/log"
	"go.uber.org/zap"
)

const (
	DefaultMaxMessageLength = 5000
	DefaultFallbackText     = "I couldn't find a close match yet. Could you tell me a bit more about your organization and what you'd like to be recognized for?"

	msgClosedEarly = "Connection closed before the response completed"
	msgReadFailed  = "Failed to read response stream"

	readBufferSize = 4096
)

var (
	ErrInvalidInput         = errors.New("message must not be empty")
	ErrMessageTooLong       = errors.New("message is too long")
	ErrConversationComplete = errors.New("conversation is complete, restart to begin a new one")
	ErrSessionClosed        = errors.New("session is closed")
	ErrNotReady             = errors.New("session is not accepting input")
)

// UpdateKind names what changed in a session.
type UpdateKind string

const (
	UpdateState           UpdateKind = "state"
	UpdateMessage         UpdateKind = "message"
	UpdateProgress        UpdateKind = "progress"
	UpdateIntent          UpdateKind = "intent"
	UpdateMetadata        UpdateKind = "metadata"
	UpdateRecommendations UpdateKind = "recommendations"
	UpdateError           UpdateKind = "error"
	UpdateRestarted       UpdateKind = "restarted"
)

type Update struct {
	Kind     UpdateKind
	Snapshot domain.SessionSnapshot
}

// Observer is called with every change, in order, while the session lock
// is held. It must not call back into the session.
type Observer func(Update)

func DefaultStatusFormat(message string) string {
	return "_" + message + "_\n\n"
}

type sessionOptions struct {
	id              string
	idSource        func() string
	greeting        string
	pacing          PacingConfig
	route           domain.Route
	credential      string
	maxLength       int
	statusFormat    func(string) string
	fallback        string
	terminalIntents map[string]bool
	observer        Observer
}

type SessionOption func(*sessionOptions)

// WithSessionID fixes the id of the first conversation. Restarts draw a
// fresh id from the id source.
func WithSessionID(id string) SessionOption {
	return func(o *sessionOptions) { o.id = id }
}

func WithIDSource(f func() string) SessionOption {
	return func(o *sessionOptions) { o.idSource = f }
}

func WithGreeting(text string) SessionOption {
	return func(o *sessionOptions) { o.greeting = text }
}

func WithPacing(cfg PacingConfig) SessionOption {
	return func(o *sessionOptions) { o.pacing = cfg }
}

func WithRoute(r domain.Route) SessionOption {
	return func(o *sessionOptions) { o.route = r }
}

// WithCredential sets the bearer token sent with every turn.
func WithCredential(token string) SessionOption {
	return func(o *sessionOptions) { o.credential = token }
}

func WithMaxMessageLength(n int) SessionOption {
	return func(o *sessionOptions) { o.maxLength = n }
}

// WithStatusFormat controls how status notes are written into the reply.
// Returning "" hides the note.
func WithStatusFormat(f func(string) string) SessionOption {
	return func(o *sessionOptions) { o.statusFormat = f }
}

func WithFallbackText(text string) SessionOption {
	return func(o *sessionOptions) { o.fallback = text }
}

// WithTerminalIntents sets the intents after which delivered
// recommendations complete the conversation.
func WithTerminalIntents(intents ...string) SessionOption {
	return func(o *sessionOptions) {
		o.terminalIntents = make(map[string]bool, len(intents))
		for _, i := range intents {
			o.terminalIntents[i] = true
		}
	}
}

func WithObserver(f Observer) SessionOption {
	return func(o *sessionOptions) { o.observer = f }
}

// turn is one submission and the stream answering it.
type turn struct {
	gen    uint64
	index  int
	sched  *Scheduler
	cancel context.CancelFunc
	body   io.ReadCloser
	done   chan struct{}

	intent          string
	recommendations bool
}

// Session drives one conversation: it opens a stream per user turn,
// feeds it through a parser and paces the reply into the active
// assistant message.
type Session struct {
	streamer domain.TurnStreamer
	opts     sessionOptions

	mu         sync.Mutex
	id         string
	state      domain.State
	messages   []domain.Message
	progress   *domain.Progress
	intent     string
	metadata   *domain.Metadata
	errMsg     string
	generation uint64
	turn       *turn
	closed     bool
}

func NewSession(streamer domain.TurnStreamer, opts ...SessionOption) *Session {
	o := sessionOptions{
		idSource:        uuid.NewString,
		pacing:          DefaultPacing(),
		route:           domain.RouteChat,
		maxLength:       DefaultMaxMessageLength,
		statusFormat:    DefaultStatusFormat,
		fallback:        DefaultFallbackText,
		terminalIntents: map[string]bool{"recommendation": true},
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{streamer: streamer, opts: o}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = o.id
	if s.id == "" {
		s.id = o.idSource()
	}
	s.initLocked()
	return s
}

func (s *Session) initLocked() {
	s.setStateLocked(domain.StateInitializing)
	if s.opts.greeting != "" {
		s.messages = append(s.messages, domain.Message{
			ID:        uuid.NewString(),
			Role:      domain.AssistantRole,
			Content:   s.opts.greeting,
			CreatedAt: time.Now(),
		})
		s.notifyLocked(UpdateMessage)
	}
	s.setStateLocked(domain.StateAwaitingUserInput)
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Submit sends text as the next user turn. A turn still streaming is
// abandoned: its reply keeps whatever was already revealed.
func (s *Session) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrInvalidInput
	}
	if s.opts.maxLength > 0 && utf8.RuneCountInString(text) > s.opts.maxLength {
		return ErrMessageTooLong
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrSessionClosed
	case s.state == domain.StateComplete:
		return ErrConversationComplete
	case !s.state.AcceptsInput():
		return ErrNotReady
	}

	s.abandonLocked()
	now := time.Now()
	s.messages = append(s.messages,
		domain.Message{ID: uuid.NewString(), Role: domain.UserRole, Content: text, CreatedAt: now},
		domain.Message{ID: uuid.NewString(), Role: domain.AssistantRole, Streaming: true, CreatedAt: now},
	)
	s.errMsg = ""

	ctx = log.WithSessionID(ctx, s.id)
	ctx = log.WithRoute(ctx, string(s.opts.route))
	turnCtx, cancel := context.WithCancel(ctx)
	t := &turn{
		gen:    s.generation,
		index:  len(s.messages) - 1,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.sched = NewScheduler(s.opts.pacing, s.applyFunc(t))
	s.turn = t

	s.notifyLocked(UpdateMessage)
	s.setStateLocked(domain.StateStreamingResponse)

	req := domain.TurnRequest{
		Route:      s.opts.route,
		SessionID:  s.id,
		Message:    text,
		Credential: s.opts.credential,
	}
	go s.runTurn(turnCtx, t, req)
	return nil
}

// Restart discards the conversation and starts a new one under a new id.
func (s *Session) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	s.abandonLocked()
	s.messages = nil
	s.progress = nil
	s.intent = ""
	s.metadata = nil
	s.errMsg = ""
	s.id = s.opts.idSource()
	s.notifyLocked(UpdateRestarted)
	s.initLocked()
	return nil
}

// Close abandons any live turn. Later submissions fail with ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.abandonLocked()
}

// Wait blocks until the live turn, if any, has finished.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	t := s.turn
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abandonLocked invalidates the live turn. Everything the old turn does
// afterwards is discarded by the generation check.
func (s *Session) abandonLocked() {
	s.generation++
	t := s.turn
	if t == nil {
		return
	}
	s.turn = nil
	t.cancel()
	t.sched.Stop()
	if t.body != nil {
		_ = t.body.Close()
	}
	if t.index < len(s.messages) && s.messages[t.index].Streaming {
		s.messages[t.index].Streaming = false
		s.notifyLocked(UpdateMessage)
	}
}

// currentLocked reports whether t is still the live turn.
func (s *Session) currentLocked(t *turn) bool {
	return !s.closed && s.generation == t.gen && s.turn == t
}

func (s *Session) applyFunc(t *turn) func(string) {
	return func(delta string) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.currentLocked(t) {
			return
		}
		s.messages[t.index].Content += delta
		s.notifyLocked(UpdateMessage)
	}
}

func (s *Session) runTurn(ctx context.Context, t *turn, req domain.TurnRequest) {
	defer close(t.done)
	logger := log.WithCtx(ctx)
	logger.Debug("turn started")

	body := s.streamer.OpenTurn(ctx, req)
	s.mu.Lock()
	if !s.currentLocked(t) {
		s.mu.Unlock()
		_ = body.Close()
		return
	}
	t.body = body
	s.mu.Unlock()
	defer body.Close()

	parser := sse.NewParser()
	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			events, ferr := parser.Feed(buf[:n])
			for _, ev := range events {
				if s.handle(ctx, t, ev) {
					logger.Debug("turn finished", zap.String("terminal", string(ev.Type())),
						zap.Int("dropped_records", parser.Dropped()))
					return
				}
			}
			if ferr != nil {
				return
			}
		}
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			logger.Debug("turn abandoned")
			return
		}
		parser.End()
		msg := msgClosedEarly
		if !errors.Is(err, io.EOF) {
			msg = msgReadFailed
			logger.Warn("reading turn stream", zap.Error(err))
		}
		s.handle(ctx, t, domain.ErrorEvent{Message: msg})
		return
	}
}

// handle applies one event to the session and reports whether the turn
// is over.
func (s *Session) handle(ctx context.Context, t *turn, ev domain.Event) bool {
	switch e := ev.(type) {
	case domain.ChunkEvent:
		t.sched.Enqueue(e.Content)

	case domain.StatusEvent:
		if !s.update(t, func() {
			if e.Progress != nil {
				p := *e.Progress
				s.progress = &p
				s.notifyLocked(UpdateProgress)
			}
		}) {
			return true
		}
		if e.Message != "" {
			t.sched.Enqueue(s.opts.statusFormat(e.Message))
		}

	case domain.IntentEvent:
		if !s.update(t, func() {
			t.intent = e.Intent
			s.intent = e.Intent
			s.notifyLocked(UpdateIntent)
		}) {
			return true
		}

	case domain.MetadataEvent:
		if !s.update(t, func() {
			s.metadata = &domain.Metadata{Confidence: e.Confidence, Sources: e.Sources}
			s.notifyLocked(UpdateMetadata)
		}) {
			return true
		}

	case domain.RecommendationsEvent:
		if !s.update(t, func() {
			msg := &s.messages[t.index]
			msg.Recommendations = e.Recommendations
			msg.MatchCount = e.Count
			s.notifyLocked(UpdateRecommendations)
			if len(e.Recommendations) > 0 {
				t.recommendations = true
				s.setStateLocked(domain.StateRecommendationsReady)
			}
		}) {
			return true
		}
		if len(e.Recommendations) == 0 {
			t.sched.Enqueue(s.opts.fallback)
		}

	case domain.ErrorEvent:
		t.sched.Flush()
		s.update(t, func() {
			msg := &s.messages[t.index]
			if msg.Content == "" {
				msg.Content = e.Message
			} else {
				msg.Content += "\n\n" + e.Message
			}
			msg.Streaming = false
			s.errMsg = e.Message
			s.notifyLocked(UpdateError)
			s.setStateLocked(domain.StateErrored)
		})
		t.sched.Stop()
		log.WithCtx(ctx).Info("turn failed", zap.String("message", e.Message))
		return true

	case domain.DoneEvent:
		if err := t.sched.Wait(ctx); err != nil {
			return true
		}
		s.update(t, func() {
			s.messages[t.index].Streaming = false
			s.notifyLocked(UpdateMessage)
			if t.recommendations && (t.intent == "" || s.opts.terminalIntents[t.intent]) {
				s.setStateLocked(domain.StateComplete)
			} else {
				s.setStateLocked(domain.StateAwaitingUserInput)
			}
		})
		return true
	}
	return false
}

// update runs f under the lock if t is still live.
func (s *Session) update(t *turn, f func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(t) {
		return false
	}
	f()
	return true
}

func (s *Session) setStateLocked(st domain.State) {
	if s.state == st {
		return
	}
	s.state = st
	s.notifyLocked(UpdateState)
}

func (s *Session) notifyLocked(kind UpdateKind) {
	if s.opts.observer == nil {
		return
	}
	s.opts.observer(Update{Kind: kind, Snapshot: s.snapshotLocked()})
}

func (s *Session) snapshotLocked() domain.SessionSnapshot {
	snap := domain.SessionSnapshot{
		ID:       s.id,
		State:    s.state,
		Messages: make([]domain.Message, len(s.messages)),
		Intent:   s.intent,
		Error:    s.errMsg,
	}
	for i, m := range s.messages {
		snap.Messages[i] = m.Clone()
	}
	if s.progress != nil {
		p := *s.progress
		snap.Progress = &p
	}
	if s.metadata != nil {
		md := *s.metadata
		md.Sources = append([]any(nil), s.metadata.Sources...)
		snap.Metadata = &md
	}
	return snap
}
