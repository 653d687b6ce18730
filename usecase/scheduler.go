package usecase

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// PacingConfig controls how fast streamed text is revealed.
type PacingConfig struct {
	// CharDelay is the pause between batches. Zero disables animation.
	CharDelay time.Duration
	// BatchSize is the number of runes revealed per step.
	BatchSize int
	// MinAnimatedLength is the shortest delta that is animated; shorter
	// deltas are applied whole.
	MinAnimatedLength int
	// Adaptive shortens the delay for deltas longer than AdaptiveThreshold
	// so a large burst does not fall far behind the stream.
	Adaptive          bool
	AdaptiveThreshold int
	MinDelay          time.Duration
}

func DefaultPacing() PacingConfig {
	return PacingConfig{
		CharDelay:         15 * time.Millisecond,
		BatchSize:         1,
		MinAnimatedLength: 3,
		Adaptive:          true,
		AdaptiveThreshold: 40,
		MinDelay:          time.Millisecond,
	}
}

// NoPacing applies every delta as soon as it is enqueued.
func NoPacing() PacingConfig {
	return PacingConfig{BatchSize: 1}
}

func (c PacingConfig) delayFor(runes int) time.Duration {
	d := c.CharDelay
	if c.Adaptive && c.AdaptiveThreshold > 0 && runes > c.AdaptiveThreshold {
		d = d * time.Duration(c.AdaptiveThreshold) / time.Duration(runes)
		if d < c.MinDelay {
			d = c.MinDelay
		}
	}
	return d
}

func (c PacingConfig) animated(runes int) bool {
	return c.CharDelay > 0 && runes >= c.MinAnimatedLength
}

type SchedulerState int

const (
	SchedulerIdle SchedulerState = iota
	SchedulerDraining
)

func (s SchedulerState) String() string {
	if s == SchedulerDraining {
		return "draining"
	}
	return "idle"
}

type pendingDelta struct {
	runes []rune
	delay time.Duration
	whole bool
}

// Scheduler reveals the text of one message at a paced rate. Deltas are
// applied in enqueue order and a drained scheduler has applied exactly
// the concatenation of everything enqueued. Enqueue and Flush are meant
// to be called from a single producer goroutine.
//
// The queue is unbounded.
type Scheduler struct {
	cfg   PacingConfig
	apply func(string)

	// applyMu serialises calls to apply. It is never held together with a
	// lock the caller might hold while calling into the scheduler.
	applyMu sync.Mutex

	mu      sync.Mutex
	pending []pendingDelta
	state   SchedulerState
	stopped bool
	drained chan struct{}
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(cfg PacingConfig, apply func(string)) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    cfg,
		apply:  apply,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue schedules delta for display. Short deltas reach apply before
// Enqueue returns when nothing is queued ahead of them.
func (s *Scheduler) Enqueue(delta string) {
	if delta == "" {
		return
	}
	n := utf8.RuneCountInString(delta)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if !s.cfg.animated(n) && s.state == SchedulerIdle {
		s.mu.Unlock()
		s.applyMu.Lock()
		defer s.applyMu.Unlock()
		if s.isStopped() {
			return
		}
		s.apply(delta)
		return
	}

	s.pending = append(s.pending, pendingDelta{
		runes: []rune(delta),
		delay: s.cfg.delayFor(n),
		whole: !s.cfg.animated(n),
	})
	if s.state == SchedulerIdle {
		s.state = SchedulerDraining
		s.drained = make(chan struct{})
		go s.pump()
	}
	s.mu.Unlock()
}

// Flush applies everything still queued at once.
func (s *Scheduler) Flush() {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	if s.stopped || len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	var sb strings.Builder
	for _, p := range s.pending {
		sb.WriteString(string(p.runes))
	}
	s.pending = nil
	s.mu.Unlock()

	s.apply(sb.String())
	s.nudge()
}

// Stop abandons the queue. Pending deltas are dropped and no new batch
// is started; an apply already in progress is not waited for.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.pending = nil
	s.mu.Unlock()
	s.cancel()
}

// Wait blocks until the queue has drained or the scheduler was stopped.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.state == SchedulerIdle {
		s.mu.Unlock()
		return nil
	}
	drained := s.drained
	s.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump is the only goroutine that drains pending. Exactly one runs while
// the state is SchedulerDraining.
func (s *Scheduler) pump() {
	for {
		s.applyMu.Lock()
		s.mu.Lock()
		if s.stopped || len(s.pending) == 0 {
			s.pending = nil
			s.state = SchedulerIdle
			close(s.drained)
			s.mu.Unlock()
			s.applyMu.Unlock()
			return
		}
		batch, delay := s.nextBatch()
		more := len(s.pending) > 0
		s.mu.Unlock()

		s.apply(batch)
		s.applyMu.Unlock()

		if more && delay > 0 {
			s.sleep(delay)
		}
	}
}

// nextBatch pops the next piece of text. Callers hold mu.
func (s *Scheduler) nextBatch() (string, time.Duration) {
	head := &s.pending[0]
	if head.whole || len(head.runes) <= s.cfg.BatchSize {
		batch := string(head.runes)
		delay := head.delay
		if head.whole {
			delay = 0
		}
		s.pending = s.pending[1:]
		return batch, delay
	}
	batch := string(head.runes[:s.cfg.BatchSize])
	head.runes = head.runes[s.cfg.BatchSize:]
	return batch, head.delay
}

func (s *Scheduler) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.wake:
	case <-s.ctx.Done():
	}
}
