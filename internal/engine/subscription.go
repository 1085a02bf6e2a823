package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"crypto_dashboard/internal/domain"
	"crypto_dashboard/internal/infra"
)

// State is the lifecycle state of a polling subscription.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateSuccess
	StateFailed
	StateGivenUp
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	case StateGivenUp:
		return "given_up"
	default:
		return "unknown"
	}
}

// ErrNotRunning is returned by Refresh on a subscription that was never started or was stopped.
var ErrNotRunning = errors.New("subscription is not running")

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. It exists so the state machine can be driven without real time.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// FetchFunc performs one attempt. It must honour ctx cancellation.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// SubscriptionConfig tunes polling and retry. Zero fields take defaults.
type SubscriptionConfig struct {
	PollInterval   time.Duration
	MaxRetries     int
	RequestTimeout time.Duration
	Backoff        func(attempt int) time.Duration
	Scheduler      Scheduler
	Metrics        *infra.Metrics
	Logger         *slog.Logger
}

// DefaultSubscriptionConfig polls every 60s and retries 3 times with capped exponential backoff.
func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		PollInterval:   60 * time.Second,
		MaxRetries:     3,
		RequestTimeout: 10 * time.Second,
		Backoff:        infra.CalculateBackoff,
		Scheduler:      realScheduler{},
	}
}

func (c SubscriptionConfig) withDefaults() SubscriptionConfig {
	def := DefaultSubscriptionConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.Backoff == nil {
		c.Backoff = def.Backoff
	}
	if c.Scheduler == nil {
		c.Scheduler = def.Scheduler
	}
	return c
}

// Update is delivered after every completed attempt that was not superseded.
type Update[T any] struct {
	Name    string
	State   State
	Value   T
	Err     error
	Attempt int
	NextIn  time.Duration // 0 when nothing is scheduled
}

// Status is a point-in-time view of a subscription. Attempt and RetryDelayMS are
// the retry bookkeeping: reset on success, bumped on every scheduled retry.
type Status struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	Attempt       int       `json:"attempt"`
	RetryDelayMS  int64     `json:"retry_delay_ms"`
	LastError     string    `json:"last_error,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at"`
}

// Subscription polls a fetch function with bounded retry.
//
// Idle -> Fetching -> Success | Failed. Failed refetches after a backoff delay while
// attempts remain, otherwise it becomes GivenUp and waits for Refresh. Success resets
// the attempt counter and schedules the next poll. Non-retriable errors give up at once.
//
// Each attempt is tagged with a generation. Refresh and Stop bump it, so a result
// from an older attempt is discarded instead of overwriting newer data.
type Subscription[T any] struct {
	name     string
	fetch    FetchFunc[T]
	onUpdate func(Update[T])
	cfg      SubscriptionConfig
	logger   *slog.Logger

	mu            sync.Mutex
	parent        context.Context
	running       bool
	state         State
	attempt       int
	delay         time.Duration
	gen           uint64
	timer         Timer
	cancel        context.CancelFunc
	lastErr       error
	lastSuccessAt time.Time
	wg            sync.WaitGroup
}

// NewSubscription creates a stopped subscription. onUpdate may be nil.
func NewSubscription[T any](name string, fetch FetchFunc[T], onUpdate func(Update[T]), cfg SubscriptionConfig) *Subscription[T] {
	cfg = cfg.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscription[T]{
		name:     name,
		fetch:    fetch,
		onUpdate: onUpdate,
		cfg:      cfg,
		logger:   logger.With("module", "subscription", "subscription", name),
	}
}

// Start schedules an immediate fetch. Calling Start on a running subscription is a no-op.
func (s *Subscription[T]) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.parent = ctx
	s.running = true
	s.state = StateIdle
	s.attempt = 0
	s.delay = 0
	s.gen++
	if m := s.cfg.Metrics; m != nil {
		m.IncrementSubscriptions()
	}
	s.scheduleLocked(0)
	s.logger.Info("Subscription started")
}

// Stop clears pending timers, cancels the in-flight attempt and waits for it to return.
func (s *Subscription[T]) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.gen++
	s.clearLocked()
	s.state = StateIdle
	if m := s.cfg.Metrics; m != nil {
		m.DecrementSubscriptions()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Subscription stopped")
}

// Refresh supersedes any in-flight attempt, resets the retry budget and fetches now.
// It is the only way out of GivenUp.
func (s *Subscription[T]) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRunning
	}
	s.gen++
	s.clearLocked()
	s.attempt = 0
	s.delay = 0
	s.state = StateIdle
	s.scheduleLocked(0)
	s.logger.Info("Manual refresh requested")
	return nil
}

// State returns the current state.
func (s *Subscription[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error of the most recent attempt, or nil after a success.
func (s *Subscription[T]) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Status returns a diagnostic snapshot.
func (s *Subscription[T]) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Name:          s.name,
		State:         s.state.String(),
		Attempt:       s.attempt,
		RetryDelayMS:  s.delay.Milliseconds(),
		LastSuccessAt: s.lastSuccessAt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// scheduleLocked replaces the pending timer. Caller holds mu.
func (s *Subscription[T]) scheduleLocked(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	gen := s.gen
	s.timer = s.cfg.Scheduler.AfterFunc(d, func() { s.run(gen) })
}

// clearLocked stops the pending timer and cancels the in-flight attempt. Caller holds mu.
func (s *Subscription[T]) clearLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Subscription[T]) run(gen uint64) {
	s.mu.Lock()
	if !s.running || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.state = StateFetching
	ctx, cancel := context.WithTimeout(s.parent, s.cfg.RequestTimeout)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()

	value, err := s.fetch(ctx)
	cancel()

	s.mu.Lock()
	if !s.running || gen != s.gen {
		s.mu.Unlock()
		if m := s.cfg.Metrics; m != nil {
			m.RecordStaleResult()
		}
		s.logger.Debug("Dropped superseded result", slog.Uint64("generation", gen))
		return
	}
	s.cancel = nil

	upd := Update[T]{Name: s.name}
	if err == nil {
		s.state = StateSuccess
		s.attempt = 0
		s.delay = 0
		s.lastErr = nil
		s.lastSuccessAt = time.Now()
		s.scheduleLocked(s.cfg.PollInterval)

		upd.State = StateSuccess
		upd.Value = value
		upd.NextIn = s.cfg.PollInterval
	} else {
		s.lastErr = err
		if m := s.cfg.Metrics; m != nil {
			m.RecordError()
		}

		if domain.IsFatal(err) || s.attempt >= s.cfg.MaxRetries {
			s.state = StateGivenUp
			s.delay = 0
			if m := s.cfg.Metrics; m != nil {
				m.RecordGivenUp()
			}
			s.logger.Error("Giving up until manual refresh",
				slog.Int("attempt", s.attempt),
				slog.Any("error", err),
			)
			upd.State = StateGivenUp
		} else {
			delay := s.cfg.Backoff(s.attempt)
			s.attempt++
			s.delay = delay
			s.state = StateFailed
			s.scheduleLocked(delay)
			if m := s.cfg.Metrics; m != nil {
				m.RecordRetry()
			}
			s.logger.Warn("Fetch failed, retry scheduled",
				slog.Int("attempt", s.attempt),
				slog.Duration("delay", delay),
				slog.Any("error", err),
			)
			upd.State = StateFailed
			upd.NextIn = delay
		}
		upd.Err = err
		upd.Attempt = s.attempt
	}
	s.mu.Unlock()

	if s.onUpdate != nil {
		s.onUpdate(upd)
	}
}
