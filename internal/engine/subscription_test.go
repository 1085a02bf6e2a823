package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crypto_dashboard/internal/domain"
	"crypto_dashboard/internal/infra"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

// fakeScheduler records timers and fires them on demand, synchronously.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimerHandle struct {
	s *fakeScheduler
	t *fakeTimer
}

func (h fakeTimerHandle) Stop() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	active := !h.t.stopped && !h.t.fired
	h.t.stopped = true
	return active
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return fakeTimerHandle{s: s, t: t}
}

func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fireNext runs the oldest pending timer and returns its delay.
func (s *fakeScheduler) fireNext(t *testing.T) time.Duration {
	t.Helper()
	p := s.pending()
	if len(p) == 0 {
		t.Fatal("no pending timer")
	}
	if len(p) > 1 {
		t.Fatalf("expected one pending timer, got %d", len(p))
	}
	s.mu.Lock()
	p[0].fired = true
	s.mu.Unlock()
	p[0].f()
	return p[0].d
}

// scriptedFetch returns results in order; the last one repeats.
type scriptedFetch struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (f *scriptedFetch) fetch(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	if err := f.results[i]; err != nil {
		return 0, err
	}
	return f.calls, nil
}

var errTransport = &domain.TransportError{StatusCode: 503, ProviderMessage: "unavailable"}

func newTestSubscription(fetch FetchFunc[int], sched *fakeScheduler, m *infra.Metrics) (*Subscription[int], *[]Update[int]) {
	var mu sync.Mutex
	updates := &[]Update[int]{}
	sub := NewSubscription("test", fetch, func(u Update[int]) {
		mu.Lock()
		*updates = append(*updates, u)
		mu.Unlock()
	}, SubscriptionConfig{
		Scheduler: sched,
		Metrics:   m,
	})
	return sub, updates
}

func TestSubscription_SuccessSchedulesPoll(t *testing.T) {
	sched := &fakeScheduler{}
	f := &scriptedFetch{results: []error{nil}}
	sub, updates := newTestSubscription(f.fetch, sched, nil)

	sub.Start(context.Background())
	defer sub.Stop()

	if d := sched.fireNext(t); d != 0 {
		t.Errorf("initial fetch should be immediate, got %v", d)
	}

	if sub.State() != StateSuccess {
		t.Errorf("expected success, got %v", sub.State())
	}
	if st := sub.Status(); st.State != "success" || st.LastSuccessAt.IsZero() || st.LastError != "" {
		t.Errorf("unexpected status: %+v", st)
	}

	p := sched.pending()
	if len(p) != 1 || p[0].d != 60*time.Second {
		t.Fatalf("expected a 60s poll timer, got %+v", p)
	}
	if len(*updates) != 1 || (*updates)[0].Value != 1 || (*updates)[0].NextIn != 60*time.Second {
		t.Errorf("unexpected updates: %+v", *updates)
	}
}

func TestSubscription_FailuresThenSuccessResetsAttempts(t *testing.T) {
	sched := &fakeScheduler{}
	f := &scriptedFetch{results: []error{errTransport, errTransport, errTransport, nil}}
	sub, _ := newTestSubscription(f.fetch, sched, nil)

	sub.Start(context.Background())
	defer sub.Stop()

	sched.fireNext(t) // initial attempt fails

	wantDelays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	for i, want := range wantDelays {
		st := sub.Status()
		if st.Attempt != i+1 || st.RetryDelayMS != want.Milliseconds() || st.State != "failed" {
			t.Fatalf("after failure %d: expected attempt %d delay %v, got %+v", i+1, i+1, want, st)
		}
		if got := sched.fireNext(t); got != want {
			t.Fatalf("expected retry after %v, got %v", want, got)
		}
	}

	if sub.State() != StateSuccess {
		t.Fatalf("expected success after retries, got %v", sub.State())
	}
	if st := sub.Status(); st.Attempt != 0 || st.RetryDelayMS != 0 {
		t.Errorf("retry state should reset, got %+v", st)
	}
	p := sched.pending()
	if len(p) != 1 || p[0].d != 60*time.Second {
		t.Errorf("expected standard 60s poll after recovery, got %+v", p)
	}
}

func TestSubscription_GivesUpAfterRetryBudget(t *testing.T) {
	sched := &fakeScheduler{}
	m := infra.NewMetrics()
	f := &scriptedFetch{results: []error{errTransport}}
	sub, updates := newTestSubscription(f.fetch, sched, m)

	sub.Start(context.Background())
	defer sub.Stop()

	delays := []time.Duration{sched.fireNext(t)}
	for i := 0; i < 3; i++ {
		delays = append(delays, sched.fireNext(t))
	}

	want := []time.Duration{0, 1 * time.Second, 2 * time.Second, 4 * time.Second}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("timer %d: expected %v, got %v", i, want[i], delays[i])
		}
	}

	if sub.State() != StateGivenUp {
		t.Fatalf("expected given up, got %v", sub.State())
	}
	if n := len(sched.pending()); n != 0 {
		t.Errorf("no further fetch should be scheduled, got %d timers", n)
	}
	if f.calls != 4 {
		t.Errorf("expected 4 attempts, got %d", f.calls)
	}

	last := (*updates)[len(*updates)-1]
	if last.State != StateGivenUp || !errors.Is(last.Err, errTransport) {
		t.Errorf("expected terminal update with last error, got %+v", last)
	}
	if !errors.Is(sub.LastError(), errTransport) {
		t.Errorf("expected last error to be surfaced, got %v", sub.LastError())
	}

	snap := m.Snapshot()
	if snap.RetriesScheduled != 3 || snap.GivenUpTotal != 1 || snap.FetchErrors != 4 {
		t.Errorf("unexpected metrics: %+v", snap)
	}
}

func TestSubscription_ConfigurationErrorGivesUpImmediately(t *testing.T) {
	sched := &fakeScheduler{}
	cfgErr := &domain.ConfigurationError{Field: "api_key", Err: domain.ErrMissingAPIKey}
	f := &scriptedFetch{results: []error{cfgErr}}
	sub, _ := newTestSubscription(f.fetch, sched, nil)

	sub.Start(context.Background())
	defer sub.Stop()

	sched.fireNext(t)

	if sub.State() != StateGivenUp {
		t.Fatalf("expected given up, got %v", sub.State())
	}
	if n := len(sched.pending()); n != 0 {
		t.Errorf("configuration errors must not be retried, got %d timers", n)
	}
	if f.calls != 1 {
		t.Errorf("expected a single attempt, got %d", f.calls)
	}
}

func TestSubscription_RefreshRestartsAfterGivenUp(t *testing.T) {
	sched := &fakeScheduler{}
	f := &scriptedFetch{results: []error{errTransport, errTransport, errTransport, errTransport, nil}}
	sub, _ := newTestSubscription(f.fetch, sched, nil)

	sub.Start(context.Background())
	defer sub.Stop()

	for i := 0; i < 4; i++ {
		sched.fireNext(t)
	}
	if sub.State() != StateGivenUp {
		t.Fatalf("expected given up, got %v", sub.State())
	}

	if err := sub.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if st := sub.Status(); st.Attempt != 0 {
		t.Errorf("refresh should reset attempts, got %d", st.Attempt)
	}
	if d := sched.fireNext(t); d != 0 {
		t.Errorf("refresh should fetch immediately, got %v", d)
	}
	if sub.State() != StateSuccess {
		t.Errorf("expected success after refresh, got %v", sub.State())
	}
}

func TestSubscription_RefreshClearsPendingRetry(t *testing.T) {
	sched := &fakeScheduler{}
	f := &scriptedFetch{results: []error{errTransport, nil}}
	sub, _ := newTestSubscription(f.fetch, sched, nil)

	sub.Start(context.Background())
	defer sub.Stop()

	sched.fireNext(t)
	if p := sched.pending(); len(p) != 1 || p[0].d != time.Second {
		t.Fatalf("expected pending 1s retry, got %+v", p)
	}

	if err := sub.Refresh(); err != nil {
		t.Fatal(err)
	}
	p := sched.pending()
	if len(p) != 1 || p[0].d != 0 {
		t.Fatalf("expected only the immediate refresh timer, got %+v", p)
	}
}

func TestSubscription_StaleResultIsDropped(t *testing.T) {
	sched := &fakeScheduler{}
	m := infra.NewMetrics()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	fetch := func(ctx context.Context) (int, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(started)
			<-release // ignores ctx to model a slow response landing late
			return 100, nil
		}
		return 200, nil
	}
	sub, updates := newTestSubscription(fetch, sched, m)

	sub.Start(context.Background())

	p := sched.pending()
	if len(p) != 1 {
		t.Fatalf("expected initial timer, got %d", len(p))
	}
	sched.mu.Lock()
	p[0].fired = true
	sched.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p[0].f()
	}()
	<-started

	if err := sub.Refresh(); err != nil {
		t.Fatal(err)
	}
	sched.fireNext(t)

	close(release)
	wg.Wait()

	if sub.State() != StateSuccess {
		t.Errorf("expected success from the newer attempt, got %v", sub.State())
	}
	if got := m.Snapshot().StaleResults; got != 1 {
		t.Errorf("expected 1 stale result, got %d", got)
	}
	if len(*updates) != 1 || (*updates)[0].Value != 200 {
		t.Errorf("stale result must not be delivered: %+v", *updates)
	}

	sub.Stop()
}

func TestSubscription_StopClearsTimers(t *testing.T) {
	sched := &fakeScheduler{}
	m := infra.NewMetrics()
	f := &scriptedFetch{results: []error{nil}}
	sub, _ := newTestSubscription(f.fetch, sched, m)

	sub.Start(context.Background())
	if m.Snapshot().ActiveSubscriptions != 1 {
		t.Error("expected active subscription gauge to be 1")
	}
	sched.fireNext(t)

	sub.Stop()

	if n := len(sched.pending()); n != 0 {
		t.Errorf("expected no pending timers after stop, got %d", n)
	}
	if sub.State() != StateIdle {
		t.Errorf("expected idle after stop, got %v", sub.State())
	}
	if err := sub.Refresh(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
	if m.Snapshot().ActiveSubscriptions != 0 {
		t.Error("expected active subscription gauge to be 0")
	}
}

func TestSubscription_RequestTimeoutApplied(t *testing.T) {
	sched := &fakeScheduler{}
	var deadline time.Time
	var hasDeadline bool
	fetch := func(ctx context.Context) (int, error) {
		deadline, hasDeadline = ctx.Deadline()
		return 1, nil
	}
	sub := NewSubscription("timeout", fetch, nil, SubscriptionConfig{
		Scheduler:      sched,
		RequestTimeout: 5 * time.Second,
	})
	sub.Start(context.Background())
	defer sub.Stop()

	before := time.Now()
	sched.fireNext(t)

	if !hasDeadline {
		t.Fatal("fetch context should carry a deadline")
	}
	if d := deadline.Sub(before); d > 5*time.Second || d < 4*time.Second {
		t.Errorf("unexpected deadline distance %v", d)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:     "idle",
		StateFetching: "fetching",
		StateSuccess:  "success",
		StateFailed:   "failed",
		StateGivenUp:  "given_up",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
