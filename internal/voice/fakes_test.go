package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// Advance moves time forward, firing due timers in order. Callbacks run on
// the caller's goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

type fakeRecognizer struct {
	mu        sync.Mutex
	supported bool
	starts    int
	aborts    int
	failNext  int
	lastOpts  Options
}

func (r *fakeRecognizer) Supported() bool { return r.supported }

func (r *fakeRecognizer) Start(o Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastOpts = o
	if r.failNext > 0 {
		r.failNext--
		return errors.New("recognition has already started")
	}
	r.starts++
	return nil
}

func (r *fakeRecognizer) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborts++
	return nil
}

func (r *fakeRecognizer) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.aborts
}

func (r *fakeRecognizer) failStarts(n int) {
	r.mu.Lock()
	r.failNext = n
	r.mu.Unlock()
}

type recordingObserver struct {
	mu       sync.Mutex
	accepted []Command
	rejected []Reason
	restarts []string
	faults   []ErrorKind
}

func (o *recordingObserver) CommandAccepted(c Command) {
	o.mu.Lock()
	o.accepted = append(o.accepted, c)
	o.mu.Unlock()
}

func (o *recordingObserver) CommandRejected(r Reason) {
	o.mu.Lock()
	o.rejected = append(o.rejected, r)
	o.mu.Unlock()
}

func (o *recordingObserver) RestartScheduled(c string) {
	o.mu.Lock()
	o.restarts = append(o.restarts, c)
	o.mu.Unlock()
}

func (o *recordingObserver) Fault(k ErrorKind) {
	o.mu.Lock()
	o.faults = append(o.faults, k)
	o.mu.Unlock()
}

type harness struct {
	t     *testing.T
	clock *fakeClock
	rec   *fakeRecognizer
	obs   *recordingObserver
	m     *Manager
	ctx   context.Context

	mu       sync.Mutex
	statuses []Status
}

func newHarness(t *testing.T, supported bool) *harness {
	t.Helper()
	h := &harness{t: t, clock: newFakeClock(), rec: &fakeRecognizer{supported: supported}, obs: &recordingObserver{}}
	ctx, cancel := context.WithCancel(context.Background())
	h.ctx = ctx
	h.m = NewManager(h.rec, DefaultConfig(),
		WithClock(h.clock),
		WithObserver(h.obs),
		WithSessionID("test"),
		WithStatusFunc(func(s Status) {
			h.mu.Lock()
			h.statuses = append(h.statuses, s)
			h.mu.Unlock()
		}))
	go h.m.Run(ctx)
	t.Cleanup(func() {
		cancel()
		h.m.Close()
	})
	return h
}

func (h *harness) sync() Status {
	h.t.Helper()
	s, err := h.m.Snapshot(h.ctx)
	if err != nil {
		h.t.Fatalf("snapshot: %v", err)
	}
	return s
}

// listen starts the session and walks it to Listening.
func (h *harness) listen() {
	h.t.Helper()
	if err := h.m.Start(h.ctx); err != nil {
		h.t.Fatalf("start: %v", err)
	}
	h.clock.Advance(h.m.cfg.StartDelay)
	h.m.Deliver(StartEvent{})
	if s := h.sync(); s.State != Listening {
		h.t.Fatalf("expected listening, got %s", s.State)
	}
}

func (h *harness) say(text string, conf float64) Decision {
	h.t.Helper()
	d, err := h.m.Say(h.ctx, text, conf)
	if err != nil {
		h.t.Fatalf("say: %v", err)
	}
	return d
}

func (h *harness) published() []Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Status(nil), h.statuses...)
}
