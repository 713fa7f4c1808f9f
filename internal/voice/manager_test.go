package voice

import (
	"errors"
	"testing"
	"time"
)

func TestForwardAcceptedThenAutoCleared(t *testing.T) {
	h := newHarness(t, true)
	h.listen()

	h.m.Deliver(ResultEvent{Results: []Segment{{Transcript: "please go forward now", Confidence: 0.9, Final: true}}})
	s := h.sync()
	if c, ok := s.Commands.Active(); !ok || c != Forward {
		t.Fatalf("expected forward, got %s", s.Commands)
	}
	if s.Transcript != "Command: forward" {
		t.Fatalf("expected acknowledgment, got %q", s.Transcript)
	}
	if s.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", s.Confidence)
	}

	h.clock.Advance(999 * time.Millisecond)
	if s := h.sync(); !s.Commands.Has(Forward) {
		t.Fatalf("cleared too early")
	}
	h.clock.Advance(time.Millisecond)
	s = h.sync()
	if s.Commands.Any() {
		t.Fatalf("expected all-false after auto-clear, got %s", s.Commands)
	}
	if s.Transcript != msgListening {
		t.Fatalf("expected listening transcript, got %q", s.Transcript)
	}
	for _, st := range h.published() {
		if st.Commands.Count() > 1 {
			t.Fatalf("more than one active command: %s", st.Commands)
		}
	}
}

func TestDebounceKeepsFirstCommand(t *testing.T) {
	h := newHarness(t, true)
	h.listen()

	if d := h.say("turn left", 0.9); !d.Accepted() {
		t.Fatalf("left rejected: %s", d.Reason)
	}
	h.clock.Advance(300 * time.Millisecond)
	if d := h.say("turn right", 0.9); d.Reason != Debounced {
		t.Fatalf("expected debounce, got %s", d.Reason)
	}
	if s := h.sync(); !s.Commands.Has(Left) {
		t.Fatalf("expected left to stay active, got %s", s.Commands)
	}
	h.clock.Advance(700 * time.Millisecond)
	if s := h.sync(); s.Commands.Any() {
		t.Fatalf("expected left's own auto-clear, got %s", s.Commands)
	}
}

func TestNoMatchLeavesSetUnchanged(t *testing.T) {
	h := newHarness(t, true)
	h.listen()
	before := h.sync()
	d := h.say("whatever", 0.9)
	if d.Reason != NoMatch {
		t.Fatalf("expected no match, got %s", d.Reason)
	}
	if after := h.sync(); after.Commands != before.Commands || after.Transcript != before.Transcript {
		t.Fatalf("state changed on no-match")
	}
}

func TestStopBypassesConfidenceGate(t *testing.T) {
	h := newHarness(t, true)
	h.listen()
	if d := h.say("forward", 0.1); d.Accepted() {
		t.Fatalf("low confidence forward accepted")
	}
	if d := h.say("stop", 0.1); !d.Accepted() || d.Command != Stop {
		t.Fatalf("expected stop, got %+v", d)
	}
	if s := h.sync(); !s.Commands.Has(Stop) {
		t.Fatalf("expected stop active")
	}
}

func TestInterimTextIsNeverClassified(t *testing.T) {
	h := newHarness(t, true)
	h.listen()
	h.m.Deliver(ResultEvent{Results: []Segment{{Transcript: "turn left", Confidence: 0.9, Final: false}}})
	s := h.sync()
	if s.Commands.Any() {
		t.Fatalf("interim text produced a command")
	}
	if s.Transcript != "turn left" {
		t.Fatalf("expected interim transcript, got %q", s.Transcript)
	}
	// only segments from the result index onward are new
	h.m.Deliver(ResultEvent{Index: 1, Results: []Segment{
		{Transcript: "go", Confidence: 0.9, Final: true},
		{Transcript: "turn right", Confidence: 0.8, Final: true},
	}})
	if s := h.sync(); !s.Commands.Has(Right) {
		t.Fatalf("expected right, got %s", s.Commands)
	}
}

func TestStartOptionsAndUnsupported(t *testing.T) {
	h := newHarness(t, true)
	h.listen()
	h.rec.mu.Lock()
	o := h.rec.lastOpts
	h.rec.mu.Unlock()
	if !o.Continuous || !o.InterimResults || o.Lang != "en-US" || o.MaxAlternatives != 1 {
		t.Fatalf("unexpected options %+v", o)
	}
	// already listening: no second engine start
	if err := h.m.Start(h.ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.clock.Advance(time.Second)
	if starts, _ := h.rec.counts(); starts != 1 {
		t.Fatalf("expected one start, got %d", starts)
	}

	u := newHarness(t, false)
	if err := u.m.Start(u.ctx); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if err := u.m.Start(u.ctx); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	s := u.sync()
	if s.Supported || s.Fault != msgUnsupported || s.State != Idle {
		t.Fatalf("unexpected unsupported status %+v", s)
	}
	if len(u.obs.faults) != 1 {
		t.Fatalf("unsupported should be surfaced once, got %d", len(u.obs.faults))
	}
	// classification still works for typed or relayed input
	if d := u.say("left", 1); !d.Accepted() {
		t.Fatalf("say on unsupported session rejected: %s", d.Reason)
	}
}

func TestEndRestartsAfterBackoff(t *testing.T) {
	h := newHarness(t, true)
	h.listen()
	h.m.Deliver(EndEvent{})
	if s := h.sync(); s.State != Restarting || s.Listening {
		t.Fatalf("expected restarting, got %s", s.State)
	}
	h.clock.Advance(1499 * time.Millisecond)
	if starts, _ := h.rec.counts(); starts != 1 {
		t.Fatalf("restarted early")
	}
	h.clock.Advance(time.Millisecond)
	if s := h.sync(); s.State != Starting {
		t.Fatalf("expected starting, got %s", s.State)
	}
	if starts, _ := h.rec.counts(); starts != 2 {
		t.Fatalf("expected restart, got %d starts", starts)
	}
	h.m.Deliver(StartEvent{})
	if s := h.sync(); s.State != Listening {
		t.Fatalf("expected listening, got %s", s.State)
	}
}

func TestFailedRestartRetriesOnceThenGivesUp(t *testing.T) {
	h := newHarness(t, true)
	h.listen()
	h.rec.failStarts(2)
	h.m.Deliver(EndEvent{})
	h.sync()
	h.clock.Advance(1500 * time.Millisecond)
	if s := h.sync(); s.State != Restarting {
		t.Fatalf("expected retry pending, got %s", s.State)
	}
	h.clock.Advance(3000 * time.Millisecond)
	s := h.sync()
	if s.State != Stopped || s.Fault != msgStopped || s.Transcript != msgStopped {
		t.Fatalf("expected terminal stop, got %+v", s)
	}
	// nothing resurrects it
	h.m.Deliver(EndEvent{})
	h.clock.Advance(10 * time.Second)
	if s := h.sync(); s.State != Stopped {
		t.Fatalf("session resurrected: %s", s.State)
	}
	if starts, _ := h.rec.counts(); starts != 1 {
		t.Fatalf("expected no successful restart, got %d", starts)
	}
}

func TestRetryRecoversOnSecondAttempt(t *testing.T) {
	h := newHarness(t, true)
	h.listen()
	h.rec.failStarts(1)
	h.m.Deliver(EndEvent{})
	h.sync()
	h.clock.Advance(1500 * time.Millisecond)
	h.sync()
	h.clock.Advance(3000 * time.Millisecond)
	if s := h.sync(); s.State != Starting {
		t.Fatalf("expected starting after retry, got %s", s.State)
	}
	h.m.Deliver(StartEvent{})
	if s := h.sync(); s.State != Listening {
		t.Fatalf("expected listening, got %s", s.State)
	}
}

func TestStopCancelsScheduledRestart(t *testing.T) {
	h := newHarness(t, true)
	h.listen()
	h.m.Deliver(EndEvent{})
	if s := h.sync(); s.State != Restarting {
		t.Fatalf("expected restarting, got %s", s.State)
	}
	if err := h.m.Stop(h.ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	h.clock.Advance(10 * time.Second)
	s := h.sync()
	if s.State != Stopped || s.Listening {
		t.Fatalf("expected stopped, got %s", s.State)
	}
	if starts, aborts := h.rec.counts(); starts != 1 || aborts != 1 {
		t.Fatalf("expected 1 start and 1 abort, got %d/%d", starts, aborts)
	}
	// stop is idempotent
	if err := h.m.Stop(h.ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, aborts := h.rec.counts(); aborts != 1 {
		t.Fatalf("second stop aborted again")
	}
}

func TestStopIgnoresTrailingAbortEvents(t *testing.T) {
	h := newHarness(t, true)
	h.listen()
	h.say("left", 0.9)
	if err := h.m.Stop(h.ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	h.m.Deliver(ErrorEvent{Code: "aborted"})
	h.m.Deliver(EndEvent{})
	h.clock.Advance(5 * time.Second)
	s := h.sync()
	if s.State != Stopped || s.Commands.Any() || s.Transcript != "" || s.Confidence != 0 {
		t.Fatalf("unexpected status after stop %+v", s)
	}
	if starts, _ := h.rec.counts(); starts != 1 {
		t.Fatalf("stopped session restarted")
	}
}

func TestNoSpeechRestartsQuickly(t *testing.T) {
	h := newHarness(t, true)
	h.listen()
	h.m.Deliver(ErrorEvent{Code: "no-speech"})
	h.m.Deliver(EndEvent{})
	h.sync()
	h.clock.Advance(100 * time.Millisecond)
	h.sync()
	if starts, _ := h.rec.counts(); starts != 2 {
		t.Fatalf("expected restart after no-speech, got %d starts", starts)
	}
	h.clock.Advance(5 * time.Second)
	h.sync()
	if starts, _ := h.rec.counts(); starts != 2 {
		t.Fatalf("end after no-speech scheduled a second restart")
	}
}

func TestSayOutsideSessionClearsTranscript(t *testing.T) {
	h := newHarness(t, true)
	if d := h.say("turn left", 1); !d.Accepted() {
		t.Fatalf("expected accepted, got %s", d.Reason)
	}
	if s := h.sync(); s.Transcript != "Command: left" || !s.Commands.Has(Left) {
		t.Fatalf("unexpected status after say %+v", s)
	}
	h.clock.Advance(time.Second)
	s := h.sync()
	if s.Commands.Any() || s.Transcript != "" {
		t.Fatalf("expected cleared status, got commands=%s transcript=%q", s.Commands, s.Transcript)
	}
	if s.State != Idle {
		t.Fatalf("say should not start a session, state %s", s.State)
	}
}

func TestTerminalErrors(t *testing.T) {
	cases := map[string]string{
		"not-allowed":   msgPermission,
		"audio-capture": msgDevice,
		"network":       msgNetwork,
	}
	for code, msg := range cases {
		h := newHarness(t, true)
		h.listen()
		h.m.Deliver(ErrorEvent{Code: code})
		h.m.Deliver(EndEvent{})
		h.clock.Advance(10 * time.Second)
		s := h.sync()
		if s.State != Stopped || s.Fault != msg {
			t.Fatalf("%s: unexpected status %+v", code, s)
		}
		if starts, _ := h.rec.counts(); starts != 1 {
			t.Fatalf("%s: terminal error retried", code)
		}
	}
}

func TestOtherErrorRetriesOnceWithWarning(t *testing.T) {
	h := newHarness(t, true)
	h.listen()
	h.m.Deliver(ErrorEvent{Code: "bad-grammar"})
	s := h.sync()
	if s.State != Restarting || s.Transcript != "Speech recognition error: bad-grammar. Please try again." {
		t.Fatalf("unexpected status %+v", s)
	}
	h.rec.failStarts(1)
	h.clock.Advance(2000 * time.Millisecond)
	s = h.sync()
	if s.State != Stopped || s.Fault != msgStopped {
		t.Fatalf("expected terminal after failed retry, got %+v", s)
	}
}

func TestStartFailure(t *testing.T) {
	h := newHarness(t, true)
	h.rec.failStarts(1)
	if err := h.m.Start(h.ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s := h.sync(); s.Transcript != msgStarting {
		t.Fatalf("expected starting transcript, got %q", s.Transcript)
	}
	h.clock.Advance(100 * time.Millisecond)
	s := h.sync()
	if s.State != Stopped || s.Fault != msgStartFailed {
		t.Fatalf("unexpected status %+v", s)
	}
	// the driver can try again
	if err := h.m.Start(h.ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	h.clock.Advance(100 * time.Millisecond)
	if s := h.sync(); s.State != Starting || s.Fault != "" {
		t.Fatalf("unexpected status %+v", s)
	}
}

func TestCloseStopsSession(t *testing.T) {
	h := newHarness(t, true)
	h.listen()
	h.m.Deliver(EndEvent{})
	h.sync()
	h.m.Close()
	h.clock.Advance(10 * time.Second)
	if starts, aborts := h.rec.counts(); starts != 1 || aborts != 1 {
		t.Fatalf("expected teardown abort without restart, got %d/%d", starts, aborts)
	}
	if _, err := h.m.Snapshot(h.ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if st := h.m.Status(); st.State != Stopped {
		t.Fatalf("expected stopped status, got %s", st.State)
	}
}

func TestObserverCounts(t *testing.T) {
	h := newHarness(t, true)
	h.listen()
	h.say("left", 0.9)
	h.say("right", 0.9)
	h.m.Deliver(EndEvent{})
	h.sync()
	h.obs.mu.Lock()
	defer h.obs.mu.Unlock()
	if len(h.obs.accepted) != 1 || h.obs.accepted[0] != Left {
		t.Fatalf("unexpected accepted %v", h.obs.accepted)
	}
	if len(h.obs.rejected) != 1 || h.obs.rejected[0] != Debounced {
		t.Fatalf("unexpected rejected %v", h.obs.rejected)
	}
	if len(h.obs.restarts) != 1 || h.obs.restarts[0] != "end" {
		t.Fatalf("unexpected restarts %v", h.obs.restarts)
	}
}
