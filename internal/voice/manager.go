package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voice-drive-lab/internal/logging"
)

// User-facing transcript and fault lines.
const (
	msgStarting    = "Starting voice recognition..."
	msgListening   = "Listening for car commands..."
	msgStartFailed = "Failed to start voice recognition. Please try again."
	msgPermission  = "Microphone access denied. Please allow microphone access in your browser settings."
	msgDevice      = "No microphone found. Please connect a microphone and try again."
	msgNetwork     = "Network error. Please check your internet connection."
	msgStopped     = "Voice recognition stopped. Click the button to restart."
	msgUnsupported = "Speech recognition not supported in this browser"
	msgErrorFmt    = "Speech recognition error: %s. Please try again."
	msgAckFmt      = "Command: %s"
)

// Observer receives counters-worthy session events. Calls happen on the
// session loop and must not block.
type Observer interface {
	CommandAccepted(cmd Command)
	CommandRejected(reason Reason)
	RestartScheduled(cause string)
	Fault(kind ErrorKind)
}

type nopObserver struct{}

func (nopObserver) CommandAccepted(Command) {}
func (nopObserver) CommandRejected(Reason)  {}
func (nopObserver) RestartScheduled(string) {}
func (nopObserver) Fault(ErrorKind)         {}

// Status is a point-in-time view of the session for the voice panel.
type Status struct {
	SessionID  string     `json:"session_id,omitempty"`
	State      State      `json:"state"`
	Listening  bool       `json:"listening"`
	Supported  bool       `json:"supported"`
	Commands   CommandSet `json:"commands"`
	Transcript string     `json:"transcript"`
	Confidence float64    `json:"confidence"`
	Fault      string     `json:"fault,omitempty"`
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type timerKind int

const (
	timerStart timerKind = iota
	timerRestart
	timerClear
)

type restartCause int

const (
	causeEnd restartCause = iota
	causeNoSpeech
	causeError
)

func (c restartCause) String() string {
	switch c {
	case causeEnd:
		return "end"
	case causeNoSpeech:
		return "no_speech"
	default:
		return "error"
	}
}

type scheduled struct {
	kind timerKind
	gen  uint64
	t    Timer
}

// loop messages
type (
	eventMsg    struct{ ev Event }
	startReq    struct{ reply chan error }
	stopReq     struct{ reply chan struct{} }
	snapshotReq struct{ reply chan Status }
	timerMsg    struct {
		kind timerKind
		gen  uint64
	}
	sayReq struct {
		text       string
		confidence float64
		reply      chan Decision
	}
)

// Option customises a Manager.
type Option func(*Manager)

func WithClock(c Clock) Option { return func(m *Manager) { m.clock = c } }

func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.obs = o
		}
	}
}

// WithStatusFunc registers a callback invoked on the session loop whenever
// the published Status changes.
func WithStatusFunc(f func(Status)) Option { return func(m *Manager) { m.onStatus = f } }

func WithSessionID(id string) Option { return func(m *Manager) { m.id = id } }

// Manager owns one recognition session. All state lives on a single loop
// goroutine (Run); engine events, caller requests and timer firings reach it
// as messages on one channel.
type Manager struct {
	cfg      Config
	rec      Recognizer
	clock    Clock
	obs      Observer
	onStatus func(Status)
	id       string

	inbox     chan any
	quit      chan struct{}
	done      chan struct{}
	quitOnce  sync.Once
	running   atomic.Bool
	published atomic.Pointer[Status]

	// loop-owned
	state         State
	supported     bool
	wantListening bool
	unsupportedAt bool
	commands      CommandSet
	transcript    string
	confidence    float64
	fault         string
	classifier    *Classifier
	gen           uint64
	pending       *scheduled
	clear         *scheduled
	cause         restartCause
	attempt       int
}

func NewManager(rec Recognizer, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg,
		rec:        rec,
		clock:      SystemClock,
		obs:        nopObserver{},
		inbox:      make(chan any, 64),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		classifier: NewClassifier(cfg),
		state:      Idle,
	}
	for _, o := range opts {
		o(m)
	}
	m.supported = rec != nil && rec.Supported()
	s := m.snapshot()
	m.published.Store(&s)
	return m
}

// Run drains the session loop until ctx is cancelled or Close is called.
// Leaving the loop stops the session and cancels every timer.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("voice manager already running")
	}
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.teardown()
			return ctx.Err()
		case <-m.quit:
			m.teardown()
			return nil
		case msg := <-m.inbox:
			m.handle(msg)
		}
	}
}

// Close ends the loop and waits for teardown when Run is active.
func (m *Manager) Close() {
	m.quitOnce.Do(func() { close(m.quit) })
	if m.running.Load() {
		<-m.done
	}
}

// Deliver hands an engine event to the loop.
func (m *Manager) Deliver(ev Event) {
	if ev == nil {
		return
	}
	m.post(eventMsg{ev: ev})
}

// Start begins listening. It is a no-op while a session is active and
// returns ErrUnsupported when there is no engine.
func (m *Manager) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := m.send(ctx, startReq{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-m.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends listening and resets transcript, confidence and commands.
// Calling it on a stopped session is harmless.
func (m *Manager) Stop(ctx context.Context) error {
	reply := make(chan struct{}, 1)
	if err := m.send(ctx, stopReq{reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-m.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Say classifies text as if it were a finalized utterance, independent of
// whether the engine is listening.
func (m *Manager) Say(ctx context.Context, text string, confidence float64) (Decision, error) {
	reply := make(chan Decision, 1)
	if err := m.send(ctx, sayReq{text: text, confidence: confidence, reply: reply}); err != nil {
		return Decision{}, err
	}
	select {
	case d := <-reply:
		return d, nil
	case <-m.quit:
		return Decision{}, ErrClosed
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Snapshot returns the status after every message queued before it has been
// handled.
func (m *Manager) Snapshot(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := m.send(ctx, snapshotReq{reply: reply}); err != nil {
		return Status{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-m.quit:
		return Status{}, ErrClosed
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Status returns the last published status without touching the loop.
func (m *Manager) Status() Status { return *m.published.Load() }

func (m *Manager) send(ctx context.Context, msg any) error {
	select {
	case m.inbox <- msg:
		return nil
	case <-m.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) post(msg any) {
	select {
	case m.inbox <- msg:
	case <-m.quit:
	}
}

func (m *Manager) handle(msg any) {
	switch v := msg.(type) {
	case eventMsg:
		m.handleEvent(v.ev)
	case startReq:
		v.reply <- m.handleStart()
	case stopReq:
		m.handleStop()
		v.reply <- struct{}{}
	case sayReq:
		v.reply <- m.classify(v.text, v.confidence)
	case snapshotReq:
		v.reply <- m.snapshot()
	case timerMsg:
		m.handleTimer(v)
	}
	m.publish()
}

func (m *Manager) handleStart() error {
	if !m.supported {
		if !m.unsupportedAt {
			m.unsupportedAt = true
			m.fault = msgUnsupported
			m.obs.Fault(KindUnsupported)
			logging.Warnw("speech recognition not supported", "session.id", m.id)
		}
		return ErrUnsupported
	}
	if m.state.active() {
		return nil
	}
	m.wantListening = true
	m.commands = CommandSet{}
	m.classifier.Reset()
	m.cancelClear()
	m.fault = ""
	m.transcript = msgStarting
	m.attempt = 0
	m.transition(Starting)
	m.pending = m.arm(timerStart, m.cfg.StartDelay)
	return nil
}

func (m *Manager) handleStop() {
	wasActive := m.state.active()
	// The flag must be down before Abort so the engine's trailing end event
	// cannot schedule a restart.
	m.wantListening = false
	m.cancelPending()
	m.cancelClear()
	if wasActive {
		if err := m.rec.Abort(); err != nil {
			logging.Debugw("recognizer abort failed", "session.id", m.id, "err", err)
		}
	}
	m.commands = CommandSet{}
	m.transcript = ""
	m.confidence = 0
	m.classifier.Reset()
	if m.supported {
		m.fault = ""
	}
	m.transition(Stopped)
}

func (m *Manager) teardown() {
	m.quitOnce.Do(func() { close(m.quit) })
	m.handleStop()
	m.publish()
}

func (m *Manager) handleEvent(ev Event) {
	switch e := ev.(type) {
	case StartEvent:
		m.onEngineStart()
	case ResultEvent:
		m.onResult(e)
	case ErrorEvent:
		m.onError(e.Code)
	case EndEvent:
		m.onEnd()
	}
}

func (m *Manager) onEngineStart() {
	if m.state != Starting || !m.wantListening {
		logging.Debugw("ignoring engine start", "session.id", m.id, "state", m.state.String())
		return
	}
	m.transition(Listening)
	m.attempt = 0
	m.fault = ""
	m.transcript = msgListening
	logging.Infow("voice recognition started", "session.id", m.id)
}

func (m *Manager) onResult(ev ResultEvent) {
	if m.state != Listening && m.state != Starting {
		return
	}
	idx := ev.Index
	if idx < 0 {
		idx = 0
	}
	var final, interim strings.Builder
	accepted := false
	for i := idx; i < len(ev.Results); i++ {
		seg := ev.Results[i]
		if !seg.Final {
			interim.WriteString(seg.Transcript)
			continue
		}
		final.WriteString(seg.Transcript)
		m.confidence = seg.Confidence
		if m.classify(seg.Transcript, seg.Confidence).Accepted() {
			accepted = true
		}
	}
	if accepted {
		return
	}
	current := final.String()
	if current == "" {
		current = interim.String()
	}
	if strings.TrimSpace(current) != "" {
		m.transcript = current
	}
}

func (m *Manager) onError(code string) {
	kind := ClassifyErrorCode(code)
	if !m.wantListening {
		logging.Debugw("recognition error after stop", "session.id", m.id, "code", code)
		return
	}
	switch {
	case kind == KindAborted:
		return
	case kind.Terminal():
		logging.Warnw("recognition error, giving up", "session.id", m.id, "code", code, "kind", kind.String())
		m.fail(kind, terminalMessage(kind))
	case kind == KindNoSpeech:
		logging.Debugw("no speech detected, restarting", "session.id", m.id)
		m.transcript = msgListening
		m.scheduleRestart(causeNoSpeech, m.cfg.NoSpeechDelay)
	default:
		logging.Warnw("recognition error, restarting", "session.id", m.id, "code", code)
		m.transcript = fmt.Sprintf(msgErrorFmt, code)
		m.scheduleRestart(causeError, m.cfg.ErrorRestartDelay)
	}
}

func terminalMessage(kind ErrorKind) string {
	switch kind {
	case KindPermission:
		return msgPermission
	case KindDevice:
		return msgDevice
	case KindNetwork:
		return msgNetwork
	case KindUnsupported:
		return msgUnsupported
	default:
		return msgStopped
	}
}

func (m *Manager) onEnd() {
	if !m.wantListening || m.pending != nil {
		return
	}
	m.scheduleRestart(causeEnd, m.cfg.RestartDelay)
}

func (m *Manager) scheduleRestart(cause restartCause, delay time.Duration) {
	if m.pending != nil {
		return
	}
	m.cause = cause
	m.attempt = 1
	m.transition(Restarting)
	m.pending = m.arm(timerRestart, delay)
	m.obs.RestartScheduled(cause.String())
	logging.Debugw("recognition restart scheduled", "session.id", m.id, "cause", cause.String(), "delay_ms", delay.Milliseconds())
}

func (m *Manager) handleTimer(tm timerMsg) {
	if tm.kind == timerClear {
		if m.clear == nil || m.clear.gen != tm.gen {
			return
		}
		m.clear = nil
		m.commands = CommandSet{}
		m.transcript = ""
		if m.wantListening {
			m.transcript = msgListening
		}
		return
	}
	if m.pending == nil || m.pending.gen != tm.gen {
		return
	}
	m.pending = nil
	if !m.wantListening {
		return
	}
	m.attemptStart(tm.kind)
}

func (m *Manager) attemptStart(kind timerKind) {
	err := m.rec.Start(m.cfg.recognizerOptions())
	if err == nil {
		m.transition(Starting)
		return
	}
	logging.Warnw("recognizer start failed", "session.id", m.id, "err", err, "attempt", m.attempt)
	if kind == timerStart {
		m.fail(KindOther, msgStartFailed)
		return
	}
	if m.cause != causeError && m.attempt < 2 {
		m.attempt++
		m.pending = m.arm(timerRestart, m.cfg.RetryDelay)
		m.obs.RestartScheduled("retry")
		return
	}
	m.fail(KindOther, msgStopped)
}

func (m *Manager) fail(kind ErrorKind, msg string) {
	m.wantListening = false
	m.cancelPending()
	m.fault = msg
	m.transcript = msg
	m.transition(Stopped)
	m.obs.Fault(kind)
}

func (m *Manager) classify(text string, confidence float64) Decision {
	d := m.classifier.Classify(text, confidence, m.clock.Now())
	if !d.Accepted() {
		m.obs.CommandRejected(d.Reason)
		logging.Debugw("voice input ignored", "session.id", m.id, "reason", d.Reason.String(), "transcript", text, "confidence", confidence)
		return d
	}
	m.commands = Only(d.Command)
	m.transcript = fmt.Sprintf(msgAckFmt, d.Command)
	m.cancelClear()
	m.clear = m.arm(timerClear, m.cfg.ClearAfter)
	m.obs.CommandAccepted(d.Command)
	logging.Infow("voice command accepted", append([]interface{}{"session.id", m.id}, logging.CommandFields(d.Command.String(), text, confidence)...)...)
	return d
}

func (m *Manager) transition(to State) {
	if m.state == to {
		return
	}
	if !CanTransition(m.state, to) {
		logging.Errorw("illegal voice state transition", "session.id", m.id, "from", m.state.String(), "to", to.String())
		return
	}
	logging.Debugw("voice state", "session.id", m.id, "from", m.state.String(), "to", to.String())
	m.state = to
}

func (m *Manager) arm(kind timerKind, d time.Duration) *scheduled {
	m.gen++
	gen := m.gen
	s := &scheduled{kind: kind, gen: gen}
	s.t = m.clock.AfterFunc(d, func() { m.post(timerMsg{kind: kind, gen: gen}) })
	return s
}

func (m *Manager) cancelPending() {
	if m.pending != nil {
		m.pending.t.Stop()
		m.pending = nil
	}
}

func (m *Manager) cancelClear() {
	if m.clear != nil {
		m.clear.t.Stop()
		m.clear = nil
	}
}

func (m *Manager) snapshot() Status {
	return Status{
		SessionID:  m.id,
		State:      m.state,
		Listening:  m.state == Listening,
		Supported:  m.supported,
		Commands:   m.commands,
		Transcript: m.transcript,
		Confidence: m.confidence,
		Fault:      m.fault,
	}
}

func (m *Manager) publish() {
	s := m.snapshot()
	if prev := m.published.Load(); prev != nil && *prev == s {
		return
	}
	m.published.Store(&s)
	if m.onStatus != nil {
		m.onStatus(s)
	}
}
