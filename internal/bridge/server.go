package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/voice-drive-lab/internal/control"
	"github.com/voice-drive-lab/internal/logging"
	"github.com/voice-drive-lab/internal/stt"
	"github.com/voice-drive-lab/internal/voice"
)

// Metrics receives per-connection counters in addition to the voice hooks.
type Metrics interface {
	voice.Observer
	SessionOpened()
	SessionClosed()
	MessageDropped()
}

type nopMetrics struct{}

func (nopMetrics) CommandAccepted(voice.Command) {}
func (nopMetrics) CommandRejected(voice.Reason)  {}
func (nopMetrics) RestartScheduled(string)       {}
func (nopMetrics) Fault(voice.ErrorKind)         {}
func (nopMetrics) SessionOpened()                {}
func (nopMetrics) SessionClosed()                {}
func (nopMetrics) MessageDropped()               {}

// STT enables server-side recognition for pages without a speech engine.
type STT struct {
	Config      stt.Config
	Transcriber stt.Transcriber
	// NewDecoder returns a fresh decoder per cockpit; opus decoders keep
	// state between frames.
	NewDecoder func() (stt.Decoder, error)
	// Archive, when set, keeps every server-side utterance on disk.
	Archive *stt.Archive
}

type Options struct {
	Voice   voice.Config
	Control control.Params

	MaxMessageBytes  int64
	RateLimit        float64
	RateBurst        int
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration

	STT     *STT
	Metrics Metrics
	Clock   voice.Clock
}

// DefaultOptions matches the defaults of the cockpit configuration.
func DefaultOptions() Options {
	return Options{
		Voice:            voice.DefaultConfig(),
		Control:          control.DefaultParams(),
		MaxMessageBytes:  64 * 1024,
		RateLimit:        50,
		RateBurst:        100,
		WriteTimeout:     5 * time.Second,
		PingInterval:     20 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

// Server upgrades cockpit pages to websockets and registers them in the
// hub for as long as they stay connected.
type Server struct {
	hub      *Hub
	opts     Options
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders wg.Add against Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewServer(hub *Hub, opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		hub:  hub,
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("cockpit upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	s.serve(conn, r.RemoteAddr)
}

// Close disconnects every cockpit and waits for their sessions to stop.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Server) serve(conn *websocket.Conn, remote string) {
	defer conn.Close()
	if s.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.opts.MaxMessageBytes)
	}

	hello, err := s.readHello(conn)
	if err != nil {
		s.writeError(conn, err.Error())
		return
	}

	c := s.newCockpit(conn, remote, hello)
	fields := logging.SessionFields(c.ID, remote)

	s.hub.add(c)
	s.opts.Metrics.SessionOpened()
	logging.Infow("cockpit connected", append(fields, "recognition", c.recognition)...)
	defer func() {
		s.hub.remove(c.ID)
		s.opts.Metrics.SessionClosed()
		logging.Infow("cockpit disconnected", fields...)
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := conn.WriteJSON(Welcome{Type: TypeWelcome, SessionID: c.ID, Recognition: c.recognition}); err != nil {
		logging.Warnw("failed to send welcome", append(fields, "err", err)...)
		return
	}
	c.out.sendStatus(StatusMessage{Type: TypeStatus, Status: c.manager.Status()})

	if err := c.run(s.ctx); err != nil {
		logging.Warnw("cockpit connection ended with error", append(fields, "err", err)...)
	}
}

var errBadHello = errors.New("first frame must be hello")

func (s *Server) readHello(conn *websocket.Conn) (Inbound, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		return Inbound{}, errors.New("failed to read hello")
	}
	if mt != websocket.TextMessage {
		return Inbound{}, errBadHello
	}
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, errors.New("invalid hello frame")
	}
	if in.Type != TypeHello {
		return Inbound{}, errBadHello
	}
	_ = conn.SetReadDeadline(time.Time{})
	return in, nil
}

func (s *Server) writeError(conn *websocket.Conn, message string) {
	deadline := time.Now().Add(s.opts.WriteTimeout)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(ErrorMessage{Type: TypeError, Message: message})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), deadline)
}

func (s *Server) newCockpit(conn *websocket.Conn, remote string, hello Inbound) *Cockpit {
	id := uuid.NewString()
	c := &Cockpit{
		ID:          id,
		Remote:      remote,
		ConnectedAt: time.Now(),
		conn:        conn,
		out:         newWriter(conn, id, s.opts.WriteTimeout, s.opts.PingInterval),
		limiter:     rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.RateBurst),
		metrics:     s.opts.Metrics,
	}
	if s.opts.RateLimit <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	}

	var rec voice.Recognizer
	switch {
	case hello.SpeechSupported:
		c.recognition = RecognitionBrowser
		rec = &pageRecognizer{supported: true, send: c.out.send}
	case s.opts.STT != nil && s.opts.STT.Transcriber != nil && s.opts.STT.NewDecoder != nil:
		dec, err := s.opts.STT.NewDecoder()
		if err != nil {
			logging.Warnw("server recognition unavailable", "session.id", id, "err", err)
			break
		}
		c.recognition = RecognitionServer
		c.stt = stt.NewRecognizer(s.opts.STT.Config, s.opts.STT.Transcriber, dec, id, func(ev voice.Event) {
			c.manager.Deliver(ev)
		})
		if s.opts.STT.Archive != nil {
			c.stt.SetArchive(s.opts.STT.Archive)
		}
		rec = c.stt
	}
	if rec == nil {
		c.recognition = RecognitionNone
		rec = &pageRecognizer{supported: false, send: c.out.send}
	}

	c.driver = control.NewDriver(s.opts.Control, c.actuate, id)
	opts := []voice.Option{
		voice.WithSessionID(id),
		voice.WithObserver(s.opts.Metrics),
		voice.WithStatusFunc(c.onStatus),
	}
	if s.opts.Clock != nil {
		opts = append(opts, voice.WithClock(s.opts.Clock))
	}
	c.manager = voice.NewManager(rec, s.opts.Voice, opts...)
	return c
}
