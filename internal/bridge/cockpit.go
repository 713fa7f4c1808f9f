package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/voice-drive-lab/internal/control"
	"github.com/voice-drive-lab/internal/logging"
	"github.com/voice-drive-lab/internal/stt"
	"github.com/voice-drive-lab/internal/voice"
)

// Where a cockpit's speech recognition runs.
const (
	RecognitionBrowser = "browser"
	RecognitionServer  = "server"
	RecognitionNone    = "none"
)

// Cockpit is one connected driving page: a voice session, a control loop
// and the connection that carries their traffic.
type Cockpit struct {
	ID          string
	Remote      string
	ConnectedAt time.Time

	recognition string
	conn        *websocket.Conn
	out         *writer
	manager     *voice.Manager
	driver      *control.Driver
	stt         *stt.Recognizer
	limiter     *rate.Limiter
	metrics     Metrics
}

// Info summarises the cockpit for listings.
func (c *Cockpit) Info() SessionInfo {
	return SessionInfo{ID: c.ID, Remote: c.Remote, Recognition: c.recognition, ConnectedAt: c.ConnectedAt}
}

// Recognition reports where speech recognition runs for this cockpit.
func (c *Cockpit) Recognition() string { return c.recognition }

// Status returns the last published voice status.
func (c *Cockpit) Status() voice.Status { return c.manager.Status() }

// Snapshot returns the voice status once all queued input has been handled.
func (c *Cockpit) Snapshot(ctx context.Context) (voice.Status, error) {
	return c.manager.Snapshot(ctx)
}

// Say classifies text as a finalized utterance for this cockpit.
func (c *Cockpit) Say(ctx context.Context, text string, confidence float64) (voice.Decision, error) {
	return c.manager.Say(ctx, text, confidence)
}

// Key applies a key transition as if it came from the page.
func (c *Cockpit) Key(key control.Key, down bool) {
	c.driver.HandleKey(control.KeyEvent{Key: key, Down: down})
}

func (c *Cockpit) StartVoice(ctx context.Context) error { return c.manager.Start(ctx) }

func (c *Cockpit) StopVoice(ctx context.Context) error { return c.manager.Stop(ctx) }

func (c *Cockpit) onStatus(st voice.Status) {
	c.driver.UpdateCommands(st.Commands)
	c.out.sendStatus(StatusMessage{Type: TypeStatus, Status: st})
}

func (c *Cockpit) actuate(ops []control.Op) {
	if err := c.out.send(Actuate{Type: TypeActuate, Ops: ops}); err != nil {
		logging.Debugw("actuate not sent", "session.id", c.ID, "err", err)
	}
}

// run serves the connection until the page leaves or ctx is cancelled.
func (c *Cockpit) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.out.run(gctx) })
	g.Go(func() error { return c.manager.Run(gctx) })
	g.Go(func() error { return c.driver.Run(gctx) })
	g.Go(func() error {
		defer cancel()
		return c.read(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		// unblock the reader
		_ = c.conn.SetReadDeadline(time.Now())
		return nil
	})
	err := g.Wait()

	c.manager.Close()
	c.driver.Close()
	if c.stt != nil {
		_ = c.stt.Abort()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *Cockpit) read(ctx context.Context) error {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if mt == websocket.BinaryMessage {
			if c.stt != nil {
				c.stt.Feed(data)
			}
			continue
		}
		if !c.limiter.Allow() {
			c.metrics.MessageDropped()
			continue
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			_ = c.out.send(ErrorMessage{Type: TypeError, Message: "invalid message"})
			continue
		}
		c.dispatch(ctx, in)
	}
}

func (c *Cockpit) dispatch(ctx context.Context, in Inbound) {
	switch in.Type {
	case TypeRecognition:
		if c.recognition != RecognitionBrowser {
			logging.Debugw("ignoring page recognition event", "session.id", c.ID, "event", in.Event)
			return
		}
		ev, ok := recognitionEvent(in)
		if !ok {
			_ = c.out.send(ErrorMessage{Type: TypeError, Message: "unknown recognition event " + in.Event})
			return
		}
		c.manager.Deliver(ev)
	case TypeKey:
		key, ok := control.ParseKey(in.Key)
		if !ok {
			return
		}
		c.driver.HandleKey(control.KeyEvent{Key: key, Down: in.Down, Ctrl: in.Ctrl})
	case TypeVoice:
		var err error
		switch in.Action {
		case "start":
			err = c.manager.Start(ctx)
		case "stop":
			err = c.manager.Stop(ctx)
		default:
			_ = c.out.send(ErrorMessage{Type: TypeError, Message: "unknown voice action " + in.Action})
			return
		}
		// unsupported is already on the status panel
		if err != nil && !errors.Is(err, voice.ErrUnsupported) && ctx.Err() == nil {
			logging.Warnw("voice action failed", "session.id", c.ID, "action", in.Action, "err", err)
		}
	case TypeHello:
	default:
		_ = c.out.send(ErrorMessage{Type: TypeError, Message: "unknown message type " + in.Type})
	}
}
