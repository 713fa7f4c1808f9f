package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voice-drive-lab/internal/logging"
)

var (
	errWriterClosed = errors.New("cockpit writer closed")
	errQueueFull    = errors.New("cockpit outbound queue full")
)

// writer is the only goroutine that writes to a cockpit connection.
// Recognizer commands and actuator ops are queued in order; status updates
// share a one-slot mailbox where a newer status replaces an unsent one.
type writer struct {
	conn         *websocket.Conn
	id           string
	writeTimeout time.Duration
	pingInterval time.Duration

	queue  chan []byte
	status chan []byte
	done   chan struct{}
	once   sync.Once
}

func newWriter(conn *websocket.Conn, id string, writeTimeout, pingInterval time.Duration) *writer {
	return &writer{
		conn:         conn,
		id:           id,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		queue:        make(chan []byte, 256),
		status:       make(chan []byte, 1),
		done:         make(chan struct{}),
	}
}

func (w *writer) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-w.done:
		return errWriterClosed
	default:
	}
	select {
	case w.queue <- b:
		return nil
	case <-w.done:
		return errWriterClosed
	default:
		logging.Warnw("dropping outbound message; queue full", "session.id", w.id)
		return errQueueFull
	}
}

// sendStatus is called only from the voice manager loop.
func (w *writer) sendStatus(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logging.Warnw("failed to encode status", "session.id", w.id, "err", err)
		return
	}
	select {
	case <-w.status:
	default:
	}
	select {
	case w.status <- b:
	default:
	}
}

func (w *writer) run(ctx context.Context) error {
	defer w.once.Do(func() { close(w.done) })

	interval := w.pingInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(w.writeTimeout)
			_ = w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return nil
		case b := <-w.queue:
			if err := w.write(b); err != nil {
				return err
			}
		case b := <-w.status:
			if err := w.write(b); err != nil {
				return err
			}
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout)); err != nil {
				return err
			}
		}
	}
}

func (w *writer) write(b []byte) error {
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	return w.conn.WriteMessage(websocket.TextMessage, b)
}
