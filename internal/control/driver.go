package control

import (
	"context"
	"sync"

	"github.com/voice-drive-lab/internal/logging"
	"github.com/voice-drive-lab/internal/voice"
)

// Sink receives the actuator calls produced by one resolve.
type Sink func(ops []Op)

type keyMsg struct{ ev KeyEvent }

type commandsMsg struct{ cmds voice.CommandSet }

// Driver serialises key events and voice command updates onto one loop and
// resolves controls whenever either input actually changes.
type Driver struct {
	res  *Resolver
	sink Sink
	id   string

	inbox chan any
	quit  chan struct{}
	once  sync.Once

	keys KeyState
	cmds voice.CommandSet
}

func NewDriver(p Params, sink Sink, sessionID string) *Driver {
	return &Driver{
		res:   NewResolver(p),
		sink:  sink,
		id:    sessionID,
		inbox: make(chan any, 128),
		quit:  make(chan struct{}),
	}
}

// HandleKey queues a key transition.
func (d *Driver) HandleKey(ev KeyEvent) { d.post(keyMsg{ev: ev}) }

// UpdateCommands queues the latest voice command set.
func (d *Driver) UpdateCommands(cmds voice.CommandSet) { d.post(commandsMsg{cmds: cmds}) }

func (d *Driver) post(msg any) {
	select {
	case d.inbox <- msg:
	case <-d.quit:
	}
}

// Run drains the loop until ctx is done or Close is called.
func (d *Driver) Run(ctx context.Context) error {
	defer d.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.quit:
			return nil
		case msg := <-d.inbox:
			if ops := d.step(msg); len(ops) > 0 && d.sink != nil {
				d.sink(ops)
			}
		}
	}
}

// Close stops the loop; queued input is dropped.
func (d *Driver) Close() { d.once.Do(func() { close(d.quit) }) }

// step applies one input and returns the resulting ops, or nil when the
// input did not change anything.
func (d *Driver) step(msg any) []Op {
	switch m := msg.(type) {
	case keyMsg:
		if m.ev.Ctrl {
			return nil
		}
		if d.keys.Pressed(m.ev.Key) == m.ev.Down {
			return nil
		}
		d.keys = d.keys.With(m.ev.Key, m.ev.Down)
		logging.Debugw("key", "session.id", d.id, "key", m.ev.Key.String(), "down", m.ev.Down)
	case commandsMsg:
		if m.cmds == d.cmds {
			return nil
		}
		d.cmds = m.cmds
	default:
		return nil
	}
	rec := &Recorder{}
	d.res.Resolve(d.keys, d.cmds, rec)
	return rec.Ops()
}
