package whatsapp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"sync"

	"whatsapp-dispatch/internal/domain/model"

	"github.com/rs/zerolog"
)

// ReasonBridgeExited is reported when the sidecar stream ends without a destroy request.
const ReasonBridgeExited = "BRIDGE_EXITED"

var errConnClosed = errors.New("bridge connection closed")

// inbound is one newline-delimited JSON message from the sidecar.
type inbound struct {
	Event   string `json:"event"`
	QR      string `json:"qr,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Percent int    `json:"percent,omitempty"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type outbound struct {
	Op   string `json:"op"`
	ID   string `json:"id,omitempty"`
	To   string `json:"to,omitempty"`
	Text string `json:"text,omitempty"`
}

// conn speaks the sidecar protocol over a reader/writer pair. Lifecycle events
// are forwarded to events; send acks are matched by id.
type conn struct {
	r      io.Reader
	w      io.Writer
	events chan<- model.LifecycleEvent
	log    *zerolog.Logger

	wmu sync.Mutex

	mu        sync.Mutex
	nextID    uint64
	pending   map[string]chan error
	destroyed bool
	finished  bool

	quit     chan struct{} // closed by markDestroyed
	quitOnce sync.Once
	done     chan struct{} // closed when readLoop returns
}

func newConn(r io.Reader, w io.Writer, events chan<- model.LifecycleEvent, logger *zerolog.Logger) *conn {
	return &conn{
		r:       r,
		w:       w,
		events:  events,
		log:     logger,
		pending: map[string]chan error{},
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// readLoop runs until the stream ends. It must be started exactly once.
func (c *conn) readLoop() {
	defer c.finish()

	sc := bufio.NewScanner(c.r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var in inbound
		if err := json.Unmarshal(line, &in); err != nil {
			c.log.Debug().Str("line", string(line)).Msg("bridge: non-protocol output")
			continue
		}
		c.dispatch(in)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, fs.ErrClosed) {
		c.log.Warn().Err(err).Msg("bridge: read failed")
	}
}

func (c *conn) dispatch(in inbound) {
	var ev model.LifecycleEvent
	switch in.Event {
	case "ack":
		c.resolve(in.ID, in.Error)
		return
	case "qr":
		ev = model.LifecycleEvent{Kind: model.EventQR, QR: in.QR}
	case "authenticated":
		ev = model.LifecycleEvent{Kind: model.EventAuthenticated}
	case "ready":
		ev = model.LifecycleEvent{Kind: model.EventReady}
	case "loading_screen":
		ev = model.LifecycleEvent{Kind: model.EventLoadingScreen, Percent: in.Percent, Message: in.Message}
	case "auth_failure":
		ev = model.LifecycleEvent{Kind: model.EventAuthFailure, Message: in.Message}
	case "disconnected":
		ev = model.LifecycleEvent{Kind: model.EventDisconnected, Reason: in.Reason}
	case "error":
		ev = model.LifecycleEvent{Kind: model.EventError, Message: in.Message}
	default:
		c.log.Debug().Str("event", in.Event).Msg("bridge: unknown event")
		return
	}
	c.emit(ev)
}

func (c *conn) emit(ev model.LifecycleEvent) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

func (c *conn) resolve(id, errText string) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		c.log.Debug().Str("id", id).Msg("bridge: ack for unknown send")
		return
	}
	if errText != "" {
		ch <- errors.New(errText)
		return
	}
	ch <- nil
}

// finish fails outstanding sends and reports an unexpected exit.
func (c *conn) finish() {
	c.mu.Lock()
	destroyed := c.destroyed
	pending := c.pending
	c.pending = map[string]chan error{}
	c.finished = true
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- errConnClosed
	}
	if !destroyed {
		// the lifecycle may have stopped listening; don't block forever
		select {
		case c.events <- model.LifecycleEvent{Kind: model.EventDisconnected, Reason: ReasonBridgeExited}:
		default:
			c.log.Warn().Msg("bridge: exit event dropped")
		}
	}
	close(c.done)
}

func (c *conn) send(ctx context.Context, to, text string) error {
	c.mu.Lock()
	if c.destroyed || c.finished {
		c.mu.Unlock()
		return errConnClosed
	}
	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	ch := make(chan error, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(outbound{Op: "send", ID: id, To: to, Text: text}); err != nil {
		c.forget(id)
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		c.forget(id)
		return fmt.Errorf("send %s: %w", id, ctx.Err())
	}
}

func (c *conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// markDestroyed suppresses the exit event and rejects new sends.
func (c *conn) markDestroyed() {
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
	c.quitOnce.Do(func() { close(c.quit) })
}

func (c *conn) write(msg outbound) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(b); err != nil {
		return fmt.Errorf("bridge write: %w", err)
	}
	return nil
}
