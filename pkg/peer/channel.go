package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/romashorodok/peerstream/pkg/engine"
	"github.com/romashorodok/peerstream/pkg/eventloop"
	"go.uber.org/atomic"
)

type write struct {
	out  outbound
	sent bool
	done chan error
}

func newWrite(out outbound) *write {
	return &write{out: out, done: make(chan error, 1)}
}

func (w *write) complete(err error) {
	w.done <- err
}

// Channel is one logical data channel as a duplex stream. The session's
// default channel and every named channel share this type.
//
// Fields without synchronization belong to the session loop.
type Channel struct {
	name   atomic.String
	label  atomic.String
	config *ChannelConfig

	loop       *eventloop.Loop
	log        *slog.Logger
	timeouts   Timeouts
	threshold  uint64
	objectMode bool

	dc          engine.DataChannel
	inflight    *write
	freshUntil  time.Time
	closingSeen bool
	closingPoll *eventloop.Ticker
	drainPoll   *eventloop.Ticker
	finishTimer *eventloop.Timer
	ending      bool
	destroying  bool
	// remote marks a channel announced by the peer.
	remote bool

	onOpenHook    func(*Channel)
	onDestroyHook func(*Channel, error)

	open      atomic.Bool
	destroyed atomic.Bool
	err       atomic.Error

	opened   chan struct{}
	openOnce sync.Once
	ctx      context.Context
	cancel   context.CancelCauseFunc

	inbox    *eventloop.Mailbox[Message]
	readMu   sync.Mutex
	leftover []byte
}

func newChannel(s *Session, name, label string, config *ChannelConfig) *Channel {
	ctx, cancel := context.WithCancelCause(s.ctx)
	c := &Channel{
		config:     config,
		loop:       s.loop,
		log:        s.log.With(slog.String("channel", name)),
		timeouts:   s.opts.Timeouts,
		threshold:  s.opts.HighWaterMark,
		objectMode: s.opts.ObjectMode,
		opened:     make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		inbox:      eventloop.NewMailbox[Message](),
	}
	c.name.Store(name)
	c.label.Store(label)
	return c
}

func (c *Channel) Name() string {
	return c.name.Load()
}

// Label is the wire label, name@suffix for named channels.
func (c *Channel) Label() string {
	return c.label.Load()
}

func (c *Channel) Open() bool {
	return c.open.Load()
}

func (c *Channel) Opened() <-chan struct{} {
	return c.opened
}

func (c *Channel) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err returns the error the channel was destroyed with, nil for a clean
// close.
func (c *Channel) Err() error {
	return c.err.Load()
}

func (c *Channel) Destroyed() bool {
	return c.destroyed.Load()
}

// attach registers the engine handlers. It only touches dc, so it may run
// on the engine goroutine that announced the channel, before the loop has
// seen it. Events from any handle other than the bound one are dropped.
func (c *Channel) attach(dc engine.DataChannel) {
	dc.OnOpen(func() {
		c.loop.Post(func() {
			if c.dc == dc {
				c.onOpen()
			}
		})
	})
	dc.OnClose(func() {
		c.loop.Post(func() {
			if c.dc == dc {
				c.onClose()
			}
		})
	})
	dc.OnMessage(func(msg engine.DataChannelMessage) {
		c.loop.Post(func() {
			if c.dc == dc {
				c.onMessage(msg)
			}
		})
	})
	dc.OnError(func(err error) {
		c.loop.Post(func() {
			if c.dc == dc {
				c.destroy(fmt.Errorf("%w: data channel: %w", ErrTransport, err))
			}
		})
	})
	if n, ok := dc.(engine.LowBufferNotifier); ok {
		n.SetBufferedAmountLowThreshold(c.threshold)
		n.OnBufferedAmountLow(func() {
			c.loop.Post(func() {
				if c.dc == dc {
					c.onBufferedLow()
				}
			})
		})
	}
}

func (c *Channel) bind(dc engine.DataChannel) {
	c.dc = dc
	if dc.ReadyState() == engine.DataChannelStateOpen {
		c.onOpen()
	}
}

func (c *Channel) onOpen() {
	if c.destroying || c.open.Load() {
		return
	}
	c.open.Store(true)
	c.freshUntil = time.Now().Add(c.timeouts.CloseDelay)
	c.openOnce.Do(func() { close(c.opened) })
	c.log.Debug("channel open", slog.String("label", c.Label()))

	if r, ok := c.dc.(engine.CloseReporter); !ok || !r.ReportsClose() {
		c.closingPoll = c.loop.Every(c.timeouts.ClosingPoll, c.checkClosing)
	}

	if c.inflight != nil && !c.inflight.sent {
		c.log.Debug("flush write issued before open")
		c.transmit()
	}

	if c.onOpenHook != nil {
		c.onOpenHook(c)
	}
	if c.ending {
		c.scheduleFinish()
	}
}

// checkClosing treats two consecutive polls in the closing state as a close,
// since some engines never report it.
func (c *Channel) checkClosing() {
	if c.destroying || c.dc == nil {
		return
	}
	if c.dc.ReadyState() != engine.DataChannelStateClosing {
		c.closingSeen = false
		return
	}
	if c.closingSeen {
		c.log.Debug("channel stuck in closing")
		c.onClose()
		return
	}
	c.closingSeen = true
}

func (c *Channel) onClose() {
	if c.destroying {
		return
	}
	c.log.Debug("channel closed by remote")
	c.destroy(nil)
}

func (c *Channel) onMessage(msg engine.DataChannelMessage) {
	if c.destroying {
		return
	}
	c.inbox.Push(decodeMessage(msg, c.objectMode))
}

func (c *Channel) enqueue(w *write) error {
	if c.destroying || c.ending {
		return ErrChannelClosed
	}
	if c.inflight != nil {
		return ErrWritePending
	}
	c.inflight = w
	if !c.open.Load() {
		c.log.Debug("write before open")
		return nil
	}
	c.transmit()
	return nil
}

func (c *Channel) transmit() {
	w := c.inflight
	if err := c.sendRaw(w.out); err != nil {
		c.inflight = nil
		w.complete(err)
		c.destroy(err)
		return
	}
	w.sent = true

	if buffered := c.dc.BufferedAmount(); buffered > c.threshold {
		c.log.Debug("start backpressure", slog.Uint64("buffered", buffered))
		if _, ok := c.dc.(engine.LowBufferNotifier); !ok && c.drainPoll == nil {
			c.drainPoll = c.loop.Every(c.timeouts.BackpressurePoll, c.onBufferedLow)
		}
		return
	}
	c.inflight = nil
	w.complete(nil)
}

func (c *Channel) sendRaw(out outbound) error {
	var err error
	if out.text {
		err = c.dc.SendText(string(out.data))
	} else {
		err = c.dc.Send(out.data)
	}
	if err != nil {
		return fmt.Errorf("%w: send: %w", ErrTransport, err)
	}
	return nil
}

func (c *Channel) onBufferedLow() {
	if c.destroying || c.inflight == nil || !c.inflight.sent {
		return
	}
	buffered := c.dc.BufferedAmount()
	if buffered > c.threshold {
		return
	}
	c.log.Debug("end backpressure", slog.Uint64("buffered", buffered))
	c.stopDrainPoll()
	w := c.inflight
	c.inflight = nil
	w.complete(nil)
}

func (c *Channel) stopDrainPoll() {
	c.drainPoll.Stop()
	c.drainPoll = nil
}

func (c *Channel) abandon(w *write) {
	if c.inflight != w {
		return
	}
	c.inflight = nil
	c.stopDrainPoll()
}

func (c *Channel) send(ctx context.Context, out outbound) error {
	w := newWrite(out)
	var err error
	if callErr := c.loop.Call(func() { err = c.enqueue(w) }); callErr != nil {
		return ErrChannelClosed
	}
	if err != nil {
		return err
	}

	select {
	case err := <-w.done:
		return err
	case <-ctx.Done():
		c.loop.Post(func() { c.abandon(w) })
		return context.Cause(ctx)
	}
}

// Send writes one message and waits until it is accepted below the
// high-water mark. Only one Send may be outstanding at a time.
func (c *Channel) Send(ctx context.Context, chunk any) error {
	out, err := encodeChunk(chunk, c.objectMode)
	if err != nil {
		return err
	}
	return c.send(ctx, out)
}

// Write sends p as one binary message.
func (c *Channel) Write(p []byte) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)
	if err := c.send(context.Background(), outbound{data: data}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ReadMessage returns the next received message. After the channel is
// destroyed and drained it returns io.EOF, or the destroy error.
func (c *Channel) ReadMessage(ctx context.Context) (Message, error) {
	msg, err := c.inbox.Pop(ctx)
	if errors.Is(err, eventloop.ErrMailboxClosed) {
		if cause := c.Err(); cause != nil {
			return Message{}, cause
		}
		return Message{}, io.EOF
	}
	return msg, err
}

// Read reads received bytes, concatenating message payloads.
func (c *Channel) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.leftover) == 0 {
		msg, err := c.ReadMessage(context.Background())
		if err != nil {
			return 0, err
		}
		c.leftover = msg.Data
	}
	n := copy(p, c.leftover)
	c.leftover = c.leftover[n:]
	return n, nil
}

func (c *Channel) BufferedAmount() uint64 {
	var n uint64
	c.loop.Call(func() {
		if c.dc != nil && !c.destroying {
			n = c.dc.BufferedAmount()
		}
	})
	return n
}

// End stops accepting writes and destroys the channel after a linger, so
// already buffered bytes flush. A destroyed channel returns ErrChannelClosed.
func (c *Channel) End() error {
	var err error
	callErr := c.loop.Call(func() {
		if c.destroying {
			err = ErrChannelClosed
			return
		}
		if c.ending {
			return
		}
		c.ending = true
		if c.open.Load() {
			c.scheduleFinish()
		}
	})
	if callErr != nil {
		return ErrChannelClosed
	}
	return err
}

func (c *Channel) scheduleFinish() {
	if c.finishTimer != nil {
		return
	}
	c.finishTimer = c.loop.AfterFunc(c.timeouts.FinishLinger, func() { c.destroy(nil) })
}

func (c *Channel) Close() error {
	c.Destroy(nil)
	return nil
}

func (c *Channel) Destroy(err error) {
	c.loop.Call(func() { c.destroy(err) })
}

func (c *Channel) destroy(err error) {
	if c.destroying {
		return
	}
	c.destroying = true
	c.log.Debug("destroy channel", slog.Any("err", err))

	dc := c.dc
	if dc != nil {
		dc.OnOpen(nil)
		dc.OnClose(nil)
		dc.OnMessage(nil)
		dc.OnError(nil)
		if n, ok := dc.(engine.LowBufferNotifier); ok {
			n.OnBufferedAmountLow(nil)
		}
	}

	c.closingPoll.Stop()
	c.stopDrainPoll()
	c.finishTimer.Stop()
	if w := c.inflight; w != nil {
		c.inflight = nil
		w.complete(ErrChannelClosed)
	}
	if dc != nil {
		c.closeUnderlying(dc)
	}

	c.destroyed.Store(true)
	c.open.Store(false)
	cause := ErrChannelClosed
	if err != nil {
		c.err.Store(err)
		cause = err
	}
	c.cancel(cause)
	c.inbox.Close()

	if c.onDestroyHook != nil {
		c.onDestroyHook(c, err)
	}
}

// closeUnderlying defers closing a channel that has not been open for
// CloseDelay, because some engines fail to close it that early.
func (c *Channel) closeUnderlying(dc engine.DataChannel) {
	if c.freshUntil.IsZero() || time.Now().Before(c.freshUntil) {
		// Off the loop: a stopping session discards its loop timers.
		time.AfterFunc(c.timeouts.CloseDelay, func() { _ = dc.Close() })
		return
	}
	_ = dc.Close()
}
