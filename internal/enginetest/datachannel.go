package enginetest

import (
	"time"

	"github.com/romashorodok/peerstream/pkg/engine"
)

type DataChannel struct {
	pc         *PeerConnection
	label      string
	id         *uint16
	negotiated bool

	// guarded by engine.mu
	state     engine.DataChannelState
	peer      *DataChannel
	buffered  uint64
	stalled   []engine.DataChannelMessage
	threshold uint64
	closedAt  time.Time

	onOpen    func()
	onClose   func()
	onMessage func(engine.DataChannelMessage)
	onError   func(error)
	onLow     func()
}

// NotifyingDataChannel adds engine.LowBufferNotifier.
type NotifyingDataChannel struct {
	*DataChannel
}

func (d *NotifyingDataChannel) SetBufferedAmountLowThreshold(threshold uint64) {
	d.pc.lock()
	defer d.pc.unlock()
	d.threshold = threshold
}

func (d *NotifyingDataChannel) OnBufferedAmountLow(f func()) {
	d.pc.lock()
	defer d.pc.unlock()
	d.onLow = f
}

func (d *DataChannel) Label() string { return d.label }

func (d *DataChannel) ID() *uint16 { return d.id }

func (d *DataChannel) ReadyState() engine.DataChannelState {
	d.pc.lock()
	defer d.pc.unlock()
	return d.state
}

func (d *DataChannel) BufferedAmount() uint64 {
	d.pc.lock()
	defer d.pc.unlock()
	return d.buffered
}

// ReportsClose implements engine.CloseReporter.
func (d *DataChannel) ReportsClose() bool {
	return !d.pc.engine.opts.StuckClosing
}

func (d *DataChannel) Send(data []byte) error {
	return d.send(engine.DataChannelMessage{Data: append([]byte(nil), data...)})
}

func (d *DataChannel) SendText(text string) error {
	return d.send(engine.DataChannelMessage{IsString: true, Data: []byte(text)})
}

func (d *DataChannel) send(msg engine.DataChannelMessage) error {
	d.pc.lock()
	defer d.pc.unlock()
	if d.state != engine.DataChannelStateOpen || d.peer == nil {
		return ErrNotOpen
	}
	if d.pc.engine.opts.StallSend {
		d.buffered += uint64(len(msg.Data))
		d.stalled = append(d.stalled, msg)
		return nil
	}
	d.deliverLocked(msg)
	return nil
}

func (d *DataChannel) deliverLocked(msg engine.DataChannelMessage) {
	peer := d.peer
	if peer == nil || peer.state != engine.DataChannelStateOpen {
		return
	}
	peer.pc.dispatch(func() {
		peer.pc.lock()
		handler := peer.onMessage
		peer.pc.unlock()
		if handler != nil {
			handler(msg)
		}
	})
}

func (d *DataChannel) drainLocked() {
	if len(d.stalled) == 0 {
		return
	}
	crossed := d.buffered > d.threshold
	for _, msg := range d.stalled {
		d.deliverLocked(msg)
	}
	d.stalled = nil
	d.buffered = 0
	if crossed {
		d.fireLocked(func() func() { return d.onLow })
	}
}

// fireLocked dispatches the handler current at delivery time.
func (d *DataChannel) fireLocked(handler func() func()) {
	d.pc.dispatch(func() {
		d.pc.lock()
		fn := handler()
		d.pc.unlock()
		if fn != nil {
			fn()
		}
	})
}

// connectLocked pairs the channel with its remote end once both transports
// are up. Announced channels create the remote end; negotiated ones wait for
// the remote side to create a channel with the same id.
func (d *DataChannel) connectLocked() {
	if d.peer != nil || d.state != engine.DataChannelStateConnecting {
		return
	}
	remote := d.pc.remote

	if d.negotiated {
		for _, r := range remote.channels {
			if r.negotiated && r.peer == nil && *r.id == *d.id && r.state == engine.DataChannelStateConnecting {
				d.peer, r.peer = r, d
				d.openLocked()
				r.openLocked()
				return
			}
		}
		return
	}

	r := &DataChannel{
		pc:    remote,
		label: d.label,
		id:    d.id,
		state: engine.DataChannelStateOpen,
		peer:  d,
	}
	announced := remote.wrap(r)
	remote.channels = append(remote.channels, r)
	d.peer = r

	remote.dispatch(func() {
		remote.lock()
		handler := remote.onDataChannel
		remote.unlock()
		if handler != nil {
			handler(announced)
		}

		remote.lock()
		open := r.onOpen
		remote.unlock()
		if open != nil {
			open()
		}
	})
	d.openLocked()
}

func (d *DataChannel) openLocked() {
	d.state = engine.DataChannelStateOpen
	d.fireLocked(func() func() { return d.onOpen })
}

func (d *DataChannel) closeLocked() {
	if d.state == engine.DataChannelStateClosed {
		return
	}
	d.state = engine.DataChannelStateClosed
	d.stalled = nil
	d.buffered = 0
	d.fireLocked(func() func() { return d.onClose })

	peer := d.peer
	if peer == nil || peer.state == engine.DataChannelStateClosed {
		return
	}
	if d.pc.engine.opts.StuckClosing {
		peer.state = engine.DataChannelStateClosing
		return
	}
	peer.state = engine.DataChannelStateClosed
	peer.fireLocked(func() func() { return peer.onClose })
}

func (d *DataChannel) Close() error {
	d.pc.lock()
	defer d.pc.unlock()
	if d.closedAt.IsZero() {
		d.closedAt = time.Now()
	}
	d.closeLocked()
	return nil
}

// ClosedAt reports when Close was first called on this end, or the zero time.
func (d *DataChannel) ClosedAt() time.Time {
	d.pc.lock()
	defer d.pc.unlock()
	return d.closedAt
}

func (d *DataChannel) OnOpen(f func()) {
	d.pc.lock()
	defer d.pc.unlock()
	d.onOpen = f
}

func (d *DataChannel) OnClose(f func()) {
	d.pc.lock()
	defer d.pc.unlock()
	d.onClose = f
}

func (d *DataChannel) OnMessage(f func(engine.DataChannelMessage)) {
	d.pc.lock()
	defer d.pc.unlock()
	d.onMessage = f
}

func (d *DataChannel) OnError(f func(error)) {
	d.pc.lock()
	defer d.pc.unlock()
	d.onError = f
}
