package pionengine

import (
	"github.com/pion/webrtc/v4"
	"github.com/romashorodok/peerstream/pkg/engine"
)

// DataChannel implements engine.DataChannel, engine.LowBufferNotifier and
// engine.CloseReporter.
type DataChannel struct {
	dc *webrtc.DataChannel

	onOpen    handler[func()]
	onClose   handler[func()]
	onMessage handler[func(engine.DataChannelMessage)]
	onError   handler[func(error)]
	onLow     handler[func()]
}

func wrapDataChannel(dc *webrtc.DataChannel) *DataChannel {
	d := &DataChannel{dc: dc}
	dc.OnOpen(func() {
		if fn := d.onOpen.get(); fn != nil {
			fn()
		}
	})
	dc.OnClose(func() {
		if fn := d.onClose.get(); fn != nil {
			fn()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if fn := d.onMessage.get(); fn != nil {
			fn(engine.DataChannelMessage{IsString: msg.IsString, Data: msg.Data})
		}
	})
	dc.OnError(func(err error) {
		if fn := d.onError.get(); fn != nil {
			fn(err)
		}
	})
	dc.OnBufferedAmountLow(func() {
		if fn := d.onLow.get(); fn != nil {
			fn()
		}
	})
	return d
}

func (d *DataChannel) Label() string { return d.dc.Label() }

func (d *DataChannel) ID() *uint16 { return d.dc.ID() }

func (d *DataChannel) ReadyState() engine.DataChannelState {
	return engine.DataChannelState(d.dc.ReadyState().String())
}

func (d *DataChannel) BufferedAmount() uint64 { return d.dc.BufferedAmount() }

func (d *DataChannel) Send(data []byte) error { return d.dc.Send(data) }

func (d *DataChannel) SendText(text string) error { return d.dc.SendText(text) }

func (d *DataChannel) OnOpen(f func()) { d.onOpen.set(f) }

func (d *DataChannel) OnClose(f func()) { d.onClose.set(f) }

func (d *DataChannel) OnMessage(f func(engine.DataChannelMessage)) { d.onMessage.set(f) }

func (d *DataChannel) OnError(f func(error)) { d.onError.set(f) }

func (d *DataChannel) SetBufferedAmountLowThreshold(threshold uint64) {
	d.dc.SetBufferedAmountLowThreshold(threshold)
}

func (d *DataChannel) OnBufferedAmountLow(f func()) { d.onLow.set(f) }

// ReportsClose implements engine.CloseReporter. Pion delivers the close
// once the stream reset completes.
func (d *DataChannel) ReportsClose() bool { return true }

func (d *DataChannel) Close() error { return d.dc.Close() }
