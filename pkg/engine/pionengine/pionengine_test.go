package pionengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/romashorodok/peerstream/pkg/engine"
	"github.com/romashorodok/peerstream/pkg/engine/pionengine"
	"github.com/romashorodok/peerstream/pkg/peer"
	"github.com/romashorodok/peerstream/pkg/peer/sdputil"
)

// relay forwards a session's signals to the other side and reports its
// connect and channel events.
func relay(s, to *peer.Session, connected chan<- struct{}, channels chan<- *peer.Channel) {
	for e := range s.Events() {
		switch e := e.(type) {
		case peer.SignalEvent:
			to.Signal(e.Data)
		case peer.ConnectEvent:
			connected <- struct{}{}
		case peer.ChannelOpenedEvent:
			if channels != nil {
				channels <- e.Channel
			}
		}
	}
}

func TestLoopback(t *testing.T) {
	eng, err := pionengine.New(pionengine.Options{IncludeLoopback: true, UDP4Only: true})
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()

	// Empty ICE config means host candidates only.
	a, err := peer.New(peer.Options{
		Initiator:    true,
		Engine:       eng,
		SDPTransform: sdputil.Bandwidth(1024),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Destroy(nil)

	b, err := peer.New(peer.Options{Engine: eng})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Destroy(nil)

	connected := make(chan struct{}, 2)
	channels := make(chan *peer.Channel, 1)
	go relay(a, b, connected, nil)
	go relay(b, a, connected, channels)

	for i := 0; i < 2; i++ {
		select {
		case <-connected:
		case <-time.After(20 * time.Second):
			t.Fatal("sessions never connected")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.Send(ctx, "sup B"); err != nil {
		t.Fatal(err)
	}
	msg, err := b.ReadMessage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Data) != "sup B" || !msg.Text {
		t.Fatalf("unexpected message %+v", msg)
	}

	if b.RemoteAddr() == nil {
		t.Fatal("expected the selected candidate pair")
	}

	local, err := a.CreateDataChannel("files", nil)
	if err != nil {
		t.Fatal(err)
	}
	var remote *peer.Channel
	select {
	case remote = <-channels:
	case <-ctx.Done():
		t.Fatal("named channel never announced")
	}
	if err := local.Send(ctx, []byte{0xca, 0xfe}); err != nil {
		t.Fatal(err)
	}
	msg, err = remote.ReadMessage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(msg.Data) != 2 || msg.Text {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestCapabilities(t *testing.T) {
	eng, err := pionengine.New(pionengine.Options{})
	if err != nil {
		t.Fatal(err)
	}
	pc, err := eng.NewPeerConnection(engine.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()

	if _, ok := pc.(engine.CandidatePairReporter); !ok {
		t.Fatal("expected a candidate pair reporter")
	}
	if _, _, ok := pc.(engine.CandidatePairReporter).SelectedCandidatePair(); ok {
		t.Fatal("selected pair before connecting")
	}

	dc, err := pc.CreateDataChannel("caps", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := dc.(engine.LowBufferNotifier); !ok {
		t.Fatal("expected native low-buffer notification")
	}
	if r, ok := dc.(engine.CloseReporter); !ok || !r.ReportsClose() {
		t.Fatal("expected close reporting")
	}
	if dc.ReadyState() != engine.DataChannelStateConnecting {
		t.Fatalf("unexpected state %s", dc.ReadyState())
	}

	// Detaching handlers is safe.
	dc.OnOpen(nil)
	dc.OnMessage(nil)
	pc.OnDataChannel(nil)

	if _, err := pc.AddTrack(&fakeTrack{}, "stream"); err != pionengine.ErrUnsupportedTrack {
		t.Fatalf("expected %v, got %v", pionengine.ErrUnsupportedTrack, err)
	}

	track, err := pionengine.NewTrack("video/VP8", "camera", "main")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pc.AddTrack(track, "other"); err == nil {
		t.Fatal("expected stream mismatch")
	}
	sender, err := pc.AddTrack(track, "main")
	if err != nil {
		t.Fatal(err)
	}
	if sender.Track().ID() != "camera" {
		t.Fatalf("unexpected sender track %s", sender.Track().ID())
	}
	if err := pc.RemoveTrack(sender); err != nil {
		t.Fatal(err)
	}
}

func TestRegistersDefault(t *testing.T) {
	if _, err := engine.Default(); err != nil {
		t.Fatal(err)
	}
}

type fakeTrack struct{}

func (fakeTrack) ID() string { return "fake" }
