package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/romashorodok/peerstream/internal/enginetest"
	"github.com/romashorodok/peerstream/pkg/peer"
)

func TestPipe(t *testing.T) {
	eng := enginetest.New(enginetest.Options{})
	log := slog.New(slog.DiscardHandler)
	timeouts := peer.Timeouts{FinishLinger: 20 * time.Millisecond}

	a, err := peer.New(peer.Options{Initiator: true, Engine: eng, Timeouts: timeouts})
	if err != nil {
		t.Fatal(err)
	}
	b, err := peer.New(peer.Options{Engine: eng, Timeouts: timeouts})
	if err != nil {
		t.Fatal(err)
	}

	relayTo := func(from, to *peer.Session) {
		for e := range from.Events() {
			if sig, ok := e.(peer.SignalEvent); ok {
				to.Signal(sig.Data)
			}
		}
	}
	go relayTo(a, b)
	go relayTo(b, a)

	var received bytes.Buffer
	done := make(chan error, 2)
	go func() { done <- pipe(a, strings.NewReader("stdin line\n"), io.Discard, log) }()
	go func() { done <- pipe(b, blockingReader{}, &received, log) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatal(err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("pipe did not finish after input ended")
		}
	}
	if received.String() != "stdin line\n" {
		t.Fatalf("unexpected output %q", received.String())
	}
}

// blockingReader never produces input, like an idle terminal.
type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	select {}
}
