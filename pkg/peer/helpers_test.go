package peer

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/romashorodok/peerstream/internal/enginetest"
)

const waitTimeout = 5 * time.Second

func testLogger() *slog.Logger {
	if os.Getenv("PEER_DEBUG") == "" {
		return nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func fastTimeouts() Timeouts {
	return Timeouts{
		CloseDelay:         10 * time.Millisecond,
		ClosingPoll:        20 * time.Millisecond,
		BackpressurePoll:   5 * time.Millisecond,
		FinishLinger:       20 * time.Millisecond,
		ICECompleteTimeout: 50 * time.Millisecond,
	}
}

// recorder drains a session's events, optionally relaying its signals.
type recorder struct {
	mu      sync.Mutex
	events  []Event
	changed chan struct{}
	closed  chan struct{}
}

func record(s *Session, relay func(SignalData)) *recorder {
	r := &recorder{
		changed: make(chan struct{}),
		closed:  make(chan struct{}),
	}
	go func() {
		defer close(r.closed)
		for e := range s.Events() {
			if sig, ok := e.(SignalEvent); ok && relay != nil {
				relay(sig.Data)
			}
			r.mu.Lock()
			r.events = append(r.events, e)
			close(r.changed)
			r.changed = make(chan struct{})
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count(match func(Event) bool) int {
	n := 0
	for _, e := range r.snapshot() {
		if match(e) {
			n++
		}
	}
	return n
}

// wait blocks until the n-th event satisfying match has been recorded.
func (r *recorder) waitN(t *testing.T, n int, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		r.mu.Lock()
		seen := 0
		for _, e := range r.events {
			if match(e) {
				seen++
				if seen == n {
					r.mu.Unlock()
					return e
				}
			}
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-deadline:
			t.Fatalf("timed out waiting for event, have %s", describe(r.snapshot()))
			return nil
		}
	}
}

func (r *recorder) wait(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	return r.waitN(t, 1, match)
}

func (r *recorder) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-r.closed:
	case <-time.After(waitTimeout):
		t.Fatalf("events never closed, have %s", describe(r.snapshot()))
	}
}

func describe(events []Event) string {
	out := "["
	for i, e := range events {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%T", e)
	}
	return out + "]"
}

func is[T Event](e Event) bool {
	_, ok := e.(T)
	return ok
}

func isSignal(e Event) bool { return is[SignalEvent](e) }

func isConnect(e Event) bool { return is[ConnectEvent](e) }

func isClose(e Event) bool { return is[CloseEvent](e) }

func isNegotiated(e Event) bool { return is[NegotiatedEvent](e) }

type pair struct {
	a, b   *Session
	ra, rb *recorder
}

// connectPair creates an initiator and a responder on eng and relays their
// signals until both report connect.
func connectPair(t *testing.T, eng *enginetest.Engine, a, b Options) *pair {
	t.Helper()
	p := startPair(t, eng, a, b)
	p.ra.wait(t, isConnect)
	p.rb.wait(t, isConnect)
	return p
}

func startPair(t *testing.T, eng *enginetest.Engine, a, b Options) *pair {
	t.Helper()
	a.Initiator = true
	a.Engine, b.Engine = eng, eng
	if a.Logger == nil {
		a.Logger = testLogger()
	}
	if b.Logger == nil {
		b.Logger = testLogger()
	}

	sa, err := New(a)
	if err != nil {
		t.Fatal(err)
	}
	sb, err := New(b)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		sa.Destroy(nil)
		sb.Destroy(nil)
	})

	p := &pair{a: sa, b: sb}
	p.ra = record(sa, func(d SignalData) { sb.Signal(d) })
	p.rb = record(sb, func(d SignalData) { sa.Signal(d) })
	return p
}
