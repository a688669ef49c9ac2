package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/romashorodok/peerstream/internal/enginetest"
	"github.com/romashorodok/peerstream/pkg/peer"
)

// pairServer forwards frames between the first two sockets that connect.
func pairServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	var (
		mu      sync.Mutex
		waiting *websocket.Conn
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		other := waiting
		if other == nil {
			waiting = conn
			mu.Unlock()
			return
		}
		waiting = nil
		mu.Unlock()

		pipe := func(from, to *websocket.Conn) {
			defer to.Close()
			for {
				kind, msg, err := from.ReadMessage()
				if err != nil {
					return
				}
				if err := to.WriteMessage(kind, msg); err != nil {
					return
				}
			}
		}
		go pipe(conn, other)
		go pipe(other, conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func TestRun(t *testing.T) {
	server := pairServer(t)
	eng := enginetest.New(enginetest.Options{})

	a, err := peer.New(peer.Options{Initiator: true, Engine: eng})
	if err != nil {
		t.Fatal(err)
	}
	b, err := peer.New(peer.Options{Engine: eng})
	if err != nil {
		t.Fatal(err)
	}

	connected := make(chan struct{}, 2)
	onEvent := func(e peer.Event) {
		if _, ok := e.(peer.ConnectEvent); ok {
			connected <- struct{}{}
		}
	}

	results := make(chan error, 2)
	connA := dial(t, server)
	connB := dial(t, server)
	go func() { results <- Run(context.Background(), a, connA, onEvent, nil) }()
	go func() { results <- Run(context.Background(), b, connB, onEvent, nil) }()

	for i := 0; i < 2; i++ {
		select {
		case <-connected:
		case <-time.After(5 * time.Second):
			t.Fatal("sessions never connected over the relay")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Send(ctx, "through the relay"); err != nil {
		t.Fatal(err)
	}
	msg, err := b.ReadMessage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Data) != "through the relay" {
		t.Fatalf("unexpected message %q", msg.Data)
	}

	a.Destroy(nil)
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err != nil && !errors.Is(err, ErrSocket) {
				t.Fatal(err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("relay did not return after destroy")
		}
	}
	if !b.Destroyed() {
		t.Fatal("peer session still alive")
	}
}

func TestRunSocketFailure(t *testing.T) {
	server := pairServer(t)

	s, err := peer.New(peer.Options{Initiator: true, Engine: enginetest.New(enginetest.Options{})})
	if err != nil {
		t.Fatal(err)
	}

	conn := dial(t, server)
	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), s, conn, nil, nil) }()

	server.CloseClientConnections()
	conn.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrSocket) {
			t.Fatalf("expected %v, got %v", ErrSocket, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not return")
	}
	if !s.Destroyed() || !errors.Is(s.Err(), ErrSocket) {
		t.Fatalf("expected session destroyed with %v, got %v", ErrSocket, s.Err())
	}
}

func TestRunContextCancel(t *testing.T) {
	server := pairServer(t)

	s, err := peer.New(peer.Options{Engine: enginetest.New(enginetest.Options{})})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, s, dial(t, server), nil, nil) }()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay ignored cancellation")
	}
	if !s.Destroyed() {
		t.Fatal("expected session destroyed")
	}
}
