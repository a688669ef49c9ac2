package httpsignal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/peerstream/internal/enginetest"
	"github.com/romashorodok/peerstream/pkg/peer"
	"github.com/romashorodok/peerstream/pkg/protocol"
)

func server(t *testing.T, factory SessionFactory, accept AcceptFunc) *httptest.Server {
	t.Helper()
	router := echo.New()
	ctrl := NewController(NewController_Params{Factory: factory, Accept: accept, Timeout: 2 * time.Second})
	if err := ctrl.Resolve(router); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func waitConnect(t *testing.T, s *peer.Session, seen []peer.Event) {
	t.Helper()
	for _, e := range seen {
		if _, ok := e.(peer.ConnectEvent); ok {
			return
		}
	}
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-s.Events():
			if !ok {
				t.Fatalf("session closed before connect: %v", s.Err())
			}
			if _, ok := e.(peer.ConnectEvent); ok {
				go func() {
					for range s.Events() {
					}
				}()
				return
			}
		case <-timeout:
			t.Fatal("session never connected")
		}
	}
}

func TestOffer(t *testing.T) {
	eng := enginetest.New(enginetest.Options{})

	type accepted struct {
		session *peer.Session
		seen    []peer.Event
	}
	answered := make(chan accepted, 1)
	srv := server(t,
		func() (*peer.Session, error) {
			return peer.New(peer.Options{Engine: eng, DisableTrickle: true})
		},
		func(s *peer.Session, seen []peer.Event) { answered <- accepted{s, seen} },
	)

	a, err := peer.New(peer.Options{Initiator: true, Engine: eng, DisableTrickle: true})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Destroy(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seen, err := Offer(ctx, srv.Client(), srv.URL+protocol.SignalOfferPath, a)
	if err != nil {
		t.Fatal(err)
	}

	var b accepted
	select {
	case b = <-answered:
	case <-ctx.Done():
		t.Fatal("answering session never accepted")
	}
	defer b.session.Destroy(nil)

	waitConnect(t, a, seen)
	waitConnect(t, b.session, b.seen)

	if err := a.Send(ctx, "over http signaling"); err != nil {
		t.Fatal(err)
	}
	msg, err := b.session.ReadMessage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Data) != "over http signaling" {
		t.Fatalf("unexpected message %q", msg.Data)
	}
}

func TestOfferRejected(t *testing.T) {
	eng := enginetest.New(enginetest.Options{})
	srv := server(t, func() (*peer.Session, error) {
		return peer.New(peer.Options{Engine: eng, DisableTrickle: true})
	}, nil)

	for name, tc := range map[string]struct {
		body   string
		status int
	}{
		"Garbage":   {body: "{", status: http.StatusBadRequest},
		"Answer":    {body: `{"type":"answer","sdp":"v=0"}`, status: http.StatusBadRequest},
		"Candidate": {body: `{"candidate":{"candidate":"candidate:1"}}`, status: http.StatusBadRequest},
	} {
		tc := tc
		t.Run(name, func(t *testing.T) {
			resp, err := srv.Client().Post(srv.URL+protocol.SignalOfferPath, "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
		})
	}
}

func TestOfferFactoryFails(t *testing.T) {
	eng := enginetest.New(enginetest.Options{})
	srv := server(t, func() (*peer.Session, error) {
		return nil, peer.ErrConfiguration
	}, nil)

	a, err := peer.New(peer.Options{Initiator: true, Engine: eng, DisableTrickle: true})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Offer(ctx, srv.Client(), srv.URL+protocol.SignalOfferPath, a); !errors.Is(err, ErrResponse) {
		t.Fatalf("expected %v, got %v", ErrResponse, err)
	}
	if !a.Destroyed() || !errors.Is(a.Err(), ErrResponse) {
		t.Fatalf("expected session destroyed with %v, got %v", ErrResponse, a.Err())
	}
}

func TestAwaitDescriptionClosed(t *testing.T) {
	s, err := peer.New(peer.Options{Engine: enginetest.New(enginetest.Options{})})
	if err != nil {
		t.Fatal(err)
	}
	s.Destroy(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := awaitDescription(ctx, s); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected %v, got %v", ErrClosed, err)
	}
}
