// Package relay carries a session's signaling over a websocket. Each text
// frame is one JSON signal payload in either direction.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/romashorodok/peerstream/pkg/peer"
	"github.com/romashorodok/peerstream/pkg/wsutils"
	"golang.org/x/sync/errgroup"
)

var ErrSocket = errors.New("relay socket failed")

type Relay struct {
	session *peer.Session
	writer  *wsutils.ThreadSafeWriter
	handle  func(peer.Event)
	log     *slog.Logger
}

// Run relays signals between the session and the socket and hands every
// other event to handle. It owns the session's events and returns once the
// session is destroyed; a socket failure or ctx cancellation destroys it.
func Run(ctx context.Context, session *peer.Session, conn *websocket.Conn, handle func(peer.Event), log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	r := &Relay{
		session: session,
		writer:  wsutils.NewThreadSafeWriter(conn),
		handle:  handle,
		log:     log,
	}
	defer r.writer.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(r.forward)
	g.Go(r.receive)
	g.Go(func() error {
		select {
		case <-ctx.Done():
			r.session.Destroy(context.Cause(ctx))
		case <-r.session.Done():
		}
		if err := r.writer.Close(); err != nil {
			r.log.Debug("close relay socket", slog.String("err", err.Error()))
		}
		return nil
	})
	return g.Wait()
}

// forward drains the events until they close, even after a write failed.
func (r *Relay) forward() error {
	var writeErr error
	for e := range r.session.Events() {
		sig, ok := e.(peer.SignalEvent)
		if !ok {
			if r.handle != nil {
				r.handle(e)
			}
			continue
		}
		if writeErr != nil {
			continue
		}
		if err := r.writer.WriteJSON(sig.Data); err != nil {
			writeErr = fmt.Errorf("%w: write: %w", ErrSocket, err)
			r.session.Destroy(writeErr)
		}
	}
	return writeErr
}

func (r *Relay) receive() error {
	for {
		kind, msg, err := r.writer.ReadMessage()
		if err != nil {
			if r.session.Destroyed() {
				return nil
			}
			err = fmt.Errorf("%w: read: %w", ErrSocket, err)
			r.session.Destroy(err)
			return err
		}
		if kind != websocket.TextMessage {
			r.log.Warn("ignore binary relay frame", slog.Int("size", len(msg)))
			continue
		}
		if err := r.session.Signal(json.RawMessage(msg)); err != nil {
			if errors.Is(err, peer.ErrSessionDestroyed) {
				return nil
			}
			return err
		}
	}
}
