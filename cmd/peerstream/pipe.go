package main

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/romashorodok/peerstream/pkg/peer"
)

// pipe copies in to the session and the session to out. It returns once
// the session stops delivering data. EOF on in ends the session.
func pipe(s *peer.Session, in io.Reader, out io.Writer, log *slog.Logger) error {
	go func() {
		if _, err := io.Copy(s, in); err != nil && !errors.Is(err, peer.ErrChannelClosed) {
			log.Warn("read input", slog.String("err", err.Error()))
		}
		s.End()
	}()

	_, err := io.Copy(out, s)
	if err != nil {
		return err
	}
	return s.Err()
}

func logEvents(log *slog.Logger) func(peer.Event) {
	return func(e peer.Event) {
		switch e := e.(type) {
		case peer.ConnectEvent:
			log.Info("connected")
		case peer.ChannelOpenedEvent:
			log.Info("remote opened channel, closing it", slog.String("channel", e.Channel.Name()))
			e.Channel.Close()
		case peer.ICEStateEvent:
			log.Debug("ice state",
				slog.String("connection", string(e.Connection)),
				slog.String("gathering", string(e.Gathering)),
			)
		case peer.ErrorEvent:
			log.Error("session failed", slog.String("err", e.Err.Error()))
		case peer.CloseEvent:
			log.Info("closed")
		}
	}
}

// drain feeds the session's events to handle until they close.
func drain(s *peer.Session, seen []peer.Event, handle func(peer.Event)) {
	for _, e := range seen {
		handle(e)
	}
	for e := range s.Events() {
		handle(e)
	}
}

// lockedWriter serializes writes from several sessions onto one stream.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
