package peer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/romashorodok/peerstream/pkg/engine"
)

var errStreamRequired = fmt.Errorf("%w: stream is a required parameter", ErrInvalidArgument)

func (s *Session) AddStream(stream engine.Stream) error {
	return s.call(func() error {
		if err := s.addStream(stream); err != nil {
			return err
		}
		s.negotiator.request()
		return nil
	})
}

func (s *Session) RemoveStream(stream engine.Stream) error {
	return s.call(func() error {
		if stream == nil {
			return errStreamRequired
		}
		var errs []error
		for _, track := range stream.Tracks() {
			errs = append(errs, s.removeTrack(track, stream))
		}
		s.negotiator.request()
		return errors.Join(errs...)
	})
}

func (s *Session) AddTrack(track engine.Track, stream engine.Stream) error {
	return s.call(func() error {
		if err := s.addTrack(track, stream); err != nil {
			return err
		}
		s.negotiator.request()
		return nil
	})
}

func (s *Session) RemoveTrack(track engine.Track, stream engine.Stream) error {
	return s.call(func() error {
		if err := s.removeTrack(track, stream); err != nil {
			return err
		}
		s.negotiator.request()
		return nil
	})
}

// ReplaceTrack swaps the track behind an existing sender.
func (s *Session) ReplaceTrack(oldTrack, newTrack engine.Track, stream engine.Stream) error {
	return s.call(func() error {
		if stream == nil {
			return errStreamRequired
		}
		if oldTrack == nil || newTrack == nil {
			return fmt.Errorf("%w: track is required", ErrInvalidArgument)
		}
		sender, ok := s.senders[oldTrack.ID()][stream.ID()]
		if !ok {
			return fmt.Errorf("%w: cannot replace track that was never added", ErrInvalidArgument)
		}
		if err := sender.ReplaceTrack(newTrack); err != nil {
			return fmt.Errorf("%w: replace track: %w", ErrTransport, err)
		}
		s.forgetSender(oldTrack.ID(), stream.ID())
		s.rememberSender(newTrack.ID(), stream.ID(), sender)
		s.negotiator.request()
		return nil
	})
}

func (s *Session) addStream(stream engine.Stream) error {
	if stream == nil {
		return errStreamRequired
	}
	for _, track := range stream.Tracks() {
		if err := s.addTrack(track, stream); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) addTrack(track engine.Track, stream engine.Stream) error {
	if stream == nil {
		return errStreamRequired
	}
	if track == nil {
		return fmt.Errorf("%w: track is required", ErrInvalidArgument)
	}
	if _, exists := s.senders[track.ID()][stream.ID()]; exists {
		return fmt.Errorf("%w: track %s already added to stream %s", ErrInvalidArgument, track.ID(), stream.ID())
	}

	sender, err := s.pc.AddTrack(track, stream.ID())
	if err != nil {
		return fmt.Errorf("%w: add track: %w", ErrTransport, err)
	}
	s.rememberSender(track.ID(), stream.ID(), sender)
	s.log.Debug("add track", slog.String("track", track.ID()), slog.String("stream", stream.ID()))
	return nil
}

func (s *Session) removeTrack(track engine.Track, stream engine.Stream) error {
	if stream == nil {
		return errStreamRequired
	}
	if track == nil {
		return fmt.Errorf("%w: track is required", ErrInvalidArgument)
	}
	sender, ok := s.senders[track.ID()][stream.ID()]
	if !ok {
		return fmt.Errorf("%w: cannot remove track that was never added", ErrInvalidArgument)
	}
	if err := s.pc.RemoveTrack(sender); err != nil {
		return fmt.Errorf("%w: remove track: %w", ErrTransport, err)
	}
	s.forgetSender(track.ID(), stream.ID())
	s.log.Debug("remove track", slog.String("track", track.ID()), slog.String("stream", stream.ID()))
	return nil
}

func (s *Session) rememberSender(trackID, streamID string, sender engine.Sender) {
	byStream, ok := s.senders[trackID]
	if !ok {
		byStream = make(map[string]engine.Sender)
		s.senders[trackID] = byStream
	}
	byStream[streamID] = sender
}

func (s *Session) forgetSender(trackID, streamID string) {
	delete(s.senders[trackID], streamID)
	if len(s.senders[trackID]) == 0 {
		delete(s.senders, trackID)
	}
}
