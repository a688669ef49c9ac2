package pionengine

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/romashorodok/peerstream/pkg/engine"
)

// NewTrack creates a local sample track usable with Session.AddTrack.
func NewTrack(mimeType, id, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, id, streamID)
}

type RemoteTrack struct {
	*webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

func (t *RemoteTrack) Kind() string {
	return t.TrackRemote.Kind().String()
}

type Sender struct {
	*webrtc.RTPSender
}

func (s *Sender) Track() engine.Track {
	track := s.RTPSender.Track()
	if track == nil {
		return nil
	}
	return track
}

func (s *Sender) ReplaceTrack(track engine.Track) error {
	if track == nil {
		return s.RTPSender.ReplaceTrack(nil)
	}
	local, ok := track.(webrtc.TrackLocal)
	if !ok {
		return ErrUnsupportedTrack
	}
	return s.RTPSender.ReplaceTrack(local)
}

// AddTrack accepts webrtc.TrackLocal values, which carry their own stream
// id; streamID must match it.
func (p *PeerConnection) AddTrack(track engine.Track, streamID string) (engine.Sender, error) {
	local, ok := track.(webrtc.TrackLocal)
	if !ok {
		return nil, ErrUnsupportedTrack
	}
	if local.StreamID() != streamID {
		return nil, fmt.Errorf("pionengine: track %s belongs to stream %s, not %s", local.ID(), local.StreamID(), streamID)
	}

	sender, err := p.pc.AddTrack(local)
	if err != nil {
		return nil, err
	}
	// Interceptors only see RTCP that is read.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return &Sender{RTPSender: sender}, nil
}

func (p *PeerConnection) RemoveTrack(sender engine.Sender) error {
	s, ok := sender.(*Sender)
	if !ok {
		return ErrForeignSender
	}
	return p.pc.RemoveTrack(s.RTPSender)
}
