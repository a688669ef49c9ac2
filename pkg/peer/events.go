package peer

import "github.com/romashorodok/peerstream/pkg/engine"

// Event is one of the session events below. The set is closed; switch on
// the concrete type.
type Event interface {
	sessionEvent()
}

// SignalEvent carries a payload the application must relay to the remote
// peer's Signal.
type SignalEvent struct {
	Data SignalData
}

type ConnectEvent struct{}

// ChannelOpenedEvent announces a named channel created by the remote peer.
type ChannelOpenedEvent struct {
	Channel *Channel
}

// NegotiatedEvent fires when an offer/answer cycle settles.
type NegotiatedEvent struct{}

// StreamEvent fires once per remote stream, on its first track.
type StreamEvent struct {
	StreamID string
}

type TrackEvent struct {
	Track    engine.RemoteTrack
	StreamID string
}

type ICEStateEvent struct {
	Connection engine.ICEConnectionState
	Gathering  engine.ICEGatheringState
}

type SignalingStateEvent struct {
	State engine.SignalingState
}

type ErrorEvent struct {
	Err error
}

// CloseEvent is always the last event.
type CloseEvent struct{}

func (SignalEvent) sessionEvent()         {}
func (ConnectEvent) sessionEvent()        {}
func (ChannelOpenedEvent) sessionEvent()  {}
func (NegotiatedEvent) sessionEvent()     {}
func (StreamEvent) sessionEvent()         {}
func (TrackEvent) sessionEvent()          {}
func (ICEStateEvent) sessionEvent()       {}
func (SignalingStateEvent) sessionEvent() {}
func (ErrorEvent) sessionEvent()          {}
func (CloseEvent) sessionEvent()          {}
