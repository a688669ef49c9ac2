// Package engine describes the peer-connection collaborator that a session
// drives. Offer/answer creation, ICE, DTLS, SCTP and media transport all live
// behind these interfaces; the session only ever talks to this shape.
//
// Concrete bindings register themselves with Register, the same way
// database/sql drivers do, so importing a binding for side effects makes it
// the default engine:
//
//	import _ "github.com/romashorodok/peerstream/pkg/engine/pionengine"
package engine

import (
	"errors"
	"sync"
)

var ErrNoEngine = errors.New("no peer connection engine registered")

// Engine creates underlying peer connections.
type Engine interface {
	NewPeerConnection(config Configuration) (PeerConnection, error)
}

// PeerConnection is one underlying connection. Every On* registration
// replaces the previous handler; passing nil detaches it. Handlers may be
// invoked from any goroutine.
type PeerConnection interface {
	CreateOffer(options *OfferOptions) (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(desc SessionDescription) error
	SetRemoteDescription(desc SessionDescription) error
	LocalDescription() *SessionDescription
	RemoteDescription() *SessionDescription
	AddICECandidate(candidate ICECandidateInit) error

	CreateDataChannel(label string, init *DataChannelInit) (DataChannel, error)

	AddTrack(track Track, streamID string) (Sender, error)
	RemoveTrack(sender Sender) error

	SignalingState() SignalingState
	ICEConnectionState() ICEConnectionState
	ICEGatheringState() ICEGatheringState

	// OnICECandidate fires with nil once gathering is complete.
	OnICECandidate(f func(candidate *ICECandidateInit))
	OnICEConnectionStateChange(f func(state ICEConnectionState))
	OnSignalingStateChange(f func(state SignalingState))
	OnDataChannel(f func(channel DataChannel))
	OnTrack(f func(track RemoteTrack))

	Close() error
}

// DataChannel is one underlying data channel handle.
type DataChannel interface {
	Label() string
	ID() *uint16
	ReadyState() DataChannelState
	BufferedAmount() uint64

	Send(data []byte) error
	SendText(text string) error

	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(msg DataChannelMessage))
	OnError(f func(err error))

	Close() error
}

// LowBufferNotifier is implemented by channels that report natively when the
// buffered amount drops to the threshold. Channels without it are polled.
type LowBufferNotifier interface {
	SetBufferedAmountLowThreshold(threshold uint64)
	OnBufferedAmountLow(f func())
}

// CloseReporter is implemented by channels whose close signal is delivered
// even when the channel lingers in the closing state. Channels without it
// are watched for a stuck closing state.
type CloseReporter interface {
	ReportsClose() bool
}

// CandidatePairReporter exposes the selected ICE candidate pair once the
// transport is connected.
type CandidatePairReporter interface {
	SelectedCandidatePair() (local, remote Candidate, ok bool)
}

type DataChannelMessage struct {
	IsString bool
	Data     []byte
}

type DataChannelInit struct {
	Ordered           *bool
	MaxPacketLifeTime *uint16
	MaxRetransmits    *uint16
	Protocol          *string
	Negotiated        *bool
	ID                *uint16
}

type OfferOptions struct {
	ICERestart bool
}

// Candidate is one side of a selected candidate pair.
type Candidate struct {
	Address  string
	Port     uint16
	Protocol string
}

var (
	registryMu    sync.RWMutex
	defaultEngine Engine
)

// Register installs e as the engine used when a session is created without
// one. The last registration wins.
func Register(e Engine) {
	registryMu.Lock()
	defer registryMu.Unlock()
	defaultEngine = e
}

// Default returns the registered engine or ErrNoEngine.
func Default() (Engine, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if defaultEngine == nil {
		return nil, ErrNoEngine
	}
	return defaultEngine, nil
}
