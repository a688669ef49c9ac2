package engine

type SDPType string

const (
	SDPTypeOffer    SDPType = "offer"
	SDPTypeAnswer   SDPType = "answer"
	SDPTypePranswer SDPType = "pranswer"
	SDPTypeRollback SDPType = "rollback"
)

type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ICECandidateInit mirrors the browser RTCIceCandidateInit dictionary.
type ICECandidateInit struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type ICEConnectionState string

const (
	ICEConnectionStateNew          ICEConnectionState = "new"
	ICEConnectionStateChecking     ICEConnectionState = "checking"
	ICEConnectionStateConnected    ICEConnectionState = "connected"
	ICEConnectionStateCompleted    ICEConnectionState = "completed"
	ICEConnectionStateDisconnected ICEConnectionState = "disconnected"
	ICEConnectionStateFailed       ICEConnectionState = "failed"
	ICEConnectionStateClosed       ICEConnectionState = "closed"
)

type ICEGatheringState string

const (
	ICEGatheringStateNew       ICEGatheringState = "new"
	ICEGatheringStateGathering ICEGatheringState = "gathering"
	ICEGatheringStateComplete  ICEGatheringState = "complete"
)

type SignalingState string

const (
	SignalingStateStable             SignalingState = "stable"
	SignalingStateHaveLocalOffer     SignalingState = "have-local-offer"
	SignalingStateHaveRemoteOffer    SignalingState = "have-remote-offer"
	SignalingStateHaveLocalPranswer  SignalingState = "have-local-pranswer"
	SignalingStateHaveRemotePranswer SignalingState = "have-remote-pranswer"
	SignalingStateClosed             SignalingState = "closed"
)

type DataChannelState string

const (
	DataChannelStateConnecting DataChannelState = "connecting"
	DataChannelStateOpen       DataChannelState = "open"
	DataChannelStateClosing    DataChannelState = "closing"
	DataChannelStateClosed     DataChannelState = "closed"
)

// Track is a local media track. Bindings decide which concrete track types
// they accept.
type Track interface {
	ID() string
}

// Stream groups local tracks under one stream id.
type Stream interface {
	ID() string
	Tracks() []Track
}

// RemoteTrack is a track announced by the remote peer.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() string
}

// Sender is the local sending side of an added track.
type Sender interface {
	Track() Track
	ReplaceTrack(track Track) error
}

// MediaStream is a plain Stream implementation.
type MediaStream struct {
	StreamID    string
	StreamTrack []Track
}

func NewMediaStream(id string, tracks ...Track) *MediaStream {
	return &MediaStream{StreamID: id, StreamTrack: tracks}
}

func (m *MediaStream) ID() string      { return m.StreamID }
func (m *MediaStream) Tracks() []Track { return m.StreamTrack }

type ICEServer struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username,omitempty" json:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty" json:"credential,omitempty"`
}

// Configuration is handed to the engine untouched. Constraints carries
// binding-specific values the core does not interpret.
type Configuration struct {
	ICEServers         []ICEServer    `yaml:"iceServers" json:"iceServers"`
	ICETransportPolicy string         `yaml:"iceTransportPolicy,omitempty" json:"iceTransportPolicy,omitempty"`
	Constraints        map[string]any `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

// DefaultConfiguration returns a fresh configuration with public STUN
// servers. Callers own the returned value.
func DefaultConfiguration() Configuration {
	return Configuration{
		ICEServers: []ICEServer{
			{URLs: []string{
				"stun:stun.l.google.com:19302",
				"stun:global.stun.twilio.com:3478",
			}},
		},
	}
}
