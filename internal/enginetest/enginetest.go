// Package enginetest is an in-memory peer connection engine for tests.
//
// Two connections created by the same Engine find each other through the
// descriptions they exchange. The transport comes up once both sides hold a
// local and a remote description and know one remote candidate; channels
// then open and messages are delivered between them. Every callback runs on
// a per-connection event loop, in the order the fake produced it.
package enginetest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/romashorodok/peerstream/pkg/engine"
	"github.com/romashorodok/peerstream/pkg/eventloop"
)

var (
	ErrClosed       = errors.New("enginetest: connection closed")
	ErrNotOpen      = errors.New("enginetest: channel not open")
	ErrWrongState   = errors.New("enginetest: wrong signaling state")
	ErrNoRemote     = errors.New("enginetest: remote description not set")
	ErrUnknownTrack = errors.New("enginetest: unknown sender")
)

type Options struct {
	// NoLowBufferNotify makes channels lack engine.LowBufferNotifier, so
	// backpressure is polled.
	NoLowBufferNotify bool
	// StuckClosing leaves the remote end of a closed channel in the closing
	// state without a close event.
	StuckClosing bool
	// StallSend keeps sent messages buffered until Drain.
	StallSend bool
	// NoGatheringComplete never reports the end of candidate gathering.
	NoGatheringComplete bool
	// FailNewPeerConnection makes NewPeerConnection fail.
	FailNewPeerConnection bool
}

type Engine struct {
	opts Options

	mu    sync.Mutex
	peers map[string]*PeerConnection
	port  uint16
}

func New(opts Options) *Engine {
	return &Engine{
		opts:  opts,
		peers: make(map[string]*PeerConnection),
		port:  50000,
	}
}

func (e *Engine) NewPeerConnection(config engine.Configuration) (engine.PeerConnection, error) {
	if e.opts.FailNewPeerConnection {
		return nil, errors.New("enginetest: peer connection unavailable")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.port++
	pc := &PeerConnection{
		engine:    e,
		id:        uuid.NewString(),
		config:    config,
		port:      e.port,
		ufrag:     uuid.NewString()[:8],
		events:    eventloop.New(),
		signaling: engine.SignalingStateStable,
		ice:       engine.ICEConnectionStateNew,
		gathering: engine.ICEGatheringStateNew,
		seenTrack: make(map[string]struct{}),
	}
	e.peers[pc.id] = pc
	return pc, nil
}

// Peers returns every connection created so far.
func (e *Engine) Peers() []*PeerConnection {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*PeerConnection, 0, len(e.peers))
	for _, pc := range e.peers {
		out = append(out, pc)
	}
	return out
}

// Drain delivers every stalled message and empties the send buffers.
func (e *Engine) Drain() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, pc := range e.peers {
		for _, dc := range pc.channels {
			dc.drainLocked()
		}
	}
}

type PeerConnection struct {
	engine *Engine
	id     string
	config engine.Configuration
	port   uint16
	ufrag  string
	events *eventloop.Loop

	// guarded by engine.mu
	remote           *PeerConnection
	local            *engine.SessionDescription
	remoteDesc       *engine.SessionDescription
	signaling        engine.SignalingState
	ice              engine.ICEConnectionState
	gathering        engine.ICEGatheringState
	candidate        string
	remoteCandidates []string
	transportUp      bool
	closed           bool
	channels         []*DataChannel
	senders          []*Sender
	seenTrack        map[string]struct{}
	nextID           uint16

	onCandidate      func(*engine.ICECandidateInit)
	onICEState       func(engine.ICEConnectionState)
	onSignalingState func(engine.SignalingState)
	onDataChannel    func(engine.DataChannel)
	onTrack          func(engine.RemoteTrack)
}

func (p *PeerConnection) ID() string { return p.id }

func (p *PeerConnection) lock()   { p.engine.mu.Lock() }
func (p *PeerConnection) unlock() { p.engine.mu.Unlock() }

// dispatch runs fn on the connection's callback loop.
func (p *PeerConnection) dispatch(fn func()) {
	p.events.Post(fn)
}

func (p *PeerConnection) candidateLine() string {
	return fmt.Sprintf("candidate:1 1 udp 2130706431 127.0.0.1 %d typ host", p.port)
}

func (p *PeerConnection) sdpLocked() string {
	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=- %d 2 IN IP4 127.0.0.1\r\n", p.port)
	fmt.Fprintf(&b, "s=-\r\n")
	fmt.Fprintf(&b, "t=0 0\r\n")
	fmt.Fprintf(&b, "a=fake-peer:%s\r\n", p.id)
	fmt.Fprintf(&b, "a=ice-ufrag:%s\r\n", p.ufrag)
	fmt.Fprintf(&b, "m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n")
	fmt.Fprintf(&b, "c=IN IP4 0.0.0.0\r\n")
	fmt.Fprintf(&b, "a=mid:0\r\n")
	for _, sender := range p.senders {
		if sender.track == nil {
			continue
		}
		fmt.Fprintf(&b, "a=msid:%s %s\r\n", sender.streamID, sender.track.ID())
	}
	return b.String()
}

func withCandidate(sdp, candidate string) string {
	if candidate == "" || strings.Contains(sdp, "a="+candidate) {
		return sdp
	}
	return sdp + "a=" + candidate + "\r\n"
}

func sdpAttr(sdp, key string) []string {
	var out []string
	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "a="+key); ok {
			out = append(out, strings.TrimPrefix(v, ":"))
		}
	}
	return out
}

func (p *PeerConnection) CreateOffer(options *engine.OfferOptions) (engine.SessionDescription, error) {
	p.lock()
	defer p.unlock()
	if p.closed {
		return engine.SessionDescription{}, ErrClosed
	}
	if options != nil && options.ICERestart {
		p.ufrag = uuid.NewString()[:8]
	}
	return engine.SessionDescription{Type: engine.SDPTypeOffer, SDP: p.sdpLocked()}, nil
}

func (p *PeerConnection) CreateAnswer() (engine.SessionDescription, error) {
	p.lock()
	defer p.unlock()
	if p.closed {
		return engine.SessionDescription{}, ErrClosed
	}
	if p.signaling != engine.SignalingStateHaveRemoteOffer {
		return engine.SessionDescription{}, fmt.Errorf("%w: create answer in %s", ErrWrongState, p.signaling)
	}
	return engine.SessionDescription{Type: engine.SDPTypeAnswer, SDP: p.sdpLocked()}, nil
}

func (p *PeerConnection) SetLocalDescription(desc engine.SessionDescription) error {
	p.lock()
	defer p.unlock()
	if p.closed {
		return ErrClosed
	}

	switch desc.Type {
	case engine.SDPTypeOffer:
		if p.signaling != engine.SignalingStateStable && p.signaling != engine.SignalingStateHaveLocalOffer {
			return fmt.Errorf("%w: local offer in %s", ErrWrongState, p.signaling)
		}
		p.setSignalingLocked(engine.SignalingStateHaveLocalOffer)
	case engine.SDPTypeAnswer:
		if p.signaling != engine.SignalingStateHaveRemoteOffer {
			return fmt.Errorf("%w: local answer in %s", ErrWrongState, p.signaling)
		}
		p.setSignalingLocked(engine.SignalingStateStable)
	default:
		return fmt.Errorf("%w: local %s", ErrWrongState, desc.Type)
	}

	local := desc
	p.local = &local
	p.gatherLocked()
	p.checkTransportLocked()
	return nil
}

func (p *PeerConnection) gatherLocked() {
	if p.gathering != engine.ICEGatheringStateNew {
		return
	}
	p.gathering = engine.ICEGatheringStateGathering
	p.candidate = p.candidateLine()

	mid, index := "0", uint16(0)
	candidate := &engine.ICECandidateInit{Candidate: p.candidate, SDPMid: &mid, SDPMLineIndex: &index}
	complete := !p.engine.opts.NoGatheringComplete
	if complete {
		p.gathering = engine.ICEGatheringStateComplete
	}

	p.dispatch(func() {
		p.lock()
		handler := p.onCandidate
		p.unlock()
		if handler == nil {
			return
		}
		handler(candidate)
		if complete {
			handler(nil)
		}
	})
}

func (p *PeerConnection) SetRemoteDescription(desc engine.SessionDescription) error {
	p.lock()
	defer p.unlock()
	if p.closed {
		return ErrClosed
	}

	switch desc.Type {
	case engine.SDPTypeOffer:
		if p.signaling != engine.SignalingStateStable && p.signaling != engine.SignalingStateHaveRemoteOffer {
			return fmt.Errorf("%w: remote offer in %s", ErrWrongState, p.signaling)
		}
		p.setSignalingLocked(engine.SignalingStateHaveRemoteOffer)
	case engine.SDPTypeAnswer:
		if p.signaling != engine.SignalingStateHaveLocalOffer {
			return fmt.Errorf("%w: remote answer in %s", ErrWrongState, p.signaling)
		}
		p.setSignalingLocked(engine.SignalingStateStable)
	case engine.SDPTypeRollback:
		p.setSignalingLocked(engine.SignalingStateStable)
		return nil
	default:
		return fmt.Errorf("%w: remote %s", ErrWrongState, desc.Type)
	}

	ids := sdpAttr(desc.SDP, "fake-peer")
	if len(ids) == 0 {
		return errors.New("enginetest: description has no peer id")
	}
	remote, ok := p.engine.peers[ids[0]]
	if !ok || remote == p {
		return fmt.Errorf("enginetest: unknown peer %s", ids[0])
	}
	p.remote = remote

	remoteDesc := desc
	p.remoteDesc = &remoteDesc
	for _, line := range sdpAttr(desc.SDP, "candidate") {
		p.remoteCandidates = append(p.remoteCandidates, "candidate:"+line)
	}
	p.announceTracksLocked(desc.SDP)
	p.checkTransportLocked()
	return nil
}

func (p *PeerConnection) announceTracksLocked(sdp string) {
	for _, msid := range sdpAttr(sdp, "msid") {
		streamID, trackID, ok := strings.Cut(msid, " ")
		if !ok {
			continue
		}
		key := streamID + "/" + trackID
		if _, seen := p.seenTrack[key]; seen {
			continue
		}
		p.seenTrack[key] = struct{}{}
		track := &RemoteTrack{id: trackID, streamID: streamID, kind: "video"}
		p.dispatch(func() {
			p.lock()
			handler := p.onTrack
			p.unlock()
			if handler != nil {
				handler(track)
			}
		})
	}
}

func (p *PeerConnection) setSignalingLocked(state engine.SignalingState) {
	if p.signaling == state {
		return
	}
	p.signaling = state
	p.dispatch(func() {
		p.lock()
		handler := p.onSignalingState
		p.unlock()
		if handler != nil {
			handler(state)
		}
	})
}

func (p *PeerConnection) setICELocked(state engine.ICEConnectionState) {
	if p.ice == state {
		return
	}
	p.ice = state
	p.dispatch(func() {
		p.lock()
		handler := p.onICEState
		p.unlock()
		if handler != nil {
			handler(state)
		}
	})
}

// InjectICEState forces an ICE connection state change, as a network event
// would.
func (p *PeerConnection) InjectICEState(state engine.ICEConnectionState) {
	p.lock()
	defer p.unlock()
	p.setICELocked(state)
}

func (p *PeerConnection) LocalDescription() *engine.SessionDescription {
	p.lock()
	defer p.unlock()
	if p.local == nil {
		return nil
	}
	desc := *p.local
	desc.SDP = withCandidate(desc.SDP, p.candidate)
	return &desc
}

func (p *PeerConnection) RemoteDescription() *engine.SessionDescription {
	p.lock()
	defer p.unlock()
	if p.remoteDesc == nil {
		return nil
	}
	desc := *p.remoteDesc
	return &desc
}

func (p *PeerConnection) AddICECandidate(candidate engine.ICECandidateInit) error {
	p.lock()
	defer p.unlock()
	if p.closed {
		return ErrClosed
	}
	if p.remoteDesc == nil {
		return ErrNoRemote
	}
	if !strings.HasPrefix(candidate.Candidate, "candidate:") {
		return fmt.Errorf("enginetest: malformed candidate %q", candidate.Candidate)
	}
	p.remoteCandidates = append(p.remoteCandidates, candidate.Candidate)
	p.checkTransportLocked()
	return nil
}

// RemoteCandidates lists the candidates applied so far.
func (p *PeerConnection) RemoteCandidates() []string {
	p.lock()
	defer p.unlock()
	return append([]string(nil), p.remoteCandidates...)
}

func (p *PeerConnection) readyLocked() bool {
	return !p.closed && p.local != nil && p.remoteDesc != nil && p.remote != nil && len(p.remoteCandidates) > 0
}

func (p *PeerConnection) checkTransportLocked() {
	if p.transportUp || !p.readyLocked() {
		return
	}
	p.setICELocked(engine.ICEConnectionStateChecking)
	p.setICELocked(engine.ICEConnectionStateConnected)
	p.transportUp = true

	remote := p.remote
	if !remote.transportUp {
		return
	}
	for _, dc := range p.channels {
		dc.connectLocked()
	}
	for _, dc := range remote.channels {
		dc.connectLocked()
	}
}

func (p *PeerConnection) CreateDataChannel(label string, init *engine.DataChannelInit) (engine.DataChannel, error) {
	p.lock()
	defer p.unlock()
	if p.closed {
		return nil, ErrClosed
	}

	base := &DataChannel{
		pc:    p,
		label: label,
		state: engine.DataChannelStateConnecting,
	}
	if init != nil && init.Negotiated != nil && *init.Negotiated && init.ID != nil {
		base.negotiated = true
		id := *init.ID
		base.id = &id
	} else {
		id := p.nextID
		p.nextID += 2
		base.id = &id
	}

	dc := p.wrap(base)
	p.channels = append(p.channels, base)
	if p.transportUp && p.remote != nil && p.remote.transportUp {
		base.connectLocked()
	}
	return dc, nil
}

func (p *PeerConnection) wrap(base *DataChannel) engine.DataChannel {
	if p.engine.opts.NoLowBufferNotify {
		return base
	}
	return &NotifyingDataChannel{DataChannel: base}
}

func (p *PeerConnection) AddTrack(track engine.Track, streamID string) (engine.Sender, error) {
	p.lock()
	defer p.unlock()
	if p.closed {
		return nil, ErrClosed
	}
	sender := &Sender{pc: p, track: track, streamID: streamID}
	p.senders = append(p.senders, sender)
	return sender, nil
}

func (p *PeerConnection) RemoveTrack(sender engine.Sender) error {
	p.lock()
	defer p.unlock()
	for i, s := range p.senders {
		if s == sender {
			p.senders = append(p.senders[:i], p.senders[i+1:]...)
			return nil
		}
	}
	return ErrUnknownTrack
}

func (p *PeerConnection) SignalingState() engine.SignalingState {
	p.lock()
	defer p.unlock()
	return p.signaling
}

func (p *PeerConnection) ICEConnectionState() engine.ICEConnectionState {
	p.lock()
	defer p.unlock()
	return p.ice
}

func (p *PeerConnection) ICEGatheringState() engine.ICEGatheringState {
	p.lock()
	defer p.unlock()
	return p.gathering
}

func (p *PeerConnection) OnICECandidate(f func(*engine.ICECandidateInit)) {
	p.lock()
	defer p.unlock()
	p.onCandidate = f
}

func (p *PeerConnection) OnICEConnectionStateChange(f func(engine.ICEConnectionState)) {
	p.lock()
	defer p.unlock()
	p.onICEState = f
}

func (p *PeerConnection) OnSignalingStateChange(f func(engine.SignalingState)) {
	p.lock()
	defer p.unlock()
	p.onSignalingState = f
}

func (p *PeerConnection) OnDataChannel(f func(engine.DataChannel)) {
	p.lock()
	defer p.unlock()
	p.onDataChannel = f
}

func (p *PeerConnection) OnTrack(f func(engine.RemoteTrack)) {
	p.lock()
	defer p.unlock()
	p.onTrack = f
}

// SelectedCandidatePair implements engine.CandidatePairReporter.
func (p *PeerConnection) SelectedCandidatePair() (local, remote engine.Candidate, ok bool) {
	p.lock()
	defer p.unlock()
	if !p.transportUp || p.remote == nil {
		return engine.Candidate{}, engine.Candidate{}, false
	}
	local = engine.Candidate{Address: "127.0.0.1", Port: p.port, Protocol: "udp"}
	remote = engine.Candidate{Address: "127.0.0.1", Port: p.remote.port, Protocol: "udp"}
	return local, remote, true
}

// Close closes every channel and tells the remote side the transport is
// gone.
func (p *PeerConnection) Close() error {
	p.lock()
	defer p.unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, dc := range p.channels {
		dc.closeLocked()
	}
	p.setSignalingLocked(engine.SignalingStateClosed)
	p.setICELocked(engine.ICEConnectionStateClosed)

	if remote := p.remote; remote != nil && !remote.closed && remote.remote == p {
		remote.setICELocked(engine.ICEConnectionStateDisconnected)
	}

	events := p.events
	p.dispatch(events.Stop)
	return nil
}

func (p *PeerConnection) Closed() bool {
	p.lock()
	defer p.unlock()
	return p.closed
}

type RemoteTrack struct {
	id       string
	streamID string
	kind     string
}

func (t *RemoteTrack) ID() string       { return t.id }
func (t *RemoteTrack) StreamID() string { return t.streamID }
func (t *RemoteTrack) Kind() string     { return t.kind }

// Track is a local track for tests.
type Track struct {
	TrackID string
}

func (t *Track) ID() string { return t.TrackID }

type Sender struct {
	pc       *PeerConnection
	track    engine.Track
	streamID string
}

func (s *Sender) Track() engine.Track {
	s.pc.lock()
	defer s.pc.unlock()
	return s.track
}

func (s *Sender) ReplaceTrack(track engine.Track) error {
	s.pc.lock()
	defer s.pc.unlock()
	s.track = track
	return nil
}
