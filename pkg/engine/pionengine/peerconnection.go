package pionengine

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/romashorodok/peerstream/pkg/engine"
)

// handler holds a replaceable callback. Pion calls a registered handler
// even after it is replaced with nil, so every pion callback is registered
// once and forwards to the current value here.
type handler[F any] struct {
	mu sync.Mutex
	fn F
}

func (h *handler[F]) set(fn F) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fn = fn
}

func (h *handler[F]) get() F {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fn
}

type PeerConnection struct {
	pc *webrtc.PeerConnection

	onCandidate   handler[func(*engine.ICECandidateInit)]
	onICEState    handler[func(engine.ICEConnectionState)]
	onSignaling   handler[func(engine.SignalingState)]
	onDataChannel handler[func(engine.DataChannel)]
	onTrack       handler[func(engine.RemoteTrack)]
}

func newPeerConnection(pc *webrtc.PeerConnection) *PeerConnection {
	p := &PeerConnection{pc: pc}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		fn := p.onCandidate.get()
		if fn == nil {
			return
		}
		if candidate == nil {
			fn(nil)
			return
		}
		init := candidate.ToJSON()
		fn(&engine.ICECandidateInit{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if fn := p.onICEState.get(); fn != nil {
			fn(engine.ICEConnectionState(state.String()))
		}
	})
	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		if fn := p.onSignaling.get(); fn != nil {
			fn(engine.SignalingState(state.String()))
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		// Wrapping registers the forwarding callbacks before pion opens
		// the channel.
		wrapped := wrapDataChannel(dc)
		if fn := p.onDataChannel.get(); fn != nil {
			fn(wrapped)
			return
		}
		dc.Close()
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if fn := p.onTrack.get(); fn != nil {
			fn(&RemoteTrack{TrackRemote: track, Receiver: receiver})
		}
	})
	return p
}

// Unwrap exposes the pion connection for media plumbing the contract does
// not cover.
func (p *PeerConnection) Unwrap() *webrtc.PeerConnection {
	return p.pc
}

func toPion(desc engine.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(string(desc.Type)), SDP: desc.SDP}
}

func fromPion(desc webrtc.SessionDescription) engine.SessionDescription {
	return engine.SessionDescription{Type: engine.SDPType(desc.Type.String()), SDP: desc.SDP}
}

func (p *PeerConnection) CreateOffer(options *engine.OfferOptions) (engine.SessionDescription, error) {
	var pionOptions *webrtc.OfferOptions
	if options != nil {
		pionOptions = &webrtc.OfferOptions{ICERestart: options.ICERestart}
	}
	offer, err := p.pc.CreateOffer(pionOptions)
	if err != nil {
		return engine.SessionDescription{}, err
	}
	return fromPion(offer), nil
}

func (p *PeerConnection) CreateAnswer() (engine.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return engine.SessionDescription{}, err
	}
	return fromPion(answer), nil
}

func (p *PeerConnection) SetLocalDescription(desc engine.SessionDescription) error {
	return p.pc.SetLocalDescription(toPion(desc))
}

func (p *PeerConnection) SetRemoteDescription(desc engine.SessionDescription) error {
	return p.pc.SetRemoteDescription(toPion(desc))
}

func (p *PeerConnection) LocalDescription() *engine.SessionDescription {
	desc := p.pc.LocalDescription()
	if desc == nil {
		return nil
	}
	out := fromPion(*desc)
	return &out
}

func (p *PeerConnection) RemoteDescription() *engine.SessionDescription {
	desc := p.pc.RemoteDescription()
	if desc == nil {
		return nil
	}
	out := fromPion(*desc)
	return &out
}

func (p *PeerConnection) AddICECandidate(candidate engine.ICECandidateInit) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	})
}

func (p *PeerConnection) CreateDataChannel(label string, init *engine.DataChannelInit) (engine.DataChannel, error) {
	var pionInit *webrtc.DataChannelInit
	if init != nil {
		pionInit = &webrtc.DataChannelInit{
			Ordered:           init.Ordered,
			MaxPacketLifeTime: init.MaxPacketLifeTime,
			MaxRetransmits:    init.MaxRetransmits,
			Protocol:          init.Protocol,
			Negotiated:        init.Negotiated,
			ID:                init.ID,
		}
	}
	dc, err := p.pc.CreateDataChannel(label, pionInit)
	if err != nil {
		return nil, err
	}
	return wrapDataChannel(dc), nil
}

func (p *PeerConnection) SignalingState() engine.SignalingState {
	return engine.SignalingState(p.pc.SignalingState().String())
}

func (p *PeerConnection) ICEConnectionState() engine.ICEConnectionState {
	return engine.ICEConnectionState(p.pc.ICEConnectionState().String())
}

func (p *PeerConnection) ICEGatheringState() engine.ICEGatheringState {
	return engine.ICEGatheringState(p.pc.ICEGatheringState().String())
}

func (p *PeerConnection) OnICECandidate(f func(*engine.ICECandidateInit)) {
	p.onCandidate.set(f)
}

func (p *PeerConnection) OnICEConnectionStateChange(f func(engine.ICEConnectionState)) {
	p.onICEState.set(f)
}

func (p *PeerConnection) OnSignalingStateChange(f func(engine.SignalingState)) {
	p.onSignaling.set(f)
}

func (p *PeerConnection) OnDataChannel(f func(engine.DataChannel)) {
	p.onDataChannel.set(f)
}

func (p *PeerConnection) OnTrack(f func(engine.RemoteTrack)) {
	p.onTrack.set(f)
}

// SelectedCandidatePair implements engine.CandidatePairReporter.
func (p *PeerConnection) SelectedCandidatePair() (local, remote engine.Candidate, ok bool) {
	sctp := p.pc.SCTP()
	if sctp == nil || sctp.Transport() == nil {
		return engine.Candidate{}, engine.Candidate{}, false
	}
	pair, err := sctp.Transport().ICETransport().GetSelectedCandidatePair()
	if err != nil || pair == nil || pair.Local == nil || pair.Remote == nil {
		return engine.Candidate{}, engine.Candidate{}, false
	}
	return candidate(pair.Local), candidate(pair.Remote), true
}

func candidate(c *webrtc.ICECandidate) engine.Candidate {
	return engine.Candidate{Address: c.Address, Port: c.Port, Protocol: c.Protocol.String()}
}

func (p *PeerConnection) Close() error {
	return p.pc.Close()
}
