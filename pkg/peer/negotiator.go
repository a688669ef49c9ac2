package peer

import (
	"fmt"
	"log/slog"

	"github.com/romashorodok/peerstream/pkg/engine"
)

// negotiator keeps at most one offer/answer cycle in flight. Requests made
// during a cycle collapse into a single follow-up cycle.
type negotiator struct {
	s *Session

	negotiating bool
	pending     bool
	iceRestart  bool
}

func (n *negotiator) request() {
	s := n.s
	if s.destroying {
		return
	}
	if n.negotiating {
		s.log.Debug("negotiation already in flight, queued")
		n.pending = true
		return
	}
	n.negotiating = true

	if !s.initiator {
		s.log.Debug("request renegotiation from initiator")
		s.emitSignal(SignalData{Type: signalTypeRenegotiate, Renegotiate: true})
		return
	}

	s.log.Debug("start negotiation", slog.Bool("iceRestart", n.iceRestart))
	options := &engine.OfferOptions{ICERestart: n.iceRestart}
	n.iceRestart = false
	s.createOffer(options)
}

func (n *negotiator) stable() {
	n.negotiating = false
	if n.pending {
		n.pending = false
		n.request()
		return
	}
	n.s.log.Debug("negotiated")
	n.s.emit(NegotiatedEvent{})
}

func (s *Session) createOffer(options *engine.OfferOptions) {
	offer, err := s.pc.CreateOffer(options)
	if err != nil {
		s.destroy(fmt.Errorf("%w: create offer: %w", ErrTransport, err))
		return
	}
	offer = s.opts.SDPTransform(offer)
	if err := s.pc.SetLocalDescription(offer); err != nil {
		s.destroy(fmt.Errorf("%w: set local offer: %w", ErrTransport, err))
		return
	}
	s.sendDescription(offer)
}

func (s *Session) createAnswer() {
	answer, err := s.pc.CreateAnswer()
	if err != nil {
		s.destroy(fmt.Errorf("%w: create answer: %w", ErrTransport, err))
		return
	}
	answer = s.opts.SDPTransform(answer)
	if err := s.pc.SetLocalDescription(answer); err != nil {
		s.destroy(fmt.Errorf("%w: set local answer: %w", ErrTransport, err))
		return
	}
	s.sendDescription(answer)
}

// sendDescription emits the local description at once when trickling.
// Otherwise it waits for gathering, bounded by ICECompleteTimeout, so the
// description carries every candidate.
func (s *Session) sendDescription(fallback engine.SessionDescription) {
	if !s.opts.DisableTrickle || s.iceComplete {
		s.emitSignal(s.localDescription(fallback))
		return
	}
	s.awaitingICE = true
	s.descriptionFallback = fallback
	if s.iceCompleteTimer == nil {
		s.iceCompleteTimer = s.loop.AfterFunc(s.opts.Timeouts.ICECompleteTimeout, func() {
			s.log.Debug("ice gathering timed out")
			s.onICEComplete()
		})
	}
}

func (s *Session) localDescription(fallback engine.SessionDescription) SignalData {
	desc := fallback
	if local := s.pc.LocalDescription(); local != nil {
		desc = *local
	}
	return SignalData{Type: string(desc.Type), SDP: desc.SDP}
}

func (s *Session) onICEComplete() {
	if s.destroying {
		return
	}
	s.iceCompleteTimer.Stop()
	s.iceCompleteTimer = nil
	s.iceComplete = true
	if !s.awaitingICE {
		return
	}
	s.awaitingICE = false
	s.emitSignal(s.localDescription(s.descriptionFallback))
}
