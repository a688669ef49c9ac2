package peer

import (
	"encoding/json"
	"fmt"

	"github.com/romashorodok/peerstream/pkg/engine"
)

const signalTypeRenegotiate = "renegotiate"

// SignalData is the payload relayed between peers. It holds exactly one of
// a description, a candidate, or a renegotiate request.
type SignalData struct {
	Type        string                   `json:"type,omitempty"`
	SDP         string                   `json:"sdp,omitempty"`
	Candidate   *engine.ICECandidateInit `json:"candidate,omitempty"`
	Renegotiate bool                     `json:"renegotiate,omitempty"`
}

type signalKind int

const (
	signalInvalid signalKind = iota
	signalDescription
	signalCandidate
	signalRenegotiate
)

func (d SignalData) kind() signalKind {
	switch {
	case d.Renegotiate || d.Type == signalTypeRenegotiate:
		return signalRenegotiate
	case d.Candidate != nil:
		return signalCandidate
	case d.SDP != "":
		switch engine.SDPType(d.Type) {
		case engine.SDPTypeOffer, engine.SDPTypeAnswer, engine.SDPTypePranswer, engine.SDPTypeRollback:
			return signalDescription
		}
	}
	return signalInvalid
}

func (d SignalData) description() engine.SessionDescription {
	return engine.SessionDescription{Type: engine.SDPType(d.Type), SDP: d.SDP}
}

// UnmarshalJSON keeps an explicit null candidate as an end-of-candidates
// marker instead of dropping the field.
func (d *SignalData) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	type plain SignalData
	var out plain
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	if _, ok := fields["candidate"]; ok && out.Candidate == nil {
		out.Candidate = &engine.ICECandidateInit{}
	}
	*d = SignalData(out)
	return nil
}

func (d SignalData) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

func parseSignal(data any) (SignalData, error) {
	var raw []byte
	switch v := data.(type) {
	case SignalData:
		return v, nil
	case *SignalData:
		if v == nil {
			return SignalData{}, ErrSignaling
		}
		return *v, nil
	case engine.SessionDescription:
		return SignalData{Type: string(v.Type), SDP: v.SDP}, nil
	case engine.ICECandidateInit:
		return SignalData{Candidate: &v}, nil
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	case string:
		raw = []byte(v)
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return SignalData{}, fmt.Errorf("%w: %w", ErrSignaling, err)
		}
		raw = b
	default:
		return SignalData{}, fmt.Errorf("%w: unsupported type %T", ErrSignaling, data)
	}

	var out SignalData
	if err := json.Unmarshal(raw, &out); err != nil {
		return SignalData{}, fmt.Errorf("%w: %w", ErrSignaling, err)
	}
	return out, nil
}
