// Package sdputil holds description transforms for peer.Options.SDPTransform.
package sdputil

import (
	"github.com/pion/sdp/v3"
	"github.com/romashorodok/peerstream/pkg/engine"
)

type Transform = func(engine.SessionDescription) engine.SessionDescription

// Chain applies transforms in order.
func Chain(transforms ...Transform) Transform {
	return func(desc engine.SessionDescription) engine.SessionDescription {
		for _, transform := range transforms {
			if transform != nil {
				desc = transform(desc)
			}
		}
		return desc
	}
}

// Bandwidth caps every media section at kbps with a b=AS line, replacing
// any existing one. A description that does not parse is returned as is.
func Bandwidth(kbps uint64) Transform {
	return func(desc engine.SessionDescription) engine.SessionDescription {
		parsed := &sdp.SessionDescription{}
		if err := parsed.UnmarshalString(desc.SDP); err != nil {
			return desc
		}

		for _, media := range parsed.MediaDescriptions {
			bandwidth := media.Bandwidth[:0]
			for _, b := range media.Bandwidth {
				if b.Type != "AS" {
					bandwidth = append(bandwidth, b)
				}
			}
			media.Bandwidth = append(bandwidth, sdp.Bandwidth{Type: "AS", Bandwidth: kbps})
		}

		out, err := parsed.Marshal()
		if err != nil {
			return desc
		}
		desc.SDP = string(out)
		return desc
	}
}

// MediaKinds lists the media section kinds in order, e.g. "application".
func MediaKinds(desc engine.SessionDescription) ([]string, error) {
	parsed := &sdp.SessionDescription{}
	if err := parsed.UnmarshalString(desc.SDP); err != nil {
		return nil, err
	}
	kinds := make([]string, 0, len(parsed.MediaDescriptions))
	for _, media := range parsed.MediaDescriptions {
		kinds = append(kinds, media.MediaName.Media)
	}
	return kinds, nil
}
