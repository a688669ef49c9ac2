package sdputil

import (
	"strings"
	"testing"

	"github.com/romashorodok/peerstream/pkg/engine"
)

const offer = "v=0\r\n" +
	"o=- 4215 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0 1\r\n" +
	"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"b=AS:30\r\n" +
	"a=mid:0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"b=TIAS:1000\r\n" +
	"a=mid:1\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

func TestBandwidth(t *testing.T) {
	desc := Bandwidth(512)(engine.SessionDescription{Type: engine.SDPTypeOffer, SDP: offer})

	if desc.Type != engine.SDPTypeOffer {
		t.Fatalf("type changed to %s", desc.Type)
	}
	if n := strings.Count(desc.SDP, "b=AS:512\r\n"); n != 2 {
		t.Fatalf("expected b=AS:512 in both sections, got %d in\n%s", n, desc.SDP)
	}
	if strings.Contains(desc.SDP, "b=AS:30") {
		t.Fatalf("old bandwidth kept in\n%s", desc.SDP)
	}
	if !strings.Contains(desc.SDP, "b=TIAS:1000") {
		t.Fatalf("unrelated bandwidth dropped in\n%s", desc.SDP)
	}

	kinds, err := MediaKinds(desc)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(kinds, ",") != "application,video" {
		t.Fatalf("unexpected media %v", kinds)
	}
}

func TestBandwidthInvalid(t *testing.T) {
	in := engine.SessionDescription{Type: engine.SDPTypeAnswer, SDP: "not sdp"}
	if out := Bandwidth(64)(in); out != in {
		t.Fatalf("expected unchanged description, got %+v", out)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Transform {
		return func(desc engine.SessionDescription) engine.SessionDescription {
			order = append(order, name)
			desc.SDP += name
			return desc
		}
	}

	desc := Chain(mark("a"), nil, mark("b"))(engine.SessionDescription{SDP: ">"})
	if desc.SDP != ">ab" || strings.Join(order, "") != "ab" {
		t.Fatalf("unexpected chain result %q", desc.SDP)
	}
}
