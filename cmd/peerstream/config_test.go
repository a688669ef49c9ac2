package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/romashorodok/peerstream/pkg/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peerstream.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
channelName: chat
disableTrickle: true
reconnectTimer: 2s
bandwidthKbps: 512
channel:
  negotiated: true
  id: 3
timeouts:
  closeDelay: 100ms
ice:
  iceServers:
    - urls: ["stun:stun.example.org:3478"]
engine:
  udpPort: 5000
  nat1To1IPs: ["203.0.113.7"]
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	opts := cfg.sessionOptions(true, nil, nil)
	if opts.ChannelName != "chat" || !opts.DisableTrickle || !opts.Initiator {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.ReconnectTimer != 2*time.Second || opts.Timeouts.CloseDelay != 100*time.Millisecond {
		t.Fatalf("durations not decoded: %v %v", opts.ReconnectTimer, opts.Timeouts.CloseDelay)
	}
	if opts.ChannelConfig == nil || !opts.ChannelConfig.Negotiated || opts.ChannelConfig.ID != 3 {
		t.Fatalf("unexpected channel config %+v", opts.ChannelConfig)
	}
	if len(opts.Config.ICEServers) != 1 || opts.Config.ICEServers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Fatalf("unexpected ice config %+v", opts.Config)
	}
	if cfg.Engine.UDPPort != 5000 || cfg.Engine.NAT1To1IPs[0] != "203.0.113.7" {
		t.Fatalf("unexpected engine options %+v", cfg.Engine)
	}

	desc := opts.SDPTransform(engine.SessionDescription{
		Type: engine.SDPTypeOffer,
		SDP:  "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\nm=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\nc=IN IP4 0.0.0.0\r\n",
	})
	if !strings.Contains(desc.SDP, "b=AS:512") {
		t.Fatalf("bandwidth not applied:\n%s", desc.SDP)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	opts := cfg.sessionOptions(false, nil, nil)
	if len(opts.Config.ICEServers) == 0 {
		t.Fatal("expected default ice servers")
	}
	if opts.SDPTransform != nil {
		t.Fatal("unexpected transform without a bandwidth cap")
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	if _, err := loadConfig(writeConfig(t, "trickle: false\n")); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestRootRequiresRelay(t *testing.T) {
	rootCmd.SetArgs([]string{"dial"})
	defer rootCmd.SetArgs(nil)
	relayURL = ""

	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "--relay") {
		t.Fatalf("expected missing relay error, got %v", err)
	}
}

func TestRootRejectsLogLevel(t *testing.T) {
	rootCmd.SetArgs([]string{"--log-level", "loud", "dial"})
	defer rootCmd.SetArgs(nil)
	defer func() { logLevel = "info" }()

	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "log level") {
		t.Fatalf("expected log level error, got %v", err)
	}
}
