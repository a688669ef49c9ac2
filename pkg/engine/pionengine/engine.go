// Package pionengine binds the peer connection contract to pion/webrtc.
// Importing it registers an engine with default settings:
//
//	import _ "github.com/romashorodok/peerstream/pkg/engine/pionengine"
package pionengine

import (
	"errors"
	"fmt"
	"io"

	ice "github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/romashorodok/peerstream/pkg/engine"
)

var (
	ErrUnsupportedTrack = errors.New("pionengine: track must be a webrtc.TrackLocal")
	ErrForeignSender    = errors.New("pionengine: sender was not created by this engine")
)

type Options struct {
	// UDPPort serves every connection from one UDP port when set.
	UDPPort int `yaml:"udpPort"`
	// NAT1To1IPs are advertised as host candidates instead of the local
	// addresses.
	NAT1To1IPs []string `yaml:"nat1To1IPs"`
	// IncludeLoopback gathers loopback candidates, for same-host peers.
	IncludeLoopback bool `yaml:"includeLoopback"`
	UDP4Only        bool `yaml:"udp4Only"`
}

type Engine struct {
	api *webrtc.API
	mux io.Closer
}

func init() {
	if e, err := New(Options{}); err == nil {
		engine.Register(e)
	}
}

func New(opts Options) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	settings := webrtc.SettingEngine{}
	if opts.UDP4Only {
		settings.SetNetworkTypes([]webrtc.NetworkType{
			webrtc.NetworkTypeUDP4,
		})
	}
	settings.SetIncludeLoopbackCandidate(opts.IncludeLoopback)
	if len(opts.NAT1To1IPs) > 0 {
		settings.SetNAT1To1IPs(opts.NAT1To1IPs, webrtc.ICECandidateTypeHost)
	}

	e := &Engine{}
	if opts.UDPPort > 0 {
		udpMux, err := ice.NewMultiUDPMuxFromPort(opts.UDPPort)
		if err != nil {
			return nil, fmt.Errorf("listen udp %d: %w", opts.UDPPort, err)
		}
		settings.SetICEUDPMux(udpMux)
		e.mux = udpMux
	}

	interceptorRegistry := &interceptor.Registry{}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		e.Close()
		return nil, err
	}
	interceptorRegistry.Add(pli)

	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		e.Close()
		return nil, err
	}

	e.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settings),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)
	return e, nil
}

func (e *Engine) NewPeerConnection(config engine.Configuration) (engine.PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(configuration(config))
	if err != nil {
		return nil, err
	}
	return newPeerConnection(pc), nil
}

// Close releases the shared UDP port, if any.
func (e *Engine) Close() error {
	if e.mux == nil {
		return nil
	}
	return e.mux.Close()
}

func configuration(config engine.Configuration) webrtc.Configuration {
	out := webrtc.Configuration{}
	for _, server := range config.ICEServers {
		s := webrtc.ICEServer{URLs: server.URLs, Username: server.Username}
		if server.Credential != "" {
			s.Credential = server.Credential
		}
		out.ICEServers = append(out.ICEServers, s)
	}
	if config.ICETransportPolicy != "" {
		out.ICETransportPolicy = webrtc.NewICETransportPolicy(config.ICETransportPolicy)
	}
	return out
}
