package service

import (
	"context"
	"log/slog"

	"github.com/romashorodok/peerstream/pkg/engine"
	"github.com/romashorodok/peerstream/pkg/engine/pionengine"
	"github.com/romashorodok/peerstream/pkg/variables"
	"go.uber.org/fx"
)

type webrtcEngine_Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Logger    *slog.Logger
	Options   *pionengine.Options `optional:"true"`
}

// Unset options fall back to the environment.
func webrtcEngine(params webrtcEngine_Params) (engine.Engine, error) {
	var opts pionengine.Options
	if params.Options != nil {
		opts = *params.Options
	}

	if opts.UDPPort == 0 {
		port, err := variables.ParseInt(variables.Env(variables.WEBRTC_UDP_PORT, variables.WEBRTC_UDP_PORT_DEFAULT))
		if err != nil {
			return nil, err
		}
		opts.UDPPort = port
	}
	if len(opts.NAT1To1IPs) == 0 {
		if ip := variables.Env(variables.WEBRTC_ONE_TO_NAT_PUBLIC_IP, variables.WEBRTC_ONE_TO_NAT_PUBLIC_IP_DEFAULT); ip != "" {
			opts.NAT1To1IPs = []string{ip}
		}
	}

	eng, err := pionengine.New(opts)
	if err != nil {
		return nil, err
	}

	params.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return eng.Close()
		},
	})

	params.Logger.Debug("webrtc engine ready",
		slog.Int("udp_port", opts.UDPPort),
		slog.Any("nat_ips", opts.NAT1To1IPs),
	)
	return eng, nil
}

var EngineModule = fx.Module("engine", fx.Provide(
	webrtcEngine,
))
