package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/romashorodok/peerstream/pkg/engine"
	"github.com/romashorodok/peerstream/pkg/engine/pionengine"
	"github.com/romashorodok/peerstream/pkg/peer"
	"github.com/romashorodok/peerstream/pkg/peer/sdputil"
	"gopkg.in/yaml.v3"
)

// Config is the optional YAML file given with --config.
type Config struct {
	ChannelName    string              `yaml:"channelName"`
	Channel        *peer.ChannelConfig `yaml:"channel"`
	DisableTrickle bool                `yaml:"disableTrickle"`
	ReconnectTimer time.Duration       `yaml:"reconnectTimer"`
	HighWaterMark  uint64              `yaml:"highWaterMark"`
	// BandwidthKbps caps every media section of local descriptions.
	BandwidthKbps uint64        `yaml:"bandwidthKbps"`
	Timeouts      peer.Timeouts `yaml:"timeouts"`

	// ICE replaces the default STUN servers when set.
	ICE    *engine.Configuration `yaml:"ice"`
	Engine pionengine.Options    `yaml:"engine"`

	HttpAddr string `yaml:"httpAddr"`
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) sessionOptions(initiator bool, eng engine.Engine, log *slog.Logger) peer.Options {
	opts := peer.DefaultOptions()
	opts.Initiator = initiator
	opts.Engine = eng
	opts.Logger = log
	opts.ChannelName = c.ChannelName
	opts.ChannelConfig = c.Channel
	opts.DisableTrickle = c.DisableTrickle
	opts.ReconnectTimer = c.ReconnectTimer
	opts.Timeouts = c.Timeouts
	if c.HighWaterMark > 0 {
		opts.HighWaterMark = c.HighWaterMark
	}
	if c.ICE != nil {
		opts.Config = *c.ICE
	}
	if c.BandwidthKbps > 0 {
		opts.SDPTransform = sdputil.Bandwidth(c.BandwidthKbps)
	}
	return opts
}
