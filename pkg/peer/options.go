package peer

import (
	"log/slog"
	"time"

	"github.com/romashorodok/peerstream/pkg/engine"
)

const (
	DefaultHighWaterMark = 64 * 1024

	DefaultCloseDelay         = 3 * time.Second
	DefaultClosingPoll        = 5 * time.Second
	DefaultBackpressurePoll   = 150 * time.Millisecond
	DefaultFinishLinger       = time.Second
	DefaultICECompleteTimeout = 5 * time.Second
)

// Timeouts groups the workaround timers. A zero field uses its default.
type Timeouts struct {
	// CloseDelay defers closing a channel that opened less than this long ago.
	CloseDelay time.Duration `yaml:"closeDelay"`
	// ClosingPoll is how often a channel is checked for a stuck closing state.
	ClosingPoll      time.Duration `yaml:"closingPoll"`
	BackpressurePoll time.Duration `yaml:"backpressurePoll"`
	// FinishLinger is how long End waits before destroying, so buffered bytes flush.
	FinishLinger time.Duration `yaml:"finishLinger"`
	// ICECompleteTimeout bounds the wait for gathering when trickle is disabled.
	ICECompleteTimeout time.Duration `yaml:"iceCompleteTimeout"`
}

func (t Timeouts) withDefaults() Timeouts {
	if t.CloseDelay <= 0 {
		t.CloseDelay = DefaultCloseDelay
	}
	if t.ClosingPoll <= 0 {
		t.ClosingPoll = DefaultClosingPoll
	}
	if t.BackpressurePoll <= 0 {
		t.BackpressurePoll = DefaultBackpressurePoll
	}
	if t.FinishLinger <= 0 {
		t.FinishLinger = DefaultFinishLinger
	}
	if t.ICECompleteTimeout <= 0 {
		t.ICECompleteTimeout = DefaultICECompleteTimeout
	}
	return t
}

// ChannelConfig is passed to the engine when a data channel is created.
type ChannelConfig struct {
	Ordered           *bool   `yaml:"ordered,omitempty"`
	MaxPacketLifeTime *uint16 `yaml:"maxPacketLifeTime,omitempty"`
	MaxRetransmits    *uint16 `yaml:"maxRetransmits,omitempty"`
	Protocol          string  `yaml:"protocol,omitempty"`

	// Negotiated channels are created by both sides with the same ID and are
	// never announced.
	Negotiated bool   `yaml:"negotiated,omitempty"`
	ID         uint16 `yaml:"id,omitempty"`
}

func (c *ChannelConfig) init() *engine.DataChannelInit {
	if c == nil {
		return nil
	}
	init := &engine.DataChannelInit{
		Ordered:           c.Ordered,
		MaxPacketLifeTime: c.MaxPacketLifeTime,
		MaxRetransmits:    c.MaxRetransmits,
	}
	if c.Protocol != "" {
		protocol := c.Protocol
		init.Protocol = &protocol
	}
	if c.Negotiated {
		negotiated, id := true, c.ID
		init.Negotiated = &negotiated
		init.ID = &id
	}
	return init
}

type Options struct {
	Initiator bool
	// ChannelName labels the default channel. An initiator without one gets
	// a random token; a non-initiator learns it from the remote channel.
	ChannelName   string
	ChannelConfig *ChannelConfig

	// DisableTrickle batches candidates into a single description signal
	// emitted once gathering completes.
	DisableTrickle bool

	Config engine.Configuration
	// Engine defaults to the registered engine.
	Engine engine.Engine

	// SDPTransform rewrites each local description before it is applied. It
	// runs on the session loop and must not call Session methods, which would
	// deadlock.
	SDPTransform func(engine.SessionDescription) engine.SessionDescription

	// ReconnectTimer is the grace period after the transport disconnects. Zero
	// destroys the session at once.
	ReconnectTimer time.Duration
	HighWaterMark  uint64
	ObjectMode     bool

	// ReuseChannels makes CreateDataChannel return the active channel for a
	// taken name instead of failing with ErrDuplicateChannel.
	ReuseChannels bool

	// Streams are added before the first negotiation.
	Streams []engine.Stream

	Timeouts Timeouts
	Logger   *slog.Logger
}

// DefaultOptions returns a fresh options value with public STUN servers.
func DefaultOptions() Options {
	return Options{
		Config:        engine.DefaultConfiguration(),
		HighWaterMark: DefaultHighWaterMark,
	}
}

func (o Options) withDefaults() Options {
	if o.HighWaterMark == 0 {
		o.HighWaterMark = DefaultHighWaterMark
	}
	if o.SDPTransform == nil {
		o.SDPTransform = func(desc engine.SessionDescription) engine.SessionDescription { return desc }
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	o.Timeouts = o.Timeouts.withDefaults()
	return o
}
