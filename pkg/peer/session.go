// Package peer turns a peer connection engine into a duplex stream.
//
// A Session owns one underlying connection. It drives the offer/answer
// exchange through SignalEvents the application relays to the remote peer,
// reports connect once both the transport and the default data channel are
// ready, and then behaves as a reader and writer over the default channel.
// Further named channels are multiplexed over the same connection.
//
// Every Session runs its state machine on its own event loop; engine
// callbacks, timers and method calls are serialized there.
package peer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/romashorodok/peerstream/pkg/engine"
	"github.com/romashorodok/peerstream/pkg/eventloop"
	"go.uber.org/atomic"
)

type State int32

const (
	StateIdle State = iota
	StateSignaling
	StateConnected
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSignaling:
		return "signaling"
	case StateConnected:
		return "connected"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Session struct {
	opts      Options
	log       *slog.Logger
	loop      *eventloop.Loop
	events    *eventloop.Mailbox[Event]
	pc        engine.PeerConnection
	initiator bool

	ctx    context.Context
	cancel context.CancelCauseFunc

	channel    *Channel
	mux        *multiplexer
	negotiator *negotiator

	pcReady      bool
	channelReady bool
	destroying   bool
	ending       bool

	preconnect        []outbound
	pendingCandidates []engine.ICECandidateInit

	iceComplete         bool
	awaitingICE         bool
	descriptionFallback engine.SessionDescription

	reconnectTimer   *eventloop.Timer
	iceCompleteTimer *eventloop.Timer
	finishTimer      *eventloop.Timer

	senders       map[string]map[string]engine.Sender
	remoteStreams map[string]struct{}

	channelName atomic.String
	connected   atomic.Bool
	destroyed   atomic.Bool
	state       atomic.Int32
	err         atomic.Error

	addrMu     sync.Mutex
	localAddr  net.Addr
	remoteAddr net.Addr
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// New creates a session and its underlying connection. An initiator opens
// the default channel and starts negotiating right away.
func New(opts Options) (*Session, error) {
	opts = opts.withDefaults()

	if strings.Contains(opts.ChannelName, labelSeparator) {
		return nil, fmt.Errorf("%w: channel name %q contains %q", ErrInvalidArgument, opts.ChannelName, labelSeparator)
	}

	eng := opts.Engine
	if eng == nil {
		var err error
		if eng, err = engine.Default(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	name := opts.ChannelName
	if name == "" && opts.Initiator {
		name = randomToken()
	}

	pc, err := eng.NewPeerConnection(opts.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	s := &Session{
		opts:          opts,
		log:           opts.Logger.With(slog.String("session", uuid.NewString()[:7])),
		loop:          eventloop.New(),
		events:        eventloop.NewMailbox[Event](),
		pc:            pc,
		initiator:     opts.Initiator,
		ctx:           ctx,
		cancel:        cancel,
		senders:       make(map[string]map[string]engine.Sender),
		remoteStreams: make(map[string]struct{}),
	}
	s.channelName.Store(name)
	s.channel = newChannel(s, name, name, opts.ChannelConfig)
	s.channel.onOpenHook = s.onDefaultOpen
	s.channel.onDestroyHook = s.onDefaultDestroyed
	s.mux = newMultiplexer(s)
	s.negotiator = &negotiator{s: s}

	pc.OnICECandidate(func(candidate *engine.ICECandidateInit) {
		s.loop.Post(func() { s.onICECandidate(candidate) })
	})
	pc.OnICEConnectionStateChange(func(state engine.ICEConnectionState) {
		s.loop.Post(func() { s.onICEConnectionStateChange(state) })
	})
	pc.OnSignalingStateChange(func(state engine.SignalingState) {
		s.loop.Post(func() { s.onSignalingStateChange(state) })
	})
	pc.OnDataChannel(s.mux.announced)
	pc.OnTrack(func(track engine.RemoteTrack) {
		s.loop.Post(func() { s.onTrack(track) })
	})

	var startErr error
	s.loop.Call(func() { startErr = s.start() })
	if startErr != nil {
		s.Destroy(startErr)
		return nil, startErr
	}

	s.log.Debug("new session", slog.Bool("initiator", s.initiator), slog.String("channelName", name))
	return s, nil
}

func (s *Session) start() error {
	for _, stream := range s.opts.Streams {
		if err := s.addStream(stream); err != nil {
			return err
		}
	}

	negotiatedDefault := s.opts.ChannelConfig != nil && s.opts.ChannelConfig.Negotiated
	if s.initiator || negotiatedDefault {
		dc, err := s.pc.CreateDataChannel(s.channel.Label(), s.opts.ChannelConfig.init())
		if err != nil {
			return fmt.Errorf("%w: create default channel: %w", ErrTransport, err)
		}
		s.channel.attach(dc)
		s.channel.bind(dc)
	}

	if s.initiator || len(s.opts.Streams) > 0 {
		s.negotiator.request()
	}
	return nil
}

func (s *Session) bindDefault(dc engine.DataChannel) {
	if s.channelName.Load() == "" {
		s.channelName.Store(dc.Label())
		s.channel.name.Store(dc.Label())
		s.channel.label.Store(dc.Label())
	}
	s.channel.bind(dc)
}

func (s *Session) emit(e Event) {
	s.events.Push(e)
}

func (s *Session) emitSignal(data SignalData) {
	s.markSignaling()
	s.emit(SignalEvent{Data: data})
}

func (s *Session) markSignaling() {
	s.state.CAS(int32(StateIdle), int32(StateSignaling))
}

// Events delivers session events in order. The channel is closed after the
// CloseEvent; callers that observe it must drain it until then.
func (s *Session) Events() <-chan Event {
	return s.events.Out()
}

// Signal applies a payload relayed from the remote peer. It accepts
// SignalData, engine descriptions and candidates, or their JSON encoding.
// A malformed payload destroys the session with ErrSignaling.
func (s *Session) Signal(data any) error {
	if s.destroyed.Load() {
		return ErrSessionDestroyed
	}
	d, parseErr := parseSignal(data)

	var err error
	if callErr := s.loop.Call(func() { err = s.signal(d, parseErr) }); callErr != nil {
		return ErrSessionDestroyed
	}
	return err
}

func (s *Session) signal(d SignalData, parseErr error) error {
	if s.destroying {
		return ErrSessionDestroyed
	}
	if parseErr != nil {
		s.destroy(parseErr)
		return parseErr
	}
	s.markSignaling()

	switch d.kind() {
	case signalRenegotiate:
		if s.initiator {
			s.log.Debug("renegotiation requested by peer")
			s.negotiator.request()
		}
		return nil

	case signalCandidate:
		if d.Candidate.Candidate == "" {
			return nil
		}
		if s.pc.RemoteDescription() == nil {
			s.pendingCandidates = append(s.pendingCandidates, *d.Candidate)
			return nil
		}
		return s.addCandidate(*d.Candidate)

	case signalDescription:
		s.log.Debug("apply remote description", slog.String("type", d.Type))
		if err := s.pc.SetRemoteDescription(d.description()); err != nil {
			err = fmt.Errorf("%w: set remote description: %w", ErrTransport, err)
			s.destroy(err)
			return err
		}
		pending := s.pendingCandidates
		s.pendingCandidates = nil
		for _, candidate := range pending {
			if err := s.addCandidate(candidate); err != nil {
				return err
			}
		}
		if engine.SDPType(d.Type) == engine.SDPTypeOffer {
			s.createAnswer()
		}
		return nil
	}

	err := fmt.Errorf("%w: neither description nor candidate", ErrSignaling)
	s.destroy(err)
	return err
}

func (s *Session) addCandidate(candidate engine.ICECandidateInit) error {
	err := s.pc.AddICECandidate(candidate)
	if err == nil {
		return nil
	}
	if strings.Contains(candidate.Candidate, ".local") {
		s.log.Warn("ignore unsupported ice candidate", slog.String("candidate", candidate.Candidate))
		return nil
	}
	err = fmt.Errorf("%w: add ice candidate: %w", ErrTransport, err)
	s.destroy(err)
	return err
}

func (s *Session) onICECandidate(candidate *engine.ICECandidateInit) {
	if s.destroying {
		return
	}
	if candidate == nil {
		s.log.Debug("ice gathering complete")
		s.onICEComplete()
		return
	}
	if !s.opts.DisableTrickle && candidate.Candidate != "" {
		c := *candidate
		s.emitSignal(SignalData{Candidate: &c})
	}
}

func (s *Session) onICEConnectionStateChange(state engine.ICEConnectionState) {
	if s.destroying {
		return
	}
	s.log.Debug("ice connection state", slog.String("state", string(state)))
	s.emit(ICEStateEvent{Connection: state, Gathering: s.pc.ICEGatheringState()})

	switch state {
	case engine.ICEConnectionStateConnected, engine.ICEConnectionStateCompleted:
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
		s.pcReady = true
		s.maybeReady()

	case engine.ICEConnectionStateDisconnected:
		if s.opts.ReconnectTimer <= 0 {
			s.destroy(nil)
			return
		}
		if s.reconnectTimer == nil {
			s.log.Debug("transport disconnected, waiting to reconnect", slog.Duration("grace", s.opts.ReconnectTimer))
			s.reconnectTimer = s.loop.AfterFunc(s.opts.ReconnectTimer, func() { s.destroy(nil) })
		}

	case engine.ICEConnectionStateFailed:
		s.destroy(fmt.Errorf("%w: ice connection failed", ErrTransport))

	case engine.ICEConnectionStateClosed:
		s.destroy(nil)
	}
}

func (s *Session) onSignalingStateChange(state engine.SignalingState) {
	if s.destroying {
		return
	}
	s.log.Debug("signaling state", slog.String("state", string(state)))
	s.emit(SignalingStateEvent{State: state})
	if state == engine.SignalingStateStable {
		s.negotiator.stable()
	}
}

func (s *Session) onTrack(track engine.RemoteTrack) {
	if s.destroying {
		return
	}
	streamID := track.StreamID()
	s.emit(TrackEvent{Track: track, StreamID: streamID})
	if _, seen := s.remoteStreams[streamID]; seen {
		return
	}
	s.remoteStreams[streamID] = struct{}{}
	s.emit(StreamEvent{StreamID: streamID})
}

func (s *Session) onDefaultOpen(*Channel) {
	s.channelReady = true
	s.maybeReady()
}

func (s *Session) onDefaultDestroyed(_ *Channel, err error) {
	if !s.destroying {
		s.destroy(err)
	}
}

// maybeReady connects once both the transport and the default channel are
// ready. The edge fires once per session.
func (s *Session) maybeReady() {
	s.log.Debug("maybe ready", slog.Bool("pc", s.pcReady), slog.Bool("channel", s.channelReady))
	if s.destroying || s.connected.Load() || !s.pcReady || !s.channelReady {
		return
	}

	s.captureAddrs()
	s.connected.Store(true)
	s.state.Store(int32(StateConnected))

	queued := s.preconnect
	s.preconnect = nil
	for _, out := range queued {
		if err := s.channel.sendRaw(out); err != nil {
			s.destroy(err)
			return
		}
	}

	s.mux.connect()

	s.log.Debug("connect")
	s.emit(ConnectEvent{})

	if s.ending {
		s.scheduleFinish()
	}
}

func (s *Session) captureAddrs() {
	reporter, ok := s.pc.(engine.CandidatePairReporter)
	if !ok {
		return
	}
	local, remote, ok := reporter.SelectedCandidatePair()
	if !ok {
		return
	}
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	s.localAddr = candidateAddr(local)
	s.remoteAddr = candidateAddr(remote)
}

type hostAddr struct {
	network string
	host    string
	port    uint16
}

func (a hostAddr) Network() string { return a.network }
func (a hostAddr) String() string  { return net.JoinHostPort(a.host, fmt.Sprint(a.port)) }

func candidateAddr(c engine.Candidate) net.Addr {
	network := strings.ToLower(c.Protocol)
	ip := net.ParseIP(c.Address)
	switch {
	case ip != nil && network == "tcp":
		return &net.TCPAddr{IP: ip, Port: int(c.Port)}
	case ip != nil:
		return &net.UDPAddr{IP: ip, Port: int(c.Port)}
	}
	if network == "" {
		network = "udp"
	}
	return hostAddr{network: network, host: c.Address, port: c.Port}
}

// Send writes one message on the default channel. Before connect it is
// queued and reported complete at once; queued writes go out in order on
// connect.
func (s *Session) Send(ctx context.Context, chunk any) error {
	out, err := encodeChunk(chunk, s.opts.ObjectMode)
	if err != nil {
		return err
	}
	return s.send(ctx, out)
}

func (s *Session) send(ctx context.Context, out outbound) error {
	var (
		queued bool
		err    error
	)
	callErr := s.loop.Call(func() {
		switch {
		case s.destroying:
			err = ErrSessionDestroyed
		case s.ending:
			err = ErrChannelClosed
		case !s.connected.Load():
			s.log.Debug("write before connect")
			s.preconnect = append(s.preconnect, out)
			queued = true
		}
	})
	if callErr != nil {
		return ErrSessionDestroyed
	}
	if err != nil || queued {
		return err
	}
	return s.channel.send(ctx, out)
}

func (s *Session) Write(p []byte) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)
	if err := s.send(context.Background(), outbound{data: data}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *Session) Read(p []byte) (int, error) {
	return s.channel.Read(p)
}

func (s *Session) ReadMessage(ctx context.Context) (Message, error) {
	return s.channel.ReadMessage(ctx)
}

// End finishes the session: no more writes are accepted and, once
// connected, the session is destroyed after FinishLinger. It returns
// ErrSessionDestroyed on a destroyed session.
func (s *Session) End() error {
	var err error
	callErr := s.loop.Call(func() {
		if s.destroying {
			err = ErrSessionDestroyed
			return
		}
		if s.ending {
			return
		}
		s.ending = true
		if s.connected.Load() {
			s.scheduleFinish()
		}
	})
	if callErr != nil {
		return ErrSessionDestroyed
	}
	return err
}

func (s *Session) scheduleFinish() {
	if s.finishTimer != nil {
		return
	}
	s.finishTimer = s.loop.AfterFunc(s.opts.Timeouts.FinishLinger, func() { s.destroy(nil) })
}

func (s *Session) Close() error {
	s.Destroy(nil)
	return nil
}

// Destroy tears the session down. It is idempotent; err, when set, is
// emitted as an ErrorEvent before the CloseEvent.
func (s *Session) Destroy(err error) {
	s.loop.Call(func() { s.destroy(err) })
}

func (s *Session) destroy(err error) {
	if s.destroying {
		return
	}
	s.destroying = true
	s.log.Debug("destroy session", slog.Any("err", err))

	s.pc.OnICECandidate(nil)
	s.pc.OnICEConnectionStateChange(nil)
	s.pc.OnSignalingStateChange(nil)
	s.pc.OnDataChannel(nil)
	s.pc.OnTrack(nil)

	s.reconnectTimer.Stop()
	s.iceCompleteTimer.Stop()
	s.finishTimer.Stop()
	s.preconnect = nil
	s.pendingCandidates = nil
	s.mux.destroyAll()
	s.channel.destroy(nil)
	if closeErr := s.pc.Close(); closeErr != nil {
		s.log.Debug("close peer connection", slog.Any("err", closeErr))
	}

	s.destroyed.Store(true)
	s.connected.Store(false)
	s.state.Store(int32(StateDestroyed))
	cause := ErrSessionDestroyed
	if err != nil {
		s.err.Store(err)
		cause = err
	}
	s.cancel(cause)

	if err != nil {
		s.emit(ErrorEvent{Err: err})
	}
	s.emit(CloseEvent{})
	s.events.Close()
	s.loop.Stop()
}

// CreateDataChannel opens a named channel. Before connect the channel is
// returned unbound and opens on connect. An empty name returns the default
// channel.
func (s *Session) CreateDataChannel(name string, config *ChannelConfig) (*Channel, error) {
	var (
		c   *Channel
		err error
	)
	if callErr := s.loop.Call(func() { c, err = s.mux.create(name, config) }); callErr != nil {
		return nil, ErrSessionDestroyed
	}
	return c, err
}

func (s *Session) Channel(name string) (*Channel, bool) {
	var (
		c  *Channel
		ok bool
	)
	s.loop.Call(func() { c, ok = s.mux.lookup(name) })
	return c, ok
}

// Channels lists the active named channels.
func (s *Session) Channels() []*Channel {
	var out []*Channel
	s.loop.Call(func() { out = s.mux.list() })
	return out
}

// Negotiate requests one more offer/answer cycle.
func (s *Session) Negotiate() error {
	return s.call(func() error {
		s.negotiator.request()
		return nil
	})
}

// Restart renegotiates with an ICE restart. On a non-initiator it asks the
// initiator for a regular renegotiation.
func (s *Session) Restart() error {
	return s.call(func() error {
		s.iceComplete = false
		s.negotiator.iceRestart = s.initiator
		s.negotiator.request()
		return nil
	})
}

func (s *Session) call(fn func() error) error {
	var err error
	callErr := s.loop.Call(func() {
		if s.destroying {
			err = ErrSessionDestroyed
			return
		}
		err = fn()
	})
	if callErr != nil {
		return ErrSessionDestroyed
	}
	return err
}

func (s *Session) Connected() bool { return s.connected.Load() }

func (s *Session) Destroyed() bool { return s.destroyed.Load() }

func (s *Session) Initiator() bool { return s.initiator }

func (s *Session) ChannelName() string { return s.channelName.Load() }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) BufferedAmount() uint64 {
	return s.channel.BufferedAmount()
}

func (s *Session) LocalAddr() net.Addr {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.localAddr
}

func (s *Session) RemoteAddr() net.Addr {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.remoteAddr
}

func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Err returns the error the session was destroyed with.
func (s *Session) Err() error {
	return s.err.Load()
}
