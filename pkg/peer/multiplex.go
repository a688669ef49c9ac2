package peer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/romashorodok/peerstream/pkg/engine"
)

const labelSeparator = "@"

// multiplexer maps channel names to the active adapter for that name. Only
// the session loop touches it.
type multiplexer struct {
	s *Session

	channels map[string]*Channel
	// deferred channels were requested before connect and get their
	// underlying channel on the connect edge.
	deferred []*Channel
}

func newMultiplexer(s *Session) *multiplexer {
	return &multiplexer{
		s:        s,
		channels: make(map[string]*Channel),
	}
}

func labelFor(name string) string {
	return name + labelSeparator + uuid.NewString()[:8]
}

func (m *multiplexer) create(name string, config *ChannelConfig) (*Channel, error) {
	s := m.s
	if s.destroying {
		return nil, ErrSessionDestroyed
	}
	if name == "" {
		return s.channel, nil
	}
	if strings.Contains(name, labelSeparator) {
		return nil, fmt.Errorf("%w: channel name %q contains %q", ErrInvalidArgument, name, labelSeparator)
	}
	if active, ok := m.channels[name]; ok {
		if s.opts.ReuseChannels {
			return active, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrDuplicateChannel, name)
	}

	c := m.track(name, labelFor(name), config)
	if !s.connected.Load() {
		s.log.Debug("channel deferred until connect", slog.String("name", name))
		m.deferred = append(m.deferred, c)
		return c, nil
	}
	if err := m.open(c); err != nil {
		c.destroy(nil)
		return nil, err
	}
	return c, nil
}

func (m *multiplexer) track(name, label string, config *ChannelConfig) *Channel {
	c := newChannel(m.s, name, label, config)
	c.onDestroyHook = m.removed
	m.channels[name] = c
	return c
}

func (m *multiplexer) open(c *Channel) error {
	dc, err := m.s.pc.CreateDataChannel(c.Label(), c.config.init())
	if err != nil {
		return fmt.Errorf("%w: create data channel %s: %w", ErrTransport, c.Label(), err)
	}
	c.attach(dc)
	c.bind(dc)
	return nil
}

func (m *multiplexer) connect() {
	deferred := m.deferred
	m.deferred = nil
	for _, c := range deferred {
		if c.destroying {
			continue
		}
		if err := m.open(c); err != nil {
			c.destroy(err)
		}
	}
}

// announced runs on the engine goroutine that reports a remote channel. The
// adapter is built and attached there so no early event is lost, and the
// rest of the work is posted to the loop ahead of any of its events.
func (m *multiplexer) announced(dc engine.DataChannel) {
	s := m.s
	label := dc.Label()
	name, _, named := strings.Cut(label, labelSeparator)

	c := s.channel
	if named {
		c = newChannel(s, name, label, nil)
	}
	s.loop.Post(func() { m.inbound(c, dc) })
	c.attach(dc)
}

// inbound registers an announced channel. A label without a separator is the
// default channel. The creator owns a name, so an active adapter with the
// same name is replaced, unless both peers created the name concurrently:
// then the smaller label wins on both sides.
func (m *multiplexer) inbound(c *Channel, dc engine.DataChannel) {
	s := m.s
	if s.destroying {
		_ = dc.Close()
		return
	}

	if c == s.channel {
		if c.dc != nil {
			s.log.Warn("ignore second default channel", slog.String("label", dc.Label()))
			_ = dc.Close()
			return
		}
		s.bindDefault(dc)
		return
	}

	name := c.Name()
	if old, ok := m.channels[name]; ok {
		if !old.remote && old.Label() < c.Label() {
			s.log.Debug("reject concurrent channel",
				slog.String("name", name),
				slog.String("kept", old.Label()),
				slog.String("label", c.Label()),
			)
			c.dc = dc
			c.destroy(nil)
			return
		}
		s.log.Debug("remote reuses channel name", slog.String("name", name))
		old.destroy(nil)
	}
	c.remote = true
	c.onDestroyHook = m.removed
	c.onOpenHook = m.opened
	m.channels[name] = c
	c.bind(dc)
}

func (m *multiplexer) opened(c *Channel) {
	m.s.emit(ChannelOpenedEvent{Channel: c})
}

func (m *multiplexer) removed(c *Channel, _ error) {
	if m.channels[c.Name()] == c {
		delete(m.channels, c.Name())
	}
}

func (m *multiplexer) lookup(name string) (*Channel, bool) {
	if name == "" {
		return m.s.channel, true
	}
	c, ok := m.channels[name]
	return c, ok
}

func (m *multiplexer) list() []*Channel {
	out := make([]*Channel, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, c)
	}
	return out
}

func (m *multiplexer) destroyAll() {
	// Destroy hooks delete from the map.
	for _, c := range m.list() {
		c.destroy(nil)
	}
	m.deferred = nil
}
