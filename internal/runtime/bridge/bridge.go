// Package bridge ships the bus between orchestrators. A bridge publishes the
// bus after each cycle, receives it before each cycle, or both, over any
// transport registered with the transport registry.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/servoflow/bus"
	"github.com/drblury/servoflow/internal/runtime/codec"
	"github.com/drblury/servoflow/internal/runtime/config"
	sferrors "github.com/drblury/servoflow/internal/runtime/errors"
	"github.com/drblury/servoflow/internal/runtime/ids"
	"github.com/drblury/servoflow/internal/runtime/logging"
	"github.com/drblury/servoflow/internal/runtime/metadata"
	"github.com/drblury/servoflow/transport"
)

const component = "bridge"

// Observer is notified of bridge traffic. The orchestrator's metrics
// implement it.
type Observer interface {
	BusSent(size int)
	BusReceived(size int, lag time.Duration)
	BusDropped()
	BridgeFailed(direction string)
}

type nopObserver struct{}

func (nopObserver) BusSent(int)                    {}
func (nopObserver) BusReceived(int, time.Duration) {}
func (nopObserver) BusDropped()                    {}
func (nopObserver) BridgeFailed(string)            {}

// Stats is a snapshot of bridge counters.
type Stats struct {
	Transport  string                 `json:"transport"`
	Mode       config.ConnectionType  `json:"mode"`
	Codec      string                 `json:"codec"`
	Topic      string                 `json:"topic"`
	Open       bool                   `json:"open"`
	Sent       uint64                 `json:"sent"`
	Received   uint64                 `json:"received"`
	Dropped    uint64                 `json:"dropped"`
	Peers      int                    `json:"peers"`
	LastCycle  uint64                 `json:"last_remote_cycle,omitempty"`
	LastSource string                 `json:"last_source,omitempty"`
	LastLag    time.Duration          `json:"last_lag_ns,omitempty"`
	Caps       transport.Capabilities `json:"capabilities"`
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithRegistry builds the transport from r instead of the default registry.
func WithRegistry(r *transport.Registry) Option {
	return func(b *Bridge) { b.registry = r }
}

// WithLogger sets the logger; transports receive it through a Watermill
// adapter.
func WithLogger(log logging.ServiceLogger) Option {
	return func(b *Bridge) { b.logger = log }
}

// WithSource names this peer in outgoing metadata.
func WithSource(source string) Option {
	return func(b *Bridge) { b.source = source }
}

// WithObserver receives traffic notifications.
func WithObserver(o Observer) Option {
	return func(b *Bridge) { b.observer = o }
}

// Bridge is the orchestrator's link to its peers. It is opened once and
// closed once.
type Bridge struct {
	cfg      *config.ConnectionConfig
	codec    codec.Codec
	registry *transport.Registry
	logger   logging.ServiceLogger
	observer Observer
	source   string
	now      func() time.Time

	mu     sync.Mutex
	tr     transport.Transport
	opened bool
	closed bool
	cancel context.CancelFunc
	pumpWG sync.WaitGroup

	latest chan *message.Message
	done   chan struct{}

	sent, received, dropped atomic.Uint64

	lastMu     sync.Mutex
	lastCycle  uint64
	lastSource string
	lastLag    time.Duration
}

// New prepares a bridge. Nothing is opened until Open.
func New(cfg *config.ConnectionConfig, opts ...Option) (*Bridge, error) {
	if cfg == nil {
		return nil, sferrors.ConfigError(component, "new", sferrors.ErrConfigRequired)
	}
	if !cfg.ConnectionType.Valid() {
		return nil, sferrors.ConfigErrorf(component, "new", "unknown connection_type %q", cfg.ConnectionType)
	}

	name := cfg.Codec
	if name == "" {
		name = config.DefaultCodec
	}
	c, err := codec.ByName(name)
	if err != nil {
		return nil, sferrors.ConfigError(component, "new", err)
	}

	b := &Bridge{
		cfg:      cfg,
		codec:    c,
		registry: transport.DefaultRegistry,
		logger:   logging.Nop(),
		observer: nopObserver{},
		now:      time.Now,
		latest:   make(chan *message.Message, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(logging.LogFields{
		"component": component,
		"transport": cfg.Transport,
		"mode":      string(cfg.ConnectionType),
	})
	return b, nil
}

// Publishes reports whether Send may be called.
func (b *Bridge) Publishes() bool { return b.cfg.ConnectionType.Publishes() }

// Subscribes reports whether Receive may be called.
func (b *Bridge) Subscribes() bool { return b.cfg.ConnectionType.Subscribes() }

// Open builds the transport and, when subscribing, starts receiving.
func (b *Bridge) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return sferrors.ResourceError(component, "open", sferrors.ErrBridgeClosed)
	}
	if b.opened {
		return nil
	}
	if !b.registry.Has(b.cfg.Transport) {
		return sferrors.ConfigErrorf(component, "open", "unknown transport %q (available: %v)", b.cfg.Transport, b.registry.Names())
	}

	tr, err := b.registry.Build(ctx, b.cfg, logging.NewWatermillAdapter(b.logger))
	if err != nil {
		return sferrors.ResourceError(component, "open", err)
	}

	if b.Publishes() && tr.Publisher == nil {
		_ = tr.Close()
		return sferrors.ResourceError(component, "open", errors.New("transport built no publisher"))
	}
	if b.Subscribes() && tr.Subscriber == nil {
		_ = tr.Close()
		return sferrors.ResourceError(component, "open", errors.New("transport built no subscriber"))
	}

	if b.Subscribes() {
		subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		messages, err := tr.Subscriber.Subscribe(subCtx, b.cfg.Topic)
		if err != nil {
			cancel()
			_ = tr.Close()
			return sferrors.ResourceError(component, "subscribe", err)
		}
		b.cancel = cancel
		b.pumpWG.Add(1)
		go b.pump(messages)
	} else {
		close(b.done)
	}

	b.tr = tr
	b.opened = true
	b.logger.Info("Bridge opened", logging.LogFields{
		"topic": b.cfg.Topic,
		"codec": b.codec.Name(),
	})
	return nil
}

// pump acknowledges every message as it arrives and keeps only the newest
// one for Receive.
func (b *Bridge) pump(in <-chan *message.Message) {
	defer b.pumpWG.Done()
	defer close(b.done)

	for msg := range in {
		msg.Ack()
		b.offer(msg)
	}
}

func (b *Bridge) offer(msg *message.Message) {
	for {
		select {
		case b.latest <- msg:
			return
		default:
		}
		select {
		case <-b.latest:
			b.dropped.Add(1)
			b.observer.BusDropped()
		default:
		}
	}
}

// Send encodes and publishes the bus. cycle is the sender's cycle number.
func (b *Bridge) Send(ctx context.Context, live *bus.Bus, cycle uint64) error {
	if !b.Publishes() {
		return sferrors.StepError(component, "send", sferrors.ErrNotPublishing)
	}
	pub, err := b.publisher()
	if err != nil {
		return sferrors.StepError(component, "send", err)
	}

	payload, err := b.codec.Encode(live)
	if err != nil {
		b.observer.BridgeFailed("send")
		return sferrors.StepError(component, "encode", err)
	}

	sentAt := b.now()
	msg := message.NewMessage(ids.CreateULIDAt(sentAt), payload)
	metadata.ForBus(b.codec.Name(), cycle, sentAt, b.source).Apply(msg)
	msg.SetContext(ctx)

	if err := pub.Publish(b.cfg.Topic, msg); err != nil {
		b.observer.BridgeFailed("send")
		return sferrors.StepError(component, "publish", err)
	}
	b.sent.Add(1)
	b.observer.BusSent(len(payload))
	b.logger.Trace("Bus sent", logging.LogFields{"cycle": cycle, "bytes": len(payload)})
	return nil
}

func (b *Bridge) publisher() (message.Publisher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || !b.opened {
		return nil, sferrors.ErrBridgeClosed
	}
	return b.tr.Publisher, nil
}

// Receive blocks until a bus arrives and returns the newest one available.
// Cancelling ctx returns ErrInterrupted.
func (b *Bridge) Receive(ctx context.Context) (*bus.Bus, error) {
	if !b.Subscribes() {
		return nil, sferrors.StepError(component, "receive", sferrors.ErrNotSubscribing)
	}
	b.mu.Lock()
	opened := b.opened
	b.mu.Unlock()
	if !opened {
		return nil, sferrors.StepError(component, "receive", sferrors.ErrBridgeClosed)
	}

	var msg *message.Message
	select {
	case msg = <-b.latest:
	case <-ctx.Done():
		return nil, sferrors.ErrInterrupted
	case <-b.done:
		select {
		case msg = <-b.latest:
		default:
			return nil, sferrors.StepError(component, "receive", sferrors.ErrBridgeClosed)
		}
	}
	return b.decode(msg)
}

func (b *Bridge) decode(msg *message.Message) (*bus.Bus, error) {
	md := metadata.FromMessage(msg)

	c := b.codec
	if name := md.Codec(); name != "" && name != c.Name() {
		other, err := codec.ByName(name)
		if err != nil {
			b.observer.BridgeFailed("receive")
			return nil, sferrors.StepError(component, "decode", err)
		}
		c = other
	}

	out, err := c.Decode(msg.Payload)
	if err != nil {
		b.observer.BridgeFailed("receive")
		return nil, sferrors.StepError(component, "decode", fmt.Errorf("message %s: %w", msg.UUID, err))
	}

	lag, ok := md.Lag(b.now())
	if !ok {
		// Peers that do not stamp sent_at still carry the send time in the
		// message ULID.
		if at, err := ids.TimeOf(msg.UUID); err == nil {
			lag = max(b.now().Sub(at), 0)
		}
	}
	cycle, _ := md.Cycle()
	b.lastMu.Lock()
	b.lastCycle = cycle
	b.lastSource = md.Source()
	b.lastLag = lag
	b.lastMu.Unlock()

	b.received.Add(1)
	b.observer.BusReceived(len(msg.Payload), lag)
	b.logger.Trace("Bus received", logging.LogFields{"remote_cycle": cycle, "lag": lag.String()})
	return out, nil
}

// Stats returns the current counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	open := b.opened && !b.closed
	pub := b.tr.Publisher
	b.mu.Unlock()

	s := Stats{
		Transport: b.cfg.Transport,
		Mode:      b.cfg.ConnectionType,
		Codec:     b.codec.Name(),
		Topic:     b.cfg.Topic,
		Open:      open,
		Sent:      b.sent.Load(),
		Received:  b.received.Load(),
		Dropped:   b.dropped.Load(),
		Caps:      b.registry.GetCapabilities(b.cfg.Transport),
	}
	if pc, ok := pub.(transport.PeerCounter); ok && open {
		s.Peers = pc.Peers()
	}
	b.lastMu.Lock()
	s.LastCycle, s.LastSource, s.LastLag = b.lastCycle, b.lastSource, b.lastLag
	b.lastMu.Unlock()
	return s
}

func (b *Bridge) stopLocked() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// Close stops receiving and closes the transport. It is safe to call more
// than once and on a bridge that was never opened.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.stopLocked()
	tr := b.tr
	b.mu.Unlock()

	err := tr.Close()
	b.pumpWG.Wait()
	if err != nil {
		return sferrors.TeardownError(component, "close", err)
	}
	b.logger.Info("Bridge closed", logging.LogFields{
		"sent":     b.sent.Load(),
		"received": b.received.Load(),
		"dropped":  b.dropped.Load(),
	})
	return nil
}
