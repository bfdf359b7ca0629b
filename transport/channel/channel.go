// Package channel provides an in-memory Go channel transport.
// Every transport built in one process for the same topic shares a single
// gochannel, so a PUB orchestrator and a SUB orchestrator in one binary (or
// one test) reach each other without endpoints.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/servoflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// OutputBuffer is the per-subscriber buffer handed to gochannel.
const OutputBuffer = 16

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

type hub struct {
	pub  message.Publisher
	sub  message.Subscriber
	refs int
}

var (
	hubsMu sync.Mutex
	hubs   = map[string]*hub{}
)

func init() {
	Register()
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build attaches to the in-process hub for the configured topic.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	key := cfg.GetTopic()
	h := acquire(key, logger)
	link := &Link{key: key, hub: h}

	var tr transport.Transport
	if cfg.Publishes() {
		tr.Publisher = link
	}
	if cfg.Subscribes() {
		tr.Subscriber = link
	}
	return tr, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

func acquire(key string, logger watermill.LoggerAdapter) *hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	h, ok := hubs[key]
	if !ok {
		pub, sub := Factory(gochannel.Config{OutputChannelBuffer: OutputBuffer}, logger)
		h = &hub{pub: pub, sub: sub}
		hubs[key] = h
	}
	h.refs++
	return h
}

func release(key string, h *hub) error {
	hubsMu.Lock()
	h.refs--
	last := h.refs == 0
	if last && hubs[key] == h {
		delete(hubs, key)
	}
	hubsMu.Unlock()

	if !last {
		return nil
	}
	err := h.pub.Close()
	if any(h.sub) != any(h.pub) {
		if subErr := h.sub.Close(); err == nil {
			err = subErr
		}
	}
	return err
}

// Link is one Build's handle on a shared hub. The hub closes when its last
// link closes.
type Link struct {
	key  string
	hub  *hub
	once sync.Once
	err  error
}

// Publish sends messages to every subscriber of the hub.
func (l *Link) Publish(topic string, messages ...*message.Message) error {
	return l.hub.pub.Publish(topic, messages...)
}

// Subscribe receives messages published on the hub.
func (l *Link) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return l.hub.sub.Subscribe(ctx, topic)
}

// Close releases the link's reference to the hub.
func (l *Link) Close() error {
	l.once.Do(func() {
		l.err = release(l.key, l.hub)
	})
	return l.err
}
