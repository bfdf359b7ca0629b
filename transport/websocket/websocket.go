// Package websocket provides the default peer-to-peer bus link. The PUB side
// listens on a port and fans every bus out to whoever is connected; the SUB
// side dials the publisher and reconnects with exponential backoff when the
// link drops. There is no broker and no topic filtering: a subscriber gets
// everything its publisher sends.
package websocket

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/drblury/servoflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "websocket"

const (
	// DefaultPath is the HTTP path the publisher upgrades on.
	DefaultPath = "/bus"

	// DefaultWriteTimeout bounds a single frame write to one peer.
	DefaultWriteTimeout = 2 * time.Second

	// DefaultQueueSize is how many frames wait for a slow peer before the
	// oldest is dropped.
	DefaultQueueSize = 16

	// DefaultInitialInterval is the first reconnect delay.
	DefaultInitialInterval = 100 * time.Millisecond

	// DefaultMaxInterval caps the reconnect delay.
	DefaultMaxInterval = 5 * time.Second
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg PublisherConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	return NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg SubscriberConfig, logger watermill.LoggerAdapter) (*Subscriber, error) {
	return NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the websocket transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.WebSocketCapabilities)
}

// Build opens the listening side on :pub_port and/or dials
// ws://sub_host:sub_port/bus.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	var tr transport.Transport

	if cfg.Publishes() {
		pub, err := PublisherFactory(PublisherConfig{
			Addr: ":" + strconv.Itoa(cfg.GetPubPort()),
		}, logger)
		if err != nil {
			return transport.Transport{}, err
		}
		tr.Publisher = pub
	}

	if cfg.Subscribes() {
		sub, err := SubscriberFactory(SubscriberConfig{
			URL:             PeerURL(cfg.GetSubHost(), cfg.GetSubPort()),
			InitialInterval: cfg.GetReconnectInitialInterval(),
			MaxInterval:     cfg.GetReconnectMaxInterval(),
		}, logger)
		if err != nil {
			_ = tr.Close()
			return transport.Transport{}, err
		}
		tr.Subscriber = sub
	}

	return tr, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.WebSocketCapabilities
}

// PeerURL returns the websocket URL a subscriber dials for host and port.
func PeerURL(host string, port int) string {
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, strconv.Itoa(port)), DefaultPath)
}

// envelope is one websocket frame.
type envelope struct {
	UUID     string            `msgpack:"uuid"`
	Topic    string            `msgpack:"topic"`
	Metadata map[string]string `msgpack:"metadata,omitempty"`
	Payload  []byte            `msgpack:"payload"`
}

func encodeEnvelope(env envelope) ([]byte, error) {
	return msgpack.Marshal(env)
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("websocket: decode frame: %w", err)
	}
	return env, nil
}
