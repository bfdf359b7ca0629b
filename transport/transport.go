// Package transport defines the pluggable links the distribution bridge sends
// and receives the bus over. Each transport implementation (websocket, nats,
// kafka, etc.) lives in its own sub-package and registers itself with the
// transport registry.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// ErrClosed is returned by publishers and subscribers used after Close.
var ErrClosed = errors.New("transport: closed")

// Transport combines the publisher and subscriber produced by a builder.
// Either side is nil when the connection mode does not need it.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both sides. It is safe on a zero Transport.
func (t Transport) Close() error {
	var errs []error
	if t.Publisher != nil {
		if err := t.Publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	// Transports backed by one object return it as both sides.
	if t.Subscriber != nil && any(t.Subscriber) != any(t.Publisher) {
		if err := t.Subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Builder is the function signature for creating a transport from config.
// Builders must only open the sides Config.Publishes and Config.Subscribes ask
// for.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetTransport returns the transport type name.
	GetTransport() string
	// GetTopic returns the topic the bus travels on.
	GetTopic() string

	Publishes() bool
	Subscribes() bool

	// Websocket
	GetPubPort() int
	GetSubHost() string
	GetSubPort() int
	GetReconnectInitialInterval() time.Duration
	GetReconnectMaxInterval() time.Duration

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// SQLite
	GetSQLiteFile() string

	// PostgreSQL
	GetPostgresURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// PeerCounter is implemented by publishers that know how many remote
// subscribers are currently attached.
type PeerCounter interface {
	Peers() int
}
