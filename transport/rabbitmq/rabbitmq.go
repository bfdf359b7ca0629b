// Package rabbitmq provides a RabbitMQ/AMQP transport. The bus goes through a
// non-durable fanout exchange and every subscriber gets its own exclusive
// queue, so each peer sees every bus.
package rabbitmq

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/servoflow/internal/runtime/ids"
	"github.com/drblury/servoflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return amqp.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return amqp.NewSubscriber(cfg, logger)
}

// QueueSuffix names this process's subscriber queue. Overridable for tests.
var QueueSuffix = ids.CreateULID

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// AMQPConfig returns the exchange and queue layout for one peer.
func AMQPConfig(url string) amqp.Config {
	return amqp.NewNonDurablePubSubConfig(
		url,
		amqp.GenerateQueueNameTopicNameWithSuffix(QueueSuffix()),
	)
}

// Build creates a new RabbitMQ transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	amqpConfig := AMQPConfig(cfg.GetRabbitMQURL())

	var tr transport.Transport
	if cfg.Publishes() {
		publisher, err := PublisherFactory(amqpConfig, logger)
		if err != nil {
			return transport.Transport{}, err
		}
		tr.Publisher = publisher
	}

	if cfg.Subscribes() {
		subscriber, err := SubscriberFactory(amqpConfig, logger)
		if err != nil {
			_ = tr.Close()
			return transport.Transport{}, err
		}
		tr.Subscriber = subscriber
	}

	return tr, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
