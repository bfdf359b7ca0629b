// Package nats provides a NATS Core transport. Core NATS has no persistence,
// which matches the bus: a subscriber only sees what is published while it is
// connected.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/servoflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// ClientName identifies servoflow connections on the NATS server.
const ClientName = "servoflow"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}
	options := []natsgo.Option{
		natsgo.Name(ClientName),
		natsgo.MaxReconnects(-1),
	}
	// Core NATS only; the nats-jetstream transport covers persistence.
	jetStream := nats.JetStreamConfig{Disabled: true}

	var tr transport.Transport
	if cfg.Publishes() {
		publisher, err := PublisherFactory(
			nats.PublisherConfig{
				URL:         url,
				NatsOptions: options,
				Marshaler:   marshaler,
				JetStream:   jetStream,
			},
			logger,
		)
		if err != nil {
			return transport.Transport{}, err
		}
		tr.Publisher = publisher
	}

	if cfg.Subscribes() {
		subscriber, err := SubscriberFactory(
			nats.SubscriberConfig{
				URL:         url,
				NatsOptions: options,
				Unmarshaler: marshaler,
				JetStream:   jetStream,
			},
			logger,
		)
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
	return transport.NATSCapabilities
}
