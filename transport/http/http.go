// Package http provides an HTTP transport. The publisher POSTs every bus to
// the peer's URL; the subscriber runs an HTTP server that accepts them.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/servoflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	Register()
}

// Register registers the HTTP transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// TopicURL joins the publisher base URL and the topic path.
func TopicURL(base, topic string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(topic, "/")
}

// Build creates a new HTTP transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	var tr transport.Transport

	if cfg.Publishes() {
		publisherURL := cfg.GetHTTPPublisherURL()
		publisher, err := PublisherFactory(
			http.PublisherConfig{
				MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
					return http.DefaultMarshalMessageFunc(TopicURL(publisherURL, topic), msg)
				},
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
			cfg.GetHTTPServerAddress(),
			http.SubscriberConfig{
				UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
			},
			logger,
		)
		if err != nil {
			_ = tr.Close()
			return transport.Transport{}, err
		}
		tr.Subscriber = &Subscriber{Subscriber: subscriber, logger: logger}
	}

	return tr, nil
}

// Subscriber starts the underlying HTTP server after the first Subscribe,
// since watermill-http only routes topics registered before it starts.
type Subscriber struct {
	message.Subscriber
	logger  watermill.LoggerAdapter
	started bool
}

// Subscribe registers topic and starts serving on the first call.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	out, err := s.Subscriber.Subscribe(ctx, "/"+strings.TrimLeft(topic, "/"))
	if err != nil {
		return nil, err
	}
	if !s.started {
		s.started = true
		if hs, ok := s.Subscriber.(*http.Subscriber); ok {
			go func() {
				if err := hs.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
					s.logger.Error("HTTP subscriber server stopped", err, nil)
				}
			}()
		}
	}
	return out, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
