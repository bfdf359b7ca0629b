package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"
	gws "github.com/gorilla/websocket"

	"github.com/drblury/servoflow/transport"
)

// SubscriberConfig configures the dialing side.
type SubscriberConfig struct {
	// URL of the publisher, e.g. ws://robot:5555/bus.
	URL string
	// InitialInterval is the first reconnect delay.
	InitialInterval time.Duration
	// MaxInterval caps the reconnect delay.
	MaxInterval time.Duration
	// Dialer defaults to gorilla's DefaultDialer.
	Dialer *gws.Dialer
}

func (c SubscriberConfig) withDefaults() SubscriberConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultInitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.Dialer == nil {
		c.Dialer = gws.DefaultDialer
	}
	return c
}

// Subscriber dials a Publisher and delivers what it sends. It keeps
// redialing until the subscription context is cancelled or it is closed.
type Subscriber struct {
	cfg    SubscriberConfig
	logger watermill.LoggerAdapter

	closing   chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	wg        sync.WaitGroup
}

// NewSubscriber does not dial; the first Subscribe does.
func NewSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (*Subscriber, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Subscriber{
		cfg:     cfg.withDefaults(),
		logger:  logger.With(watermill.LogFields{"transport": TransportName, "url": cfg.URL}),
		closing: make(chan struct{}),
	}, nil
}

// Subscribe starts the dial/read loop. The topic is not used for filtering.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, transport.ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan *message.Message)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.closing:
			cancel()
		case <-ctx.Done():
		}
	}()
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer close(out)
		s.run(ctx, out)
	}()
	return out, nil
}

func (s *Subscriber) run(ctx context.Context, out chan<- *message.Message) {
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("Giving up dialing publisher", err, nil)
			}
			return
		}
		s.logger.Info("Connected to publisher", nil)

		err = s.read(ctx, conn, out)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		s.logger.Info("Lost publisher, reconnecting", watermill.LogFields{"error": errString(err)})
	}
}

func (s *Subscriber) dial(ctx context.Context) (*gws.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialInterval
	b.MaxInterval = s.cfg.MaxInterval

	return backoff.Retry(ctx, func() (*gws.Conn, error) {
		conn, _, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, nil)
		if err != nil {
			s.logger.Trace("Dial failed", watermill.LogFields{"error": err.Error()})
			return nil, err
		}
		return conn, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0))
}

func (s *Subscriber) read(ctx context.Context, conn *gws.Conn, out chan<- *message.Message) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		env, err := decodeEnvelope(data)
		if err != nil {
			s.logger.Error("Dropping undecodable frame", err, nil)
			continue
		}

		msg := message.NewMessage(env.UUID, env.Payload)
		for k, v := range env.Metadata {
			msg.Metadata.Set(k, v)
		}
		msg.SetContext(ctx)

		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}

		select {
		case <-msg.Acked():
		case <-msg.Nacked():
			s.logger.Debug("Message nacked, not redelivered", watermill.LogFields{"uuid": msg.UUID})
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops every subscription and waits for their goroutines.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.closing) })
	s.wg.Wait()
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
