// Package io provides a file-based record/replay transport. The publisher
// appends every bus to a JSON-lines log; the subscriber replays the log from
// the beginning with its recorded timing and then follows new records.
package io

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/servoflow/internal/runtime/jsoncodec"
	"github.com/drblury/servoflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "io"

// DefaultFilePath is the default file path if none is specified.
const DefaultFilePath = "servoflow_bus.log"

// DefaultPollInterval is how often the subscriber checks for new records
// once it reached the end of the log.
const DefaultPollInterval = 50 * time.Millisecond

// SubscriberConfig tunes replay.
type SubscriberConfig struct {
	Path string
	// Pace replays records with the gaps they were recorded with. When false
	// records are delivered as fast as they are acknowledged.
	Pace         bool
	PollInterval time.Duration
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return NewPublisher(filePath, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return NewSubscriber(cfg, logger), nil
}

func init() {
	Register()
}

// Register registers the I/O transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// Build creates a new I/O transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}

	var tr transport.Transport
	if cfg.Publishes() {
		pub, err := PublisherFactory(filePath, logger)
		if err != nil {
			return transport.Transport{}, err
		}
		tr.Publisher = pub
	}

	if cfg.Subscribes() {
		sub, err := SubscriberFactory(SubscriberConfig{Path: filePath, Pace: true}, logger)
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
	return transport.IOCapabilities
}

// record is one line of the log.
type record struct {
	At       time.Time         `json:"at"`
	UUID     string            `json:"uuid"`
	Topic    string            `json:"topic"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload"`
}

// Publisher appends records to a file.
type Publisher struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	logger watermill.LoggerAdapter
	now    func() time.Time
}

// NewPublisher opens path for appending, creating it if needed.
func NewPublisher(path string, logger watermill.LoggerAdapter) (*Publisher, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &Publisher{f: f, w: bufio.NewWriter(f), logger: logger, now: time.Now}, nil
}

// Publish appends one record per message and flushes.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return transport.ErrClosed
	}

	for _, msg := range messages {
		rec := record{
			At:       p.now().UTC(),
			UUID:     msg.UUID,
			Topic:    topic,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
		}
		if err := jsoncodec.EncodeLine(p.w, rec); err != nil {
			return err
		}
	}
	return p.w.Flush()
}

// Close flushes and closes the file.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return nil
	}
	err := errors.Join(p.w.Flush(), p.f.Close())
	p.f = nil
	return err
}

// Subscriber replays a record log.
type Subscriber struct {
	cfg    SubscriberConfig
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

// NewSubscriber returns a subscriber for cfg.Path. The file is opened on
// Subscribe.
func NewSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) *Subscriber {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Subscriber{cfg: cfg, logger: logger, closing: make(chan struct{})}
}

// Subscribe replays records for topic. Records of other topics are skipped.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, transport.ErrClosed
	}

	f, err := os.OpenFile(s.cfg.Path, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}

	out := make(chan *message.Message)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		defer f.Close()
		s.replay(ctx, f, topic, out)
	}()
	return out, nil
}

func (s *Subscriber) replay(ctx context.Context, f *os.File, topic string, out chan<- *message.Message) {
	reader := bufio.NewReader(f)
	var (
		pending   []byte
		firstAt   time.Time
		startedAt time.Time
	)

	for {
		chunk, err := reader.ReadBytes('\n')
		pending = append(pending, chunk...)
		if errors.Is(err, io.EOF) {
			// Partial line: keep it and wait for the writer to finish it.
			if !s.wait(ctx, s.cfg.PollInterval) {
				return
			}
			continue
		}
		if err != nil {
			s.logger.Error("Failed to read record log", err, watermill.LogFields{"path": s.cfg.Path})
			return
		}

		line := pending
		pending = nil

		var rec record
		if err := jsoncodec.UnmarshalLine(line, &rec); errors.Is(err, jsoncodec.ErrEmptyLine) {
			continue
		} else if err != nil {
			s.logger.Error("Skipping malformed record", err, watermill.LogFields{"path": s.cfg.Path})
			continue
		}
		if rec.Topic != topic {
			continue
		}

		if s.cfg.Pace && !rec.At.IsZero() {
			if firstAt.IsZero() {
				firstAt, startedAt = rec.At, time.Now()
			}
			due := startedAt.Add(rec.At.Sub(firstAt))
			if !s.wait(ctx, time.Until(due)) {
				return
			}
		}

		if !s.deliver(ctx, out, rec) {
			return
		}
	}
}

func (s *Subscriber) deliver(ctx context.Context, out chan<- *message.Message, rec record) bool {
	msg := message.NewMessage(rec.UUID, rec.Payload)
	for k, v := range rec.Metadata {
		msg.Metadata.Set(k, v)
	}

	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	case <-s.closing:
		return false
	}

	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		s.logger.Debug("Record nacked", watermill.LogFields{"uuid": msg.UUID})
	case <-ctx.Done():
		return false
	case <-s.closing:
		return false
	}
	return true
}

func (s *Subscriber) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.closing:
		return false
	}
}

// Close stops all replays and waits for them to exit.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
