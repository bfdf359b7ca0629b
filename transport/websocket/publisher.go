package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	gws "github.com/gorilla/websocket"

	"github.com/drblury/servoflow/transport"
)

// Listen allows overriding the listener for testing.
var Listen = func(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// PublisherConfig configures the listening side.
type PublisherConfig struct {
	// Addr is the listen address, e.g. ":5555".
	Addr string
	// Path defaults to DefaultPath.
	Path string
	// WriteTimeout defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration
	// QueueSize defaults to DefaultQueueSize.
	QueueSize int
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// peer is one attached subscriber. Frames are queued on send and written by
// the peer's own write pump.
type peer struct {
	conn      *gws.Conn
	send      chan []byte
	closeOnce sync.Once
	dropped   uint64
}

func (pr *peer) remote() string {
	return pr.conn.RemoteAddr().String()
}

// Publisher accepts websocket peers and sends every published message to all
// of them. Publishing with no peers attached succeeds and drops the message.
// Publish never waits on the network: a peer whose queue is full loses its
// oldest frame.
type Publisher struct {
	cfg      PublisherConfig
	logger   watermill.LoggerAdapter
	listener net.Listener
	server   *http.Server
	upgrader gws.Upgrader

	mu      sync.Mutex
	peers   map[*peer]struct{}
	closed  bool
	readers sync.WaitGroup
}

// NewPublisher starts listening on cfg.Addr.
func NewPublisher(cfg PublisherConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	ln, err := Listen(cfg.Addr)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		cfg:      cfg,
		logger:   logger.With(watermill.LogFields{"transport": TransportName}),
		listener: ln,
		upgrader: gws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		peers: make(map[*peer]struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, p)
	p.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("Websocket server stopped", err, nil)
		}
	}()

	p.logger.Info("Websocket publisher listening", watermill.LogFields{
		"addr": ln.Addr().String(),
		"path": cfg.Path,
	})
	return p, nil
}

// Addr returns the address the publisher is listening on.
func (p *Publisher) Addr() string {
	return p.listener.Addr().String()
}

// Peers returns how many subscribers are attached.
func (p *Publisher) Peers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

// ServeHTTP upgrades a peer and keeps it until it disconnects.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Debug("Websocket upgrade failed", watermill.LogFields{"error": err.Error()})
		return
	}

	pr := &peer{conn: conn, send: make(chan []byte, p.cfg.QueueSize)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	p.peers[pr] = struct{}{}
	p.readers.Add(2)
	p.mu.Unlock()

	p.logger.Info("Peer connected", watermill.LogFields{"remote": pr.remote()})
	go p.drain(pr)
	go p.writePump(pr)
}

// drain reads and discards frames so control frames are handled and a
// closed peer is noticed.
func (p *Publisher) drain(pr *peer) {
	defer p.readers.Done()
	for {
		if _, _, err := pr.conn.ReadMessage(); err != nil {
			break
		}
	}
	p.drop(pr)
}

// writePump owns all writes to pr.conn. It sends a close frame once the
// queue is closed.
func (p *Publisher) writePump(pr *peer) {
	defer p.readers.Done()
	for frame := range pr.send {
		_ = pr.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
		if err := pr.conn.WriteMessage(gws.BinaryMessage, frame); err != nil {
			p.logger.Debug("Dropping peer after write error", watermill.LogFields{
				"remote": pr.remote(),
				"error":  err.Error(),
			})
			p.drop(pr)
			for range pr.send {
			}
			return
		}
	}
	deadline := time.Now().Add(time.Second)
	_ = pr.conn.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, "publisher closing"), deadline)
	_ = pr.conn.Close()
}

func (p *Publisher) drop(pr *peer) {
	p.mu.Lock()
	_, ok := p.peers[pr]
	delete(p.peers, pr)
	p.mu.Unlock()

	if ok {
		pr.closeOnce.Do(func() { close(pr.send) })
		_ = pr.conn.Close()
		p.logger.Info("Peer disconnected", watermill.LogFields{"remote": pr.remote()})
	}
}

// enqueue must be called with p.mu held so send is not closed underneath it.
func (p *Publisher) enqueue(pr *peer, frame []byte) {
	for {
		select {
		case pr.send <- frame:
			return
		default:
		}
		select {
		case <-pr.send:
			pr.dropped++
			if pr.dropped == 1 || pr.dropped%100 == 0 {
				p.logger.Debug("Peer is slow, dropping oldest frame", watermill.LogFields{
					"remote":  pr.remote(),
					"dropped": pr.dropped,
				})
			}
		default:
		}
	}
}

// Publish queues each message for every attached peer and returns without
// waiting for the writes.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	frames := make([][]byte, 0, len(messages))
	for _, msg := range messages {
		data, err := encodeEnvelope(envelope{
			UUID:     msg.UUID,
			Topic:    topic,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
		})
		if err != nil {
			return err
		}
		frames = append(frames, data)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return transport.ErrClosed
	}
	for pr := range p.peers {
		for _, frame := range frames {
			p.enqueue(pr, frame)
		}
	}
	return nil
}

// Close disconnects all peers and stops listening.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for pr := range p.peers {
		pr.closeOnce.Do(func() { close(pr.send) })
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := p.server.Shutdown(ctx)

	p.readers.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
