package transporttest

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Publisher records what it is asked to publish.
type Publisher struct {
	mu       sync.Mutex
	Topics   []string
	Messages []*message.Message
	Closed   int
	Err      error
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	for range messages {
		p.Topics = append(p.Topics, topic)
	}
	p.Messages = append(p.Messages, messages...)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed++
	return nil
}

// Published returns the number of messages published so far.
func (p *Publisher) Published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Messages)
}

// Subscriber hands out C for every Subscribe call. The first Close closes C.
type Subscriber struct {
	mu     sync.Mutex
	C      chan *message.Message
	Topics []string
	Closed int
	Err    error
}

// NewSubscriber returns a Subscriber with a buffered channel.
func NewSubscriber() *Subscriber {
	return &Subscriber{C: make(chan *message.Message, 16)}
}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.Topics = append(s.Topics, topic)
	if s.C == nil {
		s.C = make(chan *message.Message, 16)
	}
	return s.C, nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Closed == 0 && s.C != nil {
		close(s.C)
	}
	s.Closed++
	return nil
}
