// Package notify publishes pipeline events to notification topics.
package notify

import (
	"context"
	"fmt"
	"sync"

	"annotation-orchestrator/core/queue"
)

// Publisher sends a message to a topic
type Publisher interface {
	Publish(ctx context.Context, topic, message string) error
}

// PublishJSON encodes payload and publishes it to topic
func PublishJSON(ctx context.Context, p Publisher, topic string, payload any) error {
	body, err := queue.Encode(payload)
	if err != nil {
		return err
	}
	if err := p.Publish(ctx, topic, body); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Published is one message recorded by MemoryPublisher
type Published struct {
	Topic   string
	Message string
}

// MemoryPublisher records published messages and optionally forwards them
// to subscribed queues
type MemoryPublisher struct {
	mu          sync.Mutex
	messages    []Published
	subscribers map[string][]*queue.MemoryQueue
	err         error
}

// NewMemoryPublisher creates an empty publisher
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{subscribers: make(map[string][]*queue.MemoryQueue)}
}

// Subscribe forwards every message published to topic into q
func (p *MemoryPublisher) Subscribe(topic string, q *queue.MemoryQueue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[topic] = append(p.subscribers[topic], q)
}

// FailWith makes subsequent Publish calls return err. A nil err clears it.
func (p *MemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message
func (p *MemoryPublisher) Publish(_ context.Context, topic, message string) error {
	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return err
	}
	p.messages = append(p.messages, Published{Topic: topic, Message: message})
	subs := append([]*queue.MemoryQueue(nil), p.subscribers[topic]...)
	p.mu.Unlock()

	for _, q := range subs {
		q.Send(message)
	}
	return nil
}

// Messages returns the messages published to topic
func (p *MemoryPublisher) Messages(topic string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m.Message)
		}
	}
	return out
}

// All returns every published message in order
func (p *MemoryPublisher) All() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.messages...)
}
