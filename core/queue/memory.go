package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue with visibility timeout semantics.
// It backs tests and single-host development runs.
type MemoryQueue struct {
	name        string
	maxMessages int
	wait        time.Duration
	visibility  time.Duration

	mu       sync.Mutex
	messages []*memoryMessage
	seq      int
	signal   chan struct{}
	now      func() time.Time
}

type memoryMessage struct {
	id        string
	body      string
	handle    string
	receives  int
	visibleAt time.Time
}

// MemoryQueueOption configures a MemoryQueue
type MemoryQueueOption func(*MemoryQueue)

// WithMaxMessages caps how many messages a single Receive returns
func WithMaxMessages(n int) MemoryQueueOption {
	return func(q *MemoryQueue) { q.maxMessages = n }
}

// WithWait sets how long Receive blocks when the queue is empty
func WithWait(d time.Duration) MemoryQueueOption {
	return func(q *MemoryQueue) { q.wait = d }
}

// WithVisibilityTimeout sets how long a received message stays hidden
func WithVisibilityTimeout(d time.Duration) MemoryQueueOption {
	return func(q *MemoryQueue) { q.visibility = d }
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue(name string, opts ...MemoryQueueOption) *MemoryQueue {
	q := &MemoryQueue{
		name:        name,
		maxMessages: 10,
		visibility:  30 * time.Second,
		signal:      make(chan struct{}, 1),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue name
func (q *MemoryQueue) Name() string {
	return q.name
}

// Send enqueues a message body and returns its id
func (q *MemoryQueue) Send(body string) string {
	q.mu.Lock()
	q.seq++
	id := "msg-" + strconv.Itoa(q.seq)
	q.messages = append(q.messages, &memoryMessage{id: id, body: body})
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return id
}

// Publish satisfies notify.Publisher so a queue can stand in for a topic
// subscription in tests
func (q *MemoryQueue) Publish(_ context.Context, _ string, message string) error {
	q.Send(message)
	return nil
}

// Receive returns visible messages, waiting up to the configured wait time
// when none are available
func (q *MemoryQueue) Receive(ctx context.Context) ([]Message, error) {
	return q.ReceiveUpTo(ctx, q.maxMessages)
}

// ReceiveUpTo is Receive returning at most limit messages
func (q *MemoryQueue) ReceiveUpTo(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 || limit > q.maxMessages {
		limit = q.maxMessages
	}
	if msgs := q.take(limit); len(msgs) > 0 || q.wait <= 0 {
		return msgs, nil
	}

	timer := time.NewTimer(q.wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	case <-q.signal:
	}
	return q.take(limit), nil
}

func (q *MemoryQueue) take(limit int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Message
	for _, m := range q.messages {
		if len(out) >= limit {
			break
		}
		if m.visibleAt.After(now) {
			continue
		}
		m.receives++
		m.handle = fmt.Sprintf("%s-r%d", m.id, m.receives)
		m.visibleAt = now.Add(q.visibility)
		out = append(out, Message{
			ID:           m.id,
			Body:         m.body,
			Handle:       m.handle,
			ReceiveCount: m.receives,
		})
	}
	return out
}

// Delete removes the message whose latest delivery carries handle. Stale
// handles from earlier deliveries are ignored.
func (q *MemoryQueue) Delete(_ context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, m := range q.messages {
		if m.handle == handle {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return nil
		}
	}
	return nil
}

// ExpireVisibility makes every in-flight message visible again, simulating
// the visibility timeout elapsing
func (q *MemoryQueue) ExpireVisibility() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.messages {
		m.visibleAt = time.Time{}
	}
}

// Len returns the number of messages not yet deleted
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Bodies returns the bodies of all undeleted messages in send order
func (q *MemoryQueue) Bodies() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, len(q.messages))
	for i, m := range q.messages {
		out[i] = m.body
	}
	return out
}
