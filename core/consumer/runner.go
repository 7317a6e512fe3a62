// Package consumer runs the long-poll receive loop shared by every queue
// consumer process.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"annotation-orchestrator/core/monitoring"
	"annotation-orchestrator/core/queue"
)

const tracerName = "annotation-orchestrator/core/consumer"

// Handler processes one message. Returning nil acknowledges the message;
// returning an error leaves it on the queue for redelivery.
type Handler interface {
	Handle(ctx context.Context, msg queue.Message) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, msg queue.Message) error

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, msg queue.Message) error {
	return f(ctx, msg)
}

// Capacity reports how many messages the handler can take without blocking.
// WaitFree blocks until that number is at least one.
type Capacity interface {
	WaitFree(ctx context.Context) (int, error)
}

// Runner polls a queue and hands every message to a handler
type Runner struct {
	queue    queue.Queue
	handler  Handler
	capacity Capacity
	metrics  *monitoring.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	stopChan chan struct{}

	maxBackoff time.Duration
}

// NewRunner creates a runner for q
func NewRunner(q queue.Queue, h Handler, metrics *monitoring.Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		queue:      q,
		handler:    h,
		metrics:    metrics,
		logger:     logger.With(slog.String("queue", q.Name())),
		tracer:     otel.Tracer(tracerName),
		stopChan:   make(chan struct{}),
		maxBackoff: 30 * time.Second,
	}
}

// WithCapacity makes each receive wait for free capacity in c and ask for no
// more messages than c can take
func (r *Runner) WithCapacity(c Capacity) *Runner {
	r.capacity = c
	return r
}

// Start polls until ctx is cancelled or Stop is called. Receive errors are
// retried with exponential backoff; handler errors never stop the loop.
func (r *Runner) Start(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = r.maxBackoff
	bo.MaxElapsedTime = 0

	r.logger.Info("consumer started")
	defer r.logger.Info("consumer stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		default:
		}

		if _, err := r.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			r.logger.Warn("receive failed", slog.Any("error", err), slog.Duration("retry_in", wait))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-r.stopChan:
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		bo.Reset()
	}
}

// Stop stops the receive loop after the current batch
func (r *Runner) Stop() {
	close(r.stopChan)
}

// Poll performs one receive and handles the returned batch. It returns the
// number of messages acknowledged.
func (r *Runner) Poll(ctx context.Context) (int, error) {
	msgs, err := r.receive(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		r.metrics.ReceiveErrors.WithLabelValues(r.queue.Name()).Inc()
		return 0, err
	}

	acked := 0
	for _, msg := range msgs {
		if r.process(ctx, msg) {
			acked++
		}
	}
	return acked, nil
}

func (r *Runner) receive(ctx context.Context) ([]queue.Message, error) {
	if r.capacity == nil {
		return r.queue.Receive(ctx)
	}
	free, err := r.capacity.WaitFree(ctx)
	if err != nil {
		return nil, err
	}
	return r.queue.ReceiveUpTo(ctx, free)
}

// process handles one message and deletes it on success
func (r *Runner) process(ctx context.Context, msg queue.Message) bool {
	name := r.queue.Name()
	ctx, span := r.tracer.Start(ctx, "consumer.handle",
		trace.WithAttributes(
			attribute.String("messaging.destination", name),
			attribute.String("messaging.message_id", msg.ID),
			attribute.Int("messaging.receive_count", msg.ReceiveCount),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	r.metrics.MessagesReceived.WithLabelValues(name).Inc()

	if err := r.handler.Handle(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if errors.Is(err, queue.ErrMalformed) {
			r.metrics.MessagesMalformed.WithLabelValues(name).Inc()
			r.logger.Debug("skipping malformed message", slog.String("message_id", msg.ID), slog.Any("error", err))
			return false
		}
		r.metrics.MessagesRetried.WithLabelValues(name).Inc()
		r.logger.Warn("message left for redelivery",
			slog.String("message_id", msg.ID),
			slog.Int("receive_count", msg.ReceiveCount),
			slog.Any("error", err),
		)
		return false
	}

	if err := r.queue.Delete(ctx, msg.Handle); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("failed to delete message", slog.String("message_id", msg.ID), slog.Any("error", err))
		return false
	}

	span.SetStatus(codes.Ok, "")
	r.metrics.MessagesAcked.WithLabelValues(name).Inc()
	return true
}
