package executor

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"annotation-orchestrator/core/monitoring"
)

// Runner executes one task to completion
type Runner interface {
	Execute(ctx context.Context, task Task) error
}

// Pool runs tasks on a bounded number of goroutines. Launch blocks while
// every slot is busy.
type Pool struct {
	ctx     context.Context
	group   errgroup.Group
	slots   chan struct{}
	runner  Runner
	metrics *monitoring.Metrics
	logger  *slog.Logger
}

// NewPool creates a pool of size workers. Tasks run under ctx, which should
// outlive the consumer loop so that in-flight jobs can finish on shutdown.
func NewPool(ctx context.Context, size int, runner Runner, metrics *monitoring.Metrics, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		ctx:     ctx,
		slots:   make(chan struct{}, size),
		runner:  runner,
		metrics: metrics,
		logger:  logger,
	}
}

// Launch hands task to a worker, waiting for a free slot
func (p *Pool) Launch(task Task) {
	p.slots <- struct{}{}
	p.metrics.JobsLaunched.Inc()
	p.group.Go(func() error {
		defer func() { <-p.slots }()
		p.metrics.ActiveJobs.Inc()
		defer p.metrics.ActiveJobs.Dec()

		if err := p.runner.Execute(p.ctx, task); err != nil {
			p.logger.Warn("task finished with error", slog.String("job_id", task.JobID), slog.Any("error", err))
		}
		return nil
	})
}

// WaitFree blocks until at least one slot is free and returns the number of
// free slots. The count only holds while Launch has a single caller.
func (p *Pool) WaitFree(ctx context.Context) (int, error) {
	select {
	case p.slots <- struct{}{}:
		<-p.slots
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return cap(p.slots) - len(p.slots), nil
}

// Wait blocks until every launched task has finished
func (p *Pool) Wait() {
	_ = p.group.Wait()
}
