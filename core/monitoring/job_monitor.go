package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"annotation-orchestrator/core/models"
)

// RunningJobLister is the slice of the job store the reporter reads
type RunningJobLister interface {
	ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]models.JobSummary, error)
}

// StaleJobReporter periodically looks for jobs stuck in RUNNING.
// A job whose tool run failed or whose driver process died stays RUNNING
// forever, so this is the only place such jobs surface.
type StaleJobReporter struct {
	jobs      RunningJobLister
	threshold time.Duration
	schedule  string
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewStaleJobReporter creates a reporter that runs on the given cron schedule
// (standard five fields or a descriptor such as "@every 10m")
func NewStaleJobReporter(jobs RunningJobLister, threshold time.Duration, schedule string, metrics *Metrics, logger *slog.Logger) *StaleJobReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &StaleJobReporter{
		jobs:      jobs,
		threshold: threshold,
		schedule:  schedule,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs the reporter on its schedule until ctx is cancelled
func (r *StaleJobReporter) Start(ctx context.Context) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	if _, err := c.AddFunc(r.schedule, func() {
		if _, err := r.Check(ctx); err != nil {
			r.logger.Error("stale job check failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("invalid stale job schedule %q: %w", r.schedule, err)
	}

	c.Start()
	r.logger.Info("stale job reporter started",
		slog.String("schedule", r.schedule),
		slog.Duration("threshold", r.threshold),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Check lists RUNNING jobs submitted longer ago than the threshold and logs
// each one. It returns the stale jobs found.
func (r *StaleJobReporter) Check(ctx context.Context) ([]models.JobSummary, error) {
	running, err := r.jobs.ListJobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}

	cutoff := r.now().Add(-r.threshold).Unix()
	var stale []models.JobSummary
	for _, job := range running {
		if job.SubmitTime > cutoff {
			continue
		}
		stale = append(stale, job)
		r.logger.Warn("job still running past threshold",
			slog.String("job_id", job.ID),
			slog.String("user_id", job.UserID),
			slog.Int64("submit_time", job.SubmitTime),
		)
	}

	if r.metrics != nil {
		r.metrics.StaleJobs.Set(float64(len(stale)))
	}
	return stale, nil
}
