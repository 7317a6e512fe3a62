package executor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"annotation-orchestrator/core/models"
	"annotation-orchestrator/core/monitoring"
	"annotation-orchestrator/core/notify"
	"annotation-orchestrator/storage"
)

// JobCompleter is the slice of the job store the driver writes to
type JobCompleter interface {
	CompleteJob(ctx context.Context, id string, c models.Completion) error
}

// Task is one annotation job handed to the driver
type Task struct {
	JobID         string
	UserID        string
	UserEmail     string
	InputFileName string
	InputKey      string
	InputPath     string
	WorkDir       string
}

// Invocation returns the tool arguments for the task
func (t Task) Invocation() Invocation {
	return Invocation{
		InputPath: t.InputPath,
		WorkDir:   t.WorkDir,
		UserID:    t.UserID,
		JobID:     t.JobID,
		UserEmail: t.UserEmail,
	}
}

// DriverConfig holds the destinations the driver writes to
type DriverConfig struct {
	ResultsBucket   string
	CompletionTopic string
	// ArchiveTopic is optional; when set an archive request is published for
	// every completed job
	ArchiveTopic string
	Layout       storage.ResultLayout
}

// Driver runs the annotation tool for a job and records its results
type Driver struct {
	cfg       DriverConfig
	tool      Tool
	jobs      JobCompleter
	store     storage.ObjectStore
	publisher notify.Publisher
	metrics   *monitoring.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewDriver creates a new driver
func NewDriver(
	cfg DriverConfig,
	tool Tool,
	jobs JobCompleter,
	store storage.ObjectStore,
	publisher notify.Publisher,
	metrics *monitoring.Metrics,
	logger *slog.Logger,
) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		cfg:       cfg,
		tool:      tool,
		jobs:      jobs,
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Execute runs the tool, uploads its outputs, cleans up the working
// directory, marks the job completed and publishes the completion notices.
// Only a tool failure is returned; later steps log their failures and the
// remaining steps still run.
func (d *Driver) Execute(ctx context.Context, task Task) error {
	logger := d.logger.With(slog.String("job_id", task.JobID), slog.String("user_id", task.UserID))
	logger.Info("running annotator", slog.String("input", task.InputPath))

	if err := d.tool.Run(ctx, task.Invocation()); err != nil {
		d.metrics.JobsFailed.Inc()
		logger.Error("annotator failed, job stays RUNNING", slog.Any("error", err))
		d.cleanup(task.WorkDir, logger)
		return err
	}

	keys, err := d.cfg.Layout.UploadResults(ctx, d.store, d.cfg.ResultsBucket, task.WorkDir, task.UserID, task.JobID)
	if err != nil {
		logger.Error("result upload incomplete", slog.Any("error", err))
	}
	logger.Info("results uploaded", slog.Any("keys", keys))

	if err := os.Remove(task.WorkDir); err != nil {
		logger.Error("failed to remove working directory", slog.String("dir", task.WorkDir), slog.Any("error", err))
	}

	resultKey, logKey := d.cfg.Layout.ResultKeys(task.InputKey)
	completion := models.Completion{
		ResultsBucket: d.cfg.ResultsBucket,
		ResultKey:     resultKey,
		LogKey:        logKey,
		CompleteTime:  d.now().Unix(),
	}
	if err := d.jobs.CompleteJob(ctx, task.JobID, completion); err != nil {
		logger.Error("failed to record completion", slog.Any("error", err))
	} else {
		d.metrics.JobsCompleted.Inc()
	}

	notice := models.CompletionNotice{
		JobID:     task.JobID,
		FileName:  task.InputFileName,
		UserEmail: task.UserEmail,
		Status:    models.JobStatusCompleted,
	}
	if err := notify.PublishJSON(ctx, d.publisher, d.cfg.CompletionTopic, notice); err != nil {
		logger.Error("failed to publish completion", slog.Any("error", err))
	}

	if d.cfg.ArchiveTopic != "" {
		req := models.ArchiveRequest{UserID: task.UserID, JobID: task.JobID, ResultKey: resultKey}
		if err := notify.PublishJSON(ctx, d.publisher, d.cfg.ArchiveTopic, req); err != nil {
			logger.Error("failed to publish archive request", slog.Any("error", err))
		}
	}

	logger.Info("job completed", slog.String("result_key", resultKey))
	return nil
}

// cleanup removes every file in dir and then dir itself
func (d *Driver) cleanup(dir string, logger *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Error("failed to list working directory", slog.String("dir", dir), slog.Any("error", err))
		return
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			logger.Error("failed to remove file", slog.String("file", entry.Name()), slog.Any("error", err))
		}
	}
	if err := os.Remove(dir); err != nil {
		logger.Error("failed to remove working directory", slog.String("dir", dir), slog.Any("error", err))
	}
}
