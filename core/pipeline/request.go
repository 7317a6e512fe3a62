// Package pipeline implements the message handlers behind each consumer
// process: job requests, archiving, restore requests and thaw notifications.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"annotation-orchestrator/core/executor"
	"annotation-orchestrator/core/models"
	"annotation-orchestrator/core/queue"
	"annotation-orchestrator/core/repository"
	"annotation-orchestrator/storage"
)

// Launcher hands a task to the execution pool, blocking while it is full
type Launcher interface {
	Launch(task executor.Task)
}

// RequestHandler starts annotation jobs from submission requests
type RequestHandler struct {
	jobs     repository.JobRepository
	store    storage.ObjectStore
	launcher Launcher
	jobsDir  string
	logger   *slog.Logger
}

// NewRequestHandler creates a handler that stages inputs under jobsDir
func NewRequestHandler(jobs repository.JobRepository, store storage.ObjectStore, launcher Launcher, jobsDir string, logger *slog.Logger) *RequestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestHandler{jobs: jobs, store: store, launcher: launcher, jobsDir: jobsDir, logger: logger}
}

// Handle downloads the input, launches the job and marks it RUNNING.
// Completed jobs are acknowledged without side effects. Download and launch
// failures are reported and the message is still acknowledged.
func (h *RequestHandler) Handle(ctx context.Context, msg queue.Message) error {
	var req models.SubmissionRequest
	if err := queue.Decode(msg.Body, &req); err != nil {
		return err
	}
	logger := h.logger.With(slog.String("job_id", req.JobID), slog.String("user_id", req.UserID))

	job, err := h.jobs.GetJob(ctx, req.JobID)
	if errors.Is(err, repository.ErrJobNotFound) {
		logger.Error("job record missing, dropping request")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read job %s: %w", req.JobID, err)
	}
	if job.Status == models.JobStatusCompleted {
		logger.Info("job already completed, ignoring duplicate request")
		return nil
	}

	workDir, inputPath, err := h.workPaths(req)
	if err != nil {
		logger.Error("refusing to stage job", slog.Any("error", err))
		return nil
	}
	if err := storage.DownloadFile(ctx, h.store, req.InputBucket, req.InputKey, inputPath); err != nil {
		logger.Error("failed to download input", slog.Any("error", err))
		return nil
	}

	h.launcher.Launch(executor.Task{
		JobID:         req.JobID,
		UserID:        req.UserID,
		UserEmail:     req.UserEmail,
		InputFileName: req.InputFileName,
		InputKey:      req.InputKey,
		InputPath:     inputPath,
		WorkDir:       workDir,
	})

	err = h.jobs.TransitionStatus(ctx, req.JobID, models.JobStatusPending, models.JobStatusRunning)
	switch {
	case errors.Is(err, repository.ErrConditionFailed):
		logger.Info("job was not PENDING, status left unchanged")
	case err != nil:
		logger.Error("failed to mark job RUNNING", slog.Any("error", err))
	default:
		logger.Info("job launched")
	}
	return nil
}

// workPaths returns the job's working directory and input path. Each of
// user id, job id and file name must be a single path element so the
// directory is strictly below jobsDir and owned by this job alone.
func (h *RequestHandler) workPaths(req models.SubmissionRequest) (string, string, error) {
	for _, part := range []string{req.UserID, req.JobID, req.InputFileName} {
		if !isPathElement(part) {
			return "", "", fmt.Errorf("unsafe path element %q", part)
		}
	}

	root := filepath.Clean(h.jobsDir)
	workDir := filepath.Join(root, req.UserID, req.JobID)
	rel, err := filepath.Rel(root, workDir)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return "", "", fmt.Errorf("work dir %s is not below %s", workDir, root)
	}
	return workDir, filepath.Join(workDir, req.InputFileName), nil
}

func isPathElement(s string) bool {
	return s != "" && s != "." && s != ".." &&
		!strings.ContainsAny(s, `/\`) && filepath.Base(s) == s
}
