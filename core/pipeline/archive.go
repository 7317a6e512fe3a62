package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"annotation-orchestrator/core/models"
	"annotation-orchestrator/core/monitoring"
	"annotation-orchestrator/core/queue"
	"annotation-orchestrator/core/repository"
	"annotation-orchestrator/storage"
)

// ArchiveHandler moves free users' results from hot to cold storage
type ArchiveHandler struct {
	jobs          repository.JobRepository
	profiles      repository.ProfileRepository
	ledger        repository.OperationLedger
	store         storage.ObjectStore
	cold          storage.ColdStore
	resultsBucket string
	metrics       *monitoring.Metrics
	logger        *slog.Logger
}

// NewArchiveHandler creates a new archive handler
func NewArchiveHandler(
	jobs repository.JobRepository,
	profiles repository.ProfileRepository,
	ledger repository.OperationLedger,
	store storage.ObjectStore,
	cold storage.ColdStore,
	resultsBucket string,
	metrics *monitoring.Metrics,
	logger *slog.Logger,
) *ArchiveHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveHandler{
		jobs:          jobs,
		profiles:      profiles,
		ledger:        ledger,
		store:         store,
		cold:          cold,
		resultsBucket: resultsBucket,
		metrics:       metrics,
		logger:        logger,
	}
}

// Handle archives the result of one job. Premium users' results stay in hot
// storage. Any failing step returns an error so the message is redelivered.
func (h *ArchiveHandler) Handle(ctx context.Context, msg queue.Message) error {
	var req models.ArchiveRequest
	if err := queue.Decode(msg.Body, &req); err != nil {
		return err
	}
	logger := h.logger.With(slog.String("job_id", req.JobID), slog.String("user_id", req.UserID))

	profile, err := h.profiles.GetProfile(ctx, req.UserID)
	if err != nil {
		h.metrics.Archives.WithLabelValues("failed").Inc()
		return fmt.Errorf("read profile %s: %w", req.UserID, err)
	}
	if profile.Premium() {
		h.metrics.Archives.WithLabelValues("skipped_premium").Inc()
		logger.Info("premium user, results stay in hot storage")
		return nil
	}

	job, err := h.jobs.GetJob(ctx, req.JobID)
	if errors.Is(err, repository.ErrJobNotFound) {
		logger.Error("job record missing, dropping archive request")
		return nil
	}
	if err != nil {
		h.metrics.Archives.WithLabelValues("failed").Inc()
		return fmt.Errorf("read job %s: %w", req.JobID, err)
	}
	if job.Archived() && job.IsRestored {
		logger.Info("job already archived and restored, nothing to do")
		return nil
	}

	archiveID := job.ArchiveID
	if archiveID == "" {
		archiveID, err = h.upload(ctx, req, logger)
		if err != nil {
			h.metrics.Archives.WithLabelValues("failed").Inc()
			return err
		}
	}

	if err := h.jobs.SetArchived(ctx, req.JobID, archiveID); err != nil {
		h.metrics.Archives.WithLabelValues("failed").Inc()
		return fmt.Errorf("record archive %s for job %s: %w", archiveID, req.JobID, err)
	}
	if err := h.store.DeleteObject(ctx, h.resultsBucket, req.ResultKey); err != nil {
		h.metrics.Archives.WithLabelValues("failed").Inc()
		return fmt.Errorf("delete hot result %s: %w", req.ResultKey, err)
	}

	h.metrics.Archives.WithLabelValues("archived").Inc()
	logger.Info("results archived", slog.String("archive_id", archiveID))
	return nil
}

// upload copies the hot result into the vault at most once per job, reusing
// an archive id recorded by an earlier attempt
func (h *ArchiveHandler) upload(ctx context.Context, req models.ArchiveRequest, logger *slog.Logger) (string, error) {
	op, created, err := h.ledger.Begin(ctx, req.JobID, repository.OperationArchive)
	if err != nil {
		return "", err
	}
	if op.Done() {
		logger.Info("reusing archive from earlier attempt", slog.String("archive_id", op.Result))
		return op.Result, nil
	}
	if !created {
		logger.Warn("earlier archive attempt did not record its result, a vault archive may be orphaned")
	}

	body, err := h.store.GetObject(ctx, h.resultsBucket, req.ResultKey)
	if err != nil {
		return "", fmt.Errorf("read hot result %s: %w", req.ResultKey, err)
	}
	archiveID, err := h.cold.UploadArchive(ctx, body)
	if err != nil {
		return "", fmt.Errorf("upload archive for job %s: %w", req.JobID, err)
	}
	if err := h.ledger.Complete(ctx, req.JobID, repository.OperationArchive, archiveID); err != nil {
		return "", fmt.Errorf("record archive %s in ledger: %w", archiveID, err)
	}
	return archiveID, nil
}
