package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"annotation-orchestrator/core/models"
	"annotation-orchestrator/core/monitoring"
	"annotation-orchestrator/core/queue"
	"annotation-orchestrator/core/repository"
	"annotation-orchestrator/storage"
)

// retrievalTiers lists the tiers tried in order
var retrievalTiers = []models.RetrievalTier{models.TierExpedited, models.TierStandard}

// RestoreHandler starts cold retrievals for a user who upgraded to premium
type RestoreHandler struct {
	jobs      repository.JobRepository
	cold      storage.ColdStore
	thawTopic string
	metrics   *monitoring.Metrics
	logger    *slog.Logger
}

// NewRestoreHandler creates a handler whose retrievals notify thawTopic
func NewRestoreHandler(jobs repository.JobRepository, cold storage.ColdStore, thawTopic string, metrics *monitoring.Metrics, logger *slog.Logger) *RestoreHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RestoreHandler{jobs: jobs, cold: cold, thawTopic: thawTopic, metrics: metrics, logger: logger}
}

// Handle initiates one retrieval per archived, unrestored job of the user.
// A failure for one job is logged and skipped.
func (h *RestoreHandler) Handle(ctx context.Context, msg queue.Message) error {
	var req models.RestoreRequest
	if err := queue.Decode(msg.Body, &req); err != nil {
		return err
	}
	logger := h.logger.With(slog.String("user_id", req.UserID))

	summaries, err := h.jobs.ListJobsByUser(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("list jobs for %s: %w", req.UserID, err)
	}

	started := 0
	for _, job := range summaries {
		if !job.AwaitingRestore() {
			continue
		}
		jobLogger := logger.With(slog.String("job_id", job.ID), slog.String("archive_id", job.ArchiveID))

		description, err := queue.Encode(models.RetrievalContext{JobID: job.ID, ResultKey: job.ResultKey})
		if err != nil {
			jobLogger.Error("failed to encode retrieval context", slog.Any("error", err))
			continue
		}

		retrievalID, tier, err := h.initiate(ctx, job.ArchiveID, description, jobLogger)
		if err != nil {
			jobLogger.Error("failed to start retrieval", slog.Any("error", err))
			continue
		}
		started++
		h.metrics.Retrievals.WithLabelValues(string(tier)).Inc()

		if err := h.jobs.RecordRetrieval(ctx, job.ID, retrievalID, tier); err != nil {
			jobLogger.Warn("failed to record retrieval on job", slog.Any("error", err))
		}
		jobLogger.Info("retrieval started", slog.String("retrieval_id", retrievalID), slog.String("tier", string(tier)))
	}

	logger.Info("restore request handled", slog.Int("retrievals", started))
	return nil
}

// initiate tries each tier in order and returns the first one granted
func (h *RestoreHandler) initiate(ctx context.Context, archiveID, description string, logger *slog.Logger) (string, models.RetrievalTier, error) {
	var lastErr error
	for _, tier := range retrievalTiers {
		id, err := h.cold.InitiateRetrieval(ctx, storage.RetrievalRequest{
			ArchiveID:   archiveID,
			Tier:        tier,
			Topic:       h.thawTopic,
			Description: description,
		})
		if err == nil {
			return id, tier, nil
		}
		logger.Warn("retrieval tier rejected", slog.String("tier", string(tier)), slog.Any("error", err))
		lastErr = err
	}
	return "", "", lastErr
}
