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

// ThawHandler copies finished retrievals back into hot storage
type ThawHandler struct {
	jobs          repository.JobRepository
	store         storage.ObjectStore
	cold          storage.ColdStore
	resultsBucket string
	metrics       *monitoring.Metrics
	logger        *slog.Logger
}

// NewThawHandler creates a new thaw handler
func NewThawHandler(jobs repository.JobRepository, store storage.ObjectStore, cold storage.ColdStore, resultsBucket string, metrics *monitoring.Metrics, logger *slog.Logger) *ThawHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThawHandler{
		jobs:          jobs,
		store:         store,
		cold:          cold,
		resultsBucket: resultsBucket,
		metrics:       metrics,
		logger:        logger,
	}
}

// Handle restores one retrieved archive. Every step is safe to repeat, so a
// redelivered notification converges on the same state.
func (h *ThawHandler) Handle(ctx context.Context, msg queue.Message) error {
	var notice models.ThawNotice
	if err := queue.Decode(msg.Body, &notice); err != nil {
		return err
	}
	var rc models.RetrievalContext
	if err := queue.Decode(notice.Description, &rc); err != nil {
		return err
	}
	logger := h.logger.With(slog.String("job_id", rc.JobID), slog.String("retrieval_id", notice.RetrievalJobID))

	status, err := h.cold.DescribeRetrieval(ctx, notice.RetrievalJobID)
	if err != nil {
		h.metrics.Thaws.WithLabelValues("failed").Inc()
		return fmt.Errorf("describe retrieval %s: %w", notice.RetrievalJobID, err)
	}
	if !status.Completed {
		h.metrics.Thaws.WithLabelValues("pending").Inc()
		return fmt.Errorf("retrieval %s is %s: %w", notice.RetrievalJobID, status.StatusCode, storage.ErrRetrievalIncomplete)
	}

	body, err := h.cold.GetRetrievalOutput(ctx, notice.RetrievalJobID)
	if err != nil {
		h.metrics.Thaws.WithLabelValues("failed").Inc()
		return fmt.Errorf("fetch retrieval %s: %w", notice.RetrievalJobID, err)
	}
	if err := h.store.PutObject(ctx, h.resultsBucket, rc.ResultKey, body); err != nil {
		h.metrics.Thaws.WithLabelValues("failed").Inc()
		return fmt.Errorf("restore %s to hot storage: %w", rc.ResultKey, err)
	}
	if err := h.jobs.MarkRestored(ctx, rc.JobID); err != nil {
		h.metrics.Thaws.WithLabelValues("failed").Inc()
		return fmt.Errorf("mark job %s restored: %w", rc.JobID, err)
	}

	h.metrics.Thaws.WithLabelValues("restored").Inc()
	logger.Info("results restored", slog.String("result_key", rc.ResultKey))
	return nil
}
