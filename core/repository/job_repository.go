package repository

import (
	"context"
	"errors"
	"fmt"

	"annotation-orchestrator/core/models"
)

var (
	// ErrJobNotFound is returned when no record exists for a job id
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when creating a job whose id is already taken
	ErrJobExists = errors.New("job already exists")
	// ErrConditionFailed is returned when a conditional write finds the record
	// in a different state than expected
	ErrConditionFailed = errors.New("job record condition failed")
	// ErrInvalidTransition is returned for a status change that is not forward
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// JobRepository is the single source of truth for job state.
//
// CreateJob, TransitionStatus, SetArchived and MarkRestored are conditional
// writes and are safe to repeat under at-least-once delivery. CompleteJob and
// RecordRetrieval overwrite their fields unconditionally.
type JobRepository interface {
	// CreateJob stores a new job, failing with ErrJobExists if the id is taken
	CreateJob(ctx context.Context, job *models.Job) error
	// GetJob returns the job or ErrJobNotFound
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// TransitionStatus moves the job from one status to the next only if the
	// stored status still equals from
	TransitionStatus(ctx context.Context, id string, from, to models.JobStatus) error
	// CompleteJob marks the job COMPLETED and records its result locations
	CompleteJob(ctx context.Context, id string, completion models.Completion) error
	// SetArchived records the archive id and clears the restored flag. It only
	// applies to COMPLETED jobs without an archive id; repeating it with the
	// same archive id is a no-op.
	SetArchived(ctx context.Context, id, archiveID string) error
	// MarkRestored sets the restored flag on an archived job
	MarkRestored(ctx context.Context, id string) error
	// RecordRetrieval stores the cold retrieval job and tier granted for a job
	RecordRetrieval(ctx context.Context, id, retrievalJobID string, tier models.RetrievalTier) error
	// ListJobsByUser returns summaries of every job owned by the user
	ListJobsByUser(ctx context.Context, userID string) ([]models.JobSummary, error)
	// ListJobsByStatus returns summaries of every job in the given status
	ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]models.JobSummary, error)
}

// checkTransition validates a status change before it reaches the store
func checkTransition(from, to models.JobStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
