package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"annotation-orchestrator/core/models"
)

// MemoryJobRepository is an in-process JobRepository with the same
// conditional semantics as the DynamoDB implementation
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[string]models.Job
}

// NewMemoryJobRepository creates an empty in-memory job repository
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]models.Job)}
}

// CreateJob stores a job if its id is unused
func (r *MemoryJobRepository) CreateJob(_ context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	r.jobs[job.ID] = *job
	return nil
}

// GetJob returns a copy of the stored job
func (r *MemoryJobRepository) GetJob(_ context.Context, id string) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return &job, nil
}

// TransitionStatus applies from -> to if the stored status is still from
func (r *MemoryJobRepository) TransitionStatus(_ context.Context, id string, from, to models.JobStatus) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.Status != from {
		return fmt.Errorf("%w: %s expected %s", ErrConditionFailed, id, from)
	}
	job.Status = to
	r.jobs[id] = job
	return nil
}

// CompleteJob overwrites the completion fields of an existing job
func (r *MemoryJobRepository) CompleteJob(_ context.Context, id string, c models.Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job.Status = models.JobStatusCompleted
	job.ResultsBucket = c.ResultsBucket
	job.ResultKey = c.ResultKey
	job.LogKey = c.LogKey
	job.CompleteTime = c.CompleteTime
	r.jobs[id] = job
	return nil
}

// SetArchived records the archive id on a completed, unarchived job
func (r *MemoryJobRepository) SetArchived(_ context.Context, id, archiveID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConditionFailed, id)
	}
	if job.ArchiveID == archiveID {
		return nil
	}
	if job.Status != models.JobStatusCompleted || job.ArchiveID != "" {
		return fmt.Errorf("%w: %s not archivable", ErrConditionFailed, id)
	}
	job.ArchiveID = archiveID
	job.IsRestored = false
	r.jobs[id] = job
	return nil
}

// MarkRestored flips the restored flag on an archived job
func (r *MemoryJobRepository) MarkRestored(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.ArchiveID == "" {
		return fmt.Errorf("%w: %s has no archive", ErrConditionFailed, id)
	}
	job.IsRestored = true
	r.jobs[id] = job
	return nil
}

// RecordRetrieval stores the retrieval job and tier for a job
func (r *MemoryJobRepository) RecordRetrieval(_ context.Context, id, retrievalJobID string, tier models.RetrievalTier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job.RestoreJobID = retrievalJobID
	job.RestoreTier = tier
	r.jobs[id] = job
	return nil
}

// ListJobsByUser returns the user's jobs ordered by submit time
func (r *MemoryJobRepository) ListJobsByUser(_ context.Context, userID string) ([]models.JobSummary, error) {
	return r.list(func(j *models.Job) bool { return j.UserID == userID }), nil
}

// ListJobsByStatus returns jobs in the given status ordered by submit time
func (r *MemoryJobRepository) ListJobsByStatus(_ context.Context, status models.JobStatus) ([]models.JobSummary, error) {
	return r.list(func(j *models.Job) bool { return j.Status == status }), nil
}

func (r *MemoryJobRepository) list(match func(*models.Job) bool) []models.JobSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.JobSummary
	for _, job := range r.jobs {
		if match(&job) {
			out = append(out, job.Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmitTime == out[j].SubmitTime {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmitTime < out[j].SubmitTime
	})
	return out
}

// MemoryLedger is an in-process OperationLedger
type MemoryLedger struct {
	mu  sync.Mutex
	ops map[string]Operation
	now func() time.Time
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{ops: make(map[string]Operation), now: time.Now}
}

// Begin creates the entry unless it already exists
func (l *MemoryLedger) Begin(_ context.Context, jobID, name string) (*Operation, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := OperationKey(jobID, name)
	if op, ok := l.ops[key]; ok {
		return &op, false, nil
	}
	op := Operation{Key: key, JobID: jobID, Name: name, StartedAt: l.now().Unix()}
	l.ops[key] = op
	return &op, true, nil
}

// Complete records the result of an operation
func (l *MemoryLedger) Complete(_ context.Context, jobID, name, result string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := OperationKey(jobID, name)
	op, ok := l.ops[key]
	if !ok {
		op = Operation{Key: key, JobID: jobID, Name: name, StartedAt: l.now().Unix()}
	}
	op.Result = result
	op.CompletedAt = l.now().Unix()
	l.ops[key] = op
	return nil
}

// MemoryProfileRepository is an in-process ProfileRepository
type MemoryProfileRepository struct {
	mu       sync.Mutex
	profiles map[string]models.UserProfile
}

// NewMemoryProfileRepository creates a repository seeded with the given profiles
func NewMemoryProfileRepository(profiles ...models.UserProfile) *MemoryProfileRepository {
	r := &MemoryProfileRepository{profiles: make(map[string]models.UserProfile)}
	for _, p := range profiles {
		r.profiles[p.ID] = p
	}
	return r
}

// GetProfile returns a copy of the stored profile
func (r *MemoryProfileRepository) GetProfile(_ context.Context, userID string) (*models.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	return &p, nil
}

// UpdateRole changes the stored role
func (r *MemoryProfileRepository) UpdateRole(_ context.Context, userID string, role models.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	p.Role = role
	r.profiles[userID] = p
	return nil
}
