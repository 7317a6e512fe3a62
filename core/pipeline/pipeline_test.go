package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annotation-orchestrator/core/executor"
	"annotation-orchestrator/core/models"
	"annotation-orchestrator/core/monitoring"
	"annotation-orchestrator/core/queue"
	"annotation-orchestrator/core/repository"
	"annotation-orchestrator/storage"
)

const (
	inputsBucket  = "gas-inputs"
	resultsBucket = "gas-results"
	thawTopic     = "arn:aws:sns:us-east-1:123456789012:gas-thaw"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMetrics() *monitoring.Metrics {
	return monitoring.NewMetrics(prometheus.NewRegistry())
}

func message(t *testing.T, payload any) queue.Message {
	t.Helper()
	body, err := queue.Encode(payload)
	require.NoError(t, err)
	return queue.Message{ID: "m1", Body: body, Handle: "h1", ReceiveCount: 1}
}

// recordingLauncher captures launched tasks instead of running them
type recordingLauncher struct {
	mu    sync.Mutex
	tasks []executor.Task
}

func (l *recordingLauncher) Launch(task executor.Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks = append(l.tasks, task)
}

func (l *recordingLauncher) launched() []executor.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]executor.Task(nil), l.tasks...)
}

func submittedJob(id, userID string) *models.Job {
	return &models.Job{
		ID:            id,
		UserID:        userID,
		UserEmail:     userID + "@example.com",
		InputFileName: "sample.vcf",
		InputBucket:   inputsBucket,
		InputKey:      "gas-owner/" + userID + "/" + id + "~sample.vcf",
		SubmitTime:    1_700_000_000,
		Status:        models.JobStatusPending,
	}
}

// completedJob stores a completed job and its hot result object
func completedJob(t *testing.T, repo *repository.MemoryJobRepository, store *storage.MemoryObjectStore, id, userID string) *models.Job {
	t.Helper()
	ctx := context.Background()
	job := submittedJob(id, userID)
	require.NoError(t, repo.CreateJob(ctx, job))

	resultKey := "gas-owner/" + userID + "/" + id + "~sample.annot.vcf"
	require.NoError(t, repo.CompleteJob(ctx, id, models.Completion{
		ResultsBucket: resultsBucket,
		ResultKey:     resultKey,
		LogKey:        "gas-owner/" + userID + "/" + id + "~sample.vcf.count.log",
		CompleteTime:  1_700_000_100,
	}))
	require.NoError(t, store.PutObject(ctx, resultsBucket, resultKey, []byte("annotated "+id)))

	stored, err := repo.GetJob(ctx, id)
	require.NoError(t, err)
	return stored
}

type requestFixture struct {
	repo     *repository.MemoryJobRepository
	store    *storage.MemoryObjectStore
	launcher *recordingLauncher
	jobsDir  string
	handler  *RequestHandler
}

func newRequestFixture(t *testing.T) *requestFixture {
	f := &requestFixture{
		repo:     repository.NewMemoryJobRepository(),
		store:    storage.NewMemoryObjectStore(),
		launcher: &recordingLauncher{},
		jobsDir:  t.TempDir(),
	}
	f.handler = NewRequestHandler(f.repo, f.store, f.launcher, f.jobsDir, discardLogger())
	return f
}

func (f *requestFixture) submit(t *testing.T, job *models.Job) queue.Message {
	t.Helper()
	require.NoError(t, f.repo.CreateJob(context.Background(), job))
	require.NoError(t, f.store.PutObject(context.Background(), job.InputBucket, job.InputKey, []byte("##fileformat=VCFv4.1")))
	return message(t, models.NewSubmissionRequest(job))
}

func TestRequestHandlerLaunchesPendingJob(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()
	msg := f.submit(t, submittedJob("j1", "u1"))

	require.NoError(t, f.handler.Handle(ctx, msg))

	tasks := f.launcher.launched()
	require.Len(t, tasks, 1)
	assert.Equal(t, filepath.Join(f.jobsDir, "u1", "j1"), tasks[0].WorkDir)
	assert.Equal(t, filepath.Join(f.jobsDir, "u1", "j1", "sample.vcf"), tasks[0].InputPath)
	assert.Equal(t, "gas-owner/u1/j1~sample.vcf", tasks[0].InputKey)

	body, err := os.ReadFile(tasks[0].InputPath)
	require.NoError(t, err)
	assert.Equal(t, "##fileformat=VCFv4.1", string(body))

	job, err := f.repo.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
}

// TestRequestHandlerRedeliveryAfterStart verifies that a start message
// redelivered after the job moved on leaves its status untouched.
func TestRequestHandlerRedeliveryAfterStart(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()
	msg := f.submit(t, submittedJob("j1", "u1"))

	require.NoError(t, f.handler.Handle(ctx, msg))
	require.NoError(t, f.handler.Handle(ctx, msg))

	job, err := f.repo.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)

	require.NoError(t, f.repo.CompleteJob(ctx, "j1", models.Completion{ResultKey: "r"}))
	require.NoError(t, f.handler.Handle(ctx, msg))

	job, err = f.repo.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestRequestHandlerCompletedJobHasNoSideEffects(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()
	msg := f.submit(t, submittedJob("j1", "u1"))
	require.NoError(t, f.repo.CompleteJob(ctx, "j1", models.Completion{ResultKey: "r", CompleteTime: 7}))
	before, err := f.repo.GetJob(ctx, "j1")
	require.NoError(t, err)

	require.NoError(t, f.handler.Handle(ctx, msg))

	assert.Empty(t, f.launcher.launched())
	_, err = os.Stat(filepath.Join(f.jobsDir, "u1"))
	assert.True(t, os.IsNotExist(err), "no input must be downloaded")

	after, err := f.repo.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRequestHandlerAcknowledgesFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing job record", func(t *testing.T) {
		f := newRequestFixture(t)
		msg := message(t, models.NewSubmissionRequest(submittedJob("ghost", "u1")))
		assert.NoError(t, f.handler.Handle(ctx, msg))
		assert.Empty(t, f.launcher.launched())
	})

	t.Run("input download fails", func(t *testing.T) {
		f := newRequestFixture(t)
		job := submittedJob("j1", "u1")
		require.NoError(t, f.repo.CreateJob(ctx, job))

		assert.NoError(t, f.handler.Handle(ctx, message(t, models.NewSubmissionRequest(job))))
		assert.Empty(t, f.launcher.launched())

		stored, err := f.repo.GetJob(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusPending, stored.Status)
	})
}

// TestRequestHandlerRefusesUnsafeWorkDir verifies that ids and file names
// that would escape the per-job directory are acknowledged without staging
// anything, and that files elsewhere under the jobs root are left alone.
func TestRequestHandlerRefusesUnsafeWorkDir(t *testing.T) {
	tests := []struct {
		name   string
		jobID  string
		userID string
		file   string
	}{
		{"parent job id", "..", "u1", "sample.vcf"},
		{"current job id", ".", "u1", "sample.vcf"},
		{"parent user id", "j1", "..", "sample.vcf"},
		{"nested job id", "a/b", "u1", "sample.vcf"},
		{"traversal file name", "j1", "u1", "../../escape.vcf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRequestFixture(t)
			ctx := context.Background()
			bystander := filepath.Join(f.jobsDir, "other-user-input.vcf")
			require.NoError(t, os.WriteFile(bystander, []byte("keep"), 0o644))

			job := submittedJob(tt.jobID, tt.userID)
			job.InputFileName = tt.file
			msg := f.submit(t, job)

			assert.NoError(t, f.handler.Handle(ctx, msg))
			assert.Empty(t, f.launcher.launched())

			stored, err := f.repo.GetJob(ctx, tt.jobID)
			require.NoError(t, err)
			assert.Equal(t, models.JobStatusPending, stored.Status)

			entries, err := os.ReadDir(f.jobsDir)
			require.NoError(t, err)
			require.Len(t, entries, 1, "nothing may be staged under the jobs root")
			_, err = os.Stat(bystander)
			assert.NoError(t, err)
		})
	}
}

func TestRequestHandlerMalformed(t *testing.T) {
	f := newRequestFixture(t)
	err := f.handler.Handle(context.Background(), queue.Message{Body: `{"job_id":"j1"}`})
	assert.ErrorIs(t, err, queue.ErrMalformed)
}

type archiveFixture struct {
	repo     *repository.MemoryJobRepository
	profiles *repository.MemoryProfileRepository
	ledger   *repository.MemoryLedger
	store    *storage.MemoryObjectStore
	vault    *storage.MemoryColdStore
	handler  *ArchiveHandler
}

func newArchiveFixture(jobs repository.JobRepository, archiveIDs ...string) *archiveFixture {
	f := &archiveFixture{
		repo: repository.NewMemoryJobRepository(),
		profiles: repository.NewMemoryProfileRepository(
			models.UserProfile{ID: "free", Role: models.RoleFree},
			models.UserProfile{ID: "premium", Role: models.RolePremium},
		),
		ledger: repository.NewMemoryLedger(),
		store:  storage.NewMemoryObjectStore(),
		vault:  storage.NewMemoryColdStore(archiveIDs...),
	}
	if jobs == nil {
		jobs = f.repo
	}
	f.handler = NewArchiveHandler(jobs, f.profiles, f.ledger, f.store, f.vault, resultsBucket, newMetrics(), discardLogger())
	return f
}

func archiveMessage(t *testing.T, job *models.Job) queue.Message {
	return message(t, models.ArchiveRequest{UserID: job.UserID, JobID: job.ID, ResultKey: job.ResultKey})
}

func TestArchiveHandlerPremiumKeepsHotCopy(t *testing.T) {
	f := newArchiveFixture(nil)
	ctx := context.Background()
	job := completedJob(t, f.repo, f.store, "j1", "premium")

	require.NoError(t, f.handler.Handle(ctx, archiveMessage(t, job)))

	assert.Equal(t, 0, f.vault.Uploads())
	assert.True(t, f.store.Has(resultsBucket, job.ResultKey))
	stored, err := f.repo.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, stored.Archived())
}

func TestArchiveHandlerFreeUser(t *testing.T) {
	f := newArchiveFixture(nil, "vault-archive-1")
	ctx := context.Background()
	job := completedJob(t, f.repo, f.store, "j1", "free")

	require.NoError(t, f.handler.Handle(ctx, archiveMessage(t, job)))

	stored, err := f.repo.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "vault-archive-1", stored.ArchiveID)
	assert.False(t, stored.IsRestored)
	assert.False(t, f.store.Has(resultsBucket, job.ResultKey))

	body, ok := f.vault.Archive("vault-archive-1")
	require.True(t, ok)
	assert.Equal(t, "annotated j1", string(body))

	require.NoError(t, f.handler.Handle(ctx, archiveMessage(t, job)))
	assert.Equal(t, 1, f.vault.Uploads(), "redelivery must not upload again")
}

// failingArchiveRepo fails SetArchived a fixed number of times
type failingArchiveRepo struct {
	*repository.MemoryJobRepository
	failures int
}

func (r *failingArchiveRepo) SetArchived(ctx context.Context, id, archiveID string) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("throughput exceeded")
	}
	return r.MemoryJobRepository.SetArchived(ctx, id, archiveID)
}

// TestArchiveHandlerRetryReusesArchive verifies that when the record update
// fails after the upload, the retry reuses the archive id from the ledger.
func TestArchiveHandlerRetryReusesArchive(t *testing.T) {
	repo := &failingArchiveRepo{MemoryJobRepository: repository.NewMemoryJobRepository(), failures: 1}
	f := newArchiveFixture(repo, "vault-archive-1", "vault-archive-2")
	f.repo = repo.MemoryJobRepository
	ctx := context.Background()
	job := completedJob(t, f.repo, f.store, "j1", "free")
	msg := archiveMessage(t, job)

	assert.Error(t, f.handler.Handle(ctx, msg))
	assert.True(t, f.store.Has(resultsBucket, job.ResultKey), "hot copy survives a failed attempt")

	require.NoError(t, f.handler.Handle(ctx, msg))
	assert.Equal(t, 1, f.vault.Uploads())

	stored, err := f.repo.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "vault-archive-1", stored.ArchiveID)
	assert.False(t, f.store.Has(resultsBucket, job.ResultKey))
}

func TestArchiveHandlerUploadFailure(t *testing.T) {
	f := newArchiveFixture(nil, "vault-archive-1")
	ctx := context.Background()
	job := completedJob(t, f.repo, f.store, "j1", "free")
	f.vault.FailUploads(errors.New("vault unavailable"))

	assert.Error(t, f.handler.Handle(ctx, archiveMessage(t, job)))
	stored, err := f.repo.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, stored.Archived())
	assert.True(t, f.store.Has(resultsBucket, job.ResultKey))

	f.vault.FailUploads(nil)
	require.NoError(t, f.handler.Handle(ctx, archiveMessage(t, job)))
	stored, err = f.repo.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "vault-archive-1", stored.ArchiveID)
}

func TestArchiveHandlerRestoredJobUntouched(t *testing.T) {
	f := newArchiveFixture(nil, "vault-archive-1")
	ctx := context.Background()
	job := completedJob(t, f.repo, f.store, "j1", "free")
	require.NoError(t, f.handler.Handle(ctx, archiveMessage(t, job)))
	require.NoError(t, f.repo.MarkRestored(ctx, "j1"))
	require.NoError(t, f.store.PutObject(ctx, resultsBucket, job.ResultKey, []byte("restored")))

	require.NoError(t, f.handler.Handle(ctx, archiveMessage(t, job)))
	assert.True(t, f.store.Has(resultsBucket, job.ResultKey))
}

// archivedJob stores a completed job that has been moved to the vault
func archivedJob(t *testing.T, repo *repository.MemoryJobRepository, vault *storage.MemoryColdStore, id, userID string) *models.Job {
	t.Helper()
	ctx := context.Background()
	completedJob(t, repo, storage.NewMemoryObjectStore(), id, userID)

	archiveID, err := vault.UploadArchive(ctx, []byte("annotated "+id))
	require.NoError(t, err)
	require.NoError(t, repo.SetArchived(ctx, id, archiveID))

	stored, err := repo.GetJob(ctx, id)
	require.NoError(t, err)
	return stored
}

func TestRestoreHandlerStartsOneRetrievalPerArchivedJob(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryJobRepository()
	vault := storage.NewMemoryColdStore()

	archivedJob(t, repo, vault, "a1", "u1")
	archivedJob(t, repo, vault, "a2", "u1")
	archivedJob(t, repo, vault, "a3", "u1")
	restored := archivedJob(t, repo, vault, "a4", "u1")
	require.NoError(t, repo.MarkRestored(ctx, restored.ID))
	completedJob(t, repo, storage.NewMemoryObjectStore(), "hot", "u1")
	archivedJob(t, repo, vault, "other", "u2")

	broken := completedJob(t, repo, storage.NewMemoryObjectStore(), "broken", "u1")
	require.NoError(t, repo.SetArchived(ctx, broken.ID, "missing-archive"))

	vault.RejectTier(models.TierExpedited, errors.New("insufficient capacity"))
	handler := NewRestoreHandler(repo, vault, thawTopic, newMetrics(), discardLogger())

	require.NoError(t, handler.Handle(ctx, message(t, models.RestoreRequest{UserID: "u1"})))

	retrievals := vault.Retrievals()
	require.Len(t, retrievals, 3)
	for _, r := range retrievals {
		assert.Equal(t, models.TierStandard, r.Tier)
	}

	job, err := repo.GetJob(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.TierStandard, job.RestoreTier)
	assert.NotEmpty(t, job.RestoreJobID)
}

func TestRestoreHandlerPrefersExpedited(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryJobRepository()
	vault := storage.NewMemoryColdStore()
	archivedJob(t, repo, vault, "a1", "u1")

	handler := NewRestoreHandler(repo, vault, thawTopic, newMetrics(), discardLogger())
	require.NoError(t, handler.Handle(ctx, message(t, models.RestoreRequest{UserID: "u1"})))

	retrievals := vault.Retrievals()
	require.Len(t, retrievals, 1)
	assert.Equal(t, models.TierExpedited, retrievals[0].Tier)
}

type thawFixture struct {
	repo    *repository.MemoryJobRepository
	store   *storage.MemoryObjectStore
	vault   *storage.MemoryColdStore
	handler *ThawHandler
	job     *models.Job
	notice  models.ThawNotice
}

func newThawFixture(t *testing.T) *thawFixture {
	ctx := context.Background()
	f := &thawFixture{
		repo:  repository.NewMemoryJobRepository(),
		store: storage.NewMemoryObjectStore(),
		vault: storage.NewMemoryColdStore(),
	}
	f.job = archivedJob(t, f.repo, f.vault, "j1", "u1")

	description, err := queue.Encode(models.RetrievalContext{JobID: f.job.ID, ResultKey: f.job.ResultKey})
	require.NoError(t, err)
	retrievalID, err := f.vault.InitiateRetrieval(ctx, storage.RetrievalRequest{
		ArchiveID:   f.job.ArchiveID,
		Tier:        models.TierExpedited,
		Topic:       thawTopic,
		Description: description,
	})
	require.NoError(t, err)

	f.notice = models.ThawNotice{RetrievalJobID: retrievalID, Description: description, ArchiveID: f.job.ArchiveID}
	f.handler = NewThawHandler(f.repo, f.store, f.vault, resultsBucket, newMetrics(), discardLogger())
	return f
}

func TestThawHandlerIncompleteRetrieval(t *testing.T) {
	f := newThawFixture(t)
	err := f.handler.Handle(context.Background(), message(t, f.notice))
	assert.ErrorIs(t, err, storage.ErrRetrievalIncomplete)
	assert.False(t, f.store.Has(resultsBucket, f.job.ResultKey))
}

// TestThawHandlerIsIdempotent verifies that handling the same notification
// twice converges on the same state.
func TestThawHandlerIsIdempotent(t *testing.T) {
	f := newThawFixture(t)
	ctx := context.Background()
	notice, _, err := f.vault.CompleteRetrieval(f.notice.RetrievalJobID)
	require.NoError(t, err)
	msg := message(t, notice)

	require.NoError(t, f.handler.Handle(ctx, msg))
	first, err := f.repo.GetJob(ctx, "j1")
	require.NoError(t, err)
	firstBody, err := f.store.GetObject(ctx, resultsBucket, f.job.ResultKey)
	require.NoError(t, err)

	require.NoError(t, f.handler.Handle(ctx, msg))
	second, err := f.repo.GetJob(ctx, "j1")
	require.NoError(t, err)
	secondBody, err := f.store.GetObject(ctx, resultsBucket, f.job.ResultKey)
	require.NoError(t, err)

	assert.True(t, first.IsRestored)
	assert.Equal(t, first, second)
	assert.Equal(t, firstBody, secondBody)
	assert.Equal(t, "annotated j1", string(secondBody))
}

func TestThawHandlerMalformedDescription(t *testing.T) {
	f := newThawFixture(t)
	f.notice.Description = "not json"
	err := f.handler.Handle(context.Background(), message(t, f.notice))
	assert.ErrorIs(t, err, queue.ErrMalformed)
}
