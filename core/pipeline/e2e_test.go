package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annotation-orchestrator/core/consumer"
	"annotation-orchestrator/core/executor"
	"annotation-orchestrator/core/models"
	"annotation-orchestrator/core/notify"
	"annotation-orchestrator/core/queue"
	"annotation-orchestrator/core/repository"
	"annotation-orchestrator/storage"
)

const (
	requestTopic    = "gas-job-requests"
	completionTopic = "gas-job-complete"
	archiveTopic    = "gas-archive"
	restoreTopic    = "gas-restore"
)

// gatedTool writes annotator outputs once released
type gatedTool struct {
	release chan struct{}
}

func (g *gatedTool) Run(ctx context.Context, inv executor.Invocation) error {
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	base := filepath.Join(inv.WorkDir, "sample")
	if err := os.WriteFile(base+".annot.vcf", []byte("annotated J1"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(base+".vcf.count.log", []byte("count"), 0o644)
}

func pollOnce(t *testing.T, r *consumer.Runner) int {
	t.Helper()
	acked, err := r.Poll(context.Background())
	require.NoError(t, err)
	return acked
}

func TestJobLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	metrics := newMetrics()
	logger := discardLogger()
	layout := storage.ResultLayout{Owner: "gas-owner", ResultSuffix: ".annot.vcf", LogSuffix: ".vcf.count.log"}

	repo := repository.NewMemoryJobRepository()
	profiles := repository.NewMemoryProfileRepository(models.UserProfile{ID: "U1", Email: "u1@example.com", Role: models.RoleFree})
	ledger := repository.NewMemoryLedger()
	store := storage.NewMemoryObjectStore()
	vault := storage.NewMemoryColdStore("vault-archive-123")
	publisher := notify.NewMemoryPublisher()

	requests := queue.NewMemoryQueue("requests", queue.WithMaxMessages(5))
	archives := queue.NewMemoryQueue("archive", queue.WithMaxMessages(5))
	restores := queue.NewMemoryQueue("restore", queue.WithMaxMessages(5))
	thaws := queue.NewMemoryQueue("thaw", queue.WithMaxMessages(5))
	publisher.Subscribe(requestTopic, requests)
	publisher.Subscribe(archiveTopic, archives)
	publisher.Subscribe(restoreTopic, restores)
	publisher.Subscribe(thawTopic, thaws)

	tool := &gatedTool{release: make(chan struct{})}
	driver := executor.NewDriver(executor.DriverConfig{
		ResultsBucket:   resultsBucket,
		CompletionTopic: completionTopic,
		ArchiveTopic:    archiveTopic,
		Layout:          layout,
	}, tool, repo, store, publisher, metrics, logger)
	pool := executor.NewPool(ctx, 2, driver, metrics, logger)

	requestRunner := consumer.NewRunner(requests, NewRequestHandler(repo, store, pool, t.TempDir(), logger), metrics, logger)
	archiveRunner := consumer.NewRunner(archives, NewArchiveHandler(repo, profiles, ledger, store, vault, resultsBucket, metrics, logger), metrics, logger)
	restoreRunner := consumer.NewRunner(restores, NewRestoreHandler(repo, vault, thawTopic, metrics, logger), metrics, logger)
	thawRunner := consumer.NewRunner(thaws, NewThawHandler(repo, store, vault, resultsBucket, metrics, logger), metrics, logger)

	// Submit J1 for free user U1
	job := &models.Job{
		ID:            "J1",
		UserID:        "U1",
		UserEmail:     "u1@example.com",
		InputFileName: "sample.vcf",
		InputBucket:   inputsBucket,
		InputKey:      "gas-owner/U1/J1~sample.vcf",
		SubmitTime:    1_700_000_000,
		Status:        models.JobStatusPending,
	}
	require.NoError(t, repo.CreateJob(ctx, job))
	require.NoError(t, store.PutObject(ctx, inputsBucket, job.InputKey, []byte("##fileformat=VCFv4.1")))
	require.NoError(t, notify.PublishJSON(ctx, publisher, requestTopic, models.NewSubmissionRequest(job)))

	stored, err := repo.GetJob(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, stored.Status)

	// Request consumer starts the job
	assert.Equal(t, 1, pollOnce(t, requestRunner))
	stored, err = repo.GetJob(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, stored.Status)
	assert.Equal(t, 0, requests.Len())

	// Execution finishes
	close(tool.release)
	pool.Wait()

	stored, err = repo.GetJob(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, "gas-owner/U1/J1~sample.annot.vcf", stored.ResultKey)
	assert.Equal(t, "gas-owner/U1/J1~sample.vcf.count.log", stored.LogKey)
	assert.Len(t, publisher.Messages(completionTopic), 1)
	assert.True(t, store.Has(resultsBucket, stored.ResultKey))

	// Archive consumer moves the result to the vault
	assert.Equal(t, 1, pollOnce(t, archiveRunner))
	stored, err = repo.GetJob(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, "vault-archive-123", stored.ArchiveID)
	assert.False(t, stored.IsRestored)
	assert.False(t, store.Has(resultsBucket, stored.ResultKey))

	// U1 upgrades and the restore consumer starts a retrieval
	require.NoError(t, profiles.UpdateRole(ctx, "U1", models.RolePremium))
	require.NoError(t, notify.PublishJSON(ctx, publisher, restoreTopic, models.RestoreRequest{UserID: "U1"}))
	assert.Equal(t, 1, pollOnce(t, restoreRunner))

	retrievals := vault.Retrievals()
	require.Len(t, retrievals, 1)
	assert.Equal(t, "vault-archive-123", retrievals[0].ArchiveID)

	// The vault finishes the retrieval and notifies the thaw topic
	notice, topic, err := vault.CompleteRetrieval(retrievals[0].JobID)
	require.NoError(t, err)
	require.NoError(t, notify.PublishJSON(ctx, publisher, topic, notice))
	assert.Equal(t, 1, pollOnce(t, thawRunner))

	stored, err = repo.GetJob(ctx, "J1")
	require.NoError(t, err)
	assert.True(t, stored.IsRestored)
	assert.Equal(t, "vault-archive-123", stored.ArchiveID)

	body, err := store.GetObject(ctx, resultsBucket, stored.ResultKey)
	require.NoError(t, err)
	assert.Equal(t, "annotated J1", string(body))
}
