package monitoring

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annotation-orchestrator/core/models"
	"annotation-orchestrator/core/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStaleJobReporterCheck(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryJobRepository()
	now := time.Unix(10_000, 0)

	for _, j := range []struct {
		id        string
		submitted int64
		running   bool
	}{
		{"old-running", 1_000, true},
		{"fresh-running", 9_900, true},
		{"old-pending", 1_000, false},
	} {
		require.NoError(t, repo.CreateJob(ctx, &models.Job{
			ID:         j.id,
			UserID:     "u1",
			SubmitTime: j.submitted,
			Status:     models.JobStatusPending,
		}))
		if j.running {
			require.NoError(t, repo.TransitionStatus(ctx, j.id, models.JobStatusPending, models.JobStatusRunning))
		}
	}

	metrics := NewMetrics(prometheus.NewRegistry())
	reporter := NewStaleJobReporter(repo, time.Hour, "@every 1m", metrics, discardLogger())
	reporter.now = func() time.Time { return now }

	stale, err := reporter.Check(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old-running", stale[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StaleJobs))

	job, err := repo.GetJob(ctx, "old-running")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status, "the reporter never changes job state")
}

func TestStaleJobReporterRejectsBadSchedule(t *testing.T) {
	reporter := NewStaleJobReporter(repository.NewMemoryJobRepository(), time.Hour, "not a schedule", nil, discardLogger())
	assert.Error(t, reporter.Start(context.Background()))
}
