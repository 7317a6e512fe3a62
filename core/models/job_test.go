package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"annotation-orchestrator/core/models"
)

func TestJobStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from models.JobStatus
		to   models.JobStatus
		want bool
	}{
		{"pending to running", models.JobStatusPending, models.JobStatusRunning, true},
		{"running to completed", models.JobStatusRunning, models.JobStatusCompleted, true},
		{"pending to completed", models.JobStatusPending, models.JobStatusCompleted, true},
		{"running to running", models.JobStatusRunning, models.JobStatusRunning, false},
		{"completed to running", models.JobStatusCompleted, models.JobStatusRunning, false},
		{"running to pending", models.JobStatusRunning, models.JobStatusPending, false},
		{"unknown source", models.JobStatus("FAILED"), models.JobStatusCompleted, false},
		{"unknown target", models.JobStatusPending, models.JobStatus("FAILED"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, models.JobStatusCompleted.Terminal())
	assert.False(t, models.JobStatusRunning.Terminal())
	assert.False(t, models.JobStatusPending.Terminal())
}

// TestAwaitingRestoreIgnoresFlagWithoutArchive verifies that is_restored only
// matters once an archive id exists.
func TestAwaitingRestoreIgnoresFlagWithoutArchive(t *testing.T) {
	job := &models.Job{ID: "j1", Status: models.JobStatusCompleted}
	assert.False(t, job.Archived())
	assert.False(t, job.AwaitingRestore())

	job.ArchiveID = "vault-archive-123"
	assert.True(t, job.AwaitingRestore())
	assert.True(t, job.Summary().AwaitingRestore())

	job.IsRestored = true
	assert.False(t, job.AwaitingRestore())
	assert.False(t, job.Summary().AwaitingRestore())
}

func TestUserProfilePremium(t *testing.T) {
	assert.True(t, (&models.UserProfile{Role: models.RolePremium}).Premium())
	assert.False(t, (&models.UserProfile{Role: models.RoleFree}).Premium())
}
