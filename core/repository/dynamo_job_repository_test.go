package repository_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annotation-orchestrator/core/models"
	"annotation-orchestrator/core/repository"
)

type fakeDynamo struct {
	puts    []*dynamodb.PutItemInput
	updates []*dynamodb.UpdateItemInput
	queries []*dynamodb.QueryInput

	putErr    error
	updateErr error
	item      map[string]types.AttributeValue
	items     []map[string]types.AttributeValue
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.item}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, in)
	return &dynamodb.QueryOutput{Items: f.items}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return &dynamodb.ScanOutput{Items: f.items}, nil
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func TestDynamoCreateJobDuplicate(t *testing.T) {
	client := &fakeDynamo{putErr: conditionFailed()}
	repo := repository.NewDynamoJobRepository(client, "jobs", "user_id_index")

	err := repo.CreateJob(context.Background(), newPendingJob("j1", "u1", 1))
	assert.ErrorIs(t, err, repository.ErrJobExists)

	require.Len(t, client.puts, 1)
	assert.Equal(t, "jobs", aws.ToString(client.puts[0].TableName))
	assert.NotEmpty(t, aws.ToString(client.puts[0].ConditionExpression))
	_, hasArchive := client.puts[0].Item["archive_id"]
	assert.False(t, hasArchive, "a new job must not carry an archive_id attribute")
}

func TestDynamoGetJob(t *testing.T) {
	item, err := attributevalue.MarshalMap(&models.Job{
		ID:         "j1",
		UserID:     "u1",
		Status:     models.JobStatusCompleted,
		ArchiveID:  "vault-archive-123",
		IsRestored: false,
	})
	require.NoError(t, err)

	repo := repository.NewDynamoJobRepository(&fakeDynamo{item: item}, "jobs", "user_id_index")
	job, err := repo.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.True(t, job.AwaitingRestore())

	repo = repository.NewDynamoJobRepository(&fakeDynamo{}, "jobs", "user_id_index")
	_, err = repo.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestDynamoTransitionStatus(t *testing.T) {
	client := &fakeDynamo{}
	repo := repository.NewDynamoJobRepository(client, "jobs", "user_id_index")

	err := repo.TransitionStatus(context.Background(), "j1", models.JobStatusCompleted, models.JobStatusRunning)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)
	assert.Empty(t, client.updates, "invalid transitions never reach the table")

	require.NoError(t, repo.TransitionStatus(context.Background(), "j1", models.JobStatusPending, models.JobStatusRunning))
	require.Len(t, client.updates, 1)
	assert.NotEmpty(t, aws.ToString(client.updates[0].ConditionExpression))

	client.updateErr = conditionFailed()
	err = repo.TransitionStatus(context.Background(), "j1", models.JobStatusPending, models.JobStatusRunning)
	assert.ErrorIs(t, err, repository.ErrConditionFailed)
}

// TestDynamoSetArchivedRedelivery verifies that a failed condition caused by
// the same archive id already being recorded is treated as success.
func TestDynamoSetArchivedRedelivery(t *testing.T) {
	item, err := attributevalue.MarshalMap(&models.Job{ID: "j1", Status: models.JobStatusCompleted, ArchiveID: "a1"})
	require.NoError(t, err)

	client := &fakeDynamo{updateErr: conditionFailed(), item: item}
	repo := repository.NewDynamoJobRepository(client, "jobs", "user_id_index")

	assert.NoError(t, repo.SetArchived(context.Background(), "j1", "a1"))
	assert.ErrorIs(t, repo.SetArchived(context.Background(), "j1", "a2"), repository.ErrConditionFailed)
}

func TestDynamoListJobsByUser(t *testing.T) {
	a, err := attributevalue.MarshalMap(models.JobSummary{ID: "j1", UserID: "u1", ArchiveID: "a1"})
	require.NoError(t, err)
	b, err := attributevalue.MarshalMap(models.JobSummary{ID: "j2", UserID: "u1"})
	require.NoError(t, err)

	client := &fakeDynamo{items: []map[string]types.AttributeValue{a, b}}
	repo := repository.NewDynamoJobRepository(client, "jobs", "user_id_index")

	summaries, err := repo.ListJobsByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.True(t, summaries[0].AwaitingRestore())
	assert.False(t, summaries[1].AwaitingRestore())

	require.Len(t, client.queries, 1)
	assert.Equal(t, "user_id_index", aws.ToString(client.queries[0].IndexName))
}

func TestDynamoLedgerBeginExisting(t *testing.T) {
	item, err := attributevalue.MarshalMap(repository.Operation{
		Key:         repository.OperationKey("j1", repository.OperationArchive),
		JobID:       "j1",
		Name:        repository.OperationArchive,
		Result:      "a1",
		StartedAt:   1,
		CompletedAt: 2,
	})
	require.NoError(t, err)

	ledger := repository.NewDynamoLedger(&fakeDynamo{putErr: conditionFailed(), item: item}, "operations")
	op, created, err := ledger.Begin(context.Background(), "j1", repository.OperationArchive)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, op.Done())
	assert.Equal(t, "a1", op.Result)
}
