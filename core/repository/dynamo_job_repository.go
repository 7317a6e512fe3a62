package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"annotation-orchestrator/core/models"
)

// DynamoAPI is the subset of the DynamoDB client used by the repositories
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoJobRepository stores job records in a DynamoDB table keyed by job_id
// with a secondary index on user_id
type DynamoJobRepository struct {
	client    DynamoAPI
	table     string
	userIndex string
}

// NewDynamoJobRepository creates a new DynamoDB-backed job repository
func NewDynamoJobRepository(client DynamoAPI, table, userIndex string) *DynamoJobRepository {
	return &DynamoJobRepository{
		client:    client,
		table:     table,
		userIndex: userIndex,
	}
}

// summaryProjection lists the attributes returned by list queries
var summaryProjection = expression.NamesList(
	expression.Name("job_id"),
	expression.Name("user_id"),
	expression.Name("submit_time"),
	expression.Name("input_file_name"),
	expression.Name("job_status"),
	expression.Name("s3_key_result_file"),
	expression.Name("archive_id"),
	expression.Name("is_restored"),
)

func jobKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"job_id": &types.AttributeValueMemberS{Value: id},
	}
}

func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// CreateJob writes the job only if no record with its id exists
func (r *DynamoJobRepository) CreateJob(ctx context.Context, job *models.Job) error {
	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("job_id"))).
		Build()
	if err != nil {
		return err
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if isConditionFailure(err) {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	if err != nil {
		return fmt.Errorf("put job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob reads a job with a strongly consistent read
func (r *DynamoJobRepository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            jobKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	var job models.Job
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// TransitionStatus updates job_status guarded by the expected prior status
func (r *DynamoJobRepository) TransitionStatus(ctx context.Context, id string, from, to models.JobStatus) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}

	cond := expression.Name("job_status").Equal(expression.Value(string(from)))
	update := expression.Set(expression.Name("job_status"), expression.Value(string(to)))

	err := r.update(ctx, id, update, &cond)
	if isConditionFailure(err) {
		return fmt.Errorf("%w: %s expected %s", ErrConditionFailed, id, from)
	}
	return err
}

// CompleteJob overwrites the completion fields. Only existence is checked;
// this path runs once per job under normal operation.
func (r *DynamoJobRepository) CompleteJob(ctx context.Context, id string, c models.Completion) error {
	cond := expression.AttributeExists(expression.Name("job_id"))
	update := expression.
		Set(expression.Name("job_status"), expression.Value(string(models.JobStatusCompleted))).
		Set(expression.Name("s3_results_bucket"), expression.Value(c.ResultsBucket)).
		Set(expression.Name("s3_key_result_file"), expression.Value(c.ResultKey)).
		Set(expression.Name("s3_key_log_file"), expression.Value(c.LogKey)).
		Set(expression.Name("complete_time"), expression.Value(c.CompleteTime))

	err := r.update(ctx, id, update, &cond)
	if isConditionFailure(err) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return err
}

// SetArchived records the archive id on a completed job that has none yet
func (r *DynamoJobRepository) SetArchived(ctx context.Context, id, archiveID string) error {
	cond := expression.Name("job_status").Equal(expression.Value(string(models.JobStatusCompleted))).
		And(expression.AttributeNotExists(expression.Name("archive_id")))
	update := expression.
		Set(expression.Name("archive_id"), expression.Value(archiveID)).
		Set(expression.Name("is_restored"), expression.Value(false))

	err := r.update(ctx, id, update, &cond)
	if !isConditionFailure(err) {
		return err
	}

	// A redelivered message may have already recorded this same archive id
	job, getErr := r.GetJob(ctx, id)
	if getErr == nil && job.ArchiveID == archiveID {
		return nil
	}
	return fmt.Errorf("%w: %s not archivable", ErrConditionFailed, id)
}

// MarkRestored sets is_restored on a job that has an archive id
func (r *DynamoJobRepository) MarkRestored(ctx context.Context, id string) error {
	cond := expression.AttributeExists(expression.Name("archive_id"))
	update := expression.Set(expression.Name("is_restored"), expression.Value(true))

	err := r.update(ctx, id, update, &cond)
	if isConditionFailure(err) {
		return fmt.Errorf("%w: %s has no archive", ErrConditionFailed, id)
	}
	return err
}

// RecordRetrieval stores which retrieval job and tier were granted
func (r *DynamoJobRepository) RecordRetrieval(ctx context.Context, id, retrievalJobID string, tier models.RetrievalTier) error {
	cond := expression.AttributeExists(expression.Name("job_id"))
	update := expression.
		Set(expression.Name("restore_job_id"), expression.Value(retrievalJobID)).
		Set(expression.Name("restore_tier"), expression.Value(string(tier)))

	err := r.update(ctx, id, update, &cond)
	if isConditionFailure(err) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return err
}

func (r *DynamoJobRepository) update(ctx context.Context, id string, update expression.UpdateBuilder, cond *expression.ConditionBuilder) error {
	builder := expression.NewBuilder().WithUpdate(update)
	if cond != nil {
		builder = builder.WithCondition(*cond)
	}
	expr, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build update for job %s: %w", id, err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       jobKey(id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil && !isConditionFailure(err) {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return err
}

// ListJobsByUser queries the user_id index
func (r *DynamoJobRepository) ListJobsByUser(ctx context.Context, userID string) ([]models.JobSummary, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("user_id").Equal(expression.Value(userID))).
		WithProjection(summaryProjection).
		Build()
	if err != nil {
		return nil, err
	}

	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		IndexName:                 aws.String(r.userIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var summaries []models.JobSummary
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query jobs for user %s: %w", userID, err)
		}
		var batch []models.JobSummary
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal jobs for user %s: %w", userID, err)
		}
		summaries = append(summaries, batch...)
	}
	return summaries, nil
}

// ListJobsByStatus scans the table for jobs in a status. It reads the whole
// table and is meant for periodic reporting only.
func (r *DynamoJobRepository) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]models.JobSummary, error) {
	expr, err := expression.NewBuilder().
		WithFilter(expression.Name("job_status").Equal(expression.Value(string(status)))).
		WithProjection(summaryProjection).
		Build()
	if err != nil {
		return nil, err
	}

	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:                 aws.String(r.table),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var summaries []models.JobSummary
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan jobs in %s: %w", status, err)
		}
		var batch []models.JobSummary
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal jobs in %s: %w", status, err)
		}
		summaries = append(summaries, batch...)
	}
	return summaries, nil
}
