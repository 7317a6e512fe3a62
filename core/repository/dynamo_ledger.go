package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoLedger stores operation entries in a DynamoDB table keyed by op_key
type DynamoLedger struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamoLedger creates a ledger over the given table
func NewDynamoLedger(client DynamoAPI, table string) *DynamoLedger {
	return &DynamoLedger{client: client, table: table, now: time.Now}
}

func opKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"op_key": &types.AttributeValueMemberS{Value: key},
	}
}

// Begin writes a started entry unless one exists, in which case the stored
// entry is returned
func (l *DynamoLedger) Begin(ctx context.Context, jobID, name string) (*Operation, bool, error) {
	op := Operation{
		Key:       OperationKey(jobID, name),
		JobID:     jobID,
		Name:      name,
		StartedAt: l.now().Unix(),
	}
	item, err := attributevalue.MarshalMap(op)
	if err != nil {
		return nil, false, fmt.Errorf("marshal operation %s: %w", op.Key, err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("op_key"))).
		Build()
	if err != nil {
		return nil, false, err
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(l.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err == nil {
		return &op, true, nil
	}
	if !isConditionFailure(err) {
		return nil, false, fmt.Errorf("begin operation %s: %w", op.Key, err)
	}

	existing, err := l.get(ctx, op.Key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Complete records the operation result
func (l *DynamoLedger) Complete(ctx context.Context, jobID, name, result string) error {
	key := OperationKey(jobID, name)
	update := expression.
		Set(expression.Name("job_id"), expression.Value(jobID)).
		Set(expression.Name("operation"), expression.Value(name)).
		Set(expression.Name("result"), expression.Value(result)).
		Set(expression.Name("completed_at"), expression.Value(l.now().Unix()))

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return err
	}

	_, err = l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(l.table),
		Key:                       opKey(key),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return fmt.Errorf("complete operation %s: %w", key, err)
	}
	return nil
}

func (l *DynamoLedger) get(ctx context.Context, key string) (*Operation, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.table),
		Key:            opKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", key, err)
	}

	var op Operation
	if err := attributevalue.UnmarshalMap(out.Item, &op); err != nil {
		return nil, fmt.Errorf("unmarshal operation %s: %w", key, err)
	}
	return &op, nil
}
