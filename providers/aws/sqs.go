package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cenkalti/backoff"

	"annotation-orchestrator/core/queue"
)

// SQSAPI is the subset of the SQS client used by SQSQueue
type SQSAPI interface {
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSOptions tunes receive behaviour
type SQSOptions struct {
	MaxMessages       int32
	WaitSeconds       int32
	VisibilityTimeout int32
	// ResolveTimeout bounds how long queue URL resolution is retried
	ResolveTimeout time.Duration
}

// SQSQueue is a queue.Queue backed by an SQS queue
type SQSQueue struct {
	client SQSAPI
	name   string
	url    string
	opts   SQSOptions
}

// NewSQSQueue resolves the URL of the named queue, retrying with backoff
// until opts.ResolveTimeout elapses
func NewSQSQueue(ctx context.Context, client SQSAPI, name string, opts SQSOptions) (*SQSQueue, error) {
	if opts.MaxMessages <= 0 || opts.MaxMessages > 10 {
		opts.MaxMessages = 10
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = opts.ResolveTimeout

	var url string
	resolve := func() error {
		out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
		if err != nil {
			return err
		}
		url = aws.ToString(out.QueueUrl)
		return nil
	}
	if err := backoff.Retry(resolve, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("resolve queue %s: %w", name, err)
	}

	return &SQSQueue{client: client, name: name, url: url, opts: opts}, nil
}

// Name returns the queue name
func (q *SQSQueue) Name() string {
	return q.name
}

// URL returns the resolved queue URL
func (q *SQSQueue) URL() string {
	return q.url
}

// Receive long-polls for up to the configured wait time
func (q *SQSQueue) Receive(ctx context.Context) ([]queue.Message, error) {
	return q.ReceiveUpTo(ctx, int(q.opts.MaxMessages))
}

// ReceiveUpTo long-polls for at most limit messages, capped by the configured
// batch size
func (q *SQSQueue) ReceiveUpTo(ctx context.Context, limit int) ([]queue.Message, error) {
	n := q.opts.MaxMessages
	if limit > 0 && int32(limit) < n {
		n = int32(limit)
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: n,
		WaitTimeSeconds:     q.opts.WaitSeconds,
		VisibilityTimeout:   q.opts.VisibilityTimeout,
		AttributeNames:      []types.QueueAttributeName{types.QueueAttributeName(types.MessageSystemAttributeNameApproximateReceiveCount)},
	})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", q.name, err)
	}

	msgs := make([]queue.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		count, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		msgs = append(msgs, queue.Message{
			ID:           aws.ToString(m.MessageId),
			Body:         aws.ToString(m.Body),
			Handle:       aws.ToString(m.ReceiptHandle),
			ReceiveCount: count,
		})
	}
	return msgs, nil
}

// Delete removes a message by receipt handle
func (q *SQSQueue) Delete(ctx context.Context, handle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", q.name, err)
	}
	return nil
}
