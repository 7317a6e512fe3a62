package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Client bundles the AWS service clients used by the pipeline
type Client struct {
	SQS      *sqs.Client
	SNS      *sns.Client
	S3       *s3.Client
	Glacier  *glacier.Client
	DynamoDB *dynamodb.Client
	region   string
}

// NewClient loads the default credential chain for region and creates the
// service clients
func NewClient(ctx context.Context, region string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Client{
		SQS:      sqs.NewFromConfig(cfg),
		SNS:      sns.NewFromConfig(cfg),
		S3:       s3.NewFromConfig(cfg),
		Glacier:  glacier.NewFromConfig(cfg),
		DynamoDB: dynamodb.NewFromConfig(cfg),
		region:   region,
	}, nil
}

// Region returns the region the clients were configured for
func (c *Client) Region() string {
	return c.region
}
