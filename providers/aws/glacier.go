package aws

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/aws-sdk-go-v2/service/glacier/types"

	"annotation-orchestrator/core/models"
	"annotation-orchestrator/storage"
)

// accountID "-" selects the account that owns the credentials
const accountID = "-"

// GlacierAPI is the subset of the Glacier client used by GlacierStore
type GlacierAPI interface {
	UploadArchive(ctx context.Context, in *glacier.UploadArchiveInput, optFns ...func(*glacier.Options)) (*glacier.UploadArchiveOutput, error)
	InitiateJob(ctx context.Context, in *glacier.InitiateJobInput, optFns ...func(*glacier.Options)) (*glacier.InitiateJobOutput, error)
	DescribeJob(ctx context.Context, in *glacier.DescribeJobInput, optFns ...func(*glacier.Options)) (*glacier.DescribeJobOutput, error)
	GetJobOutput(ctx context.Context, in *glacier.GetJobOutputInput, optFns ...func(*glacier.Options)) (*glacier.GetJobOutputOutput, error)
}

// GlacierStore is a storage.ColdStore backed by one Glacier vault
type GlacierStore struct {
	client GlacierAPI
	vault  string
}

// NewGlacierStore creates a store for vault
func NewGlacierStore(client GlacierAPI, vault string) *GlacierStore {
	return &GlacierStore{client: client, vault: vault}
}

// UploadArchive stores body as a new archive
func (g *GlacierStore) UploadArchive(ctx context.Context, body []byte) (string, error) {
	out, err := g.client.UploadArchive(ctx, &glacier.UploadArchiveInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(g.vault),
		Body:      bytes.NewReader(body),
	})
	if err != nil {
		return "", fmt.Errorf("upload archive to %s: %w", g.vault, err)
	}
	return aws.ToString(out.ArchiveId), nil
}

// InitiateRetrieval starts an archive-retrieval job that notifies req.Topic
// on completion
func (g *GlacierStore) InitiateRetrieval(ctx context.Context, req storage.RetrievalRequest) (string, error) {
	out, err := g.client.InitiateJob(ctx, &glacier.InitiateJobInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(g.vault),
		JobParameters: &types.JobParameters{
			Type:        aws.String("archive-retrieval"),
			ArchiveId:   aws.String(req.ArchiveID),
			Tier:        aws.String(string(req.Tier)),
			SNSTopic:    aws.String(req.Topic),
			Description: aws.String(req.Description),
		},
	})
	if err != nil {
		return "", fmt.Errorf("initiate %s retrieval of %s: %w", req.Tier, req.ArchiveID, err)
	}
	return aws.ToString(out.JobId), nil
}

// DescribeRetrieval reports the status of a retrieval job
func (g *GlacierStore) DescribeRetrieval(ctx context.Context, retrievalJobID string) (*storage.RetrievalStatus, error) {
	out, err := g.client.DescribeJob(ctx, &glacier.DescribeJobInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(g.vault),
		JobId:     aws.String(retrievalJobID),
	})
	if err != nil {
		return nil, fmt.Errorf("describe retrieval %s: %w", retrievalJobID, err)
	}
	return &storage.RetrievalStatus{
		JobID:      retrievalJobID,
		ArchiveID:  aws.ToString(out.ArchiveId),
		Completed:  out.StatusCode == types.StatusCodeSucceeded,
		StatusCode: string(out.StatusCode),
		Tier:       models.RetrievalTier(aws.ToString(out.Tier)),
	}, nil
}

// GetRetrievalOutput downloads the retrieved archive
func (g *GlacierStore) GetRetrievalOutput(ctx context.Context, retrievalJobID string) ([]byte, error) {
	out, err := g.client.GetJobOutput(ctx, &glacier.GetJobOutputInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(g.vault),
		JobId:     aws.String(retrievalJobID),
	})
	if err != nil {
		return nil, fmt.Errorf("get output of retrieval %s: %w", retrievalJobID, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read output of retrieval %s: %w", retrievalJobID, err)
	}
	return body, nil
}
