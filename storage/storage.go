// Package storage defines the hot object store and cold archive store used
// across the annotation pipeline, and the key scheme for result objects.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"annotation-orchestrator/core/models"
)

var (
	// ErrObjectNotFound is returned when a hot storage key does not exist
	ErrObjectNotFound = errors.New("object not found")
	// ErrRetrievalIncomplete is returned when retrieval output is requested
	// before the cold storage job has finished
	ErrRetrievalIncomplete = errors.New("retrieval not complete")
)

// ObjectStore is low-latency hot storage addressed by bucket and key
type ObjectStore interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	PutObject(ctx context.Context, bucket, key string, body []byte) error
	DeleteObject(ctx context.Context, bucket, key string) error
}

// RetrievalRequest describes a cold storage retrieval job
type RetrievalRequest struct {
	ArchiveID   string
	Tier        models.RetrievalTier
	Topic       string
	Description string
}

// RetrievalStatus is the state of a cold storage retrieval job
type RetrievalStatus struct {
	JobID      string
	ArchiveID  string
	Completed  bool
	StatusCode string
	Tier       models.RetrievalTier
}

// ColdStore is a high-latency archive vault. Archives are immutable and
// retrieved asynchronously through retrieval jobs.
type ColdStore interface {
	// UploadArchive stores body and returns the new archive id
	UploadArchive(ctx context.Context, body []byte) (string, error)
	// InitiateRetrieval starts a retrieval job and returns its id
	InitiateRetrieval(ctx context.Context, req RetrievalRequest) (string, error)
	// DescribeRetrieval reports the status of a retrieval job
	DescribeRetrieval(ctx context.Context, retrievalJobID string) (*RetrievalStatus, error)
	// GetRetrievalOutput returns the bytes of a completed retrieval job
	GetRetrievalOutput(ctx context.Context, retrievalJobID string) ([]byte, error)
}

// DownloadFile copies an object to a local path, creating parent directories
func DownloadFile(ctx context.Context, store ObjectStore, bucket, key, path string) error {
	body, err := store.GetObject(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// UploadFile copies a local file to an object
func UploadFile(ctx context.Context, store ObjectStore, bucket, key, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := store.PutObject(ctx, bucket, key, body); err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
