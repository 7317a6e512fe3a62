package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ResultLayout names result objects and decides which tool outputs are kept
type ResultLayout struct {
	Owner        string
	ResultSuffix string
	LogSuffix    string
}

// ObjectKey returns the results bucket key for a file produced by a job
func (l ResultLayout) ObjectKey(userID, jobID, fileName string) string {
	return fmt.Sprintf("%s/%s/%s~%s", l.Owner, userID, jobID, fileName)
}

// ResultKeys derives the result and log keys from the input key by
// replacing its extension
func (l ResultLayout) ResultKeys(inputKey string) (resultKey, logKey string) {
	base := strings.TrimSuffix(inputKey, path.Ext(inputKey))
	return base + l.ResultSuffix, base + l.LogSuffix
}

// Keep reports whether a tool output file is uploaded
func (l ResultLayout) Keep(fileName string) bool {
	return strings.HasSuffix(fileName, l.ResultSuffix) || strings.HasSuffix(fileName, l.LogSuffix)
}

// UploadResults uploads every kept file in dir to bucket and removes every
// regular file in dir whether or not its upload succeeded. It returns the
// keys written and the joined upload and removal errors.
func (l ResultLayout) UploadResults(ctx context.Context, store ObjectStore, bucket, dir, userID, jobID string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var uploaded []string
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		local := filepath.Join(dir, entry.Name())

		if l.Keep(entry.Name()) {
			key := l.ObjectKey(userID, jobID, entry.Name())
			if err := UploadFile(ctx, store, bucket, key, local); err != nil {
				errs = append(errs, err)
			} else {
				uploaded = append(uploaded, key)
			}
		}

		if err := os.Remove(local); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", local, err))
		}
	}
	return uploaded, errors.Join(errs...)
}
