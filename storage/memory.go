package storage

import (
	"context"
	"fmt"
	"sync"

	"annotation-orchestrator/core/models"
)

// MemoryObjectStore is an in-process ObjectStore
type MemoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut error
}

// NewMemoryObjectStore creates an empty store
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte)}
}

func objectID(bucket, key string) string {
	return bucket + "/" + key
}

// GetObject returns a copy of the stored bytes
func (s *MemoryObjectStore) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, ok := s.objects[objectID(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	return append([]byte(nil), body...), nil
}

// PutObject stores body, replacing any existing object
func (s *MemoryObjectStore) PutObject(_ context.Context, bucket, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failPut != nil {
		return s.failPut
	}
	s.objects[objectID(bucket, key)] = append([]byte(nil), body...)
	return nil
}

// DeleteObject removes an object. Deleting a missing key succeeds.
func (s *MemoryObjectStore) DeleteObject(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectID(bucket, key))
	return nil
}

// FailPuts makes subsequent PutObject calls return err. A nil err clears it.
func (s *MemoryObjectStore) FailPuts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut = err
}

// Has reports whether the object exists
func (s *MemoryObjectStore) Has(bucket, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[objectID(bucket, key)]
	return ok
}

type memoryRetrieval struct {
	status RetrievalStatus
	topic  string
	desc   string
}

// MemoryColdStore is an in-process ColdStore. Retrievals stay in progress
// until CompleteRetrieval is called.
type MemoryColdStore struct {
	mu          sync.Mutex
	archives    map[string][]byte
	retrievals  map[string]*memoryRetrieval
	order       []string
	archiveIDs  []string
	seq         int
	rejectTiers map[models.RetrievalTier]error
	uploadErr   error
	uploads     int
}

// NewMemoryColdStore creates an empty vault. Uploaded archives take their ids
// from archiveIDs in order, then fall back to generated ids.
func NewMemoryColdStore(archiveIDs ...string) *MemoryColdStore {
	return &MemoryColdStore{
		archives:    make(map[string][]byte),
		retrievals:  make(map[string]*memoryRetrieval),
		archiveIDs:  archiveIDs,
		rejectTiers: make(map[models.RetrievalTier]error),
	}
}

// UploadArchive stores body under a new archive id
func (s *MemoryColdStore) UploadArchive(_ context.Context, body []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uploadErr != nil {
		return "", s.uploadErr
	}

	var id string
	if len(s.archiveIDs) > 0 {
		id, s.archiveIDs = s.archiveIDs[0], s.archiveIDs[1:]
	} else {
		s.seq++
		id = fmt.Sprintf("archive-%d", s.seq)
	}
	s.archives[id] = append([]byte(nil), body...)
	s.uploads++
	return id, nil
}

// InitiateRetrieval records a pending retrieval job
func (s *MemoryColdStore) InitiateRetrieval(_ context.Context, req RetrievalRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.rejectTiers[req.Tier]; ok {
		return "", err
	}
	if _, ok := s.archives[req.ArchiveID]; !ok {
		return "", fmt.Errorf("archive %s: %w", req.ArchiveID, ErrObjectNotFound)
	}

	s.seq++
	id := fmt.Sprintf("retrieval-%d", s.seq)
	s.retrievals[id] = &memoryRetrieval{
		status: RetrievalStatus{
			JobID:      id,
			ArchiveID:  req.ArchiveID,
			StatusCode: "InProgress",
			Tier:       req.Tier,
		},
		topic: req.Topic,
		desc:  req.Description,
	}
	s.order = append(s.order, id)
	return id, nil
}

// DescribeRetrieval returns the retrieval status
func (s *MemoryColdStore) DescribeRetrieval(_ context.Context, retrievalJobID string) (*RetrievalStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.retrievals[retrievalJobID]
	if !ok {
		return nil, fmt.Errorf("retrieval %s: %w", retrievalJobID, ErrObjectNotFound)
	}
	status := r.status
	return &status, nil
}

// GetRetrievalOutput returns the archived bytes of a completed retrieval
func (s *MemoryColdStore) GetRetrievalOutput(_ context.Context, retrievalJobID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.retrievals[retrievalJobID]
	if !ok {
		return nil, fmt.Errorf("retrieval %s: %w", retrievalJobID, ErrObjectNotFound)
	}
	if !r.status.Completed {
		return nil, fmt.Errorf("retrieval %s: %w", retrievalJobID, ErrRetrievalIncomplete)
	}
	return append([]byte(nil), s.archives[r.status.ArchiveID]...), nil
}

// CompleteRetrieval finishes a retrieval job and returns the notification the
// vault would send to the retrieval's topic, along with that topic
func (s *MemoryColdStore) CompleteRetrieval(retrievalJobID string) (models.ThawNotice, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.retrievals[retrievalJobID]
	if !ok {
		return models.ThawNotice{}, "", fmt.Errorf("retrieval %s: %w", retrievalJobID, ErrObjectNotFound)
	}
	r.status.Completed = true
	r.status.StatusCode = "Succeeded"

	return models.ThawNotice{
		RetrievalJobID: retrievalJobID,
		Description:    r.desc,
		ArchiveID:      r.status.ArchiveID,
		Completed:      true,
		StatusCode:     r.status.StatusCode,
		Tier:           string(r.status.Tier),
	}, r.topic, nil
}

// RejectTier makes retrievals at tier fail with err
func (s *MemoryColdStore) RejectTier(tier models.RetrievalTier, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectTiers[tier] = err
}

// FailUploads makes subsequent UploadArchive calls return err. A nil err
// clears it.
func (s *MemoryColdStore) FailUploads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadErr = err
}

// Uploads returns how many archives were uploaded
func (s *MemoryColdStore) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

// Archive returns the bytes of an archive
func (s *MemoryColdStore) Archive(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.archives[id]
	return body, ok
}

// Retrievals returns every retrieval job in initiation order
func (s *MemoryColdStore) Retrievals() []RetrievalStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RetrievalStatus, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.retrievals[id].status)
	}
	return out
}
