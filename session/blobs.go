package session

import (
	"sync"

	"github.com/ShoshinNikita/filepreview/pkg/metrics"
	"github.com/ShoshinNikita/filepreview/preview"
	"github.com/google/uuid"
)

// BlobStore keeps local references to in-memory blobs, so they can be served by url
// while a session shows them.
type BlobStore struct {
	prefix string

	mu    sync.RWMutex
	blobs map[string]*preview.Blob
}

// NewBlobStore returns a new [BlobStore]. Refs have the form "<prefix><id>".
func NewBlobStore(prefix string) *BlobStore {
	return &BlobStore{
		prefix: prefix,
		blobs:  make(map[string]*preview.Blob),
	}
}

// Register creates a new reference for the blob. release removes the reference. It can
// be called any number of times, the reference is released only once.
func (s *BlobStore) Register(blob *preview.Blob) (ref string, release func()) {
	id := uuid.NewString()

	s.mu.Lock()
	s.blobs[id] = blob
	s.mu.Unlock()

	metrics.BlobReferences.Inc()

	var once sync.Once
	release = func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.blobs, id)
			s.mu.Unlock()

			metrics.BlobReferences.Dec()
		})
	}
	return s.prefix + id, release
}

// Open returns the blob by id (ref without prefix).
func (s *BlobStore) Open(id string) (*preview.Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[id]
	return blob, ok
}

// Len returns the number of active references.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.blobs)
}
