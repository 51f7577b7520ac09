// Package blob is the payment-proof blob store contract. Content storage is
// external; engines only hold opaque handles.
package blob

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/sharevest/sharevest/internal/apperr"
)

// MaxSize is the upload limit in bytes (5 MiB).
const MaxSize = 5 << 20

// allowedMIME is the accepted payment-proof content types.
var allowedMIME = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"application/pdf": true,
}

// AllowedMIME reports whether mime is storable.
func AllowedMIME(mime string) bool { return allowedMIME[mime] }

// Object is stored proof content.
type Object struct {
	Bytes        []byte
	MIME         string
	OriginalName string
}

// Store is the blob store contract.
type Store interface {
	Put(ctx context.Context, data []byte, mime, originalName string) (string, error)
	Get(ctx context.Context, handle string) (Object, error)
	SoftDelete(ctx context.Context, handle string) error
}

// MemoryStore keeps blobs in memory for tests and DB-less development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
	deleted map[string]bool
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object), deleted: make(map[string]bool)}
}

func (s *MemoryStore) Put(_ context.Context, data []byte, mime, originalName string) (string, error) {
	if len(data) == 0 {
		return "", apperr.Validation("empty upload")
	}
	if len(data) > MaxSize {
		return "", apperr.Validation("upload exceeds %d bytes", MaxSize)
	}
	if !AllowedMIME(mime) {
		return "", apperr.Validation("unsupported content type %s", mime)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := uuid.NewString()
	stored := make([]byte, len(data))
	copy(stored, data)
	s.objects[handle] = Object{Bytes: stored, MIME: mime, OriginalName: originalName}
	return handle, nil
}

func (s *MemoryStore) Get(_ context.Context, handle string) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deleted[handle] {
		return Object{}, apperr.NotFound("blob %s", handle)
	}
	obj, ok := s.objects[handle]
	if !ok {
		return Object{}, apperr.NotFound("blob %s", handle)
	}
	return obj, nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[handle]; !ok {
		return apperr.NotFound("blob %s", handle)
	}
	s.deleted[handle] = true
	return nil
}
