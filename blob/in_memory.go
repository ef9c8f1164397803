package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
)

// InMemoryStore is a trivial in-process blob store useful for tests, examples
// and single-process prototypes. It keeps all blobs in a map guarded by an
// RWMutex; data does not survive process restarts. For production, prefer the
// S3 implementation.
type InMemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	blobs   map[string]storedBlob
}

type storedBlob struct {
	contentType string
	data        []byte
}

// NewInMemoryStore returns an empty in-memory blob store. Returned URLs are
// baseURL + "/" + escaped name.
func NewInMemoryStore(baseURL string) *InMemoryStore {
	return &InMemoryStore{
		baseURL: baseURL,
		blobs:   make(map[string]storedBlob),
	}
}

// Put implements Store.
func (s *InMemoryStore) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read blob: %w", err)
	}

	s.mu.Lock()
	s.blobs[name] = storedBlob{contentType: contentType, data: data}
	s.mu.Unlock()

	return fmt.Sprintf("%s/%s", s.baseURL, url.PathEscape(name)), nil
}

// Get returns a copy of the stored blob bytes and its content type, or
// ErrNotFound.
func (s *InMemoryStore) Get(name string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[name]
	if !ok {
		return nil, "", ErrNotFound
	}
	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	return cp, b.contentType, nil
}
