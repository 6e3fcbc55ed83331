package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"meshmind-backend/application/ports"
)

// MemoryStore implements ports.ObjectStore in process memory. It exposes
// failure injection hooks so tests can exercise the two-phase publication
// protocol's crash windows.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject

	// FailPut, when set, is consulted before each Put; a non-nil return
	// aborts the upload with that error. FailCopy does the same for Copy.
	FailPut  func(key string) error
	FailCopy func(srcKey, dstKey string) error
}

type memoryObject struct {
	data     []byte
	modified time.Time
}

// NewMemoryStore creates an empty in-memory object store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// Put stores an object
func (s *MemoryStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	if s.FailPut != nil {
		if err := s.FailPut(key); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read object body for %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryObject{data: data, modified: time.Now()}
	return nil
}

// Get retrieves an object
func (s *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ports.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// List returns the objects under a key prefix sorted by key
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]ports.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var objects []ports.ObjectInfo
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, ports.ObjectInfo{
				Key:          key,
				Size:         int64(len(obj.data)),
				LastModified: obj.modified,
			})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Copy duplicates an object within the store
func (s *MemoryStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	if s.FailCopy != nil {
		if err := s.FailCopy(srcKey, dstKey); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[srcKey]
	if !ok {
		return ports.ErrObjectNotFound
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	s.objects[dstKey] = memoryObject{data: data, modified: time.Now()}
	return nil
}

// Delete removes an object; a missing key is not an error
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Keys returns every stored key sorted, for test assertions
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
