package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"meshmind-backend/application/ports"
)

// FilesystemStore implements ports.ObjectStore on a local directory. Object
// keys map directly to file paths under the root. Used for local development
// and as the snapshot target in tests.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates a store rooted at dir, creating it if needed
func NewFilesystemStore(dir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object store root: %w", err)
	}
	return &FilesystemStore{root: dir}, nil
}

func (s *FilesystemStore) keyPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put writes an object, creating parent directories as needed. The write
// goes to a temp file first and renames into place so readers never see a
// partial object.
func (s *FilesystemStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	target := s.keyPath(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directories for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close object %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to publish object %s: %w", key, err)
	}
	return nil
}

// Get opens an object for reading
func (s *FilesystemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.keyPath(key))
	if os.IsNotExist(err) {
		return nil, ports.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	return f, nil
}

// List walks the tree under prefix and returns matching objects sorted by key
func (s *FilesystemStore) List(ctx context.Context, prefix string) ([]ports.ObjectInfo, error) {
	var objects []ports.ObjectInfo
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		objects = append(objects, ports.ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list prefix %s: %w", prefix, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Copy duplicates an object within the store
func (s *FilesystemStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	src, err := s.Get(ctx, srcKey)
	if err != nil {
		return err
	}
	defer src.Close()
	return s.Put(ctx, dstKey, src, 0)
}

// Delete removes an object; a missing key is not an error
func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.keyPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}
