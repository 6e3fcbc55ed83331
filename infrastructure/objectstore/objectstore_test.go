package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshmind-backend/application/ports"
)

// both implementations must satisfy the same contract
func stores(t *testing.T) map[string]ports.ObjectStore {
	t.Helper()

	fs, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	return map[string]ports.ObjectStore{
		"filesystem": fs,
		"memory":     NewMemoryStore(),
	}
}

func put(t *testing.T, store ports.ObjectStore, key, body string) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), key, strings.NewReader(body), int64(len(body))))
}

func get(t *testing.T, store ports.ObjectStore, key string) string {
	t.Helper()
	rc, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestObjectStore_PutGet(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			put(t, store, "acme/graph/v1/manifest.json", "{}")
			assert.Equal(t, "{}", get(t, store, "acme/graph/v1/manifest.json"))
		})
	}
}

func TestObjectStore_Get_Missing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "no/such/key")
			assert.True(t, errors.Is(err, ports.ErrObjectNotFound))
		})
	}
}

func TestObjectStore_Put_Overwrites(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			put(t, store, "k", "old")
			put(t, store, "k", "new")
			assert.Equal(t, "new", get(t, store, "k"))
		})
	}
}

func TestObjectStore_List_PrefixScoped(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			put(t, store, "acme/graph/v1/a", "1")
			put(t, store, "acme/graph/v1/b", "2")
			put(t, store, "acme/graph/v2/a", "3")
			put(t, store, "globex/graph/v1/a", "4")

			objects, err := store.List(context.Background(), "acme/graph/v1/")
			require.NoError(t, err)
			require.Len(t, objects, 2)
			// Sorted by key
			assert.Equal(t, "acme/graph/v1/a", objects[0].Key)
			assert.Equal(t, "acme/graph/v1/b", objects[1].Key)
			assert.Equal(t, int64(1), objects[0].Size)
		})
	}
}

func TestObjectStore_Copy(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			put(t, store, "staging/f", "payload")
			require.NoError(t, store.Copy(context.Background(), "staging/f", "published/f"))
			assert.Equal(t, "payload", get(t, store, "published/f"))
			// Source survives the copy
			assert.Equal(t, "payload", get(t, store, "staging/f"))
		})
	}
}

func TestObjectStore_Copy_MissingSource(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Copy(context.Background(), "no/such/key", "dst")
			assert.Error(t, err)
		})
	}
}

func TestObjectStore_Delete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			put(t, store, "k", "v")
			require.NoError(t, store.Delete(context.Background(), "k"))
			_, err := store.Get(context.Background(), "k")
			assert.True(t, errors.Is(err, ports.ErrObjectNotFound))

			// Deleting a missing key is not an error
			assert.NoError(t, store.Delete(context.Background(), "k"))
		})
	}
}

func TestMemoryStore_FailureInjection(t *testing.T) {
	store := NewMemoryStore()
	store.FailPut = func(key string) error {
		if strings.HasSuffix(key, "blocked") {
			return errors.New("injected")
		}
		return nil
	}

	put(t, store, "allowed", "v")
	err := store.Put(context.Background(), "blocked", strings.NewReader("v"), 1)
	assert.Error(t, err)
	assert.Equal(t, []string{"allowed"}, store.Keys())
}
