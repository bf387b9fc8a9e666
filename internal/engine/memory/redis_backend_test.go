package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3flow/core/internal/engine/value"
)

type fakeCache struct {
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	return f.data[key], nil
}

func (f *fakeCache) Set(ctx context.Context, key string, val []byte, ttlSeconds int) error {
	f.data[key] = val
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func TestPersistWritesJSONUnderDerivedKey(t *testing.T) {
	cache := newFakeCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := &Entry{
		ID:        "e1",
		Kind:      KindLong,
		Scope:     Scope{SessionID: "s1"},
		Content:   value.Str("hello"),
		Tags:      []string{"x"},
		CreatedAt: now,
		Weight:    1.0,
	}

	err := Persist(context.Background(), cache, entry, 60)
	require.NoError(t, err)

	key := "long:session:s1:e1"
	raw, ok := cache.data[key]
	require.True(t, ok)

	var decoded persistedEntry
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "e1", decoded.ID)
	assert.Equal(t, "hello", decoded.Content)
}

func TestPersistThenDelete(t *testing.T) {
	cache := newFakeCache()
	entry := &Entry{ID: "e2", Kind: KindShort, Scope: Scope{SessionID: "s2"}, Content: value.Int(5), CreatedAt: time.Now()}
	require.NoError(t, Persist(context.Background(), cache, entry, 0))

	key := "short:session:s2:e2"
	_, ok := cache.data[key]
	require.True(t, ok)

	require.NoError(t, cache.Delete(context.Background(), key))
	got, err := cache.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, got)
}
