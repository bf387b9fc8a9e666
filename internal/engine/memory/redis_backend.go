package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// CacheEngine is a narrow persistence interface a memory.Store can be backed
// by, mirroring the teacher's system/core.CacheEngine (Get/Set/Delete with
// TTL support) so the store isn't tied to one cache vendor.
type CacheEngine interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// RedisBackend implements CacheEngine over go-redis, letting memory entries
// survive a process restart instead of living only in the in-process map.
type RedisBackend struct {
	Client *redis.Client
	Prefix string
}

// NewRedisBackend builds a RedisBackend from a connection URL
// (redis://host:port/db).
func NewRedisBackend(url, prefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisBackend{Client: redis.NewClient(opts), Prefix: prefix}, nil
}

func (b *RedisBackend) key(k string) string { return b.Prefix + k }

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.Client.Get(ctx, b.key(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return v, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	var ttl time.Duration
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return b.Client.Set(ctx, b.key(key), value, ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.Client.Del(ctx, b.key(key)).Err()
}

// persistedEntry is the JSON-on-the-wire shape written to a CacheEngine;
// memory.Entry's value.Value content is stored in its Native() form rather
// than encoding the tagged union directly.
type persistedEntry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Scope     Scope     `json:"scope"`
	Content   any       `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	Weight    float64   `json:"weight"`
}

// Persist writes entry to backend under a "kind:scope:id" key. This package
// has no function that reads persisted entries back into a Store.
func Persist(ctx context.Context, backend CacheEngine, entry *Entry, ttlSeconds int) error {
	p := persistedEntry{
		ID:        entry.ID,
		Kind:      entry.Kind,
		Scope:     entry.Scope,
		Content:   entry.Content.Native(),
		Tags:      entry.Tags,
		CreatedAt: entry.CreatedAt,
		Weight:    entry.Weight,
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode memory entry: %w", err)
	}
	key := fmt.Sprintf("%s:%s:%s", entry.Kind, entry.Scope.key(true), entry.ID)
	return backend.Set(ctx, key, data, ttlSeconds)
}
