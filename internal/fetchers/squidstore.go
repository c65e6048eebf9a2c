package fetchers

import (
	"context"
	"errors"
	"sync"

	"github.com/go-redis/redis/v8"
)

// SquidStore persists the crawler→squid mapping so the shared worker group
// can be found again without a remote search on every pass.
type SquidStore interface {
	Get(ctx context.Context, crawlerHash string) (string, error)
	Set(ctx context.Context, crawlerHash, squidID string) error
	Delete(ctx context.Context, crawlerHash string) error
}

const squidKeyPrefix = "lobstr:squid:"

// RedisSquidStore keeps the mapping in redis so it survives restarts.
type RedisSquidStore struct {
	client *redis.Client
}

// NewRedisSquidStore creates a redis-backed squid store
func NewRedisSquidStore(client *redis.Client) *RedisSquidStore {
	return &RedisSquidStore{client: client}
}

func (s *RedisSquidStore) Get(ctx context.Context, crawlerHash string) (string, error) {
	id, err := s.client.Get(ctx, squidKeyPrefix+crawlerHash).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisSquidStore) Set(ctx context.Context, crawlerHash, squidID string) error {
	return s.client.Set(ctx, squidKeyPrefix+crawlerHash, squidID, 0).Err()
}

func (s *RedisSquidStore) Delete(ctx context.Context, crawlerHash string) error {
	return s.client.Del(ctx, squidKeyPrefix+crawlerHash).Err()
}

// MemorySquidStore is the fallback when redis is not configured. The mapping
// is rebuilt by remote search after a restart.
type MemorySquidStore struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemorySquidStore creates an in-memory squid store
func NewMemorySquidStore() *MemorySquidStore {
	return &MemorySquidStore{data: make(map[string]string)}
}

func (s *MemorySquidStore) Get(_ context.Context, crawlerHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[crawlerHash], nil
}

func (s *MemorySquidStore) Set(_ context.Context, crawlerHash, squidID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[crawlerHash] = squidID
	return nil
}

func (s *MemorySquidStore) Delete(_ context.Context, crawlerHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, crawlerHash)
	return nil
}
