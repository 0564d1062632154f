package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSnapshotStore keeps the latest snapshot of each company in one redis
// hash so every replica can adopt the last refresh.
type RedisSnapshotStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSnapshotStore creates a store under prefix. A zero ttl keeps the
// hash forever.
func NewRedisSnapshotStore(client *redis.Client, prefix string, ttl time.Duration) *RedisSnapshotStore {
	if prefix == "" {
		prefix = "tally-connect:catalog:"
	}
	return &RedisSnapshotStore{redis: client, prefix: prefix, ttl: ttl}
}

func (s *RedisSnapshotStore) hashKey() string {
	return s.prefix + "snapshots"
}

// Load returns the stored snapshot for company, or nil.
func (s *RedisSnapshotStore) Load(ctx context.Context, company string) (*SnapshotData, error) {
	result, err := s.redis.HGet(ctx, s.hashKey(), company).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load catalog snapshot: %w", err)
	}
	var data SnapshotData
	if err := json.Unmarshal([]byte(result), &data); err != nil {
		return nil, fmt.Errorf("decode catalog snapshot: %w", err)
	}
	return &data, nil
}

// Save replaces the stored snapshot for data.Company.
func (s *RedisSnapshotStore) Save(ctx context.Context, data SnapshotData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := s.redis.HSet(ctx, s.hashKey(), data.Company, raw).Err(); err != nil {
		return fmt.Errorf("save catalog snapshot: %w", err)
	}
	if s.ttl > 0 {
		return s.redis.Expire(ctx, s.hashKey(), s.ttl).Err()
	}
	return nil
}

// MemorySnapshotStore is a SnapshotStore for single-process deployments and
// tests.
type MemorySnapshotStore struct {
	mu   sync.Mutex
	data map[string]SnapshotData
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{data: make(map[string]SnapshotData)}
}

func (s *MemorySnapshotStore) Load(_ context.Context, company string) (*SnapshotData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[company]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *MemorySnapshotStore) Save(_ context.Context, data SnapshotData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[data.Company] = data
	return nil
}
