package snapshotstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by Load when no snapshot exists for a session.
var ErrNotFound = fmt.Errorf("snapshot not found")

// Store persists per-session state snapshots so a stopped session can be
// resumed with its queue intact.
type Store interface {
	Save(ctx context.Context, sessionID string, value interface{}) error
	Load(ctx context.Context, sessionID string, dest interface{}) error
	Delete(ctx context.Context, sessionID string) error
}

type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

const (
	keyPrefix  = "ec:snapshot:"
	defaultTTL = 7 * 24 * time.Hour
)

// RedisStore keeps snapshots as JSON records in Redis with a TTL.
type RedisStore struct {
	rdb redisClient
	ttl time.Duration
}

// NewRedis creates a Redis-backed snapshot store.
func NewRedis(rdb redisClient) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: defaultTTL}
}

func (s *RedisStore) key(sessionID string) string {
	return keyPrefix + sessionID
}

func (s *RedisStore) Save(ctx context.Context, sessionID string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.rdb.Set(ctx, s.key(sessionID), data, s.ttl)
}

func (s *RedisStore) Load(ctx context.Context, sessionID string, dest interface{}) error {
	raw, err := s.rdb.Get(ctx, s.key(sessionID))
	if err != nil {
		return err
	}
	if raw == "" {
		return ErrNotFound
	}
	return json.Unmarshal([]byte(raw), dest)
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, s.key(sessionID))
}

// MemoryStore is an in-process Store used in tests and when Redis is
// unavailable.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, sessionID string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[sessionID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, sessionID string, dest interface{}) error {
	s.mu.RLock()
	data, ok := s.data[sessionID]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(data, dest)
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.data, sessionID)
	s.mu.Unlock()
	return nil
}
