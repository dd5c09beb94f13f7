// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"deepthink/orchestrator/state"
)

// Store persists the append-only update log of each task.
type Store interface {
	Append(ctx context.Context, id string, u state.Update) error
	Range(ctx context.Context, id string, from int) ([]state.Update, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps update logs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]state.Update
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]state.Update)}
}

// Append implements Store.
func (m *MemoryStore) Append(ctx context.Context, id string, u state.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[id] = append(m.logs[id], u)
	return nil
}

// Range implements Store.
func (m *MemoryStore) Range(ctx context.Context, id string, from int) ([]state.Update, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.logs[id]
	if from >= len(log) {
		return []state.Update{}, nil
	}
	out := make([]state.Update, len(log)-from)
	copy(out, log[from:])
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.logs, id)
	return nil
}

// RedisStore keeps update logs in Redis lists so several replicas can serve
// polls for the same task. Keys expire after ttl of inactivity.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL (redis://host:port/db) and pings it.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "deepthink:task:", ttl: ttl}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id + ":updates"
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, id string, u state.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key(id), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(id), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append update for %s: %w", id, err)
	}
	return nil
}

// Range implements Store.
func (s *RedisStore) Range(ctx context.Context, id string, from int) ([]state.Update, error) {
	raw, err := s.client.LRange(ctx, s.key(id), int64(from), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read updates for %s: %w", id, err)
	}

	out := make([]state.Update, 0, len(raw))
	for _, item := range raw {
		var u state.Update
		if err := json.Unmarshal([]byte(item), &u); err != nil {
			return nil, fmt.Errorf("failed to decode update for %s: %w", id, err)
		}
		out = append(out, u)
	}
	return out, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
