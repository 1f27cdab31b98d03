// Package stats 記錄伺服器生命週期的累計計數
//
// 計數器：
//   - rooms_created / rooms_deleted
//   - matches
//   - host_changes
//   - connections
//
// 累計值與即時狀態（目前房間數、佇列長度）不同，重啟後仍需保留，
// 所以支援 Redis 後端；單機或測試時使用記憶體後端。
package stats

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// 計數器名稱
const (
	CounterRoomsCreated = "rooms_created"
	CounterRoomsDeleted = "rooms_deleted"
	CounterMatches      = "matches"
	CounterHostChanges  = "host_changes"
	CounterConnections  = "connections"
)

// Store 計數器儲存
type Store interface {
	// Add 原子地累加多個計數器
	Add(ctx context.Context, deltas map[string]int64) error
	// Load 讀取所有計數器
	Load(ctx context.Context) (map[string]int64, error)
	Close() error
}

// MemoryStore 記憶體後端
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryStore 創建記憶體後端
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]int64)}
}

func (s *MemoryStore) Add(_ context.Context, deltas map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range deltas {
		s.counters[k] += v
	}
	return nil
}

func (s *MemoryStore) Load(context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.counters), nil
}

func (s *MemoryStore) Close() error { return nil }

// DefaultRedisKey 預設的 Redis Hash key
const DefaultRedisKey = "cursorrooms:stats"

// RedisStore Redis 後端，所有計數器存在同一個 Hash
//
// 多個伺服器實例共用同一個 key 時，計數是全域累計。
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore 創建 Redis 後端
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Add 在一個 MULTI/EXEC 中執行所有 HINCRBY
func (s *RedisStore) Add(ctx context.Context, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for field, delta := range deltas {
		pipe.HIncrBy(ctx, s.key, field, delta)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hincrby %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", s.key, err)
	}

	out := make(map[string]int64, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse counter %s: %w", field, err)
		}
		out[field] = n
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping 檢查 Redis 連線
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
