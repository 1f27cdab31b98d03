// Package testutils 提供測試用的 Redis 容器
//
// 容器在測試結束時自動清理。需要 Docker，-short 模式下直接跳過。
package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// RedisImage 測試使用的 Redis 映像
const RedisImage = "redis:7-alpine"

// RedisEnvironment 封裝 Redis 測試容器
type RedisEnvironment struct {
	Client    *redis.Client
	Addr      string
	container tc.Container
}

// SetupRedis 啟動 Redis 容器並建立客戶端
//
// 使用範例：
//
//	func TestSomething(t *testing.T) {
//	    env := testutils.SetupRedis(t)
//	    // 使用 env.Client
//	}
func SetupRedis(t testing.TB) *RedisEnvironment {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis container in -short mode")
	}

	ctx := context.Background()

	container, err := tcredis.Run(ctx, RedisImage)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	env := &RedisEnvironment{container: container}
	t.Cleanup(env.cleanup)

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	env.Addr = endpoint

	env.Client = redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := env.Client.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}

	return env
}

// FlushRedis 清空 Redis 資料（用於子測試之間）
func (env *RedisEnvironment) FlushRedis(t testing.TB) {
	t.Helper()

	if err := env.Client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
}

func (env *RedisEnvironment) cleanup() {
	if env.Client != nil {
		_ = env.Client.Close()
	}
	if env.container != nil {
		_ = env.container.Terminate(context.Background())
	}
}
