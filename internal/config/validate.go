package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate 檢查設定值是否合法
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.WebSocket.SendBuffer < 1 {
		return errors.New("websocket.send_buffer must be >= 1")
	}
	if c.WebSocket.MaxMessageSize < 128 {
		return fmt.Errorf("websocket.max_message_size must be >= 128, got %d", c.WebSocket.MaxMessageSize)
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket.ping_interval (%s) must be less than websocket.pong_wait (%s)",
			c.WebSocket.PingInterval, c.WebSocket.PongWait)
	}

	if c.Rooms.CodeLength < 4 || c.Rooms.CodeLength > 16 {
		return fmt.Errorf("rooms.code_length must be between 4 and 16, got %d", c.Rooms.CodeLength)
	}
	if c.Rooms.MaxCodeAttempts < 1 {
		return errors.New("rooms.max_code_attempts must be >= 1")
	}
	if c.Router.InboxSize < 1 {
		return errors.New("router.inbox_size must be >= 1")
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url is required when nats.enabled is true")
	}

	switch c.Stats.Backend {
	case "memory":
	case "redis":
		if c.Stats.Redis.Addr == "" {
			return errors.New("stats.redis.addr is required when stats.backend is redis")
		}
	default:
		return fmt.Errorf("stats.backend must be memory or redis, got %q", c.Stats.Backend)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	return nil
}
