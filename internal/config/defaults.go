package config

import "time"

// 預設值
const (
	DefaultPort            = 8080
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultReadBufferSize  = 1024
	DefaultWriteBufferSize = 1024
	DefaultSendBuffer      = 256
	DefaultMaxMessageSize  = 4096
	DefaultWriteWait       = 10 * time.Second
	DefaultPongWait        = 60 * time.Second
	DefaultPingInterval    = 54 * time.Second

	DefaultCodeLength      = 6
	DefaultMaxCodeAttempts = 32
	DefaultInboxSize       = 1024

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultNATSURL       = "nats://127.0.0.1:4222"
	DefaultNATSName      = "cursor-rooms"
	DefaultSubjectPrefix = "cursorrooms"
	DefaultNATSQueueSize = 256
	DefaultStatsBackend  = "memory"
	DefaultFlushInterval = 5 * time.Second
	DefaultRedisAddr     = "localhost:6379"
	DefaultRedisKey      = "cursorrooms:stats"
	DefaultRedisPoolSize = 10
	DefaultRedisTimeout  = 3 * time.Second
	DefaultMetricsPath   = "/metrics"
)

// Default 內建預設設定
func Default() *Config {
	cfg := &Config{}
	cfg.Metrics.Enabled = true
	cfg.applyDefaults()
	return cfg
}

// applyDefaults 補上零值欄位
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = DefaultIdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	ws := &c.WebSocket
	if ws.ReadBufferSize == 0 {
		ws.ReadBufferSize = DefaultReadBufferSize
	}
	if ws.WriteBufferSize == 0 {
		ws.WriteBufferSize = DefaultWriteBufferSize
	}
	if ws.SendBuffer == 0 {
		ws.SendBuffer = DefaultSendBuffer
	}
	if ws.MaxMessageSize == 0 {
		ws.MaxMessageSize = DefaultMaxMessageSize
	}
	if ws.WriteWait == 0 {
		ws.WriteWait = DefaultWriteWait
	}
	if ws.PongWait == 0 {
		ws.PongWait = DefaultPongWait
	}
	if ws.PingInterval == 0 {
		ws.PingInterval = DefaultPingInterval
	}

	if c.Rooms.CodeLength == 0 {
		c.Rooms.CodeLength = DefaultCodeLength
	}
	if c.Rooms.MaxCodeAttempts == 0 {
		c.Rooms.MaxCodeAttempts = DefaultMaxCodeAttempts
	}
	if c.Router.InboxSize == 0 {
		c.Router.InboxSize = DefaultInboxSize
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	if c.NATS.URL == "" {
		c.NATS.URL = DefaultNATSURL
	}
	if c.NATS.Name == "" {
		c.NATS.Name = DefaultNATSName
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.NATS.QueueSize == 0 {
		c.NATS.QueueSize = DefaultNATSQueueSize
	}

	if c.Stats.Backend == "" {
		c.Stats.Backend = DefaultStatsBackend
	}
	if c.Stats.FlushInterval == 0 {
		c.Stats.FlushInterval = DefaultFlushInterval
	}
	r := &c.Stats.Redis
	if r.Addr == "" {
		r.Addr = DefaultRedisAddr
	}
	if r.Key == "" {
		r.Key = DefaultRedisKey
	}
	if r.PoolSize == 0 {
		r.PoolSize = DefaultRedisPoolSize
	}
	if r.DialTimeout == 0 {
		r.DialTimeout = DefaultRedisTimeout
	}
	if r.ReadTimeout == 0 {
		r.ReadTimeout = DefaultRedisTimeout
	}
	if r.WriteTimeout == 0 {
		r.WriteTimeout = DefaultRedisTimeout
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
