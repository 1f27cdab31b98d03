// Package config 載入伺服器設定
//
// 載入順序：內建預設值 → YAML 檔案（支援 ${VAR} 環境變數）→ 命令列參數。
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Rooms     RoomsConfig     `yaml:"rooms"`
	Router    RouterConfig    `yaml:"router"`
	Log       LogConfig       `yaml:"log"`
	NATS      NATSConfig      `yaml:"nats"`
	Stats     StatsConfig     `yaml:"stats"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	SendBuffer      int           `yaml:"send_buffer"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	WriteWait       time.Duration `yaml:"write_wait"`
	PongWait        time.Duration `yaml:"pong_wait"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type RoomsConfig struct {
	CodeLength      int `yaml:"code_length"`
	MaxCodeAttempts int `yaml:"max_code_attempts"`
}

type RouterConfig struct {
	InboxSize int `yaml:"inbox_size"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// NATSConfig 生命週期事件發佈（預設關閉）
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	SubjectPrefix string `yaml:"subject_prefix"`
	QueueSize     int    `yaml:"queue_size"`
}

// StatsConfig 累計計數的儲存
type StatsConfig struct {
	Backend       string        `yaml:"backend"` // memory / redis
	FlushInterval time.Duration `yaml:"flush_interval"`
	Redis         RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load 讀取 YAML 設定檔並套用預設值
//
// path 為空時只使用預設值。檔案中沒有出現的欄位保留預設值。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	// #nosec G304 - path 來自命令列參數
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate 載入並驗證
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Addr HTTP 監聽位址
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
