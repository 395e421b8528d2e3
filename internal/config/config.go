package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 Feelan 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	LLM       LLMConfig       `json:"llm"`
	Trade     TradeConfig     `json:"trade"`
	Storage   StorageConfig   `json:"storage"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Events    EventsConfig    `json:"events"`
	Log       LogConfig       `json:"log"`
	Metrics   MetricsConfig   `json:"metrics"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string   `json:"address"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// AuthConfig 配置钱包登录与令牌签发。
type AuthConfig struct {
	Mode      string   `json:"mode"`
	JWTSecret string   `json:"jwt_secret"`
	Issuer    string   `json:"issuer"`
	Audience  []string `json:"audience"`
	AccessTTL int64    `json:"access_ttl_seconds"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	APIKey         string  `json:"api_key"`
	BaseURL        string  `json:"base_url"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	MaxTrials      int     `json:"max_trials"`
}

// TradeConfig 描述下游交易协作方与代币清单。
type TradeConfig struct {
	BaseURL        string `json:"base_url"`
	ChainID        int    `json:"chain_id"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	TokenTablePath string `json:"token_table"`
}

// StorageConfig 描述会话存储后端的连接信息。
type StorageConfig struct {
	Driver string      `json:"driver"`
	DSN    string      `json:"dsn"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 统一描述 Redis 连接参数，会话存储与限流共用。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// RateLimitConfig 控制各端点的固定窗口限流。
type RateLimitConfig struct {
	Driver             string      `json:"driver"`
	Redis              RedisConfig `json:"redis"`
	SendMessagePerHour int         `json:"send_message_per_hour"`
	DefaultPerMinute   int         `json:"default_per_minute"`
}

// EventsConfig 配置动作事件的发布端。
type EventsConfig struct {
	Driver   string `json:"driver"`
	AMQPURL  string `json:"amqp_url"`
	Queue    string `json:"queue"`
	Durable  bool   `json:"durable"`
	Capacity int    `json:"capacity"`
}

// LogConfig 控制日志输出。
type LogConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// MetricsConfig 控制指标服务。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "wallet"
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4-turbo"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.MaxTrials <= 0 {
		c.LLM.MaxTrials = 3
	}

	if c.Trade.ChainID <= 0 {
		c.Trade.ChainID = 137
	}
	if c.Trade.TimeoutSeconds <= 0 {
		c.Trade.TimeoutSeconds = 30
	}
	if c.Trade.TokenTablePath == "" {
		c.Trade.TokenTablePath = filepath.Join(baseDir, "tokens.yaml")
	} else if !filepath.IsAbs(c.Trade.TokenTablePath) {
		c.Trade.TokenTablePath = filepath.Join(baseDir, c.Trade.TokenTablePath)
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}

	if c.RateLimit.Driver == "" {
		c.RateLimit.Driver = "memory"
	}
	if c.RateLimit.SendMessagePerHour <= 0 {
		c.RateLimit.SendMessagePerHour = 50
	}
	if c.RateLimit.DefaultPerMinute <= 0 {
		c.RateLimit.DefaultPerMinute = 10
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if len(c.Log.OutputPaths) == 0 {
		c.Log.OutputPaths = []string{"stdout"}
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
