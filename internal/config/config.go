package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 pochipo 在启动阶段需要加载的核心配置。
// 密钥类配置不在这里出现，统一走环境变量（见 env.go）。
type Config struct {
	Server     ServerConfig    `json:"server"`
	Directory  DirectoryConfig `json:"directory"`
	Session    SessionConfig   `json:"session"`
	SnipeQueue QueueConfig     `json:"snipe_queue"`
	LLM        LLMConfig       `json:"llm"`
	Agent      AgentConfig     `json:"agent"`
	Moonshot   MoonshotConfig  `json:"moonshot"`
	Social     SocialConfig    `json:"social"`
	Web3       Web3Config      `json:"web3"`
	Logging    LoggingConfig   `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// DirectoryConfig 描述用户/钱包/代币/狙击手目录的存储后端。
type DirectoryConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// SessionConfig 描述会话历史的存储后端。
type SessionConfig struct {
	Driver   string      `json:"driver"`
	MaxTurns int         `json:"max_turns"`
	Redis    RedisConfig `json:"redis"`
}

// RedisConfig 是 Redis 连接参数的通用描述。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
}

// QueueConfig 描述狙击购买队列的驱动。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LLMConfig 用于配置推理能力的调用方式。
type LLMConfig struct {
	Provider  string          `json:"provider"`
	Anthropic AnthropicConfig `json:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai"`
}

// AnthropicConfig 描述 Anthropic Messages API 的调用参数。
type AnthropicConfig struct {
	Model          string `json:"model"`
	BaseURL        string `json:"base_url"`
	MaxTokens      int    `json:"max_tokens"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// OpenAIConfig 描述 OpenAI 兼容端点的调用参数。
type OpenAIConfig struct {
	Model          string `json:"model"`
	BaseURL        string `json:"base_url"`
	APIKeyEnv      string `json:"api_key_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// AgentConfig 控制对话循环的行为。
type AgentConfig struct {
	// MaxHandoffs 限制评估→铸币接力允许的重新推理次数。
	MaxHandoffs int `json:"max_handoffs"`
	// HandoffPolicy 决定接力途中遇到非 JSON 终止输出时的处理方式：
	// lenient 继续等待，strict 将其视为最终回复。
	HandoffPolicy string `json:"handoff_policy"`
}

// MoonshotConfig 描述托管 SDK 的访问参数。
type MoonshotConfig struct {
	BaseURL        string `json:"base_url"`
	SlippageBps    int    `json:"slippage_bps"`
	TokenAmount    string `json:"token_amount"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SocialConfig 描述社交媒体发帖集成。
type SocialConfig struct {
	Enabled        bool   `json:"enabled"`
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Web3Config 指向链定义文件，具体网络由 NETWORK_ID 选择。
type Web3Config struct {
	ChainConfig string `json:"chain_config"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	Output     string `json:"output"`
	AuditPath  string `json:"audit_path"`
	AuditSize  int    `json:"audit_size_mb"`
	AuditFiles int    `json:"audit_files"`
	AuditDays  int    `json:"audit_days"`
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

// Default 返回一份全默认配置，便于在缺少配置文件时启动。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":3000"
	}

	if c.Directory.Driver == "" {
		c.Directory.Driver = "memory"
	}

	if c.Session.Driver == "" {
		c.Session.Driver = "memory"
	}
	if c.Session.MaxTurns <= 0 {
		c.Session.MaxTurns = 40
	}

	if c.SnipeQueue.Driver == "" {
		c.SnipeQueue.Driver = "memory"
	}
	if c.SnipeQueue.Redis.Key == "" {
		c.SnipeQueue.Redis.Key = "pochipo:snipes"
	}
	if c.SnipeQueue.RabbitMQ.Queue == "" {
		c.SnipeQueue.RabbitMQ.Queue = "pochipo.snipes"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.Anthropic.Model == "" {
		c.LLM.Anthropic.Model = "claude-3-haiku-20240307"
	}
	if c.LLM.Anthropic.MaxTokens <= 0 {
		c.LLM.Anthropic.MaxTokens = 1024
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}

	if c.Agent.MaxHandoffs <= 0 {
		c.Agent.MaxHandoffs = 3
	}
	if c.Agent.HandoffPolicy == "" {
		c.Agent.HandoffPolicy = "lenient"
	}

	if c.Moonshot.BaseURL == "" {
		c.Moonshot.BaseURL = "https://api-devnet.moonshot.cc"
	}
	if c.Moonshot.SlippageBps <= 0 {
		c.Moonshot.SlippageBps = 1000
	}
	if c.Moonshot.TokenAmount == "" {
		c.Moonshot.TokenAmount = "10000000000000"
	}

	if c.Social.BaseURL == "" {
		c.Social.BaseURL = "https://api.twitter.com"
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
}
