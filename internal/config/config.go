// Package config 负责加载并校验守护进程的 JSON 配置。
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config 描述 xgovd 启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Registry RegistryConfig `json:"registry"`
	Ledger   LedgerConfig   `json:"ledger"`
	Planner  PlannerConfig  `json:"planner"`
	Selector SelectorConfig `json:"selector"`
	Jobs     JobsConfig     `json:"jobs"`
	Alerts   AlertsConfig   `json:"alerts"`
}

// ServerConfig 控制 API 与指标服务的监听地址。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// LoggingConfig 描述日志输出方式。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// RegistryConfig 描述智能体注册表的存储后端。
type RegistryConfig struct {
	Driver                 string `json:"driver"`
	Path                   string `json:"path"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// LedgerConfig 包含链上支付与校验记录所需的参数。
type LedgerConfig struct {
	Definitions    string `json:"definitions"`
	DefaultChain   string `json:"default_chain"`
	RPCURL         string `json:"rpc_url"`
	JournalAddress string `json:"journal_address"`
	PayerKey       string `json:"payer_key"`
	PayerKeyEnv    string `json:"payer_key_env"`
	// DevFaucet 为 true 时启动阶段尝试通过开发链接口为付款账户充值。
	DevFaucet bool `json:"dev_faucet"`
}

// ResolvePayerKey 返回支付私钥，优先使用配置内联值。
func (c LedgerConfig) ResolvePayerKey() (string, error) {
	if c.PayerKey != "" {
		return c.PayerKey, nil
	}
	if c.PayerKeyEnv != "" {
		if key := os.Getenv(c.PayerKeyEnv); key != "" {
			return key, nil
		}
		return "", fmt.Errorf("环境变量 %s 未设置", c.PayerKeyEnv)
	}
	return "", errors.New("必须配置 payer_key 或 payer_key_env")
}

// PlannerConfig 控制任务拆解的方式。
type PlannerConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述调用 OpenAI 接口所需的信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回请求超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SelectorConfig 控制候选智能体的发现方式。
type SelectorConfig struct {
	Catalog string `json:"catalog"`
}

// JobsConfig 描述异步作业的队列与重试策略。
type JobsConfig struct {
	Queue      QueueConfig `json:"queue"`
	MaxRetries int         `json:"max_retries"`
	Workers    int         `json:"workers"`
}

// QueueConfig 描述作业队列后端。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Capacity int            `json:"capacity"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列连接参数。
type RedisConfig struct {
	Address           string `json:"address"`
	Password          string `json:"password"`
	DB                int    `json:"db"`
	Key               string `json:"key"`
	PopTimeoutSeconds int    `json:"pop_timeout_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列连接参数。
type RabbitMQConfig struct {
	URL       string `json:"url"`
	QueueName string `json:"queue_name"`
	Prefetch  int    `json:"prefetch"`
}

// AlertsConfig 描述告警渠道的 webhook 配置。
type AlertsConfig struct {
	DingTalkWebhook string `json:"dingtalk_webhook"`
	SlackWebhook    string `json:"slack_webhook"`
	SlackChannel    string `json:"slack_channel"`
}

// Load 解析指定路径的 JSON 配置文件并填充默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
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

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stdout"}
	}
	c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path)

	if c.Registry.Driver == "" {
		c.Registry.Driver = "file"
	}
	if c.Registry.Driver == "file" && c.Registry.Path == "" {
		c.Registry.Path = filepath.Join(baseDir, "data", "agent_registry.json")
	}
	c.Registry.Path = resolvePath(baseDir, c.Registry.Path)

	c.Ledger.Definitions = resolvePath(baseDir, c.Ledger.Definitions)
	c.Selector.Catalog = resolvePath(baseDir, c.Selector.Catalog)

	if c.Planner.Provider == "" {
		c.Planner.Provider = "static"
	}

	if c.Jobs.Queue.Driver == "" {
		c.Jobs.Queue.Driver = "memory"
	}
	if c.Jobs.Queue.Capacity <= 0 {
		c.Jobs.Queue.Capacity = 1024
	}
	if c.Jobs.MaxRetries <= 0 {
		c.Jobs.MaxRetries = 3
	}
	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 4
	}
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
