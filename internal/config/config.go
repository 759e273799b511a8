package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 描述了 AgentMarket 在启动阶段需要加载的核心配置。
type Config struct {
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
	Operations OperationsConfig `json:"operations" yaml:"operations"`
	Settlement SettlementConfig `json:"settlement" yaml:"settlement"`
	Clock      ClockConfig      `json:"clock" yaml:"clock"`
	Web3       Web3Config       `json:"web3" yaml:"web3"`
	Pinning    PinningConfig    `json:"pinning" yaml:"pinning"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Alerting   AlertingConfig   `json:"alerting" yaml:"alerting"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Runtime    RuntimeConfig    `json:"runtime" yaml:"runtime"`
}

// JournalConfig 选择账本日志的存储后端：file 或 mysql。
type JournalConfig struct {
	Driver       string `json:"driver" yaml:"driver"`
	DSN          string `json:"dsn" yaml:"dsn"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns"`
}

// OperationsConfig 控制异步调用管道。
type OperationsConfig struct {
	Store                StoreConfig `json:"store" yaml:"store"`
	Queue                QueueConfig `json:"queue" yaml:"queue"`
	Workers              int         `json:"workers" yaml:"workers"`
	SweepIntervalSeconds int         `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"`
	WaitTimeoutSeconds   int         `json:"wait_timeout_seconds" yaml:"wait_timeout_seconds"`
}

// StoreConfig 选择操作记录的存储：memory 或 mysql。
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// QueueConfig 选择操作队列：memory、redis 或 rabbitmq。
type QueueConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Buffer   int            `json:"buffer" yaml:"buffer"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 列表队列。
type RedisConfig struct {
	Address          string `json:"address" yaml:"address"`
	Password         string `json:"password" yaml:"password"`
	DB               int    `json:"db" yaml:"db"`
	Queue            string `json:"queue" yaml:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds" yaml:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL      string `json:"url" yaml:"url"`
	Queue    string `json:"queue" yaml:"queue"`
	Prefetch int    `json:"prefetch" yaml:"prefetch"`
}

// SettlementConfig 选择结算通道：discard 表示资金由上游处理，memory 使用内存余额。
type SettlementConfig struct {
	Driver   string            `json:"driver" yaml:"driver"`
	Balances map[string]string `json:"balances" yaml:"balances"`
}

// ClockConfig 选择账本时间来源：system 或 chain。
type ClockConfig struct {
	Source string `json:"source" yaml:"source"`
	Chain  string `json:"chain" yaml:"chain"`
}

// Web3Config 包含访问区块链节点所需的信息。
type Web3Config struct {
	ChainConfig  string `json:"chain_config" yaml:"chain_config"`
	RPCURL       string `json:"rpc_url" yaml:"rpc_url"`
	DefaultChain string `json:"default_chain" yaml:"default_chain"`
}

// PinningConfig 描述内容固定服务。
type PinningConfig struct {
	Provider       string `json:"provider" yaml:"provider"`
	Endpoint       string `json:"endpoint" yaml:"endpoint"`
	Gateway        string `json:"gateway" yaml:"gateway"`
	APIKey         string `json:"api_key" yaml:"api_key"`
	SecretKey      string `json:"secret_key" yaml:"secret_key"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// MetricsConfig 控制 Prometheus 指标端点。
type MetricsConfig struct {
	Address string `json:"address" yaml:"address"`
}

// AlertingConfig 控制告警渠道，日志渠道始终启用。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level      string      `json:"level" yaml:"level"`
	Format     string      `json:"format" yaml:"format"`
	Outputs    []string    `json:"outputs" yaml:"outputs"`
	MaxSizeMB  int         `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int         `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int         `json:"max_age_days" yaml:"max_age_days"`
	Audit      AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// Load 解析指定路径的配置文件，.yaml/.yml 按 YAML 解析，其余按 JSON 解析。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	default:
		err = json.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置，数据目录位于 baseDir/data。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Journal.Driver == "" {
		c.Journal.Driver = "file"
	}

	ops := &c.Operations
	if ops.Store.Driver == "" {
		ops.Store.Driver = "memory"
	}
	if ops.Queue.Driver == "" {
		ops.Queue.Driver = "memory"
	}
	if ops.Queue.Buffer <= 0 {
		ops.Queue.Buffer = 1024
	}
	if ops.Queue.Redis.Queue == "" {
		ops.Queue.Redis.Queue = "agentmarket:operations"
	}
	if ops.Queue.Redis.BlockWaitSeconds <= 0 {
		ops.Queue.Redis.BlockWaitSeconds = 5
	}
	if ops.Queue.RabbitMQ.Queue == "" {
		ops.Queue.RabbitMQ.Queue = "agentmarket.operations"
	}
	if ops.Queue.RabbitMQ.Prefetch <= 0 {
		ops.Queue.RabbitMQ.Prefetch = 16
	}
	if ops.Workers <= 0 {
		ops.Workers = 4
	}
	if ops.SweepIntervalSeconds == 0 {
		ops.SweepIntervalSeconds = 60
	}
	if ops.WaitTimeoutSeconds <= 0 {
		ops.WaitTimeoutSeconds = 30
	}

	if c.Settlement.Driver == "" {
		c.Settlement.Driver = "discard"
	}
	if c.Clock.Source == "" {
		c.Clock.Source = "system"
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Pinning.Endpoint == "" {
		c.Pinning.Endpoint = "https://api.pinata.cloud"
	}
	if c.Pinning.Gateway == "" {
		c.Pinning.Gateway = "https://gateway.pinata.cloud/ipfs/"
	}
	if c.Pinning.TimeoutSeconds <= 0 {
		c.Pinning.TimeoutSeconds = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

// Validate 校验枚举字段与必要的连接信息。
func (c *Config) Validate() error {
	switch c.Journal.Driver {
	case "file":
	case "mysql":
		if strings.TrimSpace(c.Journal.DSN) == "" {
			return errors.New("journal.driver=mysql 时必须配置 journal.dsn")
		}
	default:
		return fmt.Errorf("不支持的日志驱动 %q", c.Journal.Driver)
	}

	switch c.Operations.Store.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Operations.Store.DSN) == "" && strings.TrimSpace(c.Journal.DSN) == "" {
			return errors.New("operations.store.driver=mysql 时必须配置 DSN")
		}
	default:
		return fmt.Errorf("不支持的操作存储驱动 %q", c.Operations.Store.Driver)
	}

	switch c.Operations.Queue.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Operations.Queue.Redis.Address) == "" {
			return errors.New("operations.queue.driver=redis 时必须配置 redis.address")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.Operations.Queue.RabbitMQ.URL) == "" {
			return errors.New("operations.queue.driver=rabbitmq 时必须配置 rabbitmq.url")
		}
	default:
		return fmt.Errorf("不支持的队列驱动 %q", c.Operations.Queue.Driver)
	}
	// 跨进程队列只投递操作编号，提交方与处理方必须读写同一个操作存储。
	if c.Operations.Queue.Driver != "memory" && c.Operations.Store.Driver == "memory" {
		return fmt.Errorf("operations.queue.driver=%s 时 operations.store.driver 必须为 mysql", c.Operations.Queue.Driver)
	}

	switch c.Settlement.Driver {
	case "discard", "memory":
	default:
		return fmt.Errorf("不支持的结算驱动 %q", c.Settlement.Driver)
	}

	switch c.Clock.Source {
	case "system":
	case "chain":
		if c.Web3.ChainConfig == "" && c.Web3.RPCURL == "" {
			return errors.New("clock.source=chain 时必须配置 web3.chain_config 或 web3.rpc_url")
		}
	default:
		return fmt.Errorf("不支持的时间来源 %q", c.Clock.Source)
	}

	switch c.Pinning.Provider {
	case "", "pinata":
	default:
		return fmt.Errorf("不支持的固定服务 %q", c.Pinning.Provider)
	}
	return nil
}

// OperationsDSN 返回操作存储使用的 DSN，未单独配置时复用日志的 DSN。
func (c *Config) OperationsDSN() string {
	if dsn := strings.TrimSpace(c.Operations.Store.DSN); dsn != "" {
		return dsn
	}
	return c.Journal.DSN
}
