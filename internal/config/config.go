package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvPath 指定配置文件位置的环境变量。
const EnvPath = "DVN_CONFIG"

// DefaultPath 是未设置 DVN_CONFIG 时读取的配置文件。
var DefaultPath = filepath.Join("configs", "dvn.json")

// Config 描述了 DVN 守护进程在启动阶段需要加载的全部配置。
type Config struct {
	Server       ServerConfig       `json:"server"`
	Logging      LoggingConfig      `json:"logging"`
	Web3         Web3Config         `json:"web3"`
	ContentStore ContentStoreConfig `json:"content_store"`
	Storage      StorageConfig      `json:"storage"`
	Rounds       RoundsConfig       `json:"rounds"`
	Consensus    ConsensusConfig    `json:"consensus"`
	Evaluation   EvaluationConfig   `json:"evaluation"`
	Verifiers    VerifiersConfig    `json:"verifiers"`
	Worker       WorkerConfig       `json:"worker"`
	Alerts       AlertsConfig       `json:"alerts"`
	Runtime      RuntimeConfig      `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与限流参数。
type ServerConfig struct {
	Address           string  `json:"address"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
	ShutdownSeconds   int     `json:"shutdown_seconds"`
	// MetricsAddress 非空时额外启动独立的 /metrics 监听。
	MetricsAddress string `json:"metrics_address"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	AddSource   bool        `json:"add_source"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的落盘与滚动。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Web3Config 描述链客户端：simulated 驱动使用内存提交器，ethereum 驱动读取链定义文件。
type Web3Config struct {
	Driver                string `json:"driver"`
	ChainConfig           string `json:"chain_config"`
	DefaultChain          string `json:"default_chain"`
	RPCURL                string `json:"rpc_url"`
	Contract              string `json:"contract"`
	SenderKeyEnv          string `json:"sender_key_env"`
	GasLimit              uint64 `json:"gas_limit"`
	ReceiptTimeoutSeconds int    `json:"receipt_timeout_seconds"`
}

// ContentStoreConfig 选择 PoA 包的内容存储后端。
type ContentStoreConfig struct {
	Driver string           `json:"driver"`
	Redis  RedisStoreConfig `json:"redis"`
	S3     S3StoreConfig    `json:"s3"`
}

// RedisStoreConfig 描述 Redis 内容存储。
type RedisStoreConfig struct {
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	KeyPrefix  string `json:"key_prefix"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// S3StoreConfig 描述 S3 兼容的内容存储。
type S3StoreConfig struct {
	Bucket   string `json:"bucket"`
	Region   string `json:"region"`
	Endpoint string `json:"endpoint"`
	Prefix   string `json:"prefix"`
}

// StorageConfig 描述账本与 MySQL 连接。
type StorageConfig struct {
	LedgerDriver string      `json:"ledger_driver"`
	MySQL        MySQLConfig `json:"mysql"`
}

// MySQLConfig 为账本与轮次存储共享的连接池参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// RoundsConfig 描述验证轮次的存储与队列。
type RoundsConfig struct {
	StoreDriver string      `json:"store_driver"`
	Retries     int         `json:"retries"`
	Queue       QueueConfig `json:"queue"`
}

// QueueConfig 选择轮次队列实现。
type QueueConfig struct {
	Driver   string        `json:"driver"`
	Workers  int           `json:"workers"`
	Size     int           `json:"size"`
	Redis    RedisQueue    `json:"redis"`
	RabbitMQ RabbitMQQueue `json:"rabbitmq"`
}

// RedisQueue 描述 Redis list 队列。
type RedisQueue struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQQueue 描述 RabbitMQ 队列。
type RabbitMQQueue struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// ConsensusConfig 对应共识聚合参数。阈值与法定人数未填写时取默认值，显式的 0 保留。
type ConsensusConfig struct {
	ThresholdPercent *float64 `json:"threshold_percent"`
	MinimumQuorum    *int     `json:"minimum_quorum"`
	TimeoutSeconds   int      `json:"evaluation_timeout_seconds"`
	MaxConcurrency   int      `json:"max_concurrency"`
}

// EvaluationConfig 指定专长配置文件。
type EvaluationConfig struct {
	ProfilesPath string `json:"profiles_path"`
}

// VerifierGroup 描述某一专长的验证者数量。
type VerifierGroup struct {
	Specialization string `json:"specialization"`
	Count          int    `json:"count"`
}

// VerifiersConfig 描述本节点托管的验证者群体。
type VerifiersConfig struct {
	Population []VerifierGroup `json:"population"`
	// SignerDriver 为 simulated 时按验证者 ID 派生确定性签名，为 key 时从环境变量读取私钥。
	SignerDriver   string `json:"signer_driver"`
	KeyEnvPrefix   string `json:"key_env_prefix"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// WorkerConfig 描述本节点内置的工作者。
type WorkerConfig struct {
	AgentID    string           `json:"agent_id"`
	StudioID   string           `json:"studio_id"`
	DataSource DataSourceConfig `json:"data_source"`
	PutRetries int              `json:"put_retries"`
}

// DataSourceConfig 选择扫描数据来源。
type DataSourceConfig struct {
	Driver string `json:"driver"`
	Seed   int64  `json:"seed"`
	Path   string `json:"path"`
}

// AlertsConfig 描述告警渠道。
type AlertsConfig struct {
	SlackWebhookURL string `json:"slack_webhook_url"`
	SlackChannel    string `json:"slack_channel"`
}

// RuntimeConfig 放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Path 返回配置文件路径：优先 DVN_CONFIG，否则 configs/dvn.json。
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p
	}
	return DefaultPath
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回全部使用内存与模拟实现的配置，供演示与测试使用。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(".")
	return &cfg
}

// applyDefaults 在用户未填写部分字段时设置默认值，相对路径以配置文件所在目录为基准。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RequestsPerSecond <= 0 {
		c.Server.RequestsPerSecond = 20
	}
	if c.Server.Burst <= 0 {
		c.Server.Burst = 40
	}
	if c.Server.ShutdownSeconds <= 0 {
		c.Server.ShutdownSeconds = 10
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Web3.Driver == "" {
		c.Web3.Driver = "simulated"
	}
	if c.Web3.ReceiptTimeoutSeconds <= 0 {
		c.Web3.ReceiptTimeoutSeconds = 60
	}
	c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)

	if c.ContentStore.Driver == "" {
		c.ContentStore.Driver = "memory"
	}
	if c.Storage.LedgerDriver == "" {
		c.Storage.LedgerDriver = "memory"
	}

	if c.Rounds.StoreDriver == "" {
		c.Rounds.StoreDriver = "memory"
	}
	if c.Rounds.Retries <= 0 {
		c.Rounds.Retries = 3
	}
	if c.Rounds.Queue.Driver == "" {
		c.Rounds.Queue.Driver = "memory"
	}
	if c.Rounds.Queue.Workers <= 0 {
		c.Rounds.Queue.Workers = 4
	}
	if c.Rounds.Queue.Size <= 0 {
		c.Rounds.Queue.Size = 1024
	}

	if c.Consensus.ThresholdPercent == nil {
		threshold := 66.0
		c.Consensus.ThresholdPercent = &threshold
	}
	if c.Consensus.MinimumQuorum == nil {
		quorum := 3
		c.Consensus.MinimumQuorum = &quorum
	}
	if c.Consensus.TimeoutSeconds <= 0 {
		c.Consensus.TimeoutSeconds = 300
	}

	c.Evaluation.ProfilesPath = resolve(baseDir, c.Evaluation.ProfilesPath)

	if len(c.Verifiers.Population) == 0 {
		c.Verifiers.Population = []VerifierGroup{
			{Specialization: "electronics", Count: 2},
			{Specialization: "inventory", Count: 2},
			{Specialization: "general", Count: 1},
		}
	}
	if c.Verifiers.SignerDriver == "" {
		c.Verifiers.SignerDriver = "simulated"
	}
	if c.Verifiers.KeyEnvPrefix == "" {
		c.Verifiers.KeyEnvPrefix = "DVN_KEY_"
	}

	if c.Worker.AgentID == "" {
		c.Worker.AgentID = "worker_kirana_1"
	}
	if c.Worker.DataSource.Driver == "" {
		c.Worker.DataSource.Driver = "simulated"
	}
	if c.Worker.DataSource.Seed == 0 {
		c.Worker.DataSource.Seed = 42
	}
	c.Worker.DataSource.Path = resolve(baseDir, c.Worker.DataSource.Path)

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate 检查驱动名称与必填的连接参数。
func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s 不支持 %q，可选 %s", field, value, strings.Join(allowed, "|")))
	}
	check("web3.driver", c.Web3.Driver, "simulated", "ethereum")
	check("content_store.driver", c.ContentStore.Driver, "memory", "redis", "s3")
	check("storage.ledger_driver", c.Storage.LedgerDriver, "memory", "mysql")
	check("rounds.store_driver", c.Rounds.StoreDriver, "memory", "mysql")
	check("rounds.queue.driver", c.Rounds.Queue.Driver, "memory", "redis", "rabbitmq")
	check("verifiers.signer_driver", c.Verifiers.SignerDriver, "simulated", "key")
	check("worker.data_source.driver", c.Worker.DataSource.Driver, "simulated", "file")

	if c.usesMySQL() && strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
		errs = append(errs, errors.New("storage.mysql.dsn 不能为空"))
	}
	if c.ContentStore.Driver == "redis" && c.ContentStore.Redis.Address == "" {
		errs = append(errs, errors.New("content_store.redis.address 不能为空"))
	}
	if c.ContentStore.Driver == "s3" && c.ContentStore.S3.Bucket == "" {
		errs = append(errs, errors.New("content_store.s3.bucket 不能为空"))
	}
	if c.Rounds.Queue.Driver == "redis" && c.Rounds.Queue.Redis.Address == "" {
		errs = append(errs, errors.New("rounds.queue.redis.address 不能为空"))
	}
	if c.Rounds.Queue.Driver == "rabbitmq" && c.Rounds.Queue.RabbitMQ.URL == "" {
		errs = append(errs, errors.New("rounds.queue.rabbitmq.url 不能为空"))
	}
	if c.Worker.DataSource.Driver == "file" && c.Worker.DataSource.Path == "" {
		errs = append(errs, errors.New("worker.data_source.path 不能为空"))
	}
	if t := c.Consensus.Threshold(); t < 0 || t > 100 {
		errs = append(errs, errors.New("consensus.threshold_percent 必须位于 0 到 100 之间"))
	}
	if c.Consensus.Quorum() < 0 {
		errs = append(errs, errors.New("consensus.minimum_quorum 不能为负数"))
	}
	return errors.Join(errs...)
}

func (c *Config) usesMySQL() bool {
	return c.Storage.LedgerDriver == "mysql" || c.Rounds.StoreDriver == "mysql"
}

// ConnMaxLifetime 返回连接最大存活时间。
func (m MySQLConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(m.ConnMaxLifetimeSeconds) * time.Second
}

// ConnMaxIdleTime 返回连接最大空闲时间。
func (m MySQLConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(m.ConnMaxIdleTimeSeconds) * time.Second
}

// Threshold 返回通过阈值（百分比），未设置时为 0。
func (c ConsensusConfig) Threshold() float64 {
	if c.ThresholdPercent == nil {
		return 0
	}
	return *c.ThresholdPercent
}

// Quorum 返回法定人数，未设置时为 0。
func (c ConsensusConfig) Quorum() int {
	if c.MinimumQuorum == nil {
		return 0
	}
	return *c.MinimumQuorum
}

// EvaluationTimeout 返回单个验证者的评估时限。
func (c ConsensusConfig) EvaluationTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
