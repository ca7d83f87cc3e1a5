package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ChaosChain/chaoschain-dvn/deploy/migrations"
	"github.com/ChaosChain/chaoschain-dvn/internal/agent"
	"github.com/ChaosChain/chaoschain-dvn/internal/api"
	"github.com/ChaosChain/chaoschain-dvn/internal/attestation"
	"github.com/ChaosChain/chaoschain-dvn/internal/config"
	"github.com/ChaosChain/chaoschain-dvn/internal/consensus"
	"github.com/ChaosChain/chaoschain-dvn/internal/contentstore"
	"github.com/ChaosChain/chaoschain-dvn/internal/datasource"
	"github.com/ChaosChain/chaoschain-dvn/internal/evaluation"
	"github.com/ChaosChain/chaoschain-dvn/internal/ledger"
	"github.com/ChaosChain/chaoschain-dvn/internal/observability/alerting"
	"github.com/ChaosChain/chaoschain-dvn/internal/observability/metrics"
	"github.com/ChaosChain/chaoschain-dvn/internal/proofs"
	"github.com/ChaosChain/chaoschain-dvn/internal/storage/mysql"
	"github.com/ChaosChain/chaoschain-dvn/internal/storage/redis"
	"github.com/ChaosChain/chaoschain-dvn/internal/task"
	"github.com/ChaosChain/chaoschain-dvn/internal/web3/provider"
	"github.com/ChaosChain/chaoschain-dvn/pkg/logger"
)

// main 是 DVN 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("dvnd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		AddSource:   cfg.Logging.AddSource,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("dvnd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 账本与轮次存储共享同一个 MySQL 连接池。
	var db *sql.DB
	if cfg.Storage.LedgerDriver == "mysql" || cfg.Rounds.StoreDriver == "mysql" {
		db, err = mysql.Open(ctx, mysql.Config{
			DSN:             cfg.Storage.MySQL.DSN,
			MaxOpenConns:    cfg.Storage.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.MySQL.ConnMaxLifetime(),
			ConnMaxIdleTime: cfg.Storage.MySQL.ConnMaxIdleTime(),
		})
		if err != nil {
			return err
		}
		defer db.Close()
		lg.Info("MySQL 迁移完成", slog.String("schema_version", migrations.Latest()))
	}

	store, closeStore, err := buildContentStore(ctx, cfg.ContentStore)
	if err != nil {
		return err
	}
	defer closeStore()

	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()
	chain, err := chainRegistry.DefaultClient()
	if err != nil {
		return err
	}

	results, err := buildLedger(cfg, db)
	if err != nil {
		return err
	}

	alerts := buildAlerts(cfg.Alerts)

	profiles, err := evaluation.LoadProfiles(cfg.Evaluation.ProfilesPath)
	if err != nil {
		return err
	}
	population := make([]agent.VerifierSpec, 0, len(cfg.Verifiers.Population))
	for _, group := range cfg.Verifiers.Population {
		population = append(population, agent.VerifierSpec{
			Specialization: evaluation.Specialization(group.Specialization),
			Count:          group.Count,
		})
	}
	verifiers, err := agent.BuildPopulation(population, profiles, signerFactory(cfg.Verifiers), chain,
		agent.WithVerifyTimeout(time.Duration(cfg.Verifiers.TimeoutSeconds)*time.Second))
	if err != nil {
		return err
	}
	members := make([]consensus.Verifier, 0, len(verifiers))
	for _, v := range verifiers {
		members = append(members, v)
	}

	coordinator := consensus.NewCoordinator(consensus.Config{
		ThresholdPercent:  cfg.Consensus.Threshold(),
		MinimumQuorum:     cfg.Consensus.Quorum(),
		EvaluationTimeout: cfg.Consensus.EvaluationTimeout(),
		MaxConcurrency:    cfg.Consensus.MaxConcurrency,
	}, consensus.WithCoordinatorLogger(logger.Named("consensus")))
	network := agent.NewNetwork(store, coordinator, members,
		agent.WithLedger(results),
		agent.WithNetworkAlerts(alerts),
	)

	source, err := buildSource(cfg.Worker.DataSource)
	if err != nil {
		return err
	}
	worker := agent.NewWorker(cfg.Worker.AgentID, source, store,
		agent.WithNoticeSubmitter(chain),
		agent.WithPutRetries(cfg.Worker.PutRetries),
	)

	var roundStore task.Store
	if cfg.Rounds.StoreDriver == "mysql" {
		roundStore = task.NewMySQLStoreWithDB(db)
	} else {
		roundStore = task.NewMemoryStore()
	}

	queue, err := buildQueue(ctx, cfg.Rounds.Queue)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			lg.Error("关闭轮次队列失败", slog.Any("error", err))
		}
	}()

	rounds := task.NewService(roundStore, queue, cfg.Rounds.Retries)
	processor := task.NewProcessor(network, roundStore, queue, queue,
		task.WithWorkerCount(cfg.Rounds.Queue.Workers),
		task.WithProcessorLogger(logger.Named("processor")),
		task.WithRecoveryHandler(&task.LedgerRecovery{Ledger: results}),
		task.WithAlertDispatcher(alerts),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("轮次处理器异常退出", slog.Any("error", err))
		}
	}()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	server, err := api.NewServer(cfg.Server.Address, worker, rounds,
		api.WithAttestationReader(results),
		api.WithChainStatus(chain),
		api.WithRateLimit(cfg.Server.RequestsPerSecond, cfg.Server.Burst),
		api.WithShutdownTimeout(time.Duration(cfg.Server.ShutdownSeconds)*time.Second),
	)
	if err != nil {
		return err
	}

	lg.Info("DVN 节点启动",
		slog.String("worker", worker.ID()),
		slog.Int("verifiers", len(members)),
		slog.Any("chains", chainRegistry.Chains()),
		slog.String("content_store", cfg.ContentStore.Driver),
		slog.String("queue", cfg.Rounds.Queue.Driver))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildContentStore(ctx context.Context, cfg config.ContentStoreConfig) (contentstore.Store, func(), error) {
	noop := func() {}
	switch cfg.Driver {
	case "", "memory":
		return contentstore.NewMemoryStore(), noop, nil
	case "redis":
		store, err := redis.NewContentStore(ctx, redis.Config{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       time.Duration(cfg.Redis.TTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil
	case "s3":
		store, err := contentstore.NewS3Store(ctx, contentstore.S3Config{
			Bucket:   cfg.S3.Bucket,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
			Prefix:   cfg.S3.Prefix,
		})
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	default:
		return nil, noop, fmt.Errorf("未知的内容存储驱动: %s", cfg.Driver)
	}
}

func buildLedger(cfg *config.Config, db *sql.DB) (ledger.Ledger, error) {
	if cfg.Storage.LedgerDriver == "mysql" {
		return mysql.NewSQLLedgerWithDB(db), nil
	}
	return ledger.NewMemoryLedger(cfg.Runtime.DataDir)
}

func buildQueue(ctx context.Context, cfg config.QueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryQueue(cfg.Size), nil
	case "redis":
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func buildSource(cfg config.DataSourceConfig) (datasource.Source, error) {
	switch cfg.Driver {
	case "", "simulated":
		return datasource.NewSimulatedSource(cfg.Seed), nil
	case "file":
		return datasource.NewFileSource(cfg.Path), nil
	default:
		return nil, fmt.Errorf("未知的数据源驱动: %s", cfg.Driver)
	}
}

// signerFactory 按配置为每个验证者创建签名器。key 驱动从
// <prefix><AGENT_ID> 环境变量读取十六进制私钥。
func signerFactory(cfg config.VerifiersConfig) agent.SignerFactory {
	if cfg.SignerDriver != "key" {
		return func(agentID string) (attestation.Signer, error) {
			return proofs.NewSimulatedSigner(agentID), nil
		}
	}
	return func(agentID string) (attestation.Signer, error) {
		return proofs.NewKeySignerFromEnv(cfg.KeyEnvPrefix + strings.ToUpper(agentID))
	}
}

func buildAlerts(cfg config.AlertsConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerts")}}
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.WebhookSender{URL: cfg.SlackWebhookURL},
			ChannelID: cfg.SlackChannel,
		})
	}
	return alerting.NewFanout(notifiers...)
}
