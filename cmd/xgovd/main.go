package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"XGov-Mesh/internal/api"
	"XGov-Mesh/internal/config"
	"XGov-Mesh/internal/jobs"
	"XGov-Mesh/internal/ledger"
	ledgerprovider "XGov-Mesh/internal/ledger/provider"
	"XGov-Mesh/internal/observability/alerting"
	"XGov-Mesh/internal/observability/metrics"
	"XGov-Mesh/internal/orchestrator"
	"XGov-Mesh/internal/payment"
	"XGov-Mesh/internal/planner"
	"XGov-Mesh/internal/planner/openai"
	"XGov-Mesh/internal/registry"
	"XGov-Mesh/internal/selector"
	"XGov-Mesh/pkg/logger"
)

// main 是 xgovd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("xgovd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("XGOV_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "xgov.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
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
	defer func() {
		_ = logger.Sync()
	}()

	// 智能体注册表。
	store, err := createRegistryStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// 链上账本客户端。
	payerKey, err := cfg.Ledger.ResolvePayerKey()
	if err != nil {
		return err
	}
	chains, err := ledgerprovider.NewRegistry(ctx, ledgerprovider.Options{
		ChainConfig:    cfg.Ledger.Definitions,
		DefaultChain:   cfg.Ledger.DefaultChain,
		RPCURL:         cfg.Ledger.RPCURL,
		JournalAddress: cfg.Ledger.JournalAddress,
		PayerKey:       payerKey,
	})
	if err != nil {
		return err
	}
	defer chains.Close()

	chainClient, err := chains.DefaultClient()
	if err != nil {
		return err
	}
	if cfg.Ledger.DevFaucet {
		oneEther := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
		if err := chainClient.RequestFunds(ctx, oneEther); err != nil {
			logger.L().Warn("开发链充值失败，继续启动", "error", err)
		}
	}

	// 任务拆解。
	oracle, err := createOracle(cfg)
	if err != nil {
		return err
	}

	// 候选智能体选择。
	strategies := []selector.Strategy{selector.NewStoreStrategy(store)}
	if cfg.Ledger.JournalAddress != "" {
		strategies = append(strategies, selector.NewDirectoryStrategy(store, chainClient, 0))
	}
	if cfg.Selector.Catalog != "" {
		catalog, err := selector.LoadCatalog(cfg.Selector.Catalog)
		if err != nil {
			return err
		}
		strategies = append(strategies, selector.NewCatalogStrategy(catalog))
	}
	sel := selector.New(strategies...)

	// 带支付的调用客户端。
	invoker, err := payment.NewClient(chainClient)
	if err != nil {
		return err
	}

	var journal ledger.Recorder
	if cfg.Ledger.JournalAddress != "" {
		journal = chainClient
	}
	recorder := orchestrator.NewOutcomeRecorder(store, journal)

	orch, err := orchestrator.New(oracle, sel, invoker, recorder)
	if err != nil {
		return err
	}

	// 指标与告警。
	collector := metrics.NewCollector()
	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		metricsServer = collector.StartServer(cfg.Server.MetricsAddress)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}
	dispatcher := createDispatcher(cfg)

	// 异步作业管道。
	queue, err := createQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	jobStore := jobs.NewMemoryStore()
	jobService, err := jobs.NewService(jobStore, queue, cfg.Jobs.MaxRetries)
	if err != nil {
		return err
	}
	defer jobService.Close()

	processorOpts := []jobs.ProcessorOption{jobs.WithMetrics(collector)}
	if dispatcher != nil {
		processorOpts = append(processorOpts, jobs.WithAlerts(dispatcher))
	}
	processor, err := jobs.NewProcessor(jobStore, queue, orch, processorOpts...)
	if err != nil {
		return err
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	var workers sync.WaitGroup
	for i := 0; i < cfg.Jobs.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := queue.Consume(workerCtx, processor.Handler()); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("作业消费者退出", "error", err)
			}
		}()
	}
	defer workers.Wait()

	server := api.NewServer(cfg.Server.Address, store, orch, jobService, collector)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

func createRegistryStore(cfg *config.Config) (registry.Store, error) {
	switch cfg.Registry.Driver {
	case "", "file":
		return registry.NewFileStore(filepath.Dir(cfg.Registry.Path))
	case "mysql":
		return registry.NewMySQLStore(cfg.Registry.DSN)
	default:
		return nil, fmt.Errorf("未知的注册表驱动: %s", cfg.Registry.Driver)
	}
}

func createOracle(cfg *config.Config) (planner.Oracle, error) {
	static := planner.NewStaticOracle(0)
	switch cfg.Planner.Provider {
	case "", "static":
		return static, nil
	case "openai":
		apiKey := strings.TrimSpace(cfg.Planner.OpenAI.APIKey)
		if apiKey == "" && cfg.Planner.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.Planner.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("openai provider 需要配置 api_key 或 api_key_env")
		}
		client, err := openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.Planner.OpenAI.BaseURL,
			Model:   cfg.Planner.OpenAI.Model,
			Timeout: cfg.Planner.OpenAI.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		// 接口失败时退回关键词拆解，保证服务可用。
		return planner.WithFallback(client, static), nil
	default:
		return nil, fmt.Errorf("未知的任务拆解 provider: %s", cfg.Planner.Provider)
	}
}

func createQueue(ctx context.Context, cfg *config.Config) (jobs.Queue, error) {
	switch cfg.Jobs.Queue.Driver {
	case "", "memory":
		return jobs.NewMemoryQueue(cfg.Jobs.Queue.Capacity), nil
	case "redis":
		return jobs.NewRedisQueue(ctx, jobs.RedisQueueConfig{
			Addr:       cfg.Jobs.Queue.Redis.Address,
			Password:   cfg.Jobs.Queue.Redis.Password,
			DB:         cfg.Jobs.Queue.Redis.DB,
			Key:        cfg.Jobs.Queue.Redis.Key,
			PopTimeout: time.Duration(cfg.Jobs.Queue.Redis.PopTimeoutSeconds) * time.Second,
		})
	case "rabbitmq":
		return jobs.NewRabbitMQQueue(jobs.RabbitMQQueueConfig{
			URL:       cfg.Jobs.Queue.RabbitMQ.URL,
			QueueName: cfg.Jobs.Queue.RabbitMQ.QueueName,
			Prefetch:  cfg.Jobs.Queue.RabbitMQ.Prefetch,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Jobs.Queue.Driver)
	}
}

func createDispatcher(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Alerts.DingTalkWebhook != "" {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: &alerting.DingTalkWebhookSender{WebhookURL: cfg.Alerts.DingTalkWebhook},
		})
	}
	if cfg.Alerts.SlackWebhook != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.SlackWebhookSender{WebhookURL: cfg.Alerts.SlackWebhook},
			ChannelID: cfg.Alerts.SlackChannel,
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
