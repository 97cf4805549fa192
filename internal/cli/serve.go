package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/queueforge/queueforge/internal/broker"
	"github.com/queueforge/queueforge/internal/cache"
	"github.com/queueforge/queueforge/internal/config"
	"github.com/queueforge/queueforge/internal/health"
	"github.com/queueforge/queueforge/internal/memqueue"
	"github.com/queueforge/queueforge/internal/orchestrator"
	"github.com/queueforge/queueforge/internal/postgres"
	"github.com/queueforge/queueforge/internal/processor"
	"github.com/queueforge/queueforge/internal/schedule"
	"github.com/queueforge/queueforge/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the queue orchestrator",
	RunE:  runServe,
}

func init() {
	fs := serveCmd.Flags()
	fs.String("kafka-brokers", "", "comma-separated Kafka broker addresses (empty: in-memory only)")
	fs.String("redis-addr", "", "Redis address for result cache and health scores (empty: in-memory cache)")
	fs.String("postgres-dsn", "", "Postgres DSN for the job archive (empty: archiving disabled)")
	fs.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	fs.String("otel-endpoint", "", "OTLP trace collector endpoint (empty: tracing disabled)")
	fs.Duration("sample-interval", 15*time.Second, "health metrics sampling interval")
	fs.Duration("reload-interval", 30*time.Second, "queue config reload interval")
	fs.Duration("health-check-interval", 30*time.Second, "processor health probe interval")
	fs.Int("fallback-memory-mb", 64, "fallback queue memory limit in MB")
	fs.Int("fallback-max-active", 5, "fallback queue concurrent job limit")

	bindFlag("kafka_brokers", fs, "kafka-brokers")
	bindFlag("redis_addr", fs, "redis-addr")
	bindFlag("postgres_dsn", fs, "postgres-dsn")
	bindFlag("metrics_addr", fs, "metrics-addr")
	bindFlag("otel_endpoint", fs, "otel-endpoint")
	bindFlag("sample_interval", fs, "sample-interval")
	bindFlag("reload_interval", fs, "reload-interval")
	bindFlag("health_check_interval", fs, "health-check-interval")
	bindFlag("fallback_memory_mb", fs, "fallback-memory-mb")
	bindFlag("fallback_max_active", fs, "fallback-max-active")
}

// deferredPoller lets the health engine be built before the orchestrator
// that feeds it queue-depth state.
type deferredPoller struct {
	mu   sync.RWMutex
	orch *orchestrator.Orchestrator
}

func (p *deferredPoller) set(o *orchestrator.Orchestrator) {
	p.mu.Lock()
	p.orch = o
	p.mu.Unlock()
}

func (p *deferredPoller) QueueStates(ctx context.Context) map[string]health.QueueState {
	p.mu.RLock()
	o := p.orch
	p.mu.RUnlock()
	if o == nil {
		return nil
	}
	return o.QueueStates(ctx)
}

func runServe(cmd *cobra.Command, _ []string) error {
	svc := config.LoadService(viper.GetViper())
	logger := buildLogger(svc.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracer(ctx, "queueforge", svc.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer()

	var store cache.Store
	var scheduleOpts schedule.Options
	if svc.RedisAddr != "" {
		client := cache.NewClient(svc.RedisAddr)
		defer client.Close()
		store = cache.NewRedisStore(client)
		scheduleOpts.Redis = client
		logger.Info("result cache: redis", slog.String("addr", svc.RedisAddr))
	} else {
		store = cache.NewMemoryStore()
		logger.Info("result cache: in-memory")
	}

	var brk broker.Broker
	if svc.KafkaBrokers != "" {
		kb := broker.NewKafkaBroker(strings.Split(svc.KafkaBrokers, ","), logger)
		defer kb.Close()
		brk = kb
		logger.Info("broker: kafka", slog.String("brokers", svc.KafkaBrokers))
	} else {
		logger.Warn("no kafka brokers configured, running on the in-memory fallback queue")
	}

	var archive postgres.JobRepository
	if svc.PostgresDSN != "" {
		initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := postgres.NewPool(initCtx, svc.PostgresDSN)
		initCancel()
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		archive = postgres.NewRepository(pool)
		logger.Info("job archive: postgres")
	}

	configs := config.NewRegistry(logger)
	processors := processor.NewRegistry(logger)

	poller := &deferredPoller{}
	engine := health.NewEngine(poller, store, health.EngineOptions{
		SampleInterval: svc.SampleInterval,
		Logger:         logger,
	})

	orch := orchestrator.New(configs, processors, orchestrator.Options{
		Broker:  brk,
		Cache:   store,
		Archive: archive,
		Engine:  engine,
		Logger:  logger,
		FallbackOptions: memqueue.Options{
			MemoryLimitBytes:  int64(svc.FallbackMemoryMB) << 20,
			MaxConcurrentJobs: svc.FallbackMaxActive,
		},
	})
	poller.set(orch)

	queueCfgs, err := config.LoadQueueTypes(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load queue configs: %w", err)
	}
	for _, qc := range queueCfgs {
		if err := orch.CreateQueue(ctx, qc); err != nil {
			return fmt.Errorf("create queue %q: %w", qc.QueueType, err)
		}
	}

	engine.Start(ctx)
	defer engine.Stop()

	go processors.StartHealthLoop(ctx, svc.HealthInterval, 5*time.Second)
	go configs.StartReloadLoop(ctx, func(context.Context) ([]*config.QueueTypeConfig, error) {
		return config.LoadQueueTypes(viper.GetViper())
	}, svc.ReloadInterval)

	scheduleOpts.Logger = logger
	sched := schedule.New(orch, scheduleOpts)
	go sched.Run(ctx)

	telemetry.StartMetricsServer(ctx, svc.MetricsAddr, logger)

	logger.Info("queueforge started",
		slog.Int("queues", len(queueCfgs)),
		slog.String("metrics_addr", svc.MetricsAddr),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		logger.Info("signal received, shutting down", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := orch.Shutdown(drainCtx); err != nil {
		logger.Error("shutdown", slog.String("error", err.Error()))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
