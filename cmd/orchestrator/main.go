package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xela07ax/agent-orchestrator/internal/connectors"
	"github.com/xela07ax/agent-orchestrator/internal/console/handler"
	"github.com/xela07ax/agent-orchestrator/internal/console/server"
	"github.com/xela07ax/agent-orchestrator/internal/console/service"
	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/engine"
	"github.com/xela07ax/agent-orchestrator/internal/infra"
	"github.com/xela07ax/agent-orchestrator/internal/infra/auth"
	"github.com/xela07ax/agent-orchestrator/internal/journal"
	"github.com/xela07ax/agent-orchestrator/internal/policy"
	"github.com/xela07ax/agent-orchestrator/internal/repository/postgres"
	"github.com/xela07ax/agent-orchestrator/internal/risk"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("orchestrator failed", zap.Error(err))
	}
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст жизни приложения: SIGINT/SIGTERM отменяет фоновые горутины
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := infra.InitTracer(appCtx, cfg.Tracing, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := engine.NewMetrics(reg)

	opts := engine.Options{Metrics: metrics}
	var operators service.OperatorProvider = service.NewMemoryOperators()

	// 1. Хранилище (опционально): журнал задач, чат, срезы метрик, операторы
	var unfinished []domain.Task
	if cfg.Database.URL != "" {
		repo, err := postgres.NewRepo(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.Ping(appCtx); err != nil {
			return fmt.Errorf("postgres unreachable: %w", err)
		}
		if err := repo.EnsureSchema(appCtx); err != nil {
			return err
		}

		jr := journal.New(repo, logger, journal.Options{
			BufferSize:    cfg.Engine.JournalBufferSize,
			FlushInterval: cfg.Engine.JournalFlushInterval,
		})
		jr.Start()
		defer jr.Stop() // после остановки оркестратора: допишет финальные статусы

		opts.Journal = jr
		opts.Messages = repo
		opts.Snapshots = repo
		opts.History = repo
		operators = repo

		if unfinished, err = repo.LoadUnfinished(appCtx); err != nil {
			return err
		}
	} else {
		logger.Warn("database.url is empty: tasks are kept in memory only")
	}

	// 2. Control Plane: kill-switch и события (Redis опционален)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,

			// Дедлайны контекста (kill-switch, события) ограничивают сетевые операции
			ContextTimeoutEnabled: true,
		})
		defer rdb.Close()
		if err := rdb.Ping(appCtx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		opts.Events = engine.NewRedisEventPublisher(rdb, logger)
	}

	ksm := engine.NewKillSwitchManager(rdb, logger)
	if err := ksm.Init(appCtx); err != nil {
		return err
	}
	go ksm.StartListener(appCtx)
	opts.Gate = ksm
	opts.Health = risk.NewAnalyzer(ksm, cfg.Engine.HealthBlockThreshold, logger)

	// 3. Execution Layer: симуляция по умолчанию, удаленный коннектор для выбранных категорий
	router := connectors.NewRouter(connectors.NewSimulator(cfg.Engine.StepScale, cfg.Engine.FailureRate))
	if cfg.GRPC.BackendAddr != "" {
		conn, err := grpc.NewClient(cfg.GRPC.BackendAddr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to connector: %w", err)
		}
		defer conn.Close()

		remote := engine.NewReliabilityWrapper(connectors.NewGRPCAdapter(conn, cfg.Engine.TaskTimeout), cfg.Engine, metrics, logger)
		router.Route(remote, cfg.Engine.RemoteCategories...)
		logger.Info("remote connector enabled",
			zap.String("addr", cfg.GRPC.BackendAddr),
			zap.Strings("categories", cfg.Engine.RemoteCategories))
	}

	// 4. Core
	orch, err := engine.New(cfg.Engine, cfg.Agents, router, logger, opts)
	if err != nil {
		return err
	}
	ksm.OnChange(func(string, bool) { orch.Wake() })
	orch.Restore(unfinished)
	if err := orch.Start(appCtx); err != nil {
		return err
	}
	defer orch.Stop()

	// 5. Auth
	var validator auth.TokenValidator
	var signer *auth.Signer
	if cfg.Auth.Enabled {
		pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			return err
		}
		validator = auth.NewBaseValidator(pub)
	}
	if len(cfg.Auth.PrivateKey) > 0 {
		priv, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
		if err != nil {
			return err
		}
		signer = auth.NewSigner(priv, cfg.Auth.TokenTTL)
	}

	authSvc := service.NewAuthService(operators, signer, logger)
	if cfg.Auth.Enabled && cfg.Auth.AdminPassword != "" {
		if err := authSvc.EnsureOperator(appCtx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword, map[string]bool{domain.ScopeAdmin: true}); err != nil {
			return err
		}
	}
	enforcer := policy.NewScopeEnforcer(cfg.Auth.Enabled)

	// 6. HTTP API
	api := server.NewConsoleServer(logger, validator,
		handler.NewAuthHandler(authSvc, logger),
		handler.NewTaskHandler(orch, enforcer, logger),
		handler.NewAgentHandler(service.NewAgentService(orch, ksm, logger), enforcer, logger),
	)
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 7. gRPC API
	grpcOpts := []grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}
	if validator != nil {
		grpcOpts = append(grpcOpts, grpc.UnaryInterceptor(engine.UnaryAuthInterceptor(validator, logger)))
	}
	grpcSrv := grpc.NewServer(grpcOpts...)
	engine.RegisterOrchestratorServer(grpcSrv, engine.NewGRPCServer(orch, enforcer, logger))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("failed to listen gRPC: %w", err)
	}

	errCh := make(chan error, 3)
	go func() {
		logger.Info("gRPC server started", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics server started", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics: %w", err)
		}
	}()
	go func() {
		logger.Info("HTTP API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	// 8. Graceful Shutdown
	var runErr error
	select {
	case <-appCtx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("server failed, shutting down", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}
	grpcSrv.GracefulStop()

	logger.Info("orchestrator exited properly")
	return runErr
}
