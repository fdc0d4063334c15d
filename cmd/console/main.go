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
	"go.uber.org/zap"

	"github.com/xela07ax/po-approvals/internal/approval"
	"github.com/xela07ax/po-approvals/internal/approval/memledger"
	"github.com/xela07ax/po-approvals/internal/audit"
	"github.com/xela07ax/po-approvals/internal/cache"
	"github.com/xela07ax/po-approvals/internal/console/handler"
	"github.com/xela07ax/po-approvals/internal/console/server"
	"github.com/xela07ax/po-approvals/internal/console/service"
	"github.com/xela07ax/po-approvals/internal/events"
	"github.com/xela07ax/po-approvals/internal/infra"
	"github.com/xela07ax/po-approvals/internal/infra/auth"
	"github.com/xela07ax/po-approvals/internal/notify"
	"github.com/xela07ax/po-approvals/internal/repository/postgres"
	"github.com/xela07ax/po-approvals/internal/roster"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("po-approvals stopped with error", zap.Error(err))
	}
	logger.Info("po-approvals exited properly")
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст жизни фоновых горутин: SIGTERM отменит слушателей
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Инфраструктура и ресурсы
	db, err := postgres.Open(appCtx, cfg.Database)
	if err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pctx, cancel := context.WithTimeout(appCtx, 5*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}
	} else {
		logger.Warn("redis is disabled: no snapshot cache, email queue or cross-instance events")
	}

	orders := postgres.NewOrderRepo(db)
	users := postgres.NewUserRepo(db)

	var ledger approval.Ledger = postgres.NewLedgerRepo(db)
	if cfg.Approvals.Ledger == infra.LedgerMemory {
		logger.Warn("approval ledger is in memory, records will be lost on restart")
		ledger = memledger.New()
	}

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := approval.NewMetrics(reg)

	// 2. Control Plane: состав senior-согласующих
	seniors := roster.NewSeniorRoster(rdb, users, cfg.Approvals.SeniorApprovers, logger)
	if err := seniors.Init(appCtx); err != nil {
		return fmt.Errorf("failed to init senior roster: %w", err)
	}
	go seniors.StartListener(appCtx)
	logger.Info("senior roster loaded", zap.Int("size", seniors.Size()))

	// Аудит пишется в Postgres пачками
	trail := audit.NewTrail(postgres.NewAuditRepo(db), audit.Options{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
	}, metrics.AuditBufferFill, logger)
	trail.Start()
	defer trail.Stop()

	// Шина событий: Redis между инстансами, иначе локальный hub
	hub := events.NewHub(logger)
	var publisher approval.EventPublisher = hub
	if rdb != nil {
		publisher = events.NewRedisPublisher(rdb, infra.RedisChanApprovalEvents)
		go hub.Run(appCtx, rdb, infra.RedisChanApprovalEvents)
	}

	// 3. Уведомления
	var teams notify.Sender
	if cfg.Approvals.TeamsWebhookURL != "" {
		teams = notify.NewReliabilityWrapper(
			notify.NewTeamsWebhook(cfg.Approvals.TeamsWebhookURL, nil),
			notify.ReliabilitySettings{
				Name:          "teams-webhook",
				RPS:           cfg.Approvals.WebhookRPS,
				CBMaxRequests: cfg.Approvals.CBMaxRequests,
				CBInterval:    cfg.Approvals.CBInterval,
				CBTimeout:     cfg.Approvals.CBTimeout,
			},
			metrics.CircuitBreakerState.WithLabelValues("teams"),
		)
	}
	var emails notify.EmailSink
	if rdb != nil {
		emails = notify.NewEmailQueue(rdb, infra.RedisKeyEmailQueue)
	}
	dispatcher := notify.NewDispatcher(users, emails, teams, notify.Settings{
		SendEmail: cfg.Approvals.SendEmail,
		BaseURL:   cfg.Approvals.BaseURL,
	}, metrics.NotificationFailures, logger)

	// 4. Ядро согласований
	resolver := approval.NewPolicyResolver(cfg.Approvals.Threshold())
	checker := approval.NewEligibilityChecker(seniors)

	coordOpts := []approval.Option{
		approval.WithNotifier(dispatcher),
		approval.WithEvents(publisher),
		approval.WithAuditor(trail),
		approval.WithMetrics(metrics),
		approval.WithSettings(approval.Settings{
			Enabled:       cfg.Approvals.Enabled,
			WriteTimeout:  cfg.Approvals.WriteTimeout,
			NotifyTimeout: cfg.Approvals.NotifyTimeout,
		}),
	}
	projOpts := []approval.ProjectorOption{
		approval.WithProjectorMetrics(metrics),
		approval.WithBaseURL(cfg.Approvals.BaseURL),
	}
	if rdb != nil && cfg.Approvals.StatusCacheTTL > 0 {
		snapshots := cache.NewSnapshotCache(rdb, cfg.Approvals.StatusCacheTTL, logger)
		coordOpts = append(coordOpts, approval.WithCache(snapshots))
		projOpts = append(projOpts, approval.WithProjectorCache(snapshots))
	}

	coordinator := approval.NewCoordinator(orders, ledger, users, resolver, checker, logger, coordOpts...)
	projector := approval.NewProjector(orders, ledger, users, seniors, resolver, checker, logger, projOpts...)

	// 5. Аутентификация (RS256)
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		return err
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		return err
	}
	authService := service.NewAuthService(users, privKey, cfg.Auth.TokenTTL)

	// 6. HTTP API
	probes := map[string]infra.HealthProbe{"postgres": db.PingContext}
	if rdb != nil {
		probes["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	httpProbes := make(map[string]server.HealthCheck, len(probes))
	for name, p := range probes {
		httpProbes[name] = server.HealthCheck(p)
	}

	api := server.NewConsoleServer(server.Deps{
		Prefix:    cfg.Approvals.URLPrefix,
		Validator: auth.NewRS256Validator(pubKey),
		Users:     users,
		Auth:      handler.NewAuthHandler(authService, logger),
		Approvals: handler.NewApprovalHandler(coordinator, projector, logger),
		Stream:    hub.StreamHandler(),
		Health:    httpProbes,
	}, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Экспортируем метрики для Prometheus
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// gRPC health для оркестратора
	healthSrv := infra.NewHealthServer(probes, 10*time.Second, logger)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("failed to listen gRPC: %w", err)
	}
	go healthSrv.Watch(appCtx)

	errCh := make(chan error, 3)
	go func() {
		logger.Info("gRPC health server started", zap.String("addr", lis.Addr().String()))
		errCh <- healthSrv.Serve(lis)
	}()
	go func() {
		logger.Info("metrics server started", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	go func() {
		logger.Info("approvals API started", zap.String("addr", srv.Addr), zap.String("prefix", cfg.Approvals.URLPrefix))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// 7. Graceful Shutdown
	var runErr error
	select {
	case <-appCtx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("server failed, shutting down", zap.Error(runErr))
	}

	// Даем 5 секунд на завершение запросов
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}
	healthSrv.Stop()
	return runErr
}
