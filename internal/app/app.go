// Package app собирает сервис заказов: хранилище, транспорты и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vladislavdragonenkov/stockoms/api/orderv1"
	healthcheck "github.com/vladislavdragonenkov/stockoms/internal/health"
	"github.com/vladislavdragonenkov/stockoms/internal/metrics"
	"github.com/vladislavdragonenkov/stockoms/internal/service/audit"
	"github.com/vladislavdragonenkov/stockoms/internal/service/catalog"
	grpcsvc "github.com/vladislavdragonenkov/stockoms/internal/service/grpc"
	"github.com/vladislavdragonenkov/stockoms/internal/service/httpapi"
	"github.com/vladislavdragonenkov/stockoms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/stockoms/internal/service/orders"
	"github.com/vladislavdragonenkov/stockoms/internal/service/outbox"
	"github.com/vladislavdragonenkov/stockoms/internal/version"
)

// Run запускает gRPC, REST, метрики и воркеры и блокируется до отмены ctx или ошибки сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	policy, err := cfg.restockPolicy()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	producer, err := initKafkaProducer(cfg.kafkaBrokerList(), cfg.KafkaClientID, logger)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, outbox events go to log")
	}
	defer closeKafka(producer, logger)

	engine := orders.NewEngine(deps.tx,
		orders.WithRestockPolicy(policy),
		orders.WithEngineLogger(logger.WithField("layer", "engine")))
	orderService := orders.NewService(engine, orders.NewQuery(deps.tx), logger.WithField("layer", "orders"), metrics.NewOrderMetrics())
	catalogService := catalog.NewService(deps.products, deps.tx, logger.WithField("layer", "catalog"))
	guard := idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("layer", "idempotency"))

	grpcServer, healthServer := newGRPCServer(grpcsvc.NewOrderService(orderService, guard, logger.WithField("layer", "grpc")), logger)

	restHandler := httpapi.NewHandler(orderService, catalogService, guard, logger.WithField("layer", "http"))
	restServer := &http.Server{
		Handler:           httpapi.NewServer(restHandler, logger.WithField("layer", "http")),
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxChecker(deps.outboxRepo, cfg.OutboxMaxPendingAge))

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	restLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}

	publisher, dlqPublisher := outboxPublishers(cfg, producer, logger)
	outboxWorker := outbox.NewWorker(deps.outboxRepo, publisher,
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithDLQPublisher(dlqPublisher),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay))
	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize))

	g, gctx := errgroup.WithContext(ctx)

	startMetricsServer(gctx, cfg.MetricsAddr, logger, healthHandler)

	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("REST API слушает %s", restLis.Addr())
		if err := restServer.Serve(restLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		outboxWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		cleanupWorker.Run(gctx)
		return nil
	})
	if cfg.AuditSchedule != "" {
		auditor := audit.NewAuditor(deps.tx,
			audit.WithSchedule(cfg.AuditSchedule),
			audit.WithLogger(logger.WithField("layer", "audit")),
			audit.WithMetrics(metrics.NewAuditMetricsWithRegisterer(prometheus.DefaultRegisterer)))
		g.Go(func() error {
			return auditor.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
		shutdownHTTP(restServer, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// newGRPCServer регистрирует OrderService, Prometheus-интерсепторы и стандартный health-сервис.
func newGRPCServer(orderService orderv1.OrderServiceServer, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	orderv1.RegisterOrderServiceServer(grpcServer, orderService)
	grpcMetrics.InitializeMetrics(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(orderv1.OrderService_ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return grpcServer, healthServer
}

// stopGRPC ждёт завершения активных вызовов не дольше timeout.
func stopGRPC(srv *grpc.Server, timeout time.Duration, logger *log.Entry) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// startMetricsServer запускает /metrics, /healthz, /livez и /readyz.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
