// Package app собирает сервис корзин: хранилище, купонную систему, сервисы
// корзины и оплаты, фоновые worker'ы и серверы gRPC/HTTP.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/enrolcart/internal/health"
	"github.com/vladislavdragonenkov/enrolcart/internal/metrics"
	"github.com/vladislavdragonenkov/enrolcart/internal/service/cart"
	"github.com/vladislavdragonenkov/enrolcart/internal/service/checkout"
	"github.com/vladislavdragonenkov/enrolcart/internal/service/claims"
	"github.com/vladislavdragonenkov/enrolcart/internal/service/outbox"
	"github.com/vladislavdragonenkov/enrolcart/internal/service/reaper"
	"github.com/vladislavdragonenkov/enrolcart/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Services — собранные сервисы корзины; доступны встраивающему коду и тестам.
type Services struct {
	Carts     *cart.Service
	Flow      *checkout.Flow
	Authority *checkout.Authority
	Reaper    *reaper.Reaper
}

// NewServices создаёт сервисы корзины поверх deps.
func NewServices(cfg Config, deps *Dependencies, coupons domain.CouponGateway, cartMetrics *metrics.CartMetrics) *Services {
	logger := deps.Logger

	carts := cart.NewService(cart.Dependencies{
		Carts:       deps.Carts,
		Catalog:     deps.Catalog,
		Enrollments: deps.Enrollments,
		Grantor:     deps.Enrollments,
		Coupons:     coupons,
		Outbox:      deps.Outbox,
		Tx:          deps.Tx,
	}, cart.Settings{
		PaymentCompletionTime: cfg.PaymentCompletionTime,
		PaymentCurrency:       cfg.PaymentCurrency,
		DefaultRoleID:         cfg.DefaultRole,
		DefaultEnrolPeriod:    cfg.DefaultEnrolPeriod,
		ConvertIRRToIRT:       cfg.ConvertIRRToIRT,
	}, cart.WithLogger(logger.WithField("component", "cart")), cart.WithMetrics(cartMetrics))

	authority := checkout.NewAuthority(carts, deps.Payments, deps.Claims, checkout.AuthorityConfig{
		CartViewURL:             cfg.CartViewURL,
		PaymentAccountID:        cfg.PaymentAccount,
		VerifyPaymentOnDelivery: cfg.VerifyPayment,
		ClaimTTL:                cfg.DeliveryClaimTTL,
	}, logger.WithField("component", "payment-authority"))

	cartReaper := reaper.New(reaper.Dependencies{
		Carts:    deps.Carts,
		Payments: deps.Payments,
		Coupons:  coupons,
		Outbox:   deps.Outbox,
		Tx:       deps.Tx,
	}, reaper.Config{
		CanceledCartLifetime:       cfg.CanceledCartLifetime,
		PendingPaymentCartLifetime: cfg.PendingPaymentCartLifetime,
		PreserveCartsWithPayment:   cfg.PreserveCartsWithPayment,
	},
		reaper.WithLogger(logger.WithField("component", "cart-reaper")),
		reaper.WithInterval(cfg.ReaperInterval),
		reaper.WithBatchSize(cfg.ReaperBatchSize),
		reaper.WithMetrics(cartMetrics),
	)

	return &Services{
		Carts:     carts,
		Flow:      checkout.NewFlow(logger.WithField("component", "checkout")),
		Authority: authority,
		Reaper:    cartReaper,
	}
}

// Run запускает сервис и блокируется до отмены ctx или ошибки gRPC сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	coupons, err := newCouponGateway(cfg, logger)
	if err != nil {
		return err
	}
	cartMetrics := metrics.NewCartMetrics()
	services := NewServices(cfg, deps, coupons, cartMetrics)

	kafkaProducer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		kafkaProducer = nil
	}
	defer closeKafka(kafkaProducer, logger)

	workersCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	startWorker := func(run func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			run(workersCtx)
		}()
	}

	publisher, dlqPublisher := outboxPublishers(cfg, kafkaProducer, logger)
	outboxOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if dlqPublisher != nil {
		outboxOpts = append(outboxOpts, outbox.WithDLQPublisher(dlqPublisher))
	}
	startWorker(outbox.NewWorker(deps.Outbox, publisher, outboxOpts...).Run)
	startWorker(claims.NewPurger(deps.Claims,
		claims.WithLogger(logger.WithField("component", "delivery-claims-purger")),
		claims.WithMetrics(cartMetrics),
		claims.WithInterval(cfg.ClaimPurgeInterval),
		claims.WithBatchSize(cfg.ClaimPurgeBatchSize),
	).Run)
	if services.Reaper.Enabled() {
		startWorker(services.Reaper.Run)
	}
	defer shutdownWorkers(stopWorkers, &workers, logger)

	consumer, err := startPaymentConsumer(cfg, services.Authority, deps.Payments, kafkaProducer, logger)
	if err != nil {
		logger.WithError(err).Warn("failed to create payment consumer, deliveries must be confirmed directly")
	} else if consumer != nil {
		if err := consumer.Start(workersCtx); err != nil {
			return err
		}
		defer stopConsumer(consumer, logger)
	}

	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	healthHandler := newHealthHandler(cfg, deps)
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", lis.Addr().String()).Info("gRPC server listening")
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping gRPC server")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stoppedCh := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stoppedCh)
		}()
		select {
		case <-stoppedCh:
		case <-time.After(shutdownTimeout):
			logger.Warn("graceful stop timed out, forcing gRPC server stop")
			grpcServer.Stop()
		}
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newHealthHandler регистрирует проверки хранилища и backlog outbox.
func newHealthHandler(cfg Config, deps *Dependencies) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.Current().Version)
	if deps.storageChecker != nil {
		handler.Register("storage", deps.storageChecker)
	}
	handler.Register("outbox", healthcheck.NewBacklogChecker("outbox", cfg.OutboxMaxPending, cfg.OutboxMaxAge,
		func(ctx context.Context) (int, time.Time, error) {
			stats, err := deps.Outbox.Stats(ctx)
			return stats.PendingCount, stats.OldestPendingAt, err
		}))
	return handler
}

// shutdownWorkers отменяет контекст фоновых worker'ов и ждёт их завершения.
func shutdownWorkers(cancel context.CancelFunc, workers *sync.WaitGroup, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if workers == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("background workers did not stop in time")
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus и health probe'ы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.Live)
	mux.HandleFunc("/readyz", healthHandler.Ready)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: shutdownTimeout}
	go func() {
		logger.WithField("addr", addr).Info("metrics and health probes are served over HTTP")
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
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
