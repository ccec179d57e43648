package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/enrolcart/internal/health"
	"github.com/vladislavdragonenkov/enrolcart/internal/storage/memory"
	"github.com/vladislavdragonenkov/enrolcart/internal/storage/postgres"
)

// EnrollmentRegistry — реестр записей на курсы: и выдаёт доступ, и проверяет его.
type EnrollmentRegistry interface {
	domain.EnrollmentGrantor
	domain.EnrollmentChecker
}

// Dependencies содержит хранилища, которыми пользуются сервисы корзин.
type Dependencies struct {
	Carts       domain.CartRepository
	Catalog     domain.OfferingCatalog
	Enrollments EnrollmentRegistry
	Payments    domain.PaymentRepository
	Outbox      domain.OutboxRepository
	Claims      domain.DeliveryClaimRepository
	Tx          domain.Transactor
	Logger      *log.Entry

	storageChecker healthcheck.Checker
	closeFn        func() error
}

// NewDependencies создаёт зависимости поверх одного in-memory хранилища.
func NewDependencies(logger *log.Entry) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	store := memory.NewStore()
	return &Dependencies{
		Carts:       memory.NewCartRepository(store),
		Catalog:     memory.NewOfferingCatalog(store),
		Enrollments: memory.NewEnrollmentRegistry(store),
		Payments:    memory.NewPaymentRepository(store),
		Outbox:      memory.NewOutboxRepository(store),
		Claims:      memory.NewDeliveryClaimRepository(store),
		Tx:          store,
		Logger:      logger,

		storageChecker: healthcheck.Probe("memory", 0, func(context.Context) error { return nil }),
	}
}

// initRuntimeDependencies выбирает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.Info("using in-memory storage")
		return NewDependencies(logger), nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires CART_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithPool(postgres.PoolConfig{
			MaxOpenConns:    cfg.PostgresMaxOpenConns,
			MaxIdleConns:    cfg.PostgresMaxIdleConns,
			ConnMaxLifetime: cfg.PostgresConnMaxLifetime,
		}))
		if err != nil {
			return nil, err
		}
		registerCollector(store.StatsCollector("enrolcart"), logger)
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}

		catalog := postgres.NewOfferingCatalog(store)
		logger.Info("using postgres storage")
		return &Dependencies{
			Carts:          postgres.NewCartRepository(store),
			Catalog:        catalog,
			Enrollments:    postgres.NewEnrollmentRegistry(store, catalog),
			Payments:       postgres.NewPaymentRepository(store),
			Outbox:         postgres.NewOutboxRepository(store),
			Claims:         postgres.NewDeliveryClaimRepository(store),
			Tx:             store,
			Logger:         logger,
			storageChecker: healthcheck.Probe("postgres", 0, store.Ping),
			closeFn:        store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// registerCollector регистрирует c в глобальном реестре; повторная регистрация не ошибка.
func registerCollector(c prometheus.Collector, logger *log.Entry) {
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			logger.WithError(err).Warn("failed to register collector")
		}
	}
}

// Close освобождает подключение к хранилищу, если оно есть.
func (d *Dependencies) Close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}
