package app

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/enrolcart/internal/health"
)

func TestInitRuntimeDependencies_Drivers(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "default driver is memory", cfg: Config{}},
		{name: "memory", cfg: Config{StorageDriver: StorageDriverMemory}},
		{name: "postgres without dsn", cfg: Config{StorageDriver: StorageDriverPostgres}, wantErr: "CART_POSTGRES_DSN"},
		{name: "unknown driver", cfg: Config{StorageDriver: "sqlite"}, wantErr: "unsupported storage driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, err := initRuntimeDependencies(context.Background(), tt.cfg, log.WithField("test", tt.name))
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, deps.Carts)
			require.NotNil(t, deps.Catalog)
			require.NotNil(t, deps.Enrollments)
			require.NotNil(t, deps.Payments)
			require.NotNil(t, deps.Outbox)
			require.NotNil(t, deps.Claims)
			require.NotNil(t, deps.Tx)
			require.Equal(t, healthcheck.StatusHealthy, deps.storageChecker.Check(context.Background()).Status)
			require.NoError(t, deps.Close())
		})
	}
}

func TestNewDependencies_DefaultLogger(t *testing.T) {
	require.NotNil(t, NewDependencies(nil).Logger)

	logger := log.WithField("test", "deps")
	require.Same(t, logger, NewDependencies(logger).Logger)
}

func TestNewDependencies_RepositoriesShareTransactions(t *testing.T) {
	ctx := context.Background()
	deps := NewDependencies(nil)
	other := NewDependencies(nil)

	rollback := errors.New("rollback")
	err := deps.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := deps.Outbox.Enqueue(ctx, newTestEvent()); err != nil {
			return err
		}
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	stats, err := deps.Outbox.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount, "outbox must roll back with the transaction")

	_, err = deps.Outbox.Enqueue(ctx, newTestEvent())
	require.NoError(t, err)
	stats, err = other.Outbox.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount, "separate dependencies must not share a store")
}

func TestRegisterCollector_Twice(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "enrolcart_test_register_twice_total", Help: "test"})

	registerCollector(counter, logger.WithField("test", "collector"))
	registerCollector(counter, logger.WithField("test", "collector"))
	require.Empty(t, hook.AllEntries(), "repeated registration is not a warning")
	require.True(t, prometheus.Unregister(counter))

	// То же имя с другим набором меток не регистрируется.
	labeled := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "enrolcart_test_register_conflict_total", Help: "test"}, []string{"result"})
	require.NoError(t, prometheus.Register(labeled))
	t.Cleanup(func() { prometheus.Unregister(labeled) })

	conflicting := prometheus.NewCounter(prometheus.CounterOpts{Name: "enrolcart_test_register_conflict_total", Help: "test"})
	registerCollector(conflicting, logger.WithField("test", "collector"))
	require.Len(t, hook.AllEntries(), 1)
	require.Equal(t, log.WarnLevel, hook.LastEntry().Level)
}
