package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

func enqueueCartEvent(ctx context.Context, t *testing.T, repo domain.OutboxRepository, id, cartID string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(ctx, domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateTypeCart,
		AggregateID:   cartID,
		EventType:     domain.EventCartCheckedOut,
		Payload:       []byte(`{"cart_id":"` + cartID + `"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	return msg
}

func TestOutboxRepository_PostgresRetrySchedule(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	first := enqueueCartEvent(ctx, t, repo, "", "cart-1")
	second := enqueueCartEvent(ctx, t, repo, "outbox-fixed", "cart-2")
	require.Equal(t, "outbox-fixed", second.ID)

	now := time.Now().UTC().Add(time.Second)
	due, err := repo.PullDue(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, first.ID, due[0].ID)
	require.JSONEq(t, `{"cart_id":"cart-1"}`, string(due[0].Payload))

	require.NoError(t, repo.ScheduleRetry(ctx, first.ID, now.Add(time.Minute), "broker unavailable"))

	due, err = repo.PullDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, second.ID, due[0].ID)

	due, err = repo.PullDue(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, 1, due[0].Attempts)

	var lastError string
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT last_error FROM outbox_messages WHERE id = $1`, first.ID).Scan(&lastError))
	require.Equal(t, "broker unavailable", lastError)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())
}

func TestOutboxRepository_PostgresTerminalStates(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	sent := enqueueCartEvent(ctx, t, repo, "", "cart-sent")
	failed := enqueueCartEvent(ctx, t, repo, "", "cart-failed")

	require.NoError(t, repo.MarkSent(ctx, sent.ID))
	require.NoError(t, repo.MarkFailed(ctx, failed.ID, "attempts exhausted"))

	due, err := repo.PullDue(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, due)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
	require.True(t, stats.OldestPendingAt.IsZero())

	require.ErrorIs(t, repo.MarkSent(ctx, failed.ID), domain.ErrOutboxMessageNotFound)
	require.ErrorIs(t, repo.ScheduleRetry(ctx, sent.ID, time.Now(), "late"), domain.ErrOutboxMessageNotFound)
	require.ErrorIs(t, repo.MarkFailed(ctx, "missing", "x"), domain.ErrOutboxMessageNotFound)
}

func TestOutboxRepository_PostgresEnqueueJoinsTransaction(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	err := store.WithinTx(ctx, func(ctx context.Context) error {
		enqueueCartEvent(ctx, t, repo, "", "cart-rolled-back")
		return domain.ErrCartVersionConflict
	})
	require.ErrorIs(t, err, domain.ErrCartVersionConflict)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}
