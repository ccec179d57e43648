package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

const defaultOutboxBatch = 100

type outboxRepository struct {
	store *Store
}

// NewOutboxRepository создаёт outbox поверх outbox_messages.
// Enqueue внутри WithinTx попадает в ту же транзакцию, что и изменение корзины.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{store: store}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Attempts = 0

	_, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload,
		                             status, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $6, $6)`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, time.Now().UTC(),
	)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for cart %s: %w", msg.EventType, msg.AggregateID, err)
	}
	return msg, nil
}

func (r *outboxRepository) PullDue(ctx context.Context, now time.Time, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	rows, err := r.store.conn(ctx).QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, attempt_count
		FROM outbox_messages
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY created_at, id
		LIMIT $2`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("select due outbox messages: %w", err)
	}
	defer rows.Close()

	var due []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload, &msg.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		due = append(due, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox messages: %w", err)
	}
	return due, nil
}

// Stats считает pending-сообщения, включая отложенные до следующей попытки.
func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = 'pending'`,
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox backlog: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.settle(ctx, id, `
		UPDATE outbox_messages SET status = 'sent', updated_at = $2
		WHERE id = $1 AND status = 'pending'`, time.Now().UTC())
}

func (r *outboxRepository) ScheduleRetry(ctx context.Context, id string, next time.Time, cause string) error {
	return r.settle(ctx, id, `
		UPDATE outbox_messages
		SET attempt_count = attempt_count + 1, next_attempt_at = $3, last_error = $4, updated_at = $2
		WHERE id = $1 AND status = 'pending'`, time.Now().UTC(), next.UTC(), cause)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, cause string) error {
	return r.settle(ctx, id, `
		UPDATE outbox_messages
		SET status = 'failed', attempt_count = attempt_count + 1, last_error = $3, updated_at = $2
		WHERE id = $1 AND status = 'pending'`, time.Now().UTC(), cause)
}

// settle выполняет UPDATE одного pending-сообщения; первый аргумент после запроса — id.
func (r *outboxRepository) settle(ctx context.Context, id, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update outbox message %s: %w", id, err)
	}
	return expectAffected(res, domain.ErrOutboxMessageNotFound)
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
