package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

type outboxState string

const (
	outboxPending outboxState = "pending"
	outboxSent    outboxState = "sent"
	outboxFailed  outboxState = "failed"
)

// outboxRecord — строка outbox_messages в памяти.
type outboxRecord struct {
	msg       domain.OutboxMessage
	state     outboxState
	lastError string
	seq       int64
	createdAt time.Time
	nextAt    time.Time
}

// OutboxRepository — outbox поверх общего Store: события откатываются вместе с транзакцией корзины.
type OutboxRepository struct {
	store *Store
}

func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{store: store}
}

// Enqueue ставит событие в очередь; первая попытка доступна сразу.
func (r *OutboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Attempts = 0
	now := s.now()
	remember(ctx, s.outbox, msg.ID)
	s.outbox[msg.ID] = outboxRecord{msg: msg, state: outboxPending, seq: s.nextSeq(), createdAt: now, nextAt: now}
	return msg, nil
}

func (r *OutboxRepository) PullDue(_ context.Context, now time.Time, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var due []domain.OutboxMessage
	for _, rec := range r.pending() {
		if len(due) == limit {
			break
		}
		if !rec.nextAt.After(now) {
			due = append(due, rec.msg)
		}
	}
	return due, nil
}

// Stats считает backlog вместе с сообщениями, ожидающими повтора.
func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	records := r.pending()
	stats := domain.OutboxStats{PendingCount: len(records)}
	for _, rec := range records {
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.update(ctx, id, func(rec *outboxRecord) { rec.state = outboxSent })
}

func (r *OutboxRepository) ScheduleRetry(ctx context.Context, id string, next time.Time, cause string) error {
	return r.update(ctx, id, func(rec *outboxRecord) {
		rec.msg.Attempts++
		rec.nextAt = next
		rec.lastError = cause
	})
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, cause string) error {
	return r.update(ctx, id, func(rec *outboxRecord) {
		rec.msg.Attempts++
		rec.state = outboxFailed
		rec.lastError = cause
	})
}

// AllPending возвращает все pending-сообщения независимо от расписания.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	records := r.pending()
	result := make([]domain.OutboxMessage, 0, len(records))
	for _, rec := range records {
		result = append(result, rec.msg)
	}
	return result
}

// LastError возвращает причину последней неудачной публикации.
func (r *OutboxRepository) LastError(id string) (string, bool) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.outbox[id]
	return rec.lastError, ok
}

// update меняет только pending-сообщение.
func (r *OutboxRepository) update(ctx context.Context, id string, fn func(rec *outboxRecord)) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.outbox[id]
	if !ok || rec.state != outboxPending {
		return domain.ErrOutboxMessageNotFound
	}
	fn(&rec)
	remember(ctx, s.outbox, id)
	s.outbox[id] = rec
	return nil
}

func (r *OutboxRepository) pending() []outboxRecord {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []outboxRecord
	for _, rec := range s.outbox {
		if rec.state == outboxPending {
			result = append(result, rec)
		}
	}
	slices.SortFunc(result, func(a, b outboxRecord) int { return cmp.Compare(a.seq, b.seq) })
	return result
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
