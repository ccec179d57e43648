package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

type txKey struct{}

// Store — общее in-memory хранилище всех таблиц сервиса для локальной разработки и тестов.
// Транзакции ведут журнал отката изменённых ключей.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	carts       map[string]domain.Cart
	items       map[string]itemRecord
	offerings   map[string]domain.OfferingInstance
	enrollments map[string]domain.Enrollment
	payments    map[string]domain.PaymentRecord
	outbox      map[string]outboxRecord
	claims      map[string]domain.DeliveryClaim
	seq         int64

	now func() time.Time
}

// itemRecord хранит позицию вместе с порядковым номером добавления.
type itemRecord struct {
	item domain.LineItem
	seq  int64
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		carts:       make(map[string]domain.Cart),
		items:       make(map[string]itemRecord),
		offerings:   make(map[string]domain.OfferingInstance),
		enrollments: make(map[string]domain.Enrollment),
		payments:    make(map[string]domain.PaymentRecord),
		outbox:      make(map[string]outboxRecord),
		claims:      make(map[string]domain.DeliveryClaim),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock подменяет источник времени для служебных полей (created_at, expires_at и т.п.).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// WithinTx выполняет fn атомарно относительно других транзакций хранилища.
// Вложенный вызов присоединяется к уже открытой транзакции. При ошибке откатываются
// только ключи, записанные внутри fn; записи вне транзакции сохраняются.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if undoLog(ctx) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	undo := &txUndo{}
	if err := fn(context.WithValue(ctx, txKey{}, undo)); err != nil {
		s.rollback(undo)
		return err
	}
	return nil
}

// txUndo — журнал отката транзакции: шаги восстанавливают прежние значения ключей.
type txUndo struct {
	steps []func()
}

func undoLog(ctx context.Context) *txUndo {
	undo, _ := ctx.Value(txKey{}).(*txUndo)
	return undo
}

// remember сохраняет в журнал транзакции ctx текущее значение m[key] перед записью.
// Вызывается под s.mu; вне транзакции ничего не делает.
func remember[V any](ctx context.Context, m map[string]V, key string) {
	undo := undoLog(ctx)
	if undo == nil {
		return
	}
	prev, existed := m[key]
	undo.steps = append(undo.steps, func() {
		if existed {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
}

func (s *Store) rollback(undo *txUndo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(undo.steps) - 1; i >= 0; i-- {
		undo.steps[i]()
	}
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

var _ domain.Transactor = (*Store)(nil)
