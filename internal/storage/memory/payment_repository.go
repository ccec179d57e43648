package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

type paymentRepositoryInMemory struct {
	store *Store
}

// NewPaymentRepository создаёт in-memory реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepositoryInMemory{store: store}
}

func (r *paymentRepositoryInMemory) Get(_ context.Context, paymentID string) (domain.PaymentRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	payment, ok := r.store.payments[paymentID]
	if !ok {
		return domain.PaymentRecord{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (r *paymentRepositoryInMemory) ExistsForCart(_ context.Context, cartID string) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, payment := range r.store.payments {
		if payment.Component == domain.PaymentComponent && payment.Area == domain.PaymentArea && payment.ItemID == cartID {
			return true, nil
		}
	}
	return false, nil
}

func (r *paymentRepositoryInMemory) Record(ctx context.Context, payment domain.PaymentRecord) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.Component == "" {
		payment.Component = domain.PaymentComponent
	}
	if payment.Area == "" {
		payment.Area = domain.PaymentArea
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.payments[payment.ID]; exists {
		return nil
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = r.store.now()
	}
	remember(ctx, r.store.payments, payment.ID)
	r.store.payments[payment.ID] = payment
	return nil
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
