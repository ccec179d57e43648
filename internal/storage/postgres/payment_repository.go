package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

type paymentRepository struct {
	store *Store
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{store: store}
}

func (r *paymentRepository) Get(ctx context.Context, paymentID string) (domain.PaymentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var payment domain.PaymentRecord
	err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT id, component, payment_area, item_id, user_id, amount, currency, account_id, gateway, created_at
		FROM payments
		WHERE id = $1
	`, paymentID).Scan(
		&payment.ID, &payment.Component, &payment.Area, &payment.ItemID, &payment.UserID,
		&payment.Amount, &payment.Currency, &payment.AccountID, &payment.Gateway, &payment.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentRecord{}, domain.ErrPaymentNotFound
		}
		return domain.PaymentRecord{}, fmt.Errorf("select payment: %w", err)
	}
	return payment, nil
}

func (r *paymentRepository) ExistsForCart(ctx context.Context, cartID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payments
			WHERE component = $1 AND payment_area = $2 AND item_id = $3
		)
	`, domain.PaymentComponent, domain.PaymentArea, cartID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check payment exists: %w", err)
	}
	return exists, nil
}

func (r *paymentRepository) Record(ctx context.Context, payment domain.PaymentRecord) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.Component == "" {
		payment.Component = domain.PaymentComponent
	}
	if payment.Area == "" {
		payment.Area = domain.PaymentArea
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	_, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO payments (id, component, payment_area, item_id, user_id, amount, currency, account_id, gateway, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING
	`,
		payment.ID, payment.Component, payment.Area, payment.ItemID, payment.UserID,
		payment.Amount, payment.Currency, payment.AccountID, payment.Gateway, payment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
