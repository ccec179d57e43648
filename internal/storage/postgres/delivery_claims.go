package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

const claimColumns = `payment_id, cart_id, user_id, status, attempts, expires_at, created_at, updated_at`

type deliveryClaims struct {
	store *Store
}

// NewDeliveryClaimRepository создаёт PostgreSQL-реализацию DeliveryClaimRepository.
func NewDeliveryClaimRepository(store *Store) domain.DeliveryClaimRepository {
	return &deliveryClaims{store: store}
}

// Claim вставляет claim или перезахватывает отклонённый одним upsert'ом:
// условие WHERE в DO UPDATE не даёт тронуть занятый или чужой платёж.
func (r *deliveryClaims) Claim(ctx context.Context, claim domain.DeliveryClaim) (domain.DeliveryClaim, error) {
	paymentID := strings.TrimSpace(claim.PaymentID)
	if paymentID == "" {
		return domain.DeliveryClaim{}, domain.ErrClaimPaymentRequired
	}

	now := time.Now().UTC()
	expiresAt := claim.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(domain.DefaultClaimRetention)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO delivery_claims (`+claimColumns+`)
		VALUES ($1, $2, $3, $4, 1, $5, $6, $6)
		ON CONFLICT (payment_id) DO UPDATE
		SET status = EXCLUDED.status,
		    attempts = delivery_claims.attempts + 1,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
		WHERE delivery_claims.status = $7
		  AND delivery_claims.cart_id = EXCLUDED.cart_id
		  AND delivery_claims.user_id = EXCLUDED.user_id
		RETURNING `+claimColumns,
		paymentID, claim.CartID, claim.UserID, string(domain.ClaimInFlight), expiresAt, now, string(domain.ClaimRejected),
	)
	claimed, err := scanClaim(row)
	if err == nil {
		return claimed, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.DeliveryClaim{}, fmt.Errorf("claim payment %s: %w", paymentID, err)
	}

	// Upsert ничего не вернул: платёж занят, доставлен или выдан другой корзине.
	existing, err := r.Get(ctx, paymentID)
	if err != nil {
		return domain.DeliveryClaim{}, fmt.Errorf("load claim %s: %w", paymentID, err)
	}
	if !existing.Matches(claim.CartID, claim.UserID) {
		return existing, domain.ErrClaimMismatch
	}
	return existing, domain.ErrClaimTaken
}

func (r *deliveryClaims) Get(ctx context.Context, paymentID string) (domain.DeliveryClaim, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	claim, err := scanClaim(r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM delivery_claims WHERE payment_id = $1`,
		strings.TrimSpace(paymentID),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeliveryClaim{}, domain.ErrClaimNotFound
	}
	if err != nil {
		return domain.DeliveryClaim{}, fmt.Errorf("get delivery claim: %w", err)
	}
	return claim, nil
}

func (r *deliveryClaims) Resolve(ctx context.Context, paymentID string, status domain.ClaimStatus) error {
	if !status.Resolved() {
		return fmt.Errorf("resolve delivery claim with status %q", status)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `
		UPDATE delivery_claims
		SET status = $2, updated_at = $3
		WHERE payment_id = $1 AND status = $4
	`, strings.TrimSpace(paymentID), string(status), time.Now().UTC(), string(domain.ClaimInFlight))
	if err != nil {
		return fmt.Errorf("resolve delivery claim: %w", err)
	}
	return expectAffected(res, domain.ErrClaimNotFound)
}

// PurgeExpired удаляет порцию просроченных claim'ов; LIMIT NULL в PostgreSQL снимает ограничение.
func (r *deliveryClaims) PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}
	if limit < 0 {
		limit = 0
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `
		DELETE FROM delivery_claims
		WHERE payment_id IN (
			SELECT payment_id FROM delivery_claims
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT NULLIF($2::int, 0)
		)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("purge delivery claims: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge delivery claims: %w", err)
	}
	return int(purged), nil
}

func scanClaim(row *sql.Row) (domain.DeliveryClaim, error) {
	var (
		claim  domain.DeliveryClaim
		status string
	)
	if err := row.Scan(
		&claim.PaymentID, &claim.CartID, &claim.UserID, &status,
		&claim.Attempts, &claim.ExpiresAt, &claim.CreatedAt, &claim.UpdatedAt,
	); err != nil {
		return domain.DeliveryClaim{}, err
	}
	claim.Status = domain.ClaimStatus(status)
	if !claim.Status.Valid() {
		return domain.DeliveryClaim{}, fmt.Errorf("unknown claim status %q for payment %s", status, claim.PaymentID)
	}
	return claim, nil
}
