package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

type deliveryClaimsInMemory struct {
	store *Store
}

// NewDeliveryClaimRepository создаёт in-memory реализацию DeliveryClaimRepository.
func NewDeliveryClaimRepository(store *Store) domain.DeliveryClaimRepository {
	return &deliveryClaimsInMemory{store: store}
}

func (r *deliveryClaimsInMemory) Claim(ctx context.Context, claim domain.DeliveryClaim) (domain.DeliveryClaim, error) {
	claim.PaymentID = strings.TrimSpace(claim.PaymentID)
	if claim.PaymentID == "" {
		return domain.DeliveryClaim{}, domain.ErrClaimPaymentRequired
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if claim.ExpiresAt.IsZero() {
		claim.ExpiresAt = now.Add(domain.DefaultClaimRetention)
	}

	existing, ok := s.claims[claim.PaymentID]
	switch {
	case !ok:
		claim.CreatedAt = now
		claim.Attempts = 0
	case !existing.Matches(claim.CartID, claim.UserID):
		return existing, domain.ErrClaimMismatch
	case existing.Status != domain.ClaimRejected:
		return existing, domain.ErrClaimTaken
	default:
		claim.CreatedAt = existing.CreatedAt
		claim.Attempts = existing.Attempts
	}

	claim.Status = domain.ClaimInFlight
	claim.Attempts++
	claim.UpdatedAt = now
	remember(ctx, s.claims, claim.PaymentID)
	s.claims[claim.PaymentID] = claim
	return claim, nil
}

func (r *deliveryClaimsInMemory) Get(_ context.Context, paymentID string) (domain.DeliveryClaim, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	claim, ok := r.store.claims[strings.TrimSpace(paymentID)]
	if !ok {
		return domain.DeliveryClaim{}, domain.ErrClaimNotFound
	}
	return claim, nil
}

func (r *deliveryClaimsInMemory) Resolve(ctx context.Context, paymentID string, status domain.ClaimStatus) error {
	if !status.Resolved() {
		return fmt.Errorf("resolve delivery claim with status %q", status)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[strings.TrimSpace(paymentID)]
	if !ok || claim.Status != domain.ClaimInFlight {
		return domain.ErrClaimNotFound
	}
	claim.Status = status
	claim.UpdatedAt = s.now()
	remember(ctx, s.claims, claim.PaymentID)
	s.claims[claim.PaymentID] = claim
	return nil
}

func (r *deliveryClaimsInMemory) PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if before.IsZero() {
		before = s.now()
	}

	purged := 0
	for paymentID, claim := range s.claims {
		if limit > 0 && purged == limit {
			break
		}
		if claim.ExpiresAt.After(before) {
			continue
		}
		remember(ctx, s.claims, paymentID)
		delete(s.claims, paymentID)
		purged++
	}
	return purged, nil
}
