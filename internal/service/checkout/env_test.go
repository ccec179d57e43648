package checkout

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
	"github.com/vladislavdragonenkov/enrolcart/internal/service/cart"
	"github.com/vladislavdragonenkov/enrolcart/internal/service/coupon"
	"github.com/vladislavdragonenkov/enrolcart/internal/storage/memory"
)

type env struct {
	store    *memory.Store
	carts    domain.CartRepository
	catalog  *memory.OfferingCatalog
	registry *memory.EnrollmentRegistry
	payments domain.PaymentRepository
	claims   domain.DeliveryClaimRepository
	coupons  *coupon.Static
	svc      *cart.Service
	flow     *Flow
	now      time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store := memory.NewStore()
	e := &env{
		store:    store,
		carts:    memory.NewCartRepository(store),
		catalog:  memory.NewOfferingCatalog(store),
		registry: memory.NewEnrollmentRegistry(store),
		payments: memory.NewPaymentRepository(store),
		claims:   memory.NewDeliveryClaimRepository(store),
		coupons: coupon.NewStatic(
			coupon.Definition{ID: "c-spring", Code: "SPRING", Type: domain.DiscountFixed, Amount: "200"},
			coupon.Definition{ID: "c-autumn", Code: "AUTUMN", Type: domain.DiscountFixed, Amount: "100"},
			coupon.Definition{ID: "c-ten", Code: "TENPCT", Type: domain.DiscountPercentage, Amount: "10"},
			coupon.Definition{ID: "c-free", Code: "FREE", Type: domain.DiscountPercentage, Amount: "100"},
		),
		now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	store.SetClock(e.clock)

	e.catalog.Put(offering("inst-a", "course-a", 1000, domain.DiscountPercentage, "10"))
	e.catalog.Put(offering("inst-b", "course-b", 500, domain.DiscountNone, ""))
	e.catalog.Put(offering("inst-free", "course-free", 0, domain.DiscountNone, ""))

	e.svc = cart.NewService(cart.Dependencies{
		Carts:       e.carts,
		Catalog:     e.catalog,
		Enrollments: e.registry,
		Grantor:     e.registry,
		Coupons:     e.coupons,
		Outbox:      memory.NewOutboxRepository(store),
		Tx:          store,
	}, cart.Settings{PaymentCurrency: "IRR"}, cart.WithClock(e.clock), cart.WithLogger(quietLogger()))
	e.flow = NewFlow(quietLogger())
	return e
}

func (e *env) clock() time.Time { return e.now }

func (e *env) cartWith(t *testing.T, ctx context.Context, userID string, instances ...string) *cart.StoredCart {
	t.Helper()
	c, err := e.svc.NewSession(userID).FindCurrent(ctx, true)
	if err != nil {
		t.Fatalf("find current: %v", err)
	}
	for _, id := range instances {
		if !c.AddItem(ctx, id) {
			t.Fatalf("add %s failed", id)
		}
	}
	return c
}

func (e *env) reload(t *testing.T, ctx context.Context, userID, cartID string) *cart.StoredCart {
	t.Helper()
	c, err := e.svc.NewSession(userID).FindOne(ctx, cartID)
	if err != nil {
		t.Fatalf("find one: %v", err)
	}
	return c
}

func offering(id, courseID string, cost int64, discountType domain.DiscountType, amount string) domain.OfferingInstance {
	return domain.OfferingInstance{
		ID:             id,
		CourseID:       courseID,
		Enabled:        true,
		Cost:           decimal.NewFromInt(cost),
		DiscountType:   discountType,
		DiscountAmount: amount,
	}
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "checkout-test")
}

func requireAmount(t *testing.T, want int64, got decimal.Decimal, what string) {
	t.Helper()
	if !got.Equal(decimal.NewFromInt(want)) {
		t.Fatalf("%s: expected %d, got %s", what, want, got)
	}
}
