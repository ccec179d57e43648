package cart

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
	"github.com/vladislavdragonenkov/enrolcart/internal/storage/memory"
)

type fixture struct {
	store    *memory.Store
	carts    domain.CartRepository
	catalog  *memory.OfferingCatalog
	registry *memory.EnrollmentRegistry
	outbox   *memory.OutboxRepository
	coupons  *stubCoupons
	svc      *Service
	now      time.Time
}

func newFixture(t *testing.T, withCoupons bool) *fixture {
	t.Helper()

	store := memory.NewStore()
	f := &fixture{
		store:    store,
		carts:    memory.NewCartRepository(store),
		catalog:  memory.NewOfferingCatalog(store),
		registry: memory.NewEnrollmentRegistry(store),
		outbox:   memory.NewOutboxRepository(store),
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	store.SetClock(f.clock)
	if withCoupons {
		f.coupons = newStubCoupons()
	}

	f.catalog.Put(offering("inst-a", "course-a", 1000, domain.DiscountPercentage, "10"))
	f.catalog.Put(offering("inst-b", "course-b", 500, domain.DiscountNone, ""))
	f.catalog.Put(offering("inst-c", "course-c", 300, domain.DiscountNone, ""))
	f.catalog.Put(offering("inst-free", "course-free", 0, domain.DiscountNone, ""))
	disabled := offering("inst-off", "course-off", 700, domain.DiscountNone, "")
	disabled.Enabled = false
	f.catalog.Put(disabled)

	f.rebuild(f.deps())
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) deps() Dependencies {
	deps := Dependencies{
		Carts:       f.carts,
		Catalog:     f.catalog,
		Enrollments: f.registry,
		Grantor:     f.registry,
		Outbox:      f.outbox,
		Tx:          f.store,
	}
	if f.coupons != nil {
		deps.Coupons = f.coupons
	}
	return deps
}

func (f *fixture) rebuild(deps Dependencies) {
	f.svc = NewService(deps, Settings{PaymentCurrency: "IRR"}, WithClock(f.clock), WithLogger(quietLogger()))
}

func (f *fixture) currentCart(t *testing.T, ctx context.Context, userID string, instances ...string) *StoredCart {
	t.Helper()
	c, err := f.svc.NewSession(userID).FindCurrent(ctx, true)
	if err != nil {
		t.Fatalf("find current cart: %v", err)
	}
	for _, id := range instances {
		if !c.AddItem(ctx, id) {
			t.Fatalf("add item %s failed", id)
		}
	}
	return c
}

func (f *fixture) eventTypes() []string {
	var types []string
	for _, msg := range f.outbox.AllPending() {
		types = append(types, msg.EventType)
	}
	return types
}

func offering(id, courseID string, cost int64, discountType domain.DiscountType, amount string) domain.OfferingInstance {
	return domain.OfferingInstance{
		ID:             id,
		CourseID:       courseID,
		Name:           id,
		Enabled:        true,
		Cost:           decimal.NewFromInt(cost),
		DiscountType:   discountType,
		DiscountAmount: amount,
		Currency:       "IRR",
	}
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "cart-test")
}

func requireAmount(t *testing.T, want int64, got decimal.Decimal, what string) {
	t.Helper()
	if !got.Equal(decimal.NewFromInt(want)) {
		t.Fatalf("%s: expected %d, got %s", what, want, got)
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// stubCoupons — управляемая купонная система для тестов.
type stubCoupons struct {
	codes        map[string]string
	discount     decimal.Decimal
	rejectCheck  bool
	rejectCancel bool
	applyErr     error
	cancelErr    error

	applied  int
	canceled int
}

func newStubCoupons() *stubCoupons {
	return &stubCoupons{
		codes:    map[string]string{"SPRING": "coupon-1"},
		discount: decimal.NewFromInt(200),
	}
}

func (s *stubCoupons) ResolveCouponID(_ context.Context, code string) (string, error) {
	return s.codes[code], nil
}

func (s *stubCoupons) Validate(_ context.Context, _ domain.CartSnapshot, couponID string) (domain.CouponResult, error) {
	if s.rejectCheck {
		return domain.CouponFailure(domain.CouponErrInvalid, "expired"), nil
	}
	return domain.CouponResult{
		OK:             true,
		CouponID:       couponID,
		DiscountAmount: decimal.NewNullDecimal(s.discount),
	}, nil
}

func (s *stubCoupons) Apply(_ context.Context, cart domain.CartSnapshot, couponID string) (domain.CouponResult, error) {
	if s.applyErr != nil {
		return domain.CouponResult{}, s.applyErr
	}
	s.applied++
	return domain.CouponResult{
		OK:             true,
		CouponID:       couponID,
		UsageID:        "usage-" + cart.CartID,
		DiscountAmount: decimal.NewNullDecimal(s.discount),
	}, nil
}

func (s *stubCoupons) Cancel(_ context.Context, cart domain.CartSnapshot) (domain.CouponResult, error) {
	if s.cancelErr != nil {
		return domain.CouponResult{}, s.cancelErr
	}
	if s.rejectCancel {
		return domain.CouponFailure("USAGE_LOCKED", "usage cannot be canceled"), nil
	}
	if cart.CouponUsageID == "" {
		return domain.CouponFailure(domain.CouponErrInvalid, "no usage"), nil
	}
	s.canceled++
	return domain.CouponResult{OK: true, CouponID: cart.CouponID}, nil
}

// failingGrantor падает на N-м вызове Grant.
type failingGrantor struct {
	next   domain.EnrollmentGrantor
	failOn int
	calls  int
}

var errGrantFailed = errors.New("grant failed")

func (g *failingGrantor) Grant(ctx context.Context, instanceID, userID, roleID string, start, end time.Time) error {
	g.calls++
	if g.calls == g.failOn {
		return errGrantFailed
	}
	return g.next.Grant(ctx, instanceID, userID, roleID, start, end)
}
