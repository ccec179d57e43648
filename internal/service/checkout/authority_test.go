package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
	"github.com/vladislavdragonenkov/enrolcart/internal/service/cart"
)

func newAuthority(e *env, verify bool) *Authority {
	return NewAuthority(e.svc, e.payments, e.claims, AuthorityConfig{
		CartViewURL:             "https://lms.example/enrol/cart/view.php",
		PaymentAccountID:        "acc-1",
		VerifyPaymentOnDelivery: verify,
	}, quietLogger())
}

func (e *env) lockedCart(t *testing.T, ctx context.Context, userID string, instances ...string) *cart.StoredCart {
	t.Helper()
	if len(instances) == 0 {
		instances = []string{"inst-a"}
	}
	c := e.cartWith(t, ctx, userID, instances...)
	outcome, err := e.flow.Prepare(ctx, e.svc.NewSession(userID), c.ID(), "")
	if err != nil || outcome != OutcomeAwaitingPayment {
		t.Fatalf("prepare: %s err=%v", outcome, err)
	}
	return e.reload(t, ctx, userID, c.ID())
}

func (e *env) recordPayment(t *testing.T, ctx context.Context, id, cartID, userID string, amount int64) {
	t.Helper()
	err := e.payments.Record(ctx, domain.PaymentRecord{
		ID:       id,
		ItemID:   cartID,
		UserID:   userID,
		Amount:   decimal.NewFromInt(amount),
		Currency: "IRR",
		Gateway:  "zarinpal",
	})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
}

func TestAuthority_GetPayable(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a := newAuthority(e, true)

	open := e.cartWith(t, ctx, "user-1", "inst-a")
	if got := a.GetPayable(ctx, "user-1", domain.PaymentArea, open.ID()); got.IsPayable() {
		t.Fatalf("editable cart must not be payable, got %s", got.Amount)
	}

	locked := e.lockedCart(t, ctx, "user-2")
	got := a.GetPayable(ctx, "user-2", domain.PaymentArea, locked.ID())
	requireAmount(t, 900, got.Amount, "payable")
	if got.Currency != "IRR" || got.AccountID != "acc-1" {
		t.Fatalf("unexpected payable details: %+v", got)
	}

	tests := []struct {
		name   string
		actor  string
		area   string
		cartID string
	}{
		{name: "foreign actor", actor: "user-1", area: domain.PaymentArea, cartID: locked.ID()},
		{name: "unknown area", actor: "user-2", area: "fee", cartID: locked.ID()},
		{name: "missing cart", actor: "user-2", area: domain.PaymentArea, cartID: "missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.GetPayable(ctx, tt.actor, tt.area, tt.cartID); !got.Amount.Equal(domain.NotPayable.Amount) {
				t.Fatalf("expected -1, got %s", got.Amount)
			}
		})
	}

	e.now = e.now.Add(time.Hour)
	if got := a.GetPayable(ctx, "user-2", domain.PaymentArea, locked.ID()); got.IsPayable() {
		t.Fatalf("expired checkout must not be payable")
	}
}

func TestAuthority_GetSuccessRedirect(t *testing.T) {
	a := newAuthority(newEnv(t), false)

	if got := a.GetSuccessRedirect(domain.PaymentArea, "cart-7"); got != "https://lms.example/enrol/cart/view.php?id=cart-7" {
		t.Fatalf("unexpected redirect %q", got)
	}
	if got := a.GetSuccessRedirect("fee", "cart-7"); got != "" {
		t.Fatalf("expected empty redirect for unknown area, got %q", got)
	}
}

func TestAuthority_DeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a := newAuthority(e, true)
	c := e.lockedCart(t, ctx, "user-1")
	e.recordPayment(t, ctx, "pay-1", c.ID(), "user-1", 900)

	if !a.OnDeliveryConfirmed(ctx, domain.PaymentArea, c.ID(), "pay-1", "user-1") {
		t.Fatalf("expected delivery")
	}
	if !e.reload(t, ctx, "user-1", c.ID()).IsDelivered() {
		t.Fatalf("expected delivered status")
	}
	if len(e.registry.List("user-1")) != 1 {
		t.Fatalf("expected one enrollment")
	}

	// Повтор того же платежа отдаёт сохранённый итог без повторной доставки.
	if !a.OnDeliveryConfirmed(ctx, domain.PaymentArea, c.ID(), "pay-1", "user-1") {
		t.Fatalf("expected replayed delivery result")
	}
	if len(e.registry.List("user-1")) != 1 {
		t.Fatalf("replay must not grant again")
	}

	other := e.lockedCart(t, ctx, "user-1", "inst-b")
	if a.OnDeliveryConfirmed(ctx, domain.PaymentArea, other.ID(), "pay-1", "user-1") {
		t.Fatalf("same payment for another cart must be rejected")
	}
	if !e.reload(t, ctx, "user-1", other.ID()).IsCheckout() {
		t.Fatalf("other cart must stay in checkout")
	}
}

func TestAuthority_DeliveryInProgressIsBusy(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a := newAuthority(e, false)
	c := e.lockedCart(t, ctx, "user-1")

	if _, err := e.claims.Claim(ctx, domain.DeliveryClaim{PaymentID: "pay-1", CartID: c.ID(), UserID: "user-1"}); err != nil {
		t.Fatalf("claim payment: %v", err)
	}

	if a.OnDeliveryConfirmed(ctx, domain.PaymentArea, c.ID(), "pay-1", "user-1") {
		t.Fatalf("concurrent confirmation must not deliver")
	}
	if !e.reload(t, ctx, "user-1", c.ID()).IsCheckout() {
		t.Fatalf("cart must stay in checkout")
	}
}

func TestAuthority_PaymentMustMatchCart(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		payUser string
		payCart func(cartID string) string
		amount  int64
	}{
		{name: "wrong amount", payUser: "user-1", payCart: func(id string) string { return id }, amount: 800},
		{name: "wrong user", payUser: "user-9", payCart: func(id string) string { return id }, amount: 900},
		{name: "wrong cart", payUser: "user-1", payCart: func(string) string { return "cart-x" }, amount: 900},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			a := newAuthority(e, true)
			c := e.lockedCart(t, ctx, "user-1")
			e.recordPayment(t, ctx, "pay-1", tt.payCart(c.ID()), tt.payUser, tt.amount)

			if a.OnDeliveryConfirmed(ctx, domain.PaymentArea, c.ID(), "pay-1", "user-1") {
				t.Fatalf("mismatched payment must not deliver")
			}
			if !e.reload(t, ctx, "user-1", c.ID()).IsCheckout() {
				t.Fatalf("cart must stay in checkout")
			}
			if len(e.registry.List("user-1")) != 0 {
				t.Fatalf("no enrollment expected")
			}
		})
	}
}

func TestAuthority_FailedDeliveryCanBeRetried(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a := newAuthority(e, true)
	c := e.lockedCart(t, ctx, "user-1")

	if a.OnDeliveryConfirmed(ctx, domain.PaymentArea, c.ID(), "pay-1", "user-1") {
		t.Fatalf("delivery without payment record must fail")
	}
	claim, err := e.claims.Get(ctx, "pay-1")
	if err != nil || claim.Status != domain.ClaimRejected {
		t.Fatalf("expected rejected claim, got %+v err=%v", claim, err)
	}

	e.recordPayment(t, ctx, "pay-1", c.ID(), "user-1", 900)
	if !a.OnDeliveryConfirmed(ctx, domain.PaymentArea, c.ID(), "pay-1", "user-1") {
		t.Fatalf("expected retry to deliver")
	}
	claim, _ = e.claims.Get(ctx, "pay-1")
	if claim.Status != domain.ClaimDelivered || claim.Attempts != 2 {
		t.Fatalf("expected delivered claim on second attempt, got %+v", claim)
	}
}

func TestAuthority_DeliveryWithoutVerification(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a := newAuthority(e, false)
	c := e.lockedCart(t, ctx, "user-1")

	if a.OnDeliveryConfirmed(ctx, domain.PaymentArea, c.ID(), "pay-1", "user-2") {
		t.Fatalf("foreign user must not receive the cart")
	}
	if !a.OnDeliveryConfirmed(ctx, domain.PaymentArea, c.ID(), "pay-2", "user-1") {
		t.Fatalf("expected delivery without payment record")
	}
	if !e.reload(t, ctx, "user-1", c.ID()).IsDelivered() {
		t.Fatalf("expected delivered status")
	}
}
