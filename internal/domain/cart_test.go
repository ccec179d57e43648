package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

// helper для создания корзины с одной позицией.
func makeCart() domain.Cart {
	now := time.Now().UTC()
	return domain.Cart{
		ID:       "cart-1",
		OwnerID:  "user-1",
		Status:   domain.CartStatusCurrent,
		Currency: "USD",
		Price:    decimal.NewFromInt(1000),
		Payable:  decimal.NewFromInt(900),
		Items: []domain.LineItem{{
			ID:         "item-1",
			CartID:     "cart-1",
			InstanceID: "inst-1",
			Price:      decimal.NewFromInt(1000),
			Payable:    decimal.NewFromInt(900),
			CreatedAt:  now,
		}},
		CreatedAt: now,
	}
}

func TestCartValidateInvariants_Ok(t *testing.T) {
	cart := makeCart()
	if errs := cart.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestCartValidateInvariants_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *domain.Cart)
		want   error
	}{
		{name: "owner", mutate: func(c *domain.Cart) { c.OwnerID = "" }, want: domain.ErrOwnerRequired},
		{name: "status", mutate: func(c *domain.Cart) { c.Status = "pending" }, want: domain.ErrCartStatusInvalid},
		{name: "payable above price", mutate: func(c *domain.Cart) { c.Payable = decimal.NewFromInt(1001) }, want: domain.ErrPayableExceedsPrice},
		{name: "checkout without time", mutate: func(c *domain.Cart) { c.Status = domain.CartStatusCheckout }, want: domain.ErrCheckoutTimeRequired},
		{name: "duplicate item", mutate: func(c *domain.Cart) { c.Items = append(c.Items, c.Items[0]) }, want: domain.ErrDuplicateItem},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cart := makeCart()
			tc.mutate(&cart)
			errs := cart.ValidateInvariants()
			found := false
			for _, err := range errs {
				if errors.Is(err, tc.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %v in %v", tc.want, errs)
			}
		})
	}
}

func TestCartStatusTransitions(t *testing.T) {
	tests := []struct {
		from domain.CartStatus
		to   domain.CartStatus
		want bool
	}{
		{domain.CartStatusCurrent, domain.CartStatusCheckout, true},
		{domain.CartStatusCurrent, domain.CartStatusCanceled, true},
		{domain.CartStatusCurrent, domain.CartStatusDelivered, false},
		{domain.CartStatusCheckout, domain.CartStatusDelivered, true},
		{domain.CartStatusCheckout, domain.CartStatusCanceled, true},
		{domain.CartStatusCheckout, domain.CartStatusCheckout, true},
		{domain.CartStatusCheckout, domain.CartStatusCurrent, false},
		{domain.CartStatusDelivered, domain.CartStatusCanceled, false},
		{domain.CartStatusCanceled, domain.CartStatusCurrent, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
				t.Fatalf("unexpected transition result: got=%v want=%v", got, tc.want)
			}
		})
	}

	if !domain.CartStatusCanceled.IsTerminal() || !domain.CartStatusDelivered.IsTerminal() {
		t.Fatal("canceled and delivered must be terminal")
	}
}

func TestCartClone_DoesNotShareState(t *testing.T) {
	cart := makeCart()
	cart.Coupon = &domain.AppliedCoupon{CouponID: "c-1", Code: "SALE", UsageID: "u-1", DiscountAmount: decimal.NewFromInt(100)}

	clone := cart.Clone()
	clone.Items[0].Price = decimal.Zero
	clone.Coupon.Code = "OTHER"

	if !cart.Items[0].Price.Equal(decimal.NewFromInt(1000)) {
		t.Fatal("clone mutated original items")
	}
	if cart.Coupon.Code != "SALE" {
		t.Fatal("clone mutated original coupon")
	}
	if !cart.HasCoupon() {
		t.Fatal("expected coupon to be applied")
	}
}
