package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

func TestComputePayable(t *testing.T) {
	tests := []struct {
		name   string
		price  string
		typ    domain.DiscountType
		amount string
		want   string
	}{
		{name: "no discount", price: "1000", typ: domain.DiscountNone, amount: "50", want: "1000"},
		{name: "empty amount treated as none", price: "1000", typ: domain.DiscountPercentage, amount: "", want: "1000"},
		{name: "percentage 10", price: "1000", typ: domain.DiscountPercentage, amount: "10", want: "900"},
		{name: "percentage 0", price: "1000", typ: domain.DiscountPercentage, amount: "0", want: "1000"},
		{name: "percentage 100", price: "1000", typ: domain.DiscountPercentage, amount: "100", want: "0"},
		{name: "percentage with fraction in price", price: "99.99", typ: domain.DiscountPercentage, amount: "50", want: "49.995"},
		{name: "percentage above 100 ignored", price: "1000", typ: domain.DiscountPercentage, amount: "101", want: "1000"},
		{name: "negative percentage ignored", price: "1000", typ: domain.DiscountPercentage, amount: "-5", want: "1000"},
		{name: "fractional percentage ignored", price: "1000", typ: domain.DiscountPercentage, amount: "12.5", want: "1000"},
		{name: "fixed within price", price: "1000", typ: domain.DiscountFixed, amount: "250", want: "750"},
		{name: "fixed equal to price", price: "1000", typ: domain.DiscountFixed, amount: "1000", want: "0"},
		{name: "fixed exceeding price ignored", price: "1000", typ: domain.DiscountFixed, amount: "1500", want: "1000"},
		{name: "fixed garbage ignored", price: "1000", typ: domain.DiscountFixed, amount: "ten", want: "1000"},
		{name: "unknown type", price: "1000", typ: domain.DiscountType(99), amount: "10", want: "1000"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := domain.ComputePayable(decimal.RequireFromString(tc.price), tc.typ, tc.amount)
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("unexpected payable: got=%s want=%s", got, tc.want)
			}
		})
	}
}

func TestComputePayable_NeverAbovePrice(t *testing.T) {
	price := decimal.NewFromInt(1000)
	for pct := -10; pct <= 110; pct++ {
		got := domain.ComputePayable(price, domain.DiscountPercentage, decimal.NewFromInt(int64(pct)).String())
		if got.GreaterThan(price) || got.IsNegative() {
			t.Fatalf("pct=%d produced out of range payable %s", pct, got)
		}
	}
	for _, amount := range []string{"0", "1", "999.99", "1000", "1000.01", "5000"} {
		got := domain.ComputePayable(price, domain.DiscountFixed, amount)
		if got.GreaterThan(price) || got.IsNegative() {
			t.Fatalf("fixed=%s produced out of range payable %s", amount, got)
		}
	}
}

func TestDiscountTypeValid(t *testing.T) {
	if !domain.DiscountNone.Valid() || !domain.DiscountPercentage.Valid() || !domain.DiscountFixed.Valid() {
		t.Fatal("expected known discount types to be valid")
	}
	if domain.DiscountType(5).Valid() {
		t.Fatal("expected unknown discount type to be invalid")
	}
}
