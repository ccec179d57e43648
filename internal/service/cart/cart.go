// Package cart реализует корзину курсов: хранимую корзину пользователя с купонами и
// переходами статусов, анонимную корзину в cookie и контекст запроса.
package cart

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

// Cart — общее поведение хранимой и анонимной корзины.
type Cart interface {
	IsAnonymous() bool
	Items(ctx context.Context) []domain.LineItem
	AddItem(ctx context.Context, instanceID string) bool
	RemoveItem(ctx context.Context, instanceID string) bool
	Checkout(ctx context.Context) bool
	Cancel(ctx context.Context) bool
	Deliver(ctx context.Context) bool
	FinalPrice() decimal.Decimal
	FinalPayable() decimal.Decimal
	Refresh(ctx context.Context, force bool) bool
}

var (
	_ Cart = (*StoredCart)(nil)
	_ Cart = (*AnonymousCart)(nil)
)

func sumPrice(items []domain.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price)
	}
	return total
}

func sumPayable(items []domain.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Payable)
	}
	return total
}

func nonNegative(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}
