package domain

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DiscountType — правило скидки предложения. Значения совпадают с кодами в хранилище.
type DiscountType int

const (
	// DiscountNone — без скидки.
	DiscountNone DiscountType = 0
	// DiscountPercentage — скидка в процентах (целое 0..100).
	DiscountPercentage DiscountType = 10
	// DiscountFixed — фиксированная скидка, не больше цены.
	DiscountFixed DiscountType = 20
)

var hundred = decimal.NewFromInt(100)

// Valid проверяет, что тип скидки известен.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountNone, DiscountPercentage, DiscountFixed:
		return true
	default:
		return false
	}
}

func (t DiscountType) String() string {
	switch t {
	case DiscountPercentage:
		return "percentage"
	case DiscountFixed:
		return "fixed"
	default:
		return "none"
	}
}

// ComputePayable считает сумму к оплате по базовой цене и правилу скидки.
// Некорректная скидка игнорируется целиком: процент вне 0..100 или дробный,
// фиксированная сумма больше цены. Фиксированная скидка не обрезается до нуля.
func ComputePayable(price decimal.Decimal, discountType DiscountType, discountAmount string) decimal.Decimal {
	amount := strings.TrimSpace(discountAmount)
	if amount == "" {
		return price
	}

	switch discountType {
	case DiscountPercentage:
		pct, err := strconv.Atoi(amount)
		if err != nil || pct < 0 || pct > 100 {
			return price
		}
		return price.Sub(price.Mul(decimal.NewFromInt(int64(pct))).Div(hundred))
	case DiscountFixed:
		fixed, err := decimal.NewFromString(amount)
		if err != nil || fixed.IsNegative() || fixed.GreaterThan(price) {
			return price
		}
		return price.Sub(fixed)
	default:
		return price
	}
}
