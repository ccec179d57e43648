package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartStatus описывает жизненный цикл корзины.
type CartStatus string

const (
	// CartStatusCurrent — активная корзина пользователя, позиции можно менять.
	CartStatusCurrent CartStatus = "current"
	// CartStatusCheckout — корзина заблокирована и ожидает оплаты.
	CartStatusCheckout CartStatus = "checkout"
	// CartStatusCanceled — корзина отменена (терминальный статус).
	CartStatusCanceled CartStatus = "canceled"
	// CartStatusDelivered — оплата подтверждена, доступ выдан (терминальный статус).
	CartStatusDelivered CartStatus = "delivered"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s CartStatus) Valid() bool {
	switch s {
	case CartStatusCurrent, CartStatusCheckout, CartStatusCanceled, CartStatusDelivered:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса больше нет переходов.
func (s CartStatus) IsTerminal() bool {
	return s == CartStatusCanceled || s == CartStatusDelivered
}

// CanTransitionTo проверяет допустимость перехода current -> checkout -> delivered,
// отмена возможна только из current или checkout.
// Повторный checkout разрешён: так просроченная попытка оплаты получает новую отметку времени.
func (s CartStatus) CanTransitionTo(next CartStatus) bool {
	switch s {
	case CartStatusCurrent:
		return next == CartStatusCheckout || next == CartStatusCanceled
	case CartStatusCheckout:
		return next == CartStatusCheckout || next == CartStatusDelivered || next == CartStatusCanceled
	default:
		return false
	}
}

// LineItem — одна позиция корзины со снимком цены на момент добавления или последнего refresh.
type LineItem struct {
	ID string
	// CartID пуст для анонимной корзины.
	CartID     string
	InstanceID string
	// Price — базовая стоимость предложения.
	Price decimal.Decimal
	// Payable — стоимость с учётом скидки самого предложения, без купона корзины.
	Payable   decimal.Decimal
	CreatedAt time.Time
}

// HasDiscount сообщает, что у позиции есть собственная скидка.
func (i LineItem) HasDiscount() bool {
	return i.Payable.LessThan(i.Price)
}

// AppliedCoupon хранит привязку применённого купона.
type AppliedCoupon struct {
	CouponID       string
	Code           string
	UsageID        string
	DiscountAmount decimal.Decimal
}

// Cart — корень агрегата корзины.
type Cart struct {
	ID       string
	OwnerID  string
	Status   CartStatus
	Currency string
	// Price — снимок суммарной базовой стоимости; авторитетен после delivered.
	Price decimal.Decimal
	// Payable — снимок суммы к оплате; авторитетен после checkout.
	Payable decimal.Decimal
	// Coupon заполнен только пока купон применён.
	Coupon *AppliedCoupon
	// CheckoutAt нулевой, пока корзина не переходила в checkout.
	CheckoutAt time.Time
	Items      []LineItem
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	CreatedBy  string
	UpdatedBy  string
}

// HasCoupon сообщает, что к корзине привязано использование купона.
func (c *Cart) HasCoupon() bool {
	return c.Coupon != nil && c.Coupon.CouponID != "" && c.Coupon.UsageID != ""
}

// ExpiryMark — отметка, от которой отсчитывается срок хранения: checkout_at для корзины
// в checkout, иначе время последнего изменения.
func (c *Cart) ExpiryMark() time.Time {
	if c.Status == CartStatusCheckout {
		return c.CheckoutAt
	}
	if c.UpdatedAt.IsZero() {
		return c.CreatedAt
	}
	return c.UpdatedAt
}

// FindItem возвращает позицию по идентификатору предложения.
func (c *Cart) FindItem(instanceID string) (LineItem, bool) {
	for _, item := range c.Items {
		if item.InstanceID == instanceID {
			return item, true
		}
	}
	return LineItem{}, false
}

// Clone возвращает копию корзины, не разделяющую слайсы и указатели с оригиналом.
func (c Cart) Clone() Cart {
	dst := c
	dst.Items = append([]LineItem(nil), c.Items...)
	if c.Coupon != nil {
		coupon := *c.Coupon
		dst.Coupon = &coupon
	}
	return dst
}

// ValidateInvariants проверяет базовые инварианты корзины и возвращает список замечаний.
func (c *Cart) ValidateInvariants() []error {
	var errs []error

	if c.OwnerID == "" {
		errs = append(errs, ErrOwnerRequired)
	}
	if !c.Status.Valid() {
		errs = append(errs, ErrCartStatusInvalid)
	}
	if c.Price.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}
	if c.Payable.GreaterThan(c.Price) {
		errs = append(errs, ErrPayableExceedsPrice)
	}
	if c.Status == CartStatusCheckout && c.CheckoutAt.IsZero() {
		errs = append(errs, ErrCheckoutTimeRequired)
	}

	seen := make(map[string]struct{}, len(c.Items))
	for _, item := range c.Items {
		if _, dup := seen[item.InstanceID]; dup {
			errs = append(errs, ErrDuplicateItem)
		}
		seen[item.InstanceID] = struct{}{}
		if item.Price.IsNegative() || item.Payable.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	return errs
}
