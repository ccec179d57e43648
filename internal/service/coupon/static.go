package coupon

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

// Definition описывает купон статического справочника.
type Definition struct {
	ID     string
	Code   string
	Type   domain.DiscountType
	Amount string
	// MaxUses ограничивает число активных использований; 0 — без ограничения.
	MaxUses int
	// SkipDiscountedItems исключает позиции, у которых уже есть своя скидка.
	SkipDiscountedItems bool
}

type usage struct {
	id       string
	couponID string
	cartID   string
}

// Static — купонная система в памяти процесса для локального запуска и тестов.
type Static struct {
	mu      sync.Mutex
	coupons map[string]Definition
	usages  map[string]usage
}

// NewStatic создаёт справочник из набора купонов.
func NewStatic(definitions ...Definition) *Static {
	s := &Static{
		coupons: make(map[string]Definition, len(definitions)),
		usages:  make(map[string]usage),
	}
	for _, def := range definitions {
		s.coupons[def.ID] = def
	}
	return s
}

// ResolveCouponID ищет купон по коду без учёта регистра.
func (s *Static) ResolveCouponID(_ context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, def := range s.coupons {
		if strings.EqualFold(def.Code, strings.TrimSpace(code)) {
			return def.ID, nil
		}
	}
	return "", nil
}

// Validate считает скидку купона для корзины.
func (s *Static) Validate(_ context.Context, cart domain.CartSnapshot, couponID string) (domain.CouponResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateLocked(cart, couponID), nil
}

// Apply регистрирует использование. Повторный вызов для той же корзины возвращает прежнее использование.
func (s *Static) Apply(_ context.Context, cart domain.CartSnapshot, couponID string) (domain.CouponResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.validateLocked(cart, couponID)
	if !result.OK {
		return result, nil
	}
	for _, u := range s.usages {
		if u.couponID == couponID && u.cartID == cart.CartID {
			result.UsageID = u.id
			return result, nil
		}
	}

	u := usage{id: uuid.NewString(), couponID: couponID, cartID: cart.CartID}
	s.usages[u.id] = u
	result.UsageID = u.id
	return result, nil
}

// Cancel снимает использование, указанное в снимке корзины.
func (s *Static) Cancel(_ context.Context, cart domain.CartSnapshot) (domain.CouponResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usages[cart.CouponUsageID]
	if !ok || u.cartID != cart.CartID {
		return domain.CouponFailure(domain.CouponErrInvalid, "coupon usage not found"), nil
	}
	delete(s.usages, u.id)
	return domain.CouponResult{OK: true, CouponID: u.couponID, UsageID: u.id}, nil
}

// ActiveUsages возвращает число активных использований купона.
func (s *Static) ActiveUsages(couponID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(couponID, "")
}

func (s *Static) activeLocked(couponID, exceptCartID string) int {
	n := 0
	for _, u := range s.usages {
		if u.couponID == couponID && u.cartID != exceptCartID {
			n++
		}
	}
	return n
}

func (s *Static) validateLocked(cart domain.CartSnapshot, couponID string) domain.CouponResult {
	def, ok := s.coupons[couponID]
	if !ok {
		return domain.CouponFailure(domain.CouponErrInvalid, "coupon not found")
	}
	if def.MaxUses > 0 && s.activeLocked(couponID, cart.CartID) >= def.MaxUses {
		return domain.CouponFailure(domain.CouponErrInvalid, "coupon usage limit reached")
	}

	base := decimal.Zero
	var items []string
	for _, item := range cart.Items {
		if def.SkipDiscountedItems && item.HasDiscount {
			continue
		}
		base = base.Add(item.Payable)
		items = append(items, item.ItemID)
	}
	if len(items) == 0 || !base.IsPositive() {
		return domain.CouponFailure(domain.CouponErrInvalid, "no eligible items")
	}

	discount := couponDiscount(def, base)
	if !discount.IsPositive() {
		return domain.CouponFailure(domain.CouponErrInvalid, "coupon gives no discount")
	}

	payable := cart.FinalPayable.Add(cart.CouponDiscountAmount).Sub(discount)
	if payable.IsNegative() {
		payable = decimal.Zero
	}
	return domain.CouponResult{
		OK:             true,
		CouponID:       def.ID,
		CouponCode:     def.Code,
		DiscountAmount: decimal.NewNullDecimal(discount),
		PayableAmount:  decimal.NewNullDecimal(payable),
		Items:          items,
	}
}

// couponDiscount: процент считается от суммы подходящих позиций,
// фиксированная скидка не превышает эту сумму.
func couponDiscount(def Definition, base decimal.Decimal) decimal.Decimal {
	if def.Type == domain.DiscountFixed {
		fixed, err := decimal.NewFromString(strings.TrimSpace(def.Amount))
		if err != nil || fixed.IsNegative() {
			return decimal.Zero
		}
		return decimal.Min(fixed, base)
	}
	return base.Sub(domain.ComputePayable(base, def.Type, def.Amount))
}

var _ domain.CouponGateway = (*Static)(nil)
