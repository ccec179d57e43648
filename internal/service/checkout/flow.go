// Package checkout связывает корзину с оплатой: подготовка корзины к оплате
// и обработка подтверждений от платёжной подсистемы.
package checkout

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/service/cart"
)

// Outcome — итог подготовки корзины к оплате.
type Outcome string

const (
	// OutcomeNotEditable — корзина чужая, пустая или уже в терминальном статусе.
	OutcomeNotEditable Outcome = "not_editable"
	// OutcomeCouponDropped — применённый купон перестал действовать и был снят.
	OutcomeCouponDropped Outcome = "coupon_dropped"
	// OutcomeChanged — состав или суммы корзины изменились, покупатель должен подтвердить заново.
	OutcomeChanged Outcome = "changed"
	// OutcomeCouponRejected — введённый купон не удалось применить.
	OutcomeCouponRejected Outcome = "coupon_rejected"
	// OutcomeDelivered — платить нечего, доступ выдан сразу.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeAwaitingPayment — корзина заблокирована и ждёт оплаты.
	OutcomeAwaitingPayment Outcome = "awaiting_payment"
)

// ErrOperationFailed — операция корзины откатилась; подробности в логе.
var ErrOperationFailed = errors.New("cart operation failed")

// Flow проводит корзину через проверки перед оплатой.
type Flow struct {
	logger *log.Entry
}

// NewFlow создаёт сценарий оформления.
func NewFlow(logger *log.Entry) *Flow {
	if logger == nil {
		logger = log.WithField("component", "checkout")
	}
	return &Flow{logger: logger}
}

// Prepare обновляет корзину, перепроверяет и при необходимости применяет купон,
// после чего либо сразу доставляет бесплатную корзину, либо переводит её в checkout.
// Повторный вызов для корзины, уже ожидающей оплаты, не сдвигает время checkout.
func (f *Flow) Prepare(ctx context.Context, session *cart.Session, cartID, couponCode string) (Outcome, error) {
	c, err := f.load(ctx, session, cartID)
	if err != nil {
		return "", err
	}
	logger := f.logger.WithFields(log.Fields{"cart_id": c.ID(), "owner_id": c.OwnerID()})

	if !c.IsOwner() || len(c.Items(ctx)) == 0 || !(c.IsCurrent() || c.IsCheckout()) {
		return OutcomeNotEditable, nil
	}
	if !c.CanEditItems() {
		// Оплата уже идёт и время на неё не истекло.
		return OutcomeAwaitingPayment, nil
	}

	if !c.Refresh(ctx, false) {
		return "", ErrOperationFailed
	}
	changed := c.Changed()

	if !c.CouponCheckAvailability(ctx) {
		if !c.CouponCancel(ctx) {
			logger.WithField("error_code", c.CouponResult().ErrorCode).Warn("invalid coupon could not be canceled")
		}
		return OutcomeCouponDropped, nil
	}
	if changed || len(c.Items(ctx)) == 0 {
		return OutcomeChanged, nil
	}

	code := strings.TrimSpace(couponCode)
	if applied := c.Record().Coupon; code != "" && (applied == nil || !strings.EqualFold(applied.Code, code)) {
		if applied != nil && !c.CouponCancel(ctx) {
			return OutcomeCouponRejected, nil
		}
		if !c.CouponApply(ctx, code) {
			logger.WithField("error_code", c.CouponResult().ErrorCode).Info("coupon rejected at checkout")
			return OutcomeCouponRejected, nil
		}
	}

	if c.IsFinalPayableZero() {
		if !c.ProcessFreeItems(ctx) {
			return "", ErrOperationFailed
		}
		return OutcomeDelivered, nil
	}

	if !c.IsCheckout() || c.IsCheckoutExpired() {
		if !c.Checkout(ctx) {
			return "", ErrOperationFailed
		}
		logger.WithField("payable", c.DisplayAmount(c.FinalPayable())).Info("cart locked for payment")
	}
	return OutcomeAwaitingPayment, nil
}

// Cancel отменяет корзину владельца, пока её можно править.
func (f *Flow) Cancel(ctx context.Context, session *cart.Session, cartID string) (bool, error) {
	c, err := f.load(ctx, session, cartID)
	if err != nil {
		return false, err
	}
	if len(c.Items(ctx)) == 0 || !c.CanEditItems() {
		return false, nil
	}
	return c.Cancel(ctx), nil
}

func (f *Flow) load(ctx context.Context, session *cart.Session, cartID string) (*cart.StoredCart, error) {
	if cartID == "" {
		return session.FindCurrent(ctx, false)
	}
	return session.FindOne(ctx, cartID)
}
