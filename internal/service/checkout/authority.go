package checkout

import (
	"context"
	"errors"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
	"github.com/vladislavdragonenkov/enrolcart/internal/metrics"
	"github.com/vladislavdragonenkov/enrolcart/internal/service/cart"
)

// AuthorityConfig — настройки взаимодействия с платёжной подсистемой.
type AuthorityConfig struct {
	// CartViewURL — страница корзины, на которую ведёт redirect после оплаты.
	CartViewURL string
	// PaymentAccountID — платёжный аккаунт, в который зачисляются оплаты корзин.
	PaymentAccountID string
	// VerifyPaymentOnDelivery требует запись о платеже с совпадающей суммой перед доставкой.
	VerifyPaymentOnDelivery bool
	// ClaimTTL — сколько хранится итог обработки подтверждения оплаты.
	ClaimTTL time.Duration
}

// Authority отвечает платёжной подсистеме: сколько списать, куда вернуть покупателя
// и что делать после успешной оплаты.
type Authority struct {
	carts    *cart.Service
	payments domain.PaymentRepository
	claims   domain.DeliveryClaimRepository
	cfg      AuthorityConfig
	logger   *log.Entry
	metrics  *metrics.CartMetrics
}

// NewAuthority создаёт обработчик платёжных вызовов.
func NewAuthority(
	carts *cart.Service,
	payments domain.PaymentRepository,
	claims domain.DeliveryClaimRepository,
	cfg AuthorityConfig,
	logger *log.Entry,
) *Authority {
	if logger == nil {
		logger = log.WithField("component", "payment-authority")
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = domain.DefaultClaimRetention
	}
	return &Authority{
		carts:    carts,
		payments: payments,
		claims:   claims,
		cfg:      cfg,
		logger:   logger,
		metrics:  carts.Metrics(),
	}
}

// GetPayable возвращает сумму к оплате. Корзина должна принадлежать вызывающему,
// быть заблокирована для оплаты и иметь положительную сумму, иначе сумма -1.
func (a *Authority) GetPayable(ctx context.Context, actorID, area, cartID string) domain.Payable {
	if area != domain.PaymentArea {
		return domain.NotPayable
	}
	c, err := a.carts.NewSession(actorID).FindOne(ctx, cartID)
	if err != nil {
		return domain.NotPayable
	}
	if !c.IsOwner() || !(c.IsCurrent() || c.IsCheckout()) || c.CanEditItems() {
		return domain.NotPayable
	}
	amount := c.FinalPayable()
	if !amount.IsPositive() {
		return domain.NotPayable
	}
	return domain.Payable{
		Amount:    amount,
		Currency:  c.Currency(),
		AccountID: a.cfg.PaymentAccountID,
	}
}

// GetSuccessRedirect возвращает адрес страницы корзины после оплаты.
func (a *Authority) GetSuccessRedirect(area, cartID string) string {
	if area != domain.PaymentArea {
		return ""
	}
	target, err := url.Parse(a.cfg.CartViewURL)
	if err != nil {
		a.logger.WithError(err).Warn("invalid cart view url")
		return ""
	}
	query := target.Query()
	query.Set("id", cartID)
	target.RawQuery = query.Encode()
	return target.String()
}

// OnDeliveryConfirmed доставляет оплаченную корзину. Платёж захватывается через
// DeliveryClaimRepository: повтор уже доставленного платежа возвращает true без
// повторной доставки, параллельный повтор получает false, а отклонённый платёж
// можно подтвердить снова.
func (a *Authority) OnDeliveryConfirmed(ctx context.Context, area, cartID, paymentID, userID string) bool {
	logger := a.logger.WithFields(log.Fields{
		"cart_id":    cartID,
		"payment_id": paymentID,
		"user_id":    userID,
	})
	if paymentID == "" {
		ok := a.deliver(ctx, logger, area, cartID, paymentID, userID)
		a.recordCallback(ok)
		return ok
	}

	claim, err := a.claims.Claim(ctx, domain.DeliveryClaim{
		PaymentID: paymentID,
		CartID:    cartID,
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(a.cfg.ClaimTTL),
	})
	switch {
	case err == nil:
		if claim.Attempts > 1 {
			logger.WithField("attempt", claim.Attempts).Info("retrying rejected delivery confirmation")
		}
	case errors.Is(err, domain.ErrClaimMismatch):
		logger.WithField("claimed_cart_id", claim.CartID).Warn("payment confirmed for a different cart")
		a.metrics.RecordDeliveryCallback("conflict")
		return false
	case errors.Is(err, domain.ErrClaimTaken) && claim.Status == domain.ClaimDelivered:
		a.metrics.RecordDeliveryCallback("replayed")
		return true
	case errors.Is(err, domain.ErrClaimTaken):
		logger.Info("delivery confirmation is already being processed")
		a.metrics.RecordDeliveryCallback("busy")
		return false
	default:
		logger.WithError(err).Error("delivery claim failed")
		a.metrics.RecordDeliveryCallback("error")
		return false
	}

	ok := a.deliver(ctx, logger, area, cartID, paymentID, userID)
	outcome := domain.ClaimRejected
	if ok {
		outcome = domain.ClaimDelivered
	}
	if err := a.claims.Resolve(ctx, paymentID, outcome); err != nil {
		logger.WithError(err).Warn("store delivery outcome failed")
	}
	a.recordCallback(ok)
	return ok
}

func (a *Authority) deliver(ctx context.Context, logger *log.Entry, area, cartID, paymentID, userID string) bool {
	if area != domain.PaymentArea {
		return false
	}
	c, err := a.carts.NewSession(userID).FindOne(ctx, cartID)
	if err != nil {
		logger.WithError(err).Warn("cart for delivery not found")
		return false
	}
	if c.OwnerID() != userID || !c.IsCheckout() {
		logger.WithField("status", c.Status()).Warn("cart is not awaiting payment")
		return false
	}

	if a.cfg.VerifyPaymentOnDelivery {
		payment, err := a.payments.Get(ctx, paymentID)
		if err != nil {
			logger.WithError(err).Warn("payment record not found")
			return false
		}
		payable := c.FinalPayable()
		if payment.UserID != userID || payment.ItemID != cartID || !payment.Amount.Equal(payable) {
			logger.WithFields(log.Fields{
				"paid":    payment.Amount.String(),
				"payable": payable.String(),
			}).Warn("payment record does not match cart")
			return false
		}
	}

	return c.Deliver(ctx)
}

func (a *Authority) recordCallback(ok bool) {
	if ok {
		a.metrics.RecordDeliveryCallback("delivered")
		return
	}
	a.metrics.RecordDeliveryCallback("rejected")
}
