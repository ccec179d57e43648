package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
	"github.com/vladislavdragonenkov/enrolcart/internal/money"
)

// StoredCart — корзина пользователя, сохранённая в хранилище.
// Операции возвращают bool: причина отказа пишется в лог, ошибки хранилища не выходят наружу.
type StoredCart struct {
	session *Session
	svc     *Service

	record       domain.Cart
	changed      bool
	couponResult domain.CouponResult
}

func newStoredCart(session *Session, record domain.Cart) *StoredCart {
	return &StoredCart{
		session: session,
		svc:     session.svc,
		record:  record,
	}
}

// ID возвращает идентификатор корзины.
func (c *StoredCart) ID() string { return c.record.ID }

// OwnerID возвращает владельца корзины.
func (c *StoredCart) OwnerID() string { return c.record.OwnerID }

// Status возвращает текущий статус.
func (c *StoredCart) Status() domain.CartStatus { return c.record.Status }

// CheckoutAt возвращает время последнего перехода в checkout.
func (c *StoredCart) CheckoutAt() time.Time { return c.record.CheckoutAt }

// Record возвращает копию состояния корзины.
func (c *StoredCart) Record() domain.Cart { return c.record.Clone() }

// Currency возвращает валюту корзины или валюту оплаты из настроек.
func (c *StoredCart) Currency() string {
	if c.record.Currency != "" {
		return c.record.Currency
	}
	return c.svc.settings.PaymentCurrency
}

// IsAnonymous всегда false для хранимой корзины.
func (c *StoredCart) IsAnonymous() bool { return false }

// IsOwner сообщает, что актор запроса владеет корзиной.
func (c *StoredCart) IsOwner() bool {
	return c.session.actorID != "" && c.session.actorID == c.record.OwnerID
}

func (c *StoredCart) IsCurrent() bool   { return c.record.Status == domain.CartStatusCurrent }
func (c *StoredCart) IsCheckout() bool  { return c.record.Status == domain.CartStatusCheckout }
func (c *StoredCart) IsCanceled() bool  { return c.record.Status == domain.CartStatusCanceled }
func (c *StoredCart) IsDelivered() bool { return c.record.Status == domain.CartStatusDelivered }

// IsCheckoutExpired сообщает, что время на оплату корзины в checkout истекло.
func (c *StoredCart) IsCheckoutExpired() bool {
	if !c.IsCheckout() || c.record.CheckoutAt.IsZero() {
		return false
	}
	return c.svc.now().Sub(c.record.CheckoutAt) > c.svc.settings.PaymentCompletionTime
}

// CanEditItems: редактировать может только владелец, пока корзина current
// или пока истекло время оплаты в checkout.
func (c *StoredCart) CanEditItems() bool {
	if !c.IsOwner() {
		return false
	}
	return c.IsCurrent() || c.IsCheckoutExpired()
}

// Items возвращает копию позиций корзины.
func (c *StoredCart) Items(context.Context) []domain.LineItem {
	return append([]domain.LineItem(nil), c.record.Items...)
}

// HasItem сообщает, есть ли в корзине предложение instanceID.
func (c *StoredCart) HasItem(instanceID string) bool {
	_, ok := c.record.FindItem(instanceID)
	return ok
}

// Changed сообщает, что последний Refresh изменил состав или суммы корзины.
func (c *StoredCart) Changed() bool { return c.changed }

// CouponResult возвращает итог последней купонной операции.
func (c *StoredCart) CouponResult() domain.CouponResult { return c.couponResult }

// FinalPrice — базовая стоимость: сохранённая после доставки, иначе сумма позиций.
func (c *StoredCart) FinalPrice() decimal.Decimal {
	if c.IsDelivered() {
		return c.record.Price
	}
	return sumPrice(c.record.Items)
}

// FinalPayable — сумма к оплате: сохранённая, пока корзину нельзя править,
// иначе сумма позиций за вычетом скидки купона.
func (c *StoredCart) FinalPayable() decimal.Decimal {
	if !c.CanEditItems() {
		return c.record.Payable
	}
	return c.livePayable(c.record.Items)
}

func (c *StoredCart) livePayable(items []domain.LineItem) decimal.Decimal {
	return nonNegative(sumPayable(items).Sub(c.CouponDiscountAmount()))
}

// CouponDiscountAmount возвращает скидку применённого купона.
func (c *StoredCart) CouponDiscountAmount() decimal.Decimal {
	if c.record.Coupon == nil {
		return decimal.Zero
	}
	return c.record.Coupon.DiscountAmount
}

// ItemsDiscountAmount — скидка самих предложений без купона.
func (c *StoredCart) ItemsDiscountAmount() decimal.Decimal {
	return c.FinalPrice().Sub(sumPayable(c.record.Items))
}

// FinalDiscountAmount — полная скидка корзины.
func (c *StoredCart) FinalDiscountAmount() decimal.Decimal {
	return c.FinalPrice().Sub(c.FinalPayable())
}

// IsFinalPayableZero сообщает, что платить нечего.
func (c *StoredCart) IsFinalPayableZero() bool {
	return !c.FinalPayable().IsPositive()
}

// PreviewPayable — сумма к оплате с учётом проверенного, но ещё не применённого купона.
// Используется только для отображения.
func (c *StoredCart) PreviewPayable() decimal.Decimal {
	payable := c.FinalPayable()
	pending := c.couponResult
	if c.record.Coupon != nil || !pending.OK || !pending.DiscountAmount.Valid || !c.CanEditItems() {
		return payable
	}
	return nonNegative(payable.Sub(pending.DiscountAmount.Decimal))
}

// DisplayAmount форматирует сумму корзины для показа.
func (c *StoredCart) DisplayAmount(amount decimal.Decimal) string {
	return money.Format(amount, c.Currency(), money.FormatOptions{ConvertIRRToIRT: c.svc.settings.ConvertIRRToIRT})
}

// Snapshot собирает снимок корзины для купонной системы.
func (c *StoredCart) Snapshot(ctx context.Context) domain.CartSnapshot {
	snapshot := domain.CartSnapshot{
		CartID:               c.record.ID,
		UserID:               c.record.OwnerID,
		Currency:             c.Currency(),
		CouponDiscountAmount: c.CouponDiscountAmount(),
		FinalPrice:           c.FinalPrice(),
		FinalPayable:         c.FinalPayable(),
		Items:                make([]domain.ItemSnapshot, 0, len(c.record.Items)),
	}
	if coupon := c.record.Coupon; coupon != nil {
		snapshot.CouponID = coupon.CouponID
		snapshot.CouponCode = coupon.Code
		snapshot.CouponUsageID = coupon.UsageID
	}
	for _, item := range c.record.Items {
		var courseID string
		if instance, err := c.session.instance(ctx, item.InstanceID); err == nil {
			courseID = instance.CourseID
		}
		snapshot.Items = append(snapshot.Items, domain.ItemSnapshot{
			ItemID:      item.ID,
			InstanceID:  item.InstanceID,
			CourseID:    courseID,
			Price:       item.Price,
			Payable:     item.Payable,
			HasDiscount: item.HasDiscount(),
		})
	}
	return snapshot
}

// AddItem добавляет предложение, если корзину можно править, предложение доступно
// и пользователь ещё не записан на его курс.
func (c *StoredCart) AddItem(ctx context.Context, instanceID string) bool {
	if !c.CanEditItems() || c.HasItem(instanceID) {
		return false
	}
	instance, ok, err := c.session.availableInstance(ctx, instanceID)
	if err != nil {
		c.logger().WithError(err).WithField("instance_id", instanceID).Warn("offering lookup failed")
		return false
	}
	if !ok {
		return false
	}
	enrolled, err := c.session.isEnrolled(ctx, instance.CourseID, c.record.OwnerID)
	if err != nil {
		c.logger().WithError(err).WithField("instance_id", instanceID).Warn("enrollment check failed")
		return false
	}
	if enrolled {
		return false
	}

	item := domain.LineItem{
		ID:         uuid.NewString(),
		CartID:     c.record.ID,
		InstanceID: instance.ID,
		Price:      instance.Price(),
		Payable:    instance.Payable(),
		CreatedAt:  c.svc.now(),
	}
	ok = c.mutate(ctx, "add_item", "", func(ctx context.Context) error {
		if err := c.svc.carts.AddItem(ctx, item); err != nil {
			return err
		}
		c.record.Items = append(c.record.Items, item)
		c.record.Price = c.FinalPrice()
		c.record.Payable = c.livePayable(c.record.Items)
		return nil
	})
	if !ok {
		return false
	}
	// Позиция уже сохранена: неудачный refresh не отменяет добавление.
	if !c.Refresh(ctx, false) {
		c.logger().WithField("instance_id", instanceID).Warn("cart refresh after add failed")
	}
	return true
}

// RemoveItem убирает предложение из корзины.
func (c *StoredCart) RemoveItem(ctx context.Context, instanceID string) bool {
	if !c.CanEditItems() {
		return false
	}
	item, found := c.record.FindItem(instanceID)
	if !found {
		return false
	}
	ok := c.mutate(ctx, "remove_item", "", func(ctx context.Context) error {
		if err := c.svc.carts.DeleteItem(ctx, item.ID); err != nil && !errors.Is(err, domain.ErrCartItemNotFound) {
			return err
		}
		c.record.Items = withoutItem(c.record.Items, item.ID)
		c.record.Price = c.FinalPrice()
		c.record.Payable = c.livePayable(c.record.Items)
		return nil
	})
	if !ok {
		return false
	}
	return c.Refresh(ctx, false)
}

// Refresh сверяет позиции с каталогом: удаляет недоступные предложения и курсы,
// на которые пользователь уже записан, обновляет снимки цен и суммы корзины.
// Без force ничего не делает, если корзину нельзя править.
func (c *StoredCart) Refresh(ctx context.Context, force bool) bool {
	c.changed = false
	if !force && !c.CanEditItems() {
		return false
	}

	items, err := c.svc.carts.ListItems(ctx, c.record.ID)
	if err != nil {
		c.logger().WithError(err).Warn("load cart items failed")
		return false
	}

	var (
		kept    = make([]domain.LineItem, 0, len(items))
		dropped []string
		updated []domain.LineItem
	)
	for _, item := range items {
		instance, ok, err := c.session.availableInstance(ctx, item.InstanceID)
		if err != nil {
			c.logger().WithError(err).WithField("instance_id", item.InstanceID).Warn("offering lookup failed")
			return false
		}
		if !ok {
			dropped = append(dropped, item.ID)
			continue
		}
		enrolled, err := c.session.isEnrolled(ctx, instance.CourseID, c.record.OwnerID)
		if err != nil {
			c.logger().WithError(err).WithField("instance_id", item.InstanceID).Warn("enrollment check failed")
			return false
		}
		if enrolled {
			dropped = append(dropped, item.ID)
			continue
		}
		if price, payable := instance.Price(), instance.Payable(); !item.Price.Equal(price) || !item.Payable.Equal(payable) {
			item.Price = price
			item.Payable = payable
			updated = append(updated, item)
		}
		kept = append(kept, item)
	}

	price := sumPrice(kept)
	if c.IsDelivered() {
		price = c.record.Price
	}
	payable := c.record.Payable
	if c.CanEditItems() {
		payable = c.livePayable(kept)
	}
	totalsChanged := !c.record.Price.Equal(price) || !c.record.Payable.Equal(payable)

	if len(dropped) == 0 && len(updated) == 0 && !totalsChanged {
		c.record.Items = kept
		return true
	}

	ok := c.mutate(ctx, "refresh", "", func(ctx context.Context) error {
		for _, id := range dropped {
			if err := c.svc.carts.DeleteItem(ctx, id); err != nil && !errors.Is(err, domain.ErrCartItemNotFound) {
				return err
			}
		}
		for _, item := range updated {
			if err := c.svc.carts.UpdateItem(ctx, item); err != nil {
				return err
			}
		}
		c.record.Items = kept
		c.record.Price = price
		c.record.Payable = payable
		return nil
	})
	if !ok {
		return false
	}

	c.changed = totalsChanged || len(dropped) > 0
	if len(dropped) > 0 {
		c.logger().WithField("dropped", len(dropped)).Info("unavailable items removed from cart")
	}
	return true
}

// Checkout фиксирует суммы и валюту и блокирует корзину для оплаты.
func (c *StoredCart) Checkout(ctx context.Context) bool {
	if !c.record.Status.CanTransitionTo(domain.CartStatusCheckout) {
		return false
	}
	price, payable := c.FinalPrice(), c.FinalPayable()

	ok := c.mutate(ctx, "checkout", domain.EventCartCheckedOut, func(context.Context) error {
		c.record.Currency = c.Currency()
		c.record.Price = price
		c.record.Payable = payable
		c.record.Status = domain.CartStatusCheckout
		c.record.CheckoutAt = c.svc.now()
		return nil
	})
	if !ok {
		return false
	}

	c.svc.metrics.RecordTransition(string(domain.CartStatusCheckout))
	c.logger().WithFields(log.Fields{
		"payable":  payable.String(),
		"currency": c.record.Currency,
	}).Info("cart checked out")
	return true
}

// Cancel отменяет корзину в статусе current или checkout. Применённый купон отменяется
// в той же транзакции; отказ купонной системы откатывает отмену.
func (c *StoredCart) Cancel(ctx context.Context) bool {
	if !c.record.Status.CanTransitionTo(domain.CartStatusCanceled) {
		return false
	}

	ok := c.mutate(ctx, "cancel", domain.EventCartCanceled, func(ctx context.Context) error {
		if c.svc.coupons != nil && c.record.HasCoupon() {
			result, err := c.svc.coupons.Cancel(ctx, c.Snapshot(ctx))
			if err != nil {
				c.couponResult = gatewayFailure(err)
				c.svc.metrics.RecordCouponOperation("cancel", false)
				return fmt.Errorf("cancel coupon usage: %w", err)
			}
			c.couponResult = result
			c.svc.metrics.RecordCouponOperation("cancel", result.OK)
			if !result.OK {
				return fmt.Errorf("%w: %s", domain.ErrCouponRejected, result.ErrorCode)
			}
			c.record.Coupon = nil
		}
		c.record.Status = domain.CartStatusCanceled
		return nil
	})
	if !ok {
		return false
	}

	c.svc.metrics.RecordTransition(string(domain.CartStatusCanceled))
	c.logger().Info("cart canceled")
	return true
}

// Deliver выдаёт доступ ко всем предложениям корзины и переводит её в delivered.
// Сбой любой выдачи откатывает все выдачи и статус.
func (c *StoredCart) Deliver(ctx context.Context) bool {
	if !c.IsCheckout() {
		return false
	}
	start := time.Now()

	ok := c.mutate(ctx, "deliver", domain.EventCartDelivered, func(ctx context.Context) error {
		items, err := c.svc.carts.ListItems(ctx, c.record.ID)
		if err != nil {
			return fmt.Errorf("load cart items: %w", err)
		}
		now := c.svc.now()
		for _, item := range items {
			instance, err := c.svc.catalog.Get(ctx, item.InstanceID)
			if err != nil {
				return fmt.Errorf("%w: load instance %s: %v", domain.ErrEnrollmentGrant, item.InstanceID, err)
			}
			roleID := instance.RoleID
			if roleID == "" {
				roleID = c.svc.settings.DefaultRoleID
			}
			if instance.EnrolPeriod <= 0 {
				instance.EnrolPeriod = c.svc.settings.DefaultEnrolPeriod
			}
			begin, end := instance.EnrolmentWindow(now)
			if err := c.svc.grantor.Grant(ctx, instance.ID, c.record.OwnerID, roleID, begin, end); err != nil {
				return fmt.Errorf("%w: instance %s: %v", domain.ErrEnrollmentGrant, instance.ID, err)
			}
		}
		c.record.Items = items
		c.record.Status = domain.CartStatusDelivered
		return nil
	})
	if !ok {
		return false
	}

	c.svc.metrics.RecordTransition(string(domain.CartStatusDelivered))
	c.svc.metrics.RecordDeliveryDuration(time.Since(start))
	c.logger().WithField("items", len(c.record.Items)).Info("cart delivered")
	return true
}

// ProcessFreeItems сразу оформляет и доставляет корзину, если платить нечего.
func (c *StoredCart) ProcessFreeItems(ctx context.Context) bool {
	if !c.IsFinalPayableZero() {
		return false
	}
	if !c.Checkout(ctx) {
		return false
	}
	return c.Deliver(ctx)
}

// mutate применяет fn и сохраняет корзину в одной транзакции, при необходимости
// кладя событие в outbox. При ошибке состояние в памяти возвращается к исходному.
func (c *StoredCart) mutate(ctx context.Context, operation, eventType string, fn func(ctx context.Context) error) bool {
	backup := c.record.Clone()

	err := c.svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		if err := c.persist(ctx); err != nil {
			return err
		}
		if eventType == "" {
			return nil
		}
		msg, err := EventMessage(c.record, eventType, c.svc.now())
		if err != nil {
			return err
		}
		if _, err := c.svc.outbox.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("enqueue %s: %w", eventType, err)
		}
		return nil
	})
	if err != nil {
		c.record = backup
		c.logger().WithError(err).WithField("operation", operation).Warn("cart operation rolled back")
		c.svc.metrics.RecordOperationFailure(operation)
		return false
	}
	return true
}

func (c *StoredCart) persist(ctx context.Context) error {
	c.record.UpdatedAt = c.svc.now()
	if c.session.actorID != "" {
		c.record.UpdatedBy = c.session.actorID
	}
	saved, err := c.svc.carts.Save(ctx, c.record)
	if err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	c.record.Version = saved.Version
	return nil
}

func (c *StoredCart) logger() *log.Entry {
	return c.svc.logger.WithFields(log.Fields{
		"cart_id":  c.record.ID,
		"owner_id": c.record.OwnerID,
		"status":   c.record.Status,
	})
}

func withoutItem(items []domain.LineItem, itemID string) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		if item.ID != itemID {
			out = append(out, item)
		}
	}
	return out
}
