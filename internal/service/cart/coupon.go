package cart

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

func gatewayFailure(err error) domain.CouponResult {
	return domain.CouponFailure(domain.CouponErrGatewayFailure, err.Error())
}

// couponRefusal возвращает отказ, если купонные операции сейчас недоступны.
func (c *StoredCart) couponRefusal() (domain.CouponResult, bool) {
	if c.svc.coupons == nil {
		return domain.CouponFailure(domain.CouponErrDisabled, "coupons are disabled"), true
	}
	if !c.CanEditItems() {
		return domain.CouponFailure(domain.CouponErrNotEditable, "cart cannot be edited"), true
	}
	return domain.CouponResult{}, false
}

func (c *StoredCart) resolveCoupon(ctx context.Context, code string) (string, bool) {
	if code == "" {
		c.couponResult = domain.CouponFailure(domain.CouponErrInvalid, "coupon code is empty")
		return "", false
	}
	couponID, err := c.svc.coupons.ResolveCouponID(ctx, code)
	if err != nil {
		c.couponResult = gatewayFailure(err)
		c.svc.metrics.RecordCouponOperation("resolve", false)
		c.logger().WithError(err).Warn("resolve coupon failed")
		return "", false
	}
	if couponID == "" {
		c.couponResult = domain.CouponFailure(domain.CouponErrInvalid, "coupon code is not recognized")
		return "", false
	}
	return couponID, true
}

// CouponValidate проверяет купон на текущем составе корзины, не применяя его.
// Итог доступен через CouponResult и учитывается в PreviewPayable.
func (c *StoredCart) CouponValidate(ctx context.Context, code string) bool {
	if refusal, refused := c.couponRefusal(); refused {
		c.couponResult = refusal
		return false
	}
	code = strings.TrimSpace(code)
	couponID, ok := c.resolveCoupon(ctx, code)
	if !ok {
		return false
	}

	result, err := c.svc.coupons.Validate(ctx, c.Snapshot(ctx), couponID)
	if err != nil {
		c.couponResult = gatewayFailure(err)
		c.svc.metrics.RecordCouponOperation("validate", false)
		c.logger().WithError(err).Warn("validate coupon failed")
		return false
	}
	if result.CouponID == "" {
		result.CouponID = couponID
	}
	if result.CouponCode == "" {
		result.CouponCode = code
	}
	c.couponResult = result
	c.svc.metrics.RecordCouponOperation("validate", result.OK)
	return result.OK
}

// CouponApply проверяет и применяет купон: купонная система регистрирует использование,
// корзина сохраняет привязку и пересчитывает сумму к оплате.
func (c *StoredCart) CouponApply(ctx context.Context, code string) bool {
	if refusal, refused := c.couponRefusal(); refused {
		c.couponResult = refusal
		return false
	}
	if c.record.Coupon != nil {
		c.couponResult = domain.CouponFailure(domain.CouponErrAlreadyApplied, "cart already has a coupon")
		return false
	}
	if !c.CouponValidate(ctx, code) {
		return false
	}
	validated := c.couponResult

	result, err := c.svc.coupons.Apply(ctx, c.Snapshot(ctx), validated.CouponID)
	if err != nil {
		c.couponResult = gatewayFailure(err)
		c.svc.metrics.RecordCouponOperation("apply", false)
		c.logger().WithError(err).Warn("apply coupon failed")
		return false
	}
	c.svc.metrics.RecordCouponOperation("apply", result.OK)
	if result.CouponID == "" {
		result.CouponID = validated.CouponID
	}
	if result.CouponCode == "" {
		result.CouponCode = validated.CouponCode
	}
	if !result.DiscountAmount.Valid {
		result.DiscountAmount = validated.DiscountAmount
	}
	c.couponResult = result
	if !result.OK {
		return false
	}

	applied := &domain.AppliedCoupon{
		CouponID:       result.CouponID,
		Code:           result.CouponCode,
		UsageID:        result.UsageID,
		DiscountAmount: result.DiscountAmount.Decimal,
	}
	ok := c.mutate(ctx, "coupon_apply", domain.EventCartCouponApplied, func(context.Context) error {
		c.record.Coupon = applied
		c.record.Payable = c.FinalPayable()
		return nil
	})
	if !ok {
		c.releaseUsage(ctx, applied)
		c.couponResult = domain.CouponFailure(domain.CouponErrSaveFailed, "cart could not be saved")
		return false
	}

	c.logger().WithFields(log.Fields{
		"coupon_id": applied.CouponID,
		"discount":  applied.DiscountAmount.String(),
	}).Info("coupon applied")
	return true
}

// releaseUsage отменяет использование купона, которое не удалось сохранить в корзине.
func (c *StoredCart) releaseUsage(ctx context.Context, applied *domain.AppliedCoupon) {
	snapshot := c.Snapshot(ctx)
	snapshot.CouponID = applied.CouponID
	snapshot.CouponCode = applied.Code
	snapshot.CouponUsageID = applied.UsageID
	snapshot.CouponDiscountAmount = applied.DiscountAmount

	result, err := c.svc.coupons.Cancel(ctx, snapshot)
	if err != nil || !result.OK {
		c.logger().WithError(err).WithFields(log.Fields{
			"coupon_id": applied.CouponID,
			"usage_id":  applied.UsageID,
		}).Error("orphaned coupon usage could not be released")
	}
}

// CouponCheckAvailability проверяет, что применённый купон всё ещё действует
// и даёт ту же скидку. Корзина без купона всегда проходит проверку.
func (c *StoredCart) CouponCheckAvailability(ctx context.Context) bool {
	coupon := c.record.Coupon
	if coupon == nil || coupon.CouponID == "" {
		return true
	}
	if c.svc.coupons == nil {
		return true
	}

	result, err := c.svc.coupons.Validate(ctx, c.Snapshot(ctx), coupon.CouponID)
	if err != nil {
		c.couponResult = gatewayFailure(err)
		c.svc.metrics.RecordCouponOperation("check", false)
		c.logger().WithError(err).Warn("check coupon availability failed")
		return false
	}
	c.svc.metrics.RecordCouponOperation("check", result.OK)
	c.couponResult = result
	if !result.OK {
		return false
	}
	if !result.DiscountAmount.Valid || !result.DiscountAmount.Decimal.Equal(coupon.DiscountAmount) {
		mismatch := domain.CouponFailure(domain.CouponErrDiscountMismatch, "coupon discount has changed")
		mismatch.CouponID = coupon.CouponID
		mismatch.CouponCode = coupon.Code
		mismatch.DiscountAmount = result.DiscountAmount
		c.couponResult = mismatch
		return false
	}
	return true
}

// CouponCancel отменяет использование купона и снимает его с корзины.
func (c *StoredCart) CouponCancel(ctx context.Context) bool {
	if !c.record.HasCoupon() {
		return false
	}
	if refusal, refused := c.couponRefusal(); refused {
		c.couponResult = refusal
		return false
	}

	result, err := c.svc.coupons.Cancel(ctx, c.Snapshot(ctx))
	if err != nil {
		c.couponResult = gatewayFailure(err)
		c.svc.metrics.RecordCouponOperation("cancel", false)
		c.logger().WithError(err).Warn("cancel coupon failed")
		return false
	}
	c.svc.metrics.RecordCouponOperation("cancel", result.OK)
	c.couponResult = result
	if !result.OK {
		return false
	}

	ok := c.mutate(ctx, "coupon_cancel", domain.EventCartCouponCanceled, func(context.Context) error {
		c.record.Coupon = nil
		c.record.Payable = c.FinalPayable()
		return nil
	})
	if !ok {
		return false
	}
	return c.Refresh(ctx, true)
}
