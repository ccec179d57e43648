package cart

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

type eventItem struct {
	ItemID     string          `json:"item_id"`
	InstanceID string          `json:"instance_id"`
	Price      decimal.Decimal `json:"price"`
	Payable    decimal.Decimal `json:"payable"`
}

// eventPayload — полный снимок атрибутов корзины в событии outbox.
type eventPayload struct {
	CartID               string          `json:"cart_id"`
	OwnerID              string          `json:"owner_id"`
	Status               string          `json:"status"`
	Currency             string          `json:"currency,omitempty"`
	Price                decimal.Decimal `json:"price"`
	Payable              decimal.Decimal `json:"payable"`
	CouponID             string          `json:"coupon_id,omitempty"`
	CouponCode           string          `json:"coupon_code,omitempty"`
	CouponUsageID        string          `json:"coupon_usage_id,omitempty"`
	CouponDiscountAmount decimal.Decimal `json:"coupon_discount_amount"`
	CheckoutAt           *time.Time      `json:"checkout_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	Items                []eventItem     `json:"items"`
	OccurredAt           time.Time       `json:"occurred_at"`
}

// EventMessage собирает сообщение outbox с полным снимком корзины.
func EventMessage(record domain.Cart, eventType string, occurredAt time.Time) (domain.OutboxMessage, error) {
	payload := eventPayload{
		CartID:               record.ID,
		OwnerID:              record.OwnerID,
		Status:               string(record.Status),
		Currency:             record.Currency,
		Price:                record.Price,
		Payable:              record.Payable,
		CouponDiscountAmount: decimal.Zero,
		CreatedAt:            record.CreatedAt,
		UpdatedAt:            record.UpdatedAt,
		Items:                make([]eventItem, 0, len(record.Items)),
		OccurredAt:           occurredAt,
	}
	if record.Coupon != nil {
		payload.CouponID = record.Coupon.CouponID
		payload.CouponCode = record.Coupon.Code
		payload.CouponUsageID = record.Coupon.UsageID
		payload.CouponDiscountAmount = record.Coupon.DiscountAmount
	}
	if !record.CheckoutAt.IsZero() {
		checkoutAt := record.CheckoutAt
		payload.CheckoutAt = &checkoutAt
	}
	for _, item := range record.Items {
		payload.Items = append(payload.Items, eventItem{
			ItemID:     item.ID,
			InstanceID: item.InstanceID,
			Price:      item.Price,
			Payable:    item.Payable,
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return domain.OutboxMessage{
		AggregateType: domain.AggregateTypeCart,
		AggregateID:   record.ID,
		EventType:     eventType,
		Payload:       data,
	}, nil
}
