package app

import (
	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

// newTestEvent создаёт тестовое событие корзины для outbox.
func newTestEvent() domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateType: domain.AggregateTypeCart,
		AggregateID:   "test-cart-1",
		EventType:     domain.EventCartCheckedOut,
		Payload:       []byte(`{"cart_id":"test-cart-1"}`),
	}
}
