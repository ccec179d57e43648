package domain

import "time"

// DefaultClaimRetention — срок хранения claim, если ExpiresAt не задан.
const DefaultClaimRetention = 24 * time.Hour

// ClaimStatus — этап обработки подтверждения оплаты.
type ClaimStatus string

const (
	ClaimInFlight  ClaimStatus = "in_flight"
	ClaimDelivered ClaimStatus = "delivered"
	// ClaimRejected — корзина не доставлена; тот же платёж можно подтвердить ещё раз.
	ClaimRejected  ClaimStatus = "rejected"
)

// DeliveryClaim закрепляет платёж за корзиной и покупателем, пока идёт доставка,
// и хранит итог, чтобы повторное подтверждение не доставляло корзину дважды.
type DeliveryClaim struct {
	PaymentID string
	CartID    string
	UserID    string
	Status    ClaimStatus
	// Attempts — сколько раз платёж захватывался для доставки.
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Matches сообщает, что claim выдан для той же корзины и того же покупателя.
func (c DeliveryClaim) Matches(cartID, userID string) bool {
	return c.CartID == cartID && c.UserID == userID
}

func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimInFlight, ClaimDelivered, ClaimRejected:
		return true
	}
	return false
}

// Resolved сообщает, что обработка закончена с тем или иным итогом.
func (s ClaimStatus) Resolved() bool {
	return s == ClaimDelivered || s == ClaimRejected
}
