package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
)

// EventType определяет тип события
type EventType string

const (
	// EventTypePaymentSucceeded публикует платёжная подсистема после успешной оплаты.
	EventTypePaymentSucceeded EventType = "payment.succeeded"
)

// Topics для Kafka
const (
	TopicCartEvents      = "enrolcart.cart.events"
	TopicPaymentEvents   = "enrolcart.payment.events"
	TopicDeadLetterQueue = "enrolcart.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderAttempt       = "x-publish-attempt"
)

// CartEventEnvelope — сообщение о событии корзины в TopicCartEvents.
type CartEventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// PaymentEvent — подтверждение оплаты от платёжной подсистемы.
type PaymentEvent struct {
	EventType EventType       `json:"event_type"`
	PaymentID string          `json:"payment_id"`
	Component string          `json:"component"`
	Area      string          `json:"payment_area"`
	ItemID    string          `json:"item_id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	AccountID string          `json:"account_id,omitempty"`
	Gateway   string          `json:"gateway"`
	Timestamp time.Time       `json:"timestamp"`
}

// ParsePaymentEvent парсит PaymentEvent из сообщения
func ParsePaymentEvent(message *sarama.ConsumerMessage) (*PaymentEvent, error) {
	var event PaymentEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment event: %w", err)
	}
	return &event, nil
}

// ParseCartEvent парсит конверт события корзины из сообщения
func ParseCartEvent(message *sarama.ConsumerMessage) (*CartEventEnvelope, error) {
	var event CartEventEnvelope
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cart event: %w", err)
	}
	return &event, nil
}
