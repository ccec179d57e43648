package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/storage/memory"
)

type stubConfirmer struct {
	result bool
	calls  []string
}

func (s *stubConfirmer) OnDeliveryConfirmed(_ context.Context, area, cartID, paymentID, userID string) bool {
	s.calls = append(s.calls, area+"/"+cartID+"/"+paymentID+"/"+userID)
	return s.result
}

func paymentMessage(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: TopicPaymentEvents, Key: []byte("pay-1"), Value: []byte(value)}
}

const succeededPayment = `{
	"event_type": "payment.succeeded",
	"payment_id": "pay-1",
	"component": "enrol_cart",
	"payment_area": "cart",
	"item_id": "cart-1",
	"user_id": "user-1",
	"amount": "900",
	"currency": "IRR",
	"gateway": "zarinpal"
}`

func TestPaymentHandler_RecordsPaymentAndDelivers(t *testing.T) {
	ctx := context.Background()
	payments := memory.NewPaymentRepository(memory.NewStore())
	confirmer := &stubConfirmer{result: true}
	handler := NewPaymentHandler(confirmer, payments, log.WithField("test", "payment-handler"))

	if err := handler(ctx, paymentMessage(succeededPayment)); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if len(confirmer.calls) != 1 || confirmer.calls[0] != "cart/cart-1/pay-1/user-1" {
		t.Fatalf("unexpected confirmations %v", confirmer.calls)
	}

	record, err := payments.Get(ctx, "pay-1")
	if err != nil {
		t.Fatalf("payment not recorded: %v", err)
	}
	if !record.Amount.Equal(decimal.NewFromInt(900)) || record.ItemID != "cart-1" || record.Gateway != "zarinpal" {
		t.Fatalf("unexpected payment record %+v", record)
	}

	// Повторная доставка сообщения не ломается на уже сохранённом платеже.
	if err := handler(ctx, paymentMessage(succeededPayment)); err != nil {
		t.Fatalf("redelivered message failed: %v", err)
	}
}

func TestPaymentHandler_RejectionIsAnError(t *testing.T) {
	handler := NewPaymentHandler(&stubConfirmer{result: false}, nil, nil)

	err := handler(context.Background(), paymentMessage(succeededPayment))
	if !errors.Is(err, ErrDeliveryRejected) {
		t.Fatalf("expected ErrDeliveryRejected, got %v", err)
	}
}

func TestPaymentHandler_IgnoresForeignEvents(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "other event type", value: `{"event_type":"payment.refunded","payment_id":"pay-1","component":"enrol_cart","payment_area":"cart","item_id":"cart-1","user_id":"user-1"}`},
		{name: "other component", value: `{"event_type":"payment.succeeded","payment_id":"pay-1","component":"enrol_fee","payment_area":"fee","item_id":"7","user_id":"user-1"}`},
		{name: "incomplete", value: `{"event_type":"payment.succeeded","component":"enrol_cart","payment_area":"cart","item_id":"cart-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			confirmer := &stubConfirmer{result: true}
			handler := NewPaymentHandler(confirmer, nil, log.WithField("test", tt.name))
			if err := handler(context.Background(), paymentMessage(tt.value)); err != nil {
				t.Fatalf("expected event to be skipped, got %v", err)
			}
			if len(confirmer.calls) != 0 {
				t.Fatalf("foreign event must not confirm delivery")
			}
		})
	}

	if err := NewPaymentHandler(&stubConfirmer{}, nil, nil)(context.Background(), paymentMessage("{")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConsumer_RetriesPaymentUntilDelivered(t *testing.T) {
	attempts := 0
	confirmer := DeliveryConfirmerFunc(func(context.Context, string, string, string, string) bool {
		attempts++
		return attempts == 3
	})
	consumer := &Consumer{
		handler:    NewPaymentHandler(confirmer, nil, log.WithField("test", "retry")),
		logger:     log.WithField("test", "consumer-retry"),
		maxRetries: 3,
	}

	if err := consumer.process(context.Background(), paymentMessage(succeededPayment)); err != nil {
		t.Fatalf("expected delivery on third attempt, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}
