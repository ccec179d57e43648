package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

// ErrDeliveryRejected — корзина не была доставлена по подтверждённому платежу.
var ErrDeliveryRejected = errors.New("cart delivery rejected")

// DeliveryConfirmer доставляет корзину после подтверждения оплаты.
type DeliveryConfirmer interface {
	OnDeliveryConfirmed(ctx context.Context, area, cartID, paymentID, userID string) bool
}

// DeliveryConfirmerFunc позволяет использовать функцию как DeliveryConfirmer.
type DeliveryConfirmerFunc func(ctx context.Context, area, cartID, paymentID, userID string) bool

func (f DeliveryConfirmerFunc) OnDeliveryConfirmed(ctx context.Context, area, cartID, paymentID, userID string) bool {
	return f(ctx, area, cartID, paymentID, userID)
}

// NewPaymentHandler возвращает обработчик TopicPaymentEvents. Событие payment.succeeded
// для корзин сохраняется как запись о платеже и передаётся в DeliveryConfirmer;
// отказ в доставке возвращает ошибку, чтобы сработали retry и DLQ.
func NewPaymentHandler(confirmer DeliveryConfirmer, payments domain.PaymentRepository, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-events")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParsePaymentEvent(message)
		if err != nil {
			return err
		}
		if event.EventType != EventTypePaymentSucceeded {
			return nil
		}
		if event.Component != domain.PaymentComponent || event.Area != domain.PaymentArea {
			// Платёж другого компонента, не наш.
			return nil
		}

		fields := log.Fields{
			"payment_id": event.PaymentID,
			"cart_id":    event.ItemID,
			"user_id":    event.UserID,
		}
		if event.PaymentID == "" || event.ItemID == "" || event.UserID == "" {
			logger.WithFields(fields).Warn("incomplete payment event skipped")
			return nil
		}

		if payments != nil {
			err := payments.Record(ctx, domain.PaymentRecord{
				ID:        event.PaymentID,
				Component: event.Component,
				Area:      event.Area,
				ItemID:    event.ItemID,
				UserID:    event.UserID,
				Amount:    event.Amount,
				Currency:  event.Currency,
				AccountID: event.AccountID,
				Gateway:   event.Gateway,
				CreatedAt: event.Timestamp,
			})
			if err != nil {
				return fmt.Errorf("record payment %s: %w", event.PaymentID, err)
			}
		}

		if !confirmer.OnDeliveryConfirmed(ctx, event.Area, event.ItemID, event.PaymentID, event.UserID) {
			return fmt.Errorf("%w: cart %s, payment %s", ErrDeliveryRejected, event.ItemID, event.PaymentID)
		}
		logger.WithFields(fields).Info("paid cart delivered")
		return nil
	}
}
