package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
	"github.com/vladislavdragonenkov/enrolcart/internal/messaging/kafka"
)

// splitBrokers разбирает список brokers через запятую.
func splitBrokers(brokers string) []string {
	var list []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			list = append(list, broker)
		}
	}
	return list
}

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// startPaymentConsumer подписывает authority на подтверждения оплаты.
// Сообщения, которые не удалось обработать, уходят в DLQ через producer.
func startPaymentConsumer(
	cfg Config,
	confirmer kafka.DeliveryConfirmer,
	payments domain.PaymentRepository,
	producer *kafka.Producer,
	logger *log.Entry,
) (*kafka.Consumer, error) {
	brokerList := splitBrokers(cfg.KafkaBrokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	handler := kafka.NewPaymentHandler(confirmer, payments, logger.WithField("component", "payment-events"))
	opts := []kafka.ConsumerOption{
		kafka.WithRetries(cfg.KafkaMaxRetries, -1),
		kafka.WithConsumerLogger(logger.WithField("component", "payment-consumer")),
	}
	if producer != nil {
		opts = append(opts, kafka.WithDeadLetters(producer))
	}
	consumer, err := kafka.NewConsumer(brokerList, cfg.KafkaGroupID, []string{cfg.PaymentEventTopic}, handler, opts...)
	if err != nil {
		return nil, err
	}
	return consumer, nil
}

// outboxPublishers возвращает publisher событий корзин и publisher DLQ.
// Без Kafka события только пишутся в лог, чтобы backlog не рос бесконечно.
func outboxPublishers(cfg Config, producer *kafka.Producer, logger *log.Entry) (domain.OutboxPublisher, domain.OutboxPublisher) {
	if producer == nil {
		return logPublisher{logger: logger.WithField("component", "outbox-log")}, nil
	}
	return kafka.NewOutboxPublisher(producer, cfg.CartEventsTopic), kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)
}

// logPublisher — publisher для запуска без брокера.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": event.EventType,
		"cart_id":    event.AggregateID,
	}).Debug("cart event published to log")
	return nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// stopConsumer останавливает consumer если он запущен.
func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
