package kafka

import (
	"errors"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

var errPublisherNotReady = errors.New("kafka outbox publisher has no producer")

// OutboxTopicPublisher кладёт события корзин в один topic в конверте CartEventEnvelope.
// Ключ — id корзины: события одной корзины идут через одну партицию и сохраняют порядок.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт publisher; пустой topic означает TopicCartEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicCartEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic, now: time.Now}
}

func (p *OutboxTopicPublisher) Topic() string { return p.topic }

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotReady
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}
	envelope := CartEventEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       event.Payload,
		PublishedAt:   p.now().UTC(),
	}

	// Номер попытки виден потребителю и помогает отличить повтор от дубля.
	return p.producer.PublishJSON(p.topic, key, envelope, map[string]string{
		HeaderEventType: event.EventType,
		HeaderOutboxID:  event.ID,
		HeaderAttempt:   strconv.Itoa(event.Attempts + 1),
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
