package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyDeadLetter — в письме DLQ нет исходного сообщения для повтора.
var ErrEmptyDeadLetter = errors.New("dead letter has no original payload")

// ReplayMessage — сообщение, восстановленное из DLQ для повторной публикации.
type ReplayMessage struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// outboxDeadLetter повторяет формат, в котором outbox worker складывает
// неопубликованные события корзин в DLQ.
type outboxDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	CartID        string          `json:"cart_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// DecodeDeadLetter разбирает сообщение из TopicDeadLetterQueue.
//
// Поддерживаются два формата: письма consumer'а (исходное сообщение лежит в
// original_value и уходит обратно в original_topic) и письма outbox worker'а,
// из которых заново собирается CartEventEnvelope для cartTopic. Счётчик
// повторов при этом сбрасывается. Неизвестный формат возвращает ok=false.
func DecodeDeadLetter(value []byte, cartTopic string, now time.Time) (ReplayMessage, bool, error) {
	var consumed consumerDeadLetter
	if err := json.Unmarshal(value, &consumed); err == nil && consumed.OriginalValue != "" {
		topic := strings.TrimSpace(consumed.OriginalTopic)
		if topic == "" {
			topic = cartTopic
		}
		return ReplayMessage{
			Topic: topic,
			Key:   consumed.OriginalKey,
			Value: []byte(consumed.OriginalValue),
		}, true, nil
	}

	var envelope CartEventEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return ReplayMessage{}, false, nil
	}

	var letter outboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return ReplayMessage{}, false, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(letter.Payload) == 0 || string(letter.Payload) == "null" {
		return ReplayMessage{}, false, ErrEmptyDeadLetter
	}

	restored := CartEventEnvelope{
		ID:            pick(letter.OutboxID, envelope.ID),
		AggregateType: pick(letter.AggregateType, envelope.AggregateType),
		AggregateID:   pick(letter.CartID, envelope.AggregateID),
		EventType:     pick(letter.EventType, envelope.EventType),
		Payload:       letter.Payload,
		PublishedAt:   now.UTC(),
	}
	encoded, err := json.Marshal(restored)
	if err != nil {
		return ReplayMessage{}, false, fmt.Errorf("encode cart event: %w", err)
	}

	return ReplayMessage{
		Topic:   cartTopic,
		Key:     pick(restored.AggregateID, restored.ID),
		Value:   encoded,
		Headers: map[string]string{HeaderEventType: restored.EventType},
	}, true, nil
}

func pick(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
