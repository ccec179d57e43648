package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/messaging/kafka"
)

func TestSplitBrokers(t *testing.T) {
	brokers := splitBrokers(" broker1:9092, ,broker2:9092 ")
	if len(brokers) != 2 || brokers[0] != "broker1:9092" || brokers[1] != "broker2:9092" {
		t.Fatalf("unexpected brokers %v", brokers)
	}
	if splitBrokers("") != nil {
		t.Fatal("expected no brokers for empty string")
	}
}

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	for _, brokers := range []string{"", " , "} {
		producer, err := initKafkaProducer(brokers, logger)
		if err != nil {
			t.Errorf("expected no error for empty brokers %q, got %v", brokers, err)
		}
		if producer != nil {
			t.Errorf("expected nil producer for empty brokers %q", brokers)
		}
	}
}

func TestInitKafkaProducer_InvalidBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	// Используем несуществующие brokers
	producer, err := initKafkaProducer("broker1:9999, broker2:9999", logger)
	if err == nil {
		t.Error("expected error for invalid brokers")
	}
	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestStartPaymentConsumer_WithoutBrokers(t *testing.T) {
	cfg := DefaultConfig()
	consumer, err := startPaymentConsumer(cfg, kafka.DeliveryConfirmerFunc(func(context.Context, string, string, string, string) bool {
		return true
	}), nil, nil, log.WithField("test", "kafka"))
	if err != nil || consumer != nil {
		t.Fatalf("expected no consumer without brokers, got %v %v", consumer, err)
	}
}

func TestOutboxPublishers_WithoutKafka(t *testing.T) {
	publisher, dlq := outboxPublishers(DefaultConfig(), nil, log.WithField("test", "kafka"))
	if dlq != nil {
		t.Fatal("expected no DLQ publisher without kafka")
	}
	if err := publisher.Publish(newTestEvent()); err != nil {
		t.Fatalf("log publisher must accept events, got %v", err)
	}
}

func TestCloseKafka_NilProducer(t *testing.T) {
	logger := log.WithField("test", "kafka")

	// Не должно паниковать
	closeKafka(nil, logger)
	stopConsumer(nil, logger)
}
