package kafka

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultClientID = "enrolcart"

// ProducerOption донастраивает sarama.Config перед созданием producer'а.
type ProducerOption func(*sarama.Config)

// WithClientID задаёт client.id, под которым сервис виден брокеру.
func WithClientID(id string) ProducerOption {
	return func(cfg *sarama.Config) {
		if id != "" {
			cfg.ClientID = id
		}
	}
}

// WithMaxRetries ограничивает число повторов отправки внутри sarama.
func WithMaxRetries(retries int) ProducerOption {
	return func(cfg *sarama.Config) {
		if retries >= 0 {
			cfg.Producer.Retry.Max = retries
		}
	}
}

// Producer — синхронный producer событий корзин и писем в DLQ.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
	now      func() time.Time
}

// NewProducer подключается к brokers. Producer идемпотентный: acks=all и одна
// незавершённая отправка на соединение, иначе sarama отклоняет конфигурацию.
func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, newProducerConfig(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerFromSync(producer), nil
}

func newProducerConfig(opts ...ProducerOption) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = defaultClientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer.
func NewProducerFromSync(producer sarama.SyncProducer) *Producer {
	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
		now:      time.Now,
	}
}

// PublishJSON сериализует event в JSON и публикует с заголовками headers.
func (p *Producer) PublishJSON(topic, key string, event any, headers map[string]string) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", topic, err)
	}
	return p.Publish(topic, key, value, headers)
}

// Publish отправляет готовое сообщение. Пустой key оставляет выбор партиции
// partitioner'у; заголовки пишутся в порядке имён.
func (p *Producer) Publish(topic, key string, value []byte, headers map[string]string) error {
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(value),
		Timestamp: p.now(),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(headers[name])})
	}

	fields := log.Fields{"topic": topic, "key": key}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message to %s: %w", topic, err)
	}

	fields["partition"] = partition
	fields["offset"] = offset
	p.logger.WithFields(fields).Debug("message sent to kafka")
	return nil
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
