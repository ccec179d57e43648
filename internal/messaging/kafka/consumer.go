package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultConsumerAttempts = 3
	defaultConsumerBackoff  = 200 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение. Ошибка означает, что сообщение
// можно попробовать ещё раз.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer читает topics в consumer group и вызывает handler для каждого сообщения.
// Offset фиксируется только после успешной обработки или отправки в DLQ.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	maxRetries  int
	retryDelay  time.Duration
}

type ConsumerOption func(*Consumer)

// WithDeadLetters включает DLQ: сообщение, исчерпавшее попытки, уходит в
// TopicDeadLetterQueue и считается обработанным.
func WithDeadLetters(producer *Producer) ConsumerOption {
	return func(c *Consumer) { c.dlqProducer = producer }
}

// WithRetries задаёт общее число попыток с учётом x-retry-count и паузу между ними.
// Неположительное attempts и отрицательная delay оставляют значения по умолчанию.
func WithRetries(attempts int, delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if attempts > 0 {
			c.maxRetries = attempts
		}
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumer подключается к brokers; сообщения читаются с самого старого offset группы.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("join consumer group %s: %w", groupID, err)
	}

	c := &Consumer{
		consumer:   group,
		topics:     topics,
		handler:    handler,
		logger:     log.WithField("component", "kafka-consumer"),
		maxRetries: defaultConsumerAttempts,
		retryDelay: defaultConsumerBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start запускает чтение в фоне и возвращается сразу. Consume повторяется
// после каждого rebalance, пока ctx не отменён.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for ctx.Err() == nil {
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consumer group session ended with error")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("close consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает партицию последовательно. Необработанное сообщение
// не отмечается и будет прочитано снова после rebalance или рестарта.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			if err := c.process(ctx, msg); err != nil {
				c.logger.WithError(err).WithFields(log.Fields{
					"topic":     msg.Topic,
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Error("message left unacknowledged")
				continue
			}
			session.MarkMessage(msg, "")
		}
	}
}

// process тратит оставшийся бюджет попыток: maxRetries минус уже сделанные
// (x-retry-count), но не меньше одной.
func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) error {
	prior := priorAttempts(msg)
	budget := max(c.maxRetries-prior, 1)

	var err error
	for attempt := 1; ; attempt++ {
		if err = c.handler(ctx, msg); err == nil {
			return nil
		}
		if attempt == budget {
			break
		}
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":   msg.Topic,
			"attempt": prior + attempt,
			"budget":  c.maxRetries,
		}).Warn("message handling failed, retrying")
		if err := sleepCtx(ctx, c.retryDelay); err != nil {
			return err
		}
	}

	if c.dlqProducer == nil {
		return err
	}
	total := prior + budget
	if dlqErr := c.deadLetter(msg, err, total); dlqErr != nil {
		return errors.Join(err, fmt.Errorf("dead letter: %w", dlqErr))
	}
	c.logger.WithFields(log.Fields{"topic": msg.Topic, "attempts": total}).Warn("message moved to DLQ")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// priorAttempts читает x-retry-count; нечисловое значение считается нулём.
func priorAttempts(msg *sarama.ConsumerMessage) int {
	for _, h := range msg.Headers {
		if h == nil || string(h.Key) != HeaderRetryCount {
			continue
		}
		if n, err := strconv.Atoi(string(h.Value)); err == nil {
			return n
		}
	}
	return 0
}

// consumerDeadLetter — письмо в DLQ с исходным сообщением; DecodeDeadLetter восстанавливает его.
type consumerDeadLetter struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

func (c *Consumer) deadLetter(msg *sarama.ConsumerMessage, cause error, attempts int) error {
	letter := consumerDeadLetter{
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		OriginalKey:       string(msg.Key),
		OriginalValue:     string(msg.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          time.Now().UTC().Format(time.RFC3339),
		RetryCount:        attempts,
	}
	return c.dlqProducer.PublishJSON(TopicDeadLetterQueue, letter.OriginalKey, letter, map[string]string{
		HeaderRetryCount:    strconv.Itoa(attempts),
		HeaderOriginalTopic: letter.OriginalTopic,
		HeaderErrorMessage:  letter.ErrorMessage,
		HeaderFailedAt:      letter.FailedAt,
	})
}
