// Package outbox переносит события корзин из transactional outbox в брокер сообщений.
//
// Неудачная публикация не повторяется в цикле: сообщение получает следующую
// попытку по расписанию в хранилище, поэтому перезапуск сервиса не сбрасывает
// счётчик попыток, а один недоступный топик не задерживает весь батч.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 2 * time.Second
	maxRetryDelay         = 10 * time.Minute
)

var (
	publishResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_outbox_publish_attempts_total",
		Help: "Cart event publish attempts by event type and result.",
	}, []string{"event_type", "result"})
	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_outbox_pending_records",
		Help: "Cart events waiting in transactional outbox, including scheduled retries.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending cart event.",
	})
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger         *log.Entry
	DLQPublisher   domain.OutboxPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Clock          func() time.Time
}

type Option func(*WorkerOptions)

func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) { opts.Logger = logger }
}

// WithDLQPublisher задаёт publisher для событий, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) { opts.DLQPublisher = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) { opts.PollInterval = interval }
}

func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) { opts.BatchSize = batchSize }
}

// WithMaxAttempts задаёт общее число публикаций одного события до failed.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) { opts.MaxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт паузу перед второй попыткой; дальше она удваивается.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) { opts.RetryBaseDelay = delay }
}

func WithClock(clock func() time.Time) Option {
	return func(opts *WorkerOptions) { opts.Clock = clock }
}

// Worker публикует события корзин, срок попытки которых наступил.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlqPublisher   domain.OutboxPublisher
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	clock          func() time.Time
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{RetryBaseDelay: defaultRetryBaseDelay}
	for _, option := range options {
		option(&opts)
	}

	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		dlqPublisher:   opts.DLQPublisher,
		logger:         opts.Logger,
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: max(opts.RetryBaseDelay, 0),
		clock:          opts.Clock,
	}
	if w.logger == nil {
		w.logger = log.WithField("component", "cart-outbox-worker")
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	if w.clock == nil {
		w.clock = func() time.Time { return time.Now().UTC() }
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует один батч и возвращает число отправленных событий.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	now := w.clock()
	events, err := w.repo.PullDue(ctx, now, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull due cart events")
		return 0
	}

	sent := 0
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		if w.deliver(ctx, event, now) {
			sent++
		}
	}

	w.refreshBacklogMetrics(ctx, now)
	return sent
}

// deliver делает одну попытку публикации и записывает её итог в outbox.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage, now time.Time) bool {
	logger := w.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"cart_id":    event.AggregateID,
		"event_type": event.EventType,
	})

	publishErr := w.publisher.Publish(event)
	if publishErr == nil {
		publishResults.WithLabelValues(event.EventType, "sent").Inc()
		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			logger.WithError(err).Warn("cart event published but not marked as sent")
			return false
		}
		return true
	}

	attempt := event.Attempts + 1
	if attempt < w.maxAttempts {
		next := now.Add(w.retryBackoff(attempt))
		publishResults.WithLabelValues(event.EventType, "retry_scheduled").Inc()
		logger.WithError(publishErr).WithFields(log.Fields{
			"attempt":         attempt,
			"next_attempt_at": next,
		}).Warn("cart event publish failed, retry scheduled")
		if err := w.repo.ScheduleRetry(ctx, event.ID, next, publishErr.Error()); err != nil {
			logger.WithError(err).Warn("failed to schedule outbox retry")
		}
		return false
	}

	publishErr = fmt.Errorf("%w after %d attempts: %w", domain.ErrOutboxPublish, attempt, publishErr)
	publishResults.WithLabelValues(event.EventType, "failed").Inc()
	logger.WithError(publishErr).Error("cart event dropped from outbox")

	if err := w.publishToDLQ(event, publishErr, now); err != nil {
		publishResults.WithLabelValues(event.EventType, "dlq_failed").Inc()
		logger.WithError(err).Warn("failed to publish cart event to DLQ")
	}
	if err := w.repo.MarkFailed(ctx, event.ID, publishErr.Error()); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Warn("failed to mark outbox record as failed")
	}
	return false
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context, now time.Time) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	pendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		oldestPendingAge.Set(0)
		return
	}
	oldestPendingAge.Set(max(now.Sub(stats.OldestPendingAt).Seconds(), 0))
}

// retryBackoff — пауза после attempt неудачных попыток: base, 2*base, 4*base... не больше maxRetryDelay.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	delay := w.retryBaseDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

// deadLetter — конверт события в DLQ.
type deadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	CartID         string          `json:"cart_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Attempts       int             `json:"attempts"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

func (w *Worker) publishToDLQ(event domain.OutboxMessage, publishErr error, now time.Time) error {
	if w.dlqPublisher == nil {
		return nil
	}

	letter := deadLetter{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		CartID:         event.AggregateID,
		EventType:      event.EventType,
		Attempts:       event.Attempts + 1,
		PublishError:   publishErr.Error(),
		DLQPublishedAt: now,
	}
	if json.Valid(event.Payload) {
		letter.Payload = event.Payload
	}
	payload, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	dead := event
	dead.Payload = payload
	if err := w.dlqPublisher.Publish(dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
