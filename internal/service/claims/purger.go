// Package claims удаляет просроченные подтверждения оплаты. После удаления
// повтор того же платежа снова проходит полную проверку корзины.
package claims

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
	"github.com/vladislavdragonenkov/enrolcart/internal/metrics"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultBatchSize = 500
)

// Purger по таймеру удаляет claim'ы с истёкшим ExpiresAt.
type Purger struct {
	repo      domain.DeliveryClaimRepository
	logger    *log.Entry
	metrics   *metrics.CartMetrics
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// Option настраивает Purger.
type Option func(*Purger)

func WithLogger(logger *log.Entry) Option {
	return func(p *Purger) { p.logger = logger }
}

func WithMetrics(m *metrics.CartMetrics) Option {
	return func(p *Purger) { p.metrics = m }
}

// WithInterval задаёт паузу между прогонами; значения <= 0 игнорируются.
func WithInterval(interval time.Duration) Option {
	return func(p *Purger) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithBatchSize ограничивает одно удаление; значения <= 0 игнорируются.
func WithBatchSize(size int) Option {
	return func(p *Purger) {
		if size > 0 {
			p.batchSize = size
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Purger) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPurger(repo domain.DeliveryClaimRepository, options ...Option) *Purger {
	p := &Purger{
		repo:      repo,
		logger:    log.WithField("component", "delivery-claims-purger"),
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Run чистит claim'ы сразу и затем раз в interval, пока не отменён ctx.
func (p *Purger) Run(ctx context.Context) {
	if p.repo == nil {
		p.logger.Warn("delivery claims purge is disabled: no repository")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		purged, err := p.PurgeOnce(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			p.logger.WithError(err).WithField("purged", purged).Warn("delivery claims purge failed")
		case purged > 0:
			p.logger.WithField("purged", purged).Info("expired delivery claims purged")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PurgeOnce удаляет все просроченные на текущий момент claim'ы порциями batchSize.
// Неполная порция означает, что просроченных claim'ов больше нет.
func (p *Purger) PurgeOnce(ctx context.Context) (total int, err error) {
	defer func() {
		if !errors.Is(err, context.Canceled) {
			p.metrics.RecordClaimPurge(total, err)
		}
	}()

	before := p.now()
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		purged, err := p.repo.PurgeExpired(ctx, before, p.batchSize)
		total += purged
		if err != nil {
			return total, err
		}
		if purged < p.batchSize {
			return total, nil
		}
	}
}
