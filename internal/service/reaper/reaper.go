// Package reaper периодически удаляет брошенные корзины: отменённые и так и не оплаченные.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
	"github.com/vladislavdragonenkov/enrolcart/internal/metrics"
	"github.com/vladislavdragonenkov/enrolcart/internal/service/cart"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultBatchSize = 100

	sweepCanceled = "canceled"
	sweepPending  = "pending"
)

// Config задаёт сроки хранения корзин. Нулевой срок отключает соответствующую очистку.
type Config struct {
	CanceledCartLifetime       time.Duration
	PendingPaymentCartLifetime time.Duration
	// PreserveCartsWithPayment оставляет корзины, по которым есть запись о платеже.
	PreserveCartsWithPayment bool
}

// Dependencies — хранилища, с которыми работает reaper.
type Dependencies struct {
	Carts    domain.CartRepository
	Payments domain.PaymentRepository
	// Coupons может быть nil, если купоны выключены.
	Coupons domain.CouponGateway
	Outbox  domain.OutboxRepository
	Tx      domain.Transactor
}

// Report — итог одного прохода.
type Report struct {
	Canceled int
	Pending  int
	Skipped  int
	Failed   int
}

// Deleted возвращает общее число удалённых корзин.
func (r Report) Deleted() int { return r.Canceled + r.Pending }

// Options задаёт параметры reaper.
type Options struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	Clock     func() time.Time
	Metrics   *metrics.CartMetrics
}

// Option настраивает Reaper.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт размер страницы при выборке корзин.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// WithClock подменяет источник текущего времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// WithMetrics подключает метрики корзин.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// Reaper удаляет устаревшие корзины вместе с позициями и использованием купона.
type Reaper struct {
	deps      Dependencies
	cfg       Config
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	clock     func() time.Time
	metrics   *metrics.CartMetrics
}

// New создаёт reaper.
func New(deps Dependencies, cfg Config, options ...Option) *Reaper {
	opts := Options{
		Interval:  defaultInterval,
		BatchSize: defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "cart-reaper")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Reaper{
		deps:      deps,
		cfg:       cfg,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
	}
}

// Enabled сообщает, включена ли хотя бы одна очистка.
func (r *Reaper) Enabled() bool {
	return r.cfg.CanceledCartLifetime > 0 || r.cfg.PendingPaymentCartLifetime > 0
}

// Run выполняет проход сразу и затем каждые interval до отмены ctx.
func (r *Reaper) Run(ctx context.Context) {
	if !r.Enabled() {
		r.logger.Info("cart reaper is disabled: no lifetime configured")
		return
	}

	r.runOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reaper) runOnce(ctx context.Context) {
	report, err := r.SweepOnce(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.WithError(err).Warn("cart reaper run failed")
		return
	}
	if report.Deleted() > 0 || report.Failed > 0 {
		r.logger.WithFields(log.Fields{
			"canceled": report.Canceled,
			"pending":  report.Pending,
			"skipped":  report.Skipped,
			"failed":   report.Failed,
		}).Info("cart reaper completed")
	}
}

// SweepOnce выполняет обе очистки. Ошибка удаления отдельной корзины попадает в Report.Failed
// и не прерывает проход; ошибка возвращается только при сбое выборки.
func (r *Reaper) SweepOnce(ctx context.Context) (Report, error) {
	started := time.Now()
	defer func() { r.metrics.RecordReaperSweepDuration(time.Since(started)) }()

	var report Report
	now := r.clock()

	if lifetime := r.cfg.CanceledCartLifetime; lifetime > 0 {
		if err := r.sweep(ctx, sweepCanceled, domain.CartStatusCanceled, now.Add(-lifetime), &report); err != nil {
			return report, err
		}
	}
	if lifetime := r.cfg.PendingPaymentCartLifetime; lifetime > 0 {
		if err := r.sweep(ctx, sweepPending, domain.CartStatusCheckout, now.Add(-lifetime), &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (r *Reaper) sweep(ctx context.Context, name string, status domain.CartStatus, before time.Time, report *Report) error {
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := r.deps.Carts.ListExpired(ctx, status, before, afterID, r.batchSize)
		if err != nil {
			return fmt.Errorf("list expired %s carts: %w", name, err)
		}

		for _, record := range batch {
			afterID = record.ID
			logger := r.logger.WithFields(log.Fields{"cart_id": record.ID, "sweep": name})

			err := r.reap(ctx, logger, record.ID, status, before)
			switch {
			case errors.Is(err, errCartKept):
				report.Skipped++
				r.metrics.RecordReaperSkipped()
				continue
			case err != nil:
				report.Failed++
				r.metrics.RecordReaperFailure()
				logger.WithError(err).Warn("cart deletion rolled back")
				continue
			}

			if name == sweepCanceled {
				report.Canceled++
			} else {
				report.Pending++
			}
			r.metrics.RecordReaperDeleted(name)
		}

		if len(batch) < r.batchSize {
			return nil
		}
	}
}

// errCartKept — корзина больше не подлежит удалению: её оплатили, изменили или удалили
// после выборки, либо по ней есть запись о платеже.
var errCartKept = errors.New("cart is kept")

// reap удаляет одну корзину в транзакции: позиции, корзина, купон и событие cart.deleted.
// Корзина перечитывается внутри транзакции, а удаление проверяет версию, поэтому
// изменение после ListExpired оставляет корзину на месте.
func (r *Reaper) reap(ctx context.Context, logger *log.Entry, cartID string, status domain.CartStatus, before time.Time) error {
	return r.deps.Tx.WithinTx(ctx, func(ctx context.Context) error {
		record, err := r.deps.Carts.Get(ctx, cartID)
		if errors.Is(err, domain.ErrCartNotFound) {
			return errCartKept
		}
		if err != nil {
			return fmt.Errorf("reload cart: %w", err)
		}
		if record.Status != status || !record.ExpiryMark().Before(before) {
			return errCartKept
		}

		if r.cfg.PreserveCartsWithPayment {
			paid, err := r.deps.Payments.ExistsForCart(ctx, cartID)
			if err != nil {
				return fmt.Errorf("payment lookup: %w", err)
			}
			if paid {
				return errCartKept
			}
		}

		if _, err := r.deps.Carts.DeleteItems(ctx, cartID); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		err = r.deps.Carts.Delete(ctx, cartID, record.Version)
		if errors.Is(err, domain.ErrCartVersionConflict) || errors.Is(err, domain.ErrCartNotFound) {
			return errCartKept
		}
		if err != nil {
			return fmt.Errorf("delete cart: %w", err)
		}

		if r.deps.Coupons != nil && record.HasCoupon() {
			result, err := r.deps.Coupons.Cancel(ctx, snapshot(record))
			if err != nil {
				return fmt.Errorf("cancel coupon usage: %w", err)
			}
			if !result.OK {
				logger.WithFields(log.Fields{
					"coupon_id":  record.Coupon.CouponID,
					"error_code": result.ErrorCode,
				}).Warn("coupon usage was not canceled")
			}
		}

		msg, err := cart.EventMessage(record, domain.EventCartDeleted, r.clock())
		if err != nil {
			return err
		}
		if _, err := r.deps.Outbox.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("enqueue %s: %w", domain.EventCartDeleted, err)
		}
		return nil
	})
}

// snapshot собирает снимок удаляемой корзины для отмены купона по сохранённым суммам.
func snapshot(record domain.Cart) domain.CartSnapshot {
	out := domain.CartSnapshot{
		CartID:       record.ID,
		UserID:       record.OwnerID,
		Currency:     record.Currency,
		FinalPrice:   record.Price,
		FinalPayable: record.Payable,
		Items:        make([]domain.ItemSnapshot, 0, len(record.Items)),
	}
	if coupon := record.Coupon; coupon != nil {
		out.CouponID = coupon.CouponID
		out.CouponCode = coupon.Code
		out.CouponUsageID = coupon.UsageID
		out.CouponDiscountAmount = coupon.DiscountAmount
	}
	for _, item := range record.Items {
		out.Items = append(out.Items, domain.ItemSnapshot{
			ItemID:      item.ID,
			InstanceID:  item.InstanceID,
			Price:       item.Price,
			Payable:     item.Payable,
			HasDiscount: item.HasDiscount(),
		})
	}
	return out
}
