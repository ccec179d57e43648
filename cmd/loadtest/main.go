// Command loadtest прогоняет конкурентных покупателей через сервисы корзин в
// одном процессе (in-memory хранилище) и печатает отчёт по задержкам шагов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/app"
	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
	"github.com/vladislavdragonenkov/enrolcart/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/enrolcart/internal/metrics"
	"github.com/vladislavdragonenkov/enrolcart/internal/service/checkout"
	"github.com/vladislavdragonenkov/enrolcart/internal/service/coupon"
	"github.com/vladislavdragonenkov/enrolcart/internal/storage/memory"
)

const (
	codeOK       = "ok"
	codeRejected = "rejected"
	codeError    = "error"
)

type loadMode string

const (
	modeCheckout    loadMode = "checkout"
	modeCheckoutPay loadMode = "checkout-pay"
	modeAddCancel   loadMode = "add-cancel"
)

type config struct {
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	courses     int
	price       decimal.Decimal
	currency    string
	coupon      string
	customerTag string
	outputPath  string
	logLevel    log.Level
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var (
		cfg        config
		modeValue  string
		priceValue string
		levelValue string
	)

	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 1m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent buyers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-scenario timeout")
	fs.StringVar(&modeValue, "mode", string(modeCheckout), "load mode: checkout | checkout-pay | add-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "share of checkout-pay buyers that cancel before checkout, percent (0..100)")
	fs.IntVar(&cfg.courses, "courses", 10, "number of seeded courses")
	fs.StringVar(&priceValue, "price", "150000", "price of every seeded course")
	fs.StringVar(&cfg.currency, "currency", "IRR", "cart currency")
	fs.StringVar(&cfg.coupon, "coupon", "", "optional static coupon applied at checkout, CODE=fixed:AMOUNT or CODE=percentage:AMOUNT")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "buyer id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	fs.StringVar(&levelValue, "log-level", "error", "service log level")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	price, err := decimal.NewFromString(strings.TrimSpace(priceValue))
	if err != nil {
		return cfg, fmt.Errorf("parse price: %w", err)
	}
	cfg.price = price

	level, err := log.ParseLevel(strings.TrimSpace(levelValue))
	if err != nil {
		return cfg, err
	}
	cfg.logLevel = level

	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.courses <= 0 {
		return cfg, errors.New("courses must be > 0")
	}
	if !cfg.price.IsPositive() {
		return cfg, errors.New("price must be > 0")
	}
	if cfg.cancelRate < 0 || cfg.cancelRate > 100 {
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	}
	if strings.TrimSpace(cfg.currency) == "" {
		return cfg, errors.New("currency is required")
	}
	if strings.TrimSpace(cfg.customerTag) == "" {
		return cfg, errors.New("customer-tag is required")
	}
	if _, err := staticCoupons(cfg.coupon); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCheckout:
		return modeCheckout, nil
	case modeCheckoutPay:
		return modeCheckoutPay, nil
	case modeAddCancel:
		return modeAddCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func staticCoupons(raw string) ([]coupon.Definition, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return app.Config{CouponStatic: []string{raw}}.StaticCoupons()
}

// harness — сервисы корзин поверх in-memory хранилища с засеянным каталогом.
type harness struct {
	deps       *app.Dependencies
	services   *app.Services
	payments   kafka.MessageHandler
	couponCode string
	courses    []string
}

func newHarness(cfg config) (*harness, error) {
	logger := log.New()
	logger.SetOutput(io.Discard)
	if cfg.logLevel >= log.WarnLevel {
		logger.SetOutput(os.Stderr)
	}
	logger.SetLevel(cfg.logLevel)

	deps := app.NewDependencies(logger.WithField("component", "loadtest"))
	catalog, ok := deps.Catalog.(*memory.OfferingCatalog)
	if !ok {
		return nil, fmt.Errorf("unexpected catalog %T", deps.Catalog)
	}

	h := &harness{deps: deps}
	for i := 0; i < cfg.courses; i++ {
		courseID := fmt.Sprintf("course-%d", i)
		catalog.Put(domain.OfferingInstance{
			ID:       fmt.Sprintf("inst-%d", i),
			CourseID: courseID,
			Name:     fmt.Sprintf("Load course %d", i),
			Enabled:  true,
			Cost:     cfg.price,
			Currency: cfg.currency,
		})
		h.courses = append(h.courses, courseID)
	}

	definitions, err := staticCoupons(cfg.coupon)
	if err != nil {
		return nil, err
	}
	var coupons domain.CouponGateway
	if len(definitions) > 0 {
		coupons = coupon.NewStatic(definitions...)
		h.couponCode = definitions[0].Code
	}

	svcCfg := app.DefaultConfig()
	svcCfg.PaymentCurrency = cfg.currency
	h.services = app.NewServices(svcCfg, deps, coupons, metrics.NewCartMetricsWithRegisterer(prometheus.NewRegistry()))
	h.payments = kafka.NewPaymentHandler(h.services.Authority, deps.Payments, deps.Logger)
	return h, nil
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	h, err := newHarness(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to build services: %v\n", err)
		os.Exit(1)
	}

	result := runLoad(h, cfg, os.Stdout)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func runLoad(h *harness, cfg config, out io.Writer) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(h, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	printReport(out, result, cfg)
	return result
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// runScenario проводит одного покупателя: добавление курса, затем по режиму
// отмену, checkout или checkout с оплатой через обработчик событий оплаты.
func runScenario(h *harness, cfg config, index int, runID string, col *collector) (err error) {
	scenarioStart := time.Now()
	scenarioCode := codeOK
	defer func() {
		if err != nil && scenarioCode == codeOK {
			scenarioCode = codeError
		}
		col.record(scenarioStep, time.Since(scenarioStart), scenarioCode)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	buyer := fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index)
	courseID := h.courses[index%len(h.courses)]
	session := h.services.Carts.NewSession(buyer)

	if !step(col, "AddCourse", func() (string, error) {
		if session.AddCourse(ctx, courseID) {
			return codeOK, nil
		}
		return codeRejected, nil
	}) {
		scenarioCode = codeRejected
		return errors.New("course was not added")
	}

	current, err := session.FindCurrent(ctx, false)
	if err != nil {
		return fmt.Errorf("find current cart: %w", err)
	}
	cartID := current.ID()

	if cfg.mode == modeAddCancel || (cfg.mode == modeCheckoutPay && shouldCancelScenario(index, cfg.cancelRate)) {
		var cancelErr error
		if !step(col, "Cancel", func() (string, error) {
			canceled, err := h.services.Flow.Cancel(ctx, session, cartID)
			cancelErr = err
			if err != nil {
				return codeError, err
			}
			if !canceled {
				return codeRejected, nil
			}
			return codeOK, nil
		}) {
			scenarioCode = codeRejected
			if cancelErr != nil {
				return cancelErr
			}
			return errors.New("cart was not canceled")
		}
		return nil
	}

	var outcome checkout.Outcome
	var prepareErr error
	step(col, "Prepare", func() (string, error) {
		outcome, prepareErr = h.services.Flow.Prepare(ctx, session, cartID, h.couponCode)
		if prepareErr != nil {
			return codeError, prepareErr
		}
		return string(outcome), nil
	})
	if prepareErr != nil {
		return prepareErr
	}
	switch outcome {
	case checkout.OutcomeDelivered:
		return nil
	case checkout.OutcomeAwaitingPayment:
	default:
		scenarioCode = string(outcome)
		return fmt.Errorf("unexpected checkout outcome %s", outcome)
	}

	if cfg.mode == modeCheckout {
		return nil
	}

	var payErr error
	step(col, "PaymentEvent", func() (string, error) {
		payErr = h.pay(ctx, buyer, cartID, fmt.Sprintf("lt-pay-%s-%d", runID, index))
		if errors.Is(payErr, kafka.ErrDeliveryRejected) {
			return codeRejected, payErr
		}
		if payErr != nil {
			return codeError, payErr
		}
		return codeOK, nil
	})
	if payErr != nil {
		return payErr
	}

	enrolled, err := h.deps.Enrollments.IsEnrolledInCourse(ctx, courseID, buyer)
	if err != nil {
		return err
	}
	if !enrolled {
		scenarioCode = "not_enrolled"
		return fmt.Errorf("buyer %s was not enrolled after payment", buyer)
	}
	return nil
}

// step замеряет один шаг сценария; успех только при codeOK или awaiting_payment/delivered.
func step(col *collector, name string, fn func() (string, error)) bool {
	start := time.Now()
	code, err := fn()
	col.record(name, time.Since(start), normalizeCode(code, err))
	return err == nil && normalizeCode(code, nil) == codeOK
}

func normalizeCode(code string, err error) string {
	if err != nil && code == codeOK {
		return codeError
	}
	switch checkout.Outcome(code) {
	case checkout.OutcomeAwaitingPayment, checkout.OutcomeDelivered:
		return codeOK
	}
	return code
}

// pay публикует в обработчик событий оплаты payment.succeeded на сумму к оплате.
func (h *harness) pay(ctx context.Context, buyer, cartID, paymentID string) error {
	payable := h.services.Authority.GetPayable(ctx, buyer, domain.PaymentArea, cartID)
	value, err := json.Marshal(kafka.PaymentEvent{
		EventType: kafka.EventTypePaymentSucceeded,
		PaymentID: paymentID,
		Component: domain.PaymentComponent,
		Area:      domain.PaymentArea,
		ItemID:    cartID,
		UserID:    buyer,
		Amount:    payable.Amount,
		Currency:  payable.Currency,
		AccountID: payable.AccountID,
		Gateway:   "loadtest",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return h.payments(ctx, &sarama.ConsumerMessage{Topic: kafka.TopicPaymentEvents, Key: []byte(paymentID), Value: value})
}

// shouldCancelScenario равномерно распределяет отмены: из любых 100 подряд идущих
// сценариев отменяется cancelRate.
func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index*cancelRate/100 != (index+1)*cancelRate/100
}
