package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
	"github.com/vladislavdragonenkov/enrolcart/internal/service/coupon"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса корзин. Значения читаются из
// переменных окружения с префиксом CART_ и, если задан CONFIG_PATH, из YAML.
type Config struct {
	GRPCAddr    string `yaml:"grpc_addr" env:"CART_GRPC_ADDR" env-default:":50051"`
	MetricsAddr string `yaml:"metrics_addr" env:"CART_METRICS_ADDR" env-default:":9090"`

	StorageDriver       string `yaml:"storage_driver" env:"CART_STORAGE_DRIVER" env-default:"memory"`
	PostgresDSN         string `yaml:"postgres_dsn" env:"CART_POSTGRES_DSN"`
	PostgresAutoMigrate bool   `yaml:"postgres_auto_migrate" env:"CART_POSTGRES_AUTO_MIGRATE" env-default:"true"`

	PostgresMaxOpenConns    int           `yaml:"postgres_max_open_conns" env:"CART_POSTGRES_MAX_OPEN_CONNS" env-default:"25"`
	PostgresMaxIdleConns    int           `yaml:"postgres_max_idle_conns" env:"CART_POSTGRES_MAX_IDLE_CONNS" env-default:"10"`
	PostgresConnMaxLifetime time.Duration `yaml:"postgres_conn_max_lifetime" env:"CART_POSTGRES_CONN_MAX_LIFETIME" env-default:"30m"`

	KafkaBrokers      string `yaml:"kafka_brokers" env:"KAFKA_BROKERS"`
	KafkaGroupID      string `yaml:"kafka_group_id" env:"CART_KAFKA_GROUP_ID" env-default:"enrolcart"`
	KafkaMaxRetries   int    `yaml:"kafka_max_retries" env:"CART_KAFKA_MAX_RETRIES" env-default:"3"`
	CartEventsTopic   string `yaml:"cart_events_topic" env:"CART_EVENTS_TOPIC" env-default:"enrolcart.cart.events"`
	PaymentEventTopic string `yaml:"payment_events_topic" env:"CART_PAYMENT_EVENTS_TOPIC" env-default:"enrolcart.payment.events"`

	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval" env:"CART_OUTBOX_POLL_INTERVAL" env-default:"1s"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size" env:"CART_OUTBOX_BATCH_SIZE" env-default:"100"`
	OutboxMaxAttempts  int           `yaml:"outbox_max_attempts" env:"CART_OUTBOX_MAX_ATTEMPTS" env-default:"3"`
	OutboxRetryDelay   time.Duration `yaml:"outbox_retry_delay" env:"CART_OUTBOX_RETRY_DELAY" env-default:"2s"`
	OutboxMaxPending   int           `yaml:"outbox_max_pending" env:"CART_OUTBOX_MAX_PENDING" env-default:"1000"`
	OutboxMaxAge       time.Duration `yaml:"outbox_max_age" env:"CART_OUTBOX_MAX_AGE" env-default:"5m"`

	DeliveryClaimTTL    time.Duration `yaml:"delivery_claim_ttl" env:"CART_DELIVERY_CLAIM_TTL" env-default:"24h"`
	ClaimPurgeInterval  time.Duration `yaml:"claim_purge_interval" env:"CART_CLAIM_PURGE_INTERVAL" env-default:"1m"`
	ClaimPurgeBatchSize int           `yaml:"claim_purge_batch_size" env:"CART_CLAIM_PURGE_BATCH_SIZE" env-default:"500"`

	PaymentCompletionTime time.Duration `yaml:"payment_completion_time" env:"CART_PAYMENT_COMPLETION_TIME" env-default:"15m"`
	PaymentCurrency       string        `yaml:"payment_currency" env:"CART_PAYMENT_CURRENCY" env-default:"IRR"`
	PaymentAccount        string        `yaml:"payment_account" env:"CART_PAYMENT_ACCOUNT"`
	DefaultRole           string        `yaml:"default_role" env:"CART_DEFAULT_ROLE" env-default:"student"`
	DefaultEnrolPeriod    time.Duration `yaml:"default_enrol_period" env:"CART_DEFAULT_ENROL_PERIOD" env-default:"0s"`
	VerifyPayment         bool          `yaml:"verify_payment_on_delivery" env:"CART_VERIFY_PAYMENT_ON_DELIVERY" env-default:"true"`
	CartViewURL           string        `yaml:"cart_view_url" env:"CART_VIEW_URL" env-default:"/enrol/cart/view.php"`
	ConvertIRRToIRT       bool          `yaml:"convert_irr_to_irt" env:"CART_CONVERT_IRR_TO_IRT" env-default:"false"`

	CouponEnable       bool          `yaml:"coupon_enable" env:"CART_COUPON_ENABLE" env-default:"false"`
	CouponAuthorityURL string        `yaml:"coupon_authority_url" env:"CART_COUPON_AUTHORITY_URL"`
	CouponTimeout      time.Duration `yaml:"coupon_timeout" env:"CART_COUPON_TIMEOUT" env-default:"5s"`
	// CouponStatic — купоны для локального запуска без внешней купонной системы,
	// в формате CODE=fixed:200 или CODE=percentage:10.
	CouponStatic []string `yaml:"coupon_static" env:"CART_COUPON_STATIC" env-separator:","`

	CanceledCartLifetime       time.Duration `yaml:"canceled_cart_lifetime" env:"CART_CANCELED_CART_LIFETIME" env-default:"0s"`
	PendingPaymentCartLifetime time.Duration `yaml:"pending_payment_cart_lifetime" env:"CART_PENDING_PAYMENT_CART_LIFETIME" env-default:"0s"`
	PreserveCartsWithPayment   bool          `yaml:"not_delete_cart_with_payment_record" env:"CART_NOT_DELETE_CART_WITH_PAYMENT_RECORD" env-default:"true"`
	ReaperInterval             time.Duration `yaml:"reaper_interval" env:"CART_REAPER_INTERVAL" env-default:"10m"`
	ReaperBatchSize            int           `yaml:"reaper_batch_size" env:"CART_REAPER_BATCH_SIZE" env-default:"100"`
}

// DefaultConfig возвращает настройки по умолчанию; совпадает с env-default тегами.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		PostgresMaxOpenConns:        25,
		PostgresMaxIdleConns:        10,
		PostgresConnMaxLifetime:     30 * time.Minute,
		KafkaGroupID:                "enrolcart",
		KafkaMaxRetries:             3,
		CartEventsTopic:             "enrolcart.cart.events",
		PaymentEventTopic:           "enrolcart.payment.events",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            2 * time.Second,
		OutboxMaxPending:            1000,
		OutboxMaxAge:                5 * time.Minute,
		DeliveryClaimTTL:            24 * time.Hour,
		ClaimPurgeInterval:          time.Minute,
		ClaimPurgeBatchSize:         500,
		PaymentCompletionTime:       15 * time.Minute,
		PaymentCurrency:             "IRR",
		DefaultRole:                 "student",
		VerifyPayment:               true,
		CartViewURL:                 "/enrol/cart/view.php",
		CouponTimeout:               5 * time.Second,
		PreserveCartsWithPayment:    true,
		ReaperInterval:              10 * time.Minute,
		ReaperBatchSize:             100,
	}
}

// LoadConfig читает YAML из CONFIG_PATH (если файл указан) и переменные окружения.
func LoadConfig() (Config, error) {
	var cfg Config

	path := strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("CART_POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.PostgresMaxOpenConns < 0 || c.PostgresMaxIdleConns < 0 {
		errs = append(errs, errors.New("postgres pool sizes must not be negative"))
	}
	if c.PaymentCompletionTime <= 0 {
		errs = append(errs, errors.New("payment completion time must be positive"))
	}
	if c.CanceledCartLifetime < 0 || c.PendingPaymentCartLifetime < 0 {
		errs = append(errs, errors.New("cart lifetimes must not be negative"))
	}
	if strings.TrimSpace(c.PaymentCurrency) == "" {
		errs = append(errs, errors.New("payment currency is required"))
	}
	if _, err := c.StaticCoupons(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StaticCoupons разбирает CouponStatic.
func (c Config) StaticCoupons() ([]coupon.Definition, error) {
	definitions := make([]coupon.Definition, 0, len(c.CouponStatic))
	for _, raw := range c.CouponStatic {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		code, rule, ok := strings.Cut(raw, "=")
		kind, amount, ok2 := strings.Cut(rule, ":")
		if !ok || !ok2 || strings.TrimSpace(code) == "" {
			return nil, fmt.Errorf("invalid static coupon %q: want CODE=fixed:AMOUNT or CODE=percentage:AMOUNT", raw)
		}

		var discountType domain.DiscountType
		switch strings.ToLower(strings.TrimSpace(kind)) {
		case "fixed":
			discountType = domain.DiscountFixed
		case "percentage", "percent":
			discountType = domain.DiscountPercentage
		default:
			return nil, fmt.Errorf("invalid static coupon %q: unknown discount type %q", raw, kind)
		}
		value, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil || value.IsNegative() {
			return nil, fmt.Errorf("invalid static coupon %q: bad amount", raw)
		}

		code = strings.TrimSpace(code)
		definitions = append(definitions, coupon.Definition{
			ID:     "static-" + strings.ToLower(code),
			Code:   code,
			Type:   discountType,
			Amount: value.String(),
		})
	}
	return definitions, nil
}
