package cart

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
	"github.com/vladislavdragonenkov/enrolcart/internal/metrics"
)

const (
	defaultPaymentCompletionTime = 15 * time.Minute
	defaultRoleID                = "student"
)

// Settings — параметры поведения корзины, которые задаёт администратор.
type Settings struct {
	// PaymentCompletionTime — сколько корзина может находиться в checkout без оплаты,
	// прежде чем её снова разрешено редактировать.
	PaymentCompletionTime time.Duration
	// PaymentCurrency — валюта по умолчанию для корзин без собственной валюты.
	PaymentCurrency string
	// DefaultRoleID — роль, которая выдаётся, если у предложения роль не задана.
	DefaultRoleID string
	// DefaultEnrolPeriod — срок доступа для предложений без собственного срока; 0 — бессрочно.
	DefaultEnrolPeriod time.Duration
	// ConvertIRRToIRT показывает суммы в риалах как томаны.
	ConvertIRRToIRT bool
}

func (s Settings) withDefaults() Settings {
	if s.PaymentCompletionTime <= 0 {
		s.PaymentCompletionTime = defaultPaymentCompletionTime
	}
	if s.DefaultRoleID == "" {
		s.DefaultRoleID = defaultRoleID
	}
	return s
}

// Dependencies — внешние зависимости сервиса корзин.
type Dependencies struct {
	Carts       domain.CartRepository
	Catalog     domain.OfferingCatalog
	Enrollments domain.EnrollmentChecker
	Grantor     domain.EnrollmentGrantor
	// Coupons может быть nil: тогда купоны отключены.
	Coupons domain.CouponGateway
	Outbox  domain.OutboxRepository
	Tx      domain.Transactor
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает метрики корзин.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service хранит зависимости и настройки, общие для всех запросов.
// Состояние конкретного запроса живёт в Session.
type Service struct {
	carts       domain.CartRepository
	catalog     domain.OfferingCatalog
	enrollments domain.EnrollmentChecker
	grantor     domain.EnrollmentGrantor
	coupons     domain.CouponGateway
	outbox      domain.OutboxRepository
	tx          domain.Transactor
	settings    Settings
	logger      *log.Entry
	metrics     *metrics.CartMetrics
	now         func() time.Time
}

// NewService создаёт сервис корзин.
func NewService(deps Dependencies, settings Settings, opts ...Option) *Service {
	s := &Service{
		carts:       deps.Carts,
		catalog:     deps.Catalog,
		enrollments: deps.Enrollments,
		grantor:     deps.Grantor,
		coupons:     deps.Coupons,
		outbox:      deps.Outbox,
		tx:          deps.Tx,
		settings:    settings.withDefaults(),
		logger:      log.WithField("component", "cart"),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSession создаёт контекст одного запроса от имени actorID.
// Пустой actorID означает неаутентифицированного посетителя.
func (s *Service) NewSession(actorID string) *Session {
	return &Session{
		svc:       s,
		actorID:   actorID,
		instances: make(map[string]instanceLookup),
	}
}

// Settings возвращает действующие настройки.
func (s *Service) Settings() Settings {
	return s.settings
}

// CouponsEnabled сообщает, подключена ли купонная система.
func (s *Service) CouponsEnabled() bool {
	return s.coupons != nil
}

// Now возвращает текущее время по часам сервиса.
func (s *Service) Now() time.Time {
	return s.now()
}

// Metrics возвращает подключённые метрики (может быть nil).
func (s *Service) Metrics() *metrics.CartMetrics {
	return s.metrics
}
