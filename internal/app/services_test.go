package app

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
	"github.com/vladislavdragonenkov/enrolcart/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/enrolcart/internal/metrics"
	"github.com/vladislavdragonenkov/enrolcart/internal/service/checkout"
	"github.com/vladislavdragonenkov/enrolcart/internal/storage/memory"
)

// ServicesSuite проверяет собранные сервисы корзины целиком: от добавления
// курса до доставки по событию оплаты из Kafka.
type ServicesSuite struct {
	suite.Suite

	ctx      context.Context
	cfg      Config
	deps     *Dependencies
	services *Services
}

func TestServicesSuite(t *testing.T) {
	suite.Run(t, new(ServicesSuite))
}

func (s *ServicesSuite) SetupTest() {
	s.ctx = context.Background()

	logger := log.New()
	logger.SetOutput(io.Discard)

	s.cfg = DefaultConfig()
	s.cfg.CouponEnable = true
	s.cfg.CouponStatic = []string{"SPRING=fixed:200"}
	s.cfg.PaymentAccount = "acc-1"
	s.cfg.CartViewURL = "https://lms.example/enrol/cart/view.php"

	s.deps = NewDependencies(logger.WithField("test", "services"))
	catalog, ok := s.deps.Catalog.(*memory.OfferingCatalog)
	s.Require().True(ok)
	catalog.Put(domain.OfferingInstance{
		ID:       "inst-go",
		CourseID: "course-go",
		Name:     "Go basics",
		Enabled:  true,
		Cost:     decimal.NewFromInt(1500),
		Currency: "IRR",
	})

	coupons, err := newCouponGateway(s.cfg, s.deps.Logger)
	s.Require().NoError(err)
	s.Require().NotNil(coupons)

	s.services = NewServices(s.cfg, s.deps, coupons, metrics.NewCartMetricsWithRegisterer(prometheus.NewRegistry()))
}

func (s *ServicesSuite) TestPaidCartIsDeliveredFromPaymentEvent() {
	session := s.services.Carts.NewSession("user-1")
	s.Require().True(session.AddCourse(s.ctx, "course-go"))

	current, err := session.FindCurrent(s.ctx, false)
	s.Require().NoError(err)

	outcome, err := s.services.Flow.Prepare(s.ctx, session, current.ID(), "spring")
	s.Require().NoError(err)
	s.Require().Equal(checkout.OutcomeAwaitingPayment, outcome)

	payable := s.services.Authority.GetPayable(s.ctx, "user-1", domain.PaymentArea, current.ID())
	s.Require().True(payable.Amount.Equal(decimal.NewFromInt(1300)), "payable %s", payable.Amount)
	s.Require().Equal("IRR", payable.Currency)
	s.Require().Equal("acc-1", payable.AccountID)
	s.Require().Equal("https://lms.example/enrol/cart/view.php?id="+current.ID(),
		s.services.Authority.GetSuccessRedirect(domain.PaymentArea, current.ID()))

	handler := kafka.NewPaymentHandler(s.services.Authority, s.deps.Payments, s.deps.Logger)
	event := fmt.Sprintf(`{"event_type":"payment.succeeded","payment_id":"pay-1","component":"enrol_cart","payment_area":"cart","item_id":%q,"user_id":"user-1","amount":"1300","currency":"IRR"}`, current.ID())
	s.Require().NoError(handler(s.ctx, &sarama.ConsumerMessage{Topic: kafka.TopicPaymentEvents, Value: []byte(event)}))

	enrolled, err := s.deps.Enrollments.IsEnrolledInCourse(s.ctx, "course-go", "user-1")
	s.Require().NoError(err)
	s.Require().True(enrolled)

	// Новый запрос видит состояние после доставки.
	delivered, err := s.services.Carts.NewSession("user-1").FindOne(s.ctx, current.ID())
	s.Require().NoError(err)
	s.Require().True(delivered.IsDelivered())

	// Повторное событие возвращает сохранённый итог, доступ не выдаётся дважды.
	s.Require().NoError(handler(s.ctx, &sarama.ConsumerMessage{Topic: kafka.TopicPaymentEvents, Value: []byte(event)}))
}

func (s *ServicesSuite) TestUnderpaidCartIsNotDelivered() {
	session := s.services.Carts.NewSession("user-2")
	s.Require().True(session.AddCourse(s.ctx, "course-go"))
	current, err := session.FindCurrent(s.ctx, false)
	s.Require().NoError(err)

	outcome, err := s.services.Flow.Prepare(s.ctx, session, current.ID(), "")
	s.Require().NoError(err)
	s.Require().Equal(checkout.OutcomeAwaitingPayment, outcome)

	handler := kafka.NewPaymentHandler(s.services.Authority, s.deps.Payments, s.deps.Logger)
	event := fmt.Sprintf(`{"event_type":"payment.succeeded","payment_id":"pay-2","component":"enrol_cart","payment_area":"cart","item_id":%q,"user_id":"user-2","amount":"100","currency":"IRR"}`, current.ID())
	err = handler(s.ctx, &sarama.ConsumerMessage{Topic: kafka.TopicPaymentEvents, Value: []byte(event)})
	s.Require().ErrorIs(err, kafka.ErrDeliveryRejected)

	enrolled, err := s.deps.Enrollments.IsEnrolledInCourse(s.ctx, "course-go", "user-2")
	s.Require().NoError(err)
	s.Require().False(enrolled)
}

func (s *ServicesSuite) TestReaperIsDisabledByDefault() {
	s.Require().False(s.services.Reaper.Enabled())
}

func TestNewCouponGateway(t *testing.T) {
	logger := log.WithField("test", "coupons")

	cfg := DefaultConfig()
	gateway, err := newCouponGateway(cfg, logger)
	require.NoError(t, err)
	require.Nil(t, gateway, "coupons are disabled by default")

	cfg.CouponEnable = true
	cfg.CouponAuthorityURL = "http://coupons.local"
	gateway, err = newCouponGateway(cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, gateway)

	cfg.CouponAuthorityURL = ""
	cfg.CouponStatic = []string{"bad"}
	_, err = newCouponGateway(cfg, logger)
	require.Error(t, err)
}
