package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
	"github.com/vladislavdragonenkov/enrolcart/internal/service/coupon"
)

// newCouponGateway выбирает купонную систему: внешняя по HTTP, статический
// справочник из конфигурации или nil, если купоны выключены.
func newCouponGateway(cfg Config, logger *log.Entry) (domain.CouponGateway, error) {
	if !cfg.CouponEnable {
		return nil, nil
	}
	if cfg.CouponAuthorityURL != "" {
		logger.WithField("url", cfg.CouponAuthorityURL).Info("using coupon authority")
		return coupon.NewHTTPClient(cfg.CouponAuthorityURL, cfg.CouponTimeout,
			coupon.WithLogger(logger.WithField("component", "coupon-client"))), nil
	}

	definitions, err := cfg.StaticCoupons()
	if err != nil {
		return nil, err
	}
	logger.WithField("coupons", len(definitions)).Warn("coupon authority url is not set, using static coupons")
	return coupon.NewStatic(definitions...), nil
}
