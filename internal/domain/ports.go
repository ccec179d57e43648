package domain

import (
	"context"
	"time"
)

// CouponGateway описывает внешнюю подключаемую купонную систему.
// Бизнес-отказы возвращаются как CouponResult с OK=false, error означает сбой транспорта.
type CouponGateway interface {
	// ResolveCouponID возвращает идентификатор купона по коду; пустая строка — купон неизвестен.
	ResolveCouponID(ctx context.Context, code string) (string, error)
	// Validate проверяет купон на снимке корзины без его использования.
	Validate(ctx context.Context, cart CartSnapshot, couponID string) (CouponResult, error)
	// Apply регистрирует использование купона и возвращает UsageID.
	Apply(ctx context.Context, cart CartSnapshot, couponID string) (CouponResult, error)
	// Cancel отменяет использование купона, привязанное к корзине.
	Cancel(ctx context.Context, cart CartSnapshot) (CouponResult, error)
}

// EnrollmentGrantor выдаёт доступ к предложению после оплаты.
type EnrollmentGrantor interface {
	// Grant выдаёт доступ; нулевые start/end означают бессрочный доступ.
	Grant(ctx context.Context, instanceID, userID, roleID string, start, end time.Time) error
}

// EnrollmentChecker отвечает, записан ли пользователь на курс через любое предложение.
type EnrollmentChecker interface {
	IsEnrolledInCourse(ctx context.Context, courseID, userID string) (bool, error)
}

// Transactor выполняет fn в одной транзакции хранилища.
// Ошибка fn откатывает все изменения; вложенные вызовы присоединяются к внешней транзакции.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository хранит события корзин до публикации и расписание повторов.
// Сообщение остаётся pending, пока его не отметят sent или failed.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// PullDue возвращает до limit pending-сообщений с NextAttemptAt <= now в порядке постановки.
	PullDue(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	// ScheduleRetry увеличивает Attempts и откладывает следующую попытку до next.
	ScheduleRetry(ctx context.Context, id string, next time.Time, cause string) error
	// MarkFailed выводит сообщение из backlog; cause сохраняется для разбора.
	MarkFailed(ctx context.Context, id string, cause string) error
}

// DeliveryClaimRepository хранит подтверждения оплаты по paymentID.
type DeliveryClaimRepository interface {
	// Claim захватывает платёж для доставки. Новый или ранее отклонённый claim
	// переходит в in_flight с увеличенным Attempts и возвращается без ошибки.
	// Доставленный или занятый claim возвращается вместе с ErrClaimTaken,
	// выданный другой корзине или покупателю — с ErrClaimMismatch.
	Claim(ctx context.Context, claim DeliveryClaim) (DeliveryClaim, error)
	Get(ctx context.Context, paymentID string) (DeliveryClaim, error)
	// Resolve фиксирует итог для claim в состоянии in_flight.
	Resolve(ctx context.Context, paymentID string, status ClaimStatus) error
	// PurgeExpired удаляет до limit claim'ов с ExpiresAt <= before; limit <= 0 снимает ограничение.
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Агрегат и типы событий корзины в outbox.
const (
	AggregateTypeCart = "cart"

	EventCartCheckedOut     = "cart.checked_out"
	EventCartCanceled       = "cart.canceled"
	EventCartDelivered      = "cart.delivered"
	EventCartDeleted        = "cart.deleted"
	EventCartCouponApplied  = "cart.coupon_applied"
	EventCartCouponCanceled = "cart.coupon_canceled"
)

// OutboxMessage хранит данные для публикуемого события.
// Attempts — число уже неудавшихся публикаций, заполняется хранилищем.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Attempts      int
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
