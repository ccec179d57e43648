package domain

import "errors"

var (
	// Ошибка отсутствующего владельца корзины.
	ErrOwnerRequired = errors.New("owner_id is required")
	// Ошибка отсутствующего идентификатора корзины.
	ErrCartIDRequired = errors.New("cart_id is required")
	// Ошибка неизвестного статуса корзины.
	ErrCartStatusInvalid = errors.New("cart status is invalid")
	// Ошибка отрицательной суммы корзины.
	ErrAmountNegative = errors.New("cart price must be non-negative")
	// Сумма к оплате не может превышать стоимость.
	ErrPayableExceedsPrice = errors.New("cart payable exceeds price")
	// Корзина в checkout обязана хранить время перехода.
	ErrCheckoutTimeRequired = errors.New("checkout_at is required for checkout status")
	// Одно предложение встречается в корзине дважды.
	ErrDuplicateItem = errors.New("cart contains duplicate instance")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего платёжного шлюза.
	ErrPaymentGatewayRequired = errors.New("payment gateway is required")
	// ErrCartNotFound возвращается, если корзина не найдена в репозитории.
	ErrCartNotFound = errors.New("cart not found")
	// ErrCartItemNotFound возвращается, если позиции нет в корзине.
	ErrCartItemNotFound = errors.New("cart item not found")
	// ErrCartVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrCartVersionConflict = errors.New("cart version conflict")
	// ErrCurrentCartExists — у владельца уже есть корзина в статусе current.
	ErrCurrentCartExists = errors.New("current cart already exists for owner")
	// ErrInvalidTransition — запрещённый переход статуса корзины.
	ErrInvalidTransition = errors.New("invalid cart status transition")
	// ErrOfferingNotFound — предложение не найдено в каталоге.
	ErrOfferingNotFound = errors.New("offering instance not found")
	// ErrEnrollmentGrant — не удалось выдать доступ при доставке корзины.
	ErrEnrollmentGrant = errors.New("enrollment grant failed")
	// ErrPaymentNotFound — запись о платеже не найдена.
	ErrPaymentNotFound = errors.New("payment record not found")
	// ErrCouponGatewayUnavailable — купонная система недоступна (сеть, circuit breaker).
	ErrCouponGatewayUnavailable = errors.New("coupon gateway unavailable")
	// ErrCouponRejected — купонная система отказала в операции внутри транзакции.
	ErrCouponRejected = errors.New("coupon operation rejected")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotFound — сообщения нет в outbox или оно уже не pending.
	ErrOutboxMessageNotFound = errors.New("outbox message not found")

	// ErrClaimPaymentRequired — подтверждение пришло без идентификатора платежа.
	ErrClaimPaymentRequired = errors.New("delivery claim requires payment id")
	// ErrClaimTaken — платёж уже доставлен или обрабатывается параллельно.
	ErrClaimTaken = errors.New("delivery claim already taken")
	// ErrClaimMismatch — платёж уже закреплён за другой корзиной или покупателем.
	ErrClaimMismatch = errors.New("payment claimed for another cart")
	ErrClaimNotFound = errors.New("delivery claim not found")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrCartVersionConflict)
}

// IsClaimConflict сообщает, что платёж нельзя захватить для новой доставки.
func IsClaimConflict(err error) bool {
	return errors.Is(err, ErrClaimTaken) || errors.Is(err, ErrClaimMismatch)
}
