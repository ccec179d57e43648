package domain

import "github.com/shopspring/decimal"

// Коды ошибок купонных операций.
const (
	CouponErrInvalid          = "INVALID_COUPON"
	CouponErrDisabled         = "COUPON_DISABLED"
	CouponErrNotEditable      = "CART_NOT_EDITABLE"
	CouponErrAlreadyApplied   = "COUPON_ALREADY_APPLIED"
	CouponErrGatewayFailure   = "GATEWAY_UNAVAILABLE"
	CouponErrDiscountMismatch = "COUPON_DISCOUNT_CHANGED"
	CouponErrSaveFailed       = "CART_SAVE_FAILED"
)

// CouponResult — итог любой операции с купоном. Не сохраняется.
type CouponResult struct {
	OK             bool                `json:"ok"`
	CouponID       string              `json:"coupon_id,omitempty"`
	CouponCode     string              `json:"coupon_code,omitempty"`
	UsageID        string              `json:"usage_id,omitempty"`
	DiscountAmount decimal.NullDecimal `json:"discount_amount"`
	PayableAmount  decimal.NullDecimal `json:"payable_amount"`
	ErrorCode      string              `json:"error_code,omitempty"`
	ErrorMessage   string              `json:"error_message,omitempty"`
	// Items — идентификаторы позиций, на которые распространяется купон.
	Items []string `json:"items,omitempty"`
}

// CouponFailure собирает неуспешный результат с кодом и сообщением.
func CouponFailure(code, message string) CouponResult {
	return CouponResult{ErrorCode: code, ErrorMessage: message}
}

// ItemSnapshot — позиция корзины в виде, доступном купонной системе.
type ItemSnapshot struct {
	ItemID      string          `json:"item_id"`
	InstanceID  string          `json:"instance_id"`
	CourseID    string          `json:"course_id"`
	Price       decimal.Decimal `json:"price"`
	Payable     decimal.Decimal `json:"payable"`
	HasDiscount bool            `json:"has_discount"`
}

// CartSnapshot — неизменяемый снимок корзины для внешней купонной системы.
type CartSnapshot struct {
	CartID               string          `json:"cart_id"`
	UserID               string          `json:"user_id"`
	Currency             string          `json:"currency"`
	CouponID             string          `json:"coupon_id,omitempty"`
	CouponCode           string          `json:"coupon_code,omitempty"`
	CouponUsageID        string          `json:"coupon_usage_id,omitempty"`
	CouponDiscountAmount decimal.Decimal `json:"coupon_discount_amount"`
	FinalPrice           decimal.Decimal `json:"final_price"`
	FinalPayable         decimal.Decimal `json:"final_payable"`
	Items                []ItemSnapshot  `json:"items"`
}
