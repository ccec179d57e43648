package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentComponent и PaymentArea идентифицируют корзину во внешней платёжной подсистеме.
const (
	PaymentComponent = "enrol_cart"
	PaymentArea      = "cart"
)

// PaymentRecord — запись об успешном платеже, которую ведёт внешняя платёжная подсистема.
type PaymentRecord struct {
	ID        string
	Component string
	Area      string
	// ItemID — идентификатор оплаченной корзины.
	ItemID    string
	UserID    string
	Amount    decimal.Decimal
	Currency  string
	AccountID string
	Gateway   string
	CreatedAt time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *PaymentRecord) Validate() []error {
	var errs []error

	if p.ItemID == "" {
		errs = append(errs, ErrCartIDRequired)
	}
	if p.UserID == "" {
		errs = append(errs, ErrOwnerRequired)
	}
	if p.Amount.IsNegative() {
		errs = append(errs, ErrPaymentAmountNegative)
	}
	if p.Gateway == "" {
		errs = append(errs, ErrPaymentGatewayRequired)
	}

	return errs
}

// Payable — сумма, которую платёжная подсистема должна списать.
type Payable struct {
	Amount    decimal.Decimal
	Currency  string
	AccountID string
}

// NotPayable — признак корзины, недоступной для оплаты (сумма -1).
var NotPayable = Payable{Amount: decimal.NewFromInt(-1)}

// IsPayable сообщает, что сумма пригодна для оплаты.
func (p Payable) IsPayable() bool {
	return p.Amount.IsPositive()
}
