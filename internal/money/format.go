// Package money форматирует суммы корзины для показа пользователю.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// CurrencyIRR — иранский риал, валюта расчётов.
	CurrencyIRR = "IRR"
	// CurrencyIRT — томан (10 риалов), только для отображения.
	CurrencyIRT = "IRT"
)

var persianDigits = [10]rune{'۰', '۱', '۲', '۳', '۴', '۵', '۶', '۷', '۸', '۹'}

// FormatOptions управляет отображением суммы.
type FormatOptions struct {
	// ConvertIRRToIRT показывает риалы в томанах.
	ConvertIRRToIRT bool
	// PersianDigits заменяет ASCII-цифры на персидские.
	PersianDigits bool
}

// Format возвращает сумму с разделителями тысяч и кодом валюты, например "1,250 IRT".
// Дробная часть выводится, только если она ненулевая.
func Format(amount decimal.Decimal, currency string, opts FormatOptions) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if opts.ConvertIRRToIRT && currency == CurrencyIRR {
		amount = amount.Div(decimal.NewFromInt(10))
		currency = CurrencyIRT
	}

	text := group(amount)
	if currency != "" {
		text += " " + currency
	}
	if opts.PersianDigits {
		text = localizeDigits(text)
	}
	return text
}

func group(amount decimal.Decimal) string {
	raw := amount.String()
	sign := ""
	if strings.HasPrefix(raw, "-") {
		sign, raw = "-", raw[1:]
	}

	whole, fraction, _ := strings.Cut(raw, ".")
	var b strings.Builder
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	if fraction != "" {
		b.WriteByte('.')
		b.WriteString(fraction)
	}
	return sign + b.String()
}

func localizeDigits(text string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return persianDigits[r-'0']
		}
		return r
	}, text)
}
