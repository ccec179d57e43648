package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OfferingInstance — конкретная платная конфигурация записи на курс.
type OfferingInstance struct {
	ID       string
	CourseID string
	Name     string
	Enabled  bool
	// Cost — базовая цена.
	Cost           decimal.Decimal
	DiscountType   DiscountType
	DiscountAmount string
	Currency       string
	// EnrolStart/EnrolEnd — окно, в котором предложение доступно; нулевое значение снимает границу.
	EnrolStart time.Time
	EnrolEnd   time.Time
	// EnrolPeriod — длительность выдаваемого доступа; 0 означает бессрочно.
	EnrolPeriod time.Duration
	RoleID      string
}

// AvailableAt сообщает, можно ли купить предложение в момент now.
func (o OfferingInstance) AvailableAt(now time.Time) bool {
	if !o.Enabled {
		return false
	}
	if !o.EnrolStart.IsZero() && !o.EnrolStart.Before(now) {
		return false
	}
	if !o.EnrolEnd.IsZero() && !o.EnrolEnd.After(now) {
		return false
	}
	return true
}

// Price возвращает базовую цену предложения.
func (o OfferingInstance) Price() decimal.Decimal {
	return o.Cost
}

// Payable возвращает цену с учётом скидки предложения.
func (o OfferingInstance) Payable() decimal.Decimal {
	return ComputePayable(o.Cost, o.DiscountType, o.DiscountAmount)
}

// HasDiscount сообщает, что скидка предложения реально уменьшает цену.
func (o OfferingInstance) HasDiscount() bool {
	return o.Payable().LessThan(o.Cost)
}

// EnrolmentWindow возвращает окно доступа [now, now+period), выдаваемого при доставке корзины.
// Нулевой период даёт бессрочный доступ: обе границы нулевые.
func (o OfferingInstance) EnrolmentWindow(now time.Time) (time.Time, time.Time) {
	if o.EnrolPeriod <= 0 {
		return time.Time{}, time.Time{}
	}
	return now, now.Add(o.EnrolPeriod)
}

// Enrollment — выданный пользователю доступ к предложению.
type Enrollment struct {
	InstanceID string
	CourseID   string
	UserID     string
	RoleID     string
	Start      time.Time
	End        time.Time
	CreatedAt  time.Time
}
