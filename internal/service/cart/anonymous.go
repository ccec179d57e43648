package cart

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

// AnonymousCart — корзина неаутентифицированного посетителя.
// Хранит только идентификаторы предложений; цены берутся из каталога при каждом чтении.
type AnonymousCart struct {
	session *Session

	instanceIDs []string
	items       []domain.LineItem
	modified    bool
}

func newAnonymousCart(session *Session, instanceIDs []string) *AnonymousCart {
	seen := make(map[string]struct{}, len(instanceIDs))
	ids := make([]string, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return &AnonymousCart{session: session, instanceIDs: ids}
}

// InstanceIDs возвращает идентификаторы предложений в порядке добавления.
func (c *AnonymousCart) InstanceIDs() []string {
	return append([]string(nil), c.instanceIDs...)
}

// Modified сообщает, что cookie нужно перезаписать.
func (c *AnonymousCart) Modified() bool { return c.modified }

func (c *AnonymousCart) IsAnonymous() bool { return true }

// Items возвращает позиции для доступных сейчас предложений.
func (c *AnonymousCart) Items(ctx context.Context) []domain.LineItem {
	if err := c.resolve(ctx); err != nil {
		c.session.svc.logger.WithError(err).Warn("anonymous cart items are not resolved")
	}
	return append([]domain.LineItem(nil), c.items...)
}

// resolve перечитывает предложения cookie. При ошибке каталога прежние позиции остаются.
func (c *AnonymousCart) resolve(ctx context.Context) error {
	items := make([]domain.LineItem, 0, len(c.instanceIDs))
	for _, id := range c.instanceIDs {
		instance, ok, err := c.session.availableInstance(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		items = append(items, domain.LineItem{
			ID:         instance.ID,
			InstanceID: instance.ID,
			Price:      instance.Price(),
			Payable:    instance.Payable(),
		})
	}
	c.items = items
	return nil
}

func (c *AnonymousCart) contains(instanceID string) bool {
	for _, id := range c.instanceIDs {
		if id == instanceID {
			return true
		}
	}
	return false
}

// AddItem запоминает доступное предложение; повторное добавление не дублирует его.
func (c *AnonymousCart) AddItem(ctx context.Context, instanceID string) bool {
	if _, ok, err := c.session.availableInstance(ctx, instanceID); err != nil || !ok {
		return false
	}
	if !c.contains(instanceID) {
		c.instanceIDs = append(c.instanceIDs, instanceID)
		c.modified = true
	}
	return c.Refresh(ctx, false)
}

// RemoveItem убирает предложение из корзины.
func (c *AnonymousCart) RemoveItem(ctx context.Context, instanceID string) bool {
	for i, id := range c.instanceIDs {
		if id != instanceID {
			continue
		}
		c.instanceIDs = append(c.instanceIDs[:i:i], c.instanceIDs[i+1:]...)
		c.modified = true
		return c.Refresh(ctx, false)
	}
	return false
}

// Refresh перечитывает цены из каталога.
func (c *AnonymousCart) Refresh(ctx context.Context, _ bool) bool {
	return c.resolve(ctx) == nil
}

// Checkout недоступен без входа.
func (c *AnonymousCart) Checkout(context.Context) bool { return false }

// Deliver недоступен без входа.
func (c *AnonymousCart) Deliver(context.Context) bool { return false }

// Cancel очищает корзину.
func (c *AnonymousCart) Cancel(context.Context) bool {
	c.Flush()
	return true
}

// Flush удаляет все позиции; при записи cookie будет стёрт.
func (c *AnonymousCart) Flush() {
	c.instanceIDs = nil
	c.items = nil
	c.modified = true
}

// FinalPrice — сумма базовых цен позиций, прочитанных последним Items или Refresh.
func (c *AnonymousCart) FinalPrice() decimal.Decimal {
	return sumPrice(c.items)
}

// FinalPayable — сумма к оплате без купонов: купоны доступны только после входа.
func (c *AnonymousCart) FinalPayable() decimal.Decimal {
	return sumPayable(c.items)
}
