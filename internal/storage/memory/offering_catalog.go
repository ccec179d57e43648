package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

// OfferingCatalog — in-memory каталог предложений; наполняется через Put.
type OfferingCatalog struct {
	store *Store
}

// NewOfferingCatalog создаёт каталог поверх общего Store.
func NewOfferingCatalog(store *Store) *OfferingCatalog {
	return &OfferingCatalog{store: store}
}

// Put добавляет или заменяет предложение.
func (c *OfferingCatalog) Put(instance domain.OfferingInstance) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.offerings[instance.ID] = instance
}

// Get возвращает предложение независимо от доступности.
func (c *OfferingCatalog) Get(_ context.Context, instanceID string) (domain.OfferingInstance, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	instance, ok := c.store.offerings[instanceID]
	if !ok {
		return domain.OfferingInstance{}, domain.ErrOfferingNotFound
	}
	return instance, nil
}

// FirstForCourse возвращает включённое предложение курса с наименьшим id.
func (c *OfferingCatalog) FirstForCourse(_ context.Context, courseID string) (domain.OfferingInstance, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	candidates := make([]domain.OfferingInstance, 0)
	for _, instance := range c.store.offerings {
		if instance.CourseID == courseID && instance.Enabled {
			candidates = append(candidates, instance)
		}
	}
	if len(candidates) == 0 {
		return domain.OfferingInstance{}, domain.ErrOfferingNotFound
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates[0], nil
}

var _ domain.OfferingCatalog = (*OfferingCatalog)(nil)
