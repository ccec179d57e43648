package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

// cartRepositoryInMemory — in-memory реализация CartRepository поверх общего Store.
type cartRepositoryInMemory struct {
	store *Store
}

// NewCartRepository возвращает in-memory репозиторий корзин.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepositoryInMemory{store: store}
}

// Create сохраняет новую корзину и её позиции.
func (r *cartRepositoryInMemory) Create(ctx context.Context, cart domain.Cart) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.carts[cart.ID]; exists {
		return domain.ErrCartVersionConflict
	}
	if cart.Status == domain.CartStatusCurrent {
		for _, existing := range s.carts {
			if existing.OwnerID == cart.OwnerID && existing.Status == domain.CartStatusCurrent {
				return domain.ErrCurrentCartExists
			}
		}
	}

	items := cart.Items
	stored := cart.Clone()
	stored.Items = nil
	remember(ctx, s.carts, cart.ID)
	s.carts[cart.ID] = stored
	for _, item := range items {
		item.CartID = cart.ID
		remember(ctx, s.items, item.ID)
		s.items[item.ID] = itemRecord{item: item, seq: s.nextSeq()}
	}
	return nil
}

// Get возвращает корзину с позициями или ErrCartNotFound.
func (r *cartRepositoryInMemory) Get(_ context.Context, id string) (domain.Cart, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[id]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return r.withItemsLocked(cart), nil
}

// FindCurrent возвращает корзину владельца в статусе current.
func (r *cartRepositoryInMemory) FindCurrent(_ context.Context, ownerID string) (domain.Cart, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cart := range s.carts {
		if cart.OwnerID == ownerID && cart.Status == domain.CartStatusCurrent {
			return r.withItemsLocked(cart), nil
		}
	}
	return domain.Cart{}, domain.ErrCartNotFound
}

// ListByOwner возвращает корзины владельца, ограничивая выборку limit (если >0).
func (r *cartRepositoryInMemory) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.Cart, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Cart, 0)
	for _, cart := range s.carts {
		if cart.OwnerID != ownerID {
			continue
		}
		result = append(result, r.withItemsLocked(cart))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Save перезаписывает поля корзины, проверяя версию (optimistic locking).
func (r *cartRepositoryInMemory) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.carts[cart.ID]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	if current.Version != cart.Version {
		return domain.Cart{}, domain.ErrCartVersionConflict
	}
	if cart.Status == domain.CartStatusCurrent && current.Status != domain.CartStatusCurrent {
		for id, existing := range s.carts {
			if id != cart.ID && existing.OwnerID == cart.OwnerID && existing.Status == domain.CartStatusCurrent {
				return domain.Cart{}, domain.ErrCurrentCartExists
			}
		}
	}

	cart.Version++
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = s.now()
	}
	stored := cart.Clone()
	stored.Items = nil
	remember(ctx, s.carts, cart.ID)
	s.carts[cart.ID] = stored
	return cart, nil
}

// Delete удаляет корзину, если её версия не изменилась.
func (r *cartRepositoryInMemory) Delete(ctx context.Context, id string, version int64) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[id]
	if !ok {
		return domain.ErrCartNotFound
	}
	if cart.Version != version {
		return domain.ErrCartVersionConflict
	}
	remember(ctx, s.carts, id)
	delete(s.carts, id)
	return nil
}

// AddItem добавляет позицию в существующую корзину.
func (r *cartRepositoryInMemory) AddItem(ctx context.Context, item domain.LineItem) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.carts[item.CartID]; !ok {
		return domain.ErrCartNotFound
	}
	for _, rec := range s.items {
		if rec.item.CartID == item.CartID && rec.item.InstanceID == item.InstanceID {
			return domain.ErrDuplicateItem
		}
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	remember(ctx, s.items, item.ID)
	s.items[item.ID] = itemRecord{item: item, seq: s.nextSeq()}
	return nil
}

// UpdateItem обновляет снимок цены позиции.
func (r *cartRepositoryInMemory) UpdateItem(ctx context.Context, item domain.LineItem) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[item.ID]
	if !ok {
		return domain.ErrCartItemNotFound
	}
	rec.item.Price = item.Price
	rec.item.Payable = item.Payable
	remember(ctx, s.items, item.ID)
	s.items[item.ID] = rec
	return nil
}

// DeleteItem удаляет позицию.
func (r *cartRepositoryInMemory) DeleteItem(ctx context.Context, itemID string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[itemID]; !ok {
		return domain.ErrCartItemNotFound
	}
	remember(ctx, s.items, itemID)
	delete(s.items, itemID)
	return nil
}

// DeleteItems удаляет все позиции корзины.
func (r *cartRepositoryInMemory) DeleteItems(ctx context.Context, cartID string) (int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.items {
		if rec.item.CartID == cartID {
			remember(ctx, s.items, id)
			delete(s.items, id)
			removed++
		}
	}
	return removed, nil
}

// ListItems возвращает позиции корзины в порядке добавления.
func (r *cartRepositoryInMemory) ListItems(_ context.Context, cartID string) ([]domain.LineItem, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	return r.itemsLocked(cartID), nil
}

// ListExpired возвращает просроченные корзины в заданном статусе, отсортированные по id.
func (r *cartRepositoryInMemory) ListExpired(_ context.Context, status domain.CartStatus, before time.Time, afterID string, limit int) ([]domain.Cart, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Cart, 0)
	for id, cart := range s.carts {
		if cart.Status != status || id <= afterID {
			continue
		}
		if !cart.ExpiryMark().Before(before) {
			continue
		}
		result = append(result, r.withItemsLocked(cart))
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *cartRepositoryInMemory) withItemsLocked(cart domain.Cart) domain.Cart {
	out := cart.Clone()
	out.Items = r.itemsLocked(cart.ID)
	return out
}

func (r *cartRepositoryInMemory) itemsLocked(cartID string) []domain.LineItem {
	records := make([]itemRecord, 0)
	for _, rec := range r.store.items {
		if rec.item.CartID == cartID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })

	items := make([]domain.LineItem, 0, len(records))
	for _, rec := range records {
		items = append(items, rec.item)
	}
	return items
}

var _ domain.CartRepository = (*cartRepositoryInMemory)(nil)
