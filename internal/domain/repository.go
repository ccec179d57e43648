package domain

import (
	"context"
	"time"
)

// CartRepository описывает требования к хранилищу корзин и их позиций.
// Все методы подхватывают транзакцию из ctx, если она открыта через Transactor.
type CartRepository interface {
	// Create сохраняет новую корзину. Для второй корзины current у владельца возвращает ErrCurrentCartExists.
	Create(ctx context.Context, cart Cart) error
	// Get возвращает корзину с позициями или ErrCartNotFound.
	Get(ctx context.Context, id string) (Cart, error)
	// FindCurrent возвращает корзину владельца в статусе current или ErrCartNotFound.
	FindCurrent(ctx context.Context, ownerID string) (Cart, error)
	// ListByOwner возвращает корзины владельца, новые первыми, с опциональным ограничением.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Cart, error)
	// Save обновляет поля корзины (без позиций) с учётом optimistic locking и увеличивает Version.
	Save(ctx context.Context, cart Cart) (Cart, error)
	// Delete удаляет корзину версии version; позиции должны быть удалены заранее.
	// Если корзина успела измениться, возвращает ErrCartVersionConflict.
	Delete(ctx context.Context, id string, version int64) error

	// AddItem добавляет позицию в корзину.
	AddItem(ctx context.Context, item LineItem) error
	// UpdateItem обновляет снимок цены позиции.
	UpdateItem(ctx context.Context, item LineItem) error
	// DeleteItem удаляет позицию по идентификатору.
	DeleteItem(ctx context.Context, itemID string) error
	// DeleteItems удаляет все позиции корзины и возвращает их количество.
	DeleteItems(ctx context.Context, cartID string) (int, error)
	// ListItems возвращает позиции корзины в порядке добавления.
	ListItems(ctx context.Context, cartID string) ([]LineItem, error)

	// ListExpired возвращает до limit корзин в статусе status, у которых отметка времени
	// (updated_at для canceled, checkout_at для checkout) раньше before. Пагинация по id после afterID.
	ListExpired(ctx context.Context, status CartStatus, before time.Time, afterID string, limit int) ([]Cart, error)
}

// OfferingCatalog — доступ только на чтение к предложениям.
type OfferingCatalog interface {
	// Get возвращает предложение независимо от его доступности или ErrOfferingNotFound.
	Get(ctx context.Context, instanceID string) (OfferingInstance, error)
	// FirstForCourse возвращает первое включённое предложение курса или ErrOfferingNotFound.
	FirstForCourse(ctx context.Context, courseID string) (OfferingInstance, error)
}

// PaymentRepository даёт доступ к записям внешней платёжной подсистемы.
type PaymentRepository interface {
	Get(ctx context.Context, paymentID string) (PaymentRecord, error)
	ExistsForCart(ctx context.Context, cartID string) (bool, error)
	// Record сохраняет запись; повторная запись с тем же ID игнорируется.
	Record(ctx context.Context, payment PaymentRecord) error
}
