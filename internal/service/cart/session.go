package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

// instanceLookup — результат обращения к каталогу в пределах запроса.
type instanceLookup struct {
	instance domain.OfferingInstance
	err      error
}

// Session — контекст одного запроса: актор, кэш предложений и найденная корзина current.
// Не предназначен для разделения между запросами и горутинами.
type Session struct {
	svc     *Service
	actorID string

	instances map[string]instanceLookup
	current   *StoredCart
	anonymous *AnonymousCart
}

// ActorID возвращает идентификатор пользователя запроса.
func (s *Session) ActorID() string {
	return s.actorID
}

// IsAnonymous сообщает, что запрос выполняется без аутентификации.
func (s *Session) IsAnonymous() bool {
	return s.actorID == ""
}

// UseAnonymous привязывает к сессии анонимную корзину с позициями из cookie.
func (s *Session) UseAnonymous(instanceIDs []string) *AnonymousCart {
	s.anonymous = newAnonymousCart(s, instanceIDs)
	return s.anonymous
}

// Current возвращает корзину текущего посетителя: анонимную для гостя,
// иначе корзину current из хранилища (создаётся при forceNew).
func (s *Session) Current(ctx context.Context, forceNew bool) (Cart, error) {
	if s.IsAnonymous() {
		if s.anonymous == nil {
			s.anonymous = newAnonymousCart(s, nil)
		}
		return s.anonymous, nil
	}
	stored, err := s.FindCurrent(ctx, forceNew)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// FindCurrent возвращает корзину current пользователя. Без forceNew отсутствие корзины
// даёт domain.ErrCartNotFound, с forceNew создаётся новая пустая корзина.
func (s *Session) FindCurrent(ctx context.Context, forceNew bool) (*StoredCart, error) {
	if s.IsAnonymous() {
		return nil, domain.ErrOwnerRequired
	}
	if s.current != nil && s.current.IsCurrent() {
		return s.current, nil
	}

	record, err := s.svc.carts.FindCurrent(ctx, s.actorID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrCartNotFound) && forceNew:
		record, err = s.createCurrent(ctx)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	s.current = newStoredCart(s, record)
	return s.current, nil
}

func (s *Session) createCurrent(ctx context.Context) (domain.Cart, error) {
	now := s.svc.now()
	record := domain.Cart{
		ID:        uuid.NewString(),
		OwnerID:   s.actorID,
		Status:    domain.CartStatusCurrent,
		Price:     decimal.Zero,
		Payable:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: s.actorID,
		UpdatedBy: s.actorID,
	}

	err := s.svc.carts.Create(ctx, record)
	if errors.Is(err, domain.ErrCurrentCartExists) {
		// Параллельный запрос успел создать корзину первым.
		s.svc.logger.WithField("owner_id", s.actorID).Debug("current cart created concurrently, reloading")
		return s.svc.carts.FindCurrent(ctx, s.actorID)
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("create current cart: %w", err)
	}
	return record, nil
}

// FindOne загружает корзину по идентификатору. Права владельца проверяются операциями корзины.
func (s *Session) FindOne(ctx context.Context, cartID string) (*StoredCart, error) {
	if cartID == "" {
		return nil, domain.ErrCartIDRequired
	}
	if s.current != nil && s.current.ID() == cartID {
		return s.current, nil
	}
	record, err := s.svc.carts.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	return newStoredCart(s, record), nil
}

// ListMine возвращает корзины пользователя, новые первыми.
func (s *Session) ListMine(ctx context.Context, limit int) ([]*StoredCart, error) {
	if s.IsAnonymous() {
		return nil, domain.ErrOwnerRequired
	}
	records, err := s.svc.carts.ListByOwner(ctx, s.actorID, limit)
	if err != nil {
		return nil, err
	}
	carts := make([]*StoredCart, 0, len(records))
	for _, record := range records {
		carts = append(carts, newStoredCart(s, record))
	}
	return carts, nil
}

// AddCourse добавляет в текущую корзину первое включённое предложение курса.
func (s *Session) AddCourse(ctx context.Context, courseID string) bool {
	instance, err := s.svc.catalog.FirstForCourse(ctx, courseID)
	if err != nil {
		s.svc.logger.WithError(err).WithField("course_id", courseID).Debug("course has no enabled offering")
		return false
	}
	current, err := s.Current(ctx, true)
	if err != nil {
		s.svc.logger.WithError(err).WithField("owner_id", s.actorID).Warn("resolve current cart failed")
		return false
	}
	return current.AddItem(ctx, instance.ID)
}

// RemoveCourse убирает из текущей корзины первое включённое предложение курса.
func (s *Session) RemoveCourse(ctx context.Context, courseID string) bool {
	instance, err := s.svc.catalog.FirstForCourse(ctx, courseID)
	if err != nil {
		return false
	}
	current, err := s.Current(ctx, false)
	if err != nil {
		return false
	}
	return current.RemoveItem(ctx, instance.ID)
}

// MergeAnonymous переносит позиции анонимной корзины в корзину current после входа
// и очищает анонимную корзину. Возвращает число перенесённых позиций.
func (s *Session) MergeAnonymous(ctx context.Context, anon *AnonymousCart) (int, error) {
	if s.IsAnonymous() {
		return 0, domain.ErrOwnerRequired
	}
	if anon == nil || len(anon.InstanceIDs()) == 0 {
		return 0, nil
	}

	current, err := s.FindCurrent(ctx, true)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, instanceID := range anon.InstanceIDs() {
		if current.AddItem(ctx, instanceID) {
			moved++
		}
	}
	anon.Flush()

	s.svc.logger.WithFields(log.Fields{
		"owner_id": s.actorID,
		"cart_id":  current.ID(),
		"moved":    moved,
	}).Info("anonymous cart merged")

	return moved, nil
}

// instance возвращает предложение из каталога, запоминая результат на время запроса.
func (s *Session) instance(ctx context.Context, instanceID string) (domain.OfferingInstance, error) {
	if cached, ok := s.instances[instanceID]; ok {
		return cached.instance, cached.err
	}
	instance, err := s.svc.catalog.Get(ctx, instanceID)
	if err != nil && !errors.Is(err, domain.ErrOfferingNotFound) {
		// Транспортные ошибки не кэшируем.
		return domain.OfferingInstance{}, err
	}
	s.instances[instanceID] = instanceLookup{instance: instance, err: err}
	return instance, err
}

// availableInstance возвращает предложение, если его можно купить прямо сейчас.
// ok=false без ошибки значит, что предложения нет или оно недоступно; ошибка каталога
// возвращается как есть, и решение о позиции откладывается.
func (s *Session) availableInstance(ctx context.Context, instanceID string) (domain.OfferingInstance, bool, error) {
	instance, err := s.instance(ctx, instanceID)
	if errors.Is(err, domain.ErrOfferingNotFound) {
		return domain.OfferingInstance{}, false, nil
	}
	if err != nil {
		return domain.OfferingInstance{}, false, fmt.Errorf("load offering %s: %w", instanceID, err)
	}
	if !instance.AvailableAt(s.svc.now()) {
		return domain.OfferingInstance{}, false, nil
	}
	return instance, true, nil
}

// isEnrolled проверяет запись пользователя на курс через любое из его предложений.
func (s *Session) isEnrolled(ctx context.Context, courseID, userID string) (bool, error) {
	if userID == "" || s.svc.enrollments == nil {
		return false, nil
	}
	return s.svc.enrollments.IsEnrolledInCourse(ctx, courseID, userID)
}
