package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

// EnrollmentRegistry хранит выданные доступы и отвечает на вопрос о записи на курс.
type EnrollmentRegistry struct {
	store *Store
}

// NewEnrollmentRegistry создаёт реестр записей поверх общего Store.
func NewEnrollmentRegistry(store *Store) *EnrollmentRegistry {
	return &EnrollmentRegistry{store: store}
}

func enrollmentKey(instanceID, userID string) string {
	return instanceID + "/" + userID
}

// Grant выдаёт или продлевает доступ пользователя к предложению.
func (r *EnrollmentRegistry) Grant(ctx context.Context, instanceID, userID, roleID string, start, end time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.offerings[instanceID]
	if !ok {
		return domain.ErrOfferingNotFound
	}

	key := enrollmentKey(instanceID, userID)
	createdAt := s.now()
	if existing, ok := s.enrollments[key]; ok {
		createdAt = existing.CreatedAt
	}
	remember(ctx, s.enrollments, key)
	s.enrollments[key] = domain.Enrollment{
		InstanceID: instanceID,
		CourseID:   instance.CourseID,
		UserID:     userID,
		RoleID:     roleID,
		Start:      start,
		End:        end,
		CreatedAt:  createdAt,
	}
	return nil
}

// IsEnrolledInCourse проверяет действующую запись пользователя через любое предложение курса.
func (r *EnrollmentRegistry) IsEnrolledInCourse(_ context.Context, courseID, userID string) (bool, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	for _, enrollment := range s.enrollments {
		if enrollment.CourseID != courseID || enrollment.UserID != userID {
			continue
		}
		if enrollment.End.IsZero() || enrollment.End.After(now) {
			return true, nil
		}
	}
	return false, nil
}

// List возвращает все записи пользователя (используется в тестах и отладке).
func (r *EnrollmentRegistry) List(userID string) []domain.Enrollment {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Enrollment, 0)
	for _, enrollment := range s.enrollments {
		if enrollment.UserID == userID {
			result = append(result, enrollment)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].InstanceID < result[j].InstanceID })
	return result
}

var (
	_ domain.EnrollmentGrantor = (*EnrollmentRegistry)(nil)
	_ domain.EnrollmentChecker = (*EnrollmentRegistry)(nil)
)
