package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

// EnrollmentRegistry выдаёт доступы и проверяет запись на курс по таблице enrollments.
type EnrollmentRegistry struct {
	store   *Store
	catalog *OfferingCatalog
}

// NewEnrollmentRegistry создаёт PostgreSQL-реестр записей.
func NewEnrollmentRegistry(store *Store, catalog *OfferingCatalog) *EnrollmentRegistry {
	return &EnrollmentRegistry{store: store, catalog: catalog}
}

func (r *EnrollmentRegistry) Grant(ctx context.Context, instanceID, userID, roleID string, start, end time.Time) error {
	instance, err := r.catalog.Get(ctx, instanceID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err = r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO enrollments (instance_id, course_id, user_id, role_id, time_start, time_end, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (instance_id, user_id) DO UPDATE SET
			role_id = EXCLUDED.role_id,
			time_start = EXCLUDED.time_start,
			time_end = EXCLUDED.time_end
	`, instanceID, instance.CourseID, userID, roleID, nullTime(start), nullTime(end), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("grant enrollment: %w", err)
	}
	return nil
}

func (r *EnrollmentRegistry) IsEnrolledInCourse(ctx context.Context, courseID, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var enrolled bool
	err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM enrollments
			WHERE course_id = $1
			  AND user_id = $2
			  AND (time_end IS NULL OR time_end > NOW())
		)
	`, courseID, userID).Scan(&enrolled)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return enrolled, nil
}

var (
	_ domain.EnrollmentGrantor = (*EnrollmentRegistry)(nil)
	_ domain.EnrollmentChecker = (*EnrollmentRegistry)(nil)
)
