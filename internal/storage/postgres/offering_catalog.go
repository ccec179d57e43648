package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

const offeringColumns = `id, course_id, name, enabled, cost, discount_type, discount_amount,
	currency, enrol_start, enrol_end, enrol_period_seconds, role_id`

// OfferingCatalog читает предложения из таблицы offering_instances.
type OfferingCatalog struct {
	store *Store
}

// NewOfferingCatalog создаёт PostgreSQL-каталог предложений.
func NewOfferingCatalog(store *Store) *OfferingCatalog {
	return &OfferingCatalog{store: store}
}

// Put добавляет или заменяет предложение.
func (c *OfferingCatalog) Put(ctx context.Context, instance domain.OfferingInstance) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := c.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO offering_instances (`+offeringColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			course_id = EXCLUDED.course_id,
			name = EXCLUDED.name,
			enabled = EXCLUDED.enabled,
			cost = EXCLUDED.cost,
			discount_type = EXCLUDED.discount_type,
			discount_amount = EXCLUDED.discount_amount,
			currency = EXCLUDED.currency,
			enrol_start = EXCLUDED.enrol_start,
			enrol_end = EXCLUDED.enrol_end,
			enrol_period_seconds = EXCLUDED.enrol_period_seconds,
			role_id = EXCLUDED.role_id
	`,
		instance.ID, instance.CourseID, instance.Name, instance.Enabled, instance.Cost,
		int(instance.DiscountType), instance.DiscountAmount, instance.Currency,
		nullTime(instance.EnrolStart), nullTime(instance.EnrolEnd),
		int64(instance.EnrolPeriod/time.Second), instance.RoleID,
	)
	if err != nil {
		return fmt.Errorf("upsert offering instance: %w", err)
	}
	return nil
}

func (c *OfferingCatalog) Get(ctx context.Context, instanceID string) (domain.OfferingInstance, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return c.queryOne(ctx, `
		SELECT `+offeringColumns+`
		FROM offering_instances
		WHERE id = $1
	`, instanceID)
}

func (c *OfferingCatalog) FirstForCourse(ctx context.Context, courseID string) (domain.OfferingInstance, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return c.queryOne(ctx, `
		SELECT `+offeringColumns+`
		FROM offering_instances
		WHERE course_id = $1 AND enabled
		ORDER BY id ASC
		LIMIT 1
	`, courseID)
}

func (c *OfferingCatalog) queryOne(ctx context.Context, query string, arg string) (domain.OfferingInstance, error) {
	var (
		instance     domain.OfferingInstance
		discountType int
		start, end   sql.NullTime
		periodSecs   int64
	)
	err := c.store.conn(ctx).QueryRowContext(ctx, query, arg).Scan(
		&instance.ID, &instance.CourseID, &instance.Name, &instance.Enabled, &instance.Cost,
		&discountType, &instance.DiscountAmount, &instance.Currency,
		&start, &end, &periodSecs, &instance.RoleID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OfferingInstance{}, domain.ErrOfferingNotFound
		}
		return domain.OfferingInstance{}, fmt.Errorf("select offering instance: %w", err)
	}

	instance.DiscountType = domain.DiscountType(discountType)
	if start.Valid {
		instance.EnrolStart = start.Time.UTC()
	}
	if end.Valid {
		instance.EnrolEnd = end.Time.UTC()
	}
	instance.EnrolPeriod = time.Duration(periodSecs) * time.Second
	return instance, nil
}

var _ domain.OfferingCatalog = (*OfferingCatalog)(nil)
