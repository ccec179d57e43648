package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	currentCartIndex = "uq_carts_owner_current"

	cartColumns = `id, owner_id, status, currency, price, payable,
		coupon_id, coupon_code, coupon_usage_id, coupon_discount_amount,
		checkout_at, version, created_at, updated_at, created_by, updated_by`
)

type cartRepository struct {
	store *Store
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{store: store}
}

func (r *cartRepository) Create(ctx context.Context, cart domain.Cart) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.store.WithinTx(ctx, func(ctx context.Context) error {
		coupon := couponColumns(cart.Coupon)
		_, err := r.store.conn(ctx).ExecContext(ctx, `
			INSERT INTO carts (`+cartColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		`,
			cart.ID, cart.OwnerID, string(cart.Status), cart.Currency, cart.Price, cart.Payable,
			coupon.id, coupon.code, coupon.usageID, coupon.discount,
			nullTime(cart.CheckoutAt), cart.Version, cart.CreatedAt, updatedAtOrCreated(cart),
			cart.CreatedBy, cart.UpdatedBy,
		)
		if err != nil {
			if isUniqueViolationOn(err, currentCartIndex) {
				return domain.ErrCurrentCartExists
			}
			if isUniqueViolation(err) {
				return domain.ErrCartVersionConflict
			}
			return fmt.Errorf("insert cart: %w", err)
		}

		for _, item := range cart.Items {
			item.CartID = cart.ID
			if err := r.insertItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *cartRepository) Get(ctx context.Context, id string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cart, err := scanCart(r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT `+cartColumns+`
		FROM carts
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}

	if cart.Items, err = r.loadItems(ctx, cart.ID); err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

func (r *cartRepository) FindCurrent(ctx context.Context, ownerID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cart, err := scanCart(r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT `+cartColumns+`
		FROM carts
		WHERE owner_id = $1 AND status = 'current'
	`, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("select current cart: %w", err)
	}

	if cart.Items, err = r.loadItems(ctx, cart.ID); err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

func (r *cartRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT ` + cartColumns + `
		FROM carts
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.store.conn(ctx).QueryContext(ctx, query+" LIMIT $2", ownerID, limit)
	} else {
		rows, err = r.store.conn(ctx).QueryContext(ctx, query, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list carts: %w", err)
	}

	carts, err := collectCarts(rows)
	if err != nil {
		return nil, err
	}
	return r.attachItems(ctx, carts)
}

func (r *cartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = time.Now().UTC()
	}
	coupon := couponColumns(cart.Coupon)

	res, err := r.store.conn(ctx).ExecContext(ctx, `
		UPDATE carts
		SET owner_id = $1,
		    status = $2,
		    currency = $3,
		    price = $4,
		    payable = $5,
		    coupon_id = $6,
		    coupon_code = $7,
		    coupon_usage_id = $8,
		    coupon_discount_amount = $9,
		    checkout_at = $10,
		    version = version + 1,
		    updated_at = $11,
		    updated_by = $12
		WHERE id = $13
		  AND version = $14
	`,
		cart.OwnerID, string(cart.Status), cart.Currency, cart.Price, cart.Payable,
		coupon.id, coupon.code, coupon.usageID, coupon.discount,
		nullTime(cart.CheckoutAt), cart.UpdatedAt, cart.UpdatedBy,
		cart.ID, cart.Version,
	)
	if err != nil {
		if isUniqueViolationOn(err, currentCartIndex) {
			return domain.Cart{}, domain.ErrCurrentCartExists
		}
		return domain.Cart{}, fmt.Errorf("update cart: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Cart{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.cartExists(ctx, cart.ID)
		if err != nil {
			return domain.Cart{}, err
		}
		if !exists {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, domain.ErrCartVersionConflict
	}

	cart.Version++
	return cart, nil
}

func (r *cartRepository) Delete(ctx context.Context, id string, version int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `DELETE FROM carts WHERE id = $1 AND version = $2`, id, version)
	if err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	exists, err := r.cartExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrCartNotFound
	}
	return domain.ErrCartVersionConflict
}

func (r *cartRepository) AddItem(ctx context.Context, item domain.LineItem) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	exists, err := r.cartExists(ctx, item.CartID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrCartNotFound
	}
	return r.insertItem(ctx, item)
}

func (r *cartRepository) UpdateItem(ctx context.Context, item domain.LineItem) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `
		UPDATE cart_items
		SET price = $1, payable = $2
		WHERE id = $3
	`, item.Price, item.Payable, item.ID)
	if err != nil {
		return fmt.Errorf("update cart item: %w", err)
	}
	return expectAffected(res, domain.ErrCartItemNotFound)
}

func (r *cartRepository) DeleteItem(ctx context.Context, itemID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return expectAffected(res, domain.ErrCartItemNotFound)
}

func (r *cartRepository) DeleteItems(ctx context.Context, cartID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return 0, fmt.Errorf("delete cart items: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *cartRepository) ListItems(ctx context.Context, cartID string) ([]domain.LineItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.loadItems(ctx, cartID)
}

func (r *cartRepository) ListExpired(ctx context.Context, status domain.CartStatus, before time.Time, afterID string, limit int) ([]domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	mark := "updated_at"
	if status == domain.CartStatusCheckout {
		mark = "checkout_at"
	}

	rows, err := r.store.conn(ctx).QueryContext(ctx, `
		SELECT `+cartColumns+`
		FROM carts
		WHERE status = $1
		  AND id > $2
		  AND `+mark+` < $3
		ORDER BY id ASC
		LIMIT $4
	`, string(status), afterID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired carts: %w", err)
	}

	carts, err := collectCarts(rows)
	if err != nil {
		return nil, err
	}
	return r.attachItems(ctx, carts)
}

func (r *cartRepository) insertItem(ctx context.Context, item domain.LineItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO cart_items (id, cart_id, instance_id, price, payable, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, item.ID, item.CartID, item.InstanceID, item.Price, item.Payable, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateItem
		}
		return fmt.Errorf("insert cart item: %w", err)
	}
	return nil
}

func (r *cartRepository) loadItems(ctx context.Context, cartID string) ([]domain.LineItem, error) {
	rows, err := r.store.conn(ctx).QueryContext(ctx, `
		SELECT id, cart_id, instance_id, price, payable, created_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY seq ASC
	`, cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0)
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ID, &item.CartID, &item.InstanceID, &item.Price, &item.Payable, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}

	return items, nil
}

func (r *cartRepository) attachItems(ctx context.Context, carts []domain.Cart) ([]domain.Cart, error) {
	for i := range carts {
		items, err := r.loadItems(ctx, carts[i].ID)
		if err != nil {
			return nil, err
		}
		carts[i].Items = items
	}
	return carts, nil
}

func (r *cartRepository) cartExists(ctx context.Context, cartID string) (bool, error) {
	var id string
	err := r.store.conn(ctx).QueryRowContext(ctx, `SELECT id FROM carts WHERE id = $1`, cartID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check cart exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCart(row rowScanner) (domain.Cart, error) {
	var (
		cart       domain.Cart
		status     string
		couponID   sql.NullString
		couponCode sql.NullString
		usageID    sql.NullString
		discount   decimal.NullDecimal
		checkoutAt sql.NullTime
	)
	if err := row.Scan(
		&cart.ID, &cart.OwnerID, &status, &cart.Currency, &cart.Price, &cart.Payable,
		&couponID, &couponCode, &usageID, &discount,
		&checkoutAt, &cart.Version, &cart.CreatedAt, &cart.UpdatedAt, &cart.CreatedBy, &cart.UpdatedBy,
	); err != nil {
		return domain.Cart{}, err
	}

	cart.Status = domain.CartStatus(status)
	if checkoutAt.Valid {
		cart.CheckoutAt = checkoutAt.Time.UTC()
	}
	if couponID.Valid && couponID.String != "" {
		cart.Coupon = &domain.AppliedCoupon{
			CouponID:       couponID.String,
			Code:           couponCode.String,
			UsageID:        usageID.String,
			DiscountAmount: discount.Decimal,
		}
	}
	return cart, nil
}

func collectCarts(rows *sql.Rows) ([]domain.Cart, error) {
	defer rows.Close()

	carts := make([]domain.Cart, 0)
	for rows.Next() {
		cart, err := scanCart(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart row: %w", err)
		}
		carts = append(carts, cart)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart rows: %w", err)
	}
	return carts, nil
}

type couponRow struct {
	id       sql.NullString
	code     sql.NullString
	usageID  sql.NullString
	discount decimal.NullDecimal
}

func couponColumns(coupon *domain.AppliedCoupon) couponRow {
	if coupon == nil {
		return couponRow{}
	}
	return couponRow{
		id:       sql.NullString{String: coupon.CouponID, Valid: true},
		code:     sql.NullString{String: coupon.Code, Valid: true},
		usageID:  sql.NullString{String: coupon.UsageID, Valid: coupon.UsageID != ""},
		discount: decimal.NullDecimal{Decimal: coupon.DiscountAmount, Valid: true},
	}
}

func updatedAtOrCreated(cart domain.Cart) time.Time {
	if cart.UpdatedAt.IsZero() {
		return cart.CreatedAt
	}
	return cart.UpdatedAt
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isUniqueViolationOn(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}

var _ domain.CartRepository = (*cartRepository)(nil)
