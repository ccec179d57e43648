package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	migrationsDir     = "sql/migrations"
	migrationLockName = "enrolcart.schema_migrations"
	statusTimeout     = 5 * time.Second

	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS cart_schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    checksum   TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

// ErrMigrationDrift — файл уже применённой миграции изменён после применения.
var ErrMigrationDrift = errors.New("applied migration was modified")

var (
	//go:embed sql/migrations/*.sql
	embeddedMigrations embed.FS

	migrationName = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

// schemaMigration — пара up/down файлов одной версии схемы.
type schemaMigration struct {
	version  int64
	name     string
	up       string
	down     string
	checksum string
}

func (m schemaMigration) String() string {
	return fmt.Sprintf("%06d_%s", m.version, m.name)
}

// MigrateUp применяет steps непримененных миграций по возрастанию версии; 0 — все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает steps последних миграций; steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, migrationDown, steps)
}

// MigrationStatus возвращает последнюю применённую версию и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errStoreClosed
	}

	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, migrationTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure migration table: %w", err)
	}
	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM cart_schema_migrations`,
	).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}
	return version, count, nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	if direction != migrationUp && direction != migrationDown {
		return fmt.Errorf("unsupported migration direction: %s", direction)
	}

	plan, err := parseMigrations(embeddedMigrations, migrationsDir)
	if err != nil {
		return err
	}

	// Advisory lock держится на соединении, поэтому вся миграция идёт через один conn.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, migrationLockName); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, migrationLockName)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedChecksums(ctx, conn)
	if err != nil {
		return err
	}

	pending := make([]schemaMigration, 0, len(plan))
	for _, m := range plan {
		checksum, done := applied[m.version]
		if done && checksum != m.checksum {
			return fmt.Errorf("%w: %s", ErrMigrationDrift, m)
		}
		if done == (direction == migrationDown) {
			pending = append(pending, m)
		}
	}
	if direction == migrationDown {
		slices.Reverse(pending)
		for version := range applied {
			if !slices.ContainsFunc(plan, func(m schemaMigration) bool { return m.version == version }) {
				return fmt.Errorf("cannot roll back unknown migration version %d", version)
			}
		}
	}
	if steps > 0 && len(pending) > steps {
		pending = pending[:steps]
	}

	for _, m := range pending {
		if err := runMigration(ctx, conn, m, direction); err != nil {
			return err
		}
	}
	return nil
}

// runMigration выполняет одну миграцию вместе с записью в cart_schema_migrations в одной транзакции.
func runMigration(ctx context.Context, conn *sql.Conn, m schemaMigration, direction migrationDirection) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s migration %s: %w", direction, m, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	body, bookkeeping, args := m.up, `INSERT INTO cart_schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`, []any{m.version, m.name, m.checksum}
	if direction == migrationDown {
		body, bookkeeping, args = m.down, `DELETE FROM cart_schema_migrations WHERE version = $1`, []any{m.version}
	}

	if _, err = tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("run %s migration %s: %w", direction, m, err)
	}
	if _, err = tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("record %s migration %s: %w", direction, m, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", direction, m, err)
	}
	return nil
}

func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[int64]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM cart_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version  int64
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// parseMigrations собирает миграции из dir: у каждой версии ровно один up и один down файл,
// версии упорядочены по возрастанию. Контрольная сумма считается по up-скрипту.
func parseMigrations(fsys fs.FS, dir string) ([]schemaMigration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*schemaMigration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		parts := migrationName.FindStringSubmatch(entry.Name())
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", entry.Name())
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration version in %s: %w", entry.Name(), err)
		}

		raw, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", entry.Name())
		}

		m, ok := byVersion[version]
		switch {
		case !ok:
			m = &schemaMigration{version: version, name: parts[2]}
			byVersion[version] = m
		case m.name != parts[2]:
			return nil, fmt.Errorf("migration %d has two names: %s and %s", version, m.name, parts[2])
		}

		target := &m.up
		if parts[3] == string(migrationDown) {
			target = &m.down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", parts[3], version)
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	plan := make([]schemaMigration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" || m.down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m)
		}
		sum := sha256.Sum256([]byte(m.up))
		m.checksum = hex.EncodeToString(sum[:])
		plan = append(plan, *m)
	}
	slices.SortFunc(plan, func(a, b schemaMigration) int {
		switch {
		case a.version < b.version:
			return -1
		case a.version > b.version:
			return 1
		}
		return 0
	})
	return plan, nil
}
