package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cepmachine/goTrust/backup"
	"github.com/cepmachine/goTrust/internal/stores/migrations"
	"github.com/cepmachine/goTrust/mfa"
	"github.com/cepmachine/goTrust/rbac"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

// SQLite holds enrollments and custom roles in one database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens dsn, enables foreign keys and applies pending migrations.
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// pragmas and :memory: databases are per connection
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLite{db: db}
	if err := s.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

// ApplyMigrations runs the embedded up migrations. ErrNoChange is not an error.
func (s *SQLite) ApplyMigrations() error {
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}
	instance, err := migrate.NewWithInstance("iofs", source, "", driver)
	if err != nil {
		return err
	}
	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Enrollments() *SQLiteEnrollmentStore { return &SQLiteEnrollmentStore{db: s.db} }
func (s *SQLite) Roles() *SQLiteRoleStore             { return &SQLiteRoleStore{db: s.db} }

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

/*
====================================
ENROLLMENTS
====================================
*/

type SQLiteEnrollmentStore struct {
	db *sql.DB
}

func (s *SQLiteEnrollmentStore) Get(ctx context.Context, principalID string) (*mfa.Record, error) {
	var record *mfa.Record
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var (
			secret             string
			enabled            bool
			setupAt, enabledAt int64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT secret, enabled, setup_at, enabled_at FROM mfa_enrollments WHERE principal_id = ?`,
			principalID,
		).Scan(&secret, &enabled, &setupAt, &enabledAt)
		if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT digest FROM mfa_backup_codes WHERE principal_id = ?`, principalID)
		if err != nil {
			return err
		}
		defer rows.Close()

		digests := make([]backup.Digest, 0, 8)
		for rows.Next() {
			var d string
			if err := rows.Scan(&d); err != nil {
				return err
			}
			digests = append(digests, backup.Digest(d))
		}
		if err := rows.Err(); err != nil {
			return err
		}

		record = &mfa.Record{
			PrincipalID:       principalID,
			Secret:            secret,
			HashedBackupCodes: digests,
			Enabled:           enabled,
			SetupAt:           fromUnixNano(setupAt),
			EnabledAt:         fromUnixNano(enabledAt),
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, mfa.ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	return record, nil
}

// Put writes the enrollment row and replaces its backup digests. With a nil
// prev the row must not exist yet; otherwise the UPDATE is guarded by prev's
// columns, and a guard that matches no row reports mfa.ErrConcurrentUpdate.
func (s *SQLiteEnrollmentStore) Put(ctx context.Context, record, prev *mfa.Record) error {
	if record == nil || record.PrincipalID == "" {
		return errors.New("enrollment record requires a principal id")
	}
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var (
			res sql.Result
			err error
		)
		if prev == nil {
			res, err = tx.ExecContext(ctx, `
INSERT INTO mfa_enrollments (principal_id, secret, enabled, setup_at, enabled_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(principal_id) DO NOTHING`,
				record.PrincipalID, record.Secret, record.Enabled,
				unixNano(record.SetupAt), unixNano(record.EnabledAt),
			)
		} else {
			res, err = tx.ExecContext(ctx, `
UPDATE mfa_enrollments
SET secret = ?, enabled = ?, setup_at = ?, enabled_at = ?
WHERE principal_id = ? AND secret = ? AND enabled = ? AND setup_at = ? AND enabled_at = ?`,
				record.Secret, record.Enabled, unixNano(record.SetupAt), unixNano(record.EnabledAt),
				record.PrincipalID, prev.Secret, prev.Enabled, unixNano(prev.SetupAt), unixNano(prev.EnabledAt),
			)
		}
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return mfa.ErrConcurrentUpdate
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM mfa_backup_codes WHERE principal_id = ?`, record.PrincipalID); err != nil {
			return err
		}
		for _, d := range record.HashedBackupCodes {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO mfa_backup_codes (principal_id, digest) VALUES (?, ?)`,
				record.PrincipalID, string(d)); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, mfa.ErrConcurrentUpdate) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	return nil
}

// Delete removes the enrollment. Backup digests go with it via ON DELETE CASCADE.
func (s *SQLiteEnrollmentStore) Delete(ctx context.Context, principalID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mfa_enrollments WHERE principal_id = ?`, principalID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	return n > 0, nil
}

func (s *SQLiteEnrollmentStore) CompareAndRemove(ctx context.Context, principalID string, digest backup.Digest) (bool, int, error) {
	var (
		removed bool
		left    int
	)
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM mfa_backup_codes WHERE principal_id = ? AND digest = ?`, principalID, string(digest))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = n == 1
		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM mfa_backup_codes WHERE principal_id = ?`, principalID).Scan(&left)
	})
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	return removed, left, nil
}

/*
====================================
ROLES
====================================
*/

type SQLiteRoleStore struct {
	db *sql.DB
}

func (s *SQLiteRoleStore) LoadRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, description, permissions FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRoleBackend, err)
	}
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		var (
			role  rbac.Role
			perms string
		)
		if err := rows.Scan(&role.Name, &role.Description, &perms); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRoleBackend, err)
		}
		if err := json.Unmarshal([]byte(perms), &role.Permissions); err != nil {
			return nil, fmt.Errorf("decode role %q: %w", role.Name, err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRoleBackend, err)
	}
	return roles, nil
}

// CreateRole inserts only. An existing name leaves the row untouched and
// reports rbac.ErrRoleConflict.
func (s *SQLiteRoleStore) CreateRole(ctx context.Context, role rbac.Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return err
	}
	var created bool
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO roles (name, description, permissions) VALUES (?, ?, ?)
ON CONFLICT(name) DO NOTHING`,
			role.Name, role.Description, string(perms),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		created = true
		return bumpRoleVersion(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRoleBackend, err)
	}
	if !created {
		return rbac.ErrRoleConflict
	}
	return nil
}

func (s *SQLiteRoleStore) SaveRole(ctx context.Context, role rbac.Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return err
	}
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO roles (name, description, permissions) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
    description = excluded.description,
    permissions = excluded.permissions`,
			role.Name, role.Description, string(perms),
		)
		if err != nil {
			return err
		}
		return bumpRoleVersion(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRoleBackend, err)
	}
	return nil
}

func (s *SQLiteRoleStore) DeleteRole(ctx context.Context, name string) error {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE name = ?`, name); err != nil {
			return err
		}
		return bumpRoleVersion(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRoleBackend, err)
	}
	return nil
}

func (s *SQLiteRoleStore) Version(ctx context.Context) (uint64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM role_version WHERE id = 1`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRoleBackend, err)
	}
	return uint64(v), nil
}

func bumpRoleVersion(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `UPDATE role_version SET version = version + 1 WHERE id = 1`)
	return err
}
