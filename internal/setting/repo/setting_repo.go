package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/hanfour/zeyang-construction-sub000/internal/setting/entity"
)

// Repo is the repository implementation for settings backed by MySQL.
type Repo struct {
	db *sqlx.DB
}

// NewRepo constructs a new Repo with an existing *sqlx.DB connection.
func NewRepo(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// EnsureTable ensures the settings table and its index exist.
// Fields:
// - key varchar(100) unique
// - value text, string-encoded per type
// - type string/number/boolean/json
// - category varchar(50) (indexed)
func (r *Repo) EnsureTable(ctx context.Context) error {
	const ddl = "CREATE TABLE IF NOT EXISTS settings (" + `
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  ` + "`key`" + ` VARCHAR(100) NOT NULL UNIQUE,
  value TEXT NULL,
  type ENUM('string','number','boolean','json') NOT NULL DEFAULT 'string',
  category VARCHAR(50) NOT NULL DEFAULT 'general',
  description VARCHAR(255) NULL,
  updated_by BIGINT NULL,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
  INDEX idx_settings_category (category)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const columns = "`key`, value, type, category, description, updated_by, updated_at"

// List returns settings ordered by category then key; an empty category returns all.
func (r *Repo) List(ctx context.Context, category string) ([]entity.Setting, error) {
	q := "SELECT " + columns + " FROM settings"
	var args []any
	if category != "" {
		q += " WHERE category = ?"
		args = append(args, category)
	}
	q += " ORDER BY category, `key`"
	var out []entity.Setting
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one setting or sql.ErrNoRows.
func (r *Repo) Get(ctx context.Context, key string) (*entity.Setting, error) {
	var s entity.Setting
	if err := r.db.GetContext(ctx, &s, "SELECT "+columns+" FROM settings WHERE `key` = ?", key); err != nil {
		return nil, err
	}
	return &s, nil
}

// Upsert writes one encoded value and returns MySQL's affected-rows count (1 insert, 2 update).
func (r *Repo) Upsert(ctx context.Context, key string, value *string, typ, category string, updatedBy int64) (int64, error) {
	const q = "INSERT INTO settings (`key`, value, type, category, updated_by) VALUES (?, ?, ?, ?, ?) " +
		"ON DUPLICATE KEY UPDATE value = VALUES(value), type = VALUES(type), category = VALUES(category), " +
		"updated_by = VALUES(updated_by), updated_at = CURRENT_TIMESTAMP"
	var by any
	if updatedBy > 0 {
		by = updatedBy
	}
	res, err := r.db.ExecContext(ctx, q, key, value, typ, category, by)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteCategory removes every setting in category.
func (r *Repo) DeleteCategory(ctx context.Context, category string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM settings WHERE category = ?", category)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
