package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// RefreshSession is one issued, not yet consumed refresh token.
type RefreshSession struct {
	JTI       string    `db:"jti"`
	UserID    int64     `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

// SessionRepo persists refresh sessions keyed by token id.
type SessionRepo struct {
	db *sqlx.DB
}

func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) EnsureTable(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS refresh_sessions (
  jti VARCHAR(64) NOT NULL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  expires_at DATETIME NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  INDEX idx_refresh_sessions_user (user_id),
  INDEX idx_refresh_sessions_expires (expires_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *SessionRepo) Save(ctx context.Context, jti string, userID int64, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_sessions (jti, user_id, expires_at) VALUES (?, ?, ?)`,
		jti, userID, expiresAt.UTC())
	return err
}

// Consume deletes the session and reports whether it existed and had not expired.
// Only one concurrent caller can consume a given jti.
func (r *SessionRepo) Consume(ctx context.Context, jti string, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_sessions WHERE jti = ? AND user_id = ? AND expires_at > UTC_TIMESTAMP()`,
		jti, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SessionRepo) Delete(ctx context.Context, jti string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE jti = ?`, jti)
	return err
}

// DeleteByUser revokes every refresh session of a user.
func (r *SessionRepo) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE user_id = ?`, userID)
	return err
}

// PurgeExpired removes sessions past their expiry and returns how many were removed.
func (r *SessionRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE expires_at <= UTC_TIMESTAMP()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
