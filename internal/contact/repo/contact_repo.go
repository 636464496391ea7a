package repo

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/hanfour/zeyang-construction-sub000/internal/contact/entity"
	"github.com/hanfour/zeyang-construction-sub000/pkg/database"
)

// ContactRepo is the MySQL repository for contact-form submissions.
type ContactRepo struct {
	db *sqlx.DB
}

func NewContactRepo(db *sqlx.DB) *ContactRepo {
	return &ContactRepo{db: db}
}

// EnsureTable creates the contacts table. read_by, replied_by and archived_by reference users.
func (r *ContactRepo) EnsureTable(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS contacts (
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  name VARCHAR(100) NOT NULL,
  email VARCHAR(255) NOT NULL,
  phone VARCHAR(50) NULL,
  company VARCHAR(100) NULL,
  subject VARCHAR(200) NULL,
  message TEXT NOT NULL,
  source VARCHAR(50) NOT NULL DEFAULT 'website',
  ip_address VARCHAR(45) NULL,
  user_agent VARCHAR(500) NULL,
  is_read BOOLEAN NOT NULL DEFAULT FALSE,
  read_by BIGINT NULL,
  read_at DATETIME NULL,
  is_replied BOOLEAN NOT NULL DEFAULT FALSE,
  replied_by BIGINT NULL,
  replied_at DATETIME NULL,
  notes TEXT NULL,
  status ENUM('active','archived') NOT NULL DEFAULT 'active',
  archived_by BIGINT NULL,
  archived_at DATETIME NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
  INDEX idx_contacts_status_created (status, created_at),
  INDEX idx_contacts_email (email),
  CONSTRAINT fk_contacts_read_by FOREIGN KEY (read_by) REFERENCES users(id) ON DELETE SET NULL,
  CONSTRAINT fk_contacts_replied_by FOREIGN KEY (replied_by) REFERENCES users(id) ON DELETE SET NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const selectContact = `SELECT c.id, c.name, c.email, c.phone, c.company, c.subject, c.message, c.source,
  c.ip_address, c.user_agent, c.is_read, c.read_by, c.read_at, c.is_replied, c.replied_by, c.replied_at,
  c.notes, c.status, c.archived_by, c.archived_at, c.created_at, c.updated_at,
  u1.username AS read_by_name, u2.username AS replied_by_name
FROM contacts c
LEFT JOIN users u1 ON c.read_by = u1.id
LEFT JOIN users u2 ON c.replied_by = u2.id`

var sortable = []string{"created_at", "name", "email", "is_read", "is_replied"}

func where(f entity.Filter) (string, []any) {
	conds := []string{"c.status = 'active'"}
	var args []any
	if f.IsRead != nil {
		conds = append(conds, "c.is_read = ?")
		args = append(args, *f.IsRead)
	}
	if f.IsReplied != nil {
		conds = append(conds, "c.is_replied = ?")
		args = append(args, *f.IsReplied)
	}
	if f.Source != "" {
		conds = append(conds, "c.source = ?")
		args = append(args, f.Source)
	}
	if f.Search != "" {
		p := "%" + f.Search + "%"
		conds = append(conds, "(c.name LIKE ? OR c.email LIKE ? OR c.subject LIKE ? OR c.message LIKE ?)")
		args = append(args, p, p, p, p)
	}
	if f.DateFrom != "" {
		conds = append(conds, "DATE(c.created_at) >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		conds = append(conds, "DATE(c.created_at) <= ?")
		args = append(args, f.DateTo)
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Create inserts a submission and sets its ID.
func (r *ContactRepo) Create(ctx context.Context, c *entity.Contact) (int64, error) {
	const q = `INSERT INTO contacts (name, email, phone, company, subject, message, source, ip_address, user_agent)
VALUES (:name, :email, :phone, :company, :subject, :message, :source, :ip_address, :user_agent)`
	res, err := r.db.NamedExecContext(ctx, q, c)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

// List returns one page of active contacts and the total match count.
func (r *ContactRepo) List(ctx context.Context, f entity.Filter, p database.Page) ([]entity.Contact, int, error) {
	w, args := where(f)
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM contacts c"+w, args...); err != nil {
		return nil, 0, err
	}
	q := selectContact + w + p.OrderClause("c.", sortable, "c.created_at DESC") + p.LimitClause()
	out := []entity.Contact{}
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Export returns every active contact matching f, newest first.
func (r *ContactRepo) Export(ctx context.Context, f entity.Filter) ([]entity.Contact, error) {
	w, args := where(f)
	out := []entity.Contact{}
	if err := r.db.SelectContext(ctx, &out, selectContact+w+" ORDER BY c.created_at DESC", args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns an active contact or sql.ErrNoRows.
func (r *ContactRepo) Get(ctx context.Context, id int64) (*entity.Contact, error) {
	var c entity.Contact
	if err := r.db.GetContext(ctx, &c, selectContact+" WHERE c.id = ? AND c.status = 'active'", id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ContactRepo) exec(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkRead flips an unread active contact to read. It reports false when nothing changed.
func (r *ContactRepo) MarkRead(ctx context.Context, id, userID int64) (bool, error) {
	return r.exec(ctx, "UPDATE contacts SET is_read = TRUE, read_by = ?, read_at = NOW() WHERE id = ? AND is_read = FALSE AND status = 'active'", userID, id)
}

func (r *ContactRepo) MarkReplied(ctx context.Context, id, userID int64) (bool, error) {
	return r.exec(ctx, "UPDATE contacts SET is_replied = TRUE, replied_by = ?, replied_at = NOW() WHERE id = ? AND status = 'active'", userID, id)
}

func (r *ContactRepo) UpdateNotes(ctx context.Context, id int64, notes *string) (bool, error) {
	return r.exec(ctx, "UPDATE contacts SET notes = ? WHERE id = ? AND status = 'active'", notes, id)
}

// Archive soft-deletes an active contact.
func (r *ContactRepo) Archive(ctx context.Context, id, userID int64) (bool, error) {
	return r.exec(ctx, "UPDATE contacts SET status = 'archived', archived_by = ?, archived_at = NOW() WHERE id = ? AND status = 'active'", userID, id)
}

// Reply marks the contact replied and runs send inside the same transaction.
// An error from send rolls the update back. A missing contact yields sql.ErrNoRows.
func (r *ContactRepo) Reply(ctx context.Context, id, userID int64, notes *string, send func(*entity.Contact) error) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var c entity.Contact
		if err := tx.GetContext(ctx, &c, selectContact+" WHERE c.id = ? AND c.status = 'active' FOR UPDATE", id); err != nil {
			return err
		}
		const q = "UPDATE contacts SET is_replied = TRUE, replied_by = ?, replied_at = NOW(), notes = COALESCE(?, notes) WHERE id = ?"
		if _, err := tx.ExecContext(ctx, q, userID, notes, id); err != nil {
			return err
		}
		return send(&c)
	})
}

// Stats aggregates active submissions created in the last days days.
func (r *ContactRepo) Stats(ctx context.Context, days int) (entity.Summary, []entity.Daily, error) {
	var s entity.Summary
	const summary = `SELECT COUNT(*) AS total,
  COALESCE(SUM(is_read), 0) AS read_count,
  COALESCE(SUM(is_replied), 0) AS replied_count,
  COALESCE(SUM(CASE WHEN is_read = FALSE THEN 1 ELSE 0 END), 0) AS unread_count
FROM contacts WHERE created_at >= DATE_SUB(NOW(), INTERVAL ? DAY) AND status = 'active'`
	if err := r.db.GetContext(ctx, &s, summary, days); err != nil {
		return s, nil, err
	}
	const daily = `SELECT DATE_FORMAT(created_at, '%Y-%m-%d') AS date,
  COUNT(*) AS daily_count,
  COALESCE(SUM(is_read), 0) AS read_count,
  COALESCE(SUM(is_replied), 0) AS replied_count
FROM contacts WHERE created_at >= DATE_SUB(NOW(), INTERVAL ? DAY) AND status = 'active'
GROUP BY DATE_FORMAT(created_at, '%Y-%m-%d')
ORDER BY date DESC`
	out := []entity.Daily{}
	if err := r.db.SelectContext(ctx, &out, daily, days); err != nil {
		return s, nil, err
	}
	return s, out, nil
}
