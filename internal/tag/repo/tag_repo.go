package repo

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/hanfour/zeyang-construction-sub000/internal/tag/entity"
	"github.com/hanfour/zeyang-construction-sub000/pkg/database"
)

// TagRepo is the MySQL repository for tags and their project links.
type TagRepo struct {
	db *sqlx.DB
}

func NewTagRepo(db *sqlx.DB) *TagRepo {
	return &TagRepo{db: db}
}

// EnsureTable creates tags and project_tags. projects must exist first.
func (r *TagRepo) EnsureTable(ctx context.Context) error {
	const tags = `CREATE TABLE IF NOT EXISTS tags (
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  name VARCHAR(50) NOT NULL UNIQUE,
  identifier VARCHAR(200) NOT NULL UNIQUE,
  name_en VARCHAR(50) NOT NULL DEFAULT '',
  category VARCHAR(50) NOT NULL DEFAULT 'other',
  description VARCHAR(200) NULL,
  usage_count INT NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
  INDEX idx_tags_category (category)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	const links = `CREATE TABLE IF NOT EXISTS project_tags (
  project_id BIGINT NOT NULL,
  tag_id BIGINT NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (project_id, tag_id),
  INDEX idx_project_tags_tag (tag_id),
  CONSTRAINT fk_project_tags_project FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
  CONSTRAINT fk_project_tags_tag FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	for _, ddl := range []string{tags, links} {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

const selectTag = `SELECT t.id, t.name, t.identifier, t.name_en, t.category, t.description, t.usage_count,
  t.created_at, t.updated_at, COUNT(DISTINCT pt.project_id) AS project_count
FROM tags t
LEFT JOIN project_tags pt ON t.id = pt.tag_id`

// List returns all tags ordered by usage, name or created_at.
func (r *TagRepo) List(ctx context.Context, o entity.ListOptions) ([]entity.Tag, error) {
	q := selectTag
	var args []any
	if o.Category != "" {
		q += " WHERE t.category = ?"
		args = append(args, o.Category)
	}
	q += " GROUP BY t.id"
	dir := strings.ToUpper(o.OrderDir)
	if dir != "ASC" {
		dir = "DESC"
	}
	switch o.OrderBy {
	case "name", "created_at":
		q += " ORDER BY t." + o.OrderBy + " " + dir
	case "usage", "usageCount", "usage_count", "":
		q += " ORDER BY project_count " + dir + ", t.name"
	default:
		q += " ORDER BY project_count DESC, t.name"
	}
	if o.Limit > 0 {
		q += " LIMIT " + strconv.Itoa(o.Limit)
	}
	out := []entity.Tag{}
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Get finds a tag by numeric id or identifier, or returns sql.ErrNoRows.
func (r *TagRepo) Get(ctx context.Context, ident string) (*entity.Tag, error) {
	var t entity.Tag
	if err := r.db.GetContext(ctx, &t, selectTag+" WHERE t.id = ? OR t.identifier = ? GROUP BY t.id", numericID(ident), ident); err != nil {
		return nil, err
	}
	return &t, nil
}

// numericID returns ident as an id, or -1 so the id comparison never matches.
func numericID(ident string) int64 {
	id, err := strconv.ParseInt(ident, 10, 64)
	if err != nil || id <= 0 {
		return -1
	}
	return id
}

func (r *TagRepo) GetByID(ctx context.Context, id int64) (*entity.Tag, error) {
	var t entity.Tag
	if err := r.db.GetContext(ctx, &t, selectTag+" WHERE t.id = ? GROUP BY t.id", id); err != nil {
		return nil, err
	}
	return &t, nil
}

// Projects lists the projects linked to a tag.
func (r *TagRepo) Projects(ctx context.Context, tagID int64) ([]entity.TagProject, error) {
	const q = `SELECT p.id, p.uuid, p.slug, p.title, p.category, p.status, p.location
FROM projects p
JOIN project_tags pt ON p.id = pt.project_id
WHERE pt.tag_id = ? AND p.lifecycle = 'active'
ORDER BY p.display_order, p.created_at DESC`
	out := []entity.TagProject{}
	if err := r.db.SelectContext(ctx, &out, q, tagID); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *TagRepo) exists(ctx context.Context, q string, args ...any) (bool, error) {
	var id int64
	err := r.db.GetContext(ctx, &id, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// NameTaken reports whether another tag (not excludeID) already uses name.
func (r *TagRepo) NameTaken(ctx context.Context, name string, excludeID int64) (bool, error) {
	return r.exists(ctx, "SELECT id FROM tags WHERE name = ? AND id <> ? LIMIT 1", name, excludeID)
}

func (r *TagRepo) IdentifierTaken(ctx context.Context, slug string, excludeID int64) (bool, error) {
	return r.exists(ctx, "SELECT id FROM tags WHERE identifier = ? AND id <> ? LIMIT 1", slug, excludeID)
}

// Create inserts t and sets its ID.
func (r *TagRepo) Create(ctx context.Context, t *entity.Tag) (int64, error) {
	const q = `INSERT INTO tags (name, identifier, name_en, category, description)
VALUES (:name, :identifier, :name_en, :category, :description)`
	res, err := r.db.NamedExecContext(ctx, q, t)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

func (r *TagRepo) Update(ctx context.Context, id int64, p entity.Patch) error {
	var sets []string
	var args []any
	add := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}
	add("name", p.Name)
	add("identifier", p.Identifier)
	add("name_en", p.NameEn)
	add("category", p.Category)
	add("description", p.Description)
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := r.db.ExecContext(ctx, "UPDATE tags SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	return err
}

// DeleteUnused deletes the tag unless projects reference it, in which case it returns
// the reference count and leaves everything untouched.
func (r *TagRepo) DeleteUnused(ctx context.Context, id int64) (int, error) {
	var inUse int
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &inUse, "SELECT COUNT(*) FROM project_tags WHERE tag_id = ? FOR UPDATE", id); err != nil {
			return err
		}
		if inUse > 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM tags WHERE id = ?", id)
		return err
	})
	return inUse, err
}

// Merge moves every project link from source to target, recounts target and drops source.
// It returns the number of projects that were linked to source.
func (r *TagRepo) Merge(ctx context.Context, sourceID, targetID int64) (int, error) {
	var moved int
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &moved, "SELECT COUNT(*) FROM project_tags WHERE tag_id = ?", sourceID); err != nil {
			return err
		}
		steps := []struct {
			q    string
			args []any
		}{
			{"INSERT IGNORE INTO project_tags (project_id, tag_id) SELECT project_id, ? FROM project_tags WHERE tag_id = ?", []any{targetID, sourceID}},
			{"UPDATE tags SET usage_count = (SELECT COUNT(DISTINCT project_id) FROM project_tags WHERE tag_id = ?) WHERE id = ?", []any{targetID, targetID}},
			{"DELETE FROM project_tags WHERE tag_id = ?", []any{sourceID}},
			{"DELETE FROM tags WHERE id = ?", []any{sourceID}},
		}
		for _, s := range steps {
			if _, err := tx.ExecContext(ctx, s.q, s.args...); err != nil {
				return err
			}
		}
		return nil
	})
	return moved, err
}

// Popular returns the most used tags of active projects.
func (r *TagRepo) Popular(ctx context.Context, limit int) ([]entity.Tag, error) {
	const q = `SELECT t.id, t.name, t.identifier, t.name_en, t.category, t.description, t.usage_count,
  t.created_at, t.updated_at, COUNT(DISTINCT pt.project_id) AS project_count
FROM tags t
JOIN project_tags pt ON t.id = pt.tag_id
JOIN projects p ON pt.project_id = p.id AND p.lifecycle = 'active'
GROUP BY t.id
HAVING project_count > 0
ORDER BY project_count DESC, t.name
LIMIT ?`
	out := []entity.Tag{}
	if err := r.db.SelectContext(ctx, &out, q, limit); err != nil {
		return nil, err
	}
	return out, nil
}

// Search matches names containing q, exact match first, at most 20 rows.
func (r *TagRepo) Search(ctx context.Context, q string) ([]entity.Tag, error) {
	query := selectTag + ` WHERE t.name LIKE ? OR t.name_en LIKE ?
GROUP BY t.id
ORDER BY CASE WHEN t.name = ? THEN 1 ELSE 2 END, project_count DESC, t.name
LIMIT 20`
	like := "%" + q + "%"
	out := []entity.Tag{}
	if err := r.db.SelectContext(ctx, &out, query, like, like, q); err != nil {
		return nil, err
	}
	return out, nil
}

// RecountUsage rewrites usage_count from every project link, archived projects included,
// matching the count kept on link, unlink and merge.
func (r *TagRepo) RecountUsage(ctx context.Context) (int64, error) {
	const q = `UPDATE tags t SET usage_count =
  (SELECT COUNT(DISTINCT pt.project_id) FROM project_tags pt WHERE pt.tag_id = t.id)`
	res, err := r.db.ExecContext(ctx, q)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
