package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/hanfour/zeyang-construction-sub000/internal/project/entity"
	"github.com/hanfour/zeyang-construction-sub000/pkg/database"
	"github.com/hanfour/zeyang-construction-sub000/pkg/utilities"
)

// ProjectRepo is the MySQL repository for projects and their tag links.
type ProjectRepo struct {
	db *sqlx.DB
}

func NewProjectRepo(db *sqlx.DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

// EnsureTable creates projects. It must run before the tag and image tables that reference it.
func (r *ProjectRepo) EnsureTable(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS projects (
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  uuid CHAR(36) NOT NULL UNIQUE,
  slug VARCHAR(255) NOT NULL UNIQUE,
  title VARCHAR(200) NOT NULL,
  subtitle VARCHAR(200) NULL,
  category ENUM('residential','commercial','mixed','other') NOT NULL DEFAULT 'residential',
  status ENUM('planning','pre_sale','on_sale','sold_out','completed') NOT NULL DEFAULT 'planning',
  location VARCHAR(200) NOT NULL,
  base_address VARCHAR(255) NULL,
  year INT NULL,
  area VARCHAR(100) NULL,
  unit_count INT NULL,
  description TEXT NULL,
  display_order INT NOT NULL DEFAULT 0,
  is_featured BOOLEAN NOT NULL DEFAULT FALSE,
  view_count INT NOT NULL DEFAULT 0,
  custom_fields JSON NULL,
  lifecycle ENUM('active','archived') NOT NULL DEFAULT 'active',
  created_by BIGINT NULL,
  updated_by BIGINT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
  INDEX idx_projects_listing (lifecycle, display_order, created_at),
  INDEX idx_projects_category (category),
  INDEX idx_projects_status (status)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const projectColumns = `p.id, p.uuid, p.slug, p.title, p.subtitle, p.category, p.status, p.location, p.base_address,
  p.year, p.area, p.unit_count, p.description, p.display_order, p.is_featured, p.view_count, p.custom_fields,
  p.lifecycle, p.created_by, p.updated_by, p.created_at, p.updated_at,
  u1.username AS created_by_name, u2.username AS updated_by_name`

const projectJoins = `
FROM projects p
LEFT JOIN users u1 ON p.created_by = u1.id
LEFT JOIN users u2 ON p.updated_by = u2.id`

const imageCount = `(SELECT COUNT(*) FROM project_images pi WHERE pi.project_uuid = p.uuid AND pi.lifecycle = 'active') AS image_count`

var sortable = []string{"created_at", "updated_at", "view_count", "title", "id", "display_order"}

func where(f entity.Filter) (string, []any) {
	conds := []string{"p.lifecycle = 'active'"}
	var args []any
	if f.Category != "" {
		conds = append(conds, "p.category = ?")
		args = append(args, f.Category)
	}
	if f.Status != "" {
		conds = append(conds, "p.status = ?")
		args = append(args, f.Status)
	}
	if f.IsFeatured != nil {
		conds = append(conds, "p.is_featured = ?")
		args = append(args, *f.IsFeatured)
	}
	if f.Search != "" {
		p := "%" + f.Search + "%"
		conds = append(conds, "(p.title LIKE ? OR p.subtitle LIKE ? OR p.location LIKE ?)")
		args = append(args, p, p, p)
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of active projects with their tag names and image counts.
func (r *ProjectRepo) List(ctx context.Context, f entity.Filter, p database.Page) ([]entity.ListItem, int, error) {
	w, args := where(f)
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM projects p"+w, args...); err != nil {
		return nil, 0, err
	}
	q := "SELECT " + projectColumns + ", " + imageCount + projectJoins + w +
		p.OrderClause("p.", sortable, "p.display_order ASC, p.created_at DESC") + p.LimitClause()
	out := []entity.ListItem{}
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, 0, err
	}
	ids := make([]int64, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	tags, err := r.tagsOf(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].Tags = []string{}
		for _, t := range tags[out[i].ID] {
			out[i].Tags = append(out[i].Tags, t.Name)
		}
	}
	return out, total, nil
}

// tagsOf loads the tags of several projects in one query.
func (r *ProjectRepo) tagsOf(ctx context.Context, ids []int64) (map[int64][]entity.TagRef, error) {
	out := map[int64][]entity.TagRef{}
	if len(ids) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(`SELECT pt.project_id, t.id, t.name, t.identifier, t.category
FROM project_tags pt JOIN tags t ON t.id = pt.tag_id
WHERE pt.project_id IN (?) ORDER BY t.name`, ids)
	if err != nil {
		return nil, err
	}
	var rows []entity.TagRef
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	for _, t := range rows {
		out[t.ProjectID] = append(out[t.ProjectID], t)
	}
	return out, nil
}

// Tags returns the tags linked to one project.
func (r *ProjectRepo) Tags(ctx context.Context, projectID int64) ([]entity.TagRef, error) {
	m, err := r.tagsOf(ctx, []int64{projectID})
	if err != nil {
		return nil, err
	}
	if m[projectID] == nil {
		return []entity.TagRef{}, nil
	}
	return m[projectID], nil
}

// GetByIdentifier returns an active project by slug or uuid, or sql.ErrNoRows.
func (r *ProjectRepo) GetByIdentifier(ctx context.Context, ident string) (*entity.Project, error) {
	var p entity.Project
	q := "SELECT " + projectColumns + projectJoins + " WHERE (p.slug = ? OR p.uuid = ?) AND p.lifecycle = 'active'"
	if err := r.db.GetContext(ctx, &p, q, ident, ident); err != nil {
		return nil, err
	}
	return &p, nil
}

// ProjectUUID resolves a slug or uuid to the uuid of an active project.
func (r *ProjectRepo) ProjectUUID(ctx context.Context, ident string) (string, error) {
	var uuid string
	err := r.db.GetContext(ctx, &uuid,
		"SELECT uuid FROM projects WHERE (slug = ? OR uuid = ?) AND lifecycle = 'active'", ident, ident)
	return uuid, err
}

func (r *ProjectRepo) SlugTaken(ctx context.Context, slug string) (bool, error) {
	var id int64
	err := r.db.GetContext(ctx, &id, "SELECT id FROM projects WHERE slug = ?", slug)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Create inserts p and links tags by name in one transaction, creating missing tags.
func (r *ProjectRepo) Create(ctx context.Context, p *entity.Project, tags []string) (int64, error) {
	const q = `INSERT INTO projects (uuid, slug, title, subtitle, category, status, location, base_address, year, area,
  unit_count, description, display_order, is_featured, custom_fields, created_by, updated_by)
VALUES (:uuid, :slug, :title, :subtitle, :category, :status, :location, :base_address, :year, :area,
  :unit_count, :description, :display_order, :is_featured, :custom_fields, :created_by, :updated_by)`
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, q, p)
		if err != nil {
			return err
		}
		if p.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		return linkTags(ctx, tx, p.ID, tags, nil)
	})
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

// Update applies patch and, when patch.Tags is set, replaces the tag set. One transaction.
func (r *ProjectRepo) Update(ctx context.Context, id int64, patch entity.Patch, userID int64) error {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Subtitle != nil {
		add("subtitle", *patch.Subtitle)
	}
	if patch.Category != nil {
		add("category", *patch.Category)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Location != nil {
		add("location", *patch.Location)
	}
	if patch.BaseAddress != nil {
		add("base_address", *patch.BaseAddress)
	}
	if patch.Year != nil {
		add("year", *patch.Year)
	}
	if patch.Area != nil {
		add("area", *patch.Area)
	}
	if patch.UnitCount != nil {
		add("unit_count", *patch.UnitCount)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.DisplayOrder != nil {
		add("display_order", *patch.DisplayOrder)
	}
	if patch.IsFeatured != nil {
		add("is_featured", *patch.IsFeatured)
	}
	if patch.CustomFields != nil {
		add("custom_fields", *patch.CustomFields)
	}
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if len(sets) > 0 {
			add("updated_by", userID)
			args = append(args, id)
			if _, err := tx.ExecContext(ctx, "UPDATE projects SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
				return err
			}
		}
		if patch.Tags == nil {
			return nil
		}
		var old []int64
		if err := tx.SelectContext(ctx, &old, "SELECT tag_id FROM project_tags WHERE project_id = ?", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM project_tags WHERE project_id = ?", id); err != nil {
			return err
		}
		return linkTags(ctx, tx, id, *patch.Tags, old)
	})
}

// linkTags upserts tags by name, links them to the project and recounts usage for the
// linked tags plus stale, the tags that lost this project.
func linkTags(ctx context.Context, tx *sqlx.Tx, projectID int64, names []string, stale []int64) error {
	touched := append([]int64{}, stale...)
	seen := map[string]bool{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		tagID, err := upsertTag(ctx, tx, name)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "INSERT IGNORE INTO project_tags (project_id, tag_id) VALUES (?, ?)", projectID, tagID); err != nil {
			return err
		}
		touched = append(touched, tagID)
	}
	return recount(ctx, tx, touched)
}

// recount refreshes usage_count of the given tags from their distinct projects.
func recount(ctx context.Context, tx *sqlx.Tx, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`UPDATE tags t SET usage_count =
  (SELECT COUNT(DISTINCT pt.project_id) FROM project_tags pt WHERE pt.tag_id = t.id)
WHERE t.id IN (?)`, tagIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(q), args...)
	return err
}

func upsertTag(ctx context.Context, tx *sqlx.Tx, name string) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, "SELECT id FROM tags WHERE name = ?", name)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	identifier, err := utilities.UniqueSlug(ctx, name, func(ctx context.Context, slug string) (bool, error) {
		var n int
		err := tx.GetContext(ctx, &n, "SELECT COUNT(*) FROM tags WHERE identifier = ?", slug)
		return n > 0, err
	})
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO tags (name, identifier, name_en, category) VALUES (?, ?, ?, 'other')", name, identifier, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Archive hides a project from every listing. It reports false when nothing changed.
func (r *ProjectRepo) Archive(ctx context.Context, id, userID int64) (bool, error) {
	return r.exec(ctx, "UPDATE projects SET lifecycle = 'archived', updated_by = ? WHERE id = ? AND lifecycle = 'active'", userID, id)
}

// HardDelete removes the row; project_tags and project_images cascade. Tag usage is recounted.
func (r *ProjectRepo) HardDelete(ctx context.Context, id int64) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var tags []int64
		if err := tx.SelectContext(ctx, &tags, "SELECT tag_id FROM project_tags WHERE project_id = ?", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id); err != nil {
			return err
		}
		return recount(ctx, tx, tags)
	})
}

func (r *ProjectRepo) exec(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *ProjectRepo) UpdateStatus(ctx context.Context, id int64, status string, userID int64) (bool, error) {
	return r.exec(ctx, "UPDATE projects SET status = ?, updated_by = ? WHERE id = ?", status, userID, id)
}

// ToggleFeatured flips is_featured and returns the new value.
func (r *ProjectRepo) ToggleFeatured(ctx context.Context, id, userID int64) (bool, error) {
	var featured bool
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &featured, "SELECT is_featured FROM projects WHERE id = ? FOR UPDATE", id); err != nil {
			return err
		}
		featured = !featured
		_, err := tx.ExecContext(ctx, "UPDATE projects SET is_featured = ?, updated_by = ? WHERE id = ?", featured, userID, id)
		return err
	})
	return featured, err
}

// IncrementViews adds one view. updated_at is kept so views do not look like edits.
func (r *ProjectRepo) IncrementViews(ctx context.Context, id int64) error {
	ok, err := r.exec(ctx, "UPDATE projects SET view_count = view_count + 1, updated_at = updated_at WHERE id = ?", id)
	if err == nil && !ok {
		return sql.ErrNoRows
	}
	return err
}

// Related ranks other active projects sharing the category or location: both first,
// then category only, then location only, then by views.
func (r *ProjectRepo) Related(ctx context.Context, p *entity.Project, limit int) ([]entity.Related, error) {
	const q = `SELECT p.id, p.uuid, p.slug, p.title, p.subtitle, p.category, p.status, p.location, p.view_count
FROM projects p
WHERE p.uuid <> ? AND p.lifecycle = 'active' AND (p.category = ? OR p.location = ?)
ORDER BY CASE WHEN p.category = ? THEN 1 ELSE 0 END DESC,
  CASE WHEN p.location = ? THEN 1 ELSE 0 END DESC,
  p.view_count DESC
LIMIT ?`
	out := []entity.Related{}
	if err := r.db.SelectContext(ctx, &out, q, p.UUID, p.Category, p.Location, p.Category, p.Location, limit); err != nil {
		return nil, err
	}
	return out, nil
}

// SetDisplayOrder updates one project by slug or uuid. It reports false when none matched.
func (r *ProjectRepo) SetDisplayOrder(ctx context.Context, ident string, order int, userID int64) (bool, error) {
	return r.exec(ctx, "UPDATE projects SET display_order = ?, updated_by = ? WHERE (slug = ? OR uuid = ?) AND lifecycle = 'active'",
		order, userID, ident, ident)
}
