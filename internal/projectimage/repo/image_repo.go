package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/hanfour/zeyang-construction-sub000/internal/projectimage/entity"
	"github.com/hanfour/zeyang-construction-sub000/pkg/database"
)

// ImageRepo is the MySQL repository for project images.
type ImageRepo struct {
	db *sqlx.DB
}

func NewImageRepo(db *sqlx.DB) *ImageRepo {
	return &ImageRepo{db: db}
}

// EnsureTable creates project_images. projects must exist first.
func (r *ImageRepo) EnsureTable(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS project_images (
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  project_uuid CHAR(36) NOT NULL,
  image_type ENUM('main','gallery','floor_plan','location','vr') NOT NULL DEFAULT 'gallery',
  file_name VARCHAR(255) NOT NULL,
  file_path VARCHAR(500) NOT NULL,
  file_size BIGINT NOT NULL DEFAULT 0,
  mime_type VARCHAR(50) NOT NULL,
  dimensions JSON NULL,
  thumbnails JSON NULL,
  alt_text VARCHAR(255) NULL,
  display_order INT NOT NULL DEFAULT 0,
  lifecycle ENUM('active','archived','purged') NOT NULL DEFAULT 'active',
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
  INDEX idx_project_images_listing (project_uuid, lifecycle, image_type, display_order),
  CONSTRAINT fk_project_images_project FOREIGN KEY (project_uuid) REFERENCES projects(uuid) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const imageColumns = `id, project_uuid, image_type, file_name, file_path, file_size, mime_type, dimensions,
  thumbnails, alt_text, display_order, lifecycle, created_at, updated_at`

// List returns the active images of a project, optionally of one type.
func (r *ImageRepo) List(ctx context.Context, projectUUID, imageType string) ([]entity.Image, error) {
	q := "SELECT " + imageColumns + " FROM project_images WHERE project_uuid = ? AND lifecycle = 'active'"
	args := []any{projectUUID}
	if imageType != "" {
		q += " AND image_type = ?"
		args = append(args, imageType)
	}
	q += " ORDER BY image_type, display_order, id"
	out := []entity.Image{}
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Unpurged returns every image of a project whose objects may still be in storage.
func (r *ImageRepo) Unpurged(ctx context.Context, projectUUID string) ([]entity.Image, error) {
	out := []entity.Image{}
	err := r.db.SelectContext(ctx, &out,
		"SELECT "+imageColumns+" FROM project_images WHERE project_uuid = ? AND lifecycle <> 'purged' ORDER BY id", projectUUID)
	return out, err
}

// Get returns an active image of the project or sql.ErrNoRows.
func (r *ImageRepo) Get(ctx context.Context, projectUUID string, id int64) (*entity.Image, error) {
	var img entity.Image
	err := r.db.GetContext(ctx, &img,
		"SELECT "+imageColumns+" FROM project_images WHERE id = ? AND project_uuid = ? AND lifecycle = 'active'", id, projectUUID)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// NextOrder is one past the highest display_order used by the project.
func (r *ImageRepo) NextOrder(ctx context.Context, projectUUID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		"SELECT COALESCE(MAX(display_order), -1) + 1 FROM project_images WHERE project_uuid = ? AND lifecycle = 'active'", projectUUID)
	return n, err
}

// Create inserts img and sets its ID.
func (r *ImageRepo) Create(ctx context.Context, img *entity.Image) (int64, error) {
	const q = `INSERT INTO project_images (project_uuid, image_type, file_name, file_path, file_size, mime_type,
  dimensions, thumbnails, alt_text, display_order)
VALUES (:project_uuid, :image_type, :file_name, :file_path, :file_size, :mime_type,
  :dimensions, :thumbnails, :alt_text, :display_order)`
	res, err := r.db.NamedExecContext(ctx, q, img)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	img.ID = id
	return id, nil
}

func (r *ImageRepo) Update(ctx context.Context, id int64, p entity.Patch) error {
	var sets []string
	var args []any
	if p.AltText != nil {
		sets = append(sets, "alt_text = ?")
		args = append(args, *p.AltText)
	}
	if p.DisplayOrder != nil {
		sets = append(sets, "display_order = ?")
		args = append(args, *p.DisplayOrder)
	}
	if p.ImageType != nil {
		sets = append(sets, "image_type = ?")
		args = append(args, *p.ImageType)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := r.db.ExecContext(ctx, "UPDATE project_images SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	return err
}

// SetMain demotes the project's main image(s) to gallery and promotes id with display_order 0.
// The project row is locked so concurrent calls for the same project run one after another.
func (r *ImageRepo) SetMain(ctx context.Context, projectUUID string, id int64) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var uuid string
		if err := tx.GetContext(ctx, &uuid, "SELECT uuid FROM projects WHERE uuid = ? FOR UPDATE", projectUUID); err != nil {
			return err
		}
		var found int64
		if err := tx.GetContext(ctx, &found,
			"SELECT id FROM project_images WHERE id = ? AND project_uuid = ? AND lifecycle = 'active'", id, projectUUID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE project_images SET image_type = 'gallery' WHERE project_uuid = ? AND image_type = 'main' AND id <> ?", projectUUID, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "UPDATE project_images SET image_type = 'main', display_order = 0 WHERE id = ?", id)
		return err
	})
}

// Archive hides an active image from listings. It reports false when nothing changed.
func (r *ImageRepo) Archive(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, "UPDATE project_images SET lifecycle = 'archived' WHERE id = ? AND lifecycle = 'active'", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkPurged records that an archived image's objects are gone.
func (r *ImageRepo) MarkPurged(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "UPDATE project_images SET lifecycle = 'purged' WHERE id = ? AND lifecycle = 'archived'", id)
	return err
}

// Owned returns the ids among ids that are active images of the project.
func (r *ImageRepo) Owned(ctx context.Context, projectUUID string, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In("SELECT id FROM project_images WHERE project_uuid = ? AND id IN (?) AND lifecycle = 'active'", projectUUID, ids)
	if err != nil {
		return nil, err
	}
	out := []int64{}
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ImageRepo) SetOrder(ctx context.Context, id int64, order int) error {
	_, err := r.db.ExecContext(ctx, "UPDATE project_images SET display_order = ? WHERE id = ?", order, id)
	return err
}

// Stats counts active images and their bytes, overall and per type.
func (r *ImageRepo) Stats(ctx context.Context, projectUUID string) (entity.Stats, error) {
	var st entity.Stats
	const totals = "SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM project_images WHERE project_uuid = ? AND lifecycle = 'active'"
	if err := r.db.QueryRowxContext(ctx, totals, projectUUID).Scan(&st.Total, &st.TotalSize); err != nil {
		return st, err
	}
	st.ByType = []entity.TypeStat{}
	err := r.db.SelectContext(ctx, &st.ByType, `SELECT image_type, COUNT(*) AS count, COALESCE(SUM(file_size), 0) AS total_size
FROM project_images WHERE project_uuid = ? AND lifecycle = 'active'
GROUP BY image_type ORDER BY image_type`, projectUUID)
	return st, err
}

// Main returns the cover image of each project among uuids, lowest display_order first.
func (r *ImageRepo) Main(ctx context.Context, uuids []string) (map[string]entity.Image, error) {
	out := map[string]entity.Image{}
	if len(uuids) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In("SELECT "+imageColumns+` FROM project_images
WHERE project_uuid IN (?) AND image_type = 'main' AND lifecycle = 'active'
ORDER BY display_order DESC, id DESC`, uuids)
	if err != nil {
		return nil, err
	}
	var rows []entity.Image
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return out, nil
		}
		return nil, err
	}
	for _, img := range rows {
		out[img.ProjectUUID] = img
	}
	return out, nil
}
