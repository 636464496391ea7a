// Package projectimage stores project photos as resized renditions in object storage.
package projectimage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
	"github.com/hanfour/zeyang-construction-sub000/internal/projectimage/entity"
	"github.com/hanfour/zeyang-construction-sub000/pkg/storage"
	"github.com/hanfour/zeyang-construction-sub000/pkg/utilities"
)

// MaxFiles caps the files accepted by one upload.
const MaxFiles = 10

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrNotFound        = errors.New("image not found")
)

// Projects resolves a slug or uuid to the uuid of an active project, or sql.ErrNoRows.
type Projects interface {
	ProjectUUID(ctx context.Context, ident string) (string, error)
}

// Store is the persistence the service needs; *repo.ImageRepo satisfies it.
type Store interface {
	List(ctx context.Context, projectUUID, imageType string) ([]entity.Image, error)
	Unpurged(ctx context.Context, projectUUID string) ([]entity.Image, error)
	Get(ctx context.Context, projectUUID string, id int64) (*entity.Image, error)
	NextOrder(ctx context.Context, projectUUID string) (int, error)
	Create(ctx context.Context, img *entity.Image) (int64, error)
	Update(ctx context.Context, id int64, p entity.Patch) error
	SetMain(ctx context.Context, projectUUID string, id int64) error
	Archive(ctx context.Context, id int64) (bool, error)
	MarkPurged(ctx context.Context, id int64) error
	Owned(ctx context.Context, projectUUID string, ids []int64) ([]int64, error)
	SetOrder(ctx context.Context, id int64, order int) error
	Stats(ctx context.Context, projectUUID string) (entity.Stats, error)
	Main(ctx context.Context, uuids []string) (map[string]entity.Image, error)
}

// File is one uploaded part.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

type Service struct {
	repo        Store
	projects    Projects
	objects     storage.ObjectStore
	maxFileSize int64
	newName     func() string
	logger      *zap.SugaredLogger
}

// NewService builds the image service. maxFileSize <= 0 means 256 MiB.
func NewService(r Store, projects Projects, objects storage.ObjectStore, maxFileSize int64, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if maxFileSize <= 0 {
		maxFileSize = 256 << 20
	}
	return &Service{
		repo:        r,
		projects:    projects,
		objects:     objects,
		maxFileSize: maxFileSize,
		newName:     utilities.NewSnowflakeID,
		logger:      logger,
	}
}

func (s *Service) project(ctx context.Context, ident string) (string, error) {
	uuid, err := s.projects.ProjectUUID(ctx, ident)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrProjectNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve project: %w", err)
	}
	return uuid, nil
}

func (s *Service) image(ctx context.Context, uuid string, id int64) (*entity.Image, error) {
	img, err := s.repo.Get(ctx, uuid, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	return img, nil
}

// resolve fills the browser URLs of the image and its renditions.
func (s *Service) resolve(ctx context.Context, img *entity.Image) {
	img.URL = s.url(ctx, img.FilePath)
	for k, r := range img.Thumbnails {
		r.URL = s.url(ctx, r.Path)
		img.Thumbnails[k] = r
	}
}

func (s *Service) url(ctx context.Context, key string) string {
	if key == "" {
		return ""
	}
	u, err := s.objects.URL(ctx, key)
	if err != nil {
		s.logger.Warnw("resolve object url", "key", key, "err", err)
		return ""
	}
	return u
}

// List returns the project's active images, optionally of one type.
func (s *Service) List(ctx context.Context, ident, imageType string) ([]entity.Image, error) {
	uuid, err := s.project(ctx, ident)
	if err != nil {
		return nil, err
	}
	return s.Active(ctx, uuid, imageType)
}

// Active lists by project uuid with URLs resolved.
func (s *Service) Active(ctx context.Context, projectUUID, imageType string) ([]entity.Image, error) {
	images, err := s.repo.List(ctx, projectUUID, imageType)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	for i := range images {
		s.resolve(ctx, &images[i])
	}
	return images, nil
}

// MainImages returns the cover image of each project that has one.
func (s *Service) MainImages(ctx context.Context, uuids []string) (map[string]*entity.MainImage, error) {
	rows, err := s.repo.Main(ctx, uuids)
	if err != nil {
		return nil, fmt.Errorf("main images: %w", err)
	}
	out := make(map[string]*entity.MainImage, len(rows))
	for uuid, img := range rows {
		s.resolve(ctx, &img)
		out[uuid] = &entity.MainImage{FilePath: img.FilePath, URL: img.URL, Thumbnails: img.Thumbnails}
	}
	return out, nil
}

// Upload stores each file as a set of renditions. Files that fail validation or processing
// are reported in Failed and do not stop the others.
func (s *Service) Upload(ctx context.Context, ident string, files []File, imageType, altText string) (*entity.UploadResult, error) {
	if len(files) == 0 {
		return nil, api.NewError(http.StatusBadRequest, api.CodeBadRequest, "No files uploaded")
	}
	if len(files) > MaxFiles {
		return nil, api.NewError(http.StatusBadRequest, api.CodeUploadFailed, fmt.Sprintf("Too many files. Maximum %d files allowed", MaxFiles))
	}
	if imageType == "" {
		imageType = entity.TypeGallery
	}
	if !slices.Contains(entity.Types, imageType) {
		return nil, api.NewError(http.StatusBadRequest, api.CodeValidation, "Invalid image type")
	}
	uuid, err := s.project(ctx, ident)
	if err != nil {
		return nil, err
	}

	res := &entity.UploadResult{Uploaded: []entity.Uploaded{}, Failed: []entity.Failure{}}
	for _, f := range files {
		img, err := s.store(ctx, uuid, f, imageType, altText)
		if err != nil {
			s.logger.Warnw("image upload failed", "project_uuid", uuid, "filename", f.Name, "err", err)
			res.Failed = append(res.Failed, entity.Failure{Filename: f.Name, Error: err.Error()})
			continue
		}
		s.logger.Infow("image uploaded", "project_uuid", uuid, "image_id", img.ID, "filename", f.Name)
		res.Uploaded = append(res.Uploaded, entity.Uploaded{ID: img.ID, Filename: f.Name, Thumbnails: img.Thumbnails})
	}
	if imageType == entity.TypeMain && len(res.Uploaded) > 0 {
		if err := s.repo.SetMain(ctx, uuid, res.Uploaded[0].ID); err != nil {
			return res, fmt.Errorf("set uploaded main image: %w", err)
		}
	}
	return res, nil
}

// store validates, renders and saves one file. Main uploads are inserted as gallery
// and promoted afterwards so only one main image exists.
func (s *Service) store(ctx context.Context, uuid string, f File, imageType, altText string) (*entity.Image, error) {
	if !AllowedMIME[f.ContentType] {
		return nil, errors.New("Invalid file type. Only JPEG, PNG, GIF and WebP images are allowed")
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	data, err := readAll(rc, s.maxFileSize)
	rc.Close()
	if err != nil {
		return nil, err
	}
	cfg, format, err := Inspect(data)
	if err != nil {
		return nil, err
	}
	renders, err := Render(data)
	if err != nil {
		return nil, err
	}

	name := s.newName()
	thumbs := entity.Renditions{}
	var stored []string
	for _, r := range renders {
		key := fmt.Sprintf("projects/%s/%s-%s.jpg", uuid, name, r.Size.Name)
		if err := s.objects.Put(ctx, key, bytes.NewReader(r.Data), int64(len(r.Data)), "image/jpeg"); err != nil {
			s.remove(ctx, stored)
			return nil, fmt.Errorf("store %s: %w", r.Size.Name, err)
		}
		stored = append(stored, key)
		thumbs[r.Size.Name] = entity.Rendition{Path: key, Width: r.Width, Height: r.Height}
	}

	order, err := s.repo.NextOrder(ctx, uuid)
	if err != nil {
		s.remove(ctx, stored)
		return nil, fmt.Errorf("next display order: %w", err)
	}
	if imageType == entity.TypeMain {
		imageType = entity.TypeGallery
	}
	if altText == "" {
		altText = f.Name
	}
	img := &entity.Image{
		ProjectUUID:  uuid,
		ImageType:    imageType,
		FileName:     f.Name,
		FilePath:     thumbs["optimized"].Path,
		FileSize:     int64(len(data)),
		MimeType:     f.ContentType,
		Dimensions:   entity.Dimensions{Width: cfg.Width, Height: cfg.Height, Format: format},
		Thumbnails:   thumbs,
		AltText:      &altText,
		DisplayOrder: order,
	}
	if _, err := s.repo.Create(ctx, img); err != nil {
		s.remove(ctx, stored)
		return nil, fmt.Errorf("save image: %w", err)
	}
	return img, nil
}

// remove deletes objects, returning every failure joined.
func (s *Service) remove(ctx context.Context, keys []string) error {
	var errs []error
	for _, k := range keys {
		if err := s.objects.Delete(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// purge removes an archived image's objects and marks it purged. On failure the row
// stays archived so a later purge can retry.
func (s *Service) purge(ctx context.Context, img *entity.Image) error {
	if err := s.remove(ctx, img.Keys()); err != nil {
		return err
	}
	return s.repo.MarkPurged(ctx, img.ID)
}

// Update edits alt text, order or type. Switching to main goes through SetMain.
func (s *Service) Update(ctx context.Context, ident string, id int64, p entity.Patch) (*entity.Image, error) {
	uuid, err := s.project(ctx, ident)
	if err != nil {
		return nil, err
	}
	if _, err := s.image(ctx, uuid, id); err != nil {
		return nil, err
	}
	if p.ImageType != nil {
		if !slices.Contains(entity.Types, *p.ImageType) {
			return nil, api.NewError(http.StatusBadRequest, api.CodeValidation, "Invalid image type")
		}
		if *p.ImageType == entity.TypeMain {
			if err := s.repo.SetMain(ctx, uuid, id); err != nil {
				return nil, fmt.Errorf("set main image: %w", err)
			}
			p.ImageType = nil
		}
	}
	if err := s.repo.Update(ctx, id, p); err != nil {
		return nil, fmt.Errorf("update image: %w", err)
	}
	img, err := s.image(ctx, uuid, id)
	if err != nil {
		return nil, err
	}
	s.resolve(ctx, img)
	return img, nil
}

// SetMain makes id the project's only main image.
func (s *Service) SetMain(ctx context.Context, ident string, id int64) error {
	uuid, err := s.project(ctx, ident)
	if err != nil {
		return err
	}
	err = s.repo.SetMain(ctx, uuid, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("set main image: %w", err)
	}
	s.logger.Infow("main image set", "project_uuid", uuid, "image_id", id)
	return nil
}

// Delete archives the image, then removes its objects and marks it purged.
// Storage failures are logged; the image is already gone from listings.
func (s *Service) Delete(ctx context.Context, ident string, id int64) error {
	uuid, err := s.project(ctx, ident)
	if err != nil {
		return err
	}
	img, err := s.image(ctx, uuid, id)
	if err != nil {
		return err
	}
	ok, err := s.repo.Archive(ctx, id)
	if err != nil {
		return fmt.Errorf("archive image: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if err := s.purge(ctx, img); err != nil {
		s.logger.Warnw("image objects not purged", "image_id", id, "err", err)
	}
	s.logger.Infow("image deleted", "project_uuid", uuid, "image_id", id)
	return nil
}

// Reorder checks every id belongs to the project, then updates them concurrently.
func (s *Service) Reorder(ctx context.Context, ident string, orders []entity.Order) (int, error) {
	uuid, err := s.project(ctx, ident)
	if err != nil {
		return 0, err
	}
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		if !slices.Contains(ids, o.ID) {
			ids = append(ids, o.ID)
		}
	}
	owned, err := s.repo.Owned(ctx, uuid, ids)
	if err != nil {
		return 0, fmt.Errorf("check image ownership: %w", err)
	}
	if len(owned) != len(ids) {
		return 0, api.NewError(http.StatusBadRequest, api.CodeBadRequest, "Some images not found or do not belong to this project")
	}

	var n atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, o := range orders {
		g.Go(func() error {
			if err := s.repo.SetOrder(gctx, o.ID, o.DisplayOrder); err != nil {
				return err
			}
			n.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(n.Load()), fmt.Errorf("reorder images: %w", err)
	}
	return int(n.Load()), nil
}

// BulkDelete deletes each id independently; ids that are not active images of the project fail.
func (s *Service) BulkDelete(ctx context.Context, ident string, ids []int64) (*entity.BulkResult, error) {
	uuid, err := s.project(ctx, ident)
	if err != nil {
		return nil, err
	}
	res := &entity.BulkResult{Failed: []entity.Failure{}}
	for _, id := range ids {
		img, err := s.image(ctx, uuid, id)
		if err == nil {
			var ok bool
			ok, err = s.repo.Archive(ctx, id)
			if err == nil && !ok {
				err = ErrNotFound
			}
		}
		if err != nil {
			res.Failed = append(res.Failed, entity.Failure{ID: id, Error: err.Error()})
			continue
		}
		if err := s.purge(ctx, img); err != nil {
			s.logger.Warnw("image objects not purged", "image_id", id, "err", err)
		}
		res.Deleted++
	}
	s.logger.Infow("images bulk deleted", "project_uuid", uuid, "deleted", res.Deleted, "failed", len(res.Failed))
	return res, nil
}

func (s *Service) Stats(ctx context.Context, ident string) (*entity.Stats, error) {
	uuid, err := s.project(ctx, ident)
	if err != nil {
		return nil, err
	}
	st, err := s.repo.Stats(ctx, uuid)
	if err != nil {
		return nil, fmt.Errorf("image stats: %w", err)
	}
	return &st, nil
}

// Purge removes the stored objects of every image of a project, ahead of a hard delete.
func (s *Service) Purge(ctx context.Context, projectUUID string) error {
	images, err := s.repo.Unpurged(ctx, projectUUID)
	if err != nil {
		return fmt.Errorf("list images to purge: %w", err)
	}
	var errs []error
	for i := range images {
		if err := s.remove(ctx, images[i].Keys()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
