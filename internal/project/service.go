// Package project manages the public project catalogue and its admin editing.
package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
	"github.com/hanfour/zeyang-construction-sub000/internal/project/entity"
	imageentity "github.com/hanfour/zeyang-construction-sub000/internal/projectimage/entity"
	"github.com/hanfour/zeyang-construction-sub000/internal/tasks"
	"github.com/hanfour/zeyang-construction-sub000/pkg/database"
	"github.com/hanfour/zeyang-construction-sub000/pkg/utilities"
)

var ErrNotFound = errors.New("project not found")

// Store is the persistence the service needs; *repo.ProjectRepo satisfies it.
type Store interface {
	List(ctx context.Context, f entity.Filter, p database.Page) ([]entity.ListItem, int, error)
	GetByIdentifier(ctx context.Context, ident string) (*entity.Project, error)
	Tags(ctx context.Context, projectID int64) ([]entity.TagRef, error)
	SlugTaken(ctx context.Context, slug string) (bool, error)
	Create(ctx context.Context, p *entity.Project, tags []string) (int64, error)
	Update(ctx context.Context, id int64, patch entity.Patch, userID int64) error
	Archive(ctx context.Context, id, userID int64) (bool, error)
	HardDelete(ctx context.Context, id int64) error
	UpdateStatus(ctx context.Context, id int64, status string, userID int64) (bool, error)
	ToggleFeatured(ctx context.Context, id, userID int64) (bool, error)
	IncrementViews(ctx context.Context, id int64) error
	Related(ctx context.Context, p *entity.Project, limit int) ([]entity.Related, error)
	SetDisplayOrder(ctx context.Context, ident string, order int, userID int64) (bool, error)
}

// Images is the image side of a project; *projectimage.Service satisfies it.
type Images interface {
	Active(ctx context.Context, projectUUID, imageType string) ([]imageentity.Image, error)
	MainImages(ctx context.Context, uuids []string) (map[string]*imageentity.MainImage, error)
	Purge(ctx context.Context, projectUUID string) error
}

type Service struct {
	repo   Store
	images Images
	tasks  tasks.Dispatcher
	logger *zap.SugaredLogger
}

func NewService(r Store, images Images, d tasks.Dispatcher, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{repo: r, images: images, tasks: d, logger: logger}
}

// Input is a new project.
type Input struct {
	Title        string
	Subtitle     *string
	Category     string
	Status       string
	Location     string
	BaseAddress  *string
	Year         *int
	Area         *string
	UnitCount    *int
	Description  *string
	DisplayOrder int
	IsFeatured   bool
	CustomFields entity.CustomFields
	Tags         []string
}

// ListResult is one page of project cards.
type ListResult struct {
	Items      []entity.ListItem   `json:"items"`
	Pagination database.Pagination `json:"pagination"`
}

var errInvalidStatus = api.NewError(http.StatusBadRequest, api.CodeValidation, "Invalid status")

func (s *Service) find(ctx context.Context, ident string) (*entity.Project, error) {
	p, err := s.repo.GetByIdentifier(ctx, ident)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// List returns a page of active projects with tags, image counts and covers.
func (s *Service) List(ctx context.Context, f entity.Filter, p database.Page) (*ListResult, error) {
	items, total, err := s.repo.List(ctx, f, p)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	if err := s.attachCovers(ctx, items); err != nil {
		return nil, err
	}
	return &ListResult{Items: items, Pagination: database.NewPagination(p, total)}, nil
}

func (s *Service) attachCovers(ctx context.Context, items []entity.ListItem) error {
	if len(items) == 0 {
		return nil
	}
	uuids := make([]string, len(items))
	for i := range items {
		uuids[i] = items[i].UUID
	}
	covers, err := s.images.MainImages(ctx, uuids)
	if err != nil {
		return fmt.Errorf("project covers: %w", err)
	}
	for i := range items {
		items[i].MainImage = covers[items[i].UUID]
	}
	return nil
}

// Get returns a project with its images and tags. With trackView a background task
// increments view_count; its failure is only logged.
func (s *Service) Get(ctx context.Context, ident string, trackView bool) (*entity.Detail, error) {
	p, err := s.find(ctx, ident)
	if err != nil {
		return nil, err
	}
	d, err := s.detail(ctx, p)
	if err != nil {
		return nil, err
	}
	if trackView {
		id := p.ID
		if err := s.tasks.Submit("project.view", func(ctx context.Context) error {
			return s.repo.IncrementViews(ctx, id)
		}); err != nil {
			s.logger.Warnw("view tracking not queued", "project_id", id, "err", err)
		}
	}
	return d, nil
}

func (s *Service) detail(ctx context.Context, p *entity.Project) (*entity.Detail, error) {
	images, err := s.images.Active(ctx, p.UUID, "")
	if err != nil {
		return nil, fmt.Errorf("project images: %w", err)
	}
	tags, err := s.repo.Tags(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("project tags: %w", err)
	}
	return &entity.Detail{Project: *p, Images: images, Tags: tags}, nil
}

// Create stores a new project under a fresh uuid and a unique slug of its title.
func (s *Service) Create(ctx context.Context, in Input, userID int64) (*entity.Detail, error) {
	if in.Status == "" {
		in.Status = entity.StatusPlanning
	}
	if !slices.Contains(entity.Statuses, in.Status) {
		return nil, errInvalidStatus
	}
	if in.Category == "" {
		in.Category = entity.CategoryResidential
	}
	slug, err := utilities.UniqueSlug(ctx, in.Title, s.repo.SlugTaken)
	if err != nil {
		return nil, fmt.Errorf("project slug: %w", err)
	}
	p := &entity.Project{
		UUID:         utilities.NewUUID(),
		Slug:         slug,
		Title:        strings.TrimSpace(in.Title),
		Subtitle:     in.Subtitle,
		Category:     in.Category,
		Status:       in.Status,
		Location:     strings.TrimSpace(in.Location),
		BaseAddress:  in.BaseAddress,
		Year:         in.Year,
		Area:         in.Area,
		UnitCount:    in.UnitCount,
		Description:  in.Description,
		DisplayOrder: in.DisplayOrder,
		IsFeatured:   in.IsFeatured,
		CustomFields: in.CustomFields,
		CreatedBy:    &userID,
		UpdatedBy:    &userID,
	}
	if _, err := s.repo.Create(ctx, p, in.Tags); err != nil {
		if database.IsDuplicateKey(err) {
			return nil, api.NewError(http.StatusConflict, api.CodeAlreadyExists, "Project already exists")
		}
		return nil, fmt.Errorf("create project: %w", err)
	}
	s.logger.Infow("project created", "project_id", p.ID, "uuid", p.UUID, "slug", p.Slug, "user_id", userID)
	return s.Get(ctx, p.UUID, false)
}

// Update applies patch; a non-nil patch.Tags replaces the tag set.
func (s *Service) Update(ctx context.Context, ident string, patch entity.Patch, userID int64) (*entity.Detail, error) {
	p, err := s.find(ctx, ident)
	if err != nil {
		return nil, err
	}
	if patch.Status != nil && !slices.Contains(entity.Statuses, *patch.Status) {
		return nil, errInvalidStatus
	}
	if err := s.repo.Update(ctx, p.ID, patch, userID); err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	s.logger.Infow("project updated", "project_id", p.ID, "user_id", userID)
	return s.Get(ctx, p.UUID, false)
}

// Delete archives the project, or with hard removes it and purges its stored images.
// Storage failures during a hard delete are logged and do not keep the row.
func (s *Service) Delete(ctx context.Context, ident string, hard bool, userID int64) error {
	p, err := s.find(ctx, ident)
	if err != nil {
		return err
	}
	if !hard {
		ok, err := s.repo.Archive(ctx, p.ID, userID)
		if err != nil {
			return fmt.Errorf("archive project: %w", err)
		}
		if !ok {
			return ErrNotFound
		}
		s.logger.Infow("project archived", "project_id", p.ID, "user_id", userID)
		return nil
	}
	if err := s.images.Purge(ctx, p.UUID); err != nil {
		s.logger.Errorw("project images not fully purged", "project_uuid", p.UUID, "err", err)
	}
	if err := s.repo.HardDelete(ctx, p.ID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	s.logger.Infow("project deleted", "project_id", p.ID, "uuid", p.UUID, "user_id", userID)
	return nil
}

func (s *Service) UpdateStatus(ctx context.Context, ident, status string, userID int64) error {
	if !slices.Contains(entity.Statuses, status) {
		return errInvalidStatus
	}
	p, err := s.find(ctx, ident)
	if err != nil {
		return err
	}
	if _, err := s.repo.UpdateStatus(ctx, p.ID, status, userID); err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	return nil
}

// ToggleFeatured flips is_featured and returns the new value.
func (s *Service) ToggleFeatured(ctx context.Context, ident string, userID int64) (bool, error) {
	p, err := s.find(ctx, ident)
	if err != nil {
		return false, err
	}
	featured, err := s.repo.ToggleFeatured(ctx, p.ID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("toggle featured: %w", err)
	}
	return featured, nil
}

// Featured returns up to limit featured projects in display order. limit <= 0 means 6.
func (s *Service) Featured(ctx context.Context, limit int) ([]entity.ListItem, error) {
	if limit <= 0 {
		limit = 6
	}
	yes := true
	res, err := s.List(ctx, entity.Filter{IsFeatured: &yes}, database.NewPage(1, limit, "display_order", "ASC"))
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// Related returns up to limit projects sharing the category or location. limit <= 0 means 4.
func (s *Service) Related(ctx context.Context, ident string, limit int) ([]entity.Related, error) {
	if limit <= 0 {
		limit = 4
	}
	p, err := s.find(ctx, ident)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.Related(ctx, p, limit)
	if err != nil {
		return nil, fmt.Errorf("related projects: %w", err)
	}
	return out, nil
}

// Search lists projects whose title, subtitle or location contains q.
func (s *Service) Search(ctx context.Context, q string, p database.Page) (*ListResult, error) {
	q = strings.TrimSpace(q)
	if len([]rune(q)) < 2 {
		return nil, api.NewError(http.StatusBadRequest, api.CodeValidation, "Search query must be at least 2 characters")
	}
	return s.List(ctx, entity.Filter{Search: q}, p)
}

// Reorder sets display_order for each project concurrently. Applied updates are kept
// if another one fails.
func (s *Service) Reorder(ctx context.Context, orders []entity.Order, userID int64) (int, error) {
	var n atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, o := range orders {
		g.Go(func() error {
			ok, err := s.repo.SetDisplayOrder(gctx, o.Identifier, o.DisplayOrder, userID)
			if err != nil {
				return err
			}
			if ok {
				n.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(n.Load()), fmt.Errorf("reorder projects: %w", err)
	}
	return int(n.Load()), nil
}

// Statistics summarizes a project over the last days days.
func (s *Service) Statistics(ctx context.Context, ident string, days int) (*entity.Statistics, error) {
	if days <= 0 {
		days = 30
	}
	d, err := s.Get(ctx, ident, false)
	if err != nil {
		return nil, err
	}
	return &entity.Statistics{
		Project: entity.StatProject{UUID: d.UUID, Title: d.Title},
		Period:  days,
		Totals: entity.Totals{
			Views:  d.ViewCount,
			Images: len(d.Images),
			Tags:   len(d.Tags),
		},
		Daily: []entity.DailyStat{},
	}, nil
}
