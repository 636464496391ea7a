// Package tag manages the project tag taxonomy.
package tag

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
	"github.com/hanfour/zeyang-construction-sub000/internal/tag/entity"
	"github.com/hanfour/zeyang-construction-sub000/pkg/database"
	"github.com/hanfour/zeyang-construction-sub000/pkg/utilities"
)

var ErrNotFound = errors.New("tag not found")

// Store is the persistence the service needs; *repo.TagRepo satisfies it.
type Store interface {
	List(ctx context.Context, o entity.ListOptions) ([]entity.Tag, error)
	Get(ctx context.Context, ident string) (*entity.Tag, error)
	GetByID(ctx context.Context, id int64) (*entity.Tag, error)
	Projects(ctx context.Context, tagID int64) ([]entity.TagProject, error)
	NameTaken(ctx context.Context, name string, excludeID int64) (bool, error)
	IdentifierTaken(ctx context.Context, slug string, excludeID int64) (bool, error)
	Create(ctx context.Context, t *entity.Tag) (int64, error)
	Update(ctx context.Context, id int64, p entity.Patch) error
	DeleteUnused(ctx context.Context, id int64) (int, error)
	Merge(ctx context.Context, sourceID, targetID int64) (int, error)
	Popular(ctx context.Context, limit int) ([]entity.Tag, error)
	Search(ctx context.Context, q string) ([]entity.Tag, error)
	RecountUsage(ctx context.Context) (int64, error)
}

type Service struct {
	repo   Store
	logger *zap.SugaredLogger
}

func NewService(r Store, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{repo: r, logger: logger}
}

// Input is the body of a create request.
type Input struct {
	Name        string
	NameEn      string
	Category    string
	Description *string
}

// MergeResult reports how many projects were moved onto the target tag.
type MergeResult struct {
	Success     bool `json:"success"`
	MergedCount int  `json:"mergedCount"`
}

func (s *Service) List(ctx context.Context, o entity.ListOptions) ([]entity.Tag, error) {
	out, err := s.repo.List(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return out, nil
}

func (s *Service) find(ctx context.Context, ident string) (*entity.Tag, error) {
	t, err := s.repo.Get(ctx, ident)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return t, nil
}

// Get returns the tag and the projects that carry it.
func (s *Service) Get(ctx context.Context, ident string) (*entity.Detail, error) {
	t, err := s.find(ctx, ident)
	if err != nil {
		return nil, err
	}
	projects, err := s.repo.Projects(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("tag projects: %w", err)
	}
	return &entity.Detail{Tag: *t, Projects: projects}, nil
}

func (s *Service) slug(ctx context.Context, name string, excludeID int64) (string, error) {
	return utilities.UniqueSlug(ctx, name, func(ctx context.Context, slug string) (bool, error) {
		return s.repo.IdentifierTaken(ctx, slug, excludeID)
	})
}

var errExists = api.NewError(http.StatusConflict, api.CodeAlreadyExists, "Tag already exists")

// Create rejects duplicate names with 409 ALREADY_EXISTS.
func (s *Service) Create(ctx context.Context, in Input) (*entity.Tag, error) {
	in.Name = strings.TrimSpace(in.Name)
	taken, err := s.repo.NameTaken(ctx, in.Name, 0)
	if err != nil {
		return nil, fmt.Errorf("check tag name: %w", err)
	}
	if taken {
		return nil, errExists
	}
	identifier, err := s.slug(ctx, in.Name, 0)
	if err != nil {
		return nil, fmt.Errorf("tag slug: %w", err)
	}
	t := &entity.Tag{
		Name:        in.Name,
		Identifier:  identifier,
		NameEn:      in.NameEn,
		Category:    in.Category,
		Description: in.Description,
	}
	if t.NameEn == "" {
		t.NameEn = t.Name
	}
	if t.Category == "" {
		t.Category = entity.DefaultCategory
	}
	if _, err := s.repo.Create(ctx, t); err != nil {
		if database.IsDuplicateKey(err) {
			return nil, errExists
		}
		return nil, fmt.Errorf("create tag: %w", err)
	}
	s.logger.Infow("tag created", "tag_id", t.ID, "name", t.Name, "identifier", t.Identifier)
	return t, nil
}

// Update applies p and re-slugs the tag when its name changes.
func (s *Service) Update(ctx context.Context, ident string, p entity.Patch) (*entity.Detail, error) {
	t, err := s.find(ctx, ident)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == t.Name {
			p.Name = nil
		} else {
			taken, err := s.repo.NameTaken(ctx, name, t.ID)
			if err != nil {
				return nil, fmt.Errorf("check tag name: %w", err)
			}
			if taken {
				return nil, api.NewError(http.StatusConflict, api.CodeAlreadyExists, "Tag name already exists")
			}
			identifier, err := s.slug(ctx, name, t.ID)
			if err != nil {
				return nil, fmt.Errorf("tag slug: %w", err)
			}
			p.Name, p.Identifier = &name, &identifier
		}
	}
	if !p.Empty() {
		if err := s.repo.Update(ctx, t.ID, p); err != nil {
			if database.IsDuplicateKey(err) {
				return nil, api.NewError(http.StatusConflict, api.CodeAlreadyExists, "Tag name already exists")
			}
			return nil, fmt.Errorf("update tag: %w", err)
		}
		s.logger.Infow("tag updated", "tag_id", t.ID)
	}
	return s.Get(ctx, fmt.Sprint(t.ID))
}

// Delete refuses to remove a tag that projects still reference.
func (s *Service) Delete(ctx context.Context, ident string) error {
	t, err := s.find(ctx, ident)
	if err != nil {
		return err
	}
	inUse, err := s.repo.DeleteUnused(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if inUse > 0 {
		return api.NewError(http.StatusBadRequest, api.CodeBadRequest,
			fmt.Sprintf("Tag is used by %d projects and cannot be deleted", inUse))
	}
	s.logger.Infow("tag deleted", "tag_id", t.ID, "name", t.Name)
	return nil
}

// Merge folds source into target. Self-merges and unknown ids fail before anything changes.
func (s *Service) Merge(ctx context.Context, sourceID, targetID int64) (*MergeResult, error) {
	if sourceID == targetID {
		return nil, api.NewError(http.StatusBadRequest, api.CodeBadRequest, "Cannot merge tag with itself")
	}
	source, err := s.repo.GetByID(ctx, sourceID)
	if err == nil {
		_, err = s.repo.GetByID(ctx, targetID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.NewError(http.StatusNotFound, api.CodeNotFound, "Source or target tag not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load merge tags: %w", err)
	}
	n, err := s.repo.Merge(ctx, sourceID, targetID)
	if err != nil {
		return nil, fmt.Errorf("merge tags: %w", err)
	}
	s.logger.Infow("tags merged", "source_id", sourceID, "target_id", targetID, "source_name", source.Name, "moved", n)
	return &MergeResult{Success: true, MergedCount: n}, nil
}

// Popular defaults to 10 tags.
func (s *Service) Popular(ctx context.Context, limit int) ([]entity.Tag, error) {
	if limit <= 0 {
		limit = 10
	}
	out, err := s.repo.Popular(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("popular tags: %w", err)
	}
	return out, nil
}

func (s *Service) Search(ctx context.Context, q string) ([]entity.Tag, error) {
	out, err := s.repo.Search(ctx, strings.TrimSpace(q))
	if err != nil {
		return nil, fmt.Errorf("search tags: %w", err)
	}
	return out, nil
}

func (s *Service) RecountUsage(ctx context.Context) error {
	n, err := s.repo.RecountUsage(ctx)
	if err != nil {
		return fmt.Errorf("recount tag usage: %w", err)
	}
	s.logger.Infow("tag usage counts updated", "rows", n)
	return nil
}
