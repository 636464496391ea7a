package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
	"github.com/hanfour/zeyang-construction-sub000/internal/auth"
	"github.com/hanfour/zeyang-construction-sub000/internal/project/entity"
	imageentity "github.com/hanfour/zeyang-construction-sub000/internal/projectimage/entity"
	"github.com/hanfour/zeyang-construction-sub000/internal/tasks"
	"github.com/hanfour/zeyang-construction-sub000/pkg/database"
)

// memStore keeps projects and their tag names in memory.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	projects map[int64]*entity.Project
	tags     map[int64][]string
	views    map[int64]int
	hardDel  []int64
	orderErr error
}

func newMemStore() *memStore {
	return &memStore{projects: map[int64]*entity.Project{}, tags: map[int64][]string{}, views: map[int64]int{}}
}

func (m *memStore) lookup(ident string) *entity.Project {
	for _, p := range m.projects {
		if (p.Slug == ident || p.UUID == ident) && p.Lifecycle == entity.LifecycleActive {
			return p
		}
	}
	return nil
}

func (m *memStore) List(_ context.Context, f entity.Filter, _ database.Page) ([]entity.ListItem, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []entity.ListItem{}
	for _, p := range m.projects {
		if p.Lifecycle != entity.LifecycleActive {
			continue
		}
		if f.IsFeatured != nil && p.IsFeatured != *f.IsFeatured {
			continue
		}
		if f.Search != "" && !strings.Contains(p.Title, f.Search) {
			continue
		}
		out = append(out, entity.ListItem{Project: *p, Tags: m.tags[p.ID]})
	}
	return out, len(out), nil
}

func (m *memStore) GetByIdentifier(_ context.Context, ident string) (*entity.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.lookup(ident); p != nil {
		cp := *p
		cp.ViewCount = m.views[p.ID]
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) Tags(_ context.Context, id int64) ([]entity.TagRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []entity.TagRef{}
	for _, n := range m.tags[id] {
		out = append(out, entity.TagRef{Name: n, Identifier: n})
	}
	return out, nil
}

func (m *memStore) SlugTaken(_ context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.projects {
		if p.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) Create(_ context.Context, p *entity.Project, tags []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	p.Lifecycle = entity.LifecycleActive
	cp := *p
	m.projects[p.ID] = &cp
	m.tags[p.ID] = tags
	return p.ID, nil
}

func (m *memStore) Update(_ context.Context, id int64, patch entity.Patch, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.projects[id]
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.Tags != nil {
		m.tags[id] = *patch.Tags
	}
	return nil
}

func (m *memStore) Archive(_ context.Context, id, _ int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.projects[id]
	if p.Lifecycle != entity.LifecycleActive {
		return false, nil
	}
	p.Lifecycle = entity.LifecycleArchived
	return true, nil
}

func (m *memStore) HardDelete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	m.hardDel = append(m.hardDel, id)
	return nil
}

func (m *memStore) UpdateStatus(_ context.Context, id int64, status string, _ int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[id].Status = status
	return true, nil
}

func (m *memStore) ToggleFeatured(_ context.Context, id, _ int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.projects[id]
	p.IsFeatured = !p.IsFeatured
	return p.IsFeatured, nil
}

func (m *memStore) IncrementViews(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return sql.ErrNoRows
	}
	m.views[id]++
	return nil
}

func (m *memStore) Related(_ context.Context, p *entity.Project, limit int) ([]entity.Related, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []entity.Related{}
	for _, o := range m.projects {
		if o.ID != p.ID && (o.Category == p.Category || o.Location == p.Location) && len(out) < limit {
			out = append(out, entity.Related{ID: o.ID, UUID: o.UUID, Title: o.Title})
		}
	}
	return out, nil
}

func (m *memStore) SetDisplayOrder(_ context.Context, ident string, order int, _ int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orderErr != nil {
		return false, m.orderErr
	}
	p := m.lookup(ident)
	if p == nil {
		return false, nil
	}
	p.DisplayOrder = order
	return true, nil
}

type fakeImages struct {
	purged   []string
	purgeErr error
}

func (f *fakeImages) Active(_ context.Context, uuid, _ string) ([]imageentity.Image, error) {
	return []imageentity.Image{{ID: 1, ProjectUUID: uuid, ImageType: imageentity.TypeMain}}, nil
}

func (f *fakeImages) MainImages(_ context.Context, uuids []string) (map[string]*imageentity.MainImage, error) {
	out := map[string]*imageentity.MainImage{}
	for _, u := range uuids {
		out[u] = &imageentity.MainImage{FilePath: "projects/" + u + "/cover-optimized.jpg", URL: "/uploads/cover.jpg"}
	}
	return out, nil
}

func (f *fakeImages) Purge(_ context.Context, uuid string) error {
	f.purged = append(f.purged, uuid)
	return f.purgeErr
}

func newTestService() (*Service, *memStore, *fakeImages) {
	st := newMemStore()
	imgs := &fakeImages{}
	return NewService(st, imgs, tasks.Inline{}, nil), st, imgs
}

func create(t *testing.T, svc *Service, title, category, location string, tags ...string) *entity.Detail {
	t.Helper()
	d, err := svc.Create(context.Background(), Input{Title: title, Category: category, Location: location, Tags: tags}, 1)
	require.NoError(t, err)
	return d
}

func TestCreateDefaultsAndUniqueSlug(t *testing.T) {
	svc, _, _ := newTestService()
	a := create(t, svc, "Harbour View", "residential", "Taipei", "sea view")
	b := create(t, svc, "Harbour View", "residential", "Taipei")

	assert.Equal(t, "harbour-view", a.Slug)
	assert.Equal(t, "harbour-view-1", b.Slug)
	assert.Equal(t, entity.StatusPlanning, a.Status)
	assert.Len(t, a.UUID, 36)
	assert.NotEqual(t, a.UUID, b.UUID)
	require.Len(t, a.Tags, 1)
	assert.Equal(t, "sea view", a.Tags[0].Name)
	assert.Len(t, a.Images, 1)

	_, err := svc.Create(context.Background(), Input{Title: "X", Location: "Y", Status: "in_progress"}, 1)
	var ae *api.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadRequest, ae.Status)
}

func TestGetTracksViewsOnlyWhenAsked(t *testing.T) {
	svc, st, _ := newTestService()
	p := create(t, svc, "Garden Court", "residential", "Taichung")

	_, err := svc.Get(context.Background(), p.Slug, true)
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), p.UUID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, st.views[p.ID])

	_, err = svc.Get(context.Background(), "missing", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

type failingDispatcher struct{}

func (failingDispatcher) Submit(string, tasks.Func) error { return tasks.ErrQueueFull }

func TestGetIgnoresQueueFailure(t *testing.T) {
	st := newMemStore()
	svc := NewService(st, &fakeImages{}, failingDispatcher{}, nil)
	p, err := svc.Create(context.Background(), Input{Title: "Sky Tower", Category: "commercial", Location: "Taipei"}, 1)
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), p.Slug, true)
	assert.NoError(t, err)
}

func TestUpdateReplacesTags(t *testing.T) {
	svc, _, _ := newTestService()
	p := create(t, svc, "Garden Court", "residential", "Taichung", "old")
	tags := []string{"new", "park"}
	title := "Garden Court II"
	d, err := svc.Update(context.Background(), p.Slug, entity.Patch{Title: &title, Tags: &tags}, 2)
	require.NoError(t, err)
	assert.Equal(t, title, d.Title)
	require.Len(t, d.Tags, 2)
	assert.Equal(t, "new", d.Tags[0].Name)
}

func TestDeleteArchivesOrPurges(t *testing.T) {
	svc, st, imgs := newTestService()
	ctx := context.Background()
	a := create(t, svc, "Archive Me", "other", "Tainan")
	b := create(t, svc, "Remove Me", "other", "Tainan")

	require.NoError(t, svc.Delete(ctx, a.Slug, false, 1))
	assert.Equal(t, entity.LifecycleArchived, st.projects[a.ID].Lifecycle)
	assert.Empty(t, imgs.purged)
	assert.ErrorIs(t, svc.Delete(ctx, a.Slug, false, 1), ErrNotFound)

	imgs.purgeErr = errors.New("bucket unavailable")
	require.NoError(t, svc.Delete(ctx, b.UUID, true, 1))
	assert.Equal(t, []string{b.UUID}, imgs.purged)
	assert.Equal(t, []int64{b.ID}, st.hardDel)
}

func TestStatusFeaturedAndLists(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	p := create(t, svc, "Harbour View", "residential", "Taipei")
	create(t, svc, "Harbour Lights", "residential", "Kaohsiung")
	create(t, svc, "Office One", "commercial", "Hsinchu")

	assert.Error(t, svc.UpdateStatus(ctx, p.Slug, "in_progress", 1))
	require.NoError(t, svc.UpdateStatus(ctx, p.Slug, entity.StatusOnSale, 1))

	featured, err := svc.ToggleFeatured(ctx, p.Slug, 1)
	require.NoError(t, err)
	assert.True(t, featured)

	items, err := svc.Featured(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "/uploads/cover.jpg", items[0].MainImage.URL)

	related, err := svc.Related(ctx, p.Slug, 0)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "Harbour Lights", related[0].Title)

	_, err = svc.Search(ctx, " H ", database.NewPage(1, 20, "", ""))
	var ae *api.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Search query must be at least 2 characters", ae.Message)

	res, err := svc.Search(ctx, "Harbour", database.NewPage(1, 20, "", ""))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pagination.Total)
}

func TestReorderCountsMatches(t *testing.T) {
	svc, st, _ := newTestService()
	ctx := context.Background()
	a := create(t, svc, "A1", "other", "X")
	b := create(t, svc, "B1", "other", "X")

	n, err := svc.Reorder(ctx, []entity.Order{
		{Identifier: a.Slug, DisplayOrder: 2},
		{Identifier: b.UUID, DisplayOrder: 1},
		{Identifier: "ghost", DisplayOrder: 0},
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, st.projects[a.ID].DisplayOrder)

	st.orderErr = errors.New("deadlock")
	_, err = svc.Reorder(ctx, []entity.Order{{Identifier: a.Slug, DisplayOrder: 0}}, 1)
	assert.Error(t, err)
}

func TestStatistics(t *testing.T) {
	svc, _, _ := newTestService()
	p := create(t, svc, "Stats", "other", "X", "a", "b")
	st, err := svc.Statistics(context.Background(), p.Slug, 0)
	require.NoError(t, err)
	assert.Equal(t, 30, st.Period)
	assert.Equal(t, 2, st.Totals.Tags)
	assert.Equal(t, 1, st.Totals.Images)
	assert.NotNil(t, st.Daily)
}

func TestGetHandlerSkipsViewsForAdmins(t *testing.T) {
	svc, st, _ := newTestService()
	p := create(t, svc, "Harbour View", "residential", "Taipei")
	h := NewHandler(svc, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/projects/{identifier}", h.Get)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/"+p.Slug, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: 1, Role: auth.RoleAdmin}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, st.views[p.ID])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects/"+p.Slug, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, st.views[p.ID])

	var body struct {
		Data struct {
			Project struct {
				Slug   string            `json:"slug"`
				Images []json.RawMessage `json:"images"`
			} `json:"project"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, p.Slug, body.Data.Project.Slug)
	assert.Len(t, body.Data.Project.Images, 1)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Project not found")
}

func TestListHandlerMapsAliases(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/projects?category=%E4%BD%8F%E5%AE%85&status=in_progress&orderBy=displayOrder", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hasNext":false`)

	p := pageParams(req)
	assert.Equal(t, "display_order", p.OrderBy)
	assert.Equal(t, "ASC", p.OrderDir)
}

func TestCreateHandlerValidates(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc, nil)
	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/projects",
		strings.NewReader(`{"title":"Harbour View","category":"castle","location":"Taipei"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), api.CodeValidation)

	rec = httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/projects",
		strings.NewReader(`{"title":"Harbour View","category":"residential","location":"Taipei","tags":["sea view"]}`)))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"slug":"harbour-view"`)
}
