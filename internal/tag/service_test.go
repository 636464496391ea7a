package tag

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
	"github.com/hanfour/zeyang-construction-sub000/internal/tag/entity"
)

// memStore keeps tags and project links in memory.
type memStore struct {
	nextID int64
	tags   map[int64]*entity.Tag
	links  map[int64]map[int64]bool // tag id -> project ids
}

func newMemStore() *memStore {
	return &memStore{tags: map[int64]*entity.Tag{}, links: map[int64]map[int64]bool{}}
}

func (m *memStore) link(tagID int64, projects ...int64) {
	if m.links[tagID] == nil {
		m.links[tagID] = map[int64]bool{}
	}
	for _, p := range projects {
		m.links[tagID][p] = true
	}
}

func (m *memStore) view(t *entity.Tag) entity.Tag {
	cp := *t
	cp.ProjectCount = len(m.links[t.ID])
	return cp
}

func (m *memStore) List(context.Context, entity.ListOptions) ([]entity.Tag, error) {
	var out []entity.Tag
	for _, t := range m.tags {
		out = append(out, m.view(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Get(_ context.Context, ident string) (*entity.Tag, error) {
	for _, t := range m.tags {
		if strconv.FormatInt(t.ID, 10) == ident || t.Identifier == ident {
			v := m.view(t)
			return &v, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) GetByID(ctx context.Context, id int64) (*entity.Tag, error) {
	return m.Get(ctx, strconv.FormatInt(id, 10))
}

func (m *memStore) Projects(_ context.Context, tagID int64) ([]entity.TagProject, error) {
	out := []entity.TagProject{}
	for p := range m.links[tagID] {
		out = append(out, entity.TagProject{ID: p})
	}
	return out, nil
}

func (m *memStore) NameTaken(_ context.Context, name string, excludeID int64) (bool, error) {
	for _, t := range m.tags {
		if t.Name == name && t.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) IdentifierTaken(_ context.Context, slug string, excludeID int64) (bool, error) {
	for _, t := range m.tags {
		if t.Identifier == slug && t.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) Create(_ context.Context, t *entity.Tag) (int64, error) {
	m.nextID++
	t.ID = m.nextID
	cp := *t
	m.tags[t.ID] = &cp
	return t.ID, nil
}

func (m *memStore) Update(_ context.Context, id int64, p entity.Patch) error {
	t := m.tags[id]
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&t.Name, p.Name)
	set(&t.Identifier, p.Identifier)
	set(&t.NameEn, p.NameEn)
	set(&t.Category, p.Category)
	if p.Description != nil {
		t.Description = p.Description
	}
	return nil
}

func (m *memStore) DeleteUnused(_ context.Context, id int64) (int, error) {
	if n := len(m.links[id]); n > 0 {
		return n, nil
	}
	delete(m.tags, id)
	return 0, nil
}

func (m *memStore) Merge(_ context.Context, sourceID, targetID int64) (int, error) {
	moved := len(m.links[sourceID])
	for p := range m.links[sourceID] {
		m.link(targetID, p)
	}
	m.tags[targetID].UsageCount = len(m.links[targetID])
	delete(m.links, sourceID)
	delete(m.tags, sourceID)
	return moved, nil
}

func (m *memStore) Popular(context.Context, int) ([]entity.Tag, error) { return nil, nil }
func (m *memStore) Search(context.Context, string) ([]entity.Tag, error) { return nil, nil }
func (m *memStore) RecountUsage(context.Context) (int64, error) { return int64(len(m.tags)), nil }

func create(t *testing.T, svc *Service, name string) *entity.Tag {
	t.Helper()
	tg, err := svc.Create(context.Background(), Input{Name: name})
	require.NoError(t, err)
	return tg
}

func TestCreateDefaultsAndDuplicates(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	tg := create(t, svc, "Sea View")
	assert.Equal(t, "sea-view", tg.Identifier)
	assert.Equal(t, "Sea View", tg.NameEn)
	assert.Equal(t, entity.DefaultCategory, tg.Category)

	_, err := svc.Create(context.Background(), Input{Name: "Sea View"})
	var ae *api.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusConflict, ae.Status)
	assert.Equal(t, api.CodeAlreadyExists, ae.Code)

	other := create(t, svc, "sea view!")
	assert.Equal(t, "sea-view-1", other.Identifier)
}

func TestUpdateReslugsOnRename(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	tg := create(t, svc, "Garden")
	create(t, svc, "Pool")

	name := "Roof Garden"
	d, err := svc.Update(context.Background(), "garden", entity.Patch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "roof-garden", d.Identifier)
	assert.Equal(t, tg.ID, d.ID)

	dup := "Pool"
	_, err = svc.Update(context.Background(), "roof-garden", entity.Patch{Name: &dup})
	var ae *api.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, api.CodeAlreadyExists, ae.Code)

	_, err = svc.Update(context.Background(), "nope", entity.Patch{Name: &dup})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteReferencedTagFails(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil)
	tg := create(t, svc, "Metro")
	store.link(tg.ID, 10, 11)

	err := svc.Delete(context.Background(), "metro")
	var ae *api.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Tag is used by 2 projects and cannot be deleted", ae.Message)
	assert.Contains(t, store.tags, tg.ID)
	assert.Len(t, store.links[tg.ID], 2)

	delete(store.links, tg.ID)
	require.NoError(t, svc.Delete(context.Background(), "metro"))
	assert.NotContains(t, store.tags, tg.ID)
}

func TestMerge(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil)
	src := create(t, svc, "Seaside")
	dst := create(t, svc, "Sea View")
	store.link(src.ID, 1, 2, 3)
	store.link(dst.ID, 3, 4)

	res, err := svc.Merge(context.Background(), src.ID, dst.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.MergedCount)
	assert.NotContains(t, store.tags, src.ID)
	assert.Equal(t, map[int64]bool{1: true, 2: true, 3: true, 4: true}, store.links[dst.ID])
	assert.Equal(t, 4, store.tags[dst.ID].UsageCount)

	_, err = svc.Merge(context.Background(), dst.ID, dst.ID)
	var ae *api.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadRequest, ae.Status)

	_, err = svc.Merge(context.Background(), 99, dst.ID)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusNotFound, ae.Status)
	assert.Len(t, store.links[dst.ID], 4)
}

func TestHandlers(t *testing.T) {
	store := newMemStore()
	h := NewHandler(NewService(store, nil), nil)

	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/tags", strings.NewReader(`{"name":"Pool"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/tags", strings.NewReader(`{"name":"Pool"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/tags", strings.NewReader(`{"name":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/tags/missing", nil)
	req.SetPathValue("identifier", "missing")
	h.Get(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/tags/search?q=%20", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	store.link(1, 7)
	create(t, NewService(store, nil), "Gym")
	rec = httptest.NewRecorder()
	h.Merge(rec, httptest.NewRequest(http.MethodPost, "/api/tags/merge", strings.NewReader(`{"sourceId":1,"targetId":2}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Message string      `json:"message"`
		Data    MergeResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Tags merged successfully. 1 projects updated.", body.Message)
	assert.Equal(t, 1, body.Data.MergedCount)
}
