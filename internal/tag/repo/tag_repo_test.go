package repo

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanfour/zeyang-construction-sub000/internal/tag/entity"
)

func newMock(t *testing.T) (*TagRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTagRepo(sqlx.NewDb(db, "mysql")), m
}

var tagCols = []string{"id", "name", "identifier", "name_en", "category", "description", "usage_count",
	"created_at", "updated_at", "project_count"}

func TestGetMatchesIDOrIdentifier(t *testing.T) {
	r, m := newMock(t)
	now := time.Now()
	m.ExpectQuery(regexp.QuoteMeta("WHERE t.id = ? OR t.identifier = ? GROUP BY t.id")).
		WithArgs(int64(-1), "sea-view").
		WillReturnRows(sqlmock.NewRows(tagCols).AddRow(4, "Sea View", "sea-view", "Sea View", "feature", nil, 2, now, now, 3))

	tg, err := r.Get(context.Background(), "sea-view")
	require.NoError(t, err)
	assert.Equal(t, int64(4), tg.ID)
	assert.Equal(t, 3, tg.ProjectCount)

	m.ExpectQuery(regexp.QuoteMeta("WHERE t.id = ? OR t.identifier = ?")).
		WithArgs(int64(4), "4").
		WillReturnRows(sqlmock.NewRows(tagCols).AddRow(4, "Sea View", "sea-view", "Sea View", "feature", nil, 2, now, now, 3))
	_, err = r.Get(context.Background(), "4")
	require.NoError(t, err)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestListOrdering(t *testing.T) {
	r, m := newMock(t)
	m.ExpectQuery(regexp.QuoteMeta("WHERE t.category = ? GROUP BY t.id ORDER BY t.name ASC LIMIT 5")).
		WithArgs("area").
		WillReturnRows(sqlmock.NewRows(tagCols))
	out, err := r.List(context.Background(), entity.ListOptions{Category: "area", OrderBy: "name", OrderDir: "asc", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, out)

	m.ExpectQuery(regexp.QuoteMeta("GROUP BY t.id ORDER BY project_count DESC, t.name")).
		WillReturnRows(sqlmock.NewRows(tagCols))
	_, err = r.List(context.Background(), entity.ListOptions{OrderBy: "1; DROP TABLE tags"})
	require.NoError(t, err)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestDeleteUnusedKeepsReferencedTag(t *testing.T) {
	r, m := newMock(t)
	m.ExpectBegin()
	m.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM project_tags WHERE tag_id = ? FOR UPDATE")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	m.ExpectCommit()

	n, err := r.DeleteUnused(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestDeleteUnusedRemovesFreeTag(t *testing.T) {
	r, m := newMock(t)
	m.ExpectBegin()
	m.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM project_tags")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	m.ExpectExec(regexp.QuoteMeta("DELETE FROM tags WHERE id = ?")).WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectCommit()

	n, err := r.DeleteUnused(context.Background(), 2)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestMergeRunsInOneTransaction(t *testing.T) {
	r, m := newMock(t)
	m.ExpectBegin()
	m.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM project_tags WHERE tag_id = ?")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	m.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO project_tags (project_id, tag_id) SELECT project_id, ? FROM project_tags WHERE tag_id = ?")).
		WithArgs(int64(2), int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectExec(regexp.QuoteMeta("UPDATE tags SET usage_count = (SELECT COUNT(DISTINCT project_id)")).
		WithArgs(int64(2), int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectExec(regexp.QuoteMeta("DELETE FROM project_tags WHERE tag_id = ?")).
		WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 2))
	m.ExpectExec(regexp.QuoteMeta("DELETE FROM tags WHERE id = ?")).
		WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectCommit()

	n, err := r.Merge(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestMergeRollsBackOnFailure(t *testing.T) {
	r, m := newMock(t)
	m.ExpectBegin()
	m.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM project_tags")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	m.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO project_tags")).
		WillReturnError(errors.New("lock wait timeout"))
	m.ExpectRollback()

	_, err := r.Merge(context.Background(), 1, 2)
	assert.Error(t, err)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestSearchPutsExactMatchFirst(t *testing.T) {
	r, m := newMock(t)
	m.ExpectQuery(regexp.QuoteMeta("ORDER BY CASE WHEN t.name = ? THEN 1 ELSE 2 END")).
		WithArgs("%pool%", "%pool%", "pool").
		WillReturnRows(sqlmock.NewRows(tagCols))
	_, err := r.Search(context.Background(), "pool")
	require.NoError(t, err)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestRecountUsageCountsEveryLink(t *testing.T) {
	r, m := newMock(t)
	m.ExpectExec(`^UPDATE tags t SET usage_count =\s+\(SELECT COUNT\(DISTINCT pt\.project_id\) FROM project_tags pt WHERE pt\.tag_id = t\.id\)$`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := r.RecountUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, m.ExpectationsWereMet())
}
