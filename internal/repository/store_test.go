package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rigdata/internal/models"
	"rigdata/internal/repository"
	"rigdata/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

func seedBoards(t *testing.T, s *repository.Store[models.WifiBoardTest], base time.Time) []models.WifiBoardTest {
	t.Helper()
	rows := []models.WifiBoardTest{
		{WifiBoardSN: "WB-001", GeneralTestResult: ptr(models.ResultPass)},
		{WifiBoardSN: "WB-002", GeneralTestResult: ptr(models.ResultFail)},
		{WifiBoardSN: "WB-100", GeneralTestResult: ptr(models.ResultPass)},
		{WifiBoardSN: "X_1%", GeneralTestResult: ptr(models.ResultPass)},
	}
	for i := range rows {
		rows[i].CreateTime = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.Create(context.Background(), &rows[i]))
	}
	return rows
}

func TestStore_FindAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	s := repository.New[models.WifiBoardTest](testutil.OpenDB(t))
	rows := seedBoards(t, s, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	id := rows[0].ID
	require.Len(t, id, 26)

	got, err := s.FindActive(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "WB-001", got.WifiBoardSN)

	now := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)
	already, err := s.SoftDelete(ctx, id, now)
	require.NoError(t, err)
	assert.False(t, already)

	already, err = s.SoftDelete(ctx, id, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, already)

	_, err = s.FindActive(ctx, id)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	row, err := s.FindAny(ctx, id)
	require.NoError(t, err)
	assert.True(t, row.IsDeleted)
	require.NotNil(t, row.DeleteTime)
	assert.True(t, row.DeleteTime.Equal(now), "second delete must not move delete_time")

	_, err = s.SoftDelete(ctx, "missing", now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := repository.New[models.WifiBoardTest](testutil.OpenDB(t))
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := seedBoards(t, s, base)
	_, err := s.SoftDelete(ctx, rows[2].ID, base)
	require.NoError(t, err)

	t.Run("excludes deleted and sorts", func(t *testing.T) {
		p, err := s.List(ctx, repository.ListOptions{SortColumn: "create_time", Desc: true})
		require.NoError(t, err)
		assert.EqualValues(t, 3, p.Total)
		require.Len(t, p.Items, 3)
		assert.Equal(t, "X_1%", p.Items[0].WifiBoardSN)
		assert.Equal(t, "WB-001", p.Items[2].WifiBoardSN)
	})

	t.Run("substring filter escapes wildcards", func(t *testing.T) {
		p, err := s.List(ctx, repository.ListOptions{Filters: []repository.Filter{
			{Column: "wifi_board_sn", Match: repository.Substring, Value: "_1%"},
		}})
		require.NoError(t, err)
		require.Len(t, p.Items, 1)
		assert.Equal(t, "X_1%", p.Items[0].WifiBoardSN)
	})

	t.Run("exact filter", func(t *testing.T) {
		p, err := s.List(ctx, repository.ListOptions{Filters: []repository.Filter{
			{Column: "general_test_result", Match: repository.Exact, Value: models.ResultFail},
		}})
		require.NoError(t, err)
		require.Len(t, p.Items, 1)
		assert.Equal(t, "WB-002", p.Items[0].WifiBoardSN)
	})

	t.Run("date range", func(t *testing.T) {
		from, to := base.Add(30*time.Minute), base.Add(90*time.Minute)
		p, err := s.List(ctx, repository.ListOptions{From: &from, To: &to})
		require.NoError(t, err)
		require.Len(t, p.Items, 1)
		assert.Equal(t, "WB-002", p.Items[0].WifiBoardSN)
	})

	t.Run("huge page does not wrap around", func(t *testing.T) {
		p, err := s.List(ctx, repository.ListOptions{Page: 100000000000000000, PerPage: 100})
		require.NoError(t, err)
		assert.Empty(t, p.Items)
		assert.EqualValues(t, 3, p.Total)
	})

	t.Run("page past the end keeps the total", func(t *testing.T) {
		p, err := s.List(ctx, repository.ListOptions{Page: 5, PerPage: 2})
		require.NoError(t, err)
		assert.Empty(t, p.Items)
		assert.EqualValues(t, 3, p.Total)
		assert.Equal(t, 2, p.Pages())
		assert.False(t, p.HasNext())
		assert.True(t, p.HasPrev())
	})
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		page, perPage         int
		wantPage, wantPerPage int
	}{
		{0, 0, 1, repository.DefaultPerPage},
		{-3, 5, 1, 5},
		{2, 1000, 2, repository.MaxPerPage},
		{4, 50, 4, 50},
		{100000000000000000, 100, repository.MaxPage, 100},
	}
	for _, tt := range tests {
		p, pp := repository.Normalize(tt.page, tt.perPage)
		assert.Equal(t, tt.wantPage, p)
		assert.Equal(t, tt.wantPerPage, pp)
	}
}

func TestStore_Save(t *testing.T) {
	ctx := context.Background()
	s := repository.New[models.DriverBoardTest](testutil.OpenDB(t))
	rec := models.DriverBoardTest{DriverBoardSN: "DB-1"}
	require.NoError(t, s.Create(ctx, &rec))

	rec.SetSpeed = ptr(1200)
	require.NoError(t, s.Save(ctx, &rec))

	got, err := s.FindActive(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SetSpeed)
	assert.Equal(t, 1200, *got.SetSpeed)
}
