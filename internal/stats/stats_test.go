package stats_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rigdata/internal/models"
	"rigdata/internal/stats"
	"rigdata/internal/testutil"
)

var utc8 = time.FixedZone("UTC+8", 8*3600)

func ptr[T any](v T) *T { return &v }

type run struct {
	sn     string
	result *string
	at     time.Time
}

func insert(t *testing.T, db *gorm.DB, runs ...run) {
	t.Helper()
	for _, r := range runs {
		rec := models.WifiBoardTest{WifiBoardSN: r.sn, GeneralTestResult: r.result}
		rec.CreateTime = r.at
		require.NoError(t, db.Create(&rec).Error)
	}
}

var (
	pass = ptr(models.ResultPass)
	fail = ptr(models.ResultFail)
	t0   = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
)

func at(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }

// lifetimeFixture covers each lifetime class once:
// WB-A final_success, WB-B always_fail, WB-C always_success, WB-E final_fail.
func lifetimeFixture(t *testing.T) *gorm.DB {
	db := testutil.OpenDB(t)
	insert(t, db,
		run{"WB-A", fail, at(0)}, run{"WB-A", pass, at(1)},
		run{"WB-B", fail, at(0)},
		run{"WB-C", pass, at(0)}, run{"WB-C", pass, at(1)},
		run{"WB-E", pass, at(0)}, run{"WB-E", fail, at(2)},
	)
	return db
}

func TestCounts(t *testing.T) {
	db := testutil.OpenDB(t)
	insert(t, db,
		run{"WB-1", pass, at(0)},
		run{"WB-1", fail, at(1)},
		run{"WB-2", fail, at(2)},
		run{"WB-3", nil, at(3)},
		run{"WB-4", ptr(models.ResultPending), at(4)},
	)
	deleted := models.WifiBoardTest{WifiBoardSN: "WB-9", GeneralTestResult: pass}
	deleted.IsDeleted = true
	require.NoError(t, db.Create(&deleted).Error)

	svc := stats.NewService(db, utc8)
	ctx := context.Background()

	c, err := svc.Counts(ctx, stats.WifiBoards, stats.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 5, c.Total)
	assert.EqualValues(t, 1, c.Pass)
	assert.EqualValues(t, 2, c.Fail)
	assert.EqualValues(t, 2, c.Other)
	assert.Equal(t, map[string]int64{
		models.ResultPass:    1,
		models.ResultFail:    2,
		"unknown":            1,
		models.ResultPending: 1,
	}, c.Breakdown)

	c, err = svc.Counts(ctx, stats.WifiBoards, stats.Filter{Serial: "WB-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, c.Total)

	from, to := at(1), at(2)
	c, err = svc.Counts(ctx, stats.WifiBoards, stats.Filter{From: &from, To: &to, Result: models.ResultFail})
	require.NoError(t, err)
	assert.EqualValues(t, 2, c.Total)
	assert.EqualValues(t, 2, c.Fail)
	assert.EqualValues(t, 0, c.Other)
}

func TestLifetime(t *testing.T) {
	svc := stats.NewService(lifetimeFixture(t), utc8)

	lt, err := svc.Lifetime(context.Background(), stats.WifiBoards, stats.Filter{})
	require.NoError(t, err)
	assert.Equal(t, stats.Lifetime{
		TotalTests:    7,
		PassTests:     4,
		FailTests:     3,
		Entities:      4,
		Success:       2,
		Failed:        2,
		AlwaysSuccess: 1,
		FinalSuccess:  1,
		AlwaysFail:    1,
		FinalFail:     1,
	}, lt)
}

func TestLifetime_WindowChangesLatestVerdict(t *testing.T) {
	svc := stats.NewService(lifetimeFixture(t), utc8)

	// before hour 1 WB-A has only failed and WB-E has only passed
	to := at(0)
	lt, err := svc.Lifetime(context.Background(), stats.WifiBoards, stats.Filter{To: &to})
	require.NoError(t, err)
	assert.EqualValues(t, 4, lt.Entities)
	assert.EqualValues(t, 2, lt.AlwaysSuccess)
	assert.EqualValues(t, 2, lt.AlwaysFail)
	assert.Zero(t, lt.FinalSuccess)
	assert.Zero(t, lt.FinalFail)
}

func TestRollups(t *testing.T) {
	svc := stats.NewService(lifetimeFixture(t), utc8)
	ctx := context.Background()
	sorts, err := stats.ParseSort("pass_rate", "desc")
	require.NoError(t, err)

	rows, total, err := svc.Rollups(ctx, stats.WifiBoards, stats.RollupQuery{Sort: sorts, Page: 1, PerPage: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, rows, 3)
	assert.Equal(t, "WB-C", rows[0].Serial)
	assert.InDelta(t, 100.0, rows[0].PassRate, 0.001)
	// equal pass rates fall back to serial order
	assert.Equal(t, "WB-A", rows[1].Serial)
	assert.Equal(t, "WB-E", rows[2].Serial)
	assert.InDelta(t, 50.0, rows[2].PassRate, 0.001)

	e := rows[2]
	assert.EqualValues(t, 2, e.TotalTests)
	assert.EqualValues(t, 1, e.PassCount)
	assert.EqualValues(t, 1, e.FailCount)
	require.NotNil(t, e.LatestResult)
	assert.Equal(t, models.ResultFail, *e.LatestResult)
	require.NotNil(t, e.FirstTestTime)
	require.NotNil(t, e.LatestTestTime)
	assert.True(t, e.FirstTestTime.Equal(at(0)))
	assert.True(t, e.LatestTestTime.Equal(at(2)))
	assert.Equal(t, utc8, e.LatestTestTime.Location())

	rows, total, err = svc.Rollups(ctx, stats.WifiBoards, stats.RollupQuery{Sort: sorts, Page: 2, PerPage: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "WB-B", rows[0].Serial)
}

func TestRollups_LatestResultAndSerialFilter(t *testing.T) {
	svc := stats.NewService(lifetimeFixture(t), utc8)
	ctx := context.Background()
	sorts, err := stats.ParseSort("sn", "asc")
	require.NoError(t, err)

	rows, total, err := svc.Rollups(ctx, stats.WifiBoards, stats.RollupQuery{
		LatestResult: models.ResultFail, Sort: sorts, Page: 1, PerPage: 10,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, rows, 2)
	assert.Equal(t, "WB-B", rows[0].Serial)
	assert.Equal(t, "WB-E", rows[1].Serial)

	rows, total, err = svc.Rollups(ctx, stats.WifiBoards, stats.RollupQuery{
		Filter: stats.Filter{Serial: "-C"}, Sort: sorts, Page: 1, PerPage: 10,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 2, rows[0].TotalTests)
}

func TestTrend(t *testing.T) {
	db := testutil.OpenDB(t)
	insert(t, db,
		// Monday 18:00 local
		run{"WB-1", pass, time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)},
		// Tuesday 01:00 local, still Monday in UTC
		run{"WB-2", fail, time.Date(2025, 3, 3, 17, 0, 0, 0, time.UTC)},
		// Monday 01:00 local, Sunday in UTC
		run{"WB-3", pass, time.Date(2025, 3, 9, 17, 0, 0, 0, time.UTC)},
		run{"WB-4", pass, time.Date(2025, 4, 1, 2, 0, 0, 0, time.UTC)},
	)
	svc := stats.NewService(db, utc8)
	ctx := context.Background()

	tests := []struct {
		iv   stats.Interval
		want []stats.Bucket
	}{
		{stats.Day, []stats.Bucket{
			{Period: "2025-03-03", Total: 1, Success: 1},
			{Period: "2025-03-04", Total: 1, Fail: 1},
			{Period: "2025-03-10", Total: 1, Success: 1},
			{Period: "2025-04-01", Total: 1, Success: 1},
		}},
		{stats.Week, []stats.Bucket{
			{Period: "2025-03-03", Total: 2, Success: 1, Fail: 1},
			{Period: "2025-03-10", Total: 1, Success: 1},
			{Period: "2025-03-31", Total: 1, Success: 1},
		}},
		{stats.Month, []stats.Bucket{
			{Period: "2025-03-01", Total: 3, Success: 2, Fail: 1},
			{Period: "2025-04-01", Total: 1, Success: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.iv), func(t *testing.T) {
			got, err := svc.Trend(ctx, stats.WifiBoards, tt.iv, stats.Filter{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTrend_EmptyIsNotNil(t *testing.T) {
	svc := stats.NewService(testutil.OpenDB(t), utc8)
	got, err := svc.Trend(context.Background(), stats.DriverBoards, stats.Day, stats.Filter{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestParseInterval(t *testing.T) {
	for in, want := range map[string]stats.Interval{
		"":       stats.Day,
		"day":    stats.Day,
		"WEEK":   stats.Week,
		" month": stats.Month,
	} {
		got, err := stats.ParseInterval(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := stats.ParseInterval("year")
	assert.ErrorIs(t, err, stats.ErrInvalidInterval)
}

func TestParseSort(t *testing.T) {
	got, err := stats.ParseSort("", "")
	require.NoError(t, err)
	assert.Equal(t, []stats.Sort{{Key: "total_tests", Desc: true}}, got)

	got, err = stats.ParseSort("pass_rate, sn", "asc")
	require.NoError(t, err)
	assert.Equal(t, []stats.Sort{{Key: "pass_rate"}, {Key: "sn"}}, got)

	got, err = stats.ParseSort("fail_count,latest_test_time", "asc,desc")
	require.NoError(t, err)
	assert.Equal(t, []stats.Sort{{Key: "fail_count"}, {Key: "latest_test_time", Desc: true}}, got)

	_, err = stats.ParseSort("total_tests;DROP TABLE x", "")
	assert.ErrorIs(t, err, stats.ErrInvalidSort)
}
