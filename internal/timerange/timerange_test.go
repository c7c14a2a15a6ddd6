package timerange

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var beijing = time.FixedZone("UTC+8", 8*3600)

func TestParseTimestamp(t *testing.T) {
	cases := map[string]time.Time{
		"2026-03-01T10:00:00Z":      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		"2026-03-01T10:00:00+02:00": time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		"2026-03-01 10:00:00":       time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC),
		"2026-03-01T10:00:00":       time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC),
		"2026-03-01T10:00:00.5":     time.Date(2026, 3, 1, 2, 0, 0, 500000000, time.UTC),
		"2026-03-01":                time.Date(2026, 2, 28, 16, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseTimestamp(in, beijing)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s: want %s got %s", in, want, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	_, err := ParseTimestamp("03/01/2026", beijing)
	assert.Error(t, err)
}

func TestParseBound_InclusiveEndDate(t *testing.T) {
	got, err := ParseBound("2026-03-01", beijing, true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 15, 59, 59, 0, time.UTC), got)

	got, err = ParseBound("2026-03-01", beijing, false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 28, 16, 0, 0, 0, time.UTC), got)
}

func TestFromQuery(t *testing.T) {
	r, err := FromQuery(url.Values{}, beijing)
	require.NoError(t, err)
	assert.True(t, r.IsZero())

	r, err = FromQuery(url.Values{"start_date": {"2026-01-01"}, "end_date": {"2026-01-31"}}, beijing)
	require.NoError(t, err)
	require.NotNil(t, r.From)
	require.NotNil(t, r.To)
	assert.True(t, r.From.Before(*r.To))

	_, err = FromQuery(url.Values{"end_date": {"not-a-date"}}, beijing)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "end_date", perr.Param)
	assert.Contains(t, err.Error(), "Invalid end_date format")
}

func TestTrailing(t *testing.T) {
	now := time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)
	r := Range{}.Trailing(now, 30)
	require.NotNil(t, r.From)
	assert.Equal(t, time.Date(2026, 5, 31, 12, 0, 0, 0, time.UTC), *r.From)

	from := now.AddDate(-1, 0, 0)
	explicit := Range{From: &from}.Trailing(now, 30)
	assert.Equal(t, &from, explicit.From)
	assert.Nil(t, explicit.To)
}
