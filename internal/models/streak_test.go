package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreakConsecutiveDays(t *testing.T) {
	var s Streak
	require.True(t, s.Record("2026-10-01"))
	require.True(t, s.Record("2026-10-02"))

	assert.Equal(t, 2, s.Current)
	assert.Equal(t, 2, s.Longest)
	assert.Equal(t, "2026-10-02", s.LastSolved)
}

func TestStreakGapResets(t *testing.T) {
	var s Streak
	s.Record("2026-10-01")
	s.Record("2026-10-02")
	s.Record("2026-10-03")
	s.Record("2026-10-05")

	assert.Equal(t, 1, s.Current)
	assert.Equal(t, 3, s.Longest)
}

func TestStreakSameDayIsIdempotent(t *testing.T) {
	var s Streak
	require.True(t, s.Record("2026-10-01"))
	assert.False(t, s.Record("2026-10-01"))

	assert.Equal(t, 1, s.Current)
	assert.Equal(t, []string{"2026-10-01"}, s.SolvedDays)
}

func TestStreakLateEarlierDayKeepsCurrent(t *testing.T) {
	var s Streak
	s.Record("2026-10-05")
	s.Record("2026-10-06")
	require.True(t, s.Record("2026-10-01"))

	assert.Equal(t, 2, s.Current)
	assert.Equal(t, "2026-10-06", s.LastSolved)
	assert.Equal(t, []string{"2026-10-01", "2026-10-05", "2026-10-06"}, s.SolvedDays)
}

func TestStreakLongestNeverDecreases(t *testing.T) {
	days := []string{
		"2026-01-01", "2026-01-02", "2026-01-03", "2026-01-04",
		"2026-01-10", "2026-01-11",
		"2026-02-01",
		"2026-02-03", "2026-02-04", "2026-02-05", "2026-02-06", "2026-02-07",
	}
	var s Streak
	prev := 0
	for _, d := range days {
		s.Record(d)
		assert.GreaterOrEqual(t, s.Longest, prev, "longest dropped at %s", d)
		assert.GreaterOrEqual(t, s.Longest, s.Current)
		prev = s.Longest
	}
	assert.Equal(t, 5, s.Longest)
	assert.Equal(t, 5, s.Current)
}

func TestStreakAcrossMonthBoundary(t *testing.T) {
	var s Streak
	s.Record("2026-02-28")
	s.Record("2026-03-01")
	assert.Equal(t, 2, s.Current)
}

func TestDayOfUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	ts := time.Date(2026, 10, 17, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, "2026-10-17", DayOf(ts, time.UTC))
	assert.Equal(t, "2026-10-18", DayOf(ts, loc))
	assert.Equal(t, "2026-10-17", DayOf(ts, nil))
}

func TestDaysBetween(t *testing.T) {
	n, err := DaysBetween("2026-10-17", "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = DaysBetween("2026-10-18", "2026-10-15")
	require.NoError(t, err)
	assert.Equal(t, -3, n)

	_, err = DaysBetween("yesterday", "2026-10-15")
	assert.Error(t, err)
}
