package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminastats/lumina-core/structs"
)

// frozenResolver returns a resolver pinned to Monday 2025-12-15 12:00 UTC
func frozenResolver() *DateResolver {
	return &DateResolver{now: func() time.Time {
		return time.Date(2025, time.December, 15, 12, 0, 0, 0, time.UTC)
	}}
}

func date(y int, m time.Month, d, hh, mm, ss int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, 0, time.UTC)
}

func TestResolvePreset(t *testing.T) {
	r := frozenResolver()

	tests := []struct {
		preset string
		start  time.Time
		end    time.Time
	}{
		{"today", date(2025, 12, 15, 0, 0, 0), date(2025, 12, 15, 23, 59, 59)},
		{"yesterday", date(2025, 12, 14, 0, 0, 0), date(2025, 12, 14, 23, 59, 59)},
		// rolling windows end yesterday and never include today
		{"previous_7_days", date(2025, 12, 8, 0, 0, 0), date(2025, 12, 14, 23, 59, 59)},
		{"previous_30_days", date(2025, 11, 15, 0, 0, 0), date(2025, 12, 14, 23, 59, 59)},
		// 2025-12-15 is a Monday, so this_week starts today
		{"this_week", date(2025, 12, 15, 0, 0, 0), date(2025, 12, 15, 23, 59, 59)},
		{"this_month", date(2025, 12, 1, 0, 0, 0), date(2025, 12, 15, 23, 59, 59)},
		{"this_quarter", date(2025, 10, 1, 0, 0, 0), date(2025, 12, 15, 23, 59, 59)},
		{"this_year", date(2025, 1, 1, 0, 0, 0), date(2025, 12, 15, 23, 59, 59)},
		{"previous_week", date(2025, 12, 8, 0, 0, 0), date(2025, 12, 14, 23, 59, 59)},
		{"previous_month", date(2025, 11, 1, 0, 0, 0), date(2025, 11, 30, 23, 59, 59)},
		{"previous_quarter", date(2025, 7, 1, 0, 0, 0), date(2025, 9, 30, 23, 59, 59)},
		{"previous_year", date(2024, 1, 1, 0, 0, 0), date(2024, 12, 31, 23, 59, 59)},
		{"all_time", date(2015, 1, 1, 0, 0, 0), date(2025, 12, 15, 23, 59, 59)},
	}

	for _, tt := range tests {
		t.Run(tt.preset, func(t *testing.T) {
			rng, err := r.ResolvePreset(tt.preset, time.UTC)
			require.NoError(t, err)
			assert.True(t, rng.Start.Equal(tt.start), "start: got %v want %v", rng.Start, tt.start)
			assert.True(t, rng.End.Equal(tt.end), "end: got %v want %v", rng.End, tt.end)
		})
	}
}

func TestResolvePresetWeekStartsMonday(t *testing.T) {
	// Sunday 2025-12-21: the ISO week still began on Monday the 15th
	r := &DateResolver{now: func() time.Time {
		return time.Date(2025, time.December, 21, 8, 0, 0, 0, time.UTC)
	}}

	rng, err := r.ResolvePreset("this_week", time.UTC)
	require.NoError(t, err)
	assert.True(t, rng.Start.Equal(date(2025, 12, 15, 0, 0, 0)))
}

func TestResolvePresetUnknown(t *testing.T) {
	r := frozenResolver()

	for _, preset := range []string{"last_week", "previous_0_days", "previous_x_days", ""} {
		_, err := r.ResolvePreset(preset, time.UTC)
		var queryErr *structs.QueryError
		require.ErrorAs(t, err, &queryErr, preset)
		assert.Equal(t, structs.ErrUnknownPreset, queryErr.Kind)
	}
}

func TestResolvePresetTimezone(t *testing.T) {
	// 2025-12-15 12:00 UTC is still 2025-12-15 in Tokyo (21:00), so "today"
	// anchors to the Tokyo calendar date
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	r := frozenResolver()
	rng, err := r.ResolvePreset("today", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.December, 15, 0, 0, 0, 0, loc).Unix(), rng.Start.Unix())
	assert.Equal(t, time.Date(2025, time.December, 15, 23, 59, 59, 0, loc).Unix(), rng.End.Unix())
}

func TestShiftToPreviousPeriod(t *testing.T) {
	r := frozenResolver()

	tests := []struct {
		preset string
		start  time.Time
		end    time.Time
	}{
		// previous_7_days resolves to Dec 8..14, shifted back to Dec 1..7
		{"previous_7_days", date(2025, 12, 1, 0, 0, 0), date(2025, 12, 7, 23, 59, 59)},
		// this_month is Dec 1..15 (15 days), shifted to Nov 16..30
		{"this_month", date(2025, 11, 16, 0, 0, 0), date(2025, 11, 30, 23, 59, 59)},
		{"yesterday", date(2025, 12, 13, 0, 0, 0), date(2025, 12, 13, 23, 59, 59)},
	}

	for _, tt := range tests {
		t.Run(tt.preset, func(t *testing.T) {
			rng, err := r.ShiftToPreviousPeriod(tt.preset, time.UTC)
			require.NoError(t, err)
			assert.True(t, rng.Start.Equal(tt.start), "start: got %v want %v", rng.Start, tt.start)
			assert.True(t, rng.End.Equal(tt.end), "end: got %v want %v", rng.End, tt.end)
		})
	}
}

func TestShiftAcrossSpringForward(t *testing.T) {
	// America/New_York loses an hour on 2025-03-09. A 7-day window covering
	// that date spans only 167 wall-clock hours; the shifted previous
	// window must still cover 7 calendar days.
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	r := &DateResolver{now: func() time.Time {
		return time.Date(2025, time.March, 12, 12, 0, 0, 0, loc)
	}}

	current, err := r.ResolvePreset("previous_7_days", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.March, 5, 0, 0, 0, 0, loc).Unix(), current.Start.Unix())
	assert.Equal(t, time.Date(2025, time.March, 11, 23, 59, 59, 0, loc).Unix(), current.End.Unix())
	assert.Equal(t, 7, inclusiveDays(current))

	previous, err := r.ShiftToPreviousPeriod("previous_7_days", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.February, 26, 0, 0, 0, 0, loc).Unix(), previous.Start.Unix())
	assert.Equal(t, time.Date(2025, time.March, 4, 23, 59, 59, 0, loc).Unix(), previous.End.Unix())
	assert.Equal(t, inclusiveDays(current), inclusiveDays(previous))
}

func TestShiftIsContiguous(t *testing.T) {
	r := frozenResolver()

	current, err := r.ResolvePreset("previous_30_days", time.UTC)
	require.NoError(t, err)
	previous, err := r.ShiftToPreviousPeriod("previous_30_days", time.UTC)
	require.NoError(t, err)

	assert.Equal(t, inclusiveDays(current), inclusiveDays(previous))
	// previous window ends the day before the current one starts
	assert.True(t, previous.End.AddDate(0, 0, 1).Truncate(24*time.Hour).Equal(current.Start.Truncate(24*time.Hour)))
	assert.True(t, previous.End.Before(current.Start))
}

func TestResolveExplicitRange(t *testing.T) {
	r := frozenResolver()

	start := date(2025, 11, 1, 0, 0, 0)
	end := date(2025, 11, 30, 23, 59, 59)

	rng, err := r.Resolve(structs.DateRange{Start: &start, End: &end}, time.UTC)
	require.NoError(t, err)
	assert.True(t, rng.Start.Equal(start))
	assert.True(t, rng.End.Equal(end))
}

func TestResolveRejectsAmbiguousRange(t *testing.T) {
	r := frozenResolver()
	start := date(2025, 11, 1, 0, 0, 0)
	end := date(2025, 11, 30, 0, 0, 0)

	tests := []struct {
		name string
		dr   structs.DateRange
	}{
		{"neither preset nor bounds", structs.DateRange{}},
		{"both preset and bounds", structs.DateRange{Preset: "today", Start: &start, End: &end}},
		{"start only", structs.DateRange{Start: &start}},
		{"start after end", structs.DateRange{Start: &end, End: &start}},
		{"start equals end", structs.DateRange{Start: &start, End: &start}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.dr, time.UTC)
			var queryErr *structs.QueryError
			require.ErrorAs(t, err, &queryErr)
			assert.Equal(t, structs.ErrInvalidDateRange, queryErr.Kind)
		})
	}
}

func TestResolveCompare(t *testing.T) {
	r := frozenResolver()

	// same preset on both sides means duration-preserving shift
	rng, err := r.ResolveCompare(
		structs.DateRange{Preset: "previous_7_days"},
		structs.DateRange{Preset: "previous_7_days"},
		time.UTC,
	)
	require.NoError(t, err)
	assert.True(t, rng.Start.Equal(date(2025, 12, 1, 0, 0, 0)))
	assert.True(t, rng.End.Equal(date(2025, 12, 7, 23, 59, 59)))

	// different preset resolves independently
	rng, err = r.ResolveCompare(
		structs.DateRange{Preset: "previous_7_days"},
		structs.DateRange{Preset: "previous_month"},
		time.UTC,
	)
	require.NoError(t, err)
	assert.True(t, rng.Start.Equal(date(2025, 11, 1, 0, 0, 0)))
	assert.True(t, rng.End.Equal(date(2025, 11, 30, 23, 59, 59)))
}
