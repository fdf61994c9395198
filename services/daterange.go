package services

import (
	"strconv"
	"strings"
	"time"

	"github.com/luminastats/lumina-core/structs"
)

// allTimeFloor is the fixed epoch floor for the all_time preset
var allTimeFloor = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

// DateResolver turns named presets into concrete, timezone-anchored windows.
// The clock is injectable for deterministic tests.
type DateResolver struct {
	now func() time.Time
}

// NewDateResolver creates a resolver using the wall clock
func NewDateResolver() *DateResolver {
	return &DateResolver{now: time.Now}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

// startOfWeek truncates to the ISO week boundary (Monday)
func startOfWeek(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return time.Date(t.Year(), t.Month(), t.Day()-(weekday-1), 0, 0, 0, 0, t.Location())
}

func startOfQuarter(t time.Time) time.Time {
	quarterMonth := time.Month((int(t.Month())-1)/3*3 + 1)
	return time.Date(t.Year(), quarterMonth, 1, 0, 0, 0, 0, t.Location())
}

// ResolvePreset resolves a named preset against "now" in the given location.
// Both bounds are inclusive. Rolling previous_N_days windows end at
// yesterday end-of-day and never include today; this_* windows are
// to-date; previous_* calendar windows span the entire prior unit.
func (r *DateResolver) ResolvePreset(preset string, loc *time.Location) (structs.ResolvedRange, error) {
	now := r.now().In(loc)

	if days, ok := rollingDays(preset); ok {
		end := endOfDay(now.AddDate(0, 0, -1))
		start := startOfDay(end.AddDate(0, 0, -(days - 1)))
		return structs.ResolvedRange{Start: start, End: end}, nil
	}

	switch preset {
	case "today":
		return structs.ResolvedRange{Start: startOfDay(now), End: endOfDay(now)}, nil
	case "yesterday":
		y := now.AddDate(0, 0, -1)
		return structs.ResolvedRange{Start: startOfDay(y), End: endOfDay(y)}, nil
	case "this_week":
		return structs.ResolvedRange{Start: startOfWeek(now), End: endOfDay(now)}, nil
	case "this_month":
		return structs.ResolvedRange{Start: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc), End: endOfDay(now)}, nil
	case "this_quarter":
		return structs.ResolvedRange{Start: startOfQuarter(now), End: endOfDay(now)}, nil
	case "this_year":
		return structs.ResolvedRange{Start: time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc), End: endOfDay(now)}, nil
	case "previous_week":
		start := startOfWeek(now).AddDate(0, 0, -7)
		return structs.ResolvedRange{Start: start, End: endOfDay(start.AddDate(0, 0, 6))}, nil
	case "previous_month":
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, -1, 0)
		return structs.ResolvedRange{Start: start, End: endOfDay(start.AddDate(0, 1, -1))}, nil
	case "previous_quarter":
		start := startOfQuarter(now).AddDate(0, -3, 0)
		return structs.ResolvedRange{Start: start, End: endOfDay(start.AddDate(0, 3, -1))}, nil
	case "previous_year":
		start := time.Date(now.Year()-1, time.January, 1, 0, 0, 0, 0, loc)
		return structs.ResolvedRange{Start: start, End: endOfDay(time.Date(now.Year()-1, time.December, 31, 0, 0, 0, 0, loc))}, nil
	case "all_time":
		return structs.ResolvedRange{Start: allTimeFloor.In(loc), End: endOfDay(now)}, nil
	}

	return structs.ResolvedRange{}, structs.NewQueryError(structs.ErrUnknownPreset, preset)
}

// rollingDays parses previous_N_days presets
func rollingDays(preset string) (int, bool) {
	if !strings.HasPrefix(preset, "previous_") || !strings.HasSuffix(preset, "_days") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(preset, "previous_"), "_days"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ShiftToPreviousPeriod resolves the preset, then returns a window of the
// same inclusive day-count ending exactly one day before the original start.
// Duration-preserving, contiguous, non-overlapping.
func (r *DateResolver) ShiftToPreviousPeriod(preset string, loc *time.Location) (structs.ResolvedRange, error) {
	current, err := r.ResolvePreset(preset, loc)
	if err != nil {
		return structs.ResolvedRange{}, err
	}
	days := inclusiveDays(current)
	end := endOfDay(current.Start.AddDate(0, 0, -1))
	start := startOfDay(end.AddDate(0, 0, -(days - 1)))
	return structs.ResolvedRange{Start: start, End: end}, nil
}

// inclusiveDays counts calendar days covered by a resolved range. The dates
// are re-anchored to UTC before diffing: subtracting the zone-local
// midnights directly undercounts across a spring-forward transition, where
// a calendar day is only 23 wall-clock hours.
func inclusiveDays(rng structs.ResolvedRange) int {
	sy, sm, sd := rng.Start.Date()
	ey, em, ed := rng.End.Date()
	start := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	end := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours()/24) + 1
}

// Resolve turns a DateRange into concrete bounds. Exactly one of preset or
// explicit start/end must be set, and explicit bounds must satisfy
// start < end.
func (r *DateResolver) Resolve(dr structs.DateRange, loc *time.Location) (structs.ResolvedRange, error) {
	hasPreset := dr.Preset != ""
	hasExplicit := dr.Start != nil || dr.End != nil

	if hasPreset == hasExplicit {
		return structs.ResolvedRange{}, structs.NewQueryError(structs.ErrInvalidDateRange, "date_range")
	}
	if hasPreset {
		return r.ResolvePreset(dr.Preset, loc)
	}
	if dr.Start == nil || dr.End == nil || !dr.Start.Before(*dr.End) {
		return structs.ResolvedRange{}, structs.NewQueryError(structs.ErrInvalidDateRange, "date_range")
	}
	return structs.ResolvedRange{Start: dr.Start.In(loc), End: dr.End.In(loc)}, nil
}

// ResolveCompare resolves the comparison window. When both sides carry the
// same preset the previous window is derived by duration-preserving shift;
// otherwise the compare range is resolved independently.
func (r *DateResolver) ResolveCompare(current structs.DateRange, compare structs.DateRange, loc *time.Location) (structs.ResolvedRange, error) {
	if compare.Preset != "" && compare.Preset == current.Preset {
		return r.ShiftToPreviousPeriod(compare.Preset, loc)
	}
	return r.Resolve(compare, loc)
}
