package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/luminastats/lumina-core/structs"
)

// comboSep separates dimension values inside lookup keys
const comboSep = "\x1f"

// formatBucket renders a time as the canonical bucket key, matching the SQL
// bucket expression's output exactly so keys compare equal to result rows
func formatBucket(g structs.Granularity, t time.Time) string {
	switch g {
	case structs.GranularityHour:
		return t.Format("2006-01-02 15:00:00")
	case structs.GranularityDay, structs.GranularityWeek:
		return t.Format("2006-01-02")
	case structs.GranularityMonth:
		return t.Format("2006-01")
	case structs.GranularityYear:
		return t.Format("2006")
	}
	return t.Format("2006-01-02")
}

// truncateBucket truncates a time to the start of its bucket
func truncateBucket(g structs.Granularity, t time.Time) time.Time {
	switch g {
	case structs.GranularityHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	case structs.GranularityDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case structs.GranularityWeek:
		return startOfWeek(t)
	case structs.GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case structs.GranularityYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	}
	return t
}

// advanceBucket advances a time by one bucket unit
func advanceBucket(g structs.Granularity, t time.Time) time.Time {
	switch g {
	case structs.GranularityHour:
		return t.Add(time.Hour)
	case structs.GranularityDay:
		return t.AddDate(0, 0, 1)
	case structs.GranularityWeek:
		return t.AddDate(0, 0, 7)
	case structs.GranularityMonth:
		return t.AddDate(0, 1, 0)
	case structs.GranularityYear:
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 0, 1)
}

// bucketKeys generates the full ordered key sequence from start to end
// inclusive, stepping by the granularity unit. Across a fall-back DST
// transition two consecutive hour instants format to the same local key;
// the store groups by that key and returns one merged row, so the sequence
// carries it once.
func bucketKeys(g structs.Granularity, rng structs.ResolvedRange) []string {
	var keys []string
	current := truncateBucket(g, rng.Start)
	for !current.After(rng.End) {
		key := formatBucket(g, current)
		if len(keys) == 0 || keys[len(keys)-1] != key {
			keys = append(keys, key)
		}
		current = advanceBucket(g, current)
	}
	return keys
}

// FillGaps completes a sparse time series into a dense grid. Without
// dimensions, every missing bucket becomes a zero-valued row. With
// dimensions, the observed set of distinct dimension-value combinations is
// collected first and the full bucket × combination product is emitted,
// zero-filling missing cells. Dimension values on synthesized rows come
// from the combination key; combinations never observed in the raw results
// do not appear at all.
func FillGaps(rows []structs.Row, g structs.Granularity, bucketCol string, rng structs.ResolvedRange, metrics []string, dims []string) []structs.Row {
	if g == "" {
		return rows
	}

	keys := bucketKeys(g, rng)

	if len(dims) == 0 {
		byBucket := make(map[string]structs.Row, len(rows))
		for _, row := range rows {
			byBucket[fmt.Sprint(row[bucketCol])] = row
		}

		out := make([]structs.Row, 0, len(keys))
		for _, key := range keys {
			if row, ok := byBucket[key]; ok {
				out = append(out, row)
				continue
			}
			out = append(out, zeroRow(bucketCol, key, metrics, nil, nil))
		}
		return out
	}

	// Collect observed combinations in first-appearance order and index
	// rows by bucket + combination.
	type combo struct {
		key    string
		values []any
	}
	var combos []combo
	seen := make(map[string]bool)
	byCell := make(map[string]structs.Row, len(rows))

	for _, row := range rows {
		parts := make([]string, len(dims))
		values := make([]any, len(dims))
		for i, d := range dims {
			values[i] = row[d]
			parts[i] = fmt.Sprint(row[d])
		}
		key := strings.Join(parts, comboSep)
		if !seen[key] {
			seen[key] = true
			combos = append(combos, combo{key: key, values: values})
		}
		byCell[fmt.Sprint(row[bucketCol])+comboSep+key] = row
	}

	out := make([]structs.Row, 0, len(keys)*len(combos))
	for _, key := range keys {
		for _, c := range combos {
			if row, ok := byCell[key+comboSep+c.key]; ok {
				out = append(out, row)
				continue
			}
			out = append(out, zeroRow(bucketCol, key, metrics, dims, c.values))
		}
	}
	return out
}

// zeroRow synthesizes a zero-valued row for a missing cell
func zeroRow(bucketCol, bucket string, metrics []string, dims []string, dimValues []any) structs.Row {
	row := make(structs.Row, 1+len(metrics)+len(dims))
	row[bucketCol] = bucket
	for _, m := range metrics {
		row[m] = float64(0)
	}
	for i, d := range dims {
		row[d] = dimValues[i]
	}
	return row
}
