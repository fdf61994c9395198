package services

import (
	"fmt"
	"strings"

	"github.com/luminastats/lumina-core/structs"
)

// BuildExtremes assembles the two-stage min/max query: stage one computes
// the extremes over the grouped values, stage two recomputes the groups and
// joins on value equality to recover the dimension tuple that achieved the
// maximum. Aggregates cannot return "argmax of a group-by" directly, so the
// winning tuple is located by value after the extremes are known.
func BuildExtremes(reg *Registry, database string, q *structs.ExtremesQuery, rng structs.ResolvedRange, metricCtx structs.MetricContext) (structs.BuiltQuery, error) {
	table, err := reg.Table(q.Table)
	if err != nil {
		return structs.BuiltQuery{}, err
	}

	m, err := reg.MetricFor(q.Metric, q.Table)
	if err != nil {
		return structs.BuiltQuery{}, err
	}

	if len(q.Dimensions) == 0 {
		return structs.BuiltQuery{}, structs.NewQueryError(structs.ErrMissingDimensions, "dimensions")
	}

	var groupSelect, groupBy, winnerCols []string
	for _, name := range q.Dimensions {
		d, err := reg.DimensionFor(name, q.Table)
		if err != nil {
			return structs.BuiltQuery{}, err
		}
		groupSelect = append(groupSelect, fmt.Sprintf("%s AS %s", d.Column, d.Name))
		groupBy = append(groupBy, d.Name)
		winnerCols = append(winnerCols, fmt.Sprintf("g.%s AS %s", d.Name, d.Name))
	}
	groupSelect = append(groupSelect, fmt.Sprintf("%s AS value", m.Expr(metricCtx)))

	filterSQL, params, err := CompileFilters(reg, q.Filters, q.Table, "f")
	if err != nil {
		return structs.BuiltQuery{}, err
	}
	params["from"] = rng.Start.UTC()
	params["to"] = rng.End.UTC()

	from, err := fromClause(database, table)
	if err != nil {
		return structs.BuiltQuery{}, err
	}

	whereParts := []string{
		fmt.Sprintf("%s >= {from:DateTime}", table.DateColumn),
		fmt.Sprintf("%s <= {to:DateTime}", table.DateColumn),
	}
	if filterSQL != "" {
		whereParts = append(whereParts, filterSQL)
	}

	grouped := fmt.Sprintf("SELECT %s FROM %s WHERE %s GROUP BY %s",
		strings.Join(groupSelect, ", "), from, strings.Join(whereParts, " AND "), strings.Join(groupBy, ", "))
	if q.HavingMinSessions > 0 {
		grouped += " HAVING count() >= {minSessions:UInt64}"
		params["minSessions"] = uint64(q.HavingMinSessions)
	}

	sql := fmt.Sprintf(
		"SELECT e.min_value AS min_value, e.max_value AS max_value, %s "+
			"FROM (SELECT min(value) AS min_value, max(value) AS max_value FROM (%s)) AS e "+
			"INNER JOIN (%s) AS g ON g.value = e.max_value LIMIT 1",
		strings.Join(winnerCols, ", "), grouped, grouped)

	return structs.BuiltQuery{SQL: sql, Params: params}, nil
}
