package services

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/luminastats/lumina-core/structs"
)

// DefaultLimit applies when a query requests no limit
const DefaultLimit = 1000

// MaxLimit is the hard cap on result rows
const MaxLimit = 10000

// safeIdentifierRegex validates identifiers interpolated into SQL. Only
// Registry-validated identifiers and server-derived names ever pass through
// it; user-supplied values always travel as bound parameters.
var safeIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// safeTimezoneRegex validates IANA timezone names before they are quoted
// into bucket expressions
var safeTimezoneRegex = regexp.MustCompile(`^[a-zA-Z0-9_+\-/]{1,50}$`)

// bucketAlias returns the output column name for a granularity bucket
func bucketAlias(g structs.Granularity) string {
	return "date_" + string(g)
}

// bucketExpr builds the SQL expression producing a canonical string bucket
// key for the given granularity, anchored to the timezone when it is not
// UTC. Week buckets start on Monday.
func bucketExpr(g structs.Granularity, dateColumn, timezone string) (string, error) {
	tzArg := ""
	if timezone != "" && timezone != "UTC" {
		if !safeTimezoneRegex.MatchString(timezone) {
			return "", fmt.Errorf("invalid timezone: %s", timezone)
		}
		tzArg = fmt.Sprintf(", '%s'", timezone)
	}

	switch g {
	case structs.GranularityHour:
		return fmt.Sprintf("formatDateTime(toStartOfHour(%s%s), '%%F %%H:00:00')", dateColumn, tzArg), nil
	case structs.GranularityDay:
		return fmt.Sprintf("formatDateTime(toStartOfDay(%s%s), '%%F')", dateColumn, tzArg), nil
	case structs.GranularityWeek:
		return fmt.Sprintf("formatDateTime(toStartOfWeek(%s, 1%s), '%%F')", dateColumn, tzArg), nil
	case structs.GranularityMonth:
		return fmt.Sprintf("formatDateTime(toStartOfMonth(%s%s), '%%Y-%%m')", dateColumn, tzArg), nil
	case structs.GranularityYear:
		return fmt.Sprintf("formatDateTime(toStartOfYear(%s%s), '%%Y')", dateColumn, tzArg), nil
	}
	return "", fmt.Errorf("unsupported granularity: %s", g)
}

// fromClause builds the FROM target, applying the deduplicating read
// modifier only for tables that undergo in-place updates
func fromClause(database string, table structs.TableConfig) (string, error) {
	if !safeIdentifierRegex.MatchString(database) {
		return "", fmt.Errorf("invalid database identifier: %s", database)
	}
	from := fmt.Sprintf("%s.%s", database, table.Name)
	if table.ReadFinal {
		from += " FINAL"
	}
	return from, nil
}

// sortedOrderKeys returns the order map keys in deterministic order
func sortedOrderKeys(order map[string]string) []string {
	keys := make([]string, 0, len(order))
	for k := range order {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildQuery assembles the full aggregation query for a validated request.
// All validation runs before any SQL is emitted: the first Registry or
// eligibility failure aborts and no partial query is ever returned.
func BuildQuery(reg *Registry, database string, q *structs.AnalyticsQuery, rng structs.ResolvedRange, timezone string, metricCtx structs.MetricContext) (structs.BuiltQuery, error) {
	table, err := reg.Table(q.Table)
	if err != nil {
		return structs.BuiltQuery{}, err
	}

	metrics := make([]structs.MetricDefinition, 0, len(q.Metrics))
	for _, name := range q.Metrics {
		m, err := reg.MetricFor(name, q.Table)
		if err != nil {
			return structs.BuiltQuery{}, err
		}
		metrics = append(metrics, m)
	}

	dims := make([]structs.DimensionDefinition, 0, len(q.Dimensions))
	for _, name := range q.Dimensions {
		d, err := reg.DimensionFor(name, q.Table)
		if err != nil {
			return structs.BuiltQuery{}, err
		}
		dims = append(dims, d)
	}

	filterSQL, filterParams, err := CompileFilters(reg, q.Filters, q.Table, "f")
	if err != nil {
		return structs.BuiltQuery{}, err
	}
	havingSQL, havingParams, err := CompileMetricFilters(reg, q.MetricFilters, q.Table, metricCtx, "mf")
	if err != nil {
		return structs.BuiltQuery{}, err
	}

	// Order keys must reference a selected output column; a valid catalog
	// name that is not in the SELECT list would still fail at the store.
	orderable := make(map[string]bool, len(q.Metrics)+len(q.Dimensions))
	for _, name := range q.Metrics {
		orderable[name] = true
	}
	for _, name := range q.Dimensions {
		orderable[name] = true
	}
	for _, key := range sortedOrderKeys(q.Order) {
		if !orderable[key] {
			return structs.BuiltQuery{}, structs.NewQueryError(structs.ErrUnknownOrderField, key)
		}
	}

	from, err := fromClause(database, table)
	if err != nil {
		return structs.BuiltQuery{}, err
	}

	params := map[string]any{
		"from": rng.Start.UTC(),
		"to":   rng.End.UTC(),
	}
	for k, v := range filterParams {
		params[k] = v
	}

	whereParts := []string{
		fmt.Sprintf("%s >= {from:DateTime}", table.DateColumn),
		fmt.Sprintf("%s <= {to:DateTime}", table.DateColumn),
	}
	if filterSQL != "" {
		whereParts = append(whereParts, filterSQL)
	}
	where := strings.Join(whereParts, " AND ")

	if len(q.TotalsGroupBy) > 0 && len(q.Dimensions) == 0 && len(q.MetricFilters) > 0 {
		return buildFilteredTotals(reg, q, metrics, from, where, params, havingSQL, havingParams, metricCtx)
	}

	// SELECT and GROUP BY
	var selectParts, groupBy []string

	bucket := ""
	if q.DateRange.Granularity != "" {
		expr, err := bucketExpr(q.DateRange.Granularity, table.DateColumn, timezone)
		if err != nil {
			return structs.BuiltQuery{}, err
		}
		bucket = bucketAlias(q.DateRange.Granularity)
		selectParts = append(selectParts, fmt.Sprintf("%s AS %s", expr, bucket))
		groupBy = append(groupBy, bucket)
	}
	for _, d := range dims {
		selectParts = append(selectParts, fmt.Sprintf("%s AS %s", d.Column, d.Name))
		groupBy = append(groupBy, d.Name)
	}
	for _, m := range metrics {
		selectParts = append(selectParts, fmt.Sprintf("%s AS %s", m.Expr(metricCtx), m.Name))
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(selectParts, ", "), from, where)

	if len(groupBy) > 0 {
		sql += " GROUP BY " + strings.Join(groupBy, ", ")
	}

	// HAVING: the group-size threshold is meaningless without a GROUP BY
	var havingParts []string
	if q.HavingMinSessions > 0 && len(groupBy) > 0 {
		havingParts = append(havingParts, "count() >= {minSessions:UInt64}")
		params["minSessions"] = uint64(q.HavingMinSessions)
	}
	if havingSQL != "" {
		havingParts = append(havingParts, havingSQL)
		for k, v := range havingParams {
			params[k] = v
		}
	}
	if len(havingParts) > 0 {
		sql += " HAVING " + strings.Join(havingParts, " AND ")
	}

	// ORDER BY: a bucket is always the primary ascending key because gap
	// filling depends on chronological emission
	var orderParts []string
	if bucket != "" {
		orderParts = append(orderParts, bucket+" ASC")
	}
	for _, key := range sortedOrderKeys(q.Order) {
		dir := "ASC"
		if strings.EqualFold(q.Order[key], "desc") {
			dir = "DESC"
		}
		orderParts = append(orderParts, key+" "+dir)
	}
	if len(orderParts) == 0 && len(metrics) > 0 {
		orderParts = append(orderParts, metrics[0].Name+" DESC")
	}
	if len(orderParts) > 0 {
		sql += " ORDER BY " + strings.Join(orderParts, ", ")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	sql += fmt.Sprintf(" LIMIT %d", limit)

	return structs.BuiltQuery{SQL: sql, Params: params}, nil
}

// buildFilteredTotals emits the nested re-aggregation query: the inner
// query groups by the totals dimensions and projects re-combinable
// sub-aggregates with the metric filters applied as HAVING, the outer query
// merges the qualifying groups into one total row. Summing or averaging
// per-group final values would be wrong for ratios and medians.
func buildFilteredTotals(reg *Registry, q *structs.AnalyticsQuery, metrics []structs.MetricDefinition, from, where string, params map[string]any, havingSQL string, havingParams map[string]any, metricCtx structs.MetricContext) (structs.BuiltQuery, error) {
	var innerSelect, innerGroupBy, outerSelect, fallback []string
	seen := make(map[string]bool)

	for _, name := range q.TotalsGroupBy {
		d, err := reg.DimensionFor(name, q.Table)
		if err != nil {
			return structs.BuiltQuery{}, err
		}
		innerSelect = append(innerSelect, fmt.Sprintf("%s AS %s", d.Column, d.Name))
		innerGroupBy = append(innerGroupBy, d.Name)
	}

	for _, m := range metrics {
		if seen[m.Name] {
			continue
		}
		seen[m.Name] = true

		plan := m.Totals
		if plan == nil {
			// Generic sum fallback; correctness is not guaranteed for
			// non-additive metrics, so the built query flags them.
			part := m.Name + "_part"
			innerSelect = append(innerSelect, fmt.Sprintf("%s AS %s", m.Expr(metricCtx), part))
			outerSelect = append(outerSelect, fmt.Sprintf("sum(%s) AS %s", part, m.Name))
			fallback = append(fallback, m.Name)
			continue
		}
		innerSelect = append(innerSelect, plan.Inner(metricCtx)...)
		outerSelect = append(outerSelect, plan.Outer(metricCtx))
	}

	inner := fmt.Sprintf("SELECT %s FROM %s WHERE %s GROUP BY %s",
		strings.Join(innerSelect, ", "), from, where, strings.Join(innerGroupBy, ", "))

	havingParts := []string{}
	if q.HavingMinSessions > 0 {
		havingParts = append(havingParts, "count() >= {minSessions:UInt64}")
		params["minSessions"] = uint64(q.HavingMinSessions)
	}
	if havingSQL != "" {
		havingParts = append(havingParts, havingSQL)
		for k, v := range havingParams {
			params[k] = v
		}
	}
	if len(havingParts) > 0 {
		inner += " HAVING " + strings.Join(havingParts, " AND ")
	}

	sql := fmt.Sprintf("SELECT %s FROM (%s)", strings.Join(outerSelect, ", "), inner)

	return structs.BuiltQuery{SQL: sql, Params: params, TotalsFallback: fallback}, nil
}
