package services

import (
	"fmt"
	"sort"

	"github.com/luminastats/lumina-core/structs"
)

// Table names known to the engine. The sessions table undergoes in-place
// updates (a session row is rewritten as the visit progresses) and therefore
// requires the deduplicating read path; events is append-only.
const (
	TableSessions = "sessions"
	TableEvents   = "events"
)

var bothTables = []string{TableSessions, TableEvents}

func constExpr(sql string) func(structs.MetricContext) string {
	return func(structs.MetricContext) string { return sql }
}

// additiveTotals builds the re-aggregation plan for metrics whose per-group
// values can simply be summed
func additiveTotals(name string, expr func(structs.MetricContext) string) *structs.TotalsPlan {
	part := name + "_part"
	return &structs.TotalsPlan{
		Inner: func(ctx structs.MetricContext) []string {
			return []string{fmt.Sprintf("%s AS %s", expr(ctx), part)}
		},
		Outer: func(structs.MetricContext) string {
			return fmt.Sprintf("sum(%s) AS %s", part, name)
		},
	}
}

// ratioTotals builds the plan for ratio metrics: numerator and denominator
// are carried separately and re-divided after summing, guarded against
// divide-by-zero
func ratioTotals(name, numExpr, denExpr, outer string) *structs.TotalsPlan {
	num := name + "_num"
	den := name + "_den"
	return &structs.TotalsPlan{
		Inner: func(structs.MetricContext) []string {
			return []string{
				fmt.Sprintf("%s AS %s", numExpr, num),
				fmt.Sprintf("%s AS %s", denExpr, den),
			}
		},
		Outer: func(structs.MetricContext) string {
			return fmt.Sprintf(outer, den, num, den) + " AS " + name
		},
	}
}

// sketchTotals builds the plan for median metrics: the inner query emits a
// quantile sketch state per group and the outer query merges the sketches
// before extracting the quantile. Averaging per-group medians would be wrong.
func sketchTotals(name, column string) *structs.TotalsPlan {
	state := name + "_state"
	return &structs.TotalsPlan{
		Inner: func(structs.MetricContext) []string {
			return []string{fmt.Sprintf("quantileTDigestState(0.5)(%s) AS %s", column, state)}
		},
		Outer: func(structs.MetricContext) string {
			return fmt.Sprintf("quantileTDigestMerge(0.5)(%s) AS %s", state, name)
		},
	}
}

// Registry is the immutable catalog of metric and dimension definitions,
// created once at startup and shared across requests.
type Registry struct {
	metrics    map[string]structs.MetricDefinition
	dimensions map[string]structs.DimensionDefinition
	tables     map[string]structs.TableConfig
}

// NewRegistry builds the static catalog
func NewRegistry() *Registry {
	bounceNum := func(ctx structs.MetricContext) string {
		return fmt.Sprintf("countIf(duration < %d)", ctx.BounceThresholdSeconds)
	}

	metrics := []structs.MetricDefinition{
		{
			Name:   "visitors",
			Tables: bothTables,
			Expr:   constExpr("uniq(visitor_id)"),
			Totals: &structs.TotalsPlan{
				Inner: func(structs.MetricContext) []string {
					return []string{"uniqState(visitor_id) AS visitors_state"}
				},
				Outer: func(structs.MetricContext) string {
					return "uniqMerge(visitors_state) AS visitors"
				},
			},
		},
		{
			Name:   "sessions",
			Tables: []string{TableSessions},
			Expr:   constExpr("count()"),
			Totals: additiveTotals("sessions", constExpr("count()")),
		},
		{
			Name:   "pageviews",
			Tables: []string{TableSessions},
			Expr:   constExpr("sum(pageviews)"),
			Totals: additiveTotals("pageviews", constExpr("sum(pageviews)")),
		},
		{
			Name:   "views_per_session",
			Tables: []string{TableSessions},
			Expr:   constExpr("if(count() = 0, 0, round(sum(pageviews) / count(), 2))"),
			Totals: ratioTotals("views_per_session", "sum(pageviews)", "count()",
				"if(sum(%s) = 0, 0, round(sum(%s) / sum(%s), 2))"),
		},
		{
			Name:   "bounce_rate",
			Tables: []string{TableSessions},
			Expr: func(ctx structs.MetricContext) string {
				return fmt.Sprintf("if(count() = 0, 0, round(100 * %s / count(), 1))", bounceNum(ctx))
			},
			Totals: &structs.TotalsPlan{
				Inner: func(ctx structs.MetricContext) []string {
					return []string{
						bounceNum(ctx) + " AS bounce_rate_num",
						"count() AS bounce_rate_den",
					}
				},
				Outer: func(structs.MetricContext) string {
					return "if(sum(bounce_rate_den) = 0, 0, round(100 * sum(bounce_rate_num) / sum(bounce_rate_den), 1)) AS bounce_rate"
				},
			},
		},
		{
			Name:   "median_session_duration",
			Tables: []string{TableSessions},
			Expr:   constExpr("quantileTDigest(0.5)(duration)"),
			Totals: sketchTotals("median_session_duration", "duration"),
		},
		{
			Name:   "median_scroll_depth",
			Tables: []string{TableSessions},
			Expr:   constExpr("quantileTDigest(0.5)(scroll_depth)"),
			Totals: sketchTotals("median_scroll_depth", "scroll_depth"),
		},
		{
			Name:   "events",
			Tables: []string{TableEvents},
			Expr:   constExpr("count()"),
			Totals: additiveTotals("events", constExpr("count()")),
		},
		{
			Name:   "unique_events",
			Tables: []string{TableEvents},
			Expr:   constExpr("uniq(visitor_id, event_name)"),
		},
		{
			Name:   "goals",
			Tables: []string{TableEvents},
			Expr:   constExpr("countIf(is_goal = 1)"),
			Totals: additiveTotals("goals", constExpr("countIf(is_goal = 1)")),
		},
		{
			Name:   "sum_goal_value",
			Tables: []string{TableEvents},
			Expr:   constExpr("sumIf(goal_value, is_goal = 1)"),
			Totals: additiveTotals("sum_goal_value", constExpr("sumIf(goal_value, is_goal = 1)")),
		},
		{
			Name:   "avg_goal_value",
			Tables: []string{TableEvents},
			Expr:   constExpr("if(countIf(is_goal = 1) = 0, 0, round(sumIf(goal_value, is_goal = 1) / countIf(is_goal = 1), 2))"),
			Totals: ratioTotals("avg_goal_value", "sumIf(goal_value, is_goal = 1)", "countIf(is_goal = 1)",
				"if(sum(%s) = 0, 0, round(sum(%s) / sum(%s), 2))"),
		},
	}

	dim := func(name, column string, typ structs.DimensionType, category string, tables []string) structs.DimensionDefinition {
		return structs.DimensionDefinition{Name: name, Column: column, Type: typ, Category: category, Tables: tables}
	}

	dimensions := []structs.DimensionDefinition{
		dim("device", "device", structs.DimString, "tech", bothTables),
		dim("browser", "browser", structs.DimString, "tech", bothTables),
		dim("browser_version", "browser_version", structs.DimString, "tech", []string{TableSessions}),
		dim("os", "os", structs.DimString, "tech", bothTables),
		dim("os_version", "os_version", structs.DimString, "tech", []string{TableSessions}),
		dim("screen_class", "screen_class", structs.DimString, "tech", []string{TableSessions}),
		dim("language", "language", structs.DimString, "tech", bothTables),
		dim("country", "country", structs.DimString, "geo", bothTables),
		dim("region", "region", structs.DimString, "geo", bothTables),
		dim("city", "city", structs.DimString, "geo", bothTables),
		dim("referrer", "referrer", structs.DimString, "acquisition", []string{TableSessions}),
		dim("referrer_domain", "referrer_domain", structs.DimString, "acquisition", bothTables),
		dim("channel", "channel", structs.DimString, "acquisition", []string{TableSessions}),
		dim("utm_source", "utm_source", structs.DimString, "acquisition", bothTables),
		dim("utm_medium", "utm_medium", structs.DimString, "acquisition", bothTables),
		dim("utm_campaign", "utm_campaign", structs.DimString, "acquisition", bothTables),
		dim("utm_term", "utm_term", structs.DimString, "acquisition", bothTables),
		dim("utm_content", "utm_content", structs.DimString, "acquisition", bothTables),
		dim("entry_page", "entry_page", structs.DimString, "behavior", []string{TableSessions}),
		dim("exit_page", "exit_page", structs.DimString, "behavior", []string{TableSessions}),
		dim("page", "page", structs.DimString, "behavior", []string{TableEvents}),
		dim("event_name", "event_name", structs.DimString, "behavior", []string{TableEvents}),
		dim("goal_name", "goal_name", structs.DimString, "behavior", []string{TableEvents}),
		// Slot columns materialized ahead of time by the custom-dimension
		// backfill subsystem; queried like any other column.
		dim("custom_1", "custom_1", structs.DimString, "custom", bothTables),
		dim("custom_2", "custom_2", structs.DimString, "custom", bothTables),
		dim("custom_3", "custom_3", structs.DimString, "custom", bothTables),
		dim("custom_4", "custom_4", structs.DimString, "custom", bothTables),
		dim("custom_5", "custom_5", structs.DimString, "custom", bothTables),
	}

	r := &Registry{
		metrics:    make(map[string]structs.MetricDefinition, len(metrics)),
		dimensions: make(map[string]structs.DimensionDefinition, len(dimensions)),
		tables: map[string]structs.TableConfig{
			TableSessions: {Name: TableSessions, DateColumn: "session_start", ReadFinal: true},
			TableEvents:   {Name: TableEvents, DateColumn: "timestamp", ReadFinal: false},
		},
	}
	for _, m := range metrics {
		r.metrics[m.Name] = m
	}
	for _, d := range dimensions {
		r.dimensions[d.Name] = d
	}
	return r
}

// Table resolves a table config
func (r *Registry) Table(name string) (structs.TableConfig, error) {
	t, ok := r.tables[name]
	if !ok {
		return structs.TableConfig{}, structs.NewQueryError(structs.ErrUnknownTable, name)
	}
	return t, nil
}

// Metric resolves a metric by name
func (r *Registry) Metric(name string) (structs.MetricDefinition, error) {
	m, ok := r.metrics[name]
	if !ok {
		return structs.MetricDefinition{}, structs.NewQueryError(structs.ErrUnknownMetric, name)
	}
	return m, nil
}

// Dimension resolves a dimension by name
func (r *Registry) Dimension(name string) (structs.DimensionDefinition, error) {
	d, ok := r.dimensions[name]
	if !ok {
		return structs.DimensionDefinition{}, structs.NewQueryError(structs.ErrUnknownDimension, name)
	}
	return d, nil
}

// MetricFor resolves a metric and verifies table eligibility. The two
// failure modes are distinct errors.
func (r *Registry) MetricFor(name, table string) (structs.MetricDefinition, error) {
	m, err := r.Metric(name)
	if err != nil {
		return structs.MetricDefinition{}, err
	}
	if !m.EligibleFor(table) {
		return structs.MetricDefinition{}, structs.NewQueryError(structs.ErrMetricNotAvailableForTable, name)
	}
	return m, nil
}

// DimensionFor resolves a dimension and verifies table eligibility
func (r *Registry) DimensionFor(name, table string) (structs.DimensionDefinition, error) {
	d, err := r.Dimension(name)
	if err != nil {
		return structs.DimensionDefinition{}, err
	}
	if !d.EligibleFor(table) {
		return structs.DimensionDefinition{}, structs.NewQueryError(structs.ErrDimensionNotAvailableForTable, name)
	}
	return d, nil
}

// ListMetrics returns the catalog, optionally restricted to one table,
// sorted by name
func (r *Registry) ListMetrics(table string) []structs.MetricDefinition {
	var out []structs.MetricDefinition
	for _, m := range r.metrics {
		if table == "" || m.EligibleFor(table) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListDimensions returns the catalog, optionally restricted to one table,
// sorted by name
func (r *Registry) ListDimensions(table string) []structs.DimensionDefinition {
	var out []structs.DimensionDefinition
	for _, d := range r.dimensions {
		if table == "" || d.EligibleFor(table) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
