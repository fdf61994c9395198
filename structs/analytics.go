package structs

import "time"

// Granularity defines time bucket sizes for time series queries
type Granularity string

const (
	GranularityHour  Granularity = "hour"
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
	GranularityYear  Granularity = "year"
)

// Operator defines filter comparison operators
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpIn          Operator = "in"
	OpNotIn       Operator = "notIn"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpBetween     Operator = "between"
	OpIsNull      Operator = "isNull"
	OpIsNotNull   Operator = "isNotNull"
	OpIsEmpty     Operator = "isEmpty"
	OpIsNotEmpty  Operator = "isNotEmpty"
)

// DateRange is either a named preset resolved against "now" in a timezone,
// or an explicit start/end pair. Exactly one of the two must be set.
type DateRange struct {
	Preset      string      `json:"preset,omitempty"`
	Start       *time.Time  `json:"start,omitempty"`
	End         *time.Time  `json:"end,omitempty"`
	Granularity Granularity `json:"granularity,omitempty"`
}

// FilterPredicate is a row-level filter applied in the WHERE clause
type FilterPredicate struct {
	Dimension string   `json:"dimension"`
	Operator  Operator `json:"operator"`
	Values    []string `json:"values,omitempty"`
}

// MetricFilterPredicate is a post-aggregation filter applied in the HAVING
// clause against a metric's aggregate expression. Only gt, gte, lt, lte
// and between are legal here.
type MetricFilterPredicate struct {
	Metric   string    `json:"metric"`
	Operator Operator  `json:"operator"`
	Values   []float64 `json:"values"`
}

// AnalyticsQuery is a declarative analytics request
type AnalyticsQuery struct {
	Table      string   `json:"table"`
	Metrics    []string `json:"metrics"`
	Dimensions []string `json:"dimensions,omitempty"` // order defines grouping priority

	Filters       []FilterPredicate       `json:"filters,omitempty"`
	MetricFilters []MetricFilterPredicate `json:"metric_filters,omitempty"`

	DateRange        DateRange  `json:"date_range"`
	CompareDateRange *DateRange `json:"compare_date_range,omitempty"`

	Order             map[string]string `json:"order,omitempty"` // field -> "asc"|"desc"
	Limit             int               `json:"limit,omitempty"`
	HavingMinSessions int               `json:"having_min_sessions,omitempty"`

	// TotalsGroupBy enables filtered-totals mode: the inner query groups by
	// these dimensions and applies the metric filters, the outer query
	// re-combines the qualifying groups into a single total row. Only legal
	// when Dimensions is empty and MetricFilters is non-empty.
	TotalsGroupBy []string `json:"totals_group_by,omitempty"`

	// Refresh skips the cache read but still stores the fresh result
	Refresh bool `json:"refresh,omitempty"`
}

// ExtremesQuery asks for the min/max of one metric across dimension groups,
// plus the dimension values of the group that achieved the maximum
type ExtremesQuery struct {
	Table             string            `json:"table"`
	Metric            string            `json:"metric"`
	Dimensions        []string          `json:"dimensions"`
	Filters           []FilterPredicate `json:"filters,omitempty"`
	DateRange         DateRange         `json:"date_range"`
	HavingMinSessions int               `json:"having_min_sessions,omitempty"`
}

// BuiltQuery is the only artifact that crosses into the store: a SQL string
// with named parameter placeholders and the parameter values to bind. User
// supplied values are never interpolated into SQL.
type BuiltQuery struct {
	SQL    string         `json:"sql"`
	Params map[string]any `json:"params"`

	// TotalsFallback names metrics whose filtered-totals re-aggregation used
	// the generic sum fallback instead of a metric-specific formula. Callers
	// should log these: the fallback is not guaranteed correct for
	// non-additive metrics.
	TotalsFallback []string `json:"-"`
}

// Row is a single result row keyed by output column alias
type Row map[string]any

// ResponseData is the tagged data variant: a flat row list for plain
// queries, or a current/previous pair when a comparison was requested
type ResponseData struct {
	Compared bool  `json:"compared"`
	Rows     []Row `json:"rows,omitempty"`
	Current  []Row `json:"current,omitempty"`
	Previous []Row `json:"previous,omitempty"`
}

// ResolvedRange is a concrete, timezone-resolved date window
type ResolvedRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ResponseMeta echoes the query-affecting fields and resolved windows
type ResponseMeta struct {
	Table        string         `json:"table"`
	Metrics      []string       `json:"metrics"`
	Dimensions   []string       `json:"dimensions,omitempty"`
	Granularity  Granularity    `json:"granularity,omitempty"`
	DateRange    ResolvedRange  `json:"date_range"`
	CompareRange *ResolvedRange `json:"compare_range,omitempty"`
	Timezone     string         `json:"timezone"`
	RowCount     int            `json:"row_count"`
}

// AnalyticsResponse is the full response envelope
type AnalyticsResponse struct {
	Data ResponseData `json:"data"`
	Meta ResponseMeta `json:"meta"`

	// Query carries the emitted sql/params for observability. Never expose
	// to untrusted clients in production.
	Query *BuiltQuery `json:"query,omitempty"`
}

// ExtremesResponse reports the extreme values and the winning dimension tuple
type ExtremesResponse struct {
	Min           float64           `json:"min"`
	Max           float64           `json:"max"`
	MaxDimensions map[string]string `json:"max_dimensions,omitempty"`
	Meta          ResponseMeta      `json:"meta"`
	Query         *BuiltQuery       `json:"query,omitempty"`
}

// MetricContext carries per-tenant threshold values that parameterize
// metric expressions. All values originate from server-side config, never
// from raw user input.
type MetricContext struct {
	BounceThresholdSeconds int `json:"bounce_threshold_seconds"`
}
