package structs

// DimensionType is the value type of a dimension column
type DimensionType string

const (
	DimString  DimensionType = "string"
	DimNumber  DimensionType = "number"
	DimBoolean DimensionType = "boolean"
)

// MetricDefinition describes one metric in the catalog. Expr is a pure
// function of the per-tenant MetricContext so the catalog itself stays
// immutable and thread-shareable.
type MetricDefinition struct {
	Name   string   `json:"name"`
	Tables []string `json:"tables"`

	Expr func(MetricContext) string `json:"-"`

	// Totals describes the metric-specific re-aggregation used in
	// filtered-totals mode. Nil means the generic sum fallback applies.
	Totals *TotalsPlan `json:"-"`
}

// TotalsPlan splits a metric into re-combinable sub-aggregates: the inner
// query projects the partial states, the outer query merges them. Needed
// because non-additive metrics (ratios, medians) cannot be recomputed by
// summing or averaging per-group finals.
type TotalsPlan struct {
	// Inner returns the partial select fragments, each aliased
	Inner func(MetricContext) []string
	// Outer returns the recombining expression aliased to the metric name
	Outer func(MetricContext) string
}

// DimensionDefinition describes one dimension in the catalog
type DimensionDefinition struct {
	Name     string        `json:"name"`
	Column   string        `json:"-"`
	Type     DimensionType `json:"type"`
	Category string        `json:"category"`
	Tables   []string      `json:"tables"`
}

// TableConfig describes a queryable table's storage semantics
type TableConfig struct {
	Name       string
	DateColumn string

	// ReadFinal forces the deduplicating read path for tables that undergo
	// in-place updates; append-only tables leave it false
	ReadFinal bool
}

// EligibleFor reports whether the definition covers the given table
func (m MetricDefinition) EligibleFor(table string) bool {
	for _, t := range m.Tables {
		if t == table {
			return true
		}
	}
	return false
}

// EligibleFor reports whether the definition covers the given table
func (d DimensionDefinition) EligibleFor(table string) bool {
	for _, t := range d.Tables {
		if t == table {
			return true
		}
	}
	return false
}
