package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminastats/lumina-core/structs"
)

func TestCompileFiltersEquals(t *testing.T) {
	reg := NewRegistry()

	sql, params, err := CompileFilters(reg, []structs.FilterPredicate{
		{Dimension: "device", Operator: structs.OpEquals, Values: []string{"mobile"}},
	}, TableSessions, "f")

	require.NoError(t, err)
	assert.Equal(t, "device = {f0:String}", sql)
	assert.Equal(t, "mobile", params["f0"])
}

func TestCompileFiltersOperators(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name      string
		predicate structs.FilterPredicate
		wantSQL   string
	}{
		{
			"not equals",
			structs.FilterPredicate{Dimension: "country", Operator: structs.OpNotEquals, Values: []string{"US"}},
			"country != {f0:String}",
		},
		{
			"in",
			structs.FilterPredicate{Dimension: "browser", Operator: structs.OpIn, Values: []string{"Chrome", "Firefox"}},
			"browser IN {f0:Array(String)}",
		},
		{
			"not in",
			structs.FilterPredicate{Dimension: "browser", Operator: structs.OpNotIn, Values: []string{"Safari"}},
			"browser NOT IN {f0:Array(String)}",
		},
		{
			"contains",
			structs.FilterPredicate{Dimension: "entry_page", Operator: structs.OpContains, Values: []string{"/blog"}},
			"entry_page LIKE {f0:String}",
		},
		{
			"not contains",
			structs.FilterPredicate{Dimension: "entry_page", Operator: structs.OpNotContains, Values: []string{"/admin"}},
			"entry_page NOT LIKE {f0:String}",
		},
		{
			"is empty",
			structs.FilterPredicate{Dimension: "referrer", Operator: structs.OpIsEmpty},
			"(referrer = '' OR referrer IS NULL)",
		},
		{
			"is not empty",
			structs.FilterPredicate{Dimension: "referrer", Operator: structs.OpIsNotEmpty},
			"(referrer != '' AND referrer IS NOT NULL)",
		},
		{
			"is null",
			structs.FilterPredicate{Dimension: "channel", Operator: structs.OpIsNull},
			"channel IS NULL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, _, err := CompileFilters(reg, []structs.FilterPredicate{tt.predicate}, TableSessions, "f")
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
		})
	}
}

func TestCompileFiltersContainsWrapsValue(t *testing.T) {
	reg := NewRegistry()

	_, params, err := CompileFilters(reg, []structs.FilterPredicate{
		{Dimension: "entry_page", Operator: structs.OpContains, Values: []string{"/blog"}},
	}, TableSessions, "f")

	require.NoError(t, err)
	assert.Equal(t, "%/blog%", params["f0"])
}

func TestCompileFiltersBetween(t *testing.T) {
	reg := NewRegistry()

	sql, params, err := CompileFilters(reg, []structs.FilterPredicate{
		{Dimension: "country", Operator: structs.OpBetween, Values: []string{"A", "M"}},
	}, TableSessions, "f")

	require.NoError(t, err)
	assert.Equal(t, "country BETWEEN {f0a:String} AND {f0b:String}", sql)
	assert.Equal(t, "A", params["f0a"])
	assert.Equal(t, "M", params["f0b"])
}

func TestCompileFiltersConjunction(t *testing.T) {
	reg := NewRegistry()

	sql, params, err := CompileFilters(reg, []structs.FilterPredicate{
		{Dimension: "device", Operator: structs.OpEquals, Values: []string{"mobile"}},
		{Dimension: "country", Operator: structs.OpIn, Values: []string{"US", "CA"}},
	}, TableSessions, "f")

	require.NoError(t, err)
	assert.Equal(t, "device = {f0:String} AND country IN {f1:Array(String)}", sql)
	assert.Len(t, params, 2)
}

func TestCompileFiltersEmptyList(t *testing.T) {
	reg := NewRegistry()

	sql, params, err := CompileFilters(reg, nil, TableSessions, "f")
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Empty(t, params)
}

func TestCompileFiltersRejectsBadInput(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name      string
		predicate structs.FilterPredicate
		kind      structs.ErrorKind
	}{
		{
			"unknown dimension",
			structs.FilterPredicate{Dimension: "nope", Operator: structs.OpEquals, Values: []string{"x"}},
			structs.ErrUnknownDimension,
		},
		{
			"ineligible dimension",
			structs.FilterPredicate{Dimension: "event_name", Operator: structs.OpEquals, Values: []string{"x"}},
			structs.ErrDimensionNotAvailableForTable,
		},
		{
			"unknown operator",
			structs.FilterPredicate{Dimension: "device", Operator: "like", Values: []string{"x"}},
			structs.ErrInvalidFilter,
		},
		{
			"equals needs exactly one value",
			structs.FilterPredicate{Dimension: "device", Operator: structs.OpEquals, Values: []string{"a", "b"}},
			structs.ErrInvalidFilter,
		},
		{
			"between needs two values",
			structs.FilterPredicate{Dimension: "device", Operator: structs.OpBetween, Values: []string{"a"}},
			structs.ErrInvalidFilter,
		},
		{
			"in needs at least one value",
			structs.FilterPredicate{Dimension: "device", Operator: structs.OpIn},
			structs.ErrInvalidFilter,
		},
		{
			"is empty takes no values",
			structs.FilterPredicate{Dimension: "device", Operator: structs.OpIsEmpty, Values: []string{"x"}},
			structs.ErrInvalidFilter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := CompileFilters(reg, []structs.FilterPredicate{tt.predicate}, TableSessions, "f")
			var queryErr *structs.QueryError
			require.ErrorAs(t, err, &queryErr)
			assert.Equal(t, tt.kind, queryErr.Kind)
		})
	}
}

func TestCompileMetricFilters(t *testing.T) {
	reg := NewRegistry()
	ctx := structs.MetricContext{BounceThresholdSeconds: 10}

	sql, params, err := CompileMetricFilters(reg, []structs.MetricFilterPredicate{
		{Metric: "sessions", Operator: structs.OpGt, Values: []float64{100}},
	}, TableSessions, ctx, "mf")

	require.NoError(t, err)
	assert.Equal(t, "count() > {mf0:Float64}", sql)
	assert.Equal(t, float64(100), params["mf0"])
}

func TestCompileMetricFiltersBetween(t *testing.T) {
	reg := NewRegistry()
	ctx := structs.MetricContext{BounceThresholdSeconds: 10}

	sql, params, err := CompileMetricFilters(reg, []structs.MetricFilterPredicate{
		{Metric: "pageviews", Operator: structs.OpBetween, Values: []float64{10, 50}},
	}, TableSessions, ctx, "mf")

	require.NoError(t, err)
	assert.Equal(t, "sum(pageviews) BETWEEN {mf0a:Float64} AND {mf0b:Float64}", sql)
	assert.Equal(t, float64(10), params["mf0a"])
	assert.Equal(t, float64(50), params["mf0b"])
}

func TestCompileMetricFiltersRejectsRowOperators(t *testing.T) {
	reg := NewRegistry()
	ctx := structs.MetricContext{}

	for _, op := range []structs.Operator{structs.OpEquals, structs.OpContains, structs.OpIn, structs.OpIsNull} {
		_, _, err := CompileMetricFilters(reg, []structs.MetricFilterPredicate{
			{Metric: "sessions", Operator: op, Values: []float64{1}},
		}, TableSessions, ctx, "mf")

		var queryErr *structs.QueryError
		require.ErrorAs(t, err, &queryErr, string(op))
		assert.Equal(t, structs.ErrInvalidFilter, queryErr.Kind)
	}
}
