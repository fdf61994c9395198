package services

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/luminastats/lumina-core/structs"
)

// paramType maps a dimension value type to the ClickHouse parameter type
// used in named placeholders
func paramType(t structs.DimensionType) string {
	switch t {
	case structs.DimNumber:
		return "Float64"
	case structs.DimBoolean:
		return "Bool"
	default:
		return "String"
	}
}

// convertFilterValue parses a raw filter value according to the dimension
// type so the driver binds it with the declared parameter type
func convertFilterValue(d structs.DimensionDefinition, raw string) (any, error) {
	switch d.Type {
	case structs.DimNumber:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, structs.NewQueryError(structs.ErrInvalidFilter, d.Name)
		}
		return v, nil
	case structs.DimBoolean:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, structs.NewQueryError(structs.ErrInvalidFilter, d.Name)
		}
		return v, nil
	default:
		return raw, nil
	}
}

func convertFilterValues(d structs.DimensionDefinition, raw []string) ([]any, error) {
	out := make([]any, len(raw))
	for i, r := range raw {
		v, err := convertFilterValue(d, r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// operatorArity returns the required value count for an operator; -1 means
// one or more
func operatorArity(op structs.Operator) (int, bool) {
	switch op {
	case structs.OpIsNull, structs.OpIsNotNull, structs.OpIsEmpty, structs.OpIsNotEmpty:
		return 0, true
	case structs.OpEquals, structs.OpNotEquals, structs.OpContains, structs.OpNotContains,
		structs.OpGt, structs.OpGte, structs.OpLt, structs.OpLte:
		return 1, true
	case structs.OpBetween:
		return 2, true
	case structs.OpIn, structs.OpNotIn:
		return -1, true
	}
	return 0, false
}

// CompileFilters compiles row-level filter predicates into a parameterized
// SQL fragment. Parameter names are allocated from paramPrefix plus a
// running index so multiple filter lists sharing one statement never
// collide. An empty predicate list compiles to an empty fragment. Any
// unknown or ineligible dimension aborts the whole list.
func CompileFilters(reg *Registry, predicates []structs.FilterPredicate, table, paramPrefix string) (string, map[string]any, error) {
	if len(predicates) == 0 {
		return "", map[string]any{}, nil
	}

	conditions := make([]string, 0, len(predicates))
	params := make(map[string]any, len(predicates))

	for i, p := range predicates {
		d, err := reg.DimensionFor(p.Dimension, table)
		if err != nil {
			return "", nil, err
		}

		arity, known := operatorArity(p.Operator)
		if !known {
			return "", nil, structs.NewQueryError(structs.ErrInvalidFilter, p.Dimension)
		}
		if arity >= 0 && len(p.Values) != arity || arity < 0 && len(p.Values) == 0 {
			return "", nil, structs.NewQueryError(structs.ErrInvalidFilter, p.Dimension)
		}

		name := fmt.Sprintf("%s%d", paramPrefix, i)
		typ := paramType(d.Type)
		col := d.Column

		switch p.Operator {
		case structs.OpEquals, structs.OpNotEquals, structs.OpGt, structs.OpGte, structs.OpLt, structs.OpLte:
			v, err := convertFilterValue(d, p.Values[0])
			if err != nil {
				return "", nil, err
			}
			params[name] = v
			conditions = append(conditions, fmt.Sprintf("%s %s {%s:%s}", col, comparisonSymbol(p.Operator), name, typ))

		case structs.OpIn, structs.OpNotIn:
			vs, err := convertFilterValues(d, p.Values)
			if err != nil {
				return "", nil, err
			}
			params[name] = vs
			keyword := "IN"
			if p.Operator == structs.OpNotIn {
				keyword = "NOT IN"
			}
			conditions = append(conditions, fmt.Sprintf("%s %s {%s:Array(%s)}", col, keyword, name, typ))

		case structs.OpContains, structs.OpNotContains:
			params[name] = "%" + p.Values[0] + "%"
			keyword := "LIKE"
			if p.Operator == structs.OpNotContains {
				keyword = "NOT LIKE"
			}
			conditions = append(conditions, fmt.Sprintf("%s %s {%s:String}", col, keyword, name))

		case structs.OpBetween:
			lo, err := convertFilterValue(d, p.Values[0])
			if err != nil {
				return "", nil, err
			}
			hi, err := convertFilterValue(d, p.Values[1])
			if err != nil {
				return "", nil, err
			}
			params[name+"a"] = lo
			params[name+"b"] = hi
			conditions = append(conditions, fmt.Sprintf("%s BETWEEN {%sa:%s} AND {%sb:%s}", col, name, typ, name, typ))

		case structs.OpIsNull:
			conditions = append(conditions, col+" IS NULL")
		case structs.OpIsNotNull:
			conditions = append(conditions, col+" IS NOT NULL")
		case structs.OpIsEmpty:
			conditions = append(conditions, fmt.Sprintf("(%s = '' OR %s IS NULL)", col, col))
		case structs.OpIsNotEmpty:
			conditions = append(conditions, fmt.Sprintf("(%s != '' AND %s IS NOT NULL)", col, col))
		}
	}

	return strings.Join(conditions, " AND "), params, nil
}

func comparisonSymbol(op structs.Operator) string {
	switch op {
	case structs.OpEquals:
		return "="
	case structs.OpNotEquals:
		return "!="
	case structs.OpGt:
		return ">"
	case structs.OpGte:
		return ">="
	case structs.OpLt:
		return "<"
	case structs.OpLte:
		return "<="
	}
	return ""
}

// CompileMetricFilters compiles post-aggregation predicates against metric
// aggregate expressions. Structurally identical to CompileFilters but the
// fragment is only legal in a HAVING position, and the operator set is
// restricted to numeric comparisons.
func CompileMetricFilters(reg *Registry, predicates []structs.MetricFilterPredicate, table string, metricCtx structs.MetricContext, paramPrefix string) (string, map[string]any, error) {
	if len(predicates) == 0 {
		return "", map[string]any{}, nil
	}

	conditions := make([]string, 0, len(predicates))
	params := make(map[string]any, len(predicates))

	for i, p := range predicates {
		m, err := reg.MetricFor(p.Metric, table)
		if err != nil {
			return "", nil, err
		}

		expr := m.Expr(metricCtx)
		name := fmt.Sprintf("%s%d", paramPrefix, i)

		switch p.Operator {
		case structs.OpGt, structs.OpGte, structs.OpLt, structs.OpLte:
			if len(p.Values) != 1 {
				return "", nil, structs.NewQueryError(structs.ErrInvalidFilter, p.Metric)
			}
			params[name] = p.Values[0]
			conditions = append(conditions, fmt.Sprintf("%s %s {%s:Float64}", expr, comparisonSymbol(p.Operator), name))

		case structs.OpBetween:
			if len(p.Values) != 2 {
				return "", nil, structs.NewQueryError(structs.ErrInvalidFilter, p.Metric)
			}
			params[name+"a"] = p.Values[0]
			params[name+"b"] = p.Values[1]
			conditions = append(conditions, fmt.Sprintf("%s BETWEEN {%sa:Float64} AND {%sb:Float64}", expr, name, name))

		default:
			return "", nil, structs.NewQueryError(structs.ErrInvalidFilter, p.Metric)
		}
	}

	return strings.Join(conditions, " AND "), params, nil
}
