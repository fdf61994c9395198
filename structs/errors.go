package structs

import "fmt"

// ErrorKind classifies validation failures so callers can distinguish
// "doesn't exist" from "exists but wrong table" and map kinds to status codes
type ErrorKind string

const (
	ErrUnknownMetric                 ErrorKind = "unknown_metric"
	ErrUnknownDimension              ErrorKind = "unknown_dimension"
	ErrUnknownTable                  ErrorKind = "unknown_table"
	ErrMetricNotAvailableForTable    ErrorKind = "metric_not_available_for_table"
	ErrDimensionNotAvailableForTable ErrorKind = "dimension_not_available_for_table"
	ErrUnknownOrderField             ErrorKind = "unknown_order_field"
	ErrUnknownPreset                 ErrorKind = "unknown_preset"
	ErrInvalidDateRange              ErrorKind = "invalid_date_range"
	ErrInvalidFilter                 ErrorKind = "invalid_filter"
	ErrInvalidWorkspace              ErrorKind = "invalid_workspace"
	ErrMissingDimensions             ErrorKind = "missing_dimensions"
)

// QueryError is a client-fault validation error carrying the offending field.
// All QueryErrors are detected before any SQL is issued.
type QueryError struct {
	Kind  ErrorKind
	Field string
}

func (e *QueryError) Error() string {
	if e.Field == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Field)
}

// NewQueryError builds a QueryError for the given kind and field
func NewQueryError(kind ErrorKind, field string) *QueryError {
	return &QueryError{Kind: kind, Field: field}
}

// StoreError is a server-fault error wrapping a store execution failure,
// carrying the generating sql/params for diagnosis
type StoreError struct {
	SQL    string
	Params map[string]any
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store execution failed: %v", e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
