package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/luminastats/lumina-core/responder"
	"github.com/luminastats/lumina-core/services"
	"github.com/luminastats/lumina-core/structs"
)

// maxRequestBodySize limits request body to 1MB
const maxRequestBodySize = 1 << 20

// Engine is the analytics facade, wired in main
var Engine *services.Analytics

// Pinger reports store connectivity for the health endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is the health-check handle, wired in main
var Store Pinger

// QueryHandler handles POST /v1/query requests
func QueryHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	workspaceID := r.Header.Get("X-Workspace-Id")
	if workspaceID == "" {
		responder.Error(w, http.StatusBadRequest, "X-Workspace-Id header is required")
		return
	}

	var query structs.AnalyticsQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		if err == io.EOF {
			responder.Error(w, http.StatusBadRequest, "request body is required")
			return
		}
		responder.Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := Engine.Query(r.Context(), workspaceID, &query)
	if err != nil {
		respondQueryError(w, "failed to execute analytics query", err)
		return
	}

	responder.New(w, result)
}

// ExtremesHandler handles POST /v1/extremes requests
func ExtremesHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	workspaceID := r.Header.Get("X-Workspace-Id")
	if workspaceID == "" {
		responder.Error(w, http.StatusBadRequest, "X-Workspace-Id header is required")
		return
	}

	var query structs.ExtremesQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		if err == io.EOF {
			responder.Error(w, http.StatusBadRequest, "request body is required")
			return
		}
		responder.Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := Engine.Extremes(r.Context(), workspaceID, &query)
	if err != nil {
		respondQueryError(w, "failed to execute extremes query", err)
		return
	}

	responder.New(w, result)
}

// MetricsHandler handles GET /v1/metrics requests, optionally filtered by
// ?table=
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics, err := Engine.Metrics(r.URL.Query().Get("table"))
	if err != nil {
		respondQueryError(w, "failed to list metrics", err)
		return
	}
	responder.New(w, metrics)
}

// DimensionsHandler handles GET /v1/dimensions requests, optionally
// filtered by ?table=
func DimensionsHandler(w http.ResponseWriter, r *http.Request) {
	dimensions, err := Engine.Dimensions(r.URL.Query().Get("table"))
	if err != nil {
		respondQueryError(w, "failed to list dimensions", err)
		return
	}
	responder.New(w, dimensions)
}

// HealthHandler handles GET /health requests
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := Store.Ping(ctx); err != nil {
		responder.ErrorWithCause(w, http.StatusServiceUnavailable, "clickhouse unreachable", err)
		return
	}
	responder.New(w, map[string]string{"status": "ok"})
}

// respondQueryError maps validation failures to 400 and everything else,
// including store failures, to 500
func respondQueryError(w http.ResponseWriter, message string, err error) {
	var queryErr *structs.QueryError
	if errors.As(err, &queryErr) {
		responder.Error(w, http.StatusBadRequest, queryErr.Error())
		return
	}
	responder.ErrorWithCause(w, http.StatusInternalServerError, message, err)
}
