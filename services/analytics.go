package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/luminastats/lumina-core/structs"
)

// Executor runs a built query against the column store
type Executor interface {
	Execute(ctx context.Context, query structs.BuiltQuery) ([]structs.Row, error)
}

// AnalyticsConfig carries the facade's tunables
type AnalyticsConfig struct {
	// DatabasePrefix is prepended to the workspace id to form the
	// per-tenant database name
	DatabasePrefix string

	// TTLLive applies to ranges that include today, TTLHistorical to fully
	// closed ranges
	TTLLive       time.Duration
	TTLHistorical time.Duration
}

// Analytics is the request facade: it resolves tenant settings, compiles
// queries, dedups identical concurrent requests, executes against the store
// and caches serialized responses.
type Analytics struct {
	registry *Registry
	resolver *DateResolver
	store    Executor
	cache    CacheStore
	tenants  TenantProvider
	config   AnalyticsConfig
	now      func() time.Time

	flight singleflight.Group

	// issued tracks cache keys written per workspace so invalidation can
	// delete them without a key scan
	mu     sync.Mutex
	issued map[string]map[string]struct{}
}

// NewAnalytics wires the facade. Pass a MemoryCache when Redis is not
// configured.
func NewAnalytics(registry *Registry, store Executor, cache CacheStore, tenants TenantProvider, config AnalyticsConfig) *Analytics {
	if config.DatabasePrefix == "" {
		config.DatabasePrefix = "analytics_"
	}
	if config.TTLLive == 0 {
		config.TTLLive = 5 * time.Minute
	}
	if config.TTLHistorical == 0 {
		config.TTLHistorical = 24 * time.Hour
	}
	return &Analytics{
		registry: registry,
		resolver: NewDateResolver(),
		store:    store,
		cache:    cache,
		tenants:  tenants,
		config:   config,
		now:      time.Now,
		issued:   make(map[string]map[string]struct{}),
	}
}

// databaseFor maps a workspace id onto its tenant database name. Dashes are
// folded to underscores so UUID-style ids form valid identifiers; anything
// else outside the identifier charset is rejected before SQL assembly.
func (a *Analytics) databaseFor(workspaceID string) (string, error) {
	database := a.config.DatabasePrefix + strings.ReplaceAll(workspaceID, "-", "_")
	if !safeIdentifierRegex.MatchString(database) {
		return "", structs.NewQueryError(structs.ErrInvalidWorkspace, "workspace_id")
	}
	return database, nil
}

func (a *Analytics) tenantSettings(ctx context.Context, workspaceID string) (string, *time.Location, structs.MetricContext, error) {
	timezone, err := a.tenants.Timezone(ctx, workspaceID)
	if err != nil {
		return "", nil, structs.MetricContext{}, fmt.Errorf("resolving workspace timezone: %w", err)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return "", nil, structs.MetricContext{}, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	metricCtx, err := a.tenants.MetricContext(ctx, workspaceID)
	if err != nil {
		return "", nil, structs.MetricContext{}, fmt.Errorf("resolving workspace metric context: %w", err)
	}
	return timezone, loc, metricCtx, nil
}

// Query compiles and runs an analytics query for one workspace. Identical
// concurrent requests collapse into a single store execution; results are
// cached with a TTL that depends on whether the range is still accumulating.
func (a *Analytics) Query(ctx context.Context, workspaceID string, q *structs.AnalyticsQuery) (*structs.AnalyticsResponse, error) {
	database, err := a.databaseFor(workspaceID)
	if err != nil {
		return nil, err
	}
	timezone, loc, metricCtx, err := a.tenantSettings(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	rng, err := a.resolver.Resolve(q.DateRange, loc)
	if err != nil {
		return nil, err
	}
	var compare *structs.ResolvedRange
	if q.CompareDateRange != nil {
		resolved, err := a.resolver.ResolveCompare(q.DateRange, *q.CompareDateRange, loc)
		if err != nil {
			return nil, err
		}
		compare = &resolved
	}

	key := cacheKey(workspaceID, Fingerprint(workspaceID, timezone, q, rng, compare))

	if !q.Refresh {
		if cached, err := a.cache.Get(ctx, key); err != nil {
			log.Printf("cache read failed for %s: %v", key, err)
		} else if cached != nil {
			var response structs.AnalyticsResponse
			if err := json.Unmarshal(cached, &response); err == nil {
				return &response, nil
			}
			log.Printf("discarding undecodable cache entry %s", key)
		}
	}

	result, err, _ := a.flight.Do(key, func() (any, error) {
		return a.runQuery(ctx, workspaceID, key, database, timezone, metricCtx, q, rng, compare)
	})
	if err != nil {
		return nil, err
	}
	return result.(*structs.AnalyticsResponse), nil
}

func (a *Analytics) runQuery(ctx context.Context, workspaceID, key, database, timezone string, metricCtx structs.MetricContext, q *structs.AnalyticsQuery, rng structs.ResolvedRange, compare *structs.ResolvedRange) (*structs.AnalyticsResponse, error) {
	current, err := BuildQuery(a.registry, database, q, rng, timezone, metricCtx)
	if err != nil {
		return nil, err
	}
	if len(current.TotalsFallback) > 0 {
		log.Printf("filtered totals used generic sum fallback for metrics %v", current.TotalsFallback)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	var currentRows, previousRows []structs.Row

	group.Go(func() error {
		rows, err := a.store.Execute(groupCtx, current)
		if err != nil {
			return err
		}
		currentRows = rows
		return nil
	})
	if compare != nil {
		previous, err := BuildQuery(a.registry, database, q, *compare, timezone, metricCtx)
		if err != nil {
			return nil, err
		}
		group.Go(func() error {
			rows, err := a.store.Execute(groupCtx, previous)
			if err != nil {
				return err
			}
			previousRows = rows
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if q.DateRange.Granularity != "" && len(q.TotalsGroupBy) == 0 {
		bucket := bucketAlias(q.DateRange.Granularity)
		currentRows = FillGaps(currentRows, q.DateRange.Granularity, bucket, rng, q.Metrics, q.Dimensions)
		if compare != nil {
			previousRows = FillGaps(previousRows, q.DateRange.Granularity, bucket, *compare, q.Metrics, q.Dimensions)
		}
	}

	meta := structs.ResponseMeta{
		Table:        q.Table,
		Metrics:      q.Metrics,
		Dimensions:   q.Dimensions,
		Granularity:  q.DateRange.Granularity,
		DateRange:    rng,
		CompareRange: compare,
		Timezone:     timezone,
		RowCount:     len(currentRows),
	}
	response := &structs.AnalyticsResponse{Meta: meta, Query: &current}
	if compare != nil {
		response.Data = structs.ResponseData{Compared: true, Current: currentRows, Previous: previousRows}
	} else {
		response.Data = structs.ResponseData{Rows: currentRows}
	}

	a.storeInCache(ctx, workspaceID, key, response, rng, compare)
	return response, nil
}

func (a *Analytics) storeInCache(ctx context.Context, workspaceID, key string, response *structs.AnalyticsResponse, rng structs.ResolvedRange, compare *structs.ResolvedRange) {
	encoded, err := json.Marshal(response)
	if err != nil {
		log.Printf("encoding response for cache failed: %v", err)
		return
	}
	end := rng.End
	if compare != nil && compare.End.After(end) {
		end = compare.End
	}
	ttl := cacheTTL(end, a.now().In(end.Location()), a.config.TTLLive, a.config.TTLHistorical)
	if err := a.cache.Set(ctx, key, encoded, ttl); err != nil {
		log.Printf("cache write failed for %s: %v", key, err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.issued[workspaceID] == nil {
		a.issued[workspaceID] = make(map[string]struct{})
	}
	a.issued[workspaceID][key] = struct{}{}
}

// Extremes compiles and runs an extremes query. Extremes responses are small
// and cheap to produce, so they bypass the cache.
func (a *Analytics) Extremes(ctx context.Context, workspaceID string, q *structs.ExtremesQuery) (*structs.ExtremesResponse, error) {
	database, err := a.databaseFor(workspaceID)
	if err != nil {
		return nil, err
	}
	timezone, loc, metricCtx, err := a.tenantSettings(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	rng, err := a.resolver.Resolve(q.DateRange, loc)
	if err != nil {
		return nil, err
	}

	built, err := BuildExtremes(a.registry, database, q, rng, metricCtx)
	if err != nil {
		return nil, err
	}
	rows, err := a.store.Execute(ctx, built)
	if err != nil {
		return nil, err
	}

	response := &structs.ExtremesResponse{
		Meta: structs.ResponseMeta{
			Table:      q.Table,
			Metrics:    []string{q.Metric},
			Dimensions: q.Dimensions,
			DateRange:  rng,
			Timezone:   timezone,
			RowCount:   len(rows),
		},
		Query: &built,
	}
	if len(rows) == 0 {
		return response, nil
	}

	row := rows[0]
	response.Min = toFloat64(row["min_value"])
	response.Max = toFloat64(row["max_value"])
	response.MaxDimensions = make(map[string]string, len(q.Dimensions))
	for _, dim := range q.Dimensions {
		if value, ok := row[dim]; ok {
			response.MaxDimensions[dim] = fmt.Sprintf("%v", value)
		}
	}
	return response, nil
}

// Metrics lists the metric catalog, optionally restricted to one table
func (a *Analytics) Metrics(table string) ([]structs.MetricDefinition, error) {
	if table != "" {
		if _, err := a.registry.Table(table); err != nil {
			return nil, err
		}
	}
	return a.registry.ListMetrics(table), nil
}

// Dimensions lists the dimension catalog, optionally restricted to one table
func (a *Analytics) Dimensions(table string) ([]structs.DimensionDefinition, error) {
	if table != "" {
		if _, err := a.registry.Table(table); err != nil {
			return nil, err
		}
	}
	return a.registry.ListDimensions(table), nil
}

// InvalidateWorkspace drops every cache entry issued for a workspace. Called
// when the ingestion side signals that the workspace's data changed.
func (a *Analytics) InvalidateWorkspace(ctx context.Context, workspaceID string) {
	a.mu.Lock()
	tracked := a.issued[workspaceID]
	delete(a.issued, workspaceID)
	a.mu.Unlock()

	if len(tracked) == 0 {
		return
	}
	keys := make([]string, 0, len(tracked))
	for key := range tracked {
		keys = append(keys, key)
	}
	if err := a.cache.Del(ctx, keys...); err != nil {
		log.Printf("cache invalidation for workspace %s failed: %v", workspaceID, err)
		return
	}
	log.Printf("invalidated %d cache entries for workspace %s", len(keys), workspaceID)
}

func cacheKey(workspaceID, fingerprint string) string {
	return "analytics:q:" + workspaceID + ":" + fingerprint
}

func toFloat64(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case uint32:
		return float64(v)
	}
	return 0
}
