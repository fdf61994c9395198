package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/luminastats/lumina-core/structs"
)

// CacheStore is the generic cache consumed by the facade. Get returns nil
// on a miss.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// fingerprintPayload collects every query-affecting field. The order map is
// flattened to sorted pairs so the JSON encoding is deterministic.
type fingerprintPayload struct {
	Workspace         string                          `json:"workspace"`
	Timezone          string                          `json:"timezone"`
	Table             string                          `json:"table"`
	Metrics           []string                        `json:"metrics"`
	Dimensions        []string                        `json:"dimensions"`
	Filters           []structs.FilterPredicate       `json:"filters"`
	MetricFilters     []structs.MetricFilterPredicate `json:"metric_filters"`
	Start             int64                           `json:"start"`
	End               int64                           `json:"end"`
	CompareStart      int64                           `json:"compare_start,omitempty"`
	CompareEnd        int64                           `json:"compare_end,omitempty"`
	Granularity       structs.Granularity             `json:"granularity"`
	Order             [][2]string                     `json:"order"`
	Limit             int                             `json:"limit"`
	HavingMinSessions int                             `json:"having_min_sessions"`
	TotalsGroupBy     []string                        `json:"totals_group_by"`
}

// Fingerprint computes the deterministic cache/dedup key material for a
// request. Ranges enter resolved, not as presets, so a preset that resolves
// to different bounds on different days never aliases a stale entry.
func Fingerprint(workspace, timezone string, q *structs.AnalyticsQuery, rng structs.ResolvedRange, compare *structs.ResolvedRange) string {
	payload := fingerprintPayload{
		Workspace:         workspace,
		Timezone:          timezone,
		Table:             q.Table,
		Metrics:           q.Metrics,
		Dimensions:        q.Dimensions,
		Filters:           q.Filters,
		MetricFilters:     q.MetricFilters,
		Start:             rng.Start.Unix(),
		End:               rng.End.Unix(),
		Granularity:       q.DateRange.Granularity,
		Limit:             q.Limit,
		HavingMinSessions: q.HavingMinSessions,
		TotalsGroupBy:     q.TotalsGroupBy,
	}
	if compare != nil {
		payload.CompareStart = compare.Start.Unix()
		payload.CompareEnd = compare.End.Unix()
	}
	for _, key := range sortedOrderKeys(q.Order) {
		payload.Order = append(payload.Order, [2]string{key, q.Order[key]})
	}

	encoded, _ := json.Marshal(payload)
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// cacheTTL picks the entry lifetime: ranges that include or end on/after
// today in the request's timezone are still accumulating data and get the
// short TTL; fully historical ranges are immutable and get the long one.
func cacheTTL(end, now time.Time, live, historical time.Duration) time.Duration {
	if end.Before(startOfDay(now)) {
		return historical
	}
	return live
}

// memoryEntry is a cached value with its expiry
type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is an in-process CacheStore. Used in tests and in deployments
// that run without Redis.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if c.now().After(entry.expires) {
		delete(c.entries, key)
		return nil, nil
	}
	return entry.value, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}
