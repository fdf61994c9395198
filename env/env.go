package env

import (
	"os"
	"strconv"
	"time"
)

var (
	Port               = getEnv("HTTP_PORT", "8080")
	ClickHouseAddr     = getEnv("CLICKHOUSE_ADDR", "localhost:9000")
	ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "analytics")
	ClickHouseUsername = getEnv("CLICKHOUSE_USERNAME", "default")
	ClickHousePassword = getEnv("CLICKHOUSE_PASSWORD", "")
	RedisAddr          = getEnv("REDIS_ADDR", "localhost:6379")
	RedisPassword      = getEnv("REDIS_PASSWORD", "")
	RedisDB            = getEnvInt("REDIS_DB", 0)
	APIKey             = getEnv("API_KEY", "")

	// DatabasePrefix scopes each workspace to its own ClickHouse database
	DatabasePrefix = getEnv("DATABASE_PREFIX", "analytics_")

	// Cache TTLs: ranges touching today get the live TTL, fully historical
	// ranges get the long one
	CacheTTLLive       = getEnvDuration("CACHE_TTL_LIVE", 5*time.Minute)
	CacheTTLHistorical = getEnvDuration("CACHE_TTL_HISTORICAL", 24*time.Hour)

	InvalidationChannel = getEnv("INVALIDATION_CHANNEL", "analytics:invalidate")

	DefaultTimezone        = getEnv("DEFAULT_TIMEZONE", "UTC")
	BounceThresholdSeconds = getEnvInt("BOUNCE_THRESHOLD_SECONDS", 10)
)

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
