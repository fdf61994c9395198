package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/gorilla/mux"
	"github.com/luminastats/lumina-core/db"
	"github.com/luminastats/lumina-core/env"
	"github.com/luminastats/lumina-core/middleware"
	"github.com/luminastats/lumina-core/routes"
	"github.com/luminastats/lumina-core/services"
	"github.com/luminastats/lumina-core/structs"
	"github.com/rs/cors"
)

func main() {
	// Validate configuration
	if env.APIKey == "" {
		log.Println("WARNING: API_KEY is not set, authentication is disabled")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Connect to ClickHouse
	store, err := db.Connect(ctx, env.ClickHouseAddr, env.ClickHouseDatabase, env.ClickHouseUsername, env.ClickHousePassword)
	if err != nil {
		log.Fatalf("❌ failed to connect to ClickHouse: %v", err)
	}
	defer store.Close()

	// Connect to Redis; fall back to in-process caching when unavailable
	var cache services.CacheStore
	redisCache, err := db.NewRedisCache(ctx, env.RedisAddr, env.RedisPassword, env.RedisDB)
	if err != nil {
		log.Printf("WARNING: redis unavailable, using in-process cache: %v", err)
		cache = services.NewMemoryCache()
	} else {
		defer redisCache.Close()
		cache = redisCache
	}

	// Wire the analytics engine
	tenants := &services.StaticTenantProvider{
		DefaultTimezone: env.DefaultTimezone,
		Context: structs.MetricContext{
			BounceThresholdSeconds: env.BounceThresholdSeconds,
		},
	}
	engine := services.NewAnalytics(services.NewRegistry(), store, cache, tenants, services.AnalyticsConfig{
		DatabasePrefix: env.DatabasePrefix,
		TTLLive:        env.CacheTTLLive,
		TTLHistorical:  env.CacheTTLHistorical,
	})
	routes.Engine = engine
	routes.Store = store

	// Listen for cache invalidation events from the ingestion side
	if redisCache != nil {
		go redisCache.SubscribeInvalidations(ctx, env.InvalidationChannel, func(workspaceID string) {
			engine.InvalidateWorkspace(ctx, workspaceID)
		})
	}

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware)

	r.HandleFunc("/health", routes.HealthHandler).Methods(http.MethodGet)

	// V1 API routes (with auth middleware)
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(middleware.AuthMiddleware)

	v1.HandleFunc("/query", routes.QueryHandler).Methods(http.MethodPost)
	v1.HandleFunc("/extremes", routes.ExtremesHandler).Methods(http.MethodPost)
	v1.HandleFunc("/metrics", routes.MetricsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/dimensions", routes.DimensionsHandler).Methods(http.MethodGet)

	// CORS Middleware
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedHeaders:   []string{"X-Requested-With", "Content-Type", "Origin", "Authorization", "Accept", "X-Api-Key", "X-Workspace-Id"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	})

	// Launch Server
	fmt.Printf("✅ lumina-core running on port %s\n", env.Port)
	fmt.Println()

	server := &http.Server{
		Addr:         ":" + env.Port,
		Handler:      corsMiddleware.Handler(r),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("shutting down...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	cancel()
	log.Println("shutdown complete")
}
