// Package api wires together all HTTP routes for the NuGet registry.
//
// Route grouping philosophy:
//   - V3 protocol routes (/v3/index.json, /v3/package/, /v3/registration/,
//     /v3/search) are intentionally unauthenticated. Restore clients resolve
//     and download packages without supplying credentials, so gating reads
//     would break `dotnet restore` against this feed.
//   - Publish routes (/api/v2/package) require the push key unless the
//     registry runs in open mode, and are disabled entirely in read-only
//     mode.
package api

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	packagesapi "github.com/nuget-registry/nuget-registry/internal/api/packages"
	"github.com/nuget-registry/nuget-registry/internal/auth"
	"github.com/nuget-registry/nuget-registry/internal/config"
	"github.com/nuget-registry/nuget-registry/internal/db/repositories"
	"github.com/nuget-registry/nuget-registry/internal/jobs"
	"github.com/nuget-registry/nuget-registry/internal/metadata"
	"github.com/nuget-registry/nuget-registry/internal/middleware"
	"github.com/nuget-registry/nuget-registry/internal/mirror"
	"github.com/nuget-registry/nuget-registry/internal/packages"
	"github.com/nuget-registry/nuget-registry/internal/safego"
	"github.com/nuget-registry/nuget-registry/internal/search"
	"github.com/nuget-registry/nuget-registry/internal/storage"
	"github.com/nuget-registry/nuget-registry/internal/urls"

	// Import storage backends to register them
	_ "github.com/nuget-registry/nuget-registry/internal/storage/azure"
	_ "github.com/nuget-registry/nuget-registry/internal/storage/gcs"
	_ "github.com/nuget-registry/nuget-registry/internal/storage/local"
	_ "github.com/nuget-registry/nuget-registry/internal/storage/s3"
)

// BackgroundServices holds references to background jobs and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	reindexJob   *jobs.SearchReindexJob
	rateLimiters []*middleware.RateLimiter
	redisClient  *redis.Client
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests are drained
// first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.reindexJob != nil {
		bg.reindexJob.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sqlx.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	logger := slog.Default()

	// Initialize storage backend
	storageBackend, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage backend: %v", err)
	}
	log.Printf("Initialized storage backend: %s", cfg.Storage.DefaultBackend)

	// Catalog repository and content store
	packageRepo := repositories.NewPackageRepository(db)
	contentStore := packages.NewContentStore(storageBackend)

	// Indexing pipeline and deleter
	indexer := packages.NewIndexer(packageRepo, contentStore, nil, packages.IndexerOptions{
		Overwrite:      packages.OverwritePolicy(cfg.Packages.Overwrite),
		MaxPackageSize: cfg.Packages.MaxPackageSize,
		Retention:      cfg.Retention,
	}, logger)
	deleter := packages.NewDeleter(packageRepo, contentStore,
		packages.DeletionBehavior(cfg.Packages.DeletionBehavior), logger)

	// Upstream mirror chain and read-through service
	upstream, err := mirror.Resolve(cfg.Mirrors, logger)
	if err != nil {
		log.Fatalf("Failed to initialize upstream mirrors: %v", err)
	}
	mirrorSvc := mirror.NewService(packageRepo, upstream, indexer, cfg.Packages.MaxPackageSize, logger)

	// Read-side services
	urlBuilder := urls.NewBuilder(cfg.Server.BaseURL)
	metadataBuilder := metadata.NewBuilder(urlBuilder, cfg.Registration.PageSize)
	searchSvc := search.NewService(packageRepo, urlBuilder, logger)

	// Push authentication
	creds := make([]auth.Credential, len(cfg.Auth.Credentials))
	for i, c := range cfg.Auth.Credentials {
		creds[i] = auth.Credential{Key: c.Key, KeyHash: c.KeyHash}
	}
	authenticator := auth.NewAuthenticator(cfg.Auth.APIKey, cfg.Auth.APIKeyHash, creds)
	if !authenticator.Required() {
		slog.Warn("no push key configured, the registry accepts unauthenticated pushes")
	}

	// Background search reindex
	reindexJob := jobs.NewSearchReindexJob(packageRepo, search.NullIndexer{}, cfg.Search.ReindexInterval, logger)
	safego.Go(func() { reindexJob.Start(context.Background()) })

	bg := &BackgroundServices{reindexJob: reindexJob}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Rate limiting, enforced through Redis when a store is configured so
	// the budget holds across replicas
	var pushLimit gin.HandlerFunc
	if cfg.Security.RateLimiting.Enabled {
		general, push := buildRateLimiters(cfg, bg)
		router.Use(middleware.RateLimitMiddleware(general))
		pushLimit = middleware.RateLimitMiddleware(push)
	}

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint (includes storage backend probe)
	router.GET("/ready", readinessHandler(db, storageBackend))

	// Service index (NuGet V3 protocol entry point)
	router.GET("/v3/index.json", serviceIndexHandler(urlBuilder))

	// Publish endpoints
	publish := router.Group("/api/v2/package")
	publish.Use(middleware.PushAuthMiddleware(authenticator))
	if cfg.Packages.ReadOnly {
		publish.Use(middleware.ReadOnlyMiddleware())
	}
	{
		pushHandlers := []gin.HandlerFunc{packagesapi.PushHandler(indexer)}
		if pushLimit != nil {
			// Pushes get a stricter budget than restore traffic
			pushHandlers = append([]gin.HandlerFunc{pushLimit}, pushHandlers...)
		}
		publish.PUT("", pushHandlers...)
		publish.DELETE("/:id/:version", packagesapi.DeleteHandler(deleter))
		publish.POST("/:id/:version/relist", packagesapi.RelistHandler(deleter))
	}

	// Flat-container content endpoints
	v3Package := router.Group("/v3/package")
	{
		v3Package.GET("/:id/:item", packagesapi.ListVersionsHandler(mirrorSvc))
		v3Package.GET("/:id/:item/:filename",
			packagesapi.DownloadHandler(mirrorSvc, packageRepo, contentStore, storageBackend))
	}

	// Registration (metadata) endpoints
	v3Registration := router.Group("/v3/registration")
	{
		v3Registration.GET("/:id/:item", packagesapi.RegistrationHandler(mirrorSvc, metadataBuilder))
		v3Registration.GET("/:id/:item/:lower/:upper",
			packagesapi.RegistrationPageHandler(mirrorSvc, metadataBuilder))
	}

	// Search endpoints
	router.GET("/v3/search", packagesapi.SearchHandler(searchSvc))
	router.GET("/v3/autocomplete", packagesapi.AutocompleteHandler(searchSvc, mirrorSvc))
	router.GET("/v3/dependents", packagesapi.DependentsHandler(searchSvc))

	// File serving endpoint for local storage with ServeDirectly enabled
	router.GET("/files/*filepath", packagesapi.ServeFileHandler(storageBackend))

	return router, bg
}

// buildRateLimiters constructs the general and push limiters, backed by Redis
// when security.rate_limiting.redis_url is set. Limiters with cleanup
// goroutines are registered on bg for shutdown.
func buildRateLimiters(cfg *config.Config, bg *BackgroundServices) (middleware.Limiter, middleware.Limiter) {
	generalCfg := middleware.RateLimitConfig{
		RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
		BurstSize:         cfg.Security.RateLimiting.Burst,
		CleanupInterval:   5 * time.Minute,
	}
	pushCfg := middleware.PushRateLimitConfig()

	if url := cfg.Security.RateLimiting.RedisURL; url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			log.Fatalf("Failed to parse rate limiting redis URL: %v", err)
		}
		client := redis.NewClient(opts)
		bg.redisClient = client
		log.Printf("Rate limiting backed by redis at %s", opts.Addr)
		return middleware.NewRedisRateLimiter(client, generalCfg),
			middleware.NewRedisRateLimiter(client, pushCfg)
	}

	general := middleware.NewRateLimiter(generalCfg)
	push := middleware.NewRateLimiter(pushCfg)
	bg.rateLimiters = append(bg.rateLimiters, general, push)
	return general, push
}

// serviceIndexHandler serves the V3 service index: the single document a
// NuGet client fetches to discover every other resource URL of this feed.
// Multiple versioned @type aliases are published for each resource so that
// both old and current clients match one they understand.
func serviceIndexHandler(u *urls.Builder) gin.HandlerFunc {
	type resource struct {
		ID      string `json:"@id"`
		Type    string `json:"@type"`
		Comment string `json:"comment,omitempty"`
	}

	return func(c *gin.Context) {
		resources := []resource{
			{ID: u.SearchQuery(), Type: "SearchQueryService"},
			{ID: u.SearchQuery(), Type: "SearchQueryService/3.0.0-beta"},
			{ID: u.SearchQuery(), Type: "SearchQueryService/3.0.0-rc"},
			{ID: u.Autocomplete(), Type: "SearchAutocompleteService"},
			{ID: u.Autocomplete(), Type: "SearchAutocompleteService/3.0.0-beta"},
			{ID: u.Autocomplete(), Type: "SearchAutocompleteService/3.0.0-rc"},
			{ID: u.RegistrationsBase(), Type: "RegistrationsBaseUrl"},
			{ID: u.RegistrationsBase(), Type: "RegistrationsBaseUrl/3.0.0-beta"},
			{ID: u.RegistrationsBase(), Type: "RegistrationsBaseUrl/3.0.0-rc"},
			{ID: u.RegistrationsBase(), Type: "RegistrationsBaseUrl/3.6.0"},
			{ID: u.PackageContentBase(), Type: "PackageBaseAddress/3.0.0"},
			{ID: u.PackagePublish(), Type: "PackagePublish/2.0.0"},
		}
		c.JSON(http.StatusOK, gin.H{
			"version":   "3.0.0",
			"resources": resources,
		})
	}
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the storage backend
// so that a Kubernetes readiness gate fails when uploads/downloads would
// error.
func readinessHandler(db *sqlx.DB, storageBackend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Check storage backend — probe with a known-absent sentinel path.
		// Exists() exercises authentication and network connectivity without
		// creating any state.
		if _, err := storageBackend.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// LoggerMiddleware provides structured request logging through slog.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-NuGet-ApiKey")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
