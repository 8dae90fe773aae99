// Package jobs holds the registry's background jobs.
//
// search_reindex.go implements the SearchReindexJob, which periodically walks
// the whole catalog and re-submits every package to the search indexer. With
// the default database-backed search this is a no-op pass; it exists so that
// an external search backend registered at composition time converges even
// when individual push-time submissions were lost.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/search"
	"github.com/nuget-registry/nuget-registry/internal/telemetry"
)

// reindexCatalog is the repository surface the reindex walk reads from.
type reindexCatalog interface {
	StreamAllIDs(ctx context.Context, fn func(string) bool) error
	FindByID(ctx context.Context, packageID string, includeUnlisted bool) ([]*models.Package, error)
}

// SearchReindexJob periodically feeds the full catalog to the search indexer.
type SearchReindexJob struct {
	catalog  reindexCatalog
	indexer  search.Indexer
	interval time.Duration
	logger   *slog.Logger
	stopChan chan struct{}
}

// NewSearchReindexJob creates a reindex job. A non-positive interval defaults
// to hourly.
func NewSearchReindexJob(catalog reindexCatalog, indexer search.Indexer, interval time.Duration, logger *slog.Logger) *SearchReindexJob {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SearchReindexJob{
		catalog:  catalog,
		indexer:  indexer,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the reindex loop. It blocks until Stop is called or the
// context is cancelled, so callers run it on its own goroutine.
func (j *SearchReindexJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("search reindex job started", "interval", j.interval)

	for {
		select {
		case <-ticker.C:
			j.runReindex(ctx)
		case <-j.stopChan:
			j.logger.Info("search reindex job stopped")
			return
		case <-ctx.Done():
			j.logger.Info("search reindex job context cancelled")
			return
		}
	}
}

// Stop stops the reindex loop.
func (j *SearchReindexJob) Stop() {
	close(j.stopChan)
}

// runReindex performs one full catalog pass.
func (j *SearchReindexJob) runReindex(ctx context.Context) {
	start := time.Now()
	var indexed, failed int

	err := j.catalog.StreamAllIDs(ctx, func(id string) bool {
		pkgs, err := j.catalog.FindByID(ctx, id, true)
		if err != nil {
			j.logger.Warn("reindex: failed to load package", "package_id", id, "error", err)
			failed++
			return ctx.Err() == nil
		}
		for _, p := range pkgs {
			if err := j.indexer.Index(ctx, p); err != nil {
				j.logger.Warn("reindex: failed to index package version",
					"package_id", p.PackageID, "version", p.NormalizedVersion, "error", err)
				failed++
				continue
			}
			indexed++
		}
		return ctx.Err() == nil
	})
	if err != nil {
		j.logger.Error("reindex: catalog walk failed", "error", err)
		return
	}

	telemetry.SearchReindexDuration.Observe(time.Since(start).Seconds())
	j.logger.Info("search reindex run complete",
		"indexed", indexed, "failed", failed, "duration", time.Since(start))
}
