package packages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/db/repositories"
	"github.com/nuget-registry/nuget-registry/internal/retention"
	"github.com/nuget-registry/nuget-registry/internal/search"
	"github.com/nuget-registry/nuget-registry/internal/telemetry"
	"github.com/nuget-registry/nuget-registry/internal/versioning"
	"github.com/nuget-registry/nuget-registry/pkg/checksum"
)

// IndexResult is the outcome of one push.
type IndexResult int

const (
	// IndexInvalidPackage means the content could not be read as a package.
	// No side effects occurred.
	IndexInvalidPackage IndexResult = iota
	// IndexPackageAlreadyExists means the version exists and the overwrite
	// policy forbade replacing it. No side effects occurred.
	IndexPackageAlreadyExists
	// IndexSuccess means the version is now in the catalog.
	IndexSuccess
)

func (r IndexResult) String() string {
	switch r {
	case IndexInvalidPackage:
		return "invalid"
	case IndexPackageAlreadyExists:
		return "already_exists"
	case IndexSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// OverwritePolicy controls whether re-pushing an existing listed version
// replaces it. Unlisted versions are always replaceable.
type OverwritePolicy string

const (
	OverwriteForbid         OverwritePolicy = "forbid"
	OverwriteAllow          OverwritePolicy = "allow"
	OverwritePrereleaseOnly OverwritePolicy = "prerelease-only"
)

// Catalog is the repository surface the pipeline writes through.
type Catalog interface {
	FindByIDVersion(ctx context.Context, packageID, normalizedVersion string) (*models.Package, error)
	FindByID(ctx context.Context, packageID string, includeUnlisted bool) ([]*models.Package, error)
	Create(ctx context.Context, p *models.Package) error
	HardDelete(ctx context.Context, packageID, normalizedVersion string) (bool, error)
}

// IndexerOptions configures pipeline behavior.
type IndexerOptions struct {
	Overwrite      OverwritePolicy
	MaxPackageSize int64
	Retention      retention.Options
}

// Indexer is the package indexing pipeline: it validates uploaded content,
// applies the overwrite policy, persists metadata and content, feeds the
// search indexer, and prunes versions the retention policy rejects.
type Indexer struct {
	catalog Catalog
	store   *ContentStore
	search  search.Indexer
	opts    IndexerOptions
	logger  *slog.Logger
}

// NewIndexer creates an indexing pipeline.
func NewIndexer(catalog Catalog, store *ContentStore, searchIndexer search.Indexer, opts IndexerOptions, logger *slog.Logger) *Indexer {
	if searchIndexer == nil {
		searchIndexer = search.NullIndexer{}
	}
	if opts.Overwrite == "" {
		opts.Overwrite = OverwriteForbid
	}
	return &Indexer{catalog: catalog, store: store, search: searchIndexer, opts: opts, logger: logger}
}

// Index runs the pipeline for one uploaded package stream. The boolean
// outcomes (invalid, already exists) come back as IndexResult with a nil
// error; a non-nil error reports an internal failure with no partial state
// left behind.
func (ix *Indexer) Index(ctx context.Context, content io.Reader) (IndexResult, error) {
	parsed, err := ParseNupkg(content, ix.opts.MaxPackageSize)
	if err != nil {
		if errors.Is(err, ErrInvalidPackage) {
			ix.logger.Info("rejected invalid package upload", "error", err)
			telemetry.PackagePushesTotal.WithLabelValues(IndexInvalidPackage.String()).Inc()
			return IndexInvalidPackage, nil
		}
		return IndexInvalidPackage, err
	}

	result, err := ix.index(ctx, parsed)
	if err != nil {
		return result, err
	}
	telemetry.PackagePushesTotal.WithLabelValues(result.String()).Inc()
	return result, nil
}

// IndexParsed runs the pipeline for an already-parsed package. The mirror
// service uses this to admit upstream downloads as if they were local pushes.
func (ix *Indexer) IndexParsed(ctx context.Context, parsed *Parsed) (IndexResult, error) {
	result, err := ix.index(ctx, parsed)
	if err != nil {
		return result, err
	}
	telemetry.PackagePushesTotal.WithLabelValues(result.String()).Inc()
	return result, nil
}

func (ix *Indexer) index(ctx context.Context, parsed *Parsed) (IndexResult, error) {
	pkg := parsed.Package
	logger := ix.logger.With("package_id", pkg.PackageID, "version", pkg.NormalizedVersion)

	existing, err := ix.catalog.FindByIDVersion(ctx, pkg.PackageID, pkg.NormalizedVersion)
	if err != nil {
		return IndexInvalidPackage, fmt.Errorf("existence check failed: %w", err)
	}
	if existing != nil {
		if !ix.replaceable(existing, pkg) {
			logger.Info("rejected duplicate package push")
			return IndexPackageAlreadyExists, nil
		}
		if err := ix.remove(ctx, existing.PackageID, existing.NormalizedVersion); err != nil {
			return IndexPackageAlreadyExists, fmt.Errorf("failed to replace existing version: %w", err)
		}
		logger.Info("replaced existing package version", "was_listed", existing.Listed)
	}

	// Content coordinates go in with the INSERT; the repository has no
	// update path for these columns.
	pkg.StoragePath = NupkgPath(pkg.PackageID, pkg.NormalizedVersion)
	sum, err := checksum.CalculateSHA256(bytes.NewReader(parsed.Nupkg))
	if err != nil {
		return IndexInvalidPackage, fmt.Errorf("failed to hash package content: %w", err)
	}
	pkg.Checksum = sum

	// Metadata first. The unique index on (id, version) makes this the
	// serialization point for concurrent pushes of the same version.
	if err := ix.catalog.Create(ctx, pkg); err != nil {
		if errors.Is(err, repositories.ErrDuplicatePackage) {
			logger.Info("lost push race for package version")
			return IndexPackageAlreadyExists, nil
		}
		return IndexInvalidPackage, fmt.Errorf("failed to persist package metadata: %w", err)
	}

	if _, err := ix.store.Save(ctx, parsed); err != nil {
		// The metadata row must not outlive its content. Roll it back so a
		// retry starts clean.
		if _, delErr := ix.catalog.HardDelete(ctx, pkg.PackageID, pkg.NormalizedVersion); delErr != nil {
			logger.Error("failed to roll back metadata after storage failure", "error", delErr)
		}
		return IndexInvalidPackage, fmt.Errorf("failed to store package content: %w", err)
	}

	if err := ix.search.Index(ctx, pkg); err != nil {
		logger.Error("search indexer rejected package", "error", err)
	}

	ix.prune(ctx, pkg.PackageID, logger)

	logger.Info("indexed package", "size_bytes", pkg.SizeBytes)
	return IndexSuccess, nil
}

// replaceable decides whether an existing row may be deleted and re-pushed.
func (ix *Indexer) replaceable(existing, incoming *models.Package) bool {
	if !existing.Listed {
		return true
	}
	switch ix.opts.Overwrite {
	case OverwriteAllow:
		return true
	case OverwritePrereleaseOnly:
		return incoming.IsPrerelease
	default:
		return false
	}
}

// remove hard-deletes one version, content first so a failure cannot leave
// metadata pointing at missing content.
func (ix *Indexer) remove(ctx context.Context, id, version string) error {
	if err := ix.store.Delete(ctx, id, version); err != nil {
		return err
	}
	if _, err := ix.catalog.HardDelete(ctx, id, version); err != nil {
		return err
	}
	return nil
}

// prune applies the retention policy over the id's full version history.
// Failures are logged and swallowed: a successful push is never undone by a
// retention error.
func (ix *Indexer) prune(ctx context.Context, packageID string, logger *slog.Logger) {
	if !ix.opts.Retention.Enabled() {
		return
	}

	rows, err := ix.catalog.FindByID(ctx, packageID, true)
	if err != nil {
		logger.Error("retention skipped: version history unavailable", "error", err)
		return
	}

	byNormalized := make(map[string]*models.Package, len(rows))
	history := make([]*versioning.Version, 0, len(rows))
	for _, row := range rows {
		v, err := versioning.Parse(row.NormalizedVersion)
		if err != nil {
			logger.Warn("retention skipped unparsable version", "version", row.NormalizedVersion)
			continue
		}
		byNormalized[v.Normalized()] = row
		history = append(history, v)
	}

	for _, doomed := range retention.Plan(history, ix.opts.Retention) {
		row := byNormalized[doomed.Normalized()]
		if row == nil {
			continue
		}
		if err := ix.remove(ctx, row.PackageID, row.NormalizedVersion); err != nil {
			logger.Error("retention failed to prune version",
				"version", row.NormalizedVersion, "error", err)
			continue
		}
		telemetry.RetentionPrunedTotal.Inc()
		logger.Info("retention pruned version", "version", row.NormalizedVersion)
	}
}
