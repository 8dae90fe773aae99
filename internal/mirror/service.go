package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/packages"
)

type localCatalog interface {
	FindByIDVersion(ctx context.Context, packageID, normalizedVersion string) (*models.Package, error)
	FindByID(ctx context.Context, packageID string, includeUnlisted bool) ([]*models.Package, error)
}

type admitter interface {
	IndexParsed(ctx context.Context, parsed *packages.Parsed) (packages.IndexResult, error)
}

// Service answers read requests from the local catalog and falls back to the
// upstream chain on miss. Downloaded packages are fed through the indexing
// pipeline as if they were local pushes, so subsequent reads are local.
type Service struct {
	catalog  localCatalog
	upstream Client
	indexer  admitter
	maxSize  int64
	logger   *slog.Logger
}

// NewService creates a mirror read-through service. maxSize bounds how much
// of an upstream archive is buffered during admission; 0 means unbounded.
func NewService(catalog localCatalog, upstream Client, indexer admitter, maxSize int64, logger *slog.Logger) *Service {
	return &Service{catalog: catalog, upstream: upstream, indexer: indexer, maxSize: maxSize, logger: logger}
}

// EnsurePackage makes one version locally available, admitting it from
// upstream when missing. Returns false when the version exists neither
// locally nor upstream.
func (s *Service) EnsurePackage(ctx context.Context, id, version string) (bool, error) {
	existing, err := s.catalog.FindByIDVersion(ctx, id, version)
	if err != nil {
		return false, fmt.Errorf("local lookup failed: %w", err)
	}
	if existing != nil {
		return true, nil
	}

	content, err := s.upstream.DownloadPackage(ctx, id, version)
	if err != nil {
		return false, fmt.Errorf("upstream download failed: %w", err)
	}
	if content == nil {
		return false, nil
	}
	defer content.Close()

	parsed, err := packages.ParseNupkg(content, s.maxSize)
	if err != nil {
		return false, fmt.Errorf("upstream package unreadable: %w", err)
	}

	result, err := s.indexer.IndexParsed(ctx, parsed)
	if err != nil {
		return false, fmt.Errorf("failed to admit upstream package: %w", err)
	}
	switch result {
	case packages.IndexSuccess:
		s.logger.Info("admitted package from upstream", "package_id", id, "version", version)
		return true, nil
	case packages.IndexPackageAlreadyExists:
		// A concurrent request admitted it first.
		return true, nil
	default:
		return false, fmt.Errorf("upstream package rejected by indexing pipeline")
	}
}

// ListVersions returns a package's locally known versions, consulting
// upstream only when the id is unknown locally.
func (s *Service) ListVersions(ctx context.Context, id string, includeUnlisted bool) ([]string, error) {
	local, err := s.catalog.FindByID(ctx, id, includeUnlisted)
	if err != nil {
		return nil, fmt.Errorf("local lookup failed: %w", err)
	}
	if len(local) > 0 {
		versions := make([]string, len(local))
		for i, p := range local {
			versions[i] = p.NormalizedVersion
		}
		return versions, nil
	}
	return s.upstream.ListPackageVersions(ctx, id)
}

// ListMetadata returns a package's version metadata, consulting upstream only
// when the id is unknown locally. Upstream rows are not admitted into the
// catalog; metadata reads are cheap enough to stay remote until a download
// forces admission.
func (s *Service) ListMetadata(ctx context.Context, id string, includeUnlisted bool) ([]*models.Package, error) {
	local, err := s.catalog.FindByID(ctx, id, includeUnlisted)
	if err != nil {
		return nil, fmt.Errorf("local lookup failed: %w", err)
	}
	if len(local) > 0 {
		return local, nil
	}
	return s.upstream.ListPackages(ctx, id)
}
