package packages

import (
	"context"
	"fmt"
	"log/slog"
)

// DeletionBehavior selects what a DELETE request does to a package version.
type DeletionBehavior string

const (
	// DeletionUnlist hides the version from listings but keeps it
	// installable, matching nuget.org semantics.
	DeletionUnlist DeletionBehavior = "unlist"
	// DeletionHardDelete removes the version's metadata and content.
	DeletionHardDelete DeletionBehavior = "hard-delete"
)

type listingCatalog interface {
	SetListed(ctx context.Context, packageID, normalizedVersion string, listed bool) (bool, error)
	HardDelete(ctx context.Context, packageID, normalizedVersion string) (bool, error)
}

// Deleter applies the configured deletion behavior to package versions.
type Deleter struct {
	catalog  listingCatalog
	store    *ContentStore
	behavior DeletionBehavior
	logger   *slog.Logger
}

// NewDeleter creates a deleter. An unset behavior defaults to unlisting.
func NewDeleter(catalog listingCatalog, store *ContentStore, behavior DeletionBehavior, logger *slog.Logger) *Deleter {
	if behavior == "" {
		behavior = DeletionUnlist
	}
	return &Deleter{catalog: catalog, store: store, behavior: behavior, logger: logger}
}

// Delete applies the configured behavior to one version. Returns false when
// the version does not exist.
func (d *Deleter) Delete(ctx context.Context, packageID, normalizedVersion string) (bool, error) {
	if d.behavior == DeletionHardDelete {
		found, err := d.catalog.HardDelete(ctx, packageID, normalizedVersion)
		if err != nil || !found {
			return found, err
		}
		if err := d.store.Delete(ctx, packageID, normalizedVersion); err != nil {
			return true, fmt.Errorf("metadata removed but content deletion failed: %w", err)
		}
		d.logger.Info("hard-deleted package version", "package_id", packageID, "version", normalizedVersion)
		return true, nil
	}

	found, err := d.catalog.SetListed(ctx, packageID, normalizedVersion, false)
	if err == nil && found {
		d.logger.Info("unlisted package version", "package_id", packageID, "version", normalizedVersion)
	}
	return found, err
}

// Relist restores an unlisted version to default listings.
func (d *Deleter) Relist(ctx context.Context, packageID, normalizedVersion string) (bool, error) {
	found, err := d.catalog.SetListed(ctx, packageID, normalizedVersion, true)
	if err == nil && found {
		d.logger.Info("relisted package version", "package_id", packageID, "version", normalizedVersion)
	}
	return found, err
}
