package mirror

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/telemetry"
)

// sourcedClient pairs a protocol client with its metrics/log label.
type sourcedClient struct {
	client Client
	source string
}

// FallbackClient tries each configured mirror in order and returns the first
// non-empty result. Individual mirror failures are logged and skipped; the
// composite never returns an error to its caller, only an empty result when
// every mirror failed or came back empty.
type FallbackClient struct {
	clients []sourcedClient
	logger  *slog.Logger
}

// NewFallbackClient wraps the given clients in configured order.
func NewFallbackClient(clients []sourcedClient, logger *slog.Logger) *FallbackClient {
	return &FallbackClient{clients: clients, logger: logger}
}

func observe(source, operation, outcome string, start time.Time) {
	telemetry.MirrorRequestsTotal.WithLabelValues(source, operation, outcome).Inc()
	telemetry.MirrorRequestDuration.Observe(time.Since(start).Seconds())
}

// ListPackageVersions returns the first mirror's non-empty version list.
func (f *FallbackClient) ListPackageVersions(ctx context.Context, id string) ([]string, error) {
	for _, sc := range f.clients {
		start := time.Now()
		versions, err := sc.client.ListPackageVersions(ctx, id)
		if err != nil {
			observe(sc.source, "list_versions", "error", start)
			f.logger.Warn("mirror failed to list versions",
				"source", sc.source, "package_id", id, "error", err)
			continue
		}
		if len(versions) == 0 {
			observe(sc.source, "list_versions", "miss", start)
			continue
		}
		observe(sc.source, "list_versions", "hit", start)
		return versions, nil
	}
	return []string{}, nil
}

// ListPackages returns the first mirror's non-empty metadata listing.
func (f *FallbackClient) ListPackages(ctx context.Context, id string) ([]*models.Package, error) {
	for _, sc := range f.clients {
		start := time.Now()
		packages, err := sc.client.ListPackages(ctx, id)
		if err != nil {
			observe(sc.source, "list_packages", "error", start)
			f.logger.Warn("mirror failed to list packages",
				"source", sc.source, "package_id", id, "error", err)
			continue
		}
		if len(packages) == 0 {
			observe(sc.source, "list_packages", "miss", start)
			continue
		}
		observe(sc.source, "list_packages", "hit", start)
		return packages, nil
	}
	return []*models.Package{}, nil
}

// DownloadPackage returns the first mirror's non-nil archive stream.
func (f *FallbackClient) DownloadPackage(ctx context.Context, id, version string) (io.ReadCloser, error) {
	for _, sc := range f.clients {
		start := time.Now()
		content, err := sc.client.DownloadPackage(ctx, id, version)
		if err != nil {
			observe(sc.source, "download", "error", start)
			f.logger.Warn("mirror failed to download package",
				"source", sc.source, "package_id", id, "version", version, "error", err)
			continue
		}
		if content == nil {
			observe(sc.source, "download", "miss", start)
			continue
		}
		observe(sc.source, "download", "hit", start)
		return content, nil
	}
	return nil, nil
}
