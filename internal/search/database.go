package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/db/repositories"
	"github.com/nuget-registry/nuget-registry/internal/frameworks"
	"github.com/nuget-registry/nuget-registry/internal/urls"
	"github.com/nuget-registry/nuget-registry/internal/versioning"
)

// Catalog is the slice of the package repository the search engine consumes.
type Catalog interface {
	DistinctIDs(ctx context.Context, f repositories.SearchFilters, order repositories.SearchOrder, skip, take int) ([]string, error)
	StreamCandidates(ctx context.Context, f repositories.SearchFilters, order repositories.SearchOrder, fn func(repositories.FilterCandidate) bool) error
	FindByIDsFiltered(ctx context.Context, ids []string, f repositories.SearchFilters) ([]*models.Package, error)
	FindDependents(ctx context.Context, packageID string, limit int) ([]repositories.Dependent, error)
}

// Request carries the parameters of one search or autocomplete call.
type Request struct {
	Query             string
	Skip              int
	Take              int
	IncludePrerelease bool
	IncludeSemVer2    bool
	PackageType       string
	Framework         string
}

// Service executes parsed search queries against the catalog store.
type Service struct {
	catalog Catalog
	urls    *urls.Builder
	logger  *slog.Logger
}

// NewService creates a search service.
func NewService(catalog Catalog, urlBuilder *urls.Builder, logger *slog.Logger) *Service {
	return &Service{catalog: catalog, urls: urlBuilder, logger: logger}
}

func (s *Service) filters(q Query, req Request) repositories.SearchFilters {
	return repositories.SearchFilters{
		TextQuery:         q.Text,
		IncludePrerelease: req.IncludePrerelease,
		IncludeSemVer2:    req.IncludeSemVer2,
		PackageType:       req.PackageType,
		Frameworks:        frameworks.CompatibleMonikers(req.Framework),
	}
}

// Search runs a full package search and returns one result per matching id,
// each summarizing its latest matching version.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	q := ParseQuery(req.Query)
	f := s.filters(q, req)

	ids, err := s.selectIDs(ctx, q, f, repositories.OrderByID, req.Skip, req.Take)
	if err != nil {
		return nil, fmt.Errorf("search id selection failed: %w", err)
	}

	// Re-fetch every matching version of the selected ids. The page rows alone
	// would misreport a package's latest version and download total whenever
	// other versions matched the filters.
	packages, err := s.catalog.FindByIDsFiltered(ctx, ids, f)
	if err != nil {
		return nil, fmt.Errorf("search version fetch failed: %w", err)
	}

	byID := make(map[string][]*models.Package)
	for _, p := range packages {
		key := strings.ToLower(p.PackageID)
		byID[key] = append(byID[key], p)
	}

	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		versions := byID[strings.ToLower(id)]
		if len(versions) == 0 {
			continue
		}
		results = append(results, s.buildResult(versions))
	}

	return &Response{TotalHits: int64(len(results)), Data: results}, nil
}

// Autocomplete returns matching package ids ordered by download count. The
// framework parameter does not apply here: id completion is not scoped to a
// target framework.
func (s *Service) Autocomplete(ctx context.Context, req Request) (*AutocompleteResponse, error) {
	q := ParseQuery(req.Query)
	f := s.filters(q, req)
	f.Frameworks = nil

	ids, err := s.selectIDs(ctx, q, f, repositories.OrderByDownloads, req.Skip, req.Take)
	if err != nil {
		return nil, fmt.Errorf("autocomplete id selection failed: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}

	return &AutocompleteResponse{TotalHits: int64(len(ids)), Data: ids}, nil
}

// Dependents returns packages that declare a dependency on packageID.
func (s *Service) Dependents(ctx context.Context, packageID string, limit int) (*DependentsResponse, error) {
	rows, err := s.catalog.FindDependents(ctx, packageID, limit)
	if err != nil {
		return nil, fmt.Errorf("dependents query failed: %w", err)
	}

	data := make([]DependentResult, len(rows))
	for i, row := range rows {
		d := DependentResult{ID: row.PackageID, TotalDownloads: row.TotalDownloads}
		if row.Description != nil {
			d.Description = *row.Description
		}
		data[i] = d
	}
	return &DependentsResponse{TotalHits: int64(len(data)), Data: data}, nil
}

// selectIDs picks one page of package ids. Without tag/author clauses the
// store pages directly over distinct ids. With clauses, "all tags present" and
// "author substring" cannot be pushed into the store, so candidates are
// streamed in the same deterministic order and skip/take are counted against
// post-filter matches.
func (s *Service) selectIDs(ctx context.Context, q Query, f repositories.SearchFilters, order repositories.SearchOrder, skip, take int) ([]string, error) {
	if take <= 0 {
		return nil, nil
	}
	if !q.HasClauses() {
		return s.catalog.DistinctIDs(ctx, f, order, skip, take)
	}

	var ids []string
	seen := map[string]bool{}
	matched := 0
	err := s.catalog.StreamCandidates(ctx, f, order, func(c repositories.FilterCandidate) bool {
		key := strings.ToLower(c.PackageID)
		if seen[key] {
			return true
		}
		seen[key] = true

		candidate := models.Package{Tags: c.Tags, Authors: c.Authors}
		if !candidate.HasAllTags(q.Tags) || !candidate.HasAllAuthors(q.Authors) {
			return true
		}
		matched++
		if matched <= skip {
			return true
		}
		ids = append(ids, c.PackageID)
		return len(ids) < take
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// buildResult projects all matching versions of one id into a search result.
// versions is non-empty.
func (s *Service) buildResult(versions []*models.Package) Result {
	latest := versions[0]
	latestParsed := parsedOrNil(s.logger, latest)
	var totalDownloads int64
	resultVersions := make([]ResultVersion, 0, len(versions))

	for _, p := range versions {
		totalDownloads += p.Downloads
		resultVersions = append(resultVersions, ResultVersion{
			LeafURL:   s.urls.RegistrationLeaf(p.PackageID, p.NormalizedVersion),
			Version:   p.Version,
			Downloads: p.Downloads,
		})
		if parsed := parsedOrNil(s.logger, p); parsed != nil && (latestParsed == nil || latestParsed.Less(parsed)) {
			latest = p
			latestParsed = parsed
		}
	}

	result := Result{
		RegistrationURL: s.urls.RegistrationIndex(latest.PackageID),
		ID:              latest.PackageID,
		Version:         latest.Version,
		Authors:         latest.Authors,
		Registration:    s.urls.RegistrationIndex(latest.PackageID),
		Tags:            latest.Tags,
		TotalDownloads:  totalDownloads,
		Versions:        resultVersions,
	}
	if latest.Description != nil {
		result.Description = *latest.Description
	}
	if latest.Summary != nil {
		result.Summary = *latest.Summary
	}
	if latest.Title != nil {
		result.Title = *latest.Title
	}
	if latest.ProjectURL != nil {
		result.ProjectURL = *latest.ProjectURL
	}
	if latest.LicenseURL != nil {
		result.LicenseURL = *latest.LicenseURL
	}
	if latest.HasEmbeddedIcon {
		result.IconURL = s.urls.PackageIcon(latest.PackageID, latest.NormalizedVersion)
	} else if latest.IconURL != nil {
		result.IconURL = *latest.IconURL
	}
	for _, pt := range latest.PackageTypes {
		result.PackageTypes = append(result.PackageTypes, ResultType{Name: pt.Name})
	}
	return result
}

func parsedOrNil(logger *slog.Logger, p *models.Package) *versioning.Version {
	v, err := versioning.Parse(p.NormalizedVersion)
	if err != nil {
		if logger != nil {
			logger.Warn("catalog row carries unparsable version",
				"package_id", p.PackageID,
				"version", p.NormalizedVersion)
		}
		return nil
	}
	return v
}
