package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/versioning"
)

// Resource types announced in a V3 service index. Multiple versioned aliases
// exist in the wild; prefix matching keeps the client compatible across them.
const (
	resourcePackageBaseAddress = "PackageBaseAddress/3.0.0"
	resourceRegistrationsBase  = "RegistrationsBaseUrl"
)

// V3Client speaks the modern NuGet protocol: service discovery through the
// source's index.json, version enumeration through the flat container, and
// metadata through the registration resource.
type V3Client struct {
	serviceIndexURL string
	apiClient       *http.Client
	downloadClient  *http.Client

	mu        sync.Mutex
	endpoints *v3Endpoints
}

type v3Endpoints struct {
	flatContainer string
	registrations string
}

// NewV3Client creates a client for one V3 package source. sourceURL is the
// service index address, e.g. https://api.nuget.org/v3/index.json.
func NewV3Client(cfg SourceConfig) *V3Client {
	api, download := newHTTPClients(cfg.Auth)
	return &V3Client{
		serviceIndexURL: trimBase(cfg.PackageSourceURL),
		apiClient:       api,
		downloadClient:  download,
	}
}

type serviceIndex struct {
	Resources []struct {
		ID   string `json:"@id"`
		Type string `json:"@type"`
	} `json:"resources"`
}

// discover fetches and caches the source's resource endpoints.
func (c *V3Client) discover(ctx context.Context) (*v3Endpoints, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endpoints != nil {
		return c.endpoints, nil
	}

	var index serviceIndex
	if err := c.getJSON(ctx, c.serviceIndexURL, &index); err != nil {
		return nil, fmt.Errorf("service discovery failed: %w", err)
	}

	endpoints := &v3Endpoints{}
	for _, r := range index.Resources {
		switch {
		case r.Type == resourcePackageBaseAddress && endpoints.flatContainer == "":
			endpoints.flatContainer = trimBase(r.ID)
		case strings.HasPrefix(r.Type, resourceRegistrationsBase) && endpoints.registrations == "":
			endpoints.registrations = trimBase(r.ID)
		}
	}
	if endpoints.flatContainer == "" || endpoints.registrations == "" {
		return nil, fmt.Errorf("service index at %s is missing required resources", c.serviceIndexURL)
	}

	c.endpoints = endpoints
	return endpoints, nil
}

func (c *V3Client) getJSON(ctx context.Context, requestURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request to %s failed with status %d: %s", requestURL, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", requestURL, err)
	}
	return nil
}

var errNotFound = fmt.Errorf("not found upstream")

// ListPackageVersions enumerates a package's versions through the flat
// container. An unknown id yields an empty slice.
func (c *V3Client) ListPackageVersions(ctx context.Context, id string) ([]string, error) {
	endpoints, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	var index struct {
		Versions []string `json:"versions"`
	}
	requestURL := fmt.Sprintf("%s/%s/index.json", endpoints.flatContainer, strings.ToLower(id))
	if err := c.getJSON(ctx, requestURL, &index); err != nil {
		if err == errNotFound {
			return []string{}, nil
		}
		return nil, err
	}
	return index.Versions, nil
}

// v3Registration mirrors the registration index and page documents.
type v3Registration struct {
	Pages []v3RegistrationPage `json:"items"`
}

type v3RegistrationPage struct {
	URL   string                  `json:"@id"`
	Items []v3RegistrationLeaf    `json:"items"`
}

type v3RegistrationLeaf struct {
	Entry v3CatalogEntry `json:"catalogEntry"`
}

type v3CatalogEntry struct {
	ID               string    `json:"id"`
	Version          string    `json:"version"`
	Authors          string    `json:"authors"`
	Description      string    `json:"description"`
	IconURL          string    `json:"iconUrl"`
	Language         string    `json:"language"`
	LicenseURL       string    `json:"licenseUrl"`
	Listed           *bool     `json:"listed"`
	MinClientVersion string    `json:"minClientVersion"`
	ProjectURL       string    `json:"projectUrl"`
	Published        time.Time `json:"published"`
	RequireLicense   bool      `json:"requireLicenseAcceptance"`
	Summary          string    `json:"summary"`
	Tags             []string  `json:"tags"`
	Title            string    `json:"title"`
	DependencyGroups []struct {
		TargetFramework string `json:"targetFramework"`
		Dependencies    []struct {
			ID    string `json:"id"`
			Range string `json:"range"`
		} `json:"dependencies"`
	} `json:"dependencyGroups"`
}

// ListPackages fetches the metadata of every version of a package id. Pages
// without inlined items are fetched individually.
func (c *V3Client) ListPackages(ctx context.Context, id string) ([]*models.Package, error) {
	endpoints, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	var index v3Registration
	requestURL := fmt.Sprintf("%s/%s/index.json", endpoints.registrations, strings.ToLower(id))
	if err := c.getJSON(ctx, requestURL, &index); err != nil {
		if err == errNotFound {
			return []*models.Package{}, nil
		}
		return nil, err
	}

	var packages []*models.Package
	for _, page := range index.Pages {
		items := page.Items
		if items == nil {
			var fetched v3RegistrationPage
			if err := c.getJSON(ctx, page.URL, &fetched); err != nil {
				return nil, fmt.Errorf("failed to fetch registration page: %w", err)
			}
			items = fetched.Items
		}
		for _, leaf := range items {
			if pkg := packageFromCatalogEntry(&leaf.Entry); pkg != nil {
				packages = append(packages, pkg)
			}
		}
	}
	return packages, nil
}

// DownloadPackage fetches the archive through the flat container. Returns nil
// when the version does not exist upstream.
func (c *V3Client) DownloadPackage(ctx context.Context, id, version string) (io.ReadCloser, error) {
	endpoints, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	id = strings.ToLower(id)
	version = strings.ToLower(version)
	fileURL := fmt.Sprintf("%s/%s/%s/%s.%s.nupkg", endpoints.flatContainer, id, version, id, version)
	return downloadWithRetry(ctx, c.downloadClient, fileURL)
}

// packageFromCatalogEntry maps one upstream catalog entry into a catalog row.
// Entries with unparsable versions are skipped; an upstream's bad data must
// not break the whole listing.
func packageFromCatalogEntry(entry *v3CatalogEntry) *models.Package {
	v, err := versioning.Parse(entry.Version)
	if err != nil {
		return nil
	}

	listed := true
	if entry.Listed != nil {
		listed = *entry.Listed
	}

	pkg := &models.Package{
		PackageID:         entry.ID,
		Version:           v.Full(),
		NormalizedVersion: v.Normalized(),
		Listed:            listed,
		Published:         entry.Published,
		IsPrerelease:      v.IsPrerelease(),
		SemVerLevel:       int(v.Level()),
		Authors:           splitAuthors(entry.Authors),
		Tags:              entry.Tags,

		RequireLicenseAcceptance: entry.RequireLicense,
	}

	pkg.Title = optionalString(entry.Title)
	pkg.Summary = optionalString(entry.Summary)
	pkg.Description = optionalString(entry.Description)
	pkg.Language = optionalString(entry.Language)
	pkg.MinClientVersion = optionalString(entry.MinClientVersion)
	pkg.IconURL = optionalString(entry.IconURL)
	pkg.LicenseURL = optionalString(entry.LicenseURL)
	pkg.ProjectURL = optionalString(entry.ProjectURL)

	for _, group := range entry.DependencyGroups {
		framework := strings.ToLower(strings.TrimSpace(group.TargetFramework))
		if len(group.Dependencies) == 0 {
			pkg.Dependencies = append(pkg.Dependencies, models.Dependency{TargetFramework: framework})
			continue
		}
		for _, dep := range group.Dependencies {
			depID := dep.ID
			if depID == "" {
				continue
			}
			row := models.Dependency{DependencyID: &depID, TargetFramework: framework}
			if dep.Range != "" {
				rng := dep.Range
				row.VersionRange = &rng
			}
			pkg.Dependencies = append(pkg.Dependencies, row)
		}
		if framework != "" {
			pkg.TargetFrameworks = appendUnique(pkg.TargetFrameworks, framework)
		}
	}

	return pkg
}

func splitAuthors(raw string) []string {
	var authors []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			authors = append(authors, trimmed)
		}
	}
	return authors
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
