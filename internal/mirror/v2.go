package mirror

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/versioning"
)

// LegacyClient speaks the V2 OData protocol used by older package sources:
// FindPackagesById for enumeration and /package/{id}/{version} for download.
type LegacyClient struct {
	baseURL        string
	apiClient      *http.Client
	downloadClient *http.Client
}

// NewLegacyClient creates a client for one V2 package source. sourceURL is
// the feed root, e.g. https://legacy.example.com/nuget.
func NewLegacyClient(cfg SourceConfig) *LegacyClient {
	api, download := newHTTPClients(cfg.Auth)
	return &LegacyClient{
		baseURL:        trimBase(cfg.PackageSourceURL),
		apiClient:      api,
		downloadClient: download,
	}
}

// v2Feed mirrors the Atom feed FindPackagesById returns. Only the properties
// the catalog stores are mapped.
type v2Feed struct {
	XMLName xml.Name  `xml:"feed"`
	Entries []v2Entry `xml:"entry"`
}

type v2Entry struct {
	Title  string `xml:"title"`
	Author struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Properties struct {
		ID                       string `xml:"Id"`
		Version                  string `xml:"Version"`
		Description              string `xml:"Description"`
		IconURL                  string `xml:"IconUrl"`
		LicenseURL               string `xml:"LicenseUrl"`
		ProjectURL               string `xml:"ProjectUrl"`
		Published                string `xml:"Published"`
		RequireLicenseAcceptance bool   `xml:"RequireLicenseAcceptance"`
		Summary                  string `xml:"Summary"`
		Tags                     string `xml:"Tags"`
		// Dependencies is the flattened OData form:
		// "id:versionRange:targetFramework|..." with an empty id marking a
		// framework group with zero dependencies.
		Dependencies string `xml:"Dependencies"`
	} `xml:"properties"`
}

func (c *LegacyClient) fetchFeed(ctx context.Context, id string) (*v2Feed, error) {
	requestURL := fmt.Sprintf("%s/FindPackagesById()?id=%s",
		c.baseURL, url.QueryEscape(fmt.Sprintf("'%s'", id)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed request: %w", err)
	}

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &v2Feed{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var feed v2Feed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to decode feed: %w", err)
	}
	return &feed, nil
}

// ListPackageVersions enumerates a package's versions from the OData feed.
func (c *LegacyClient) ListPackageVersions(ctx context.Context, id string) ([]string, error) {
	feed, err := c.fetchFeed(ctx, id)
	if err != nil {
		return nil, err
	}

	versions := []string{}
	for _, entry := range feed.Entries {
		if v, err := versioning.Parse(entry.Properties.Version); err == nil {
			versions = append(versions, v.Normalized())
		}
	}
	return versions, nil
}

// ListPackages fetches the metadata of every version of a package id.
func (c *LegacyClient) ListPackages(ctx context.Context, id string) ([]*models.Package, error) {
	feed, err := c.fetchFeed(ctx, id)
	if err != nil {
		return nil, err
	}

	packages := []*models.Package{}
	for i := range feed.Entries {
		if pkg := packageFromV2Entry(&feed.Entries[i], id); pkg != nil {
			packages = append(packages, pkg)
		}
	}
	return packages, nil
}

// DownloadPackage fetches the archive from the V2 download endpoint. Returns
// nil when the version does not exist upstream.
func (c *LegacyClient) DownloadPackage(ctx context.Context, id, version string) (io.ReadCloser, error) {
	fileURL := fmt.Sprintf("%s/package/%s/%s",
		c.baseURL, url.PathEscape(strings.ToLower(id)), url.PathEscape(strings.ToLower(version)))
	return downloadWithRetry(ctx, c.downloadClient, fileURL)
}

func packageFromV2Entry(entry *v2Entry, fallbackID string) *models.Package {
	props := &entry.Properties

	v, err := versioning.Parse(props.Version)
	if err != nil {
		return nil
	}

	id := props.ID
	if id == "" {
		id = entry.Title
	}
	if id == "" {
		id = fallbackID
	}

	pkg := &models.Package{
		PackageID:         id,
		Version:           v.Full(),
		NormalizedVersion: v.Normalized(),
		Listed:            true,
		IsPrerelease:      v.IsPrerelease(),
		SemVerLevel:       int(v.Level()),
		Authors:           splitAuthors(entry.Author.Name),
		Tags:              strings.Fields(props.Tags),

		RequireLicenseAcceptance: props.RequireLicenseAcceptance,
	}
	if published, err := time.Parse(time.RFC3339, props.Published); err == nil {
		pkg.Published = published
	}

	pkg.Summary = optionalString(props.Summary)
	pkg.Description = optionalString(props.Description)
	pkg.IconURL = optionalString(props.IconURL)
	pkg.LicenseURL = optionalString(props.LicenseURL)
	pkg.ProjectURL = optionalString(props.ProjectURL)

	pkg.Dependencies = parseV2Dependencies(props.Dependencies)
	for _, dep := range pkg.Dependencies {
		if dep.TargetFramework != "" {
			pkg.TargetFrameworks = appendUnique(pkg.TargetFrameworks, dep.TargetFramework)
		}
	}

	return pkg
}

// parseV2Dependencies unpacks the flattened "id:range:framework|..." form. An
// empty id with a framework becomes a sentinel row, matching how empty
// dependency groups are stored for locally pushed packages.
func parseV2Dependencies(raw string) []models.Dependency {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var deps []models.Dependency
	for _, part := range strings.Split(raw, "|") {
		fields := strings.SplitN(part, ":", 3)
		id := strings.TrimSpace(fields[0])

		var versionRange, framework string
		if len(fields) > 1 {
			versionRange = strings.TrimSpace(fields[1])
		}
		if len(fields) > 2 {
			framework = strings.ToLower(strings.TrimSpace(fields[2]))
		}

		if id == "" {
			if framework != "" {
				deps = append(deps, models.Dependency{TargetFramework: framework})
			}
			continue
		}

		row := models.Dependency{DependencyID: &id, TargetFramework: framework}
		if versionRange != "" {
			row.VersionRange = &versionRange
		}
		deps = append(deps, row)
	}
	return deps
}
