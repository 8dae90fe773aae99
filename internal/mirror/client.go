// Package mirror implements clients for fetching packages from upstream NuGet
// registries on local cache miss. It speaks both the modern V3 protocol
// (service discovery via index.json, then flat-container and registration
// resources) and the legacy V2 OData protocol, and composes multiple
// configured sources into an ordered fallback chain.
//
// Two separate HTTP clients are used per source — one for API calls
// (30-second timeout) and one for package downloads (10-minute timeout). API
// calls should fail quickly if the upstream is misconfigured or unreachable,
// while archive downloads legitimately take minutes on slow links.
package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
)

// Client is the upstream surface consulted on cache miss. Implementations
// return empty lists and nil readers for unknown packages; errors are
// reserved for transport and protocol failures.
type Client interface {
	// ListPackageVersions returns every known version of a package id,
	// normalized, or an empty slice when the id is unknown upstream.
	ListPackageVersions(ctx context.Context, id string) ([]string, error)

	// ListPackages returns the metadata of every version of a package id.
	ListPackages(ctx context.Context, id string) ([]*models.Package, error)

	// DownloadPackage returns the package archive, or nil when the version
	// does not exist upstream.
	DownloadPackage(ctx context.Context, id, version string) (io.ReadCloser, error)
}

// DisabledClient is the no-op client used when no mirrors are configured.
type DisabledClient struct{}

func (DisabledClient) ListPackageVersions(context.Context, string) ([]string, error) {
	return []string{}, nil
}

func (DisabledClient) ListPackages(context.Context, string) ([]*models.Package, error) {
	return []*models.Package{}, nil
}

func (DisabledClient) DownloadPackage(context.Context, string, string) (io.ReadCloser, error) {
	return nil, nil
}

// AuthType selects how a mirror authenticates against its upstream.
type AuthType string

const (
	AuthNone          AuthType = ""
	AuthBasic         AuthType = "basic"
	AuthBearer        AuthType = "bearer"
	AuthCustomHeaders AuthType = "custom-headers"
)

// AuthConfig carries one mirror's upstream credentials.
type AuthConfig struct {
	Type          AuthType          `mapstructure:"type"`
	Username      string            `mapstructure:"username"`
	Password      string            `mapstructure:"password"`
	Token         string            `mapstructure:"token"`
	CustomHeaders map[string]string `mapstructure:"custom_headers"`
}

// SourceConfig describes one configured upstream mirror.
type SourceConfig struct {
	Enabled          bool       `mapstructure:"enabled"`
	Legacy           bool       `mapstructure:"legacy"`
	PackageSourceURL string     `mapstructure:"package_source_url"`
	Auth             AuthConfig `mapstructure:"auth"`
}

// Validate checks that the source points at a usable registry URL.
func (c SourceConfig) Validate() error {
	if c.PackageSourceURL == "" {
		return fmt.Errorf("package source URL cannot be empty")
	}
	parsed, err := url.Parse(c.PackageSourceURL)
	if err != nil {
		return fmt.Errorf("invalid package source URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("package source URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("package source URL must have a host")
	}
	return nil
}

// sourceHost is the metrics label for this source.
func (c SourceConfig) sourceHost() string {
	parsed, err := url.Parse(c.PackageSourceURL)
	if err != nil || parsed.Host == "" {
		return "invalid"
	}
	return parsed.Host
}

// authTransport attaches a mirror's credentials to every outgoing request.
// Credentials are fixed at construction time, before any request is issued.
type authTransport struct {
	base http.RoundTripper
	auth AuthConfig
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	switch t.auth.Type {
	case AuthBasic:
		req.SetBasicAuth(t.auth.Username, t.auth.Password)
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+t.auth.Token)
	case AuthCustomHeaders:
		for name, value := range t.auth.CustomHeaders {
			req.Header.Set(name, value)
		}
	}
	return t.base.RoundTrip(req)
}

// newHTTPClients builds the API and download clients for one source.
func newHTTPClients(auth AuthConfig) (api, download *http.Client) {
	transport := http.RoundTripper(http.DefaultTransport)
	if auth.Type != AuthNone {
		transport = &authTransport{base: http.DefaultTransport, auth: auth}
	}
	api = &http.Client{Timeout: 30 * time.Second, Transport: transport}
	download = &http.Client{Timeout: 10 * time.Minute, Transport: transport}
	return api, download
}

// downloadWithRetry fetches a URL with exponential backoff on transient
// failures. A 404 is final and reported as a nil reader.
func downloadWithRetry(ctx context.Context, client *http.Client, fileURL string) (io.ReadCloser, error) {
	const maxRetries = 3
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		body, status, err := downloadOnce(ctx, client, fileURL)
		if err == nil {
			return body, nil
		}
		if status == http.StatusNotFound {
			return nil, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("download cancelled: %w", ctx.Err())
		}
		if attempt < maxRetries {
			backoff := time.Duration(1<<attempt) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("download cancelled during retry wait: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("download failed after %d attempts: %w", maxRetries, lastErr)
}

func downloadOnce(ctx context.Context, client *http.Client, fileURL string) (io.ReadCloser, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to download file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, resp.StatusCode, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	return resp.Body, resp.StatusCode, nil
}

func trimBase(baseURL string) string {
	return strings.TrimRight(baseURL, "/")
}
