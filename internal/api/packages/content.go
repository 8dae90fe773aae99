// content.go implements the flat-container resource: version lists and
// nupkg/nuspec/readme/icon downloads under /v3/package/.
package packages

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nuget-registry/nuget-registry/internal/mirror"
	"github.com/nuget-registry/nuget-registry/internal/packages"
	"github.com/nuget-registry/nuget-registry/internal/safego"
	"github.com/nuget-registry/nuget-registry/internal/storage"
	"github.com/nuget-registry/nuget-registry/internal/telemetry"
	"github.com/nuget-registry/nuget-registry/internal/versioning"
)

// signedURLTTL bounds how long a pre-signed cloud storage URL stays valid.
const signedURLTTL = 15 * time.Minute

// downloadCounter is the catalog surface for recording downloads.
type downloadCounter interface {
	AddDownload(ctx context.Context, packageID, normalizedVersion string) error
}

// normalizedVersion parses a version string from a URL segment into its
// normalized form. Catalog lookups key on normalized versions, so every
// handler goes through this before touching storage.
func normalizedVersion(raw string) (string, bool) {
	v, err := versioning.Parse(raw)
	if err != nil {
		return "", false
	}
	return v.Normalized(), true
}

// ListVersionsHandler handles the flat-container version list.
// Implements: GET /v3/package/:id/:item (item must be "index.json")
//
// The :item segment exists because the download route below occupies the same
// position in the route tree; anything other than index.json is unroutable.
func ListVersionsHandler(mirrorSvc *mirror.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("item") != "index.json" {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}

		versions, err := mirrorSvc.ListVersions(c.Request.Context(), c.Param("id"), true)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list package versions",
			})
			return
		}
		if len(versions) == 0 {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Package not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"versions": versions})
	}
}

// DownloadHandler serves package content files.
// Implements: GET /v3/package/:id/:item/:filename
//
// The :filename segment selects what is served:
//
//	<id>.<version>.nupkg  the package archive (counts as a download)
//	<id>.nuspec           the manifest
//	readme                the embedded readme
//	icon                  the embedded icon
//
// A nupkg request for a version the registry has never seen triggers
// read-through admission from the configured upstream mirrors.
func DownloadHandler(mirrorSvc *mirror.Service, catalog downloadCounter, store *packages.ContentStore, backend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.ToLower(c.Param("id"))
		version, ok := normalizedVersion(c.Param("item"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid version format"})
			return
		}
		version = strings.ToLower(version)

		switch filename := c.Param("filename"); filename {
		case fmt.Sprintf("%s.%s.nupkg", id, version):
			serveNupkg(c, mirrorSvc, catalog, store, backend, id, version)
		case fmt.Sprintf("%s.nuspec", id):
			serveContent(c, store.OpenNuspec, id, version, "application/xml")
		case "readme":
			serveContent(c, store.OpenReadme, id, version, "text/markdown")
		case "icon":
			serveContent(c, store.OpenIcon, id, version, "image/png")
		default:
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		}
	}
}

func serveNupkg(c *gin.Context, mirrorSvc *mirror.Service, catalog downloadCounter, store *packages.ContentStore, backend storage.Storage, id, version string) {
	found, err := mirrorSvc.EnsurePackage(c.Request.Context(), id, version)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to resolve package",
		})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Package version not found",
		})
		return
	}

	// Count the download off the request path so a slow catalog write
	// never delays the transfer.
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = catalog.AddDownload(ctx, id, version)
	})
	telemetry.PackageDownloadsTotal.Inc()

	// Cloud backends hand out pre-signed URLs so nupkg traffic bypasses
	// the registry. Anything else (relative /files paths, file:// URLs)
	// is streamed through this process instead.
	if url, err := backend.GetURL(c.Request.Context(), packages.NupkgPath(id, version), signedURLTTL); err == nil &&
		(strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")) {
		c.Redirect(http.StatusFound, url)
		return
	}

	reader, err := store.OpenNupkg(c.Request.Context(), id, version)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read package content",
		})
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.%s.nupkg", id, version))
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", reader, nil)
}

type contentOpener func(ctx context.Context, id, version string) (io.ReadCloser, error)

func serveContent(c *gin.Context, open contentOpener, id, version, contentType string) {
	reader, err := open(c.Request.Context(), id, version)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Not found",
		})
		return
	}
	defer reader.Close()

	c.DataFromReader(http.StatusOK, -1, contentType, reader, nil)
}

// ServeFileHandler streams files for the local storage backend when it is
// configured to serve directly.
// Implements: GET /files/*filepath
func ServeFileHandler(backend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		filePath := strings.TrimPrefix(c.Param("filepath"), "/")
		if filePath == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "File path is required",
			})
			return
		}

		meta, err := backend.GetMetadata(c.Request.Context(), filePath)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "File not found",
			})
			return
		}

		reader, err := backend.Download(c.Request.Context(), filePath)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to read file",
			})
			return
		}
		defer reader.Close()

		c.Header("X-Checksum-SHA256", meta.Checksum)
		c.DataFromReader(http.StatusOK, meta.Size, "application/octet-stream", reader, nil)
	}
}
