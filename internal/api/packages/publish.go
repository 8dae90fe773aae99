// Package packages implements the registry's package HTTP endpoints: publish
// and delete under /api/v2/package, and the read-side content, registration,
// and search resources under /v3/. Read endpoints are intentionally
// unauthenticated — restoring builds must resolve packages without
// credentials. Write access is gated by the push key middleware mounted in
// the router.
package packages

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nuget-registry/nuget-registry/internal/packages"
)

// PushHandler handles package uploads.
// Implements: PUT /api/v2/package
//
// The NuGet client sends the nupkg as the "package" part of a multipart form;
// some clients send it as the raw request body instead. Both are accepted.
func PushHandler(indexer *packages.Indexer) gin.HandlerFunc {
	return func(c *gin.Context) {
		content, err := uploadStream(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Request did not contain package content",
			})
			return
		}
		defer content.Close()

		result, err := indexer.Index(c.Request.Context(), content)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to index package",
			})
			return
		}

		switch result {
		case packages.IndexSuccess:
			c.Status(http.StatusCreated)
		case packages.IndexPackageAlreadyExists:
			c.JSON(http.StatusConflict, gin.H{
				"error": "Package version already exists",
			})
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Package content is not a valid package",
			})
		}
	}
}

// uploadStream extracts the package content from a push request.
func uploadStream(c *gin.Context) (io.ReadCloser, error) {
	if file, err := c.FormFile("package"); err == nil {
		return file.Open()
	}
	if c.Request.Body == nil {
		return nil, http.ErrMissingFile
	}
	return c.Request.Body, nil
}

// DeleteHandler handles package version deletion.
// Implements: DELETE /api/v2/package/:id/:version
//
// Whether this unlists or permanently removes the version is decided by the
// configured deletion behavior, not by the request.
func DeleteHandler(deleter *packages.Deleter) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		version, ok := normalizedVersion(c.Param("version"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid version format",
			})
			return
		}

		found, err := deleter.Delete(c.Request.Context(), id, version)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to delete package version",
			})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Package version not found",
			})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// RelistHandler restores a previously unlisted version to listings.
// Implements: POST /api/v2/package/:id/:version/relist
func RelistHandler(deleter *packages.Deleter) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		version, ok := normalizedVersion(c.Param("version"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid version format",
			})
			return
		}

		found, err := deleter.Relist(c.Request.Context(), id, version)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to relist package version",
			})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Package version not found",
			})
			return
		}
		c.Status(http.StatusOK)
	}
}
