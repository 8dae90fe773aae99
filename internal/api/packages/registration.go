// registration.go implements the registration (package metadata) resource
// under /v3/registration/.
package packages

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/metadata"
	"github.com/nuget-registry/nuget-registry/internal/mirror"
)

// RegistrationHandler serves the registration index and leaf documents.
// Implements: GET /v3/registration/:id/:item
//
// item is either "index.json" (the full registration index) or
// "<version>.json" (one version's leaf document).
func RegistrationHandler(mirrorSvc *mirror.Service, builder *metadata.Builder) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		item := c.Param("item")

		if item == "index.json" {
			serveRegistrationIndex(c, mirrorSvc, builder, id)
			return
		}

		rawVersion, ok := strings.CutSuffix(item, ".json")
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		version, ok := normalizedVersion(rawVersion)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid version format"})
			return
		}

		pkgs, err := mirrorSvc.ListMetadata(c.Request.Context(), id, true)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load package metadata",
			})
			return
		}
		for _, p := range pkgs {
			if strings.EqualFold(p.NormalizedVersion, version) {
				c.JSON(http.StatusOK, builder.BuildLeaf(p))
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Package version not found"})
	}
}

// RegistrationPageHandler serves one registration page.
// Implements: GET /v3/registration/:id/:item/:lower/:upper
//
// item must be "page"; the trailing .json of the upper bound is part of the
// page URL format and is stripped here.
func RegistrationPageHandler(mirrorSvc *mirror.Service, builder *metadata.Builder) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("item") != "page" {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		id := c.Param("id")
		lower := c.Param("lower")
		upper := strings.TrimSuffix(c.Param("upper"), ".json")

		reg, err := loadRegistration(c, mirrorSvc, id)
		if err != nil {
			return
		}

		page := builder.BuildPage(reg, lower, upper)
		if page == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Page not found"})
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func serveRegistrationIndex(c *gin.Context, mirrorSvc *mirror.Service, builder *metadata.Builder, id string) {
	reg, err := loadRegistration(c, mirrorSvc, id)
	if err != nil {
		return
	}

	index := builder.BuildIndex(reg)
	if index == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Package not found"})
		return
	}
	c.JSON(http.StatusOK, index)
}

// loadRegistration assembles the registration grouping for one package id.
// On failure the response has already been written and a non-nil error is
// returned so callers just stop.
func loadRegistration(c *gin.Context, mirrorSvc *mirror.Service, id string) (*models.PackageRegistration, error) {
	pkgs, err := mirrorSvc.ListMetadata(c.Request.Context(), id, true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load package metadata",
		})
		return nil, err
	}
	return models.NewPackageRegistration(id, pkgs), nil
}
