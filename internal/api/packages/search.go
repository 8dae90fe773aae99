// search.go implements the search, autocomplete, and dependents endpoints.
package packages

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nuget-registry/nuget-registry/internal/mirror"
	"github.com/nuget-registry/nuget-registry/internal/search"
)

const (
	defaultTake = 20
	maxTake     = 1000
)

// searchRequest builds a search.Request from the common query parameters.
func searchRequest(c *gin.Context) search.Request {
	skip, _ := strconv.Atoi(c.Query("skip"))
	if skip < 0 {
		skip = 0
	}
	take, err := strconv.Atoi(c.Query("take"))
	if err != nil || take <= 0 {
		take = defaultTake
	}
	if take > maxTake {
		take = maxTake
	}

	prerelease, _ := strconv.ParseBool(c.Query("prerelease"))

	return search.Request{
		Query:             c.Query("q"),
		Skip:              skip,
		Take:              take,
		IncludePrerelease: prerelease,
		IncludeSemVer2:    c.Query("semVerLevel") == "2.0.0",
		PackageType:       c.Query("packageType"),
		Framework:         c.Query("framework"),
	}
}

// SearchHandler handles full package search.
// Implements: GET /v3/search
func SearchHandler(searchSvc *search.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := searchSvc.Search(c.Request.Context(), searchRequest(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Search failed",
			})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// AutocompleteHandler handles package id autocomplete. When an "id" query
// parameter is present the endpoint switches to version enumeration mode for
// that package, per the autocomplete protocol.
// Implements: GET /v3/autocomplete
func AutocompleteHandler(searchSvc *search.Service, mirrorSvc *mirror.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.Query("id"); id != "" {
			versions, err := mirrorSvc.ListVersions(c.Request.Context(), id, false)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to list package versions",
				})
				return
			}
			c.JSON(http.StatusOK, search.AutocompleteResponse{
				TotalHits: int64(len(versions)),
				Data:      versions,
			})
			return
		}

		resp, err := searchSvc.Autocomplete(c.Request.Context(), searchRequest(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Autocomplete failed",
			})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// DependentsHandler lists packages that depend on the given package id.
// Implements: GET /v3/dependents?packageId=
func DependentsHandler(searchSvc *search.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		packageID := c.Query("packageId")
		if packageID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "packageId query parameter is required",
			})
			return
		}

		take, err := strconv.Atoi(c.Query("take"))
		if err != nil || take <= 0 {
			take = defaultTake
		}
		if take > maxTake {
			take = maxTake
		}

		resp, err := searchSvc.Dependents(c.Request.Context(), packageID, take)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list dependents",
			})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
