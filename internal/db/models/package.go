// Package models - package.go defines the Package model representing one
// published version of a package in the catalog, plus its dependency,
// package-type, and target-framework child records.
package models

import (
	"strings"
	"time"

	"github.com/nuget-registry/nuget-registry/internal/versioning"
)

// Package represents one immutable-after-publish package version. The
// (lower(id), normalized_version) pair is unique in the catalog; after insert
// only Listed, Downloads, and deletion are allowed to change.
type Package struct {
	ID                string    `json:"id" db:"id"`
	PackageID         string    `json:"package_id" db:"package_id"` // case-preserving package identifier
	Version           string    `json:"version" db:"version"`       // original version string, build metadata included
	NormalizedVersion string    `json:"normalized_version" db:"normalized_version"`
	Listed            bool      `json:"listed" db:"listed"`
	Published         time.Time `json:"published" db:"published"`
	Downloads         int64     `json:"downloads" db:"downloads"`
	IsPrerelease      bool      `json:"is_prerelease" db:"is_prerelease"`
	SemVerLevel       int       `json:"semver_level" db:"semver_level"`

	Authors []string `json:"authors" db:"-"`
	Tags    []string `json:"tags" db:"-"`

	Title                   *string `json:"title,omitempty" db:"title"`
	Summary                 *string `json:"summary,omitempty" db:"summary"`
	Description             *string `json:"description,omitempty" db:"description"`
	ReleaseNotes            *string `json:"release_notes,omitempty" db:"release_notes"`
	Language                *string `json:"language,omitempty" db:"language"`
	MinClientVersion        *string `json:"min_client_version,omitempty" db:"min_client_version"`
	RequireLicenseAcceptance bool   `json:"require_license_acceptance" db:"require_license_acceptance"`

	HasReadme       bool `json:"has_readme" db:"has_readme"`
	HasEmbeddedIcon bool `json:"has_embedded_icon" db:"has_embedded_icon"`

	IconURL        *string `json:"icon_url,omitempty" db:"icon_url"`
	LicenseURL     *string `json:"license_url,omitempty" db:"license_url"`
	ProjectURL     *string `json:"project_url,omitempty" db:"project_url"`
	RepositoryURL  *string `json:"repository_url,omitempty" db:"repository_url"`
	RepositoryType *string `json:"repository_type,omitempty" db:"repository_type"`

	StoragePath    string `json:"storage_path" db:"storage_path"`
	StorageBackend string `json:"storage_backend" db:"storage_backend"`
	SizeBytes      int64  `json:"size_bytes" db:"size_bytes"`
	Checksum       string `json:"checksum" db:"checksum"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`

	Dependencies     []Dependency  `json:"dependencies" db:"-"`
	PackageTypes     []PackageType `json:"package_types" db:"-"`
	TargetFrameworks []string      `json:"target_frameworks" db:"-"`
}

// Dependency is one entry of a package's dependency list, grouped by target
// framework. A dependency with nil ID and VersionRange is the framework
// sentinel: the framework is supported but carries zero dependencies.
type Dependency struct {
	ID              string  `json:"id" db:"id"`
	PackageKey      string  `json:"-" db:"package_key"`
	DependencyID    *string `json:"dependency_id" db:"dependency_id"`
	VersionRange    *string `json:"version_range" db:"version_range"`
	TargetFramework string  `json:"target_framework" db:"target_framework"`
}

// IsFrameworkSentinel reports whether this entry only marks framework support.
func (d Dependency) IsFrameworkSentinel() bool {
	return d.DependencyID == nil && d.VersionRange == nil
}

// PackageType declares what kind of artifact a package is (e.g. "Dependency",
// "DotnetTool", "Template").
type PackageType struct {
	ID         string `json:"id" db:"id"`
	PackageKey string `json:"-" db:"package_key"`
	Name       string `json:"name" db:"name"`
	Version    string `json:"version" db:"version"`
}

// ParsedVersion parses the package's stored version string. Stored versions
// were validated on the way in, so a parse failure here indicates catalog
// corruption and is surfaced as an error by callers that can handle it; this
// accessor returns nil in that case.
func (p *Package) ParsedVersion() *versioning.Version {
	v, err := versioning.Parse(p.Version)
	if err != nil {
		return nil
	}
	return v
}

// HasAllTags reports whether every required tag appears verbatim
// (case-insensitively) in the package's tag set.
func (p *Package) HasAllTags(required []string) bool {
	if len(required) == 0 {
		return true
	}
	if len(p.Tags) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(p.Tags))
	for _, tag := range p.Tags {
		set[strings.ToLower(tag)] = struct{}{}
	}
	for _, want := range required {
		if _, ok := set[strings.ToLower(want)]; !ok {
			return false
		}
	}
	return true
}

// HasAllAuthors reports whether every required author is a case-insensitive
// substring of at least one of the package's authors.
func (p *Package) HasAllAuthors(required []string) bool {
	if len(required) == 0 {
		return true
	}
	if len(p.Authors) == 0 {
		return false
	}
	for _, want := range required {
		lower := strings.ToLower(want)
		found := false
		for _, author := range p.Authors {
			if author != "" && strings.Contains(strings.ToLower(author), lower) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// PackageRegistration is the ephemeral, read-only grouping of every version
// of one package id. It is assembled per request and never persisted.
type PackageRegistration struct {
	PackageID string
	Packages  []*Package
}

// NewPackageRegistration groups packages under their shared id.
func NewPackageRegistration(packageID string, packages []*Package) *PackageRegistration {
	return &PackageRegistration{PackageID: packageID, Packages: packages}
}

// TotalDownloads sums the download counters of every version.
func (r *PackageRegistration) TotalDownloads() int64 {
	var total int64
	for _, p := range r.Packages {
		total += p.Downloads
	}
	return total
}
