// Package urls renders the externally addressable endpoints of this registry.
// Every absolute URL emitted in a response body comes from here so the public
// base address is configured in exactly one place.
package urls

import (
	"fmt"
	"strings"
)

// Builder renders service URLs under one public base address.
type Builder struct {
	base string
}

// NewBuilder creates a Builder for the given public base URL, for example
// "https://nuget.example.com". A trailing slash is ignored.
func NewBuilder(baseURL string) *Builder {
	return &Builder{base: strings.TrimRight(baseURL, "/")}
}

// ServiceIndex returns the /v3/index.json endpoint.
func (b *Builder) ServiceIndex() string {
	return b.base + "/v3/index.json"
}

// PackagePublish returns the push/delete resource root.
func (b *Builder) PackagePublish() string {
	return b.base + "/api/v2/package"
}

// SearchQuery returns the search endpoint.
func (b *Builder) SearchQuery() string {
	return b.base + "/v3/search"
}

// Autocomplete returns the autocomplete endpoint.
func (b *Builder) Autocomplete() string {
	return b.base + "/v3/autocomplete"
}

// RegistrationsBase returns the registration resource root.
func (b *Builder) RegistrationsBase() string {
	return b.base + "/v3/registration"
}

// PackageContentBase returns the flat-container resource root.
func (b *Builder) PackageContentBase() string {
	return b.base + "/v3/package"
}

// RegistrationIndex returns the registration index for one package id.
func (b *Builder) RegistrationIndex(id string) string {
	return fmt.Sprintf("%s/v3/registration/%s/index.json", b.base, strings.ToLower(id))
}

// RegistrationPage returns one registration page, addressed by its bounds.
func (b *Builder) RegistrationPage(id, lower, upper string) string {
	return fmt.Sprintf("%s/v3/registration/%s/page/%s/%s.json",
		b.base, strings.ToLower(id), strings.ToLower(lower), strings.ToLower(upper))
}

// RegistrationLeaf returns the leaf document for one package version.
func (b *Builder) RegistrationLeaf(id, version string) string {
	return fmt.Sprintf("%s/v3/registration/%s/%s.json",
		b.base, strings.ToLower(id), strings.ToLower(version))
}

// PackageVersions returns the flat-container version list for a package id.
func (b *Builder) PackageVersions(id string) string {
	return fmt.Sprintf("%s/v3/package/%s/index.json", b.base, strings.ToLower(id))
}

// PackageDownload returns the .nupkg download endpoint for one version.
func (b *Builder) PackageDownload(id, version string) string {
	id = strings.ToLower(id)
	version = strings.ToLower(version)
	return fmt.Sprintf("%s/v3/package/%s/%s/%s.%s.nupkg", b.base, id, version, id, version)
}

// PackageManifestDownload returns the .nuspec download endpoint.
func (b *Builder) PackageManifestDownload(id, version string) string {
	id = strings.ToLower(id)
	version = strings.ToLower(version)
	return fmt.Sprintf("%s/v3/package/%s/%s/%s.nuspec", b.base, id, version, id)
}

// PackageIcon returns the embedded-icon download endpoint.
func (b *Builder) PackageIcon(id, version string) string {
	return fmt.Sprintf("%s/v3/package/%s/%s/icon", b.base, strings.ToLower(id), strings.ToLower(version))
}

// PackageReadme returns the readme download endpoint.
func (b *Builder) PackageReadme(id, version string) string {
	return fmt.Sprintf("%s/v3/package/%s/%s/readme", b.base, strings.ToLower(id), strings.ToLower(version))
}
