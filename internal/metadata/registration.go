// Package metadata builds the paginated registration (catalog) documents that
// expose a package id's version history to clients.
package metadata

import (
	"sort"
	"strings"
	"time"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/urls"
	"github.com/nuget-registry/nuget-registry/internal/versioning"
)

// DefaultPageSize is the number of versions inlined into a registration index
// before the response switches to paged form.
const DefaultPageSize = 64

// RegistrationIndex is the registration document for one package id.
type RegistrationIndex struct {
	Count          int                `json:"count"`
	TotalDownloads int64              `json:"totalDownloads"`
	Pages          []RegistrationPage `json:"items"`
}

// RegistrationPage is one chunk of a registration index. Items is nil in a
// paged index, where clients fetch the page by its URL instead.
type RegistrationPage struct {
	URL   string     `json:"@id"`
	Count int        `json:"count"`
	Lower string     `json:"lower"`
	Upper string     `json:"upper"`
	Items []LeafItem `json:"items,omitempty"`
}

// LeafItem pairs a version's catalog entry with its content URL.
type LeafItem struct {
	URL            string       `json:"@id"`
	CatalogEntry   CatalogEntry `json:"catalogEntry"`
	PackageContent string       `json:"packageContent"`
}

// CatalogEntry is the per-version metadata projection shared by inlined
// indexes and fetched pages.
type CatalogEntry struct {
	URL                      string            `json:"@id"`
	ID                       string            `json:"id"`
	Version                  string            `json:"version"`
	Authors                  string            `json:"authors"`
	DependencyGroups         []DependencyGroup `json:"dependencyGroups,omitempty"`
	Description              string            `json:"description,omitempty"`
	IconURL                  string            `json:"iconUrl,omitempty"`
	Language                 string            `json:"language,omitempty"`
	LicenseURL               string            `json:"licenseUrl,omitempty"`
	Listed                   bool              `json:"listed"`
	MinClientVersion         string            `json:"minClientVersion,omitempty"`
	PackageContent           string            `json:"packageContent"`
	ProjectURL               string            `json:"projectUrl,omitempty"`
	Published                time.Time         `json:"published"`
	RequireLicenseAcceptance bool              `json:"requireLicenseAcceptance"`
	Summary                  string            `json:"summary,omitempty"`
	Tags                     []string          `json:"tags,omitempty"`
	Title                    string            `json:"title,omitempty"`
}

// DependencyGroup is a framework-keyed dependency list. An empty Dependencies
// slice is a valid group: it declares framework support with no dependencies.
type DependencyGroup struct {
	TargetFramework string       `json:"targetFramework,omitempty"`
	Dependencies    []Dependency `json:"dependencies"`
}

// Dependency is one declared dependency inside a group.
type Dependency struct {
	ID    string `json:"id"`
	Range string `json:"range,omitempty"`
}

// RegistrationLeaf is the single-version document; it carries no version-range
// logic, only flags and addresses.
type RegistrationLeaf struct {
	URL               string    `json:"@id"`
	Listed            bool      `json:"listed"`
	PackageContent    string    `json:"packageContent"`
	Published         time.Time `json:"published"`
	RegistrationIndex string    `json:"registration"`
}

// Builder renders registration documents.
type Builder struct {
	urls     *urls.Builder
	pageSize int
}

// NewBuilder creates a registration builder. pageSize <= 0 uses
// DefaultPageSize.
func NewBuilder(urlBuilder *urls.Builder, pageSize int) *Builder {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Builder{urls: urlBuilder, pageSize: pageSize}
}

// BuildIndex renders the registration index for one package id. With at most
// one page worth of versions the items are inlined; otherwise each page entry
// carries only its version bounds and fetch URL. Returns nil for an empty
// registration.
func (b *Builder) BuildIndex(reg *models.PackageRegistration) *RegistrationIndex {
	if reg == nil || len(reg.Packages) == 0 {
		return nil
	}

	sorted := sortByVersion(reg.Packages)
	chunks := chunk(sorted, b.pageSize)

	index := &RegistrationIndex{
		Count:          len(chunks),
		TotalDownloads: reg.TotalDownloads(),
	}

	if len(chunks) == 1 {
		index.Pages = []RegistrationPage{b.inlinePage(reg.PackageID, chunks[0])}
		return index
	}

	for _, c := range chunks {
		lower := c[0].NormalizedVersion
		upper := c[len(c)-1].NormalizedVersion
		index.Pages = append(index.Pages, RegistrationPage{
			URL:   b.urls.RegistrationPage(reg.PackageID, lower, upper),
			Count: len(c),
			Lower: strings.ToLower(lower),
			Upper: strings.ToLower(upper),
		})
	}
	return index
}

// BuildPage renders one registration page covering lower..upper inclusive.
// Returns nil when the range is inverted or selects no versions.
func (b *Builder) BuildPage(reg *models.PackageRegistration, lower, upper string) *RegistrationPage {
	lowerV, err := versioning.Parse(lower)
	if err != nil {
		return nil
	}
	upperV, err := versioning.Parse(upper)
	if err != nil {
		return nil
	}
	if upperV.Less(lowerV) {
		return nil
	}

	var selected []*models.Package
	for _, p := range reg.Packages {
		v := p.ParsedVersion()
		if v == nil {
			continue
		}
		if !v.Less(lowerV) && !upperV.Less(v) {
			selected = append(selected, p)
		}
	}
	if len(selected) == 0 {
		return nil
	}

	page := b.inlinePage(reg.PackageID, sortByVersion(selected))
	return &page
}

// BuildLeaf renders the single-version registration document.
func (b *Builder) BuildLeaf(p *models.Package) *RegistrationLeaf {
	return &RegistrationLeaf{
		URL:               b.urls.RegistrationLeaf(p.PackageID, p.NormalizedVersion),
		Listed:            p.Listed,
		PackageContent:    b.urls.PackageDownload(p.PackageID, p.NormalizedVersion),
		Published:         p.Published,
		RegistrationIndex: b.urls.RegistrationIndex(p.PackageID),
	}
}

func (b *Builder) inlinePage(packageID string, sorted []*models.Package) RegistrationPage {
	lower := sorted[0].NormalizedVersion
	upper := sorted[len(sorted)-1].NormalizedVersion
	page := RegistrationPage{
		URL:   b.urls.RegistrationPage(packageID, lower, upper),
		Count: len(sorted),
		Lower: strings.ToLower(lower),
		Upper: strings.ToLower(upper),
		Items: make([]LeafItem, 0, len(sorted)),
	}
	for _, p := range sorted {
		page.Items = append(page.Items, b.buildItem(p))
	}
	return page
}

func (b *Builder) buildItem(p *models.Package) LeafItem {
	content := b.urls.PackageDownload(p.PackageID, p.NormalizedVersion)
	entry := CatalogEntry{
		URL:                      b.urls.RegistrationLeaf(p.PackageID, p.NormalizedVersion),
		ID:                       p.PackageID,
		Version:                  p.Version,
		Authors:                  strings.Join(p.Authors, ", "),
		DependencyGroups:         buildDependencyGroups(p.Dependencies),
		Listed:                   p.Listed,
		PackageContent:           content,
		Published:                p.Published,
		RequireLicenseAcceptance: p.RequireLicenseAcceptance,
		Tags:                     p.Tags,
	}
	if p.Description != nil {
		entry.Description = *p.Description
	}
	if p.Language != nil {
		entry.Language = *p.Language
	}
	if p.LicenseURL != nil {
		entry.LicenseURL = *p.LicenseURL
	}
	if p.MinClientVersion != nil {
		entry.MinClientVersion = *p.MinClientVersion
	}
	if p.ProjectURL != nil {
		entry.ProjectURL = *p.ProjectURL
	}
	if p.Summary != nil {
		entry.Summary = *p.Summary
	}
	if p.Title != nil {
		entry.Title = *p.Title
	}
	if p.HasEmbeddedIcon {
		entry.IconURL = b.urls.PackageIcon(p.PackageID, p.NormalizedVersion)
	} else if p.IconURL != nil {
		entry.IconURL = *p.IconURL
	}

	return LeafItem{
		URL:            entry.URL,
		CatalogEntry:   entry,
		PackageContent: content,
	}
}

// buildDependencyGroups converts flat dependency rows into framework-keyed
// groups. A row with a nil dependency id is the sentinel meaning "this
// framework is supported with zero dependencies": the group is emitted, the
// sentinel itself is not.
func buildDependencyGroups(deps []models.Dependency) []DependencyGroup {
	if len(deps) == 0 {
		return nil
	}

	var order []string
	byFramework := make(map[string][]Dependency)
	for _, d := range deps {
		key := d.TargetFramework
		if _, seen := byFramework[key]; !seen {
			order = append(order, key)
			byFramework[key] = []Dependency{}
		}
		if d.IsFrameworkSentinel() {
			continue
		}
		dep := Dependency{}
		if d.DependencyID != nil {
			dep.ID = *d.DependencyID
		}
		if d.VersionRange != nil {
			dep.Range = *d.VersionRange
		}
		byFramework[key] = append(byFramework[key], dep)
	}

	groups := make([]DependencyGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, DependencyGroup{
			TargetFramework: key,
			Dependencies:    byFramework[key],
		})
	}
	return groups
}

// sortByVersion returns the packages ascending by version precedence without
// mutating the input. Rows with unparsable versions sort first by their raw
// string so the output stays deterministic.
func sortByVersion(packages []*models.Package) []*models.Package {
	sorted := make([]*models.Package, len(packages))
	copy(sorted, packages)
	sort.SliceStable(sorted, func(i, j int) bool {
		vi, vj := sorted[i].ParsedVersion(), sorted[j].ParsedVersion()
		if vi == nil || vj == nil {
			if vi == nil && vj == nil {
				return sorted[i].NormalizedVersion < sorted[j].NormalizedVersion
			}
			return vi == nil
		}
		return vi.Less(vj)
	})
	return sorted
}

func chunk(packages []*models.Package, size int) [][]*models.Package {
	var chunks [][]*models.Package
	for len(packages) > size {
		chunks = append(chunks, packages[:size])
		packages = packages[size:]
	}
	return append(chunks, packages)
}
