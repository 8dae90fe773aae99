// Package packages implements the package ingestion side of the registry:
// nupkg parsing, content storage layout, the indexing pipeline, and deletion.
package packages

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/versioning"
)

// ErrInvalidPackage reports content that cannot be read as a package: not a
// zip, no manifest, or a manifest missing a valid id or version.
var ErrInvalidPackage = errors.New("invalid package")

// packageIDPattern matches the identifier grammar NuGet.org enforces.
var packageIDPattern = regexp.MustCompile(`^\w+(?:[.-]\w+)*$`)

// MaxPackageIDLength bounds package identifiers.
const MaxPackageIDLength = 128

// nuspec mirrors the manifest XML. Only the fields the catalog stores are
// mapped.
type nuspec struct {
	XMLName  xml.Name `xml:"package"`
	Metadata struct {
		ID                       string `xml:"id"`
		Version                  string `xml:"version"`
		Authors                  string `xml:"authors"`
		Title                    string `xml:"title"`
		Summary                  string `xml:"summary"`
		Description              string `xml:"description"`
		ReleaseNotes             string `xml:"releaseNotes"`
		Language                 string `xml:"language"`
		MinClientVersion         string `xml:"minClientVersion,attr"`
		RequireLicenseAcceptance bool   `xml:"requireLicenseAcceptance"`
		Tags                     string `xml:"tags"`
		Icon                     string `xml:"icon"`
		IconURL                  string `xml:"iconUrl"`
		LicenseURL               string `xml:"licenseUrl"`
		ProjectURL               string `xml:"projectUrl"`
		Readme                   string `xml:"readme"`
		Repository               struct {
			URL  string `xml:"url,attr"`
			Type string `xml:"type,attr"`
		} `xml:"repository"`
		Dependencies struct {
			Groups       []nuspecDependencyGroup `xml:"group"`
			Dependencies []nuspecDependency      `xml:"dependency"`
		} `xml:"dependencies"`
		PackageTypes struct {
			Types []struct {
				Name    string `xml:"name,attr"`
				Version string `xml:"version,attr"`
			} `xml:"packageType"`
		} `xml:"packageTypes"`
	} `xml:"metadata"`
}

type nuspecDependencyGroup struct {
	TargetFramework string             `xml:"targetFramework,attr"`
	Dependencies    []nuspecDependency `xml:"dependency"`
}

type nuspecDependency struct {
	ID      string `xml:"id,attr"`
	Version string `xml:"version,attr"`
}

// Parsed is the outcome of reading one uploaded nupkg.
type Parsed struct {
	// Package holds the extracted metadata. Storage fields are unset; the
	// pipeline fills them after the content is persisted.
	Package *models.Package
	// Nupkg is the raw uploaded content.
	Nupkg []byte
	// Nuspec is the raw manifest extracted from the archive.
	Nuspec []byte
	// Readme and Icon hold the embedded files named by the manifest, nil when
	// absent.
	Readme []byte
	Icon   []byte
}

// ParseNupkg reads an uploaded package stream. maxSize bounds how much is
// buffered; 0 means unbounded. Malformed content is reported as
// ErrInvalidPackage so the pipeline can map it to the invalid-package outcome
// without side effects.
func ParseNupkg(r io.Reader, maxSize int64) (*Parsed, error) {
	content, err := readBounded(r, maxSize)
	if err != nil {
		return nil, err
	}

	archive, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip archive", ErrInvalidPackage)
	}

	manifestFile := findManifest(archive)
	if manifestFile == nil {
		return nil, fmt.Errorf("%w: no nuspec manifest", ErrInvalidPackage)
	}
	rawManifest, err := readZipFile(manifestFile)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable manifest", ErrInvalidPackage)
	}

	var manifest nuspec
	if err := xml.Unmarshal(rawManifest, &manifest); err != nil {
		return nil, fmt.Errorf("%w: malformed manifest: %v", ErrInvalidPackage, err)
	}

	pkg, err := packageFromManifest(&manifest)
	if err != nil {
		return nil, err
	}
	pkg.SizeBytes = int64(len(content))

	parsed := &Parsed{Package: pkg, Nupkg: content, Nuspec: rawManifest}

	if name := strings.TrimSpace(manifest.Metadata.Readme); name != "" {
		parsed.Readme, _ = readEmbeddedFile(archive, name)
		pkg.HasReadme = parsed.Readme != nil
	}
	if name := strings.TrimSpace(manifest.Metadata.Icon); name != "" {
		parsed.Icon, _ = readEmbeddedFile(archive, name)
		pkg.HasEmbeddedIcon = parsed.Icon != nil
	}

	return parsed, nil
}

func packageFromManifest(manifest *nuspec) (*models.Package, error) {
	m := &manifest.Metadata

	id := strings.TrimSpace(m.ID)
	if id == "" || len(id) > MaxPackageIDLength || !packageIDPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: missing or malformed package id", ErrInvalidPackage)
	}

	version, err := versioning.Parse(strings.TrimSpace(m.Version))
	if err != nil {
		return nil, fmt.Errorf("%w: bad version: %v", ErrInvalidPackage, err)
	}

	pkg := &models.Package{
		PackageID:         id,
		Version:           version.Full(),
		NormalizedVersion: version.Normalized(),
		Listed:            true,
		Published:         time.Now().UTC(),
		IsPrerelease:      version.IsPrerelease(),
		SemVerLevel:       int(version.Level()),
		Authors:           splitList(m.Authors, ','),
		Tags:              splitList(m.Tags, ' '),

		RequireLicenseAcceptance: m.RequireLicenseAcceptance,
	}

	pkg.Title = optional(m.Title)
	pkg.Summary = optional(m.Summary)
	pkg.Description = optional(m.Description)
	pkg.ReleaseNotes = optional(m.ReleaseNotes)
	pkg.Language = optional(m.Language)
	pkg.MinClientVersion = optional(m.MinClientVersion)
	pkg.IconURL = optional(m.IconURL)
	pkg.LicenseURL = optional(m.LicenseURL)
	pkg.ProjectURL = optional(m.ProjectURL)
	pkg.RepositoryURL = optional(m.Repository.URL)
	pkg.RepositoryType = optional(m.Repository.Type)

	pkg.Dependencies = buildDependencyRows(&m.Dependencies)
	for _, t := range m.PackageTypes.Types {
		if name := strings.TrimSpace(t.Name); name != "" {
			pkg.PackageTypes = append(pkg.PackageTypes, models.PackageType{Name: name, Version: t.Version})
		}
	}
	pkg.TargetFrameworks = collectFrameworks(pkg.Dependencies)

	return pkg, nil
}

// buildDependencyRows flattens manifest dependency groups. A group with no
// dependencies produces a sentinel row (nil id and range) so the framework
// support it declares survives the round trip to registration output. Flat
// dependencies outside any group land in the empty-framework group.
func buildDependencyRows(deps *struct {
	Groups       []nuspecDependencyGroup `xml:"group"`
	Dependencies []nuspecDependency      `xml:"dependency"`
}) []models.Dependency {
	var rows []models.Dependency

	for _, d := range deps.Dependencies {
		if row, ok := dependencyRow(d, ""); ok {
			rows = append(rows, row)
		}
	}
	for _, g := range deps.Groups {
		framework := strings.ToLower(strings.TrimSpace(g.TargetFramework))
		added := false
		for _, d := range g.Dependencies {
			if row, ok := dependencyRow(d, framework); ok {
				rows = append(rows, row)
				added = true
			}
		}
		if !added {
			rows = append(rows, models.Dependency{TargetFramework: framework})
		}
	}
	return rows
}

func dependencyRow(d nuspecDependency, framework string) (models.Dependency, bool) {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		return models.Dependency{}, false
	}
	row := models.Dependency{
		DependencyID:    &id,
		TargetFramework: framework,
	}
	if rng := strings.TrimSpace(d.Version); rng != "" {
		row.VersionRange = &rng
	}
	return row, true
}

func collectFrameworks(deps []models.Dependency) []string {
	var monikers []string
	seen := map[string]bool{}
	for _, d := range deps {
		if d.TargetFramework == "" || seen[d.TargetFramework] {
			continue
		}
		seen[d.TargetFramework] = true
		monikers = append(monikers, d.TargetFramework)
	}
	return monikers
}

// findManifest locates the root-level .nuspec entry.
func findManifest(archive *zip.Reader) *zip.File {
	for _, f := range archive.File {
		if strings.Contains(f.Name, "/") || strings.Contains(f.Name, "\\") {
			continue
		}
		if strings.EqualFold(path.Ext(f.Name), ".nuspec") {
			return f
		}
	}
	return nil
}

func readEmbeddedFile(archive *zip.Reader, name string) ([]byte, error) {
	normalized := strings.ReplaceAll(name, "\\", "/")
	for _, f := range archive.File {
		if strings.EqualFold(strings.ReplaceAll(f.Name, "\\", "/"), normalized) {
			return readZipFile(f)
		}
	}
	return nil, fmt.Errorf("file %q not present in archive", name)
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func readBounded(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		content, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read package content: %w", err)
		}
		return content, nil
	}

	content, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read package content: %w", err)
	}
	if int64(len(content)) > maxSize {
		return nil, fmt.Errorf("%w: exceeds maximum package size of %d bytes", ErrInvalidPackage, maxSize)
	}
	return content, nil
}

func splitList(raw string, sep rune) []string {
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == sep }) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func optional(s string) *string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
