package packages

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nuget-registry/nuget-registry/internal/storage"
)

// ContentStore lays package artifacts out on a storage backend. All paths are
// derived from the lower-cased id and normalized version, so lookups never
// depend on the casing a client used.
type ContentStore struct {
	backend storage.Storage
}

// NewContentStore creates a content store over the given backend.
func NewContentStore(backend storage.Storage) *ContentStore {
	return &ContentStore{backend: backend}
}

func contentPath(id, version, file string) string {
	id = strings.ToLower(id)
	version = strings.ToLower(version)
	return fmt.Sprintf("packages/%s/%s/%s", id, version, file)
}

// NupkgPath returns the storage path of the package archive.
func NupkgPath(id, version string) string {
	id = strings.ToLower(id)
	version = strings.ToLower(version)
	return contentPath(id, version, fmt.Sprintf("%s.%s.nupkg", id, version))
}

func nuspecPath(id, version string) string {
	return contentPath(id, version, strings.ToLower(id)+".nuspec")
}

func readmePath(id, version string) string { return contentPath(id, version, "readme") }
func iconPath(id, version string) string   { return contentPath(id, version, "icon") }

// Save persists every artifact of a parsed package and returns the archive's
// storage path and checksum. Existing artifacts at the same paths are
// overwritten.
func (s *ContentStore) Save(ctx context.Context, p *Parsed) (*storage.UploadResult, error) {
	id := p.Package.PackageID
	version := p.Package.NormalizedVersion

	result, err := s.backend.Upload(ctx, NupkgPath(id, version), bytes.NewReader(p.Nupkg), int64(len(p.Nupkg)))
	if err != nil {
		return nil, fmt.Errorf("failed to store package archive: %w", err)
	}

	if _, err := s.backend.Upload(ctx, nuspecPath(id, version), bytes.NewReader(p.Nuspec), int64(len(p.Nuspec))); err != nil {
		return nil, fmt.Errorf("failed to store package manifest: %w", err)
	}
	if p.Readme != nil {
		if _, err := s.backend.Upload(ctx, readmePath(id, version), bytes.NewReader(p.Readme), int64(len(p.Readme))); err != nil {
			return nil, fmt.Errorf("failed to store package readme: %w", err)
		}
	}
	if p.Icon != nil {
		if _, err := s.backend.Upload(ctx, iconPath(id, version), bytes.NewReader(p.Icon), int64(len(p.Icon))); err != nil {
			return nil, fmt.Errorf("failed to store package icon: %w", err)
		}
	}

	return result, nil
}

// Delete removes every artifact of one package version. Missing artifacts are
// not an error; deletion must be reusable as the first half of
// overwrite-by-delete-then-save.
func (s *ContentStore) Delete(ctx context.Context, id, version string) error {
	var firstErr error
	for _, p := range []string{
		NupkgPath(id, version),
		nuspecPath(id, version),
		readmePath(id, version),
		iconPath(id, version),
	} {
		if err := s.backend.Delete(ctx, p); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	return firstErr
}

// OpenNupkg opens the package archive for download.
func (s *ContentStore) OpenNupkg(ctx context.Context, id, version string) (io.ReadCloser, error) {
	return s.backend.Download(ctx, NupkgPath(id, version))
}

// OpenNuspec opens the stored manifest.
func (s *ContentStore) OpenNuspec(ctx context.Context, id, version string) (io.ReadCloser, error) {
	return s.backend.Download(ctx, nuspecPath(id, version))
}

// OpenReadme opens the stored readme.
func (s *ContentStore) OpenReadme(ctx context.Context, id, version string) (io.ReadCloser, error) {
	return s.backend.Download(ctx, readmePath(id, version))
}

// OpenIcon opens the stored embedded icon.
func (s *ContentStore) OpenIcon(ctx context.Context, id, version string) (io.ReadCloser, error) {
	return s.backend.Download(ctx, iconPath(id, version))
}
