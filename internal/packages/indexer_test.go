package packages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/db/repositories"
	"github.com/nuget-registry/nuget-registry/internal/retention"
	"github.com/nuget-registry/nuget-registry/internal/storage"
	"github.com/nuget-registry/nuget-registry/pkg/checksum"
)

// memCatalog is an in-memory Catalog keyed by lower(id)|version.
type memCatalog struct {
	mu   sync.Mutex
	rows map[string]*models.Package

	createErr error
}

func newMemCatalog() *memCatalog {
	return &memCatalog{rows: map[string]*models.Package{}}
}

func catalogKey(id, version string) string {
	return strings.ToLower(id) + "|" + strings.ToLower(version)
}

func (c *memCatalog) FindByIDVersion(_ context.Context, id, version string) (*models.Package, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows[catalogKey(id, version)], nil
}

func (c *memCatalog) FindByID(_ context.Context, id string, _ bool) ([]*models.Package, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*models.Package
	for _, p := range c.rows {
		if strings.EqualFold(p.PackageID, id) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *memCatalog) Create(_ context.Context, p *models.Package) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return c.createErr
	}
	key := catalogKey(p.PackageID, p.NormalizedVersion)
	if _, exists := c.rows[key]; exists {
		return repositories.ErrDuplicatePackage
	}
	c.rows[key] = p
	return nil
}

func (c *memCatalog) SetListed(_ context.Context, id, version string, listed bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, found := c.rows[catalogKey(id, version)]
	if found {
		p.Listed = listed
	}
	return found, nil
}

func (c *memCatalog) HardDelete(_ context.Context, id, version string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := catalogKey(id, version)
	_, found := c.rows[key]
	delete(c.rows, key)
	return found, nil
}

// memStorage is an in-memory storage.Storage.
type memStorage struct {
	mu    sync.Mutex
	files map[string][]byte

	uploadErr error
}

func newMemStorage() *memStorage {
	return &memStorage{files: map[string][]byte{}}
}

func (s *memStorage) Upload(_ context.Context, path string, r io.Reader, _ int64) (*storage.UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	s.files[path] = content
	return &storage.UploadResult{Path: path, Size: int64(len(content)), Checksum: "test-checksum"}, nil
}

func (s *memStorage) Download(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (s *memStorage) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
	return nil
}

func (s *memStorage) GetURL(_ context.Context, path string, _ time.Duration) (string, error) {
	return "mem://" + path, nil
}

func (s *memStorage) Exists(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[path]
	return ok, nil
}

func (s *memStorage) GetMetadata(_ context.Context, path string) (*storage.FileMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	return &storage.FileMetadata{Path: path, Size: int64(len(content))}, nil
}

type recordingIndexer struct {
	indexed []string
	err     error
}

func (r *recordingIndexer) Index(_ context.Context, p *models.Package) error {
	r.indexed = append(r.indexed, p.NormalizedVersion)
	return r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nupkgFor(t *testing.T, id, version string) []byte {
	t.Helper()
	manifest := fmt.Sprintf(`<?xml version="1.0"?>
<package>
  <metadata>
    <id>%s</id>
    <version>%s</version>
    <authors>Test</authors>
    <description>Test package.</description>
  </metadata>
</package>`, id, version)
	return buildNupkg(t, map[string]string{strings.ToLower(id) + ".nuspec": manifest})
}

func newTestIndexer(catalog Catalog, backend storage.Storage, si *recordingIndexer, opts IndexerOptions) *Indexer {
	return NewIndexer(catalog, NewContentStore(backend), si, opts, testLogger())
}

func TestIndex_Success(t *testing.T) {
	catalog := newMemCatalog()
	backend := newMemStorage()
	si := &recordingIndexer{}
	ix := newTestIndexer(catalog, backend, si, IndexerOptions{})

	content := nupkgFor(t, "Pkg.A", "1.0.0")
	result, err := ix.Index(context.Background(), bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, IndexSuccess, result)

	wantSum, err := checksum.CalculateSHA256(bytes.NewReader(content))
	require.NoError(t, err)

	stored, err := catalog.FindByIDVersion(context.Background(), "pkg.a", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, wantSum, stored.Checksum)
	assert.Equal(t, NupkgPath("Pkg.A", "1.0.0"), stored.StoragePath)

	exists, err := backend.Exists(context.Background(), NupkgPath("Pkg.A", "1.0.0"))
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, []string{"1.0.0"}, si.indexed)
}

// snapshotCatalog copies the row at Create, the way a real database snapshots
// column values at INSERT. Mutations to the struct after Create are invisible.
type snapshotCatalog struct {
	*memCatalog
}

func (c *snapshotCatalog) Create(ctx context.Context, p *models.Package) error {
	row := *p
	return c.memCatalog.Create(ctx, &row)
}

func TestIndex_ContentColumnsPersistWithInsert(t *testing.T) {
	catalog := &snapshotCatalog{memCatalog: newMemCatalog()}
	backend := newMemStorage()
	ix := NewIndexer(catalog, NewContentStore(backend), &recordingIndexer{}, IndexerOptions{}, testLogger())

	content := nupkgFor(t, "Pkg.A", "1.0.0")
	result, err := ix.Index(context.Background(), bytes.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, IndexSuccess, result)

	wantSum, err := checksum.CalculateSHA256(bytes.NewReader(content))
	require.NoError(t, err)

	stored, err := catalog.FindByIDVersion(context.Background(), "Pkg.A", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, NupkgPath("Pkg.A", "1.0.0"), stored.StoragePath,
		"storage_path as seen by the insert")
	assert.Equal(t, wantSum, stored.Checksum, "checksum as seen by the insert")
}

func TestIndex_InvalidContent(t *testing.T) {
	catalog := newMemCatalog()
	backend := newMemStorage()
	ix := newTestIndexer(catalog, backend, &recordingIndexer{}, IndexerOptions{})

	result, err := ix.Index(context.Background(), strings.NewReader("junk"))
	require.NoError(t, err)
	assert.Equal(t, IndexInvalidPackage, result)
	assert.Empty(t, catalog.rows)
	assert.Empty(t, backend.files)
}

func TestIndex_DuplicateForbidden(t *testing.T) {
	catalog := newMemCatalog()
	backend := newMemStorage()
	ix := newTestIndexer(catalog, backend, &recordingIndexer{}, IndexerOptions{Overwrite: OverwriteForbid})

	content := nupkgFor(t, "Pkg.A", "1.0.0")
	result, err := ix.Index(context.Background(), bytes.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, IndexSuccess, result)

	result, err = ix.Index(context.Background(), bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, IndexPackageAlreadyExists, result)
}

func TestIndex_OverwriteAllowed(t *testing.T) {
	catalog := newMemCatalog()
	backend := newMemStorage()
	ix := newTestIndexer(catalog, backend, &recordingIndexer{}, IndexerOptions{Overwrite: OverwriteAllow})

	_, err := ix.Index(context.Background(), bytes.NewReader(nupkgFor(t, "Pkg.A", "1.0.0")))
	require.NoError(t, err)
	first, _ := catalog.FindByIDVersion(context.Background(), "Pkg.A", "1.0.0")

	result, err := ix.Index(context.Background(), bytes.NewReader(nupkgFor(t, "Pkg.A", "1.0.0")))
	require.NoError(t, err)
	assert.Equal(t, IndexSuccess, result)

	second, _ := catalog.FindByIDVersion(context.Background(), "Pkg.A", "1.0.0")
	assert.NotSame(t, first, second, "overwrite must replace the row")
}

func TestIndex_PrereleaseOnlyOverwrite(t *testing.T) {
	catalog := newMemCatalog()
	backend := newMemStorage()
	ix := newTestIndexer(catalog, backend, &recordingIndexer{}, IndexerOptions{Overwrite: OverwritePrereleaseOnly})

	stable := nupkgFor(t, "Pkg.A", "1.0.0")
	pre := nupkgFor(t, "Pkg.A", "2.0.0-beta.1")

	for _, content := range [][]byte{stable, pre} {
		result, err := ix.Index(context.Background(), bytes.NewReader(content))
		require.NoError(t, err)
		require.Equal(t, IndexSuccess, result)
	}

	result, err := ix.Index(context.Background(), bytes.NewReader(stable))
	require.NoError(t, err)
	assert.Equal(t, IndexPackageAlreadyExists, result, "stable versions are not replaceable")

	result, err = ix.Index(context.Background(), bytes.NewReader(pre))
	require.NoError(t, err)
	assert.Equal(t, IndexSuccess, result, "prerelease versions are replaceable")
}

func TestIndex_UnlistedAlwaysReplaceable(t *testing.T) {
	catalog := newMemCatalog()
	backend := newMemStorage()
	ix := newTestIndexer(catalog, backend, &recordingIndexer{}, IndexerOptions{Overwrite: OverwriteForbid})

	content := nupkgFor(t, "Pkg.A", "1.0.0")
	_, err := ix.Index(context.Background(), bytes.NewReader(content))
	require.NoError(t, err)

	existing, _ := catalog.FindByIDVersion(context.Background(), "Pkg.A", "1.0.0")
	existing.Listed = false

	result, err := ix.Index(context.Background(), bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, IndexSuccess, result)
}

func TestIndex_StorageFailureRollsBackMetadata(t *testing.T) {
	catalog := newMemCatalog()
	backend := newMemStorage()
	backend.uploadErr = errors.New("disk full")
	ix := newTestIndexer(catalog, backend, &recordingIndexer{}, IndexerOptions{})

	_, err := ix.Index(context.Background(), bytes.NewReader(nupkgFor(t, "Pkg.A", "1.0.0")))
	require.Error(t, err)
	assert.Empty(t, catalog.rows, "metadata row must not outlive missing content")
}

func TestIndex_LostRaceReportsAlreadyExists(t *testing.T) {
	catalog := newMemCatalog()
	catalog.createErr = repositories.ErrDuplicatePackage
	backend := newMemStorage()
	ix := newTestIndexer(catalog, backend, &recordingIndexer{}, IndexerOptions{})

	result, err := ix.Index(context.Background(), bytes.NewReader(nupkgFor(t, "Pkg.A", "1.0.0")))
	require.NoError(t, err)
	assert.Equal(t, IndexPackageAlreadyExists, result)
	assert.Empty(t, backend.files, "losing the race must leave no stored content")
}

func TestIndex_SearchIndexerFailureIsSwallowed(t *testing.T) {
	catalog := newMemCatalog()
	backend := newMemStorage()
	si := &recordingIndexer{err: errors.New("search backend down")}
	ix := newTestIndexer(catalog, backend, si, IndexerOptions{})

	result, err := ix.Index(context.Background(), bytes.NewReader(nupkgFor(t, "Pkg.A", "1.0.0")))
	require.NoError(t, err)
	assert.Equal(t, IndexSuccess, result)
}

func TestIndex_RetentionPrunesOldVersions(t *testing.T) {
	catalog := newMemCatalog()
	backend := newMemStorage()
	ix := newTestIndexer(catalog, backend, &recordingIndexer{}, IndexerOptions{
		Retention: retention.Options{MaxPatchVersions: 2},
	})

	for _, v := range []string{"1.0.0", "1.0.1", "1.0.2"} {
		result, err := ix.Index(context.Background(), bytes.NewReader(nupkgFor(t, "Pkg.A", v)))
		require.NoError(t, err)
		require.Equal(t, IndexSuccess, result)
	}

	oldest, err := catalog.FindByIDVersion(context.Background(), "Pkg.A", "1.0.0")
	require.NoError(t, err)
	assert.Nil(t, oldest, "retention should prune beyond the patch quota")

	kept, err := catalog.FindByIDVersion(context.Background(), "Pkg.A", "1.0.2")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	exists, err := backend.Exists(context.Background(), NupkgPath("Pkg.A", "1.0.0"))
	require.NoError(t, err)
	assert.False(t, exists, "pruned content must be deleted from storage")
}

func TestDeleter_Unlist(t *testing.T) {
	catalog := newMemCatalog()
	backend := newMemStorage()
	ix := newTestIndexer(catalog, backend, &recordingIndexer{}, IndexerOptions{})
	_, err := ix.Index(context.Background(), bytes.NewReader(nupkgFor(t, "Pkg.A", "1.0.0")))
	require.NoError(t, err)

	deleter := NewDeleter(catalog, NewContentStore(backend), DeletionUnlist, testLogger())
	found, err := deleter.Delete(context.Background(), "Pkg.A", "1.0.0")
	require.NoError(t, err)
	assert.True(t, found)

	row, _ := catalog.FindByIDVersion(context.Background(), "Pkg.A", "1.0.0")
	require.NotNil(t, row, "unlist keeps the row")
	assert.False(t, row.Listed)

	found, err = deleter.Relist(context.Background(), "Pkg.A", "1.0.0")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, row.Listed)
}

func TestDeleter_HardDelete(t *testing.T) {
	catalog := newMemCatalog()
	backend := newMemStorage()
	ix := newTestIndexer(catalog, backend, &recordingIndexer{}, IndexerOptions{})
	_, err := ix.Index(context.Background(), bytes.NewReader(nupkgFor(t, "Pkg.A", "1.0.0")))
	require.NoError(t, err)

	deleter := NewDeleter(catalog, NewContentStore(backend), DeletionHardDelete, testLogger())
	found, err := deleter.Delete(context.Background(), "Pkg.A", "1.0.0")
	require.NoError(t, err)
	assert.True(t, found)

	row, _ := catalog.FindByIDVersion(context.Background(), "Pkg.A", "1.0.0")
	assert.Nil(t, row)
	assert.Empty(t, backend.files)

	found, err = deleter.Delete(context.Background(), "Pkg.A", "1.0.0")
	require.NoError(t, err)
	assert.False(t, found)
}
