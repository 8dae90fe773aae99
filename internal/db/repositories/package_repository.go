// package_repository.go implements PackageRepository, the catalog store. It
// provides version-row CRUD, the unique-violation contract used by the
// indexing pipeline, and the two query shapes the search engine needs: a
// set-oriented distinct-id page and a streaming candidate scan for the
// client-side tag/author filter path.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
)

// ErrDuplicatePackage is returned by Create when a row for the same
// (id, normalized version) already exists. The indexing pipeline maps it to
// the PackageAlreadyExists outcome instead of treating it as a failure.
var ErrDuplicatePackage = errors.New("package version already exists")

// pqUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pqUniqueViolation = "23505"

// SearchOrder selects the deterministic sort for id selection. Client-side
// tag/author filtering counts skip/take against post-filter matches, so the
// enumeration order must be stable across calls for paging to be reproducible.
type SearchOrder int

const (
	// OrderByID sorts ascending by package id (full search).
	OrderByID SearchOrder = iota
	// OrderByDownloads sorts by download count descending, then id (autocomplete).
	OrderByDownloads
)

// SearchFilters holds the structural predicates that can be pushed into SQL.
// Tag and author clauses cannot be expressed here; they are applied client-side
// by the search engine against streamed candidates.
type SearchFilters struct {
	TextQuery         string   // case-insensitive substring match on package id
	IncludePrerelease bool
	IncludeSemVer2    bool
	PackageType       string   // exact package-type name, "" = no filter
	Frameworks        []string // compatible monikers, nil = no filter
}

// FilterCandidate is the projection streamed to the client-side tag/author filter.
type FilterCandidate struct {
	PackageID string
	Tags      []string
	Authors   []string
}

// Dependent is one reverse-dependency search result.
type Dependent struct {
	PackageID      string  `json:"id"`
	Description    *string `json:"description"`
	TotalDownloads int64   `json:"totalDownloads"`
}

// PackageRepository handles database operations for package versions.
type PackageRepository struct {
	db *sqlx.DB
}

// NewPackageRepository creates a new package repository.
func NewPackageRepository(db *sqlx.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

const packageColumns = `
	p.id, p.package_id, p.version, p.normalized_version, p.listed, p.published,
	p.downloads, p.is_prerelease, p.semver_level, p.authors, p.tags,
	p.title, p.summary, p.description, p.release_notes, p.language,
	p.min_client_version, p.require_license_acceptance, p.has_readme,
	p.has_embedded_icon, p.icon_url, p.license_url, p.project_url,
	p.repository_url, p.repository_type, p.storage_path, p.storage_backend,
	p.size_bytes, p.checksum, p.created_at`

func scanPackage(scanner interface{ Scan(...any) error }) (*models.Package, error) {
	p := &models.Package{}
	err := scanner.Scan(
		&p.ID, &p.PackageID, &p.Version, &p.NormalizedVersion, &p.Listed, &p.Published,
		&p.Downloads, &p.IsPrerelease, &p.SemVerLevel, pq.Array(&p.Authors), pq.Array(&p.Tags),
		&p.Title, &p.Summary, &p.Description, &p.ReleaseNotes, &p.Language,
		&p.MinClientVersion, &p.RequireLicenseAcceptance, &p.HasReadme,
		&p.HasEmbeddedIcon, &p.IconURL, &p.LicenseURL, &p.ProjectURL,
		&p.RepositoryURL, &p.RepositoryType, &p.StoragePath, &p.StorageBackend,
		&p.SizeBytes, &p.Checksum, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create inserts a package version together with its dependency, package-type,
// and target-framework rows in one transaction. A unique-constraint violation
// on (id, normalized version) is reported as ErrDuplicatePackage so that
// concurrent pushes for the same version resolve to exactly one success.
func (r *PackageRepository) Create(ctx context.Context, p *models.Package) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO packages (
			package_id, version, normalized_version, listed, published, downloads,
			is_prerelease, semver_level, authors, tags, title, summary, description,
			release_notes, language, min_client_version, require_license_acceptance,
			has_readme, has_embedded_icon, icon_url, license_url, project_url,
			repository_url, repository_type, storage_path, storage_backend,
			size_bytes, checksum
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28
		)
		RETURNING id, created_at
	`

	err = tx.QueryRowContext(ctx, query,
		p.PackageID, p.Version, p.NormalizedVersion, p.Listed, p.Published, p.Downloads,
		p.IsPrerelease, p.SemVerLevel, pq.Array(p.Authors), pq.Array(p.Tags),
		p.Title, p.Summary, p.Description, p.ReleaseNotes, p.Language,
		p.MinClientVersion, p.RequireLicenseAcceptance, p.HasReadme, p.HasEmbeddedIcon,
		p.IconURL, p.LicenseURL, p.ProjectURL, p.RepositoryURL, p.RepositoryType,
		p.StoragePath, p.StorageBackend, p.SizeBytes, p.Checksum,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicatePackage
		}
		return fmt.Errorf("failed to insert package: %w", err)
	}

	for i := range p.Dependencies {
		dep := &p.Dependencies[i]
		dep.PackageKey = p.ID
		_, err = tx.ExecContext(ctx,
			`INSERT INTO package_dependencies (package_key, dependency_id, version_range, target_framework)
			 VALUES ($1, $2, $3, $4)`,
			p.ID, dep.DependencyID, dep.VersionRange, dep.TargetFramework)
		if err != nil {
			return fmt.Errorf("failed to insert dependency: %w", err)
		}
	}

	for i := range p.PackageTypes {
		pt := &p.PackageTypes[i]
		pt.PackageKey = p.ID
		_, err = tx.ExecContext(ctx,
			`INSERT INTO package_types (package_key, name, version) VALUES ($1, $2, $3)`,
			p.ID, pt.Name, pt.Version)
		if err != nil {
			return fmt.Errorf("failed to insert package type: %w", err)
		}
	}

	for _, moniker := range p.TargetFrameworks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO package_target_frameworks (package_key, moniker) VALUES ($1, $2)`,
			p.ID, moniker)
		if err != nil {
			return fmt.Errorf("failed to insert target framework: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit package insert: %w", err)
	}
	return nil
}

// FindByIDVersion retrieves one package version by case-insensitive id and
// normalized version. Returns nil when no row exists.
func (r *PackageRepository) FindByIDVersion(ctx context.Context, packageID, normalizedVersion string) (*models.Package, error) {
	query := `SELECT` + packageColumns + `
		FROM packages p
		WHERE lower(p.package_id) = lower($1) AND p.normalized_version = $2`

	row := r.db.QueryRowContext(ctx, query, packageID, strings.ToLower(normalizedVersion))
	p, err := scanPackage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get package: %w", err)
	}

	if err := r.loadChildren(ctx, []*models.Package{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// FindByID retrieves every version of a package id, with dependency,
// package-type, and framework children loaded. Unlisted versions are included
// only when includeUnlisted is set. Returns an empty slice when unknown.
func (r *PackageRepository) FindByID(ctx context.Context, packageID string, includeUnlisted bool) ([]*models.Package, error) {
	query := `SELECT` + packageColumns + `
		FROM packages p
		WHERE lower(p.package_id) = lower($1)`
	if !includeUnlisted {
		query += ` AND p.listed = TRUE`
	}
	query += ` ORDER BY p.normalized_version`

	rows, err := r.db.QueryContext(ctx, query, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query package versions: %w", err)
	}
	defer rows.Close()

	var packages []*models.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		packages = append(packages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate package versions: %w", err)
	}

	if err := r.loadChildren(ctx, packages); err != nil {
		return nil, err
	}
	return packages, nil
}

// Exists reports whether any version of the package id is in the catalog.
func (r *PackageRepository) Exists(ctx context.Context, packageID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM packages WHERE lower(package_id) = lower($1))`,
		packageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check package existence: %w", err)
	}
	return exists, nil
}

// HardDelete removes the metadata row (children cascade). Returns false when
// no row matched.
func (r *PackageRepository) HardDelete(ctx context.Context, packageID, normalizedVersion string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM packages WHERE lower(package_id) = lower($1) AND normalized_version = $2`,
		packageID, strings.ToLower(normalizedVersion))
	if err != nil {
		return false, fmt.Errorf("failed to delete package: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return affected > 0, nil
}

// SetListed flips the visibility flag of one version. Returns false when no
// row matched.
func (r *PackageRepository) SetListed(ctx context.Context, packageID, normalizedVersion string, listed bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE packages SET listed = $3 WHERE lower(package_id) = lower($1) AND normalized_version = $2`,
		packageID, strings.ToLower(normalizedVersion), listed)
	if err != nil {
		return false, fmt.Errorf("failed to update listed flag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return affected > 0, nil
}

// AddDownload increments the download counter of one version.
func (r *PackageRepository) AddDownload(ctx context.Context, packageID, normalizedVersion string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE packages SET downloads = downloads + 1
		 WHERE lower(package_id) = lower($1) AND normalized_version = $2`,
		packageID, strings.ToLower(normalizedVersion))
	if err != nil {
		return fmt.Errorf("failed to increment downloads: %w", err)
	}
	return nil
}

// filterClause renders the structural search predicates. Listed-only always
// applies; the argument slice is extended in place and returned.
func filterClause(f SearchFilters, args []any) (string, []any) {
	var sb strings.Builder
	sb.WriteString(" p.listed = TRUE")

	if f.TextQuery != "" {
		args = append(args, "%"+strings.ToLower(f.TextQuery)+"%")
		fmt.Fprintf(&sb, " AND lower(p.package_id) LIKE $%d", len(args))
	}
	if !f.IncludePrerelease {
		sb.WriteString(" AND p.is_prerelease = FALSE")
	}
	if !f.IncludeSemVer2 {
		sb.WriteString(" AND p.semver_level <> 2")
	}
	if f.PackageType != "" {
		args = append(args, f.PackageType)
		fmt.Fprintf(&sb, " AND EXISTS (SELECT 1 FROM package_types t WHERE t.package_key = p.id AND t.name = $%d)", len(args))
	}
	if f.Frameworks != nil {
		args = append(args, pq.Array(f.Frameworks))
		fmt.Fprintf(&sb, " AND EXISTS (SELECT 1 FROM package_target_frameworks tf WHERE tf.package_key = p.id AND tf.moniker = ANY($%d))", len(args))
	}

	return sb.String(), args
}

func orderClause(order SearchOrder) string {
	if order == OrderByDownloads {
		return " ORDER BY max_downloads DESC, pid ASC"
	}
	return " ORDER BY pid ASC"
}

// DistinctIDs returns one page of distinct package ids matching the filters,
// ordered deterministically. This is the set-oriented path used when no
// tag/author clauses are present.
func (r *PackageRepository) DistinctIDs(ctx context.Context, f SearchFilters, order SearchOrder, skip, take int) ([]string, error) {
	var args []any
	where, args := filterClause(f, args)

	args = append(args, take, skip)
	query := `
		SELECT p.package_id AS pid, MAX(p.downloads) AS max_downloads
		FROM packages p
		WHERE` + where + `
		GROUP BY p.package_id` +
		orderClause(order) +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct package ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var downloads int64
		if err := rows.Scan(&id, &downloads); err != nil {
			return nil, fmt.Errorf("failed to scan package id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate package ids: %w", err)
	}
	return ids, nil
}

// StreamCandidates enumerates {id, tags, authors} projections matching the
// filters in the requested deterministic order, invoking fn per row. fn
// returns false to stop early (page filled). The scan checks ctx between rows
// because an unfiltered tag/author walk can cover the whole catalog.
func (r *PackageRepository) StreamCandidates(ctx context.Context, f SearchFilters, order SearchOrder, fn func(FilterCandidate) bool) error {
	var args []any
	where, args := filterClause(f, args)

	query := `
		SELECT p.package_id AS pid, p.tags, p.authors, p.downloads AS max_downloads
		FROM packages p
		WHERE` + where +
		strings.Replace(orderClause(order), "max_downloads", "p.downloads", 1)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to stream search candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var c FilterCandidate
		var downloads int64
		if err := rows.Scan(&c.PackageID, pq.Array(&c.Tags), pq.Array(&c.Authors), &downloads); err != nil {
			return fmt.Errorf("failed to scan search candidate: %w", err)
		}
		if !fn(c) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate search candidates: %w", err)
	}
	return nil
}

// FindByIDsFiltered fetches every version of the selected ids with the
// structural filters re-applied and children loaded. The search engine must
// see all matching versions of a selected id, not just the page rows, so
// latest-version and aggregate-download data are correct.
func (r *PackageRepository) FindByIDsFiltered(ctx context.Context, ids []string, f SearchFilters) ([]*models.Package, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	lowered := make([]string, len(ids))
	for i, id := range ids {
		lowered[i] = strings.ToLower(id)
	}

	args := []any{pq.Array(lowered)}
	where, args := filterClause(f, args)
	query := `SELECT` + packageColumns + `
		FROM packages p
		WHERE lower(p.package_id) = ANY($1) AND` + where + `
		ORDER BY lower(p.package_id), p.normalized_version`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages by id: %w", err)
	}
	defer rows.Close()

	var packages []*models.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		packages = append(packages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate packages: %w", err)
	}

	if err := r.loadChildren(ctx, packages); err != nil {
		return nil, err
	}
	return packages, nil
}

// FindDependents returns up to limit listed packages depending on packageID,
// most-downloaded first.
func (r *PackageRepository) FindDependents(ctx context.Context, packageID string, limit int) ([]Dependent, error) {
	query := `
		SELECT DISTINCT ON (p.package_id) p.package_id, p.description, p.downloads
		FROM packages p
		JOIN package_dependencies d ON d.package_key = p.id
		WHERE p.listed = TRUE AND lower(d.dependency_id) = lower($1)
		ORDER BY p.package_id, p.downloads DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, packageID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependents: %w", err)
	}
	defer rows.Close()

	var dependents []Dependent
	for rows.Next() {
		var d Dependent
		if err := rows.Scan(&d.PackageID, &d.Description, &d.TotalDownloads); err != nil {
			return nil, fmt.Errorf("failed to scan dependent: %w", err)
		}
		dependents = append(dependents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dependents: %w", err)
	}
	return dependents, nil
}

// StreamAllIDs enumerates every distinct package id in the catalog, listed or
// not. Used by the background search reindex job.
func (r *PackageRepository) StreamAllIDs(ctx context.Context, fn func(string) bool) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT package_id FROM packages ORDER BY package_id`)
	if err != nil {
		return fmt.Errorf("failed to stream package ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan package id: %w", err)
		}
		if !fn(id) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate package ids: %w", err)
	}
	return nil
}

// loadChildren populates Dependencies, PackageTypes, and TargetFrameworks for
// the given packages in three batched queries.
func (r *PackageRepository) loadChildren(ctx context.Context, packages []*models.Package) error {
	if len(packages) == 0 {
		return nil
	}

	byKey := make(map[string]*models.Package, len(packages))
	keys := make([]string, 0, len(packages))
	for _, p := range packages {
		byKey[p.ID] = p
		keys = append(keys, p.ID)
	}

	depRows, err := r.db.QueryContext(ctx,
		`SELECT id, package_key, dependency_id, version_range, target_framework
		 FROM package_dependencies WHERE package_key = ANY($1)`, pq.Array(keys))
	if err != nil {
		return fmt.Errorf("failed to load dependencies: %w", err)
	}
	defer depRows.Close()
	for depRows.Next() {
		var d models.Dependency
		if err := depRows.Scan(&d.ID, &d.PackageKey, &d.DependencyID, &d.VersionRange, &d.TargetFramework); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		if p, ok := byKey[d.PackageKey]; ok {
			p.Dependencies = append(p.Dependencies, d)
		}
	}
	if err := depRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate dependencies: %w", err)
	}

	typeRows, err := r.db.QueryContext(ctx,
		`SELECT id, package_key, name, version
		 FROM package_types WHERE package_key = ANY($1)`, pq.Array(keys))
	if err != nil {
		return fmt.Errorf("failed to load package types: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var pt models.PackageType
		if err := typeRows.Scan(&pt.ID, &pt.PackageKey, &pt.Name, &pt.Version); err != nil {
			return fmt.Errorf("failed to scan package type: %w", err)
		}
		if p, ok := byKey[pt.PackageKey]; ok {
			p.PackageTypes = append(p.PackageTypes, pt)
		}
	}
	if err := typeRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate package types: %w", err)
	}

	tfRows, err := r.db.QueryContext(ctx,
		`SELECT package_key, moniker
		 FROM package_target_frameworks WHERE package_key = ANY($1)`, pq.Array(keys))
	if err != nil {
		return fmt.Errorf("failed to load target frameworks: %w", err)
	}
	defer tfRows.Close()
	for tfRows.Next() {
		var key, moniker string
		if err := tfRows.Scan(&key, &moniker); err != nil {
			return fmt.Errorf("failed to scan target framework: %w", err)
		}
		if p, ok := byKey[key]; ok {
			p.TargetFrameworks = append(p.TargetFrameworks, moniker)
		}
	}
	if err := tfRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate target frameworks: %w", err)
	}

	return nil
}
