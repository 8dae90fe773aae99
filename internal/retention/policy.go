// Package retention computes which package versions fall outside the
// configured version quotas. The policy is a pure function over one package
// id's full version history; it performs no I/O. The indexing pipeline runs it
// after every successful push and hard-deletes whatever it reports.
package retention

import (
	"sort"

	"github.com/nuget-registry/nuget-registry/internal/versioning"
)

// Options holds the per-tier quotas. A quota of zero means the tier is not
// pruned at all.
type Options struct {
	// MaxMajorVersions is the number of major version groups to keep.
	MaxMajorVersions int `mapstructure:"max_major_versions"`
	// MaxMinorVersions is the number of minor groups kept per major.
	MaxMinorVersions int `mapstructure:"max_minor_versions"`
	// MaxPatchVersions is the number of patch groups kept per (major, minor).
	MaxPatchVersions int `mapstructure:"max_patch_versions"`
	// MaxPrereleaseVersions is the number of prerelease versions kept per
	// (major, minor, patch, release label). Stable versions are exempt.
	MaxPrereleaseVersions int `mapstructure:"max_prerelease_versions"`
}

// Enabled reports whether any tier has a quota set.
func (o Options) Enabled() bool {
	return o.MaxMajorVersions > 0 || o.MaxMinorVersions > 0 ||
		o.MaxPatchVersions > 0 || o.MaxPrereleaseVersions > 0
}

// Plan returns the versions that should be hard-deleted from the given
// history under the options. The input must be the complete version list for
// one package id, including any version just added. The returned slice shares
// elements with the input and carries no particular order.
func Plan(versions []*versioning.Version, opts Options) []*versioning.Version {
	if !opts.Enabled() || len(versions) == 0 {
		return nil
	}

	var doomed []*versioning.Version

	majors := groupBy(versions, func(v *versioning.Version) int { return v.Major() })
	doomed = append(doomed, trimGroups(majors, opts.MaxMajorVersions)...)

	for _, major := range keptGroups(majors, opts.MaxMajorVersions) {
		minors := groupBy(major, func(v *versioning.Version) int { return v.Minor() })
		doomed = append(doomed, trimGroups(minors, opts.MaxMinorVersions)...)

		for _, minor := range keptGroups(minors, opts.MaxMinorVersions) {
			patches := groupBy(minor, func(v *versioning.Version) int { return v.Patch() })
			doomed = append(doomed, trimGroups(patches, opts.MaxPatchVersions)...)

			if opts.MaxPrereleaseVersions <= 0 {
				continue
			}
			for _, patch := range keptGroups(patches, opts.MaxPatchVersions) {
				doomed = append(doomed, trimPrereleases(patch, opts.MaxPrereleaseVersions)...)
			}
		}
	}

	return doomed
}

// group is one tier partition, keyed by the numeric segment that formed it.
type group struct {
	key      int
	versions []*versioning.Version
}

func groupBy(versions []*versioning.Version, key func(*versioning.Version) int) []group {
	byKey := make(map[int][]*versioning.Version)
	for _, v := range versions {
		k := key(v)
		byKey[k] = append(byKey[k], v)
	}

	groups := make([]group, 0, len(byKey))
	for k, vs := range byKey {
		groups = append(groups, group{key: k, versions: vs})
	}
	// Highest segment first, so groups[:quota] is the retained set.
	sort.Slice(groups, func(i, j int) bool { return groups[i].key > groups[j].key })
	return groups
}

// trimGroups returns every version in the groups beyond the quota. quota <= 0
// keeps everything.
func trimGroups(groups []group, quota int) []*versioning.Version {
	if quota <= 0 || len(groups) <= quota {
		return nil
	}
	var doomed []*versioning.Version
	for _, g := range groups[quota:] {
		doomed = append(doomed, g.versions...)
	}
	return doomed
}

func keptGroups(groups []group, quota int) [][]*versioning.Version {
	if quota > 0 && len(groups) > quota {
		groups = groups[:quota]
	}
	kept := make([][]*versioning.Version, len(groups))
	for i, g := range groups {
		kept[i] = g.versions
	}
	return kept
}

// trimPrereleases applies the prerelease quota within one patch group,
// independently per release label. Stable versions never appear in the result.
func trimPrereleases(versions []*versioning.Version, quota int) []*versioning.Version {
	byLabel := make(map[string][]*versioning.Version)
	for _, v := range versions {
		if !v.IsPrerelease() {
			continue
		}
		label := v.ReleaseLabel()
		byLabel[label] = append(byLabel[label], v)
	}

	var doomed []*versioning.Version
	for _, vs := range byLabel {
		if len(vs) <= quota {
			continue
		}
		sort.Slice(vs, func(i, j int) bool { return vs[j].Less(vs[i]) })
		doomed = append(doomed, vs[quota:]...)
	}
	return doomed
}
