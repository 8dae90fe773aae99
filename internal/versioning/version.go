// Package versioning wraps hashicorp/go-version with the NuGet-flavoured
// semantics the registry needs: normalized version strings, prerelease and
// SemVer-level detection, and precedence-ordered sorting. Build metadata is
// preserved in the full string but ignored for precedence, matching semantic
// versioning rules.
package versioning

import (
	"fmt"
	"sort"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// SemVerLevel identifies which semantic versioning level a version requires.
// Clients that only understand SemVer 1.0.0 must not be served SemVer 2.0.0
// packages (dotted prerelease labels or build metadata).
type SemVerLevel int

const (
	SemVer1 SemVerLevel = 0
	SemVer2 SemVerLevel = 2
)

// Version is a parsed package version.
type Version struct {
	parsed   *goversion.Version
	original string
}

// Parse parses a version string. Leading "v" is not accepted; package versions
// are plain semver with optional prerelease labels and build metadata.
func Parse(s string) (*Version, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("version string is empty")
	}
	if strings.HasPrefix(trimmed, "v") || strings.HasPrefix(trimmed, "V") {
		return nil, fmt.Errorf("invalid version %q: leading v prefix is not allowed", s)
	}

	parsed, err := goversion.NewVersion(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", s, err)
	}

	return &Version{parsed: parsed, original: trimmed}, nil
}

// MustParse is Parse for test fixtures and constants; it panics on error.
func MustParse(s string) *Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Compare returns -1, 0, or 1 per semantic-version precedence. Build metadata
// is ignored, so "1.0.0+a" and "1.0.0+b" compare equal.
func (v *Version) Compare(other *Version) int {
	return v.parsed.Compare(other.parsed)
}

// Less reports whether v has lower precedence than other.
func (v *Version) Less(other *Version) bool {
	return v.Compare(other) < 0
}

// Major returns the major version segment.
func (v *Version) Major() int { return v.parsed.Segments()[0] }

// Minor returns the minor version segment.
func (v *Version) Minor() int { return v.parsed.Segments()[1] }

// Patch returns the patch version segment.
func (v *Version) Patch() int { return v.parsed.Segments()[2] }

// IsPrerelease reports whether the version carries a prerelease label.
func (v *Version) IsPrerelease() bool {
	return v.parsed.Prerelease() != ""
}

// Prerelease returns the full prerelease label ("beta.1"), or "".
func (v *Version) Prerelease() string {
	return v.parsed.Prerelease()
}

// ReleaseLabel returns the first dot-separated token of the prerelease label,
// lower-cased ("beta" for "1.0.0-Beta.3"). It returns "" for stable versions.
// Retention quotas are applied per release label.
func (v *Version) ReleaseLabel() string {
	pre := v.parsed.Prerelease()
	if pre == "" {
		return ""
	}
	if i := strings.IndexByte(pre, '.'); i >= 0 {
		pre = pre[:i]
	}
	return strings.ToLower(pre)
}

// Metadata returns the build metadata ("build.7" for "1.0.0+build.7"), or "".
func (v *Version) Metadata() string {
	return v.parsed.Metadata()
}

// Level returns SemVer2 when the version uses dotted prerelease labels or
// build metadata, SemVer1 otherwise.
func (v *Version) Level() SemVerLevel {
	if strings.Contains(v.parsed.Prerelease(), ".") || v.parsed.Metadata() != "" {
		return SemVer2
	}
	return SemVer1
}

// Normalized returns the canonical lower-case version string used as the
// uniqueness key and in registration page bounds: three numeric segments (a
// fourth only when non-zero), prerelease label retained, build metadata
// stripped.
func (v *Version) Normalized() string {
	segments := v.parsed.Segments()

	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", segments[0], segments[1], segments[2])
	if len(segments) > 3 && segments[3] != 0 {
		fmt.Fprintf(&b, ".%d", segments[3])
	}
	if pre := v.parsed.Prerelease(); pre != "" {
		b.WriteByte('-')
		b.WriteString(strings.ToLower(pre))
	}
	return b.String()
}

// Full returns the version exactly as supplied, including build metadata.
func (v *Version) Full() string { return v.original }

// String implements fmt.Stringer using the normalized form.
func (v *Version) String() string { return v.Normalized() }

// Sort orders versions ascending by precedence, in place.
func Sort(versions []*Version) {
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Less(versions[j])
	})
}

// Compare parses and compares two version strings.
// Returns -1 if a < b, 0 if equal, 1 if a > b.
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, fmt.Errorf("invalid version a: %w", err)
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, fmt.Errorf("invalid version b: %w", err)
	}
	return va.Compare(vb), nil
}
