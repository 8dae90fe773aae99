// Package frameworks resolves a requested .NET target framework moniker to
// the set of monikers whose packages can run on it. The table is static data;
// it covers the monikers modern clients send in search requests and is not a
// full NuGet framework-reduction implementation.
package frameworks

import "strings"

// compatibility maps a requested framework to every moniker compatible with
// it, the requested framework included. Keys and values are lower-case.
var compatibility = map[string][]string{
	"netstandard1.0": {"netstandard1.0"},
	"netstandard1.1": {"netstandard1.0", "netstandard1.1"},
	"netstandard1.2": {"netstandard1.0", "netstandard1.1", "netstandard1.2"},
	"netstandard1.3": {"netstandard1.0", "netstandard1.1", "netstandard1.2", "netstandard1.3"},
	"netstandard1.4": {"netstandard1.0", "netstandard1.1", "netstandard1.2", "netstandard1.3", "netstandard1.4"},
	"netstandard1.5": {"netstandard1.0", "netstandard1.1", "netstandard1.2", "netstandard1.3", "netstandard1.4", "netstandard1.5"},
	"netstandard1.6": {"netstandard1.0", "netstandard1.1", "netstandard1.2", "netstandard1.3", "netstandard1.4", "netstandard1.5", "netstandard1.6"},
	"netstandard2.0": {"netstandard1.0", "netstandard1.1", "netstandard1.2", "netstandard1.3", "netstandard1.4", "netstandard1.5", "netstandard1.6", "netstandard2.0"},
	"netstandard2.1": {"netstandard1.0", "netstandard1.1", "netstandard1.2", "netstandard1.3", "netstandard1.4", "netstandard1.5", "netstandard1.6", "netstandard2.0", "netstandard2.1"},

	"netcoreapp3.1": {"netcoreapp1.0", "netcoreapp1.1", "netcoreapp2.0", "netcoreapp2.1", "netcoreapp2.2", "netcoreapp3.0", "netcoreapp3.1", "netstandard1.0", "netstandard1.1", "netstandard1.2", "netstandard1.3", "netstandard1.4", "netstandard1.5", "netstandard1.6", "netstandard2.0", "netstandard2.1"},
	"net5.0":        {"netcoreapp1.0", "netcoreapp1.1", "netcoreapp2.0", "netcoreapp2.1", "netcoreapp2.2", "netcoreapp3.0", "netcoreapp3.1", "net5.0", "netstandard1.0", "netstandard1.1", "netstandard1.2", "netstandard1.3", "netstandard1.4", "netstandard1.5", "netstandard1.6", "netstandard2.0", "netstandard2.1"},
	"net6.0":        {"netcoreapp1.0", "netcoreapp1.1", "netcoreapp2.0", "netcoreapp2.1", "netcoreapp2.2", "netcoreapp3.0", "netcoreapp3.1", "net5.0", "net6.0", "netstandard1.0", "netstandard1.1", "netstandard1.2", "netstandard1.3", "netstandard1.4", "netstandard1.5", "netstandard1.6", "netstandard2.0", "netstandard2.1"},
	"net7.0":        {"netcoreapp1.0", "netcoreapp1.1", "netcoreapp2.0", "netcoreapp2.1", "netcoreapp2.2", "netcoreapp3.0", "netcoreapp3.1", "net5.0", "net6.0", "net7.0", "netstandard1.0", "netstandard1.1", "netstandard1.2", "netstandard1.3", "netstandard1.4", "netstandard1.5", "netstandard1.6", "netstandard2.0", "netstandard2.1"},
	"net8.0":        {"netcoreapp1.0", "netcoreapp1.1", "netcoreapp2.0", "netcoreapp2.1", "netcoreapp2.2", "netcoreapp3.0", "netcoreapp3.1", "net5.0", "net6.0", "net7.0", "net8.0", "netstandard1.0", "netstandard1.1", "netstandard1.2", "netstandard1.3", "netstandard1.4", "netstandard1.5", "netstandard1.6", "netstandard2.0", "netstandard2.1"},
	"net9.0":        {"netcoreapp1.0", "netcoreapp1.1", "netcoreapp2.0", "netcoreapp2.1", "netcoreapp2.2", "netcoreapp3.0", "netcoreapp3.1", "net5.0", "net6.0", "net7.0", "net8.0", "net9.0", "netstandard1.0", "netstandard1.1", "netstandard1.2", "netstandard1.3", "netstandard1.4", "netstandard1.5", "netstandard1.6", "netstandard2.0", "netstandard2.1"},

	"net48": {"net11", "net20", "net35", "net40", "net403", "net45", "net451", "net452", "net46", "net461", "net462", "net47", "net471", "net472", "net48", "netstandard1.0", "netstandard1.1", "netstandard1.2", "netstandard1.3", "netstandard1.4", "netstandard1.5", "netstandard1.6", "netstandard2.0"},
	"net472": {"net11", "net20", "net35", "net40", "net403", "net45", "net451", "net452", "net46", "net461", "net462", "net47", "net471", "net472", "netstandard1.0", "netstandard1.1", "netstandard1.2", "netstandard1.3", "netstandard1.4", "netstandard1.5", "netstandard1.6", "netstandard2.0"},
	"net462": {"net11", "net20", "net35", "net40", "net403", "net45", "net451", "net452", "net46", "net461", "net462", "netstandard1.0", "netstandard1.1", "netstandard1.2", "netstandard1.3", "netstandard1.4", "netstandard1.5", "netstandard1.6", "netstandard2.0"},
}

// CompatibleMonikers returns the frameworks whose packages run on the
// requested framework. The requested moniker is matched case-insensitively.
// Returns nil for an empty or unknown framework, which callers treat as "no
// framework filter".
func CompatibleMonikers(requested string) []string {
	if requested == "" {
		return nil
	}
	monikers, ok := compatibility[strings.ToLower(requested)]
	if !ok {
		return nil
	}
	out := make([]string, len(monikers))
	copy(out, monikers)
	return out
}
