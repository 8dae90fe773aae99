package frameworks

import "testing"

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func TestCompatibleMonikers(t *testing.T) {
	net6 := CompatibleMonikers("net6.0")
	if !contains(net6, "net6.0") {
		t.Error("a framework must be compatible with itself")
	}
	if !contains(net6, "netstandard2.1") {
		t.Error("net6.0 should accept netstandard2.1 packages")
	}
	if contains(net6, "net7.0") {
		t.Error("net6.0 must not accept net7.0 packages")
	}

	if got := CompatibleMonikers(""); got != nil {
		t.Errorf("empty framework should resolve to nil, got %v", got)
	}
	if got := CompatibleMonikers("silverlight5"); got != nil {
		t.Errorf("unknown framework should resolve to nil, got %v", got)
	}
}

func TestCompatibleMonikersCaseInsensitive(t *testing.T) {
	if got := CompatibleMonikers("NET8.0"); !contains(got, "net8.0") {
		t.Errorf("moniker lookup should ignore case, got %v", got)
	}
}

func TestCompatibleMonikersCopies(t *testing.T) {
	first := CompatibleMonikers("netstandard2.0")
	first[0] = "mutated"
	second := CompatibleMonikers("netstandard2.0")
	if second[0] == "mutated" {
		t.Error("returned slice must not alias the static table")
	}
}
