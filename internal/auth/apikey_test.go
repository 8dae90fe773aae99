package auth

import "testing"

func mustHash(t *testing.T, secret string) string {
	t.Helper()
	h, err := HashSecret(secret, MinHashIterations)
	if err != nil {
		t.Fatalf("HashSecret(%q): %v", secret, err)
	}
	return h
}

func TestAuthenticateOpenRegistry(t *testing.T) {
	a := NewAuthenticator("", "", nil)

	if a.Required() {
		t.Error("Required() = true with no configured keys")
	}
	for _, presented := range []string{"", "anything", "   "} {
		if !a.Authenticate(presented) {
			t.Errorf("Authenticate(%q) = false in open mode, want true", presented)
		}
	}
}

func TestAuthenticateWhitespaceOnlyKeysMeanOpen(t *testing.T) {
	a := NewAuthenticator("  ", "", []Credential{{Key: " "}, {}})
	if a.Required() {
		t.Error("Required() = true with only blank keys")
	}
	if !a.Authenticate("whatever") {
		t.Error("Authenticate = false with only blank keys, want true")
	}
}

func TestAuthenticateLegacyKey(t *testing.T) {
	a := NewAuthenticator("abc", "", nil)

	if !a.Authenticate("abc") {
		t.Error(`Authenticate("abc") = false, want true`)
	}
	if a.Authenticate("xyz") {
		t.Error(`Authenticate("xyz") = true, want false`)
	}
	if a.Authenticate("") {
		t.Error(`Authenticate("") = true, want false`)
	}
}

func TestAuthenticateLegacyKeyHash(t *testing.T) {
	a := NewAuthenticator("", mustHash(t, "hunter2"), nil)

	if !a.Authenticate("hunter2") {
		t.Error("Authenticate(matching secret) = false, want true")
	}
	if a.Authenticate("hunter3") {
		t.Error("Authenticate(wrong secret) = true, want false")
	}
}

func TestAuthenticateCredentialList(t *testing.T) {
	keys := []Credential{
		{Key: "team-a-key"},
		{KeyHash: mustHash(t, "team-b-key")},
		{Key: "team-c-key", KeyHash: mustHash(t, "team-c-rotated")},
	}
	a := NewAuthenticator("", "", keys)

	tests := []struct {
		name      string
		presented string
		want      bool
	}{
		{"plain entry", "team-a-key", true},
		{"hashed entry", "team-b-key", true},
		{"plain side of mixed entry", "team-c-key", true},
		{"hash side of mixed entry", "team-c-rotated", true},
		{"unknown key", "nope", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Authenticate(tt.presented); got != tt.want {
				t.Errorf("Authenticate(%q) = %v, want %v", tt.presented, got, tt.want)
			}
		})
	}
}

func TestAuthenticateAllSourcesConsulted(t *testing.T) {
	a := NewAuthenticator("legacy", mustHash(t, "legacy-rotated"), []Credential{{Key: "listed"}})

	for _, secret := range []string{"legacy", "legacy-rotated", "listed"} {
		if !a.Authenticate(secret) {
			t.Errorf("Authenticate(%q) = false, want true", secret)
		}
	}
	if a.Authenticate("unlisted") {
		t.Error(`Authenticate("unlisted") = true, want false`)
	}
}
