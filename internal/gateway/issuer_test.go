package gateway

import (
	"context"
	"strings"
	"testing"
)

func TestIssueGeneratesWellFormedSecret(t *testing.T) {
	st := newTestStore(t)
	userID := seedUser(t, st, "ada@example.com")

	key, secret, err := NewIssuer(st).Issue(context.Background(), userID, KeyPolicy{Name: "agent"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if !strings.HasPrefix(secret, "nb_live_") {
		t.Errorf("secret %q missing scheme prefix", secret)
	}
	if len(secret) != len("nb_live_")+64 {
		t.Errorf("secret length = %d, want %d", len(secret), len("nb_live_")+64)
	}
	if key.KeyPrefix != secret[:16] {
		t.Errorf("KeyPrefix = %q, want first 16 chars of secret %q", key.KeyPrefix, secret[:16])
	}
	if key.KeyHash == secret || key.KeyHash == "" {
		t.Error("stored hash must not be the plaintext secret")
	}
	if key.KeyHash != HashSecret(secret) {
		t.Error("stored hash does not verify against the secret")
	}
}

func TestIssueAppliesDefaults(t *testing.T) {
	st := newTestStore(t)
	userID := seedUser(t, st, "ada@example.com")

	key, _, err := NewIssuer(st).Issue(context.Background(), userID, KeyPolicy{Name: "agent"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(key.Scopes) != 1 || key.Scopes[0] != ScopeAll {
		t.Errorf("default scopes = %v, want [*]", key.Scopes)
	}
	if key.RateLimitRPM != DefaultRateLimitRPM {
		t.Errorf("default rpm = %d, want %d", key.RateLimitRPM, DefaultRateLimitRPM)
	}
	if key.RateLimitRPD != DefaultRateLimitRPD {
		t.Errorf("default rpd = %d, want %d", key.RateLimitRPD, DefaultRateLimitRPD)
	}
	if !key.IsActive {
		t.Error("new key not active")
	}
}

func TestIssueRejectsBadPolicies(t *testing.T) {
	st := newTestStore(t)
	userID := seedUser(t, st, "ada@example.com")
	issuer := NewIssuer(st)
	ctx := context.Background()

	tests := []struct {
		name   string
		policy KeyPolicy
	}{
		{"missing name", KeyPolicy{}},
		{"unknown scope", KeyPolicy{Name: "k", Scopes: []string{"admin"}}},
		{"negative rpm", KeyPolicy{Name: "k", RateLimitRPM: -1}},
		{"negative rpd", KeyPolicy{Name: "k", RateLimitRPD: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := issuer.Issue(ctx, userID, tt.policy); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestVerifySecret(t *testing.T) {
	hash := HashSecret("nb_live_abc")
	if !VerifySecret(hash, "nb_live_abc") {
		t.Error("correct secret rejected")
	}
	if VerifySecret(hash, "nb_live_abd") {
		t.Error("wrong secret accepted")
	}
}

func TestExtractPrefix(t *testing.T) {
	secret := "nb_live_0123456789abcdef0123456789abcdef"
	prefix, err := ExtractPrefix(secret)
	if err != nil {
		t.Fatalf("ExtractPrefix: %v", err)
	}
	if prefix != secret[:16] {
		t.Errorf("prefix = %q, want %q", prefix, secret[:16])
	}

	for _, bad := range []string{"", "nb_live", "sk_test_0123456789abcdef", "short"} {
		if _, err := ExtractPrefix(bad); err == nil {
			t.Errorf("ExtractPrefix(%q): expected error", bad)
		}
	}
}
