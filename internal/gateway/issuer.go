package gateway

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/quillworks/quill/internal/model"
	"github.com/quillworks/quill/internal/store"
)

// Secrets look like nb_live_<64 hex chars>. The prefix is the first
// prefixLen characters: non-secret, globally unique, and used for the O(1)
// store lookup before any hash comparison.
const (
	secretScheme = "nb_live_"
	secretBytes  = 32
	prefixLen    = 16
)

// Default policy values applied when the caller omits them.
const (
	DefaultRateLimitRPM = 60
	DefaultRateLimitRPD = 10000
)

// KeyPolicy is the caller-chosen policy for a new key.
type KeyPolicy struct {
	Name         string
	Scopes       []string
	RateLimitRPM int
	RateLimitRPD int
	AllowedIPs   []string
	ExpiresAt    *time.Time
	Description  string
}

// Issuer generates, hashes, and rotates API-key credentials. It is the only
// component that ever sees a secret in plaintext, and only at issue time.
type Issuer struct {
	store *store.Store
}

// NewIssuer returns an Issuer backed by the given store.
func NewIssuer(st *store.Store) *Issuer {
	return &Issuer{store: st}
}

// Issue creates a new key for ownerID and returns the record together with
// the plaintext secret. The secret is never retrievable again.
func (i *Issuer) Issue(ctx context.Context, ownerID string, policy KeyPolicy) (*model.APIKey, string, error) {
	if err := normalizePolicy(&policy); err != nil {
		return nil, "", err
	}

	secret, prefix, hash, err := generateSecret()
	if err != nil {
		return nil, "", err
	}

	var expires *time.Time
	if policy.ExpiresAt != nil {
		t := policy.ExpiresAt.UTC()
		expires = &t
	}

	key := &model.APIKey{
		UserID:       ownerID,
		Name:         policy.Name,
		KeyHash:      hash,
		KeyPrefix:    prefix,
		Scopes:       policy.Scopes,
		RateLimitRPM: policy.RateLimitRPM,
		RateLimitRPD: policy.RateLimitRPD,
		AllowedIPs:   policy.AllowedIPs,
		IsActive:     true,
		ExpiresAt:    expires,
		Description:  policy.Description,
	}

	if err := i.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, secret, nil
}

// Rotate replaces the key's secret. The store swaps hash and prefix in a
// single statement, so the previous secret fails the very next verification;
// requests already past verification are unaffected.
func (i *Issuer) Rotate(ctx context.Context, ownerID, keyID string) (*model.APIKey, string, error) {
	if _, err := i.store.GetAPIKey(ctx, ownerID, keyID); err != nil {
		return nil, "", err
	}

	secret, prefix, hash, err := generateSecret()
	if err != nil {
		return nil, "", err
	}

	if err := i.store.RotateAPIKeySecret(ctx, keyID, hash, prefix); err != nil {
		return nil, "", err
	}

	key, err := i.store.GetAPIKey(ctx, ownerID, keyID)
	if err != nil {
		return nil, "", err
	}
	return key, secret, nil
}

// Revoke disables the key without deleting it. The key id survives for
// audit, but every secret for it stops verifying.
func (i *Issuer) Revoke(ctx context.Context, ownerID, keyID string) error {
	if _, err := i.store.GetAPIKey(ctx, ownerID, keyID); err != nil {
		return err
	}
	return i.store.SetAPIKeyActive(ctx, keyID, false)
}

func generateSecret() (secret, prefix, hash string, err error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("generate key secret: %w", err)
	}
	secret = secretScheme + hex.EncodeToString(raw)
	return secret, secret[:prefixLen], HashSecret(secret), nil
}

// HashSecret returns the hex-encoded SHA-256 hash of a raw secret.
func HashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// VerifySecret compares a submitted secret against the stored hash in
// constant time.
func VerifySecret(storedHash, secret string) bool {
	candidate := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(candidate)) == 1
}

// ExtractPrefix pulls the lookup prefix out of a submitted credential
// without consulting the store. It rejects anything too short or not carrying
// the expected scheme.
func ExtractPrefix(secret string) (string, error) {
	if len(secret) < prefixLen || secret[:len(secretScheme)] != secretScheme {
		return "", &Error{Kind: KindInvalidCredential, Message: "malformed API key"}
	}
	return secret[:prefixLen], nil
}

func normalizePolicy(p *KeyPolicy) error {
	if p.Name == "" {
		return fmt.Errorf("key name is required")
	}
	if len(p.Scopes) == 0 {
		p.Scopes = []string{ScopeAll}
	}
	for _, s := range p.Scopes {
		if !ValidScope(s) {
			return fmt.Errorf("unknown scope %q", s)
		}
	}
	if p.RateLimitRPM == 0 {
		p.RateLimitRPM = DefaultRateLimitRPM
	}
	if p.RateLimitRPD == 0 {
		p.RateLimitRPD = DefaultRateLimitRPD
	}
	if p.RateLimitRPM < 0 || p.RateLimitRPD < 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}
