package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quillworks/quill/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, "") // in-memory
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, email string) string {
	t.Helper()
	user := &model.User{Email: email, PasswordHash: "x", Name: "Test", IsActive: true}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user.ID
}

func seedKey(t *testing.T, s *Store, userID, name, prefix string) *model.APIKey {
	t.Helper()
	key := &model.APIKey{
		UserID:       userID,
		Name:         name,
		KeyHash:      "hash-" + prefix,
		KeyPrefix:    prefix,
		Scopes:       model.StringList{"*"},
		RateLimitRPM: 60,
		RateLimitRPD: 10000,
		IsActive:     true,
	}
	if err := s.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return key
}

func TestAPIKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := seedUser(t, s, "ada@example.com")

	key := seedKey(t, s, userID, "agent", "nb_live_aaaaaaaa")
	if key.ID == "" {
		t.Fatal("expected non-empty ID after create")
	}

	// Lookup by prefix.
	got, err := s.GetAPIKeyByPrefix(ctx, "nb_live_aaaaaaaa")
	if err != nil {
		t.Fatalf("GetAPIKeyByPrefix: %v", err)
	}
	if got.ID != key.ID {
		t.Errorf("got id %q, want %q", got.ID, key.ID)
	}
	if got.Scopes[0] != "*" {
		t.Errorf("scopes round-trip = %v, want [*]", got.Scopes)
	}

	if _, err := s.GetAPIKeyByPrefix(ctx, "nb_live_missing0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing prefix err = %v, want ErrNotFound", err)
	}

	// Owner-scoped fetch.
	if _, err := s.GetAPIKey(ctx, userID, key.ID); err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	otherID := seedUser(t, s, "bob@example.com")
	if _, err := s.GetAPIKey(ctx, otherID, key.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user fetch err = %v, want ErrNotFound", err)
	}

	// List, newest first.
	seedKey(t, s, userID, "second", "nb_live_bbbbbbbb")
	keys, err := s.ListAPIKeys(ctx, userID)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}

	// Update policy.
	key.Scopes = model.StringList{"notes", "read"}
	key.RateLimitRPM = 30
	if err := s.UpdateAPIKeyPolicy(ctx, key); err != nil {
		t.Fatalf("UpdateAPIKeyPolicy: %v", err)
	}
	got, _ = s.GetAPIKey(ctx, userID, key.ID)
	if got.RateLimitRPM != 30 || len(got.Scopes) != 2 {
		t.Errorf("update not persisted: rpm=%d scopes=%v", got.RateLimitRPM, got.Scopes)
	}

	// Delete.
	if err := s.DeleteAPIKey(ctx, userID, key.ID); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	if err := s.DeleteAPIKey(ctx, userID, key.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestRotateAPIKeySecret(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := seedUser(t, s, "ada@example.com")
	key := seedKey(t, s, userID, "agent", "nb_live_aaaaaaaa")

	if err := s.RotateAPIKeySecret(ctx, key.ID, "newhash", "nb_live_cccccccc"); err != nil {
		t.Fatalf("RotateAPIKeySecret: %v", err)
	}

	if _, err := s.GetAPIKeyByPrefix(ctx, "nb_live_aaaaaaaa"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old prefix still resolves: err = %v", err)
	}
	got, err := s.GetAPIKeyByPrefix(ctx, "nb_live_cccccccc")
	if err != nil {
		t.Fatalf("new prefix lookup: %v", err)
	}
	if got.KeyHash != "newhash" {
		t.Errorf("hash = %q, want %q", got.KeyHash, "newhash")
	}

	if err := s.RotateAPIKeySecret(ctx, "missing", "h", "p"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rotate missing key err = %v, want ErrNotFound", err)
	}
}

func TestSetAPIKeyActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := seedUser(t, s, "ada@example.com")
	key := seedKey(t, s, userID, "agent", "nb_live_aaaaaaaa")

	if err := s.SetAPIKeyActive(ctx, key.ID, false); err != nil {
		t.Fatalf("SetAPIKeyActive: %v", err)
	}
	got, _ := s.GetAPIKey(ctx, userID, key.ID)
	if got.IsActive {
		t.Error("key still active after revocation")
	}
}

func TestRecordUsageIncrementsAndDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := seedUser(t, s, "ada@example.com")
	key := seedKey(t, s, userID, "agent", "nb_live_aaaaaaaa")

	delta := UsageDelta{
		RequestID: "req-1",
		Endpoint:  "/api/v1/notebooks",
		Method:    "GET",
		TokensIn:  100,
		TokensOut: 250,
		CostUSD:   0.0125,
	}

	updated, err := s.RecordUsage(ctx, key.ID, delta)
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if updated.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", updated.TotalRequests)
	}
	if updated.TotalTokensIn != 100 || updated.TotalTokensOut != 250 {
		t.Errorf("tokens = (%d, %d), want (100, 250)", updated.TotalTokensIn, updated.TotalTokensOut)
	}
	if updated.TotalCostUSD < 0.0124 || updated.TotalCostUSD > 0.0126 {
		t.Errorf("TotalCostUSD = %v, want ~0.0125", updated.TotalCostUSD)
	}
	if updated.LastUsedAt == nil {
		t.Error("LastUsedAt not set")
	}

	// Same request id again: rejected, counters untouched.
	if _, err := s.RecordUsage(ctx, key.ID, delta); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("replay err = %v, want ErrDuplicateRequest", err)
	}
	got, _ := s.GetAPIKey(ctx, userID, key.ID)
	if got.TotalRequests != 1 {
		t.Errorf("TotalRequests after replay = %d, want 1", got.TotalRequests)
	}

	// A fresh request id counts.
	delta.RequestID = "req-2"
	updated, err = s.RecordUsage(ctx, key.ID, delta)
	if err != nil {
		t.Fatalf("RecordUsage req-2: %v", err)
	}
	if updated.TotalRequests != 2 {
		t.Errorf("TotalRequests = %d, want 2", updated.TotalRequests)
	}
}

func TestCountUsageSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := seedUser(t, s, "ada@example.com")
	key := seedKey(t, s, userID, "agent", "nb_live_aaaaaaaa")

	for _, id := range []string{"r1", "r2", "r3"} {
		if _, err := s.RecordUsage(ctx, key.ID, UsageDelta{RequestID: id, Endpoint: "/x", Method: "GET"}); err != nil {
			t.Fatalf("RecordUsage %s: %v", id, err)
		}
	}

	count, err := s.CountUsageSince(ctx, key.ID, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountUsageSince: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	count, err = s.CountUsageSince(ctx, key.ID, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("CountUsageSince future: %v", err)
	}
	if count != 0 {
		t.Errorf("future count = %d, want 0", count)
	}
}

func TestDeleteAPIKeyCascadesUsageLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := seedUser(t, s, "ada@example.com")
	key := seedKey(t, s, userID, "agent", "nb_live_aaaaaaaa")

	if _, err := s.RecordUsage(ctx, key.ID, UsageDelta{RequestID: "r1", Endpoint: "/x", Method: "GET"}); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := s.DeleteAPIKey(ctx, userID, key.ID); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	count, err := s.CountUsageSince(ctx, key.ID, time.Time{})
	if err != nil {
		t.Fatalf("CountUsageSince: %v", err)
	}
	if count != 0 {
		t.Errorf("usage logs survived key deletion: count = %d", count)
	}
}
