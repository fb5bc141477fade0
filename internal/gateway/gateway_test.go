package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quillworks/quill/internal/model"
	"github.com/quillworks/quill/internal/store"
)

// newTestStore opens an in-memory store for gateway tests.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.DriverSQLite, "")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// seedUser creates a user and returns its id.
func seedUser(t *testing.T, st *store.Store, email string) string {
	t.Helper()
	user := &model.User{
		Email:        email,
		PasswordHash: "x",
		Name:         "Test User",
		IsActive:     true,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seedUser: %v", err)
	}
	return user.ID
}

// seedNotebook creates a notebook owned by userID and returns its id.
func seedNotebook(t *testing.T, st *store.Store, userID, title string) string {
	t.Helper()
	nb := &model.Notebook{UserID: userID, Title: title}
	if err := st.CreateNotebook(context.Background(), nb); err != nil {
		t.Fatalf("seedNotebook: %v", err)
	}
	return nb.ID
}

// issueKey issues a key for userID with the given policy, failing the test
// on error.
func issueKey(t *testing.T, st *store.Store, userID string, policy KeyPolicy) (*model.APIKey, string) {
	t.Helper()
	if policy.Name == "" {
		policy.Name = "test key"
	}
	key, secret, err := NewIssuer(st).Issue(context.Background(), userID, policy)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return key, secret
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	ge, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error with kind %q, got %v", want, err)
	}
	if ge.Kind != want {
		t.Errorf("error kind = %q, want %q; message = %s", ge.Kind, want, ge.Message)
	}
}

func TestAuthorizeHappyPath(t *testing.T) {
	st := newTestStore(t)
	userID := seedUser(t, st, "ada@example.com")
	key, secret := issueKey(t, st, userID, KeyPolicy{})

	gw := New(st)
	verdict, err := gw.Authorize(context.Background(), Request{
		Token:     secret,
		Operation: OpNotebooksRead,
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if verdict.UserID != userID {
		t.Errorf("verdict.UserID = %q, want %q", verdict.UserID, userID)
	}
	if verdict.Key.ID != key.ID {
		t.Errorf("verdict.Key.ID = %q, want %q", verdict.Key.ID, key.ID)
	}
	if verdict.RemainingRPM != DefaultRateLimitRPM-1 {
		t.Errorf("RemainingRPM = %d, want %d", verdict.RemainingRPM, DefaultRateLimitRPM-1)
	}
	if verdict.RemainingRPD != DefaultRateLimitRPD-1 {
		t.Errorf("RemainingRPD = %d, want %d", verdict.RemainingRPD, DefaultRateLimitRPD-1)
	}
}

func TestAuthorizeUnknownAndMalformedCredentials(t *testing.T) {
	st := newTestStore(t)
	userID := seedUser(t, st, "ada@example.com")
	_, secret := issueKey(t, st, userID, KeyPolicy{})
	gw := New(st)
	ctx := context.Background()

	// Malformed: wrong scheme.
	_, err := gw.Authorize(ctx, Request{Token: "sk_test_deadbeef", Operation: OpNotebooksRead})
	assertKind(t, err, KindInvalidCredential)

	// Unknown prefix.
	_, err = gw.Authorize(ctx, Request{
		Token:     "nb_live_0000000000000000000000000000000000000000000000000000000000000000",
		Operation: OpNotebooksRead,
	})
	assertKind(t, err, KindInvalidCredential)

	// Known prefix, tampered secret. Must be indistinguishable from the
	// unknown-prefix case.
	tampered := secret[:len(secret)-1] + "f"
	if tampered == secret {
		tampered = secret[:len(secret)-1] + "0"
	}
	_, err = gw.Authorize(ctx, Request{Token: tampered, Operation: OpNotebooksRead})
	assertKind(t, err, KindInvalidCredential)
}

func TestAuthorizeRevokedKey(t *testing.T) {
	st := newTestStore(t)
	userID := seedUser(t, st, "ada@example.com")
	key, secret := issueKey(t, st, userID, KeyPolicy{})
	gw := New(st)
	ctx := context.Background()

	if err := NewIssuer(st).Revoke(ctx, userID, key.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	_, err := gw.Authorize(ctx, Request{Token: secret, Operation: OpNotebooksRead})
	assertKind(t, err, KindKeyInactiveOrExpired)
}

func TestAuthorizeExpiredKey(t *testing.T) {
	st := newTestStore(t)
	userID := seedUser(t, st, "ada@example.com")
	past := time.Now().UTC().Add(-time.Hour)
	_, secret := issueKey(t, st, userID, KeyPolicy{ExpiresAt: &past})
	gw := New(st)

	_, err := gw.Authorize(context.Background(), Request{Token: secret, Operation: OpNotebooksRead})
	assertKind(t, err, KindKeyInactiveOrExpired)
}

func TestAuthorizeIPAllowList(t *testing.T) {
	st := newTestStore(t)
	userID := seedUser(t, st, "ada@example.com")
	_, secret := issueKey(t, st, userID, KeyPolicy{AllowedIPs: []string{"10.0.0.5", "10.0.0.6"}})
	gw := New(st)
	ctx := context.Background()

	_, err := gw.Authorize(ctx, Request{Token: secret, RemoteIP: "10.0.0.9", Operation: OpNotebooksRead})
	assertKind(t, err, KindIPNotAllowed)

	if _, err := gw.Authorize(ctx, Request{Token: secret, RemoteIP: "10.0.0.5", Operation: OpNotebooksRead}); err != nil {
		t.Fatalf("allowed IP rejected: %v", err)
	}
}

func TestAuthorizeScopeEnforcement(t *testing.T) {
	st := newTestStore(t)
	userID := seedUser(t, st, "ada@example.com")
	_, secret := issueKey(t, st, userID, KeyPolicy{Scopes: []string{ScopeNotes, ScopeRead}})
	gw := New(st)
	ctx := context.Background()

	// Granted tag allows both directions.
	if _, err := gw.Authorize(ctx, Request{Token: secret, Operation: OpNotesWrite}); err != nil {
		t.Fatalf("notes write with notes scope: %v", err)
	}

	// Read grant covers non-mutating operations on other kinds.
	if _, err := gw.Authorize(ctx, Request{Token: secret, Operation: OpNotebooksRead}); err != nil {
		t.Fatalf("notebooks read with read scope: %v", err)
	}

	// But never mutations.
	_, err := gw.Authorize(ctx, Request{Token: secret, Operation: OpNotebooksWrite})
	assertKind(t, err, KindInsufficientScope)
	ge, _ := AsError(err)
	if ge.RequiredScope != ScopeNotebooks {
		t.Errorf("RequiredScope = %q, want %q", ge.RequiredScope, ScopeNotebooks)
	}
}

func TestAuthorizeRateLimitDeniedConsumesNoBudget(t *testing.T) {
	st := newTestStore(t)
	userID := seedUser(t, st, "ada@example.com")
	_, secret := issueKey(t, st, userID, KeyPolicy{RateLimitRPM: 2, RateLimitRPD: 100})
	gw := New(st)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	gw.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if _, err := gw.Authorize(ctx, Request{Token: secret, Operation: OpNotebooksRead}); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	_, err := gw.Authorize(ctx, Request{Token: secret, Operation: OpNotebooksRead})
	assertKind(t, err, KindRateLimited)
	ge, _ := AsError(err)
	if ge.RetryAfter <= 0 || ge.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v, want within (0, 1m]", ge.RetryAfter)
	}

	// Denied attempts must not consume budget: after the minute window
	// rolls, both slots are free again.
	now = now.Add(time.Minute)
	v, err := gw.Authorize(ctx, Request{Token: secret, Operation: OpNotebooksRead})
	if err != nil {
		t.Fatalf("after window reset: %v", err)
	}
	if v.RemainingRPM != 1 {
		t.Errorf("RemainingRPM after reset = %d, want 1", v.RemainingRPM)
	}
}

func TestAuthorizeOwnership(t *testing.T) {
	st := newTestStore(t)
	adaID := seedUser(t, st, "ada@example.com")
	bobID := seedUser(t, st, "bob@example.com")
	adaNB := seedNotebook(t, st, adaID, "Ada's notebook")
	_, bobSecret := issueKey(t, st, bobID, KeyPolicy{})
	gw := New(st)
	ctx := context.Background()

	// Bob's key on Ada's notebook: mismatch, not not-found.
	_, err := gw.Authorize(ctx, Request{
		Token:     bobSecret,
		Operation: OpNotebooksRead,
		Resource:  &ResourceRef{Kind: ResourceNotebook, ID: adaNB},
	})
	assertKind(t, err, KindOwnershipMismatch)

	// Missing notebook: not-found.
	_, err = gw.Authorize(ctx, Request{
		Token:     bobSecret,
		Operation: OpNotebooksRead,
		Resource:  &ResourceRef{Kind: ResourceNotebook, ID: "missing"},
	})
	assertKind(t, err, KindResourceNotFound)
}

func TestAuthorizeOwnershipWalksToParent(t *testing.T) {
	st := newTestStore(t)
	adaID := seedUser(t, st, "ada@example.com")
	bobID := seedUser(t, st, "bob@example.com")
	adaNB := seedNotebook(t, st, adaID, "Ada's notebook")
	ctx := context.Background()

	note := &model.Note{NotebookID: adaNB, Title: "secret", Content: "..", Kind: "manual"}
	if err := st.CreateNote(ctx, note); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	_, adaSecret := issueKey(t, st, adaID, KeyPolicy{})
	_, bobSecret := issueKey(t, st, bobID, KeyPolicy{})
	gw := New(st)

	if _, err := gw.Authorize(ctx, Request{
		Token:     adaSecret,
		Operation: OpNotesRead,
		Resource:  &ResourceRef{Kind: ResourceNote, ID: note.ID},
	}); err != nil {
		t.Fatalf("owner denied: %v", err)
	}

	_, err := gw.Authorize(ctx, Request{
		Token:     bobSecret,
		Operation: OpNotesRead,
		Resource:  &ResourceRef{Kind: ResourceNote, ID: note.ID},
	})
	assertKind(t, err, KindOwnershipMismatch)

	_, err = gw.Authorize(ctx, Request{
		Token:     bobSecret,
		Operation: OpNotesRead,
		Resource:  &ResourceRef{Kind: ResourceNote, ID: "missing"},
	})
	assertKind(t, err, KindResourceNotFound)
}

func TestRotationInvalidatesOldSecret(t *testing.T) {
	st := newTestStore(t)
	userID := seedUser(t, st, "ada@example.com")
	key, oldSecret := issueKey(t, st, userID, KeyPolicy{})
	gw := New(st)
	ctx := context.Background()

	rotated, newSecret, err := NewIssuer(st).Rotate(ctx, userID, key.ID)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.ID != key.ID {
		t.Errorf("rotation changed key id: %q -> %q", key.ID, rotated.ID)
	}
	if newSecret == oldSecret {
		t.Fatal("rotation returned the same secret")
	}
	if rotated.KeyPrefix == key.KeyPrefix {
		t.Error("rotation kept the old prefix")
	}

	_, err = gw.Authorize(ctx, Request{Token: oldSecret, Operation: OpNotebooksRead})
	assertKind(t, err, KindInvalidCredential)

	if _, err := gw.Authorize(ctx, Request{Token: newSecret, Operation: OpNotebooksRead}); err != nil {
		t.Fatalf("new secret rejected: %v", err)
	}
}

func TestPipelineOrderScopeBeforeRateLimit(t *testing.T) {
	st := newTestStore(t)
	userID := seedUser(t, st, "ada@example.com")
	_, secret := issueKey(t, st, userID, KeyPolicy{Scopes: []string{ScopeNotes}, RateLimitRPM: 1})
	gw := New(st)
	ctx := context.Background()

	// A scope refusal must not consume rate-limit budget.
	for i := 0; i < 5; i++ {
		_, err := gw.Authorize(ctx, Request{Token: secret, Operation: OpNotebooksWrite})
		assertKind(t, err, KindInsufficientScope)
	}
	if _, err := gw.Authorize(ctx, Request{Token: secret, Operation: OpNotesRead}); err != nil {
		t.Fatalf("in-scope request after refusals: %v", err)
	}
}

func TestAccountantDeduplicatesRequests(t *testing.T) {
	st := newTestStore(t)
	userID := seedUser(t, st, "ada@example.com")
	key, _ := issueKey(t, st, userID, KeyPolicy{})
	gw := New(st)
	ctx := context.Background()

	usage := Usage{RequestID: "req-1", Endpoint: "/api/v1/notebooks", Method: "GET", TokensIn: 10, TokensOut: 20, CostUSD: 0.003}

	updated, err := gw.Accountant().Record(ctx, key.ID, usage)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if updated.TotalRequests != 1 || updated.TotalTokensIn != 10 || updated.TotalTokensOut != 20 {
		t.Errorf("totals = (%d, %d, %d), want (1, 10, 20)",
			updated.TotalRequests, updated.TotalTokensIn, updated.TotalTokensOut)
	}
	if updated.LastUsedAt == nil {
		t.Error("LastUsedAt not set after recording")
	}

	// Replay of the same request id changes nothing.
	_, err = gw.Accountant().Record(ctx, key.ID, usage)
	if !errors.Is(err, store.ErrDuplicateRequest) {
		t.Fatalf("replay err = %v, want ErrDuplicateRequest", err)
	}

	after, err := st.GetAPIKey(ctx, userID, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if after.TotalRequests != 1 {
		t.Errorf("TotalRequests after replay = %d, want 1", after.TotalRequests)
	}
}
