// Package gateway implements Quill's API-key authentication and
// rate-limiting pipeline. Every API-key-authenticated request passes through
// one Authorize call; the returned verdict carries the remaining budgets for
// rate-limit headers, and usage is metered separately after dispatch.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/quillworks/quill/internal/model"
	"github.com/quillworks/quill/internal/store"
)

// Request is one inbound authorization question.
type Request struct {
	// Token is the full bearer credential as submitted.
	Token string
	// RemoteIP is the requester's address, checked against the key's
	// allow-list when one is configured.
	RemoteIP string
	// Operation is the protected operation being attempted.
	Operation Operation
	// Resource, when set, is ownership-checked against the key's owner.
	Resource *ResourceRef
}

// Verdict is a successful authorization. Dispatch may proceed; the caller
// must meter usage through the Accountant only after dispatch succeeds.
type Verdict struct {
	Key          *model.APIKey
	UserID       string
	RemainingRPM int
	RemainingRPD int
}

// Gateway orchestrates lookup, liveness, IP, scope, rate-limit, and
// ownership checks, strictly in that order, short-circuiting on the first
// failure.
type Gateway struct {
	store      *store.Store
	limiter    *RateLimiter
	resolver   *Resolver
	accountant *Accountant

	// now is swappable for tests.
	now func() time.Time
}

// New wires a Gateway over the given store with a fresh in-process rate
// limiter.
func New(st *store.Store) *Gateway {
	return &Gateway{
		store:      st,
		limiter:    NewRateLimiter(),
		resolver:   NewResolver(st),
		accountant: NewAccountant(st),
		now:        time.Now,
	}
}

// Accountant returns the usage accountant sharing this gateway's store.
func (g *Gateway) Accountant() *Accountant {
	return g.accountant
}

// Limiter returns the gateway's rate limiter.
func (g *Gateway) Limiter() *RateLimiter {
	return g.limiter
}

// Resolver returns the ownership resolver sharing this gateway's store.
func (g *Gateway) Resolver() *Resolver {
	return g.resolver
}

// Authorize runs the full pipeline. A nil error means the request is
// authorized; any non-nil error is terminal for the request. Gateway-level
// refusals are *Error values; anything else is an infrastructure failure.
func (g *Gateway) Authorize(ctx context.Context, req Request) (*Verdict, error) {
	now := g.now()

	// LOOKUP: one indexed fetch by the non-secret prefix, then a
	// constant-time hash comparison. Unknown prefix and hash mismatch are
	// indistinguishable to the caller.
	prefix, err := ExtractPrefix(req.Token)
	if err != nil {
		return nil, err
	}

	key, err := g.store.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &Error{Kind: KindInvalidCredential, Message: "invalid API key"}
		}
		return nil, err
	}

	if !VerifySecret(key.KeyHash, req.Token) {
		return nil, &Error{Kind: KindInvalidCredential, Message: "invalid API key"}
	}

	// LIVENESS: revocation and expiry are authoritative regardless of any
	// later check.
	if !key.IsActive {
		return nil, &Error{Kind: KindKeyInactiveOrExpired, Message: "API key is disabled"}
	}
	if key.Expired(now) {
		return nil, &Error{Kind: KindKeyInactiveOrExpired, Message: "API key has expired"}
	}

	// IP_ALLOW: an absent or empty list means unrestricted.
	if len(key.AllowedIPs) > 0 && !key.AllowedIPs.Contains(req.RemoteIP) {
		return nil, &Error{Kind: KindIPNotAllowed, Message: "IP address not allowed"}
	}

	// SCOPE
	if err := AuthorizeScope(key.Scopes, req.Operation); err != nil {
		return nil, err
	}

	// RATE_LIMIT: a denied attempt consumes no budget; an allowed one is
	// never rolled back, even if the request is cancelled later.
	decision := g.limiter.Check(key.ID, key.RateLimitRPM, key.RateLimitRPD, now)
	if !decision.Allowed {
		return nil, &Error{
			Kind:         KindRateLimited,
			Message:      "rate limit exceeded",
			RetryAfter:   decision.RetryAfter,
			RemainingRPM: decision.RemainingRPM,
			RemainingRPD: decision.RemainingRPD,
		}
	}

	// OWNERSHIP
	if req.Resource != nil {
		if err := g.resolver.Resolve(ctx, key.UserID, *req.Resource); err != nil {
			return nil, err
		}
	}

	return &Verdict{
		Key:          key,
		UserID:       key.UserID,
		RemainingRPM: decision.RemainingRPM,
		RemainingRPD: decision.RemainingRPD,
	}, nil
}
