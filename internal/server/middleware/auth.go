package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/quillworks/quill/internal/gateway"
	"github.com/quillworks/quill/internal/model"
	"github.com/quillworks/quill/internal/service"
	"github.com/quillworks/quill/internal/store"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// Principal is the authenticated identity making the request. Exactly one of
// the two auth methods produced it.
type Principal struct {
	Type    string // "session" or "api_key"
	UserID  string
	Email   string
	Key     *model.APIKey // nil for sessions
	Verdict *gateway.Verdict
}

// IsSession reports whether the principal came from a JWT session rather
// than an API key.
func (p *Principal) IsSession() bool {
	return p.Type == "session"
}

// ResourceFunc extracts the ownership-checked resource reference from a
// request, typically from chi URL parameters. A nil return skips the
// ownership step (e.g. list/create endpoints scoped by the principal).
type ResourceFunc func(r *http.Request) *gateway.ResourceRef

// RequireSession enforces JWT session authentication. API keys are rejected:
// managing keys with a key would let a leaked credential mint itself new
// ones.
func RequireSession(sessions *service.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if strings.HasPrefix(token, "nb_live_") || r.Header.Get("X-API-Key") != "" {
				writeAuthError(w, http.StatusForbidden, "", "This operation requires session authentication, not an API key")
				return
			}
			if token == "" {
				writeAuthError(w, http.StatusUnauthorized, "", "Authentication required. Provide a Bearer session token.")
				return
			}

			principal, err := sessions.Validate(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "", "Invalid session token")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, &Principal{
				Type:   "session",
				UserID: principal.UserID,
				Email:  principal.Email,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authorize authenticates a request with either an API key (via the gateway
// pipeline) or a JWT session, enforces ownership of the referenced resource,
// and — for API keys — sets rate-limit headers and meters usage after a
// successful dispatch.
//
// It is applied per route because the operation (capability + mutating flag)
// differs per route.
func Authorize(sessions *service.SessionService, gw *gateway.Gateway, logger *slog.Logger, op gateway.Operation, resource ResourceFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ref *gateway.ResourceRef
			if resource != nil {
				ref = resource(r)
			}

			// API key: X-API-Key header, or a bearer token carrying the
			// key scheme.
			token := r.Header.Get("X-API-Key")
			if token == "" {
				if b := bearerToken(r); strings.HasPrefix(b, "nb_live_") {
					token = b
				}
			}

			if token != "" {
				verdict, err := gw.Authorize(r.Context(), gateway.Request{
					Token:     token,
					RemoteIP:  remoteIP(r),
					Operation: op,
					Resource:  ref,
				})
				if err != nil {
					writeGatewayError(w, err)
					return
				}

				w.Header().Set("X-RateLimit-Remaining-Minute", strconv.Itoa(verdict.RemainingRPM))
				w.Header().Set("X-RateLimit-Remaining-Day", strconv.Itoa(verdict.RemainingRPD))

				principal := &Principal{
					Type:    "api_key",
					UserID:  verdict.UserID,
					Key:     verdict.Key,
					Verdict: verdict,
				}
				ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)

				ww := &responseWriter{ResponseWriter: w}
				next.ServeHTTP(ww, r.WithContext(ctx))

				meterDispatch(r, ww, gw, verdict.Key.ID, logger)
				return
			}

			// Session fallback. Sessions carry every scope, but ownership
			// of the referenced resource is still enforced.
			if b := bearerToken(r); b != "" {
				sp, err := sessions.Validate(b)
				if err != nil {
					writeAuthError(w, http.StatusUnauthorized, "", "Invalid session token")
					return
				}
				if ref != nil {
					if err := gw.Resolver().Resolve(r.Context(), sp.UserID, *ref); err != nil {
						writeGatewayError(w, err)
						return
					}
				}
				ctx := context.WithValue(r.Context(), AuthPrincipalKey, &Principal{
					Type:   "session",
					UserID: sp.UserID,
					Email:  sp.Email,
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			writeAuthError(w, http.StatusUnauthorized, "",
				"Authentication required. Provide an X-API-Key header or Bearer token.")
		})
	}
}

// meterDispatch records usage for an API-key request whose dispatch
// succeeded. Cancelled or failed dispatches contribute nothing; the
// rate-limit increment that already happened still counts against the
// budget.
func meterDispatch(r *http.Request, ww *responseWriter, gw *gateway.Gateway, keyID string, logger *slog.Logger) {
	status := ww.Status()
	if status == 0 || status >= 400 {
		return
	}
	if r.Context().Err() != nil {
		return
	}

	// The request context may be cancelled the moment the client goes
	// away; metering must still complete.
	_, err := gw.Accountant().Record(context.WithoutCancel(r.Context()), keyID, gateway.Usage{
		RequestID: GetRequestID(r.Context()),
		Endpoint:  r.URL.Path,
		Method:    r.Method,
	})
	if err != nil && !errors.Is(err, store.ErrDuplicateRequest) {
		logger.Error("usage recording failed", "key_id", keyID, "error", err)
	}
}

// GetPrincipal extracts the authenticated principal from the context, or nil
// for unauthenticated requests.
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// remoteIP returns the bare requester address. chi's RealIP middleware has
// already folded X-Forwarded-For into RemoteAddr upstream of this.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeGatewayError(w http.ResponseWriter, err error) {
	ge, ok := gateway.AsError(err)
	if !ok {
		writeAuthError(w, http.StatusInternalServerError, "", "Authorization error")
		return
	}

	ctx := map[string]interface{}{}
	if ge.RequiredScope != "" {
		ctx["required_scope"] = ge.RequiredScope
	}
	if ge.Kind == gateway.KindRateLimited {
		retry := int(ge.RetryAfter.Seconds() + 0.999)
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		w.Header().Set("X-RateLimit-Remaining-Minute", strconv.Itoa(ge.RemainingRPM))
		w.Header().Set("X-RateLimit-Remaining-Day", strconv.Itoa(ge.RemainingRPD))
		ctx["retry_after_seconds"] = retry
	}
	if len(ctx) == 0 {
		ctx = nil
	}

	writeJSONError(w, ge.HTTPStatus(), string(ge.Kind), ge.Message, ctx)
}

func writeAuthError(w http.ResponseWriter, status int, kind, message string) {
	writeJSONError(w, status, kind, message, nil)
}

func writeJSONError(w http.ResponseWriter, status int, kind, message string, ctx map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    status,
			Kind:    kind,
			Message: message,
			Context: ctx,
		},
	})
}
