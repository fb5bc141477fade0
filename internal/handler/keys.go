package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quillworks/quill/internal/gateway"
	"github.com/quillworks/quill/internal/model"
	mw "github.com/quillworks/quill/internal/server/middleware"
	"github.com/quillworks/quill/internal/store"
)

// KeysHandler is the session-only management surface for API keys. Keys
// cannot manage themselves: a leaked credential must never be able to mint,
// rotate, or re-scope keys.
type KeysHandler struct {
	store  *store.Store
	issuer *gateway.Issuer
}

// NewKeysHandler returns a KeysHandler.
func NewKeysHandler(st *store.Store, issuer *gateway.Issuer) *KeysHandler {
	return &KeysHandler{store: st, issuer: issuer}
}

type createKeyRequest struct {
	Name         string     `json:"name"`
	Scopes       []string   `json:"scopes"`
	RateLimitRPM int        `json:"rate_limit_rpm"`
	RateLimitRPD int        `json:"rate_limit_rpd"`
	AllowedIPs   []string   `json:"allowed_ips"`
	ExpiresAt    *time.Time `json:"expires_at"`
	Description  string     `json:"description"`
}

// keyWithSecret is returned exactly once, at issue and rotate time. The
// plaintext secret is never stored and never retrievable afterwards.
type keyWithSecret struct {
	model.APIKey
	Key     string `json:"key"`
	Warning string `json:"warning"`
}

const secretWarning = "Store this key securely. It will not be shown again."

// Create issues a new API key for the session user.
// POST /api/v1/api-keys
func (h *KeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := mw.GetPrincipal(r.Context())

	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	key, secret, err := h.issuer.Issue(r.Context(), principal.UserID, gateway.KeyPolicy{
		Name:         req.Name,
		Scopes:       req.Scopes,
		RateLimitRPM: req.RateLimitRPM,
		RateLimitRPD: req.RateLimitRPD,
		AllowedIPs:   req.AllowedIPs,
		ExpiresAt:    req.ExpiresAt,
		Description:  req.Description,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, keyWithSecret{
		APIKey:  *key,
		Key:     secret,
		Warning: secretWarning,
	})
}

// List returns the session user's keys. Hashes stay server-side via the
// model's json tags; prefixes are shown so users can match a credential to a
// record.
// GET /api/v1/api-keys
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := mw.GetPrincipal(r.Context())

	keys, err := h.store.ListAPIKeys(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list API keys: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listEnvelope(keys, len(keys)))
}

// Get returns one key by ID, scoped to the session user.
// GET /api/v1/api-keys/{keyID}
func (h *KeysHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal := mw.GetPrincipal(r.Context())
	keyID := chi.URLParam(r, "keyID")

	key, err := h.store.GetAPIKey(r.Context(), principal.UserID, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get API key: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, key)
}

type updateKeyRequest struct {
	Name         *string    `json:"name"`
	Scopes       []string   `json:"scopes"`
	RateLimitRPM *int       `json:"rate_limit_rpm"`
	RateLimitRPD *int       `json:"rate_limit_rpd"`
	AllowedIPs   []string   `json:"allowed_ips"`
	IsActive     *bool      `json:"is_active"`
	ExpiresAt    *time.Time `json:"expires_at"`
	Description  *string    `json:"description"`
}

// Update applies a partial policy update. Omitted fields keep their current
// values; counters are untouchable through this endpoint.
// PATCH /api/v1/api-keys/{keyID}
func (h *KeysHandler) Update(w http.ResponseWriter, r *http.Request) {
	principal := mw.GetPrincipal(r.Context())
	keyID := chi.URLParam(r, "keyID")

	var req updateKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	key, err := h.store.GetAPIKey(r.Context(), principal.UserID, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get API key: "+err.Error())
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			writeError(w, http.StatusBadRequest, "Key name cannot be empty")
			return
		}
		key.Name = *req.Name
	}
	if req.Scopes != nil {
		for _, s := range req.Scopes {
			if !gateway.ValidScope(s) {
				writeError(w, http.StatusBadRequest, "Unknown scope: "+s)
				return
			}
		}
		key.Scopes = req.Scopes
	}
	if req.RateLimitRPM != nil {
		if *req.RateLimitRPM <= 0 {
			writeError(w, http.StatusBadRequest, "rate_limit_rpm must be positive")
			return
		}
		key.RateLimitRPM = *req.RateLimitRPM
	}
	if req.RateLimitRPD != nil {
		if *req.RateLimitRPD <= 0 {
			writeError(w, http.StatusBadRequest, "rate_limit_rpd must be positive")
			return
		}
		key.RateLimitRPD = *req.RateLimitRPD
	}
	if req.AllowedIPs != nil {
		key.AllowedIPs = req.AllowedIPs
	}
	if req.IsActive != nil {
		key.IsActive = *req.IsActive
	}
	if req.ExpiresAt != nil {
		t := req.ExpiresAt.UTC()
		key.ExpiresAt = &t
	}
	if req.Description != nil {
		key.Description = *req.Description
	}

	if err := h.store.UpdateAPIKeyPolicy(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update API key: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// Rotate replaces the key's secret and returns the new one, once.
// POST /api/v1/api-keys/{keyID}/rotate
func (h *KeysHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	principal := mw.GetPrincipal(r.Context())
	keyID := chi.URLParam(r, "keyID")

	key, secret, err := h.issuer.Rotate(r.Context(), principal.UserID, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to rotate API key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, keyWithSecret{
		APIKey:  *key,
		Key:     secret,
		Warning: secretWarning,
	})
}

// Revoke disables a key without deleting it. In-flight requests already past
// verification complete; the next lookup fails.
// POST /api/v1/api-keys/{keyID}/revoke
func (h *KeysHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	principal := mw.GetPrincipal(r.Context())
	keyID := chi.URLParam(r, "keyID")

	if err := h.issuer.Revoke(r.Context(), principal.UserID, keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to revoke API key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key revoked",
	})
}

// Delete removes a key and its usage logs permanently.
// DELETE /api/v1/api-keys/{keyID}
func (h *KeysHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal := mw.GetPrincipal(r.Context())
	keyID := chi.URLParam(r, "keyID")

	if err := h.store.DeleteAPIKey(r.Context(), principal.UserID, keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete API key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key deleted",
	})
}

// Usage returns the key's lifetime counters plus a requests-today figure
// computed from the usage log, counted from UTC midnight.
// GET /api/v1/api-keys/{keyID}/usage
func (h *KeysHandler) Usage(w http.ResponseWriter, r *http.Request) {
	principal := mw.GetPrincipal(r.Context())
	keyID := chi.URLParam(r, "keyID")

	key, err := h.store.GetAPIKey(r.Context(), principal.UserID, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get API key: "+err.Error())
		return
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	today, err := h.store.CountUsageSince(r.Context(), key.ID, midnight)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count usage: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, model.KeyUsageStats{
		TotalRequests:  key.TotalRequests,
		TotalTokensIn:  key.TotalTokensIn,
		TotalTokensOut: key.TotalTokensOut,
		TotalCostUSD:   key.TotalCostUSD,
		RequestsToday:  today,
		RateLimitRPM:   key.RateLimitRPM,
		RateLimitRPD:   key.RateLimitRPD,
		LastUsedAt:     key.LastUsedAt,
	})
}
