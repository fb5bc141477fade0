package handler

import (
	"errors"
	"net/http"

	"github.com/quillworks/quill/internal/service"
)

// SessionHandler exposes the login/logout endpoints for the management
// plane.
type SessionHandler struct {
	sessions *service.SessionService
}

// NewSessionHandler returns a SessionHandler.
func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Login authenticates a user and returns a JWT session token.
// POST /api/v1/session
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, token, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
		case errors.Is(err, service.ErrAccountDisabled):
			writeError(w, http.StatusUnauthorized, "Account is disabled")
		default:
			writeError(w, http.StatusInternalServerError, "Authentication error: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.sessions.TokenTTL().Seconds()),
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
	})
}

// Logout invalidates the session client-side. JWTs are stateless; clients
// discard their token.
// DELETE /api/v1/session
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session invalidated",
	})
}
