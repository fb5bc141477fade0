// Package service holds the session plane: browser/CLI users authenticate
// with email and password and receive a short-lived JWT. API keys never pass
// through here; they go through the gateway.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/quillworks/quill/internal/model"
	"github.com/quillworks/quill/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
)

// SessionPrincipal is the identity carried by a validated session token.
type SessionPrincipal struct {
	UserID string
	Email  string
}

// SessionService issues and validates JWT session tokens and verifies
// passwords with bcrypt.
type SessionService struct {
	store     *store.Store
	jwtSecret []byte
	tokenTTL  time.Duration
}

// NewSessionService returns a SessionService signing tokens with secret.
func NewSessionService(st *store.Store, secret string, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionService{store: st, jwtSecret: []byte(secret), tokenTTL: ttl}
}

// Login verifies the email/password pair and returns the user plus a signed
// session token.
func (s *SessionService) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	if !user.IsActive {
		return nil, "", ErrAccountDisabled
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.IssueToken(user.ID, user.Email)
	if err != nil {
		return nil, "", err
	}

	_ = s.store.UpdateUserLastLogin(ctx, user.ID)
	return user, token, nil
}

// IssueToken creates a signed session token for the given user.
func (s *SessionService) IssueToken(userID, email string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			Issuer:    "quill",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// Validate verifies a session token and returns the principal it names.
func (s *SessionService) Validate(tokenStr string) (*SessionPrincipal, error) {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	if claims.Subject == "" {
		return nil, ErrInvalidCredentials
	}
	return &SessionPrincipal{UserID: claims.Subject, Email: claims.Email}, nil
}

// TokenTTL reports the configured session lifetime.
func (s *SessionService) TokenTTL() time.Duration {
	return s.tokenTTL
}

// HashPassword returns the bcrypt hash of a plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}
