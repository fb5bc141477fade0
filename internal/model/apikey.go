package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// APIKey is a programmatic credential belonging to a single user. The raw
// secret is never stored; only a SHA-256 hash and a short prefix used for
// indexed lookup are persisted.
type APIKey struct {
	ID        string `json:"id" db:"id"`
	UserID    string `json:"user_id" db:"user_id"`
	Name      string `json:"name" db:"name"`
	KeyHash   string `json:"-" db:"key_hash"`            // SHA-256 hash, never expose
	KeyPrefix string `json:"key_prefix" db:"key_prefix"` // first 16 chars of the secret

	// Policy
	Scopes       StringList `json:"scopes" db:"scopes"`
	RateLimitRPM int        `json:"rate_limit_rpm" db:"rate_limit_rpm"`
	RateLimitRPD int        `json:"rate_limit_rpd" db:"rate_limit_rpd"`
	AllowedIPs   StringList `json:"allowed_ips,omitempty" db:"allowed_ips"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	Description  string     `json:"description,omitempty" db:"description"`

	// Accounting. Monotonically non-decreasing; mutated only through the
	// store's atomic increment.
	TotalRequests  int64      `json:"total_requests" db:"total_requests"`
	TotalTokensIn  int64      `json:"total_tokens_in" db:"total_tokens_in"`
	TotalTokensOut int64      `json:"total_tokens_out" db:"total_tokens_out"`
	TotalCostUSD   float64    `json:"total_cost_usd" db:"total_cost_usd"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the key's expiry, if any, lies before now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// KeyUsageStats is the usage summary returned by the key usage endpoint.
type KeyUsageStats struct {
	TotalRequests  int64      `json:"total_requests"`
	TotalTokensIn  int64      `json:"total_tokens_in"`
	TotalTokensOut int64      `json:"total_tokens_out"`
	TotalCostUSD   float64    `json:"total_cost_usd"`
	RequestsToday  int64      `json:"requests_today"`
	RateLimitRPM   int        `json:"rate_limit_rpm"`
	RateLimitRPD   int        `json:"rate_limit_rpd"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
}

// UsageLog is one metered request against an API key. The request_id column
// is unique so an upstream retry of the same logical request cannot be
// recorded twice.
type UsageLog struct {
	ID        string    `json:"id" db:"id"`
	APIKeyID  string    `json:"api_key_id" db:"api_key_id"`
	RequestID string    `json:"request_id" db:"request_id"`
	Endpoint  string    `json:"endpoint" db:"endpoint"`
	Method    string    `json:"method" db:"method"`
	TokensIn  int64     `json:"tokens_in" db:"tokens_in"`
	TokensOut int64     `json:"tokens_out" db:"tokens_out"`
	CostUSD   float64   `json:"cost_usd" db:"cost_usd"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// StringList stores a []string as a JSON array in a TEXT column. Both SQLite
// and PostgreSQL accept it, which keeps the schema portable.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("scan string list: unsupported type %T", src)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}

// Contains reports whether s is an element of the list.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}
