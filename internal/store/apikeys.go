package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quillworks/quill/internal/model"
)

// CreateAPIKey inserts a new API key record. The key_hash and key_prefix must
// already be set by the issuer. ID, CreatedAt, and UpdatedAt are populated
// after a successful insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	now := time.Now().UTC()
	key.ID = uuid.NewString()
	key.CreatedAt = now
	key.UpdatedAt = now

	const q = `INSERT INTO api_keys
		(id, user_id, name, key_hash, key_prefix, scopes, rate_limit_rpm, rate_limit_rpd,
		 allowed_ips, is_active, expires_at, description,
		 total_requests, total_tokens_in, total_tokens_out, total_cost_usd,
		 created_at, updated_at)
		VALUES
		(:id, :user_id, :name, :key_hash, :key_prefix, :scopes, :rate_limit_rpm, :rate_limit_rpd,
		 :allowed_ips, :is_active, :expires_at, :description,
		 0, 0, 0, 0,
		 :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKeyByPrefix looks up an API key by its unique, indexed prefix. This
// is the lookup the gateway performs on every request.
func (s *Store) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*model.APIKey, error) {
	var key model.APIKey
	q := s.rebind("SELECT * FROM api_keys WHERE key_prefix = ?")
	if err := s.db.GetContext(ctx, &key, q, prefix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return &key, nil
}

// GetAPIKey returns a key by ID, scoped to its owning user. Keys are never
// visible across users.
func (s *Store) GetAPIKey(ctx context.Context, userID, id string) (*model.APIKey, error) {
	var key model.APIKey
	q := s.rebind("SELECT * FROM api_keys WHERE id = ? AND user_id = ?")
	if err := s.db.GetContext(ctx, &key, q, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns all keys belonging to a user, newest first. Hashes are
// included in the records; handlers must rely on the model's json tags to
// keep them out of responses.
func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]model.APIKey, error) {
	var keys []model.APIKey
	q := s.rebind("SELECT * FROM api_keys WHERE user_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &keys, q, userID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// UpdateAPIKeyPolicy updates the mutable policy fields of a key. Counter
// fields are never touched here.
func (s *Store) UpdateAPIKeyPolicy(ctx context.Context, key *model.APIKey) error {
	key.UpdatedAt = time.Now().UTC()

	const q = `UPDATE api_keys SET
		name = :name, scopes = :scopes, rate_limit_rpm = :rate_limit_rpm,
		rate_limit_rpd = :rate_limit_rpd, allowed_ips = :allowed_ips,
		is_active = :is_active, expires_at = :expires_at, description = :description,
		updated_at = :updated_at
		WHERE id = :id AND user_id = :user_id`

	result, err := s.db.NamedExecContext(ctx, q, key)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return requireRow(result, "update api key")
}

// RotateAPIKeySecret atomically replaces the stored hash and prefix. A single
// UPDATE means there is no window in which both the old and new secrets
// verify: the previous secret is rejected by the very next lookup.
func (s *Store) RotateAPIKeySecret(ctx context.Context, id, newHash, newPrefix string) error {
	q := s.rebind("UPDATE api_keys SET key_hash = ?, key_prefix = ?, updated_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, newHash, newPrefix, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("rotate api key secret: %w", err)
	}
	return requireRow(result, "rotate api key secret")
}

// SetAPIKeyActive flips the revocation flag. Revocation keeps the record for
// audit; it is distinct from rotation and from deletion.
func (s *Store) SetAPIKeyActive(ctx context.Context, id string, active bool) error {
	q := s.rebind("UPDATE api_keys SET is_active = ?, updated_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set api key active: %w", err)
	}
	return requireRow(result, "set api key active")
}

// DeleteAPIKey removes a key permanently. Usage logs cascade.
func (s *Store) DeleteAPIKey(ctx context.Context, userID, id string) error {
	q := s.rebind("DELETE FROM api_keys WHERE id = ? AND user_id = ?")
	result, err := s.db.ExecContext(ctx, q, id, userID)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return requireRow(result, "delete api key")
}

// UsageDelta is a single request's consumption, applied to a key's running
// totals.
type UsageDelta struct {
	RequestID string
	Endpoint  string
	Method    string
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
}

// RecordUsage appends a usage-log row and bumps the key's counters in one
// transaction. The counter mutation is a single UPDATE with in-place
// arithmetic, never a read-modify-write across round trips. If the request ID
// was already recorded, nothing is written and ErrDuplicateRequest is
// returned, so upstream retries cannot double-count.
func (s *Store) RecordUsage(ctx context.Context, keyID string, delta UsageDelta) (*model.APIKey, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	insertQ := s.rebind(`INSERT INTO usage_logs
		(id, api_key_id, request_id, endpoint, method, tokens_in, tokens_out, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id) DO NOTHING`)

	result, err := tx.ExecContext(ctx, insertQ,
		uuid.NewString(), keyID, delta.RequestID, delta.Endpoint, delta.Method,
		delta.TokensIn, delta.TokensOut, delta.CostUSD, now)
	if err != nil {
		return nil, fmt.Errorf("insert usage log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("usage log rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrDuplicateRequest
	}

	updateQ := s.rebind(`UPDATE api_keys SET
		total_requests = total_requests + 1,
		total_tokens_in = total_tokens_in + ?,
		total_tokens_out = total_tokens_out + ?,
		total_cost_usd = total_cost_usd + ?,
		last_used_at = ?,
		updated_at = ?
		WHERE id = ?`)

	if _, err := tx.ExecContext(ctx, updateQ,
		delta.TokensIn, delta.TokensOut, delta.CostUSD, now, now, keyID); err != nil {
		return nil, fmt.Errorf("increment api key counters: %w", err)
	}

	var key model.APIKey
	selectQ := s.rebind("SELECT * FROM api_keys WHERE id = ?")
	if err := tx.GetContext(ctx, &key, selectQ, keyID); err != nil {
		return nil, fmt.Errorf("reload api key totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit usage: %w", err)
	}
	return &key, nil
}

// CountUsageSince returns the number of usage-log rows for a key created at
// or after the given instant. Used for the requests_today stat.
func (s *Store) CountUsageSince(ctx context.Context, keyID string, since time.Time) (int64, error) {
	var count int64
	q := s.rebind("SELECT COUNT(*) FROM usage_logs WHERE api_key_id = ? AND created_at >= ?")
	if err := s.db.GetContext(ctx, &count, q, keyID, since); err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return count, nil
}

// requireRow maps a zero-rows-affected result to ErrNotFound.
func requireRow(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
