package store

import "fmt"

// timestampType returns the column type used for timestamps. SQLite stores
// them with DATETIME affinity; PostgreSQL needs TIMESTAMPTZ.
func (s *Store) timestampType() string {
	if s.driver == DriverPostgres {
		return "TIMESTAMPTZ"
	}
	return "DATETIME"
}

func (s *Store) migrate() error {
	ts := s.timestampType()

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			last_login_at ` + ts + `,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS notebooks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			emoji TEXT NOT NULL DEFAULT '',
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'text',
			content TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT 'manual',
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS research_tasks (
			id TEXT PRIMARY KEY,
			notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
			query TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL,
			finished_at ` + ts + `
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			key_hash TEXT UNIQUE NOT NULL,
			key_prefix TEXT UNIQUE NOT NULL,
			scopes TEXT NOT NULL DEFAULT '["*"]',
			rate_limit_rpm INTEGER NOT NULL DEFAULT 60,
			rate_limit_rpd INTEGER NOT NULL DEFAULT 10000,
			allowed_ips TEXT NOT NULL DEFAULT '[]',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			expires_at ` + ts + `,
			description TEXT NOT NULL DEFAULT '',
			total_requests BIGINT NOT NULL DEFAULT 0,
			total_tokens_in BIGINT NOT NULL DEFAULT 0,
			total_tokens_out BIGINT NOT NULL DEFAULT 0,
			total_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_used_at ` + ts + `,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS usage_logs (
			id TEXT PRIMARY KEY,
			api_key_id TEXT NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
			request_id TEXT UNIQUE NOT NULL,
			endpoint TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL DEFAULT '',
			tokens_in BIGINT NOT NULL DEFAULT 0,
			tokens_out BIGINT NOT NULL DEFAULT 0,
			cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at ` + ts + ` NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notebooks_user ON notebooks(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_notebook ON sources(notebook_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_notebook ON notes(notebook_id)`,
		`CREATE INDEX IF NOT EXISTS idx_research_notebook ON research_tasks(notebook_id)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_logs_key_time ON usage_logs(api_key_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
