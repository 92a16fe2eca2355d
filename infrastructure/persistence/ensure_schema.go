package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// schemaStatements build the full schema. Every statement is idempotent, so
// EnsureSchema is safe to run on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS videos (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL,
		title VARCHAR(255) NOT NULL DEFAULT '',
		storage_key VARCHAR(512) NOT NULL DEFAULT '',
		container VARCHAR(50) NOT NULL DEFAULT '',
		codec VARCHAR(50) NOT NULL DEFAULT '',
		duration_ms BIGINT NOT NULL DEFAULT 0,
		width INT NOT NULL DEFAULT 0,
		height INT NOT NULL DEFAULT 0,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL,
		caption TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_videos_user_created ON videos (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_videos_status ON videos (status)`,

	`CREATE TABLE IF NOT EXISTS platform_connections (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL,
		platform VARCHAR(20) NOT NULL,
		account_id VARCHAR(128) NOT NULL DEFAULT '',
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		scopes TEXT NOT NULL DEFAULT '[]',
		access_token_sealed TEXT NOT NULL DEFAULT '',
		refresh_token_sealed TEXT NOT NULL DEFAULT '',
		token_expires_at TIMESTAMPTZ NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_connections_user_platform ON platform_connections (user_id, platform)`,
	// One active connection per platform account; history rows stay inactive.
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_connections_active ON platform_connections (user_id, platform, account_id) WHERE active`,
	`CREATE INDEX IF NOT EXISTS idx_connections_expiry ON platform_connections (token_expires_at) WHERE active`,

	`CREATE TABLE IF NOT EXISTS multi_posts (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL,
		video_id VARCHAR(36) NOT NULL REFERENCES videos(id),
		source VARCHAR(20) NOT NULL DEFAULT 'api',
		schedule_id VARCHAR(36) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_multi_posts_user ON multi_posts (user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS posts (
		id VARCHAR(36) PRIMARY KEY,
		multi_post_id VARCHAR(36) NOT NULL REFERENCES multi_posts(id) ON DELETE CASCADE,
		user_id VARCHAR(36) NOT NULL,
		video_id VARCHAR(36) NOT NULL,
		platform VARCHAR(20) NOT NULL,
		caption TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		privacy VARCHAR(20) NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		last_error_kind VARCHAR(40) NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		platform_post_id VARCHAR(128) NOT NULL DEFAULT '',
		platform_url VARCHAR(512) NOT NULL DEFAULT '',
		posted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_multi ON posts (multi_post_id)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_user_created ON posts (user_id, created_at)`,
	// Serves the repost window lookup: newest POSTED row per (user, platform, video).
	`CREATE INDEX IF NOT EXISTS idx_posts_cooldown ON posts (user_id, platform, video_id, posted_at) WHERE status = 'POSTED'`,
	`CREATE INDEX IF NOT EXISTS idx_posts_posted_since ON posts (posted_at) WHERE status = 'POSTED'`,

	`CREATE TABLE IF NOT EXISTS post_outcomes (
		id BIGSERIAL PRIMARY KEY,
		post_id VARCHAR(36) NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		attempt INT NOT NULL,
		outcome VARCHAR(20) NOT NULL,
		error_kind VARCHAR(40) NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_post_outcomes_post ON post_outcomes (post_id, attempt)`,

	`CREATE TABLE IF NOT EXISTS schedules (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL,
		video_id VARCHAR(36) NOT NULL,
		targets TEXT NOT NULL DEFAULT '[]',
		scheduled_at TIMESTAMPTZ NOT NULL,
		state VARCHAR(20) NOT NULL,
		fired_at TIMESTAMPTZ,
		multi_post_id VARCHAR(36) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules (scheduled_at) WHERE state = 'PENDING'`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_user ON schedules (user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS recurring_schedules (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL,
		video_id VARCHAR(36) NOT NULL,
		targets TEXT NOT NULL DEFAULT '[]',
		cadence TEXT NOT NULL,
		caption_variants TEXT NOT NULL DEFAULT '[]',
		variant_cursor INT NOT NULL DEFAULT 0,
		state VARCHAR(20) NOT NULL,
		next_occurrence TIMESTAMPTZ NOT NULL,
		last_fired_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recurring_due ON recurring_schedules (next_occurrence) WHERE state = 'ACTIVE'`,
	`CREATE INDEX IF NOT EXISTS idx_recurring_user ON recurring_schedules (user_id, created_at)`,
}

// EnsureSchema creates missing tables and indexes. Safe to call at startup.
func EnsureSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}
