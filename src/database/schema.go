package database

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// schemaStatements creates the persistent tables and the two storage helper
// functions operators call directly. Statements are idempotent so startup
// can run them unconditionally.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name TEXT NOT NULL,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		encrypted_dek BYTEA,
		dek_salt BYTEA,
		storage_quota_bytes BIGINT NOT NULL DEFAULT 1073741824,
		storage_used_bytes BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_password_change TIMESTAMPTZ,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		CONSTRAINT storage_within_quota CHECK (
			storage_used_bytes >= 0 AND storage_used_bytes <= storage_quota_bytes
		)
	)`,

	`CREATE TABLE IF NOT EXISTS keks (
		version INTEGER PRIMARY KEY,
		encrypted_keydata BYTEA NOT NULL,
		nonce BYTEA NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		is_deprecated BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS folders (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id),
		parent_folder_id UUID REFERENCES folders(id),
		name TEXT NOT NULL,
		description TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS files (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id),
		folder_id UUID REFERENCES folders(id),
		original_filename TEXT NOT NULL,
		total_chunks INTEGER NOT NULL,
		chunks_metadata BYTEA,
		encrypted_dek BYTEA NOT NULL,
		nonce BYTEA NOT NULL,
		dek_version INTEGER NOT NULL REFERENCES keks(version),
		file_size BIGINT NOT NULL,
		mime_type TEXT,
		checksum_sha256 TEXT,
		upload_status TEXT NOT NULL DEFAULT 'completed',
		uploaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TIMESTAMPTZ,
		access_count BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE INDEX IF NOT EXISTS idx_files_user_live
		ON files (user_id, uploaded_at DESC) WHERE is_deleted = FALSE`,

	`CREATE OR REPLACE FUNCTION update_storage_with_quota_check(
		p_user_id UUID, p_delta BIGINT,
		OUT success BOOLEAN, OUT available BIGINT, OUT new_used BIGINT
	) AS $$
	DECLARE
		v_quota BIGINT;
		v_used BIGINT;
	BEGIN
		SELECT storage_quota_bytes, storage_used_bytes INTO v_quota, v_used
		FROM users WHERE id = p_user_id FOR UPDATE;

		IF v_used + p_delta > v_quota OR v_used + p_delta < 0 THEN
			success := FALSE;
			available := v_quota - v_used;
			new_used := v_used;
			RETURN;
		END IF;

		UPDATE users SET storage_used_bytes = storage_used_bytes + p_delta
		WHERE id = p_user_id;

		success := TRUE;
		available := v_quota - (v_used + p_delta);
		new_used := v_used + p_delta;
	END;
	$$ LANGUAGE plpgsql`,

	`CREATE OR REPLACE FUNCTION rollback_storage_usage(
		p_user_id UUID, p_delta BIGINT
	) RETURNS VOID AS $$
	BEGIN
		UPDATE users
		SET storage_used_bytes = GREATEST(0, storage_used_bytes - p_delta)
		WHERE id = p_user_id;
	END;
	$$ LANGUAGE plpgsql`,
}

// EnsureSchema creates tables, indexes and helper functions if missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	db.logger.WithField("statements", len(schemaStatements)).Info("Database schema ensured")
	return nil
}

// LogPoolStats emits connection pool statistics at debug level.
func (db *DB) LogPoolStats() {
	stats := db.Stats()
	db.logger.WithFields(logrus.Fields{
		"open":    stats.OpenConnections,
		"in_use":  stats.InUse,
		"idle":    stats.Idle,
		"waiting": stats.WaitCount,
	}).Debug("DB pool stats")
}
