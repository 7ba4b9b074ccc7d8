package sqlstore

import (
	"context"
	"fmt"
)

// migrate creates every table and index when missing.
func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS block_types (
			id TEXT PRIMARY KEY,
			type_key TEXT NOT NULL,
			organisation_id TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			schema_json TEXT NOT NULL DEFAULT '',
			nesting_json TEXT,
			strictness TEXT NOT NULL DEFAULT 'soft',
			archived INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(organisation_id, type_key)
		)`,
		`CREATE TABLE IF NOT EXISTS layouts (
			id TEXT PRIMARY KEY,
			organisation_id TEXT NOT NULL,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS blocks (
			id TEXT PRIMARY KEY,
			organisation_id TEXT NOT NULL,
			layout_id TEXT NOT NULL DEFAULT '',
			type_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			payload_kind TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			archived INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS block_edges (
			child_id TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL,
			order_index INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS block_references (
			id TEXT PRIMARY KEY,
			block_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			path TEXT NOT NULL,
			order_index INTEGER
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS activity_log (
			id %s,
			organisation_id TEXT NOT NULL,
			layout_id TEXT NOT NULL,
			block_id TEXT NOT NULL DEFAULT '',
			operation TEXT NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			actor_type TEXT NOT NULL DEFAULT 'system',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			occurred_at TEXT NOT NULL
		)`, s.dialect.serialKey()),
		`CREATE INDEX IF NOT EXISTS idx_blocks_layout ON blocks(layout_id, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_block_edges_parent ON block_edges(parent_id, order_index)`,
		`CREATE INDEX IF NOT EXISTS idx_block_references_block_path ON block_references(block_id, path)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_log_layout ON activity_log(layout_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
