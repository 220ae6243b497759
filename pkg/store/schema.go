package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// currentSchemaVersion is bumped whenever a migration is appended
const currentSchemaVersion = 3

// migrateToV1 creates the base archive tables
var migrateToV1 = []string{
	`CREATE TABLE IF NOT EXISTS instagram_posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		shortcode TEXT NOT NULL UNIQUE,
		post_url TEXT NOT NULL,
		owner_username TEXT,
		owner_id INTEGER,
		caption TEXT,
		is_video BOOLEAN NOT NULL DEFAULT 0,
		media_url TEXT,
		typename TEXT,
		likes INTEGER,
		comments INTEGER,
		is_saved BOOLEAN NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT 'saved',
		created_at TIMESTAMP,
		fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS instagram_hashtags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id INTEGER NOT NULL,
		hashtag TEXT NOT NULL,
		FOREIGN KEY(post_id) REFERENCES instagram_posts(id),
		UNIQUE(post_id, hashtag)
	)`,
	`CREATE TABLE IF NOT EXISTS instagram_mentions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		FOREIGN KEY(post_id) REFERENCES instagram_posts(id),
		UNIQUE(post_id, username)
	)`,
	`CREATE TABLE IF NOT EXISTS telegram_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL UNIQUE,
		chat_id INTEGER,
		content TEXT,
		content_type TEXT NOT NULL DEFAULT 'text',
		media_urls TEXT,
		views INTEGER,
		forwards INTEGER,
		reply_to_msg_id INTEGER,
		created_at TIMESTAMP,
		saved_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS telegram_hashtags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL,
		hashtag TEXT NOT NULL,
		FOREIGN KEY(message_id) REFERENCES telegram_messages(id),
		UNIQUE(message_id, hashtag)
	)`,
}

// migrateToV2 adds classification storage
var migrateToV2 = []string{
	`CREATE TABLE IF NOT EXISTS content_analysis (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content_id INTEGER NOT NULL,
		content_source TEXT NOT NULL,
		classifier_name TEXT NOT NULL,
		label TEXT NOT NULL,
		confidence REAL NOT NULL,
		analyzed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS analysis_details (
		analysis_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		FOREIGN KEY(analysis_id) REFERENCES content_analysis(id),
		PRIMARY KEY(analysis_id, key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_content_analysis_lookup
		ON content_analysis(content_id, content_source, classifier_name)`,
}

// migrateToV3 adds multi-label runs and LLM provenance columns
var migrateToV3 = []string{
	`ALTER TABLE content_analysis ADD COLUMN classification_type TEXT NOT NULL DEFAULT 'single'`,
	`ALTER TABLE content_analysis ADD COLUMN run_id TEXT`,
	`ALTER TABLE content_analysis ADD COLUMN reasoning TEXT`,
	`ALTER TABLE content_analysis ADD COLUMN llm_provider TEXT`,
	`ALTER TABLE content_analysis ADD COLUMN llm_model TEXT`,
	`ALTER TABLE content_analysis ADD COLUMN llm_metadata TEXT`,
	`CREATE INDEX IF NOT EXISTS idx_content_analysis_model
		ON content_analysis(classifier_name, llm_model)`,
}

var migrations = [][]string{migrateToV1, migrateToV2, migrateToV3}

// Migrate brings the schema up to the current version. Each migration
// is additive only, and re-running against an up-to-date archive is a
// no-op.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create version table: %w", err)
	}

	version, err := s.SchemaVersion()
	if err != nil {
		return err
	}

	if version >= currentSchemaVersion {
		return nil
	}

	s.log.InfoWithFields("migrating archive schema", map[string]interface{}{
		"from": version,
		"to":   currentSchemaVersion,
	})

	for v := version; v < currentSchemaVersion; v++ {
		if err := s.applyMigration(v+1, migrations[v]); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) applyMigration(version int, statements []string) error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				// Column adds must tolerate archives that already
				// picked up the column out of band
				if strings.Contains(err.Error(), "duplicate column name") {
					continue
				}
				return fmt.Errorf("migration to v%d failed: %w", version, err)
			}
		}

		if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
			return fmt.Errorf("failed to clear version: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("failed to record version: %w", err)
		}
		return nil
	})
}

// SchemaVersion returns the stored schema version, 0 for a fresh
// archive
func (s *Store) SchemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
