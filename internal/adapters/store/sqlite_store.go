package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS email_states (
			user_id TEXT PRIMARY KEY,
			emails TEXT NOT NULL,
			last_email_timestamp INTEGER NOT NULL DEFAULT 0,
			last_updated INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id TEXT PRIMARY KEY,
			auto_check_enabled BOOLEAN NOT NULL DEFAULT 0,
			check_frequency_hours REAL NOT NULL,
			last_checked INTEGER NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settings_auto_check ON user_settings(auto_check_enabled)`,
		`CREATE TABLE IF NOT EXISTS user_analysis (
			user_id TEXT PRIMARY KEY,
			total_emails_processed INTEGER NOT NULL DEFAULT 0,
			malicious_emails_count INTEGER NOT NULL DEFAULT 0,
			last_updated INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS malicious_senders (
			user_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			PRIMARY KEY (user_id, sender)
		)`,
		`CREATE TABLE IF NOT EXISTS trusted_domains (
			user_id TEXT NOT NULL,
			domain TEXT NOT NULL,
			PRIMARY KEY (user_id, domain)
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			user_id TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at INTEGER NOT NULL DEFAULT 0
		)`,
	},
	// sqlite serializes writers; the transaction itself is the lock
	selectForUpdate: `SELECT emails, last_email_timestamp, last_updated FROM email_states WHERE user_id = ?`,
	upsertState: `INSERT INTO email_states (user_id, emails, last_email_timestamp, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			emails = excluded.emails,
			last_email_timestamp = excluded.last_email_timestamp,
			last_updated = excluded.last_updated`,
	insertSettings: `INSERT OR IGNORE INTO user_settings (user_id, auto_check_enabled, check_frequency_hours)
		VALUES (?, ?, ?)`,
	upsertAutoCheck: `INSERT INTO user_settings (user_id, auto_check_enabled, check_frequency_hours)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET auto_check_enabled = excluded.auto_check_enabled`,
	upsertLastCheck: `INSERT INTO user_settings (user_id, auto_check_enabled, check_frequency_hours, last_checked)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_checked = excluded.last_checked`,
	upsertAnalysis: `INSERT INTO user_analysis (user_id, total_emails_processed, malicious_emails_count, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_emails_processed = user_analysis.total_emails_processed + excluded.total_emails_processed,
			malicious_emails_count = user_analysis.malicious_emails_count + excluded.malicious_emails_count,
			last_updated = excluded.last_updated`,
	insertSender:  `INSERT OR IGNORE INTO malicious_senders (user_id, sender) VALUES (?, ?)`,
	insertTrusted: `INSERT OR IGNORE INTO trusted_domains (user_id, domain) VALUES (?, ?)`,
	upsertToken: `INSERT INTO oauth_tokens (user_id, access_token, refresh_token, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN oauth_tokens.refresh_token ELSE excluded.refresh_token END,
			expires_at = excluded.expires_at`,
}

// NewSQLiteStore opens a SQLite database and creates its tables
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// a second connection to ":memory:" would see a different database
	db.SetMaxOpenConns(1)

	return newSQLStore(db, sqliteDialect, logger)
}
