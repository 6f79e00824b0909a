package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS email_states (
			user_id VARCHAR(255) PRIMARY KEY,
			emails LONGTEXT NOT NULL,
			last_email_timestamp BIGINT NOT NULL DEFAULT 0,
			last_updated BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id VARCHAR(255) PRIMARY KEY,
			auto_check_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			check_frequency_hours DOUBLE NOT NULL,
			last_checked BIGINT NULL,
			INDEX idx_settings_auto_check (auto_check_enabled)
		)`,
		`CREATE TABLE IF NOT EXISTS user_analysis (
			user_id VARCHAR(255) PRIMARY KEY,
			total_emails_processed BIGINT NOT NULL DEFAULT 0,
			malicious_emails_count BIGINT NOT NULL DEFAULT 0,
			last_updated BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS malicious_senders (
			user_id VARCHAR(255) NOT NULL,
			sender VARCHAR(320) NOT NULL,
			PRIMARY KEY (user_id, sender)
		)`,
		`CREATE TABLE IF NOT EXISTS trusted_domains (
			user_id VARCHAR(255) NOT NULL,
			domain VARCHAR(255) NOT NULL,
			PRIMARY KEY (user_id, domain)
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			user_id VARCHAR(255) PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expires_at BIGINT NOT NULL DEFAULT 0
		)`,
	},
	selectForUpdate: `SELECT emails, last_email_timestamp, last_updated FROM email_states WHERE user_id = ? FOR UPDATE`,
	upsertState: `INSERT INTO email_states (user_id, emails, last_email_timestamp, last_updated)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			emails = VALUES(emails),
			last_email_timestamp = VALUES(last_email_timestamp),
			last_updated = VALUES(last_updated)`,
	insertSettings: `INSERT IGNORE INTO user_settings (user_id, auto_check_enabled, check_frequency_hours)
		VALUES (?, ?, ?)`,
	upsertAutoCheck: `INSERT INTO user_settings (user_id, auto_check_enabled, check_frequency_hours)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE auto_check_enabled = VALUES(auto_check_enabled)`,
	upsertLastCheck: `INSERT INTO user_settings (user_id, auto_check_enabled, check_frequency_hours, last_checked)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE last_checked = VALUES(last_checked)`,
	upsertAnalysis: `INSERT INTO user_analysis (user_id, total_emails_processed, malicious_emails_count, last_updated)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			total_emails_processed = total_emails_processed + VALUES(total_emails_processed),
			malicious_emails_count = malicious_emails_count + VALUES(malicious_emails_count),
			last_updated = VALUES(last_updated)`,
	insertSender:  `INSERT IGNORE INTO malicious_senders (user_id, sender) VALUES (?, ?)`,
	insertTrusted: `INSERT IGNORE INTO trusted_domains (user_id, domain) VALUES (?, ?)`,
	upsertToken: `INSERT INTO oauth_tokens (user_id, access_token, refresh_token, expires_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			access_token = VALUES(access_token),
			refresh_token = IF(VALUES(refresh_token) = '', refresh_token, VALUES(refresh_token)),
			expires_at = VALUES(expires_at)`,
}

// NewMySQLStore opens a MySQL database and creates its tables
func NewMySQLStore(dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	return newSQLStore(db, mysqlDialect, logger)
}
