package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS email_states (
		user_id TEXT PRIMARY KEY,
		emails JSONB NOT NULL DEFAULT '[]',
		last_email_timestamp BIGINT NOT NULL DEFAULT 0,
		last_updated TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS user_settings (
		user_id TEXT PRIMARY KEY,
		auto_check_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		check_frequency_hours DOUBLE PRECISION NOT NULL,
		last_checked TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_settings_auto_check ON user_settings(auto_check_enabled) WHERE auto_check_enabled`,
	`CREATE TABLE IF NOT EXISTS user_analysis (
		user_id TEXT PRIMARY KEY,
		total_emails_processed BIGINT NOT NULL DEFAULT 0,
		malicious_emails_count BIGINT NOT NULL DEFAULT 0,
		malicious_senders TEXT[] NOT NULL DEFAULT '{}',
		last_updated TIMESTAMPTZ
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
		expires_at TIMESTAMPTZ
	)`,
}

// errUnchanged rolls back the placeholder row when fn declines to write
var errUnchanged = errors.New("email state unchanged")

// PostgresStore implements core.Store on a pgx connection pool
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects to PostgreSQL and creates the tables
func NewPostgresStore(ctx context.Context, connString string, logger *zap.Logger) (*PostgresStore, error) {
	if connString == "" {
		return nil, fmt.Errorf("store.postgres_url not configured")
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create postgres schema: %w", err)
		}
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPgState(row rowScanner, userID string) (*core.UserEmailState, error) {
	var emails []byte
	var updated *time.Time
	state := &core.UserEmailState{UserID: userID}
	if err := row.Scan(&emails, &state.LastEmailTimestamp, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query email state: %w", err)
	}
	if updated != nil {
		state.LastUpdated = *updated
	}
	if err := json.Unmarshal(emails, &state.Emails); err != nil {
		return nil, fmt.Errorf("failed to decode stored emails: %w", err)
	}
	if state.Emails == nil {
		state.Emails = []*core.ProcessedEmail{}
	}
	return state, nil
}

// GetEmailState returns the user's stored state
func (p *PostgresStore) GetEmailState(ctx context.Context, userID string) (*core.UserEmailState, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT emails, last_email_timestamp, last_updated FROM email_states WHERE user_id = $1`, userID)
	return scanPgState(row, userID)
}

// UpdateEmailState runs fn while holding the user's row lock
func (p *PostgresStore) UpdateEmailState(ctx context.Context, userID string, fn func(*core.UserEmailState) (*core.UserEmailState, error)) (*core.UserEmailState, error) {
	var result *core.UserEmailState
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		// make sure a row exists so FOR UPDATE has something to lock
		if _, err := tx.Exec(ctx,
			`INSERT INTO email_states (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return fmt.Errorf("failed to create email state: %w", err)
		}

		cur, err := scanPgState(tx.QueryRow(ctx,
			`SELECT emails, last_email_timestamp, last_updated FROM email_states WHERE user_id = $1 FOR UPDATE`, userID), userID)
		if err != nil {
			return err
		}

		snapshot := *cur
		snapshot.Emails = append([]*core.ProcessedEmail(nil), cur.Emails...)
		next, err := fn(&snapshot)
		if err != nil {
			return err
		}
		if next == nil {
			result = cur
			return errUnchanged
		}
		next.UserID = userID

		emails, err := json.Marshal(next.Emails)
		if err != nil {
			return fmt.Errorf("failed to encode emails: %w", err)
		}
		// the watermark never moves backwards even if fn asks for it
		if _, err := tx.Exec(ctx, `
			UPDATE email_states
			SET emails = $2, last_email_timestamp = GREATEST(last_email_timestamp, $3), last_updated = $4
			WHERE user_id = $1`,
			userID, emails, next.LastEmailTimestamp, next.LastUpdated); err != nil {
			return fmt.Errorf("failed to store email state: %w", err)
		}
		result = next
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return nil, err
	}
	return result, nil
}

func scanPgSettings(row rowScanner) (*core.UserRefreshSettings, error) {
	var s core.UserRefreshSettings
	if err := row.Scan(&s.UserID, &s.AutoCheckEnabled, &s.CheckFrequencyHours, &s.LastChecked); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSettings returns the user's refresh settings
func (p *PostgresStore) GetSettings(ctx context.Context, userID string) (*core.UserRefreshSettings, error) {
	s, err := scanPgSettings(p.pool.QueryRow(ctx, selectSettings+` WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	return s, nil
}

// EnsureSettings returns existing settings or creates the defaults
func (p *PostgresStore) EnsureSettings(ctx context.Context, userID string) (*core.UserRefreshSettings, error) {
	def := core.DefaultSettings(userID)
	if _, err := p.pool.Exec(ctx, `
		INSERT INTO user_settings (user_id, auto_check_enabled, check_frequency_hours)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, def.AutoCheckEnabled, def.CheckFrequencyHours); err != nil {
		return nil, fmt.Errorf("failed to create settings: %w", err)
	}
	return p.GetSettings(ctx, userID)
}

// SetAutoCheck toggles background checks for a user
func (p *PostgresStore) SetAutoCheck(ctx context.Context, userID string, enabled bool) (*core.UserRefreshSettings, error) {
	s, err := scanPgSettings(p.pool.QueryRow(ctx, `
		INSERT INTO user_settings (user_id, auto_check_enabled, check_frequency_hours)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET auto_check_enabled = EXCLUDED.auto_check_enabled
		RETURNING user_id, auto_check_enabled, check_frequency_hours, last_checked`,
		userID, enabled, core.DefaultCheckFrequencyHours))
	if err != nil {
		return nil, fmt.Errorf("failed to update auto-check: %w", err)
	}
	return s, nil
}

// TouchLastChecked records a completed provider fetch
func (p *PostgresStore) TouchLastChecked(ctx context.Context, userID string, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO user_settings (user_id, auto_check_enabled, check_frequency_hours, last_checked)
		VALUES ($1, FALSE, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET last_checked = EXCLUDED.last_checked`,
		userID, core.DefaultCheckFrequencyHours, at)
	if err != nil {
		return fmt.Errorf("failed to update last checked: %w", err)
	}
	return nil
}

// ResetLastChecked clears lastChecked for every user
func (p *PostgresStore) ResetLastChecked(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `UPDATE user_settings SET last_checked = NULL WHERE last_checked IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset last checked: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListAutoCheckUsers returns the settings of every user with auto-check enabled
func (p *PostgresStore) ListAutoCheckUsers(ctx context.Context) ([]*core.UserRefreshSettings, error) {
	rows, err := p.pool.Query(ctx, selectSettings+` WHERE auto_check_enabled ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-check users: %w", err)
	}
	defer rows.Close()

	var out []*core.UserRefreshSettings
	for rows.Next() {
		s, err := scanPgSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settings: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// IncrementAnalysis adds to the user's counters and merges the sender set
func (p *PostgresStore) IncrementAnalysis(ctx context.Context, userID string, processed, malicious int, senders []string) error {
	if senders == nil {
		senders = []string{}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO user_analysis (user_id, total_emails_processed, malicious_emails_count, malicious_senders, last_updated)
		VALUES ($1, $2, $3, ARRAY(SELECT DISTINCT unnest($4::text[])), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			total_emails_processed = user_analysis.total_emails_processed + EXCLUDED.total_emails_processed,
			malicious_emails_count = user_analysis.malicious_emails_count + EXCLUDED.malicious_emails_count,
			malicious_senders = ARRAY(
				SELECT DISTINCT unnest(user_analysis.malicious_senders || EXCLUDED.malicious_senders)
			),
			last_updated = NOW()`,
		userID, processed, malicious, senders)
	if err != nil {
		return fmt.Errorf("failed to update analysis: %w", err)
	}
	return nil
}

// GetAnalysis returns the user's counters
func (p *PostgresStore) GetAnalysis(ctx context.Context, userID string) (*core.UserAnalysisCounters, error) {
	c := &core.UserAnalysisCounters{UserID: userID}
	var updated *time.Time
	err := p.pool.QueryRow(ctx, `
		SELECT total_emails_processed, malicious_emails_count,
			ARRAY(SELECT unnest(malicious_senders) ORDER BY 1), last_updated
		FROM user_analysis WHERE user_id = $1`, userID).
		Scan(&c.TotalEmailsProcessed, &c.MaliciousEmailsCount, &c.MaliciousSenders, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis: %w", err)
	}
	if updated != nil {
		c.LastUpdated = *updated
	}
	return c, nil
}

// GetTrustedDomains returns the user's trusted domains in sorted order
func (p *PostgresStore) GetTrustedDomains(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT domain FROM trusted_domains WHERE user_id = $1 ORDER BY domain`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trusted domains: %w", err)
	}
	domains, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan trusted domains: %w", err)
	}
	if domains == nil {
		domains = []string{}
	}
	return domains, nil
}

// AddTrustedDomain adds a domain to the user's trusted list
func (p *PostgresStore) AddTrustedDomain(ctx context.Context, userID, domain string) error {
	if _, err := p.pool.Exec(ctx, `
		INSERT INTO trusted_domains (user_id, domain) VALUES ($1, $2)
		ON CONFLICT (user_id, domain) DO NOTHING`, userID, strings.ToLower(domain)); err != nil {
		return fmt.Errorf("failed to add trusted domain: %w", err)
	}
	return nil
}

// RemoveTrustedDomain removes a domain from the user's trusted list
func (p *PostgresStore) RemoveTrustedDomain(ctx context.Context, userID, domain string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM trusted_domains WHERE user_id = $1 AND domain = $2`,
		userID, strings.ToLower(domain)); err != nil {
		return fmt.Errorf("failed to remove trusted domain: %w", err)
	}
	return nil
}

// GetToken returns the user's stored OAuth token
func (p *PostgresStore) GetToken(ctx context.Context, userID string) (*core.StoredToken, error) {
	t := &core.StoredToken{UserID: userID}
	var expires *time.Time
	err := p.pool.QueryRow(ctx, `
		SELECT access_token, refresh_token, expires_at FROM oauth_tokens WHERE user_id = $1`, userID).
		Scan(&t.AccessToken, &t.RefreshToken, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	if expires != nil {
		t.ExpiresAt = *expires
	}
	return t, nil
}

// SaveToken stores an OAuth token, keeping the previous refresh token when none is given
func (p *PostgresStore) SaveToken(ctx context.Context, token *core.StoredToken) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO oauth_tokens (user_id, access_token, refresh_token, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), oauth_tokens.refresh_token),
			expires_at = EXCLUDED.expires_at`,
		token.UserID, token.AccessToken, token.RefreshToken, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
