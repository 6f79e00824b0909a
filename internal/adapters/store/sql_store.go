package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
)

// dialect holds the statements that differ between SQL engines
type dialect struct {
	name             string
	schema           []string
	selectForUpdate  string
	upsertState      string
	insertSettings   string
	upsertAutoCheck  string
	upsertLastCheck  string
	upsertAnalysis   string
	insertSender     string
	insertTrusted    string
	upsertToken      string
}

// SQLStore implements core.Store over database/sql
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
	now     func() time.Time
}

func newSQLStore(db *sql.DB, d dialect, logger *zap.Logger) (*SQLStore, error) {
	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create %s schema: %w", d.name, err)
		}
	}
	return &SQLStore{db: db, dialect: d, logger: logger, now: time.Now}, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// GetEmailState returns the user's stored state
func (s *SQLStore) GetEmailState(ctx context.Context, userID string) (*core.UserEmailState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT emails, last_email_timestamp, last_updated
		FROM email_states
		WHERE user_id = ?
	`, userID)
	return scanState(row, userID)
}

func scanState(row *sql.Row, userID string) (*core.UserEmailState, error) {
	var emails string
	var watermark, updated int64
	if err := row.Scan(&emails, &watermark, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query email state: %w", err)
	}

	state := &core.UserEmailState{
		UserID:             userID,
		LastEmailTimestamp: watermark,
		LastUpdated:        fromMillis(updated),
	}
	if err := json.Unmarshal([]byte(emails), &state.Emails); err != nil {
		return nil, fmt.Errorf("failed to decode stored emails: %w", err)
	}
	if state.Emails == nil {
		state.Emails = []*core.ProcessedEmail{}
	}
	return state, nil
}

// UpdateEmailState runs fn inside a transaction holding the user's row
func (s *SQLStore) UpdateEmailState(ctx context.Context, userID string, fn func(*core.UserEmailState) (*core.UserEmailState, error)) (*core.UserEmailState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanState(tx.QueryRowContext(ctx, s.dialect.selectForUpdate, userID), userID)
	if errors.Is(err, core.ErrNotFound) {
		cur, err = &core.UserEmailState{UserID: userID, Emails: []*core.ProcessedEmail{}}, nil
	}
	if err != nil {
		return nil, err
	}

	snapshot := *cur
	snapshot.Emails = append([]*core.ProcessedEmail(nil), cur.Emails...)
	next, err := fn(&snapshot)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur, nil
	}
	next.UserID = userID

	emails, err := json.Marshal(next.Emails)
	if err != nil {
		return nil, fmt.Errorf("failed to encode emails: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.upsertState,
		userID, string(emails), next.LastEmailTimestamp, toMillis(next.LastUpdated)); err != nil {
		return nil, fmt.Errorf("failed to store email state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit email state: %w", err)
	}
	return next, nil
}

func scanSettings(scan func(dest ...any) error) (*core.UserRefreshSettings, error) {
	var s core.UserRefreshSettings
	var lastChecked sql.NullInt64
	if err := scan(&s.UserID, &s.AutoCheckEnabled, &s.CheckFrequencyHours, &lastChecked); err != nil {
		return nil, err
	}
	if lastChecked.Valid {
		t := fromMillis(lastChecked.Int64)
		s.LastChecked = &t
	}
	return &s, nil
}

const selectSettings = `
	SELECT user_id, auto_check_enabled, check_frequency_hours, last_checked
	FROM user_settings`

// GetSettings returns the user's refresh settings
func (s *SQLStore) GetSettings(ctx context.Context, userID string) (*core.UserRefreshSettings, error) {
	row := s.db.QueryRowContext(ctx, selectSettings+` WHERE user_id = ?`, userID)
	settings, err := scanSettings(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	return settings, nil
}

// EnsureSettings returns existing settings or creates the defaults
func (s *SQLStore) EnsureSettings(ctx context.Context, userID string) (*core.UserRefreshSettings, error) {
	def := core.DefaultSettings(userID)
	if _, err := s.db.ExecContext(ctx, s.dialect.insertSettings,
		userID, def.AutoCheckEnabled, def.CheckFrequencyHours); err != nil {
		return nil, fmt.Errorf("failed to create settings: %w", err)
	}
	return s.GetSettings(ctx, userID)
}

// SetAutoCheck toggles background checks for a user
func (s *SQLStore) SetAutoCheck(ctx context.Context, userID string, enabled bool) (*core.UserRefreshSettings, error) {
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertAutoCheck,
		userID, enabled, core.DefaultCheckFrequencyHours); err != nil {
		return nil, fmt.Errorf("failed to update auto-check: %w", err)
	}
	return s.GetSettings(ctx, userID)
}

// TouchLastChecked records a completed provider fetch
func (s *SQLStore) TouchLastChecked(ctx context.Context, userID string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertLastCheck,
		userID, false, core.DefaultCheckFrequencyHours, toMillis(at)); err != nil {
		return fmt.Errorf("failed to update last checked: %w", err)
	}
	return nil
}

// ResetLastChecked clears lastChecked for every user
func (s *SQLStore) ResetLastChecked(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE user_settings SET last_checked = NULL WHERE last_checked IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset last checked: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Failed to get rows affected during reset", zap.Error(err))
	}
	return n, nil
}

// ListAutoCheckUsers returns the settings of every user with auto-check enabled
func (s *SQLStore) ListAutoCheckUsers(ctx context.Context) ([]*core.UserRefreshSettings, error) {
	rows, err := s.db.QueryContext(ctx, selectSettings+` WHERE auto_check_enabled = ? ORDER BY user_id`, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-check users: %w", err)
	}
	defer rows.Close()

	var out []*core.UserRefreshSettings
	for rows.Next() {
		settings, err := scanSettings(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settings: %w", err)
		}
		out = append(out, settings)
	}
	return out, rows.Err()
}

// IncrementAnalysis adds to the user's counters and sender set in one transaction
func (s *SQLStore) IncrementAnalysis(ctx context.Context, userID string, processed, malicious int, senders []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.dialect.upsertAnalysis,
		userID, processed, malicious, toMillis(s.now())); err != nil {
		return fmt.Errorf("failed to update analysis: %w", err)
	}
	for _, sender := range senders {
		if _, err := tx.ExecContext(ctx, s.dialect.insertSender, userID, sender); err != nil {
			return fmt.Errorf("failed to record malicious sender: %w", err)
		}
	}
	return tx.Commit()
}

// GetAnalysis returns the user's counters
func (s *SQLStore) GetAnalysis(ctx context.Context, userID string) (*core.UserAnalysisCounters, error) {
	c := &core.UserAnalysisCounters{UserID: userID}
	var updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT total_emails_processed, malicious_emails_count, last_updated
		FROM user_analysis
		WHERE user_id = ?
	`, userID).Scan(&c.TotalEmailsProcessed, &c.MaliciousEmailsCount, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis: %w", err)
	}
	c.LastUpdated = fromMillis(updated)

	c.MaliciousSenders, err = s.strings(ctx, `SELECT sender FROM malicious_senders WHERE user_id = ? ORDER BY sender`, userID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetTrustedDomains returns the user's trusted domains in sorted order
func (s *SQLStore) GetTrustedDomains(ctx context.Context, userID string) ([]string, error) {
	return s.strings(ctx, `SELECT domain FROM trusted_domains WHERE user_id = ? ORDER BY domain`, userID)
}

// AddTrustedDomain adds a domain to the user's trusted list
func (s *SQLStore) AddTrustedDomain(ctx context.Context, userID, domain string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.insertTrusted, userID, strings.ToLower(domain)); err != nil {
		return fmt.Errorf("failed to add trusted domain: %w", err)
	}
	return nil
}

// RemoveTrustedDomain removes a domain from the user's trusted list
func (s *SQLStore) RemoveTrustedDomain(ctx context.Context, userID, domain string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trusted_domains WHERE user_id = ? AND domain = ?`,
		userID, strings.ToLower(domain)); err != nil {
		return fmt.Errorf("failed to remove trusted domain: %w", err)
	}
	return nil
}

// GetToken returns the user's stored OAuth token
func (s *SQLStore) GetToken(ctx context.Context, userID string) (*core.StoredToken, error) {
	t := &core.StoredToken{UserID: userID}
	var expires int64
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at
		FROM oauth_tokens
		WHERE user_id = ?
	`, userID).Scan(&t.AccessToken, &t.RefreshToken, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	t.ExpiresAt = fromMillis(expires)
	return t, nil
}

// SaveToken stores an OAuth token, keeping the previous refresh token when none is given
func (s *SQLStore) SaveToken(ctx context.Context, token *core.StoredToken) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertToken,
		token.UserID, token.AccessToken, token.RefreshToken, toMillis(token.ExpiresAt)); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.String("dialect", s.dialect.name), zap.Error(err))
		return err
	}
	return nil
}

func (s *SQLStore) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
