package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of core.Store
type MemoryStore struct {
	mu       sync.RWMutex
	states   map[string]*core.UserEmailState
	settings map[string]*core.UserRefreshSettings
	analysis map[string]*analysisRecord
	trusted  map[string]map[string]struct{}
	tokens   map[string]*core.StoredToken
	logger   *zap.Logger
	now      func() time.Time
}

type analysisRecord struct {
	counters core.UserAnalysisCounters
	senders  map[string]struct{}
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		states:   make(map[string]*core.UserEmailState),
		settings: make(map[string]*core.UserRefreshSettings),
		analysis: make(map[string]*analysisRecord),
		trusted:  make(map[string]map[string]struct{}),
		tokens:   make(map[string]*core.StoredToken),
		logger:   logger,
		now:      time.Now,
	}
}

func copyState(s *core.UserEmailState) *core.UserEmailState {
	c := *s
	c.Emails = append([]*core.ProcessedEmail(nil), s.Emails...)
	return &c
}

func copySettings(s *core.UserRefreshSettings) *core.UserRefreshSettings {
	c := *s
	if s.LastChecked != nil {
		t := *s.LastChecked
		c.LastChecked = &t
	}
	return &c
}

// GetEmailState returns a copy of the user's stored state
func (m *MemoryStore) GetEmailState(ctx context.Context, userID string) (*core.UserEmailState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyState(s), nil
}

// UpdateEmailState runs fn under the store lock. A context cancelled before the
// write commits leaves the stored state untouched, as a rolled back transaction would.
func (m *MemoryStore) UpdateEmailState(ctx context.Context, userID string, fn func(*core.UserEmailState) (*core.UserEmailState, error)) (*core.UserEmailState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.states[userID]
	if ok {
		cur = copyState(cur)
	} else {
		cur = &core.UserEmailState{UserID: userID, Emails: []*core.ProcessedEmail{}}
	}

	next, err := fn(copyState(cur))
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	next.UserID = userID
	m.states[userID] = copyState(next)
	return next, nil
}

// GetSettings returns the user's refresh settings
func (m *MemoryStore) GetSettings(ctx context.Context, userID string) (*core.UserRefreshSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.settings[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copySettings(s), nil
}

// EnsureSettings returns existing settings or creates the defaults
func (m *MemoryStore) EnsureSettings(ctx context.Context, userID string) (*core.UserRefreshSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySettings(m.ensureSettingsLocked(userID)), nil
}

func (m *MemoryStore) ensureSettingsLocked(userID string) *core.UserRefreshSettings {
	s, ok := m.settings[userID]
	if !ok {
		s = core.DefaultSettings(userID)
		m.settings[userID] = s
	}
	return s
}

// SetAutoCheck toggles background checks for a user
func (m *MemoryStore) SetAutoCheck(ctx context.Context, userID string, enabled bool) (*core.UserRefreshSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.ensureSettingsLocked(userID)
	s.AutoCheckEnabled = enabled
	return copySettings(s), nil
}

// TouchLastChecked records a completed provider fetch
func (m *MemoryStore) TouchLastChecked(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.ensureSettingsLocked(userID)
	t := at
	s.LastChecked = &t
	return nil
}

// ResetLastChecked clears lastChecked for every user
func (m *MemoryStore) ResetLastChecked(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, s := range m.settings {
		if s.LastChecked != nil {
			s.LastChecked = nil
			n++
		}
	}
	return n, nil
}

// ListAutoCheckUsers returns the settings of every user with auto-check enabled
func (m *MemoryStore) ListAutoCheckUsers(ctx context.Context) ([]*core.UserRefreshSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*core.UserRefreshSettings
	for _, s := range m.settings {
		if s.AutoCheckEnabled {
			out = append(out, copySettings(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// IncrementAnalysis adds to the user's counters
func (m *MemoryStore) IncrementAnalysis(ctx context.Context, userID string, processed, malicious int, senders []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.analysis[userID]
	if !ok {
		rec = &analysisRecord{
			counters: core.UserAnalysisCounters{UserID: userID},
			senders:  make(map[string]struct{}),
		}
		m.analysis[userID] = rec
	}
	rec.counters.TotalEmailsProcessed += int64(processed)
	rec.counters.MaliciousEmailsCount += int64(malicious)
	rec.counters.LastUpdated = m.now()
	for _, s := range senders {
		rec.senders[s] = struct{}{}
	}
	return nil
}

// GetAnalysis returns the user's counters
func (m *MemoryStore) GetAnalysis(ctx context.Context, userID string) (*core.UserAnalysisCounters, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.analysis[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	c := rec.counters
	c.MaliciousSenders = make([]string, 0, len(rec.senders))
	for s := range rec.senders {
		c.MaliciousSenders = append(c.MaliciousSenders, s)
	}
	sort.Strings(c.MaliciousSenders)
	return &c, nil
}

// GetTrustedDomains returns the user's trusted domains in sorted order
func (m *MemoryStore) GetTrustedDomains(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.trusted[userID]))
	for d := range m.trusted[userID] {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

// AddTrustedDomain adds a domain to the user's trusted list
func (m *MemoryStore) AddTrustedDomain(ctx context.Context, userID, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.trusted[userID]
	if !ok {
		set = make(map[string]struct{})
		m.trusted[userID] = set
	}
	set[strings.ToLower(domain)] = struct{}{}
	return nil
}

// RemoveTrustedDomain removes a domain from the user's trusted list
func (m *MemoryStore) RemoveTrustedDomain(ctx context.Context, userID, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.trusted[userID], strings.ToLower(domain))
	return nil
}

// GetToken returns the user's stored OAuth token
func (m *MemoryStore) GetToken(ctx context.Context, userID string) (*core.StoredToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	c := *t
	return &c, nil
}

// SaveToken stores an OAuth token, keeping the previous refresh token when none is given
func (m *MemoryStore) SaveToken(ctx context.Context, token *core.StoredToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *token
	if prev, ok := m.tokens[token.UserID]; ok && c.RefreshToken == "" {
		c.RefreshToken = prev.RefreshToken
	}
	m.tokens[token.UserID] = &c
	return nil
}

// Close releases nothing for the in-memory store
func (m *MemoryStore) Close() error {
	m.logger.Debug("Closing memory store")
	return nil
}
