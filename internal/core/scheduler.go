package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ForceRefreshPolicy decides what an explicit force refresh means
type ForceRefreshPolicy string

const (
	// ForceRefreshRefetch always queries the mail provider
	ForceRefreshRefetch ForceRefreshPolicy = "refetch"
	// ForceRefreshSnapshot returns the latest stored state without querying the provider
	ForceRefreshSnapshot ForceRefreshPolicy = "snapshot"
)

// ParseForceRefreshPolicy maps a configured name; empty selects ForceRefreshRefetch
func ParseForceRefreshPolicy(name string) (ForceRefreshPolicy, error) {
	switch ForceRefreshPolicy(strings.ToLower(strings.TrimSpace(name))) {
	case "", ForceRefreshRefetch:
		return ForceRefreshRefetch, nil
	case ForceRefreshSnapshot:
		return ForceRefreshSnapshot, nil
	}
	return "", fmt.Errorf("unknown force refresh policy: %q", name)
}

// MinRefreshInterval is the floor applied to any configured check frequency
const MinRefreshInterval = time.Minute

// RefreshDecision is the outcome of the refresh policy for one request
type RefreshDecision struct {
	NeedsRefresh bool
	Forced       bool
	Reason       string
	Settings     *UserRefreshSettings
}

// ServeCached reports whether stored state should be returned without a fetch
func (d RefreshDecision) ServeCached(policy ForceRefreshPolicy, hasState bool) bool {
	if !hasState {
		return false
	}
	if d.Forced {
		return policy == ForceRefreshSnapshot
	}
	return d.Settings != nil && d.Settings.AutoCheckEnabled && !d.NeedsRefresh
}

// ShouldRefresh applies the elapsed-time rule to settings at instant now
func ShouldRefresh(settings *UserRefreshSettings, now time.Time) (bool, string) {
	switch {
	case settings == nil:
		return true, "no settings"
	case !settings.AutoCheckEnabled:
		return true, "auto-check disabled"
	case settings.LastChecked == nil:
		return true, "never checked"
	}

	interval := math.Max(MinRefreshInterval.Minutes(), settings.CheckFrequencyHours*60)
	elapsed := now.Sub(*settings.LastChecked).Minutes()
	if elapsed >= interval {
		return true, fmt.Sprintf("%.1f minutes since last check", elapsed)
	}
	return false, fmt.Sprintf("checked %.1f minutes ago, interval %.1f minutes", elapsed, interval)
}

// RefreshScheduler decides between serving cached results and fetching
type RefreshScheduler struct {
	settings SettingsRepository
	now      func() time.Time
	logger   *zap.Logger
}

// NewRefreshScheduler creates a scheduler; a nil clock uses time.Now
func NewRefreshScheduler(settings SettingsRepository, now func() time.Time, logger *zap.Logger) *RefreshScheduler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshScheduler{settings: settings, now: now, logger: logger}
}

// Decide loads settings, creating defaults for a new user, and applies the refresh rule
func (s *RefreshScheduler) Decide(ctx context.Context, userID string, force bool) (RefreshDecision, error) {
	if force {
		return RefreshDecision{NeedsRefresh: true, Forced: true, Reason: "forced"}, nil
	}

	settings, err := s.settings.GetSettings(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		settings, err = s.settings.EnsureSettings(ctx, userID)
		if err != nil {
			return RefreshDecision{}, fmt.Errorf("failed to create settings: %w", err)
		}
		s.logger.Info("Created default refresh settings", zap.String("user_id", userID))
		return RefreshDecision{NeedsRefresh: true, Reason: "no settings", Settings: settings}, nil
	}
	if err != nil {
		return RefreshDecision{}, fmt.Errorf("failed to load settings: %w", err)
	}

	needs, reason := ShouldRefresh(settings, s.now())
	s.logger.Debug("Refresh decision",
		zap.String("user_id", userID),
		zap.Bool("needs_refresh", needs),
		zap.String("reason", reason))
	return RefreshDecision{NeedsRefresh: needs, Reason: reason, Settings: settings}, nil
}
