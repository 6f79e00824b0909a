package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
)

// TokenProvider hands out stored access tokens, refreshing them when they
// expire within the configured margin
type TokenProvider struct {
	tokens   core.TokenRepository
	oauthCfg *oauth2.Config
	margin   time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu sync.Mutex
}

// NewTokenProvider creates a token provider against Google's OAuth endpoint
func NewTokenProvider(tokens core.TokenRepository, cfg config.OAuthConfig, logger *zap.Logger) *TokenProvider {
	return NewTokenProviderWithEndpoint(tokens, cfg, google.Endpoint, logger)
}

// NewTokenProviderWithEndpoint creates a token provider against a custom OAuth endpoint
func NewTokenProviderWithEndpoint(tokens core.TokenRepository, cfg config.OAuthConfig, endpoint oauth2.Endpoint, logger *zap.Logger) *TokenProvider {
	margin := cfg.ExpiryMargin
	if margin <= 0 {
		margin = 5 * time.Minute
	}
	return &TokenProvider{
		tokens: tokens,
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{gmailapi.GmailReadonlyScope},
		},
		margin: margin,
		now:    time.Now,
		logger: logger,
	}
}

// AccessToken returns a bearer token valid for at least the expiry margin
func (p *TokenProvider) AccessToken(ctx context.Context, userID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, err := p.tokens.GetToken(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return "", fmt.Errorf("%w: no stored token for user %s", core.ErrReauthRequired, userID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}

	if stored.ExpiresAt.After(p.now().Add(p.margin)) {
		return stored.AccessToken, nil
	}
	if stored.RefreshToken == "" {
		return "", fmt.Errorf("%w: token for user %s expired and cannot be refreshed", core.ErrReauthRequired, userID)
	}

	// Expiry in the past forces the token source to refresh.
	src := p.oauthCfg.TokenSource(ctx, &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		Expiry:       p.now().Add(-time.Minute),
	})
	fresh, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil &&
			(re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized) {
			return "", fmt.Errorf("%w: refresh rejected: %v", core.ErrReauthRequired, err)
		}
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	updated := &core.StoredToken{
		UserID:       userID,
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		ExpiresAt:    fresh.Expiry,
	}
	if err := p.tokens.SaveToken(ctx, updated); err != nil {
		p.logger.Warn("Failed to persist refreshed token",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	p.logger.Info("Refreshed access token",
		zap.String("user_id", userID),
		zap.Time("expires_at", fresh.Expiry))
	return fresh.AccessToken, nil
}
