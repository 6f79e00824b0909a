package core

import (
	"context"
	"time"
)

// MailProvider opens a mailbox for a bearer token
type MailProvider interface {
	Open(ctx context.Context, bearerToken string) (Mailbox, error)
}

// Mailbox is the message source of one authenticated user.
// Implementations return errors wrapping ErrReauthRequired on authentication failure.
type Mailbox interface {
	ListMessages(ctx context.Context, query string, maxResults int) ([]string, error)
	GetMessage(ctx context.Context, id string) (*RawMessage, error)
	GetProfile(ctx context.Context) (string, error)
}

// Translator translates text to a target language
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (*Translation, error)
}

// PhishingClassifier scores text for phishing
type PhishingClassifier interface {
	Classify(ctx context.Context, text string) (*Prediction, error)
}

// HeaderAuthenticator derives SPF/DKIM/DMARC verdicts from raw headers
type HeaderAuthenticator interface {
	Authenticate(headers []Header) AuthResult
}

// URLExtractor collects candidate URLs from a MIME tree
type URLExtractor interface {
	Extract(part *MessagePart) []string
}

// ReputationChecker flags known-bad URLs on processed emails in place.
// It either checks every email or returns an error.
type ReputationChecker interface {
	Check(ctx context.Context, emails []*ProcessedEmail) error
}

// TextExtractor flattens the text parts of a MIME tree
type TextExtractor interface {
	ExtractText(part *MessagePart) string
}

// TrustedDomainChecker decides whether a sender is exempt from classification
type TrustedDomainChecker interface {
	IsTrusted(from string, domains []string) bool
}

// EmailStateRepository persists per-user result sets
type EmailStateRepository interface {
	GetEmailState(ctx context.Context, userID string) (*UserEmailState, error)

	// UpdateEmailState runs fn inside a single read-modify-write keyed by userID.
	// fn receives the current state, or an empty state when none exists, and
	// returns the state to store. Returning nil leaves the stored state untouched.
	UpdateEmailState(ctx context.Context, userID string, fn func(*UserEmailState) (*UserEmailState, error)) (*UserEmailState, error)
}

// SettingsRepository persists refresh settings
type SettingsRepository interface {
	GetSettings(ctx context.Context, userID string) (*UserRefreshSettings, error)
	EnsureSettings(ctx context.Context, userID string) (*UserRefreshSettings, error)
	SetAutoCheck(ctx context.Context, userID string, enabled bool) (*UserRefreshSettings, error)
	TouchLastChecked(ctx context.Context, userID string, at time.Time) error
	ResetLastChecked(ctx context.Context) (int64, error)
	ListAutoCheckUsers(ctx context.Context) ([]*UserRefreshSettings, error)
}

// AnalysisRepository persists accumulating counters
type AnalysisRepository interface {
	IncrementAnalysis(ctx context.Context, userID string, processed, malicious int, senders []string) error
	GetAnalysis(ctx context.Context, userID string) (*UserAnalysisCounters, error)
}

// TrustedDomainRepository persists per-user trusted domains
type TrustedDomainRepository interface {
	GetTrustedDomains(ctx context.Context, userID string) ([]string, error)
	AddTrustedDomain(ctx context.Context, userID, domain string) error
	RemoveTrustedDomain(ctx context.Context, userID, domain string) error
}

// TokenRepository persists OAuth tokens for background checks
type TokenRepository interface {
	GetToken(ctx context.Context, userID string) (*StoredToken, error)
	SaveToken(ctx context.Context, token *StoredToken) error
}

// Store is the full persistence port
type Store interface {
	EmailStateRepository
	SettingsRepository
	AnalysisRepository
	TrustedDomainRepository
	TokenRepository
	Close() error
}

// TokenProvider yields a valid bearer token for a user
type TokenProvider interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}
