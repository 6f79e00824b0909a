package core

import (
	"strings"
	"time"
)

// SecurityStatus is the fused verdict of an email
type SecurityStatus string

const (
	StatusSafe      SecurityStatus = "safe"
	StatusMalicious SecurityStatus = "malicious"
)

// Header is a single raw mail header
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PartBody holds the inline data of a MIME part or a reference to an attachment
type PartBody struct {
	Data         string `json:"data,omitempty"`
	AttachmentID string `json:"attachmentId,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// MessagePart is one node of a MIME tree as returned by the mail provider
type MessagePart struct {
	PartID   string         `json:"partId,omitempty"`
	MimeType string         `json:"mimeType"`
	Filename string         `json:"filename,omitempty"`
	Headers  []Header       `json:"headers,omitempty"`
	Body     PartBody       `json:"body"`
	Parts    []*MessagePart `json:"parts,omitempty"`
}

// IsAttachment reports whether the part body lives outside the message
func (p *MessagePart) IsAttachment() bool {
	return p != nil && p.Body.AttachmentID != ""
}

// RawMessage is a fully fetched provider message
type RawMessage struct {
	ID           string
	ThreadID     string
	InternalDate int64
	Snippet      string
	Payload      *MessagePart
}

// Header returns the first header value with the given case-insensitive name
func (m *RawMessage) Header(name string) string {
	if m == nil || m.Payload == nil {
		return ""
	}
	return HeaderValue(m.Payload.Headers, name)
}

// CheckResult is a single pass/fail sub-verdict
type CheckResult struct {
	Pass    bool   `json:"pass"`
	Details string `json:"details"`
}

// URLCheck is the reputation sub-verdict
type URLCheck struct {
	Pass           bool   `json:"pass"`
	Details        string `json:"details"`
	MaliciousCount int    `json:"maliciousCount"`
}

// SecurityDetails aggregates every sub-verdict that contributed to the final status
type SecurityDetails struct {
	SPF      CheckResult  `json:"spf"`
	DKIM     CheckResult  `json:"dkim"`
	DMARC    CheckResult  `json:"dmarc"`
	NLPCheck CheckResult  `json:"nlpCheck"`
	URLCheck URLCheck     `json:"urlCheck"`
	SelfSent *CheckResult `json:"selfSent,omitempty"`
}

// AuthResult is the outcome of header authentication
type AuthResult struct {
	SPF    CheckResult
	DKIM   CheckResult
	DMARC  CheckResult
	Status SecurityStatus
}

// ProcessedEmail is the stored classification of one provider message
type ProcessedEmail struct {
	MessageID                string          `json:"messageId"`
	InternalDate             int64           `json:"internalDate"`
	Subject                  string          `json:"subject"`
	From                     string          `json:"from"`
	Date                     string          `json:"date"`
	Snippet                  string          `json:"snippet"`
	SecurityStatus           SecurityStatus  `json:"securityStatus"`
	SecurityDetails          SecurityDetails `json:"securityDetails"`
	URLs                     []string        `json:"urls"`
	NLPConfidence            float64         `json:"nlpConfidence"`
	NLPPrediction            int             `json:"nlpPrediction"`
	IsHighConfidencePhishing bool            `json:"isHighConfidencePhishing"`
	IsSelfSent               bool            `json:"isSelfSent"`
}

// UserEmailState is the durable per-user result set and watermark
type UserEmailState struct {
	UserID             string            `json:"userId"`
	Emails             []*ProcessedEmail `json:"emails"`
	LastEmailTimestamp int64             `json:"lastEmailTimestamp"`
	LastUpdated        time.Time         `json:"lastUpdated"`
}

// UserRefreshSettings controls when the provider is polled for a user
type UserRefreshSettings struct {
	UserID              string     `json:"userId"`
	AutoCheckEnabled    bool       `json:"autoCheckEnabled"`
	CheckFrequencyHours float64    `json:"checkFrequencyHours"`
	LastChecked         *time.Time `json:"lastChecked"`
}

// DefaultCheckFrequencyHours is roughly one minute
const DefaultCheckFrequencyHours = 0.0167

// DefaultSettings returns the settings created for a user seen for the first time
func DefaultSettings(userID string) *UserRefreshSettings {
	return &UserRefreshSettings{
		UserID:              userID,
		AutoCheckEnabled:    false,
		CheckFrequencyHours: DefaultCheckFrequencyHours,
	}
}

// UserAnalysisCounters accumulate over every run for a user
type UserAnalysisCounters struct {
	UserID               string    `json:"userId"`
	TotalEmailsProcessed int64     `json:"totalEmailsProcessed"`
	MaliciousEmailsCount int64     `json:"maliciousEmailsCount"`
	MaliciousSenders     []string  `json:"maliciousSenders"`
	LastUpdated          time.Time `json:"lastUpdated"`
}

// ThreatCategory classifies a threat list entry
type ThreatCategory string

const (
	CategoryPhishing   ThreatCategory = "phishing"
	CategoryDefacement ThreatCategory = "defacement"
	CategoryMalware    ThreatCategory = "malware"
	CategoryOther      ThreatCategory = "other"
)

// Dangerous reports whether entries of this category flag matching URLs
func (c ThreatCategory) Dangerous() bool {
	switch c {
	case CategoryPhishing, CategoryDefacement, CategoryMalware:
		return true
	}
	return false
}

// ThreatIntelEntry is one known-bad URL record
type ThreatIntelEntry struct {
	URL      string         `json:"url"`
	Category ThreatCategory `json:"category"`
}

// Prediction is the raw answer of a phishing classifier
type Prediction struct {
	Confidence float64 `json:"confidence"`
	Prediction int     `json:"prediction"`
}

// ScoreSource records how a phishing score was obtained
type ScoreSource string

const (
	ScoreFromClassifier ScoreSource = "classifier"
	ScoreSkipped        ScoreSource = "skipped"
	ScoreUnavailable    ScoreSource = "unavailable"
)

// PhishingScore is the scorer output used by verdict fusion
type PhishingScore struct {
	Confidence float64
	Prediction int
	Source     ScoreSource
}

// Translation is the answer of the translation oracle
type Translation struct {
	TranslatedText   string  `json:"translatedText"`
	DetectedLanguage string  `json:"detectedLanguage"`
	Confidence       float64 `json:"confidence"`
}

// StoredToken is an OAuth token kept for background checks
type StoredToken struct {
	UserID       string    `json:"userId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// FetchRequest is the input of a single ingestion run
type FetchRequest struct {
	BearerToken  string `json:"token"`
	UserID       string `json:"userId"`
	ForceRefresh bool   `json:"forceRefresh"`
}

// FetchResult is the output of a single ingestion run
type FetchResult struct {
	Success            bool              `json:"success"`
	Emails             []*ProcessedEmail `json:"emails"`
	FromCache          bool              `json:"fromCache"`
	LastUpdated        time.Time         `json:"lastUpdated"`
	LastEmailTimestamp int64             `json:"lastEmailTimestamp"`
	NewEmails          int               `json:"newEmails"`
	RunID              string            `json:"runId,omitempty"`
}

// HeaderValue returns the first value of a case-insensitively named header
func HeaderValue(headers []Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
