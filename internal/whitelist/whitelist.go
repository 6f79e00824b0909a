package whitelist

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var domainPattern = regexp.MustCompile(`@([^>\s]+)`)

// Checker decides whether a sender belongs to a trusted domain.
// Domains configured globally apply to every user in addition to their own list.
type Checker struct {
	domains map[string]struct{}
	logger  *zap.Logger
}

// NewChecker creates a new trusted-domain checker
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		if d = NormalizeDomain(d); d != "" {
			set[d] = struct{}{}
		}
	}

	if len(set) > 0 {
		logger.Info("Initialized trusted domain checker", zap.Strings("domains", domains))
	}

	return &Checker{domains: set, logger: logger}
}

// NormalizeDomain lowercases a domain and strips a leading @ or surrounding spaces
func NormalizeDomain(domain string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "@")
}

// SenderDomain extracts the domain of the first address in a From header
func SenderDomain(from string) string {
	m := domainPattern.FindStringSubmatch(from)
	if m == nil {
		return ""
	}
	return NormalizeDomain(m[1])
}

// IsTrusted checks the sender's domain against the global and user lists
func (c *Checker) IsTrusted(from string, userDomains []string) bool {
	domain := SenderDomain(from)
	if domain == "" {
		return false
	}

	if _, ok := c.domains[domain]; ok {
		c.logger.Debug("Sender domain is trusted globally", zap.String("domain", domain))
		return true
	}
	for _, d := range userDomains {
		if NormalizeDomain(d) == domain {
			c.logger.Debug("Sender domain is trusted by user", zap.String("domain", domain))
			return true
		}
	}
	return false
}
