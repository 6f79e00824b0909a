package threatintel

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
)

// Checker implements core.ReputationChecker
type Checker struct {
	db     *Database
	logger *zap.Logger
}

// NewChecker creates a reputation checker over db
func NewChecker(db *Database, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{db: db, logger: logger}
}

// Flagged returns the URLs containing a dangerous entry's URL as a substring.
// A listed bare domain therefore flags every URL that mentions it.
func Flagged(urls []string, entries []core.ThreatIntelEntry) []string {
	var flagged []string
	for _, u := range urls {
		for _, e := range entries {
			if e.Category.Dangerous() && strings.Contains(u, e.URL) {
				flagged = append(flagged, u)
				break
			}
		}
	}
	return flagged
}

// Check replaces each email's URLs with the flagged ones and escalates its status.
// A cancelled context is reported before any email is touched; once started the
// in-memory pass always covers every email.
func (c *Checker) Check(ctx context.Context, emails []*core.ProcessedEmail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, available := c.db.Entries()

	for _, email := range emails {
		checked := len(email.URLs)

		if !available {
			email.SecurityDetails.URLCheck = core.URLCheck{
				Pass:    true,
				Details: fmt.Sprintf("URL check skipped: threat list unavailable (%d URL(s) found).", checked),
			}
			email.URLs = []string{}
			continue
		}

		flagged := Flagged(email.URLs, entries)
		email.URLs = flagged
		if email.URLs == nil {
			email.URLs = []string{}
		}

		if len(flagged) == 0 {
			email.SecurityDetails.URLCheck = core.URLCheck{
				Pass:    true,
				Details: fmt.Sprintf("Checked %d URL(s). No known malicious URLs detected.", checked),
			}
			continue
		}

		email.SecurityDetails.URLCheck = core.URLCheck{
			Pass:           false,
			Details:        fmt.Sprintf("%d potentially malicious URL(s) detected out of %d checked.", len(flagged), checked),
			MaliciousCount: len(flagged),
		}
		if email.SecurityStatus != core.StatusMalicious {
			email.SecurityStatus = core.StatusMalicious
		}
		c.logger.Info("Malicious URLs detected",
			zap.String("message_id", email.MessageID),
			zap.Int("flagged", len(flagged)))
	}
	return nil
}

// Reload re-reads the threat list from disk
func (c *Checker) Reload() {
	c.db.Reload()
}
