// Package urls finds candidate links in the text parts of a message.
package urls

import (
	"regexp"
	"strings"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/utils"
	"go.uber.org/zap"
)

var urlPattern = regexp.MustCompile(`(?i)((?:https?|ftp)://[^\s<>"'()\[\]{};:,]+)`)

const trailingPunctuation = ".,!?)];:"

// DefaultExclusions are namespace and schema URLs that carry no security signal
var DefaultExclusions = []string{
	"http://www.w3.org/",
	"http://schemas.microsoft.com/",
}

// Extractor implements core.URLExtractor
type Extractor struct {
	text       *utils.TextProcessor
	exclusions []string
	logger     *zap.Logger
}

// NewExtractor creates an extractor using DefaultExclusions plus any extra prefixes
func NewExtractor(text *utils.TextProcessor, logger *zap.Logger, extra ...string) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	exclusions := make([]string, 0, len(DefaultExclusions)+len(extra))
	for _, e := range append(append([]string{}, DefaultExclusions...), extra...) {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			exclusions = append(exclusions, e)
		}
	}
	return &Extractor{text: text, exclusions: exclusions, logger: logger}
}

// Extract returns the unique URLs of every inline text part in first-seen order
func (e *Extractor) Extract(part *core.MessagePart) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, body := range e.text.TextParts(part) {
		for _, u := range e.FindURLs(body) {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	if len(out) > 0 {
		e.logger.Debug("Extracted URLs", zap.Int("count", len(out)))
	}
	return out
}

// FindURLs applies the URL pattern to a single text, dropping excluded matches
func (e *Extractor) FindURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if strings.ContainsRune(trailingPunctuation, rune(m[len(m)-1])) {
			m = m[:len(m)-1]
		}
		if e.excluded(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (e *Extractor) excluded(u string) bool {
	lower := strings.ToLower(u)
	for _, prefix := range e.exclusions {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
