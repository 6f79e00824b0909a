package utils

import (
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrUndecodableBody is returned when a part body is not valid base64 in any alphabet
var ErrUndecodableBody = errors.New("body is not valid base64")

// bodyEncodings are tried in order; the provider uses the URL-safe alphabet
// but some relays hand out standard base64.
var bodyEncodings = []*base64.Encoding{
	base64.URLEncoding,
	base64.RawURLEncoding,
	base64.StdEncoding,
	base64.RawStdEncoding,
}

// TextProcessor provides utilities for processing message text
type TextProcessor struct {
	logger *zap.Logger
}

// NewTextProcessor creates a new TextProcessor
func NewTextProcessor(logger *zap.Logger) *TextProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextProcessor{
		logger: logger,
	}
}

// IsTextPart reports whether the part carries text/plain or text/html content
func IsTextPart(part *core.MessagePart) bool {
	if part == nil {
		return false
	}
	mt := strings.ToLower(part.MimeType)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	mt = strings.TrimSpace(mt)
	return mt == "text/plain" || mt == "text/html"
}

// DecodeBody decodes a base64 part body to UTF-8 text.
// A leading byte order mark selects UTF-16 decoding and is stripped.
func (tp *TextProcessor) DecodeBody(data string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', ' ', '\t':
			return -1
		}
		return r
	}, data)
	if cleaned == "" {
		return "", nil
	}

	var raw []byte
	var err error
	for _, enc := range bodyEncodings {
		raw, err = enc.DecodeString(cleaned)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", ErrUndecodableBody
	}

	text, _, terr := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
	if terr != nil {
		text = raw
	}
	return tp.SanitizeUTF8(string(text)), nil
}

// TextParts returns the decoded bodies of every inline text part in document order.
// Parts that fail to decode are logged and skipped; their children are still visited.
func (tp *TextProcessor) TextParts(part *core.MessagePart) []string {
	if part == nil {
		return nil
	}

	var out []string
	if IsTextPart(part) && !part.IsAttachment() && part.Body.Data != "" {
		text, err := tp.DecodeBody(part.Body.Data)
		if err != nil {
			tp.logger.Warn("Skipping undecodable message part",
				zap.String("part_id", part.PartID),
				zap.String("mime_type", part.MimeType),
				zap.Error(err))
		} else if text != "" {
			out = append(out, text)
		}
	}
	for _, child := range part.Parts {
		out = append(out, tp.TextParts(child)...)
	}
	return out
}

// ExtractText concatenates every inline text part. HTML is passed through as-is.
func (tp *TextProcessor) ExtractText(part *core.MessagePart) string {
	return strings.Join(tp.TextParts(part), "\n")
}

// TruncateText safely truncates text to the specified maximum size
// and ensures the result is valid UTF-8
func (tp *TextProcessor) TruncateText(text string, maxSize int) string {
	if maxSize <= 0 || len(text) <= maxSize {
		return text
	}

	truncated := text[:maxSize]
	for !utf8.ValidString(truncated) && len(truncated) > 0 {
		truncated = truncated[:len(truncated)-1]
	}

	tp.logger.Debug("Text truncated",
		zap.Int("original_size", len(text)),
		zap.Int("truncated_size", len(truncated)),
		zap.Int("max_size", maxSize))

	return truncated + "\n[... Content truncated due to size limits ...]"
}

// SanitizeUTF8 drops invalid UTF-8 bytes
func (tp *TextProcessor) SanitizeUTF8(text string) string {
	if utf8.ValidString(text) {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	for i, r := range text {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(text[i:]); size == 1 {
				continue
			}
		}
		b.WriteRune(r)
	}

	tp.logger.Debug("Text sanitized",
		zap.Int("original_size", len(text)),
		zap.Int("sanitized_size", b.Len()))

	return b.String()
}

// ProcessText truncates and sanitizes text in one operation
func (tp *TextProcessor) ProcessText(text string, maxSize int) string {
	return tp.SanitizeUTF8(tp.TruncateText(text, maxSize))
}

// TruncateRunes shortens s to at most n runes, marking the cut with an ellipsis
func TruncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n == 1 {
		return string(r[:1])
	}
	return string(r[:n-1]) + "…"
}
