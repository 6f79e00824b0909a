package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"
)

var englishBase, _ = language.English.Base()

// IsEnglish reports whether a detected language code denotes English.
// Unknown or empty codes count as English so no translation is applied.
func IsEnglish(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return true
	}
	tag, err := language.Parse(code)
	if err != nil {
		return strings.EqualFold(code, "en")
	}
	base, _ := tag.Base()
	return base == englishBase
}

// ContentNormalizer brings message text to English before scoring
type ContentNormalizer struct {
	translator Translator
	logger     *zap.Logger
	timeout    time.Duration
	side       sync.WaitGroup
}

// NewContentNormalizer creates a normalizer; a nil translator passes text through.
// Every translation call is bounded by timeout.
func NewContentNormalizer(translator Translator, timeout time.Duration, logger *zap.Logger) *ContentNormalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ContentNormalizer{translator: translator, timeout: timeout, logger: logger}
}

// Normalize returns English text for scoring. Oracle failures return text unchanged.
func (n *ContentNormalizer) Normalize(ctx context.Context, text, label string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if n.translator == nil {
		return text
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	tr, err := n.translator.Translate(ctx, text, "auto", "en")
	if err != nil {
		n.logger.Warn("Translation unavailable, scoring original text",
			zap.String("content", label),
			zap.Error(err))
		return text
	}
	if tr == nil || IsEnglish(tr.DetectedLanguage) || tr.TranslatedText == "" {
		return text
	}

	n.logger.Info("Translated content for scoring",
		zap.String("content", label),
		zap.String("detected_language", tr.DetectedLanguage),
		zap.Float64("detection_confidence", tr.Confidence),
		zap.Int("original_length", len(text)),
		zap.Int("translated_length", len(tr.TranslatedText)))
	return tr.TranslatedText
}

// LogTranslation translates text off the request path and only logs the outcome.
// It runs with its own deadline and never affects a verdict.
func (n *ContentNormalizer) LogTranslation(label, text string) {
	if n.translator == nil || strings.TrimSpace(text) == "" {
		return
	}
	n.side.Add(1)
	go func() {
		defer n.side.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		tr, err := n.translator.Translate(ctx, text, "auto", "en")
		if err != nil {
			n.logger.Debug("Background translation failed", zap.String("content", label), zap.Error(err))
			return
		}
		if tr != nil && !IsEnglish(tr.DetectedLanguage) {
			n.logger.Info("Background translation",
				zap.String("content", label),
				zap.String("detected_language", tr.DetectedLanguage),
				zap.String("translated", tr.TranslatedText))
		}
	}()
}

// Wait blocks until background translations finish
func (n *ContentNormalizer) Wait() {
	n.side.Wait()
}
