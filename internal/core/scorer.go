package core

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HighConfidenceThreshold is the classifier confidence at which a phishing
// prediction overrides every other signal.
const HighConfidenceThreshold = 0.9

// DefaultClassifyTimeout bounds a classifier call when none is configured
const DefaultClassifyTimeout = 30 * time.Second

// PhishingScorer wraps a classifier and never lets its failures escalate a verdict
type PhishingScorer struct {
	classifier PhishingClassifier
	threshold  float64
	timeout    time.Duration
	logger     *zap.Logger
}

// NewPhishingScorer creates a scorer. A threshold outside (0, 1] selects
// HighConfidenceThreshold; a non-positive timeout selects DefaultClassifyTimeout.
func NewPhishingScorer(classifier PhishingClassifier, threshold float64, timeout time.Duration, logger *zap.Logger) *PhishingScorer {
	if threshold <= 0 || threshold > 1 {
		threshold = HighConfidenceThreshold
	}
	if timeout <= 0 {
		timeout = DefaultClassifyTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PhishingScorer{classifier: classifier, threshold: threshold, timeout: timeout, logger: logger}
}

// Score classifies text. Empty text, any failure and a classifier that does not
// answer within the timeout all yield {0, 0}.
func (s *PhishingScorer) Score(ctx context.Context, text string) PhishingScore {
	if strings.TrimSpace(text) == "" {
		return PhishingScore{Source: ScoreSkipped}
	}
	if s.classifier == nil {
		return PhishingScore{Source: ScoreUnavailable}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, err := s.classifier.Classify(ctx, text)
	if err != nil {
		s.logger.Warn("Phishing classifier unavailable, treating as not phishing", zap.Error(err))
		return PhishingScore{Source: ScoreUnavailable}
	}
	if p == nil || (p.Prediction != 0 && p.Prediction != 1) ||
		math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
		s.logger.Warn("Phishing classifier returned an invalid prediction", zap.Any("prediction", p))
		return PhishingScore{Source: ScoreUnavailable}
	}

	return PhishingScore{
		Confidence: p.Confidence,
		Prediction: p.Prediction,
		Source:     ScoreFromClassifier,
	}
}

// IsHighConfidence reports prediction == 1 with confidence at or above the threshold
func (s *PhishingScorer) IsHighConfidence(score PhishingScore) bool {
	return score.Prediction == 1 && score.Confidence >= s.threshold
}
