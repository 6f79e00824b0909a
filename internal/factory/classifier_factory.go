package factory

import (
	"fmt"

	"github.com/mikey/mail-sentinel/internal/adapters/bedrock"
	"github.com/mikey/mail-sentinel/internal/adapters/gemini"
	"github.com/mikey/mail-sentinel/internal/adapters/nlp"
	"github.com/mikey/mail-sentinel/internal/adapters/openai"
	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/utils"
	"go.uber.org/zap"
)

// ClassifierFactory creates phishing classifiers
type ClassifierFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewClassifierFactory creates a new classifier factory
func NewClassifierFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *ClassifierFactory {
	return &ClassifierFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateClassifier creates a classifier for the configured nlp.provider
func (f *ClassifierFactory) CreateClassifier() (core.PhishingClassifier, error) {
	nlpConfig := f.cfg.GetNLP()
	logger := f.logger.With(zap.String("provider", nlpConfig.Provider))

	switch nlpConfig.Provider {
	case "", "http":
		return nlp.NewClient(nlpConfig, logger), nil
	case "bedrock":
		return bedrock.NewFactory(f.cfg, logger, f.textProcessor).CreateClassifier()
	case "gemini":
		return gemini.NewFactory(f.cfg, logger, f.textProcessor).CreateClassifier()
	case "openai":
		return openai.NewFactory(f.cfg, logger, f.textProcessor).CreateClassifier()
	default:
		return nil, fmt.Errorf("unsupported classifier provider: %s", nlpConfig.Provider)
	}
}
