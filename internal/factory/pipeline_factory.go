package factory

import (
	"time"

	"github.com/mikey/mail-sentinel/internal/adapters/translate"
	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/headers"
	"github.com/mikey/mail-sentinel/internal/threatintel"
	"github.com/mikey/mail-sentinel/internal/urls"
	"github.com/mikey/mail-sentinel/internal/utils"
	"github.com/mikey/mail-sentinel/internal/whitelist"
	"go.uber.org/zap"
)

// PipelineFactory creates the analysis stages of the ingestion pipeline
type PipelineFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewPipelineFactory creates a new pipeline factory
func NewPipelineFactory(cfg *config.Config, logger *zap.Logger) *PipelineFactory {
	return &PipelineFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateTextProcessor creates a new TextProcessor
func (f *PipelineFactory) CreateTextProcessor() *utils.TextProcessor {
	return utils.NewTextProcessor(f.logger)
}

// CreateAuthenticator creates the header authenticator
func (f *PipelineFactory) CreateAuthenticator() (*headers.Authenticator, error) {
	policy, err := headers.ParsePolicy(f.cfg.GetHeaders().UndeterminedPolicy)
	if err != nil {
		return nil, err
	}
	auth := headers.NewAuthenticator(policy)
	f.logger.Info("Header authentication policy", zap.String("undetermined", string(auth.Policy())))
	return auth, nil
}

// CreateURLExtractor creates the URL extractor
func (f *PipelineFactory) CreateURLExtractor(tp *utils.TextProcessor) *urls.Extractor {
	return urls.NewExtractor(tp, f.logger)
}

// CreateReputationChecker creates the threat list checker; the list loads lazily
func (f *PipelineFactory) CreateReputationChecker() *threatintel.Checker {
	path := f.cfg.GetString("threatintel.path")
	return threatintel.NewChecker(threatintel.NewDatabase(path, f.logger), f.logger)
}

// CreateTrustedChecker creates the trusted domain checker
func (f *PipelineFactory) CreateTrustedChecker() *whitelist.Checker {
	domains := f.cfg.GetTrustedDomains()
	if len(domains) > 0 {
		f.logger.Info("Loaded trusted domains", zap.Strings("domains", domains))
	}
	return whitelist.NewChecker(domains, f.logger)
}

// CreateTranslator returns nil when translation is disabled
func (f *PipelineFactory) CreateTranslator() core.Translator {
	translateCfg := f.cfg.GetTranslate()
	if !translateCfg.Enabled || translateCfg.URL == "" {
		f.logger.Info("Translation disabled, text is scored as received")
		return nil
	}
	return translate.NewClient(translateCfg, f.logger)
}

// CreateNormalizer creates the content normalizer
func (f *PipelineFactory) CreateNormalizer(translator core.Translator) *core.ContentNormalizer {
	return core.NewContentNormalizer(translator, f.cfg.GetTranslate().Timeout, f.logger)
}

// CreateScorer creates the phishing scorer
func (f *PipelineFactory) CreateScorer(classifier core.PhishingClassifier) *core.PhishingScorer {
	return core.NewPhishingScorer(
		classifier,
		f.cfg.GetPipeline().HighConfidenceThreshold,
		f.cfg.GetNLP().ClassifyTimeout,
		f.logger,
	)
}

// CreateServiceOptions maps configuration onto service options
func (f *PipelineFactory) CreateServiceOptions() (core.ServiceOptions, error) {
	pipelineCfg := f.cfg.GetPipeline()
	policy, err := core.ParseForceRefreshPolicy(pipelineCfg.ForceRefreshMode)
	if err != nil {
		return core.ServiceOptions{}, err
	}
	return core.ServiceOptions{
		Query:                  pipelineCfg.Query,
		MaxResults:             pipelineCfg.MaxResults,
		Retention:              pipelineCfg.MaxStoredEmails,
		Concurrency:            pipelineCfg.Concurrency,
		ForceRefreshPolicy:     policy,
		ProviderTimeout:        pipelineCfg.ProviderTimeout,
		LogSubjectTranslations: f.cfg.GetTranslate().LogSubjects,
	}, nil
}

// CreateScheduler creates the refresh scheduler
func (f *PipelineFactory) CreateScheduler(settings core.SettingsRepository) *core.RefreshScheduler {
	return core.NewRefreshScheduler(settings, time.Now, f.logger)
}
