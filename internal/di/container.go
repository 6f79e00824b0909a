package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-sentinel/internal/adapters/gmail"
	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/factory"
	"github.com/mikey/mail-sentinel/internal/headers"
	"github.com/mikey/mail-sentinel/internal/logging"
	"github.com/mikey/mail-sentinel/internal/ports"
	"github.com/mikey/mail-sentinel/internal/threatintel"
	"github.com/mikey/mail-sentinel/internal/urls"
	"github.com/mikey/mail-sentinel/internal/utils"
	"github.com/mikey/mail-sentinel/internal/whitelist"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := providePipeline(container); err != nil {
		return nil, err
	}

	// Register front ends
	if err := container.Provide(factory.NewServerFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.ServerFactory) []ports.Server {
		return f.CreateServers()
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// providePipeline registers everything the ingestion service needs. It expects
// *config.Config and *zap.Logger to be provided already.
func providePipeline(container *dig.Container) error {
	// Register factories
	if err := container.Provide(factory.NewPipelineFactory); err != nil {
		return err
	}
	if err := container.Provide(factory.NewClassifierFactory); err != nil {
		return err
	}
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.PipelineFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return err
	}

	// Register store
	if err := container.Provide(func(f *factory.StoreFactory) (core.Store, error) {
		return f.CreateStore()
	}); err != nil {
		return err
	}

	// Register oracles
	if err := container.Provide(func(f *factory.ClassifierFactory) (core.PhishingClassifier, error) {
		return f.CreateClassifier()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.PipelineFactory) core.Translator {
		return f.CreateTranslator()
	}); err != nil {
		return err
	}

	// Register pipeline stages
	if err := container.Provide(func(f *factory.PipelineFactory) (*headers.Authenticator, error) {
		return f.CreateAuthenticator()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.PipelineFactory, tp *utils.TextProcessor) *urls.Extractor {
		return f.CreateURLExtractor(tp)
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.PipelineFactory) *threatintel.Checker {
		return f.CreateReputationChecker()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.PipelineFactory) *whitelist.Checker {
		return f.CreateTrustedChecker()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.PipelineFactory, t core.Translator) *core.ContentNormalizer {
		return f.CreateNormalizer(t)
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.PipelineFactory, c core.PhishingClassifier) *core.PhishingScorer {
		return f.CreateScorer(c)
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.PipelineFactory, s core.Store) *core.RefreshScheduler {
		return f.CreateScheduler(s)
	}); err != nil {
		return err
	}

	// Register mail provider
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) core.MailProvider {
		return gmail.NewProvider(logger.Named("gmail"), cfg.GetPipeline().ProviderTimeout)
	}); err != nil {
		return err
	}

	// Register ingestion service
	if err := container.Provide(func(
		f *factory.PipelineFactory,
		provider core.MailProvider,
		store core.Store,
		authenticator *headers.Authenticator,
		extractor *urls.Extractor,
		reputation *threatintel.Checker,
		tp *utils.TextProcessor,
		normalizer *core.ContentNormalizer,
		scorer *core.PhishingScorer,
		trusted *whitelist.Checker,
		scheduler *core.RefreshScheduler,
		logger *zap.Logger,
	) (*core.IngestionService, error) {
		opts, err := f.CreateServiceOptions()
		if err != nil {
			return nil, err
		}
		return core.NewIngestionService(core.Dependencies{
			Provider:      provider,
			Store:         store,
			Authenticator: authenticator,
			URLs:          extractor,
			Reputation:    reputation,
			Text:          tp,
			Normalizer:    normalizer,
			Scorer:        scorer,
			Trusted:       trusted,
			Scheduler:     scheduler,
		}, opts, logger), nil
	}); err != nil {
		return err
	}

	return nil
}
