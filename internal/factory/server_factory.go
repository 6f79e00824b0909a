package factory

import (
	"github.com/mikey/mail-sentinel/internal/adapters/api"
	"github.com/mikey/mail-sentinel/internal/adapters/oauth"
	"github.com/mikey/mail-sentinel/internal/background"
	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/ports"
	"go.uber.org/zap"
)

// ServerFactory creates the long-running front ends of the service
type ServerFactory struct {
	cfg     *config.Config
	logger  *zap.Logger
	service *core.IngestionService
	store   core.Store
}

// NewServerFactory creates a new server factory
func NewServerFactory(cfg *config.Config, logger *zap.Logger, service *core.IngestionService, store core.Store) *ServerFactory {
	return &ServerFactory{
		cfg:     cfg,
		logger:  logger,
		service: service,
		store:   store,
	}
}

// CreateServers returns the HTTP API and, when enabled, the background auto-check runner
func (f *ServerFactory) CreateServers() []ports.Server {
	serverCfg := f.cfg.GetServer()
	servers := []ports.Server{
		api.NewServer(
			f.service,
			f.store,
			f.logger.Named("api"),
			serverCfg.ListenAddress,
			serverCfg.Mode,
			serverCfg.ShutdownTimeout,
		),
	}

	schedulerCfg := f.cfg.GetScheduler()
	if schedulerCfg.Enabled {
		tokens := oauth.NewTokenProvider(f.store, f.cfg.GetOAuth(), f.logger.Named("oauth"))
		servers = append(servers, background.NewRunner(
			f.store,
			tokens,
			f.service,
			schedulerCfg.Interval,
			schedulerCfg.Concurrency,
			f.logger.Named("auto-check"),
		))
	}
	return servers
}
