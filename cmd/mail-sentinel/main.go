package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/di"
	"github.com/mikey/mail-sentinel/internal/ports"
	"github.com/mikey/mail-sentinel/internal/threatintel"
	"go.uber.org/zap"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	servers []ports.Server,
	classifier core.PhishingClassifier,
	normalizer *core.ContentNormalizer,
	reputation *threatintel.Checker,
	store core.Store,
) error {
	defer logger.Sync()

	started := make([]ports.Server, 0, len(servers))
	for _, srv := range servers {
		if err := srv.Start(); err != nil {
			logger.Error("Failed to start server", zap.Error(err))
			stopAll(logger, started)
			return err
		}
		started = append(started, srv)
	}

	// SIGHUP reloads the threat list, SIGINT and SIGTERM shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			break
		}
		logger.Info("Reloading threat list")
		reputation.Reload()
	}
	logger.Info("Shutting down...")

	stopAll(logger, started)

	// Let background translations finish before closing anything they log through
	normalizer.Wait()

	if closer, ok := classifier.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close classifier", zap.Error(err))
		}
	}

	if err := store.Close(); err != nil {
		logger.Error("Failed to close store", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

// stopAll stops servers in reverse start order
func stopAll(logger *zap.Logger, servers []ports.Server) {
	for i := len(servers) - 1; i >= 0; i-- {
		if err := servers[i].Stop(); err != nil {
			logger.Error("Failed to stop server", zap.Error(err))
		}
	}
}
