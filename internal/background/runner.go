// Package background runs periodic ingestion for users who enabled auto-check.
package background

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EmailFetcher runs the ingestion pipeline for one user
type EmailFetcher interface {
	FetchEmails(ctx context.Context, req core.FetchRequest) (*core.FetchResult, error)
}

// Runner sweeps auto-check users on a fixed interval
type Runner struct {
	settings    core.SettingsRepository
	tokens      core.TokenProvider
	fetcher     EmailFetcher
	interval    time.Duration
	concurrency int
	now         func() time.Time
	logger      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a background runner
func NewRunner(
	settings core.SettingsRepository,
	tokens core.TokenProvider,
	fetcher EmailFetcher,
	interval time.Duration,
	concurrency int,
	logger *zap.Logger,
) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Runner{
		settings:    settings,
		tokens:      tokens,
		fetcher:     fetcher,
		interval:    interval,
		concurrency: concurrency,
		now:         time.Now,
		logger:      logger,
	}
}

// Start launches the sweep loop
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("background runner already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	r.logger.Info("Background auto-check starting",
		zap.Duration("interval", r.interval),
		zap.Int("concurrency", r.concurrency))

	go r.loop(ctx, r.done)
	return nil
}

// Stop cancels the loop and waits for the current sweep to finish
func (r *Runner) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	r.logger.Info("Background auto-check stopped")
	return nil
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Auto-check sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce checks every due auto-check user and returns how many runs succeeded.
// Per-user failures are logged and do not stop the sweep.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	users, err := r.settings.ListAutoCheckUsers(ctx)
	if err != nil {
		return 0, err
	}

	now := r.now()
	var succeeded int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, settings := range users {
		due, reason := core.ShouldRefresh(settings, now)
		if !due {
			continue
		}
		userID := settings.UserID
		g.Go(func() error {
			if r.checkUser(gctx, userID, reason) {
				atomic.AddInt64(&succeeded, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := atomic.LoadInt64(&succeeded); n > 0 {
		r.logger.Info("Auto-check sweep completed", zap.Int64("users_checked", n))
	}
	return int(succeeded), nil
}

func (r *Runner) checkUser(ctx context.Context, userID, reason string) bool {
	logger := r.logger.With(zap.String("user_id", userID))

	token, err := r.tokens.AccessToken(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrReauthRequired) {
			logger.Warn("Skipping auto-check, user must re-authenticate", zap.Error(err))
		} else {
			logger.Error("Failed to obtain access token", zap.Error(err))
		}
		return false
	}

	result, err := r.fetcher.FetchEmails(ctx, core.FetchRequest{BearerToken: token, UserID: userID})
	if err != nil {
		logger.Error("Auto-check failed", zap.String("reason", reason), zap.Error(err))
		return false
	}
	logger.Debug("Auto-check completed",
		zap.String("reason", reason),
		zap.Int("new_emails", result.NewEmails),
		zap.Bool("from_cache", result.FromCache))
	return true
}
