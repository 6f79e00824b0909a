package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
)

// EmailFetcher runs the ingestion pipeline for one request
type EmailFetcher interface {
	FetchEmails(ctx context.Context, req core.FetchRequest) (*core.FetchResult, error)
}

// Server exposes the pipeline and user settings over HTTP
type Server struct {
	fetcher         EmailFetcher
	store           core.Store
	logger          *zap.Logger
	listenAddr      string
	shutdownTimeout time.Duration
	engine          *gin.Engine
	srv             *http.Server
	now             func() time.Time
}

// NewServer creates a new HTTP API server
func NewServer(
	fetcher EmailFetcher,
	store core.Store,
	logger *zap.Logger,
	listenAddr string,
	mode string,
	shutdownTimeout time.Duration,
) *Server {
	if mode != "" {
		gin.SetMode(mode)
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	s := &Server{
		fetcher:         fetcher,
		store:           store,
		logger:          logger,
		listenAddr:      listenAddr,
		shutdownTimeout: shutdownTimeout,
		now:             time.Now,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.routes(r)
	s.engine = r
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	g := r.Group("/gmail")
	g.POST("/extract", s.handleExtract)
	g.POST("/force-check", s.handleForceCheck)
	g.POST("/toggle-auto-check", s.handleToggleAutoCheck)
	g.GET("/auto-check-status", s.handleAutoCheckStatus)

	st := r.Group("/settings")
	st.GET("/trusted-domains", s.handleListTrustedDomains)
	st.POST("/trusted-domains", s.handleAddTrustedDomain)
	st.DELETE("/trusted-domains", s.handleRemoveTrustedDomain)
	st.GET("/analysis", s.handleAnalysis)

	r.POST("/auth/token", s.handleStoreToken)
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("HTTP API starting", zap.String("address", s.listenAddr))

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
