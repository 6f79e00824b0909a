package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/whitelist"
	"go.uber.org/zap"
)

// userRef accepts the legacy googleId field as an alias of userId
type userRef struct {
	UserID   string `json:"userId" form:"userId"`
	GoogleID string `json:"googleId" form:"googleId"`
}

func (u userRef) id() string {
	if id := strings.TrimSpace(u.UserID); id != "" {
		return id
	}
	return strings.TrimSpace(u.GoogleID)
}

type extractRequest struct {
	userRef
	Token        string `json:"token"`
	ForceRefresh bool   `json:"forceRefresh"`
}

type toggleRequest struct {
	userRef
	AutoCheckEmails *bool `json:"autoCheckEmails"`
}

type domainRequest struct {
	userRef
	Domain string `json:"domain" form:"domain"`
}

type tokenRequest struct {
	userRef
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func (s *Server) handleExtract(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.fetch(c, req.Token, req.id(), req.ForceRefresh)
}

func (s *Server) handleForceCheck(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.fetch(c, req.Token, req.id(), true)
}

func (s *Server) fetch(c *gin.Context, token, userID string, force bool) {
	result, err := s.fetcher.FetchEmails(c.Request.Context(), core.FetchRequest{
		BearerToken:  token,
		UserID:       userID,
		ForceRefresh: force,
	})
	if err != nil {
		s.writeError(c, userID, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleToggleAutoCheck(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.id() == "" || req.AutoCheckEmails == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required parameters (userId, autoCheckEmails)"})
		return
	}

	settings, err := s.store.SetAutoCheck(c.Request.Context(), req.id(), *req.AutoCheckEmails)
	if err != nil {
		s.writeError(c, req.id(), err)
		return
	}
	s.logger.Info("Auto-check toggled",
		zap.String("user_id", req.id()),
		zap.Bool("enabled", settings.AutoCheckEnabled))
	c.JSON(http.StatusOK, gin.H{"success": true, "autoCheckEmails": settings.AutoCheckEnabled})
}

func (s *Server) handleAutoCheckStatus(c *gin.Context) {
	var ref userRef
	_ = c.ShouldBindQuery(&ref)
	if ref.id() == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No user ID provided"})
		return
	}

	enabled := false
	settings, err := s.store.GetSettings(c.Request.Context(), ref.id())
	switch {
	case err == nil:
		enabled = settings.AutoCheckEnabled
	case !errors.Is(err, core.ErrNotFound):
		s.writeError(c, ref.id(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "autoCheckEmails": enabled})
}

func (s *Server) handleListTrustedDomains(c *gin.Context) {
	var ref userRef
	_ = c.ShouldBindQuery(&ref)
	if ref.id() == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No user ID provided"})
		return
	}
	domains, err := s.store.GetTrustedDomains(c.Request.Context(), ref.id())
	if err != nil {
		s.writeError(c, ref.id(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"domains": domains})
}

func (s *Server) handleAddTrustedDomain(c *gin.Context) {
	req, ok := s.bindDomain(c, c.ShouldBindJSON)
	if !ok {
		return
	}
	if err := s.store.AddTrustedDomain(c.Request.Context(), req.id(), req.Domain); err != nil {
		s.writeError(c, req.id(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "domain": req.Domain})
}

func (s *Server) handleRemoveTrustedDomain(c *gin.Context) {
	req, ok := s.bindDomain(c, c.ShouldBindQuery)
	if !ok {
		return
	}
	if err := s.store.RemoveTrustedDomain(c.Request.Context(), req.id(), req.Domain); err != nil {
		s.writeError(c, req.id(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "domain": req.Domain})
}

func (s *Server) bindDomain(c *gin.Context, bind func(interface{}) error) (domainRequest, bool) {
	var req domainRequest
	if err := bind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return req, false
	}
	req.Domain = whitelist.NormalizeDomain(req.Domain)
	if req.id() == "" || req.Domain == "" || strings.ContainsAny(req.Domain, " @/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid parameters (userId, domain)"})
		return req, false
	}
	return req, true
}

func (s *Server) handleAnalysis(c *gin.Context) {
	var ref userRef
	_ = c.ShouldBindQuery(&ref)
	if ref.id() == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No user ID provided"})
		return
	}
	counters, err := s.store.GetAnalysis(c.Request.Context(), ref.id())
	if errors.Is(err, core.ErrNotFound) {
		counters, err = &core.UserAnalysisCounters{UserID: ref.id(), MaliciousSenders: []string{}}, nil
	}
	if err != nil {
		s.writeError(c, ref.id(), err)
		return
	}
	c.JSON(http.StatusOK, counters)
}

func (s *Server) handleStoreToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.id() == "" || req.AccessToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required parameters (userId, accessToken)"})
		return
	}
	expiresIn := time.Duration(req.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	err := s.store.SaveToken(c.Request.Context(), &core.StoredToken{
		UserID:       req.id(),
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    s.now().Add(expiresIn),
	})
	if err != nil {
		s.writeError(c, req.id(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) writeError(c *gin.Context, userID string, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, core.ErrReauthRequired):
		c.JSON(http.StatusUnauthorized, gin.H{
			"success":        false,
			"error":          "Authentication failed. Please log in again.",
			"requiresReAuth": true,
		})
	default:
		s.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("user_id", userID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
	}
}
