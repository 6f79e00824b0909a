package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikey/mail-sentinel/internal/adapters/store"
	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap/zaptest"
)

type fetcherFunc func(ctx context.Context, req core.FetchRequest) (*core.FetchResult, error)

func (f fetcherFunc) FetchEmails(ctx context.Context, req core.FetchRequest) (*core.FetchResult, error) {
	return f(ctx, req)
}

func newTestServer(t *testing.T, fetcher EmailFetcher) (*Server, *store.MemoryStore) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	st := store.NewMemoryStore(logger)
	return NewServer(fetcher, st, logger, "127.0.0.1:0", gin.TestMode, time.Second), st
}

func do(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("response is not JSON: %s", rec.Body.String())
		}
	}
	return rec, out
}

func TestExtractPassesRequestThrough(t *testing.T) {
	var got core.FetchRequest
	s, _ := newTestServer(t, fetcherFunc(func(ctx context.Context, req core.FetchRequest) (*core.FetchResult, error) {
		got = req
		return &core.FetchResult{Success: true, Emails: []*core.ProcessedEmail{{MessageID: "m1"}}, NewEmails: 1}, nil
	}))

	rec, body := do(t, s, http.MethodPost, "/gmail/extract", `{"token":"tok","userId":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got.BearerToken != "tok" || got.UserID != "u1" || got.ForceRefresh {
		t.Errorf("unexpected request %+v", got)
	}
	if body["success"] != true || body["newEmails"] != float64(1) {
		t.Errorf("unexpected body %v", body)
	}
}

func TestForceCheckSetsForce(t *testing.T) {
	var got core.FetchRequest
	s, _ := newTestServer(t, fetcherFunc(func(ctx context.Context, req core.FetchRequest) (*core.FetchResult, error) {
		got = req
		return &core.FetchResult{Success: true}, nil
	}))

	rec, _ := do(t, s, http.MethodPost, "/gmail/force-check", `{"token":"tok","googleId":"legacy"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !got.ForceRefresh || got.UserID != "legacy" {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestExtractErrorMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{fmt.Errorf("%w: user id is required", core.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: token expired", core.ErrReauthRequired), http.StatusUnauthorized},
		{fmt.Errorf("database down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		s, _ := newTestServer(t, fetcherFunc(func(ctx context.Context, req core.FetchRequest) (*core.FetchResult, error) {
			return nil, tt.err
		}))
		rec, body := do(t, s, http.MethodPost, "/gmail/extract", `{"token":"tok","userId":"u1"}`)
		if rec.Code != tt.wantStatus {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.wantStatus)
		}
		if tt.wantStatus == http.StatusUnauthorized && body["requiresReAuth"] != true {
			t.Errorf("missing requiresReAuth flag: %v", body)
		}
		if tt.wantStatus == http.StatusInternalServerError && strings.Contains(rec.Body.String(), "database down") {
			t.Errorf("internal error leaked: %s", rec.Body.String())
		}
	}
}

func TestAutoCheckToggleAndStatus(t *testing.T) {
	s, _ := newTestServer(t, nil)

	_, body := do(t, s, http.MethodGet, "/gmail/auto-check-status?userId=u1", "")
	if body["autoCheckEmails"] != false {
		t.Errorf("default status = %v", body)
	}

	rec, _ := do(t, s, http.MethodPost, "/gmail/toggle-auto-check", `{"userId":"u1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing flag status = %d", rec.Code)
	}

	rec, body = do(t, s, http.MethodPost, "/gmail/toggle-auto-check", `{"userId":"u1","autoCheckEmails":true}`)
	if rec.Code != http.StatusOK || body["autoCheckEmails"] != true {
		t.Fatalf("toggle = %d %v", rec.Code, body)
	}

	_, body = do(t, s, http.MethodGet, "/gmail/auto-check-status?userId=u1", "")
	if body["autoCheckEmails"] != true {
		t.Errorf("status after toggle = %v", body)
	}
}

func TestTrustedDomainLifecycle(t *testing.T) {
	s, st := newTestServer(t, nil)

	rec, _ := do(t, s, http.MethodPost, "/settings/trusted-domains", `{"userId":"u1","domain":" @Bank.Example "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("add status = %d", rec.Code)
	}
	domains, _ := st.GetTrustedDomains(context.Background(), "u1")
	if len(domains) != 1 || domains[0] != "bank.example" {
		t.Fatalf("stored domains = %v", domains)
	}

	_, body := do(t, s, http.MethodGet, "/settings/trusted-domains?userId=u1", "")
	if list, ok := body["domains"].([]interface{}); !ok || len(list) != 1 {
		t.Errorf("list = %v", body)
	}

	rec, _ = do(t, s, http.MethodDelete, "/settings/trusted-domains?userId=u1&domain=bank.example", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	domains, _ = st.GetTrustedDomains(context.Background(), "u1")
	if len(domains) != 0 {
		t.Errorf("domains after delete = %v", domains)
	}

	rec, _ = do(t, s, http.MethodPost, "/settings/trusted-domains", `{"userId":"u1","domain":"not a domain"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid domain status = %d", rec.Code)
	}
}

func TestAnalysisDefaultsToZero(t *testing.T) {
	s, st := newTestServer(t, nil)

	_, body := do(t, s, http.MethodGet, "/settings/analysis?userId=u1", "")
	if body["totalEmailsProcessed"] != float64(0) {
		t.Errorf("empty counters = %v", body)
	}

	st.IncrementAnalysis(context.Background(), "u1", 3, 1, []string{"bad@evil.example"})
	_, body = do(t, s, http.MethodGet, "/settings/analysis?userId=u1", "")
	if body["totalEmailsProcessed"] != float64(3) || body["maliciousEmailsCount"] != float64(1) {
		t.Errorf("counters = %v", body)
	}
}

func TestStoreToken(t *testing.T) {
	s, st := newTestServer(t, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	rec, _ := do(t, s, http.MethodPost, "/auth/token", `{"userId":"u1","accessToken":"a","refreshToken":"r","expiresIn":600}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	tok, err := st.GetToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if tok.AccessToken != "a" || tok.RefreshToken != "r" || !tok.ExpiresAt.Equal(now.Add(10*time.Minute)) {
		t.Errorf("unexpected token %+v", tok)
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec, body := do(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", rec.Code, body)
	}
}
