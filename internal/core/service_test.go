package core_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mikey/mail-sentinel/internal/adapters/store"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/headers"
	"github.com/mikey/mail-sentinel/internal/threatintel"
	"github.com/mikey/mail-sentinel/internal/urls"
	"github.com/mikey/mail-sentinel/internal/utils"
	"github.com/mikey/mail-sentinel/internal/whitelist"
	"go.uber.org/zap/zaptest"
)

const (
	owner     = "me@example.com"
	passAuth  = "mx.google.com; spf=pass; dkim=pass; dmarc=pass"
	failAuth  = "mx.google.com; spf=fail; dkim=fail; dmarc=fail"
	userID    = "user-1"
	userToken = "token-1"
)

type fakeMailbox struct {
	mu       sync.Mutex
	messages []*core.RawMessage
	queries  []string
	listErr  error
	getErr   error
	profile  string
	// hang makes GetMessage block until its context ends
	hang bool
}

func (f *fakeMailbox) ListMessages(ctx context.Context, query string, maxResults int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.listErr != nil {
		return nil, f.listErr
	}

	// the provider filters with second granularity, so the boundary message comes back
	var afterMs int64
	if i := strings.Index(query, "after:"); i >= 0 {
		sec, _ := strconv.ParseInt(query[i+len("after:"):], 10, 64)
		afterMs = sec * 1000
	}
	var ids []string
	for _, m := range f.messages {
		if m.InternalDate >= afterMs && len(ids) < maxResults {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (f *fakeMailbox) GetMessage(ctx context.Context, id string) (*core.RawMessage, error) {
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, m := range f.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, fmt.Errorf("message %s not found", id)
}

func (f *fakeMailbox) GetProfile(ctx context.Context) (string, error) {
	return f.profile, nil
}

func (f *fakeMailbox) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeProvider struct{ mailbox *fakeMailbox }

func (p fakeProvider) Open(ctx context.Context, token string) (core.Mailbox, error) {
	return p.mailbox, nil
}

type classifierFunc func(ctx context.Context, text string) (*core.Prediction, error)

func (f classifierFunc) Classify(ctx context.Context, text string) (*core.Prediction, error) {
	return f(ctx, text)
}

func lowRisk(context.Context, string) (*core.Prediction, error) {
	return &core.Prediction{Confidence: 0.1, Prediction: 0}, nil
}

func message(id string, ts int64, from, auth, body string) *core.RawMessage {
	hs := []core.Header{
		{Name: "From", Value: from},
		{Name: "Subject", Value: "subject " + id},
		{Name: "Date", Value: "Mon, 1 Jan 2024 10:00:00 +0000"},
	}
	if auth != "" {
		hs = append(hs, core.Header{Name: "Authentication-Results", Value: auth})
	}
	return &core.RawMessage{
		ID:           id,
		InternalDate: ts,
		Snippet:      body,
		Payload: &core.MessagePart{
			MimeType: "multipart/alternative",
			Headers:  hs,
			Parts: []*core.MessagePart{{
				MimeType: "text/plain",
				Body:     core.PartBody{Data: base64.URLEncoding.EncodeToString([]byte(body))},
			}},
		},
	}
}

type harness struct {
	svc     *core.IngestionService
	store   *store.MemoryStore
	mailbox *fakeMailbox
	now     time.Time
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

type harnessOptions struct {
	classifier core.PhishingClassifier
	threats    []core.ThreatIntelEntry
	policy     core.ForceRefreshPolicy
	trusted    []string

	providerTimeout time.Duration
	classifyTimeout time.Duration
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	if opts.classifier == nil {
		opts.classifier = classifierFunc(lowRisk)
	}

	h := &harness{
		store:   store.NewMemoryStore(logger),
		mailbox: &fakeMailbox{profile: owner},
		now:     time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }

	text := utils.NewTextProcessor(logger)
	deps := core.Dependencies{
		Provider:      fakeProvider{h.mailbox},
		Store:         h.store,
		Authenticator: headers.NewAuthenticator(headers.PolicyFailClosed),
		URLs:          urls.NewExtractor(text, logger),
		Reputation:    threatintel.NewChecker(threatintel.NewStaticDatabase(opts.threats), logger),
		Text:          text,
		Normalizer:    core.NewContentNormalizer(nil, time.Second, logger),
		Scorer:        core.NewPhishingScorer(opts.classifier, core.HighConfidenceThreshold, opts.classifyTimeout, logger),
		Trusted:       whitelist.NewChecker(opts.trusted, logger),
		Scheduler:     core.NewRefreshScheduler(h.store, clock, logger),
	}
	h.svc = core.NewIngestionService(deps, core.ServiceOptions{
		ForceRefreshPolicy: opts.policy,
		ProviderTimeout:    opts.providerTimeout,
	}, logger).WithClock(clock)
	return h
}

func (h *harness) fetch(t *testing.T, force bool) *core.FetchResult {
	t.Helper()
	res, err := h.svc.FetchEmails(context.Background(), core.FetchRequest{
		BearerToken: userToken, UserID: userID, ForceRefresh: force,
	})
	if err != nil {
		t.Fatalf("FetchEmails: %v", err)
	}
	return res
}

func TestFetchSafeEmail(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.mailbox.messages = []*core.RawMessage{
		message("m1", 1704103200000, "Friend <friend@other.com>", passAuth, "lunch tomorrow?"),
	}

	res := h.fetch(t, false)
	if !res.Success || res.FromCache || len(res.Emails) != 1 || res.NewEmails != 1 {
		t.Fatalf("result = %+v", res)
	}
	e := res.Emails[0]
	if e.SecurityStatus != core.StatusSafe {
		t.Errorf("status = %s", e.SecurityStatus)
	}
	if !e.SecurityDetails.NLPCheck.Pass || e.NLPConfidence != 0.1 || e.IsSelfSent {
		t.Errorf("email = %+v", e)
	}
	if res.LastEmailTimestamp != 1704103200000 {
		t.Errorf("watermark = %d", res.LastEmailTimestamp)
	}
	if h.mailbox.queries[0] != "category:primary" {
		t.Errorf("first query = %q", h.mailbox.queries[0])
	}

	settings, _ := h.store.GetSettings(context.Background(), userID)
	if settings == nil || settings.LastChecked == nil || !settings.LastChecked.Equal(h.now) {
		t.Errorf("lastChecked not recorded: %+v", settings)
	}
	counters, _ := h.store.GetAnalysis(context.Background(), userID)
	if counters == nil || counters.TotalEmailsProcessed != 1 || counters.MaliciousEmailsCount != 0 {
		t.Errorf("counters = %+v", counters)
	}
}

func TestFetchMaliciousURL(t *testing.T) {
	h := newHarness(t, harnessOptions{
		threats: []core.ThreatIntelEntry{{URL: "http://phish.example/login", Category: core.CategoryPhishing}},
	})
	h.mailbox.messages = []*core.RawMessage{
		message("m1", 1704103200000, "Bank <alerts@bank.example>", passAuth,
			"Verify at http://phish.example/login and https://bank.example/help"),
	}

	e := h.fetch(t, false).Emails[0]
	if e.SecurityStatus != core.StatusMalicious {
		t.Errorf("status = %s", e.SecurityStatus)
	}
	if e.SecurityDetails.URLCheck.Pass || e.SecurityDetails.URLCheck.MaliciousCount != 1 {
		t.Errorf("urlCheck = %+v", e.SecurityDetails.URLCheck)
	}
	if len(e.URLs) != 1 || e.URLs[0] != "http://phish.example/login" {
		t.Errorf("urls = %v", e.URLs)
	}

	counters, _ := h.store.GetAnalysis(context.Background(), userID)
	if counters.MaliciousEmailsCount != 1 || len(counters.MaliciousSenders) != 1 || counters.MaliciousSenders[0] != "alerts@bank.example" {
		t.Errorf("counters = %+v", counters)
	}
}

func TestFetchSelfSent(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.mailbox.messages = []*core.RawMessage{
		message("m1", 1704103200000, "Me <ME@example.com>", failAuth, "note to self"),
	}

	e := h.fetch(t, false).Emails[0]
	if e.SecurityStatus != core.StatusSafe || !e.IsSelfSent {
		t.Errorf("email = %+v", e)
	}
	if e.SecurityDetails.SelfSent == nil {
		t.Error("selfSent explanation missing")
	}
	if e.SecurityDetails.SPF.Pass {
		t.Error("header verdicts are still reported")
	}
}

func TestFetchHighConfidenceOverridesSelfSent(t *testing.T) {
	h := newHarness(t, harnessOptions{
		classifier: classifierFunc(func(context.Context, string) (*core.Prediction, error) {
			return &core.Prediction{Confidence: 0.97, Prediction: 1}, nil
		}),
	})
	h.mailbox.messages = []*core.RawMessage{
		message("m1", 1704103200000, "Me <me@example.com>", passAuth, "urgent: reset your password"),
	}

	e := h.fetch(t, false).Emails[0]
	if e.SecurityStatus != core.StatusMalicious || !e.IsHighConfidencePhishing {
		t.Errorf("email = %+v", e)
	}
	if e.SecurityDetails.SelfSent != nil {
		t.Error("selfSent explanation must not be attached when overridden")
	}
}

func TestFetchClassifierDown(t *testing.T) {
	h := newHarness(t, harnessOptions{
		classifier: classifierFunc(func(context.Context, string) (*core.Prediction, error) {
			return nil, context.DeadlineExceeded
		}),
	})
	h.mailbox.messages = []*core.RawMessage{
		message("m1", 1704103200000, "Friend <friend@other.com>", passAuth, "hello"),
	}

	e := h.fetch(t, false).Emails[0]
	if e.SecurityStatus != core.StatusSafe || e.NLPConfidence != 0 || e.NLPPrediction != 0 {
		t.Errorf("email = %+v", e)
	}
}

func TestFetchHangingClassifierCompletes(t *testing.T) {
	h := newHarness(t, harnessOptions{
		classifier: classifierFunc(func(ctx context.Context, _ string) (*core.Prediction, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		classifyTimeout: 50 * time.Millisecond,
	})
	h.mailbox.messages = []*core.RawMessage{
		message("m1", 1704103200000, "Friend <friend@other.com>", passAuth, "hello"),
	}

	type outcome struct {
		res *core.FetchResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.svc.FetchEmails(context.Background(), core.FetchRequest{BearerToken: userToken, UserID: userID})
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("FetchEmails: %v", out.err)
		}
		res := out.res
		if len(res.Emails) != 1 {
			t.Fatalf("emails = %d", len(res.Emails))
		}
		e := res.Emails[0]
		if e.SecurityStatus != core.StatusSafe || e.NLPConfidence != 0 || e.NLPPrediction != 0 {
			t.Errorf("email = %+v", e)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not finish after the classifier deadline")
	}
}

func TestFetchHangingMailboxAbortsWithoutMerge(t *testing.T) {
	h := newHarness(t, harnessOptions{providerTimeout: 50 * time.Millisecond})
	h.mailbox.messages = []*core.RawMessage{
		message("m1", 1704103200000, "a <a@other.com>", passAuth, "one"),
	}
	before := h.fetch(t, false)
	checkedAt := h.now

	h.advance(2 * time.Minute)
	h.mailbox.messages = append(h.mailbox.messages,
		message("m2", 1704106800000, "b <b@other.com>", passAuth, "two"))
	h.mailbox.hang = true

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.FetchEmails(context.Background(), core.FetchRequest{
			BearerToken: userToken, UserID: userID, ForceRefresh: true,
		})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not give up on the hanging mailbox")
	}

	state, err := h.store.GetEmailState(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetEmailState: %v", err)
	}
	if len(state.Emails) != 1 || state.LastEmailTimestamp != before.LastEmailTimestamp {
		t.Errorf("state changed after aborted run: %d emails, watermark %d", len(state.Emails), state.LastEmailTimestamp)
	}
	settings, err := h.store.GetSettings(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if settings.LastChecked == nil || !settings.LastChecked.Equal(checkedAt) {
		t.Errorf("last checked = %v, want %v", settings.LastChecked, checkedAt)
	}
}

func TestFetchCancelledRunStoresNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, harnessOptions{
		classifier: classifierFunc(func(context.Context, string) (*core.Prediction, error) {
			cancel()
			return &core.Prediction{Confidence: 0.1, Prediction: 0}, nil
		}),
		threats: []core.ThreatIntelEntry{{URL: "http://phish.example/login", Category: core.CategoryPhishing}},
	})
	h.mailbox.messages = []*core.RawMessage{
		message("m1", 1704103200000, "Bank <help@bank.example>", passAuth,
			"Sign in at http://phish.example/login or https://bank.example/help"),
	}

	_, err := h.svc.FetchEmails(ctx, core.FetchRequest{BearerToken: userToken, UserID: userID})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, err := h.store.GetEmailState(context.Background(), userID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cancelled run must not store emails: %v", err)
	}
	settings, err := h.store.GetSettings(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if settings.LastChecked != nil {
		t.Errorf("cancelled run must not mark the user checked: %v", settings.LastChecked)
	}
}

func TestFetchIdempotentWithoutNewMail(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.mailbox.messages = []*core.RawMessage{
		message("m1", 1704103200500, "a <a@other.com>", passAuth, "one"),
	}
	first := h.fetch(t, false)

	h.advance(10 * time.Minute)
	second := h.fetch(t, true)

	if len(second.Emails) != 1 || second.LastEmailTimestamp != first.LastEmailTimestamp || second.NewEmails != 0 {
		t.Errorf("second run changed state: %+v", second)
	}
	if !strings.HasSuffix(h.mailbox.queries[1], "after:1704103200") {
		t.Errorf("query = %q", h.mailbox.queries[1])
	}
	settings, _ := h.store.GetSettings(context.Background(), userID)
	if !settings.LastChecked.Equal(h.now) {
		t.Errorf("lastChecked = %v, want %v", settings.LastChecked, h.now)
	}
}

func TestFetchIncrementalMerge(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.mailbox.messages = []*core.RawMessage{
		message("m1", 1704103200000, "a <a@other.com>", passAuth, "one"),
	}
	h.fetch(t, false)

	h.mailbox.messages = append(h.mailbox.messages,
		message("m2", 1704103300000, "b <b@other.com>", passAuth, "two"))
	h.advance(time.Hour)
	res := h.fetch(t, false)

	if len(res.Emails) != 2 || res.Emails[0].MessageID != "m2" || res.NewEmails != 1 {
		t.Fatalf("emails = %+v", res.Emails)
	}
	if res.LastEmailTimestamp != 1704103300000 {
		t.Errorf("watermark = %d", res.LastEmailTimestamp)
	}
	counters, _ := h.store.GetAnalysis(context.Background(), userID)
	if counters.TotalEmailsProcessed != 2 {
		t.Errorf("boundary message was processed twice: %+v", counters)
	}
}

func TestFetchServesCache(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.mailbox.messages = []*core.RawMessage{
		message("m1", 1704103200000, "a <a@other.com>", passAuth, "one"),
	}
	if _, err := h.store.SetAutoCheck(context.Background(), userID, true); err != nil {
		t.Fatal(err)
	}
	h.fetch(t, false)

	h.advance(30 * time.Second)
	res := h.fetch(t, false)
	if !res.FromCache || len(res.Emails) != 1 {
		t.Errorf("result = %+v", res)
	}
	if calls := h.mailbox.listCalls(); calls != 1 {
		t.Errorf("provider called %d times", calls)
	}

	h.advance(time.Minute)
	if res := h.fetch(t, false); res.FromCache {
		t.Error("stale results must be refreshed")
	}
}

func TestForceRefreshPolicies(t *testing.T) {
	for _, tt := range []struct {
		policy    core.ForceRefreshPolicy
		fromCache bool
		calls     int
	}{
		{core.ForceRefreshRefetch, false, 2},
		{core.ForceRefreshSnapshot, true, 1},
	} {
		t.Run(string(tt.policy), func(t *testing.T) {
			h := newHarness(t, harnessOptions{policy: tt.policy})
			h.mailbox.messages = []*core.RawMessage{
				message("m1", 1704103200000, "a <a@other.com>", passAuth, "one"),
			}
			h.fetch(t, false)

			res := h.fetch(t, true)
			if res.FromCache != tt.fromCache {
				t.Errorf("fromCache = %v", res.FromCache)
			}
			if calls := h.mailbox.listCalls(); calls != tt.calls {
				t.Errorf("provider calls = %d, want %d", calls, tt.calls)
			}
		})
	}
}

func TestFetchReauthAbortsWithoutWrites(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.mailbox.listErr = fmt.Errorf("gmail: %w", core.ErrReauthRequired)

	_, err := h.svc.FetchEmails(context.Background(), core.FetchRequest{BearerToken: userToken, UserID: userID})
	if !errors.Is(err, core.ErrReauthRequired) {
		t.Fatalf("err = %v", err)
	}
	if _, err := h.store.GetEmailState(context.Background(), userID); !errors.Is(err, core.ErrNotFound) {
		t.Error("no state may be written on auth failure")
	}
}

func TestFetchMessageFailureAbortsRun(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.mailbox.messages = []*core.RawMessage{
		message("m1", 1704103200000, "a <a@other.com>", passAuth, "one"),
	}
	h.mailbox.getErr = errors.New("backend error")

	if _, err := h.svc.FetchEmails(context.Background(), core.FetchRequest{BearerToken: userToken, UserID: userID}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := h.store.GetEmailState(context.Background(), userID); !errors.Is(err, core.ErrNotFound) {
		t.Error("partial run must not write state")
	}
}

func TestFetchInvalidInput(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	for _, req := range []core.FetchRequest{
		{BearerToken: "", UserID: userID},
		{BearerToken: userToken, UserID: "  "},
	} {
		if _, err := h.svc.FetchEmails(context.Background(), req); !errors.Is(err, core.ErrInvalidInput) {
			t.Errorf("req %+v: err = %v", req, err)
		}
	}
	if _, err := h.store.GetSettings(context.Background(), userID); !errors.Is(err, core.ErrNotFound) {
		t.Error("invalid input must not create settings")
	}
	if h.mailbox.listCalls() != 0 {
		t.Error("provider must not be called")
	}
}

func TestFetchSkipsTrustedDomains(t *testing.T) {
	h := newHarness(t, harnessOptions{trusted: []string{"global.org"}})
	if err := h.store.AddTrustedDomain(context.Background(), userID, "work.com"); err != nil {
		t.Fatal(err)
	}
	h.mailbox.messages = []*core.RawMessage{
		message("m1", 1704103200000, "Boss <boss@work.com>", failAuth, "one"),
		message("m2", 1704103300000, "News <news@global.org>", failAuth, "two"),
		message("m3", 1704103100000, "x <x@other.com>", passAuth, "three"),
	}

	res := h.fetch(t, false)
	if len(res.Emails) != 1 || res.Emails[0].MessageID != "m3" {
		t.Errorf("emails = %+v", res.Emails)
	}
	if res.LastEmailTimestamp != 1704103300000 {
		t.Errorf("watermark should cover skipped messages: %d", res.LastEmailTimestamp)
	}
}

func TestConcurrentRunsForSameUser(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	for i := 0; i < 5; i++ {
		h.mailbox.messages = append(h.mailbox.messages,
			message(fmt.Sprintf("m%d", i), 1704103200000+int64(i)*1000, "a <a@other.com>", passAuth, "text"))
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.FetchEmails(context.Background(), core.FetchRequest{
				BearerToken: userToken, UserID: userID, ForceRefresh: true,
			}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	state, err := h.store.GetEmailState(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Emails) != 5 {
		t.Errorf("emails = %d, want 5", len(state.Emails))
	}
	counters, _ := h.store.GetAnalysis(context.Background(), userID)
	if counters.TotalEmailsProcessed != 5 {
		t.Errorf("processed = %d, want 5", counters.TotalEmailsProcessed)
	}
}
