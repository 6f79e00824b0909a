package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ServiceOptions tune an IngestionService
type ServiceOptions struct {
	Query              string
	MaxResults         int
	Retention          int
	Concurrency        int
	ForceRefreshPolicy ForceRefreshPolicy
	// ProviderTimeout bounds every mail provider call
	ProviderTimeout time.Duration
	// LogSubjectTranslations translates subjects in the background for diagnostics
	LogSubjectTranslations bool
}

func (o *ServiceOptions) applyDefaults() {
	if o.Query == "" {
		o.Query = "category:primary"
	}
	if o.MaxResults <= 0 {
		o.MaxResults = 50
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.ForceRefreshPolicy == "" {
		o.ForceRefreshPolicy = ForceRefreshRefetch
	}
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = 30 * time.Second
	}
}

// Dependencies are the collaborators of an IngestionService
type Dependencies struct {
	Provider      MailProvider
	Store         Store
	Authenticator HeaderAuthenticator
	URLs          URLExtractor
	Reputation    ReputationChecker
	Text          TextExtractor
	Normalizer    *ContentNormalizer
	Scorer        *PhishingScorer
	Trusted       TrustedDomainChecker
	Scheduler     *RefreshScheduler
}

// IngestionService runs the fetch, classify and merge pipeline for a user
type IngestionService struct {
	deps   Dependencies
	opts   ServiceOptions
	logger *zap.Logger
	now    func() time.Time
	locks  *keyedMutex
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(deps Dependencies, opts ServiceOptions, logger *zap.Logger) *IngestionService {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = NewRefreshScheduler(deps.Store, nil, logger)
	}
	return &IngestionService{
		deps:   deps,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		locks:  newKeyedMutex(),
	}
}

// WithClock replaces the service clock
func (s *IngestionService) WithClock(now func() time.Time) *IngestionService {
	s.now = now
	return s
}

// FetchEmails returns the user's classified emails, fetching from the provider
// when the refresh policy asks for it. Runs for the same user are serialized.
func (s *IngestionService) FetchEmails(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.BearerToken) == "" {
		return nil, fmt.Errorf("%w: access token is required", ErrInvalidInput)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	logger := s.logger.With(zap.String("user_id", userID))

	decision, err := s.deps.Scheduler.Decide(ctx, userID, req.ForceRefresh)
	if err != nil {
		return nil, err
	}

	state, err := s.deps.Store.GetEmailState(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		state, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load email state: %w", err)
	}

	if decision.ServeCached(s.opts.ForceRefreshPolicy, state != nil) {
		logger.Debug("Serving stored results", zap.String("reason", decision.Reason))
		return resultFromState(state, true, 0, ""), nil
	}

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))
	logger.Info("Fetching new emails", zap.String("reason", decision.Reason))

	return s.fetchAndMerge(ctx, logger, runID, userID, req.BearerToken, state)
}

// providerContext bounds a single mail provider call
func (s *IngestionService) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.ProviderTimeout)
}

func (s *IngestionService) openMailbox(ctx context.Context, token string) (Mailbox, string, error) {
	pctx, cancel := s.providerContext(ctx)
	defer cancel()

	mailbox, err := s.deps.Provider.Open(pctx, token)
	if err != nil {
		return nil, "", err
	}
	owner, err := mailbox.GetProfile(pctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load mailbox profile: %w", err)
	}
	return mailbox, owner, nil
}

func (s *IngestionService) listMessages(ctx context.Context, mailbox Mailbox, watermark int64) ([]string, error) {
	pctx, cancel := s.providerContext(ctx)
	defer cancel()

	ids, err := mailbox.ListMessages(pctx, BuildQuery(s.opts.Query, watermark), s.opts.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return ids, nil
}

func (s *IngestionService) fetchAndMerge(ctx context.Context, logger *zap.Logger, runID, userID, token string, state *UserEmailState) (*FetchResult, error) {
	mailbox, owner, err := s.openMailbox(ctx, token)
	if err != nil {
		return nil, err
	}

	var watermark int64
	if state != nil {
		watermark = state.LastEmailTimestamp
	}

	ids, err := s.listMessages(ctx, mailbox, watermark)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		logger.Info("No new emails")
		if err := s.deps.Store.TouchLastChecked(ctx, userID, s.now()); err != nil {
			return nil, fmt.Errorf("failed to update last checked: %w", err)
		}
		if state == nil {
			state = &UserEmailState{UserID: userID, Emails: []*ProcessedEmail{}, LastUpdated: s.now()}
		}
		return resultFromState(state, false, 0, runID), nil
	}

	messages, err := s.fetchMessages(ctx, mailbox, ids)
	if err != nil {
		return nil, err
	}

	trusted, err := s.deps.Store.GetTrustedDomains(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trusted domains: %w", err)
	}

	observed := watermark
	var candidates []*RawMessage
	for _, msg := range messages {
		observed = AdvanceWatermark(observed, msg.InternalDate)
		if msg.InternalDate <= watermark {
			continue
		}
		if s.deps.Trusted != nil && s.deps.Trusted.IsTrusted(msg.Header("From"), trusted) {
			logger.Debug("Skipping trusted sender", zap.String("message_id", msg.ID))
			continue
		}
		candidates = append(candidates, msg)
	}

	processed := s.analyzeAll(ctx, candidates, owner)
	if err := s.deps.Reputation.Check(ctx, processed); err != nil {
		return nil, fmt.Errorf("failed to check URL reputation: %w", err)
	}

	// A cancelled run scored its messages against degraded oracles; storing them
	// would move the watermark past mail that was never properly classified.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run cancelled before storing results: %w", err)
	}

	now := s.now()
	final, err := s.deps.Store.UpdateEmailState(ctx, userID, func(cur *UserEmailState) (*UserEmailState, error) {
		next := AdvanceWatermark(cur.LastEmailTimestamp, observed)
		if len(processed) == 0 && next == cur.LastEmailTimestamp {
			return nil, nil
		}
		cur.UserID = userID
		cur.Emails = MergeEmails(cur.Emails, processed, s.opts.Retention)
		cur.LastEmailTimestamp = next
		cur.LastUpdated = now
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store emails: %w", err)
	}

	s.recordAnalysis(ctx, logger, userID, processed)

	if err := s.deps.Store.TouchLastChecked(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("failed to update last checked: %w", err)
	}

	logger.Info("Processed emails",
		zap.Int("listed", len(ids)),
		zap.Int("new", len(processed)),
		zap.Int64("watermark", final.LastEmailTimestamp))

	return resultFromState(final, false, len(processed), runID), nil
}

// fetchMessages loads message details concurrently. Any failure aborts the run
// so the watermark never moves past a message that was not processed.
func (s *IngestionService) fetchMessages(ctx context.Context, mailbox Mailbox, ids []string) ([]*RawMessage, error) {
	messages := make([]*RawMessage, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			pctx, cancel := s.providerContext(gctx)
			defer cancel()

			msg, err := mailbox.GetMessage(pctx, id)
			if err != nil {
				return fmt.Errorf("failed to get message %s: %w", id, err)
			}
			messages[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := messages[:0]
	for _, m := range messages {
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *IngestionService) analyzeAll(ctx context.Context, messages []*RawMessage, owner string) []*ProcessedEmail {
	processed := make([]*ProcessedEmail, len(messages))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, msg := range messages {
		g.Go(func() error {
			processed[i] = s.AnalyzeMessage(ctx, msg, owner)
			return nil
		})
	}
	_ = g.Wait()
	return processed
}

// AnalyzeMessage classifies a single message without URL reputation or storage
func (s *IngestionService) AnalyzeMessage(ctx context.Context, msg *RawMessage, owner string) *ProcessedEmail {
	var headers []Header
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}

	auth := s.deps.Authenticator.Authenticate(headers)
	urls := s.deps.URLs.Extract(msg.Payload)
	body := s.deps.Text.ExtractText(msg.Payload)

	subject := msg.Header("Subject")
	if s.opts.LogSubjectTranslations {
		s.deps.Normalizer.LogTranslation("subject", subject)
	}

	snippet := s.deps.Normalizer.Normalize(ctx, msg.Snippet, "snippet")
	content := s.deps.Normalizer.Normalize(ctx, body, "body")
	score := s.deps.Scorer.Score(ctx, strings.TrimSpace(snippet+" "+content))
	highConfidence := s.deps.Scorer.IsHighConfidence(score)

	from := msg.Header("From")
	selfSent := IsSelfSent(from, owner)

	status, details := FuseVerdict(VerdictInput{
		Auth:           auth,
		SelfSent:       selfSent,
		Score:          score,
		HighConfidence: highConfidence,
	})

	if urls == nil {
		urls = []string{}
	}
	return &ProcessedEmail{
		MessageID:                msg.ID,
		InternalDate:             msg.InternalDate,
		Subject:                  subject,
		From:                     from,
		Date:                     msg.Header("Date"),
		Snippet:                  msg.Snippet,
		SecurityStatus:           status,
		SecurityDetails:          details,
		URLs:                     urls,
		NLPConfidence:            score.Confidence,
		NLPPrediction:            score.Prediction,
		IsHighConfidencePhishing: highConfidence,
		IsSelfSent:               selfSent,
	}
}

// Inspect classifies a single message including URL reputation, without storing it
func (s *IngestionService) Inspect(ctx context.Context, msg *RawMessage, owner string) (*ProcessedEmail, error) {
	email := s.AnalyzeMessage(ctx, msg, owner)
	if err := s.deps.Reputation.Check(ctx, []*ProcessedEmail{email}); err != nil {
		return nil, err
	}
	return email, nil
}

func (s *IngestionService) recordAnalysis(ctx context.Context, logger *zap.Logger, userID string, processed []*ProcessedEmail) {
	if len(processed) == 0 {
		return
	}
	malicious := 0
	var senders []string
	for _, e := range processed {
		if e.SecurityStatus != StatusMalicious {
			continue
		}
		malicious++
		if addr := SenderAddress(e.From); addr != "" {
			senders = append(senders, addr)
		}
	}
	if err := s.deps.Store.IncrementAnalysis(ctx, userID, len(processed), malicious, senders); err != nil {
		logger.Error("Failed to update analysis counters", zap.Error(err))
	}
}

// BuildQuery scopes the base query to messages after the watermark (seconds granularity)
func BuildQuery(base string, watermark int64) string {
	if watermark <= 0 {
		return base
	}
	return strings.TrimSpace(base + " after:" + strconv.FormatInt(watermark/1000, 10))
}

func resultFromState(state *UserEmailState, fromCache bool, newEmails int, runID string) *FetchResult {
	emails := state.Emails
	if emails == nil {
		emails = []*ProcessedEmail{}
	}
	return &FetchResult{
		Success:            true,
		Emails:             emails,
		FromCache:          fromCache,
		LastUpdated:        state.LastUpdated,
		LastEmailTimestamp: state.LastEmailTimestamp,
		NewEmails:          newEmails,
		RunID:              runID,
	}
}
