package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	user = "me"

	defaultTimeout = 30 * time.Second
)

// Provider implements core.MailProvider on the Gmail REST API
type Provider struct {
	logger  *zap.Logger
	timeout time.Duration
	opts    []option.ClientOption
}

// NewProvider creates a Gmail provider whose HTTP requests each give up after
// timeout. Extra options are appended to every service, which lets tests point
// the client at a local endpoint.
func NewProvider(logger *zap.Logger, timeout time.Duration, opts ...option.ClientOption) *Provider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Provider{logger: logger, timeout: timeout, opts: opts}
}

// Open returns a mailbox authenticated with the caller's bearer token
func (p *Provider) Open(ctx context.Context, bearerToken string) (core.Mailbox, error) {
	if bearerToken == "" {
		return nil, fmt.Errorf("%w: empty bearer token", core.ErrReauthRequired)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearerToken, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = p.timeout
	opts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, p.opts...)

	srv, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return &mailbox{srv: srv, logger: p.logger}, nil
}

type mailbox struct {
	srv    *gmailapi.Service
	logger *zap.Logger
}

func (m *mailbox) ListMessages(ctx context.Context, query string, maxResults int) ([]string, error) {
	call := m.srv.Users.Messages.List(user).Context(ctx)
	if query != "" {
		call = call.Q(query)
	}
	if maxResults > 0 {
		call = call.MaxResults(int64(maxResults))
	}
	resp, err := call.Do()
	if err != nil {
		return nil, classify(fmt.Errorf("unable to list messages: %w", err))
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		ids = append(ids, msg.Id)
	}
	m.logger.Debug("Listed messages", zap.String("query", query), zap.Int("count", len(ids)))
	return ids, nil
}

func (m *mailbox) GetMessage(ctx context.Context, id string) (*core.RawMessage, error) {
	msg, err := m.srv.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("unable to get message %s: %w", id, err))
	}
	return &core.RawMessage{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		InternalDate: msg.InternalDate,
		Snippet:      msg.Snippet,
		Payload:      convertPart(msg.Payload),
	}, nil
}

func (m *mailbox) GetProfile(ctx context.Context) (string, error) {
	profile, err := m.srv.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("unable to get profile: %w", err))
	}
	return profile.EmailAddress, nil
}

func convertPart(p *gmailapi.MessagePart) *core.MessagePart {
	if p == nil {
		return nil
	}
	part := &core.MessagePart{
		PartID:   p.PartId,
		MimeType: p.MimeType,
		Filename: p.Filename,
	}
	for _, h := range p.Headers {
		part.Headers = append(part.Headers, core.Header{Name: h.Name, Value: h.Value})
	}
	if p.Body != nil {
		part.Body = core.PartBody{
			Data:         p.Body.Data,
			AttachmentID: p.Body.AttachmentId,
			Size:         p.Body.Size,
		}
	}
	for _, child := range p.Parts {
		part.Parts = append(part.Parts, convertPart(child))
	}
	return part
}

// classify maps provider authentication failures to core.ErrReauthRequired
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", core.ErrReauthRequired, err)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
		retrieveErr.Response.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", core.ErrReauthRequired, err)
	}
	return err
}
