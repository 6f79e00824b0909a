package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
)

// ErrMalformedResponse is returned when the service answers without a usable score
var ErrMalformedResponse = errors.New("malformed classifier response")

// StatusError is returned when the classifier answers with a non-2xx status
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("classifier returned status %d: %s", e.Code, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client implements core.PhishingClassifier against an HTTP predict endpoint
type Client struct {
	url           string
	httpClient    *http.Client
	retryAttempts int
	retryDelay    time.Duration
	maxDelay      time.Duration
	logger        *zap.Logger
}

type predictRequest struct {
	Text string `json:"text"`
}

type predictResponse struct {
	Confidence *float64 `json:"confidence"`
	Prediction *float64 `json:"prediction"`
}

// NewClient creates a new HTTP classifier client
func NewClient(cfg config.NLPConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.RetryAttempts
	if attempts < 0 {
		attempts = 0
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	return &Client{
		url:           cfg.URL,
		httpClient:    &http.Client{Timeout: timeout},
		retryAttempts: attempts,
		retryDelay:    delay,
		maxDelay:      5 * time.Second,
		logger:        logger,
	}
}

// Classify scores text, retrying transport failures and 5xx answers
func (c *Client) Classify(ctx context.Context, text string) (*core.Prediction, error) {
	payload, err := json.Marshal(predictRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal predict request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt - 1)
			c.logger.Debug("Retrying classifier request",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		pred, err := c.predict(ctx, payload)
		if err == nil {
			return pred, nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			break
		}
		if errors.Is(err, ErrMalformedResponse) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) predict(ctx context.Context, payload []byte) (*core.Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call classifier: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out predictResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return validate(out)
}

func validate(out predictResponse) (*core.Prediction, error) {
	if out.Confidence == nil || out.Prediction == nil {
		return nil, fmt.Errorf("%w: missing confidence or prediction", ErrMalformedResponse)
	}
	conf := *out.Confidence
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", ErrMalformedResponse, conf)
	}
	switch *out.Prediction {
	case 0, 1:
	default:
		return nil, fmt.Errorf("%w: prediction %v is not 0 or 1", ErrMalformedResponse, *out.Prediction)
	}
	return &core.Prediction{Confidence: conf, Prediction: int(*out.Prediction)}, nil
}

// backoff returns the delay before retry n with 20% jitter
func (c *Client) backoff(n int) time.Duration {
	delay := time.Duration(float64(c.retryDelay) * math.Pow(2, float64(n)))
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.2)
	return delay + jitter
}
