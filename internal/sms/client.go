// Package sms sends and receives text messages through Twilio.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/copilot/internal/observability"
	"github.com/haasonsaas/copilot/internal/retry"
)

const defaultBaseURL = "https://api.twilio.com"

// maxResponseBytes bounds API response bodies.
const maxResponseBytes = 1 << 20

// ClientConfig configures a Client.
type ClientConfig struct {
	// AccountSID and AuthToken are required.
	AccountSID string
	AuthToken  string
	// MessagingServiceSID is used when a send does not name one.
	MessagingServiceSID string
	// FromNumber is used when no messaging service is available.
	FromNumber string
	// BaseURL overrides the API host.
	BaseURL    string
	Retry      retry.Config
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

// Client sends messages with the Twilio Messages API.
//
// It is safe for concurrent use.
type Client struct {
	accountSID string
	authToken  string
	serviceSID string
	from       string
	baseURL    string
	retry      retry.Config
	http       *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// Message is an outbound SMS.
type Message struct {
	To   string
	Body string
	// MessagingServiceSID overrides the configured service, typically with
	// the one the inbound message arrived on.
	MessagingServiceSID string
}

// APIError is a non-2xx Twilio response.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("twilio: API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("twilio: API error (%d)", e.StatusCode)
}

// NewClient creates a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.AccountSID == "" {
		return nil, errors.New("twilio: account SID is required")
	}
	if cfg.AuthToken == "" {
		return nil, errors.New("twilio: auth token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		serviceSID: cfg.MessagingServiceSID,
		from:       cfg.FromNumber,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		retry:      cfg.Retry,
		http:       cfg.HTTPClient,
		logger:     cfg.Logger.With("component", "sms"),
		metrics:    cfg.Metrics,
	}, nil
}

// Send delivers msg and returns the Twilio message SID. Server errors and
// rate limiting are retried; other API errors are not.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", errors.New("twilio: recipient is required")
	}
	params := url.Values{}
	params.Set("To", msg.To)
	params.Set("Body", msg.Body)
	switch {
	case msg.MessagingServiceSID != "":
		params.Set("MessagingServiceSid", msg.MessagingServiceSID)
	case c.serviceSID != "":
		params.Set("MessagingServiceSid", c.serviceSID)
	case c.from != "":
		params.Set("From", c.from)
	default:
		return "", errors.New("twilio: no messaging service or from number")
	}

	endpoint := fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", url.PathEscape(c.accountSID))
	body, result := retry.DoWithValue(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		body, err := c.apiRequest(ctx, endpoint, params)
		if err != nil && !isRetryable(err) {
			return nil, retry.Permanent(err)
		}
		return body, err
	})
	if result.Err != nil {
		c.metrics.RecordSMS("outbound", "error")
		return "", result.Err
	}

	var created struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		c.metrics.RecordSMS("outbound", "error")
		return "", fmt.Errorf("twilio: decode response: %w", err)
	}
	c.metrics.RecordSMS("outbound", "success")
	c.logger.DebugContext(ctx, "sms sent", "sid", created.SID, "attempts", result.Attempts)
	return created.SID, nil
}

// apiRequest makes an authenticated form POST to the Twilio API.
func (c *Client) apiRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBufferString(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("twilio: API response too large (%d bytes)", len(body))
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return nil, apiErr
	}
	return body, nil
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
