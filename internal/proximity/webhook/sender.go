// Package webhook delivers proximity alerts to an HTTP endpoint. The payload
// carries a "text" field so Slack and Mattermost incoming webhooks accept it
// unchanged.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bissquit/hazard-watch/internal/proximity"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
	defaultUsername    = "HazardWatch"
)

// Config holds webhook sender configuration.
type Config struct {
	URL         string
	Username    string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration // doubled after every retryable failure
}

// Sender posts alerts to a webhook.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a new webhook sender.
func NewSender(config Config) *Sender {
	if config.Username == "" {
		config.Username = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.Backoff == 0 {
		config.Backoff = defaultBackoff
	}

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type webhookPayload struct {
	Text     string          `json:"text"`
	Username string          `json:"username,omitempty"`
	Alert    proximity.Alert `json:"alert"`
}

// Send posts the alert, retrying transient failures with exponential backoff.
func (s *Sender) Send(ctx context.Context, alert proximity.Alert) error {
	if s.config.URL == "" {
		return &PermanentError{Message: "webhook URL is empty"}
	}

	body, err := json.Marshal(webhookPayload{
		Text:     formatText(alert),
		Username: s.config.Username,
		Alert:    alert,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	backoff := s.config.Backoff
	for attempt := 1; ; attempt++ {
		err = s.post(ctx, body)
		if err == nil {
			return nil
		}

		var retryable *RetryableError
		if !errors.As(err, &retryable) || attempt >= s.config.MaxAttempts {
			return err
		}

		slog.Warn("webhook delivery failed, retrying",
			"attempt", attempt,
			"max_attempts", s.config.MaxAttempts,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (s *Sender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp)
}

func (s *Sender) handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		slog.Debug("webhook alert sent", "webhook", maskURL(s.config.URL))
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RetryableError{Code: resp.StatusCode, Message: "rate limited"}
	case resp.StatusCode >= 500:
		return &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("server error: %s", string(body))}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &PermanentError{Code: resp.StatusCode, Message: "invalid or expired webhook"}
	case resp.StatusCode == http.StatusNotFound:
		return &PermanentError{Code: resp.StatusCode, Message: "webhook not found"}
	default:
		return &PermanentError{Code: resp.StatusCode, Message: fmt.Sprintf("unexpected response: %s", string(body))}
	}
}

func formatText(alert proximity.Alert) string {
	return fmt.Sprintf("Hazard %.2f km ahead: %s (incident %d at %.5f, %.5f)",
		alert.DistanceKm, alert.Description, alert.IncidentID, alert.Latitude, alert.Longitude)
}

// maskURL hides most of the URL for logging.
func maskURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}

// PermanentError indicates a delivery failure that should not be retried.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("webhook error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("webhook error: %s", e.Message)
}

// RetryableError indicates a temporary delivery failure.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("webhook error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("webhook error: %s", e.Message)
}
