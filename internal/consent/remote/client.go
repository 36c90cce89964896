// Package remote pushes a signed-in user's consent to the server-side
// collaborator endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	contract "github.com/thupa-pro/lipo-sub001/contracts/consent"
	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	dErrors "github.com/thupa-pro/lipo-sub001/pkg/domain-errors"
)

// Config holds the remote endpoint and its protection settings.
type Config struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	Attempts      uint
	RatePerSecond float64
	Burst         int
}

// DefaultConfig returns conservative client settings.
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		Attempts:      3,
		RatePerSecond: 20,
		Burst:         5,
	}
}

// Client posts consent records to {BaseURL}/api/user/consent. Calls go
// through a rate limiter, then a circuit breaker wrapping bounded retries.
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	attempts uint
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New builds a client. BaseURL is required.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote consent base url is required")
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}

	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		http:     &http.Client{Timeout: cfg.Timeout},
		attempts: cfg.Attempts,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:   slog.Default(),
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "consent-remote-sync",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A rejected payload says nothing about the endpoint's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// statusError is a non-2xx reply from the collaborator.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("remote consent endpoint returned %d: %s", e.code, e.body)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return !errors.Is(err, context.Canceled)
}

// Sync stores record as identity's server-side consent. Any failure is
// reported with CodeUnavailable.
func (c *Client) Sync(ctx context.Context, identity models.Identity, record models.Record) error {
	if identity.IsZero() {
		return dErrors.New(dErrors.CodeBadRequest, "remote sync requires a signed-in user")
	}
	body, err := json.Marshal(contract.UserConsentPayload{
		UserID:     identity.ID,
		Email:      identity.Email,
		Categories: record.Categories.Names(),
		Timestamp:  record.Timestamp,
		Version:    string(record.Version),
		Origin:     string(record.Origin),
	})
	if err != nil {
		return fmt.Errorf("encode consent payload: %w", err)
	}
	token := identity.Token
	if token == "" {
		token = c.token
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "remote consent sync rate limited")
	}

	_, err = c.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(c.attempts),
			retry.Delay(100*time.Millisecond),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(retryable),
		)
		return nil, r.Do(func() error {
			return c.post(ctx, token, body)
		})
	})
	if err != nil {
		c.logger.WarnContext(ctx, "remote consent sync failed", "user_id", identity.ID, "error", err)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "remote consent sync failed")
	}
	return nil
}

func (c *Client) post(ctx context.Context, token string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+contract.UserConsentPath, bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
}
