/*
client.go - Random-string provider client

PURPOSE:
  Fetches random strings from random.org's plain-text strings endpoint for
  clients that want random operands.

MODES:
  numeric: 2 unique strings of 3 digits
  default: 1 string of 20 mixed-case alphanumerics

FAILURE:
  Non-2xx upstream responses are returned as *UpstreamError carrying the
  status, so the HTTP layer can pass it through. Transport failures and
  timeouts are ErrUnavailable. Outbound calls are rate limited so a burst of
  clients cannot exhaust the upstream quota.

SEE ALSO:
  - api/handlers.go: GET /v1/random-string
*/
package randomstring

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://www.random.org/strings/"
	DefaultTimeout = 5 * time.Second

	numericQuery      = "?num=2&len=3&digits=on&loweralpha=off&unique=on&format=plain&rnd=new"
	alphanumericQuery = "?num=1&len=20&digits=on&upperalpha=on&loweralpha=on&unique=on&format=plain&rnd=new"

	maxBodyBytes = 64 << 10
)

// ErrUnavailable is returned when the provider cannot be reached in time.
var ErrUnavailable = errors.New("random string provider unavailable")

// UpstreamError is a non-2xx answer from the provider.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("random string provider returned status %d", e.StatusCode)
}

// Generator is what the HTTP layer depends on.
type Generator interface {
	Generate(ctx context.Context, numeric bool) ([]string, error)
}

// Config holds client settings. Zero values use the defaults.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit rate.Limit // requests per second; zero disables limiting
	Burst     int
}

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &loggingTransport{next: http.DefaultTransport, log: log},
		},
		limiter: limiter,
	}
}

// URL returns the provider URL for the requested mode.
func (c *Client) URL(numeric bool) string {
	if numeric {
		return c.baseURL + numericQuery
	}
	return c.baseURL + alphanumericQuery
}

// Generate fetches one batch of strings.
func (c *Client) Generate(ctx context.Context, numeric bool) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(numeric), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return splitLines(string(body)), nil
}

// splitLines splits on newlines and drops the empty piece after the final one.
func splitLines(body string) []string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// loggingTransport logs each outbound call at debug level.
type loggingTransport struct {
	next http.RoundTripper
	log  zerolog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	ev := t.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Dur("duration", time.Since(start))
	if err != nil {
		ev.Err(err).Msg("upstream request failed")
		return nil, err
	}
	ev.Int("status", resp.StatusCode).Msg("upstream request")
	return resp, nil
}
