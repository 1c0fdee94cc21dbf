// Package verifyapi provides a client for external mailbox-verification APIs
// that report whether an address is deliverable.
package verifyapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Verdict is the tri-state answer from the verification service.
type Verdict string

const (
	VerdictValid   Verdict = "valid"
	VerdictInvalid Verdict = "invalid"
	VerdictRisky   Verdict = "risky"
	VerdictUnknown Verdict = "unknown"
)

// ErrQuotaExceeded is returned when the service reports the API quota is
// spent. Callers should stop calling for the rest of the billing window.
var ErrQuotaExceeded = eris.New("verifyapi: quota exceeded")

// Result is the parsed verification answer.
type Result struct {
	Verdict Verdict
	Score   int
}

type checkResponse struct {
	Email   string `json:"email"`
	Result  string `json:"result"`
	Score   int    `json:"score"`
	Message string `json:"message"`
}

// Client defines the verification operations.
type Client interface {
	// Check verifies a single address.
	Check(ctx context.Context, email string) (Result, error)
}

// Option configures the verifyapi client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the request rate limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new verification client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.emailcheck.dev/v1",
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(5), 2),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Check(ctx context.Context, email string) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, eris.Wrap(err, "verifyapi: rate limit wait")
	}

	reqURL := fmt.Sprintf("%s/verify?email=%s", c.baseURL, url.QueryEscape(email))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Result{}, eris.Wrap(err, "verifyapi: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, eris.Wrap(err, "verifyapi: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, eris.Wrap(err, "verifyapi: read response body")
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, ErrQuotaExceeded
	case resp.StatusCode != http.StatusOK:
		return Result{}, eris.Errorf("verifyapi: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed checkResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, eris.Wrap(err, "verifyapi: unmarshal response")
	}

	verdict := Verdict(parsed.Result)
	switch verdict {
	case VerdictValid, VerdictInvalid, VerdictRisky:
	default:
		verdict = VerdictUnknown
	}
	return Result{Verdict: verdict, Score: parsed.Score}, nil
}
