// Package mailbox provides a read-only client for an HTTP inbox feed, used
// to poll delivery-failure notifications.
package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Message is one raw inbox message.
type Message struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Charset    string    `json:"charset,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

type listResponse struct {
	Messages []Message `json:"messages"`
}

// Client defines the inbox feed operations.
type Client interface {
	// ListMessages returns messages received after since, oldest first.
	ListMessages(ctx context.Context, since time.Time) ([]Message, error)
}

// Option configures the mailbox client.
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

// WithFolder selects the mailbox folder to poll.
func WithFolder(folder string) Option {
	return func(c *httpClient) {
		c.folder = folder
	}
}

type httpClient struct {
	token   string
	baseURL string
	folder  string
	http    *http.Client
}

// NewClient creates a new inbox feed client.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:  token,
		folder: "INBOX",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) ListMessages(ctx context.Context, since time.Time) ([]Message, error) {
	reqURL := fmt.Sprintf("%s/messages?folder=%s&since=%s",
		c.baseURL, url.QueryEscape(c.folder), url.QueryEscape(since.UTC().Format(time.RFC3339)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "mailbox: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "mailbox: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "mailbox: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("mailbox: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "mailbox: unmarshal response")
	}
	return parsed.Messages, nil
}
