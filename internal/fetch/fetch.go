// Package fetch retrieves remote JSON datasets over HTTP.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/schaermu/datapages/internal/document"
)

const (
	// DefaultTimeout bounds a single fetch including reading the body.
	DefaultTimeout = 60 * time.Second
	// DefaultMaxBytes caps the size of a fetched document.
	DefaultMaxBytes int64 = 64 << 20
	// DefaultUserAgent identifies datapages to remote hosts.
	DefaultUserAgent = "datapages"
)

// Fetcher retrieves the current document published at a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (document.Document, error)
}

// Error reports a failed retrieval: transport failure, non-success status or
// a body that is not a single JSON document.
type Error struct {
	URL        string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options configures an HTTPClient. Zero values select the defaults.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64
}

// HTTPClient implements Fetcher using net/http.
type HTTPClient struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewHTTPClient creates a fetcher with an explicit timeout.
func NewHTTPClient(opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}

	return &HTTPClient{
		client:    &http.Client{Timeout: opts.Timeout},
		userAgent: opts.UserAgent,
		maxBytes:  opts.MaxBytes,
	}
}

// Fetch downloads url and parses the body as a JSON document.
func (c *HTTPClient) Fetch(ctx context.Context, url string) (document.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return document.Document{}, &Error{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return document.Document{}, &Error{URL: url, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little of the body so the error carries the server's reason
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return document.Document{}, &Error{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s: %q", resp.Status, snippet),
		}
	}

	// Read one byte past the limit to detect oversize bodies
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return document.Document{}, &Error{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(body)) > c.maxBytes {
		return document.Document{}, &Error{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("body exceeds %d bytes", c.maxBytes)}
	}

	doc, err := document.Parse(body)
	if err != nil {
		return document.Document{}, &Error{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed JSON body: %w", err)}
	}

	return doc, nil
}
