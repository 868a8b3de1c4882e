// Package web fetches pages, sitemaps and single documents over HTTP.
// Requests are throttled per host, retried on transient failures and
// capped in size.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/retry"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBytes caps a response body.
	DefaultMaxBytes = 10 << 20

	// DefaultUserAgent identifies the fetcher.
	DefaultUserAgent = "ragpipe/1.0"

	acceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.5"
)

var errBodyTooLarge = errors.New("response body exceeds size limit")

// Response is a successfully fetched resource.
type Response struct {
	// URL is the final URL after redirects.
	URL string

	// StatusCode is the HTTP status.
	StatusCode int

	// ContentType is the Content-Type header.
	ContentType string

	// Body is the response body.
	Body []byte

	// Header holds the response headers.
	Header http.Header
}

// Client performs rate limited, retried HTTP GETs.
type Client struct {
	http      *http.Client
	limiter   *HostLimiter
	policy    retry.Policy
	userAgent string
	maxBytes  int64
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithRequestsPerSecond sets the per-host rate. Zero disables throttling.
func WithRequestsPerSecond(rps float64) Option {
	return func(c *Client) {
		c.limiter = NewHostLimiter(rps)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithMaxBytes caps the size of a response body.
func WithMaxBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// NewClient creates a client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: DefaultTimeout},
		limiter:   NewHostLimiter(0),
		policy:    retry.Default(),
		userAgent: DefaultUserAgent,
		maxBytes:  DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromSettings builds a client from fetch and retry settings.
func NewClientFromSettings(fs domain.FetchSettings, rs domain.RetrySettings) *Client {
	return NewClient(
		WithTimeout(fs.Timeout),
		WithMaxBytes(fs.MaxBytes),
		WithRequestsPerSecond(fs.RequestsPerSecond),
		WithUserAgent(fs.UserAgent),
		WithRetryPolicy(retry.FromSettings(rs)),
	)
}

// Get fetches rawURL. Network errors, 429 and 5xx responses are retried;
// any other non-2xx status fails immediately. Failures are returned as
// *domain.FetchError, except context errors which are returned as is.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	host := hostOf(rawURL)

	var out *Response
	_, err := c.policy.Do(ctx, "fetch "+rawURL, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx, host); err != nil {
			return retry.Permanent(err)
		}
		resp, err := c.do(ctx, rawURL)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var fe *domain.FetchError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &domain.FetchError{URL: rawURL, Err: err}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, retry.Permanent(&domain.FetchError{URL: rawURL, Err: err})
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, retry.Permanent(ctx.Err())
		}
		return nil, &domain.FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	c.limiter.Observe(hostOf(rawURL), resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		fe := &domain.FetchError{URL: rawURL, StatusCode: resp.StatusCode}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fe
		}
		return nil, retry.Permanent(fe)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, retry.Permanent(ctx.Err())
		}
		return nil, &domain.FetchError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > c.maxBytes {
		return nil, retry.Permanent(&domain.FetchError{URL: rawURL, Err: errBodyTooLarge})
	}

	final := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}

	return &Response{
		URL:         final,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		Header:      resp.Header,
	}, nil
}
