// Package source reads JSON:API collections from the legacy platform:
// paced pagination, include side-loading and authenticated downloads.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/httpclient"
	"github.com/tphakala/cmsbridge/internal/jsonapi"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/observability/metrics"
	"github.com/tphakala/cmsbridge/internal/retry"
)

// ErrUnauthorized is returned when the source answers 401. Credentials
// have already been reset; the caller decides whether to restart.
var ErrUnauthorized = errors.NewStd("source rejected credentials")

// maxErrorBody bounds how much of an error response is kept for logs.
const maxErrorBody = 512

// Authenticator decorates requests with source credentials.
type Authenticator interface {
	Authorize(ctx context.Context, req *http.Request) error
	Reset()
}

// Config configures a Client.
type Config struct {
	BaseURL   string
	APIPrefix string

	// PageDelay is the minimum spacing between page requests.
	PageDelay time.Duration

	// PageLimit is sent as page[limit] when Params does not set one.
	PageLimit int

	Retry retry.Policy
}

// Client fetches from the source. Safe for concurrent use; the page
// limiter is shared by all callers.
type Client struct {
	cfg     Config
	http    *httpclient.Client
	auth    Authenticator
	limiter *rate.Limiter
	log     logger.Logger
	metrics *metrics.SourceMetrics
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the module logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics attaches source collectors.
func WithMetrics(m *metrics.SourceMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a Client. hc must be the client auth negotiated on so that
// session cookies are shared.
func New(cfg Config, hc *httpclient.Client, auth Authenticator, opts ...Option) *Client {
	limit := rate.Inf
	if cfg.PageDelay > 0 {
		limit = rate.Every(cfg.PageDelay)
	}
	c := &Client{
		cfg:     cfg,
		http:    hc,
		auth:    auth,
		limiter: rate.NewLimiter(limit, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Global().Module("source")
	}
	return c
}

// URL builds the absolute URL of a resource path such as "node/company".
func (c *Client) URL(path string, params Params) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/")
	if prefix := strings.Trim(c.cfg.APIPrefix, "/"); prefix != "" {
		u += "/" + prefix
	}
	u += "/" + strings.TrimLeft(path, "/")
	if q := params.encode(c.cfg.PageLimit); q != "" {
		u += "?" + q
	}
	return u
}

// ResolveURL makes a possibly relative file URL absolute against the
// source base URL.
func (c *Client) ResolveURL(ref string) (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse file url %q: %w", ref, err)
	}
	return base.ResolveReference(rel).String(), nil
}

// FetchAll reads every page of path, following links.next until absent.
// Included records are unioned across pages. On 401 the credentials are
// reset and an error wrapping ErrUnauthorized is returned; the partial
// result is discarded.
func (c *Client) FetchAll(ctx context.Context, path string, params Params) (*jsonapi.Collection, error) {
	col := jsonapi.NewCollection()
	next := c.URL(path, params)
	visited := make(map[string]struct{})
	pages := 0

	for next != "" {
		if _, loop := visited[next]; loop {
			return nil, errors.Newf("pagination loop at %s", next).
				Component("source").
				Category(errors.CategoryFetch).
				Context("resource", path).
				Context("page", pages+1).
				Build()
		}
		visited[next] = struct{}{}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		doc, err := c.getDocument(ctx, path, next)
		if err != nil {
			return nil, err
		}
		pages++
		c.metrics.ObservePage(path, len(doc.Data.Records), time.Since(start).Seconds())
		c.log.Debug("fetched page",
			logger.String("resource", path),
			logger.Int("page", pages),
			logger.Int("records", len(doc.Data.Records)),
			logger.Int("included", len(doc.Included)))

		col.Append(doc)
		next = doc.Links.Next()
	}

	c.log.Info("fetched collection",
		logger.String("resource", path),
		logger.Int("pages", pages),
		logger.Int("records", len(col.Primary)),
		logger.Int("included", len(col.Included)))
	return col, nil
}

// FetchOne reads a single document, such as a file--file entity.
func (c *Client) FetchOne(ctx context.Context, path string, params Params) (*jsonapi.Document, error) {
	start := time.Now()
	doc, err := c.getDocument(ctx, path, c.URL(path, params))
	if err != nil {
		return nil, err
	}
	c.metrics.ObserveRequest(metrics.OpFetchOne, time.Since(start).Seconds())
	return doc, nil
}

// Download reads an asset body with source credentials. It is not
// retried here; callers apply their own policy.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	resp, err := c.do(ctx, "download", rawURL, "")
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errors.New(err).
			Component("source").
			Category(errors.CategoryMediaFetch).
			NetworkContext(rawURL, 0).
			Build()
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) getDocument(ctx context.Context, resource, rawURL string) (*jsonapi.Document, error) {
	var doc *jsonapi.Document
	err := c.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		resp, err := c.do(ctx, resource, rawURL, jsonapi.MediaType)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		d, err := jsonapi.Decode(resp.Body)
		if err != nil {
			return errors.New(err).
				Component("source").
				Category(errors.CategoryFileParsing).
				Context("resource", resource).
				NetworkContext(rawURL, 0).
				Build()
		}
		doc = d
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		c.log.Warn("retrying source request",
			logger.String("resource", resource),
			logger.Int("attempt", attempt),
			logger.Duration("wait", wait),
			logger.Error(err))
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// do issues an authorized GET and maps non-2xx responses to errors. The
// caller closes the body on success.
func (c *Client) do(ctx context.Context, resource, rawURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Component("source").
			Category(errors.CategoryValidation).
			Context("url", rawURL).
			Build()
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if err := c.auth.Authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		c.metrics.IncrementErrors(resource, 0)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New(err).
			Component("source").
			Category(errors.CategoryNetwork).
			Context("resource", resource).
			NetworkContext(rawURL, 0).
			Build()
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	c.metrics.IncrementErrors(resource, resp.StatusCode)

	if resp.StatusCode == http.StatusUnauthorized {
		c.auth.Reset()
		c.metrics.IncrementReauthentications()
		c.log.Warn("source returned 401, credentials reset", logger.String("resource", resource))
		return nil, errors.New(fmt.Errorf("%w: %s", ErrUnauthorized, resource)).
			Component("source").
			Category(errors.CategoryAuth).
			Context("status_code", resp.StatusCode).
			Context("resource", resource).
			Build()
	}

	c.log.Error("source request failed",
		logger.String("resource", resource),
		logger.Int("status_code", resp.StatusCode),
		logger.String("body", string(body)))
	return nil, errors.Newf("source returned status %d for %s", resp.StatusCode, resource).
		Component("source").
		Category(categoryForStatus(resp.StatusCode)).
		Context("status_code", resp.StatusCode).
		Context("resource", resource).
		Context("response", string(body)).
		Build()
}

func categoryForStatus(status int) errors.ErrorCategory {
	switch {
	case status == http.StatusForbidden:
		return errors.CategoryConfiguration
	case status == http.StatusNotFound:
		return errors.CategoryNotFound
	case status == http.StatusTooManyRequests:
		return errors.CategoryLimit
	case status >= http.StatusInternalServerError:
		return errors.CategoryNetwork
	default:
		return errors.CategoryFetch
	}
}
