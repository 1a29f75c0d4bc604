// Package auth negotiates credentials against the source platform. The
// broker tries basic auth, then an OAuth2 password grant, then a session
// cookie login, and memoizes the first strategy that passes a probe.
package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/httpclient"
	"github.com/tphakala/cmsbridge/internal/logger"
)

// ErrAuthExhausted is returned when every enabled strategy failed. It is
// fatal for the run.
var ErrAuthExhausted = errors.NewStd("all authentication strategies failed")

// errStrategyDisabled marks a strategy whose credentials are not configured.
var errStrategyDisabled = errors.NewStd("strategy not configured")

// Strategy names an authentication method.
type Strategy string

const (
	StrategyBasic  Strategy = "basic"
	StrategyOAuth  Strategy = "oauth"
	StrategyCookie Strategy = "cookie"
)

const flightKey = "authenticate"

// Config carries source credentials and endpoint paths.
type Config struct {
	BaseURL   string
	ProbePath string
	LoginPath string
	TokenPath string

	Username     string
	Password     string
	ClientID     string
	ClientSecret string
}

func (c Config) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// strategy attempts one authentication method and returns an unprobed
// handle.
type strategy struct {
	name Strategy
	run  func(ctx context.Context) (*Handle, error)
}

// Broker hands out an authenticated handle for the source. One broker is
// shared by every component of a run. Safe for concurrent use.
type Broker struct {
	cfg    Config
	client *httpclient.Client
	log    logger.Logger

	strategies []strategy
	group      singleflight.Group

	mu         sync.Mutex
	handle     *Handle
	generation uint64
}

// NewBroker creates a broker. client should have cookies enabled for the
// cookie strategy to work; a nil log uses the global "auth" module logger.
func NewBroker(cfg Config, client *httpclient.Client, log logger.Logger) *Broker {
	if log == nil {
		log = logger.Global().Module("auth")
	}
	b := &Broker{
		cfg:    cfg,
		client: client,
		log:    log,
	}
	b.strategies = []strategy{
		{name: StrategyBasic, run: b.basic},
		{name: StrategyOAuth, run: b.oauth},
		{name: StrategyCookie, run: b.cookie},
	}
	return b
}

// Client returns the memoized handle, running the strategy chain on first
// use or after Reset. Concurrent callers share one negotiation.
func (b *Broker) Client(ctx context.Context) (*Handle, error) {
	b.mu.Lock()
	if h := b.handle; h != nil {
		b.mu.Unlock()
		return h, nil
	}
	gen := b.generation
	b.mu.Unlock()

	v, err, _ := b.group.Do(flightKey, func() (any, error) {
		h, err := b.negotiate(ctx)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		if b.generation == gen {
			b.handle = h
		}
		b.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// Authorize decorates req with the current credential, negotiating first
// when needed.
func (b *Broker) Authorize(ctx context.Context, req *http.Request) error {
	h, err := b.Client(ctx)
	if err != nil {
		return err
	}
	return h.Authorize(req)
}

// Reset drops the memoized handle and any session cookies so the next
// Client call negotiates again.
func (b *Broker) Reset() {
	b.mu.Lock()
	b.handle = nil
	b.generation++
	b.mu.Unlock()

	b.group.Forget(flightKey)
	b.client.ClearCookies()
	b.log.Info("authentication reset")
}

func (b *Broker) negotiate(ctx context.Context) (*Handle, error) {
	var attempted []string
	var failures []error

	for _, s := range b.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		h, err := s.run(ctx)
		if errors.Is(err, errStrategyDisabled) {
			b.log.Debug("authentication strategy skipped", logger.String("strategy", string(s.name)))
			continue
		}
		attempted = append(attempted, string(s.name))
		if err == nil {
			err = b.probe(ctx, h)
		}
		if err != nil {
			b.log.Warn("authentication strategy failed",
				logger.String("strategy", string(s.name)),
				logger.Error(err))
			failures = append(failures, fmt.Errorf("%s: %w", s.name, err))
			continue
		}

		b.log.Info("authenticated against source", logger.String("strategy", string(s.name)))
		return h, nil
	}

	return nil, errors.New(errors.Join(append([]error{ErrAuthExhausted}, failures...)...)).
		Component("auth").
		Category(errors.CategoryAuth).
		Priority(errors.PriorityCritical).
		Context("attempted_strategies", strings.Join(attempted, ",")).
		Context("source_url", b.cfg.BaseURL).
		Build()
}

// probe issues an authorized GET against the probe path and requires 2xx.
func (b *Broker) probe(ctx context.Context, h *Handle) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.endpoint(b.cfg.ProbePath), http.NoBody)
	if err != nil {
		return err
	}
	if err := h.Authorize(req); err != nil {
		return err
	}

	resp, err := b.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

func (b *Broker) hasUserCredentials() bool {
	return b.cfg.Username != "" && b.cfg.Password != ""
}
