package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/tphakala/cmsbridge/internal/httpclient"
)

// Drupal's login form identifiers.
const (
	loginFormID = "user_login_form"
	loginOp     = "Log in"
)

// Handle is a negotiated credential. Authorize decorates requests with it.
type Handle struct {
	strategy Strategy
	client   *httpclient.Client

	username string
	password string
	tokens   oauth2.TokenSource
}

// Strategy names the method that produced the handle.
func (h *Handle) Strategy() Strategy {
	return h.strategy
}

// HTTPClient is the client the handle was negotiated on. Cookie handles
// only work through it since the session lives in its jar.
func (h *Handle) HTTPClient() *httpclient.Client {
	return h.client
}

// Authorize adds the credential to req. OAuth tokens are refreshed
// transparently when they expire.
func (h *Handle) Authorize(req *http.Request) error {
	switch h.strategy {
	case StrategyBasic:
		req.SetBasicAuth(h.username, h.password)
	case StrategyOAuth:
		tok, err := h.tokens.Token()
		if err != nil {
			return fmt.Errorf("refresh oauth token: %w", err)
		}
		tok.SetAuthHeader(req)
	case StrategyCookie:
		// session cookie is attached by the jar
	}
	return nil
}

func (b *Broker) basic(context.Context) (*Handle, error) {
	if !b.hasUserCredentials() {
		return nil, errStrategyDisabled
	}
	return &Handle{
		strategy: StrategyBasic,
		client:   b.client,
		username: b.cfg.Username,
		password: b.cfg.Password,
	}, nil
}

func (b *Broker) oauth(ctx context.Context) (*Handle, error) {
	if !b.hasUserCredentials() || b.cfg.ClientID == "" {
		return nil, errStrategyDisabled
	}

	oc := &oauth2.Config{
		ClientID:     b.cfg.ClientID,
		ClientSecret: b.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  b.cfg.endpoint(b.cfg.TokenPath),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, b.client.HTTPClient())
	tok, err := oc.PasswordCredentialsToken(tokenCtx, b.cfg.Username, b.cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("password grant: %w", err)
	}

	// Refreshes outlive the negotiating request, so they get their own context.
	refreshCtx := context.WithValue(context.Background(), oauth2.HTTPClient, b.client.HTTPClient())
	return &Handle{
		strategy: StrategyOAuth,
		client:   b.client,
		tokens:   oc.TokenSource(refreshCtx, tok),
	}, nil
}

func (b *Broker) cookie(ctx context.Context) (*Handle, error) {
	if !b.hasUserCredentials() {
		return nil, errStrategyDisabled
	}
	if b.client.HTTPClient().Jar == nil {
		return nil, fmt.Errorf("http client has no cookie jar")
	}

	form := url.Values{
		"name":    {b.cfg.Username},
		"pass":    {b.cfg.Password},
		"form_id": {loginFormID},
		"op":      {loginOp},
	}
	resp, err := b.client.PostForm(ctx, b.cfg.endpoint(b.cfg.LoginPath), form)
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("login returned status %d", resp.StatusCode)
	}
	return &Handle{strategy: StrategyCookie, client: b.client}, nil
}
