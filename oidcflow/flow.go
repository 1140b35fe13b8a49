// Package oidcflow drives the browser OIDC authorization-code flow with
// PKCE: it builds authorization URLs, caches issuer discovery documents, and
// exchanges authorization codes for tokens.
package oidcflow

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	authcore "github.com/openloom/authcore"
)

// reservedParams are authorization-URL parameter names that caller-supplied
// custom parameters may never override.
var reservedParams = map[string]bool{
	"response_type":         true,
	"client_id":             true,
	"redirect_uri":          true,
	"scope":                 true,
	"state":                 true,
	"nonce":                 true,
	"code_challenge":        true,
	"code_challenge_method": true,
}

// defaultScopes are always requested; issuer-configured scopes are merged in.
var defaultScopes = []string{"openid", "profile", "email"}

// Orchestrator implements authcore.FlowOrchestrator.
type Orchestrator struct {
	config     authcore.Config
	discovery  *DiscoveryCache
	httpClient *http.Client
	now        func() time.Time
}

// compile-time check
var _ authcore.FlowOrchestrator = (*Orchestrator)(nil)

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithDiscoveryCache sets a shared discovery cache.
func WithDiscoveryCache(d *DiscoveryCache) Option {
	return func(o *Orchestrator) { o.discovery = d }
}

// WithHTTPClient sets the client used for the token exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) { o.httpClient = c }
}

// WithClock overrides the clock used for flow timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator over the configured issuer set.
func New(cfg authcore.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		config:     cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.discovery == nil {
		o.discovery = NewDiscoveryCache()
	}
	return o
}

// Start builds the authorization URL for one login attempt: fresh state,
// nonce, and PKCE verifier, with an S256 code challenge. The returned flow
// session must be persisted in the signed auth-flow cookie and consumed
// exactly once at the callback.
func (o *Orchestrator) Start(ctx context.Context, providerName string, mode authcore.FlowMode, returnTo string) (*authcore.FlowStart, error) {
	cfg, oidcCfg, err := o.provider(providerName)
	if err != nil {
		return nil, err
	}
	doc, err := o.discovery.Get(ctx, cfg.Issuer)
	if err != nil {
		return nil, err
	}

	state, err := randomToken()
	if err != nil {
		return nil, err
	}
	nonce, err := randomToken()
	if err != nil {
		return nil, err
	}
	codeVerifier, err := randomToken()
	if err != nil {
		return nil, err
	}
	challenge := sha256.Sum256([]byte(codeVerifier))

	conf := o.oauth2Config(oidcCfg, doc)
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("code_challenge", base64.RawURLEncoding.EncodeToString(challenge[:])),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	// Custom parameters are merged in, but protocol-reserved names are
	// dropped so they can never override security-critical parameters.
	for name, value := range oidcCfg.AuthorizationParams {
		if reservedParams[name] {
			continue
		}
		opts = append(opts, oauth2.SetAuthURLParam(name, value))
	}

	now := o.now()
	return &authcore.FlowStart{
		AuthorizationURL: conf.AuthCodeURL(state, opts...),
		Session: authcore.FlowSession{
			ProviderName: providerName,
			Mode:         mode,
			ReturnTo:     returnTo,
			State:        state,
			Nonce:        nonce,
			CodeVerifier: codeVerifier,
			CreatedAt:    now,
			ExpiresAt:    now.Add(o.flowTTL()),
		},
	}, nil
}

// Exchange redeems an authorization code against the issuer's token
// endpoint, presenting the PKCE verifier captured at flow start. Non-2xx
// responses fail with the response body surfaced for diagnostics.
func (o *Orchestrator) Exchange(ctx context.Context, providerName, code, codeVerifier string) (*authcore.TokenSet, error) {
	cfg, oidcCfg, err := o.provider(providerName)
	if err != nil {
		return nil, err
	}
	doc, err := o.discovery.Get(ctx, cfg.Issuer)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.httpClient.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)

	conf := o.oauth2Config(oidcCfg, doc)
	tok, err := conf.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, fmt.Errorf("authcore/oidcflow: token exchange returned status %d: %s",
				rerr.Response.StatusCode, rerr.Body)
		}
		return nil, fmt.Errorf("authcore/oidcflow: token exchange: %w", err)
	}

	set := &authcore.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		set.IDToken = id
	}
	return set, nil
}

// ValidateState compares the callback state with the flow session's state in
// constant time.
func ValidateState(session authcore.FlowSession, state string) bool {
	if state == "" {
		return false
	}
	return hmac.Equal([]byte(session.State), []byte(state))
}

func (o *Orchestrator) provider(name string) (*authcore.IssuerConfig, *authcore.OIDCConfig, error) {
	cfg, ok := o.config.IssuerByName(name)
	if !ok {
		return nil, nil, fmt.Errorf("authcore/oidcflow: unknown provider %q", name)
	}
	if cfg.OIDC == nil {
		return nil, nil, fmt.Errorf("authcore/oidcflow: provider %q has no browser-flow configuration", name)
	}
	return cfg, cfg.OIDC, nil
}

func (o *Orchestrator) oauth2Config(oidcCfg *authcore.OIDCConfig, doc *DiscoveryDocument) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     oidcCfg.ClientID,
		ClientSecret: oidcCfg.ClientSecret,
		RedirectURL:  oidcCfg.RedirectURI,
		Scopes:       mergeScopes(oidcCfg.Scopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:  doc.AuthorizationEndpoint,
			TokenURL: doc.TokenEndpoint,
		},
	}
}

func (o *Orchestrator) flowTTL() time.Duration {
	if o.config.FlowTTL > 0 {
		return o.config.FlowTTL
	}
	return authcore.DefaultFlowTTL
}

func mergeScopes(extra []string) []string {
	seen := make(map[string]bool, len(defaultScopes)+len(extra))
	merged := make([]string, 0, len(defaultScopes)+len(extra))
	for _, s := range defaultScopes {
		seen[s] = true
		merged = append(merged, s)
	}
	for _, s := range extra {
		if !seen[s] {
			seen[s] = true
			merged = append(merged, s)
		}
	}
	return merged
}

// randomToken returns 32 bytes of entropy, base64url without padding. The
// same shape serves state, nonce, and the PKCE verifier (43 characters,
// inside RFC 7636's 43–128 bound).
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("authcore/oidcflow: entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
