// Package authcore is an embeddable identity and session layer for
// multi-tenant web backends.
//
// It authenticates requests from short-lived bearer tokens issued by external
// identity providers or from signed browser cookies, normalizes every caller
// into one canonical Principal, and silently provisions a local account
// record the first time an external identity is seen. A fully independent,
// single-operator administrative login with forced password rotation lives
// alongside it.
//
// Concrete implementations are injected via Option functions, keeping the
// core independent of any storage or transport:
//
//	client, err := authcore.NewClient(cfg,
//	    authcore.WithTokenVerifier(verifier.New(cfg.Issuers, cfg.ClockSkew())),
//	    authcore.WithProvisioner(provision.New(uow, cfg.DefaultRole)),
//	)
package authcore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// MinSessionSecretLen is the minimum accepted session secret length in bytes.
// A shorter secret makes all signing operations fail fatally at construction;
// no session may ever be issued under a weak secret.
const MinSessionSecretLen = 32

// Defaults applied by NewClient when the corresponding Config field is zero.
const (
	DefaultClockSkew         = 60 * time.Second
	MaxClockSkew             = 300 * time.Second
	DefaultFlowTTL           = 10 * time.Minute
	DefaultSessionTTL        = time.Hour
	DefaultSessionMinTTL     = 5 * time.Minute
	DefaultSessionMaxTTL     = 24 * time.Hour
	DefaultLocalSessionTTL   = 30 * 24 * time.Hour
	DefaultAdminSessionTTL   = 12 * time.Hour
	DefaultRoleName          = "member"
	DefaultSessionCookie     = "ol_session"
	DefaultFlowCookie        = "ol_auth_flow"
	DefaultLocalCookie       = "ol_local_session"
	DefaultAdminCookie       = "ol_admin_session"
	DefaultAdminUsername     = "admin"
)

// Config holds the static configuration consumed by this core. It is
// supplied fully formed by an external loader and immutable after NewClient.
type Config struct {
	// Issuers is the set of trusted external identity providers.
	Issuers []IssuerConfig

	// ClockSkewSeconds is the tolerance applied to exp/iat checks.
	// Default 60, clamped to [0, 300]. Zero means the default; pass any
	// negative value to select an exact zero skew.
	ClockSkewSeconds int

	// SessionSecret signs every cookie envelope. Required, ≥32 bytes.
	SessionSecret string

	// Cookie names for the four independent session kinds.
	SessionCookieName string
	FlowCookieName    string
	LocalCookieName   string
	AdminCookieName   string

	// SecureCookies marks all cookies Secure; enable whenever the service
	// terminates TLS or sits behind a TLS-terminating proxy.
	SecureCookies bool

	// FlowTTL bounds the lifetime of one authorization-flow attempt.
	FlowTTL time.Duration

	// Browser session TTL policy: derived from the upstream token's expiry
	// when available, clamped to [SessionMinTTL, SessionMaxTTL], falling
	// back to SessionTTL when the token's expiry cannot be determined.
	SessionTTL    time.Duration
	SessionMinTTL time.Duration
	SessionMaxTTL time.Duration

	// LocalAuthEnabled switches the username/password surface on.
	LocalAuthEnabled bool
	LocalSessionTTL  time.Duration

	// AdminSessionTTL bounds the administrator session.
	AdminSessionTTL time.Duration

	// AdminPasswordHash optionally seeds the durable admin hash from static
	// configuration instead of the credential store.
	AdminPasswordHash string

	// Environment gates the one-shot default admin password; "production"
	// refuses it outright.
	Environment string

	// DefaultRole is assigned to every newly provisioned or registered user.
	DefaultRole string
}

// ClockSkew returns the effective, clamped skew tolerance.
func (c Config) ClockSkew() time.Duration {
	skew := time.Duration(c.ClockSkewSeconds) * time.Second
	if c.ClockSkewSeconds == 0 {
		skew = DefaultClockSkew
	}
	if skew < 0 {
		skew = 0
	}
	if skew > MaxClockSkew {
		skew = MaxClockSkew
	}
	return skew
}

// IssuerByName returns the issuer config with the given provider name.
func (c Config) IssuerByName(name string) (*IssuerConfig, bool) {
	for i := range c.Issuers {
		if c.Issuers[i].Name == name {
			return &c.Issuers[i], true
		}
	}
	return nil, false
}

// IssuerByURL returns the issuer config whose issuer URL matches exactly.
func (c Config) IssuerByURL(issuer string) (*IssuerConfig, bool) {
	for i := range c.Issuers {
		if c.Issuers[i].Issuer == issuer {
			return &c.Issuers[i], true
		}
	}
	return nil, false
}

// Validate checks the invariants that must hold before any session can be
// issued. Violations are fatal at load time, not recoverable per-request.
func (c Config) Validate() error {
	if len(c.SessionSecret) < MinSessionSecretLen {
		return fmt.Errorf("authcore: session secret must be at least %d bytes", MinSessionSecretLen)
	}
	seen := make(map[string]bool, len(c.Issuers))
	names := make(map[string]bool, len(c.Issuers))
	for _, iss := range c.Issuers {
		if iss.Issuer == "" {
			return fmt.Errorf("authcore: issuer %q has no issuer URL", iss.Name)
		}
		if seen[iss.Issuer] {
			return fmt.Errorf("authcore: duplicate issuer URL %q", iss.Issuer)
		}
		if iss.Name != "" && names[iss.Name] {
			return fmt.Errorf("authcore: duplicate issuer name %q", iss.Name)
		}
		seen[iss.Issuer] = true
		names[iss.Name] = true
	}
	return nil
}

// withDefaults returns a copy of the config with zero fields filled in.
func (c Config) withDefaults() Config {
	def := func(v *time.Duration, d time.Duration) {
		if *v == 0 {
			*v = d
		}
	}
	def(&c.FlowTTL, DefaultFlowTTL)
	def(&c.SessionTTL, DefaultSessionTTL)
	def(&c.SessionMinTTL, DefaultSessionMinTTL)
	def(&c.SessionMaxTTL, DefaultSessionMaxTTL)
	def(&c.LocalSessionTTL, DefaultLocalSessionTTL)
	def(&c.AdminSessionTTL, DefaultAdminSessionTTL)
	if c.SessionCookieName == "" {
		c.SessionCookieName = DefaultSessionCookie
	}
	if c.FlowCookieName == "" {
		c.FlowCookieName = DefaultFlowCookie
	}
	if c.LocalCookieName == "" {
		c.LocalCookieName = DefaultLocalCookie
	}
	if c.AdminCookieName == "" {
		c.AdminCookieName = DefaultAdminCookie
	}
	if c.DefaultRole == "" {
		c.DefaultRole = DefaultRoleName
	}
	return c
}

// Client is the main entry point. Service implementations are injected via
// Option functions.
type Client struct {
	config      Config
	logger      *slog.Logger
	verifier    TokenVerifier
	provisioner IdentityProvisioner
	flows       FlowOrchestrator
	local       LocalAuthenticator
	admin       AdminAuthenticator
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTokenVerifier sets the bearer token verification implementation.
func WithTokenVerifier(v TokenVerifier) Option {
	return func(c *Client) { c.verifier = v }
}

// WithProvisioner sets the JIT identity provisioning implementation.
func WithProvisioner(p IdentityProvisioner) Option {
	return func(c *Client) { c.provisioner = p }
}

// WithFlowOrchestrator sets the OIDC browser-flow implementation.
func WithFlowOrchestrator(f FlowOrchestrator) Option {
	return func(c *Client) { c.flows = f }
}

// WithLocalAuthenticator sets the username/password implementation.
func WithLocalAuthenticator(l LocalAuthenticator) Option {
	return func(c *Client) { c.local = l }
}

// WithAdminAuthenticator sets the administrator login implementation.
func WithAdminAuthenticator(a AdminAuthenticator) Option {
	return func(c *Client) { c.admin = a }
}

// NewClient validates the configuration and assembles a client. A weak or
// missing session secret is rejected here, before any session could be
// issued.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{config: cfg.withDefaults(), logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Config returns the effective client configuration.
func (c *Client) Config() Config { return c.config }

// Verifier returns the token verifier, or nil if not configured.
func (c *Client) Verifier() TokenVerifier { return c.verifier }

// Provisioner returns the JIT provisioner, or nil if not configured.
func (c *Client) Provisioner() IdentityProvisioner { return c.provisioner }

// Flows returns the OIDC flow orchestrator, or nil if not configured.
func (c *Client) Flows() FlowOrchestrator { return c.flows }

// Local returns the local authenticator, or nil if not configured.
func (c *Client) Local() LocalAuthenticator { return c.local }

// Admin returns the admin authenticator, or nil if not configured.
func (c *Client) Admin() AdminAuthenticator { return c.admin }

// Logger returns the configured structured logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// ResolveBearer verifies a raw bearer token and, when a provisioner is
// configured, resolves it to a local user. This is the bearer half of the
// principal resolver; the cookie half lives with the transport adapters.
func (c *Client) ResolveBearer(ctx context.Context, rawToken string) (*Principal, error) {
	if c.verifier == nil {
		return nil, fmt.Errorf("authcore: no token verifier configured")
	}
	p, err := c.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	if c.provisioner == nil {
		return p, nil
	}
	resolved, err := c.provisioner.Resolve(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("authcore: provisioning: %w", err)
	}
	return resolved, nil
}

// Close releases all resources held by the client. Any injected service that
// implements io.Closer will be closed.
func (c *Client) Close() error {
	closers := []any{c.verifier, c.provisioner, c.flows, c.local, c.admin}
	var firstErr error
	for _, svc := range closers {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
