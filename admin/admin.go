// Package admin implements the single-operator administrative login and its
// forced password-rotation state machine.
//
// The state progression is strictly one-way within a session lifetime:
// unauthenticated, then authenticated with a pending rotation, then
// authenticated with the rotation cleared. While no durably rotated hash
// exists the well-known default password is accepted, but only outside
// production and only into the pending-rotation state.
package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	authcore "github.com/openloom/authcore"
	"github.com/openloom/authcore/audit"
	"github.com/openloom/authcore/password"
)

// DefaultPassword is the bootstrap password accepted while no rotated hash is
// stored. Logging in with it always sets MustChangePassword.
const DefaultPassword = "admin"

// MinPasswordLen is the minimum accepted length for a rotated password.
const MinPasswordLen = 12

// Authenticator implements authcore.AdminAuthenticator. The username is
// fixed; the password is either the durably stored rotated hash, a hash
// seeded from static configuration, or the bootstrap default.
type Authenticator struct {
	store       authcore.AdminCredentialStore
	seedHash    string
	environment string
	sessionTTL  time.Duration
	logger      *slog.Logger
	auditor     *audit.Logger
	now         func() time.Time
}

// compile-time check
var _ authcore.AdminAuthenticator = (*Authenticator)(nil)

// Option configures the Authenticator.
type Option func(*Authenticator)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) { a.logger = l }
}

// WithSeedHash supplies a password hash from static configuration, used when
// the credential store holds no rotated hash yet.
func WithSeedHash(hash string) Option {
	return func(a *Authenticator) { a.seedHash = hash }
}

// WithEnvironment names the deployment environment. "production" refuses the
// bootstrap default password outright.
func WithEnvironment(env string) Option {
	return func(a *Authenticator) { a.environment = env }
}

// WithAudit mirrors admin login and rotation outcomes into an audit trail.
func WithAudit(l *audit.Logger) Option {
	return func(a *Authenticator) { a.auditor = l }
}

// WithSessionTTL overrides the lifetime of issued admin sessions.
func WithSessionTTL(ttl time.Duration) Option {
	return func(a *Authenticator) { a.sessionTTL = ttl }
}

// WithClock overrides the clock used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// New creates an admin authenticator backed by the given credential store.
func New(store authcore.AdminCredentialStore, opts ...Option) *Authenticator {
	a := &Authenticator{
		store:      store,
		sessionTTL: authcore.DefaultAdminSessionTTL,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// currentHash returns the effective stored hash: the durably rotated hash
// when one exists, else the configuration seed, else "".
func (a *Authenticator) currentHash(ctx context.Context) (string, error) {
	hash, err := a.store.PasswordHash(ctx)
	if errors.Is(err, authcore.ErrNotFound) {
		return a.seedHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("authcore/admin: load password hash: %w", err)
	}
	return hash, nil
}

// Login authenticates the fixed admin username. With a stored hash the
// password must verify against it. Without one the bootstrap default is
// accepted, outside production only, and the returned session carries
// MustChangePassword so every protected operation stays refused until the
// password is rotated.
func (a *Authenticator) Login(ctx context.Context, username, pass string) (*authcore.AdminSession, error) {
	session, err := a.login(ctx, username, pass)
	if err != nil {
		a.audit(ctx, audit.ActionAdminLogin, audit.ResultFailure, err)
	} else {
		a.audit(ctx, audit.ActionAdminLogin, audit.ResultSuccess, nil)
	}
	return session, err
}

func (a *Authenticator) login(ctx context.Context, username, pass string) (*authcore.AdminSession, error) {
	if username != authcore.DefaultAdminUsername {
		return nil, authcore.ErrInvalidCredentials
	}

	hash, err := a.currentHash(ctx)
	if err != nil {
		return nil, err
	}
	if hash != "" {
		if !password.Verify(pass, hash) {
			return nil, authcore.ErrInvalidCredentials
		}
		return a.issueSession(false), nil
	}

	if a.environment == "production" {
		a.logger.Warn("default admin password refused in production")
		return nil, authcore.ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(pass), []byte(DefaultPassword)) != 1 {
		return nil, authcore.ErrInvalidCredentials
	}
	a.logger.Warn("admin logged in with the default password, rotation required")
	return a.issueSession(true), nil
}

// ChangePassword verifies the current password, validates the replacement,
// persists its hash, and returns a fresh session with the rotation gate
// cleared.
func (a *Authenticator) ChangePassword(ctx context.Context, currentPassword, newPassword string) (*authcore.AdminSession, error) {
	session, err := a.changePassword(ctx, currentPassword, newPassword)
	if err != nil {
		a.audit(ctx, audit.ActionPasswordChange, audit.ResultFailure, err)
	} else {
		a.audit(ctx, audit.ActionPasswordChange, audit.ResultSuccess, nil)
	}
	return session, err
}

func (a *Authenticator) changePassword(ctx context.Context, currentPassword, newPassword string) (*authcore.AdminSession, error) {
	hash, err := a.currentHash(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case hash != "":
		if !password.Verify(currentPassword, hash) {
			return nil, authcore.ErrInvalidCredentials
		}
	default:
		if subtle.ConstantTimeCompare([]byte(currentPassword), []byte(DefaultPassword)) != 1 {
			return nil, authcore.ErrInvalidCredentials
		}
	}

	if err := validateNewPassword(newPassword, currentPassword); err != nil {
		return nil, err
	}

	newHash, err := password.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("authcore/admin: hash password: %w", err)
	}
	if err := a.store.SetPasswordHash(ctx, newHash); err != nil {
		return nil, fmt.Errorf("authcore/admin: store password hash: %w", err)
	}

	a.logger.Info("admin password rotated")
	return a.issueSession(false), nil
}

// Require gates admin-protected operations. It fails while no session exists
// or while the session still demands a password rotation; only the
// password-change operation itself may skip this check.
func (a *Authenticator) Require(session *authcore.AdminSession) error {
	if session == nil {
		return authcore.ErrInvalidCredentials
	}
	if session.MustChangePassword {
		return authcore.ErrPasswordChangeRequired
	}
	return nil
}

func (a *Authenticator) audit(ctx context.Context, action, result string, opErr error) {
	e := audit.Event{
		RequestID: authcore.RequestIDFromContext(ctx),
		Subject:   authcore.DefaultAdminUsername,
		Action:    action,
		Result:    result,
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	a.auditor.Log(e)
}

func (a *Authenticator) issueSession(mustChange bool) *authcore.AdminSession {
	now := a.now()
	return &authcore.AdminSession{
		Username:           authcore.DefaultAdminUsername,
		MustChangePassword: mustChange,
		IssuedAt:           now,
		ExpiresAt:          now.Add(a.sessionTTL),
	}
}

func validateNewPassword(newPassword, currentPassword string) error {
	if len(newPassword) < MinPasswordLen {
		return fmt.Errorf("%w: shorter than %d characters", authcore.ErrWeakPassword, MinPasswordLen)
	}
	if newPassword == DefaultPassword {
		return fmt.Errorf("%w: default password not allowed", authcore.ErrWeakPassword)
	}
	if newPassword == currentPassword {
		return fmt.Errorf("%w: unchanged password", authcore.ErrWeakPassword)
	}
	return nil
}
