// Package localauth implements registration and login against locally stored
// username/password credentials, backed by opaque server-side sessions.
package localauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	authcore "github.com/openloom/authcore"
	"github.com/openloom/authcore/audit"
	"github.com/openloom/authcore/password"
)

// LocalIssuer is the issuer recorded on principals that were authenticated
// with a local credential instead of an external identity provider.
const LocalIssuer = "local"

// Authenticator implements authcore.LocalAuthenticator. Registration runs
// inside the unit of work so a concurrent registration of the same email
// surfaces as ErrEmailTaken instead of two credential rows.
type Authenticator struct {
	uow         authcore.UnitOfWork
	defaultRole string
	sessionTTL  time.Duration
	logger      *slog.Logger
	auditor     *audit.Logger
	now         func() time.Time
}

// compile-time check
var _ authcore.LocalAuthenticator = (*Authenticator)(nil)

// Option configures the Authenticator.
type Option func(*Authenticator)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) { a.logger = l }
}

// WithAudit mirrors registration and login outcomes into an audit trail.
func WithAudit(a *audit.Logger) Option {
	return func(auth *Authenticator) { auth.auditor = a }
}

// WithSessionTTL overrides the lifetime of issued sessions.
func WithSessionTTL(ttl time.Duration) Option {
	return func(a *Authenticator) { a.sessionTTL = ttl }
}

// WithClock overrides the clock used for timestamps and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// New creates an authenticator. defaultRole is assigned to every registered
// user.
func New(uow authcore.UnitOfWork, defaultRole string, opts ...Option) *Authenticator {
	a := &Authenticator{
		uow:         uow,
		defaultRole: defaultRole,
		sessionTTL:  authcore.DefaultLocalSessionTTL,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// NormalizeEmail canonicalizes an email for credential lookup: surrounding
// whitespace is stripped and the address is lowercased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user with a password credential and issues a session.
// An existing credential for the same normalized email fails with
// ErrEmailTaken.
func (a *Authenticator) Register(ctx context.Context, email, pass string) (*authcore.LocalSession, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("authcore/localauth: empty email")
	}

	hash, err := password.Hash(pass)
	if err != nil {
		return nil, fmt.Errorf("authcore/localauth: hash password: %w", err)
	}

	var session *authcore.LocalSession
	err = a.uow.Transact(ctx, func(ctx context.Context, r authcore.Repositories) error {
		if _, err := r.LocalAuth.CredentialByEmail(ctx, email); err == nil {
			return authcore.ErrEmailTaken
		} else if !errors.Is(err, authcore.ErrNotFound) {
			return fmt.Errorf("lookup credential: %w", err)
		}

		now := a.now()
		user := &authcore.User{
			ID:        uuid.NewString(),
			Email:     email,
			CreatedAt: now,
		}
		if err := r.Users.Create(ctx, user); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if err := r.Roles.Assign(ctx, user.ID, a.defaultRole); err != nil {
			return fmt.Errorf("assign default role: %w", err)
		}
		cred := &authcore.LocalCredential{
			UserID:       user.ID,
			Email:        email,
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := r.LocalAuth.CreateCredential(ctx, cred); err != nil {
			// Concurrent registration of the same email between our lookup
			// and insert.
			if errors.Is(err, authcore.ErrDuplicate) {
				return authcore.ErrEmailTaken
			}
			return fmt.Errorf("create credential: %w", err)
		}

		s, err := a.issueSession(ctx, r, user.ID)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		a.audit(ctx, audit.ActionRegister, audit.ResultFailure, "", err)
		if errors.Is(err, authcore.ErrEmailTaken) {
			return nil, authcore.ErrEmailTaken
		}
		return nil, fmt.Errorf("authcore/localauth: register: %w", err)
	}

	a.logger.Info("local user registered", "user_id", session.UserID)
	a.audit(ctx, audit.ActionRegister, audit.ResultSuccess, session.UserID, nil)
	return session, nil
}

// Login verifies the credential and issues a new session. A missing
// credential and a failed password check both return ErrInvalidCredentials,
// so the caller cannot learn whether the email is registered.
func (a *Authenticator) Login(ctx context.Context, email, pass string) (*authcore.LocalSession, error) {
	email = NormalizeEmail(email)

	var session *authcore.LocalSession
	err := a.uow.Transact(ctx, func(ctx context.Context, r authcore.Repositories) error {
		cred, err := r.LocalAuth.CredentialByEmail(ctx, email)
		if errors.Is(err, authcore.ErrNotFound) {
			return authcore.ErrInvalidCredentials
		}
		if err != nil {
			return fmt.Errorf("lookup credential: %w", err)
		}
		if !password.Verify(pass, cred.PasswordHash) {
			return authcore.ErrInvalidCredentials
		}

		if err := r.Users.TouchLastSeen(ctx, cred.UserID); err != nil {
			return fmt.Errorf("touch last seen: %w", err)
		}
		s, err := a.issueSession(ctx, r, cred.UserID)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		a.audit(ctx, audit.ActionLogin, audit.ResultFailure, "", err)
		if errors.Is(err, authcore.ErrInvalidCredentials) {
			return nil, authcore.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("authcore/localauth: login: %w", err)
	}

	a.logger.Info("local user logged in", "user_id", session.UserID)
	a.audit(ctx, audit.ActionLogin, audit.ResultSuccess, session.UserID, nil)
	return session, nil
}

// Logout destroys the session row. Unknown ids are not an error.
func (a *Authenticator) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	err := a.uow.Transact(ctx, func(ctx context.Context, r authcore.Repositories) error {
		return r.LocalAuth.DeleteSession(ctx, sessionID)
	})
	if err == nil {
		a.audit(ctx, audit.ActionLogout, audit.ResultSuccess, "", nil)
	}
	return err
}

// Principal resolves a session id to a principal. Missing sessions return
// (nil, nil); expired sessions are deleted lazily and also return (nil, nil).
func (a *Authenticator) Principal(ctx context.Context, sessionID string) (*authcore.Principal, error) {
	if sessionID == "" {
		return nil, nil
	}

	var principal *authcore.Principal
	err := a.uow.Transact(ctx, func(ctx context.Context, r authcore.Repositories) error {
		session, err := r.LocalAuth.SessionByID(ctx, sessionID)
		if errors.Is(err, authcore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup session: %w", err)
		}
		if !session.ExpiresAt.After(a.now()) {
			return r.LocalAuth.DeleteSession(ctx, sessionID)
		}

		user, err := r.Users.ByID(ctx, session.UserID)
		if err != nil {
			return fmt.Errorf("lookup user %s: %w", session.UserID, err)
		}
		roles, err := r.Roles.List(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("list roles: %w", err)
		}

		principal = &authcore.Principal{
			Subject:    user.ID,
			Issuer:     LocalIssuer,
			Email:      user.Email,
			Name:       user.Name,
			Roles:      roles,
			UserID:     user.ID,
			AuthMethod: authcore.AuthMethodLocal,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("authcore/localauth: principal: %w", err)
	}
	return principal, nil
}

func (a *Authenticator) audit(ctx context.Context, action, result, userID string, opErr error) {
	e := audit.Event{
		RequestID: authcore.RequestIDFromContext(ctx),
		UserID:    userID,
		Issuer:    LocalIssuer,
		Action:    action,
		Result:    result,
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	a.auditor.Log(e)
}

func (a *Authenticator) issueSession(ctx context.Context, r authcore.Repositories, userID string) (*authcore.LocalSession, error) {
	now := a.now()
	session := &authcore.LocalSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(a.sessionTTL),
	}
	if err := r.LocalAuth.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}
