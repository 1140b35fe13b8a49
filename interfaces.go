package authcore

import "context"

// TokenVerifier validates a raw bearer token against the configured issuer
// set and returns the mapped principal (without UserID; JIT resolution is a
// separate step).
// Implementations: verifier/ (multi-issuer JWT via JWKS), fake/ (testing).
type TokenVerifier interface {
	// Verify validates the token and returns the mapped principal.
	// Failures are *VerifyError values carrying a stable kind.
	Verify(ctx context.Context, rawToken string) (*Principal, error)
}

// IdentityProvisioner resolves a verified external principal to a local user,
// creating or updating the account record as needed.
type IdentityProvisioner interface {
	// Resolve returns a copy of the principal with UserID set and roles
	// replaced by the durable role assignments when any exist.
	Resolve(ctx context.Context, p *Principal) (*Principal, error)
}

// FlowOrchestrator drives the browser OIDC authorization-code flow.
type FlowOrchestrator interface {
	// Start builds the authorization URL for the named provider and returns
	// it together with the flow state to persist in the auth-flow cookie.
	Start(ctx context.Context, providerName string, mode FlowMode, returnTo string) (*FlowStart, error)

	// Exchange redeems an authorization code using the verifier captured at
	// flow start.
	Exchange(ctx context.Context, providerName, code, codeVerifier string) (*TokenSet, error)
}

// LocalAuthenticator handles registration and login against locally stored
// password credentials.
type LocalAuthenticator interface {
	// Register creates a user plus credential and issues a session.
	// Fails with ErrEmailTaken when a credential already exists.
	Register(ctx context.Context, email, password string) (*LocalSession, error)

	// Login verifies the credential and issues a new session. Any mismatch
	// fails with ErrInvalidCredentials.
	Login(ctx context.Context, email, password string) (*LocalSession, error)

	// Logout destroys the session. Unknown ids are not an error.
	Logout(ctx context.Context, sessionID string) error

	// Principal resolves a session id to a principal, lazily destroying
	// expired sessions. Missing or expired sessions return (nil, nil).
	Principal(ctx context.Context, sessionID string) (*Principal, error)
}

// AdminAuthenticator is the single-operator administrative login.
type AdminAuthenticator interface {
	// Login authenticates the fixed admin username and returns the session
	// state, including whether a password rotation is still pending.
	Login(ctx context.Context, username, password string) (*AdminSession, error)

	// ChangePassword verifies the current password, durably stores the new
	// hash, and returns a fresh session with the rotation gate cleared.
	ChangePassword(ctx context.Context, currentPassword, newPassword string) (*AdminSession, error)

	// Require returns ErrPasswordChangeRequired while the rotation gate is
	// set; every admin-protected operation except ChangePassword must call it.
	Require(session *AdminSession) error
}

// UserRepository is the collaborator contract for local account storage.
// Implementations must enforce uniqueness of (issuer, subject) links and
// report violations as ErrDuplicate.
type UserRepository interface {
	// ByID looks up a user by primary key. Returns ErrNotFound when absent.
	ByID(ctx context.Context, id string) (*User, error)

	// ByExternalIdentity looks up the user linked to (issuer, subject).
	// Returns ErrNotFound when no link exists.
	ByExternalIdentity(ctx context.Context, issuer, subject string) (*User, error)

	// Create stores a new user.
	Create(ctx context.Context, u *User) error

	// UpdateProfile applies the non-nil fields of the patch.
	UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) error

	// LinkIdentity upserts the external-identity link and its metadata.
	LinkIdentity(ctx context.Context, userID string, ident ExternalIdentity) error

	// TouchLastSeen updates the user's last-seen timestamp.
	TouchLastSeen(ctx context.Context, userID string) error
}

// RoleRepository is the collaborator contract for durable role assignments.
type RoleRepository interface {
	Assign(ctx context.Context, userID, role string) error
	List(ctx context.Context, userID string) ([]string, error)
}

// LocalAuthRepository is the collaborator contract for local credentials and
// sessions. Credential creation must enforce email uniqueness and report
// violations as ErrDuplicate.
type LocalAuthRepository interface {
	// CredentialByEmail returns ErrNotFound when no credential exists.
	CredentialByEmail(ctx context.Context, email string) (*LocalCredential, error)
	CreateCredential(ctx context.Context, c *LocalCredential) error

	SessionByID(ctx context.Context, id string) (*LocalSession, error)
	CreateSession(ctx context.Context, s *LocalSession) error
	DeleteSession(ctx context.Context, id string) error
}

// AdminCredentialStore persists the rotated administrator password hash.
type AdminCredentialStore interface {
	// PasswordHash returns ErrNotFound while no rotated hash has been stored.
	PasswordHash(ctx context.Context) (string, error)
	SetPasswordHash(ctx context.Context, hash string) error
}

// Repositories bundles the stores visible inside one unit of work.
type Repositories struct {
	Users     UserRepository
	Roles     RoleRepository
	LocalAuth LocalAuthRepository
}

// UnitOfWork runs a function with all repositories bound to one transactional
// boundary. Multi-step read-modify-write sequences (JIT provisioning, local
// registration) must run inside it so duplicate-creation races surface as
// ErrDuplicate instead of silent duplicates.
type UnitOfWork interface {
	Transact(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
}
