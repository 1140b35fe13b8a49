package authcore

import "time"

// AuthMethod records which mechanism authenticated a principal.
type AuthMethod string

// Supported authentication methods.
const (
	AuthMethodOIDC  AuthMethod = "oidc"
	AuthMethodLocal AuthMethod = "local"
)

// FlowMode distinguishes an interactive login attempt from a registration attempt.
type FlowMode string

// Supported flow modes.
const (
	FlowModeLogin    FlowMode = "login"
	FlowModeRegister FlowMode = "register"
)

// TokenUse restricts which class of token an issuer accepts.
type TokenUse string

// Supported token-use policies.
const (
	TokenUseAccess TokenUse = "access"
	TokenUseID     TokenUse = "id"
	TokenUseAny    TokenUse = "any"
)

// Principal is the canonical, request-scoped identity produced by this core.
// It is created fresh per request and never persisted as a whole; only UserID
// and the durable role assignments survive the request.
type Principal struct {
	Subject     string
	Issuer      string
	Email       string
	Name        string
	OrgID       string
	Roles       []string
	Permissions []string
	RawClaims   map[string]any

	// UserID is set only after JIT resolution against the user store.
	UserID       string
	ProviderName string
	AuthMethod   AuthMethod
}

// HasRole reports whether the principal carries the named role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ClaimMapping describes where canonical fields live inside an issuer's token
// claims. Each value is a dot-path into the (possibly nested) claim set.
// Empty fields fall back to the default paths: email, name, org_id, roles,
// permissions.
type ClaimMapping struct {
	Email       string
	Name        string
	OrgID       string
	Roles       string
	Permissions string
}

// OIDCConfig holds the browser-flow settings for an issuer that supports
// interactive login.
type OIDCConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	// AuthorizationParams are merged into the authorization URL. Names that
	// collide with protocol-reserved parameters are dropped.
	AuthorizationParams map[string]string
}

// IssuerConfig is the per-issuer trust policy. Loaded once at process start
// and immutable thereafter.
type IssuerConfig struct {
	Name     string
	Issuer   string
	Audience []string
	JWKSURI  string
	TokenUse TokenUse

	// Algorithms restricts accepted signing algorithms. Empty means RS256.
	Algorithms     []string
	RequiredScopes []string
	ClaimMapping   ClaimMapping
	OIDC           *OIDCConfig
}

// FlowSession is the ephemeral state of one authorization-flow attempt. It
// lives only inside the signed auth-flow cookie and is consumed exactly once
// at the callback.
type FlowSession struct {
	ProviderName string    `json:"provider"`
	Mode         FlowMode  `json:"mode"`
	ReturnTo     string    `json:"return_to,omitempty"`
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// BrowserSession is the payload of the interactive browser session cookie.
type BrowserSession struct {
	AccessToken  string    `json:"access_token"`
	ProviderName string    `json:"provider"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// LocalSessionCookie is the payload of the local-credential session cookie.
// It carries only the opaque server-side session id.
type LocalSessionCookie struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AdminSession is the payload of the administrator session cookie.
type AdminSession struct {
	Username           string    `json:"username"`
	MustChangePassword bool      `json:"must_change_password"`
	IssuedAt           time.Time `json:"issued_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// TokenSet is the result of an authorization-code exchange.
type TokenSet struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
}

// FlowStart is the result of beginning an interactive login: the URL to
// redirect the browser to, plus the flow state that must be persisted in the
// signed auth-flow cookie.
type FlowStart struct {
	AuthorizationURL string
	Session          FlowSession
}

// User is a local account record. Only the fields this core reads or writes
// are modeled here.
type User struct {
	ID         string
	Email      string
	Name       string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// ExternalIdentity links a local user to one (issuer, subject) pair. At most
// one user may hold a given pair.
type ExternalIdentity struct {
	Issuer              string
	Subject             string
	ProviderName        string
	RawClaims           map[string]any
	LastAuthenticatedAt time.Time
}

// ProfilePatch is a partial update of a user's profile. Nil fields are left
// unchanged.
type ProfilePatch struct {
	Email *string
	Name  *string
}

// LocalCredential is a locally stored username/password credential. The email
// is normalized (trimmed, lowercased) and unique.
type LocalCredential struct {
	UserID       string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LocalSession is a server-side session row created by local login.
type LocalSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}
