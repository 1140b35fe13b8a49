// Package ginmw provides Gin HTTP middleware for the identity layer.
//
// Principal resolves a request in precedence order: Authorization bearer
// token, then the browser session cookie, then the local-credential session
// cookie. Whichever succeeds, the resolved principal lands both in the gin
// context and in the request context, so handlers and downstream services
// read it the same way.
package ginmw

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	authcore "github.com/openloom/authcore"
	"github.com/openloom/authcore/cookie"
	"github.com/openloom/authcore/metrics"
)

// Context keys for storing identity data in gin.Context.
const (
	KeyPrincipal = "authcore_principal"
	KeyUserID    = "authcore_user_id"
	KeyRoles     = "authcore_roles"
	KeyEmail     = "authcore_email"
)

// Option configures middleware behavior.
type Option func(*config)

type config struct {
	excludedPaths map[string]bool
	optional      bool
	metrics       *metrics.Metrics
}

// WithExcludedPaths sets paths that skip authentication (e.g. health checks).
func WithExcludedPaths(paths ...string) Option {
	return func(cfg *config) {
		for _, p := range paths {
			cfg.excludedPaths[p] = true
		}
	}
}

// WithOptionalAuth lets unauthenticated requests through without a principal
// instead of responding 401. Handlers decide per route.
func WithOptionalAuth() Option {
	return func(cfg *config) { cfg.optional = true }
}

// WithMetrics records authentication outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cfg *config) { cfg.metrics = m }
}

// Principal returns middleware that resolves the caller to a principal from
// a bearer token or one of the session cookies. Responds 401 when nothing
// authenticates the request, unless WithOptionalAuth is set.
func Principal(client *authcore.Client, cookies *cookie.Manager, opts ...Option) gin.HandlerFunc {
	cfg := &config{excludedPaths: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(c *gin.Context) {
		if cfg.excludedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		principal, err := resolve(c, client, cookies, cfg)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if principal == nil {
			if cfg.optional {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		store(c, principal)
		c.Next()
	}
}

// resolve tries each credential source in order. A present-but-invalid
// credential is an error; an absent one falls through to the next source.
func resolve(c *gin.Context, client *authcore.Client, cookies *cookie.Manager, cfg *config) (*authcore.Principal, error) {
	ctx := c.Request.Context()

	if token := extractBearerToken(c.Request); token != "" {
		start := time.Now()
		p, err := client.ResolveBearer(ctx, token)
		cfg.metrics.RecordVerifyDuration(time.Since(start).Seconds())
		if err != nil {
			cfg.metrics.RecordAuthFailure("bearer", string(authcore.VerifyKind(err)))
			return nil, err
		}
		cfg.metrics.RecordAuthSuccess("bearer")
		return p, nil
	}

	if cookies == nil {
		return nil, nil
	}

	if session, ok := cookies.ReadBrowserSession(c.Request); ok {
		start := time.Now()
		p, err := client.ResolveBearer(ctx, session.AccessToken)
		cfg.metrics.RecordVerifyDuration(time.Since(start).Seconds())
		if err != nil {
			// The cookie signature was valid but the embedded token no
			// longer verifies. Treat as logged out, not as an attack.
			cookies.ClearBrowserSession(c.Writer)
			cfg.metrics.RecordAuthFailure("cookie", string(authcore.VerifyKind(err)))
			return nil, nil
		}
		cfg.metrics.RecordAuthSuccess("cookie")
		return p, nil
	}

	if local := client.Local(); local != nil {
		if ref, ok := cookies.ReadLocalSession(c.Request); ok {
			p, err := local.Principal(ctx, ref.SessionID)
			if err != nil {
				return nil, err
			}
			if p == nil {
				cookies.ClearLocalSession(c.Writer)
				return nil, nil
			}
			cfg.metrics.RecordAuthSuccess("local")
			return p, nil
		}
	}

	return nil, nil
}

func store(c *gin.Context, p *authcore.Principal) {
	c.Set(KeyPrincipal, p)
	c.Set(KeyUserID, p.UserID)
	c.Set(KeyRoles, p.Roles)
	c.Set(KeyEmail, p.Email)
	c.Request = c.Request.WithContext(authcore.WithPrincipal(c.Request.Context(), p))
}

// RequireRole returns middleware that responds 403 unless the resolved
// principal carries the named role. Requires Principal to run first.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := GetPrincipal(c)
		if p == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !p.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role required"})
			return
		}
		c.Next()
	}
}

// RequireAdmin returns middleware that reads the admin session cookie and
// enforces the password-rotation gate. The session is stored under
// KeyPrincipal-adjacent admin state and retrievable via GetAdminSession.
func RequireAdmin(client *authcore.Client, cookies *cookie.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin := client.Admin()
		if admin == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "admin authenticator not configured"})
			return
		}

		session, ok := cookies.ReadAdminSession(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin authentication required"})
			return
		}
		if err := admin.Require(&session); err != nil {
			status := http.StatusUnauthorized
			if err == authcore.ErrPasswordChangeRequired {
				status = http.StatusForbidden
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}

		c.Set(keyAdminSession, &session)
		c.Next()
	}
}

const keyAdminSession = "authcore_admin_session"

// --- Context helpers ---

// GetPrincipal returns the resolved principal from the Gin context.
func GetPrincipal(c *gin.Context) *authcore.Principal {
	v, _ := c.Get(KeyPrincipal)
	p, _ := v.(*authcore.Principal)
	return p
}

// GetUserID returns the resolved local user id from the Gin context.
func GetUserID(c *gin.Context) string {
	v, _ := c.Get(KeyUserID)
	s, _ := v.(string)
	return s
}

// GetRoles returns the principal's roles from the Gin context.
func GetRoles(c *gin.Context) []string {
	v, _ := c.Get(KeyRoles)
	r, _ := v.([]string)
	return r
}

// GetEmail returns the principal's email from the Gin context.
func GetEmail(c *gin.Context) string {
	v, _ := c.Get(KeyEmail)
	s, _ := v.(string)
	return s
}

// GetAdminSession returns the validated admin session from the Gin context.
func GetAdminSession(c *gin.Context) *authcore.AdminSession {
	v, _ := c.Get(keyAdminSession)
	s, _ := v.(*authcore.AdminSession)
	return s
}

// --- internal helpers ---

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
