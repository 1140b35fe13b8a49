// Package cookie centralizes the four signed session cookies: interactive
// browser session, short-lived auth-flow state, local-credential session,
// and administrator session.
//
// Each kind is a thin adapter over the envelope codec with its own name and
// lifetime; none implements its own signing. Reads tolerate a missing or
// garbled cookie by reporting "no session", and independently re-check the
// expiry embedded in every payload even though the browser also enforces
// Max-Age.
package cookie

import (
	"fmt"
	"net/http"
	"time"

	authcore "github.com/openloom/authcore"
	"github.com/openloom/authcore/envelope"
)

// Manager writes, reads, and clears the four session cookie kinds.
type Manager struct {
	secret []byte
	secure bool
	now    func() time.Time

	sessionName string
	flowName    string
	localName   string
	adminName   string

	sessionTTL    time.Duration
	sessionMinTTL time.Duration
	sessionMaxTTL time.Duration
}

// Option configures the Manager.
type Option func(*Manager)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a cookie manager from the validated client config. The
// secret length is re-checked here so no path can issue a cookie under a
// weak secret, even when the Config bypassed NewClient.
func NewManager(cfg authcore.Config, opts ...Option) (*Manager, error) {
	if len(cfg.SessionSecret) < authcore.MinSessionSecretLen {
		return nil, fmt.Errorf("authcore/cookie: session secret must be at least %d bytes", authcore.MinSessionSecretLen)
	}
	m := &Manager{
		secret:        []byte(cfg.SessionSecret),
		secure:        cfg.SecureCookies,
		now:           time.Now,
		sessionName:   nameOr(cfg.SessionCookieName, authcore.DefaultSessionCookie),
		flowName:      nameOr(cfg.FlowCookieName, authcore.DefaultFlowCookie),
		localName:     nameOr(cfg.LocalCookieName, authcore.DefaultLocalCookie),
		adminName:     nameOr(cfg.AdminCookieName, authcore.DefaultAdminCookie),
		sessionTTL:    ttlOr(cfg.SessionTTL, authcore.DefaultSessionTTL),
		sessionMinTTL: ttlOr(cfg.SessionMinTTL, authcore.DefaultSessionMinTTL),
		sessionMaxTTL: ttlOr(cfg.SessionMaxTTL, authcore.DefaultSessionMaxTTL),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

func nameOr(name, def string) string {
	if name == "" {
		return def
	}
	return name
}

func ttlOr(ttl, def time.Duration) time.Duration {
	if ttl <= 0 {
		return def
	}
	return ttl
}

// BrowserSessionExpiry derives the browser session expiry from the upstream
// token's expiry when available, clamped to the configured bounds, falling
// back to the default TTL when the token's expiry is unusable.
func (m *Manager) BrowserSessionExpiry(tokenExpiry time.Time) time.Time {
	now := m.now()
	ttl := m.sessionTTL
	if !tokenExpiry.IsZero() {
		if derived := tokenExpiry.Sub(now); derived > 0 {
			ttl = derived
		}
	}
	if ttl < m.sessionMinTTL {
		ttl = m.sessionMinTTL
	}
	if ttl > m.sessionMaxTTL {
		ttl = m.sessionMaxTTL
	}
	return now.Add(ttl)
}

// Browser session cookie.

// WriteBrowserSession issues the interactive session cookie.
func (m *Manager) WriteBrowserSession(w http.ResponseWriter, s authcore.BrowserSession) error {
	return m.write(w, m.sessionName, s, s.ExpiresAt)
}

// ReadBrowserSession returns the session, or ok=false when absent, garbled,
// or past its embedded expiry.
func (m *Manager) ReadBrowserSession(r *http.Request) (authcore.BrowserSession, bool) {
	s, ok := read[authcore.BrowserSession](m, r, m.sessionName)
	if !ok || !s.ExpiresAt.After(m.now()) {
		return authcore.BrowserSession{}, false
	}
	return s, true
}

// ClearBrowserSession expires the interactive session cookie.
func (m *Manager) ClearBrowserSession(w http.ResponseWriter) {
	m.clear(w, m.sessionName)
}

// Auth-flow cookie.

// WriteFlowSession persists one authorization-flow attempt.
func (m *Manager) WriteFlowSession(w http.ResponseWriter, s authcore.FlowSession) error {
	return m.write(w, m.flowName, s, s.ExpiresAt)
}

// ReadFlowSession returns the pending flow, or ok=false when absent,
// garbled, or older than the flow lifetime.
func (m *Manager) ReadFlowSession(r *http.Request) (authcore.FlowSession, bool) {
	s, ok := read[authcore.FlowSession](m, r, m.flowName)
	if !ok || !s.ExpiresAt.After(m.now()) {
		return authcore.FlowSession{}, false
	}
	return s, true
}

// ClearFlowSession expires the auth-flow cookie; callbacks consume the flow
// exactly once.
func (m *Manager) ClearFlowSession(w http.ResponseWriter) {
	m.clear(w, m.flowName)
}

// Local-credential session cookie.

// WriteLocalSession issues the local-credential session cookie.
func (m *Manager) WriteLocalSession(w http.ResponseWriter, s authcore.LocalSessionCookie) error {
	return m.write(w, m.localName, s, s.ExpiresAt)
}

// ReadLocalSession returns the local session reference, or ok=false when
// absent, garbled, or expired.
func (m *Manager) ReadLocalSession(r *http.Request) (authcore.LocalSessionCookie, bool) {
	s, ok := read[authcore.LocalSessionCookie](m, r, m.localName)
	if !ok || !s.ExpiresAt.After(m.now()) {
		return authcore.LocalSessionCookie{}, false
	}
	return s, true
}

// ClearLocalSession expires the local-credential session cookie.
func (m *Manager) ClearLocalSession(w http.ResponseWriter) {
	m.clear(w, m.localName)
}

// Admin session cookie.

// WriteAdminSession issues the administrator session cookie.
func (m *Manager) WriteAdminSession(w http.ResponseWriter, s authcore.AdminSession) error {
	return m.write(w, m.adminName, s, s.ExpiresAt)
}

// ReadAdminSession returns the admin session, or ok=false when absent,
// garbled, or expired.
func (m *Manager) ReadAdminSession(r *http.Request) (authcore.AdminSession, bool) {
	s, ok := read[authcore.AdminSession](m, r, m.adminName)
	if !ok || !s.ExpiresAt.After(m.now()) {
		return authcore.AdminSession{}, false
	}
	return s, true
}

// ClearAdminSession expires the administrator cookie only; no other session
// kind is touched.
func (m *Manager) ClearAdminSession(w http.ResponseWriter) {
	m.clear(w, m.adminName)
}

func (m *Manager) write(w http.ResponseWriter, name string, payload any, expiresAt time.Time) error {
	maxAge := int(expiresAt.Sub(m.now()).Seconds())
	if maxAge <= 0 {
		return fmt.Errorf("authcore/cookie: refusing to issue %s with a non-future expiry", name)
	}
	value, err := envelope.Encode(payload, m.secret)
	if err != nil {
		return fmt.Errorf("authcore/cookie: encode %s: %w", name, err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func read[T any](m *Manager, r *http.Request, name string) (T, bool) {
	var zero T
	c, err := r.Cookie(name)
	if err != nil || c == nil || c.Value == "" {
		return zero, false
	}
	return envelope.Decode[T](c.Value, m.secret)
}

func (m *Manager) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
