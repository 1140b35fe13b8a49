package cookie_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	authcore "github.com/openloom/authcore"
	"github.com/openloom/authcore/cookie"
)

func testConfig() authcore.Config {
	return authcore.Config{
		SessionSecret: strings.Repeat("k", 32),
	}
}

func newManager(t *testing.T, opts ...cookie.Option) *cookie.Manager {
	t.Helper()
	m, err := cookie.NewManager(testConfig(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// roundTrip writes a cookie through the manager and returns a request
// carrying whatever was set.
func requestWith(t *testing.T, rec *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestWeakSecretRefused(t *testing.T) {
	_, err := cookie.NewManager(authcore.Config{SessionSecret: "short"})
	if err == nil {
		t.Fatal("manager accepted a secret below the minimum length")
	}
}

func TestBrowserSessionRoundTrip(t *testing.T) {
	m := newManager(t)
	rec := httptest.NewRecorder()
	in := authcore.BrowserSession{
		AccessToken:  "at-1",
		ProviderName: "acme",
		ExpiresAt:    time.Now().Add(time.Hour).UTC(),
	}
	if err := m.WriteBrowserSession(rec, in); err != nil {
		t.Fatal(err)
	}

	out, ok := m.ReadBrowserSession(requestWith(t, rec))
	if !ok {
		t.Fatal("freshly written session not readable")
	}
	if out.AccessToken != in.AccessToken || out.ProviderName != in.ProviderName {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestCookieAttributes(t *testing.T) {
	m, err := cookie.NewManager(authcore.Config{
		SessionSecret: strings.Repeat("k", 32),
		SecureCookies: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	if err := m.WriteBrowserSession(rec, authcore.BrowserSession{
		AccessToken: "at",
		ExpiresAt:   time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if !c.HttpOnly {
		t.Error("cookie must be HttpOnly")
	}
	if !c.Secure {
		t.Error("cookie must be Secure under the secure-transport policy")
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Error("cookie must be SameSite=Lax")
	}
	if c.Path != "/" {
		t.Errorf("cookie path = %q, want /", c.Path)
	}
	if c.MaxAge <= 0 {
		t.Errorf("cookie Max-Age = %d, want positive", c.MaxAge)
	}
}

func TestExpiredPayloadTreatedAsAbsent(t *testing.T) {
	// Issue with a generous Max-Age, then move the manager's clock past the
	// embedded expiry: the read must re-check the payload expiry itself.
	clock := time.Now()
	m := newManager(t, cookie.WithClock(func() time.Time { return clock }))

	rec := httptest.NewRecorder()
	if err := m.WriteFlowSession(rec, authcore.FlowSession{
		ProviderName: "acme",
		State:        "s",
		CreatedAt:    clock,
		ExpiresAt:    clock.Add(10 * time.Minute),
	}); err != nil {
		t.Fatal(err)
	}
	req := requestWith(t, rec)

	if _, ok := m.ReadFlowSession(req); !ok {
		t.Fatal("fresh flow session unreadable")
	}

	clock = clock.Add(11 * time.Minute)
	if _, ok := m.ReadFlowSession(req); ok {
		t.Fatal("flow cookie older than its lifetime must be treated as absent despite a valid signature")
	}
}

func TestGarbledCookieIsAbsent(t *testing.T) {
	m := newManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: authcore.DefaultSessionCookie, Value: "garbage.garbage"})

	if _, ok := m.ReadBrowserSession(req); ok {
		t.Fatal("garbled cookie decoded as a session")
	}
}

func TestMissingCookieIsAbsent(t *testing.T) {
	m := newManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := m.ReadAdminSession(req); ok {
		t.Fatal("missing cookie decoded as a session")
	}
}

func TestKindsAreIndependent(t *testing.T) {
	m := newManager(t)
	rec := httptest.NewRecorder()
	if err := m.WriteAdminSession(rec, authcore.AdminSession{
		Username:  "admin",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	req := requestWith(t, rec)

	if _, ok := m.ReadAdminSession(req); !ok {
		t.Fatal("admin session unreadable")
	}
	if _, ok := m.ReadBrowserSession(req); ok {
		t.Fatal("admin cookie leaked into the browser session kind")
	}
	if _, ok := m.ReadLocalSession(req); ok {
		t.Fatal("admin cookie leaked into the local session kind")
	}
}

func TestClearAdminTouchesOnlyAdmin(t *testing.T) {
	m := newManager(t)
	rec := httptest.NewRecorder()
	m.ClearAdminSession(rec)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected exactly 1 cleared cookie, got %d", len(cookies))
	}
	if cookies[0].Name != authcore.DefaultAdminCookie {
		t.Fatalf("cleared %q, want the admin cookie", cookies[0].Name)
	}
	if cookies[0].MaxAge != -1 {
		t.Fatalf("cleared cookie Max-Age = %d, want -1", cookies[0].MaxAge)
	}
}

func TestRefusesNonFutureExpiry(t *testing.T) {
	m := newManager(t)
	rec := httptest.NewRecorder()
	err := m.WriteBrowserSession(rec, authcore.BrowserSession{
		AccessToken: "at",
		ExpiresAt:   time.Now().Add(-time.Minute),
	})
	if err == nil {
		t.Fatal("cookie issued with an expiry in the past")
	}
}

func TestBrowserSessionExpiryDerivation(t *testing.T) {
	base := time.Now()
	m, err := cookie.NewManager(authcore.Config{
		SessionSecret: strings.Repeat("k", 32),
		SessionTTL:    time.Hour,
		SessionMinTTL: 5 * time.Minute,
		SessionMaxTTL: 8 * time.Hour,
	}, cookie.WithClock(func() time.Time { return base }))
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name        string
		tokenExpiry time.Time
		want        time.Duration
	}{
		{"token expiry inside bounds", base.Add(2 * time.Hour), 2 * time.Hour},
		{"token expiry above max is clamped", base.Add(48 * time.Hour), 8 * time.Hour},
		{"token expiry below min is raised", base.Add(time.Minute), 5 * time.Minute},
		{"zero token expiry falls back to default", time.Time{}, time.Hour},
		{"past token expiry falls back to default", base.Add(-time.Hour), time.Hour},
	}
	for _, tc := range cases {
		got := m.BrowserSessionExpiry(tc.tokenExpiry)
		if !got.Equal(base.Add(tc.want)) {
			t.Errorf("%s: got %v, want %v", tc.name, got.Sub(base), tc.want)
		}
	}
}
