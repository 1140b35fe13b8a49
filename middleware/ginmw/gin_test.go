package ginmw_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	authcore "github.com/openloom/authcore"
	"github.com/openloom/authcore/cookie"
	"github.com/openloom/authcore/fake"
	"github.com/openloom/authcore/localauth"
	"github.com/openloom/authcore/metrics"
	"github.com/openloom/authcore/middleware/ginmw"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type tokenVerifier struct {
	subjects map[string]*authcore.Principal
}

func (v *tokenVerifier) Verify(_ context.Context, rawToken string) (*authcore.Principal, error) {
	p, ok := v.subjects[rawToken]
	if !ok {
		return nil, authcore.NewVerifyError(authcore.VerifyInvalidSignature, nil)
	}
	cp := *p
	return &cp, nil
}

type testEnv struct {
	client  *authcore.Client
	cookies *cookie.Manager
	store   *fake.Store
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := fake.NewStore()
	cfg := authcore.Config{SessionSecret: testSecret}
	client, err := authcore.NewClient(cfg,
		authcore.WithTokenVerifier(&tokenVerifier{subjects: map[string]*authcore.Principal{
			"token-alice": {Subject: "alice", Issuer: "https://idp.example.com", Roles: []string{"member"}},
		}}),
		authcore.WithLocalAuthenticator(localauth.New(store, "member")),
	)
	if err != nil {
		t.Fatal(err)
	}
	cookies, err := cookie.NewManager(client.Config())
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{client: client, cookies: cookies, store: store}
}

func (e *testEnv) router(opts ...ginmw.Option) *gin.Engine {
	r := gin.New()
	r.Use(ginmw.Principal(e.client, e.cookies, opts...))
	r.GET("/me", func(c *gin.Context) {
		p := ginmw.GetPrincipal(c)
		if p == nil {
			c.JSON(http.StatusOK, gin.H{"subject": ""})
			return
		}
		c.JSON(http.StatusOK, gin.H{"subject": p.Subject})
	})
	return r
}

func TestBearerToken(t *testing.T) {
	env := newEnv(t)
	r := env.router()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer token-alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if body := w.Body.String(); body != `{"subject":"alice"}` {
		t.Fatalf("body = %s", body)
	}
}

func TestMissingCredentials(t *testing.T) {
	env := newEnv(t)
	r := env.router()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestInvalidBearerToken(t *testing.T) {
	env := newEnv(t)
	r := env.router()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer forged")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestOptionalAuthPassesThrough(t *testing.T) {
	env := newEnv(t)
	r := env.router(ginmw.WithOptionalAuth())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := w.Body.String(); body != `{"subject":""}` {
		t.Fatalf("body = %s", body)
	}
}

func TestExcludedPath(t *testing.T) {
	env := newEnv(t)
	r := gin.New()
	r.Use(ginmw.Principal(env.client, env.cookies, ginmw.WithExcludedPaths("/health")))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestBrowserSessionCookie(t *testing.T) {
	env := newEnv(t)
	r := env.router()

	// Issue a signed browser session carrying a verifiable token.
	rec := httptest.NewRecorder()
	session := authcore.BrowserSession{
		AccessToken:  "token-alice",
		ProviderName: "acme",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	if err := env.cookies.WriteBrowserSession(rec, session); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if body := w.Body.String(); body != `{"subject":"alice"}` {
		t.Fatalf("body = %s", body)
	}
}

func TestBrowserCookieWithDeadTokenClears(t *testing.T) {
	env := newEnv(t)
	r := env.router()

	rec := httptest.NewRecorder()
	session := authcore.BrowserSession{
		AccessToken: "token-revoked",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	if err := env.cookies.WriteBrowserSession(rec, session); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// Valid cookie, dead token: logged out, and the cookie is cleared.
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == authcore.DefaultSessionCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("stale browser cookie not cleared")
	}
}

func TestLocalSessionCookie(t *testing.T) {
	env := newEnv(t)
	r := env.router()

	session, err := env.client.Local().Register(context.Background(), "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	ref := authcore.LocalSessionCookie{SessionID: session.ID, ExpiresAt: session.ExpiresAt}
	if err := env.cookies.WriteLocalSession(rec, ref); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if body := w.Body.String(); body != `{"subject":"`+session.UserID+`"}` {
		t.Fatalf("body = %s", body)
	}
}

func TestRequireRole(t *testing.T) {
	env := newEnv(t)
	r := gin.New()
	r.Use(ginmw.Principal(env.client, env.cookies))
	r.GET("/admin-only", ginmw.RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/admin-only", nil)
	req.Header.Set("Authorization", "Bearer token-alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestVerifyDurationObserved(t *testing.T) {
	env := newEnv(t)
	r := env.router(ginmw.WithMetrics(metrics.New(true)))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer token-alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != "authcore_token_verify_duration_seconds" {
			continue
		}
		if mf.GetMetric()[0].GetHistogram().GetSampleCount() == 0 {
			t.Fatal("verify duration histogram has no observations")
		}
		return
	}
	t.Fatal("verify duration histogram not registered")
}
