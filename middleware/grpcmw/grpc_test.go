package grpcmw

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/prometheus/client_golang/prometheus"

	authcore "github.com/openloom/authcore"
	"github.com/openloom/authcore/metrics"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// tokenVerifier treats the raw token as the external subject, so tests can
// mint "tokens" without signing real JWTs.
type tokenVerifier struct {
	subjects map[string]*authcore.Principal
}

func (v *tokenVerifier) Verify(_ context.Context, rawToken string) (*authcore.Principal, error) {
	p, ok := v.subjects[rawToken]
	if !ok {
		return nil, authcore.NewVerifyError(authcore.VerifyInvalidSignature, nil)
	}
	return p, nil
}

func testClient(t *testing.T, subjects map[string]*authcore.Principal) *authcore.Client {
	t.Helper()
	client, err := authcore.NewClient(authcore.Config{SessionSecret: testSecret},
		authcore.WithTokenVerifier(&tokenVerifier{subjects: subjects}))
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestAuthenticate_Success(t *testing.T) {
	client := testClient(t, map[string]*authcore.Principal{
		"token-alice": {Subject: "alice", Issuer: "https://idp.example.com", Roles: []string{"admin"}},
	})

	md := metadata.Pairs("authorization", "Bearer token-alice")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	newCtx, err := authenticate(ctx, client, &authConfig{})
	if err != nil {
		t.Fatalf("authenticate returned error: %v", err)
	}

	p := authcore.PrincipalFromContext(newCtx)
	if p == nil || p.Subject != "alice" {
		t.Errorf("expected principal alice, got %+v", p)
	}
}

func TestAuthenticate_MissingToken(t *testing.T) {
	client := testClient(t, nil)

	md := metadata.New(map[string]string{})
	ctx := metadata.NewIncomingContext(context.Background(), md)

	_, err := authenticate(ctx, client, &authConfig{})

	if err == nil {
		t.Fatal("expected error for missing token")
	}
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	client := testClient(t, map[string]*authcore.Principal{
		"token-alice": {Subject: "alice"},
	})

	md := metadata.Pairs("authorization", "Bearer unknown-token")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	_, err := authenticate(ctx, client, &authConfig{})

	if err == nil {
		t.Fatal("expected error for invalid token")
	}
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
}

func TestAuthenticateMultipleCases(t *testing.T) {
	subjects := map[string]*authcore.Principal{
		"token-alice": {Subject: "alice", Roles: []string{"member"}},
	}

	tests := []struct {
		name       string
		authHeader string
		expectErr  bool
		expectCode codes.Code
		expectSub  string
	}{
		{
			name:       "valid token",
			authHeader: "Bearer token-alice",
			expectErr:  false,
			expectSub:  "alice",
		},
		{
			name:       "empty token",
			authHeader: "",
			expectErr:  true,
			expectCode: codes.Unauthenticated,
		},
		{
			name:       "malformed bearer",
			authHeader: "NotBearer token",
			expectErr:  true,
			expectCode: codes.Unauthenticated,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := testClient(t, subjects)
			var md metadata.MD
			if tc.authHeader != "" {
				md = metadata.Pairs("authorization", tc.authHeader)
			} else {
				md = metadata.New(map[string]string{})
			}
			ctx := metadata.NewIncomingContext(context.Background(), md)

			newCtx, err := authenticate(ctx, client, &authConfig{})

			if tc.expectErr {
				if err == nil {
					t.Errorf("%s: expected error but got none", tc.name)
				}
				if status.Code(err) != tc.expectCode {
					t.Errorf("%s: expected code %v, got %v", tc.name, tc.expectCode, status.Code(err))
				}
			} else {
				if err != nil {
					t.Errorf("%s: unexpected error: %v", tc.name, err)
				}
				p := authcore.PrincipalFromContext(newCtx)
				if p == nil || p.Subject != tc.expectSub {
					t.Errorf("%s: expected subject %s, got %+v", tc.name, tc.expectSub, p)
				}
			}
		})
	}
}

func TestUnaryRequireRole(t *testing.T) {
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/Method"}

	withPrincipal := authcore.WithPrincipal(context.Background(),
		&authcore.Principal{Subject: "alice", Roles: []string{"member"}})

	if _, err := UnaryRequireRole("member")(withPrincipal, nil, info, handler); err != nil {
		t.Fatalf("member role refused: %v", err)
	}
	if _, err := UnaryRequireRole("admin")(withPrincipal, nil, info, handler); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("missing role: expected PermissionDenied, got %v", err)
	}
	if _, err := UnaryRequireRole("member")(context.Background(), nil, info, handler); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("no principal: expected Unauthenticated, got %v", err)
	}
}

func TestExtractBearerFromMD_Success(t *testing.T) {
	md := metadata.Pairs("authorization", "Bearer mytoken123")
	token := extractBearerFromMD(md)

	if token != "mytoken123" {
		t.Errorf("expected mytoken123, got %s", token)
	}
}

func TestExtractBearerFromMD_Empty(t *testing.T) {
	md := metadata.New(map[string]string{})
	token := extractBearerFromMD(md)

	if token != "" {
		t.Errorf("expected empty string, got %s", token)
	}
}

func TestExtractBearerFromMD_NoBearer(t *testing.T) {
	md := metadata.Pairs("authorization", "Basic credentials")
	token := extractBearerFromMD(md)

	if token != "" {
		t.Errorf("expected empty string for non-Bearer, got %s", token)
	}
}

func TestWrappedStream_Context(t *testing.T) {
	customCtx := authcore.WithRequestID(context.Background(), "req-1")

	mockStream := &mockServerStream{ctx: context.Background()}
	wrapped := &wrappedStream{ServerStream: mockStream, ctx: customCtx}

	if wrapped.Context() != customCtx {
		t.Error("wrapped stream should return custom context")
	}
}

type mockServerStream struct {
	ctx context.Context
}

func (m *mockServerStream) SetHeader(metadata.MD) error  { return nil }
func (m *mockServerStream) SendHeader(metadata.MD) error { return nil }
func (m *mockServerStream) SetTrailer(metadata.MD)       {}
func (m *mockServerStream) Context() context.Context     { return m.ctx }
func (m *mockServerStream) SendMsg(interface{}) error    { return nil }
func (m *mockServerStream) RecvMsg(interface{}) error    { return nil }

func TestAuthenticateObservesVerifyDuration(t *testing.T) {
	client := testClient(t, map[string]*authcore.Principal{
		"token-alice": {Subject: "alice", Issuer: "https://idp.example.com"},
	})
	cfg := &authConfig{metrics: metrics.New(true)}

	ctx := metadata.NewIncomingContext(context.Background(),
		metadata.Pairs("authorization", "Bearer token-alice"))
	if _, err := authenticate(ctx, client, cfg); err != nil {
		t.Fatal(err)
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
