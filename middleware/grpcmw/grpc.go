// Package grpcmw provides gRPC interceptors for the identity layer.
//
// Interceptors accept an *authcore.Client and resolve bearer tokens from the
// incoming metadata through it; the resolved principal travels on the request
// context via authcore.WithPrincipal.
package grpcmw

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	authcore "github.com/openloom/authcore"
	"github.com/openloom/authcore/metrics"
)

// AuthOption configures auth interceptor behavior.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedMethods map[string]bool
	metrics         *metrics.Metrics
}

// WithExcludedMethods sets gRPC methods that skip authentication.
// Methods should be fully qualified (e.g. "/package.Service/Method").
func WithExcludedMethods(methods ...string) AuthOption {
	return func(cfg *authConfig) {
		for _, m := range methods {
			cfg.excludedMethods[m] = true
		}
	}
}

// WithMetrics records authentication outcomes.
func WithMetrics(m *metrics.Metrics) AuthOption {
	return func(cfg *authConfig) { cfg.metrics = m }
}

// UnaryAuth returns a gRPC unary server interceptor that resolves bearer
// tokens to principals. On success the principal is stored in the context
// via authcore.WithPrincipal.
func UnaryAuth(client *authcore.Client, opts ...AuthOption) grpc.UnaryServerInterceptor {
	cfg := &authConfig{excludedMethods: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if cfg.excludedMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		ctx, err := authenticate(ctx, client, cfg)
		if err != nil {
			return nil, err
		}

		return handler(ctx, req)
	}
}

// StreamAuth returns a gRPC stream server interceptor that resolves bearer
// tokens to principals.
func StreamAuth(client *authcore.Client, opts ...AuthOption) grpc.StreamServerInterceptor {
	cfg := &authConfig{excludedMethods: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if cfg.excludedMethods[info.FullMethod] {
			return handler(srv, ss)
		}

		ctx, err := authenticate(ss.Context(), client, cfg)
		if err != nil {
			return err
		}

		wrapped := &wrappedStream{ServerStream: ss, ctx: ctx}
		return handler(srv, wrapped)
	}
}

// UnaryRequireRole returns a gRPC unary server interceptor that refuses the
// call unless the resolved principal carries the named role.
// Requires UnaryAuth to run first.
func UnaryRequireRole(role string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		p := authcore.PrincipalFromContext(ctx)
		if p == nil {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		if !p.HasRole(role) {
			return nil, status.Error(codes.PermissionDenied, "role required")
		}
		return handler(ctx, req)
	}
}

// --- internal helpers ---

func authenticate(ctx context.Context, client *authcore.Client, cfg *authConfig) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "missing metadata")
	}

	tokenStr := extractBearerFromMD(md)
	if tokenStr == "" {
		return ctx, status.Error(codes.Unauthenticated, "missing authorization token")
	}

	start := time.Now()
	principal, err := client.ResolveBearer(ctx, tokenStr)
	cfg.metrics.RecordVerifyDuration(time.Since(start).Seconds())
	if err != nil {
		cfg.metrics.RecordAuthFailure("bearer", string(authcore.VerifyKind(err)))
		return ctx, status.Error(codes.Unauthenticated, "invalid token")
	}
	cfg.metrics.RecordAuthSuccess("bearer")

	return authcore.WithPrincipal(ctx, principal), nil
}

func extractBearerFromMD(md metadata.MD) string {
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	parts := strings.SplitN(vals[0], " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// wrappedStream wraps grpc.ServerStream to override Context().
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
