// Package verifier validates bearer tokens against a configured set of
// trusted issuers and maps their claims into the canonical principal shape.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	authcore "github.com/openloom/authcore"
	"github.com/openloom/authcore/jwks"
)

// Verifier implements authcore.TokenVerifier for a fixed issuer set.
type Verifier struct {
	issuers []authcore.IssuerConfig
	keys    *jwks.Cache
	skew    time.Duration
}

// compile-time check
var _ authcore.TokenVerifier = (*Verifier)(nil)

// Option configures the Verifier.
type Option func(*Verifier)

// WithKeyCache sets a shared JWKS cache.
func WithKeyCache(c *jwks.Cache) Option {
	return func(v *Verifier) { v.keys = c }
}

// New creates a multi-issuer token verifier. skew is the clock tolerance
// applied to exp/iat checks; callers pass the clamped value from Config.
func New(issuers []authcore.IssuerConfig, skew time.Duration, opts ...Option) *Verifier {
	v := &Verifier{issuers: issuers, skew: skew}
	for _, o := range opts {
		o(v)
	}
	if v.keys == nil {
		v.keys = jwks.NewCache()
	}
	return v
}

// Verify validates the token: issuer match, signature via the issuer's JWKS,
// expiry and issued-at within skew, audience, token-use policy, and required
// scopes. Every policy failure is a *authcore.VerifyError with a stable kind;
// only key-fetch transport failures surface as plain errors.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*authcore.Principal, error) {
	cfg, err := v.matchIssuer(rawToken)
	if err != nil {
		return nil, err
	}

	algs := cfg.Algorithms
	if len(algs) == 0 {
		algs = []string{"RS256"}
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(algs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.skew),
	)

	token, err := parser.Parse(rawToken, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.keys.Key(ctx, v.jwksURL(cfg), kid)
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, authcore.NewVerifyError(authcore.VerifyInvalidClaims, fmt.Errorf("unexpected claims type"))
	}

	if err := checkAudience(claims, cfg.Audience); err != nil {
		return nil, err
	}
	if err := checkTokenUse(claims, cfg.TokenUse); err != nil {
		return nil, err
	}
	if err := checkScopes(claims, cfg.RequiredScopes); err != nil {
		return nil, err
	}

	p, err := MapClaims(map[string]any(claims), cfg)
	if err != nil {
		return nil, authcore.NewVerifyError(authcore.VerifyInvalidClaims, err)
	}
	return p, nil
}

// matchIssuer decodes the token's issuer claim without trusting it yet and
// matches it against the configured set by exact string comparison.
func (v *Verifier) matchIssuer(rawToken string) (*authcore.IssuerConfig, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return nil, authcore.NewVerifyError(authcore.VerifyInvalidClaims, err)
	}
	iss, _ := claims["iss"].(string)
	for i := range v.issuers {
		if v.issuers[i].Issuer == iss {
			return &v.issuers[i], nil
		}
	}
	return nil, authcore.NewVerifyError(authcore.VerifyUnknownIssuer, fmt.Errorf("issuer %q not configured", iss))
}

func (v *Verifier) jwksURL(cfg *authcore.IssuerConfig) string {
	if cfg.JWKSURI != "" {
		return cfg.JWKSURI
	}
	return strings.TrimRight(cfg.Issuer, "/") + "/.well-known/jwks.json"
}

// classifyParseError maps golang-jwt failures onto the stable error kinds.
// Keyfunc transport failures (JWKS unreachable) stay plain errors so callers
// can tell an operator problem from an attacker problem.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenUsedBeforeIssued), errors.Is(err, jwt.ErrTokenNotValidYet):
		return authcore.NewVerifyError(authcore.VerifyExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return authcore.NewVerifyError(authcore.VerifyInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("authcore/verifier: obtain signing key: %w", err)
	default:
		return authcore.NewVerifyError(authcore.VerifyInvalidClaims, err)
	}
}

// checkAudience accepts the token when any configured audience value appears
// in the token's aud claim (single string or array). An empty configured
// audience skips the check.
func checkAudience(claims jwt.MapClaims, audience []string) error {
	if len(audience) == 0 {
		return nil
	}
	got, err := claims.GetAudience()
	if err != nil {
		return authcore.NewVerifyError(authcore.VerifyInvalidClaims, err)
	}
	for _, want := range audience {
		for _, aud := range got {
			if aud == want {
				return nil
			}
		}
	}
	return authcore.NewVerifyError(authcore.VerifyInvalidClaims, fmt.Errorf("audience %v not accepted", []string(got)))
}

// checkTokenUse enforces the issuer's token-use policy. The class of a token
// is read from the token_use claim when present; otherwise a nonce claim
// marks an ID token and a scope claim marks an access token. Tokens of
// undeterminable class pass.
func checkTokenUse(claims jwt.MapClaims, use authcore.TokenUse) error {
	if use == "" || use == authcore.TokenUseAny {
		return nil
	}
	got := detectTokenUse(claims)
	if got != "" && got != use {
		return authcore.NewVerifyError(authcore.VerifyInvalidClaims,
			fmt.Errorf("token use %q, policy requires %q", got, use))
	}
	return nil
}

func detectTokenUse(claims jwt.MapClaims) authcore.TokenUse {
	if tu, ok := claims["token_use"].(string); ok {
		switch tu {
		case "access":
			return authcore.TokenUseAccess
		case "id":
			return authcore.TokenUseID
		}
	}
	if _, ok := claims["nonce"]; ok {
		return authcore.TokenUseID
	}
	if _, ok := claims["scope"]; ok {
		return authcore.TokenUseAccess
	}
	return ""
}

// checkScopes requires the token's scope claim to be a superset of the
// configured required scopes.
func checkScopes(claims jwt.MapClaims, required []string) error {
	if len(required) == 0 {
		return nil
	}
	granted := make(map[string]bool)
	switch scope := claims["scope"].(type) {
	case string:
		for _, s := range strings.Fields(scope) {
			granted[s] = true
		}
	case []any:
		for _, item := range scope {
			if s, ok := item.(string); ok {
				granted[s] = true
			}
		}
	}
	for _, want := range required {
		if !granted[want] {
			return authcore.NewVerifyError(authcore.VerifyInsufficientScope,
				fmt.Errorf("missing required scope %q", want))
		}
	}
	return nil
}
