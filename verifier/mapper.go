package verifier

import (
	"fmt"
	"strings"

	authcore "github.com/openloom/authcore"
)

// Default claim paths used when the issuer's mapping leaves a field unset.
const (
	defaultEmailPath       = "email"
	defaultNamePath        = "name"
	defaultOrgIDPath       = "org_id"
	defaultRolesPath       = "roles"
	defaultPermissionsPath = "permissions"
)

// MapClaims converts verified token claims into the canonical principal shape
// using the issuer's claim mapping. It is pure: no I/O, deterministic given
// its inputs. Fails only when the token lacks sub or iss.
func MapClaims(claims map[string]any, cfg *authcore.IssuerConfig) (*authcore.Principal, error) {
	sub, _ := claims["sub"].(string)
	iss, _ := claims["iss"].(string)
	if sub == "" || iss == "" {
		return nil, fmt.Errorf("token missing sub or iss claim")
	}

	m := cfg.ClaimMapping
	p := &authcore.Principal{
		Subject:      sub,
		Issuer:       iss,
		Email:        stringClaim(claims, orDefault(m.Email, defaultEmailPath)),
		Name:         stringClaim(claims, orDefault(m.Name, defaultNamePath)),
		OrgID:        stringClaim(claims, orDefault(m.OrgID, defaultOrgIDPath)),
		Roles:        stringsClaim(claims, orDefault(m.Roles, defaultRolesPath)),
		Permissions:  stringsClaim(claims, orDefault(m.Permissions, defaultPermissionsPath)),
		RawClaims:    claims,
		ProviderName: cfg.Name,
		AuthMethod:   authcore.AuthMethodOIDC,
	}
	return p, nil
}

func orDefault(path, def string) string {
	if path == "" {
		return def
	}
	return path
}

// lookup walks a dot-path through nested object claims. It does not traverse
// arrays; claim mappings are bounded to nested-object lookup.
func lookup(claims map[string]any, path string) (any, bool) {
	cur := any(claims)
	for _, seg := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringClaim(claims map[string]any, path string) string {
	v, ok := lookup(claims, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// stringsClaim reads a string-array claim, also accepting a single
// space-delimited string.
func stringsClaim(claims map[string]any, path string) []string {
	v, ok := lookup(claims, path)
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []string:
		return vv
	case string:
		return strings.Fields(vv)
	}
	return nil
}
