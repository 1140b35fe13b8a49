package verifier

import (
	"reflect"
	"testing"

	authcore "github.com/openloom/authcore"
)

func TestMapClaimsDefaults(t *testing.T) {
	claims := map[string]any{
		"sub":         "user-1",
		"iss":         "https://idp.example.com",
		"email":       "alice@example.com",
		"name":        "Alice",
		"org_id":      "org-9",
		"roles":       []any{"admin", "editor"},
		"permissions": []any{"posts:write"},
	}
	cfg := &authcore.IssuerConfig{Name: "example"}

	p, err := MapClaims(claims, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if p.Subject != "user-1" || p.Issuer != "https://idp.example.com" {
		t.Fatalf("unexpected identity: %+v", p)
	}
	if p.Email != "alice@example.com" || p.Name != "Alice" || p.OrgID != "org-9" {
		t.Fatalf("unexpected profile fields: %+v", p)
	}
	if !reflect.DeepEqual(p.Roles, []string{"admin", "editor"}) {
		t.Fatalf("unexpected roles: %v", p.Roles)
	}
	if !reflect.DeepEqual(p.Permissions, []string{"posts:write"}) {
		t.Fatalf("unexpected permissions: %v", p.Permissions)
	}
	if p.ProviderName != "example" || p.AuthMethod != authcore.AuthMethodOIDC {
		t.Fatalf("unexpected provenance: %+v", p)
	}
}

func TestMapClaimsDotPaths(t *testing.T) {
	claims := map[string]any{
		"sub": "user-1",
		"iss": "https://idp.example.com",
		"https://example.com/app_metadata": map[string]any{
			"contact": map[string]any{"email": "nested@example.com"},
			"org":     "org-42",
		},
	}
	cfg := &authcore.IssuerConfig{
		ClaimMapping: authcore.ClaimMapping{
			Email: "https://example.com/app_metadata.contact.email",
			OrgID: "https://example.com/app_metadata.org",
		},
	}

	p, err := MapClaims(claims, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if p.Email != "nested@example.com" {
		t.Fatalf("dot-path email not extracted: %q", p.Email)
	}
	if p.OrgID != "org-42" {
		t.Fatalf("dot-path org not extracted: %q", p.OrgID)
	}
}

func TestMapClaimsSpaceDelimitedRoles(t *testing.T) {
	claims := map[string]any{
		"sub":   "user-1",
		"iss":   "https://idp.example.com",
		"roles": "admin editor viewer",
	}
	p, err := MapClaims(claims, &authcore.IssuerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p.Roles, []string{"admin", "editor", "viewer"}) {
		t.Fatalf("space-delimited roles not split: %v", p.Roles)
	}
}

func TestMapClaimsMissingSubOrIss(t *testing.T) {
	cases := []map[string]any{
		{"iss": "https://idp.example.com"},
		{"sub": "user-1"},
		{"sub": "", "iss": "https://idp.example.com"},
		{"sub": 42, "iss": "https://idp.example.com"},
	}
	for i, claims := range cases {
		if _, err := MapClaims(claims, &authcore.IssuerConfig{}); err == nil {
			t.Errorf("case %d: claims without sub/iss were accepted", i)
		}
	}
}

func TestMapClaimsMissingOptionalFields(t *testing.T) {
	p, err := MapClaims(map[string]any{"sub": "u", "iss": "i"}, &authcore.IssuerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Email != "" || p.Name != "" || p.OrgID != "" || p.Roles != nil || p.Permissions != nil {
		t.Fatalf("missing claims should map to zero values: %+v", p)
	}
}

func TestMapClaimsPathThroughNonObject(t *testing.T) {
	claims := map[string]any{
		"sub":    "u",
		"iss":    "i",
		"email":  "top@example.com",
		"nested": "not-an-object",
	}
	cfg := &authcore.IssuerConfig{ClaimMapping: authcore.ClaimMapping{Email: "nested.email"}}
	p, err := MapClaims(claims, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if p.Email != "" {
		t.Fatalf("traversal through a non-object should yield empty, got %q", p.Email)
	}
}
