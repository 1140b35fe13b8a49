// Package jwks fetches and caches JSON Web Key Sets (RFC 7517).
//
// The cache holds one key set per JWKS URL so a single instance serves every
// configured issuer. Keys are RSA signing keys (RS256 family); malformed or
// non-signing keys in a set are skipped.
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/openloom/authcore/metrics"
)

// Cache fetches JWKS documents on demand and refreshes them when stale.
type Cache struct {
	httpClient      *http.Client
	refreshInterval time.Duration
	metrics         *metrics.Metrics

	mu   sync.RWMutex
	sets map[string]*keySet // jwksURL → cached set
}

type keySet struct {
	keys      map[string]*rsa.PublicKey // kid → public key
	lastFetch time.Time
}

// Option configures the Cache.
type Option func(*Cache)

// WithHTTPClient sets a custom HTTP client for fetching key sets.
func WithHTTPClient(c *http.Client) Option {
	return func(k *Cache) { k.httpClient = c }
}

// WithRefreshInterval sets how often cached keys are refreshed.
// Default: 1 hour.
func WithRefreshInterval(d time.Duration) Option {
	return func(k *Cache) { k.refreshInterval = d }
}

// WithMetrics records cache hits, misses, and size under the "jwks" cache
// type.
func WithMetrics(m *metrics.Metrics) Option {
	return func(k *Cache) { k.metrics = m }
}

// NewCache creates a JWKS cache. Outbound fetches carry a bounded timeout.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		refreshInterval: 1 * time.Hour,
		sets:            make(map[string]*keySet),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Key returns the RSA public key for the given kid from the set published at
// jwksURL, fetching or refreshing the set as needed. When kid is empty and
// the set holds exactly one key, that key is returned.
func (c *Cache) Key(ctx context.Context, jwksURL, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	set := c.sets[jwksURL]
	var key *rsa.PublicKey
	var found, stale bool
	if set != nil {
		key, found = set.lookup(kid)
		stale = time.Since(set.lastFetch) > c.refreshInterval
	}
	c.mu.RUnlock()

	if found && !stale {
		c.metrics.RecordCacheHit("jwks")
		return key, nil
	}
	c.metrics.RecordCacheMiss("jwks")

	// Fetch fresh keys (unknown kid, expired cache, or first use).
	if err := c.refresh(ctx, jwksURL); err != nil {
		if found {
			return key, nil // serve the stale key if refresh fails
		}
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if set := c.sets[jwksURL]; set != nil {
		if key, ok := set.lookup(kid); ok {
			return key, nil
		}
	}
	return nil, fmt.Errorf("authcore/jwks: key not found for kid %q", kid)
}

func (s *keySet) lookup(kid string) (*rsa.PublicKey, bool) {
	if key, ok := s.keys[kid]; ok {
		return key, true
	}
	if kid == "" && len(s.keys) == 1 {
		for _, k := range s.keys {
			return k, true
		}
	}
	return nil, false
}

// refresh fetches the key set at jwksURL and replaces the cached entry.
func (c *Cache) refresh(ctx context.Context, jwksURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return fmt.Errorf("authcore/jwks: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authcore/jwks: fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authcore/jwks: fetch returned status %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("authcore/jwks: decode: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		pub, err := jwk.rsaPublicKey()
		if err != nil {
			continue // skip malformed keys
		}
		keys[jwk.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("authcore/jwks: no valid RSA signing keys at %s", jwksURL)
	}

	c.mu.Lock()
	c.sets[jwksURL] = &keySet{keys: keys, lastFetch: time.Now()}
	size := len(c.sets)
	c.mu.Unlock()
	c.metrics.SetCacheSize("jwks", float64(size))
	return nil
}

// JWKS JSON types

type jwksDocument struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k *jwkKey) rsaPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
