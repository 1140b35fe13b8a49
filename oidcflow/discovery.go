package oidcflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openloom/authcore/metrics"
)

// DiscoveryDocument is the subset of an issuer's published OIDC metadata
// this core consumes.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
}

// DiscoveryCache caches discovery documents per issuer. Concurrent first
// callers for the same issuer collapse into a single outbound fetch, and a
// failed fetch stores nothing, so the next caller retries instead of being
// stuck behind a poisoned entry. It is injected into the orchestrator rather
// than held in package state so tests can drive it with a fake clock and a
// fake fetcher.
type DiscoveryCache struct {
	httpClient *http.Client
	ttl        time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time

	sf   singleflight.Group
	mu   sync.RWMutex
	docs map[string]*discoveryEntry // issuer → entry
}

type discoveryEntry struct {
	doc        *DiscoveryDocument
	insertedAt time.Time
}

// DiscoveryOption configures the DiscoveryCache.
type DiscoveryOption func(*DiscoveryCache)

// WithDiscoveryHTTPClient sets a custom HTTP client for discovery fetches.
func WithDiscoveryHTTPClient(c *http.Client) DiscoveryOption {
	return func(d *DiscoveryCache) { d.httpClient = c }
}

// WithDiscoveryTTL sets how long a cached document stays fresh.
// Default: 1 hour.
func WithDiscoveryTTL(ttl time.Duration) DiscoveryOption {
	return func(d *DiscoveryCache) { d.ttl = ttl }
}

// WithDiscoveryMetrics records cache hits, misses, and size under the
// "discovery" cache type.
func WithDiscoveryMetrics(m *metrics.Metrics) DiscoveryOption {
	return func(d *DiscoveryCache) { d.metrics = m }
}

// WithDiscoveryClock overrides the clock used for freshness checks.
func WithDiscoveryClock(now func() time.Time) DiscoveryOption {
	return func(d *DiscoveryCache) { d.now = now }
}

// NewDiscoveryCache creates a discovery-document cache.
func NewDiscoveryCache(opts ...DiscoveryOption) *DiscoveryCache {
	d := &DiscoveryCache{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		ttl:        1 * time.Hour,
		now:        time.Now,
		docs:       make(map[string]*discoveryEntry),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Get returns the issuer's discovery document, fetching it at most once per
// freshness window no matter how many callers arrive at once.
func (d *DiscoveryCache) Get(ctx context.Context, issuer string) (*DiscoveryDocument, error) {
	d.mu.RLock()
	entry := d.docs[issuer]
	d.mu.RUnlock()
	if entry != nil && d.now().Sub(entry.insertedAt) < d.ttl {
		d.metrics.RecordCacheHit("discovery")
		return entry.doc, nil
	}
	d.metrics.RecordCacheMiss("discovery")

	ch := d.sf.DoChan(issuer, func() (any, error) {
		// The fetch outlives any single caller: another request may be
		// waiting on the same in-flight result.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.httpClient.Timeout)
		defer cancel()

		doc, err := d.fetch(fctx, issuer)
		if err != nil {
			d.evict(issuer)
			return nil, err
		}
		d.mu.Lock()
		d.docs[issuer] = &discoveryEntry{doc: doc, insertedAt: d.now()}
		size := len(d.docs)
		d.mu.Unlock()
		d.metrics.SetCacheSize("discovery", float64(size))
		return doc, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*DiscoveryDocument), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *DiscoveryCache) evict(issuer string) {
	d.mu.Lock()
	delete(d.docs, issuer)
	size := len(d.docs)
	d.mu.Unlock()
	d.metrics.SetCacheSize("discovery", float64(size))
}

func (d *DiscoveryCache) fetch(ctx context.Context, issuer string) (*DiscoveryDocument, error) {
	url := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("authcore/oidcflow: create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authcore/oidcflow: discovery fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("authcore/oidcflow: discovery fetch %s: status %d: %s", url, resp.StatusCode, body)
	}

	const maxResponseSize = 1 << 20
	var doc DiscoveryDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("authcore/oidcflow: decode discovery document: %w", err)
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return nil, fmt.Errorf("authcore/oidcflow: discovery document for %s is missing endpoints", issuer)
	}
	return &doc, nil
}
