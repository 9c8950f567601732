package token

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/dataferry/ferry/pkg/errdefs"
)

// jwksCache fetches the identity provider's JWK set and serves signing
// keys by kid. The set is refetched when a kid is unknown, at most once
// per refreshInterval, so a key rotation is picked up without hammering
// the endpoint on forged kids.
type jwksCache struct {
	url  string
	http *http.Client

	mu          sync.Mutex
	set         *jose.JSONWebKeySet
	lastFetched time.Time
}

const jwksRefreshInterval = time.Minute

func newJWKSCache(url string, client *http.Client) *jwksCache {
	return &jwksCache{url: url, http: client}
}

// signingKey returns the RSA public key for kid. Keys must be marked
// use=sig with alg RS256; anything else is rejected.
func (c *jwksCache) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key := c.lookup(kid); key != nil {
		return key, nil
	}

	if time.Since(c.lastFetched) < jwksRefreshInterval && c.set != nil {
		return nil, errdefs.Auth(fmt.Sprintf("no signing key for kid %q", kid), nil)
	}

	if err := c.fetch(ctx); err != nil {
		// Network trouble, not a bad token
		return nil, errdefs.Retryable(fmt.Errorf("failed to fetch JWKS: %w", err))
	}

	if key := c.lookup(kid); key != nil {
		return key, nil
	}
	return nil, errdefs.Auth(fmt.Sprintf("no signing key for kid %q", kid), nil)
}

// lookup must be called with the mutex held
func (c *jwksCache) lookup(kid string) *rsa.PublicKey {
	if c.set == nil {
		return nil
	}
	for _, key := range c.set.Key(kid) {
		if key.Use != "sig" || key.Algorithm != "RS256" {
			continue
		}
		if pub, ok := key.Key.(*rsa.PublicKey); ok {
			return pub
		}
	}
	return nil
}

// fetch must be called with the mutex held
func (c *jwksCache) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build JWKS request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("JWKS request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	c.set = &set
	c.lastFetched = time.Now()
	return nil
}
