// Package token obtains and verifies the short-lived bearer tokens used
// on every management-plane and federation call.
//
// Tokens are minted by an external identity provider with the OAuth2
// client-credentials grant and cached in the offset store under the
// management-node key, with a TTL short of the token's own expiry so a
// cached token is always fresh when returned.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/dataferry/ferry/pkg/errdefs"
	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/metrics"
	"github.com/dataferry/ferry/pkg/offsets"
	"github.com/dataferry/ferry/pkg/types"
)

// Verifier checks inbound bearer tokens and extracts their claims
type Verifier interface {
	VerifyToken(ctx context.Context, token string) error
	ExtractClientID(token string) (string, error)
	ExtractAudiences(token string) ([]string, error)
}

// Service mints, caches and verifies bearer tokens
type Service interface {
	Verifier

	// FetchToken returns a fresh token for the management node, from
	// cache when possible
	FetchToken(ctx context.Context, managementNodeID string) (string, error)

	// Invalidate drops the cached token for the management node, forcing
	// the next FetchToken to mint a new one
	Invalidate(ctx context.Context, managementNodeID string) error
}

// DefaultFreshnessSkew is subtracted from a token's lifetime when
// caching, so a token returned from cache always outlives the caller's
// request.
const DefaultFreshnessSkew = 60 * time.Second

// Config holds the identity-provider endpoints and credentials
type Config struct {
	TokenURL     string
	JWKSURL      string
	ClientID     string
	ClientSecret string

	// Backoff is the wait before the single retry of a failed mint
	Backoff time.Duration

	// FreshnessSkew overrides DefaultFreshnessSkew when positive
	FreshnessSkew time.Duration
}

// IDPService implements Service against an OAuth2/OIDC identity provider
type IDPService struct {
	cfg    Config
	http   *http.Client
	store  offsets.Store
	jwks   *jwksCache
	flight singleflight.Group
}

// NewIDPService creates a token service backed by the given offset
// store. A nil store is accepted: the service then mints on every fetch
// and caches nothing.
func NewIDPService(cfg Config, store offsets.Store) *IDPService {
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.FreshnessSkew <= 0 {
		cfg.FreshnessSkew = DefaultFreshnessSkew
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	return &IDPService{
		cfg:   cfg,
		http:  httpClient,
		store: store,
		jwks:  newJWKSCache(cfg.JWKSURL, httpClient),
	}
}

// FetchToken returns the cached token for the node when one is present;
// otherwise it mints a fresh one, caches it and returns it. At most one
// mint per node is in flight at a time.
func (s *IDPService) FetchToken(ctx context.Context, managementNodeID string) (string, error) {
	key := types.TokenKey(managementNodeID)

	if cached, found, err := s.cachedToken(ctx, key); err == nil && found {
		return cached, nil
	}

	val, err, _ := s.flight.Do(key, func() (interface{}, error) {
		// A concurrent caller may have minted while we waited
		if cached, found, err := s.cachedToken(ctx, key); err == nil && found {
			return cached, nil
		}

		tok, expiresIn, err := s.mint(ctx)
		if err != nil {
			return "", err
		}

		ttl := expiresIn - s.cfg.FreshnessSkew
		if ttl <= 0 {
			// Tokens shorter-lived than the skew are still worth
			// caching for half their lifetime
			ttl = expiresIn / 2
		}
		if ttl > 0 && s.store != nil {
			if err := s.store.SetValue(ctx, key, tok, ttl, true); err != nil {
				logger := log.WithComponent("token")
				logger.Warn().Err(err).Msg("failed to cache token")
			}
		}
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return val.(string), nil
}

func (s *IDPService) cachedToken(ctx context.Context, key string) (string, bool, error) {
	if s.store == nil {
		return "", false, nil
	}
	return s.store.GetValue(ctx, key, true)
}

// Invalidate drops the cached token for the node
func (s *IDPService) Invalidate(ctx context.Context, managementNodeID string) error {
	if s.store == nil {
		return nil
	}
	return s.store.Delete(ctx, types.TokenKey(managementNodeID))
}

// mint performs the client-credentials exchange. A non-success status is
// retried exactly once after the configured backoff.
func (s *IDPService) mint(ctx context.Context) (string, time.Duration, error) {
	tok, expiresIn, err := s.requestToken(ctx)
	if err == nil {
		return tok, expiresIn, nil
	}

	logger := log.WithComponent("token")
	logger.Warn().Err(err).
		Dur("backoff", s.cfg.Backoff).
		Msg("token mint failed, retrying once")

	select {
	case <-time.After(s.cfg.Backoff):
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}

	tok, expiresIn, err = s.requestToken(ctx)
	if err != nil {
		return "", 0, errdefs.Auth("token fetch failed after retry", err)
	}
	return tok, expiresIn, nil
}

func (s *IDPService) requestToken(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.cfg.ClientID)
	if s.cfg.ClientSecret != "" {
		form.Set("client_secret", s.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", 0, fmt.Errorf("token endpoint returned an empty access_token")
	}

	metrics.TokenMintsTotal.Inc()
	return payload.AccessToken, time.Duration(payload.ExpiresIn) * time.Second, nil
}

// VerifyToken parses the JWT, resolves its signing key from the JWKS by
// kid, verifies the RS256 signature and checks expiry. Signature and
// claim failures are auth errors; a JWKS fetch failure is retryable.
func (s *IDPService) VerifyToken(ctx context.Context, tokenString string) error {
	_, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return s.jwks.signingKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errdefs.IsRetryable(err) {
			return err
		}
		return errdefs.Auth("token verification failed", err)
	}
	return nil
}

// ExtractClientID reads the authorised-party claim (azp) without
// re-verifying the signature; callers verify first.
func (s *IDPService) ExtractClientID(tokenString string) (string, error) {
	claims, err := unverifiedClaims(tokenString)
	if err != nil {
		return "", err
	}
	azp, _ := claims["azp"].(string)
	return azp, nil
}

// ExtractAudiences reads the aud claim without re-verifying the
// signature
func (s *IDPService) ExtractAudiences(tokenString string) ([]string, error) {
	claims, err := unverifiedClaims(tokenString)
	if err != nil {
		return nil, err
	}
	aud, err := claims.GetAudience()
	if err != nil {
		return nil, errdefs.Auth("failed to read audience claim", err)
	}
	return aud, nil
}

func unverifiedClaims(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, errdefs.Auth("failed to parse token", err)
	}
	return claims, nil
}
