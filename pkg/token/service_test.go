package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataferry/ferry/pkg/errdefs"
	"github.com/dataferry/ferry/pkg/metrics"
	"github.com/dataferry/ferry/pkg/offsets"
)

func newStore(t *testing.T) (*offsets.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	host, portStr, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	store, err := offsets.NewRedisStore(context.Background(), offsets.Config{Host: host, Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestFetchTokenRetriesOnceAfterBackoff(t *testing.T) {
	store, _ := newStore(t)

	var calls int32
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "ferry-client", r.PostForm.Get("client_id"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "k",
			"expires_in":   60,
		})
	}))
	defer idp.Close()

	svc := NewIDPService(Config{
		TokenURL:      idp.URL,
		ClientID:      "ferry-client",
		Backoff:       10 * time.Millisecond,
		FreshnessSkew: time.Second,
	}, store)

	start := time.Now()
	tok, err := svc.FetchToken(context.Background(), "node-1")
	require.NoError(t, err)

	assert.Equal(t, "k", tok)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	// Token is cached under the node key with a bounded TTL
	cached, found, err := store.GetValue(context.Background(), "management_node_node-1_access_token", true)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "k", cached)
}

func TestFetchTokenFailsAfterTwoAttempts(t *testing.T) {
	store, _ := newStore(t)

	var calls int32
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer idp.Close()

	svc := NewIDPService(Config{
		TokenURL: idp.URL,
		ClientID: "ferry-client",
		Backoff:  time.Millisecond,
	}, store)

	_, err := svc.FetchToken(context.Background(), "node-1")
	require.Error(t, err)
	assert.True(t, errdefs.IsAuth(err))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestFetchTokenUsesCacheWhileFresh(t *testing.T) {
	store, mr := newStore(t)

	var calls int32
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok-" + strconv.Itoa(int(atomic.LoadInt32(&calls))),
			"expires_in":   300,
		})
	}))
	defer idp.Close()

	svc := NewIDPService(Config{
		TokenURL:      idp.URL,
		ClientID:      "ferry-client",
		Backoff:       time.Millisecond,
		FreshnessSkew: 60 * time.Second,
	}, store)

	ctx := context.Background()

	first, err := svc.FetchToken(ctx, "node-1")
	require.NoError(t, err)
	second, err := svc.FetchToken(ctx, "node-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "fresh token must come from cache")

	// Past the cache TTL (expires_in - skew) the token is re-minted
	mr.FastForward(241 * time.Second)

	third, err := svc.FetchToken(ctx, "node-1")
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestFetchTokenWithoutStoreMintsEveryTime(t *testing.T) {
	var calls int32
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok",
			"expires_in":   300,
		})
	}))
	defer idp.Close()

	svc := NewIDPService(Config{TokenURL: idp.URL, ClientID: "c", Backoff: time.Millisecond}, nil)
	ctx := context.Background()
	mintsBefore := testutil.ToFloat64(metrics.TokenMintsTotal)

	tok, err := svc.FetchToken(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)

	// No store means no cache: the second fetch mints again
	_, err = svc.FetchToken(ctx, "node-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.Equal(t, mintsBefore+2, testutil.ToFloat64(metrics.TokenMintsTotal))

	// Invalidate has nothing to drop and must not fail
	assert.NoError(t, svc.Invalidate(ctx, "node-1"))
}

func TestFetchTokenCachesShortLivedTokens(t *testing.T) {
	store, mr := newStore(t)

	var calls int32
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok-" + strconv.Itoa(int(atomic.LoadInt32(&calls))),
			"expires_in":   30,
		})
	}))
	defer idp.Close()

	svc := NewIDPService(Config{
		TokenURL:      idp.URL,
		ClientID:      "c",
		Backoff:       time.Millisecond,
		FreshnessSkew: 60 * time.Second,
	}, store)

	ctx := context.Background()

	// The token expires inside the skew; it is still cached for half
	// its lifetime instead of being re-minted per call
	first, err := svc.FetchToken(ctx, "node-1")
	require.NoError(t, err)
	second, err := svc.FetchToken(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	mr.FastForward(16 * time.Second)

	third, err := svc.FetchToken(ctx, "node-1")
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestInvalidateForcesRemint(t *testing.T) {
	store, _ := newStore(t)

	var calls int32
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok",
			"expires_in":   300,
		})
	}))
	defer idp.Close()

	svc := NewIDPService(Config{TokenURL: idp.URL, ClientID: "c", Backoff: time.Millisecond}, store)

	ctx := context.Background()
	_, err := svc.FetchToken(ctx, "node-1")
	require.NoError(t, err)
	require.NoError(t, svc.Invalidate(ctx, "node-1"))
	_, err = svc.FetchToken(ctx, "node-1")
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

// signingFixture serves a JWKS for a generated RSA key and signs tokens
// with it
type signingFixture struct {
	key    *rsa.PrivateKey
	kid    string
	server *httptest.Server
}

func newSigningFixture(t *testing.T) *signingFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &signingFixture{key: key, kid: "test-key"}
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &key.PublicKey,
		KeyID:     f.kid,
		Use:       "sig",
		Algorithm: "RS256",
	}}}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(f.server.Close)

	return f
}

func (f *signingFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = f.kid
	signed, err := tok.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func TestVerifyToken(t *testing.T) {
	store, _ := newStore(t)
	fixture := newSigningFixture(t)

	svc := NewIDPService(Config{JWKSURL: fixture.server.URL}, store)
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		tok := fixture.sign(t, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
			"azp": "alice",
		})
		assert.NoError(t, svc.VerifyToken(ctx, tok))
	})

	t.Run("expired token", func(t *testing.T) {
		tok := fixture.sign(t, jwt.MapClaims{
			"exp": time.Now().Add(-time.Minute).Unix(),
		})
		err := svc.VerifyToken(ctx, tok)
		require.Error(t, err)
		assert.True(t, errdefs.IsAuth(err))
	})

	t.Run("unknown kid", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)

		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		tok.Header["kid"] = "rotated-away"
		signed, err := tok.SignedString(other)
		require.NoError(t, err)

		verr := svc.VerifyToken(ctx, signed)
		require.Error(t, verr)
		assert.True(t, errdefs.IsAuth(verr))
	})

	t.Run("rejects non-RS256", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := tok.SignedString([]byte("shared-secret"))
		require.NoError(t, err)

		assert.Error(t, svc.VerifyToken(ctx, signed))
	})
}

func TestExtractClaims(t *testing.T) {
	store, _ := newStore(t)
	fixture := newSigningFixture(t)

	svc := NewIDPService(Config{JWKSURL: fixture.server.URL}, store)

	tok := fixture.sign(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
		"azp": "consumer-7",
		"aud": []string{"ferry", "other-plane"},
	})

	clientID, err := svc.ExtractClientID(tok)
	require.NoError(t, err)
	assert.Equal(t, "consumer-7", clientID)

	aud, err := svc.ExtractAudiences(tok)
	require.NoError(t, err)
	assert.Equal(t, []string{"ferry", "other-plane"}, aud)

	_, err = svc.ExtractClientID("not-a-jwt")
	assert.Error(t, err)
}
