package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/metrics"
	"github.com/dataferry/ferry/pkg/offsets"
	"github.com/dataferry/ferry/pkg/types"
)

// AccessMapAuthenticator is the API-key alternative to the IdP path:
// registered clients are stored in the offset store as AccessDetails
// with a salted key hash and a topic allow-list.
type AccessMapAuthenticator struct {
	store offsets.Store
}

func NewAccessMapAuthenticator(store offsets.Store) *AccessMapAuthenticator {
	return &AccessMapAuthenticator{store: store}
}

// Lookup loads the access record for a registered client
func (a *AccessMapAuthenticator) Lookup(ctx context.Context, registeredClient string) (*types.AccessDetails, bool, error) {
	raw, found, err := a.store.GetValue(ctx, types.AccessKey(registeredClient), true)
	if err != nil || !found {
		return nil, false, err
	}

	var details types.AccessDetails
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return nil, false, err
	}
	return &details, true, nil
}

// Save stores an access record
func (a *AccessMapAuthenticator) Save(ctx context.Context, details types.AccessDetails) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	return a.store.SetValue(ctx, types.AccessKey(details.RegisteredClient), string(raw), 0, true)
}

// Verify checks a presented API key against the stored salted hash
func (a *AccessMapAuthenticator) Verify(ctx context.Context, registeredClient, apiKey string) (*types.AccessDetails, bool, error) {
	details, found, err := a.Lookup(ctx, registeredClient)
	if err != nil || !found {
		return nil, false, err
	}
	if details.API.Revoked {
		return nil, false, nil
	}

	sum := sha256.Sum256([]byte(details.API.Salt + apiKey))
	hashed := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(hashed), []byte(details.API.HashedKey)) != 1 {
		return nil, false, nil
	}
	return details, true, nil
}

// TopicPermitted reports whether the client's allow-list contains the
// topic
func TopicPermitted(details *types.AccessDetails, topic string) bool {
	for _, t := range details.Topics {
		if strings.EqualFold(t, topic) {
			return true
		}
	}
	return false
}

// HashAPIKey produces the stored hash for a new key and salt
func HashAPIKey(salt, apiKey string) string {
	sum := sha256.Sum256([]byte(salt + apiKey))
	return hex.EncodeToString(sum[:])
}

// AccessMapStreamInterceptor authenticates streams with the
// x-client-id and x-api-key metadata pair instead of a bearer token.
// Selected with server.auth.mode=accessmap.
func AccessMapStreamInterceptor(auth *AccessMapAuthenticator) grpc.StreamServerInterceptor {
	logger := log.WithComponent("server")

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			metrics.StreamAuthFailuresTotal.WithLabelValues("missing_metadata").Inc()
			return status.Error(codes.Unauthenticated, "missing request metadata")
		}

		clientID := first(md.Get("x-client-id"))
		apiKey := first(md.Get("x-api-key"))
		if clientID == "" || apiKey == "" {
			metrics.StreamAuthFailuresTotal.WithLabelValues("missing_api_key").Inc()
			return status.Error(codes.Unauthenticated, "missing api key credentials")
		}

		_, ok, err := auth.Verify(ctx, clientID, apiKey)
		if err != nil {
			logger.Error().Err(err).Msg("access map lookup failed")
			return status.Error(codes.Unavailable, "access map unavailable")
		}
		if !ok {
			metrics.StreamAuthFailuresTotal.WithLabelValues("invalid_api_key").Inc()
			return status.Error(codes.Unauthenticated, "invalid api key")
		}

		return handler(srv, &wrappedStream{ServerStream: ss, ctx: context.WithValue(ctx, callerKey, clientID)})
	}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
