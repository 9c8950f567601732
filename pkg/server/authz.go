package server

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/metrics"
	"github.com/dataferry/ferry/pkg/token"
	"github.com/dataferry/ferry/pkg/types"
)

// ProducerConfigSource yields the producer configuration.
// *mgmt.ProducerConfigService satisfies it.
type ProducerConfigSource interface {
	GetConfiguration(ctx context.Context) (*types.ProducerConfig, error)
}

// ConsumerVerificationInterceptor authorises the caller against the
// producer configuration. The caller's client id comes from the azp
// claim of the already-verified bearer token; the configured audience
// must be present in aud. Topic-level access checks the first
// producer's products only; that asymmetry with the attribute filter is
// deliberate and warned about when a later producer would have matched.
func ConsumerVerificationInterceptor(verifier token.Verifier, configs ProducerConfigSource, audience string) grpc.StreamServerInterceptor {
	logger := log.WithComponent("server")

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()

		tok := BearerToken(ctx)
		clientID, err := verifier.ExtractClientID(tok)
		if err != nil || clientID == "" {
			metrics.StreamAuthFailuresTotal.WithLabelValues("missing_azp").Inc()
			return status.Error(codes.Unauthenticated, "token carries no client id")
		}

		audiences, err := verifier.ExtractAudiences(tok)
		if err != nil || !containsFold(audiences, audience) {
			metrics.StreamAuthFailuresTotal.WithLabelValues("bad_audience").Inc()
			return status.Error(codes.Unauthenticated, "token audience does not match")
		}

		cfg, err := configs.GetConfiguration(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("failed to load producer configuration")
			return status.Error(codes.Unavailable, "producer configuration unavailable")
		}

		if !consumerPermitted(cfg, clientID, logger) {
			metrics.StreamAuthFailuresTotal.WithLabelValues("not_permitted").Inc()
			logger.Warn().Str("client_id", clientID).Str("method", info.FullMethod).Msg("caller not permitted")
			return status.Error(codes.PermissionDenied, "caller is not a permitted consumer")
		}

		return handler(srv, &wrappedStream{ServerStream: ss, ctx: context.WithValue(ctx, callerKey, clientID)})
	}
}

// consumerPermitted reports whether the caller appears as a consumer of
// any product of the first producer.
func consumerPermitted(cfg *types.ProducerConfig, clientID string, logger zerolog.Logger) bool {
	if cfg == nil || len(cfg.Producers) == 0 {
		return false
	}

	if producerPermits(&cfg.Producers[0], clientID) {
		return true
	}

	// Later producers never grant access; log when one would have
	for i := 1; i < len(cfg.Producers); i++ {
		if producerPermits(&cfg.Producers[i], clientID) {
			logger.Warn().
				Str("client_id", clientID).
				Str("producer", cfg.Producers[i].Name).
				Msg("caller matches a non-first producer, which does not grant access")
			break
		}
	}
	return false
}

func producerPermits(producer *types.ProducerDescriptor, clientID string) bool {
	for pi := range producer.Products {
		for ci := range producer.Products[pi].Consumers {
			if strings.EqualFold(producer.Products[pi].Consumers[ci].IdpClientID, clientID) {
				return true
			}
		}
	}
	return false
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
