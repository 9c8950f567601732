package server

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/metrics"
	"github.com/dataferry/ferry/pkg/token"
)

type ctxKey int

const (
	bearerKey ctxKey = iota
	callerKey
)

const bearerPrefix = "Bearer "

// BearerToken returns the verified bearer token placed in the context
// by the auth interceptor.
func BearerToken(ctx context.Context) string {
	tok, _ := ctx.Value(bearerKey).(string)
	return tok
}

// CallerID returns the caller's client id placed in the context by the
// consumer-verification interceptor.
func CallerID(ctx context.Context) string {
	id, _ := ctx.Value(callerKey).(string)
	return id
}

// wrappedStream overrides the stream context so interceptors can attach
// values for the handler.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

// AuthStreamInterceptor requires a valid bearer token on every incoming
// stream. The verified token is made available to later interceptors
// and the handler through the stream context.
func AuthStreamInterceptor(verifier token.Verifier) grpc.StreamServerInterceptor {
	logger := log.WithComponent("server")

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			metrics.StreamAuthFailuresTotal.WithLabelValues("missing_metadata").Inc()
			return status.Error(codes.Unauthenticated, "missing request metadata")
		}

		values := md.Get("authorization")
		if len(values) == 0 || !strings.HasPrefix(values[0], bearerPrefix) {
			metrics.StreamAuthFailuresTotal.WithLabelValues("missing_bearer").Inc()
			return status.Error(codes.Unauthenticated, "missing bearer token")
		}

		tok := strings.TrimPrefix(values[0], bearerPrefix)
		if err := verifier.VerifyToken(ctx, tok); err != nil {
			metrics.StreamAuthFailuresTotal.WithLabelValues("invalid_token").Inc()
			logger.Warn().Err(err).Str("method", info.FullMethod).Msg("rejected stream with invalid token")
			return status.Error(codes.Unauthenticated, "invalid bearer token")
		}

		return handler(srv, &wrappedStream{ServerStream: ss, ctx: context.WithValue(ctx, bearerKey, tok)})
	}
}
