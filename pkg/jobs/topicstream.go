package jobs

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/metadata"

	pb "github.com/dataferry/ferry/api/proto"
	"github.com/dataferry/ferry/pkg/client"
	"github.com/dataferry/ferry/pkg/errdefs"
	"github.com/dataferry/ferry/pkg/eventlog"
	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/metrics"
	"github.com/dataferry/ferry/pkg/offsets"
	"github.com/dataferry/ferry/pkg/token"
	"github.com/dataferry/ferry/pkg/types"
)

// closeWait bounds the transport teardown at the end of a tick
const closeWait = 5 * time.Second

// Sink receives forwarded records. *eventlog.Log satisfies it.
type Sink interface {
	Append(topic string, rec eventlog.Record) (int64, error)
}

// TopicStreamJob forwards one remote topic into the local event log. A
// tick resolves the committed offset, opens the server stream from
// there, appends every record to the sink and commits offset+1 after
// each successful append. One shared instance serves every registered
// topic; the per-topic state arrives in the job parameters.
type TopicStreamJob struct {
	store   offsets.Store
	tokens  token.Service
	factory client.Factory
	sink    Sink

	// prefix is prepended to the sink topic name when set
	prefix string
}

func NewTopicStreamJob(store offsets.Store, tokens token.Service, factory client.Factory, sink Sink, prefix string) *TopicStreamJob {
	return &TopicStreamJob{store: store, tokens: tokens, factory: factory, sink: sink, prefix: prefix}
}

func (j *TopicStreamJob) Name() string { return "topic-stream" }

func (j *TopicStreamJob) Run(ctx context.Context, params types.JobParams) error {
	logger := log.WithTopic(params.Topic)
	target := params.Target

	bearer, err := j.tokens.FetchToken(ctx, params.NodeID())
	if err != nil {
		return err
	}

	conn, err := j.factory.Dial(target)
	if err != nil {
		return errdefs.Retryable(err)
	}
	defer closeBounded(conn, logger)

	offset, err := j.store.GetOffset(ctx, target.Prefix(), params.Topic)
	if err != nil {
		return errdefs.Retryable(err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	streamCtx = metadata.AppendToOutgoingContext(streamCtx, "authorization", "Bearer "+bearer)

	stream, err := conn.Federation.KafkaConsumer(streamCtx, &pb.TopicRequest{Topic: params.Topic, Offset: offset})
	if err != nil {
		return errdefs.ClassifyStream(params.Topic, err)
	}

	sinkTopic := j.sinkTopic(target, params.Topic)
	logger.Info().
		Str("server", target.ServerName).
		Int64("offset", offset).
		Str("sink_topic", sinkTopic).
		Msg("topic stream opened")

	for {
		batch, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || streamCtx.Err() != nil {
				logger.Debug().Msg("topic stream closed")
				return nil
			}
			return errdefs.ClassifyStream(params.Topic, err)
		}

		rec := eventlog.Record{
			Key:     batch.Key,
			Value:   batch.Value,
			Headers: convertHeaders(batch.Headers),
			Shared:  convertHeaders(batch.Shared),
		}
		if _, err := j.sink.Append(sinkTopic, rec); err != nil {
			return errdefs.Retryable(err)
		}
		metrics.RecordsForwardedTotal.WithLabelValues(params.Topic).Inc()

		if err := j.store.SetOffset(ctx, target.Prefix(), params.Topic, batch.Offset+1); err != nil {
			return errdefs.Retryable(err)
		}
		metrics.OffsetCommitsTotal.Inc()
	}
}

// sinkTopic builds the compound local topic name
// "{prefix-}{serverName}-{topic}".
func (j *TopicStreamJob) sinkTopic(target types.ConnectionTarget, topic string) string {
	name := target.ServerName + "-" + topic
	if j.prefix != "" {
		name = j.prefix + "-" + name
	}
	return name
}

func convertHeaders(in []*pb.KafkaHeader) []eventlog.Header {
	if len(in) == 0 {
		return nil
	}
	out := make([]eventlog.Header, 0, len(in))
	for _, h := range in {
		if h == nil {
			continue
		}
		out = append(out, eventlog.Header{Key: h.Key, Value: h.Value})
	}
	return out
}

// closeBounded tears the connection down without letting a wedged
// transport block the tick past closeWait.
func closeBounded(conn *client.Conn, logger zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.Close()
	}()
	select {
	case <-done:
	case <-time.After(closeWait):
		logger.Warn().Msg("timed out closing transport")
	}
}
