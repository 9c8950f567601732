package server

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/dataferry/ferry/api/proto"
	"github.com/dataferry/ferry/pkg/errdefs"
	"github.com/dataferry/ferry/pkg/eventlog"
	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/metrics"
)

// replayBatch is the page size for catching a consumer up from the log
const replayBatch = 256

// Federation serves the streaming federation RPCs. Topic records come
// from the local event log; file payloads come from a directory
// provider when one is configured.
type Federation struct {
	pb.UnimplementedFederationServer

	records *eventlog.Log
	configs ProducerConfigSource
	files   *DirProvider
}

func NewFederation(records *eventlog.Log, configs ProducerConfigSource, files *DirProvider) *Federation {
	return &Federation{records: records, configs: configs, files: files}
}

// KafkaConsumer replays the requested topic from the given offset, then
// follows live appends until the consumer disconnects. Every record
// passes the caller's attribute filter before being sent.
func (s *Federation) KafkaConsumer(req *pb.TopicRequest, stream pb.Federation_KafkaConsumerServer) error {
	ctx := stream.Context()
	caller := CallerID(ctx)
	logger := log.WithTopic(req.Topic)

	cfg, err := s.configs.GetConfiguration(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load producer configuration")
		return status.Error(codes.Unavailable, "producer configuration unavailable")
	}

	filter, permitted := BuildAttributeFilter(cfg, req.Topic, caller)
	if !permitted {
		return errdefs.ToGRPC(fmt.Errorf("%w: %q is not readable by %q", errdefs.ErrInvalidTopic, req.Topic, caller))
	}

	logger.Info().
		Str("caller", caller).
		Int64("offset", req.Offset).
		Int("filter_attributes", len(filter)).
		Msg("serving topic stream")

	// Subscribe before the replay so appends racing the catch-up are
	// not lost; duplicates below next are dropped in the follow loop.
	live, cancel := s.records.Subscribe(req.Topic)
	defer cancel()

	next, err := s.catchUp(stream, req.Topic, req.Offset, filter)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Str("caller", caller).Msg("consumer disconnected")
			return nil
		case rec, ok := <-live:
			if !ok {
				return nil
			}
			if rec.Offset > next {
				// The broker drops records for slow subscribers, so a
				// gap means appends were missed while we were sending.
				// They are durable in the log; re-read from there.
				next, err = s.catchUp(stream, req.Topic, next, filter)
				if err != nil {
					return err
				}
			}
			if rec.Offset < next {
				continue
			}
			if err := s.sendRecord(stream, req.Topic, rec, filter); err != nil {
				return err
			}
			next = rec.Offset + 1
		}
	}
}

// catchUp pages the log from offset from and sends every record through
// the filter, returning the offset the caller should expect next.
func (s *Federation) catchUp(stream pb.Federation_KafkaConsumerServer, topic string, from int64, filter Filter) (int64, error) {
	next := from
	for {
		recs, err := s.records.Read(topic, next, replayBatch)
		if err != nil {
			return next, status.Error(codes.Internal, "failed to read topic log")
		}
		if len(recs) == 0 {
			return next, nil
		}
		for i := range recs {
			if err := s.sendRecord(stream, topic, recs[i], filter); err != nil {
				return next, err
			}
			next = recs[i].Offset + 1
		}
	}
}

func (s *Federation) sendRecord(stream pb.Federation_KafkaConsumerServer, topic string, rec eventlog.StoredRecord, filter Filter) error {
	if !filter.Matches(rec.Headers) {
		metrics.RecordsFilteredTotal.WithLabelValues(topic).Inc()
		return nil
	}

	batch := &pb.KafkaByteBatch{
		Topic:   topic,
		Offset:  rec.Offset,
		Key:     rec.Key,
		Value:   rec.Value,
		Headers: toWireHeaders(rec.Headers),
		Shared:  toWireHeaders(rec.Shared),
	}
	if err := stream.Send(batch); err != nil {
		return err
	}
	metrics.RecordsServedTotal.WithLabelValues(topic).Inc()
	return nil
}

// FileConsumer streams the configured directory's files from the
// caller's last committed sequence id.
func (s *Federation) FileConsumer(req *pb.FileStreamRequest, stream pb.Federation_FileConsumerServer) error {
	if s.files == nil {
		return status.Error(codes.FailedPrecondition, "file exchange is not configured")
	}
	return errdefs.ToGRPC(s.files.Stream(stream.Context(), req.StartSequenceId, stream.Send))
}

func toWireHeaders(in []eventlog.Header) []*pb.KafkaHeader {
	if len(in) == 0 {
		return nil
	}
	out := make([]*pb.KafkaHeader, 0, len(in))
	for i := range in {
		out = append(out, &pb.KafkaHeader{Key: in[i].Key, Value: in[i].Value})
	}
	return out
}
