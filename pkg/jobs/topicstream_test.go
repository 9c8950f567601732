package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/dataferry/ferry/api/proto"
	"github.com/dataferry/ferry/pkg/errdefs"
)

func TestTopicStreamResumesFromCommittedOffset(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SetOffset(context.Background(), "cliA-srvX", "t1", 42))

	fed := &fakeFederation{}
	job := NewTopicStreamJob(store, &fakeTokens{}, &fakeFactory{federation: fed}, &fakeSink{}, "")

	require.NoError(t, job.Run(context.Background(), topicParams("t1")))

	require.Len(t, fed.topicRequests, 1)
	assert.Equal(t, "t1", fed.topicRequests[0].Topic)
	assert.Equal(t, int64(42), fed.topicRequests[0].Offset)
}

func TestTopicStreamForwardsAndCommits(t *testing.T) {
	store := newMemStore()
	fed := &fakeFederation{
		batches: []*pb.KafkaByteBatch{
			{Topic: "t1", Offset: 0, Key: []byte("k0"), Value: []byte("v0"),
				Headers: []*pb.KafkaHeader{{Key: "tenant", Value: []byte("alpha")}}},
			{Topic: "t1", Offset: 1, Key: []byte("k1"), Value: []byte("v1")},
		},
	}
	sink := &fakeSink{}
	job := NewTopicStreamJob(store, &fakeTokens{}, &fakeFactory{federation: fed}, sink, "")

	require.NoError(t, job.Run(context.Background(), topicParams("t1")))

	require.Len(t, sink.appends, 2)
	assert.Equal(t, "srvX-t1", sink.appends[0].topic)
	assert.Equal(t, []byte("v0"), sink.appends[0].record.Value)
	require.Len(t, sink.appends[0].record.Headers, 1)
	assert.Equal(t, "tenant", sink.appends[0].record.Headers[0].Key)

	// Each forwarded record commits record offset + 1
	assert.Equal(t, int64(2), store.offset("cliA-srvX", "t1"))
}

func TestTopicStreamAppliesTopicPrefix(t *testing.T) {
	fed := &fakeFederation{batches: []*pb.KafkaByteBatch{{Topic: "t1", Offset: 0, Value: []byte("v")}}}
	sink := &fakeSink{}
	job := NewTopicStreamJob(newMemStore(), &fakeTokens{}, &fakeFactory{federation: fed}, sink, "edge")

	require.NoError(t, job.Run(context.Background(), topicParams("t1")))

	require.Len(t, sink.appends, 1)
	assert.Equal(t, "edge-srvX-t1", sink.appends[0].topic)
}

func TestTopicStreamStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"unavailable", status.Error(codes.Unavailable, "server restarting"), true},
		{"unauthenticated", status.Error(codes.Unauthenticated, "token expired"), true},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "throttled"), true},
		{"internal", status.Error(codes.Internal, "broken"), false},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad topic"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fed := &fakeFederation{finalErr: tt.err}
			job := NewTopicStreamJob(newMemStore(), &fakeTokens{}, &fakeFactory{federation: fed}, &fakeSink{}, "")

			err := job.Run(context.Background(), topicParams("t1"))
			require.Error(t, err)
			assert.Equal(t, tt.retryable, errdefs.IsRetryable(err))
		})
	}
}

func TestTopicStreamFatalErrorCarriesTopic(t *testing.T) {
	fed := &fakeFederation{finalErr: status.Error(codes.Internal, "broken")}
	job := NewTopicStreamJob(newMemStore(), &fakeTokens{}, &fakeFactory{federation: fed}, &fakeSink{}, "")

	err := job.Run(context.Background(), topicParams("t1"))
	require.Error(t, err)

	var tsErr *errdefs.TopicStreamError
	require.ErrorAs(t, err, &tsErr)
	assert.Equal(t, "t1", tsErr.Topic)
}

func TestTopicStreamSinkFailureIsRetryable(t *testing.T) {
	fed := &fakeFederation{batches: []*pb.KafkaByteBatch{{Topic: "t1", Offset: 0, Value: []byte("v")}}}
	store := newMemStore()
	sink := &fakeSink{appendErr: assert.AnError}
	job := NewTopicStreamJob(store, &fakeTokens{}, &fakeFactory{federation: fed}, sink, "")

	err := job.Run(context.Background(), topicParams("t1"))
	require.Error(t, err)
	assert.True(t, errdefs.IsRetryable(err))

	// No commit without a successful append
	assert.Equal(t, int64(0), store.offset("cliA-srvX", "t1"))
}

func TestTopicStreamTokenFailureSurfaces(t *testing.T) {
	tokens := &fakeTokens{fetchErr: errdefs.Auth("token mint failed", assert.AnError)}
	factory := &fakeFactory{federation: &fakeFederation{}}
	job := NewTopicStreamJob(newMemStore(), tokens, factory, &fakeSink{}, "")

	err := job.Run(context.Background(), topicParams("t1"))
	require.Error(t, err)
	assert.True(t, errdefs.IsAuth(err))
	assert.Empty(t, factory.dialled, "must not dial without a token")
}

func TestTopicStreamDialFailureIsRetryable(t *testing.T) {
	factory := &fakeFactory{dialErr: assert.AnError}
	job := NewTopicStreamJob(newMemStore(), &fakeTokens{}, factory, &fakeSink{}, "")

	err := job.Run(context.Background(), topicParams("t1"))
	require.Error(t, err)
	assert.True(t, errdefs.IsRetryable(err))
}
