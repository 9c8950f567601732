package jobs

import (
	"context"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	pb "github.com/dataferry/ferry/api/proto"
	"github.com/dataferry/ferry/pkg/client"
	"github.com/dataferry/ferry/pkg/eventlog"
	"github.com/dataferry/ferry/pkg/types"
)

// memStore is an in-memory offsets.Store for job tests
type memStore struct {
	mu      sync.Mutex
	offsets map[string]int64
	values  map[string]string

	setErr error
}

func newMemStore() *memStore {
	return &memStore{offsets: make(map[string]int64), values: make(map[string]string)}
}

func (s *memStore) GetOffset(ctx context.Context, clientKey, topic string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[clientKey+"/"+topic], nil
}

func (s *memStore) SetOffset(ctx context.Context, clientKey, topic string, offset int64) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[clientKey+"/"+topic] = offset
	return nil
}

func (s *memStore) GetValue(ctx context.Context, key string, decrypt bool) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memStore) SetValue(ctx context.Context, key, value string, ttl time.Duration, encrypt bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.offsets, key)
	delete(s.values, key)
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) offset(clientKey, topic string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[clientKey+"/"+topic]
}

// fakeTokens satisfies token.Service
type fakeTokens struct {
	token    string
	fetchErr error
	fetches  int
}

func (f *fakeTokens) FetchToken(ctx context.Context, managementNodeID string) (string, error) {
	f.fetches++
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	if f.token == "" {
		return "test-token", nil
	}
	return f.token, nil
}

func (f *fakeTokens) Invalidate(ctx context.Context, managementNodeID string) error { return nil }
func (f *fakeTokens) VerifyToken(ctx context.Context, token string) error           { return nil }
func (f *fakeTokens) ExtractClientID(token string) (string, error)                  { return "", nil }
func (f *fakeTokens) ExtractAudiences(token string) ([]string, error)               { return nil, nil }

// fakeFactory hands out a connection backed by a scripted federation
// client
type fakeFactory struct {
	federation pb.FederationClient
	dialErr    error
	dialled    []types.ConnectionTarget
}

func (f *fakeFactory) Dial(target types.ConnectionTarget) (*client.Conn, error) {
	f.dialled = append(f.dialled, target)
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	return &client.Conn{Federation: f.federation}, nil
}

// fakeClientStream supplies the grpc.ClientStream surface of the stream
// fakes
type fakeClientStream struct {
	ctx context.Context
}

func (f fakeClientStream) Header() (metadata.MD, error) { return nil, nil }
func (f fakeClientStream) Trailer() metadata.MD         { return nil }
func (f fakeClientStream) CloseSend() error             { return nil }
func (f fakeClientStream) Context() context.Context     { return f.ctx }
func (f fakeClientStream) SendMsg(m interface{}) error  { return nil }
func (f fakeClientStream) RecvMsg(m interface{}) error  { return io.EOF }

// fakeFederation scripts both streaming RPCs
type fakeFederation struct {
	batches  []*pb.KafkaByteBatch
	chunks   []*pb.FileChunk
	finalErr error
	openErr  error

	topicRequests []*pb.TopicRequest
	fileRequests  []*pb.FileStreamRequest
}

func (f *fakeFederation) KafkaConsumer(ctx context.Context, in *pb.TopicRequest, opts ...grpc.CallOption) (pb.Federation_KafkaConsumerClient, error) {
	f.topicRequests = append(f.topicRequests, in)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeTopicStream{fakeClientStream: fakeClientStream{ctx: ctx}, batches: f.batches, finalErr: f.finalErr}, nil
}

func (f *fakeFederation) FileConsumer(ctx context.Context, in *pb.FileStreamRequest, opts ...grpc.CallOption) (pb.Federation_FileConsumerClient, error) {
	f.fileRequests = append(f.fileRequests, in)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeFileStream{fakeClientStream: fakeClientStream{ctx: ctx}, chunks: f.chunks, finalErr: f.finalErr}, nil
}

type fakeTopicStream struct {
	fakeClientStream
	batches  []*pb.KafkaByteBatch
	finalErr error
}

func (s *fakeTopicStream) Recv() (*pb.KafkaByteBatch, error) {
	if len(s.batches) == 0 {
		if s.finalErr != nil {
			return nil, s.finalErr
		}
		return nil, io.EOF
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

type fakeFileStream struct {
	fakeClientStream
	chunks   []*pb.FileChunk
	finalErr error
}

func (s *fakeFileStream) Recv() (*pb.FileChunk, error) {
	if len(s.chunks) == 0 {
		if s.finalErr != nil {
			return nil, s.finalErr
		}
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

// fakeSink records appends
type fakeSink struct {
	mu        sync.Mutex
	appends   []sinkAppend
	appendErr error
}

type sinkAppend struct {
	topic  string
	record eventlog.Record
}

func (s *fakeSink) Append(topic string, rec eventlog.Record) (int64, error) {
	if s.appendErr != nil {
		return 0, s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends = append(s.appends, sinkAppend{topic: topic, record: rec})
	return int64(len(s.appends) - 1), nil
}

func testTarget() types.ConnectionTarget {
	return types.ConnectionTarget{
		ClientName: "cliA",
		ClientKey:  "cliA",
		ServerName: "srvX",
		ServerHost: "srv.example.com",
		ServerPort: 50051,
		TLS:        true,
	}
}

func topicParams(topic string) types.JobParams {
	return types.JobParams{
		JobID:            "srvX-" + topic,
		JobName:          topic,
		ManagementNodeID: "node-1",
		Topic:            topic,
		Target:           testTarget(),
	}
}
