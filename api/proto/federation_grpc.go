package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FederationClient is the client API for the Federation service
type FederationClient interface {
	KafkaConsumer(ctx context.Context, in *TopicRequest, opts ...grpc.CallOption) (Federation_KafkaConsumerClient, error)
	FileConsumer(ctx context.Context, in *FileStreamRequest, opts ...grpc.CallOption) (Federation_FileConsumerClient, error)
}

type federationClient struct {
	cc grpc.ClientConnInterface
}

// NewFederationClient creates a Federation client over an existing
// connection
func NewFederationClient(cc grpc.ClientConnInterface) FederationClient {
	return &federationClient{cc}
}

func (c *federationClient) KafkaConsumer(ctx context.Context, in *TopicRequest, opts ...grpc.CallOption) (Federation_KafkaConsumerClient, error) {
	stream, err := c.cc.NewStream(ctx, &Federation_ServiceDesc.Streams[0], "/proto.Federation/KafkaConsumer", opts...)
	if err != nil {
		return nil, err
	}
	x := &federationKafkaConsumerClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Federation_KafkaConsumerClient is the client view of a topic stream
type Federation_KafkaConsumerClient interface {
	Recv() (*KafkaByteBatch, error)
	grpc.ClientStream
}

type federationKafkaConsumerClient struct {
	grpc.ClientStream
}

func (x *federationKafkaConsumerClient) Recv() (*KafkaByteBatch, error) {
	m := new(KafkaByteBatch)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *federationClient) FileConsumer(ctx context.Context, in *FileStreamRequest, opts ...grpc.CallOption) (Federation_FileConsumerClient, error) {
	stream, err := c.cc.NewStream(ctx, &Federation_ServiceDesc.Streams[1], "/proto.Federation/FileConsumer", opts...)
	if err != nil {
		return nil, err
	}
	x := &federationFileConsumerClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Federation_FileConsumerClient is the client view of a file stream
type Federation_FileConsumerClient interface {
	Recv() (*FileChunk, error)
	grpc.ClientStream
}

type federationFileConsumerClient struct {
	grpc.ClientStream
}

func (x *federationFileConsumerClient) Recv() (*FileChunk, error) {
	m := new(FileChunk)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// FederationServer is the server API for the Federation service. All
// implementations must embed UnimplementedFederationServer.
type FederationServer interface {
	KafkaConsumer(*TopicRequest, Federation_KafkaConsumerServer) error
	FileConsumer(*FileStreamRequest, Federation_FileConsumerServer) error
	mustEmbedUnimplementedFederationServer()
}

// UnimplementedFederationServer must be embedded for forward
// compatibility
type UnimplementedFederationServer struct{}

func (UnimplementedFederationServer) KafkaConsumer(*TopicRequest, Federation_KafkaConsumerServer) error {
	return status.Errorf(codes.Unimplemented, "method KafkaConsumer not implemented")
}

func (UnimplementedFederationServer) FileConsumer(*FileStreamRequest, Federation_FileConsumerServer) error {
	return status.Errorf(codes.Unimplemented, "method FileConsumer not implemented")
}

func (UnimplementedFederationServer) mustEmbedUnimplementedFederationServer() {}

// RegisterFederationServer registers the service implementation with a
// gRPC server
func RegisterFederationServer(s grpc.ServiceRegistrar, srv FederationServer) {
	s.RegisterService(&Federation_ServiceDesc, srv)
}

func _Federation_KafkaConsumer_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(TopicRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(FederationServer).KafkaConsumer(m, &federationKafkaConsumerServer{stream})
}

// Federation_KafkaConsumerServer is the server view of a topic stream
type Federation_KafkaConsumerServer interface {
	Send(*KafkaByteBatch) error
	grpc.ServerStream
}

type federationKafkaConsumerServer struct {
	grpc.ServerStream
}

func (x *federationKafkaConsumerServer) Send(m *KafkaByteBatch) error {
	return x.ServerStream.SendMsg(m)
}

func _Federation_FileConsumer_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(FileStreamRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(FederationServer).FileConsumer(m, &federationFileConsumerServer{stream})
}

// Federation_FileConsumerServer is the server view of a file stream
type Federation_FileConsumerServer interface {
	Send(*FileChunk) error
	grpc.ServerStream
}

type federationFileConsumerServer struct {
	grpc.ServerStream
}

func (x *federationFileConsumerServer) Send(m *FileChunk) error {
	return x.ServerStream.SendMsg(m)
}

// Federation_ServiceDesc is the grpc.ServiceDesc for the Federation
// service
var Federation_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "proto.Federation",
	HandlerType: (*FederationServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "KafkaConsumer",
			Handler:       _Federation_KafkaConsumer_Handler,
			ServerStreams: true,
		},
		{
			StreamName:    "FileConsumer",
			Handler:       _Federation_FileConsumer_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "api/proto/federation.proto",
}
