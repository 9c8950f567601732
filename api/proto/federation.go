// Package proto holds the wire types of the Federation streaming service.
//
// The messages are maintained by hand against federation.proto so the
// module builds without a protoc step; field numbers and wire shapes must
// stay in sync with the .proto file. The structs carry standard protobuf
// struct tags and satisfy the legacy proto.Message interface, which the
// gRPC proto codec handles through its compatibility bridge.
package proto

import (
	"github.com/gogo/protobuf/proto"
)

// TopicRequest asks for a topic stream resuming at the given offset
type TopicRequest struct {
	Topic  string `protobuf:"bytes,1,opt,name=topic,proto3" json:"topic,omitempty"`
	Offset int64  `protobuf:"varint,2,opt,name=offset,proto3" json:"offset,omitempty"`
}

func (m *TopicRequest) Reset()         { *m = TopicRequest{} }
func (m *TopicRequest) String() string { return proto.CompactTextString(m) }
func (*TopicRequest) ProtoMessage()    {}

func (m *TopicRequest) GetTopic() string {
	if m != nil {
		return m.Topic
	}
	return ""
}

func (m *TopicRequest) GetOffset() int64 {
	if m != nil {
		return m.Offset
	}
	return 0
}

// KafkaHeader is one record header
type KafkaHeader struct {
	Key   string `protobuf:"bytes,1,opt,name=key,proto3" json:"key,omitempty"`
	Value []byte `protobuf:"bytes,2,opt,name=value,proto3" json:"value,omitempty"`
}

func (m *KafkaHeader) Reset()         { *m = KafkaHeader{} }
func (m *KafkaHeader) String() string { return proto.CompactTextString(m) }
func (*KafkaHeader) ProtoMessage()    {}

func (m *KafkaHeader) GetKey() string {
	if m != nil {
		return m.Key
	}
	return ""
}

func (m *KafkaHeader) GetValue() []byte {
	if m != nil {
		return m.Value
	}
	return nil
}

// KafkaByteBatch is one streamed topic record
type KafkaByteBatch struct {
	Topic   string         `protobuf:"bytes,1,opt,name=topic,proto3" json:"topic,omitempty"`
	Offset  int64          `protobuf:"varint,2,opt,name=offset,proto3" json:"offset,omitempty"`
	Key     []byte         `protobuf:"bytes,3,opt,name=key,proto3" json:"key,omitempty"`
	Value   []byte         `protobuf:"bytes,4,opt,name=value,proto3" json:"value,omitempty"`
	Headers []*KafkaHeader `protobuf:"bytes,5,rep,name=headers,proto3" json:"headers,omitempty"`
	Shared  []*KafkaHeader `protobuf:"bytes,6,rep,name=shared,proto3" json:"shared,omitempty"`
}

func (m *KafkaByteBatch) Reset()         { *m = KafkaByteBatch{} }
func (m *KafkaByteBatch) String() string { return proto.CompactTextString(m) }
func (*KafkaByteBatch) ProtoMessage()    {}

func (m *KafkaByteBatch) GetTopic() string {
	if m != nil {
		return m.Topic
	}
	return ""
}

func (m *KafkaByteBatch) GetOffset() int64 {
	if m != nil {
		return m.Offset
	}
	return 0
}

func (m *KafkaByteBatch) GetKey() []byte {
	if m != nil {
		return m.Key
	}
	return nil
}

func (m *KafkaByteBatch) GetValue() []byte {
	if m != nil {
		return m.Value
	}
	return nil
}

func (m *KafkaByteBatch) GetHeaders() []*KafkaHeader {
	if m != nil {
		return m.Headers
	}
	return nil
}

func (m *KafkaByteBatch) GetShared() []*KafkaHeader {
	if m != nil {
		return m.Shared
	}
	return nil
}

// FileStreamRequest asks for file chunks after the given sequence id
type FileStreamRequest struct {
	StartSequenceId int64 `protobuf:"varint,1,opt,name=start_sequence_id,json=startSequenceId,proto3" json:"start_sequence_id,omitempty"`
}

func (m *FileStreamRequest) Reset()         { *m = FileStreamRequest{} }
func (m *FileStreamRequest) String() string { return proto.CompactTextString(m) }
func (*FileStreamRequest) ProtoMessage()    {}

func (m *FileStreamRequest) GetStartSequenceId() int64 {
	if m != nil {
		return m.StartSequenceId
	}
	return 0
}

// FileChunk is one streamed slice of a file. The final chunk of a file
// carries IsLastChunk and the file's SHA-256 checksum.
type FileChunk struct {
	ChunkIndex     int32  `protobuf:"varint,1,opt,name=chunk_index,json=chunkIndex,proto3" json:"chunk_index,omitempty"`
	TotalChunks    int32  `protobuf:"varint,2,opt,name=total_chunks,json=totalChunks,proto3" json:"total_chunks,omitempty"`
	ChunkData      []byte `protobuf:"bytes,3,opt,name=chunk_data,json=chunkData,proto3" json:"chunk_data,omitempty"`
	FileSize       int64  `protobuf:"varint,4,opt,name=file_size,json=fileSize,proto3" json:"file_size,omitempty"`
	FileName       string `protobuf:"bytes,5,opt,name=file_name,json=fileName,proto3" json:"file_name,omitempty"`
	FileSequenceId int64  `protobuf:"varint,6,opt,name=file_sequence_id,json=fileSequenceId,proto3" json:"file_sequence_id,omitempty"`
	IsLastChunk    bool   `protobuf:"varint,7,opt,name=is_last_chunk,json=isLastChunk,proto3" json:"is_last_chunk,omitempty"`
	FileChecksum   string `protobuf:"bytes,8,opt,name=file_checksum,json=fileChecksum,proto3" json:"file_checksum,omitempty"`
}

func (m *FileChunk) Reset()         { *m = FileChunk{} }
func (m *FileChunk) String() string { return proto.CompactTextString(m) }
func (*FileChunk) ProtoMessage()    {}

func (m *FileChunk) GetChunkIndex() int32 {
	if m != nil {
		return m.ChunkIndex
	}
	return 0
}

func (m *FileChunk) GetTotalChunks() int32 {
	if m != nil {
		return m.TotalChunks
	}
	return 0
}

func (m *FileChunk) GetChunkData() []byte {
	if m != nil {
		return m.ChunkData
	}
	return nil
}

func (m *FileChunk) GetFileSize() int64 {
	if m != nil {
		return m.FileSize
	}
	return 0
}

func (m *FileChunk) GetFileName() string {
	if m != nil {
		return m.FileName
	}
	return ""
}

func (m *FileChunk) GetFileSequenceId() int64 {
	if m != nil {
		return m.FileSequenceId
	}
	return 0
}

func (m *FileChunk) GetIsLastChunk() bool {
	if m != nil {
		return m.IsLastChunk
	}
	return false
}

func (m *FileChunk) GetFileChecksum() string {
	if m != nil {
		return m.FileChecksum
	}
	return ""
}

func init() {
	proto.RegisterType((*TopicRequest)(nil), "proto.TopicRequest")
	proto.RegisterType((*KafkaHeader)(nil), "proto.KafkaHeader")
	proto.RegisterType((*KafkaByteBatch)(nil), "proto.KafkaByteBatch")
	proto.RegisterType((*FileStreamRequest)(nil), "proto.FileStreamRequest")
	proto.RegisterType((*FileChunk)(nil), "proto.FileChunk")
}
