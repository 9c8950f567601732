package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/grpc/metadata"

	pb "github.com/dataferry/ferry/api/proto"
	"github.com/dataferry/ferry/pkg/client"
	"github.com/dataferry/ferry/pkg/errdefs"
	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/offsets"
	"github.com/dataferry/ferry/pkg/token"
	"github.com/dataferry/ferry/pkg/types"
)

// FileExchangeJob pulls files from a remote producer as chunk streams.
// A tick resumes from the last committed file sequence id, assembles
// each file to the destination directory and commits the sequence id
// only after the checksum has verified.
type FileExchangeJob struct {
	store   offsets.Store
	tokens  token.Service
	factory client.Factory
}

func NewFileExchangeJob(store offsets.Store, tokens token.Service, factory client.Factory) *FileExchangeJob {
	return &FileExchangeJob{store: store, tokens: tokens, factory: factory}
}

func (j *FileExchangeJob) Name() string { return "file-exchange" }

func (j *FileExchangeJob) Run(ctx context.Context, params types.JobParams) error {
	logger := log.WithJob(params.JobID)

	if err := ValidateDestination(params.DestinationPath); err != nil {
		return err
	}

	bearer, err := j.tokens.FetchToken(ctx, params.NodeID())
	if err != nil {
		return err
	}

	conn, err := j.factory.Dial(params.Target)
	if err != nil {
		return errdefs.Retryable(err)
	}
	defer closeBounded(conn, logger)

	// The sequence id is committed per (client, server, destination)
	seqTopic := sequenceTopic(params.DestinationPath)
	lastSeq, err := j.store.GetOffset(ctx, params.Target.Prefix(), seqTopic)
	if err != nil {
		return errdefs.Retryable(err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	streamCtx = metadata.AppendToOutgoingContext(streamCtx, "authorization", "Bearer "+bearer)

	stream, err := conn.Federation.FileConsumer(streamCtx, &pb.FileStreamRequest{StartSequenceId: lastSeq})
	if err != nil {
		return errdefs.ClassifyStream(seqTopic, err)
	}

	logger.Info().
		Int64("start_sequence_id", lastSeq).
		Str("destination", params.DestinationPath).
		Msg("file stream opened")

	var asm *fileAssembly
	defer func() {
		if asm != nil {
			asm.discard()
		}
	}()

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || streamCtx.Err() != nil {
				if asm != nil {
					// Stream ended mid-file; next tick re-requests it
					return errdefs.Retryable(fmt.Errorf("stream closed mid-file %q", asm.name))
				}
				return nil
			}
			return errdefs.ClassifyStream(seqTopic, err)
		}

		if asm == nil {
			asm, err = newFileAssembly(params.DestinationPath, chunk.FileName)
			if err != nil {
				return errdefs.Retryable(err)
			}
		}

		if err := asm.write(chunk); err != nil {
			asm.discard()
			asm = nil
			return err
		}

		if !chunk.IsLastChunk {
			continue
		}

		if err := asm.finish(chunk.FileChecksum); err != nil {
			asm.discard()
			asm = nil
			return err
		}
		logger.Info().
			Str("file", asm.name).
			Int64("sequence_id", chunk.FileSequenceId).
			Msg("file received")
		asm = nil

		if err := j.store.SetOffset(ctx, params.Target.Prefix(), seqTopic, chunk.FileSequenceId); err != nil {
			return errdefs.Retryable(err)
		}
	}
}

// ValidateDestination rejects empty or traversal-carrying destination
// paths. Failing validation is a fatal configuration error.
func ValidateDestination(path string) error {
	if path == "" {
		return errdefs.Configuration("file job has empty destination path", nil)
	}
	if filepath.Clean(path) != path || strings.Contains(path, "..") {
		return errdefs.Configuration(fmt.Sprintf("destination path %q is not clean", path), nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return errdefs.Configuration(fmt.Sprintf("destination path %q is not accessible", path), err)
	}
	if !info.IsDir() {
		return errdefs.Configuration(fmt.Sprintf("destination path %q is not a directory", path), nil)
	}
	return nil
}

// sequenceTopic derives the offset-store topic under which the file
// sequence id is committed.
func sequenceTopic(destination string) string {
	return "file:" + filepath.Clean(destination)
}

// fileAssembly accumulates one file's chunks into a temp file next to
// its final destination, hashing as it goes.
type fileAssembly struct {
	name  string
	final string
	tmp   *os.File
	sum   hash.Hash
	next  int32
}

func newFileAssembly(dir, fileName string) (*fileAssembly, error) {
	base := filepath.Base(fileName)
	if base == "." || base == string(filepath.Separator) {
		return nil, errdefs.Retryable(fmt.Errorf("stream carries invalid file name %q", fileName))
	}

	tmp, err := os.CreateTemp(dir, "."+base+".partial-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	return &fileAssembly{
		name:  base,
		final: filepath.Join(dir, base),
		tmp:   tmp,
		sum:   sha256.New(),
	}, nil
}

func (a *fileAssembly) write(chunk *pb.FileChunk) error {
	if chunk.ChunkIndex != a.next {
		return errdefs.Retryable(fmt.Errorf("chunk index gap in %q: want %d, got %d", a.name, a.next, chunk.ChunkIndex))
	}
	a.next++

	if _, err := a.tmp.Write(chunk.ChunkData); err != nil {
		return errdefs.Retryable(fmt.Errorf("failed to write chunk of %q: %w", a.name, err))
	}
	a.sum.Write(chunk.ChunkData)
	return nil
}

// finish verifies the end-of-stream checksum and moves the file into
// place. A mismatch discards the file; the next tick re-requests it
// from the last committed sequence id.
func (a *fileAssembly) finish(checksum string) error {
	got := hex.EncodeToString(a.sum.Sum(nil))
	if !strings.EqualFold(got, checksum) {
		return errdefs.Retryable(fmt.Errorf("checksum mismatch for %q: want %s, got %s", a.name, checksum, got))
	}

	if err := a.tmp.Close(); err != nil {
		return errdefs.Retryable(fmt.Errorf("failed to close %q: %w", a.name, err))
	}
	if err := os.Rename(a.tmp.Name(), a.final); err != nil {
		return errdefs.Retryable(fmt.Errorf("failed to move %q into place: %w", a.name, err))
	}
	a.tmp = nil
	return nil
}

func (a *fileAssembly) discard() {
	if a.tmp == nil {
		return
	}
	name := a.tmp.Name()
	_ = a.tmp.Close()
	_ = os.Remove(name)
	a.tmp = nil
}
