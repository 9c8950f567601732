package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pb "github.com/dataferry/ferry/api/proto"
	"github.com/dataferry/ferry/pkg/errdefs"
	"github.com/dataferry/ferry/pkg/log"
)

// DefaultChunkSize is the chunk payload size for streamed files
const DefaultChunkSize = 1 << 20

// DirProvider serves the files of one directory as chunk streams.
// Files are ordered by name; a file's sequence id is its 1-based
// position in that order, so ids are stable while the directory only
// grows.
type DirProvider struct {
	root      string
	chunkSize int
}

func NewDirProvider(root string, chunkSize int) (*DirProvider, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	p := &DirProvider{root: root, chunkSize: chunkSize}
	if err := p.ValidatePath(root); err != nil {
		return nil, err
	}
	return p, nil
}

// ValidatePath accepts clean, existing directory paths only
func (p *DirProvider) ValidatePath(path string) error {
	if path == "" {
		return errdefs.Configuration("file source path is empty", nil)
	}
	if filepath.Clean(path) != path || strings.Contains(path, "..") {
		return errdefs.Configuration(fmt.Sprintf("file source path %q is not clean", path), nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return errdefs.Configuration(fmt.Sprintf("file source path %q is not accessible", path), err)
	}
	if !info.IsDir() {
		return errdefs.Configuration(fmt.Sprintf("file source path %q is not a directory", path), nil)
	}
	return nil
}

// Stream sends every file with a sequence id greater than
// startSequenceID, in order, chunked with a trailing checksum.
func (p *DirProvider) Stream(ctx context.Context, startSequenceID int64, send func(*pb.FileChunk) error) error {
	names, err := p.list()
	if err != nil {
		return err
	}

	for i, name := range names {
		seq := int64(i + 1)
		if seq <= startSequenceID {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := p.streamFile(name, seq, send); err != nil {
			return err
		}
	}
	return nil
}

func (p *DirProvider) list() ([]string, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read file source %s: %w", p.root, err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (p *DirProvider) streamFile(name string, seq int64, send func(*pb.FileChunk) error) error {
	data, err := os.ReadFile(filepath.Join(p.root, name))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	total := int32((len(data) + p.chunkSize - 1) / p.chunkSize)
	if total == 0 {
		total = 1
	}

	logger := log.WithComponent("server")
	logger.Debug().
		Str("file", name).
		Int64("sequence_id", seq).
		Int32("chunks", total).
		Msg("streaming file")

	for index := int32(0); index < total; index++ {
		lo := int(index) * p.chunkSize
		hi := lo + p.chunkSize
		if hi > len(data) {
			hi = len(data)
		}

		chunk := &pb.FileChunk{
			ChunkIndex:     index,
			TotalChunks:    total,
			ChunkData:      data[lo:hi],
			FileSize:       int64(len(data)),
			FileName:       name,
			FileSequenceId: seq,
		}
		if index == total-1 {
			chunk.IsLastChunk = true
			chunk.FileChecksum = checksum
		}
		if err := send(chunk); err != nil {
			return err
		}
	}
	return nil
}
