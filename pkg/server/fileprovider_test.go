package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pb "github.com/dataferry/ferry/api/proto"
	"github.com/dataferry/ferry/pkg/errdefs"
)

func writeSourceFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
}

func collectChunks(t *testing.T, p *DirProvider, start int64) []*pb.FileChunk {
	t.Helper()

	var chunks []*pb.FileChunk
	err := p.Stream(context.Background(), start, func(c *pb.FileChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	return chunks
}

func TestDirProviderStreamsInNameOrder(t *testing.T) {
	dir := t.TempDir()
	writeSourceFile(t, dir, "b.csv", []byte("second"))
	writeSourceFile(t, dir, "a.csv", []byte("first"))

	p, err := NewDirProvider(dir, 0)
	require.NoError(t, err)

	chunks := collectChunks(t, p, 0)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a.csv", chunks[0].FileName)
	assert.Equal(t, int64(1), chunks[0].FileSequenceId)
	assert.Equal(t, "b.csv", chunks[1].FileName)
	assert.Equal(t, int64(2), chunks[1].FileSequenceId)
}

func TestDirProviderSkipsUpToStartSequence(t *testing.T) {
	dir := t.TempDir()
	writeSourceFile(t, dir, "a.csv", []byte("first"))
	writeSourceFile(t, dir, "b.csv", []byte("second"))

	p, err := NewDirProvider(dir, 0)
	require.NoError(t, err)

	chunks := collectChunks(t, p, 1)
	require.Len(t, chunks, 1)
	assert.Equal(t, "b.csv", chunks[0].FileName)
}

func TestDirProviderChunksLargeFiles(t *testing.T) {
	dir := t.TempDir()
	payload := make([]byte, 25)
	for i := range payload {
		payload[i] = byte(i)
	}
	writeSourceFile(t, dir, "big.bin", payload)

	p, err := NewDirProvider(dir, 10)
	require.NoError(t, err)

	chunks := collectChunks(t, p, 0)
	require.Len(t, chunks, 3)

	var assembled []byte
	for i, c := range chunks {
		assert.Equal(t, int32(i), c.ChunkIndex)
		assert.Equal(t, int32(3), c.TotalChunks)
		assert.Equal(t, int64(len(payload)), c.FileSize)
		assembled = append(assembled, c.ChunkData...)
	}
	assert.Equal(t, payload, assembled)

	last := chunks[2]
	assert.True(t, last.IsLastChunk)
	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), last.FileChecksum)
	assert.False(t, chunks[0].IsLastChunk)
	assert.Empty(t, chunks[0].FileChecksum)
}

func TestDirProviderValidatePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := NewDirProvider("", 0)
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))

	_, err = NewDirProvider(filepath.Join(dir, "missing"), 0)
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))

	_, err = NewDirProvider(file, 0)
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))

	_, err = NewDirProvider(dir+"/../x", 0)
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))
}
