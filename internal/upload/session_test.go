package upload

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
)

func newBareTestSession(totalSize, chunkSize int64) *Session {
	return &Session{
		ID:          "s1",
		FileName:    "file.bin",
		RelPath:     "dir/file.bin",
		TotalSize:   totalSize,
		ChunkSize:   chunkSize,
		TotalChunks: int(divideAndCeil(totalSize, chunkSize)),
		Uploaded:    mapset.NewSet[int](),
		Status:      StatusInitialized,
	}
}

func TestSession_ChunkMath(t *testing.T) {
	s := newBareTestSession(10*1024*1024, 1024*1024)
	assert.Equal(t, 10, s.TotalChunks)
	assert.Equal(t, int64(1024*1024), s.ChunkLength(0))
	assert.Equal(t, int64(1024*1024), s.ChunkLength(9))
	assert.Equal(t, int64(0), s.ChunkLength(10))
}

func TestSession_LastChunkRemainder(t *testing.T) {
	s := newBareTestSession(2500, 1000)
	assert.Equal(t, 3, s.TotalChunks)
	assert.Equal(t, int64(1000), s.ChunkLength(0))
	assert.Equal(t, int64(500), s.ChunkLength(2))
}

func TestSession_MissingChunks(t *testing.T) {
	s := newBareTestSession(5000, 1000)
	s.Uploaded.Add(0)
	s.Uploaded.Add(2)
	s.Uploaded.Add(4)

	assert.Equal(t, []int{1, 3}, s.MissingChunks())
	assert.False(t, s.IsComplete())

	s.Uploaded.Add(1)
	s.Uploaded.Add(3)
	assert.True(t, s.IsComplete())
	assert.Empty(t, s.MissingChunks())
}

func TestSession_UploadedBytes(t *testing.T) {
	s := newBareTestSession(2500, 1000)
	assert.Equal(t, int64(0), s.UploadedBytes())

	s.Uploaded.Add(0)
	s.Uploaded.Add(2) // last chunk is 500 bytes
	assert.Equal(t, int64(1500), s.UploadedBytes())
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := newBareTestSession(2000, 1000)
	s.Uploaded.Add(0)

	cp := s.Clone()
	cp.Uploaded.Add(1)
	cp.Status = StatusUploading

	assert.Equal(t, 1, s.UploadedCount())
	assert.Equal(t, StatusInitialized, s.Status)
	assert.Equal(t, 2, cp.UploadedCount())
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusError.Terminal())
	assert.False(t, StatusPaused.Terminal())

	assert.True(t, StatusQueued.Active())
	assert.True(t, StatusUploading.Active())
	assert.True(t, StatusPaused.Active())
	assert.False(t, StatusCompleted.Active())
	assert.False(t, StatusError.Active())
}
