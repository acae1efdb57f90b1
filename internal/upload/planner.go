package upload

import (
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
)

const (
	DefaultChunkSize = int64(4 * 1024 * 1024)
	minChunkSize     = int64(256 * 1024)
	maxChunks        = 10000
)

var (
	ErrEmptyFile = errors.New("upload: zero-byte files are not uploaded as chunked sessions")
)

// ChunkPlanner turns a FileSource into an initial session record.
type ChunkPlanner struct {
	chunkSize int64
}

// NewChunkPlanner creates a planner with the given chunk size. Sizes below the
// minimum are clamped; zero means DefaultChunkSize.
func NewChunkPlanner(chunkSize int64) *ChunkPlanner {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < minChunkSize {
		chunkSize = minChunkSize
	}
	return &ChunkPlanner{chunkSize: chunkSize}
}

// Plan computes the chunk layout for src and produces a new session in
// `initialized` state with a client-generated id. The server may later echo an
// authoritative id; client and server agree on one canonical id before the
// first chunk is sent.
func (p *ChunkPlanner) Plan(src FileSource, basePath string) (*Session, error) {
	size := src.Size()
	if size == 0 {
		return nil, ErrEmptyFile
	}
	if size < 0 {
		return nil, fmt.Errorf("invalid source size %d", size)
	}

	chunkSize, totalChunks := p.selectChunkSize(size)

	now := time.Now().UTC()
	session := &Session{
		ID:           uuid.NewString(),
		FileName:     fileName(src.RelPath()),
		RelPath:      src.RelPath(),
		BasePath:     basePath,
		TotalSize:    size,
		ChunkSize:    chunkSize,
		TotalChunks:  totalChunks,
		Uploaded:     mapset.NewSet[int](),
		Status:       StatusInitialized,
		CreatedAt:    now,
		LastActivity: now,
	}

	if pather, ok := src.(interface{ Path() string }); ok {
		session.SourcePath = pather.Path()
	}

	return session, nil
}

// selectChunkSize grows the chunk size until the chunk count is manageable.
func (p *ChunkPlanner) selectChunkSize(size int64) (int64, int) {
	chunkSize := p.chunkSize
	count := divideAndCeil(size, chunkSize)
	for count > maxChunks {
		chunkSize *= 2
		count = divideAndCeil(size, chunkSize)
	}
	return chunkSize, int(count)
}

func divideAndCeil(numerator, denominator int64) int64 {
	if denominator == 0 {
		return 0
	}
	quotient := numerator / denominator
	if numerator%denominator != 0 {
		quotient++
	}
	return quotient
}

func fileName(relPath string) string {
	for i := len(relPath) - 1; i >= 0; i-- {
		if relPath[i] == '/' {
			return relPath[i+1:]
		}
	}
	return relPath
}
