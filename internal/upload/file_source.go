package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrSourceDetached = errors.New("upload: file source detached")
	ErrShortRead      = errors.New("upload: short chunk read")
)

// FileSource wraps one enumerated file plus its relative path. Sources are
// ephemeral; only reacquirable sources can survive a process restart.
type FileSource interface {
	// RelPath is the path relative to the scanned selection root, always
	// forward-slash separated.
	RelPath() string
	Size() int64
	// ReadChunk reads exactly length bytes at offset.
	ReadChunk(offset, length int64) ([]byte, error)
	// Reacquirable reports whether the source can be re-opened from a
	// persisted reference after a restart.
	Reacquirable() bool
}

// OSFileSource is a FileSource backed by a local filesystem path. It holds no
// open descriptor; each chunk read opens the file, which keeps concurrent
// chunk reads independent.
type OSFileSource struct {
	path    string
	relPath string
	size    int64
}

// NewOSFileSource stats path and wraps it as a FileSource.
func NewOSFileSource(path, relPath string) (*OSFileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source is a directory: %s", path)
	}
	return &OSFileSource{
		path:    path,
		relPath: relPath,
		size:    info.Size(),
	}, nil
}

// Path returns the absolute local path backing this source.
func (s *OSFileSource) Path() string {
	return s.path
}

func (s *OSFileSource) RelPath() string {
	return s.relPath
}

func (s *OSFileSource) Size() int64 {
	return s.size
}

func (s *OSFileSource) Reacquirable() bool {
	return true
}

func (s *OSFileSource) ReadChunk(offset, length int64) ([]byte, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer file.Close()

	data := make([]byte, length)
	n, err := file.ReadAt(data, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read chunk at %d: %w", offset, err)
	}
	if int64(n) != length {
		return nil, fmt.Errorf("%w: want %d got %d at offset %d", ErrShortRead, length, n, offset)
	}
	return data, nil
}

// detachedSource stands in for a restored session whose file handle could not
// be re-acquired. Any read fails with ErrSourceDetached.
type detachedSource struct {
	relPath string
	size    int64
}

func (s *detachedSource) RelPath() string { return s.relPath }
func (s *detachedSource) Size() int64     { return s.size }

func (s *detachedSource) Reacquirable() bool { return false }

func (s *detachedSource) ReadChunk(offset, length int64) ([]byte, error) {
	return nil, ErrSourceDetached
}
