package depot

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Upload is the server-side record of one chunked upload.
type Upload struct {
	ID          string
	FileName    string
	RelPath     string
	BasePath    string
	TotalSize   int64
	ChunkSize   int64
	TotalChunks int
	Acked       mapset.Set[int]
	Complete    bool
	CreatedAt   time.Time
}

// ChunkLength returns the expected byte length of chunk idx. The last chunk
// carries the remainder.
func (u *Upload) ChunkLength(idx int) int64 {
	if idx == u.TotalChunks-1 {
		return u.TotalSize - int64(u.TotalChunks-1)*u.ChunkSize
	}
	return u.ChunkSize
}

func (u *Upload) clone() *Upload {
	c := *u
	c.Acked = u.Acked.Clone()
	return &c
}

// CreateParams registers a new upload. ID is the client-proposed id; when it
// already names a live upload with identical parameters the existing record is
// returned instead of a fresh one, so create retries are idempotent.
type CreateParams struct {
	ID          string
	FileName    string
	RelPath     string
	BasePath    string
	TotalSize   int64
	ChunkSize   int64
	TotalChunks int
}

// ChunkAck confirms one stored chunk.
type ChunkAck struct {
	UploadID    string
	Index       int
	AckedChunks int
	Complete    bool
}
