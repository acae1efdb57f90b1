package upload

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Status is the lifecycle state of an upload session.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusQueued      Status = "queued"
	StatusUploading   Status = "uploading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether the status can never change again.
// `error` is not terminal, a user retry re-enters `queued`.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether the session still holds or may hold transfer work.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusUploading || s == StatusPaused
}

// Session is the durable record tracking one file's upload progress,
// keyed by its upload id. It is mutated only by the TransferScheduler;
// everything else works on clones.
type Session struct {
	ID           string
	FileName     string
	RelPath      string
	BasePath     string
	SourcePath   string // absolute local path, used to re-acquire the handle after a restart
	TotalSize    int64
	ChunkSize    int64
	TotalChunks  int
	Uploaded     mapset.Set[int]
	Status       Status
	RetryCount   int
	LastError    string
	CreatedAt    time.Time
	LastActivity time.Time
}

// UploadedCount returns the number of acknowledged chunks.
func (s *Session) UploadedCount() int {
	if s.Uploaded == nil {
		return 0
	}
	return s.Uploaded.Cardinality()
}

// IsComplete reports whether every chunk has been acknowledged.
func (s *Session) IsComplete() bool {
	return s.UploadedCount() == s.TotalChunks
}

// MissingChunks returns the unacknowledged chunk indices in ascending order.
func (s *Session) MissingChunks() []int {
	missing := make([]int, 0, s.TotalChunks-s.UploadedCount())
	for i := 0; i < s.TotalChunks; i++ {
		if s.Uploaded == nil || !s.Uploaded.Contains(i) {
			missing = append(missing, i)
		}
	}
	return missing
}

// ChunkLength returns the byte length of the chunk at index. The final
// chunk carries the remainder, always > 0 and <= ChunkSize.
func (s *Session) ChunkLength(index int) int64 {
	offset := int64(index) * s.ChunkSize
	if offset >= s.TotalSize {
		return 0
	}
	remaining := s.TotalSize - offset
	if remaining < s.ChunkSize {
		return remaining
	}
	return s.ChunkSize
}

// UploadedBytes returns the byte count covered by acknowledged chunks.
func (s *Session) UploadedBytes() int64 {
	if s.Uploaded == nil {
		return 0
	}
	var total int64
	for _, idx := range s.Uploaded.ToSlice() {
		total += s.ChunkLength(idx)
	}
	return total
}

// Clone returns a deep copy safe to hand out while the scheduler keeps mutating
// the original.
func (s *Session) Clone() *Session {
	cp := *s
	if s.Uploaded != nil {
		cp.Uploaded = mapset.NewSet(s.Uploaded.ToSlice()...)
	} else {
		cp.Uploaded = mapset.NewSet[int]()
	}
	return &cp
}
