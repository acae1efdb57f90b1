package depot

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openhaul/haulbox/internal/utils"
)

var (
	ErrUploadNotFound  = errors.New("depot: upload not found")
	ErrConflict        = errors.New("depot: upload id taken by a different upload")
	ErrIndexOutOfRange = errors.New("depot: chunk index out of range")
	ErrSizeMismatch    = errors.New("depot: chunk size mismatch")
	ErrAlreadyAcked    = errors.New("depot: chunk already stored")
	ErrInvalidPath     = errors.New("depot: invalid destination path")
	ErrInvalidParams   = errors.New("depot: invalid upload parameters")
)

const stagingDirName = ".staging"

// Service stores incoming chunks in a staging area and assembles the final
// file under root/basePath/relativePath once every chunk is acked. Records
// live in a sqlite index, so partial uploads survive a server restart and
// clients can resume against them.
type Service struct {
	root  string
	index *uploadIndex

	mu      sync.Mutex
	uploads map[string]*uploadState
}

type uploadState struct {
	mu     sync.Mutex
	upload *Upload
}

func NewService(root string, database *sqlx.DB) (*Service, error) {
	if err := utils.EnsureDir(filepath.Join(root, stagingDirName)); err != nil {
		return nil, fmt.Errorf("init depot root: %w", err)
	}

	index, err := newUploadIndex(database)
	if err != nil {
		return nil, err
	}

	existing, err := index.All()
	if err != nil {
		return nil, err
	}

	uploads := make(map[string]*uploadState, len(existing))
	for _, upload := range existing {
		uploads[upload.ID] = &uploadState{upload: upload}
	}
	if len(existing) > 0 {
		slog.Info("depot recovered uploads", "count", len(existing))
	}

	return &Service{
		root:    root,
		index:   index,
		uploads: uploads,
	}, nil
}

// Root returns the depot's base directory.
func (s *Service) Root() string {
	return s.root
}

// Create registers a new upload. A proposed id that names a live upload with
// identical parameters returns the existing record, so create retries after a
// lost response are idempotent. A matching id with different parameters is a
// conflict.
func (s *Service) Create(params *CreateParams) (*Upload, error) {
	// a leading slash means the depot root, not the server filesystem root
	params.BasePath = strings.TrimPrefix(params.BasePath, "/")
	if err := validateParams(params); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if params.ID != "" {
		if st, ok := s.uploads[params.ID]; ok {
			st.mu.Lock()
			defer st.mu.Unlock()
			if !sameUpload(st.upload, params) {
				return nil, fmt.Errorf("%w: %s", ErrConflict, params.ID)
			}
			return st.upload.clone(), nil
		}
	}

	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}

	upload := &Upload{
		ID:          id,
		FileName:    params.FileName,
		RelPath:     params.RelPath,
		BasePath:    params.BasePath,
		TotalSize:   params.TotalSize,
		ChunkSize:   params.ChunkSize,
		TotalChunks: params.TotalChunks,
		Acked:       mapset.NewSet[int](),
		CreatedAt:   time.Now().UTC(),
	}

	if err := utils.EnsureDir(s.stagingDir(id)); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	if err := s.index.Set(upload); err != nil {
		return nil, err
	}

	s.uploads[id] = &uploadState{upload: upload}
	slog.Info("depot", "op", "create", "id", id, "path", upload.RelPath, "chunks", upload.TotalChunks)
	return upload.clone(), nil
}

// PutChunk stores one chunk. The write is idempotent per index: a re-sent
// chunk returns ErrAlreadyAcked without touching storage. The final chunk ack
// triggers assembly.
func (s *Service) PutChunk(id string, index int, data []byte) (*ChunkAck, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	upload := st.upload

	if index < 0 || index >= upload.TotalChunks {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, upload.TotalChunks)
	}
	if upload.Complete || upload.Acked.Contains(index) {
		return nil, fmt.Errorf("%w: %d", ErrAlreadyAcked, index)
	}
	if want := upload.ChunkLength(index); int64(len(data)) != want {
		return nil, fmt.Errorf("%w: chunk %d want %d got %d", ErrSizeMismatch, index, want, len(data))
	}

	chunkPath := filepath.Join(s.stagingDir(id), fmt.Sprintf("%d.chunk", index))
	if err := os.WriteFile(chunkPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write chunk %d: %w", index, err)
	}

	upload.Acked.Add(index)

	if upload.Acked.Cardinality() == upload.TotalChunks {
		if err := s.assemble(upload); err != nil {
			// keep the chunk so the client can observe the failure and the
			// assembly can be retried on the next create
			upload.Acked.Remove(index)
			return nil, err
		}
		upload.Complete = true
	}

	if err := s.index.Set(upload); err != nil {
		return nil, err
	}

	return &ChunkAck{
		UploadID:    id,
		Index:       index,
		AckedChunks: upload.Acked.Cardinality(),
		Complete:    upload.Complete,
	}, nil
}

// Get returns a snapshot of one upload.
func (s *Service) Get(id string) (*Upload, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.upload.clone(), nil
}

// Delete discards an upload's staged chunks and its record. Assembled files
// are kept.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	st, ok := s.uploads[id]
	if ok {
		delete(s.uploads, id)
	}
	s.mu.Unlock()

	if !ok {
		return ErrUploadNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := os.RemoveAll(s.stagingDir(id)); err != nil {
		slog.Warn("depot staging cleanup", "id", id, "error", err)
	}
	if err := s.index.Remove(id); err != nil {
		return err
	}

	slog.Info("depot", "op", "delete", "id", id)
	return nil
}

func (s *Service) state(id string) (*uploadState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.uploads[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUploadNotFound, id)
	}
	return st, nil
}

func (s *Service) stagingDir(id string) string {
	return filepath.Join(s.root, stagingDirName, id)
}

// assemble stitches the staged chunks into the final file. It writes to a
// .part file and renames, so readers never see a half-written object.
func (s *Service) assemble(upload *Upload) error {
	finalPath := filepath.Join(s.root, filepath.FromSlash(upload.BasePath), filepath.FromSlash(upload.RelPath))
	if err := utils.EnsureParent(finalPath); err != nil {
		return fmt.Errorf("assemble %s: %w", upload.ID, err)
	}

	partPath := finalPath + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("assemble %s: %w", upload.ID, err)
	}

	var written int64
	for idx := 0; idx < upload.TotalChunks; idx++ {
		n, err := appendChunk(out, filepath.Join(s.stagingDir(upload.ID), fmt.Sprintf("%d.chunk", idx)))
		if err != nil {
			out.Close()
			os.Remove(partPath)
			return fmt.Errorf("assemble %s chunk %d: %w", upload.ID, idx, err)
		}
		written += n
	}

	if err := out.Close(); err != nil {
		os.Remove(partPath)
		return fmt.Errorf("assemble %s: %w", upload.ID, err)
	}
	if written != upload.TotalSize {
		os.Remove(partPath)
		return fmt.Errorf("assemble %s: size mismatch, want %d got %d", upload.ID, upload.TotalSize, written)
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		os.Remove(partPath)
		return fmt.Errorf("assemble %s: %w", upload.ID, err)
	}

	if err := os.RemoveAll(s.stagingDir(upload.ID)); err != nil {
		slog.Warn("depot staging cleanup", "id", upload.ID, "error", err)
	}

	slog.Info("depot", "op", "assembled", "id", upload.ID, "path", finalPath, "size", written)
	return nil
}

func appendChunk(out *os.File, chunkPath string) (int64, error) {
	in, err := os.Open(chunkPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	return io.Copy(out, in)
}

func validateParams(params *CreateParams) error {
	if params.FileName == "" || params.RelPath == "" {
		return fmt.Errorf("%w: missing file name or path", ErrInvalidParams)
	}
	if params.TotalSize <= 0 || params.ChunkSize <= 0 {
		return fmt.Errorf("%w: size and chunk size must be positive", ErrInvalidParams)
	}
	wantChunks := int((params.TotalSize + params.ChunkSize - 1) / params.ChunkSize)
	if params.TotalChunks != wantChunks {
		return fmt.Errorf("%w: total chunks %d, expected %d", ErrInvalidParams, params.TotalChunks, wantChunks)
	}
	if !localPath(params.RelPath) {
		return fmt.Errorf("%w: %s", ErrInvalidPath, params.RelPath)
	}
	if params.BasePath != "" && !localPath(params.BasePath) {
		return fmt.Errorf("%w: %s", ErrInvalidPath, params.BasePath)
	}
	return nil
}

// localPath reports whether p stays inside the depot root when joined.
func localPath(p string) bool {
	return filepath.IsLocal(filepath.FromSlash(p))
}

func sameUpload(upload *Upload, params *CreateParams) bool {
	return upload.RelPath == params.RelPath &&
		upload.BasePath == params.BasePath &&
		upload.TotalSize == params.TotalSize &&
		upload.ChunkSize == params.ChunkSize &&
		upload.TotalChunks == params.TotalChunks
}
