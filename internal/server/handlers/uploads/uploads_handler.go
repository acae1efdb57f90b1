package uploads

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openhaul/haulbox/internal/server/depot"
	"github.com/openhaul/haulbox/internal/server/handlers/api"
)

// maxChunkBody caps a single chunk request body. Clients negotiate chunk size
// at create time; this is the hard transport ceiling.
const maxChunkBody = 64 << 20 // 64 MiB

type UploadsHandler struct {
	depot *depot.Service
}

func New(depot *depot.Service) *UploadsHandler {
	return &UploadsHandler{depot: depot}
}

// Create registers a new upload and returns the authoritative upload id plus
// any chunks already held from a previous attempt with the same id.
func (h *UploadsHandler) Create(ctx *gin.Context) {
	var req CreateUploadRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	upload, err := h.depot.Create(&depot.CreateParams{
		ID:          req.UploadID,
		FileName:    req.FileName,
		RelPath:     req.RelativePath,
		BasePath:    req.BasePath,
		TotalSize:   req.TotalSize,
		ChunkSize:   req.ChunkSize,
		TotalChunks: req.TotalChunks,
	})
	if err != nil {
		switch {
		case errors.Is(err, depot.ErrConflict):
			api.AbortWithError(ctx, http.StatusConflict, api.CodeUploadConflict, err)
		case errors.Is(err, depot.ErrInvalidPath):
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeUploadInvalidPath, err)
		case errors.Is(err, depot.ErrInvalidParams):
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		default:
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeUploadCreateFailed, err)
		}
		return
	}

	ctx.PureJSON(http.StatusOK, &CreateUploadResponse{
		UploadID:       upload.ID,
		UploadedChunks: sortedAcks(upload),
	})
}

// PutChunk stores one chunk body. A chunk the depot already holds returns 409;
// the client treats that as success.
func (h *UploadsHandler) PutChunk(ctx *gin.Context) {
	var req ChunkURI
	if err := ctx.ShouldBindUri(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxChunkBody))
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("read chunk body: %w", err))
		return
	}

	ack, err := h.depot.PutChunk(req.UploadID, req.Index, data)
	if err != nil {
		switch {
		case errors.Is(err, depot.ErrUploadNotFound):
			api.AbortWithError(ctx, http.StatusNotFound, api.CodeUploadNotFound, err)
		case errors.Is(err, depot.ErrAlreadyAcked):
			api.AbortWithError(ctx, http.StatusConflict, api.CodeUploadConflict, err)
		case errors.Is(err, depot.ErrIndexOutOfRange):
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeChunkIndexOutOfRange, err)
		case errors.Is(err, depot.ErrSizeMismatch):
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeChunkSizeMismatch, err)
		default:
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeChunkWriteFailed, err)
		}
		return
	}

	ctx.PureJSON(http.StatusOK, &ChunkAckResponse{
		UploadID:    ack.UploadID,
		AckedIndex:  ack.Index,
		AckedChunks: ack.AckedChunks,
		Complete:    ack.Complete,
	})
}

// Status returns the server-side view of one upload.
func (h *UploadsHandler) Status(ctx *gin.Context) {
	var req UploadURI
	if err := ctx.ShouldBindUri(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	upload, err := h.depot.Get(req.UploadID)
	if err != nil {
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeUploadNotFound, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &UploadStatusResponse{
		UploadID:       upload.ID,
		FileName:       upload.FileName,
		RelativePath:   upload.RelPath,
		BasePath:       upload.BasePath,
		TotalSize:      upload.TotalSize,
		ChunkSize:      upload.ChunkSize,
		TotalChunks:    upload.TotalChunks,
		UploadedChunks: sortedAcks(upload),
		Complete:       upload.Complete,
	})
}

// Delete discards an upload's staged chunks.
func (h *UploadsHandler) Delete(ctx *gin.Context) {
	var req UploadURI
	if err := ctx.ShouldBindUri(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	if err := h.depot.Delete(req.UploadID); err != nil {
		if errors.Is(err, depot.ErrUploadNotFound) {
			api.AbortWithError(ctx, http.StatusNotFound, api.CodeUploadNotFound, err)
			return
		}
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &DeleteUploadResponse{
		UploadID: req.UploadID,
		Deleted:  true,
	})
}
