package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openhaul/haulbox/internal/upload"
)

// UploadHandler exposes the upload pipeline over the local control plane.
type UploadHandler struct {
	coordinator *upload.UploadCoordinator
}

func NewUploadHandler(coordinator *upload.UploadCoordinator) *UploadHandler {
	return &UploadHandler{coordinator: coordinator}
}

// Scan enumerates a selection without starting any transfer. The UI calls
// this to preview a drop before committing it as a batch.
func (h *UploadHandler) Scan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	result, err := h.coordinator.Scan(c.Request.Context(), &upload.Selection{
		Paths:       req.Paths,
		IgnoreGlobs: req.IgnoreGlobs,
	})
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeScanFailed, err)
		return
	}

	resp := ScanResponse{
		Files:      make([]ScannedFile, 0, len(result.Files)),
		Skipped:    result.Skipped,
		EmptyFiles: result.EmptyFiles,
	}
	for _, f := range result.Files {
		resp.Files = append(resp.Files, ScannedFile{
			RelativePath: f.RelPath(),
			Size:         f.Size(),
		})
	}

	c.PureJSON(http.StatusOK, resp)
}

// SubmitBatch scans a selection and enqueues one session per file.
func (h *UploadHandler) SubmitBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	ctx := c.Request.Context()
	result, err := h.coordinator.Scan(ctx, &upload.Selection{
		Paths:       req.Paths,
		IgnoreGlobs: req.IgnoreGlobs,
	})
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeScanFailed, err)
		return
	}

	sessions, err := h.coordinator.SubmitBatch(ctx, result, req.BasePath)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeBatchFailed, err)
		return
	}

	resp := BatchResponse{
		Sessions:     make([]SessionResponse, 0, len(sessions)),
		SkippedEmpty: len(result.EmptyFiles),
	}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(s))
	}

	c.PureJSON(http.StatusOK, resp)
}

// List returns every tracked session, settled ones included.
func (h *UploadHandler) List(c *gin.Context) {
	sessions := h.coordinator.Sessions()
	resp := SessionListResponse{
		Sessions: make([]SessionResponse, 0, len(sessions)),
	}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(s))
	}
	c.PureJSON(http.StatusOK, resp)
}

// Get returns one session by id.
func (h *UploadHandler) Get(c *gin.Context) {
	session, err := h.coordinator.Session(c.Param("id"))
	if err != nil {
		h.abortSessionError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, toSessionResponse(session))
}

func (h *UploadHandler) Pause(c *gin.Context) {
	if err := h.coordinator.Pause(c.Param("id")); err != nil {
		h.abortSessionError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, gin.H{"status": "paused"})
}

func (h *UploadHandler) Resume(c *gin.Context) {
	if err := h.coordinator.Resume(c.Param("id")); err != nil {
		h.abortSessionError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (h *UploadHandler) Retry(c *gin.Context) {
	if err := h.coordinator.Retry(c.Param("id")); err != nil {
		h.abortSessionError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, gin.H{"status": "queued"})
}

func (h *UploadHandler) Cancel(c *gin.Context) {
	if err := h.coordinator.Cancel(c.Param("id")); err != nil {
		h.abortSessionError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// Progress returns the per-session and aggregate progress snapshot the UI
// renders on every poll tick.
func (h *UploadHandler) Progress(c *gin.Context) {
	c.PureJSON(http.StatusOK, h.coordinator.Progress())
}

// Active reports whether any transfer work remains. Navigation guards poll
// this before letting the user close the app.
func (h *UploadHandler) Active(c *gin.Context) {
	c.PureJSON(http.StatusOK, ActiveResponse{
		Active: h.coordinator.HasActiveSessions(),
	})
}

// ClearCompleted drops completed session records.
func (h *UploadHandler) ClearCompleted(c *gin.Context) {
	cleared, err := h.coordinator.ClearCompleted(c.Request.Context())
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeUnknownError, err)
		return
	}
	c.PureJSON(http.StatusOK, ClearCompletedResponse{Cleared: cleared})
}

func (h *UploadHandler) abortSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, upload.ErrSessionNotFound):
		AbortWithError(c, http.StatusNotFound, ErrCodeSessionNotFound, err)
	case errors.Is(err, upload.ErrSourceDetached):
		AbortWithError(c, http.StatusConflict, ErrCodeSourceDetached, err)
	case errors.Is(err, upload.ErrBadTransition):
		AbortWithError(c, http.StatusConflict, ErrCodeSessionInvalid, err)
	default:
		AbortWithError(c, http.StatusInternalServerError, ErrCodeUnknownError, err)
	}
}
