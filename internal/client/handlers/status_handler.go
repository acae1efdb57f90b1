package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openhaul/haulbox/internal/upload"
	"github.com/openhaul/haulbox/internal/version"
)

// StatusHandler handles the daemon status endpoint.
type StatusHandler struct {
	coordinator *upload.UploadCoordinator
}

func NewStatusHandler(coordinator *upload.UploadCoordinator) *StatusHandler {
	return &StatusHandler{coordinator: coordinator}
}

func (h *StatusHandler) Status(c *gin.Context) {
	c.PureJSON(http.StatusOK, &StatusResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Version,
		Revision:  version.Revision,
		BuildDate: version.BuildDate,
		Active:    h.coordinator.HasActiveSessions(),
	})
}
