package handlers

import "github.com/gin-gonic/gin"

const (
	CodeOk                 string = "OK"
	ErrCodeBadRequest      string = "ERR_BAD_REQUEST"
	ErrCodeUnknownError    string = "ERR_UNKNOWN_ERROR"
	ErrCodeScanFailed      string = "ERR_SCAN_FAILED"
	ErrCodeBatchFailed     string = "ERR_BATCH_FAILED"
	ErrCodeSessionNotFound string = "ERR_SESSION_NOT_FOUND"
	ErrCodeSessionInvalid  string = "ERR_SESSION_INVALID_STATE"
	ErrCodeSourceDetached  string = "ERR_SOURCE_DETACHED"
)

type ControlPlaneResponse struct {
	Code string `json:"code"`
}

type ControlPlaneError struct {
	ErrorCode string `json:"code"`
	Error     string `json:"error"`
}

func AbortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	c.Error(err)
	c.PureJSON(status, ControlPlaneError{
		ErrorCode: code,
		Error:     err.Error(),
	})
}
