package haulsdk

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"
)

var (
	// sdk common
	ErrNoServerURL = errors.New("sdk: server url missing")

	// uploads
	ErrUploadNotFound = errors.New("sdk: upload not found")
	ErrChunkRejected  = errors.New("sdk: chunk rejected")
)

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeAccessDenied   = "E_ACCESS_DENIED"   // access denied
	CodeUnknownError   = "E_UNKNOWN_ERR"     // unknown error

	// Auth errors
	CodeAuthInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS" // credentials are invalid, expired, or malformed

	// Upload errors
	CodeUploadNotFound       = "E_UPLOAD_NOT_FOUND"         // the specified upload could not be found
	CodeUploadInvalidPath    = "E_UPLOAD_INVALID_PATH"      // the destination path is invalid or malformed
	CodeUploadCreateFailed   = "E_UPLOAD_CREATE_FAILED"     // a failure while creating a new upload
	CodeUploadConflict       = "E_UPLOAD_ID_CONFLICT"       // the proposed upload id is taken by a live upload
	CodeChunkSizeMismatch    = "E_CHUNK_SIZE_MISMATCH"      // chunk body length disagrees with the plan
	CodeChunkIndexOutOfRange = "E_CHUNK_INDEX_OUT_OF_RANGE" // chunk index outside [0, totalChunks)
	CodeChunkWriteFailed     = "E_CHUNK_WRITE_FAILED"       // a failure while storing a chunk
	CodeAssembleFailed       = "E_ASSEMBLE_FAILED"          // a failure while assembling the final object
)

// APIError represents HaulBox API errors
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func NewAPIError(status int, code, message string) *APIError {
	return &APIError{
		StatusCode: status,
		Code:       code,
		Message:    message,
	}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// Retryable reports whether the failure is transient. Server-side errors and
// rate limits may clear on a later attempt; everything else is a protocol or
// state desync and must not be retried.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout
}

// IsAuthError reports whether the failure requires the user to re-authenticate.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.Code == CodeAuthInvalidCredentials
	}
	return false
}

// IsRetryable reports whether an SDK error is worth another attempt.
// Plain transport errors (no response at all) are always retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// no structured response, assume network/timeout
	return true
}

// handleAPIError is a helper function that handles the common error pattern
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s %w", operation, requestErr)
	}

	// got a response, but api returned an error
	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr != nil {
			apiErr.StatusCode = resp.StatusCode
			return fmt.Errorf("%s %w", operation, apiErr)
		}

		return fmt.Errorf("%s %w", operation, NewAPIError(resp.StatusCode, CodeUnknownError, resp.String()))
	}

	return nil
}
