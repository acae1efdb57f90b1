package api

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeAccessDenied   = "E_ACCESS_DENIED"   // access denied

	// Auth errors
	CodeAuthInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS" // authentication credentials are invalid, expired, or malformed

	// Upload errors
	CodeUploadNotFound       = "E_UPLOAD_NOT_FOUND"         // the specified upload could not be found
	CodeUploadInvalidPath    = "E_UPLOAD_INVALID_PATH"      // the destination path is invalid or malformed
	CodeUploadCreateFailed   = "E_UPLOAD_CREATE_FAILED"     // a failure while creating a new upload
	CodeUploadConflict       = "E_UPLOAD_ID_CONFLICT"       // the proposed upload id is taken by a different live upload
	CodeChunkSizeMismatch    = "E_CHUNK_SIZE_MISMATCH"      // chunk body length disagrees with the plan
	CodeChunkIndexOutOfRange = "E_CHUNK_INDEX_OUT_OF_RANGE" // chunk index outside [0, totalChunks)
	CodeChunkWriteFailed     = "E_CHUNK_WRITE_FAILED"       // a failure while storing a chunk
	CodeAssembleFailed       = "E_ASSEMBLE_FAILED"          // a failure while assembling the final object
)
