package haulsdk

// CreateUploadRequest registers a new chunked upload with the server.
// UploadID is the client-proposed id; the server echoes it back when free or
// allocates its own. The id returned in CreateUploadResponse is canonical.
type CreateUploadRequest struct {
	UploadID     string `json:"uploadId,omitempty"`
	FileName     string `json:"fileName"`
	RelativePath string `json:"relativePath"`
	BasePath     string `json:"basePath"`
	TotalSize    int64  `json:"totalSize"`
	ChunkSize    int64  `json:"chunkSize"`
	TotalChunks  int    `json:"totalChunks"`
}

type CreateUploadResponse struct {
	UploadID       string `json:"uploadId"`
	UploadedChunks []int  `json:"uploadedChunks,omitempty"`
}

type ChunkAckResponse struct {
	UploadID    string `json:"uploadId"`
	AckedIndex  int    `json:"ackedIndex"`
	AckedChunks int    `json:"ackedChunks"`
	Complete    bool   `json:"complete"`
}

type UploadStatusResponse struct {
	UploadID       string `json:"uploadId"`
	FileName       string `json:"fileName"`
	RelativePath   string `json:"relativePath"`
	BasePath       string `json:"basePath"`
	TotalSize      int64  `json:"totalSize"`
	ChunkSize      int64  `json:"chunkSize"`
	TotalChunks    int    `json:"totalChunks"`
	UploadedChunks []int  `json:"uploadedChunks"`
	Complete       bool   `json:"complete"`
}

type DeleteUploadResponse struct {
	UploadID string `json:"uploadId"`
	Deleted  bool   `json:"deleted"`
}
