package uploads

import (
	"sort"

	"github.com/openhaul/haulbox/internal/server/depot"
)

type CreateUploadRequest struct {
	UploadID     string `json:"uploadId"`
	FileName     string `json:"fileName" binding:"required"`
	RelativePath string `json:"relativePath" binding:"required"`
	BasePath     string `json:"basePath"`
	TotalSize    int64  `json:"totalSize" binding:"required"`
	ChunkSize    int64  `json:"chunkSize" binding:"required"`
	TotalChunks  int    `json:"totalChunks" binding:"required"`
}

type CreateUploadResponse struct {
	UploadID       string `json:"uploadId"`
	UploadedChunks []int  `json:"uploadedChunks,omitempty"`
}

type UploadURI struct {
	UploadID string `uri:"uploadId" binding:"required"`
}

type ChunkURI struct {
	UploadID string `uri:"uploadId" binding:"required"`
	Index    int    `uri:"index" binding:"min=0"`
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

func sortedAcks(upload *depot.Upload) []int {
	indices := upload.Acked.ToSlice()
	sort.Ints(indices)
	return indices
}
