package handlers

import (
	"time"

	"github.com/openhaul/haulbox/internal/upload"
)

type ScanRequest struct {
	Paths       []string `json:"paths" binding:"required,min=1"`
	IgnoreGlobs []string `json:"ignoreGlobs,omitempty"`
}

type ScannedFile struct {
	RelativePath string `json:"relativePath"`
	Size         int64  `json:"size"`
}

type ScanResponse struct {
	Files      []ScannedFile `json:"files"`
	Skipped    []string      `json:"skipped,omitempty"`
	EmptyFiles []string      `json:"emptyFiles,omitempty"`
}

type BatchRequest struct {
	Paths       []string `json:"paths" binding:"required,min=1"`
	IgnoreGlobs []string `json:"ignoreGlobs,omitempty"`
	BasePath    string   `json:"basePath"`
}

type BatchResponse struct {
	Sessions     []SessionResponse `json:"sessions"`
	SkippedEmpty int               `json:"skippedEmpty"`
}

type SessionResponse struct {
	ID             string    `json:"id"`
	FileName       string    `json:"fileName"`
	RelativePath   string    `json:"relativePath"`
	BasePath       string    `json:"basePath,omitempty"`
	SourcePath     string    `json:"sourcePath,omitempty"`
	Status         string    `json:"status"`
	TotalSize      int64     `json:"totalSize"`
	ChunkSize      int64     `json:"chunkSize"`
	TotalChunks    int       `json:"totalChunks"`
	UploadedChunks int       `json:"uploadedChunks"`
	UploadedBytes  int64     `json:"uploadedBytes"`
	RetryCount     int       `json:"retryCount,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivity   time.Time `json:"lastActivity"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type ActiveResponse struct {
	Active bool `json:"active"`
}

type ClearCompletedResponse struct {
	Cleared int `json:"cleared"`
}

func toSessionResponse(s *upload.Session) SessionResponse {
	return SessionResponse{
		ID:             s.ID,
		FileName:       s.FileName,
		RelativePath:   s.RelPath,
		BasePath:       s.BasePath,
		SourcePath:     s.SourcePath,
		Status:         string(s.Status),
		TotalSize:      s.TotalSize,
		ChunkSize:      s.ChunkSize,
		TotalChunks:    s.TotalChunks,
		UploadedChunks: s.UploadedCount(),
		UploadedBytes:  s.UploadedBytes(),
		RetryCount:     s.RetryCount,
		Error:          s.LastError,
		CreatedAt:      s.CreatedAt,
		LastActivity:   s.LastActivity,
	}
}
