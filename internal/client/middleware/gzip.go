package middleware

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

var (
	excludedPaths = []string{
		"/healthz",
	}
	// chunk payloads and archives do not compress usefully
	excludedExtensions = []string{
		".png", ".gif", ".jpeg", ".jpg", ".mp4", ".mov", ".mp3", ".wav", ".pdf", ".zip", ".tar.gz",
	}
)

func Gzip() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.DefaultCompression,
		gzip.WithExcludedPaths(excludedPaths),
		gzip.WithExcludedExtensions(excludedExtensions),
	)
}
