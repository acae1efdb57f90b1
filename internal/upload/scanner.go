package upload

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Selection is a batch of user-picked paths: plain files, directory roots, or
// a mix. IgnoreGlobs are doublestar patterns matched against relative paths.
type Selection struct {
	Paths       []string
	IgnoreGlobs []string
}

// ScanProgress is streamed while a scan runs.
type ScanProgress struct {
	FilesScanned  int
	TotalEstimate int
	CurrentPath   string
	BytesScanned  int64
}

// ScanResult is the flat enumeration of one selection. Zero-byte files are
// never uploaded as chunked sessions, so they are listed separately.
type ScanResult struct {
	Files      []FileSource
	Skipped    []string
	EmptyFiles []string
	Cancelled  bool
}

// FolderScanner enumerates a selection into a flat FileSource list,
// depth-first and lexicographic within a directory so ordering is stable.
type FolderScanner struct {
	onProgress func(ScanProgress)
}

// ScannerOption configures a FolderScanner.
type ScannerOption func(*FolderScanner)

// WithScanProgress registers a progress callback, invoked between scan steps.
func WithScanProgress(fn func(ScanProgress)) ScannerOption {
	return func(s *FolderScanner) {
		s.onProgress = fn
	}
}

func NewFolderScanner(opts ...ScannerOption) *FolderScanner {
	s := &FolderScanner{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type scanState struct {
	result   *ScanResult
	progress ScanProgress
	ignore   []string
}

// Scan enumerates the selection. An unreadable subtree is recorded in Skipped
// and scanning continues. Cancellation is cooperative: a cancelled scan
// returns whatever was enumerated so far with Cancelled set, never an error.
func (s *FolderScanner) Scan(ctx context.Context, sel *Selection) (*ScanResult, error) {
	st := &scanState{
		result: &ScanResult{},
		ignore: sel.IgnoreGlobs,
	}
	st.progress.TotalEstimate = len(sel.Paths)

	for _, path := range sel.Paths {
		if ctx.Err() != nil {
			st.result.Cancelled = true
			return st.result, nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			st.result.Skipped = append(st.result.Skipped, path)
			continue
		}

		info, err := os.Stat(abs)
		if err != nil {
			st.result.Skipped = append(st.result.Skipped, path)
			continue
		}

		if info.IsDir() {
			// the directory itself becomes the top of the relative tree
			if cancelled := s.scanDir(ctx, st, abs, filepath.Base(abs)); cancelled {
				st.result.Cancelled = true
				return st.result, nil
			}
		} else {
			s.addFile(st, abs, filepath.Base(abs), info.Size())
		}
	}

	return st.result, nil
}

// scanDir recurses depth-first, directory entries sorted lexicographically.
// Returns true when the context was cancelled mid-walk.
func (s *FolderScanner) scanDir(ctx context.Context, st *scanState, dir, relDir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Debug("scan skip dir", "path", dir, "error", err)
		st.result.Skipped = append(st.result.Skipped, relDir)
		return false
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	st.progress.TotalEstimate += countFiles(entries)

	for _, entry := range entries {
		if ctx.Err() != nil {
			return true
		}

		absPath := filepath.Join(dir, entry.Name())
		relPath := relDir + "/" + entry.Name()

		if s.ignored(st, relPath) {
			continue
		}

		if entry.IsDir() {
			if cancelled := s.scanDir(ctx, st, absPath, relPath); cancelled {
				return true
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			st.result.Skipped = append(st.result.Skipped, relPath)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		s.addFile(st, absPath, relPath, info.Size())
	}

	return false
}

func (s *FolderScanner) addFile(st *scanState, absPath, relPath string, size int64) {
	if size == 0 {
		st.result.EmptyFiles = append(st.result.EmptyFiles, relPath)
		return
	}

	src, err := NewOSFileSource(absPath, relPath)
	if err != nil {
		st.result.Skipped = append(st.result.Skipped, relPath)
		return
	}

	st.result.Files = append(st.result.Files, src)
	st.progress.FilesScanned++
	st.progress.BytesScanned += size
	st.progress.CurrentPath = relPath
	if s.onProgress != nil {
		s.onProgress(st.progress)
	}
}

func (s *FolderScanner) ignored(st *scanState, relPath string) bool {
	for _, pattern := range st.ignore {
		if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
			return true
		}
	}
	return false
}

func countFiles(entries []os.DirEntry) int {
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}
