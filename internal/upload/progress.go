package upload

import (
	"sort"
	"sync"
	"time"
)

// Progress is a derived view over one session's record.
type Progress struct {
	SessionID      string        `json:"sessionId"`
	FileName       string        `json:"fileName"`
	RelPath        string        `json:"relativePath"`
	Status         Status        `json:"status"`
	UploadedChunks int           `json:"uploadedChunks"`
	TotalChunks    int           `json:"totalChunks"`
	UploadedBytes  int64         `json:"uploadedBytes"`
	TotalBytes     int64         `json:"totalBytes"`
	Fraction       float64       `json:"fraction"`
	Rate           float64       `json:"rate"` // bytes/sec, sliding window
	ETA            time.Duration `json:"eta"`  // 0 when unknown
	LastError      string        `json:"lastError,omitempty"`
}

// BatchProgress is the per-session and aggregate view the UI polls.
type BatchProgress struct {
	Sessions       []Progress    `json:"sessions"`
	Active         int           `json:"active"`
	UploadedBytes  int64         `json:"uploadedBytes"`
	TotalBytes     int64         `json:"totalBytes"`
	Fraction       float64       `json:"fraction"`
	Rate           float64       `json:"rate"`
	ETA            time.Duration `json:"eta"`
}

// ProgressAggregator derives progress and ETA from session snapshots.
// Snapshot is side-effect free and safe to call on every tick; Observe is the
// only mutator and feeds the per-session throughput windows.
type ProgressAggregator struct {
	mu     sync.Mutex
	window time.Duration
	byID   map[string]*ThroughputWindow
}

func NewProgressAggregator(window time.Duration) *ProgressAggregator {
	return &ProgressAggregator{
		window: window,
		byID:   make(map[string]*ThroughputWindow),
	}
}

// Observe records acknowledged bytes for a session.
func (a *ProgressAggregator) Observe(sessionID string, bytes int64) {
	a.win(sessionID).Observe(bytes)
}

// Drop discards throughput state for a finished or cancelled session.
func (a *ProgressAggregator) Drop(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byID, sessionID)
}

// Snapshot computes per-session and aggregate progress over the given session
// records without mutating anything.
func (a *ProgressAggregator) Snapshot(sessions []*Session) *BatchProgress {
	batch := &BatchProgress{
		Sessions: make([]Progress, 0, len(sessions)),
	}

	var aggregateRate float64
	for _, session := range sessions {
		p := a.sessionProgress(session)
		batch.Sessions = append(batch.Sessions, p)

		batch.UploadedBytes += p.UploadedBytes
		batch.TotalBytes += p.TotalBytes
		if session.Status.Active() {
			batch.Active++
			aggregateRate += p.Rate
		}
	}

	sort.Slice(batch.Sessions, func(i, j int) bool {
		return batch.Sessions[i].RelPath < batch.Sessions[j].RelPath
	})

	if batch.TotalBytes > 0 {
		batch.Fraction = float64(batch.UploadedBytes) / float64(batch.TotalBytes)
	}
	batch.Rate = aggregateRate
	batch.ETA = eta(batch.TotalBytes-batch.UploadedBytes, aggregateRate)
	return batch
}

func (a *ProgressAggregator) sessionProgress(session *Session) Progress {
	uploaded := session.UploadedCount()
	uploadedBytes := session.UploadedBytes()
	rate := a.win(session.ID).Rate()

	p := Progress{
		SessionID:      session.ID,
		FileName:       session.FileName,
		RelPath:        session.RelPath,
		Status:         session.Status,
		UploadedChunks: uploaded,
		TotalChunks:    session.TotalChunks,
		UploadedBytes:  uploadedBytes,
		TotalBytes:     session.TotalSize,
		LastError:      session.LastError,
	}
	if session.TotalChunks > 0 {
		p.Fraction = float64(uploaded) / float64(session.TotalChunks)
	}
	if session.Status == StatusUploading {
		p.Rate = rate
		p.ETA = eta(session.TotalSize-uploadedBytes, rate)
	}
	return p
}

func (a *ProgressAggregator) win(sessionID string) *ThroughputWindow {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.byID[sessionID]
	if !ok {
		w = NewThroughputWindow(a.window)
		a.byID[sessionID] = w
	}
	return w
}

func eta(remaining int64, rate float64) time.Duration {
	if remaining <= 0 || rate <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / rate * float64(time.Second))
}
