package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/openhaul/haulbox/internal/haulsdk"
)

// ServerClient is the slice of the server API the coordinator needs to
// register and discard uploads. *haulsdk.UploadsAPI satisfies it.
type ServerClient interface {
	Create(ctx context.Context, params *haulsdk.CreateUploadRequest) (*haulsdk.CreateUploadResponse, error)
	Status(ctx context.Context, uploadID string) (*haulsdk.UploadStatusResponse, error)
	Delete(ctx context.Context, uploadID string) (*haulsdk.DeleteUploadResponse, error)
}

// CoordinatorConfig tunes the upload pipeline.
type CoordinatorConfig struct {
	ChunkSize    int64
	RefreshQuiet time.Duration // quiet period before a directory-refresh notification
	Scheduler    SchedulerConfig
	Transmitter  TransmitterConfig
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		ChunkSize:    DefaultChunkSize,
		RefreshQuiet: 2 * time.Second,
		Scheduler:    DefaultSchedulerConfig(),
		Transmitter:  DefaultTransmitterConfig(),
	}
}

// CoordinatorOption configures optional collaborators.
type CoordinatorOption func(*UploadCoordinator)

// WithTransmitter swaps the chunk transmitter, used by tests.
func WithTransmitter(tx ChunkTransmitter) CoordinatorOption {
	return func(c *UploadCoordinator) {
		c.tx = tx
	}
}

// WithRefreshFunc registers the downstream directory-refresh notification,
// fired once per quiet period after the last completion in a batch.
func WithRefreshFunc(fn func()) CoordinatorOption {
	return func(c *UploadCoordinator) {
		c.onRefresh = fn
	}
}

// WithScanProgressFunc streams scan progress to the caller.
func WithScanProgressFunc(fn func(ScanProgress)) CoordinatorOption {
	return func(c *UploadCoordinator) {
		c.scanProgress = fn
	}
}

// UploadCoordinator orchestrates scanner, planner, scheduler and store for
// whole batches, and restores persisted sessions on startup.
type UploadCoordinator struct {
	cfg    CoordinatorConfig
	store  SessionStore
	server ServerClient
	tx     ChunkTransmitter

	scanner   *FolderScanner
	planner   *ChunkPlanner
	scheduler *TransferScheduler
	progress  *ProgressAggregator
	refresh   *debouncer

	onRefresh    func()
	scanProgress func(ScanProgress)

	wg       sync.WaitGroup
	stopPump context.CancelFunc
	started  bool
	mu       sync.Mutex
}

// NewCoordinator wires the upload pipeline with injected dependencies.
func NewCoordinator(store SessionStore, server ServerClient, cfg CoordinatorConfig, opts ...CoordinatorOption) *UploadCoordinator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.RefreshQuiet <= 0 {
		cfg.RefreshQuiet = DefaultCoordinatorConfig().RefreshQuiet
	}

	c := &UploadCoordinator{
		cfg:      cfg,
		store:    store,
		server:   server,
		planner:  NewChunkPlanner(cfg.ChunkSize),
		progress: NewProgressAggregator(0),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.tx == nil {
		if sender, ok := server.(chunkSender); ok {
			c.tx = NewHTTPTransmitter(sender, cfg.Transmitter)
		}
	}

	c.scanner = NewFolderScanner(WithScanProgress(func(p ScanProgress) {
		if c.scanProgress != nil {
			c.scanProgress(p)
		}
	}))
	c.scheduler = NewTransferScheduler(store, c.tx, cfg.Scheduler)
	c.refresh = newDebouncer(cfg.RefreshQuiet, func() {
		if c.onRefresh != nil {
			c.onRefresh()
		}
	})

	return c
}

// Start launches the scheduler and the event pump.
func (c *UploadCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("upload: coordinator already started")
	}
	c.started = true
	c.mu.Unlock()

	if err := c.scheduler.Start(ctx); err != nil {
		return err
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	c.stopPump = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pumpEvents(pumpCtx)
	}()

	return nil
}

// Stop drains the scheduler and cancels pending notifications.
func (c *UploadCoordinator) Stop() {
	c.scheduler.Stop()
	c.refresh.Stop()
	if c.stopPump != nil {
		c.stopPump()
	}
	c.wg.Wait()
}

// Scan enumerates a selection into a flat file list.
func (c *UploadCoordinator) Scan(ctx context.Context, sel *Selection) (*ScanResult, error) {
	return c.scanner.Scan(ctx, sel)
}

// SubmitBatch plans a session per scanned file, registers each upload with
// the server, persists the record and enqueues it. Zero-byte files never reach
// the planner; the scanner already filtered them. A file that fails to
// register is logged and skipped, the rest of the batch continues.
func (c *UploadCoordinator) SubmitBatch(ctx context.Context, result *ScanResult, basePath string) ([]*Session, error) {
	if len(result.Files) == 0 {
		return nil, nil
	}

	sessions := make([]*Session, 0, len(result.Files))
	for _, src := range result.Files {
		session, err := c.submitOne(ctx, src, basePath)
		if err != nil {
			slog.Error("batch submit", "path", src.RelPath(), "error", err)
			continue
		}
		sessions = append(sessions, session)
	}

	slog.Info("batch submitted",
		"files", len(sessions),
		"skippedEmpty", len(result.EmptyFiles),
		"basePath", basePath)
	return sessions, nil
}

func (c *UploadCoordinator) submitOne(ctx context.Context, src FileSource, basePath string) (*Session, error) {
	session, err := c.planner.Plan(src, basePath)
	if err != nil {
		return nil, err
	}

	// agree on the canonical id with the server before the first chunk
	resp, err := c.server.Create(ctx, &haulsdk.CreateUploadRequest{
		UploadID:     session.ID,
		FileName:     session.FileName,
		RelativePath: session.RelPath,
		BasePath:     session.BasePath,
		TotalSize:    session.TotalSize,
		ChunkSize:    session.ChunkSize,
		TotalChunks:  session.TotalChunks,
	})
	if err != nil {
		return nil, fmt.Errorf("register upload: %w", err)
	}

	session.ID = resp.UploadID
	for _, idx := range resp.UploadedChunks {
		if idx >= 0 && idx < session.TotalChunks {
			session.Uploaded.Add(idx)
		}
	}

	if err := c.store.Put(ctx, session); err != nil {
		slog.Warn("session persist failed, tracking in memory", "id", session.ID, "error", err)
	}

	if err := c.scheduler.Enqueue(session, src); err != nil {
		return nil, err
	}

	slog.Debug("session enqueued",
		"id", session.ID,
		"path", session.RelPath,
		"size", humanize.Bytes(uint64(session.TotalSize)),
		"chunks", session.TotalChunks)
	return session, nil
}

// Pause stops a session's transfer, aborting in-flight chunks best-effort.
func (c *UploadCoordinator) Pause(id string) error {
	return c.scheduler.Pause(id)
}

// Resume re-queues a paused session.
func (c *UploadCoordinator) Resume(id string) error {
	return c.scheduler.Resume(id)
}

// Retry re-queues a session in `error` state.
func (c *UploadCoordinator) Retry(id string) error {
	return c.scheduler.Retry(id)
}

// Cancel tears down a session, deletes its record and tells the server to
// discard partial data. The server notice is fire-and-forget; non-delivery is
// not fatal to client state.
func (c *UploadCoordinator) Cancel(id string) error {
	if err := c.scheduler.Cancel(id); err != nil {
		return err
	}
	c.progress.Drop(id)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.server.Delete(ctx, id); err != nil {
			slog.Debug("server discard notice failed", "id", id, "error", err)
		}
	}()
	return nil
}

// RestoreAll reloads persisted sessions at startup. Restorable sessions are
// re-attached to their file source and adopted as paused; sessions whose
// handle is gone surface as `error`. Terminal sessions are returned for
// display only.
func (c *UploadCoordinator) RestoreAll(ctx context.Context) ([]*Session, error) {
	sessions, err := c.store.RestoreAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, session := range sessions {
		if session.Status.Terminal() {
			continue
		}

		var source FileSource
		if sourceAvailable(session) {
			src, err := NewOSFileSource(session.SourcePath, session.RelPath)
			if err == nil {
				source = src
			}
		}
		if source == nil {
			source = &detachedSource{relPath: session.RelPath, size: session.TotalSize}
		}

		c.reconcileWithServer(ctx, session)
		c.scheduler.Adopt(session, source)
	}

	slog.Info("sessions restored", "count", len(sessions))
	return sessions, nil
}

// reconcileWithServer merges the server's acked chunk view into the restored
// session. The server is authoritative for acks.
func (c *UploadCoordinator) reconcileWithServer(ctx context.Context, session *Session) {
	status, err := c.server.Status(ctx, session.ID)
	if err != nil || status == nil {
		slog.Debug("restore reconcile skipped", "id", session.ID, "error", err)
		return
	}

	for _, idx := range status.UploadedChunks {
		if idx >= 0 && idx < session.TotalChunks {
			session.Uploaded.Add(idx)
		}
	}
}

// Progress snapshots per-session and aggregate progress.
func (c *UploadCoordinator) Progress() *BatchProgress {
	return c.progress.Snapshot(c.scheduler.Sessions())
}

// Sessions returns clones of all tracked sessions.
func (c *UploadCoordinator) Sessions() []*Session {
	return c.scheduler.Sessions()
}

// Session returns a clone of one tracked session.
func (c *UploadCoordinator) Session(id string) (*Session, error) {
	return c.scheduler.Session(id)
}

// HasActiveSessions reports whether any session is queued, uploading or
// paused. The navigation guard outside this core polls it.
func (c *UploadCoordinator) HasActiveSessions() bool {
	return c.scheduler.HasActive()
}

// ClearCompleted removes completed session records and forgets them.
func (c *UploadCoordinator) ClearCompleted(ctx context.Context) (int, error) {
	cleared := 0
	for _, session := range c.scheduler.Sessions() {
		if session.Status != StatusCompleted {
			continue
		}
		if err := c.store.Delete(ctx, session.ID); err != nil {
			return cleared, err
		}
		c.scheduler.Forget(session.ID)
		c.progress.Drop(session.ID)
		cleared++
	}
	return cleared, nil
}

func (c *UploadCoordinator) pumpEvents(ctx context.Context) {
	events := c.scheduler.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case EventChunkAcked:
				c.progress.Observe(ev.SessionID, ev.Bytes)
			case EventCompleted:
				// coalesce per-file completions into one refresh notice
				c.refresh.Trigger()
			case EventFailed:
				slog.Warn("session failed", "id", ev.SessionID, "reason", ev.Reason)
			}
		}
	}
}
