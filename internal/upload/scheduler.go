package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/openhaul/haulbox/internal/queue"
)

var (
	ErrSchedulerStopped = errors.New("upload: scheduler not running")
	ErrBadTransition    = errors.New("upload: invalid status transition")
)

// SchedulerConfig bounds transfer concurrency.
type SchedulerConfig struct {
	// GlobalChunkLimit caps simultaneously in-flight chunk requests across
	// all sessions.
	GlobalChunkLimit int64
	// SessionChunkLimit caps in-flight chunks of a single session.
	SessionChunkLimit int
	// MaxActiveSessions caps sessions admitted to `uploading` at once.
	MaxActiveSessions int
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		GlobalChunkLimit:  4,
		SessionChunkLimit: 2,
		MaxActiveSessions: 3,
	}
}

type sessionState struct {
	mu      sync.Mutex
	session *Session
	source  FileSource
	cancel  context.CancelFunc
	paused  atomic.Bool
	dropped atomic.Bool // cancelled, record already deleted
	memOnly atomic.Bool // persistence degraded to in-memory tracking
}

func (st *sessionState) snapshot() *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session.Clone()
}

// TransferScheduler owns the per-session state machine and drives chunk
// transmission. It is the only component that mutates session status and
// uploaded chunk sets; the store mirrors every mutation.
type TransferScheduler struct {
	cfg    SchedulerConfig
	store  SessionStore
	tx     ChunkTransmitter
	global *semaphore.Weighted

	mu       sync.RWMutex
	sessions map[string]*sessionState
	active   int

	admitQ *queue.PriorityQueue[string]
	seq    atomic.Int64
	kick   chan struct{}
	events chan Event

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

func NewTransferScheduler(store SessionStore, tx ChunkTransmitter, cfg SchedulerConfig) *TransferScheduler {
	if cfg.GlobalChunkLimit <= 0 {
		cfg.GlobalChunkLimit = DefaultSchedulerConfig().GlobalChunkLimit
	}
	if cfg.SessionChunkLimit <= 0 {
		cfg.SessionChunkLimit = DefaultSchedulerConfig().SessionChunkLimit
	}
	if cfg.MaxActiveSessions <= 0 {
		cfg.MaxActiveSessions = DefaultSchedulerConfig().MaxActiveSessions
	}

	return &TransferScheduler{
		cfg:      cfg,
		store:    store,
		tx:       tx,
		global:   semaphore.NewWeighted(cfg.GlobalChunkLimit),
		sessions: make(map[string]*sessionState),
		admitQ:   queue.NewPriorityQueue[string](),
		kick:     make(chan struct{}, 1),
		events:   make(chan Event, 256),
	}
}

// Start launches the admission loop. The scheduler stops when ctx is
// cancelled; in-flight sessions are left in the store as-is and get
// reclassified on the next restore.
func (s *TransferScheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("upload: scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.admissionLoop()
	}()

	slog.Info("scheduler start",
		"globalChunks", s.cfg.GlobalChunkLimit,
		"sessionChunks", s.cfg.SessionChunkLimit,
		"maxSessions", s.cfg.MaxActiveSessions)
	return nil
}

// Stop cancels all work and waits for workers to drain.
func (s *TransferScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	slog.Info("scheduler stop")
}

// Events returns the scheduler's event stream. Events are dropped when the
// consumer falls behind; session state remains authoritative in the store.
func (s *TransferScheduler) Events() <-chan Event {
	return s.events
}

// Enqueue admits a new session for transfer.
func (s *TransferScheduler) Enqueue(session *Session, source FileSource) error {
	if !s.started.Load() {
		return ErrSchedulerStopped
	}
	if session.Status != StatusInitialized && session.Status != StatusQueued {
		return fmt.Errorf("%w: %s -> queued", ErrBadTransition, session.Status)
	}

	st := &sessionState{
		session: session,
		source:  source,
	}

	s.mu.Lock()
	if existing, ok := s.sessions[session.ID]; ok && existing.session.Status.Active() {
		s.mu.Unlock()
		return fmt.Errorf("session %s already scheduled", session.ID)
	}
	s.sessions[session.ID] = st
	s.mu.Unlock()

	s.transition(st, StatusQueued, "")
	s.admitQ.Enqueue(session.ID, int(s.seq.Add(1)))
	s.wake()
	return nil
}

// Adopt registers a restored session without enqueueing it. Used for sessions
// re-attached after a restart that wait for an explicit resume.
func (s *TransferScheduler) Adopt(session *Session, source FileSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = &sessionState{
		session: session,
		source:  source,
	}
}

// Pause stops a queued or uploading session, aborting its in-flight chunk
// requests. Late acks of aborted requests are still recorded.
func (s *TransferScheduler) Pause(id string) error {
	st, err := s.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	status := st.session.Status
	cancel := st.cancel
	st.mu.Unlock()

	switch status {
	case StatusQueued:
		s.admitQ.Remove(func(v string) bool { return v == id })
		s.transition(st, StatusPaused, "")
		return nil
	case StatusUploading:
		st.paused.Store(true)
		if cancel != nil {
			cancel()
		}
		return nil
	case StatusPaused:
		return nil
	default:
		return fmt.Errorf("%w: %s -> paused", ErrBadTransition, status)
	}
}

// Resume re-queues a paused session after re-validating its file handle.
func (s *TransferScheduler) Resume(id string) error {
	st, err := s.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	status := st.session.Status
	source := st.source
	st.mu.Unlock()

	if status != StatusPaused {
		return fmt.Errorf("%w: %s -> queued", ErrBadTransition, status)
	}
	if source == nil {
		return ErrSourceDetached
	}

	st.paused.Store(false)
	s.transition(st, StatusQueued, "")
	s.admitQ.Enqueue(id, int(s.seq.Add(1)))
	s.wake()
	return nil
}

// Retry re-queues a session that landed in `error` after a user decision.
// Automatic retry only exists at chunk granularity.
func (s *TransferScheduler) Retry(id string) error {
	st, err := s.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	status := st.session.Status
	source := st.source
	st.mu.Unlock()

	if status != StatusError {
		return fmt.Errorf("%w: %s -> queued", ErrBadTransition, status)
	}
	if source == nil || !source.Reacquirable() {
		return ErrSourceDetached
	}

	st.mu.Lock()
	st.session.LastError = ""
	st.mu.Unlock()

	s.transition(st, StatusQueued, "")
	s.admitQ.Enqueue(id, int(s.seq.Add(1)))
	s.wake()
	return nil
}

// Cancel terminates a session and deletes its persisted record. No further
// chunk requests are issued for it.
func (s *TransferScheduler) Cancel(id string) error {
	st, err := s.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	status := st.session.Status
	cancel := st.cancel
	st.mu.Unlock()

	if status.Terminal() {
		return fmt.Errorf("%w: %s -> cancelled", ErrBadTransition, status)
	}

	st.dropped.Store(true)
	if status == StatusQueued {
		s.admitQ.Remove(func(v string) bool { return v == id })
	}
	if cancel != nil {
		cancel()
	}

	st.mu.Lock()
	st.session.Status = StatusCancelled
	st.session.LastActivity = time.Now().UTC()
	st.mu.Unlock()

	if err := s.store.Delete(context.Background(), id); err != nil {
		slog.Warn("scheduler delete record", "id", id, "error", err)
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	s.emit(Event{Type: EventStatusChanged, SessionID: id, Status: StatusCancelled})
	slog.Info("scheduler", "op", "cancel", "id", id)
	return nil
}

// Sessions returns clones of all tracked sessions.
func (s *TransferScheduler) Sessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, st := range s.sessions {
		out = append(out, st.snapshot())
	}
	return out
}

// Session returns a clone of one tracked session.
func (s *TransferScheduler) Session(id string) (*Session, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	return st.snapshot(), nil
}

// HasActive reports whether any session is queued, uploading or paused.
// Used by the outer navigation guard.
func (s *TransferScheduler) HasActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.sessions {
		st.mu.Lock()
		active := st.session.Status.Active()
		st.mu.Unlock()
		if active {
			return true
		}
	}
	return false
}

// Forget drops a terminal session from the in-memory map.
func (s *TransferScheduler) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[id]; ok {
		st.mu.Lock()
		terminal := st.session.Status.Terminal() || st.session.Status == StatusError
		st.mu.Unlock()
		if terminal {
			delete(s.sessions, id)
		}
	}
}

func (s *TransferScheduler) state(id string) (*sessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return st, nil
}

func (s *TransferScheduler) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *TransferScheduler) admissionLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.kick:
		}

		for {
			s.mu.Lock()
			if s.active >= s.cfg.MaxActiveSessions {
				s.mu.Unlock()
				break
			}
			s.mu.Unlock()

			id, ok := s.admitQ.Dequeue()
			if !ok {
				break
			}

			st, err := s.state(id)
			if err != nil {
				continue // cancelled while queued
			}

			s.mu.Lock()
			s.active++
			s.mu.Unlock()

			s.wg.Add(1)
			go func(st *sessionState) {
				defer s.wg.Done()
				s.runSession(st)

				s.mu.Lock()
				s.active--
				s.mu.Unlock()
				s.wake()
			}(st)
		}
	}
}

// runSession drives one session from `uploading` to a settled state, sending
// chunks in increasing index order with bounded concurrency. It never re-sends
// acknowledged chunks and never skips gaps: the work list is exactly the
// missing set at admission time.
func (s *TransferScheduler) runSession(st *sessionState) {
	sessCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	st.mu.Lock()
	if st.session.Status != StatusQueued {
		st.mu.Unlock()
		return
	}
	st.cancel = cancel
	id := st.session.ID
	chunkSize := st.session.ChunkSize
	missing := st.session.MissingChunks()
	source := st.source
	st.mu.Unlock()

	s.transition(st, StatusUploading, "")
	tstart := time.Now()

	slots := make(chan struct{}, s.cfg.SessionChunkLimit)
	var wg sync.WaitGroup
	var fatal atomic.Pointer[chunkFailure]

	for _, idx := range missing {
		if sessCtx.Err() != nil || fatal.Load() != nil {
			break
		}

		select {
		case slots <- struct{}{}:
		case <-sessCtx.Done():
		}
		if sessCtx.Err() != nil {
			break
		}
		if fatal.Load() != nil {
			<-slots
			break
		}

		if err := s.global.Acquire(sessCtx, 1); err != nil {
			<-slots
			break
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer s.global.Release(1)
			defer func() { <-slots }()

			s.sendChunk(sessCtx, st, source, id, idx, chunkSize, &fatal)
		}(idx)
	}

	wg.Wait()
	s.settle(st, &fatal, time.Since(tstart))
}

type chunkFailure struct {
	index int
	err   error
}

func (s *TransferScheduler) sendChunk(ctx context.Context, st *sessionState, source FileSource, id string, idx int, chunkSize int64, fatal *atomic.Pointer[chunkFailure]) {
	st.mu.Lock()
	length := st.session.ChunkLength(idx)
	st.mu.Unlock()

	data, err := source.ReadChunk(int64(idx)*chunkSize, length)
	if err != nil {
		fatal.CompareAndSwap(nil, &chunkFailure{index: idx, err: err})
		return
	}

	ack, err := s.tx.Send(ctx, id, idx, data)
	if err != nil {
		if ctx.Err() != nil {
			// aborted by pause/cancel/shutdown, not a session failure
			return
		}
		fatal.CompareAndSwap(nil, &chunkFailure{index: idx, err: err})
		return
	}

	// lost work is never discarded: record the ack even when the session was
	// paused while this request was in flight
	st.mu.Lock()
	st.session.Uploaded.Add(idx)
	st.session.RetryCount += ack.Attempts - 1
	st.session.LastActivity = time.Now().UTC()
	snapshot := st.session.Clone()
	st.mu.Unlock()

	s.persist(st, snapshot)
	s.emit(Event{Type: EventChunkAcked, SessionID: id, Status: StatusUploading, ChunkIndex: idx, Bytes: length})
}

// settle decides the final status after a transfer round.
func (s *TransferScheduler) settle(st *sessionState, fatal *atomic.Pointer[chunkFailure], took time.Duration) {
	if st.dropped.Load() {
		return // cancelled, record already gone
	}

	st.mu.Lock()
	complete := st.session.IsComplete()
	id := st.session.ID
	uploaded := st.session.UploadedCount()
	total := st.session.TotalChunks
	st.mu.Unlock()

	switch {
	case complete:
		// final ack is in, mark completed atomically and announce it
		s.transition(st, StatusCompleted, "")
		s.emit(Event{Type: EventCompleted, SessionID: id, Status: StatusCompleted})
		slog.Info("scheduler", "op", "completed", "id", id, "chunks", total, "took", took)

	case fatal.Load() != nil:
		failure := fatal.Load()
		reason := fmt.Sprintf("chunk %d: %v", failure.index, failure.err)
		s.transition(st, StatusError, reason)
		s.emit(Event{Type: EventFailed, SessionID: id, Status: StatusError, ChunkIndex: failure.index, Reason: reason})
		slog.Error("scheduler", "op", "failed", "id", id, "uploaded", uploaded, "total", total, "reason", reason)

	case st.paused.Load():
		s.transition(st, StatusPaused, "")
		slog.Info("scheduler", "op", "paused", "id", id, "uploaded", uploaded, "total", total)

	default:
		// parent shutdown: leave the stored status; the next restore
		// reclassifies it
	}
}

// transition moves a session to next, persists the record, and emits an event.
func (s *TransferScheduler) transition(st *sessionState, next Status, reason string) {
	st.mu.Lock()
	st.session.Status = next
	if reason != "" {
		st.session.LastError = reason
	}
	st.session.LastActivity = time.Now().UTC()
	snapshot := st.session.Clone()
	st.mu.Unlock()

	s.persist(st, snapshot)
	s.emit(Event{Type: EventStatusChanged, SessionID: snapshot.ID, Status: next, Reason: reason})
}

// persist mirrors a session snapshot to the store. A storage failure degrades
// the session to in-memory-only tracking with a warning; it does not abort the
// transfer.
func (s *TransferScheduler) persist(st *sessionState, snapshot *Session) {
	if st.dropped.Load() {
		return
	}
	if err := s.store.Put(context.Background(), snapshot); err != nil {
		if st.memOnly.CompareAndSwap(false, true) {
			slog.Warn("scheduler persistence degraded to memory-only", "id", snapshot.ID, "error", err)
		}
		return
	}
	st.memOnly.Store(false)
}

func (s *TransferScheduler) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		slog.Debug("scheduler event dropped", "type", ev.Type, "id", ev.SessionID)
	}
}
