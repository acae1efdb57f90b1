package upload

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource serves chunk reads from an in-memory byte slice.
type memSource struct {
	relPath string
	data    []byte
	reacq   bool
}

func (m *memSource) RelPath() string    { return m.relPath }
func (m *memSource) Size() int64        { return int64(len(m.data)) }
func (m *memSource) Reacquirable() bool { return m.reacq }

func (m *memSource) ReadChunk(offset, length int64) ([]byte, error) {
	if offset < 0 || offset+length > int64(len(m.data)) {
		return nil, ErrShortRead
	}
	return m.data[offset : offset+length], nil
}

func newTestSession(id string, totalSize, chunkSize int64) (*Session, *memSource) {
	now := time.Now().UTC()
	session := &Session{
		ID:           id,
		FileName:     id + ".bin",
		RelPath:      "batch/" + id + ".bin",
		TotalSize:    totalSize,
		ChunkSize:    chunkSize,
		TotalChunks:  int((totalSize + chunkSize - 1) / chunkSize),
		Uploaded:     mapset.NewSet[int](),
		Status:       StatusInitialized,
		CreatedAt:    now,
		LastActivity: now,
	}
	source := &memSource{
		relPath: session.RelPath,
		data:    make([]byte, totalSize),
		reacq:   true,
	}
	return session, source
}

func startScheduler(t *testing.T, store SessionStore, tx ChunkTransmitter, cfg SchedulerConfig) *TransferScheduler {
	t.Helper()
	s := NewTransferScheduler(store, tx, cfg)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func TestScheduler_CompletesSession(t *testing.T) {
	store := newMemStore()
	tx := newFakeTransmitter()
	s := startScheduler(t, store, tx, SchedulerConfig{})

	session, source := newTestSession("s1", 10*1024, 1024)
	require.NoError(t, s.Enqueue(session, source))

	require.True(t, waitForStatus(s, "s1", StatusCompleted, 5*time.Second))

	sent := tx.sentChunks()
	assert.Len(t, sent, 10)
	for i := range 10 {
		assert.Contains(t, sent, fmt.Sprintf("s1:%d", i))
	}

	stored, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.True(t, stored.IsComplete())
}

func TestScheduler_GlobalChunkBound(t *testing.T) {
	store := newMemStore()
	tx := newFakeTransmitter()
	tx.delay = 10 * time.Millisecond
	s := startScheduler(t, store, tx, SchedulerConfig{
		GlobalChunkLimit:  4,
		SessionChunkLimit: 8,
		MaxActiveSessions: 3,
	})

	for i := range 3 {
		session, source := newTestSession(fmt.Sprintf("s%d", i), 8*1024, 1024)
		require.NoError(t, s.Enqueue(session, source))
	}
	for i := range 3 {
		require.True(t, waitForStatus(s, fmt.Sprintf("s%d", i), StatusCompleted, 10*time.Second))
	}

	assert.LessOrEqual(t, tx.maxInflight.Load(), int64(4))
	assert.Len(t, tx.sentChunks(), 24)
}

func TestScheduler_SessionChunkBound(t *testing.T) {
	store := newMemStore()
	tx := newFakeTransmitter()
	tx.delay = 10 * time.Millisecond
	s := startScheduler(t, store, tx, SchedulerConfig{
		GlobalChunkLimit:  16,
		SessionChunkLimit: 2,
		MaxActiveSessions: 1,
	})

	session, source := newTestSession("s1", 10*1024, 1024)
	require.NoError(t, s.Enqueue(session, source))
	require.True(t, waitForStatus(s, "s1", StatusCompleted, 10*time.Second))

	assert.LessOrEqual(t, tx.maxInflight.Load(), int64(2))
}

func TestScheduler_ChunkFailureSettlesError(t *testing.T) {
	store := newMemStore()
	tx := newFakeTransmitter()
	tx.failIndices[5] = errors.New("storage rejected chunk")
	s := startScheduler(t, store, tx, SchedulerConfig{
		SessionChunkLimit: 1, // serial, so the failure cuts off later chunks
	})

	session, source := newTestSession("s1", 10*1024, 1024)
	require.NoError(t, s.Enqueue(session, source))
	require.True(t, waitForStatus(s, "s1", StatusError, 5*time.Second))

	got, err := s.Session("s1")
	require.NoError(t, err)
	assert.Contains(t, got.LastError, "chunk 5")
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, got.Uploaded.ToSlice())

	// the record survives for a later user-driven retry
	stored, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, stored.Status)
}

func TestScheduler_RetryAfterErrorFinishesRemainder(t *testing.T) {
	store := newMemStore()
	tx := newFakeTransmitter()
	tx.failIndices[5] = errors.New("storage rejected chunk")
	s := startScheduler(t, store, tx, SchedulerConfig{SessionChunkLimit: 1})

	session, source := newTestSession("s1", 10*1024, 1024)
	require.NoError(t, s.Enqueue(session, source))
	require.True(t, waitForStatus(s, "s1", StatusError, 5*time.Second))

	tx.mu.Lock()
	delete(tx.failIndices, 5)
	tx.mu.Unlock()

	require.NoError(t, s.Retry("s1"))
	require.True(t, waitForStatus(s, "s1", StatusCompleted, 5*time.Second))

	// no chunk is ever sent twice, the retry covers only the missing set
	sent := tx.sentChunks()
	assert.Len(t, sent, 10)
	seen := map[string]bool{}
	for _, c := range sent {
		assert.False(t, seen[c], "chunk %s sent twice", c)
		seen[c] = true
	}

	got, err := s.Session("s1")
	require.NoError(t, err)
	assert.Empty(t, got.LastError)
}

func TestScheduler_PauseResumeRoundtrip(t *testing.T) {
	store := newMemStore()
	tx := newFakeTransmitter()
	tx.delay = 15 * time.Millisecond
	s := startScheduler(t, store, tx, SchedulerConfig{SessionChunkLimit: 1})

	session, source := newTestSession("s1", 20*1024, 1024)
	require.NoError(t, s.Enqueue(session, source))

	// wait until some progress exists, then pause mid-flight
	require.True(t, waitFor(5*time.Second, func() bool {
		got, err := s.Session("s1")
		return err == nil && got.UploadedCount() >= 2
	}))
	require.NoError(t, s.Pause("s1"))
	require.True(t, waitForStatus(s, "s1", StatusPaused, 5*time.Second))

	paused, err := s.Session("s1")
	require.NoError(t, err)
	uploadedAtPause := paused.UploadedCount()
	assert.Less(t, uploadedAtPause, 20)

	// pausing a paused session is a no-op
	require.NoError(t, s.Pause("s1"))

	require.NoError(t, s.Resume("s1"))
	require.True(t, waitForStatus(s, "s1", StatusCompleted, 10*time.Second))

	// acknowledged chunks were never re-sent
	sent := tx.sentChunks()
	seen := map[string]bool{}
	for _, c := range sent {
		assert.False(t, seen[c], "chunk %s sent twice", c)
		seen[c] = true
	}
	assert.Len(t, sent, 20)
}

func TestScheduler_PauseQueuedSession(t *testing.T) {
	store := newMemStore()
	tx := newFakeTransmitter()
	tx.delay = 20 * time.Millisecond
	s := startScheduler(t, store, tx, SchedulerConfig{MaxActiveSessions: 1})

	busy, busySource := newTestSession("busy", 10*1024, 1024)
	require.NoError(t, s.Enqueue(busy, busySource))
	require.True(t, waitForStatus(s, "busy", StatusUploading, 5*time.Second))

	queued, queuedSource := newTestSession("queued", 4*1024, 1024)
	require.NoError(t, s.Enqueue(queued, queuedSource))
	require.NoError(t, s.Pause("queued"))

	got, err := s.Session("queued")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, got.Status)

	require.True(t, waitForStatus(s, "busy", StatusCompleted, 10*time.Second))

	// the paused session was skipped by admission and sent nothing
	for _, c := range tx.sentChunks() {
		assert.NotContains(t, c, "queued:")
	}
}

func TestScheduler_CancelDeletesRecordAndStopsSends(t *testing.T) {
	store := newMemStore()
	tx := newFakeTransmitter()
	tx.delay = 15 * time.Millisecond
	s := startScheduler(t, store, tx, SchedulerConfig{SessionChunkLimit: 1})

	session, source := newTestSession("s1", 40*1024, 1024)
	require.NoError(t, s.Enqueue(session, source))
	require.True(t, waitForStatus(s, "s1", StatusUploading, 5*time.Second))

	require.NoError(t, s.Cancel("s1"))

	_, err := s.Session("s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, store.has("s1"))

	// in-flight requests drain and no new ones start
	require.True(t, waitFor(2*time.Second, func() bool { return tx.inflight.Load() == 0 }))
	before := len(tx.sentChunks())
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, before, len(tx.sentChunks()))

	// cancel of an unknown session reports not found
	assert.ErrorIs(t, s.Cancel("s1"), ErrSessionNotFound)
}

func TestScheduler_ResumedSessionSkipsAckedChunks(t *testing.T) {
	store := newMemStore()
	tx := newFakeTransmitter()
	s := startScheduler(t, store, tx, SchedulerConfig{})

	session, source := newTestSession("s1", 10*1024, 1024)
	session.Status = StatusPaused
	session.Uploaded.Add(0)
	session.Uploaded.Add(1)
	session.Uploaded.Add(7)
	s.Adopt(session, source)

	require.NoError(t, s.Resume("s1"))
	require.True(t, waitForStatus(s, "s1", StatusCompleted, 5*time.Second))

	sent := tx.sentChunks()
	assert.Len(t, sent, 7)
	assert.NotContains(t, sent, "s1:0")
	assert.NotContains(t, sent, "s1:1")
	assert.NotContains(t, sent, "s1:7")
}

func TestScheduler_AdoptedErrorNeedsReacquirableSource(t *testing.T) {
	store := newMemStore()
	tx := newFakeTransmitter()
	s := startScheduler(t, store, tx, SchedulerConfig{})

	session, _ := newTestSession("s1", 4*1024, 1024)
	session.Status = StatusError
	session.LastError = "file handle unavailable after restart, re-select the file to retry"
	s.Adopt(session, &detachedSource{relPath: session.RelPath, size: session.TotalSize})

	assert.ErrorIs(t, s.Retry("s1"), ErrSourceDetached)
}

func TestScheduler_TransitionGuards(t *testing.T) {
	store := newMemStore()
	tx := newFakeTransmitter()
	s := startScheduler(t, store, tx, SchedulerConfig{})

	session, source := newTestSession("s1", 2*1024, 1024)
	require.NoError(t, s.Enqueue(session, source))
	require.True(t, waitForStatus(s, "s1", StatusCompleted, 5*time.Second))

	assert.ErrorIs(t, s.Pause("s1"), ErrBadTransition)
	assert.ErrorIs(t, s.Resume("s1"), ErrBadTransition)
	assert.ErrorIs(t, s.Retry("s1"), ErrBadTransition)
	assert.ErrorIs(t, s.Cancel("s1"), ErrBadTransition)

	fresh, freshSource := newTestSession("s2", 1024, 1024)
	fresh.Status = StatusCompleted
	assert.ErrorIs(t, s.Enqueue(fresh, freshSource), ErrBadTransition)
}

func TestScheduler_EnqueueRequiresStart(t *testing.T) {
	s := NewTransferScheduler(newMemStore(), newFakeTransmitter(), SchedulerConfig{})
	session, source := newTestSession("s1", 1024, 1024)
	assert.ErrorIs(t, s.Enqueue(session, source), ErrSchedulerStopped)
}

func TestScheduler_StoreFailureDoesNotAbortTransfer(t *testing.T) {
	store := newMemStore()
	store.failPuts.Store(true)
	tx := newFakeTransmitter()
	s := startScheduler(t, store, tx, SchedulerConfig{})

	session, source := newTestSession("s1", 4*1024, 1024)
	require.NoError(t, s.Enqueue(session, source))
	require.True(t, waitForStatus(s, "s1", StatusCompleted, 5*time.Second))

	assert.Len(t, tx.sentChunks(), 4)
	assert.False(t, store.has("s1"))
}

func TestScheduler_EmitsCompletionEvent(t *testing.T) {
	store := newMemStore()
	tx := newFakeTransmitter()
	s := startScheduler(t, store, tx, SchedulerConfig{})

	session, source := newTestSession("s1", 3*1024, 1024)
	require.NoError(t, s.Enqueue(session, source))

	deadline := time.After(5 * time.Second)
	acked := 0
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == EventChunkAcked {
				acked++
			}
			if ev.Type == EventCompleted {
				assert.Equal(t, "s1", ev.SessionID)
				assert.Equal(t, 3, acked)
				return
			}
		case <-deadline:
			t.Fatal("no completion event")
		}
	}
}

func TestScheduler_ForgetDropsSettledSessions(t *testing.T) {
	store := newMemStore()
	tx := newFakeTransmitter()
	s := startScheduler(t, store, tx, SchedulerConfig{})

	session, source := newTestSession("s1", 1024, 1024)
	require.NoError(t, s.Enqueue(session, source))
	require.True(t, waitForStatus(s, "s1", StatusCompleted, 5*time.Second))
	assert.False(t, s.HasActive())

	s.Forget("s1")
	_, err := s.Session("s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, s.Sessions())
}
