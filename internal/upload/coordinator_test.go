package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhaul/haulbox/internal/haulsdk"
)

// fakeServer records upload registrations and discard notices.
type fakeServer struct {
	mu           sync.Mutex
	created      []string
	deleted      []string
	failCreate   map[string]error // keyed by relative path
	seedChunks   map[string][]int // acks returned on Create, keyed by relative path
	statusChunks map[string][]int // acks returned on Status, keyed by upload id
	statusErr    error
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		failCreate:   make(map[string]error),
		seedChunks:   make(map[string][]int),
		statusChunks: make(map[string][]int),
	}
}

func (f *fakeServer) Create(ctx context.Context, params *haulsdk.CreateUploadRequest) (*haulsdk.CreateUploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failCreate[params.RelativePath]; ok {
		return nil, err
	}
	f.created = append(f.created, params.RelativePath)
	return &haulsdk.CreateUploadResponse{
		UploadID:       params.UploadID,
		UploadedChunks: f.seedChunks[params.RelativePath],
	}, nil
}

func (f *fakeServer) Status(ctx context.Context, uploadID string) (*haulsdk.UploadStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &haulsdk.UploadStatusResponse{
		UploadID:       uploadID,
		UploadedChunks: f.statusChunks[uploadID],
	}, nil
}

func (f *fakeServer) Delete(ctx context.Context, uploadID string) (*haulsdk.DeleteUploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, uploadID)
	return &haulsdk.DeleteUploadResponse{UploadID: uploadID, Deleted: true}, nil
}

func (f *fakeServer) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deleted))
	copy(out, f.deleted)
	return out
}

func coordinatorFixture(t *testing.T, store SessionStore, server ServerClient, tx ChunkTransmitter) *UploadCoordinator {
	t.Helper()
	cfg := DefaultCoordinatorConfig()
	cfg.ChunkSize = 1024
	cfg.RefreshQuiet = 50 * time.Millisecond
	c := NewCoordinator(store, server, cfg, WithTransmitter(tx))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	return c
}

func writeBatchDir(t *testing.T, files map[string]int) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "batch")
	for name, size := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	}
	return root
}

func TestCoordinator_SubmitBatchUploadsAll(t *testing.T) {
	root := writeBatchDir(t, map[string]int{
		"a.bin":     2500,
		"sub/b.bin": 1024,
	})

	store := newMemStore()
	server := newFakeServer()
	tx := newFakeTransmitter()
	c := coordinatorFixture(t, store, server, tx)

	ctx := context.Background()
	result, err := c.Scan(ctx, &Selection{Paths: []string{root}})
	require.NoError(t, err)
	require.Len(t, result.Files, 2)

	sessions, err := c.SubmitBatch(ctx, result, "/dest")
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	for _, session := range sessions {
		require.True(t, waitForStatus(c.scheduler, session.ID, StatusCompleted, 5*time.Second))
		assert.True(t, store.has(session.ID))
	}

	// a.bin is 2500 bytes at 1024-byte chunks, so 3 chunks; b.bin is 1
	assert.Len(t, tx.sentChunks(), 4)
	assert.ElementsMatch(t, []string{"batch/a.bin", "batch/sub/b.bin"}, server.created)
}

func TestCoordinator_SubmitBatchSkipsFailedRegistration(t *testing.T) {
	root := writeBatchDir(t, map[string]int{
		"good.bin": 1024,
		"bad.bin":  1024,
	})

	store := newMemStore()
	server := newFakeServer()
	server.failCreate["batch/bad.bin"] = errors.New("quota exceeded")
	tx := newFakeTransmitter()
	c := coordinatorFixture(t, store, server, tx)

	ctx := context.Background()
	result, err := c.Scan(ctx, &Selection{Paths: []string{root}})
	require.NoError(t, err)

	sessions, err := c.SubmitBatch(ctx, result, "/dest")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "batch/good.bin", sessions[0].RelPath)
}

func TestCoordinator_SubmitBatchSeedsServerAcks(t *testing.T) {
	root := writeBatchDir(t, map[string]int{"a.bin": 4096})

	store := newMemStore()
	server := newFakeServer()
	// the server already holds chunks 0 and 2 from an interrupted upload
	server.seedChunks["batch/a.bin"] = []int{0, 2}
	tx := newFakeTransmitter()
	c := coordinatorFixture(t, store, server, tx)

	ctx := context.Background()
	result, err := c.Scan(ctx, &Selection{Paths: []string{root}})
	require.NoError(t, err)
	sessions, err := c.SubmitBatch(ctx, result, "/dest")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	id := sessions[0].ID

	require.True(t, waitForStatus(c.scheduler, id, StatusCompleted, 5*time.Second))
	assert.ElementsMatch(t, []string{id + ":1", id + ":3"}, tx.sentChunks())
}

func TestCoordinator_EmptyBatchIsNoop(t *testing.T) {
	store := newMemStore()
	c := coordinatorFixture(t, store, newFakeServer(), newFakeTransmitter())

	sessions, err := c.SubmitBatch(context.Background(), &ScanResult{}, "/dest")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCoordinator_CancelNotifiesServer(t *testing.T) {
	root := writeBatchDir(t, map[string]int{"a.bin": 20 * 1024})

	store := newMemStore()
	server := newFakeServer()
	tx := newFakeTransmitter()
	tx.delay = 15 * time.Millisecond
	c := coordinatorFixture(t, store, server, tx)

	ctx := context.Background()
	result, err := c.Scan(ctx, &Selection{Paths: []string{root}})
	require.NoError(t, err)
	sessions, err := c.SubmitBatch(ctx, result, "/dest")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	id := sessions[0].ID

	require.True(t, waitForStatus(c.scheduler, id, StatusUploading, 5*time.Second))
	require.NoError(t, c.Cancel(id))

	assert.False(t, store.has(id))
	require.True(t, waitFor(2*time.Second, func() bool {
		return len(server.deletedIDs()) == 1
	}))
	assert.Equal(t, []string{id}, server.deletedIDs())
}

func TestCoordinator_DebouncedRefreshFiresOncePerBatch(t *testing.T) {
	root := writeBatchDir(t, map[string]int{
		"a.bin": 1024,
		"b.bin": 1024,
		"c.bin": 1024,
	})

	store := newMemStore()
	server := newFakeServer()
	tx := newFakeTransmitter()

	var refreshes atomic.Int32
	cfg := DefaultCoordinatorConfig()
	cfg.ChunkSize = 1024
	cfg.RefreshQuiet = 50 * time.Millisecond
	c := NewCoordinator(store, server, cfg,
		WithTransmitter(tx),
		WithRefreshFunc(func() { refreshes.Add(1) }),
	)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	ctx := context.Background()
	result, err := c.Scan(ctx, &Selection{Paths: []string{root}})
	require.NoError(t, err)
	sessions, err := c.SubmitBatch(ctx, result, "/dest")
	require.NoError(t, err)
	require.Len(t, sessions, 3)

	for _, session := range sessions {
		require.True(t, waitForStatus(c.scheduler, session.ID, StatusCompleted, 5*time.Second))
	}

	// three completions inside one quiet period collapse into one notification
	require.True(t, waitFor(2*time.Second, func() bool { return refreshes.Load() > 0 }))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), refreshes.Load())
}

func TestCoordinator_RestoreReattachesAndReconciles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "restore.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o644))

	store, err := NewSessionStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	persisted := newStoreSession("s1")
	persisted.Status = StatusUploading
	persisted.SourcePath = path
	persisted.Uploaded.Add(0)
	require.NoError(t, store.Put(context.Background(), persisted))

	server := newFakeServer()
	// the server acked chunk 1 after the client crashed
	server.statusChunks["s1"] = []int{0, 1}

	tx := newFakeTransmitter()
	c := coordinatorFixture(t, store, server, tx)

	restored, err := c.RestoreAll(context.Background())
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, StatusPaused, restored[0].Status)
	assert.ElementsMatch(t, []int{0, 1}, restored[0].Uploaded.ToSlice())

	// resume finishes only the truly missing chunks
	require.NoError(t, c.Resume("s1"))
	require.True(t, waitForStatus(c.scheduler, "s1", StatusCompleted, 5*time.Second))
	assert.ElementsMatch(t, []string{"s1:2", "s1:3"}, tx.sentChunks())
}

func TestCoordinator_RestoreLostHandleStaysError(t *testing.T) {
	store, err := NewSessionStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	persisted := newStoreSession("s1")
	persisted.Status = StatusUploading
	persisted.SourcePath = filepath.Join(t.TempDir(), "missing.bin")
	require.NoError(t, store.Put(context.Background(), persisted))

	c := coordinatorFixture(t, store, newFakeServer(), newFakeTransmitter())

	restored, err := c.RestoreAll(context.Background())
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, StatusError, restored[0].Status)

	// resume is rejected, retry needs a re-selected file
	assert.Error(t, c.Resume("s1"))
	assert.ErrorIs(t, c.Retry("s1"), ErrSourceDetached)
}

func TestCoordinator_ProgressAndClearCompleted(t *testing.T) {
	root := writeBatchDir(t, map[string]int{"a.bin": 2048})

	store := newMemStore()
	c := coordinatorFixture(t, store, newFakeServer(), newFakeTransmitter())

	ctx := context.Background()
	result, err := c.Scan(ctx, &Selection{Paths: []string{root}})
	require.NoError(t, err)
	sessions, err := c.SubmitBatch(ctx, result, "/dest")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	id := sessions[0].ID

	require.True(t, waitForStatus(c.scheduler, id, StatusCompleted, 5*time.Second))
	assert.False(t, c.HasActiveSessions())

	progress := c.Progress()
	require.Len(t, progress.Sessions, 1)
	assert.Equal(t, int64(2048), progress.UploadedBytes)
	assert.InDelta(t, 1.0, progress.Fraction, 0.001)

	cleared, err := c.ClearCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)
	assert.False(t, store.has(id))
	assert.Empty(t, c.Sessions())
}
