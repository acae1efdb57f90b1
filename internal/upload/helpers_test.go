package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// memStore is an in-memory SessionStore for scheduler and coordinator tests.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	failPuts atomic.Bool
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*Session)}
}

func (m *memStore) Put(ctx context.Context, session *Session) error {
	if m.failPuts.Load() {
		return errors.New("disk full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *memStore) GetAll(ctx context.Context) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) RestoreAll(ctx context.Context) ([]*Session, error) {
	return m.GetAll(ctx)
}

func (m *memStore) Close() error { return nil }

func (m *memStore) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// fakeTransmitter acks chunks instantly unless told to fail specific indices.
// It tracks the maximum number of concurrently in-flight sends.
type fakeTransmitter struct {
	mu          sync.Mutex
	failIndices map[int]error
	sent        []string // "<id>:<index>"
	inflight    atomic.Int64
	maxInflight atomic.Int64
	delay       time.Duration
}

func newFakeTransmitter() *fakeTransmitter {
	return &fakeTransmitter{failIndices: make(map[int]error)}
}

func (f *fakeTransmitter) Send(ctx context.Context, uploadID string, index int, data []byte) (*Ack, error) {
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		max := f.maxInflight.Load()
		if cur <= max || f.maxInflight.CompareAndSwap(max, cur) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	f.mu.Lock()
	if err, ok := f.failIndices[index]; ok {
		f.mu.Unlock()
		return nil, err
	}
	f.sent = append(f.sent, fmt.Sprintf("%s:%d", uploadID, index))
	f.mu.Unlock()

	return &Ack{Index: index, Attempts: 1}, nil
}

func (f *fakeTransmitter) sentChunks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func waitForStatus(s *TransferScheduler, id string, want Status, timeout time.Duration) bool {
	return waitFor(timeout, func() bool {
		session, err := s.Session(id)
		return err == nil && session.Status == want
	})
}
