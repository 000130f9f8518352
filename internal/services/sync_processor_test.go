package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"saldo/internal/storage"
)

type fakeQueue struct {
	mu      sync.Mutex
	items   []storage.SyncItem
	synced  []string
	errored []int64
	cleaned int
}

func (q *fakeQueue) PendingSync(_ context.Context, limit, _ int) ([]storage.SyncItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > limit {
		return append([]storage.SyncItem(nil), q.items[:limit]...), nil
	}
	return append([]storage.SyncItem(nil), q.items...), nil
}

func (q *fakeQueue) MarkSynced(_ context.Context, kind, entityID string, _ int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.synced = append(q.synced, kind+"/"+entityID)
	return nil
}

func (q *fakeQueue) MarkSyncError(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.errored = append(q.errored, id)
	return nil
}

func (q *fakeQueue) CleanupSynced(_ context.Context, _ time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cleaned++
	return 0, nil
}

type applied struct {
	entity, id string
	deleted    bool
}

type fakeMirror struct {
	mu      sync.Mutex
	calls   []applied
	failFor string
}

func (m *fakeMirror) Apply(_ context.Context, entity, id string, deleted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, applied{entity, id, deleted})
	if id == m.failFor {
		return errors.New("sheets unavailable")
	}
	return nil
}

func TestSyncProcessorProcessBatch(t *testing.T) {
	q := &fakeQueue{items: []storage.SyncItem{
		{ID: 1, Kind: storage.EntityTransaction, EntityID: "t1", Op: storage.OpUpsert, Revision: 1},
		{ID: 2, Kind: storage.EntitySnapshot, EntityID: "s1", Op: storage.OpDelete, Revision: 2},
		{ID: 3, Kind: storage.EntityAccount, EntityID: "bad", Op: storage.OpUpsert, Revision: 3},
	}}
	m := &fakeMirror{failFor: "bad"}
	p := NewSyncProcessor(q, m, DefaultSyncProcessorConfig())

	if got := p.ProcessBatch(context.Background()); got != 2 {
		t.Fatalf("expected 2 synced, got %d", got)
	}
	if len(m.calls) != 3 {
		t.Fatalf("expected 3 mirror calls, got %d", len(m.calls))
	}
	if !m.calls[1].deleted || m.calls[0].deleted {
		t.Errorf("delete flag not propagated: %+v", m.calls)
	}
	want := []string{"transaction/t1", "snapshot/s1"}
	if len(q.synced) != len(want) {
		t.Fatalf("synced = %v, want %v", q.synced, want)
	}
	for i := range want {
		if q.synced[i] != want[i] {
			t.Errorf("synced[%d] = %s, want %s", i, q.synced[i], want[i])
		}
	}
	if len(q.errored) != 1 || q.errored[0] != 3 {
		t.Errorf("errored = %v, want [3]", q.errored)
	}
}

func TestSyncProcessorRespectsBatchSize(t *testing.T) {
	q := &fakeQueue{}
	for i := range 5 {
		q.items = append(q.items, storage.SyncItem{ID: int64(i + 1), Kind: storage.EntityTransaction, EntityID: "t", Op: storage.OpUpsert})
	}
	cfg := DefaultSyncProcessorConfig()
	cfg.BatchSize = 2
	p := NewSyncProcessor(q, &fakeMirror{}, cfg)

	if got := p.ProcessBatch(context.Background()); got != 2 {
		t.Errorf("expected 2 synced, got %d", got)
	}
}

func TestSyncProcessorLifecycle(t *testing.T) {
	q := &fakeQueue{}
	cfg := DefaultSyncProcessorConfig()
	cfg.PollInterval = 10 * time.Millisecond
	p := NewSyncProcessor(q, &fakeMirror{}, cfg)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Errorf("expected error on second start")
	}
	if !p.IsRunning() {
		t.Errorf("expected running")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.IsRunning() {
		t.Errorf("expected stopped")
	}
	if err := p.Stop(stopCtx); err != nil {
		t.Errorf("second stop should be a no-op, got %v", err)
	}
}
