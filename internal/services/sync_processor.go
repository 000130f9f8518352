package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"saldo/internal/metrics"
	"saldo/internal/storage"
)

// SyncQueue is the SQLite outbox of changes still to be mirrored.
type SyncQueue interface {
	PendingSync(ctx context.Context, limit, maxAttempts int) ([]storage.SyncItem, error)
	MarkSynced(ctx context.Context, kind, entityID string, revision int64) error
	MarkSyncError(ctx context.Context, id int64) error
	CleanupSynced(ctx context.Context, cutoff time.Time) (int64, error)
}

// Mirrorer copies one entity to the mirror, or removes it there.
type Mirrorer interface {
	Apply(ctx context.Context, entity, entityID string, deleted bool) error
}

type SyncProcessorConfig struct {
	// PollInterval is how often the queue is swept.
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries bounds attempts per item before it is left in error.
	MaxRetries      int
	CleanupInterval time.Duration
	// CleanupAge is how long synced items are kept.
	CleanupAge time.Duration
}

func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval:    30 * time.Second,
		BatchSize:       10,
		MaxRetries:      5,
		CleanupInterval: time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

// SyncProcessor sweeps the sync queue for changes whose event was lost.
type SyncProcessor struct {
	queue  SyncQueue
	mirror Mirrorer
	config SyncProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSyncProcessor(queue SyncQueue, mirror Mirrorer, config SyncProcessorConfig) *SyncProcessor {
	return &SyncProcessor{queue: queue, mirror: mirror, config: config}
}

// Start launches the sweep loop. It fails if the loop is already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.runLoop(ctx, p.stopCh, p.doneCh)

	slog.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for it, or for ctx.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}
}

func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	poll := time.NewTicker(p.config.PollInterval)
	defer poll.Stop()
	cleanup := time.NewTicker(p.config.CleanupInterval)
	defer cleanup.Stop()

	p.ProcessBatch(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-poll.C:
			p.ProcessBatch(ctx)
		case <-cleanup.C:
			p.cleanupSynced(ctx)
		}
	}
}

// ProcessBatch mirrors one batch of pending items and returns how many succeeded.
func (p *SyncProcessor) ProcessBatch(ctx context.Context) int {
	items, err := p.queue.PendingSync(ctx, p.config.BatchSize, p.config.MaxRetries)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read sync queue", "error", err)
		return 0
	}
	metrics.MirrorQueueDepth.Set(float64(len(items)))
	if len(items) == 0 {
		return 0
	}
	slog.DebugContext(ctx, "Processing sync batch", "count", len(items))

	synced := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return synced
		}
		if err := p.process(ctx, item); err != nil {
			p.handleFailure(ctx, item, err)
			continue
		}
		synced++
	}
	return synced
}

func (p *SyncProcessor) process(ctx context.Context, item storage.SyncItem) error {
	if err := p.mirror.Apply(ctx, item.Kind, item.EntityID, item.Op == storage.OpDelete); err != nil {
		return fmt.Errorf("mirror %s %s: %w", item.Kind, item.EntityID, err)
	}
	if err := p.queue.MarkSynced(ctx, item.Kind, item.EntityID, item.Revision); err != nil {
		slog.WarnContext(ctx, "Failed to mark change as synced", "id", item.ID, "error", err)
	}
	return nil
}

func (p *SyncProcessor) handleFailure(ctx context.Context, item storage.SyncItem, processErr error) {
	attempt := item.Attempts + 1
	slog.WarnContext(ctx, "Sync processing failed",
		"id", item.ID,
		"kind", item.Kind,
		"entity_id", item.EntityID,
		"attempt", attempt,
		"error", processErr)

	if err := p.queue.MarkSyncError(ctx, item.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to record sync error", "id", item.ID, "error", err)
	}
	if attempt >= p.config.MaxRetries {
		slog.ErrorContext(ctx, "Sync item failed permanently after max retries",
			"id", item.ID,
			"entity_id", item.EntityID,
			"attempts", attempt)
	}
}

func (p *SyncProcessor) cleanupSynced(ctx context.Context) {
	n, err := p.queue.CleanupSynced(ctx, time.Now().Add(-p.config.CleanupAge))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to clean up synced items", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "Cleaned up synced items", "count", n)
	}
}
