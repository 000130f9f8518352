package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"saldo/internal/amqp"
	"saldo/internal/core"
	"saldo/internal/metrics"
	"saldo/internal/storage"
)

// Source reads the authoritative copy of a changed entity.
type Source interface {
	ListAccounts(ctx context.Context) ([]core.Account, error)
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	GetSnapshot(ctx context.Context, id string) (core.BalanceSnapshot, error)
}

// Target is the spreadsheet mirror.
type Target interface {
	MirrorAccount(ctx context.Context, a core.Account) error
	MirrorTransaction(ctx context.Context, tx core.Transaction) error
	MirrorSnapshot(ctx context.Context, s core.BalanceSnapshot) error
	MirrorDelete(ctx context.Context, entity, id string) error
}

// Acker records that a change reached the mirror.
type Acker interface {
	MarkSynced(ctx context.Context, kind, entityID string, revision int64) error
}

// SyncWorker copies ledger changes from SQLite to Google Sheets.
type SyncWorker struct {
	source Source
	target Target
	acker  Acker
}

func NewSyncWorker(source Source, target Target, acker Acker) *SyncWorker {
	return &SyncWorker{source: source, target: target, acker: acker}
}

// HandleLedgerChange processes a single ledger change message from AMQP.
func (w *SyncWorker) HandleLedgerChange(ctx context.Context, msg *amqp.LedgerChangedMessage) error {
	slog.InfoContext(ctx, "Processing ledger change",
		"kind", msg.Kind,
		"entity_id", msg.EntityID,
		"revision", msg.Revision)

	entity := msg.Kind.Entity()
	if err := w.Apply(ctx, entity, msg.EntityID, msg.Kind.IsDelete()); err != nil {
		return err
	}

	if w.acker != nil {
		if err := w.acker.MarkSynced(ctx, entity, msg.EntityID, msg.Revision); err != nil {
			// The mirror write is done; the sweep will redo an idempotent upsert.
			slog.ErrorContext(ctx, "Failed to mark as synced", "entity_id", msg.EntityID, "error", err)
		}
	}
	return nil
}

// Apply brings the mirror row of one entity in line with storage. An entity
// that no longer exists in storage is removed from the mirror.
func (w *SyncWorker) Apply(ctx context.Context, entity, id string, deleted bool) error {
	err := w.apply(ctx, entity, id, deleted)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.MirrorOperations.WithLabelValues(entity, result).Inc()
	return err
}

func (w *SyncWorker) apply(ctx context.Context, entity, id string, deleted bool) error {
	if deleted {
		return w.remove(ctx, entity, id)
	}

	var err error
	switch entity {
	case storage.EntityAccount:
		var a core.Account
		if a, err = w.account(ctx, id); err == nil {
			err = w.target.MirrorAccount(ctx, a)
		}
	case storage.EntityTransaction:
		var tx core.Transaction
		if tx, err = w.source.GetTransaction(ctx, id); err == nil {
			err = w.target.MirrorTransaction(ctx, tx)
		}
	case storage.EntitySnapshot:
		var s core.BalanceSnapshot
		if s, err = w.source.GetSnapshot(ctx, id); err == nil {
			err = w.target.MirrorSnapshot(ctx, s)
		}
	default:
		return fmt.Errorf("unknown entity %q", entity)
	}

	if errors.Is(err, core.ErrNotFound) {
		slog.InfoContext(ctx, "Entity gone from storage, removing mirror row",
			"entity", entity,
			"entity_id", id)
		return w.remove(ctx, entity, id)
	}
	if err != nil {
		return fmt.Errorf("mirror %s %s: %w", entity, id, err)
	}

	slog.InfoContext(ctx, "Successfully mirrored entity", "entity", entity, "entity_id", id)
	return nil
}

func (w *SyncWorker) remove(ctx context.Context, entity, id string) error {
	if err := w.target.MirrorDelete(ctx, entity, id); err != nil {
		return fmt.Errorf("delete mirror %s %s: %w", entity, id, err)
	}
	slog.InfoContext(ctx, "Successfully deleted mirror row", "entity", entity, "entity_id", id)
	return nil
}

func (w *SyncWorker) account(ctx context.Context, id string) (core.Account, error) {
	accounts, err := w.source.ListAccounts(ctx)
	if err != nil {
		return core.Account{}, err
	}
	for _, a := range accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return core.Account{}, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
}
