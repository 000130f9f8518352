package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"saldo/internal/amqp"
	"saldo/internal/core"
	"saldo/internal/ledger"
	"saldo/internal/log"
	"saldo/internal/metrics"
)

// Publisher announces committed ledger writes.
type Publisher interface {
	PublishLedgerChanged(ctx context.Context, msg *amqp.LedgerChangedMessage) error
}

// LedgerService writes ledger entries and announces them. The store write is
// authoritative; a failed publish is logged and the sync queue catches up.
type LedgerService struct {
	store     ledger.Store
	publisher Publisher
	logger    *log.Logger
	events    *log.StructuredLogger
	newID     func() string
}

// NewLedgerService accepts a nil publisher when AMQP is disabled.
func NewLedgerService(store ledger.Store, publisher Publisher, logger *log.Logger) *LedgerService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentLedger)
	return &LedgerService{
		store:     store,
		publisher: publisher,
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
		newID:     uuid.NewString,
	}
}

func (s *LedgerService) ListAccounts(ctx context.Context) ([]core.Account, error) {
	return s.store.ListAccounts(ctx)
}

func (s *LedgerService) ListSnapshots(ctx context.Context, accountID string) ([]core.BalanceSnapshot, error) {
	return s.store.ListSnapshots(ctx, accountID)
}

// SaveAccount creates or replaces an account. A missing id is generated.
func (s *LedgerService) SaveAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.ID == "" {
		a.ID = s.newID()
	}
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	if err := s.store.SaveAccount(ctx, a); err != nil {
		metrics.LedgerWrites.WithLabelValues(string(amqp.AccountSaved), "error").Inc()
		return core.Account{}, fmt.Errorf("save account: %w", err)
	}
	s.announce(ctx, amqp.AccountSaved, a.ID, a.ID)
	return a, nil
}

// CreateTransaction stores tx, generating its id when empty.
func (s *LedgerService) CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if tx.ID == "" {
		tx.ID = s.newID()
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		metrics.LedgerWrites.WithLabelValues(string(amqp.TransactionCreated), "error").Inc()
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	rev := s.announce(ctx, amqp.TransactionCreated, tx.ID, touchedAccounts(tx)...)
	s.events.LogTransactionCreated(ctx, tx.ID, tx.AccountID, tx.Amount, rev)
	return tx, nil
}

func (s *LedgerService) DeleteTransaction(ctx context.Context, id string) error {
	tx, err := s.store.DeleteTransaction(ctx, id)
	if err != nil {
		metrics.LedgerWrites.WithLabelValues(string(amqp.TransactionDeleted), "error").Inc()
		return fmt.Errorf("delete transaction: %w", err)
	}
	s.announce(ctx, amqp.TransactionDeleted, id, touchedAccounts(tx)...)
	return nil
}

// CreateSnapshot records the balance the user observed on an account.
func (s *LedgerService) CreateSnapshot(ctx context.Context, snap core.BalanceSnapshot) (core.BalanceSnapshot, error) {
	if snap.ID == "" {
		snap.ID = s.newID()
	}
	if err := snap.Validate(); err != nil {
		return core.BalanceSnapshot{}, err
	}
	if err := s.requireAccount(ctx, snap.AccountID); err != nil {
		return core.BalanceSnapshot{}, err
	}
	if err := s.store.CreateSnapshot(ctx, snap); err != nil {
		metrics.LedgerWrites.WithLabelValues(string(amqp.SnapshotCreated), "error").Inc()
		return core.BalanceSnapshot{}, fmt.Errorf("create snapshot: %w", err)
	}
	rev := s.announce(ctx, amqp.SnapshotCreated, snap.ID, snap.AccountID)
	s.events.LogSnapshotCreated(ctx, snap.ID, snap.AccountID, snap.Amount, rev)
	return snap, nil
}

// requireAccount fails with core.ErrNotFound unless the account is known.
func (s *LedgerService) requireAccount(ctx context.Context, id string) error {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	if !slices.ContainsFunc(accounts, func(a core.Account) bool { return a.ID == id }) {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *LedgerService) DeleteSnapshot(ctx context.Context, id string) error {
	snap, err := s.store.DeleteSnapshot(ctx, id)
	if err != nil {
		metrics.LedgerWrites.WithLabelValues(string(amqp.SnapshotDeleted), "error").Inc()
		return fmt.Errorf("delete snapshot: %w", err)
	}
	s.announce(ctx, amqp.SnapshotDeleted, id, snap.AccountID)
	return nil
}

// announce records a successful write and publishes it. It returns the
// store revision the write produced, or 0 if it could not be read.
func (s *LedgerService) announce(ctx context.Context, kind amqp.ChangeKind, entityID string, accountIDs ...string) int64 {
	metrics.LedgerWrites.WithLabelValues(string(kind), "ok").Inc()

	rev, err := s.store.Revision(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to read revision after write", log.FieldError, err)
	}

	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP publisher not configured, skipping event", "kind", kind)
		return rev
	}
	if err := s.publisher.PublishLedgerChanged(ctx, amqp.NewLedgerChangedMessage(kind, entityID, rev, accountIDs...)); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		s.logger.ErrorContext(ctx, "Failed to publish ledger change",
			"kind", kind,
			"entity_id", entityID,
			log.FieldError, err)
		return rev
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
	return rev
}

func touchedAccounts(tx core.Transaction) []string {
	if tx.ToAccountID != "" && tx.ToAccountID != tx.AccountID {
		return []string{tx.AccountID, tx.ToAccountID}
	}
	return []string{tx.AccountID}
}
