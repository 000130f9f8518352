package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"saldo/internal/cache"
	"saldo/internal/core"
	"saldo/internal/ledger"
	"saldo/internal/log"
	"saldo/internal/metrics"
	"saldo/internal/reconcile"
)

var ErrInvalidWindow = errors.New("window end must be after its start")

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Validate() error {
	if w.From.IsZero() || w.To.IsZero() || !w.To.After(w.From) {
		return ErrInvalidWindow
	}
	return nil
}

// MonthWindow returns the calendar month containing t, in t's location.
func MonthWindow(t time.Time) Window {
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return Window{From: from, To: from.AddDate(0, 1, 0)}
}

// ReconcileService builds reconciled ledgers from a ledger store.
type ReconcileService struct {
	store  ledger.Reader
	cache  cache.Cache[reconcile.Ledger]
	group  singleflight.Group
	logger *log.StructuredLogger
}

// NewReconcileService memoizes results in c when it is not nil. Cached
// entries are keyed by store revision, so any write makes them unreachable.
func NewReconcileService(store ledger.Reader, c cache.Cache[reconcile.Ledger], logger *log.Logger) *ReconcileService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ReconcileService{
		store:  store,
		cache:  c,
		logger: log.NewStructuredLogger(logger.WithComponent(log.ComponentReconcile)),
	}
}

// AccountLedger reconciles the account over w and groups the result by day in loc.
func (s *ReconcileService) AccountLedger(ctx context.Context, accountID string, w Window, loc *time.Location) (reconcile.Ledger, error) {
	if accountID == "" {
		return reconcile.Ledger{}, core.ErrEmptyAccount
	}
	if err := w.Validate(); err != nil {
		return reconcile.Ledger{}, err
	}
	if loc == nil {
		loc = time.UTC
	}

	rev, err := s.store.Revision(ctx)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return reconcile.Ledger{}, fmt.Errorf("read revision: %w", err)
	}
	key := fmt.Sprintf("%s|%d|%d|%s|%d", accountID, w.From.UnixNano(), w.To.UnixNano(), loc, rev)

	if s.cache != nil {
		if l, ok := s.cache.Get(key); ok {
			metrics.ReconcileRuns.WithLabelValues("cached").Inc()
			s.logger.LogReconciled(ctx, accountID, w.From, w.To, 0, 0, len(l.Divergences), true)
			return l.Clone(), nil
		}
	}

	// The shared computation outlives any single caller; each caller stops
	// waiting when its own context ends.
	ch := s.group.DoChan(key, func() (any, error) {
		l, err := s.compute(context.WithoutCancel(ctx), accountID, w, loc)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Set(key, l)
		}
		return l, nil
	})
	select {
	case <-ctx.Done():
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return reconcile.Ledger{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			metrics.ReconcileRuns.WithLabelValues("error").Inc()
			return reconcile.Ledger{}, res.Err
		}
		metrics.ReconcileRuns.WithLabelValues("computed").Inc()
		return res.Val.(reconcile.Ledger).Clone(), nil
	}
}

func (s *ReconcileService) compute(ctx context.Context, accountID string, w Window, loc *time.Location) (reconcile.Ledger, error) {
	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.WithLabelValues("store").Observe(time.Since(start).Seconds())
	}()

	var (
		accounts []core.Account
		txs      []core.Transaction
		snaps    []core.BalanceSnapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		accounts, err = s.store.ListAccounts(gctx)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		txs, err = s.store.ListTransactions(gctx, ledger.Query{AccountID: accountID, From: w.From, To: w.To})
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		snaps, err = s.store.ListSnapshots(gctx, accountID)
		if err != nil {
			return fmt.Errorf("list snapshots: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return reconcile.Ledger{}, err
	}

	index := reconcile.IndexAccounts(accounts)
	if _, ok := index[accountID]; !ok {
		return reconcile.Ledger{}, fmt.Errorf("account %s: %w", accountID, core.ErrNotFound)
	}

	in := reconcile.Input{
		AccountID:    accountID,
		Transactions: txs,
		Snapshots:    snaps,
		Accounts:     index,
	}

	// Carry the anchor across transactions recorded before the window
	if windowStart, ok := earliest(txs); ok {
		if anchor, ok := reconcile.Anchor(snaps, windowStart); ok {
			gap, err := s.store.ListTransactions(ctx, ledger.Query{AccountID: accountID, From: anchor.Date, To: windowStart})
			if err != nil {
				return reconcile.Ledger{}, fmt.Errorf("list gap transactions: %w", err)
			}
			in.GapTransactions = gap
		}
	}

	res := reconcile.Reconcile(in)
	metrics.TransactionsScanned.Observe(float64(len(txs) + len(in.GapTransactions)))
	metrics.DivergencesFound.Add(float64(len(res.Divergences)))
	s.logger.LogReconciled(ctx, accountID, w.From, w.To, len(txs), len(snaps), len(res.Divergences), false)

	return reconcile.GroupByDay(in, res, loc), nil
}

// Stateless runs reconciliation over caller-supplied data.
func (s *ReconcileService) Stateless(ctx context.Context, in reconcile.Input, loc *time.Location) (reconcile.Result, reconcile.Ledger) {
	start := time.Now()
	res := reconcile.Reconcile(in)
	metrics.ReconcileDuration.WithLabelValues("request").Observe(time.Since(start).Seconds())
	metrics.DivergencesFound.Add(float64(len(res.Divergences)))
	s.logger.LogReconciled(ctx, in.AccountID, time.Time{}, time.Time{}, len(in.Transactions), len(in.Snapshots), len(res.Divergences), false)
	return res, reconcile.GroupByDay(in, res, loc)
}

func earliest(txs []core.Transaction) (time.Time, bool) {
	if len(txs) == 0 {
		return time.Time{}, false
	}
	first := txs[0].Date
	for _, tx := range txs[1:] {
		if tx.Date.Before(first) {
			first = tx.Date
		}
	}
	return first, true
}
