package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"saldo/internal/core"
	"saldo/internal/reconcile"
)

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			ErrorResponse(http.StatusServiceUnavailable, "backend not ready: "+err.Error()).Write(w)
			return
		}
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.ListAccounts(r.Context())
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	if accounts == nil {
		accounts = []core.Account{}
	}
	NewJSONResponse().Body(map[string]any{"accounts": accounts}).Write(w)
}

func (s *Server) handleSaveAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	a, err := s.ledger.SaveAccount(r.Context(), req.toAccount())
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(a).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	tx, err := req.toTransaction(s.loc)
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	tx, err = s.ledger.CreateTransaction(r.Context(), tx)
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(tx).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteTransaction(r.Context(), chi.URLParam(r, "id")); err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.ledger.ListSnapshots(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	if snaps == nil {
		snaps = []core.BalanceSnapshot{}
	}
	NewJSONResponse().Body(map[string]any{"snapshots": snaps}).Write(w)
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	snap, err := req.toSnapshot(chi.URLParam(r, "id"), s.loc)
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	snap, err = s.ledger.CreateSnapshot(r.Context(), snap)
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(snap).Write(w)
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteSnapshot(r.Context(), chi.URLParam(r, "id")); err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// handleAccountLedger returns the reconciled, day-grouped ledger of one account.
func (s *Server) handleAccountLedger(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	loc, err := parseLocation(query, s.loc)
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	window, err := ParseWindowParams(query, loc, s.now())
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}

	ledger, err := s.reconciler.AccountLedger(r.Context(), chi.URLParam(r, "id"), window, loc)
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	NewJSONResponse().Body(ledger).Write(w)
}

type reconcileResponse struct {
	reconcile.Result
	Ledger reconcile.Ledger `json:"ledger"`
}

// handleReconcile reconciles caller-supplied data without touching storage.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeJSON(w, r, maxReconcileBodyBytes, &req); err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	if strings.TrimSpace(req.AccountID) == "" {
		ErrorFor(r, core.ErrEmptyAccount).Write(w)
		return
	}
	loc := s.loc
	if req.TZ != "" {
		l, err := time.LoadLocation(req.TZ)
		if err != nil {
			BadRequestError("unknown time zone " + req.TZ).Write(w)
			return
		}
		loc = l
	}

	res, ledger := s.reconciler.Stateless(r.Context(), reconcile.Input{
		AccountID:       req.AccountID,
		Transactions:    req.Transactions,
		Snapshots:       req.Snapshots,
		GapTransactions: req.GapTransactions,
		Accounts:        reconcile.IndexAccounts(req.Accounts),
	}, loc)

	NewJSONResponse().Body(reconcileResponse{Result: res, Ledger: ledger}).Write(w)
}
