package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/middleware/ratelimit"
	"saldo/internal/middleware/security"
	"saldo/internal/middleware/trace"
	"saldo/internal/reconcile"
	"saldo/internal/services"
)

// LedgerAPI is the write side used by the handlers.
type LedgerAPI interface {
	ListAccounts(ctx context.Context) ([]core.Account, error)
	SaveAccount(ctx context.Context, a core.Account) (core.Account, error)
	CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
	ListSnapshots(ctx context.Context, accountID string) ([]core.BalanceSnapshot, error)
	CreateSnapshot(ctx context.Context, s core.BalanceSnapshot) (core.BalanceSnapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// ReconcileAPI builds reconciled ledgers.
type ReconcileAPI interface {
	AccountLedger(ctx context.Context, accountID string, w services.Window, loc *time.Location) (reconcile.Ledger, error)
	Stateless(ctx context.Context, in reconcile.Input, loc *time.Location) (reconcile.Result, reconcile.Ledger)
}

type Config struct {
	Addr               string
	RateLimitPerMinute int
	// Location is the default display time zone.
	Location *time.Location
	Logger   *log.Logger
	// Ready reports whether the backend can serve requests. Nil means always ready.
	Ready func(context.Context) error
}

type Server struct {
	http.Server
	ledger     LedgerAPI
	reconciler ReconcileAPI
	ready      func(context.Context) error
	loc        *time.Location
	now        func() time.Time

	limiter      *ratelimit.Limiter
	detector     *security.Detector
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, ledger LedgerAPI, reconciler ReconcileAPI) *Server {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.DefaultConfig())
	}
	logger := cfg.Logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		ledger:     ledger,
		reconciler: reconciler,
		ready:      cfg.Ready,
		loc:        cfg.Location,
		now:        time.Now,
		limiter:    ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		detector:   security.NewDetector(),
	}
	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes(logger *log.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(log.Middleware(logger))
	r.Use(log.RequestIDMiddleware(middleware.GetReqID))
	r.Use(trace.NewMiddleware(s.detector.ExtractClientIP, logger).Middleware)
	r.Use(middleware.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.detector.Middleware)
	r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, isWrite, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(),
			"Rate limit exceeded",
			log.FieldClientIP, s.detector.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, retry later").Write(w)
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("no such route").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/accounts", s.handleListAccounts)
		r.Post("/accounts", s.handleSaveAccount)
		r.Get("/accounts/{id}/ledger", s.handleAccountLedger)
		r.Get("/accounts/{id}/snapshots", s.handleListSnapshots)
		r.Post("/accounts/{id}/snapshots", s.handleCreateSnapshot)

		r.Post("/transactions", s.handleCreateTransaction)
		r.Delete("/transactions/{id}", s.handleDeleteTransaction)
		r.Delete("/snapshots/{id}", s.handleDeleteSnapshot)

		r.Post("/reconcile", s.handleReconcile)
	})

	return r
}

func isWrite(r *http.Request) bool {
	return r.Method == http.MethodPost || r.Method == http.MethodDelete
}

// Shutdown stops the limiter and drains the HTTP server. It is safe to call twice.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
