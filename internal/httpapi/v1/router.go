// Package v1 wires the HTTP surface of the shop ledger.
// It keeps handlers thin, delegating business rules to the service layer.
package v1

import (
	"context"
	"log/slog"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/tinoosan/shopledger/internal/report"
	"github.com/tinoosan/shopledger/internal/service/account"
	"github.com/tinoosan/shopledger/internal/service/inventory"
	"github.com/tinoosan/shopledger/internal/service/journal"
	"github.com/tinoosan/shopledger/internal/service/migrate"
	"github.com/tinoosan/shopledger/internal/service/purchase"
	"github.com/tinoosan/shopledger/internal/service/reconcile"
)

// Migrator backfills legacy cash mirrors.
type Migrator interface {
	Run(ctx context.Context) (migrate.Report, error)
}

// Deps are the services behind the HTTP surface.
type Deps struct {
	Accounts  account.Service
	Entries   journal.Service
	Purchases purchase.Service
	Inventory inventory.Service
	Reconcile *reconcile.Service
	Migrate   Migrator
	Reports   *report.Reporter
	// Ready reports whether the store can serve requests.
	Ready func(ctx context.Context) error
}

// Options configure auth, CORS and money parsing.
type Options struct {
	Currency  string
	JWTSecret string
	// AllowedOrigins enables CORS for browser clients; empty disables it.
	AllowedOrigins []string
}

// Server wires handlers and middleware using Chi.
type Server struct {
	Deps
	opts     Options
	validate *validator.Validate
	log      *slog.Logger
	rt       *chi.Mux
}

// New constructs the HTTP server with routes and middleware.
func New(deps Deps, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(metricsMiddleware)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", idempotencyHeader},
			ExposedHeaders: []string{replayedHeader, "Retry-After", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	s := &Server{
		Deps:     deps,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logger,
		rt:       r,
	}
	s.routes()
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

// routes declares the public HTTP API endpoints.
func (s *Server) routes() {
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	s.rt.Handle("/metrics", metricsHandler())

	s.rt.Route("/v1", func(r chi.Router) {
		r.Use(authenticate(s.opts.JWTSecret))
		r.Use(idempotency)

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", s.postAccount)
			r.Get("/", s.listAccounts)
			r.Get("/{id}", s.getAccount)
			r.Patch("/{id}", s.patchAccount)
			r.Delete("/{id}", s.deleteAccount)
			r.Post("/{id}/adjust-balance", s.adjustBalance)
			r.Post("/{id}/reconcile", s.reconcileAccount)
			r.Get("/{id}/ledger", s.getAccountLedger)
			r.Get("/{id}/statement.xlsx", s.getAccountStatementXLSX)
		})
		r.Route("/entries", func(r chi.Router) {
			r.Post("/", s.postEntry)
			r.Get("/", s.listEntries)
			r.Get("/{id}", s.getEntry)
			r.Delete("/{id}", s.deleteEntry)
		})
		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", s.postPurchase)
			r.Get("/", s.listPurchases)
			r.Get("/{id}", s.getPurchase)
			r.Delete("/{id}", s.deletePurchase)
		})
		r.Route("/products", func(r chi.Router) {
			r.Post("/", s.postProduct)
			r.Get("/", s.listProducts)
			r.Get("/{id}", s.getProduct)
			r.Delete("/{id}", s.deleteProduct)
		})
		r.Route("/banks", func(r chi.Router) {
			r.Post("/", s.postBank)
			r.Get("/", s.listBanks)
			r.Get("/{id}", s.getBank)
		})
		r.Get("/dictionary", s.getDictionary)
		r.Post("/reconcile", s.runReconcile)
		r.Post("/migrations/legacy-cash", s.runLegacyCashMigration)
	})
}
