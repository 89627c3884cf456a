package routes

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vbmsd/gateway/auth"
	"vbmsd/gateway/middleware"
	"vbmsd/integrations/exports"
	"vbmsd/native/claim"
	"vbmsd/storage/historydb"
)

// Server bundles the handlers with their dependencies.
type Server struct {
	engine   *claim.Engine
	history  *historydb.Store
	exporter *exports.AuditExporter
	logger   *slog.Logger
}

// Config wires the gateway. Authenticator nil disables auth on mutating
// routes (local development); HistoryDB and Exporter are optional.
type Config struct {
	Engine        *claim.Engine
	HistoryDB     *historydb.Store
	Exporter      *exports.AuditExporter
	Logger        *slog.Logger
	Authenticator *auth.Authenticator
	RateLimiter   *middleware.RateLimiter
	CORS          middleware.CORSConfig
}

// New builds the gateway handler.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("routes: engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:   cfg.Engine,
		history:  cfg.HistoryDB,
		exporter: cfg.Exporter,
		logger:   logger,
	}

	requireAuth := func(next http.Handler) http.Handler { return next }
	if cfg.Authenticator != nil {
		requireAuth = cfg.Authenticator.Middleware
	}
	limit := func(route string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.RateLimiter.Middleware(route)
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(claims chi.Router) {
			claims.Use(limit("claims"), middleware.Observe(logger, "claims"))
			claims.With(requireAuth).Post("/claims", s.handleConvert)
			claims.With(requireAuth).Post("/claims/initiate", s.handleInitiate)
			claims.With(requireAuth).Post("/claims/finalize", s.handleFinalize)
			claims.With(requireAuth).Post("/claims/recover", s.handleRecover)
			claims.Get("/claims/pending", s.handlePending)
			claims.Get("/claims/history", s.handleHistory)
		})

		v1.Group(func(ledgerRoutes chi.Router) {
			ledgerRoutes.Use(limit("ledger"), middleware.Observe(logger, "ledger"))
			ledgerRoutes.With(requireAuth).Post("/ledger/credit", s.handleCredit)
			ledgerRoutes.With(requireAuth).Post("/ledger/debit", s.handleDebit)
			ledgerRoutes.Get("/accounts/{address}", s.handleAccount)
			ledgerRoutes.Get("/accounts/{address}/audit", s.handleAudit)
			ledgerRoutes.Get("/accounts/{address}/audit/summary", s.handleAuditSummary)
		})

		v1.Group(func(admin chi.Router) {
			admin.Use(limit("admin"), middleware.Observe(logger, "admin"))
			admin.Get("/denylist", s.handleDenyList)
			admin.With(requireAuth).Get("/exports/audit", s.handleAuditExport)
		})
	})

	return r, nil
}
