package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bottlekeep/bottlekeep/internal/audit"
	"github.com/bottlekeep/bottlekeep/internal/deposits"
	"github.com/bottlekeep/bottlekeep/internal/importer"
	"github.com/bottlekeep/bottlekeep/internal/observability"
	"github.com/bottlekeep/bottlekeep/internal/stores"
	"github.com/bottlekeep/bottlekeep/internal/transfers"
	"github.com/bottlekeep/bottlekeep/internal/withdrawals"
	"github.com/bottlekeep/bottlekeep/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	StoresHandler      *stores.Handler
	DepositsHandler    *deposits.Handler
	WithdrawalsHandler *withdrawals.Handler
	TransfersHandler   *transfers.Handler
	AuditHandler       *audit.Handler
	ImportHandler      *importer.Handler
	JobsHandler        *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		params.StoresHandler.MountRoutes(r)
		params.DepositsHandler.MountRoutes(r)
		params.WithdrawalsHandler.MountRoutes(r)
		params.TransfersHandler.MountRoutes(r)
		params.AuditHandler.MountRoutes(r)
		params.ImportHandler.MountRoutes(r)
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
