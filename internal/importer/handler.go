package importer

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bottlekeep/bottlekeep/internal/platform/httpx"
	"github.com/bottlekeep/bottlekeep/internal/shared"
)

// Handler accepts CSV uploads.
type Handler struct {
	logger   *slog.Logger
	importer *Importer
}

// NewHandler constructs the import handler.
func NewHandler(logger *slog.Logger, importer *Importer) *Handler {
	return &Handler{logger: logger, importer: importer}
}

// MountRoutes registers the import route. The request body is the raw CSV.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/imports/deposits", h.importDeposits)
}

func (h *Handler) importDeposits(w http.ResponseWriter, r *http.Request) {
	storeID := shared.ActorFromContext(r.Context()).StoreID
	if raw := r.URL.Query().Get("store_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "store_id must be an integer")
			return
		}
		storeID = parsed
	}

	report, err := h.importer.Run(r.Context(), storeID, r.Body)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var warnings []string
	if report.Warning != nil {
		warnings = append(warnings, *report.Warning)
	}
	httpx.Data(w, http.StatusOK, report, warnings...)
}
