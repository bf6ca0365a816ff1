package transfers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bottlekeep/bottlekeep/internal/platform/httpx"
	"github.com/bottlekeep/bottlekeep/internal/shared"
)

// Handler wires transfer HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the transfers handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/transfers", h.list)
	r.Get("/transfers/{id}", h.get)
	r.Post("/transfers", h.create)
	r.Post("/transfers/batch", h.createBatch)
	r.Post("/transfers/{id}/confirm", h.confirm)
	r.Post("/transfers/{id}/reject", h.reject)
}

type createTransferRequest struct {
	DepositID int64   `json:"deposit_id" validate:"required"`
	ToStoreID int64   `json:"to_store_id" validate:"required"`
	Notes     *string `json:"notes,omitempty"`
	Confirm   bool    `json:"confirm"`
}

type batchTransferRequest struct {
	FromStoreID  int64    `json:"from_store_id" validate:"required"`
	ToStoreID    int64    `json:"to_store_id" validate:"required"`
	DepositCodes []string `json:"deposit_codes" validate:"required,min=1,dive,required"`
	Confirm      bool     `json:"confirm"`
}

func warningStrings(w *shared.AuditWarning) []string {
	if w == nil {
		return nil
	}
	return []string{w.Error()}
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Create(r.Context(), CreateInput{
		DepositID:   req.DepositID,
		ToStoreID:   req.ToStoreID,
		RequestedBy: shared.ActorFromContext(r.Context()).Name,
		Notes:       req.Notes,
		Confirm:     req.Confirm,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusCreated, result, warningStrings(result.Warning)...)
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	var req batchTransferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	results, err := h.service.CreateBatch(r.Context(), BatchInput{
		FromStoreID:  req.FromStoreID,
		ToStoreID:    req.ToStoreID,
		DepositCodes: req.DepositCodes,
		RequestedBy:  shared.ActorFromContext(r.Context()).Name,
		Confirm:      req.Confirm,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, results)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return
	}
	result, err := h.service.Confirm(r.Context(), id, shared.ActorFromContext(r.Context()).Name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, result, warningStrings(result.Warning)...)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return
	}
	result, err := h.service.Reject(r.Context(), id, shared.ActorFromContext(r.Context()).Name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, result, warningStrings(result.Warning)...)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return
	}
	transfer, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, transfer)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if raw := q.Get("deposit_id"); raw != "" {
		depositID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "deposit_id must be an integer")
			return
		}
		items, err := h.service.ListByDeposit(r.Context(), depositID)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.Data(w, http.StatusOK, items)
		return
	}

	toStoreID := shared.ActorFromContext(r.Context()).StoreID
	if raw := q.Get("to_store_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to_store_id must be an integer")
			return
		}
		toStoreID = parsed
	}
	if toStoreID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to_store_id or deposit_id is required")
		return
	}
	items, err := h.service.ListOpenInbound(r.Context(), toStoreID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, items)
}
