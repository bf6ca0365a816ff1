package withdrawals

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bottlekeep/bottlekeep/internal/platform/httpx"
	"github.com/bottlekeep/bottlekeep/internal/shared"
)

// Handler wires withdrawal HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the withdrawals handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers withdrawal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/withdrawals", h.list)
	r.Get("/withdrawals/{id}", h.get)
	r.Post("/withdrawals", h.request)
	r.Post("/withdrawals/direct", h.direct)
	r.Post("/withdrawals/{id}/approve", h.approve)
	r.Post("/withdrawals/{id}/complete", h.complete)
	r.Post("/withdrawals/{id}/reject", h.reject)
}

type requestWithdrawalRequest struct {
	DepositID int64   `json:"deposit_id" validate:"required"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	Notes     *string `json:"notes,omitempty"`
}

type completeWithdrawalRequest struct {
	ActualQuantity *float64 `json:"actual_quantity,omitempty" validate:"omitempty,gt=0"`
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

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (RequestInput, bool) {
	var req requestWithdrawalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return RequestInput{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return RequestInput{}, false
	}
	actor := shared.ActorFromContext(r.Context())
	return RequestInput{
		DepositID:   req.DepositID,
		Quantity:    req.Quantity,
		RequestedBy: actor.Name,
		Notes:       req.Notes,
	}, true
}

func (h *Handler) request(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	result, err := h.service.Request(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusCreated, result, warningStrings(result.Warning)...)
}

func (h *Handler) direct(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	result, err := h.service.Direct(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusCreated, result, warningStrings(result.Warning)...)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return
	}
	result, err := h.service.Approve(r.Context(), id, shared.ActorFromContext(r.Context()).Name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, result, warningStrings(result.Warning)...)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return
	}
	var req completeWithdrawalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Complete(r.Context(), CompleteInput{
		WithdrawalID:   id,
		ActualQuantity: req.ActualQuantity,
		HandledBy:      shared.ActorFromContext(r.Context()).Name,
	})
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
	wd, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, wd)
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

	storeID := shared.ActorFromContext(r.Context()).StoreID
	if raw := q.Get("store_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "store_id must be an integer")
			return
		}
		storeID = parsed
	}
	if storeID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "store_id or deposit_id is required")
		return
	}
	items, err := h.service.ListOpen(r.Context(), storeID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, items)
}
