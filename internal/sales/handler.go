package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-ims/meridian/internal/ledger"
	"github.com/meridian-ims/meridian/internal/platform/httpx"
	"github.com/meridian-ims/meridian/internal/shared"
)

// Handler exposes sale fulfillment as JSON endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the sales handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Delete("/{id}", h.handleCancel)
}

type saleLineRequest struct {
	ProductID int64  `json:"product_id" validate:"required"`
	Quantity  string `json:"quantity" validate:"required"`
	UnitPrice string `json:"unit_price,omitempty"`
}

type createSaleRequest struct {
	WarehouseID int64             `json:"warehouse_id" validate:"required"`
	CustomerID  *int64            `json:"customer_id,omitempty"`
	Lines       []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
	Note        string            `json:"note,omitempty"`
}

type saleResponse struct {
	ID          int64              `json:"id"`
	Number      string             `json:"number"`
	WarehouseID int64              `json:"warehouse_id"`
	CustomerID  *int64             `json:"customer_id,omitempty"`
	Status      string             `json:"status"`
	Lines       []saleLineResponse `json:"lines,omitempty"`
}

type saleLineResponse struct {
	ProductID int64  `json:"product_id"`
	Quantity  string `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines := make([]SaleLineInput, 0, len(req.Lines))
	for _, liner := range req.Lines {
		qty, err := decimal.NewFromString(liner.Quantity)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity")
			return
		}
		price := decimal.Zero
		if liner.UnitPrice != "" {
			if price, err = decimal.NewFromString(liner.UnitPrice); err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit price")
				return
			}
		}
		lines = append(lines, SaleLineInput{ProductID: liner.ProductID, Quantity: qty, UnitPrice: price})
	}
	sale, err := h.service.Create(r.Context(), CreateSaleInput{
		WarehouseID: req.WarehouseID,
		CustomerID:  req.CustomerID,
		Lines:       lines,
		Note:        req.Note,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondServiceError(w, "create sale", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, saleResponse{
		ID:          sale.ID,
		Number:      sale.Number,
		WarehouseID: sale.WarehouseID,
		CustomerID:  sale.CustomerID,
		Status:      string(sale.Status),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid sale id")
		return
	}
	sale, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, "get sale", err)
		return
	}
	resp := saleResponse{
		ID:          sale.ID,
		Number:      sale.Number,
		WarehouseID: sale.WarehouseID,
		CustomerID:  sale.CustomerID,
		Status:      string(sale.Status),
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, saleLineResponse{
			ProductID: line.ProductID,
			Quantity:  line.Quantity.String(),
			UnitPrice: line.UnitPrice.String(),
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid sale id")
		return
	}
	if err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.respondServiceError(w, "cancel sale", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrSaleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNotCancellable):
		httpx.Problem(w, http.StatusConflict, "Not Cancellable", err.Error())
	case errors.Is(err, ledger.ErrInsufficientAvailableStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrNoLines), errors.Is(err, ledger.ErrNonPositiveQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
