package procurement

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

// Handler exposes purchase orders as JSON endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the procurement handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/receive", h.handleReceive)
}

type orderLineRequest struct {
	ProductID int64  `json:"product_id" validate:"required"`
	Quantity  string `json:"quantity" validate:"required"`
	UnitPrice string `json:"unit_price,omitempty"`
}

type createOrderRequest struct {
	SupplierID  *int64             `json:"supplier_id,omitempty"`
	WarehouseID int64              `json:"warehouse_id" validate:"required"`
	Lines       []orderLineRequest `json:"lines" validate:"required,min=1,dive"`
	Note        string             `json:"note,omitempty"`
}

type orderResponse struct {
	ID          int64               `json:"id"`
	Number      string              `json:"number"`
	SupplierID  *int64              `json:"supplier_id,omitempty"`
	WarehouseID int64               `json:"warehouse_id"`
	Status      string              `json:"status"`
	Lines       []orderLineResponse `json:"lines,omitempty"`
}

type orderLineResponse struct {
	ProductID        int64  `json:"product_id"`
	Quantity         string `json:"quantity"`
	ReceivedQuantity string `json:"received_quantity"`
	UnitPrice        string `json:"unit_price"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines := make([]LineInput, 0, len(req.Lines))
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
		lines = append(lines, LineInput{ProductID: liner.ProductID, Quantity: qty, UnitPrice: price})
	}
	order, err := h.service.Create(r.Context(), CreateOrderInput{
		SupplierID:  req.SupplierID,
		WarehouseID: req.WarehouseID,
		Lines:       lines,
		Note:        req.Note,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondServiceError(w, "create order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toOrderResponse(order, nil))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}
	order, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order, lines))
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}
	order, err := h.service.Receive(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondServiceError(w, "receive order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order, nil))
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyReceived), errors.Is(err, ErrOrderCanceled):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrNoLines), errors.Is(err, ledger.ErrNonPositiveQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toOrderResponse(order PurchaseOrder, lines []PurchaseOrderLine) orderResponse {
	resp := orderResponse{
		ID:          order.ID,
		Number:      order.Number,
		SupplierID:  order.SupplierID,
		WarehouseID: order.WarehouseID,
		Status:      string(order.Status),
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, orderLineResponse{
			ProductID:        line.ProductID,
			Quantity:         line.Quantity.String(),
			ReceivedQuantity: line.ReceivedQuantity.String(),
			UnitPrice:        line.UnitPrice.String(),
		})
	}
	return resp
}
