package stockops

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-ims/meridian/internal/ledger"
	"github.com/meridian-ims/meridian/internal/platform/httpx"
	"github.com/meridian-ims/meridian/internal/shared"
)

// Handler exposes manual stock operations as JSON endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the stock operations handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers stock operation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/in", h.handleStockIn)
	r.Post("/out", h.handleStockOut)
	r.Post("/transfers", h.handleTransfer)
	r.Post("/adjustments", h.handleAdjust)
	r.Post("/reservations", h.handleReserve)
	r.Post("/releases", h.handleRelease)
}

type stockInRequest struct {
	ProductID       int64  `json:"product_id" validate:"required"`
	WarehouseID     int64  `json:"warehouse_id" validate:"required"`
	LocationID      *int64 `json:"location_id,omitempty"`
	Quantity        string `json:"quantity" validate:"required"`
	UnitPrice       string `json:"unit_price,omitempty"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	BatchNumber     string `json:"batch_number,omitempty"`
	SerialNumber    string `json:"serial_number,omitempty"`
	ExpiryDate      string `json:"expiry_date,omitempty"`
	Note            string `json:"note,omitempty"`
}

type stockOutRequest struct {
	ProductID       int64  `json:"product_id" validate:"required"`
	WarehouseID     int64  `json:"warehouse_id" validate:"required"`
	LocationID      *int64 `json:"location_id,omitempty"`
	Quantity        string `json:"quantity" validate:"required"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	Note            string `json:"note,omitempty"`
}

type transferRequest struct {
	ProductID       int64  `json:"product_id" validate:"required"`
	FromWarehouseID int64  `json:"from_warehouse_id" validate:"required"`
	ToWarehouseID   int64  `json:"to_warehouse_id" validate:"required"`
	Quantity        string `json:"quantity" validate:"required"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	Note            string `json:"note,omitempty"`
}

type adjustRequest struct {
	ProductID   int64  `json:"product_id" validate:"required"`
	WarehouseID int64  `json:"warehouse_id" validate:"required"`
	LocationID  *int64 `json:"location_id,omitempty"`
	Quantity    string `json:"quantity" validate:"required"`
	Note        string `json:"note,omitempty"`
}

type reservationRequest struct {
	ProductID   int64  `json:"product_id" validate:"required"`
	WarehouseID int64  `json:"warehouse_id" validate:"required"`
	Quantity    string `json:"quantity" validate:"required"`
}

type stockRecordResponse struct {
	ProductID         int64  `json:"product_id"`
	WarehouseID       int64  `json:"warehouse_id"`
	LocationID        *int64 `json:"location_id,omitempty"`
	Quantity          string `json:"quantity"`
	ReservedQuantity  string `json:"reserved_quantity"`
	AvailableQuantity string `json:"available_quantity"`
	AverageCost       string `json:"average_cost"`
}

func (h *Handler) handleStockIn(w http.ResponseWriter, r *http.Request) {
	var req stockInRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity")
		return
	}
	price := decimal.Zero
	if req.UnitPrice != "" {
		if price, err = decimal.NewFromString(req.UnitPrice); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit price")
			return
		}
	}
	var expiry *time.Time
	if req.ExpiryDate != "" {
		parsed, err := time.Parse("2006-01-02", req.ExpiryDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid expiry date")
			return
		}
		expiry = &parsed
	}
	rec, err := h.service.StockIn(r.Context(), StockInInput{
		ProductID:       req.ProductID,
		WarehouseID:     req.WarehouseID,
		LocationID:      req.LocationID,
		Quantity:        qty,
		UnitPrice:       price,
		ReferenceNumber: req.ReferenceNumber,
		BatchNumber:     req.BatchNumber,
		SerialNumber:    req.SerialNumber,
		ExpiryDate:      expiry,
		Note:            req.Note,
		ActorID:         shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondServiceError(w, "stock in", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRecordResponse(rec))
}

func (h *Handler) handleStockOut(w http.ResponseWriter, r *http.Request) {
	var req stockOutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity")
		return
	}
	rec, err := h.service.StockOut(r.Context(), StockOutInput{
		ProductID:       req.ProductID,
		WarehouseID:     req.WarehouseID,
		LocationID:      req.LocationID,
		Quantity:        qty,
		ReferenceNumber: req.ReferenceNumber,
		Note:            req.Note,
		ActorID:         shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondServiceError(w, "stock out", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRecordResponse(rec))
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity")
		return
	}
	fromRec, toRec, err := h.service.Transfer(r.Context(), TransferInput{
		ProductID:       req.ProductID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        qty,
		ReferenceNumber: req.ReferenceNumber,
		Note:            req.Note,
		ActorID:         shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondServiceError(w, "transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"from": toRecordResponse(fromRec),
		"to":   toRecordResponse(toRec),
	})
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity")
		return
	}
	rec, err := h.service.Adjust(r.Context(), AdjustInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		LocationID:  req.LocationID,
		Quantity:    qty,
		Note:        req.Note,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondServiceError(w, "adjust", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRecordResponse(rec))
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	req, qty, ok := h.decodeReservation(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Reserve(r.Context(), req.ProductID, req.WarehouseID, qty)
	if err != nil {
		h.respondServiceError(w, "reserve", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	req, qty, ok := h.decodeReservation(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Release(r.Context(), req.ProductID, req.WarehouseID, qty)
	if err != nil {
		h.respondServiceError(w, "release", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) decodeReservation(w http.ResponseWriter, r *http.Request) (reservationRequest, decimal.Decimal, bool) {
	var req reservationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return req, decimal.Zero, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return req, decimal.Zero, false
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity")
		return req, decimal.Zero, false
	}
	return req, qty, true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientAvailableStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ledger.ErrNonPositiveQuantity), errors.Is(err, ledger.ErrInvalidMovementType), errors.Is(err, ErrSameWarehouse):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toRecordResponse(rec ledger.StockRecord) stockRecordResponse {
	return stockRecordResponse{
		ProductID:         rec.ProductID,
		WarehouseID:       rec.WarehouseID,
		LocationID:        rec.LocationID,
		Quantity:          rec.Quantity.String(),
		ReservedQuantity:  rec.ReservedQuantity.String(),
		AvailableQuantity: rec.AvailableQuantity.String(),
		AverageCost:       rec.AverageCost.String(),
	}
}
