package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-ims/meridian/internal/platform/httpx"
)

// Handler exposes the read-only ledger queries as JSON endpoints.
type Handler struct {
	logger *slog.Logger
	engine *Engine
}

// NewHandler constructs the ledger query handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine}
}

// MountRoutes registers ledger query routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products/{id}/total", h.handleTotalStock)
	r.Get("/products/{id}/average-cost", h.handleAverageCost)
	r.Get("/low-stock", h.handleLowStock)
	r.Get("/valuation", h.handleValuation)
	r.Get("/movements", h.handleMovements)
}

func (h *Handler) handleTotalStock(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	total, err := h.engine.TotalStock(r.Context(), productID)
	if err != nil {
		h.logger.Error("total stock failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	below, err := h.engine.IsBelowMinimum(r.Context(), productID)
	if err != nil {
		h.logger.Error("below minimum failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":    productID,
		"total":         total.String(),
		"below_minimum": below,
	})
}

func (h *Handler) handleAverageCost(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	warehouseID, err := strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64)
	if err != nil || warehouseID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id required")
		return
	}
	avg, err := h.engine.AverageCost(r.Context(), productID, warehouseID)
	if err != nil {
		h.logger.Error("average cost failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":   productID,
		"warehouse_id": warehouseID,
		"average_cost": avg.String(),
	})
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.engine.LowStock(r.Context())
	if err != nil {
		h.logger.Error("low stock failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	type item struct {
		ProductID     int64  `json:"product_id"`
		SKU           string `json:"sku"`
		Name          string `json:"name"`
		MinStockLevel string `json:"min_stock_level"`
		TotalStock    string `json:"total_stock"`
	}
	out := make([]item, 0, len(items))
	for _, it := range items {
		out = append(out, item{
			ProductID:     it.ProductID,
			SKU:           it.SKU,
			Name:          it.Name,
			MinStockLevel: it.MinStockLevel.String(),
			TotalStock:    it.TotalStock.String(),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) handleValuation(w http.ResponseWriter, r *http.Request) {
	var warehouseID int64
	if raw := r.URL.Query().Get("warehouse_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid warehouse_id")
			return
		}
		warehouseID = parsed
	}
	rows, err := h.engine.Valuation(r.Context(), warehouseID)
	if err != nil {
		h.logger.Error("valuation failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	type row struct {
		ProductID   int64  `json:"product_id"`
		WarehouseID int64  `json:"warehouse_id"`
		Quantity    string `json:"quantity"`
		AverageCost string `json:"average_cost"`
		Value       string `json:"value"`
	}
	out := make([]row, 0, len(rows))
	for _, v := range rows {
		out = append(out, row{
			ProductID:   v.ProductID,
			WarehouseID: v.WarehouseID,
			Quantity:    v.Quantity.String(),
			AverageCost: v.AverageCost.String(),
			Value:       v.Value.String(),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": out})
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	refType := ReferenceType(r.URL.Query().Get("reference_type"))
	refID := r.URL.Query().Get("reference_id")
	switch refType {
	case ReferenceTypePurchaseOrder, ReferenceTypeSale, ReferenceTypeTransfer, ReferenceTypeManual, ReferenceTypeOther:
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid reference_type")
		return
	}
	if refID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "reference_id required")
		return
	}
	movements, err := h.engine.MovementTrail(r.Context(), refType, refID)
	if err != nil {
		h.logger.Error("movement trail failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	type row struct {
		ID              int64  `json:"id"`
		ProductID       int64  `json:"product_id"`
		WarehouseID     int64  `json:"warehouse_id"`
		Type            string `json:"movement_type"`
		Quantity        string `json:"quantity"`
		UnitPrice       string `json:"unit_price"`
		ReferenceNumber string `json:"reference_number,omitempty"`
		FromWarehouseID *int64 `json:"from_warehouse_id,omitempty"`
		ToWarehouseID   *int64 `json:"to_warehouse_id,omitempty"`
		MovementDate    string `json:"movement_date"`
	}
	out := make([]row, 0, len(movements))
	for _, mv := range movements {
		out = append(out, row{
			ID:              mv.ID,
			ProductID:       mv.ProductID,
			WarehouseID:     mv.WarehouseID,
			Type:            string(mv.Type),
			Quantity:        mv.Quantity.String(),
			UnitPrice:       mv.UnitPrice.String(),
			ReferenceNumber: mv.ReferenceNumber,
			FromWarehouseID: mv.FromWarehouseID,
			ToWarehouseID:   mv.ToWarehouseID,
			MovementDate:    mv.MovementDate.Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}
