package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-ims/meridian/internal/observability"
)

// Store exposes the transactional operations the engine composes. A Store is
// always scoped to a transaction the caller already opened; the engine never
// begins or ends one itself, so several engine calls can commit or roll back
// together inside one orchestrator workflow.
type Store interface {
	// GetForUpdate loads the stock record for the triple, holding its row
	// lock for the remainder of the transaction. ErrRecordNotFound when the
	// triple has never been moved.
	GetForUpdate(ctx context.Context, productID, warehouseID int64, locationID *int64) (StockRecord, error)
	// Upsert persists quantity, reservation and the derived availability as
	// one write.
	Upsert(ctx context.Context, rec StockRecord) (StockRecord, error)
	// InsertMovement appends an immutable movement fact. Called by the
	// orchestrator, inside the same transaction as the Upsert it pairs with.
	InsertMovement(ctx context.Context, mv Movement) (int64, error)
}

// QueryStore exposes the read-only queries behind the engine's helpers.
type QueryStore interface {
	TotalStock(ctx context.Context, productID int64) (decimal.Decimal, error)
	MinStockLevel(ctx context.Context, productID int64) (decimal.Decimal, error)
	AverageCost(ctx context.Context, productID, warehouseID int64, window int) (decimal.Decimal, error)
	LowStock(ctx context.Context) ([]LowStockItem, error)
	Valuation(ctx context.Context, warehouseID int64) ([]ValuationRow, error)
	MovementsByReference(ctx context.Context, refType ReferenceType, refID string) ([]Movement, error)
}

// EngineConfig groups optional engine settings.
type EngineConfig struct {
	// AverageCostWindow is the number of trailing inbound movements the
	// windowed average-cost query considers.
	AverageCostWindow int
}

// Engine applies movements, reservations and releases to stock records. It is
// the only component that mutates a StockRecord.
type Engine struct {
	queries QueryStore
	cache   *Cache
	metrics *observability.Metrics
	window  int
}

// NewEngine builds an Engine. cache and metrics may be nil.
func NewEngine(queries QueryStore, cache *Cache, metrics *observability.Metrics, cfg EngineConfig) *Engine {
	window := cfg.AverageCostWindow
	if window <= 0 {
		window = 10
	}
	return &Engine{queries: queries, cache: cache, metrics: metrics, window: window}
}

// ApplyMovement resolves or lazily creates the stock record for the input's
// triple and applies the type-specific sign rule, persisting quantity and
// availability in one write. It does not write the movement record; that is
// the orchestrator's responsibility within the same transaction. Outbound
// movements that drive the quantity negative are not rejected here; the
// availability check belongs to the caller, because compensating flows must
// proceed even against inconsistent stock.
func (e *Engine) ApplyMovement(ctx context.Context, store Store, input MovementInput) (StockRecord, error) {
	if !input.Type.Valid() {
		return StockRecord{}, fmt.Errorf("%w: %q", ErrInvalidMovementType, input.Type)
	}
	if input.Quantity.Sign() <= 0 {
		return StockRecord{}, ErrNonPositiveQuantity
	}
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return StockRecord{}, errors.New("ledger: product and warehouse required")
	}

	rec, err := e.loadOrInit(ctx, store, input.ProductID, input.WarehouseID, input.LocationID)
	if err != nil {
		return StockRecord{}, err
	}

	prevQty := rec.Quantity
	rec, err = applyQuantity(rec, input.Type, input.Quantity)
	if err != nil {
		return StockRecord{}, err
	}
	if input.Type == MovementTypeIn {
		rec = applyPurchase(rec, prevQty, input.Quantity, input.UnitPrice)
		if input.UnitPrice.Sign() > 0 {
			rec.LastPurchaseDate = movementDate(input.MovementDate)
		}
	}

	return store.Upsert(ctx, rec)
}

// Reserve earmarks quantity for a pending outbound document, failing with
// ErrInsufficientAvailableStock when availability does not cover it. The
// availability check and the reservation write happen under the same row
// lock, so two racing reservations cannot both observe enough stock.
func (e *Engine) Reserve(ctx context.Context, store Store, productID, warehouseID int64, qty decimal.Decimal) (StockRecord, error) {
	if qty.Sign() <= 0 {
		return StockRecord{}, ErrNonPositiveQuantity
	}
	rec, err := e.loadOrInit(ctx, store, productID, warehouseID, nil)
	if err != nil {
		return StockRecord{}, err
	}
	rec, err = applyReserve(rec, qty)
	if err != nil {
		e.metrics.ReservationRejected()
		return StockRecord{}, err
	}
	return store.Upsert(ctx, rec)
}

// Release is the inverse of Reserve, clamped so the reserved quantity never
// goes below zero on a double release.
func (e *Engine) Release(ctx context.Context, store Store, productID, warehouseID int64, qty decimal.Decimal) (StockRecord, error) {
	if qty.Sign() <= 0 {
		return StockRecord{}, ErrNonPositiveQuantity
	}
	rec, err := store.GetForUpdate(ctx, productID, warehouseID, nil)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			// Nothing reserved for a triple that was never moved.
			return initRecord(productID, warehouseID, nil), nil
		}
		return StockRecord{}, err
	}
	rec = applyRelease(rec, qty)
	return store.Upsert(ctx, rec)
}

// TotalStock sums the ledger quantity for a product across all warehouses.
// Served from the versioned cache when one is configured.
func (e *Engine) TotalStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	if e.cache == nil {
		return e.queries.TotalStock(ctx, productID)
	}
	key, err := e.cache.BuildKey(ctx, "ledger", "total", strconv.FormatInt(productID, 10))
	if err != nil {
		return decimal.Zero, err
	}
	var total decimal.Decimal
	err = e.cache.FetchJSON(ctx, key, &total, func(ctx context.Context) (any, error) {
		return e.queries.TotalStock(ctx, productID)
	})
	return total, err
}

// IsBelowMinimum reports whether the product's summed stock is at or below
// its configured minimum level. Always reads through to the store; the
// low-stock decision must not act on stale totals.
func (e *Engine) IsBelowMinimum(ctx context.Context, productID int64) (bool, error) {
	total, err := e.queries.TotalStock(ctx, productID)
	if err != nil {
		return false, err
	}
	minLevel, err := e.queries.MinStockLevel(ctx, productID)
	if err != nil {
		return false, err
	}
	if minLevel.Sign() <= 0 {
		return false, nil
	}
	return total.LessThanOrEqual(minLevel), nil
}

// AverageCost computes the quantity-weighted mean unit price over the
// trailing window of inbound movements, zero when none qualify.
func (e *Engine) AverageCost(ctx context.Context, productID, warehouseID int64) (decimal.Decimal, error) {
	return e.queries.AverageCost(ctx, productID, warehouseID, e.window)
}

// LowStock lists products at or below their minimum stock level.
func (e *Engine) LowStock(ctx context.Context) ([]LowStockItem, error) {
	return e.queries.LowStock(ctx)
}

// Valuation values current stock records at their moving average cost,
// optionally restricted to one warehouse (zero means all).
func (e *Engine) Valuation(ctx context.Context, warehouseID int64) ([]ValuationRow, error) {
	return e.queries.Valuation(ctx, warehouseID)
}

// MovementTrail lists the movement rows referencing one business document,
// oldest first. A cancelled sale keeps both legs here.
func (e *Engine) MovementTrail(ctx context.Context, refType ReferenceType, refID string) ([]Movement, error) {
	return e.queries.MovementsByReference(ctx, refType, refID)
}

// InvalidateTotals bumps the cache version after committed movements.
// Best-effort; a failed bump only delays freshness until the TTL expires.
func (e *Engine) InvalidateTotals(ctx context.Context) {
	if e.cache != nil {
		_ = e.cache.Bump(ctx)
	}
}

// MovementCommitted records a committed movement in the metrics registry.
// Orchestrators call it after their transaction commits.
func (e *Engine) MovementCommitted(t MovementType) {
	e.metrics.MovementPosted(string(t))
}

func (e *Engine) loadOrInit(ctx context.Context, store Store, productID, warehouseID int64, locationID *int64) (StockRecord, error) {
	rec, err := store.GetForUpdate(ctx, productID, warehouseID, locationID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return initRecord(productID, warehouseID, locationID), nil
		}
		return StockRecord{}, err
	}
	return rec, nil
}

func initRecord(productID, warehouseID int64, locationID *int64) StockRecord {
	return StockRecord{
		ProductID:   productID,
		WarehouseID: warehouseID,
		LocationID:  locationID,
	}
}

func movementDate(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
