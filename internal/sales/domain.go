package sales

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// SaleStatus is the sale's lifecycle state.
type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusShipped   SaleStatus = "shipped"
)

// Cancellable reports whether a sale in this status may still be cancelled.
// A shipped sale left the building; undoing it is a return flow, not a
// cancellation.
func (s SaleStatus) Cancellable() bool {
	return s == SaleStatusPending || s == SaleStatusCompleted
}

// Sale is the header document. Stock effects live in the movement log, not
// here; deleting a cancelled sale does not touch its movement trail.
type Sale struct {
	ID          int64
	Number      string
	WarehouseID int64
	CustomerID  *int64
	Status      SaleStatus
	Note        string
	CreatedBy   int64
	CreatedAt   time.Time
}

// SaleLine is one product position on a sale.
type SaleLine struct {
	ID        int64
	SaleID    int64
	ProductID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// SaleLineInput describes one requested position.
type SaleLineInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// CreateSaleInput describes a sale to fulfill.
type CreateSaleInput struct {
	WarehouseID int64
	CustomerID  *int64
	Lines       []SaleLineInput
	Note        string
	ActorID     int64
}

var (
	// ErrSaleNotFound indicates a missing sale row.
	ErrSaleNotFound = errors.New("sales: sale not found")
	// ErrNotCancellable rejects cancellation of a sale past its cancellable
	// states.
	ErrNotCancellable = errors.New("sales: sale is not cancellable")
	// ErrNoLines rejects a sale without line items.
	ErrNoLines = errors.New("sales: at least one line required")
)
