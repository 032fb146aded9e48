package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates the closed set of stock movements. Direction is
// implied by the type; movement quantities are always positive magnitudes.
type MovementType string

const (
	// MovementTypeIn represents an inbound receipt.
	MovementTypeIn MovementType = "in"
	// MovementTypeOut represents an outbound issue.
	MovementTypeOut MovementType = "out"
	// MovementTypeTransfer is the debit leg at the source warehouse of a
	// transfer. The credit leg at the destination posts as an inbound
	// movement referencing the transfer.
	MovementTypeTransfer MovementType = "transfer"
	// MovementTypeAdjustment sets the quantity to an absolute value rather
	// than applying a delta.
	MovementTypeAdjustment MovementType = "adjustment"
	// MovementTypeReturn credits stock back, compensating a prior issue.
	MovementTypeReturn MovementType = "return"
	// MovementTypeLoss debits stock written off as lost or damaged.
	MovementTypeLoss MovementType = "loss"
	// MovementTypeProduction credits stock produced internally.
	MovementTypeProduction MovementType = "production"
)

// Valid reports whether t belongs to the closed movement-type set.
func (t MovementType) Valid() bool {
	switch t {
	case MovementTypeIn, MovementTypeOut, MovementTypeTransfer,
		MovementTypeAdjustment, MovementTypeReturn, MovementTypeLoss,
		MovementTypeProduction:
		return true
	}
	return false
}

// ReferenceType identifies the business document that caused a movement.
type ReferenceType string

const (
	ReferenceTypePurchaseOrder ReferenceType = "purchase_order"
	ReferenceTypeSale          ReferenceType = "sale"
	ReferenceTypeTransfer      ReferenceType = "transfer"
	ReferenceTypeManual        ReferenceType = "manual"
	ReferenceTypeOther         ReferenceType = "other"
)

// StockRecord is the current materialised state for one
// (product, warehouse, location) triple. AvailableQuantity is always derived
// as Quantity minus ReservedQuantity and both are persisted in the same
// write; the record is mutated exclusively through the Engine.
type StockRecord struct {
	ID                int64
	ProductID         int64
	WarehouseID       int64
	LocationID        *int64
	Quantity          decimal.Decimal
	ReservedQuantity  decimal.Decimal
	AvailableQuantity decimal.Decimal
	AverageCost       decimal.Decimal
	LastPurchasePrice decimal.Decimal
	LastPurchaseDate  time.Time
	UpdatedAt         time.Time
}

// Movement is an immutable quantity-affecting fact. Once committed it is
// never updated or deleted; corrections append a compensating movement.
type Movement struct {
	ID              int64
	ProductID       int64
	WarehouseID     int64
	LocationID      *int64
	Type            MovementType
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	TotalPrice      decimal.Decimal
	ReferenceType   ReferenceType
	ReferenceID     string
	ReferenceNumber string
	FromWarehouseID *int64
	ToWarehouseID   *int64
	BatchNumber     string
	SerialNumber    string
	ExpiryDate      *time.Time
	CreatedBy       int64
	MovementDate    time.Time
	CreatedAt       time.Time
}

// MovementInput describes one ledger application. Quantity is a positive
// magnitude for every type; for adjustments it is the absolute quantity the
// record is set to.
type MovementInput struct {
	ProductID    int64
	WarehouseID  int64
	LocationID   *int64
	Type         MovementType
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	MovementDate time.Time
}

// LowStockItem is a product whose total stock is at or below its minimum.
type LowStockItem struct {
	ProductID     int64
	SKU           string
	Name          string
	MinStockLevel decimal.Decimal
	TotalStock    decimal.Decimal
}

// ValuationRow values one stock record at its moving average cost.
type ValuationRow struct {
	ProductID   int64
	WarehouseID int64
	Quantity    decimal.Decimal
	AverageCost decimal.Decimal
	Value       decimal.Decimal
}

var (
	// ErrInvalidMovementType indicates a movement type outside the closed set.
	ErrInvalidMovementType = errors.New("ledger: invalid movement type")
	// ErrNonPositiveQuantity indicates a magnitude that is zero or negative.
	ErrNonPositiveQuantity = errors.New("ledger: quantity must be positive")
	// ErrInsufficientAvailableStock indicates a reservation or issue exceeding
	// the available quantity.
	ErrInsufficientAvailableStock = errors.New("ledger: insufficient available stock")
	// ErrRecordNotFound indicates a missing stock record row.
	ErrRecordNotFound = errors.New("ledger: stock record not found")
)
