package stockops

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// StockInInput describes a manual inbound receipt.
type StockInInput struct {
	ProductID       int64
	WarehouseID     int64
	LocationID      *int64
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	ReferenceNumber string
	BatchNumber     string
	SerialNumber    string
	ExpiryDate      *time.Time
	Note            string
	ActorID         int64
}

// StockOutInput describes a manual outbound issue.
type StockOutInput struct {
	ProductID       int64
	WarehouseID     int64
	LocationID      *int64
	Quantity        decimal.Decimal
	ReferenceNumber string
	Note            string
	ActorID         int64
}

// TransferInput moves stock between two warehouses.
type TransferInput struct {
	ProductID       int64
	FromWarehouseID int64
	ToWarehouseID   int64
	Quantity        decimal.Decimal
	ReferenceNumber string
	Note            string
	ActorID         int64
}

// AdjustInput sets a stock record to an absolute quantity, typically after a
// physical count.
type AdjustInput struct {
	ProductID   int64
	WarehouseID int64
	LocationID  *int64
	Quantity    decimal.Decimal
	Note        string
	ActorID     int64
}

var (
	// ErrSameWarehouse rejects a transfer whose source and destination match.
	ErrSameWarehouse = errors.New("stockops: source and destination warehouse must differ")
)
