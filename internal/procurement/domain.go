package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseOrderStatus is the order's lifecycle state.
type PurchaseOrderStatus string

const (
	PurchaseOrderStatusPending  PurchaseOrderStatus = "pending"
	PurchaseOrderStatusReceived PurchaseOrderStatus = "received"
	PurchaseOrderStatusCanceled PurchaseOrderStatus = "canceled"
)

// PurchaseOrder is the header document for inbound procurement.
type PurchaseOrder struct {
	ID          int64
	Number      string
	SupplierID  *int64
	WarehouseID int64
	Status      PurchaseOrderStatus
	OrderDate   time.Time
	ReceivedAt  *time.Time
	Note        string
	CreatedBy   int64
	CreatedAt   time.Time
}

// PurchaseOrderLine is one ordered product position.
type PurchaseOrderLine struct {
	ID               int64
	PurchaseOrderID  int64
	ProductID        int64
	Quantity         decimal.Decimal
	ReceivedQuantity decimal.Decimal
	UnitPrice        decimal.Decimal
}

// LineInput describes one requested position.
type LineInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// CreateOrderInput describes a purchase order to place.
type CreateOrderInput struct {
	SupplierID  *int64
	WarehouseID int64
	Lines       []LineInput
	Note        string
	ActorID     int64
}

var (
	// ErrOrderNotFound indicates a missing purchase order row.
	ErrOrderNotFound = errors.New("procurement: purchase order not found")
	// ErrAlreadyReceived rejects receiving an order twice.
	ErrAlreadyReceived = errors.New("procurement: purchase order already received")
	// ErrOrderCanceled rejects receiving a canceled order.
	ErrOrderCanceled = errors.New("procurement: purchase order canceled")
	// ErrNoLines rejects an order without line items.
	ErrNoLines = errors.New("procurement: at least one line required")
)
