package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-ims/meridian/internal/ledger"
	"github.com/meridian-ims/meridian/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderLine, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service places and receives purchase orders against the stock ledger.
type Service struct {
	engine *ledger.Engine
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service. audit may be nil.
func NewService(engine *ledger.Engine, repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{engine: engine, repo: repo, audit: audit, logger: logger}
}

// Create places a purchase order. Placing touches no stock; the ledger sees
// the order only when it is received.
func (s *Service) Create(ctx context.Context, input CreateOrderInput) (PurchaseOrder, error) {
	if input.WarehouseID == 0 {
		return PurchaseOrder{}, errors.New("procurement: warehouse required")
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, ErrNoLines
	}
	for _, line := range input.Lines {
		if line.ProductID == 0 {
			return PurchaseOrder{}, errors.New("procurement: product required on every line")
		}
		if line.Quantity.Sign() <= 0 {
			return PurchaseOrder{}, ledger.ErrNonPositiveQuantity
		}
	}
	now := time.Now().UTC()
	order := PurchaseOrder{
		Number:      orderNumber(now),
		SupplierID:  input.SupplierID,
		WarehouseID: input.WarehouseID,
		Status:      PurchaseOrderStatusPending,
		OrderDate:   now,
		Note:        input.Note,
		CreatedBy:   input.ActorID,
		CreatedAt:   now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		orderID, err := store.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = orderID
		for _, line := range input.Lines {
			if _, err := store.InsertLine(ctx, PurchaseOrderLine{
				PurchaseOrderID: orderID,
				ProductID:       line.ProductID,
				Quantity:        line.Quantity,
				UnitPrice:       line.UnitPrice,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "po:create", order.ID, map[string]any{
		"number": order.Number,
		"lines":  len(input.Lines),
	})
	return order, nil
}

// Receive books the order's outstanding quantities into stock: per line, an
// inbound movement referencing the order plus the ledger application, which
// folds the line's unit price into the moving average cost and refreshes the
// last purchase figures. One transaction for all lines.
func (s *Service) Receive(ctx context.Context, orderID, actorID int64) (PurchaseOrder, error) {
	if orderID == 0 {
		return PurchaseOrder{}, ErrOrderNotFound
	}
	now := time.Now().UTC()
	var (
		order PurchaseOrder
		lines []PurchaseOrderLine
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		var err error
		order, err = store.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case PurchaseOrderStatusReceived:
			return ErrAlreadyReceived
		case PurchaseOrderStatusCanceled:
			return ErrOrderCanceled
		}
		lines, err = store.ListLines(ctx, orderID)
		if err != nil {
			return err
		}
		ledgerStore := store.Ledger()
		for _, line := range lines {
			outstanding := line.Quantity.Sub(line.ReceivedQuantity)
			if outstanding.Sign() <= 0 {
				continue
			}
			if _, err := ledgerStore.InsertMovement(ctx, ledger.Movement{
				ProductID:       line.ProductID,
				WarehouseID:     order.WarehouseID,
				Type:            ledger.MovementTypeIn,
				Quantity:        outstanding,
				UnitPrice:       line.UnitPrice,
				TotalPrice:      outstanding.Mul(line.UnitPrice),
				ReferenceType:   ledger.ReferenceTypePurchaseOrder,
				ReferenceID:     strconv.FormatInt(orderID, 10),
				ReferenceNumber: order.Number,
				CreatedBy:       actorID,
				MovementDate:    now,
			}); err != nil {
				return err
			}
			if _, err := s.engine.ApplyMovement(ctx, ledgerStore, ledger.MovementInput{
				ProductID:    line.ProductID,
				WarehouseID:  order.WarehouseID,
				Type:         ledger.MovementTypeIn,
				Quantity:     outstanding,
				UnitPrice:    line.UnitPrice,
				MovementDate: now,
			}); err != nil {
				return err
			}
			line.ReceivedQuantity = line.Quantity
			if err := store.MarkLineReceived(ctx, line.ID, line); err != nil {
				return err
			}
		}
		return store.MarkOrderReceived(ctx, orderID, now)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}

	order.Status = PurchaseOrderStatusReceived
	order.ReceivedAt = &now
	for _, line := range lines {
		if line.Quantity.GreaterThan(line.ReceivedQuantity) {
			s.engine.MovementCommitted(ledger.MovementTypeIn)
		}
	}
	s.engine.InvalidateTotals(ctx)
	s.recordAudit(ctx, actorID, "po:receive", orderID, map[string]any{
		"number": order.Number,
		"lines":  len(lines),
	})
	return order, nil
}

// Get loads an order with its lines.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderLine, error) {
	return s.repo.GetOrder(ctx, id)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: strconv.FormatInt(orderID, 10),
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}

func orderNumber(t time.Time) string {
	return fmt.Sprintf("PO-%s-%d", t.Format("20060102"), t.UnixNano()%1_000_000)
}
