package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-ims/meridian/internal/ledger"
	"github.com/meridian-ims/meridian/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetSale(ctx context.Context, id int64) (Sale, []SaleLine, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Enqueuer submits background tasks.
type Enqueuer interface {
	EnqueueLowStockCheck(ctx context.Context, productID int64) (*asynq.TaskInfo, error)
}

// Service fulfills and cancels sales against the stock ledger.
type Service struct {
	engine *ledger.Engine
	repo   RepositoryPort
	audit  AuditPort
	queue  Enqueuer
	logger *slog.Logger
}

// NewService builds Service. audit and queue may be nil.
func NewService(engine *ledger.Engine, repo RepositoryPort, audit AuditPort, queue Enqueuer, logger *slog.Logger) *Service {
	return &Service{engine: engine, repo: repo, audit: audit, queue: queue, logger: logger}
}

// Create fulfills a sale: for each line, inside one transaction, the
// availability check, the line insert, the out movement append and the ledger
// application. Any line failing aborts the whole sale; there is no partial
// fulfillment.
func (s *Service) Create(ctx context.Context, input CreateSaleInput) (Sale, error) {
	if input.WarehouseID == 0 {
		return Sale{}, errors.New("sales: warehouse required")
	}
	if len(input.Lines) == 0 {
		return Sale{}, ErrNoLines
	}
	for _, line := range input.Lines {
		if line.ProductID == 0 {
			return Sale{}, errors.New("sales: product required on every line")
		}
		if line.Quantity.Sign() <= 0 {
			return Sale{}, ledger.ErrNonPositiveQuantity
		}
	}
	now := time.Now().UTC()
	sale := Sale{
		Number:      saleNumber(now),
		WarehouseID: input.WarehouseID,
		CustomerID:  input.CustomerID,
		Status:      SaleStatusPending,
		Note:        input.Note,
		CreatedBy:   input.ActorID,
		CreatedAt:   now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		saleID, err := store.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = saleID
		ledgerStore := store.Ledger()
		for _, line := range input.Lines {
			rec, err := ledgerStore.GetForUpdate(ctx, line.ProductID, input.WarehouseID, nil)
			if err != nil && !errors.Is(err, ledger.ErrRecordNotFound) {
				return err
			}
			if rec.AvailableQuantity.LessThan(line.Quantity) {
				return fmt.Errorf("%w: product %d", ledger.ErrInsufficientAvailableStock, line.ProductID)
			}
			if _, err := store.InsertSaleLine(ctx, SaleLine{
				SaleID:    saleID,
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
			}); err != nil {
				return err
			}
			if _, err := ledgerStore.InsertMovement(ctx, ledger.Movement{
				ProductID:       line.ProductID,
				WarehouseID:     input.WarehouseID,
				Type:            ledger.MovementTypeOut,
				Quantity:        line.Quantity,
				UnitPrice:       line.UnitPrice,
				TotalPrice:      line.Quantity.Mul(line.UnitPrice),
				ReferenceType:   ledger.ReferenceTypeSale,
				ReferenceID:     strconv.FormatInt(saleID, 10),
				ReferenceNumber: sale.Number,
				CreatedBy:       input.ActorID,
				MovementDate:    now,
			}); err != nil {
				return err
			}
			if _, err := s.engine.ApplyMovement(ctx, ledgerStore, ledger.MovementInput{
				ProductID:    line.ProductID,
				WarehouseID:  input.WarehouseID,
				Type:         ledger.MovementTypeOut,
				Quantity:     line.Quantity,
				MovementDate: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Sale{}, err
	}

	for range input.Lines {
		s.engine.MovementCommitted(ledger.MovementTypeOut)
	}
	s.engine.InvalidateTotals(ctx)
	s.recordAudit(ctx, input.ActorID, "sale:create", sale.ID, map[string]any{
		"number":       sale.Number,
		"warehouse_id": sale.WarehouseID,
		"lines":        len(input.Lines),
	})
	s.enqueueLowStockChecks(ctx, input.Lines)
	return sale, nil
}

// Cancel undoes a sale still in a cancellable state: per original line, a
// return movement append plus the ledger application, then the sale and its
// lines are deleted, one transaction. The out and return movements stay in
// the log as the audit trail of both legs.
func (s *Service) Cancel(ctx context.Context, saleID, actorID int64) error {
	if saleID == 0 {
		return ErrSaleNotFound
	}
	now := time.Now().UTC()
	var (
		sale  Sale
		lines []SaleLine
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		var err error
		sale, err = store.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if !sale.Status.Cancellable() {
			return fmt.Errorf("%w: status %s", ErrNotCancellable, sale.Status)
		}
		lines, err = store.ListSaleLines(ctx, saleID)
		if err != nil {
			return err
		}
		ledgerStore := store.Ledger()
		for _, line := range lines {
			if _, err := ledgerStore.InsertMovement(ctx, ledger.Movement{
				ProductID:       line.ProductID,
				WarehouseID:     sale.WarehouseID,
				Type:            ledger.MovementTypeReturn,
				Quantity:        line.Quantity,
				UnitPrice:       line.UnitPrice,
				TotalPrice:      line.Quantity.Mul(line.UnitPrice),
				ReferenceType:   ledger.ReferenceTypeSale,
				ReferenceID:     strconv.FormatInt(saleID, 10),
				ReferenceNumber: sale.Number,
				CreatedBy:       actorID,
				MovementDate:    now,
			}); err != nil {
				return err
			}
			if _, err := s.engine.ApplyMovement(ctx, ledgerStore, ledger.MovementInput{
				ProductID:    line.ProductID,
				WarehouseID:  sale.WarehouseID,
				Type:         ledger.MovementTypeReturn,
				Quantity:     line.Quantity,
				MovementDate: now,
			}); err != nil {
				return err
			}
		}
		if err := store.DeleteSaleLines(ctx, saleID); err != nil {
			return err
		}
		return store.DeleteSale(ctx, saleID)
	})
	if err != nil {
		return err
	}

	for range lines {
		s.engine.MovementCommitted(ledger.MovementTypeReturn)
	}
	s.engine.InvalidateTotals(ctx)
	s.recordAudit(ctx, actorID, "sale:cancel", saleID, map[string]any{
		"number": sale.Number,
		"lines":  len(lines),
	})
	return nil
}

// Get loads a sale with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Sale, []SaleLine, error) {
	return s.repo.GetSale(ctx, id)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, saleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "sale",
		EntityID: strconv.FormatInt(saleID, 10),
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}

// enqueueLowStockChecks hands each sold product to the background checker.
// Best-effort; a failed enqueue never affects the committed sale.
func (s *Service) enqueueLowStockChecks(ctx context.Context, lines []SaleLineInput) {
	if s.queue == nil {
		return
	}
	seen := make(map[int64]bool, len(lines))
	for _, line := range lines {
		if seen[line.ProductID] {
			continue
		}
		seen[line.ProductID] = true
		if _, err := s.queue.EnqueueLowStockCheck(ctx, line.ProductID); err != nil && s.logger != nil {
			s.logger.Warn("low stock enqueue failed", slog.Any("error", err), slog.Int64("product_id", line.ProductID))
		}
	}
}

func saleNumber(t time.Time) string {
	return fmt.Sprintf("SALE-%s-%d", t.Format("20060102"), t.UnixNano()%1_000_000)
}
