package stockops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/meridian-ims/meridian/internal/ledger"
	"github.com/meridian-ims/meridian/internal/shared"
)

// LedgerRepository opens the transaction the ledger calls compose inside.
type LedgerRepository interface {
	WithTx(ctx context.Context, fn func(context.Context, ledger.Store) error) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Enqueuer submits background tasks.
type Enqueuer interface {
	EnqueueLowStockCheck(ctx context.Context, productID int64) (*asynq.TaskInfo, error)
}

// ServiceConfig carries stock policy knobs.
type ServiceConfig struct {
	// AllowNegativeStock skips the outbound availability check so manual
	// issues and transfers can drive a record below zero.
	AllowNegativeStock bool
}

// Service coordinates manual stock operations. Every operation runs its
// movement append and ledger application inside one transaction; nothing is
// observable until commit.
type Service struct {
	engine   *ledger.Engine
	repo     LedgerRepository
	audit    AuditPort
	queue    Enqueuer
	logger   *slog.Logger
	allowNeg bool
}

// NewService builds Service. audit and queue may be nil.
func NewService(engine *ledger.Engine, repo LedgerRepository, audit AuditPort, queue Enqueuer, cfg ServiceConfig, logger *slog.Logger) *Service {
	return &Service{engine: engine, repo: repo, audit: audit, queue: queue, logger: logger, allowNeg: cfg.AllowNegativeStock}
}

// StockIn posts a manual inbound receipt. A positive unit price folds into
// the record's moving average cost and refreshes the last purchase figures.
func (s *Service) StockIn(ctx context.Context, input StockInInput) (ledger.StockRecord, error) {
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return ledger.StockRecord{}, errors.New("stockops: warehouse and product required")
	}
	if input.Quantity.Sign() <= 0 {
		return ledger.StockRecord{}, ledger.ErrNonPositiveQuantity
	}
	now := time.Now().UTC()
	refID := uuid.NewString()

	var rec ledger.StockRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, store ledger.Store) error {
		var err error
		rec, err = s.engine.ApplyMovement(ctx, store, ledger.MovementInput{
			ProductID:    input.ProductID,
			WarehouseID:  input.WarehouseID,
			LocationID:   input.LocationID,
			Type:         ledger.MovementTypeIn,
			Quantity:     input.Quantity,
			UnitPrice:    input.UnitPrice,
			MovementDate: now,
		})
		if err != nil {
			return err
		}
		_, err = store.InsertMovement(ctx, ledger.Movement{
			ProductID:       input.ProductID,
			WarehouseID:     input.WarehouseID,
			LocationID:      input.LocationID,
			Type:            ledger.MovementTypeIn,
			Quantity:        input.Quantity,
			UnitPrice:       input.UnitPrice,
			TotalPrice:      input.Quantity.Mul(input.UnitPrice),
			ReferenceType:   ledger.ReferenceTypeManual,
			ReferenceID:     refID,
			ReferenceNumber: input.ReferenceNumber,
			BatchNumber:     input.BatchNumber,
			SerialNumber:    input.SerialNumber,
			ExpiryDate:      input.ExpiryDate,
			CreatedBy:       input.ActorID,
			MovementDate:    now,
		})
		return err
	})
	if err != nil {
		return ledger.StockRecord{}, err
	}
	s.afterCommit(ctx, ledger.MovementTypeIn, input.ProductID, input.ActorID, refID, map[string]any{
		"product_id":   input.ProductID,
		"warehouse_id": input.WarehouseID,
		"qty":          input.Quantity.String(),
		"note":         input.Note,
	})
	return rec, nil
}

// StockOut posts a manual outbound issue. The availability check and the
// ledger application run under the same row lock.
func (s *Service) StockOut(ctx context.Context, input StockOutInput) (ledger.StockRecord, error) {
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return ledger.StockRecord{}, errors.New("stockops: warehouse and product required")
	}
	if input.Quantity.Sign() <= 0 {
		return ledger.StockRecord{}, ledger.ErrNonPositiveQuantity
	}
	now := time.Now().UTC()
	refID := uuid.NewString()

	var rec ledger.StockRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, store ledger.Store) error {
		if !s.allowNeg {
			if err := checkAvailability(ctx, store, input.ProductID, input.WarehouseID, input.LocationID, input.Quantity); err != nil {
				return err
			}
		}
		var err error
		rec, err = s.engine.ApplyMovement(ctx, store, ledger.MovementInput{
			ProductID:    input.ProductID,
			WarehouseID:  input.WarehouseID,
			LocationID:   input.LocationID,
			Type:         ledger.MovementTypeOut,
			Quantity:     input.Quantity,
			MovementDate: now,
		})
		if err != nil {
			return err
		}
		_, err = store.InsertMovement(ctx, ledger.Movement{
			ProductID:       input.ProductID,
			WarehouseID:     input.WarehouseID,
			LocationID:      input.LocationID,
			Type:            ledger.MovementTypeOut,
			Quantity:        input.Quantity,
			ReferenceType:   ledger.ReferenceTypeManual,
			ReferenceID:     refID,
			ReferenceNumber: input.ReferenceNumber,
			CreatedBy:       input.ActorID,
			MovementDate:    now,
		})
		return err
	})
	if err != nil {
		return ledger.StockRecord{}, err
	}
	s.afterCommit(ctx, ledger.MovementTypeOut, input.ProductID, input.ActorID, refID, map[string]any{
		"product_id":   input.ProductID,
		"warehouse_id": input.WarehouseID,
		"qty":          input.Quantity.String(),
		"note":         input.Note,
	})
	return rec, nil
}

// Transfer moves stock between warehouses: a transfer debit at the source and
// an inbound credit at the destination, two movement rows sharing one
// reference id, all-or-nothing. Insufficient availability at the source rolls
// back both legs.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (ledger.StockRecord, ledger.StockRecord, error) {
	if input.ProductID == 0 || input.FromWarehouseID == 0 || input.ToWarehouseID == 0 {
		return ledger.StockRecord{}, ledger.StockRecord{}, errors.New("stockops: warehouse and product required")
	}
	if input.FromWarehouseID == input.ToWarehouseID {
		return ledger.StockRecord{}, ledger.StockRecord{}, ErrSameWarehouse
	}
	if input.Quantity.Sign() <= 0 {
		return ledger.StockRecord{}, ledger.StockRecord{}, ledger.ErrNonPositiveQuantity
	}
	now := time.Now().UTC()
	refID := uuid.NewString()

	var fromRec, toRec ledger.StockRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, store ledger.Store) error {
		if !s.allowNeg {
			if err := checkAvailability(ctx, store, input.ProductID, input.FromWarehouseID, nil, input.Quantity); err != nil {
				return err
			}
		}
		var err error
		fromRec, err = s.engine.ApplyMovement(ctx, store, ledger.MovementInput{
			ProductID:    input.ProductID,
			WarehouseID:  input.FromWarehouseID,
			Type:         ledger.MovementTypeTransfer,
			Quantity:     input.Quantity,
			MovementDate: now,
		})
		if err != nil {
			return err
		}
		toRec, err = s.engine.ApplyMovement(ctx, store, ledger.MovementInput{
			ProductID:    input.ProductID,
			WarehouseID:  input.ToWarehouseID,
			Type:         ledger.MovementTypeIn,
			Quantity:     input.Quantity,
			MovementDate: now,
		})
		if err != nil {
			return err
		}
		legs := []ledger.Movement{
			{
				ProductID:       input.ProductID,
				WarehouseID:     input.FromWarehouseID,
				Type:            ledger.MovementTypeTransfer,
				Quantity:        input.Quantity,
				ReferenceType:   ledger.ReferenceTypeTransfer,
				ReferenceID:     refID,
				ReferenceNumber: input.ReferenceNumber,
				FromWarehouseID: &input.FromWarehouseID,
				ToWarehouseID:   &input.ToWarehouseID,
				CreatedBy:       input.ActorID,
				MovementDate:    now,
			},
			{
				ProductID:       input.ProductID,
				WarehouseID:     input.ToWarehouseID,
				Type:            ledger.MovementTypeIn,
				Quantity:        input.Quantity,
				ReferenceType:   ledger.ReferenceTypeTransfer,
				ReferenceID:     refID,
				ReferenceNumber: input.ReferenceNumber,
				FromWarehouseID: &input.FromWarehouseID,
				ToWarehouseID:   &input.ToWarehouseID,
				CreatedBy:       input.ActorID,
				MovementDate:    now,
			},
		}
		for _, leg := range legs {
			if _, err := store.InsertMovement(ctx, leg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ledger.StockRecord{}, ledger.StockRecord{}, err
	}
	s.afterCommit(ctx, ledger.MovementTypeTransfer, input.ProductID, input.ActorID, refID, map[string]any{
		"product_id":     input.ProductID,
		"from_warehouse": input.FromWarehouseID,
		"to_warehouse":   input.ToWarehouseID,
		"qty":            input.Quantity.String(),
		"note":           input.Note,
	})
	return fromRec, toRec, nil
}

// Adjust sets the stock record to an absolute quantity after a physical
// count. The movement records the counted quantity, not a delta.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (ledger.StockRecord, error) {
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return ledger.StockRecord{}, errors.New("stockops: warehouse and product required")
	}
	if input.Quantity.Sign() <= 0 {
		return ledger.StockRecord{}, ledger.ErrNonPositiveQuantity
	}
	now := time.Now().UTC()
	refID := uuid.NewString()

	var rec ledger.StockRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, store ledger.Store) error {
		var err error
		rec, err = s.engine.ApplyMovement(ctx, store, ledger.MovementInput{
			ProductID:    input.ProductID,
			WarehouseID:  input.WarehouseID,
			LocationID:   input.LocationID,
			Type:         ledger.MovementTypeAdjustment,
			Quantity:     input.Quantity,
			MovementDate: now,
		})
		if err != nil {
			return err
		}
		_, err = store.InsertMovement(ctx, ledger.Movement{
			ProductID:     input.ProductID,
			WarehouseID:   input.WarehouseID,
			LocationID:    input.LocationID,
			Type:          ledger.MovementTypeAdjustment,
			Quantity:      input.Quantity,
			ReferenceType: ledger.ReferenceTypeManual,
			ReferenceID:   refID,
			CreatedBy:     input.ActorID,
			MovementDate:  now,
		})
		return err
	})
	if err != nil {
		return ledger.StockRecord{}, err
	}
	s.afterCommit(ctx, ledger.MovementTypeAdjustment, input.ProductID, input.ActorID, refID, map[string]any{
		"product_id":   input.ProductID,
		"warehouse_id": input.WarehouseID,
		"qty":          input.Quantity.String(),
		"note":         input.Note,
	})
	return rec, nil
}

// Reserve earmarks units of available stock for an unfulfilled outbound
// document. Fails when availability is short; never touches quantity.
func (s *Service) Reserve(ctx context.Context, productID, warehouseID int64, qty decimal.Decimal) (ledger.StockRecord, error) {
	if productID == 0 || warehouseID == 0 {
		return ledger.StockRecord{}, errors.New("stockops: warehouse and product required")
	}
	var rec ledger.StockRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, store ledger.Store) error {
		var err error
		rec, err = s.engine.Reserve(ctx, store, productID, warehouseID, qty)
		return err
	})
	if err != nil {
		return ledger.StockRecord{}, err
	}
	s.engine.InvalidateTotals(ctx)
	return rec, nil
}

// Release hands reserved units back to availability, clamped at zero so a
// double release is harmless.
func (s *Service) Release(ctx context.Context, productID, warehouseID int64, qty decimal.Decimal) (ledger.StockRecord, error) {
	if productID == 0 || warehouseID == 0 {
		return ledger.StockRecord{}, errors.New("stockops: warehouse and product required")
	}
	var rec ledger.StockRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, store ledger.Store) error {
		var err error
		rec, err = s.engine.Release(ctx, store, productID, warehouseID, qty)
		return err
	})
	if err != nil {
		return ledger.StockRecord{}, err
	}
	s.engine.InvalidateTotals(ctx)
	return rec, nil
}

// checkAvailability enforces the outbound availability rule under the row
// lock the subsequent ledger application reuses. A triple that was never
// moved has nothing available.
func checkAvailability(ctx context.Context, store ledger.Store, productID, warehouseID int64, locationID *int64, qty decimal.Decimal) error {
	rec, err := store.GetForUpdate(ctx, productID, warehouseID, locationID)
	if err != nil {
		if errors.Is(err, ledger.ErrRecordNotFound) {
			return ledger.ErrInsufficientAvailableStock
		}
		return err
	}
	if rec.AvailableQuantity.LessThan(qty) {
		return ledger.ErrInsufficientAvailableStock
	}
	return nil
}

// afterCommit runs the post-commit side effects. None of them can fail the
// already committed operation.
func (s *Service) afterCommit(ctx context.Context, t ledger.MovementType, productID, actorID int64, refID string, meta map[string]any) {
	s.engine.MovementCommitted(t)
	s.engine.InvalidateTotals(ctx)
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   fmt.Sprintf("stock:%s", t),
			Entity:   "stock_movement",
			EntityID: refID,
			Meta:     meta,
		}); err != nil && s.logger != nil {
			s.logger.Warn("audit record failed", slog.Any("error", err))
		}
	}
	if s.queue == nil {
		return
	}
	switch t {
	case ledger.MovementTypeOut, ledger.MovementTypeTransfer, ledger.MovementTypeLoss, ledger.MovementTypeAdjustment:
		if _, err := s.queue.EnqueueLowStockCheck(ctx, productID); err != nil && s.logger != nil {
			s.logger.Warn("low stock enqueue failed", slog.Any("error", err), slog.Int64("product_id", productID))
		}
	}
}
