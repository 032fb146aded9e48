package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-ims/meridian/internal/ledger"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeLowStockCheck re-evaluates a product's stock against its
	// minimum level after a committed outbound movement.
	TaskTypeLowStockCheck = "stock:low_check"
)

// LowStockCheckPayload identifies the product to re-evaluate.
type LowStockCheckPayload struct {
	ProductID int64 `json:"product_id"`
}

// NewLowStockCheckTask constructs an Asynq task.
func NewLowStockCheckTask(payload LowStockCheckPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLowStockCheck, data), nil
}

// Notifier receives low-stock breaches. Delivery is external; the worker only
// hands off.
type Notifier interface {
	NotifyLowStock(ctx context.Context, productID int64) error
}

// LogNotifier logs breaches instead of delivering them. Stand-in until an
// external channel is wired.
type LogNotifier struct {
	Logger *slog.Logger
}

// NotifyLowStock implements Notifier.
func (n LogNotifier) NotifyLowStock(ctx context.Context, productID int64) error {
	if n.Logger != nil {
		n.Logger.Warn("low stock", slog.Int64("product_id", productID))
	}
	return nil
}

// StockChecker is the ledger query the handler needs.
type StockChecker interface {
	IsBelowMinimum(ctx context.Context, productID int64) (bool, error)
}

var _ StockChecker = (*ledger.Engine)(nil)

// NewLowStockCheckHandler builds the handler for TaskTypeLowStockCheck. The
// check always reads through to the store so the decision is never made on a
// stale total.
func NewLowStockCheckHandler(checker StockChecker, notifier Notifier, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LowStockCheckPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.ProductID == 0 {
			return asynq.SkipRetry
		}
		below, err := checker.IsBelowMinimum(ctx, payload.ProductID)
		if err != nil {
			return err
		}
		if !below {
			return nil
		}
		if logger != nil {
			logger.Info("low stock breach", slog.Int64("product_id", payload.ProductID))
		}
		return notifier.NotifyLowStock(ctx, payload.ProductID)
	}
}
