package jobs

import (
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	below   bool
	checked []int64
}

func (c *fakeChecker) IsBelowMinimum(ctx context.Context, productID int64) (bool, error) {
	c.checked = append(c.checked, productID)
	return c.below, nil
}

type fakeNotifier struct {
	notified []int64
}

func (n *fakeNotifier) NotifyLowStock(ctx context.Context, productID int64) error {
	n.notified = append(n.notified, productID)
	return nil
}

func TestLowStockCheckNotifiesOnBreach(t *testing.T) {
	checker := &fakeChecker{below: true}
	notifier := &fakeNotifier{}
	handler := NewLowStockCheckHandler(checker, notifier, nil)

	task, err := NewLowStockCheckTask(LowStockCheckPayload{ProductID: 7})
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, []int64{7}, checker.checked)
	require.Equal(t, []int64{7}, notifier.notified)
}

func TestLowStockCheckSkipsHealthyStock(t *testing.T) {
	checker := &fakeChecker{below: false}
	notifier := &fakeNotifier{}
	handler := NewLowStockCheckHandler(checker, notifier, nil)

	task, err := NewLowStockCheckTask(LowStockCheckPayload{ProductID: 7})
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	require.Empty(t, notifier.notified)
}

func TestLowStockCheckSkipsRetryOnBadPayload(t *testing.T) {
	handler := NewLowStockCheckHandler(&fakeChecker{}, &fakeNotifier{}, nil)

	err := handler(context.Background(), asynq.NewTask(TaskTypeLowStockCheck, []byte("not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = handler(context.Background(), asynq.NewTask(TaskTypeLowStockCheck, []byte(`{"product_id":0}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
