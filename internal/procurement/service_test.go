package procurement

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-ims/meridian/internal/ledger"
)

type memoryStore struct {
	orders    map[int64]PurchaseOrder
	lines     map[int64][]PurchaseOrderLine
	records   map[string]ledger.StockRecord
	movements []ledger.Movement
	nextID    int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders:  make(map[int64]PurchaseOrder),
		lines:   make(map[int64][]PurchaseOrderLine),
		records: make(map[string]ledger.StockRecord),
	}
}

func recordKey(productID, warehouseID int64, locationID *int64) string {
	loc := int64(0)
	if locationID != nil {
		loc = *locationID
	}
	return fmt.Sprintf("%d:%d:%d", productID, warehouseID, loc)
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	ordersSnap := make(map[int64]PurchaseOrder, len(m.orders))
	for k, v := range m.orders {
		ordersSnap[k] = v
	}
	linesSnap := make(map[int64][]PurchaseOrderLine, len(m.lines))
	for k, v := range m.lines {
		linesSnap[k] = append([]PurchaseOrderLine(nil), v...)
	}
	recordsSnap := make(map[string]ledger.StockRecord, len(m.records))
	for k, v := range m.records {
		recordsSnap[k] = v
	}
	movementCount := len(m.movements)
	if err := fn(ctx, m); err != nil {
		m.orders = ordersSnap
		m.lines = linesSnap
		m.records = recordsSnap
		m.movements = m.movements[:movementCount]
		return err
	}
	return nil
}

func (m *memoryStore) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderLine, error) {
	order, ok := m.orders[id]
	if !ok {
		return PurchaseOrder{}, nil, ErrOrderNotFound
	}
	return order, append([]PurchaseOrderLine(nil), m.lines[id]...), nil
}

func (m *memoryStore) InsertOrder(ctx context.Context, order PurchaseOrder) (int64, error) {
	m.nextID++
	order.ID = m.nextID
	m.orders[order.ID] = order
	return order.ID, nil
}

func (m *memoryStore) InsertLine(ctx context.Context, line PurchaseOrderLine) (int64, error) {
	m.nextID++
	line.ID = m.nextID
	m.lines[line.PurchaseOrderID] = append(m.lines[line.PurchaseOrderID], line)
	return line.ID, nil
}

func (m *memoryStore) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	order, ok := m.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrOrderNotFound
	}
	return order, nil
}

func (m *memoryStore) ListLines(ctx context.Context, orderID int64) ([]PurchaseOrderLine, error) {
	return append([]PurchaseOrderLine(nil), m.lines[orderID]...), nil
}

func (m *memoryStore) MarkLineReceived(ctx context.Context, lineID int64, received PurchaseOrderLine) error {
	for orderID, lines := range m.lines {
		for i := range lines {
			if lines[i].ID == lineID {
				m.lines[orderID][i].ReceivedQuantity = received.ReceivedQuantity
				return nil
			}
		}
	}
	return fmt.Errorf("line %d not found", lineID)
}

func (m *memoryStore) MarkOrderReceived(ctx context.Context, id int64, at time.Time) error {
	order, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = PurchaseOrderStatusReceived
	order.ReceivedAt = &at
	m.orders[id] = order
	return nil
}

func (m *memoryStore) Ledger() ledger.Store {
	return m
}

func (m *memoryStore) GetForUpdate(ctx context.Context, productID, warehouseID int64, locationID *int64) (ledger.StockRecord, error) {
	rec, ok := m.records[recordKey(productID, warehouseID, locationID)]
	if !ok {
		return ledger.StockRecord{}, ledger.ErrRecordNotFound
	}
	return rec, nil
}

func (m *memoryStore) Upsert(ctx context.Context, rec ledger.StockRecord) (ledger.StockRecord, error) {
	if rec.ID == 0 {
		m.nextID++
		rec.ID = m.nextID
	}
	m.records[recordKey(rec.ProductID, rec.WarehouseID, rec.LocationID)] = rec
	return rec, nil
}

func (m *memoryStore) InsertMovement(ctx context.Context, mv ledger.Movement) (int64, error) {
	m.nextID++
	mv.ID = m.nextID
	m.movements = append(m.movements, mv)
	return mv.ID, nil
}

func (m *memoryStore) TotalStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, rec := range m.records {
		if rec.ProductID == productID {
			total = total.Add(rec.Quantity)
		}
	}
	return total, nil
}

func (m *memoryStore) MinStockLevel(ctx context.Context, productID int64) (decimal.Decimal, error) {
	return decimal.Zero, ledger.ErrRecordNotFound
}

func (m *memoryStore) AverageCost(ctx context.Context, productID, warehouseID int64, window int) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (m *memoryStore) LowStock(ctx context.Context) ([]ledger.LowStockItem, error) {
	return nil, nil
}

func (m *memoryStore) Valuation(ctx context.Context, warehouseID int64) ([]ledger.ValuationRow, error) {
	return nil, nil
}

func (m *memoryStore) MovementsByReference(ctx context.Context, refType ledger.ReferenceType, refID string) ([]ledger.Movement, error) {
	trail := []ledger.Movement{}
	for _, mv := range m.movements {
		if mv.ReferenceType == refType && mv.ReferenceID == refID {
			trail = append(trail, mv)
		}
	}
	return trail, nil
}

func newTestService(store *memoryStore) *Service {
	engine := ledger.NewEngine(store, nil, nil, ledger.EngineConfig{})
	return NewService(engine, store, nil, nil)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreateOrderTouchesNoStock(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)

	order, err := svc.Create(context.Background(), CreateOrderInput{
		WarehouseID: 1,
		Lines:       []LineInput{{ProductID: 1, Quantity: dec("10"), UnitPrice: dec("100")}},
		ActorID:     3,
	})
	require.NoError(t, err)
	require.NotZero(t, order.ID)
	require.Equal(t, PurchaseOrderStatusPending, order.Status)
	require.Empty(t, store.records)
	require.Empty(t, store.movements)
}

func TestReceiveBooksStockAndMovingAverage(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	ctx := context.Background()

	// Existing stock of 10 at average cost 100000.
	store.records[recordKey(1, 1, nil)] = ledger.StockRecord{
		ProductID:         1,
		WarehouseID:       1,
		Quantity:          dec("10"),
		AvailableQuantity: dec("10"),
		AverageCost:       dec("100000"),
	}

	order, err := svc.Create(ctx, CreateOrderInput{
		WarehouseID: 1,
		Lines:       []LineInput{{ProductID: 1, Quantity: dec("5"), UnitPrice: dec("120000")}},
	})
	require.NoError(t, err)

	received, err := svc.Receive(ctx, order.ID, 3)
	require.NoError(t, err)
	require.Equal(t, PurchaseOrderStatusReceived, received.Status)
	require.NotNil(t, received.ReceivedAt)

	rec := store.records[recordKey(1, 1, nil)]
	require.True(t, rec.Quantity.Equal(dec("15")))
	require.True(t, rec.AverageCost.Round(2).Equal(dec("106666.67")), "moving average folds the receipt, got %s", rec.AverageCost)
	require.True(t, rec.LastPurchasePrice.Equal(dec("120000")))
	require.False(t, rec.LastPurchaseDate.IsZero())

	require.Len(t, store.movements, 1)
	mv := store.movements[0]
	require.Equal(t, ledger.MovementTypeIn, mv.Type)
	require.Equal(t, ledger.ReferenceTypePurchaseOrder, mv.ReferenceType)
	require.Equal(t, strconv.FormatInt(order.ID, 10), mv.ReferenceID)
	require.Equal(t, order.Number, mv.ReferenceNumber)

	lines := store.lines[order.ID]
	require.Len(t, lines, 1)
	require.True(t, lines[0].ReceivedQuantity.Equal(dec("5")))
}

func TestReceiveTwiceRejected(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	ctx := context.Background()

	order, err := svc.Create(ctx, CreateOrderInput{
		WarehouseID: 1,
		Lines:       []LineInput{{ProductID: 1, Quantity: dec("5"), UnitPrice: dec("10")}},
	})
	require.NoError(t, err)

	_, err = svc.Receive(ctx, order.ID, 1)
	require.NoError(t, err)

	_, err = svc.Receive(ctx, order.ID, 1)
	require.ErrorIs(t, err, ErrAlreadyReceived)
	require.Len(t, store.movements, 1, "second receive must not double-book")
}

func TestReceiveMissingOrder(t *testing.T) {
	svc := newTestService(newMemoryStore())

	_, err := svc.Receive(context.Background(), 42, 1)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCreateOrderValidation(t *testing.T) {
	svc := newTestService(newMemoryStore())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateOrderInput{WarehouseID: 1})
	require.ErrorIs(t, err, ErrNoLines)

	_, err = svc.Create(ctx, CreateOrderInput{
		WarehouseID: 1,
		Lines:       []LineInput{{ProductID: 1, Quantity: dec("-2")}},
	})
	require.ErrorIs(t, err, ledger.ErrNonPositiveQuantity)
}
