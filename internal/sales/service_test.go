package sales

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-ims/meridian/internal/ledger"
	_ "github.com/meridian-ims/meridian/testing"
)

// memoryStore is an in-memory RepositoryPort whose WithTx restores the prior
// state when the callback fails, mimicking a rollback.
type memoryStore struct {
	sales     map[int64]Sale
	lines     map[int64][]SaleLine
	records   map[string]ledger.StockRecord
	movements []ledger.Movement
	nextID    int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		sales:   make(map[int64]Sale),
		lines:   make(map[int64][]SaleLine),
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
	salesSnap := make(map[int64]Sale, len(m.sales))
	for k, v := range m.sales {
		salesSnap[k] = v
	}
	linesSnap := make(map[int64][]SaleLine, len(m.lines))
	for k, v := range m.lines {
		linesSnap[k] = append([]SaleLine(nil), v...)
	}
	recordsSnap := make(map[string]ledger.StockRecord, len(m.records))
	for k, v := range m.records {
		recordsSnap[k] = v
	}
	movementCount := len(m.movements)
	if err := fn(ctx, m); err != nil {
		m.sales = salesSnap
		m.lines = linesSnap
		m.records = recordsSnap
		m.movements = m.movements[:movementCount]
		return err
	}
	return nil
}

func (m *memoryStore) GetSale(ctx context.Context, id int64) (Sale, []SaleLine, error) {
	sale, ok := m.sales[id]
	if !ok {
		return Sale{}, nil, ErrSaleNotFound
	}
	return sale, append([]SaleLine(nil), m.lines[id]...), nil
}

func (m *memoryStore) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	m.nextID++
	sale.ID = m.nextID
	m.sales[sale.ID] = sale
	return sale.ID, nil
}

func (m *memoryStore) InsertSaleLine(ctx context.Context, line SaleLine) (int64, error) {
	m.nextID++
	line.ID = m.nextID
	m.lines[line.SaleID] = append(m.lines[line.SaleID], line)
	return line.ID, nil
}

func (m *memoryStore) GetSaleForUpdate(ctx context.Context, id int64) (Sale, error) {
	sale, ok := m.sales[id]
	if !ok {
		return Sale{}, ErrSaleNotFound
	}
	return sale, nil
}

func (m *memoryStore) ListSaleLines(ctx context.Context, saleID int64) ([]SaleLine, error) {
	return append([]SaleLine(nil), m.lines[saleID]...), nil
}

func (m *memoryStore) DeleteSaleLines(ctx context.Context, saleID int64) error {
	delete(m.lines, saleID)
	return nil
}

func (m *memoryStore) DeleteSale(ctx context.Context, id int64) error {
	delete(m.sales, id)
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

func (m *memoryStore) seedStock(productID, warehouseID int64, qty string) {
	q := dec(qty)
	m.records[recordKey(productID, warehouseID, nil)] = ledger.StockRecord{
		ProductID:         productID,
		WarehouseID:       warehouseID,
		Quantity:          q,
		AvailableQuantity: q,
	}
}

type fakeQueue struct {
	productIDs []int64
}

func (q *fakeQueue) EnqueueLowStockCheck(ctx context.Context, productID int64) (*asynq.TaskInfo, error) {
	q.productIDs = append(q.productIDs, productID)
	return nil, nil
}

func newTestService(store *memoryStore, queue Enqueuer) *Service {
	engine := ledger.NewEngine(store, nil, nil, ledger.EngineConfig{})
	return NewService(engine, store, nil, queue, nil)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreateSaleIssuesStock(t *testing.T) {
	store := newMemoryStore()
	store.seedStock(1, 1, "100")
	svc := newTestService(store, nil)
	ctx := context.Background()

	sale, err := svc.Create(ctx, CreateSaleInput{
		WarehouseID: 1,
		Lines:       []SaleLineInput{{ProductID: 1, Quantity: dec("30"), UnitPrice: dec("150")}},
		ActorID:     5,
	})
	require.NoError(t, err)
	require.NotZero(t, sale.ID)
	require.Equal(t, SaleStatusPending, sale.Status)

	rec := store.records[recordKey(1, 1, nil)]
	require.True(t, rec.Quantity.Equal(dec("70")))
	require.True(t, rec.AvailableQuantity.Equal(dec("70")))

	require.Len(t, store.movements, 1)
	mv := store.movements[0]
	require.Equal(t, ledger.MovementTypeOut, mv.Type)
	require.Equal(t, ledger.ReferenceTypeSale, mv.ReferenceType)
	require.Equal(t, strconv.FormatInt(sale.ID, 10), mv.ReferenceID)
	require.Equal(t, sale.Number, mv.ReferenceNumber)
	require.True(t, mv.TotalPrice.Equal(dec("4500")))
}

func TestCreateSaleAbortsWholeOnInsufficientLine(t *testing.T) {
	store := newMemoryStore()
	store.seedStock(1, 1, "100")
	store.seedStock(2, 1, "5")
	svc := newTestService(store, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateSaleInput{
		WarehouseID: 1,
		Lines: []SaleLineInput{
			{ProductID: 1, Quantity: dec("10")},
			{ProductID: 2, Quantity: dec("10")},
		},
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientAvailableStock)

	require.True(t, store.records[recordKey(1, 1, nil)].Quantity.Equal(dec("100")), "first line must roll back too")
	require.True(t, store.records[recordKey(2, 1, nil)].Quantity.Equal(dec("5")))
	require.Empty(t, store.sales)
	require.Empty(t, store.lines)
	require.Empty(t, store.movements)
}

func TestCreateSaleRejectsEmptyLines(t *testing.T) {
	svc := newTestService(newMemoryStore(), nil)

	_, err := svc.Create(context.Background(), CreateSaleInput{WarehouseID: 1})
	require.ErrorIs(t, err, ErrNoLines)
}

func TestCancelRestoresStockAndKeepsMovementTrail(t *testing.T) {
	store := newMemoryStore()
	store.seedStock(1, 1, "100")
	svc := newTestService(store, nil)
	ctx := context.Background()

	sale, err := svc.Create(ctx, CreateSaleInput{
		WarehouseID: 1,
		Lines:       []SaleLineInput{{ProductID: 1, Quantity: dec("30"), UnitPrice: dec("150")}},
	})
	require.NoError(t, err)
	require.True(t, store.records[recordKey(1, 1, nil)].Quantity.Equal(dec("70")))

	require.NoError(t, svc.Cancel(ctx, sale.ID, 5))

	rec := store.records[recordKey(1, 1, nil)]
	require.True(t, rec.Quantity.Equal(dec("100")), "cancel must restore the pre-sale quantity exactly")

	_, _, err = svc.Get(ctx, sale.ID)
	require.ErrorIs(t, err, ErrSaleNotFound)
	require.Empty(t, store.lines[sale.ID])

	require.Len(t, store.movements, 2, "out and return both stay in the log")
	out, ret := store.movements[0], store.movements[1]
	require.Equal(t, ledger.MovementTypeOut, out.Type)
	require.Equal(t, ledger.MovementTypeReturn, ret.Type)
	require.Equal(t, out.ReferenceID, ret.ReferenceID, "both legs reference the same sale")
	require.Equal(t, ledger.ReferenceTypeSale, ret.ReferenceType)
}

func TestCancelRejectsShippedSale(t *testing.T) {
	store := newMemoryStore()
	store.nextID++
	store.sales[store.nextID] = Sale{ID: store.nextID, Number: "SALE-1", WarehouseID: 1, Status: SaleStatusShipped}
	svc := newTestService(store, nil)

	err := svc.Cancel(context.Background(), store.nextID, 1)
	require.ErrorIs(t, err, ErrNotCancellable)
	require.Len(t, store.sales, 1, "sale must remain")
}

func TestCancelMissingSale(t *testing.T) {
	svc := newTestService(newMemoryStore(), nil)

	err := svc.Cancel(context.Background(), 99, 1)
	require.ErrorIs(t, err, ErrSaleNotFound)
}

func TestCreateSaleEnqueuesLowStockCheckPerProduct(t *testing.T) {
	store := newMemoryStore()
	store.seedStock(1, 1, "100")
	queue := &fakeQueue{}
	svc := newTestService(store, queue)

	_, err := svc.Create(context.Background(), CreateSaleInput{
		WarehouseID: 1,
		Lines: []SaleLineInput{
			{ProductID: 1, Quantity: dec("10")},
			{ProductID: 1, Quantity: dec("20")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, queue.productIDs, "one check per distinct product")
}
