package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-ims/meridian/internal/ledger"
	"github.com/meridian-ims/meridian/internal/platform/db"
)

// TxStore groups purchase order writes with a ledger store bound to the same
// transaction.
type TxStore interface {
	InsertOrder(ctx context.Context, order PurchaseOrder) (int64, error)
	InsertLine(ctx context.Context, line PurchaseOrderLine) (int64, error)
	GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	ListLines(ctx context.Context, orderID int64) ([]PurchaseOrderLine, error)
	MarkLineReceived(ctx context.Context, lineID int64, received PurchaseOrderLine) error
	MarkOrderReceived(ctx context.Context, id int64, at time.Time) error
	Ledger() ledger.Store
}

// Repository persists purchase orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs the callback inside one repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &sqlTxStore{tx: tx})
	})
}

const orderColumns = `id, number, supplier_id, warehouse_id, status, order_date, received_at, note, created_by, created_at`

// GetOrder loads an order header and its lines.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderLine, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1`, id))
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	lines, err := listLines(ctx, r.pool, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return order, lines, nil
}

type sqlTxStore struct {
	tx pgx.Tx
}

func (s *sqlTxStore) Ledger() ledger.Store {
	return ledger.NewStore(s.tx)
}

func (s *sqlTxStore) InsertOrder(ctx context.Context, order PurchaseOrder) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, warehouse_id, status, order_date, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		order.Number, order.SupplierID, order.WarehouseID, string(order.Status), order.OrderDate, order.Note, order.CreatedBy).Scan(&id)
	return id, err
}

func (s *sqlTxStore) InsertLine(ctx context.Context, line PurchaseOrderLine) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (purchase_order_id, product_id, quantity, received_quantity, unit_price)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		line.PurchaseOrderID, line.ProductID, line.Quantity, line.ReceivedQuantity, line.UnitPrice).Scan(&id)
	return id, err
}

func (s *sqlTxStore) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanOrder(s.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id))
}

func (s *sqlTxStore) ListLines(ctx context.Context, orderID int64) ([]PurchaseOrderLine, error) {
	return listLines(ctx, s.tx, orderID)
}

func (s *sqlTxStore) MarkLineReceived(ctx context.Context, lineID int64, received PurchaseOrderLine) error {
	_, err := s.tx.Exec(ctx, `UPDATE purchase_order_lines SET received_quantity=$2 WHERE id=$1`, lineID, received.ReceivedQuantity)
	return err
}

func (s *sqlTxStore) MarkOrderReceived(ctx context.Context, id int64, at time.Time) error {
	_, err := s.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, received_at=$3 WHERE id=$1`,
		id, string(PurchaseOrderStatusReceived), at)
	return err
}

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var order PurchaseOrder
	var status string
	err := row.Scan(&order.ID, &order.Number, &order.SupplierID, &order.WarehouseID, &status,
		&order.OrderDate, &order.ReceivedAt, &order.Note, &order.CreatedBy, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrOrderNotFound
		}
		return PurchaseOrder{}, err
	}
	order.Status = PurchaseOrderStatus(status)
	return order, nil
}

func listLines(ctx context.Context, q ledger.DBTX, orderID int64) ([]PurchaseOrderLine, error) {
	rows, err := q.Query(ctx, `SELECT id, purchase_order_id, product_id, quantity, received_quantity, unit_price
FROM purchase_order_lines WHERE purchase_order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []PurchaseOrderLine
	for rows.Next() {
		var line PurchaseOrderLine
		if err := rows.Scan(&line.ID, &line.PurchaseOrderID, &line.ProductID, &line.Quantity, &line.ReceivedQuantity, &line.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
