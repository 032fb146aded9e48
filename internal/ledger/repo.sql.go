package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-ims/meridian/internal/platform/db"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx so the same store code
// serves transactional and read paths.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction, handing
// it a Store scoped to that transaction. This is the all-or-nothing boundary
// orchestrators compose engine calls within.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewStore(tx))
	})
}

type sqlStore struct {
	db DBTX
}

// NewStore wraps a transaction (or pool, for tests against a bare store) in
// the Store interface.
func NewStore(dbtx DBTX) Store {
	return &sqlStore{db: dbtx}
}

const stockRecordColumns = `id, product_id, warehouse_id, location_id, quantity, reserved_quantity, available_quantity, average_cost, last_purchase_price, last_purchase_date, updated_at`

func (s *sqlStore) GetForUpdate(ctx context.Context, productID, warehouseID int64, locationID *int64) (StockRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+stockRecordColumns+`
FROM stock_records
WHERE product_id=$1 AND warehouse_id=$2 AND location_id IS NOT DISTINCT FROM $3
FOR UPDATE`, productID, warehouseID, locationID)
	rec, err := scanStockRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{}, ErrRecordNotFound
		}
		return StockRecord{}, err
	}
	return rec, nil
}

func (s *sqlStore) Upsert(ctx context.Context, rec StockRecord) (StockRecord, error) {
	row := s.db.QueryRow(ctx, `INSERT INTO stock_records
(product_id, warehouse_id, location_id, quantity, reserved_quantity, available_quantity, average_cost, last_purchase_price, last_purchase_date, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
ON CONFLICT (product_id, warehouse_id, COALESCE(location_id, 0)) DO UPDATE SET
	quantity=EXCLUDED.quantity,
	reserved_quantity=EXCLUDED.reserved_quantity,
	available_quantity=EXCLUDED.available_quantity,
	average_cost=EXCLUDED.average_cost,
	last_purchase_price=EXCLUDED.last_purchase_price,
	last_purchase_date=EXCLUDED.last_purchase_date,
	updated_at=NOW()
RETURNING `+stockRecordColumns,
		rec.ProductID, rec.WarehouseID, rec.LocationID,
		rec.Quantity, rec.ReservedQuantity, rec.AvailableQuantity,
		rec.AverageCost, rec.LastPurchasePrice, nullTime(rec.LastPurchaseDate))
	return scanStockRecord(row)
}

func (s *sqlStore) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `INSERT INTO stock_movements
(product_id, warehouse_id, location_id, movement_type, quantity, unit_price, total_price, reference_type, reference_id, reference_number, from_warehouse_id, to_warehouse_id, batch_number, serial_number, expiry_date, created_by, movement_date, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW())
RETURNING id`,
		mv.ProductID, mv.WarehouseID, mv.LocationID, string(mv.Type),
		mv.Quantity, mv.UnitPrice, mv.TotalPrice,
		string(mv.ReferenceType), nullString(mv.ReferenceID), mv.ReferenceNumber,
		mv.FromWarehouseID, mv.ToWarehouseID,
		mv.BatchNumber, mv.SerialNumber, mv.ExpiryDate,
		nullInt(mv.CreatedBy), movementDate(mv.MovementDate)).Scan(&id)
	return id, err
}

// TotalStock sums ledger quantity across warehouses for a product.
func (r *Repository) TotalStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_records WHERE product_id=$1`, productID).Scan(&total)
	return total, err
}

// MinStockLevel reads the product's configured minimum.
func (r *Repository) MinStockLevel(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var minLevel decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT min_stock_level FROM products WHERE id=$1`, productID).Scan(&minLevel)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrRecordNotFound
		}
		return decimal.Zero, err
	}
	return minLevel, nil
}

// AverageCost is the quantity-weighted mean unit price over the trailing
// window of inbound movements for the pair, zero when none qualify.
func (r *Repository) AverageCost(ctx context.Context, productID, warehouseID int64, window int) (decimal.Decimal, error) {
	if window <= 0 {
		window = 10
	}
	var avg decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(unit_price * quantity) / NULLIF(SUM(quantity), 0), 0)
FROM (
	SELECT unit_price, quantity
	FROM stock_movements
	WHERE product_id=$1 AND warehouse_id=$2 AND movement_type=$3
	ORDER BY movement_date DESC, id DESC
	LIMIT $4
) recent`, productID, warehouseID, string(MovementTypeIn), window).Scan(&avg)
	return avg, err
}

// LowStock lists products whose summed stock sits at or below their minimum.
func (r *Repository) LowStock(ctx context.Context) ([]LowStockItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.sku, p.name, p.min_stock_level, COALESCE(SUM(s.quantity), 0) AS total
FROM products p
LEFT JOIN stock_records s ON s.product_id = p.id
WHERE p.min_stock_level > 0
GROUP BY p.id, p.sku, p.name, p.min_stock_level
HAVING COALESCE(SUM(s.quantity), 0) <= p.min_stock_level
ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []LowStockItem{}
	for rows.Next() {
		var item LowStockItem
		if err := rows.Scan(&item.ProductID, &item.SKU, &item.Name, &item.MinStockLevel, &item.TotalStock); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Valuation values non-zero stock records at moving average cost.
func (r *Repository) Valuation(ctx context.Context, warehouseID int64) ([]ValuationRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, warehouse_id, quantity, average_cost, quantity * average_cost AS value
FROM stock_records
WHERE quantity <> 0 AND ($1 = 0 OR warehouse_id = $1)
ORDER BY warehouse_id, product_id`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []ValuationRow{}
	for rows.Next() {
		var row ValuationRow
		if err := rows.Scan(&row.ProductID, &row.WarehouseID, &row.Quantity, &row.AverageCost, &row.Value); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// MovementsByReference lists the movement trail for one business document,
// oldest first.
func (r *Repository) MovementsByReference(ctx context.Context, refType ReferenceType, refID string) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, warehouse_id, location_id, movement_type, quantity, unit_price, total_price, reference_type, COALESCE(reference_id::text, ''), reference_number, from_warehouse_id, to_warehouse_id, batch_number, serial_number, expiry_date, COALESCE(created_by, 0), movement_date, created_at
FROM stock_movements
WHERE reference_type=$1 AND reference_id=$2
ORDER BY id ASC`, string(refType), refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var mv Movement
		var mvType, refTypeStr string
		if err := rows.Scan(&mv.ID, &mv.ProductID, &mv.WarehouseID, &mv.LocationID, &mvType, &mv.Quantity, &mv.UnitPrice, &mv.TotalPrice, &refTypeStr, &mv.ReferenceID, &mv.ReferenceNumber, &mv.FromWarehouseID, &mv.ToWarehouseID, &mv.BatchNumber, &mv.SerialNumber, &mv.ExpiryDate, &mv.CreatedBy, &mv.MovementDate, &mv.CreatedAt); err != nil {
			return nil, err
		}
		mv.Type = MovementType(mvType)
		mv.ReferenceType = ReferenceType(refTypeStr)
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

func scanStockRecord(row pgx.Row) (StockRecord, error) {
	var rec StockRecord
	var lastPurchase *time.Time
	err := row.Scan(&rec.ID, &rec.ProductID, &rec.WarehouseID, &rec.LocationID,
		&rec.Quantity, &rec.ReservedQuantity, &rec.AvailableQuantity,
		&rec.AverageCost, &rec.LastPurchasePrice, &lastPurchase, &rec.UpdatedAt)
	if err != nil {
		return StockRecord{}, err
	}
	if lastPurchase != nil {
		rec.LastPurchaseDate = *lastPurchase
	}
	return rec, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
