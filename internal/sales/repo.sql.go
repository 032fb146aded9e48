package sales

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-ims/meridian/internal/ledger"
	"github.com/meridian-ims/meridian/internal/platform/db"
)

// TxStore groups the sale writes with a ledger store bound to the same
// transaction, so line inserts, movement appends and stock applications
// commit or roll back as one unit.
type TxStore interface {
	InsertSale(ctx context.Context, sale Sale) (int64, error)
	InsertSaleLine(ctx context.Context, line SaleLine) (int64, error)
	GetSaleForUpdate(ctx context.Context, id int64) (Sale, error)
	ListSaleLines(ctx context.Context, saleID int64) ([]SaleLine, error)
	DeleteSaleLines(ctx context.Context, saleID int64) error
	DeleteSale(ctx context.Context, id int64) error
	Ledger() ledger.Store
}

// Repository persists sales in PostgreSQL.
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

// GetSale loads a sale header and its lines outside any transaction.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, []SaleLine, error) {
	var sale Sale
	err := r.pool.QueryRow(ctx, `SELECT id, number, warehouse_id, customer_id, status, note, created_by, created_at FROM sales WHERE id=$1`, id).
		Scan(&sale.ID, &sale.Number, &sale.WarehouseID, &sale.CustomerID, &sale.Status, &sale.Note, &sale.CreatedBy, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, nil, ErrSaleNotFound
		}
		return Sale{}, nil, err
	}
	lines, err := listSaleLines(ctx, r.pool, id)
	if err != nil {
		return Sale{}, nil, err
	}
	return sale, lines, nil
}

type sqlTxStore struct {
	tx pgx.Tx
}

func (s *sqlTxStore) Ledger() ledger.Store {
	return ledger.NewStore(s.tx)
}

func (s *sqlTxStore) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO sales (number, warehouse_id, customer_id, status, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id`,
		sale.Number, sale.WarehouseID, sale.CustomerID, string(sale.Status), sale.Note, sale.CreatedBy).Scan(&id)
	return id, err
}

func (s *sqlTxStore) InsertSaleLine(ctx context.Context, line SaleLine) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO sale_lines (sale_id, product_id, quantity, unit_price)
VALUES ($1,$2,$3,$4) RETURNING id`,
		line.SaleID, line.ProductID, line.Quantity, line.UnitPrice).Scan(&id)
	return id, err
}

func (s *sqlTxStore) GetSaleForUpdate(ctx context.Context, id int64) (Sale, error) {
	var sale Sale
	err := s.tx.QueryRow(ctx, `SELECT id, number, warehouse_id, customer_id, status, note, created_by, created_at
FROM sales WHERE id=$1 FOR UPDATE`, id).
		Scan(&sale.ID, &sale.Number, &sale.WarehouseID, &sale.CustomerID, &sale.Status, &sale.Note, &sale.CreatedBy, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrSaleNotFound
		}
		return Sale{}, err
	}
	return sale, nil
}

func (s *sqlTxStore) ListSaleLines(ctx context.Context, saleID int64) ([]SaleLine, error) {
	return listSaleLines(ctx, s.tx, saleID)
}

func (s *sqlTxStore) DeleteSaleLines(ctx context.Context, saleID int64) error {
	_, err := s.tx.Exec(ctx, `DELETE FROM sale_lines WHERE sale_id=$1`, saleID)
	return err
}

func (s *sqlTxStore) DeleteSale(ctx context.Context, id int64) error {
	_, err := s.tx.Exec(ctx, `DELETE FROM sales WHERE id=$1`, id)
	return err
}

func listSaleLines(ctx context.Context, q ledger.DBTX, saleID int64) ([]SaleLine, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_id, product_id, quantity, unit_price FROM sale_lines WHERE sale_id=$1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []SaleLine
	for rows.Next() {
		var line SaleLine
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
