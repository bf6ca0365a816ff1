package transfers

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bottlekeep/bottlekeep/internal/deposits"
	"github.com/bottlekeep/bottlekeep/internal/platform/db"
	"github.com/bottlekeep/bottlekeep/internal/shared"
)

// Repository abstracts transfer persistence for the service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transfer, error)
	ListOpenInbound(ctx context.Context, toStoreID int64) ([]Transfer, error)
	ListByDeposit(ctx context.Context, depositID int64) ([]Transfer, error)
}

// TxRepository covers the transfer rows and the deposit row they hold,
// locked in the same transaction.
type TxRepository interface {
	Insert(ctx context.Context, transfer *Transfer) error
	GetForUpdate(ctx context.Context, id int64) (Transfer, error)
	Resolve(ctx context.Context, id int64, status Status, handledBy string, at time.Time) error
	HasOpenTransfer(ctx context.Context, depositID int64) (bool, error)
	GetDepositForUpdate(ctx context.Context, depositID int64) (deposits.Deposit, error)
	GetDepositByCodeForUpdate(ctx context.Context, storeID int64, code string) (deposits.Deposit, error)
	UpdateDepositStatus(ctx context.Context, depositID int64, from, to deposits.Status) (bool, error)
}

// PGRepository persists transfers in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a serializable transaction; serialization
// failures surface as ErrConflict.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	if db.IsSerializationFailure(err) {
		return shared.Conflictf("transfer was modified concurrently")
	}
	return err
}

const transferColumns = `id, deposit_id, from_store_id, to_store_id, product_name,
	quantity, status, requested_by, handled_by, notes, created_at, resolved_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.DepositID, &t.FromStoreID, &t.ToStoreID, &t.ProductName,
		&t.Quantity, &t.Status, &t.RequestedBy, &t.HandledBy, &t.Notes, &t.CreatedAt, &t.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, shared.ErrNotFound
		}
		return Transfer{}, err
	}
	return t, nil
}

// Get fetches one transfer.
func (r *PGRepository) Get(ctx context.Context, id int64) (Transfer, error) {
	return scanTransfer(r.pool.QueryRow(ctx,
		"SELECT "+transferColumns+" FROM transfers WHERE id = $1", id))
}

// ListOpenInbound returns unresolved transfers addressed to one store.
func (r *PGRepository) ListOpenInbound(ctx context.Context, toStoreID int64) ([]Transfer, error) {
	return r.queryList(ctx,
		"SELECT "+transferColumns+" FROM transfers WHERE to_store_id = $1 AND status = $2 ORDER BY created_at",
		toStoreID, string(StatusPending))
}

// ListByDeposit returns the transfer history of one deposit.
func (r *PGRepository) ListByDeposit(ctx context.Context, depositID int64) ([]Transfer, error) {
	return r.queryList(ctx,
		"SELECT "+transferColumns+" FROM transfers WHERE deposit_id = $1 ORDER BY created_at DESC, id DESC",
		depositID)
}

func (r *PGRepository) queryList(ctx context.Context, query string, args ...any) ([]Transfer, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Transfer
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.DepositID, &t.FromStoreID, &t.ToStoreID, &t.ProductName,
			&t.Quantity, &t.Status, &t.RequestedBy, &t.HandledBy, &t.Notes, &t.CreatedAt, &t.ResolvedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *txRepo) Insert(ctx context.Context, transfer *Transfer) error {
	return r.tx.QueryRow(ctx, `
		INSERT INTO transfers (deposit_id, from_store_id, to_store_id, product_name, quantity, status, requested_by, handled_by, notes, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		transfer.DepositID, transfer.FromStoreID, transfer.ToStoreID, transfer.ProductName,
		transfer.Quantity, string(transfer.Status), transfer.RequestedBy, transfer.HandledBy,
		transfer.Notes, transfer.ResolvedAt).
		Scan(&transfer.ID, &transfer.CreatedAt)
}

func (r *txRepo) GetForUpdate(ctx context.Context, id int64) (Transfer, error) {
	return scanTransfer(r.tx.QueryRow(ctx,
		"SELECT "+transferColumns+" FROM transfers WHERE id = $1 FOR UPDATE", id))
}

func (r *txRepo) Resolve(ctx context.Context, id int64, status Status, handledBy string, at time.Time) error {
	_, err := r.tx.Exec(ctx,
		"UPDATE transfers SET status = $1, handled_by = NULLIF($2, ''), resolved_at = $3 WHERE id = $4",
		string(status), handledBy, at, id)
	return err
}

func (r *txRepo) HasOpenTransfer(ctx context.Context, depositID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM transfers WHERE deposit_id = $1 AND status = $2)",
		depositID, string(StatusPending)).Scan(&exists)
	return exists, err
}

const txDepositColumns = `id, store_id, deposit_code, customer_name, product_name,
	quantity, remaining_qty, remaining_percent, status, is_vip, expiry_date`

func scanTxDeposit(row pgx.Row) (deposits.Deposit, error) {
	var d deposits.Deposit
	err := row.Scan(&d.ID, &d.StoreID, &d.DepositCode, &d.CustomerName, &d.ProductName,
		&d.Quantity, &d.RemainingQty, &d.RemainingPercent, &d.Status, &d.IsVIP, &d.ExpiryDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return deposits.Deposit{}, shared.ErrNotFound
	}
	return d, err
}

func (r *txRepo) GetDepositForUpdate(ctx context.Context, depositID int64) (deposits.Deposit, error) {
	return scanTxDeposit(r.tx.QueryRow(ctx,
		"SELECT "+txDepositColumns+" FROM deposits WHERE id = $1 FOR UPDATE", depositID))
}

func (r *txRepo) GetDepositByCodeForUpdate(ctx context.Context, storeID int64, code string) (deposits.Deposit, error) {
	return scanTxDeposit(r.tx.QueryRow(ctx,
		"SELECT "+txDepositColumns+" FROM deposits WHERE store_id = $1 AND deposit_code = $2 FOR UPDATE",
		storeID, code))
}

func (r *txRepo) UpdateDepositStatus(ctx context.Context, depositID int64, from, to deposits.Status) (bool, error) {
	tag, err := r.tx.Exec(ctx,
		"UPDATE deposits SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		string(to), depositID, string(from))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
