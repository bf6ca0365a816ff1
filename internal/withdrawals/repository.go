package withdrawals

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

// Repository abstracts withdrawal persistence for the service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Withdrawal, error)
	ListByDeposit(ctx context.Context, depositID int64) ([]Withdrawal, error)
	ListOpen(ctx context.Context, storeID int64) ([]Withdrawal, error)
}

// TxRepository covers the withdrawal rows and the deposit row they settle
// against, locked in the same transaction.
type TxRepository interface {
	Insert(ctx context.Context, withdrawal *Withdrawal) error
	GetForUpdate(ctx context.Context, id int64) (Withdrawal, error)
	SetStatus(ctx context.Context, id int64, status Status, handledBy string) error
	SetCompleted(ctx context.Context, id int64, actualQty float64, handledBy string, at time.Time) error
	GetDepositForUpdate(ctx context.Context, depositID int64) (deposits.Deposit, error)
	UpdateDepositStatus(ctx context.Context, depositID int64, from, to deposits.Status) (bool, error)
	UpdateDepositQuantity(ctx context.Context, depositID int64, remaining, percent float64, status deposits.Status) error
}

// PGRepository persists withdrawals in PostgreSQL.
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
		return shared.Conflictf("withdrawal was modified concurrently")
	}
	return err
}

const withdrawalColumns = `id, deposit_id, store_id, customer_name, product_name,
	quantity, actual_quantity, status, requested_by, handled_by, notes, created_at, completed_at`

func scanWithdrawal(row pgx.Row) (Withdrawal, error) {
	var wd Withdrawal
	err := row.Scan(&wd.ID, &wd.DepositID, &wd.StoreID, &wd.CustomerName, &wd.ProductName,
		&wd.Quantity, &wd.ActualQuantity, &wd.Status, &wd.RequestedBy, &wd.HandledBy,
		&wd.Notes, &wd.CreatedAt, &wd.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Withdrawal{}, shared.ErrNotFound
		}
		return Withdrawal{}, err
	}
	return wd, nil
}

// Get fetches one withdrawal.
func (r *PGRepository) Get(ctx context.Context, id int64) (Withdrawal, error) {
	return scanWithdrawal(r.pool.QueryRow(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawals WHERE id = $1", id))
}

// ListByDeposit returns the withdrawal history of one deposit.
func (r *PGRepository) ListByDeposit(ctx context.Context, depositID int64) ([]Withdrawal, error) {
	return r.queryList(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawals WHERE deposit_id = $1 ORDER BY created_at DESC, id DESC",
		depositID)
}

// ListOpen returns pending and approved withdrawals for one store.
func (r *PGRepository) ListOpen(ctx context.Context, storeID int64) ([]Withdrawal, error) {
	return r.queryList(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawals WHERE store_id = $1 AND status IN ($2, $3) ORDER BY created_at",
		storeID, string(StatusPending), string(StatusApproved))
}

func (r *PGRepository) queryList(ctx context.Context, query string, args ...any) ([]Withdrawal, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Withdrawal
	for rows.Next() {
		var wd Withdrawal
		if err := rows.Scan(&wd.ID, &wd.DepositID, &wd.StoreID, &wd.CustomerName, &wd.ProductName,
			&wd.Quantity, &wd.ActualQuantity, &wd.Status, &wd.RequestedBy, &wd.HandledBy,
			&wd.Notes, &wd.CreatedAt, &wd.CompletedAt); err != nil {
			return nil, err
		}
		result = append(result, wd)
	}
	return result, rows.Err()
}

func (r *txRepo) Insert(ctx context.Context, withdrawal *Withdrawal) error {
	return r.tx.QueryRow(ctx, `
		INSERT INTO withdrawals (deposit_id, store_id, customer_name, product_name, quantity, actual_quantity, status, requested_by, handled_by, notes, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`,
		withdrawal.DepositID, withdrawal.StoreID, withdrawal.CustomerName, withdrawal.ProductName,
		withdrawal.Quantity, withdrawal.ActualQuantity, string(withdrawal.Status),
		withdrawal.RequestedBy, withdrawal.HandledBy, withdrawal.Notes, withdrawal.CompletedAt).
		Scan(&withdrawal.ID, &withdrawal.CreatedAt)
}

func (r *txRepo) GetForUpdate(ctx context.Context, id int64) (Withdrawal, error) {
	return scanWithdrawal(r.tx.QueryRow(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawals WHERE id = $1 FOR UPDATE", id))
}

func (r *txRepo) SetStatus(ctx context.Context, id int64, status Status, handledBy string) error {
	_, err := r.tx.Exec(ctx,
		"UPDATE withdrawals SET status = $1, handled_by = NULLIF($2, '') WHERE id = $3",
		string(status), handledBy, id)
	return err
}

func (r *txRepo) SetCompleted(ctx context.Context, id int64, actualQty float64, handledBy string, at time.Time) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE withdrawals
		SET status = $1, actual_quantity = $2, handled_by = NULLIF($3, ''), completed_at = $4
		WHERE id = $5`,
		string(StatusCompleted), actualQty, handledBy, at, id)
	return err
}

func (r *txRepo) GetDepositForUpdate(ctx context.Context, depositID int64) (deposits.Deposit, error) {
	var d deposits.Deposit
	err := r.tx.QueryRow(ctx, `
		SELECT id, store_id, deposit_code, customer_name, product_name,
			quantity, remaining_qty, remaining_percent, status, is_vip, expiry_date
		FROM deposits WHERE id = $1 FOR UPDATE`, depositID).
		Scan(&d.ID, &d.StoreID, &d.DepositCode, &d.CustomerName, &d.ProductName,
			&d.Quantity, &d.RemainingQty, &d.RemainingPercent, &d.Status, &d.IsVIP, &d.ExpiryDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return deposits.Deposit{}, shared.ErrNotFound
	}
	return d, err
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

func (r *txRepo) UpdateDepositQuantity(ctx context.Context, depositID int64, remaining, percent float64, status deposits.Status) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE deposits
		SET remaining_qty = $1, remaining_percent = $2, status = $3, updated_at = NOW()
		WHERE id = $4`,
		remaining, percent, string(status), depositID)
	return err
}
