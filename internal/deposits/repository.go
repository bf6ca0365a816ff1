package deposits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bottlekeep/bottlekeep/internal/platform/db"
	"github.com/bottlekeep/bottlekeep/internal/shared"
)

// Repository abstracts deposit persistence for the service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Deposit, error)
	GetByCode(ctx context.Context, storeID int64, code string) (Deposit, error)
	List(ctx context.Context, filter ListFilter) ([]Deposit, int, error)
	ListExpiryCandidates(ctx context.Context, storeID int64, now time.Time) ([]Deposit, error)
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	Insert(ctx context.Context, deposit *Deposit) error
	GetForUpdate(ctx context.Context, id int64) (Deposit, error)
	UpdateStatus(ctx context.Context, id int64, from, to Status) (bool, error)
	UpdateVIP(ctx context.Context, id int64, isVIP bool, expiry *time.Time, status Status) error
	UpdateExpiry(ctx context.Context, id int64, expiry time.Time) error
}

// PGRepository persists deposits in PostgreSQL.
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
// failures surface as ErrConflict so callers re-read and retry.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	if db.IsSerializationFailure(err) {
		return shared.Conflictf("deposit was modified concurrently")
	}
	return err
}

const depositColumns = `id, store_id, deposit_code, customer_name, customer_phone,
	product_name, category, quantity, remaining_qty, remaining_percent,
	table_number, status, is_vip, expiry_date, notes, photo_urls,
	received_by, created_at, updated_at`

func scanDeposit(row pgx.Row) (Deposit, error) {
	var d Deposit
	err := row.Scan(&d.ID, &d.StoreID, &d.DepositCode, &d.CustomerName, &d.CustomerPhone,
		&d.ProductName, &d.Category, &d.Quantity, &d.RemainingQty, &d.RemainingPercent,
		&d.TableNumber, &d.Status, &d.IsVIP, &d.ExpiryDate, &d.Notes, &d.PhotoURLs,
		&d.ReceivedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deposit{}, shared.ErrNotFound
		}
		return Deposit{}, err
	}
	return d, nil
}

// Get fetches one deposit.
func (r *PGRepository) Get(ctx context.Context, id int64) (Deposit, error) {
	return scanDeposit(r.pool.QueryRow(ctx,
		"SELECT "+depositColumns+" FROM deposits WHERE id = $1", id))
}

// GetByCode fetches a deposit by its human-readable code within one store.
func (r *PGRepository) GetByCode(ctx context.Context, storeID int64, code string) (Deposit, error) {
	return scanDeposit(r.pool.QueryRow(ctx,
		"SELECT "+depositColumns+" FROM deposits WHERE store_id = $1 AND deposit_code = $2",
		storeID, code))
}

// List returns deposits matching the filter plus the total count.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Deposit, int, error) {
	if err := filter.validate(); err != nil {
		return nil, 0, err
	}
	where := " WHERE store_id = $1"
	args := []any{filter.StoreID}
	argPos := 2

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(filter.Status))
		argPos++
	}
	if !filter.From.IsZero() {
		where += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, filter.From)
		argPos++
	}
	if !filter.To.IsZero() {
		where += fmt.Sprintf(" AND created_at <= $%d", argPos)
		args = append(args, filter.To)
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM deposits"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := shared.NewPagination(filter.Page, filter.PerPage, total)
	query := "SELECT " + depositColumns + " FROM deposits" + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, p.PerPage, (p.Page-1)*p.PerPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Deposit
	for rows.Next() {
		var d Deposit
		if err := rows.Scan(&d.ID, &d.StoreID, &d.DepositCode, &d.CustomerName, &d.CustomerPhone,
			&d.ProductName, &d.Category, &d.Quantity, &d.RemainingQty, &d.RemainingPercent,
			&d.TableNumber, &d.Status, &d.IsVIP, &d.ExpiryDate, &d.Notes, &d.PhotoURLs,
			&d.ReceivedBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, 0, err
		}
		result = append(result, d)
	}
	return result, total, rows.Err()
}

// ListExpiryCandidates returns non-VIP deposits in an expirable status whose
// expiry date has passed. Consumed by the scheduled sweep.
func (r *PGRepository) ListExpiryCandidates(ctx context.Context, storeID int64, now time.Time) ([]Deposit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE store_id = $1
		  AND status IN ($2, $3)
		  AND NOT is_vip
		  AND expiry_date IS NOT NULL
		  AND expiry_date <= $4
		ORDER BY expiry_date`,
		storeID, string(StatusInStore), string(StatusPendingConfirm), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Deposit
	for rows.Next() {
		var d Deposit
		if err := rows.Scan(&d.ID, &d.StoreID, &d.DepositCode, &d.CustomerName, &d.CustomerPhone,
			&d.ProductName, &d.Category, &d.Quantity, &d.RemainingQty, &d.RemainingPercent,
			&d.TableNumber, &d.Status, &d.IsVIP, &d.ExpiryDate, &d.Notes, &d.PhotoURLs,
			&d.ReceivedBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *txRepo) Insert(ctx context.Context, deposit *Deposit) error {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO deposits (store_id, deposit_code, customer_name, customer_phone,
			product_name, category, quantity, remaining_qty, remaining_percent,
			table_number, status, is_vip, expiry_date, notes, photo_urls, received_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at, updated_at`,
		deposit.StoreID, deposit.DepositCode, deposit.CustomerName, deposit.CustomerPhone,
		deposit.ProductName, deposit.Category, deposit.Quantity, deposit.RemainingQty,
		deposit.RemainingPercent, deposit.TableNumber, string(deposit.Status),
		deposit.IsVIP, deposit.ExpiryDate, deposit.Notes, deposit.PhotoURLs,
		deposit.ReceivedBy).Scan(&deposit.ID, &deposit.CreatedAt, &deposit.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return shared.Conflictf("deposit code %q already used in store %d", deposit.DepositCode, deposit.StoreID)
	}
	return err
}

func (r *txRepo) GetForUpdate(ctx context.Context, id int64) (Deposit, error) {
	return scanDeposit(r.tx.QueryRow(ctx,
		"SELECT "+depositColumns+" FROM deposits WHERE id = $1 FOR UPDATE", id))
}

// UpdateStatus performs a guarded conditional update keyed on the expected
// current status. Returns false when the row has moved on.
func (r *txRepo) UpdateStatus(ctx context.Context, id int64, from, to Status) (bool, error) {
	tag, err := r.tx.Exec(ctx,
		"UPDATE deposits SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		string(to), id, string(from))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *txRepo) UpdateVIP(ctx context.Context, id int64, isVIP bool, expiry *time.Time, status Status) error {
	_, err := r.tx.Exec(ctx,
		"UPDATE deposits SET is_vip = $1, expiry_date = $2, status = $3, updated_at = NOW() WHERE id = $4",
		isVIP, expiry, string(status), id)
	return err
}

func (r *txRepo) UpdateExpiry(ctx context.Context, id int64, expiry time.Time) error {
	_, err := r.tx.Exec(ctx,
		"UPDATE deposits SET expiry_date = $1, updated_at = NOW() WHERE id = $2",
		expiry, id)
	return err
}
