package stores

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bottlekeep/bottlekeep/internal/platform/db"
	"github.com/bottlekeep/bottlekeep/internal/shared"
)

// Repository persists stores in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const storeColumns = "id, code, name, is_central, active, created_at"

func scanStore(row pgx.Row) (Store, error) {
	var s Store
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.IsCentral, &s.Active, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Store{}, shared.ErrNotFound
		}
		return Store{}, err
	}
	return s, nil
}

// Get fetches one store.
func (r *Repository) Get(ctx context.Context, id int64) (Store, error) {
	return scanStore(r.pool.QueryRow(ctx,
		"SELECT "+storeColumns+" FROM stores WHERE id = $1", id))
}

// GetCentral fetches the store flagged central.
func (r *Repository) GetCentral(ctx context.Context) (Store, error) {
	return scanStore(r.pool.QueryRow(ctx,
		"SELECT "+storeColumns+" FROM stores WHERE is_central AND active LIMIT 1"))
}

// List returns active stores ordered by code.
func (r *Repository) List(ctx context.Context) ([]Store, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+storeColumns+" FROM stores WHERE active ORDER BY code")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Store
	for rows.Next() {
		var s Store
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.IsCentral, &s.Active, &s.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// Insert creates a store and fills the generated id.
func (r *Repository) Insert(ctx context.Context, store *Store) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO stores (code, name, is_central, active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id, created_at`,
		store.Code, store.Name, store.IsCentral).Scan(&store.ID, &store.CreatedAt)
	if db.IsUniqueViolation(err) {
		return shared.Conflictf("store code %q already exists", store.Code)
	}
	return err
}

// SetCentral flips the central flag to the given store, clearing the
// previous holder in the same transaction so at most one store is central.
func (r *Repository) SetCentral(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "UPDATE stores SET is_central = FALSE WHERE is_central"); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, "UPDATE stores SET is_central = TRUE WHERE id = $1 AND active", id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.NotFoundf("store %d", id)
		}
		return nil
	})
}
