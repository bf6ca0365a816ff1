package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads audit_entries from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the timeline repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// TimelineWindow returns entries newest first within the filter window.
func (r *PGRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error) {
	query := `
		SELECT id, store_id, action_type, table_name, record_id, old_value, new_value, changed_by, created_at
		FROM audit_entries
		WHERE 1=1`
	var args []any
	argPos := 1

	if filters.StoreID != 0 {
		query += fmt.Sprintf(" AND store_id = $%d", argPos)
		args = append(args, filters.StoreID)
		argPos++
	}
	if filters.Action != "" {
		query += fmt.Sprintf(" AND action_type = $%d", argPos)
		args = append(args, string(filters.Action))
		argPos++
	}
	if filters.TableName != "" {
		query += fmt.Sprintf(" AND table_name = $%d", argPos)
		args = append(args, filters.TableName)
		argPos++
	}
	if !filters.From.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, filters.From)
		argPos++
	}
	if !filters.To.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argPos)
		args = append(args, filters.To)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var oldRaw, newRaw []byte
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.Action, &entry.TableName,
			&entry.RecordID, &oldRaw, &newRaw, &entry.ChangedBy, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(oldRaw) > 0 {
			_ = json.Unmarshal(oldRaw, &entry.OldValue)
		}
		if len(newRaw) > 0 {
			_ = json.Unmarshal(newRaw, &entry.NewValue)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
