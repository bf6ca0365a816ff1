// Package audit appends immutable records of every state transition and
// serves the audit timeline. Entries are never updated or deleted.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ActionType is the closed set of auditable mutations.
type ActionType string

const (
	ActionDepositCreated      ActionType = "deposit_created"
	ActionDepositConfirmed    ActionType = "deposit_confirmed"
	ActionVIPChanged          ActionType = "vip_changed"
	ActionDepositExpired      ActionType = "deposit_expired"
	ActionExpiryExtended      ActionType = "expiry_extended"
	ActionWithdrawalRequested ActionType = "withdrawal_requested"
	ActionWithdrawalApproved  ActionType = "withdrawal_approved"
	ActionWithdrawalCompleted ActionType = "withdrawal_completed"
	ActionWithdrawalRejected  ActionType = "withdrawal_rejected"
	ActionTransferCreated     ActionType = "transfer_created"
	ActionTransferConfirmed   ActionType = "transfer_confirmed"
	ActionTransferRejected    ActionType = "transfer_rejected"
	ActionBulkImport          ActionType = "bulk_import"
)

// IsValid checks membership in the closed action set.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionDepositCreated, ActionDepositConfirmed, ActionVIPChanged,
		ActionDepositExpired, ActionExpiryExtended,
		ActionWithdrawalRequested, ActionWithdrawalApproved,
		ActionWithdrawalCompleted, ActionWithdrawalRejected,
		ActionTransferCreated, ActionTransferConfirmed, ActionTransferRejected,
		ActionBulkImport:
		return true
	default:
		return false
	}
}

// Entry represents one append-only fact about a mutation. ChangedBy is nil
// for the system/cron actor.
type Entry struct {
	ID        int64          `json:"id"`
	StoreID   int64          `json:"store_id"`
	Action    ActionType     `json:"action_type"`
	TableName string         `json:"table_name"`
	RecordID  int64          `json:"record_id"`
	OldValue  map[string]any `json:"old_value,omitempty"`
	NewValue  map[string]any `json:"new_value,omitempty"`
	ChangedBy *string        `json:"changed_by,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Recorder writes entries into audit_entries.
type Recorder struct {
	pool *pgxpool.Pool
}

// NewRecorder returns a new Recorder.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Record persists the entry. Invoked after the business mutation commits;
// callers treat a failure here as a warning, not a rollback.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if r == nil {
		return errors.New("audit recorder not initialised")
	}
	if !entry.Action.IsValid() {
		return errors.New("audit entry requires a known action type")
	}
	if entry.TableName == "" || entry.RecordID == 0 {
		return errors.New("audit entry requires table_name/record_id")
	}
	oldJSON, err := marshalValue(entry.OldValue)
	if err != nil {
		return err
	}
	newJSON, err := marshalValue(entry.NewValue)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_entries (store_id, action_type, table_name, record_id, old_value, new_value, changed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		entry.StoreID, string(entry.Action), entry.TableName, entry.RecordID,
		oldJSON, newJSON, entry.ChangedBy, zeroTimeToNil(entry.CreatedAt))
	return err
}

func marshalValue(value map[string]any) ([]byte, error) {
	if value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(value)
}

func zeroTimeToNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
