// Package transfers moves deposits between stores. A transfer holds the
// deposit in transfer_pending until the receiving side confirms or rejects;
// quantity never changes during a transfer.
package transfers

import (
	"time"

	"github.com/bottlekeep/bottlekeep/internal/shared"
)

// Status is the closed set of transfer states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// IsValid checks membership in the closed status set.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRejected:
		return true
	default:
		return false
	}
}

// Open reports whether the transfer still awaits resolution.
func (s Status) Open() bool { return s == StatusPending }

// Transfer records one deposit moving from one store to another.
// ProductName and Quantity are copied from the deposit when the transfer is
// created, so the receiving side reads the request without touching the
// live deposit row.
type Transfer struct {
	ID          int64      `json:"id"`
	DepositID   int64      `json:"deposit_id"`
	FromStoreID int64      `json:"from_store_id"`
	ToStoreID   int64      `json:"to_store_id"`
	ProductName string     `json:"product_name"`
	Quantity    float64    `json:"quantity"`
	Status      Status     `json:"status"`
	RequestedBy string     `json:"requested_by"`
	HandledBy   *string    `json:"handled_by,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// CreateInput starts a transfer. Confirm resolves it in the same call for
// hand-carried moves where both sides are present.
type CreateInput struct {
	DepositID   int64
	ToStoreID   int64
	RequestedBy string
	Notes       *string
	Confirm     bool
}

func (in CreateInput) validate() error {
	if in.DepositID == 0 {
		return shared.Validationf("deposit_id is required")
	}
	if in.ToStoreID == 0 {
		return shared.Validationf("to_store_id is required")
	}
	if in.RequestedBy == "" {
		return shared.Validationf("requested_by is required")
	}
	return nil
}

// BatchInput transfers several deposits of one store at once, addressed by
// their printed codes.
type BatchInput struct {
	FromStoreID  int64
	ToStoreID    int64
	DepositCodes []string
	RequestedBy  string
	Confirm      bool
}

// BatchItemResult reports the outcome for one code. Failures leave the other
// items untouched.
type BatchItemResult struct {
	DepositCode string    `json:"deposit_code"`
	TransferID  int64     `json:"transfer_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	Transfer    *Transfer `json:"transfer,omitempty"`
}
