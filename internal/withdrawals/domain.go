// Package withdrawals processes quantity leaving a deposit. Completion is
// the only place remaining quantity decreases, always inside a transaction
// that locks the deposit row first.
package withdrawals

import (
	"time"

	"github.com/bottlekeep/bottlekeep/internal/shared"
)

// Status is the closed set of withdrawal states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// IsValid checks membership in the closed status set.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusCompleted, StatusRejected:
		return true
	default:
		return false
	}
}

// Open reports whether the withdrawal still awaits a decision.
func (s Status) Open() bool { return s == StatusPending || s == StatusApproved }

// Withdrawal is one request to take quantity out of a deposit. Quantity is
// what the customer asked for; ActualQuantity is what staff measured at
// completion and is what the deposit balance actually moves by.
// CustomerName and ProductName are copied from the deposit at request time
// so staff reviewing the queue see the request as it was placed.
type Withdrawal struct {
	ID             int64      `json:"id"`
	DepositID      int64      `json:"deposit_id"`
	StoreID        int64      `json:"store_id"`
	CustomerName   string     `json:"customer_name"`
	ProductName    string     `json:"product_name"`
	Quantity       float64    `json:"quantity"`
	ActualQuantity *float64   `json:"actual_quantity,omitempty"`
	Status         Status     `json:"status"`
	RequestedBy    string     `json:"requested_by"`
	HandledBy      *string    `json:"handled_by,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// RequestInput starts a withdrawal.
type RequestInput struct {
	DepositID   int64
	Quantity    float64
	RequestedBy string
	Notes       *string
}

func (in RequestInput) validate() error {
	if in.DepositID == 0 {
		return shared.Validationf("deposit_id is required")
	}
	if in.Quantity <= 0 {
		return shared.Validationf("quantity must be positive, got %.2f", in.Quantity)
	}
	if in.RequestedBy == "" {
		return shared.Validationf("requested_by is required")
	}
	return nil
}

// CompleteInput finalises a withdrawal. A nil ActualQuantity completes with
// the requested quantity.
type CompleteInput struct {
	WithdrawalID   int64
	ActualQuantity *float64
	HandledBy      string
}
