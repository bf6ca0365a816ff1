// Package deposits owns the Deposit entity and its status state machine.
// All quantity mutations route through this package or through the
// withdrawal/transfer transactions that lock the deposit row.
package deposits

import (
	"time"

	"github.com/bottlekeep/bottlekeep/internal/shared"
)

// Status is the closed set of deposit lifecycle states.
type Status string

const (
	StatusPendingConfirm    Status = "pending_confirm"
	StatusInStore           Status = "in_store"
	StatusPendingWithdrawal Status = "pending_withdrawal"
	StatusWithdrawn         Status = "withdrawn"
	StatusExpired           Status = "expired"
	StatusTransferPending   Status = "transfer_pending"
	StatusTransferredOut    Status = "transferred_out"
)

// IsValid checks membership in the closed status set.
func (s Status) IsValid() bool {
	switch s {
	case StatusPendingConfirm, StatusInStore, StatusPendingWithdrawal,
		StatusWithdrawn, StatusExpired, StatusTransferPending, StatusTransferredOut:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is a permanent marker. No transition
// leaves a terminal state outside the separately-scoped correction workflow.
func (s Status) Terminal() bool {
	return s == StatusWithdrawn || s == StatusExpired || s == StatusTransferredOut
}

// CanWithdraw reports whether a withdrawal may be requested.
func (s Status) CanWithdraw() bool { return s == StatusInStore }

// CanTransfer reports whether a transfer may be created.
func (s Status) CanTransfer() bool { return s == StatusInStore }

// CanExpire reports whether the deposit may be marked expired.
func (s Status) CanExpire() bool {
	return s == StatusInStore || s == StatusPendingConfirm
}

var transitions = map[Status][]Status{
	StatusPendingConfirm:    {StatusInStore, StatusExpired},
	StatusInStore:           {StatusPendingWithdrawal, StatusWithdrawn, StatusExpired, StatusTransferPending, StatusTransferredOut},
	StatusPendingWithdrawal: {StatusInStore, StatusWithdrawn},
	StatusTransferPending:   {StatusInStore, StatusTransferredOut},
	// expired reverts only through the VIP toggle
	StatusExpired: {StatusInStore},
}

// CanTransitionTo consults the transition table.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseStatus rejects unrecognized values at the boundary instead of
// defaulting silently.
func ParseStatus(value string) (Status, error) {
	s := Status(value)
	if !s.IsValid() {
		return "", shared.Validationf("unknown deposit status %q", value)
	}
	return s, nil
}

// Deposit is one bottle/quantity lot held on behalf of a customer at a
// store. Quantity is immutable after creation; RemainingQty only moves
// through the lifecycle operations.
type Deposit struct {
	ID               int64      `json:"id"`
	StoreID          int64      `json:"store_id"`
	DepositCode      string     `json:"deposit_code"`
	CustomerName     string     `json:"customer_name"`
	CustomerPhone    *string    `json:"customer_phone,omitempty"`
	ProductName      string     `json:"product_name"`
	Category         *string    `json:"category,omitempty"`
	Quantity         float64    `json:"quantity"`
	RemainingQty     float64    `json:"remaining_qty"`
	RemainingPercent float64    `json:"remaining_percent"`
	TableNumber      *string    `json:"table_number,omitempty"`
	Status           Status     `json:"status"`
	IsVIP            bool       `json:"is_vip"`
	ExpiryDate       *time.Time `json:"expiry_date,omitempty"`
	Notes            *string    `json:"notes,omitempty"`
	PhotoURLs        []string   `json:"photo_urls,omitempty"`
	ReceivedBy       string     `json:"received_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Recompute refreshes the derived remaining percentage.
func (d *Deposit) Recompute() {
	if d.Quantity <= 0 {
		d.RemainingPercent = 0
		return
	}
	d.RemainingPercent = d.RemainingQty / d.Quantity * 100
}

// CheckInvariants verifies the quantity and VIP/expiry invariants. Used by
// the bulk importer, which bypasses the lifecycle operations.
func (d *Deposit) CheckInvariants() error {
	if d.Quantity <= 0 {
		return shared.Validationf("quantity must be positive, got %.2f", d.Quantity)
	}
	if d.RemainingQty < 0 || d.RemainingQty > d.Quantity {
		return shared.Validationf("remaining_qty %.2f out of range [0, %.2f]", d.RemainingQty, d.Quantity)
	}
	if !d.Status.IsValid() {
		return shared.Validationf("unknown deposit status %q", string(d.Status))
	}
	if d.IsVIP && d.ExpiryDate != nil {
		return shared.Validationf("VIP deposit must not carry an expiry date")
	}
	if (d.Status == StatusWithdrawn) != (d.RemainingQty == 0) {
		return shared.Validationf("status %s inconsistent with remaining_qty %.2f", d.Status, d.RemainingQty)
	}
	return nil
}

// CreateInput describes a deposit intake. Confirmed selects the workflow
// variant: true goes straight to in_store, false starts at pending_confirm.
type CreateInput struct {
	StoreID       int64
	DepositCode   string
	CustomerName  string
	CustomerPhone *string
	ProductName   string
	Category      *string
	Quantity      float64
	TableNumber   *string
	IsVIP         bool
	ExpiryDate    *time.Time
	Notes         *string
	PhotoURLs     []string
	ReceivedBy    string
	Confirmed     bool
}

// ListFilter narrows deposit listings.
type ListFilter struct {
	StoreID int64
	Status  Status
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}

func (f ListFilter) validate() error {
	if f.StoreID == 0 {
		return shared.Validationf("store_id is required")
	}
	if f.Status != "" && !f.Status.IsValid() {
		return shared.Validationf("unknown deposit status %q", string(f.Status))
	}
	return nil
}
