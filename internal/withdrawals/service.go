package withdrawals

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bottlekeep/bottlekeep/internal/audit"
	"github.com/bottlekeep/bottlekeep/internal/deposits"
	"github.com/bottlekeep/bottlekeep/internal/live"
	"github.com/bottlekeep/bottlekeep/internal/notify"
	"github.com/bottlekeep/bottlekeep/internal/shared"
)

// AuditPort appends audit entries after a mutation commits.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// NotifierPort enqueues fire-and-forget customer notifications.
type NotifierPort interface {
	Enqueue(ctx context.Context, event notify.Event)
}

// LivePort broadcasts advisory updates to other viewers.
type LivePort interface {
	Publish(ctx context.Context, update live.Update)
}

// Service coordinates the withdrawal lifecycle against the deposit balance.
type Service struct {
	logger   *slog.Logger
	repo     Repository
	auditor  AuditPort
	notifier NotifierPort
	feed     LivePort
}

// NewService wires the withdrawal service.
func NewService(logger *slog.Logger, repo Repository, auditor AuditPort, notifier NotifierPort, feed LivePort) *Service {
	return &Service{logger: logger, repo: repo, auditor: auditor, notifier: notifier, feed: feed}
}

// Result carries the withdrawal and the deposit it settled against, plus an
// optional warning when the audit append failed after commit.
type Result struct {
	Withdrawal Withdrawal
	Deposit    deposits.Deposit
	Warning    *shared.AuditWarning
}

func (s *Service) record(ctx context.Context, entry audit.Entry) *shared.AuditWarning {
	actor := shared.ActorFromContext(ctx)
	if !actor.System() {
		entry.ChangedBy = &actor.Name
	}
	if err := s.auditor.Record(ctx, entry); err != nil {
		s.logger.Error("audit append failed",
			slog.String("action", string(entry.Action)),
			slog.Int64("record_id", entry.RecordID),
			slog.Any("error", err))
		return &shared.AuditWarning{Err: err}
	}
	return nil
}

func (s *Service) publishDeposit(ctx context.Context, d deposits.Deposit, action string) {
	s.feed.Publish(ctx, live.Update{Entity: "deposit", ID: d.ID, StoreID: d.StoreID, Action: action})
}

// Request opens a withdrawal for part or all of a deposit. The deposit moves
// to pending_withdrawal so no second withdrawal or transfer can start.
func (s *Service) Request(ctx context.Context, input RequestInput) (Result, error) {
	if err := input.validate(); err != nil {
		return Result{}, err
	}

	var wd Withdrawal
	var deposit deposits.Deposit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.GetDepositForUpdate(ctx, input.DepositID)
		if err != nil {
			return err
		}
		if !d.Status.CanWithdraw() {
			return shared.InvalidStatef("cannot withdraw from deposit in status %s", d.Status)
		}
		if input.Quantity > d.RemainingQty {
			return &shared.InsufficientQuantityError{Requested: input.Quantity, Remaining: d.RemainingQty}
		}
		moved, err := tx.UpdateDepositStatus(ctx, d.ID, deposits.StatusInStore, deposits.StatusPendingWithdrawal)
		if err != nil {
			return err
		}
		if !moved {
			return shared.Conflictf("deposit %d was modified concurrently", d.ID)
		}
		wd = Withdrawal{
			DepositID:    d.ID,
			StoreID:      d.StoreID,
			CustomerName: d.CustomerName,
			ProductName:  d.ProductName,
			Quantity:     input.Quantity,
			Status:       StatusPending,
			RequestedBy:  input.RequestedBy,
			Notes:        input.Notes,
		}
		if err := tx.Insert(ctx, &wd); err != nil {
			return err
		}
		d.Status = deposits.StatusPendingWithdrawal
		deposit = d
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	warning := s.record(ctx, audit.Entry{
		StoreID:   wd.StoreID,
		Action:    audit.ActionWithdrawalRequested,
		TableName: "withdrawals",
		RecordID:  wd.ID,
		NewValue: map[string]any{
			"deposit_id": wd.DepositID,
			"quantity":   wd.Quantity,
			"status":     string(wd.Status),
		},
	})
	s.publishDeposit(ctx, deposit, "withdrawal_requested")
	return Result{Withdrawal: wd, Deposit: deposit, Warning: warning}, nil
}

// Approve marks a pending withdrawal as approved. The deposit balance does
// not move until completion.
func (s *Service) Approve(ctx context.Context, id int64, handledBy string) (Result, error) {
	var wd Withdrawal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusPending {
			return shared.InvalidStatef("cannot approve withdrawal in status %s", current.Status)
		}
		if err := tx.SetStatus(ctx, id, StatusApproved, handledBy); err != nil {
			return err
		}
		current.Status = StatusApproved
		if handledBy != "" {
			current.HandledBy = &handledBy
		}
		wd = current
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	warning := s.record(ctx, audit.Entry{
		StoreID:   wd.StoreID,
		Action:    audit.ActionWithdrawalApproved,
		TableName: "withdrawals",
		RecordID:  wd.ID,
		OldValue:  map[string]any{"status": string(StatusPending)},
		NewValue:  map[string]any{"status": string(StatusApproved)},
	})
	return Result{Withdrawal: wd, Warning: warning}, nil
}

// Complete settles an open withdrawal against the deposit balance. A nil
// actual quantity completes with the requested amount; an actual above the
// remaining balance fails rather than clamping.
func (s *Service) Complete(ctx context.Context, input CompleteInput) (Result, error) {
	var wd Withdrawal
	var deposit deposits.Deposit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, input.WithdrawalID)
		if err != nil {
			return err
		}
		if !current.Status.Open() {
			return shared.InvalidStatef("cannot complete withdrawal in status %s", current.Status)
		}
		d, err := tx.GetDepositForUpdate(ctx, current.DepositID)
		if err != nil {
			return err
		}
		if d.Status != deposits.StatusPendingWithdrawal {
			return shared.Conflictf("deposit %d is no longer pending withdrawal", d.ID)
		}

		actual := current.Quantity
		if input.ActualQuantity != nil {
			actual = *input.ActualQuantity
		}
		if actual <= 0 {
			return shared.Validationf("actual quantity must be positive, got %.2f", actual)
		}
		if actual > d.RemainingQty {
			return &shared.InsufficientQuantityError{Requested: actual, Remaining: d.RemainingQty}
		}

		remaining := d.RemainingQty - actual
		if remaining < 0 {
			remaining = 0
		}
		status := deposits.StatusInStore
		if remaining == 0 {
			status = deposits.StatusWithdrawn
		}
		d.RemainingQty = remaining
		d.Status = status
		d.Recompute()
		if err := tx.UpdateDepositQuantity(ctx, d.ID, d.RemainingQty, d.RemainingPercent, status); err != nil {
			return err
		}

		now := time.Now()
		if err := tx.SetCompleted(ctx, current.ID, actual, input.HandledBy, now); err != nil {
			return err
		}
		current.Status = StatusCompleted
		current.ActualQuantity = &actual
		current.CompletedAt = &now
		if input.HandledBy != "" {
			current.HandledBy = &input.HandledBy
		}
		wd = current
		deposit = d
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	warning := s.record(ctx, audit.Entry{
		StoreID:   wd.StoreID,
		Action:    audit.ActionWithdrawalCompleted,
		TableName: "withdrawals",
		RecordID:  wd.ID,
		NewValue: map[string]any{
			"deposit_id":      wd.DepositID,
			"actual_quantity": *wd.ActualQuantity,
			"remaining_qty":   deposit.RemainingQty,
			"deposit_status":  string(deposit.Status),
		},
	})
	s.publishDeposit(ctx, deposit, "withdrawal_completed")
	s.notifier.Enqueue(ctx, notify.NewEvent(notify.EventWithdrawalCompleted, deposit.StoreID,
		"Withdrawal completed",
		fmt.Sprintf("%.2f of %s withdrawn (%s)", *wd.ActualQuantity, deposit.ProductName, deposit.DepositCode),
		map[string]any{"deposit_id": deposit.ID, "withdrawal_id": wd.ID}))
	return Result{Withdrawal: wd, Deposit: deposit, Warning: warning}, nil
}

// Reject closes an open withdrawal without moving quantity. The deposit is
// reverted to in_store only if it still sits in pending_withdrawal.
func (s *Service) Reject(ctx context.Context, id int64, handledBy string) (Result, error) {
	var wd Withdrawal
	var deposit deposits.Deposit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.Open() {
			return shared.InvalidStatef("cannot reject withdrawal in status %s", current.Status)
		}
		if err := tx.SetStatus(ctx, id, StatusRejected, handledBy); err != nil {
			return err
		}
		reverted, err := tx.UpdateDepositStatus(ctx, current.DepositID,
			deposits.StatusPendingWithdrawal, deposits.StatusInStore)
		if err != nil {
			return err
		}
		d, err := tx.GetDepositForUpdate(ctx, current.DepositID)
		if err != nil {
			return err
		}
		if !reverted {
			s.logger.Warn("deposit moved on before withdrawal rejection, leaving status",
				slog.Int64("deposit_id", current.DepositID),
				slog.String("status", string(d.Status)))
		}
		current.Status = StatusRejected
		if handledBy != "" {
			current.HandledBy = &handledBy
		}
		wd = current
		deposit = d
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	warning := s.record(ctx, audit.Entry{
		StoreID:   wd.StoreID,
		Action:    audit.ActionWithdrawalRejected,
		TableName: "withdrawals",
		RecordID:  wd.ID,
		NewValue:  map[string]any{"status": string(StatusRejected), "deposit_status": string(deposit.Status)},
	})
	s.publishDeposit(ctx, deposit, "withdrawal_rejected")
	return Result{Withdrawal: wd, Deposit: deposit, Warning: warning}, nil
}

// Direct withdraws in a single step without the request/approve round trip.
// Used at the counter when the customer is standing there.
func (s *Service) Direct(ctx context.Context, input RequestInput) (Result, error) {
	if err := input.validate(); err != nil {
		return Result{}, err
	}

	var wd Withdrawal
	var deposit deposits.Deposit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.GetDepositForUpdate(ctx, input.DepositID)
		if err != nil {
			return err
		}
		if !d.Status.CanWithdraw() {
			return shared.InvalidStatef("cannot withdraw from deposit in status %s", d.Status)
		}
		if input.Quantity > d.RemainingQty {
			return &shared.InsufficientQuantityError{Requested: input.Quantity, Remaining: d.RemainingQty}
		}

		remaining := d.RemainingQty - input.Quantity
		if remaining < 0 {
			remaining = 0
		}
		status := deposits.StatusInStore
		if remaining == 0 {
			status = deposits.StatusWithdrawn
		}
		d.RemainingQty = remaining
		d.Status = status
		d.Recompute()
		if err := tx.UpdateDepositQuantity(ctx, d.ID, d.RemainingQty, d.RemainingPercent, status); err != nil {
			return err
		}

		now := time.Now()
		actual := input.Quantity
		wd = Withdrawal{
			DepositID:      d.ID,
			StoreID:        d.StoreID,
			CustomerName:   d.CustomerName,
			ProductName:    d.ProductName,
			Quantity:       input.Quantity,
			ActualQuantity: &actual,
			Status:         StatusCompleted,
			RequestedBy:    input.RequestedBy,
			Notes:          input.Notes,
			CompletedAt:    &now,
		}
		if err := tx.Insert(ctx, &wd); err != nil {
			return err
		}
		deposit = d
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	warning := s.record(ctx, audit.Entry{
		StoreID:   wd.StoreID,
		Action:    audit.ActionWithdrawalCompleted,
		TableName: "withdrawals",
		RecordID:  wd.ID,
		NewValue: map[string]any{
			"deposit_id":      wd.DepositID,
			"actual_quantity": wd.Quantity,
			"remaining_qty":   deposit.RemainingQty,
			"deposit_status":  string(deposit.Status),
			"direct":          true,
		},
	})
	s.publishDeposit(ctx, deposit, "withdrawal_completed")
	s.notifier.Enqueue(ctx, notify.NewEvent(notify.EventWithdrawalCompleted, deposit.StoreID,
		"Withdrawal completed",
		fmt.Sprintf("%.2f of %s withdrawn (%s)", wd.Quantity, deposit.ProductName, deposit.DepositCode),
		map[string]any{"deposit_id": deposit.ID, "withdrawal_id": wd.ID}))
	return Result{Withdrawal: wd, Deposit: deposit, Warning: warning}, nil
}

// Get fetches one withdrawal.
func (s *Service) Get(ctx context.Context, id int64) (Withdrawal, error) {
	return s.repo.Get(ctx, id)
}

// ListByDeposit returns the withdrawal history of one deposit.
func (s *Service) ListByDeposit(ctx context.Context, depositID int64) ([]Withdrawal, error) {
	return s.repo.ListByDeposit(ctx, depositID)
}

// ListOpen returns withdrawals awaiting a decision for one store.
func (s *Service) ListOpen(ctx context.Context, storeID int64) ([]Withdrawal, error) {
	return s.repo.ListOpen(ctx, storeID)
}
