package transfers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bottlekeep/bottlekeep/internal/audit"
	"github.com/bottlekeep/bottlekeep/internal/deposits"
	"github.com/bottlekeep/bottlekeep/internal/live"
	"github.com/bottlekeep/bottlekeep/internal/shared"
	"github.com/bottlekeep/bottlekeep/internal/stores"
)

// AuditPort appends audit entries after a mutation commits.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// LivePort broadcasts advisory updates to other viewers.
type LivePort interface {
	Publish(ctx context.Context, update live.Update)
}

// StoresPort resolves destination stores.
type StoresPort interface {
	Get(ctx context.Context, id int64) (stores.Store, error)
}

// Service coordinates moving deposits between stores.
type Service struct {
	logger  *slog.Logger
	repo    Repository
	stores  StoresPort
	auditor AuditPort
	feed    LivePort
}

// NewService wires the transfer service.
func NewService(logger *slog.Logger, repo Repository, storesPort StoresPort, auditor AuditPort, feed LivePort) *Service {
	return &Service{logger: logger, repo: repo, stores: storesPort, auditor: auditor, feed: feed}
}

// Result carries the transfer and the deposit it holds, plus an optional
// warning when the audit append failed after commit.
type Result struct {
	Transfer Transfer
	Deposit  deposits.Deposit
	Warning  *shared.AuditWarning
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

func (s *Service) publish(ctx context.Context, t Transfer, d deposits.Deposit, action string) {
	s.feed.Publish(ctx, live.Update{Entity: "deposit", ID: d.ID, StoreID: t.FromStoreID, Action: action})
	s.feed.Publish(ctx, live.Update{Entity: "transfer", ID: t.ID, StoreID: t.ToStoreID, Action: action})
}

func (s *Service) checkDestination(ctx context.Context, toStoreID int64) error {
	dest, err := s.stores.Get(ctx, toStoreID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Validationf("destination store %d does not exist", toStoreID)
		}
		return err
	}
	if !dest.Active {
		return shared.Validationf("destination store %d is inactive", toStoreID)
	}
	if !dest.IsCentral {
		return shared.Validationf("destination store %d is not the central warehouse", toStoreID)
	}
	return nil
}

// Create starts a transfer of one deposit. With Confirm set the transfer
// resolves in the same transaction and the deposit leaves the source store
// immediately.
func (s *Service) Create(ctx context.Context, input CreateInput) (Result, error) {
	if err := input.validate(); err != nil {
		return Result{}, err
	}
	if err := s.checkDestination(ctx, input.ToStoreID); err != nil {
		return Result{}, err
	}

	var transfer Transfer
	var deposit deposits.Deposit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.GetDepositForUpdate(ctx, input.DepositID)
		if err != nil {
			return err
		}
		t, err := s.createLocked(ctx, tx, d, input)
		if err != nil {
			return err
		}
		transfer = t
		deposit = d
		if transfer.Status == StatusConfirmed {
			deposit.Status = deposits.StatusTransferredOut
		} else {
			deposit.Status = deposits.StatusTransferPending
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	warning := s.auditCreate(ctx, transfer, deposit)
	s.publish(ctx, transfer, deposit, "transfer_created")
	return Result{Transfer: transfer, Deposit: deposit, Warning: warning}, nil
}

// createLocked runs the per-deposit transfer creation inside an open
// transaction where the deposit row is already locked.
func (s *Service) createLocked(ctx context.Context, tx TxRepository, d deposits.Deposit, input CreateInput) (Transfer, error) {
	if input.ToStoreID == d.StoreID {
		return Transfer{}, shared.Validationf("deposit %d already belongs to store %d", d.ID, d.StoreID)
	}
	if !d.Status.CanTransfer() {
		return Transfer{}, shared.InvalidStatef("cannot transfer deposit in status %s", d.Status)
	}
	open, err := tx.HasOpenTransfer(ctx, d.ID)
	if err != nil {
		return Transfer{}, err
	}
	if open {
		return Transfer{}, shared.Conflictf("deposit %d already has an open transfer", d.ID)
	}

	transfer := Transfer{
		DepositID:   d.ID,
		FromStoreID: d.StoreID,
		ToStoreID:   input.ToStoreID,
		ProductName: d.ProductName,
		Quantity:    d.RemainingQty,
		Status:      StatusPending,
		RequestedBy: input.RequestedBy,
		Notes:       input.Notes,
	}
	if input.Confirm {
		now := time.Now()
		transfer.Status = StatusConfirmed
		transfer.HandledBy = &input.RequestedBy
		transfer.ResolvedAt = &now
	}
	if err := tx.Insert(ctx, &transfer); err != nil {
		return Transfer{}, err
	}

	target := deposits.StatusTransferPending
	if input.Confirm {
		target = deposits.StatusTransferredOut
	}
	moved, err := tx.UpdateDepositStatus(ctx, d.ID, d.Status, target)
	if err != nil {
		return Transfer{}, err
	}
	if !moved {
		return Transfer{}, shared.Conflictf("deposit %d was modified concurrently", d.ID)
	}
	return transfer, nil
}

func (s *Service) auditCreate(ctx context.Context, transfer Transfer, deposit deposits.Deposit) *shared.AuditWarning {
	warning := s.record(ctx, audit.Entry{
		StoreID:   transfer.FromStoreID,
		Action:    audit.ActionTransferCreated,
		TableName: "transfers",
		RecordID:  transfer.ID,
		NewValue: map[string]any{
			"deposit_id":    transfer.DepositID,
			"to_store_id":   transfer.ToStoreID,
			"status":        string(transfer.Status),
			"deposit_state": string(deposit.Status),
		},
	})
	if transfer.Status == StatusConfirmed {
		if w := s.record(ctx, audit.Entry{
			StoreID:   transfer.ToStoreID,
			Action:    audit.ActionTransferConfirmed,
			TableName: "transfers",
			RecordID:  transfer.ID,
			NewValue:  map[string]any{"deposit_id": transfer.DepositID},
		}); warning == nil {
			warning = w
		}
	}
	return warning
}

// Confirm resolves a pending transfer; the deposit leaves the source store.
func (s *Service) Confirm(ctx context.Context, id int64, handledBy string) (Result, error) {
	var transfer Transfer
	var deposit deposits.Deposit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.Open() {
			return shared.InvalidStatef("cannot confirm transfer in status %s", current.Status)
		}
		moved, err := tx.UpdateDepositStatus(ctx, current.DepositID,
			deposits.StatusTransferPending, deposits.StatusTransferredOut)
		if err != nil {
			return err
		}
		if !moved {
			return shared.Conflictf("deposit %d was modified concurrently", current.DepositID)
		}
		now := time.Now()
		if err := tx.Resolve(ctx, id, StatusConfirmed, handledBy, now); err != nil {
			return err
		}
		current.Status = StatusConfirmed
		current.ResolvedAt = &now
		if handledBy != "" {
			current.HandledBy = &handledBy
		}
		d, err := tx.GetDepositForUpdate(ctx, current.DepositID)
		if err != nil {
			return err
		}
		transfer = current
		deposit = d
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	warning := s.record(ctx, audit.Entry{
		StoreID:   transfer.ToStoreID,
		Action:    audit.ActionTransferConfirmed,
		TableName: "transfers",
		RecordID:  transfer.ID,
		NewValue:  map[string]any{"deposit_id": transfer.DepositID, "deposit_state": string(deposit.Status)},
	})
	s.publish(ctx, transfer, deposit, "transfer_confirmed")
	return Result{Transfer: transfer, Deposit: deposit, Warning: warning}, nil
}

// Reject closes a pending transfer. The deposit returns to in_store only
// when it still sits in transfer_pending.
func (s *Service) Reject(ctx context.Context, id int64, handledBy string) (Result, error) {
	var transfer Transfer
	var deposit deposits.Deposit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.Open() {
			return shared.InvalidStatef("cannot reject transfer in status %s", current.Status)
		}
		now := time.Now()
		if err := tx.Resolve(ctx, id, StatusRejected, handledBy, now); err != nil {
			return err
		}
		reverted, err := tx.UpdateDepositStatus(ctx, current.DepositID,
			deposits.StatusTransferPending, deposits.StatusInStore)
		if err != nil {
			return err
		}
		d, err := tx.GetDepositForUpdate(ctx, current.DepositID)
		if err != nil {
			return err
		}
		if !reverted {
			s.logger.Warn("deposit moved on before transfer rejection, leaving status",
				slog.Int64("deposit_id", current.DepositID),
				slog.String("status", string(d.Status)))
		}
		current.Status = StatusRejected
		current.ResolvedAt = &now
		if handledBy != "" {
			current.HandledBy = &handledBy
		}
		transfer = current
		deposit = d
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	warning := s.record(ctx, audit.Entry{
		StoreID:   transfer.FromStoreID,
		Action:    audit.ActionTransferRejected,
		TableName: "transfers",
		RecordID:  transfer.ID,
		NewValue:  map[string]any{"deposit_id": transfer.DepositID, "deposit_state": string(deposit.Status)},
	})
	s.publish(ctx, transfer, deposit, "transfer_rejected")
	return Result{Transfer: transfer, Deposit: deposit, Warning: warning}, nil
}

// CreateBatch transfers several deposits by code. Each code runs in its own
// transaction so one bad bottle does not block the rest of the cart.
func (s *Service) CreateBatch(ctx context.Context, input BatchInput) ([]BatchItemResult, error) {
	if input.FromStoreID == 0 || input.ToStoreID == 0 {
		return nil, shared.Validationf("from_store_id and to_store_id are required")
	}
	if input.RequestedBy == "" {
		return nil, shared.Validationf("requested_by is required")
	}
	if len(input.DepositCodes) == 0 {
		return nil, shared.Validationf("deposit_codes must not be empty")
	}
	if err := s.checkDestination(ctx, input.ToStoreID); err != nil {
		return nil, err
	}

	results := make([]BatchItemResult, 0, len(input.DepositCodes))
	for _, code := range input.DepositCodes {
		code = strings.TrimSpace(code)
		item := BatchItemResult{DepositCode: code}

		var transfer Transfer
		var deposit deposits.Deposit
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			d, err := tx.GetDepositByCodeForUpdate(ctx, input.FromStoreID, code)
			if err != nil {
				return err
			}
			t, err := s.createLocked(ctx, tx, d, CreateInput{
				DepositID:   d.ID,
				ToStoreID:   input.ToStoreID,
				RequestedBy: input.RequestedBy,
				Confirm:     input.Confirm,
			})
			if err != nil {
				return err
			}
			transfer = t
			deposit = d
			return nil
		})
		if err != nil {
			item.Error = err.Error()
			results = append(results, item)
			continue
		}

		s.auditCreate(ctx, transfer, deposit)
		s.publish(ctx, transfer, deposit, "transfer_created")
		item.TransferID = transfer.ID
		item.Transfer = &transfer
		results = append(results, item)
	}
	return results, nil
}

// Get fetches one transfer.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.Get(ctx, id)
}

// ListOpenInbound returns unresolved transfers addressed to one store.
func (s *Service) ListOpenInbound(ctx context.Context, toStoreID int64) ([]Transfer, error) {
	return s.repo.ListOpenInbound(ctx, toStoreID)
}

// ListByDeposit returns the transfer history of one deposit.
func (s *Service) ListByDeposit(ctx context.Context, depositID int64) ([]Transfer, error) {
	return s.repo.ListByDeposit(ctx, depositID)
}
