package deposits

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bottlekeep/bottlekeep/internal/audit"
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

// Service owns the deposit lifecycle. Every mutation re-reads the row under
// lock inside a transaction before deciding, so stale clients lose cleanly.
type Service struct {
	logger   *slog.Logger
	repo     Repository
	auditor  AuditPort
	notifier NotifierPort
	feed     LivePort
}

// NewService wires the deposit service.
func NewService(logger *slog.Logger, repo Repository, auditor AuditPort, notifier NotifierPort, feed LivePort) *Service {
	return &Service{logger: logger, repo: repo, auditor: auditor, notifier: notifier, feed: feed}
}

// Result carries the deposit after a mutation plus an optional warning when
// the audit append failed after commit.
type Result struct {
	Deposit Deposit
	Warning *shared.AuditWarning
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

func (s *Service) publish(ctx context.Context, d Deposit, action string) {
	s.feed.Publish(ctx, live.Update{Entity: "deposit", ID: d.ID, StoreID: d.StoreID, Action: action})
}

// Create registers a new deposit. Confirmed intakes land directly in
// in_store; otherwise the deposit waits in pending_confirm.
func (s *Service) Create(ctx context.Context, input CreateInput) (Result, error) {
	if err := validateCreate(&input); err != nil {
		return Result{}, err
	}

	status := StatusPendingConfirm
	if input.Confirmed {
		status = StatusInStore
	}
	deposit := Deposit{
		StoreID:       input.StoreID,
		DepositCode:   strings.TrimSpace(input.DepositCode),
		CustomerName:  strings.TrimSpace(input.CustomerName),
		CustomerPhone: input.CustomerPhone,
		ProductName:   strings.TrimSpace(input.ProductName),
		Category:      input.Category,
		Quantity:      input.Quantity,
		RemainingQty:  input.Quantity,
		TableNumber:   input.TableNumber,
		Status:        status,
		IsVIP:         input.IsVIP,
		ExpiryDate:    input.ExpiryDate,
		Notes:         input.Notes,
		PhotoURLs:     input.PhotoURLs,
		ReceivedBy:    strings.TrimSpace(input.ReceivedBy),
	}
	deposit.Recompute()

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Insert(ctx, &deposit)
	})
	if err != nil {
		return Result{}, err
	}

	warning := s.record(ctx, audit.Entry{
		StoreID:   deposit.StoreID,
		Action:    audit.ActionDepositCreated,
		TableName: "deposits",
		RecordID:  deposit.ID,
		NewValue: map[string]any{
			"deposit_code": deposit.DepositCode,
			"product_name": deposit.ProductName,
			"quantity":     deposit.Quantity,
			"status":       string(deposit.Status),
			"is_vip":       deposit.IsVIP,
		},
	})
	s.publish(ctx, deposit, "created")
	s.notifier.Enqueue(ctx, notify.NewEvent(notify.EventNewDeposit, deposit.StoreID,
		"New deposit",
		fmt.Sprintf("%s deposited %s (%s)", deposit.CustomerName, deposit.ProductName, deposit.DepositCode),
		map[string]any{"deposit_id": deposit.ID}))
	return Result{Deposit: deposit, Warning: warning}, nil
}

func validateCreate(input *CreateInput) error {
	if input.StoreID == 0 {
		return shared.Validationf("store_id is required")
	}
	if strings.TrimSpace(input.DepositCode) == "" {
		return shared.Validationf("deposit_code is required")
	}
	if strings.TrimSpace(input.CustomerName) == "" {
		return shared.Validationf("customer_name is required")
	}
	if strings.TrimSpace(input.ProductName) == "" {
		return shared.Validationf("product_name is required")
	}
	if strings.TrimSpace(input.ReceivedBy) == "" {
		return shared.Validationf("received_by is required")
	}
	if input.Quantity <= 0 {
		return shared.Validationf("quantity must be positive, got %.2f", input.Quantity)
	}
	if input.IsVIP && input.ExpiryDate != nil {
		return shared.Validationf("VIP deposit must not carry an expiry date")
	}
	return nil
}

// Confirm moves a pending_confirm deposit into in_store.
func (s *Service) Confirm(ctx context.Context, id int64) (Result, error) {
	var deposit Deposit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusPendingConfirm {
			return shared.InvalidStatef("cannot confirm deposit in status %s", current.Status)
		}
		moved, err := tx.UpdateStatus(ctx, id, StatusPendingConfirm, StatusInStore)
		if err != nil {
			return err
		}
		if !moved {
			return shared.Conflictf("deposit %d was modified concurrently", id)
		}
		current.Status = StatusInStore
		deposit = current
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	warning := s.record(ctx, audit.Entry{
		StoreID:   deposit.StoreID,
		Action:    audit.ActionDepositConfirmed,
		TableName: "deposits",
		RecordID:  deposit.ID,
		OldValue:  map[string]any{"status": string(StatusPendingConfirm)},
		NewValue:  map[string]any{"status": string(StatusInStore)},
	})
	s.publish(ctx, deposit, "confirmed")
	return Result{Deposit: deposit, Warning: warning}, nil
}

// SetVIP toggles the VIP flag. Enabling clears the expiry date and revives
// an expired deposit; disabling leaves the expiry empty until staff set one
// explicitly.
func (s *Service) SetVIP(ctx context.Context, id int64, isVIP bool) (Result, error) {
	var deposit Deposit
	var old Deposit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.IsVIP == isVIP {
			return shared.InvalidStatef("deposit %d is already is_vip=%t", id, isVIP)
		}
		if current.Status == StatusWithdrawn || current.Status == StatusTransferredOut {
			return shared.InvalidStatef("cannot change VIP on deposit in status %s", current.Status)
		}
		old = current

		status := current.Status
		var expiry *time.Time
		if isVIP {
			if current.Status == StatusExpired {
				status = StatusInStore
			}
		} else {
			expiry = current.ExpiryDate
		}
		if err := tx.UpdateVIP(ctx, id, isVIP, expiry, status); err != nil {
			return err
		}
		current.IsVIP = isVIP
		current.ExpiryDate = expiry
		current.Status = status
		deposit = current
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	warning := s.record(ctx, audit.Entry{
		StoreID:   deposit.StoreID,
		Action:    audit.ActionVIPChanged,
		TableName: "deposits",
		RecordID:  deposit.ID,
		OldValue:  map[string]any{"is_vip": old.IsVIP, "status": string(old.Status), "expiry_date": old.ExpiryDate},
		NewValue:  map[string]any{"is_vip": deposit.IsVIP, "status": string(deposit.Status), "expiry_date": deposit.ExpiryDate},
	})
	s.publish(ctx, deposit, "vip_changed")
	return Result{Deposit: deposit, Warning: warning}, nil
}

// MarkExpired expires a deposit past its expiry date. VIP deposits never
// expire. notifyCustomer controls the push event; the sweep sets it, manual
// calls choose.
func (s *Service) MarkExpired(ctx context.Context, id int64, notifyCustomer bool) (Result, error) {
	var deposit Deposit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.IsVIP {
			return shared.InvalidStatef("VIP deposit %d does not expire", id)
		}
		if !current.Status.CanExpire() {
			return shared.InvalidStatef("cannot expire deposit in status %s", current.Status)
		}
		moved, err := tx.UpdateStatus(ctx, id, current.Status, StatusExpired)
		if err != nil {
			return err
		}
		if !moved {
			return shared.Conflictf("deposit %d was modified concurrently", id)
		}
		current.Status = StatusExpired
		deposit = current
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	warning := s.record(ctx, audit.Entry{
		StoreID:   deposit.StoreID,
		Action:    audit.ActionDepositExpired,
		TableName: "deposits",
		RecordID:  deposit.ID,
		NewValue:  map[string]any{"status": string(StatusExpired)},
	})
	s.publish(ctx, deposit, "expired")
	if notifyCustomer {
		s.notifier.Enqueue(ctx, notify.NewEvent(notify.EventDepositExpired, deposit.StoreID,
			"Deposit expired",
			fmt.Sprintf("%s for %s has expired (%s)", deposit.ProductName, deposit.CustomerName, deposit.DepositCode),
			map[string]any{"deposit_id": deposit.ID}))
	}
	return Result{Deposit: deposit, Warning: warning}, nil
}

// ExtendExpiry pushes the expiry date out by the given number of days,
// counted from the later of now and the current expiry. Only in_store
// deposits can be extended; an expired deposit comes back only through the
// VIP flag.
func (s *Service) ExtendExpiry(ctx context.Context, id int64, days int) (Result, error) {
	if days <= 0 {
		return Result{}, shared.Validationf("days must be positive, got %d", days)
	}
	var deposit Deposit
	var oldExpiry *time.Time
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.IsVIP {
			return shared.InvalidStatef("VIP deposit %d carries no expiry date", id)
		}
		if current.Status != StatusInStore {
			return shared.InvalidStatef("cannot extend expiry in status %s", current.Status)
		}
		oldExpiry = current.ExpiryDate

		base := time.Now()
		if current.ExpiryDate != nil && current.ExpiryDate.After(base) {
			base = *current.ExpiryDate
		}
		next := base.AddDate(0, 0, days)
		if err := tx.UpdateExpiry(ctx, id, next); err != nil {
			return err
		}
		current.ExpiryDate = &next
		deposit = current
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	warning := s.record(ctx, audit.Entry{
		StoreID:   deposit.StoreID,
		Action:    audit.ActionExpiryExtended,
		TableName: "deposits",
		RecordID:  deposit.ID,
		OldValue:  map[string]any{"expiry_date": oldExpiry},
		NewValue:  map[string]any{"expiry_date": deposit.ExpiryDate, "status": string(deposit.Status)},
	})
	s.publish(ctx, deposit, "expiry_extended")
	return Result{Deposit: deposit, Warning: warning}, nil
}

// Get fetches one deposit.
func (s *Service) Get(ctx context.Context, id int64) (Deposit, error) {
	return s.repo.Get(ctx, id)
}

// GetByCode looks a deposit up by its printed code within one store.
func (s *Service) GetByCode(ctx context.Context, storeID int64, code string) (Deposit, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Deposit{}, shared.Validationf("deposit code is required")
	}
	return s.repo.GetByCode(ctx, storeID, code)
}

// List returns deposits matching the filter plus the total row count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Deposit, int, error) {
	return s.repo.List(ctx, filter)
}

// ListExpiryCandidates exposes overdue non-VIP deposits for the sweep.
func (s *Service) ListExpiryCandidates(ctx context.Context, storeID int64, now time.Time) ([]Deposit, error) {
	return s.repo.ListExpiryCandidates(ctx, storeID, now)
}
