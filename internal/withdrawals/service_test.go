package withdrawals

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bottlekeep/bottlekeep/internal/audit"
	"github.com/bottlekeep/bottlekeep/internal/deposits"
	"github.com/bottlekeep/bottlekeep/internal/live"
	"github.com/bottlekeep/bottlekeep/internal/notify"
	"github.com/bottlekeep/bottlekeep/internal/shared"
)

type memoryRepo struct {
	mu          sync.Mutex
	seq         int64
	withdrawals map[int64]*Withdrawal
	deposits    map[int64]*deposits.Deposit
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		withdrawals: map[int64]*Withdrawal{},
		deposits:    map[int64]*deposits.Deposit{},
	}
}

func (m *memoryRepo) addDeposit(d deposits.Deposit) *deposits.Deposit {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := d
	m.deposits[d.ID] = &clone
	return &clone
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, (*memoryTx)(m))
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wd, ok := m.withdrawals[id]
	if !ok {
		return Withdrawal{}, shared.ErrNotFound
	}
	return *wd, nil
}

func (m *memoryRepo) ListByDeposit(_ context.Context, depositID int64) ([]Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Withdrawal
	for _, wd := range m.withdrawals {
		if wd.DepositID == depositID {
			out = append(out, *wd)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListOpen(_ context.Context, storeID int64) ([]Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Withdrawal
	for _, wd := range m.withdrawals {
		if wd.StoreID == storeID && wd.Status.Open() {
			out = append(out, *wd)
		}
	}
	return out, nil
}

type memoryTx memoryRepo

func (m *memoryTx) Insert(_ context.Context, withdrawal *Withdrawal) error {
	m.seq++
	withdrawal.ID = m.seq
	withdrawal.CreatedAt = time.Now()
	clone := *withdrawal
	m.withdrawals[withdrawal.ID] = &clone
	return nil
}

func (m *memoryTx) GetForUpdate(_ context.Context, id int64) (Withdrawal, error) {
	wd, ok := m.withdrawals[id]
	if !ok {
		return Withdrawal{}, shared.ErrNotFound
	}
	return *wd, nil
}

func (m *memoryTx) SetStatus(_ context.Context, id int64, status Status, handledBy string) error {
	wd, ok := m.withdrawals[id]
	if !ok {
		return shared.ErrNotFound
	}
	wd.Status = status
	if handledBy != "" {
		wd.HandledBy = &handledBy
	}
	return nil
}

func (m *memoryTx) SetCompleted(_ context.Context, id int64, actualQty float64, handledBy string, at time.Time) error {
	wd, ok := m.withdrawals[id]
	if !ok {
		return shared.ErrNotFound
	}
	wd.Status = StatusCompleted
	wd.ActualQuantity = &actualQty
	wd.CompletedAt = &at
	if handledBy != "" {
		wd.HandledBy = &handledBy
	}
	return nil
}

func (m *memoryTx) GetDepositForUpdate(_ context.Context, depositID int64) (deposits.Deposit, error) {
	d, ok := m.deposits[depositID]
	if !ok {
		return deposits.Deposit{}, shared.ErrNotFound
	}
	return *d, nil
}

func (m *memoryTx) UpdateDepositStatus(_ context.Context, depositID int64, from, to deposits.Status) (bool, error) {
	d, ok := m.deposits[depositID]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	return true, nil
}

func (m *memoryTx) UpdateDepositQuantity(_ context.Context, depositID int64, remaining, percent float64, status deposits.Status) error {
	d, ok := m.deposits[depositID]
	if !ok {
		return shared.ErrNotFound
	}
	d.RemainingQty = remaining
	d.RemainingPercent = percent
	d.Status = status
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeAudit) Record(_ context.Context, entry audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeNotifier) Enqueue(_ context.Context, event notify.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

type fakeFeed struct {
	mu      sync.Mutex
	updates []live.Update
}

func (f *fakeFeed) Publish(_ context.Context, update live.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *fakeAudit, *fakeNotifier) {
	t.Helper()
	repo := newMemoryRepo()
	auditor := &fakeAudit{}
	notifier := &fakeNotifier{}
	svc := NewService(slog.Default(), repo, auditor, notifier, &fakeFeed{})
	return svc, repo, auditor, notifier
}

func seedDeposit(repo *memoryRepo, id int64, qty, remaining float64, status deposits.Status) *deposits.Deposit {
	d := deposits.Deposit{
		ID:           id,
		StoreID:      1,
		DepositCode:  "BK-100",
		CustomerName: "Sato",
		ProductName:  "Hibiki 17",
		Quantity:     qty,
		RemainingQty: remaining,
		Status:       status,
	}
	d.Recompute()
	return repo.addDeposit(d)
}

func TestRequestThenCompletePartial(t *testing.T) {
	svc, repo, auditor, notifier := newTestService(t)
	seedDeposit(repo, 1, 1, 1, deposits.StatusInStore)

	requested, err := svc.Request(context.Background(), RequestInput{DepositID: 1, Quantity: 0.3, RequestedBy: "staff-a"})
	require.NoError(t, err)
	require.Equal(t, StatusPending, requested.Withdrawal.Status)
	require.Equal(t, deposits.StatusPendingWithdrawal, requested.Deposit.Status)
	require.Equal(t, "Sato", requested.Withdrawal.CustomerName)
	require.Equal(t, "Hibiki 17", requested.Withdrawal.ProductName)

	completed, err := svc.Complete(context.Background(), CompleteInput{WithdrawalID: requested.Withdrawal.ID, HandledBy: "staff-b"})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Withdrawal.Status)
	require.InDelta(t, 0.7, completed.Deposit.RemainingQty, 0.0001)
	require.InDelta(t, 70.0, completed.Deposit.RemainingPercent, 0.01)
	require.Equal(t, deposits.StatusInStore, completed.Deposit.Status)

	require.Equal(t, audit.ActionWithdrawalCompleted, auditor.entries[len(auditor.entries)-1].Action)
	require.Equal(t, notify.EventWithdrawalCompleted, notifier.events[0].Type)
}

func TestCompleteFullMarksDepositWithdrawn(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	seedDeposit(repo, 1, 2, 2, deposits.StatusInStore)

	requested, err := svc.Request(context.Background(), RequestInput{DepositID: 1, Quantity: 2, RequestedBy: "staff-a"})
	require.NoError(t, err)

	completed, err := svc.Complete(context.Background(), CompleteInput{WithdrawalID: requested.Withdrawal.ID})
	require.NoError(t, err)
	require.Equal(t, deposits.StatusWithdrawn, completed.Deposit.Status)
	require.Zero(t, completed.Deposit.RemainingQty)
	require.Zero(t, completed.Deposit.RemainingPercent)
}

func TestSecondRequestWhilePendingFails(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	seedDeposit(repo, 1, 1, 1, deposits.StatusInStore)

	_, err := svc.Request(context.Background(), RequestInput{DepositID: 1, Quantity: 0.2, RequestedBy: "staff-a"})
	require.NoError(t, err)

	_, err = svc.Request(context.Background(), RequestInput{DepositID: 1, Quantity: 0.2, RequestedBy: "staff-b"})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRequestExceedingRemainingFails(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	seedDeposit(repo, 1, 1, 0.4, deposits.StatusInStore)

	_, err := svc.Request(context.Background(), RequestInput{DepositID: 1, Quantity: 0.5, RequestedBy: "staff-a"})
	require.ErrorIs(t, err, shared.ErrInsufficientQuantity)

	var iq *shared.InsufficientQuantityError
	require.ErrorAs(t, err, &iq)
	require.InDelta(t, 0.4, iq.Remaining, 0.0001)
}

func TestCompleteActualAboveRemainingFails(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	seedDeposit(repo, 1, 1, 0.5, deposits.StatusInStore)

	requested, err := svc.Request(context.Background(), RequestInput{DepositID: 1, Quantity: 0.5, RequestedBy: "staff-a"})
	require.NoError(t, err)

	actual := 0.8
	_, err = svc.Complete(context.Background(), CompleteInput{WithdrawalID: requested.Withdrawal.ID, ActualQuantity: &actual})
	require.ErrorIs(t, err, shared.ErrInsufficientQuantity)

	// deposit balance untouched after the failed completion
	stored, err := repo.Get(context.Background(), requested.Withdrawal.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
}

func TestCompleteWithMeasuredActual(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	seedDeposit(repo, 1, 1, 1, deposits.StatusInStore)

	requested, err := svc.Request(context.Background(), RequestInput{DepositID: 1, Quantity: 0.5, RequestedBy: "staff-a"})
	require.NoError(t, err)

	actual := 0.45
	completed, err := svc.Complete(context.Background(), CompleteInput{WithdrawalID: requested.Withdrawal.ID, ActualQuantity: &actual})
	require.NoError(t, err)
	require.InDelta(t, 0.45, *completed.Withdrawal.ActualQuantity, 0.0001)
	require.InDelta(t, 0.55, completed.Deposit.RemainingQty, 0.0001)
}

func TestApproveThenComplete(t *testing.T) {
	svc, repo, auditor, _ := newTestService(t)
	seedDeposit(repo, 1, 1, 1, deposits.StatusInStore)

	requested, err := svc.Request(context.Background(), RequestInput{DepositID: 1, Quantity: 0.5, RequestedBy: "staff-a"})
	require.NoError(t, err)

	approved, err := svc.Approve(context.Background(), requested.Withdrawal.ID, "manager")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Withdrawal.Status)
	require.Equal(t, "manager", *approved.Withdrawal.HandledBy)

	_, err = svc.Approve(context.Background(), requested.Withdrawal.ID, "manager")
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.Complete(context.Background(), CompleteInput{WithdrawalID: requested.Withdrawal.ID})
	require.NoError(t, err)
	require.Equal(t, audit.ActionWithdrawalApproved, auditor.entries[1].Action)
}

func TestRejectRevertsDeposit(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	seedDeposit(repo, 1, 1, 1, deposits.StatusInStore)

	requested, err := svc.Request(context.Background(), RequestInput{DepositID: 1, Quantity: 0.5, RequestedBy: "staff-a"})
	require.NoError(t, err)

	rejected, err := svc.Reject(context.Background(), requested.Withdrawal.ID, "manager")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Withdrawal.Status)
	require.Equal(t, deposits.StatusInStore, rejected.Deposit.Status)
	require.InDelta(t, 1.0, rejected.Deposit.RemainingQty, 0.0001)

	_, err = svc.Complete(context.Background(), CompleteInput{WithdrawalID: requested.Withdrawal.ID})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRejectLeavesMovedOnDepositAlone(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	d := seedDeposit(repo, 1, 1, 1, deposits.StatusInStore)

	requested, err := svc.Request(context.Background(), RequestInput{DepositID: 1, Quantity: 0.5, RequestedBy: "staff-a"})
	require.NoError(t, err)

	// simulate an out-of-band resolution that already moved the deposit
	repo.mu.Lock()
	d.Status = deposits.StatusWithdrawn
	d.RemainingQty = 0
	repo.mu.Unlock()

	rejected, err := svc.Reject(context.Background(), requested.Withdrawal.ID, "manager")
	require.NoError(t, err)
	require.Equal(t, deposits.StatusWithdrawn, rejected.Deposit.Status)
}

func TestDirectWithdrawal(t *testing.T) {
	svc, repo, _, notifier := newTestService(t)
	seedDeposit(repo, 1, 1, 1, deposits.StatusInStore)

	result, err := svc.Direct(context.Background(), RequestInput{DepositID: 1, Quantity: 1, RequestedBy: "staff-a"})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Withdrawal.Status)
	require.NotNil(t, result.Withdrawal.CompletedAt)
	require.Equal(t, deposits.StatusWithdrawn, result.Deposit.Status)
	require.Len(t, notifier.events, 1)
}

func TestWithdrawFromTransferredOutFails(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	seedDeposit(repo, 1, 1, 1, deposits.StatusTransferredOut)

	_, err := svc.Direct(context.Background(), RequestInput{DepositID: 1, Quantity: 0.5, RequestedBy: "staff-a"})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestConcurrentWithdrawalsOnlyOneSucceeds(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	seedDeposit(repo, 1, 10, 10, deposits.StatusInStore)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Direct(context.Background(), RequestInput{DepositID: 1, Quantity: 7, RequestedBy: "staff-a"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, insufficient int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, shared.ErrInsufficientQuantity):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, insufficient)

	repo.mu.Lock()
	final := *repo.deposits[1]
	repo.mu.Unlock()
	require.InDelta(t, 3.0, final.RemainingQty, 0.0001)
	require.Equal(t, deposits.StatusInStore, final.Status)
}

func TestQuantityConservedAcrossSequence(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	seedDeposit(repo, 1, 1, 1, deposits.StatusInStore)

	steps := []float64{0.25, 0.25, 0.5}
	var withdrawn float64
	for _, qty := range steps {
		result, err := svc.Direct(context.Background(), RequestInput{DepositID: 1, Quantity: qty, RequestedBy: "staff-a"})
		require.NoError(t, err)
		withdrawn += qty
		require.InDelta(t, 1.0-withdrawn, result.Deposit.RemainingQty, 0.0001)
	}

	repo.mu.Lock()
	final := *repo.deposits[1]
	repo.mu.Unlock()
	require.Equal(t, deposits.StatusWithdrawn, final.Status)
	require.Zero(t, final.RemainingQty)
}
