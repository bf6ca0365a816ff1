package transfers

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bottlekeep/bottlekeep/internal/audit"
	"github.com/bottlekeep/bottlekeep/internal/deposits"
	"github.com/bottlekeep/bottlekeep/internal/live"
	"github.com/bottlekeep/bottlekeep/internal/shared"
	"github.com/bottlekeep/bottlekeep/internal/stores"
)

type memoryRepo struct {
	mu        sync.Mutex
	seq       int64
	transfers map[int64]*Transfer
	deposits  map[int64]*deposits.Deposit
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		transfers: map[int64]*Transfer{},
		deposits:  map[int64]*deposits.Deposit{},
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

func (m *memoryRepo) Get(_ context.Context, id int64) (Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return Transfer{}, shared.ErrNotFound
	}
	return *t, nil
}

func (m *memoryRepo) ListOpenInbound(_ context.Context, toStoreID int64) ([]Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transfer
	for _, t := range m.transfers {
		if t.ToStoreID == toStoreID && t.Status.Open() {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListByDeposit(_ context.Context, depositID int64) ([]Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transfer
	for _, t := range m.transfers {
		if t.DepositID == depositID {
			out = append(out, *t)
		}
	}
	return out, nil
}

type memoryTx memoryRepo

func (m *memoryTx) Insert(_ context.Context, transfer *Transfer) error {
	m.seq++
	transfer.ID = m.seq
	transfer.CreatedAt = time.Now()
	clone := *transfer
	m.transfers[transfer.ID] = &clone
	return nil
}

func (m *memoryTx) GetForUpdate(_ context.Context, id int64) (Transfer, error) {
	t, ok := m.transfers[id]
	if !ok {
		return Transfer{}, shared.ErrNotFound
	}
	return *t, nil
}

func (m *memoryTx) Resolve(_ context.Context, id int64, status Status, handledBy string, at time.Time) error {
	t, ok := m.transfers[id]
	if !ok {
		return shared.ErrNotFound
	}
	t.Status = status
	t.ResolvedAt = &at
	if handledBy != "" {
		t.HandledBy = &handledBy
	}
	return nil
}

func (m *memoryTx) HasOpenTransfer(_ context.Context, depositID int64) (bool, error) {
	for _, t := range m.transfers {
		if t.DepositID == depositID && t.Status.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryTx) GetDepositForUpdate(_ context.Context, depositID int64) (deposits.Deposit, error) {
	d, ok := m.deposits[depositID]
	if !ok {
		return deposits.Deposit{}, shared.ErrNotFound
	}
	return *d, nil
}

func (m *memoryTx) GetDepositByCodeForUpdate(_ context.Context, storeID int64, code string) (deposits.Deposit, error) {
	for _, d := range m.deposits {
		if d.StoreID == storeID && d.DepositCode == code {
			return *d, nil
		}
	}
	return deposits.Deposit{}, shared.ErrNotFound
}

func (m *memoryTx) UpdateDepositStatus(_ context.Context, depositID int64, from, to deposits.Status) (bool, error) {
	d, ok := m.deposits[depositID]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	return true, nil
}

type fakeStores struct {
	stores map[int64]stores.Store
}

func (f *fakeStores) Get(_ context.Context, id int64) (stores.Store, error) {
	s, ok := f.stores[id]
	if !ok {
		return stores.Store{}, shared.ErrNotFound
	}
	return s, nil
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

type fakeFeed struct {
	mu      sync.Mutex
	updates []live.Update
}

func (f *fakeFeed) Publish(_ context.Context, update live.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *fakeAudit) {
	t.Helper()
	repo := newMemoryRepo()
	auditor := &fakeAudit{}
	storesPort := &fakeStores{stores: map[int64]stores.Store{
		1: {ID: 1, Code: "GNZ", Name: "Ginza", Active: true},
		2: {ID: 2, Code: "HQ", Name: "Central Warehouse", IsCentral: true, Active: true},
		3: {ID: 3, Code: "OLD", Name: "Closed", IsCentral: true, Active: false},
		4: {ID: 4, Code: "SBY", Name: "Shibuya", Active: true},
	}}
	svc := NewService(slog.Default(), repo, storesPort, auditor, &fakeFeed{})
	return svc, repo, auditor
}

func seedDeposit(repo *memoryRepo, id int64, code string, status deposits.Status) *deposits.Deposit {
	d := deposits.Deposit{
		ID:           id,
		StoreID:      1,
		DepositCode:  code,
		CustomerName: "Suzuki",
		ProductName:  "Hakushu 12",
		Quantity:     1,
		RemainingQty: 1,
		Status:       status,
	}
	return repo.addDeposit(d)
}

func TestCreateHoldsDeposit(t *testing.T) {
	svc, repo, auditor := newTestService(t)
	seedDeposit(repo, 1, "BK-200", deposits.StatusInStore)

	result, err := svc.Create(context.Background(), CreateInput{DepositID: 1, ToStoreID: 2, RequestedBy: "staff-a"})
	require.NoError(t, err)
	require.Equal(t, StatusPending, result.Transfer.Status)
	require.Equal(t, deposits.StatusTransferPending, result.Deposit.Status)
	require.Equal(t, int64(1), result.Transfer.FromStoreID)
	require.Equal(t, "Hakushu 12", result.Transfer.ProductName)
	require.InDelta(t, 1.0, result.Transfer.Quantity, 0.0001)
	require.Equal(t, audit.ActionTransferCreated, auditor.entries[0].Action)
}

func TestCreateRejectsDoubleTransfer(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedDeposit(repo, 1, "BK-201", deposits.StatusInStore)

	_, err := svc.Create(context.Background(), CreateInput{DepositID: 1, ToStoreID: 2, RequestedBy: "staff-a"})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateInput{DepositID: 1, ToStoreID: 2, RequestedBy: "staff-b"})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCreateValidatesDestination(t *testing.T) {
	svc, repo, _ := newTestService(t)
	d := seedDeposit(repo, 1, "BK-202", deposits.StatusInStore)

	_, err := svc.Create(context.Background(), CreateInput{DepositID: 1, ToStoreID: 99, RequestedBy: "staff-a"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(context.Background(), CreateInput{DepositID: 1, ToStoreID: 3, RequestedBy: "staff-a"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(context.Background(), CreateInput{DepositID: 1, ToStoreID: 1, RequestedBy: "staff-a"})
	require.ErrorIs(t, err, shared.ErrValidation)

	// a regular branch is not a valid destination, only the central warehouse is
	_, err = svc.Create(context.Background(), CreateInput{DepositID: 1, ToStoreID: 4, RequestedBy: "staff-a"})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, deposits.StatusInStore, d.Status)
}

func TestConfirmMovesDepositOut(t *testing.T) {
	svc, repo, auditor := newTestService(t)
	seedDeposit(repo, 1, "BK-203", deposits.StatusInStore)

	created, err := svc.Create(context.Background(), CreateInput{DepositID: 1, ToStoreID: 2, RequestedBy: "staff-a"})
	require.NoError(t, err)

	confirmed, err := svc.Confirm(context.Background(), created.Transfer.ID, "staff-dest")
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, confirmed.Transfer.Status)
	require.Equal(t, deposits.StatusTransferredOut, confirmed.Deposit.Status)
	require.NotNil(t, confirmed.Transfer.ResolvedAt)

	_, err = svc.Confirm(context.Background(), created.Transfer.ID, "staff-dest")
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Equal(t, audit.ActionTransferConfirmed, auditor.entries[len(auditor.entries)-1].Action)
}

func TestCreateWithImmediateConfirm(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedDeposit(repo, 1, "BK-204", deposits.StatusInStore)

	result, err := svc.Create(context.Background(), CreateInput{DepositID: 1, ToStoreID: 2, RequestedBy: "staff-a", Confirm: true})
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, result.Transfer.Status)
	require.Equal(t, deposits.StatusTransferredOut, result.Deposit.Status)
}

func TestRejectRevertsDeposit(t *testing.T) {
	svc, repo, _ := newTestService(t)
	d := seedDeposit(repo, 1, "BK-205", deposits.StatusInStore)

	created, err := svc.Create(context.Background(), CreateInput{DepositID: 1, ToStoreID: 2, RequestedBy: "staff-a"})
	require.NoError(t, err)

	rejected, err := svc.Reject(context.Background(), created.Transfer.ID, "staff-dest")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Transfer.Status)
	require.Equal(t, deposits.StatusInStore, rejected.Deposit.Status)
	require.Equal(t, deposits.StatusInStore, d.Status)

	// a second transfer can start once the first was rejected
	_, err = svc.Create(context.Background(), CreateInput{DepositID: 1, ToStoreID: 2, RequestedBy: "staff-a"})
	require.NoError(t, err)
}

func TestCreateBatchPartialSuccess(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedDeposit(repo, 1, "BK-206", deposits.StatusInStore)
	seedDeposit(repo, 2, "BK-207", deposits.StatusWithdrawn)

	results, err := svc.CreateBatch(context.Background(), BatchInput{
		FromStoreID:  1,
		ToStoreID:    2,
		DepositCodes: []string{"BK-206", "BK-207", "BK-MISSING"},
		RequestedBy:  "staff-a",
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Empty(t, results[0].Error)
	require.NotZero(t, results[0].TransferID)
	require.NotEmpty(t, results[1].Error)
	require.NotEmpty(t, results[2].Error)

	repo.mu.Lock()
	require.Equal(t, deposits.StatusTransferPending, repo.deposits[1].Status)
	require.Equal(t, deposits.StatusWithdrawn, repo.deposits[2].Status)
	repo.mu.Unlock()
}

func TestTransferFromWithdrawnFails(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedDeposit(repo, 1, "BK-208", deposits.StatusWithdrawn)

	_, err := svc.Create(context.Background(), CreateInput{DepositID: 1, ToStoreID: 2, RequestedBy: "staff-a"})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}
