package importer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bottlekeep/bottlekeep/internal/audit"
	"github.com/bottlekeep/bottlekeep/internal/deposits"
	"github.com/bottlekeep/bottlekeep/internal/shared"
)

type memoryRepo struct {
	mu   sync.Mutex
	seq  int64
	rows map[int64]*deposits.Deposit
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: map[int64]*deposits.Deposit{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, deposits.TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, (*memoryTx)(m))
}

func (m *memoryRepo) Get(_ context.Context, id int64) (deposits.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok {
		return deposits.Deposit{}, shared.ErrNotFound
	}
	return *d, nil
}

func (m *memoryRepo) GetByCode(_ context.Context, storeID int64, code string) (deposits.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.rows {
		if d.StoreID == storeID && d.DepositCode == code {
			return *d, nil
		}
	}
	return deposits.Deposit{}, shared.ErrNotFound
}

func (m *memoryRepo) List(_ context.Context, filter deposits.ListFilter) ([]deposits.Deposit, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []deposits.Deposit
	for _, d := range m.rows {
		if d.StoreID == filter.StoreID {
			out = append(out, *d)
		}
	}
	return out, len(out), nil
}

func (m *memoryRepo) ListExpiryCandidates(_ context.Context, _ int64, _ time.Time) ([]deposits.Deposit, error) {
	return nil, nil
}

type memoryTx memoryRepo

func (m *memoryTx) Insert(_ context.Context, deposit *deposits.Deposit) error {
	for _, existing := range m.rows {
		if existing.StoreID == deposit.StoreID && existing.DepositCode == deposit.DepositCode {
			return shared.Conflictf("deposit code %q already used", deposit.DepositCode)
		}
	}
	m.seq++
	deposit.ID = m.seq
	clone := *deposit
	m.rows[deposit.ID] = &clone
	return nil
}

func (m *memoryTx) GetForUpdate(_ context.Context, id int64) (deposits.Deposit, error) {
	d, ok := m.rows[id]
	if !ok {
		return deposits.Deposit{}, shared.ErrNotFound
	}
	return *d, nil
}

func (m *memoryTx) UpdateStatus(_ context.Context, id int64, from, to deposits.Status) (bool, error) {
	d, ok := m.rows[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	return true, nil
}

func (m *memoryTx) UpdateVIP(_ context.Context, id int64, isVIP bool, expiry *time.Time, status deposits.Status) error {
	d, ok := m.rows[id]
	if !ok {
		return shared.ErrNotFound
	}
	d.IsVIP = isVIP
	d.ExpiryDate = expiry
	d.Status = status
	return nil
}

func (m *memoryTx) UpdateExpiry(_ context.Context, id int64, expiry time.Time) error {
	d, ok := m.rows[id]
	if !ok {
		return shared.ErrNotFound
	}
	d.ExpiryDate = &expiry
	return nil
}

type fakeAudit struct {
	entries []audit.Entry
}

func (f *fakeAudit) Record(_ context.Context, entry audit.Entry) error {
	f.entries = append(f.entries, entry)
	return nil
}

const header = "deposit_code,customer_name,customer_phone,product_name,category,quantity,remaining_qty,status,is_vip,expiry_date,received_by\n"

func TestImportValidRows(t *testing.T) {
	repo := newMemoryRepo()
	auditor := &fakeAudit{}
	imp := New(slog.Default(), repo, auditor)

	csvData := header +
		"BK-301,Tanaka,090-1111-2222,Yamazaki 12,whisky,1,0.7,in_store,false,2026-12-01,staff-a\n" +
		"BK-302,Sato,,Hibiki 17,whisky,1,1,in_store,true,,staff-a\n"

	report, err := imp.Run(context.Background(), 1, strings.NewReader(csvData))
	require.NoError(t, err)
	require.Equal(t, 2, report.Imported)
	require.Zero(t, report.Failed)

	stored, err := repo.GetByCode(context.Background(), 1, "BK-301")
	require.NoError(t, err)
	require.InDelta(t, 0.7, stored.RemainingQty, 0.0001)
	require.InDelta(t, 70.0, stored.RemainingPercent, 0.01)
	require.NotNil(t, stored.ExpiryDate)

	vip, err := repo.GetByCode(context.Background(), 1, "BK-302")
	require.NoError(t, err)
	require.True(t, vip.IsVIP)
	require.Nil(t, vip.ExpiryDate)

	require.Len(t, auditor.entries, 1)
	require.Equal(t, audit.ActionBulkImport, auditor.entries[0].Action)
	require.Equal(t, 2, auditor.entries[0].NewValue["imported"])
}

func TestImportSkipsInvalidRows(t *testing.T) {
	repo := newMemoryRepo()
	imp := New(slog.Default(), repo, &fakeAudit{})

	csvData := header +
		"BK-310,Tanaka,,Yamazaki 12,,1,0.7,in_store,false,,staff-a\n" +
		"BK-311,Sato,,Hibiki 17,,1,1.5,in_store,false,,staff-a\n" + // remaining above quantity
		"BK-312,Ito,,Hakushu 12,,1,1,levitating,false,,staff-a\n" + // unknown status
		"BK-313,Kato,,Chita,,1,0.5,in_store,true,2026-12-01,staff-a\n" + // VIP with expiry
		"BK-310,Tanaka,,Yamazaki 12,,1,0.7,in_store,false,,staff-a\n" // duplicate code

	report, err := imp.Run(context.Background(), 1, strings.NewReader(csvData))
	require.NoError(t, err)
	require.Equal(t, 1, report.Imported)
	require.Equal(t, 4, report.Failed)
	require.Len(t, report.Errors, 4)
	require.Equal(t, 3, report.Errors[0].Line)
}

func TestImportRejectsBadHeader(t *testing.T) {
	imp := New(slog.Default(), newMemoryRepo(), &fakeAudit{})

	_, err := imp.Run(context.Background(), 1, strings.NewReader("code,name\nBK-1,Tanaka\n"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestImportRequiresStore(t *testing.T) {
	imp := New(slog.Default(), newMemoryRepo(), &fakeAudit{})

	_, err := imp.Run(context.Background(), 0, strings.NewReader(header))
	require.ErrorIs(t, err, shared.ErrValidation)
}
