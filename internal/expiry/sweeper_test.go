package expiry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bottlekeep/bottlekeep/internal/deposits"
	"github.com/bottlekeep/bottlekeep/internal/stores"
)

type fakeDeposits struct {
	mu      sync.Mutex
	byStore map[int64][]deposits.Deposit
	failIDs map[int64]bool
	expired []int64
}

func (f *fakeDeposits) ListExpiryCandidates(_ context.Context, storeID int64, _ time.Time) ([]deposits.Deposit, error) {
	return f.byStore[storeID], nil
}

func (f *fakeDeposits) MarkExpired(_ context.Context, id int64, _ bool) (deposits.Result, error) {
	if f.failIDs[id] {
		return deposits.Result{}, errors.New("locked")
	}
	f.mu.Lock()
	f.expired = append(f.expired, id)
	f.mu.Unlock()
	return deposits.Result{}, nil
}

type fakeStores struct {
	list []stores.Store
}

func (f *fakeStores) List(_ context.Context) ([]stores.Store, error) {
	return f.list, nil
}

func TestSweepExpiresAcrossStores(t *testing.T) {
	now := time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -1)

	overdue := func(id, storeID int64) deposits.Deposit {
		return deposits.Deposit{
			ID:           id,
			StoreID:      storeID,
			Quantity:     1,
			RemainingQty: 1,
			Status:       deposits.StatusInStore,
			ExpiryDate:   &past,
		}
	}

	depositsPort := &fakeDeposits{
		byStore: map[int64][]deposits.Deposit{
			1: {overdue(10, 1), overdue(11, 1)},
			2: {overdue(20, 2)},
		},
		failIDs: map[int64]bool{11: true},
	}
	storesPort := &fakeStores{list: []stores.Store{
		{ID: 1, Active: true},
		{ID: 2, Active: true},
	}}

	sweeper := NewSweeper(slog.Default(), depositsPort, storesPort)
	stats, err := sweeper.Run(context.Background(), now)
	require.NoError(t, err)

	require.Equal(t, 2, stats.Stores)
	require.Equal(t, 3, stats.Swept)
	require.Equal(t, 2, stats.Expired)
	require.Equal(t, 1, stats.Failed)
	require.ElementsMatch(t, []int64{10, 20}, depositsPort.expired)
}

func TestSweepSkipsVIPCandidates(t *testing.T) {
	now := time.Now()
	past := now.AddDate(0, 0, -1)

	// a VIP row slipping through the candidate query is still skipped
	depositsPort := &fakeDeposits{
		byStore: map[int64][]deposits.Deposit{
			1: {{ID: 5, StoreID: 1, Quantity: 1, RemainingQty: 1, Status: deposits.StatusInStore, IsVIP: true, ExpiryDate: &past}},
		},
	}
	storesPort := &fakeStores{list: []stores.Store{{ID: 1, Active: true}}}

	sweeper := NewSweeper(slog.Default(), depositsPort, storesPort)
	stats, err := sweeper.Run(context.Background(), now)
	require.NoError(t, err)
	require.Zero(t, stats.Expired)
	require.Empty(t, depositsPort.expired)
}
