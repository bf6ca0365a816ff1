package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	entries   []Entry
	lastLimit int
	lastOff   int
}

func (r *fakeRepo) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error) {
	r.lastLimit = limit
	r.lastOff = offset
	if offset >= len(r.entries) {
		return nil, nil
	}
	end := offset + limit
	if end > len(r.entries) {
		end = len(r.entries)
	}
	return r.entries[offset:end], nil
}

func seedEntries(n int) []Entry {
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, Entry{
			ID:        int64(i + 1),
			StoreID:   1,
			Action:    ActionWithdrawalCompleted,
			TableName: "withdrawals",
			RecordID:  int64(i + 1),
			CreatedAt: time.Now(),
		})
	}
	return entries
}

func TestTimelinePagingHasNext(t *testing.T) {
	repo := &fakeRepo{entries: seedEntries(25)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, result.Rows, 20)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Equal(t, 21, repo.lastLimit)

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, result.Rows, 5)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 1, result.Paging.PrevPage)
}

func TestTimelineClampsPageSize(t *testing.T) {
	repo := &fakeRepo{entries: seedEntries(120)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	require.Len(t, result.Rows, 50)
	require.Equal(t, 50, result.Paging.PageSize)
}

func TestActionTypeClosedSet(t *testing.T) {
	require.True(t, ActionDepositCreated.IsValid())
	require.True(t, ActionBulkImport.IsValid())
	require.False(t, ActionType("deposit_undone").IsValid())
	require.False(t, ActionType("").IsValid())
}
