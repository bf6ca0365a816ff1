package deposits

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPendingConfirm, StatusInStore, true},
		{StatusPendingConfirm, StatusExpired, true},
		{StatusInStore, StatusPendingWithdrawal, true},
		{StatusInStore, StatusTransferPending, true},
		{StatusPendingWithdrawal, StatusInStore, true},
		{StatusPendingWithdrawal, StatusWithdrawn, true},
		{StatusTransferPending, StatusTransferredOut, true},
		{StatusTransferPending, StatusInStore, true},
		{StatusExpired, StatusInStore, true},
		{StatusWithdrawn, StatusInStore, false},
		{StatusTransferredOut, StatusInStore, false},
		{StatusPendingConfirm, StatusWithdrawn, false},
		{StatusExpired, StatusWithdrawn, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	require.True(t, StatusWithdrawn.Terminal())
	require.True(t, StatusExpired.Terminal())
	require.True(t, StatusTransferredOut.Terminal())
	require.False(t, StatusInStore.Terminal())
	require.False(t, StatusPendingWithdrawal.Terminal())
}

func TestParseStatusRejectsUnknown(t *testing.T) {
	_, err := ParseStatus("vanished")
	require.Error(t, err)

	s, err := ParseStatus("in_store")
	require.NoError(t, err)
	require.Equal(t, StatusInStore, s)
}

func TestRecompute(t *testing.T) {
	d := Deposit{Quantity: 4, RemainingQty: 1}
	d.Recompute()
	require.InDelta(t, 25.0, d.RemainingPercent, 0.001)

	d.RemainingQty = 0
	d.Recompute()
	require.Zero(t, d.RemainingPercent)
}

func TestCheckInvariants(t *testing.T) {
	expiry := time.Now().AddDate(0, 3, 0)
	valid := Deposit{Quantity: 2, RemainingQty: 1.5, Status: StatusInStore, ExpiryDate: &expiry}
	require.NoError(t, valid.CheckInvariants())

	overdrawn := valid
	overdrawn.RemainingQty = 3
	require.Error(t, overdrawn.CheckInvariants())

	vipWithExpiry := valid
	vipWithExpiry.IsVIP = true
	require.Error(t, vipWithExpiry.CheckInvariants())

	emptyButInStore := valid
	emptyButInStore.RemainingQty = 0
	require.Error(t, emptyButInStore.CheckInvariants())

	withdrawn := valid
	withdrawn.Status = StatusWithdrawn
	withdrawn.RemainingQty = 0
	require.NoError(t, withdrawn.CheckInvariants())
}
