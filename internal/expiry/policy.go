// Package expiry holds the expiry policy and the scheduled sweep that
// applies it. VIP deposits are exempt from everything in this package.
package expiry

import (
	"time"

	"github.com/bottlekeep/bottlekeep/internal/deposits"
)

// DefaultExpiringSoonDays is the warning window before expiry.
const DefaultExpiringSoonDays = 7

// DaysUntil returns whole days from now until the deposit expires. Negative
// values mean the date has passed. VIP deposits and deposits without an
// expiry date return false.
func DaysUntil(d deposits.Deposit, now time.Time) (int, bool) {
	if d.IsVIP || d.ExpiryDate == nil {
		return 0, false
	}
	return int(d.ExpiryDate.Sub(now).Hours() / 24), true
}

// IsExpired reports whether the deposit should be expired now. The date
// alone is not enough: VIP deposits never expire, and a deposit whose
// status is outside CanExpire (mid-withdrawal, already withdrawn) keeps
// its date without being swept. Callers wanting a plain date comparison
// use DaysUntil.
func IsExpired(d deposits.Deposit, now time.Time) bool {
	if d.IsVIP || d.ExpiryDate == nil {
		return false
	}
	return d.Status.CanExpire() && !d.ExpiryDate.After(now)
}

// IsExpiringSoon reports whether the deposit expires within the warning
// window, exclusive of already expired dates.
func IsExpiringSoon(d deposits.Deposit, now time.Time, windowDays int) bool {
	if d.IsVIP || d.ExpiryDate == nil || !d.Status.CanExpire() {
		return false
	}
	if windowDays <= 0 {
		windowDays = DefaultExpiringSoonDays
	}
	if !d.ExpiryDate.After(now) {
		return false
	}
	return !d.ExpiryDate.After(now.AddDate(0, 0, windowDays))
}
