// Package quota implements the credit ledger rules: daily and monthly
// rollover, subscription expiry and the consumption gate. Everything here is
// pure; callers own persistence and locking.
package quota

import (
	"time"

	"github.com/stylesync/quota-server-go/internal/model"
	"github.com/stylesync/quota-server-go/internal/tier"
)

// Rollover reports which reset rule fired.
type Rollover int

const (
	RolloverNone Rollover = iota
	RolloverDaily
	RolloverMonthly
)

func (r Rollover) String() string {
	switch r {
	case RolloverDaily:
		return "daily"
	case RolloverMonthly:
		return "monthly"
	default:
		return "none"
	}
}

// Date truncates t to its UTC calendar day.
func Date(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// anchorDate returns the anchor day in the given month, clamped to the
// month's last day.
func anchorDate(year int, month time.Month, anchor int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := clampAnchor(anchor)
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func clampAnchor(anchor int) int {
	if anchor < 1 {
		return 1
	}
	if anchor > 31 {
		return 31
	}
	return anchor
}

// PeriodStart returns the most recent monthly anchor date on or before today.
func PeriodStart(today time.Time, anchor int) time.Time {
	today = Date(today)
	start := anchorDate(today.Year(), today.Month(), anchor)
	if start.After(today) {
		prev := time.Date(today.Year(), today.Month()-1, 1, 0, 0, 0, 0, time.UTC)
		start = anchorDate(prev.Year(), prev.Month(), anchor)
	}
	return start
}

// NextMonthlyReset returns the first anchor date after today.
func NextMonthlyReset(today time.Time, anchor int) time.Time {
	start := PeriodStart(today, anchor)
	next := time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	return anchorDate(next.Year(), next.Month(), anchor)
}

// NextDailyReset returns the next UTC midnight.
func NextDailyReset(today time.Time) time.Time {
	return Date(today).AddDate(0, 0, 1)
}

// ApplyRollover rolls the account's counters forward to today.
//
// A monthly rollover fires when nothing has been reset since the current
// period started; it zeroes both counters and restores the full allotment.
// Otherwise a new calendar day zeroes daily usage and re-derives the balance.
// Monthly wins when both apply. Calling it again with the same day is a no-op.
func ApplyRollover(acc model.Account, table *tier.Table, today time.Time) (model.Account, Rollover) {
	today = Date(today)
	last := Date(acc.LastResetDate)
	if !last.Before(today) {
		return acc, RolloverNone
	}

	limits := table.Limits(acc.Tier)

	if last.Before(PeriodStart(today, acc.MonthlyResetAnchor)) {
		acc.DailyUsed = 0
		acc.MonthlyUsed = 0
		acc.ParkedDailyUsed = 0
		acc.ParkedMonthlyUsed = 0
		acc.CreditsRemaining = limits.FullAllotment()
		acc.LastResetDate = today
		return acc, RolloverMonthly
	}

	acc.DailyUsed = 0
	acc.ParkedDailyUsed = 0
	acc.CreditsRemaining = limits.Remaining(0, acc.MonthlyUsed)
	acc.LastResetDate = today
	return acc, RolloverDaily
}

// ChangeTier moves the account to another tier.
//
// Usage is kept per billing unit for the current period. Switching units
// parks the active counters and brings back the ones parked earlier, so a
// round trip through another unit restores the original usage instead of a
// fresh allotment. Usage above the new tier's caps is clamped to them, which
// leaves nothing to spend until the next rollover.
func ChangeTier(acc model.Account, table *tier.Table, to model.Tier) model.Account {
	from := table.Limits(acc.Tier)
	next := table.Limits(to)

	if from.Unit != next.Unit {
		acc.DailyUsed, acc.ParkedDailyUsed = acc.ParkedDailyUsed, acc.DailyUsed
		acc.MonthlyUsed, acc.ParkedMonthlyUsed = acc.ParkedMonthlyUsed, acc.MonthlyUsed
	}

	acc.Tier = to
	acc.MonthlyUsed = min(acc.MonthlyUsed, next.MonthlyCap)
	if next.HasDailyCap() {
		acc.DailyUsed = min(acc.DailyUsed, next.DailyCap)
	}
	acc.CreditsRemaining = next.Remaining(acc.DailyUsed, acc.MonthlyUsed)
	return acc
}

// ApplyExpiry reverts a lapsed paid subscription to the free tier.
func ApplyExpiry(acc model.Account, table *tier.Table, now time.Time) (model.Account, bool) {
	if !acc.Tier.Paid() || acc.SubscriptionExpiresAt == nil {
		return acc, false
	}
	if now.Before(*acc.SubscriptionExpiresAt) {
		return acc, false
	}

	acc = ChangeTier(acc, table, model.TierFree)
	acc.SubscriptionExpiresAt = nil
	return acc, true
}
