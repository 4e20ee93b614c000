package quota

import (
	"time"

	"github.com/stylesync/quota-server-go/internal/model"
	"github.com/stylesync/quota-server-go/internal/tier"
)

// Usage is the quota view shown to the account owner.
type Usage struct {
	Tier             model.Tier `json:"tier"`
	Unit             model.Unit `json:"unit"`
	CreditsRemaining int64      `json:"creditsRemaining"`
	DailyUsed        int64      `json:"dailyUsed"`
	DailyCap         *int64     `json:"dailyCap,omitempty"`
	MonthlyUsed      int64      `json:"monthlyUsed"`
	MonthlyCap       int64      `json:"monthlyCap"`
	Exhausted        bool       `json:"exhausted"`
	NextDailyReset   time.Time  `json:"nextDailyReset"`
	NextMonthlyReset time.Time  `json:"nextMonthlyReset"`
	ExpiresAt        *time.Time `json:"subscriptionExpiresAt,omitempty"`
	Cancelled        bool       `json:"cancelled"`
}

// Snapshot builds the usage view of an account that is already rolled over.
func Snapshot(acc model.Account, table *tier.Table, now time.Time) Usage {
	limits := table.Limits(acc.Tier)

	u := Usage{
		Tier:             acc.Tier,
		Unit:             limits.Unit,
		CreditsRemaining: acc.CreditsRemaining,
		DailyUsed:        acc.DailyUsed,
		MonthlyUsed:      acc.MonthlyUsed,
		MonthlyCap:       limits.MonthlyCap,
		Exhausted:        acc.CreditsRemaining <= 0,
		NextDailyReset:   NextDailyReset(now),
		NextMonthlyReset: NextMonthlyReset(now, acc.MonthlyResetAnchor),
		ExpiresAt:        acc.SubscriptionExpiresAt,
		Cancelled:        acc.CancelledAt != nil,
	}
	if limits.HasDailyCap() {
		dailyCap := limits.DailyCap
		u.DailyCap = &dailyCap
	}
	return u
}
