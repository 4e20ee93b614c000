package model

import (
	"time"
)

type Account struct {
	ID                    string     `db:"id" json:"id"`
	UserID                string     `db:"user_id" json:"userId"`
	Email                 string     `db:"email" json:"email"`
	Tier                  Tier       `db:"tier" json:"tier"`
	CreditsRemaining      int64      `db:"credits_remaining" json:"creditsRemaining"`
	DailyUsed             int64      `db:"daily_used" json:"dailyUsed"`
	MonthlyUsed           int64      `db:"monthly_used" json:"monthlyUsed"`
	// Parked counters hold this period's usage in the other billing unit.
	ParkedDailyUsed       int64      `db:"parked_daily_used" json:"parkedDailyUsed"`
	ParkedMonthlyUsed     int64      `db:"parked_monthly_used" json:"parkedMonthlyUsed"`
	LastResetDate         time.Time  `db:"last_reset_date" json:"lastResetDate"`
	MonthlyResetAnchor    int        `db:"monthly_reset_anchor" json:"monthlyResetAnchor"`
	CreatedAt             time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updatedAt"`
	SubscriptionExpiresAt *time.Time `db:"subscription_expires_at" json:"subscriptionExpiresAt,omitempty"`
	CancelledAt           *time.Time `db:"cancelled_at" json:"cancelledAt,omitempty"`
	// Version increases by one on every usage write.
	Version               int64      `db:"version" json:"version"`
}

type CreateAccountParams struct {
	UserID             string
	Email              string
	Tier               Tier
	CreditsRemaining   int64
	LastResetDate      time.Time
	MonthlyResetAnchor int
}

// UsageParams carries every field the ledger may change in one write.
type UsageParams struct {
	Tier                  Tier
	CreditsRemaining      int64
	DailyUsed             int64
	MonthlyUsed           int64
	ParkedDailyUsed       int64
	ParkedMonthlyUsed     int64
	LastResetDate         time.Time
	SubscriptionExpiresAt *time.Time
	CancelledAt           *time.Time
}

func (a *Account) UsageParams() UsageParams {
	return UsageParams{
		Tier:                  a.Tier,
		CreditsRemaining:      a.CreditsRemaining,
		DailyUsed:             a.DailyUsed,
		MonthlyUsed:           a.MonthlyUsed,
		ParkedDailyUsed:       a.ParkedDailyUsed,
		ParkedMonthlyUsed:     a.ParkedMonthlyUsed,
		LastResetDate:         a.LastResetDate,
		SubscriptionExpiresAt: a.SubscriptionExpiresAt,
		CancelledAt:           a.CancelledAt,
	}
}
