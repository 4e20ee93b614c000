package model

import (
	"time"
)

type BillingRecord struct {
	ID          string        `db:"id" json:"id"`
	AccountID   string        `db:"account_id" json:"accountId"`
	Tier        Tier          `db:"tier" json:"tier"`
	AmountCents int64         `db:"amount_cents" json:"amountCents"`
	Status      BillingStatus `db:"status" json:"status"`
	PeriodStart time.Time     `db:"period_start" json:"periodStart"`
	PeriodEnd   time.Time     `db:"period_end" json:"periodEnd"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
}

type CreateBillingRecordParams struct {
	ID          string
	AccountID   string
	Tier        Tier
	AmountCents int64
	PeriodStart time.Time
	PeriodEnd   time.Time
}
