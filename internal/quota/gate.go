package quota

import (
	"errors"
	"fmt"
	"time"

	apperrors "github.com/stylesync/quota-server-go/internal/errors"
	"github.com/stylesync/quota-server-go/internal/model"
	"github.com/stylesync/quota-server-go/internal/tier"
)

// Reason is why the gate rejected a deduction.
type Reason string

const (
	ReasonLimitExceeded       Reason = "limit_exceeded"
	ReasonInsufficientBalance Reason = "insufficient_balance"
)

// Period names the cap a LimitExceeded rejection refers to.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

var ErrInvalidAmount = errors.New("amount must be at least 1")

// Rejection is returned by the gate when a deduction is not allowed.
type Rejection struct {
	Reason    Reason     `json:"reason"`
	Period    Period     `json:"period,omitempty"`
	Cap       int64      `json:"cap,omitempty"`
	Used      int64      `json:"used"`
	Requested int64      `json:"requested"`
	Remaining int64      `json:"remaining"`
	Unit      model.Unit `json:"unit"`
}

func (r *Rejection) Error() string {
	if r.Reason == ReasonInsufficientBalance {
		return fmt.Sprintf("Insufficient balance: %d %s remaining, %d requested",
			r.Remaining, r.Unit, r.Requested)
	}
	label := "Monthly"
	if r.Period == PeriodDaily {
		label = "Daily"
	}
	return fmt.Sprintf("%s limit of %d %s reached (%d used, %d requested)",
		label, r.Cap, r.Unit, r.Used, r.Requested)
}

// AppError converts the rejection into the client-facing error.
func (r *Rejection) AppError() *apperrors.AppError {
	if r.Reason == ReasonInsufficientBalance {
		return apperrors.InsufficientBalance(r.Error()).WithDetails(map[string]any{
			"remaining": r.Remaining,
			"requested": r.Requested,
			"unit":      r.Unit,
		})
	}
	return apperrors.LimitExceeded(r.Error()).WithDetails(map[string]any{
		"period":    r.Period,
		"cap":       r.Cap,
		"used":      r.Used,
		"requested": r.Requested,
		"unit":      r.Unit,
	})
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Check applies the cap and balance checks to an already rolled-over account.
func Check(acc model.Account, amount int64, table *tier.Table) error {
	if amount < 1 {
		return ErrInvalidAmount
	}

	limits := table.Limits(acc.Tier)

	if limits.HasDailyCap() && acc.DailyUsed+amount > limits.DailyCap {
		return &Rejection{
			Reason:    ReasonLimitExceeded,
			Period:    PeriodDaily,
			Cap:       limits.DailyCap,
			Used:      acc.DailyUsed,
			Requested: amount,
			Remaining: acc.CreditsRemaining,
			Unit:      limits.Unit,
		}
	}

	if acc.MonthlyUsed+amount > limits.MonthlyCap {
		return &Rejection{
			Reason:    ReasonLimitExceeded,
			Period:    PeriodMonthly,
			Cap:       limits.MonthlyCap,
			Used:      acc.MonthlyUsed,
			Requested: amount,
			Remaining: acc.CreditsRemaining,
			Unit:      limits.Unit,
		}
	}

	if acc.CreditsRemaining < amount {
		return &Rejection{
			Reason:    ReasonInsufficientBalance,
			Used:      acc.MonthlyUsed,
			Requested: amount,
			Remaining: acc.CreditsRemaining,
			Unit:      limits.Unit,
		}
	}

	return nil
}

// Consume rolls the account forward to today and deducts amount.
//
// On rejection the returned account is the rolled-over input with no
// deduction; callers may persist it so the rollover is not lost.
func Consume(acc model.Account, amount int64, table *tier.Table, today time.Time) (model.Account, Rollover, error) {
	if amount < 1 {
		return acc, RolloverNone, ErrInvalidAmount
	}

	next, rolled := ApplyRollover(acc, table, today)
	if err := Check(next, amount, table); err != nil {
		return next, rolled, err
	}

	next.CreditsRemaining -= amount
	next.DailyUsed += amount
	next.MonthlyUsed += amount
	return next, rolled, nil
}
