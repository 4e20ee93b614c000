package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/stylesync/quota-server-go/internal/audit"
	apperrors "github.com/stylesync/quota-server-go/internal/errors"
	"github.com/stylesync/quota-server-go/internal/model"
	"github.com/stylesync/quota-server-go/internal/quota"
	"github.com/stylesync/quota-server-go/internal/repository"
)

const billingHistoryLimit = 50

type SubscriptionService struct {
	ledger      *LedgerService
	billingRepo repository.BillingRepository
}

func NewSubscriptionService(ledger *LedgerService, billingRepo repository.BillingRepository) *SubscriptionService {
	return &SubscriptionService{
		ledger:      ledger,
		billingRepo: billingRepo,
	}
}

// ChangeTier moves the account to another tier. A paid tier starts a
// one-month period and records a billing entry in the same transaction.
// Asking for the current paid tier after a cancellation resumes it.
func (s *SubscriptionService) ChangeTier(ctx context.Context, accountID string, to model.Tier) (*model.Account, error) {
	if !to.Valid() {
		return nil, apperrors.InvalidInput("tier", fmt.Sprintf("unknown tier %q", to))
	}

	var from model.Tier
	account, err := s.ledger.Update(ctx, accountID, func(tx *sqlx.Tx, acc model.Account, now time.Time) (model.Account, error) {
		from = acc.Tier

		if acc.Tier == to {
			if to.Paid() && acc.CancelledAt != nil {
				acc.CancelledAt = nil
				return acc, nil
			}
			return acc, apperrors.Conflict(fmt.Sprintf("Account is already on the %s plan", to))
		}

		next := quota.ChangeTier(acc, s.ledger.Tiers(), to)
		next.CancelledAt = nil

		// Billing records already written stay as they are.
		if !to.Paid() {
			next.SubscriptionExpiresAt = nil
			return next, nil
		}

		periodEnd := now.AddDate(0, 1, 0)
		next.SubscriptionExpiresAt = &periodEnd

		if _, err := s.billingRepo.WithTx(tx).Create(ctx, model.CreateBillingRecordParams{
			ID:          uuid.NewString(),
			AccountID:   accountID,
			Tier:        to,
			AmountCents: s.ledger.Tiers().Limits(to).PriceCents,
			PeriodStart: now,
			PeriodEnd:   periodEnd,
		}); err != nil {
			return acc, apperrors.Database(err)
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	if from == to {
		audit.Log(ctx, audit.Event{
			Type:      audit.EventSubscriptionResume,
			AccountID: accountID,
			Details:   map[string]interface{}{"tier": string(to)},
		})
		log.Info().
			Str("accountId", accountID).
			Str("tier", string(to)).
			Msg("subscription resumed")
		return account, nil
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventTierChange,
		AccountID: accountID,
		Details: map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		},
	})

	log.Info().
		Str("accountId", accountID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("tier changed")

	return account, nil
}

// Cancel stops renewal. The tier stays until the period ends and then
// reverts to free.
func (s *SubscriptionService) Cancel(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := s.ledger.Update(ctx, accountID, func(_ *sqlx.Tx, acc model.Account, now time.Time) (model.Account, error) {
		if !acc.Tier.Paid() {
			return acc, apperrors.Conflict("Account has no active subscription")
		}
		if acc.CancelledAt != nil {
			return acc, nil
		}

		acc.CancelledAt = &now
		return acc, nil
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSubscriptionCancel,
		AccountID: accountID,
		Details:   map[string]interface{}{"tier": string(account.Tier)},
	})

	return account, nil
}

func (s *SubscriptionService) ListBilling(ctx context.Context, accountID string) ([]model.BillingRecord, error) {
	records, err := s.billingRepo.ListByAccountID(ctx, accountID, billingHistoryLimit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return records, nil
}
