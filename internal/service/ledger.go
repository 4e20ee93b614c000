package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/stylesync/quota-server-go/internal/audit"
	"github.com/stylesync/quota-server-go/internal/cache"
	"github.com/stylesync/quota-server-go/internal/database"
	apperrors "github.com/stylesync/quota-server-go/internal/errors"
	"github.com/stylesync/quota-server-go/internal/metrics"
	"github.com/stylesync/quota-server-go/internal/model"
	"github.com/stylesync/quota-server-go/internal/quota"
	"github.com/stylesync/quota-server-go/internal/repository"
	"github.com/stylesync/quota-server-go/internal/sse"
	"github.com/stylesync/quota-server-go/internal/tier"
)

// EventPublisher fans out account events to connected clients.
type EventPublisher interface {
	Publish(ctx context.Context, accountID string, event sse.Event) error
}

// UsageEvent is the payload of a usage_updated event.
type UsageEvent struct {
	AccountID        string     `json:"accountId"`
	Tier             model.Tier `json:"tier"`
	Unit             model.Unit `json:"unit"`
	CreditsRemaining int64      `json:"creditsRemaining"`
	DailyUsed        int64      `json:"dailyUsed"`
	MonthlyUsed      int64      `json:"monthlyUsed"`
}

// UpdateFunc computes the next account state while the row is locked. The
// account passed in has already had expiry and rollover applied.
type UpdateFunc func(tx *sqlx.Tx, acc model.Account, now time.Time) (model.Account, error)

// LedgerService owns every write to an account's quota counters. Writes go
// through a transaction holding the account row lock, so concurrent requests
// for the same account serialize.
type LedgerService struct {
	db          database.TxRunner
	accountRepo repository.AccountRepository
	tiers       *tier.Table
	cache       cache.AccountCache
	publisher   EventPublisher
	now         func() time.Time
}

func NewLedgerService(
	db database.TxRunner,
	accountRepo repository.AccountRepository,
	tiers *tier.Table,
	accountCache cache.AccountCache,
	publisher EventPublisher,
) *LedgerService {
	return &LedgerService{
		db:          db,
		accountRepo: accountRepo,
		tiers:       tiers,
		cache:       accountCache,
		publisher:   publisher,
		now:         time.Now,
	}
}

func (s *LedgerService) Tiers() *tier.Table {
	return s.tiers
}

// EnsureAccount returns the user's account, creating a free one on first use.
func (s *LedgerService) EnsureAccount(ctx context.Context, userID, email string) (*model.Account, error) {
	account, err := s.accountRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account != nil {
		return account, nil
	}

	today := quota.Date(s.now())
	account, err = s.accountRepo.Create(ctx, model.CreateAccountParams{
		UserID:             userID,
		Email:              email,
		Tier:               model.TierFree,
		CreditsRemaining:   s.tiers.Limits(model.TierFree).FullAllotment(),
		LastResetDate:      today,
		MonthlyResetAnchor: today.Day(),
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().
		Str("accountId", account.ID).
		Str("userId", userID).
		Msg("account created")

	return account, nil
}

// GetAccount serves the account from the cache when it is still current
// for today, falling back to Usage.
func (s *LedgerService) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, accountID)
		if err != nil {
			log.Warn().Err(err).Str("accountId", accountID).Msg("account cache read failed")
		} else if cached != nil && s.isCurrent(cached) {
			return cached, nil
		}
	}
	return s.Usage(ctx, accountID)
}

func (s *LedgerService) isCurrent(acc *model.Account) bool {
	now := s.now()
	if !quota.Date(acc.LastResetDate).Equal(quota.Date(now)) {
		return false
	}
	if acc.Tier.Paid() && acc.SubscriptionExpiresAt != nil && !now.Before(*acc.SubscriptionExpiresAt) {
		return false
	}
	return true
}

// Usage returns the account with expiry and rollover applied, persisting
// them when either fired.
func (s *LedgerService) Usage(ctx context.Context, accountID string) (*model.Account, error) {
	return s.Update(ctx, accountID, func(_ *sqlx.Tx, acc model.Account, _ time.Time) (model.Account, error) {
		return acc, nil
	})
}

// Consume deducts amount from the account. Rejections are returned as
// LIMIT_EXCEEDED or INSUFFICIENT_BALANCE and deduct nothing.
func (s *LedgerService) Consume(ctx context.Context, accountID string, amount int64) (*model.Account, error) {
	if amount < 1 {
		return nil, apperrors.InvalidInput("amount", "must be at least 1")
	}
	return s.consume(ctx, accountID, func(model.Unit) int64 { return amount })
}

// ConsumeText charges the cost of text in the billing unit of the tier the
// account holds under the row lock, and returns the units charged.
func (s *LedgerService) ConsumeText(ctx context.Context, accountID, text string) (*model.Account, int64, error) {
	var cost int64
	account, err := s.consume(ctx, accountID, func(unit model.Unit) int64 {
		cost = quota.Cost(unit, text)
		return cost
	})
	if err != nil {
		return nil, 0, err
	}
	return account, cost, nil
}

func (s *LedgerService) consume(ctx context.Context, accountID string, costOf func(model.Unit) int64) (*model.Account, error) {
	var (
		tierName model.Tier
		amount   int64
	)
	account, err := s.Update(ctx, accountID, func(_ *sqlx.Tx, acc model.Account, now time.Time) (model.Account, error) {
		tierName = acc.Tier
		amount = costOf(s.tiers.Limits(acc.Tier).Unit)
		next, _, err := quota.Consume(acc, amount, s.tiers, now)
		return next, err
	})

	if err != nil {
		if rej, ok := quota.AsRejection(err); ok {
			metrics.LedgerConsumeTotal.WithLabelValues(string(tierName), string(rej.Reason)).Inc()
			audit.Log(ctx, audit.Event{
				Type:      audit.EventQuotaRejected,
				AccountID: accountID,
				Details: map[string]interface{}{
					"reason":    string(rej.Reason),
					"period":    string(rej.Period),
					"requested": rej.Requested,
					"remaining": rej.Remaining,
				},
			})
			return nil, rej.AppError()
		}
		metrics.LedgerConsumeTotal.WithLabelValues(string(tierName), "error").Inc()
		return nil, err
	}

	limits := s.tiers.Limits(account.Tier)
	metrics.LedgerConsumeTotal.WithLabelValues(string(account.Tier), "ok").Inc()
	metrics.LedgerUnitsTotal.WithLabelValues(string(account.Tier), string(limits.Unit)).Add(float64(amount))

	log.Debug().
		Str("accountId", accountID).
		Int64("amount", amount).
		Int64("remaining", account.CreditsRemaining).
		Msg("quota consumed")

	return account, nil
}

// Update runs fn under the account row lock and persists its result.
//
// A *quota.Rejection returned by fn still commits the expiry and rollover
// applied before fn ran, then is returned to the caller. Any other error
// rolls the transaction back. Cache and event side effects happen only
// after commit.
func (s *LedgerService) Update(ctx context.Context, accountID string, fn UpdateFunc) (*model.Account, error) {
	var (
		result    *model.Account
		changed   bool
		expired   bool
		rolled    quota.Rollover
		expiredOf model.Tier
		rejection error
	)

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		repo := s.accountRepo.WithTx(tx)

		current, err := repo.FindByIDForUpdate(ctx, accountID)
		if err != nil {
			return apperrors.Database(err)
		}
		if current == nil {
			return apperrors.NotFound("Account")
		}

		now := s.now()
		prepared, exp := quota.ApplyExpiry(*current, s.tiers, now)
		prepared, rolled = quota.ApplyRollover(prepared, s.tiers, now)
		expired, expiredOf = exp, current.Tier

		next, err := fn(tx, prepared, now)
		if err != nil {
			if _, ok := quota.AsRejection(err); !ok {
				return err
			}
			rejection = err
			next = prepared
		}

		if !usageChanged(*current, next) {
			result = current
			return nil
		}

		updated, err := repo.UpdateUsage(ctx, accountID, next.UsageParams())
		if err != nil {
			return apperrors.Database(err)
		}
		if updated == nil {
			return apperrors.NotFound("Account")
		}

		result = updated
		changed = true
		return nil
	})

	if err != nil {
		s.invalidate(ctx, accountID)
		return nil, err
	}

	if changed {
		if expired {
			metrics.SubscriptionsExpiredTotal.Inc()
			audit.Log(ctx, audit.Event{
				Type:      audit.EventSubscriptionExpired,
				AccountID: accountID,
				Details:   map[string]interface{}{"tier": string(expiredOf)},
			})
		}
		if rolled != quota.RolloverNone {
			metrics.LedgerRolloversTotal.WithLabelValues(rolled.String()).Inc()
		}
		s.afterCommit(ctx, result)
	}
	if rejection != nil {
		return result, rejection
	}
	return result, nil
}

func usageChanged(a, b model.Account) bool {
	return a.Tier != b.Tier ||
		a.CreditsRemaining != b.CreditsRemaining ||
		a.DailyUsed != b.DailyUsed ||
		a.MonthlyUsed != b.MonthlyUsed ||
		a.ParkedDailyUsed != b.ParkedDailyUsed ||
		a.ParkedMonthlyUsed != b.ParkedMonthlyUsed ||
		!a.LastResetDate.Equal(b.LastResetDate) ||
		!equalTime(a.SubscriptionExpiresAt, b.SubscriptionExpiresAt) ||
		!equalTime(a.CancelledAt, b.CancelledAt)
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// afterCommit refreshes the cache and notifies listeners. Failures here are
// logged only; the store already holds the truth.
func (s *LedgerService) afterCommit(ctx context.Context, account *model.Account) {
	if s.cache != nil {
		if err := s.cache.Set(ctx, account); err != nil {
			log.Warn().Err(err).Str("accountId", account.ID).Msg("account cache write failed")
			s.invalidate(ctx, account.ID)
		}
	}

	if s.publisher == nil {
		return
	}

	event, err := sse.NewEvent(sse.EventUsageUpdated, UsageEvent{
		AccountID:        account.ID,
		Tier:             account.Tier,
		Unit:             s.tiers.Limits(account.Tier).Unit,
		CreditsRemaining: account.CreditsRemaining,
		DailyUsed:        account.DailyUsed,
		MonthlyUsed:      account.MonthlyUsed,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build usage event")
		return
	}
	if err := s.publisher.Publish(ctx, account.ID, event); err != nil {
		log.Warn().Err(err).Str("accountId", account.ID).Msg("failed to publish usage event")
	}
}

func (s *LedgerService) invalidate(ctx context.Context, accountID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, accountID); err != nil {
		log.Warn().Err(err).Str("accountId", accountID).Msg("account cache invalidate failed")
	}
}

// ExpireSubscriptions reverts every lapsed paid account to free. It returns
// how many accounts were reverted.
func (s *LedgerService) ExpireSubscriptions(ctx context.Context, batchSize int) (int, error) {
	accounts, err := s.accountRepo.FindExpiredSubscriptions(ctx, s.now(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("find expired subscriptions: %w", err)
	}

	reverted := 0
	for _, acc := range accounts {
		// Usage applies expiry under the row lock, so a renewal that raced
		// the query is left alone.
		updated, err := s.Usage(ctx, acc.ID)
		if err != nil {
			log.Error().Err(err).Str("accountId", acc.ID).Msg("failed to expire subscription")
			continue
		}
		if updated.Tier == model.TierFree {
			reverted++
		}
	}
	return reverted, nil
}

// Snapshot builds the usage view for an account.
func (s *LedgerService) Snapshot(account *model.Account) quota.Usage {
	return quota.Snapshot(*account, s.tiers, s.now())
}
