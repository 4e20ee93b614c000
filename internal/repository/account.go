package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/stylesync/quota-server-go/internal/model"
)

type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
	FindByUserID(ctx context.Context, userID string) (*model.Account, error)
	// FindByIDForUpdate locks the row until the surrounding transaction ends.
	// Only meaningful on a repository bound with WithTx.
	FindByIDForUpdate(ctx context.Context, id string) (*model.Account, error)
	Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error)
	UpdateUsage(ctx context.Context, id string, params model.UsageParams) (*model.Account, error)
	FindExpiredSubscriptions(ctx context.Context, now time.Time, limit int) ([]model.Account, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) AccountRepository
}

type accountRepo struct {
	db sqlxDB
}

// sqlxDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sqlxDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func NewAccountRepository(db *sqlx.DB) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) WithTx(tx *sqlx.Tx) AccountRepository {
	return &accountRepo{db: tx}
}

func (r *accountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE id = $1
	`, id)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindByUserID(ctx context.Context, userID string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE user_id = $1
	`, userID)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE id = $1 FOR UPDATE
	`, id)
	return HandleNotFound(&account, err)
}

// Create inserts the account unless one already exists for the user, in
// which case the existing row is returned.
func (r *accountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		INSERT INTO accounts (user_id, email, tier, credits_remaining, last_reset_date, monthly_reset_anchor)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING *
	`, params.UserID, params.Email, params.Tier, params.CreditsRemaining, params.LastResetDate, params.MonthlyResetAnchor)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepo) UpdateUsage(ctx context.Context, id string, params model.UsageParams) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		UPDATE accounts SET
			tier = $2,
			credits_remaining = $3,
			daily_used = $4,
			monthly_used = $5,
			parked_daily_used = $6,
			parked_monthly_used = $7,
			last_reset_date = $8,
			subscription_expires_at = $9,
			cancelled_at = $10,
			updated_at = $11,
			version = version + 1
		WHERE id = $1
		RETURNING *
	`, id, params.Tier, params.CreditsRemaining, params.DailyUsed, params.MonthlyUsed,
		params.ParkedDailyUsed, params.ParkedMonthlyUsed,
		params.LastResetDate, params.SubscriptionExpiresAt, params.CancelledAt, time.Now())
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindExpiredSubscriptions(ctx context.Context, now time.Time, limit int) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT * FROM accounts
		WHERE tier <> 'free'
			AND subscription_expires_at IS NOT NULL
			AND subscription_expires_at <= $1
		ORDER BY subscription_expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}
