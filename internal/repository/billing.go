package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/stylesync/quota-server-go/internal/model"
)

type BillingRepository interface {
	Create(ctx context.Context, params model.CreateBillingRecordParams) (*model.BillingRecord, error)
	ListByAccountID(ctx context.Context, accountID string, limit int) ([]model.BillingRecord, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) BillingRepository
}

type billingRepo struct {
	db sqlxDB
}

func NewBillingRepository(db *sqlx.DB) BillingRepository {
	return &billingRepo{db: db}
}

func (r *billingRepo) WithTx(tx *sqlx.Tx) BillingRepository {
	return &billingRepo{db: tx}
}

func (r *billingRepo) Create(ctx context.Context, params model.CreateBillingRecordParams) (*model.BillingRecord, error) {
	var record model.BillingRecord
	err := r.db.GetContext(ctx, &record, `
		INSERT INTO billing_records (id, account_id, tier, amount_cents, status, period_start, period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, params.ID, params.AccountID, params.Tier, params.AmountCents, model.BillingStatusRecorded,
		params.PeriodStart, params.PeriodEnd)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *billingRepo) ListByAccountID(ctx context.Context, accountID string, limit int) ([]model.BillingRecord, error) {
	records := []model.BillingRecord{}
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM billing_records
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	return records, nil
}

