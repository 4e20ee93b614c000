package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/stylesync/quota-server-go/internal/model"
)

type RewriteRepository interface {
	Create(ctx context.Context, params model.CreateRewriteParams) (*model.RewriteRecord, error)
	ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]model.RewriteRecord, error)
	CountByAccountID(ctx context.Context, accountID string) (int, error)
	Stats(ctx context.Context, accountID string) (*model.RewriteStats, error)
	TopTags(ctx context.Context, accountID string, limit int) ([]model.TagCount, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) RewriteRepository
}

type rewriteRepo struct {
	db sqlxDB
}

func NewRewriteRepository(db *sqlx.DB) RewriteRepository {
	return &rewriteRepo{db: db}
}

func (r *rewriteRepo) WithTx(tx *sqlx.Tx) RewriteRepository {
	return &rewriteRepo{db: tx}
}

func (r *rewriteRepo) Create(ctx context.Context, params model.CreateRewriteParams) (*model.RewriteRecord, error) {
	tags := params.StyleTags
	if tags == nil {
		tags = []string{}
	}

	var record model.RewriteRecord
	err := r.db.GetContext(ctx, &record, `
		INSERT INTO rewrites (id, account_id, original_text, rewritten_text, confidence, style_tags, tone, preset, units)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *
	`, params.ID, params.AccountID, params.OriginalText, params.RewrittenText, params.Confidence,
		pq.Array(tags), params.Tone, params.Preset, params.Units)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *rewriteRepo) ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]model.RewriteRecord, error) {
	records := []model.RewriteRecord{}
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM rewrites
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *rewriteRepo) CountByAccountID(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM rewrites WHERE account_id = $1
	`, accountID)
	return count, err
}

func (r *rewriteRepo) Stats(ctx context.Context, accountID string) (*model.RewriteStats, error) {
	var stats model.RewriteStats
	err := r.db.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) AS total_rewrites,
			COALESCE(SUM(units), 0)::BIGINT AS total_units,
			COALESCE(AVG(confidence), 0)::DOUBLE PRECISION AS average_confidence,
			MIN(created_at) AS first_rewrite_at,
			MAX(created_at) AS last_rewrite_at
		FROM rewrites
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *rewriteRepo) TopTags(ctx context.Context, accountID string, limit int) ([]model.TagCount, error) {
	tags := []model.TagCount{}
	err := r.db.SelectContext(ctx, &tags, `
		SELECT tag, COUNT(*) AS count
		FROM rewrites, UNNEST(style_tags) AS tag
		WHERE account_id = $1
		GROUP BY tag
		ORDER BY count DESC, tag
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	return tags, nil
}
