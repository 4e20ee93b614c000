package model

import (
	"time"

	"github.com/lib/pq"
)

type RewriteRecord struct {
	ID            string         `db:"id" json:"id"`
	AccountID     string         `db:"account_id" json:"accountId"`
	OriginalText  string         `db:"original_text" json:"originalText"`
	RewrittenText string         `db:"rewritten_text" json:"rewrittenText"`
	Confidence    float64        `db:"confidence" json:"confidence"`
	StyleTags     pq.StringArray `db:"style_tags" json:"styleTags"`
	Tone          string         `db:"tone" json:"tone"`
	Preset        *string        `db:"preset" json:"preset,omitempty"`
	Units         int64          `db:"units" json:"units"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
}

type CreateRewriteParams struct {
	ID            string
	AccountID     string
	OriginalText  string
	RewrittenText string
	Confidence    float64
	StyleTags     []string
	Tone          string
	Preset        *string
	Units         int64
}

// RewriteStats is the aggregate over an account's rewrite history.
type RewriteStats struct {
	TotalRewrites     int64      `db:"total_rewrites" json:"totalRewrites"`
	TotalUnits        int64      `db:"total_units" json:"totalUnits"`
	AverageConfidence float64    `db:"average_confidence" json:"averageConfidence"`
	FirstRewriteAt    *time.Time `db:"first_rewrite_at" json:"firstRewriteAt,omitempty"`
	LastRewriteAt     *time.Time `db:"last_rewrite_at" json:"lastRewriteAt,omitempty"`
	TopTags           []TagCount `db:"-" json:"topTags"`
}

type TagCount struct {
	Tag   string `db:"tag" json:"tag"`
	Count int64  `db:"count" json:"count"`
}
