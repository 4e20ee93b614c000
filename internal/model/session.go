package model

import (
	"time"
)

type Session struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"userId"`
	RefreshTokenHash string     `db:"refresh_token_hash" json:"-"`
	ExpiresAt        time.Time  `db:"expires_at" json:"expiresAt"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	LastUsedAt       *time.Time `db:"last_used_at" json:"lastUsedAt,omitempty"`
}

type CreateSessionParams struct {
	UserID           string
	RefreshTokenHash string
	ExpiresAt        time.Time
}
