package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const (
	CleanupJobInterval = 5 * time.Minute
	CleanupJobTimeout  = 30 * time.Second
	ExpiryBatchSize    = 200
)

// Cached account snapshots
const AccountCacheTTL = 5 * time.Minute

// Request body limits
const (
	MaxJSONBodyBytes    = 64 * 1024
	MaxRewriteTextRunes = 20000
)

// SSE keepalive
const SSEHeartbeatInterval = 25 * time.Second
