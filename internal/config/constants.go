package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts. WriteTimeout stays 0 because generation and SSE
// responses outlive any fixed write window.
const (
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Ping timeout for backing-store health checks
const StorePingTimeout = 5 * time.Second

// Background job intervals
const PoolMaintenanceInterval = 5 * time.Minute

// Quota window per session, anchored at first use within the window
const DailyWindow = 24 * time.Hour

// Cross-process session lock TTL for the shared store backends
const SessionLockTTL = 5 * time.Minute
