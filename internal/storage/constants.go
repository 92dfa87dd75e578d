package db

import "time"

// Database connection constants
const (
	// ConnectionRetrySleep is the sleep duration between connection retries
	ConnectionRetrySleep = 2 * time.Second
	// maxConnectionRetries is the number of retries for initial connection
	maxConnectionRetries = 10
)

// Pool defaults
const (
	defaultMaxConns          int32 = 10
	defaultMinConns          int32 = 1
	defaultMaxConnIdleTime         = 5 * time.Minute
	defaultMaxConnLifetime         = time.Hour
	defaultHealthCheckPeriod       = time.Minute
)

// Advisory lock ids
const (
	migrationLockID = 1000
	writerLockID    = 1001
)

// Episode states as stored in the episodes table.
const (
	stateInProgress = "in_progress"
	stateCommitted  = "committed"
	stateFailed     = "failed"
)
