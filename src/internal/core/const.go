package core

import "time"

// Pipeline defaults
const (
	DefaultBatchSize     = 10
	DefaultFlushInterval = 5 * time.Second
	DefaultSinkTimeout   = 10 * time.Second
	DefaultMaxRetryDelay = 60 * time.Second
)

// Source tags
const (
	SourceFrontend = "frontend"
	SourceBackend  = "backend"
)

// Backend table names
const (
	LogsTable  = "app_logs"
	DealsTable = "deals"
)
