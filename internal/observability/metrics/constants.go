package metrics

import "time"

// Label values shared by the ingest and queue metrics.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	OutcomeImported = "imported"
	OutcomeFailed   = "failed"

	ResultHit  = "hit"
	ResultMiss = "miss"
)

// Operation names accepted by the Recorder methods.
const (
	OpBatch       = "batch"
	OpCacheLoad   = "cache_load"
	OpFileImport  = "file_import"
	OpDispatch    = "dispatch"
	OpFinalize    = "finalize"
	OpSurnameLoad = "surname_load"
)

// Histogram bucket configuration.
const (
	// BucketStart10ms covers 10ms to ~40s
	BucketStart10ms = 0.01
	// BucketStart100ms covers 100ms to ~100s
	BucketStart100ms = 0.1

	BucketFactor2 = 2

	BucketCount12 = 12
	BucketCount10 = 10
)

// ShutdownTimeout bounds the metrics endpoint shutdown.
const ShutdownTimeout = 5 * time.Second
