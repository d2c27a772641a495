package model

// Machine-readable degradation markers. Any result produced with degraded
// inputs or fallbacks carries one of these; downstream consumers must render
// them rather than treating the result as a clean success.
const (
	MarkerInsufficientData      = "insufficient_data"
	MarkerStaleInput            = "stale_input"
	MarkerLimitedData           = "limited_data"
	MarkerQuotaExceeded         = "quota_exceeded"
	MarkerDependencyUnavailable = "dependency_unavailable"
)
