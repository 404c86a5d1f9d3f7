package models

import "time"

// SystemMetrics is a lightweight snapshot of process counters for health output.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	BridgeLogins             uint64    `json:"bridge_logins"`
	BridgeFailures           uint64    `json:"bridge_failures"`
	ImportedRows             uint64    `json:"imported_rows"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
