package models

import "time"

// MetricValue is one derived-metric observation for a symbol.
type MetricValue struct {
	Symbol    string    `json:"symbol"`
	Value     float64   `json:"value"`
	FetchedAt time.Time `json:"fetched_at"`
}

// MetricResult is what cache readers get: the value plus an explicit
// staleness flag and age. Stale values are not errors.
type MetricResult struct {
	Value MetricValue   `json:"value"`
	Stale bool          `json:"stale"`
	Age   time.Duration `json:"age"`
}
