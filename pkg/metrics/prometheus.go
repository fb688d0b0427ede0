package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksTotal     *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
	cacheResults   *prometheus.CounterVec
	phase          *prometheus.GaugeVec
	authState      *prometheus.GaugeVec
	connectionMode *prometheus.GaugeVec
	lastTickAge    prometheus.Gauge
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		ticksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_ticks_total",
				Help: "Total number of ticks published downstream",
			},
			[]string{"source", "symbol"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		cacheResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_metric_cache_results_total",
				Help: "Metric cache lookups by result",
			},
			[]string{"result"},
		),
		phase: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_session_phase",
				Help: "Current trading session phase (1 for the active phase)",
			},
			[]string{"phase"},
		),
		authState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_auth_state",
				Help: "Current credential state (1 for the active state)",
			},
			[]string{"state"},
		),
		connectionMode: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_connection_mode",
				Help: "Current feed connection mode (1 for the active mode)",
			},
			[]string{"mode"},
		),
		lastTickAge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpulse_last_tick_age_seconds",
				Help: "Seconds since the last published tick",
			},
		),
	}
}

// RecordTick records a tick published downstream.
func (r *Recorder) RecordTick(source, symbol string) {
	r.ticksTotal.WithLabelValues(source, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordCacheResult records a metric cache lookup outcome.
func (r *Recorder) RecordCacheResult(result string) {
	r.cacheResults.WithLabelValues(result).Inc()
}

var phases = []string{"pre_open", "auction_freeze", "live", "closed", "holiday"}

// SetPhase marks the active session phase.
func (r *Recorder) SetPhase(phase string) {
	setActive(r.phase, phases, phase)
}

var authStates = []string{"unknown", "valid", "expired", "invalid"}

// SetAuthState marks the active credential state.
func (r *Recorder) SetAuthState(state string) {
	setActive(r.authState, authStates, state)
}

var connectionModes = []string{"disconnected", "connecting", "live", "stale", "fallback"}

// SetConnectionMode marks the active feed connection mode.
func (r *Recorder) SetConnectionMode(mode string) {
	setActive(r.connectionMode, connectionModes, mode)
}

// SetLastTickAge updates the tick recency gauge.
func (r *Recorder) SetLastTickAge(seconds float64) {
	r.lastTickAge.Set(seconds)
}

// setActive uses the enum-as-gauge pattern: one series per value, the
// active one set to 1, the rest to 0.
func setActive(vec *prometheus.GaugeVec, all []string, active string) {
	for _, v := range all {
		val := 0.0
		if v == active {
			val = 1.0
		}
		vec.WithLabelValues(v).Set(val)
	}
}
