package repository

import (
	"context"

	"MarketPulse/internal/domain/models"
)

// Outcome classifies the result of any upstream call so callers can route
// failures without string-matching errors.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeAuthFailure
	OutcomeThrottled
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAuthFailure:
		return "auth_failure"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeTransient:
		return "transient_error"
	}
	return "unknown"
}

// MarketStream is the push channel to the upstream provider.
type MarketStream interface {
	Connect(ctx context.Context, token string) error
	Subscribe(ctx context.Context, symbols []string) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Close() error
	IsConnected() bool
}

// QuoteAPI is the upstream REST surface. Every call reports an Outcome
// alongside the error so auth failures and throttling are distinguishable
// from transient faults.
type QuoteAPI interface {
	VerifyToken(ctx context.Context, token string) (Outcome, error)
	Quote(ctx context.Context, token, symbol string) (*models.Tick, Outcome, error)
	Metric(ctx context.Context, token, symbol string) (*models.MetricValue, Outcome, error)
	Instruments(ctx context.Context, token, exchange string) ([]models.Instrument, Outcome, error)
}

// TickSink receives every published tick (push or fallback) for optional
// out-of-process consumers.
type TickSink interface {
	Publish(ctx context.Context, t *models.Tick) error
	Close() error
}

// Metrics abstracts the observability recorder.
type Metrics interface {
	RecordTick(source, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordCacheResult(result string)
	SetPhase(phase string)
	SetAuthState(state string)
	SetConnectionMode(mode string)
	SetLastTickAge(seconds float64)
}
