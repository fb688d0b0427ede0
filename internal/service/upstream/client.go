package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	xhttp "MarketPulse/pkg/http"
)

// Client implements the provider REST surface: token verification, quote
// pulls, derived metrics and the instrument registry. Every call is
// classified so callers can tell auth failures and throttling apart from
// transient faults. REST calls share one rate budget via the limiter.
type Client struct {
	baseURL string
	http    *xhttp.Client
	limiter *rate.Limiter
	metrics repository.Metrics
}

type ClientOption func(*Client)

// WithRateBudget bounds outgoing REST calls to rps with the given burst.
func WithRateBudget(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http = xhttp.NewClient(xhttp.WithTimeout(d))
		}
	}
}

func WithMetrics(m repository.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    xhttp.NewClient(xhttp.WithTimeout(10 * time.Second)),
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// VerifyToken performs the lightweight authenticated call used by the auth
// state machine.
func (c *Client) VerifyToken(ctx context.Context, token string) (repository.Outcome, error) {
	var body struct {
		OK bool `json:"ok"`
	}
	outcome, err := c.get(ctx, "/api/v1/auth/verify", token, nil, &body)
	if outcome == repository.OutcomeSuccess && !body.OK {
		return repository.OutcomeAuthFailure, repository.ErrCredentialInvalid
	}
	return outcome, err
}

type quoteResponse struct {
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest"`
	Timestamp    int64   `json:"timestamp"` // ms
}

// Quote pulls one REST quote snapshot for a symbol.
func (c *Client) Quote(ctx context.Context, token, symbol string) (*models.Tick, repository.Outcome, error) {
	var qr quoteResponse
	outcome, err := c.get(ctx, "/api/v1/quote", token, map[string][]string{"symbol": {symbol}}, &qr)
	if outcome != repository.OutcomeSuccess {
		return nil, outcome, err
	}
	return &models.Tick{
		Symbol:       qr.Symbol,
		Price:        qr.Price,
		Volume:       qr.Volume,
		OpenInterest: qr.OpenInterest,
		Timestamp:    qr.Timestamp,
		Source:       models.SourceFallback,
	}, repository.OutcomeSuccess, nil
}

type metricResponse struct {
	Symbol string  `json:"symbol"`
	Value  float64 `json:"value"`
}

// Metric fetches one derived-metric value. This endpoint enforces the
// aggressive upstream quota; callers own backoff.
func (c *Client) Metric(ctx context.Context, token, symbol string) (*models.MetricValue, repository.Outcome, error) {
	var mr metricResponse
	outcome, err := c.get(ctx, "/api/v1/metric", token, map[string][]string{"symbol": {symbol}}, &mr)
	if outcome != repository.OutcomeSuccess {
		return nil, outcome, err
	}
	return &models.MetricValue{Symbol: mr.Symbol, Value: mr.Value, FetchedAt: time.Now()}, repository.OutcomeSuccess, nil
}

// Instruments lists the tradable-instrument registry for an exchange.
func (c *Client) Instruments(ctx context.Context, token, exchange string) ([]models.Instrument, repository.Outcome, error) {
	var out []models.Instrument
	outcome, err := c.get(ctx, "/api/v1/instruments", token, map[string][]string{"exchange": {exchange}}, &out)
	if outcome != repository.OutcomeSuccess {
		return nil, outcome, err
	}
	return out, repository.OutcomeSuccess, nil
}

func (c *Client) get(ctx context.Context, path, token string, query map[string][]string, dest interface{}) (repository.Outcome, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return repository.OutcomeTransient, err
		}
	}

	q := map[string][]string{"token": {token}}
	for k, v := range query {
		q[k] = v
	}

	start := time.Now()
	resp, err := c.http.SendRequest(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.baseURL + path,
		QueryParams: q,
	})
	if c.metrics != nil {
		c.metrics.RecordLatency("upstream"+path, time.Since(start).Seconds())
	}
	if err != nil {
		return repository.OutcomeTransient, fmt.Errorf("%w: %v", repository.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if outcome := Classify(resp.StatusCode); outcome != repository.OutcomeSuccess {
		io.Copy(io.Discard, resp.Body)
		return outcome, outcomeError(outcome, resp.StatusCode)
	}

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return repository.OutcomeTransient, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return repository.OutcomeSuccess, nil
}

// Classify maps an HTTP status to the shared outcome taxonomy.
func Classify(status int) repository.Outcome {
	switch {
	case status >= 200 && status < 300:
		return repository.OutcomeSuccess
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return repository.OutcomeAuthFailure
	case status == http.StatusTooManyRequests:
		return repository.OutcomeThrottled
	default:
		return repository.OutcomeTransient
	}
}

func outcomeError(o repository.Outcome, status int) error {
	switch o {
	case repository.OutcomeAuthFailure:
		return fmt.Errorf("%w: status %d", repository.ErrCredentialExpired, status)
	case repository.OutcomeThrottled:
		return fmt.Errorf("%w: status %d", repository.ErrUpstreamThrottled, status)
	default:
		return fmt.Errorf("%w: status %d", repository.ErrUpstreamUnavailable, status)
	}
}
