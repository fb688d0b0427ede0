package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"MarketPulse/internal/domain/repository"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		want   repository.Outcome
	}{
		{200, repository.OutcomeSuccess},
		{204, repository.OutcomeSuccess},
		{401, repository.OutcomeAuthFailure},
		{403, repository.OutcomeAuthFailure},
		{429, repository.OutcomeThrottled},
		{500, repository.OutcomeTransient},
		{502, repository.OutcomeTransient},
		{404, repository.OutcomeTransient},
	}
	for _, tc := range cases {
		if got := Classify(tc.status); got != tc.want {
			t.Fatalf("Classify(%d) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestQuoteOutcomes(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			t.Errorf("missing token query param")
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"NK225","price":38000.5,"volume":12,"open_interest":1500,"timestamp":1728468000000}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRateBudget(1000, 1000))

	tick, outcome, err := c.Quote(context.Background(), "tok", "NK225")
	if err != nil || outcome != repository.OutcomeSuccess {
		t.Fatalf("quote: outcome=%v err=%v", outcome, err)
	}
	if tick.Symbol != "NK225" || tick.Price != 38000.5 {
		t.Fatalf("unexpected tick %+v", tick)
	}

	status = http.StatusTooManyRequests
	_, outcome, err = c.Quote(context.Background(), "tok", "NK225")
	if outcome != repository.OutcomeThrottled {
		t.Fatalf("expected throttled, got %v (%v)", outcome, err)
	}

	status = http.StatusUnauthorized
	_, outcome, _ = c.Quote(context.Background(), "tok", "NK225")
	if outcome != repository.OutcomeAuthFailure {
		t.Fatalf("expected auth failure, got %v", outcome)
	}
}

func TestVerifyTokenRejectedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	outcome, err := c.VerifyToken(context.Background(), "tok")
	if outcome != repository.OutcomeAuthFailure || err == nil {
		t.Fatalf("expected auth failure for ok=false, got %v (%v)", outcome, err)
	}
}

func TestUnreachableUpstreamIsTransient(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, outcome, err := c.Quote(context.Background(), "tok", "NK225")
	if outcome != repository.OutcomeTransient || err == nil {
		t.Fatalf("expected transient for unreachable upstream, got %v", outcome)
	}
}
