package metricscache

import (
	"context"
	"sync"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/auth"
	"MarketPulse/internal/service/credential"
	pkgcache "MarketPulse/pkg/cache"
	"MarketPulse/pkg/logger"
)

type registryAPI struct {
	fakeAPI
	mu    sync.Mutex
	calls int
}

func (r *registryAPI) Instruments(_ context.Context, _, exchange string) ([]models.Instrument, repository.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return []models.Instrument{
		{Symbol: "7203", Name: "Toyota", Exchange: exchange, Currency: "JPY", LotSize: 100},
		{Symbol: "6758", Name: "Sony", Exchange: exchange, Currency: "JPY", LotSize: 100},
	}, repository.OutcomeSuccess, nil
}

func TestRegistryFetchedOncePerDay(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 10, 9, 10, 0, 0, 0, time.UTC)}
	api := &registryAPI{}
	r := NewRegistryCache(api, &fakeTokens{state: auth.StateValid}, &fakeReporter{},
		pkgcache.NewMemoryCache(), time.UTC, logger.Nop(),
		WithRegistryClock(clock.Now))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		list, err := r.Instruments(ctx, "TSE")
		if err != nil {
			t.Fatalf("instruments: %v", err)
		}
		if len(list) != 2 || list[0].Symbol != "7203" {
			t.Fatalf("unexpected registry %+v", list)
		}
	}
	if api.calls != 1 {
		t.Fatalf("expected a single upstream call per day, got %d", api.calls)
	}
}

func TestRegistryDailyRollover(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 10, 9, 23, 0, 0, 0, time.UTC)}
	api := &registryAPI{}
	r := NewRegistryCache(api, &fakeTokens{state: auth.StateValid}, &fakeReporter{},
		pkgcache.NewMemoryCache(), time.UTC, logger.Nop(),
		WithRegistryClock(clock.Now))

	ctx := context.Background()
	if _, err := r.Instruments(ctx, "TSE"); err != nil {
		t.Fatalf("instruments: %v", err)
	}

	clock.Advance(2 * time.Hour) // next trading date
	if _, err := r.Instruments(ctx, "TSE"); err != nil {
		t.Fatalf("instruments: %v", err)
	}
	if api.calls != 2 {
		t.Fatalf("expected refetch after rollover, got %d calls", api.calls)
	}
}

func TestRegistryRequiresValidToken(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 10, 9, 10, 0, 0, 0, time.UTC)}
	api := &registryAPI{}
	r := NewRegistryCache(api, &fakeTokens{state: auth.StateExpired}, &fakeReporter{},
		pkgcache.NewMemoryCache(), time.UTC, logger.Nop(),
		WithRegistryClock(clock.Now))

	if _, err := r.Instruments(context.Background(), "TSE"); err == nil {
		t.Fatalf("expected error without a valid token")
	}
	if api.calls != 0 {
		t.Fatalf("expected no upstream call without a valid token")
	}
}

// rejectedRegistryAPI answers every registry call with a credential rejection.
type rejectedRegistryAPI struct{ fakeAPI }

func (*rejectedRegistryAPI) Instruments(context.Context, string, string) ([]models.Instrument, repository.Outcome, error) {
	return nil, repository.OutcomeAuthFailure, repository.ErrCredentialInvalid
}

func TestRegistryAuthFailureDowngradesMachine(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 10, 9, 10, 0, 0, 0, time.UTC)}
	m := auth.NewMachine(credential.NewStore("unused"), nil, logger.Nop(), nil)
	r := NewRegistryCache(&rejectedRegistryAPI{}, &fakeTokens{state: auth.StateValid}, m,
		pkgcache.NewMemoryCache(), time.UTC, logger.Nop(),
		WithRegistryClock(clock.Now))

	if _, err := r.Instruments(context.Background(), "TSE"); err == nil {
		t.Fatalf("expected error on rejected credential")
	}
	if _, state := m.Current(); state != auth.StateExpired {
		t.Fatalf("expected machine downgraded to expired, got %v", state)
	}
}
