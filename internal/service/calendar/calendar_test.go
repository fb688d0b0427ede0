package calendar

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Timezone:      "UTC",
		PreOpen:       "09:00",
		AuctionFreeze: "09:15",
		Open:          "09:25",
		Close:         "15:00",
		Holidays:      []string{"2024-12-25"},
	}
}

func mustNew(t *testing.T) *Calendar {
	t.Helper()
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	return c
}

func at(h, m int) time.Time {
	// 2024-10-09 is a Wednesday
	return time.Date(2024, 10, 9, h, m, 0, 0, time.UTC)
}

func TestPhaseBoundaries(t *testing.T) {
	c := mustNew(t)
	cases := []struct {
		ts   time.Time
		want Phase
	}{
		{at(8, 59), PhaseClosed},
		{at(9, 0), PhasePreOpen},
		{at(9, 14), PhasePreOpen},
		{at(9, 15), PhaseAuctionFreeze},
		{at(9, 24), PhaseAuctionFreeze},
		{at(9, 25), PhaseLive},
		{at(14, 59), PhaseLive},
		{at(15, 0), PhaseClosed},
		{at(23, 59), PhaseClosed},
	}
	for _, tc := range cases {
		if got := c.PhaseAt(tc.ts); got != tc.want {
			t.Fatalf("PhaseAt(%v) = %v, want %v", tc.ts, got, tc.want)
		}
	}
}

func TestWeekendAndHoliday(t *testing.T) {
	c := mustNew(t)
	sat := time.Date(2024, 10, 12, 10, 0, 0, 0, time.UTC)
	if got := c.PhaseAt(sat); got != PhaseClosed {
		t.Fatalf("saturday = %v", got)
	}
	xmas := time.Date(2024, 12, 25, 10, 0, 0, 0, time.UTC)
	if got := c.PhaseAt(xmas); got != PhaseHoliday {
		t.Fatalf("holiday = %v", got)
	}
}

func TestPhaseTotalAndDeterministic(t *testing.T) {
	c := mustNew(t)
	start := time.Date(2024, 10, 9, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 24*60; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)
		p1 := c.PhaseAt(ts)
		p2 := c.PhaseAt(ts)
		if p1 == "" || p1 != p2 {
			t.Fatalf("PhaseAt(%v) unstable: %q vs %q", ts, p1, p2)
		}
	}
}

func TestConnectableGrace(t *testing.T) {
	c := mustNew(t)
	grace := 5 * time.Minute
	if c.Connectable(at(9, 27), grace) {
		t.Fatalf("should not connect inside grace buffer")
	}
	if !c.Connectable(at(9, 30), grace) {
		t.Fatalf("should connect after grace buffer")
	}
	if c.Connectable(at(9, 20), grace) {
		t.Fatalf("should not connect during auction freeze")
	}
}

func TestInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Open = "09:10" // before auction freeze
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for non-increasing boundaries")
	}

	cfg = testConfig()
	cfg.Timezone = "Not/AZone"
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for bad timezone")
	}

	cfg = testConfig()
	cfg.Holidays = []string{"25-12-2024"}
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for bad holiday format")
	}
}
