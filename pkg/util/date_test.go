package util

import (
    "strconv"
    "testing"
    "time"
)

func TestParseTimeRFC3339(t *testing.T) {
    s := "2024-10-10T10:10:10Z"
    got, ok := ParseTime(s)
    if !ok {
        t.Fatalf("expected ok")
    }
    if got.UTC().Format(time.RFC3339) != s {
        t.Fatalf("unexpected time %v", got)
    }
}

func TestParseTimeUnix(t *testing.T) {
    ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
    got, ok := ParseTime(strconv.FormatInt(ts, 10))
    if !ok {
        t.Fatalf("expected ok")
    }
    if got.Unix() != ts {
        t.Fatalf("unexpected unix %v", got.Unix())
    }
}

func TestParseClock(t *testing.T) {
    m, err := ParseClock("09:15")
    if err != nil {
        t.Fatalf("unexpected error %v", err)
    }
    if m != 9*60+15 {
        t.Fatalf("unexpected minute %d", m)
    }
    if _, err := ParseClock("25:00"); err == nil {
        t.Fatalf("expected error for bad hour")
    }
    if _, err := ParseClock("0900"); err == nil {
        t.Fatalf("expected error for missing colon")
    }
}

func TestTradingDateRollover(t *testing.T) {
    loc, _ := time.LoadLocation("UTC")
    before := time.Date(2024, 10, 10, 23, 59, 0, 0, loc)
    after := time.Date(2024, 10, 11, 0, 1, 0, 0, loc)
    if TradingDate(before, loc) == TradingDate(after, loc) {
        t.Fatalf("expected different trading dates across midnight")
    }
    eod := EndOfDay(before, loc)
    if !eod.Equal(time.Date(2024, 10, 11, 0, 0, 0, 0, loc)) {
        t.Fatalf("unexpected end of day %v", eod)
    }
}
