package util

import (
    "fmt"
    "strconv"
    "strings"
    "time"
)

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
    if s == "" {
        return time.Time{}, false
    }
    if t, err := time.Parse(time.RFC3339, s); err == nil {
        return t, true
    }
    if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
        return t, true
    }
    if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
        return time.Unix(ts, 0), true
    }
    return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
    if t, ok := ParseTime(s); ok {
        return t
    }
    return def
}

// TradingDate formats t in loc as the YYYY-MM-DD key used for daily cache rollover.
func TradingDate(t time.Time, loc *time.Location) string {
    return t.In(loc).Format("2006-01-02")
}

// EndOfDay returns the first instant of the next calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
    lt := t.In(loc)
    return time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, loc)
}

// ParseClock parses "HH:MM" into minute-of-day.
func ParseClock(s string) (int, error) {
    parts := strings.Split(s, ":")
    if len(parts) != 2 {
        return 0, fmt.Errorf("invalid clock %q", s)
    }
    h, err := strconv.Atoi(parts[0])
    if err != nil || h < 0 || h > 23 {
        return 0, fmt.Errorf("invalid hour in %q", s)
    }
    m, err := strconv.Atoi(parts[1])
    if err != nil || m < 0 || m > 59 {
        return 0, fmt.Errorf("invalid minute in %q", s)
    }
    return h*60 + m, nil
}

// MinuteOfDay returns the minute-of-day for t in loc.
func MinuteOfDay(t time.Time, loc *time.Location) int {
    lt := t.In(loc)
    return lt.Hour()*60 + lt.Minute()
}
