package calendar

import (
	"fmt"
	"time"

	"MarketPulse/pkg/util"
)

// Phase is the calendar-derived stage of the trading day.
type Phase string

const (
	PhasePreOpen       Phase = "pre_open"
	PhaseAuctionFreeze Phase = "auction_freeze"
	PhaseLive          Phase = "live"
	PhaseClosed        Phase = "closed"
	PhaseHoliday       Phase = "holiday"
)

// Config holds the session boundaries. Boundaries are fixed for a given
// build of the calendar; clock strings are "HH:MM" in Timezone.
type Config struct {
	Timezone      string   `yaml:"timezone"`
	PreOpen       string   `yaml:"pre_open"`
	AuctionFreeze string   `yaml:"auction_freeze"`
	Open          string   `yaml:"open"`
	Close         string   `yaml:"close"`
	Holidays      []string `yaml:"holidays"` // YYYY-MM-DD
}

// Calendar answers "what session phase is it" for any timestamp. It is
// immutable after construction and safe for concurrent use without locking.
type Calendar struct {
	loc      *time.Location
	preOpen  int // minute-of-day boundaries
	freeze   int
	open     int
	close    int
	holidays map[string]struct{}
}

// New validates the configuration and builds a Calendar. An invalid
// configuration is the only failure mode and is meant to be fatal at startup.
func New(cfg Config) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("calendar timezone: %w", err)
	}

	preOpen, err := util.ParseClock(cfg.PreOpen)
	if err != nil {
		return nil, fmt.Errorf("calendar pre_open: %w", err)
	}
	freeze, err := util.ParseClock(cfg.AuctionFreeze)
	if err != nil {
		return nil, fmt.Errorf("calendar auction_freeze: %w", err)
	}
	open, err := util.ParseClock(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("calendar open: %w", err)
	}
	clos, err := util.ParseClock(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("calendar close: %w", err)
	}
	if !(preOpen < freeze && freeze < open && open < clos) {
		return nil, fmt.Errorf("calendar boundaries must be strictly increasing: %s < %s < %s < %s",
			cfg.PreOpen, cfg.AuctionFreeze, cfg.Open, cfg.Close)
	}

	holidays := make(map[string]struct{}, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		if _, err := time.ParseInLocation("2006-01-02", h, loc); err != nil {
			return nil, fmt.Errorf("calendar holiday %q: %w", h, err)
		}
		holidays[h] = struct{}{}
	}

	return &Calendar{
		loc:      loc,
		preOpen:  preOpen,
		freeze:   freeze,
		open:     open,
		close:    clos,
		holidays: holidays,
	}, nil
}

// PhaseAt returns the session phase for t. Deterministic and total: every
// timestamp maps to exactly one phase.
func (c *Calendar) PhaseAt(t time.Time) Phase {
	lt := t.In(c.loc)
	if _, ok := c.holidays[lt.Format("2006-01-02")]; ok {
		return PhaseHoliday
	}
	switch lt.Weekday() {
	case time.Saturday, time.Sunday:
		return PhaseClosed
	}

	m := lt.Hour()*60 + lt.Minute()
	switch {
	case m >= c.preOpen && m < c.freeze:
		return PhasePreOpen
	case m >= c.freeze && m < c.open:
		return PhaseAuctionFreeze
	case m >= c.open && m < c.close:
		return PhaseLive
	default:
		return PhaseClosed
	}
}

// SinceOpen returns how far t is into the continuous-trading window.
// Negative before open; meaningful only when PhaseAt(t) == PhaseLive.
func (c *Calendar) SinceOpen(t time.Time) time.Duration {
	lt := t.In(c.loc)
	open := time.Date(lt.Year(), lt.Month(), lt.Day(), c.open/60, c.open%60, 0, 0, c.loc)
	return lt.Sub(open)
}

// Connectable reports whether the upstream accepts push connections at t:
// continuous trading, past the configured grace buffer after open.
func (c *Calendar) Connectable(t time.Time, grace time.Duration) bool {
	if c.PhaseAt(t) != PhaseLive {
		return false
	}
	return c.SinceOpen(t) >= grace
}

// Location returns the calendar timezone, shared with daily cache rollover.
func (c *Calendar) Location() *time.Location { return c.loc }
