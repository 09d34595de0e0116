// Package dateplan selects which historical date windows to search on a
// given run. Recent days are searched every run; older days are rotated
// through progressively longer check intervals so aggregate server load
// drops while every day in the lookback window is still revisited within
// a bounded number of days.
package dateplan

import (
	"fmt"
	"log/slog"
	"time"
)

// Defaults for the planner.
const (
	DefaultDays      = 33
	DefaultEverytime = 4
	DefaultMaxPeriod = 3
)

// periods is the progression of check intervals for older bands, bounded
// by MaxPeriod.
var periods = []int{2, 3, 5, 8, 13, 21}

// Config controls the planner.
type Config struct {
	// Days is the full lookback window.
	Days int

	// Everytime is the number of most-recent days searched on every run.
	Everytime int

	// MaxPeriod is the longest gap, in days, allowed between checks of
	// any day within the window.
	MaxPeriod int
}

// Range is one contiguous date span to search, with a human-readable
// explanation of why it was selected.
type Range struct {
	From    time.Time
	To      time.Time
	Comment string
}

// Days returns the number of calendar days the range covers.
func (r Range) Days() int {
	return int(r.To.Sub(r.From)/(24*time.Hour)) + 1
}

func (r Range) String() string {
	return fmt.Sprintf("%s..%s (%s)", r.From.Format("2006-01-02"), r.To.Format("2006-01-02"), r.Comment)
}

// band covers ages [start, end] (days before today, inclusive) checked
// once every period runs.
type band struct {
	start, end int
	period     int
}

// Planner computes the date ranges for a run. Safe to reuse across runs;
// it holds no mutable state and selection depends only on the run date.
type Planner struct {
	cfg    Config
	bands  []band
	logger *slog.Logger
}

// New creates a Planner. Zero or negative config fields take defaults.
func New(cfg Config, logger *slog.Logger) *Planner {
	if cfg.Days <= 0 {
		cfg.Days = DefaultDays
	}
	if cfg.Everytime <= 0 {
		cfg.Everytime = DefaultEverytime
	}
	if cfg.MaxPeriod <= 0 {
		cfg.MaxPeriod = DefaultMaxPeriod
	}
	if cfg.Everytime > cfg.Days {
		cfg.Everytime = cfg.Days
	}
	p := &Planner{
		cfg:    cfg,
		logger: logger.With("component", "date_planner"),
	}
	p.bands = layoutBands(cfg)
	return p
}

// layoutBands partitions ages [everytime, days-1] into bands whose check
// interval follows the period progression. Every band except the last
// ends on a multiple of its period, which keeps the gap across a band
// boundary within MaxPeriod; the last band ends at age days-1.
func layoutBands(cfg Config) []band {
	var bands []band
	next := cfg.Everytime
	last := cfg.Days - 1

	for _, p := range periods {
		if next > last {
			return bands
		}
		if p >= cfg.MaxPeriod {
			bands = append(bands, band{start: next, end: last, period: cfg.MaxPeriod})
			return bands
		}
		end := next + p*cfg.Everytime - 1
		end -= end % p
		if end < next {
			end = next + (p-next%p)%p
		}
		if end >= last {
			bands = append(bands, band{start: next, end: last, period: p})
			return bands
		}
		bands = append(bands, band{start: next, end: end, period: p})
		next = end + 1
	}

	if next <= last {
		bands = append(bands, band{start: next, end: last, period: cfg.MaxPeriod})
	}
	return bands
}

// Ranges returns the ordered list of date ranges to search on the run
// dated today. Ranges are ascending (oldest first), adjacent selections
// merged, and their union is always within [today-days+1, today].
func (p *Planner) Ranges(today time.Time) []Range {
	today = midnight(today)

	// Small windows collapse to a single everytime range.
	if p.cfg.Days <= p.cfg.Everytime {
		return []Range{{
			From:    today.AddDate(0, 0, -(p.cfg.Days - 1)),
			To:      today,
			Comment: "everytime",
		}}
	}

	type pick struct {
		age     int
		comment string
	}
	var picks []pick

	// A day at age a is selected when a is a multiple of its band's
	// period; ages advance one per run, so each calendar day is
	// re-checked exactly every period days while inside the band.
	// Picks are collected oldest-first so adjacent dates merge below.
	for i := len(p.bands) - 1; i >= 0; i-- {
		b := p.bands[i]
		comment := fmt.Sprintf("1 in %d days", b.period)
		for a := b.end; a >= b.start; a-- {
			if a%b.period == 0 {
				picks = append(picks, pick{age: a, comment: comment})
			}
		}
	}
	for a := p.cfg.Everytime - 1; a >= 0; a-- {
		picks = append(picks, pick{age: a, comment: "everytime"})
	}

	var ranges []Range
	for _, pk := range picks {
		d := today.AddDate(0, 0, -pk.age)
		n := len(ranges)
		if n > 0 && ranges[n-1].To.AddDate(0, 0, 1).Equal(d) {
			ranges[n-1].To = d
			if ranges[n-1].Comment != pk.comment {
				ranges[n-1].Comment += " + " + pk.comment
			}
			continue
		}
		ranges = append(ranges, Range{From: d, To: d, Comment: pk.comment})
	}

	p.logger.Debug("planned ranges", "today", today.Format("2006-01-02"), "count", len(ranges))
	return ranges
}

// Window returns the full lookback window [today-days+1, today].
func (p *Planner) Window(today time.Time) (time.Time, time.Time) {
	today = midnight(today)
	return today.AddDate(0, 0, -(p.cfg.Days - 1)), today
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
