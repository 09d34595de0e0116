package dateplan

import (
	"log/slog"
	"testing"
	"time"
)

var day0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestPlanner(days, everytime, maxPeriod int) *Planner {
	return New(Config{Days: days, Everytime: everytime, MaxPeriod: maxPeriod}, slog.Default())
}

// --- Basic shape ---

func TestEverytimeRangeAlwaysPresent(t *testing.T) {
	p := newTestPlanner(33, 4, 3)

	for i := 0; i < 10; i++ {
		today := day0.AddDate(0, 0, i)
		ranges := p.Ranges(today)
		if len(ranges) == 0 {
			t.Fatal("expected at least one range")
		}
		last := ranges[len(ranges)-1]
		if !last.To.Equal(today) {
			t.Errorf("day %d: newest range ends %s, want %s", i, last.To, today)
		}
		// The trailing everytime days are always covered.
		for a := 0; a < 4; a++ {
			if !covered(ranges, today.AddDate(0, 0, -a)) {
				t.Errorf("day %d: age %d not covered", i, a)
			}
		}
	}
}

func TestUnionWithinWindow(t *testing.T) {
	p := newTestPlanner(33, 4, 3)
	from, to := p.Window(day0)

	for _, r := range p.Ranges(day0) {
		if r.From.Before(from) || r.To.After(to) {
			t.Errorf("range %s outside window [%s, %s]", r, from, to)
		}
		if r.To.Before(r.From) {
			t.Errorf("inverted range %s", r)
		}
		if r.Comment == "" {
			t.Errorf("range %s..%s missing comment", r.From, r.To)
		}
	}
}

func TestSmallWindowCollapses(t *testing.T) {
	// days < everytime returns the whole window as one range.
	p := newTestPlanner(2, 4, 3)
	ranges := p.Ranges(day0)
	if len(ranges) != 1 {
		t.Fatalf("expected single range, got %d", len(ranges))
	}
	if !ranges[0].From.Equal(day0.AddDate(0, 0, -1)) || !ranges[0].To.Equal(day0) {
		t.Errorf("got %s, want whole 2-day window", ranges[0])
	}
	if ranges[0].Days() != 2 {
		t.Errorf("Days() = %d, want 2", ranges[0].Days())
	}
}

func TestRangesAscendingAndDisjoint(t *testing.T) {
	p := newTestPlanner(33, 4, 3)
	ranges := p.Ranges(day0)
	for i := 1; i < len(ranges); i++ {
		// Strictly after the previous range, with at least one day gap
		// (adjacent selections are merged).
		if !ranges[i].From.After(ranges[i-1].To.AddDate(0, 0, 1)) {
			t.Errorf("ranges %d and %d overlap or should have merged: %s then %s",
				i-1, i, ranges[i-1], ranges[i])
		}
	}
}

// --- Coverage property ---

// simulate runs the planner daily for iterations runs and returns, for
// each day checked, the maximum streak of days it went unchecked while
// inside the lookback window.
func simulate(t *testing.T, p *Planner, days, iterations int) (unchecked int, maxGap int) {
	t.Helper()
	lastChecked := make(map[string]time.Time)

	for i := 0; i < iterations; i++ {
		today := day0.AddDate(0, 0, i)
		for _, r := range p.Ranges(today) {
			for d := r.From; !d.After(r.To); d = d.AddDate(0, 0, 1) {
				lastChecked[d.Format("2006-01-02")] = today
			}
		}
		// Track gaps: for every day currently in the window, how long
		// since it was last checked?
		if i < days {
			continue // warm-up
		}
		for a := 0; a < days; a++ {
			d := today.AddDate(0, 0, -a)
			prev, ok := lastChecked[d.Format("2006-01-02")]
			if !ok {
				unchecked++
				continue
			}
			gap := int(today.Sub(prev) / (24 * time.Hour))
			if gap > maxGap {
				maxGap = gap
			}
		}
	}
	return unchecked, maxGap
}

func TestCoverageDefaults(t *testing.T) {
	// days=33, everytime=4, max_period=3: simulating 66 days leaves no
	// day in the trailing window unchecked, and no day waits more than
	// 3 days between checks.
	p := newTestPlanner(33, 4, 3)
	unchecked, maxGap := simulate(t, p, 33, 66)
	if unchecked != 0 {
		t.Errorf("%d day-slots were never checked", unchecked)
	}
	if maxGap > 3 {
		t.Errorf("max gap between checks = %d days, want <= 3", maxGap)
	}
}

func TestCoverageOtherConfigs(t *testing.T) {
	cases := []struct{ days, everytime, maxPeriod int }{
		{10, 2, 2},
		{60, 5, 5},
		{33, 1, 3},
		{90, 4, 8},
	}
	for _, c := range cases {
		p := newTestPlanner(c.days, c.everytime, c.maxPeriod)
		unchecked, maxGap := simulate(t, p, c.days, 2*c.days)
		if unchecked != 0 {
			t.Errorf("days=%d everytime=%d max_period=%d: %d unchecked day-slots",
				c.days, c.everytime, c.maxPeriod, unchecked)
		}
		if maxGap > c.maxPeriod {
			t.Errorf("days=%d everytime=%d max_period=%d: max gap %d > %d",
				c.days, c.everytime, c.maxPeriod, maxGap, c.maxPeriod)
		}
	}
}

func TestLoadReduction(t *testing.T) {
	// The whole point: a run searches far fewer days than the window.
	p := newTestPlanner(33, 4, 3)
	total := 0
	for _, r := range p.Ranges(day0) {
		total += r.Days()
	}
	if total >= 33 {
		t.Errorf("run searches %d of 33 days, expected a reduction", total)
	}
	if total < 4 {
		t.Errorf("run searches only %d days, below the everytime minimum", total)
	}
}

func TestBandLayout(t *testing.T) {
	bands := layoutBands(Config{Days: 33, Everytime: 4, MaxPeriod: 3})
	if len(bands) == 0 {
		t.Fatal("expected bands for a 33-day window")
	}
	next := 4
	for _, b := range bands {
		if b.start != next {
			t.Errorf("band starts at age %d, want %d", b.start, next)
		}
		if b.period > 3 {
			t.Errorf("band period %d exceeds max_period", b.period)
		}
		// Non-final bands end on a multiple of their period.
		if b.end != 32 && b.end%b.period != 0 {
			t.Errorf("band [%d,%d] period %d does not end on a period boundary", b.start, b.end, b.period)
		}
		next = b.end + 1
	}
	if next != 33 {
		t.Errorf("bands cover ages up to %d, want 33", next)
	}
}

func BenchmarkRanges(b *testing.B) {
	p := newTestPlanner(33, 4, 3)
	for i := 0; i < b.N; i++ {
		p.Ranges(day0.AddDate(0, 0, i%33))
	}
}

func covered(ranges []Range, d time.Time) bool {
	for _, r := range ranges {
		if !d.Before(r.From) && !d.After(r.To) {
			return true
		}
	}
	return false
}
