// Package delay computes the per-domain pause between requests so that
// the fraction of wall time a remote server spends responding to us stays
// below a configured ceiling.
package delay

import (
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Defaults for the adaptive delay calculator.
const (
	DefaultMinDelay = 0 * time.Second
	DefaultMaxDelay = 30 * time.Second
	DefaultMaxLoad  = 20.0
)

// Config controls the adaptive delay calculation.
type Config struct {
	// MinDelay is the lower clamp on any returned delay.
	MinDelay time.Duration

	// MaxDelay is the upper clamp on any returned delay.
	MaxDelay time.Duration

	// MaxLoad is the maximum percent of wall time the remote server
	// should spend serving us. Values outside 1..99 are clamped.
	MaxLoad float64
}

// AdaptiveDelay maps observed response latencies to the pause to observe
// before the next request to the same domain. Over time the ratio
// response_time / (response_time + delay) stays at or below MaxLoad/100.
//
// State is per-domain and only touched by the scheduler thread.
type AdaptiveDelay struct {
	cfg    Config
	delays map[string]time.Duration
	logger *slog.Logger
}

// New creates an AdaptiveDelay. Zero-valued config fields take defaults.
func New(cfg Config, logger *slog.Logger) *AdaptiveDelay {
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MinDelay < 0 {
		cfg.MinDelay = DefaultMinDelay
	}
	if cfg.MaxLoad == 0 {
		cfg.MaxLoad = DefaultMaxLoad
	}
	if cfg.MaxLoad < 1 {
		cfg.MaxLoad = 1
	}
	if cfg.MaxLoad > 99 {
		cfg.MaxLoad = 99
	}
	return &AdaptiveDelay{
		cfg:    cfg,
		delays: make(map[string]time.Duration),
		logger: logger.With("component", "adaptive_delay"),
	}
}

// NextDelay records an observed response time for the URL's domain and
// returns the delay to observe before the next request to that domain.
// The result always lies in [MinDelay, MaxDelay].
func (a *AdaptiveDelay) NextDelay(rawURL string, responseTime time.Duration) time.Duration {
	domain := DomainKey(rawURL)

	multiplier := (100 - a.cfg.MaxLoad) / a.cfg.MaxLoad
	target := time.Duration(float64(responseTime) * multiplier)
	target = clamp(target, 0, a.cfg.MaxDelay)

	current, ok := a.delays[domain]
	if !ok {
		current = target
	}

	// 4-tap exponential smoother over successive observations.
	next := clamp((3*current+target)/4, a.cfg.MinDelay, a.cfg.MaxDelay)
	a.delays[domain] = next

	a.logger.Debug("delay updated",
		"domain", domain,
		"response_time", responseTime,
		"delay", next,
	)
	return next
}

// Delay returns the currently stored delay for the URL's domain, or
// MinDelay when the domain has not been seen yet.
func (a *AdaptiveDelay) Delay(rawURL string) time.Duration {
	if d, ok := a.delays[DomainKey(rawURL)]; ok {
		return d
	}
	return a.cfg.MinDelay
}

// Reset discards all per-domain state.
func (a *AdaptiveDelay) Reset() {
	a.delays = make(map[string]time.Duration)
}

// Len returns the number of domains with recorded state.
func (a *AdaptiveDelay) Len() int { return len(a.delays) }

// DomainKey normalises a URL to its lowercase scheme+host, the key under
// which delay state is stored. Unparseable input falls back to the whole
// string lowercased.
func DomainKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
