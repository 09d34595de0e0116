package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks the configuration for invalid values. Failures here are
// fatal and reported before any scraping begins.
func Validate(cfg *Config) error {
	if cfg.Scheduler.MaxWorkers < 0 {
		return fmt.Errorf("scheduler.max_workers must be >= 0, got %d", cfg.Scheduler.MaxWorkers)
	}
	if cfg.Scheduler.Timeout <= 0 {
		return fmt.Errorf("scheduler.timeout must be > 0")
	}
	if cfg.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be > 0")
	}
	if cfg.Delay.MinDelay < 0 {
		return fmt.Errorf("delay.min_delay must be >= 0")
	}
	if cfg.Delay.MaxDelay < cfg.Delay.MinDelay {
		return fmt.Errorf("delay.max_delay must be >= delay.min_delay")
	}
	if cfg.Planner.Days < 1 || cfg.Planner.Everytime < 1 || cfg.Planner.MaxPeriod < 1 {
		return fmt.Errorf("planner days/everytime/max_period must all be >= 1")
	}

	if cfg.Proxy.Enabled {
		if _, err := ParseProxyURL(cfg.Proxy.URL); err != nil {
			return err
		}
	}

	if _, err := BuildUserAgent(cfg, time.Now()); err != nil {
		return err
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}

	return nil
}

// ParseProxyURL validates a proxy URL of the form
// http(s)://[user:pass@]host:port.
func ParseProxyURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("proxy enabled but no proxy URL configured")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("proxy URL %q: scheme must be http or https", raw)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("proxy URL %q: missing host", raw)
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("proxy URL %q: missing port", raw)
	}
	if u.Path != "" && u.Path != "/" {
		return nil, fmt.Errorf("proxy URL %q: unexpected path %q", raw, u.Path)
	}
	return u, nil
}

// BuildUserAgent returns the User-Agent for the run. A configured
// override replaces the default; the TODAY token within it is substituted
// with the run date in ISO format.
func BuildUserAgent(cfg *Config, now time.Time) (string, error) {
	today := now.Format("2006-01-02")

	ua := cfg.Client.UserAgent
	if ua == "" {
		ua = fmt.Sprintf("Mozilla/5.0 (compatible; ScraperUtils/%s %s; +%s)", Version, today, ProjectURL)
	} else {
		ua = strings.ReplaceAll(ua, "TODAY", today)
	}

	if strings.TrimSpace(ua) == "" {
		return "", fmt.Errorf("user agent resolves to an empty string")
	}
	if strings.ContainsAny(ua, "\r\n") {
		return "", fmt.Errorf("user agent must not contain newlines")
	}
	return ua, nil
}
