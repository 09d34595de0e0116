package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// ProjectURL identifies this scraper in its default User-Agent.
var ProjectURL = "https://github.com/oaf-tools/scraperutils"

// Config is the root configuration for a scraping run.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Client    ClientConfig    `mapstructure:"client"    yaml:"client"`
	Proxy     ProxyConfig     `mapstructure:"proxy"     yaml:"proxy"`
	Delay     DelayConfig     `mapstructure:"delay"     yaml:"delay"`
	Planner   PlannerConfig   `mapstructure:"planner"   yaml:"planner"`
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
}

// SchedulerConfig controls the cooperative scheduler and thread pool.
type SchedulerConfig struct {
	MaxWorkers  int           `mapstructure:"max_workers"  yaml:"max_workers"`
	Timeout     time.Duration `mapstructure:"timeout"      yaml:"timeout"`
	Randomize   bool          `mapstructure:"randomize"    yaml:"randomize"`
	Authorities []string      `mapstructure:"authorities"  yaml:"authorities"`
	ExpectBad   []string      `mapstructure:"expect_bad"   yaml:"expect_bad"`
}

// ClientConfig controls the HTTP agent handed to operations.
type ClientConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"           yaml:"timeout"`
	DisableSSLCheck bool          `mapstructure:"disable_ssl_check" yaml:"disable_ssl_check"`
	UserAgent       string        `mapstructure:"user_agent"        yaml:"user_agent"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
}

// ProxyConfig controls routing requests through the Australian proxy.
type ProxyConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url"     yaml:"url"`
}

// DelayConfig controls the per-domain adaptive delay.
type DelayConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay" yaml:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	MaxLoad  float64       `mapstructure:"max_load"  yaml:"max_load"`
}

// PlannerConfig controls date-range planning.
type PlannerConfig struct {
	Days      int `mapstructure:"days"       yaml:"days"`
	Everytime int `mapstructure:"everytime"  yaml:"everytime"`
	MaxPeriod int `mapstructure:"max_period" yaml:"max_period"`
}

// StorageConfig controls the record store backend.
type StorageConfig struct {
	Type       string `mapstructure:"type"       yaml:"type"`
	MongoURI   string `mapstructure:"mongo_uri"  yaml:"mongo_uri"`
	Database   string `mapstructure:"database"   yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxWorkers: 50,
			Timeout:    6 * time.Hour,
			Randomize:  true,
		},
		Client: ClientConfig{
			Timeout:      60 * time.Second,
			MaxBodySize:  10 * 1024 * 1024, // 10MB
			MaxRedirects: 10,
		},
		Delay: DelayConfig{
			MinDelay: 0,
			MaxDelay: 30 * time.Second,
			MaxLoad:  20,
		},
		Planner: PlannerConfig{
			Days:      33,
			Everytime: 4,
			MaxPeriod: 3,
		},
		Storage: StorageConfig{
			Type:       "memory",
			Database:   "scraperutils",
			Collection: "records",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
