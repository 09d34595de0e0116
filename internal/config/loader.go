package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from .env, a config file, and environment
// variables. Priority (highest to lowest): MORPH_* historical env vars >
// SCRAPERUTILS_* env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	// .env files are a convenience for local runs; missing is fine.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("SCRAPERUTILS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("scraperutils")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyMorphEnv(cfg)
	return cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("scheduler.max_workers", cfg.Scheduler.MaxWorkers)
	v.SetDefault("scheduler.timeout", cfg.Scheduler.Timeout)
	v.SetDefault("scheduler.randomize", cfg.Scheduler.Randomize)

	v.SetDefault("client.timeout", cfg.Client.Timeout)
	v.SetDefault("client.disable_ssl_check", cfg.Client.DisableSSLCheck)
	v.SetDefault("client.max_body_size", cfg.Client.MaxBodySize)
	v.SetDefault("client.max_redirects", cfg.Client.MaxRedirects)

	v.SetDefault("proxy.enabled", cfg.Proxy.Enabled)
	v.SetDefault("proxy.url", cfg.Proxy.URL)

	v.SetDefault("delay.min_delay", cfg.Delay.MinDelay)
	v.SetDefault("delay.max_delay", cfg.Delay.MaxDelay)
	v.SetDefault("delay.max_load", cfg.Delay.MaxLoad)

	v.SetDefault("planner.days", cfg.Planner.Days)
	v.SetDefault("planner.everytime", cfg.Planner.Everytime)
	v.SetDefault("planner.max_period", cfg.Planner.MaxPeriod)

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.database", cfg.Storage.Database)
	v.SetDefault("storage.collection", cfg.Storage.Collection)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}

// applyMorphEnv layers the historical MORPH_* environment variables on
// top of whatever the file and SCRAPERUTILS_* vars produced. The naming
// is kept for compatibility with existing deployments.
func applyMorphEnv(cfg *Config) {
	if _, ok := os.LookupEnv("MORPH_DISABLE_THREADS"); ok {
		cfg.Scheduler.MaxWorkers = 0
	}
	if n, ok := envInt("MORPH_MAX_WORKERS"); ok {
		if n < 0 {
			n = 0
		}
		cfg.Scheduler.MaxWorkers = n
	}
	if n, ok := envInt("MORPH_TIMEOUT"); ok && n > 0 {
		cfg.Scheduler.Timeout = time.Duration(n) * time.Second
	}
	if n, ok := envInt("MORPH_CLIENT_TIMEOUT"); ok && n > 0 {
		cfg.Client.Timeout = time.Duration(n) * time.Second
	}
	if n, ok := envInt("MORPH_MAX_LOAD"); ok && n > 0 {
		cfg.Delay.MaxLoad = float64(n)
	}
	if _, ok := os.LookupEnv("MORPH_DISABLE_SSL_CHECK"); ok {
		cfg.Client.DisableSSLCheck = true
	}
	if _, ok := os.LookupEnv("MORPH_USE_PROXY"); ok {
		cfg.Proxy.Enabled = true
	}
	if s, ok := os.LookupEnv("MORPH_AUSTRALIAN_PROXY"); ok {
		cfg.Proxy.URL = s
	}
	if s, ok := os.LookupEnv("MORPH_AUTHORITIES"); ok {
		cfg.Scheduler.Authorities = splitList(s)
	}
	if s, ok := os.LookupEnv("MORPH_EXPECT_BAD"); ok {
		cfg.Scheduler.ExpectBad = splitList(s)
	}
	if s, ok := os.LookupEnv("MORPH_USER_AGENT"); ok {
		cfg.Client.UserAgent = s
	}
	if _, ok := os.LookupEnv("MORPH_NOT_RANDOM"); ok {
		cfg.Scheduler.Randomize = false
	}
	if s, ok := os.LookupEnv("DEBUG"); ok && s != "" && s != "0" {
		cfg.Logging.Level = "debug"
	}
}

func envInt(key string) (int, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
