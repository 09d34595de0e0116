// Package scraperutils provides a public SDK for embedding the
// cooperative scraping scheduler as a library.
//
// Example usage:
//
//	runner, err := scraperutils.NewRunner(
//	    scraperutils.WithMaxWorkers(10),
//	    scraperutils.WithTimeout(30*time.Minute),
//	)
//
//	runner.Register("ballarat", func(op *scraperutils.Operation) error {
//	    page, err := runner.Get(op, "https://example.com/applications")
//	    if err != nil {
//	        return err
//	    }
//	    // parse, save records, issue more requests...
//	    return nil
//	})
//
//	failures := runner.Run()
package scraperutils

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/oaf-tools/scraperutils/internal/client"
	"github.com/oaf-tools/scraperutils/internal/config"
	"github.com/oaf-tools/scraperutils/internal/dateplan"
	"github.com/oaf-tools/scraperutils/internal/sched"
	"github.com/oaf-tools/scraperutils/internal/storage"
	"github.com/oaf-tools/scraperutils/internal/types"
)

// Operation re-exports the worker handle passed to user blocks.
type Operation = sched.Operation

// Handler re-exports the user block signature.
type Handler = sched.Handler

// Option configures a Runner.
type Option func(*config.Config)

// WithMaxWorkers sets the thread pool size (0 disables parallelism).
func WithMaxWorkers(n int) Option {
	return func(c *config.Config) { c.Scheduler.MaxWorkers = n }
}

// WithTimeout sets the overall run timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config.Config) { c.Scheduler.Timeout = d }
}

// WithMaxLoad sets the maximum percent of wall time a remote server
// should spend serving us.
func WithMaxLoad(percent float64) Option {
	return func(c *config.Config) { c.Delay.MaxLoad = percent }
}

// WithUserAgent overrides the default identity; a TODAY token is
// replaced with the run date.
func WithUserAgent(ua string) Option {
	return func(c *config.Config) { c.Client.UserAgent = ua }
}

// WithAuthorities restricts the run to the listed authorities.
func WithAuthorities(names ...string) Option {
	return func(c *config.Config) { c.Scheduler.Authorities = names }
}

// WithoutRandomOrder disables randomised authority ordering.
func WithoutRandomOrder() Option {
	return func(c *config.Config) { c.Scheduler.Randomize = false }
}

// WithVerbose enables debug-level logging.
func WithVerbose() Option {
	return func(c *config.Config) { c.Logging.Level = "debug" }
}

// Runner is the high-level API wiring scheduler, client, planner and
// storage together.
type Runner struct {
	cfg     *config.Config
	logger  *slog.Logger
	sched   *sched.Scheduler
	agent   *client.Agent
	planner *dateplan.Planner
	store   storage.Storage
}

// NewRunner creates a Runner from environment configuration plus the
// given options. Configuration problems (bad proxy URL, bad user agent)
// are fatal here, before any scraping begins.
func NewRunner(opts ...Option) (*Runner, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	agent, err := client.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:    cfg,
		logger: logger,
		sched:  sched.New(cfg, logger),
		agent:  agent,
		planner: dateplan.New(dateplan.Config{
			Days:      cfg.Planner.Days,
			Everytime: cfg.Planner.Everytime,
			MaxPeriod: cfg.Planner.MaxPeriod,
		}, logger),
		store: storage.NewMemoryStorage(),
	}, nil
}

// SetStorage replaces the record store backend (memory by default).
func (r *Runner) SetStorage(s storage.Storage) { r.store = s }

// Register adds one authority's block to the run.
func (r *Runner) Register(authority string, fn Handler) error {
	return r.sched.RegisterOperation(types.Authority(authority), fn)
}

// Run drives all registered operations to completion and returns the
// per-authority failures.
func (r *Runner) Run() map[types.Authority]error {
	failures := r.sched.RunOperations()
	r.logger.Info("run complete",
		"failures", len(failures),
		"stats", r.sched.Stats().Snapshot(),
	)
	if err := r.store.Close(); err != nil {
		r.logger.Error("storage close error", "error", err)
	}
	return failures
}

// Reset reinitialises scheduler state between retries.
func (r *Runner) Reset() { r.sched.Reset() }

// Get fetches a URL through the cooperative scheduler, observing the
// per-domain adaptive delay.
func (r *Runner) Get(op *Operation, url string) (*client.Page, error) {
	result, err := op.ExecuteRequest(r.agent, "get", url)
	if err != nil {
		return nil, err
	}
	return result.(*client.Page), nil
}

// Save persists records to the runner's store; each record carries its
// own authority.
func (r *Runner) Save(records ...*storage.Record) error {
	return r.store.Save(records)
}

// SearchRanges returns today's date ranges per the planner.
func (r *Runner) SearchRanges() []dateplan.Range {
	return r.planner.Ranges(time.Now())
}

// Scheduler exposes the underlying scheduler for advanced use.
func (r *Runner) Scheduler() *sched.Scheduler { return r.sched }

// Client exposes the shared HTTP agent.
func (r *Runner) Client() types.Client { return r.agent }
