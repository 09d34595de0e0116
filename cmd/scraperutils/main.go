package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oaf-tools/scraperutils/internal/client"
	"github.com/oaf-tools/scraperutils/internal/config"
	"github.com/oaf-tools/scraperutils/internal/dateplan"
	"github.com/oaf-tools/scraperutils/internal/extract"
	"github.com/oaf-tools/scraperutils/internal/sched"
	"github.com/oaf-tools/scraperutils/internal/storage"
	"github.com/oaf-tools/scraperutils/internal/types"
)

var (
	cfgFile    string
	verbose    bool
	maxWorkers int
	timeoutStr string
	userAgent  string
	notRandom  bool
	planDays   int
	planEvery  int
	planPeriod int
	planDate   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scraperutils",
		Short: "Cooperative scheduler for polite multi-site scraping",
		Long: `scraperutils interleaves per-site scraping operations so that while one
site is responding (or being left alone to satisfy its politeness delay),
the others make progress. Per-domain request rate stays bounded; total
throughput does not.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runCmd creates the "run" subcommand.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [url]...",
		Short: "Scrape one or more sites cooperatively",
		Long: `Register one operation per URL (the host becomes the authority) and run
them to completion. Each operation fetches its page, extracts the title
and links, and stores a record.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runScrape,
	}

	cmd.Flags().IntVarP(&maxWorkers, "max-workers", "n", -1, "thread pool size (-1 = use config, 0 = inline)")
	cmd.Flags().StringVar(&timeoutStr, "timeout", "", "overall run timeout (e.g. 30m)")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "custom User-Agent (TODAY token is substituted)")
	cmd.Flags().BoolVar(&notRandom, "not-random", false, "disable randomised authority ordering")

	return cmd
}

// runScrape executes the run command.
func runScrape(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	agent, err := client.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer agent.Close()

	if cfg.Proxy.Enabled {
		proxyURL, err := config.ParseProxyURL(cfg.Proxy.URL)
		if err != nil {
			return err
		}
		if _, err := client.VerifyProxy(proxyURL, "", logger); err != nil {
			return err
		}
	}

	store, err := newStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	defer store.Close()

	scheduler := sched.New(cfg, logger)

	for _, rawURL := range args {
		u, err := url.Parse(rawURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid URL %q", rawURL)
		}
		authority := types.Authority(u.Hostname())
		target := rawURL

		err = scheduler.RegisterOperation(authority, func(op *sched.Operation) error {
			result, err := op.ExecuteRequest(agent, "get", target)
			if err != nil {
				return err
			}
			page := result.(*client.Page)

			rec := storage.NewRecord(op.Authority(), page.FinalURL)
			if titles, _ := extract.CSS(page.Body, "title", "text"); len(titles) > 0 {
				rec.Set("title", titles[0])
			}
			if links, _ := extract.Links(page.Body, page.FinalURL); links != nil {
				rec.Set("links", links)
			}
			return store.Save([]*storage.Record{rec})
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", authority, err)
		}
	}

	start := time.Now()
	failures := scheduler.RunOperations()
	elapsed := time.Since(start)

	stats := scheduler.Stats().Snapshot()
	logger.Info("run complete",
		"elapsed", elapsed,
		"requests", stats["requests_submitted"],
		"failures", len(failures),
	)

	fmt.Printf("\nRun complete in %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("   Requests:       %v submitted, %v failed\n", stats["requests_submitted"], stats["requests_failed"])
	fmt.Printf("   Waiting:        %v on responses, %v on delays\n", stats["wait_response"], stats["wait_delay"])
	fmt.Printf("   Operations:     %v completed, %v failed\n", stats["operations_completed"], stats["operations_failed"])

	if len(failures) > 0 {
		fmt.Println("\nFailed authorities:")
		for a, err := range failures {
			fmt.Printf("   %-30s %v\n", a, err)
		}
		return fmt.Errorf("%d of %d authorities failed", len(failures), len(args))
	}
	return nil
}

// planCmd creates the "plan" subcommand.
func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show which date ranges a run today would search",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			today := time.Now()
			if planDate != "" {
				var err error
				today, err = time.Parse("2006-01-02", planDate)
				if err != nil {
					return fmt.Errorf("invalid --date %q: %w", planDate, err)
				}
			}

			planner := dateplan.New(dateplan.Config{
				Days:      planDays,
				Everytime: planEvery,
				MaxPeriod: planPeriod,
			}, logger)

			total := 0
			for _, r := range planner.Ranges(today) {
				fmt.Printf("%s  to  %s   %-28s %2d day(s)\n",
					r.From.Format("2006-01-02"), r.To.Format("2006-01-02"), r.Comment, r.Days())
				total += r.Days()
			}
			fmt.Printf("\n%d of %d days searched\n", total, planDays)
			return nil
		},
	}

	cmd.Flags().IntVar(&planDays, "days", dateplan.DefaultDays, "lookback window in days")
	cmd.Flags().IntVar(&planEvery, "everytime", dateplan.DefaultEverytime, "most-recent days searched every run")
	cmd.Flags().IntVar(&planPeriod, "max-period", dateplan.DefaultMaxPeriod, "longest allowed gap between checks of any day")
	cmd.Flags().StringVar(&planDate, "date", "", "pretend today is this date (YYYY-MM-DD)")

	return cmd
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("scraperutils %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Scheduler:\n")
			fmt.Printf("  Max Workers:     %d\n", cfg.Scheduler.MaxWorkers)
			fmt.Printf("  Timeout:         %s\n", cfg.Scheduler.Timeout)
			fmt.Printf("  Randomize:       %v\n", cfg.Scheduler.Randomize)
			fmt.Printf("  Authorities:     %d listed\n", len(cfg.Scheduler.Authorities))
			fmt.Printf("\nClient:\n")
			fmt.Printf("  Timeout:         %s\n", cfg.Client.Timeout)
			fmt.Printf("  SSL Check:       %v\n", !cfg.Client.DisableSSLCheck)
			fmt.Printf("\nDelay:\n")
			fmt.Printf("  Min/Max:         %s / %s\n", cfg.Delay.MinDelay, cfg.Delay.MaxDelay)
			fmt.Printf("  Max Load:        %.0f%%\n", cfg.Delay.MaxLoad)
			fmt.Printf("\nPlanner:\n")
			fmt.Printf("  Days:            %d\n", cfg.Planner.Days)
			fmt.Printf("  Everytime:       %d\n", cfg.Planner.Everytime)
			fmt.Printf("  Max Period:      %d\n", cfg.Planner.MaxPeriod)
			fmt.Printf("\nProxy:\n")
			fmt.Printf("  Enabled:         %v\n", cfg.Proxy.Enabled)
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Type:            %s\n", cfg.Storage.Type)
			return nil
		},
	}
}

// setupLogger creates a structured logger.
func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config) {
	if maxWorkers >= 0 {
		cfg.Scheduler.MaxWorkers = maxWorkers
	}
	if timeoutStr != "" {
		if d, err := time.ParseDuration(timeoutStr); err == nil {
			cfg.Scheduler.Timeout = d
		}
	}
	if userAgent != "" {
		cfg.Client.UserAgent = userAgent
	}
	if notRandom {
		cfg.Scheduler.Randomize = false
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
}

// newStorage builds the configured record store backend.
func newStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.Storage.Type {
	case "", "memory":
		return storage.NewMemoryStorage(), nil
	case "mongodb":
		return storage.NewMongoStorage(cfg.Storage.MongoURI, cfg.Storage.Database, cfg.Storage.Collection, logger)
	default:
		return nil, fmt.Errorf("storage.type %q is not supported (valid: memory, mongodb)", cfg.Storage.Type)
	}
}
