package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/WangXiZhu/daily-stock-analysis/internal/config"
	"github.com/WangXiZhu/daily-stock-analysis/internal/database"
	"github.com/WangXiZhu/daily-stock-analysis/internal/logging"
	"github.com/WangXiZhu/daily-stock-analysis/internal/metrics"
	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
	"github.com/WangXiZhu/daily-stock-analysis/internal/pipeline"
	"github.com/WangXiZhu/daily-stock-analysis/internal/scheduler"
	"github.com/WangXiZhu/daily-stock-analysis/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     zerolog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "stockanalyzer",
	Short:   "Daily AI stock watchlist analysis",
	Long:    "stockanalyzer fetches market data for a watchlist, scores each symbol with an LLM and pushes a dashboard to your notification channels.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			logger = logging.NewLogger(logging.LogConfig{Level: "info", Console: true})
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logCfg := logging.DefaultLogConfig(cfg.GetDataDir())
		logCfg.Level = cfg.Logging.Level
		logCfg.File = cfg.Logging.File
		if verbose {
			logCfg.Level = "debug"
		}
		logger = logging.NewLogger(logCfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("stockanalyzer", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/stockanalyzer/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set your watchlist, LLM provider and notification channels.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Today: %s\n", database.GetToday())
		fmt.Printf("Watchlist: %s\n\n", strings.Join(cfg.Watchlist.List(), ", "))
		fmt.Println("Market data:")
		fmt.Printf("  Daily records: %d\n", stats.DailyRecords)
		fmt.Printf("  Symbols: %d\n", stats.Symbols)
		fmt.Printf("  Latest date: %s\n", stats.LatestDataDate)
		fmt.Println("\nAnalysis:")
		fmt.Printf("  Verdicts stored: %d\n", stats.Analyses)
		fmt.Printf("  Intel items: %d\n", stats.NewsItems)
		fmt.Printf("  Runs: %d\n", stats.Runs)

		last, err := db.GetLastRun()
		if err != nil {
			return fmt.Errorf("getting last run: %w", err)
		}
		if last != nil {
			fmt.Printf("\nLast run: %s (%d/%d succeeded", last.RunDate, last.Succeeded, last.Requested)
			if last.DryRun {
				fmt.Print(", dry run")
			}
			fmt.Println(")")
		}
		return nil
	},
}

// --- run command ---

var (
	runSymbols  []string
	dryRun      bool
	noNotify    bool
	runQueryID  string
	runReplyURL string
	runSource   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the analysis once: fetch -> enrich -> score -> notify",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := pipeline.NewFromConfig(cfg, db, metrics.New(prometheus.NewRegistry()), logger)
		if err != nil {
			return err
		}

		if runQueryID != "" || runReplyURL != "" || runSource != "" {
			pipe = pipe.WithRequester(&models.Requester{
				QueryID:  runQueryID,
				ReplyURL: runReplyURL,
				Query:    strings.Join(runSymbols, ","),
			}, runSource)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res := pipe.Run(ctx, runSymbols, dryRun, !noNotify)

		fmt.Println("\nRun complete:")
		fmt.Printf("  Requested: %d\n", res.Requested)
		fmt.Printf("  Succeeded: %d\n", res.Succeeded)
		fmt.Printf("  Failed: %d\n", res.Failed)
		fmt.Printf("  Elapsed: %s\n", res.Elapsed.Round(time.Millisecond))
		if res.ReportPath != "" {
			fmt.Printf("  Report: %s\n", res.ReportPath)
		}
		if res.Requested == 0 {
			return fmt.Errorf("no symbols to analyze")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringSliceVarP(&runSymbols, "symbols", "s", nil, "Symbols to analyze instead of the watchlist")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only fetch market data, skip scoring and notifications")
	runCmd.Flags().BoolVar(&noNotify, "no-notify", false, "Skip notifications")
	runCmd.Flags().StringVar(&runQueryID, "query-id", "", "Query id stored with the fetched news intel")
	runCmd.Flags().StringVar(&runReplyURL, "reply-url", "", "Also post the dashboard to this webhook")
	runCmd.Flags().StringVar(&runSource, "source", "", "Origin recorded for the run (bot, web, system)")
}

// --- schedule command ---

var scheduleServe bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the analysis daily at schedule.time",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := pipeline.NewFromConfig(cfg, db, metrics.New(prometheus.DefaultRegisterer), logger)
		if err != nil {
			return err
		}
		loc, err := cfg.Location()
		if err != nil {
			return fmt.Errorf("loading timezone: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched := scheduler.New(cfg.Schedule, loc, pipe, logger)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()

		if scheduleServe {
			go func() {
				if err := server.Serve(db, cfg.ReportDir(), prometheus.DefaultGatherer, cfg.Server.Port, logger, server.WithAnalyzer(pipe)); err != nil {
					logger.Error().Err(err).Msg("Server stopped")
				}
			}()
		}

		fmt.Printf("Next run: %s\n", sched.NextRun().Format("2006-01-02 15:04 MST"))
		fmt.Println("Press Ctrl+C to stop")
		<-ctx.Done()
		return nil
	},
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleServe, "serve", false, "Also start the web server")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := pipeline.NewFromConfig(cfg, db, metrics.New(prometheus.DefaultRegisterer), logger)
		if err != nil {
			return err
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, cfg.ReportDir(), prometheus.DefaultGatherer, port, logger, server.WithAnalyzer(pipe))
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DBPath(), database.WithLogger(logger))
}
