package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/policylens/policylens/internal/config"
	"github.com/policylens/policylens/internal/database"
	"github.com/policylens/policylens/internal/pipeline"
	"github.com/policylens/policylens/internal/scheduler"
	"github.com/policylens/policylens/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "policylens",
	Short:   "Government financial policy tracker",
	Long:    "PolicyLens scrapes government financial-policy announcements, extracts structured impact data with an LLM, and serves them over a small API.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// API keys commonly live in a .env next to the binary.
		_ = godotenv.Load()

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
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
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("policylens", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/policylens/",
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
		fmt.Println("Edit it to configure sources, keywords, and the Gemini API key env var.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database status",
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

		fmt.Println("Policies:")
		fmt.Printf("  Total: %d\n", stats.TotalPolicies)
		fmt.Printf("  Analyzed: %d\n", stats.AnalyzedPolicies)
		fmt.Printf("  Pending analysis: %d\n", stats.TotalPolicies-stats.AnalyzedPolicies)
		fmt.Printf("  Collected in last 24h: %d\n", stats.Recent24h)
		return nil
	},
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one scrape-analyze-persist pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe := pipeline.New(cfg, db)
		result := pipe.Run(cmd.Context())

		fmt.Println("\nPass complete:")
		fmt.Printf("  Scraped: %d\n", result.TotalScraped)
		fmt.Printf("  Analyzed: %d\n", result.Analyzed)
		fmt.Printf("  Saved: %d\n", result.Saved)
		fmt.Printf("  Duplicates skipped: %d\n", result.Skipped)
		fmt.Printf("  Errors: %d\n", result.Errors)
		if result.CircuitOpen {
			fmt.Println("\nAnalysis was cut short by the provider. Run 'policylens retry' once quota recovers.")
		}
		return nil
	},
}

var retryLimit int

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run analysis for policies saved without it",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe := pipeline.New(cfg, db)
		result, err := pipe.RetryUnanalyzed(cmd.Context(), retryLimit)
		if err != nil {
			return err
		}

		if result.Total == 0 {
			fmt.Println("All policies are already analyzed.")
			return nil
		}
		fmt.Printf("Analyzed %d of %d pending policies (%d still pending).\n",
			result.Analyzed, result.Total, result.Failed)
		return nil
	},
}

func init() {
	retryCmd.Flags().IntVar(&retryLimit, "limit", 50, "Maximum number of policies to re-analyze")
}

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and periodic scraper",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		pipe := pipeline.New(cfg, db)
		sched := scheduler.New(pipe,
			time.Duration(cfg.Scraper.IntervalSeconds)*time.Second,
			cfg.Scraper.RunOnStartup)

		srv, err := server.New(db, sched, pipe)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go sched.Start(ctx)

		httpServer := &http.Server{
			Addr:    fmt.Sprintf("0.0.0.0:%d", port),
			Handler: srv.Handler(),
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()

		log.Printf("Server listening on http://0.0.0.0:%d", port)
		fmt.Println("Press Ctrl+C to stop")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (overrides config)")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "policylens.db")
	return database.Open(dbPath)
}
