package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/schaermu/datapages/internal/config"
	"github.com/schaermu/datapages/internal/fetch"
	"github.com/schaermu/datapages/internal/git"
	"github.com/schaermu/datapages/internal/publish"
	"github.com/schaermu/datapages/internal/store"
	"github.com/schaermu/datapages/internal/sync"
)

const defaultEnvFile = ".env"

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string

	// Sync flags
	dryRun    bool
	noPublish bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "datapages",
	Short: "Mirror remote JSON datasets into a static hosting branch",
	Long: `datapages fetches a fixed set of remote JSON datasets, keeps the latest copy
of each in a local store, and publishes the store to a deployment branch
(gh-pages by default) whenever any dataset changed.

It is a single-pass job meant to be run on a schedule (cron, CI, systemd timer).`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch all sources and publish the store if anything changed",
	Long: `Sync fetches every configured source, compares it with the copy in the local
store using a key-order independent fingerprint, and rewrites only the files
whose content changed.

If at least one source changed, the whole store is committed to the
deployment branch in a fresh clone and pushed in a single commit.`,
	RunE: runSync,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("datapages %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+config.DefaultFile+" if present, else built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file with GITHUB_REPOSITORY/GITHUB_TOKEN (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "fetch and compare only; write and publish nothing")
	syncCmd.Flags().BoolVar(&noPublish, "no-publish", false, "update the local store but skip publishing")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger().With("run_id", uuid.NewString())

	if err := loadEnvFile(logger); err != nil {
		return err
	}

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve the deployment target before fetching anything so that a
	// missing repository or token fails without side effects.
	var publisher publish.Publisher
	if !dryRun && !noPublish {
		target, err := publish.ResolveTarget(cfg.Publish, os.Getenv)
		if err != nil {
			return err
		}
		gitClient := git.NewShellClient(target.Auth, git.Identity{
			Name:  cfg.Publish.AuthorName,
			Email: cfg.Publish.AuthorEmail,
		})
		publisher = publish.NewGitPublisher(cfg.Publish, target, gitClient, logger)
	}

	fetcher := fetch.NewHTTPClient(fetch.Options{
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: cfg.Fetch.UserAgent,
		MaxBytes:  cfg.Fetch.MaxBytes,
	})

	engine := sync.NewEngine(cfg, fetcher, store.New(cfg.Store.Root), publisher, logger, sync.Options{
		DryRun:    dryRun,
		NoPublish: noPublish,
	})

	logger.Info("starting sync operation")
	result, err := engine.Run(ctx)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	logger.Info("run finished",
		"changed", result.Changed,
		"published", result.Published,
		"changed_sources", result.ChangedSources())
	return nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// loadEnvFile loads envFile into the process environment without overriding
// variables that are already set. The default file may be absent.
func loadEnvFile(logger *slog.Logger) error {
	if envFile == "" {
		return nil
	}

	if err := godotenv.Load(envFile); err != nil {
		if envFile == defaultEnvFile && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	logger.Debug("loaded environment file", "path", envFile)
	return nil
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		if _, err := os.Stat(config.DefaultFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
			logger.Info("no config file found, using built-in defaults")
			cfg := config.NewDefaultConfig()
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		configPath = config.DefaultFile
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"sources", len(cfg.Sources),
		"store", cfg.Store.Root,
		"branch", cfg.Publish.Branch,
		"target_dir", cfg.Publish.TargetDir)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
