package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/iamcos/cutoffdb/internal/config"
	"github.com/iamcos/cutoffdb/internal/store"
)

const version = "v1.0.0"

var (
	flagConfig string
	flagDBPath string
)

var rootCmd = &cobra.Command{
	Use:     "cutoffdb",
	Short:   "History-cutoff intelligence store for tradable markets",
	Version: version,
	Long: `cutoffdb keeps the earliest timestamp at which verified historical price
data exists for each tradable market. Cutoffs are discovered facts: once
stored they are immutable, crash-durable, and safe to read and write
concurrently.

Use 'cutoffdb serve' to expose the store over HTTP to discovery engines
and backtest schedulers, or the subcommands below for direct access.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cmd)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Override database file path")
	rootCmd.PersistentFlags().String("log-level", "", "Override log level (debug|info|warn|error)")

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command) {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	level := "info"
	if cfg, err := loadConfig(); err == nil {
		level = cfg.Logging.Level
	}
	if override, _ := cmd.Flags().GetString("log-level"); override != "" {
		level = override
	}
	if parsed, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(parsed)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return config.Config{}, err
	}
	if flagDBPath != "" {
		cfg.Database.Path = flagDBPath
		cfg.Database.BackupDir = ""
	}
	return cfg, nil
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(store.Config{
		Path:       cfg.Database.Path,
		BackupDir:  cfg.Database.BackupDir,
		MaxBackups: cfg.Database.MaxBackups,
	})
}
