package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"chitfund/internal/config"
)

var (
	flagConfig string
	flagAt     string
)

var rootCmd = &cobra.Command{
	Use:           "chitfund",
	Short:         "rotating fund settlement engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaultConfig := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultConfig = v
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", defaultConfig, "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagAt, "at", "", "evaluate at this time instead of now (RFC3339 or unix seconds)")

	rootCmd.AddCommand(serveCmd, createCmd, stakeCmd, contributeCmd, claimCmd,
		withdrawCmd, cancelCmd, statusCmd, defaultsCmd, historyCmd)
}

// loadConfig reads the config and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// now returns the evaluation time selected by --at.
func now() (time.Time, error) {
	if flagAt == "" {
		return time.Now(), nil
	}
	return parseTime(flagAt)
}

func parseTime(v string) (time.Time, error) {
	if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(ts, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: want RFC3339 or unix seconds", v)
	}
	return t, nil
}
