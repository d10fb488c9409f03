package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/peakscan/internal/config"
	"github.com/sawpanic/peakscan/internal/series"
)

const (
	appName = "peakscan"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Find traffic peaks and attribute them to contributing entities",
		Version: version,
		Long: `peakscan reads a daily series of total views with one column per entity,
detects prominent, well-separated peaks in the total and reports how much
each entity contributed on every peak day.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupLogging,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug|info|warn|error)")

	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newStoreCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	lvl, _ := cmd.Flags().GetString("log-level")
	level, err := zerolog.ParseLevel(lvl)
	if err != nil {
		return fmt.Errorf("%w: log level %q", series.ErrInvalidArgument, lvl)
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", path).Msg("Configuration loaded")
	return cfg, nil
}

// exitCode is 2 for bad input and 1 for anything else.
func exitCode(err error) int {
	if errors.Is(err, series.ErrInvalidArgument) {
		return 2
	}
	return 1
}
