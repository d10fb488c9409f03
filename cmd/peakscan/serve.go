package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/peakscan/internal/analysis"
	"github.com/sawpanic/peakscan/internal/cache"
	"github.com/sawpanic/peakscan/internal/infrastructure/db"
	httpapi "github.com/sawpanic/peakscan/internal/interfaces/http"
	"github.com/sawpanic/peakscan/internal/metrics"
	"github.com/sawpanic/peakscan/internal/series"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve analyses over HTTP",
		Long: `Start the read-only HTTP API with /health, /metrics and per-series
analysis endpoints. Series come from the database when it is enabled,
otherwise from the CSV files given with --input.`,
		Example: `  peakscan serve --input articles.csv
  peakscan serve --config config/peakscan.yaml --port 9090`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("input", nil, "CSV file to serve when the database is disabled (repeatable)")
	cmd.Flags().String("host", "", "Listen host (overrides config)")
	cmd.Flags().Int("port", 0, "Listen port (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	m := metrics.NewRegistry()
	analyzer := analysis.New(m)
	if cfg.Cache.Enabled {
		analyzer.WithCache(cache.New(cfg.Cache), cfg.Cache.TTL)
	}

	deps := httpapi.Deps{
		Analyzer: analyzer,
		Defaults: analysis.Options{Detection: cfg.Analysis.Detection(), TopK: cfg.Analysis.TopK},
	}

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return err
	}
	defer manager.Close()
	deps.Health = manager.Health()

	inputs, _ := cmd.Flags().GetStringSlice("input")
	if manager.IsEnabled() {
		repo := manager.Repository()
		deps.Source = httpapi.RepoSource{Repo: repo.Series}
		deps.Runs = repo.Runs
		if len(inputs) > 0 {
			log.Warn().Msg("Database enabled; --input files are ignored")
		}
	} else {
		src, err := memorySource(inputs)
		if err != nil {
			return err
		}
		deps.Source = src
	}

	server, err := httpapi.NewServer(cfg.Server, httpapi.NewHandlers(deps), m)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func memorySource(inputs []string) (*httpapi.MemorySource, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: --input is required when the database is disabled", series.ErrInvalidArgument)
	}
	src := httpapi.NewMemorySource()
	for _, path := range inputs {
		s, err := series.LoadCSV(path)
		if err != nil {
			return nil, err
		}
		src.Put(seriesName(path), s)
		log.Info().Str("series", seriesName(path)).Int("days", s.Len()).Msg("Series loaded")
	}
	return src, nil
}
