package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/peakscan/internal/series"
)

func newStoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Load CSV series into the database",
		Long: `Validate each CSV file and replace the stored series of the same name.
The name defaults to the file name without its extension.`,
		Example: `  peakscan store --input articles.csv
  PG_ENABLED=true PG_DSN=postgres://localhost/peakscan peakscan store --input views.csv --name articles`,
		RunE: runStore,
	}

	cmd.Flags().StringSlice("input", nil, "CSV file to store (repeatable)")
	cmd.Flags().String("name", "", "Series name; only valid with a single --input")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runStore(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	inputs, _ := cmd.Flags().GetStringSlice("input")
	name, _ := cmd.Flags().GetString("name")
	if name != "" && len(inputs) != 1 {
		return fmt.Errorf("%w: --name requires exactly one --input", series.ErrInvalidArgument)
	}

	manager, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer manager.Close()

	repo := manager.Repository().Series
	for _, path := range inputs {
		s, err := series.LoadCSV(path)
		if err != nil {
			return err
		}

		target := name
		if target == "" {
			target = seriesName(path)
		}
		if err := repo.Upsert(cmd.Context(), target, s); err != nil {
			return fmt.Errorf("series %s: %w", target, err)
		}

		log.Info().
			Str("series", target).
			Int("days", s.Len()).
			Int("entities", s.NumEntities()).
			Str("first", s.First().String()).
			Str("last", s.Last().String()).
			Msg("Series stored")
	}
	return nil
}
