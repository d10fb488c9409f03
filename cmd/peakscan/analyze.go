package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sawpanic/peakscan/internal/analysis"
	"github.com/sawpanic/peakscan/internal/cache"
	"github.com/sawpanic/peakscan/internal/config"
	"github.com/sawpanic/peakscan/internal/infrastructure/db"
	fileio "github.com/sawpanic/peakscan/internal/io"
	"github.com/sawpanic/peakscan/internal/persistence"
	"github.com/sawpanic/peakscan/internal/report/render"
	"github.com/sawpanic/peakscan/internal/series"
)

const (
	reportTopK        = "topk"
	reportMatrix      = "matrix"
	reportAnnotations = "annotations"
	reportAll         = "all"
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Detect peaks and report contributions",
		Long: `Detect peaks in one or more series and write the peak summary (top-K
contributors per peak), the full contribution matrix and chart annotations.

Series come from CSV files (--input, repeatable) or from the database
(--series, repeatable) when persistence is enabled.`,
		Example: `  peakscan analyze --input views.csv
  peakscan analyze --input views.csv --report matrix --format csv --out-dir out/
  peakscan analyze --series articles --top-k 5 --save`,
		RunE: runAnalyze,
	}

	cmd.Flags().StringSlice("input", nil, "CSV file with Date, Total Views and one column per entity")
	cmd.Flags().StringSlice("series", nil, "Stored series name to load from the database")
	cmd.Flags().String("from", "", "First day to analyze (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "Last day to analyze (YYYY-MM-DD)")
	addOptionFlags(cmd.Flags())
	cmd.Flags().String("report", reportAll, "Report to write (topk|matrix|annotations|all)")
	cmd.Flags().String("format", "", "Output format (csv|json|md|table); table on a terminal, csv otherwise")
	cmd.Flags().String("out-dir", "", "Write one file per series and report instead of stdout")
	cmd.Flags().Bool("save", false, "Store the analysis run in the database")

	return cmd
}

// addOptionFlags registers the detection and ranking overrides.
func addOptionFlags(fs *pflag.FlagSet) {
	fs.Float64("prominence", 0, "Minimum prominence as a fraction of the series maximum, (0, 1]")
	fs.Int("min-distance", 0, "Minimum days between peaks")
	fs.Int("top-k", 0, "Contributors per peak in the summary")
}

// analysisOptions starts from the configuration and applies only the flags
// the user actually set.
func analysisOptions(fs *pflag.FlagSet, cfg *config.Config) (analysis.Options, error) {
	opts := analysis.Options{Detection: cfg.Analysis.Detection(), TopK: cfg.Analysis.TopK}

	if fs.Changed("prominence") {
		v, err := fs.GetFloat64("prominence")
		if err != nil {
			return opts, err
		}
		opts.Detection.ProminenceRatio = v
	}
	if fs.Changed("min-distance") {
		v, err := fs.GetInt("min-distance")
		if err != nil {
			return opts, err
		}
		opts.Detection.MinDistance = v
	}
	if fs.Changed("top-k") {
		v, err := fs.GetInt("top-k")
		if err != nil {
			return opts, err
		}
		opts.TopK = v
	}

	return opts, opts.Validate()
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fs := cmd.Flags()
	opts, err := analysisOptions(fs, cfg)
	if err != nil {
		return err
	}
	reports, err := parseReports(mustString(fs, "report"))
	if err != nil {
		return err
	}
	format, err := outputFormat(mustString(fs, "format"))
	if err != nil {
		return err
	}
	dr, err := dateRange(mustString(fs, "from"), mustString(fs, "to"))
	if err != nil {
		return err
	}

	inputs, _ := fs.GetStringSlice("input")
	names, _ := fs.GetStringSlice("series")
	save, _ := fs.GetBool("save")
	if len(inputs) == 0 && len(names) == 0 {
		return fmt.Errorf("%w: at least one --input or --series is required", series.ErrInvalidArgument)
	}

	var manager *db.Manager
	if len(names) > 0 || save {
		if manager, err = openDatabase(cfg); err != nil {
			return err
		}
		defer manager.Close()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	batch, err := loadBatch(ctx, inputs, names, dr, manager)
	if err != nil {
		return err
	}

	analyzer := analysis.New(nil)
	if cfg.Cache.Enabled {
		analyzer.WithCache(cache.New(cfg.Cache), cfg.Cache.TTL)
	}

	results, err := analyzer.RunBatch(ctx, batch, opts)
	if err != nil {
		return err
	}

	order := make([]string, 0, len(results))
	for name := range results {
		order = append(order, name)
	}
	sort.Strings(order)

	outDir, _ := fs.GetString("out-dir")
	for _, name := range order {
		res := results[name]
		log.Info().
			Str("series", name).
			Int("days", batch[name].Len()).
			Int("peaks", len(res.Peaks)).
			Msg("Analysis complete")

		if save {
			if err := manager.Repository().Runs.Insert(ctx, res.Record(name)); err != nil {
				return fmt.Errorf("series %s: %w", name, err)
			}
		}

		sections := len(order) * len(reports)
		for _, rep := range reports {
			if err := emit(cmd.OutOrStdout(), outDir, name, rep, format, res, sections > 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadBatch reads every CSV input and stored series into one named batch.
func loadBatch(ctx context.Context, inputs, names []string, dr persistence.DateRange, manager *db.Manager) (map[string]*series.Series, error) {
	batch := make(map[string]*series.Series, len(inputs)+len(names))

	for _, path := range inputs {
		s, err := series.LoadCSV(path)
		if err != nil {
			return nil, err
		}
		s = s.Between(dr.From, dr.To)
		name := seriesName(path)
		if _, dup := batch[name]; dup {
			return nil, fmt.Errorf("%w: duplicate series name %q", series.ErrInvalidArgument, name)
		}
		batch[name] = s
	}

	for _, name := range names {
		if _, dup := batch[name]; dup {
			return nil, fmt.Errorf("%w: duplicate series name %q", series.ErrInvalidArgument, name)
		}
		s, err := manager.Repository().Series.Load(ctx, name, dr)
		if err != nil {
			return nil, err
		}
		batch[name] = s
	}

	return batch, nil
}

// emit writes one report of one series to stdout or to a file in outDir.
func emit(stdout io.Writer, outDir, name, rep string, f render.Format, res *analysis.Result, heading bool) error {
	g, body := reportGrid(rep, res)

	if outDir == "" {
		if heading {
			fmt.Fprintf(stdout, "\n== %s: %s ==\n", name, rep)
		}
		return render.Write(stdout, f, g, body)
	}

	path := filepath.Join(outDir, fmt.Sprintf("%s_%s.%s", name, rep, extension(f)))
	err := fileio.WriteAtomic(path, func(w io.Writer) error {
		return render.Write(w, f, g, body)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("Report written")
	return nil
}

func reportGrid(rep string, res *analysis.Result) (render.Grid, any) {
	switch rep {
	case reportTopK:
		return render.TopKGrid(res.TopK, res.Options.TopK), res.TopK
	case reportMatrix:
		return render.MatrixGrid(res.Entities, res.Matrix), res.Matrix
	default:
		return render.AnnotationGrid(res.Annotations), res.Annotations
	}
}

func parseReports(v string) ([]string, error) {
	switch v {
	case reportAll:
		return []string{reportTopK, reportMatrix, reportAnnotations}, nil
	case reportTopK, reportMatrix, reportAnnotations:
		return []string{v}, nil
	default:
		return nil, fmt.Errorf("%w: unknown report %q (topk|matrix|annotations|all)", series.ErrInvalidArgument, v)
	}
}

func outputFormat(v string) (render.Format, error) {
	if v != "" {
		return render.ParseFormat(v)
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return render.FormatTable, nil
	}
	return render.FormatCSV, nil
}

func dateRange(from, to string) (persistence.DateRange, error) {
	var dr persistence.DateRange
	var err error
	if from != "" {
		if dr.From, err = series.ParseDate(from); err != nil {
			return dr, fmt.Errorf("%w: --from %q", series.ErrInvalidArgument, from)
		}
	}
	if to != "" {
		if dr.To, err = series.ParseDate(to); err != nil {
			return dr, fmt.Errorf("%w: --to %q", series.ErrInvalidArgument, to)
		}
	}
	return dr, nil
}

func extension(f render.Format) string {
	if f == render.FormatTable {
		return "txt"
	}
	return string(f)
}

// seriesName is the file name of path without its extension.
func seriesName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func mustString(fs *pflag.FlagSet, name string) string {
	v, _ := fs.GetString(name)
	return v
}

func openDatabase(cfg *config.Config) (*db.Manager, error) {
	if !cfg.Database.Enabled {
		return nil, fmt.Errorf("%w: database is disabled; set database.enabled or PG_ENABLED", series.ErrInvalidArgument)
	}
	return db.NewManager(cfg.Database)
}
