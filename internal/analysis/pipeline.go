// Package analysis chains detection, attribution and report building for a
// series, with metrics, logging and an optional result cache around the
// pure core.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/peakscan/internal/cache"
	"github.com/sawpanic/peakscan/internal/contrib"
	"github.com/sawpanic/peakscan/internal/metrics"
	"github.com/sawpanic/peakscan/internal/peaks"
	"github.com/sawpanic/peakscan/internal/report"
	"github.com/sawpanic/peakscan/internal/series"
)

// Options are the per-analysis settings.
type Options struct {
	Detection peaks.Config `json:"detection"`
	TopK      int          `json:"top_k"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{Detection: peaks.DefaultConfig(), TopK: report.DefaultTopK}
}

// Validate checks every bound before any work is done.
func (o Options) Validate() error {
	if err := o.Detection.Validate(); err != nil {
		return err
	}
	if o.TopK < 0 {
		return fmt.Errorf("%w: k must be >= 0, got %d", series.ErrInvalidArgument, o.TopK)
	}
	return nil
}

// Key is a compact, cache-safe encoding of the options.
func (o Options) Key() string {
	return fmt.Sprintf("p%g-d%d-k%d", o.Detection.ProminenceRatio, o.Detection.MinDistance, o.TopK)
}

// Result carries every stage output of one analysis.
type Result struct {
	Fingerprint   uint64              `json:"fingerprint,string"`
	Entities      []series.EntityID   `json:"entities"`
	Options       Options             `json:"options"`
	Peaks         peaks.PeakSet       `json:"peaks"`
	Contributions contrib.Table       `json:"contributions"`
	TopK          []report.TopKRow    `json:"top_k"`
	Matrix        []report.MatrixRow  `json:"matrix"`
	Annotations   []report.Annotation `json:"annotations"`
}

// Analyzer runs the pipeline. The zero value works without metrics or cache.
type Analyzer struct {
	metrics *metrics.Registry
	cache   cache.Cache
	ttl     time.Duration
}

// New returns an Analyzer recording into m (which may be nil).
func New(m *metrics.Registry) *Analyzer {
	return &Analyzer{metrics: m}
}

// WithCache enables result caching for Analyze.
func (a *Analyzer) WithCache(c cache.Cache, ttl time.Duration) *Analyzer {
	a.cache = c
	a.ttl = ttl
	return a
}

// Run executes detect -> contributions -> reports on s.
func (a *Analyzer) Run(s *series.Series, opts Options) (*Result, error) {
	res, err := a.run(s, opts)
	a.metrics.RecordAnalysis(len(resultPeaks(res)), err)
	return res, err
}

func resultPeaks(res *Result) peaks.PeakSet {
	if res == nil {
		return nil
	}
	return res.Peaks
}

func (a *Analyzer) run(s *series.Series, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		a.metrics.RecordError("validate", ErrorType(err))
		return nil, err
	}

	timer := a.metrics.StartStepTimer("detect")
	ps, err := peaks.Detect(s, opts.Detection)
	if err != nil {
		timer.Stop("error")
		a.metrics.RecordError("detect", ErrorType(err))
		return nil, fmt.Errorf("peak detection failed: %w", err)
	}
	timer.Stop("ok")

	timer = a.metrics.StartStepTimer("contributions")
	table, err := contrib.Compute(s, ps)
	if err != nil {
		timer.Stop("error")
		a.metrics.RecordError("contributions", ErrorType(err))
		return nil, fmt.Errorf("contribution attribution failed: %w", err)
	}
	timer.Stop("ok")

	res := &Result{
		Fingerprint:   s.Fingerprint(),
		Entities:      s.Entities(),
		Options:       opts,
		Peaks:         ps,
		Contributions: table,
	}

	timer = a.metrics.StartStepTimer("reports")
	if res.TopK, err = report.BuildTopK(s, ps, table, opts.TopK); err != nil {
		timer.Stop("error")
		a.metrics.RecordError("topk", ErrorType(err))
		return nil, fmt.Errorf("top-k report failed: %w", err)
	}
	if res.Matrix, err = report.BuildMatrix(s, ps, table); err != nil {
		timer.Stop("error")
		a.metrics.RecordError("matrix", ErrorType(err))
		return nil, fmt.Errorf("matrix report failed: %w", err)
	}
	if res.Annotations, err = report.BuildAnnotations(s, ps, table, report.AnnotationItems); err != nil {
		timer.Stop("error")
		a.metrics.RecordError("annotations", ErrorType(err))
		return nil, fmt.Errorf("annotations failed: %w", err)
	}
	timer.Stop("ok")

	log.Debug().
		Int("days", s.Len()).
		Int("entities", s.NumEntities()).
		Int("peaks", len(ps)).
		Str("options", opts.Key()).
		Msg("Series analyzed")

	return res, nil
}

// Analyze is Run behind the result cache, when one is configured.
func (a *Analyzer) Analyze(ctx context.Context, s *series.Series, opts Options) (*Result, error) {
	if a.cache == nil || s == nil {
		return a.Run(s, opts)
	}

	key := cache.Key("result", s.Fingerprint(), opts.Key())
	if b, ok := a.cache.Get(ctx, key); ok {
		var res Result
		if err := json.Unmarshal(b, &res); err == nil {
			a.metrics.RecordCache(true)
			return &res, nil
		}
		log.Warn().Str("key", key).Msg("Discarding undecodable cached result")
	}
	a.metrics.RecordCache(false)

	res, err := a.Run(s, opts)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(res); err == nil {
		a.cache.Set(ctx, key, b, a.ttl)
	} else {
		log.Warn().Err(err).Msg("Failed to encode result for cache")
	}
	return res, nil
}

// RunBatch analyzes independent series concurrently. The first failure
// cancels the remaining work and is returned with the series name.
func (a *Analyzer) RunBatch(ctx context.Context, batch map[string]*series.Series, opts Options) (map[string]*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	out := make(map[string]*Result, len(batch))
	g, ctx := errgroup.WithContext(ctx)
	for name, s := range batch {
		name, s := name, s
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := a.Analyze(ctx, s, opts)
			if err != nil {
				return fmt.Errorf("series %s: %w", name, err)
			}
			mu.Lock()
			out[name] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ErrorType classifies err for metrics labels and API responses.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, series.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, contrib.ErrPeakNotFound):
		return "peak_not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
