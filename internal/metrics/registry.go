package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds the peakscan Prometheus metrics on a private registry.
type Registry struct {
	reg *prometheus.Registry

	// Pipeline stage timings
	StepDuration *prometheus.HistogramVec

	// Analysis outcomes
	Analyses      *prometheus.CounterVec
	PeaksDetected prometheus.Histogram
	Errors        *prometheus.CounterVec

	// Result cache
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// HTTP
	Requests *prometheus.CounterVec
}

// NewRegistry creates and registers all metrics.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "peakscan_step_duration_seconds",
				Help:    "Duration of each analysis step in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"step", "result"},
		),

		Analyses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peakscan_analyses_total",
				Help: "Total number of series analyses by result",
			},
			[]string{"result"},
		),

		PeaksDetected: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "peakscan_peaks_detected",
				Help:    "Number of peaks detected per analysis",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
			},
		),

		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peakscan_errors_total",
				Help: "Total number of analysis errors by step and type",
			},
			[]string{"step", "error_type"},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "peakscan_cache_hits_total",
				Help: "Total number of result cache hits",
			},
		),

		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "peakscan_cache_misses_total",
				Help: "Total number of result cache misses",
			},
		),

		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peakscan_http_requests_total",
				Help: "Total number of HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}

	r.reg.MustRegister(
		r.StepDuration,
		r.Analyses,
		r.PeaksDetected,
		r.Errors,
		r.CacheHits,
		r.CacheMisses,
		r.Requests,
		collectors.NewGoCollector(),
	)

	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// StepTimer tracks execution time for one analysis step.
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a step. A nil registry yields a timer that
// only logs.
func (r *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{metrics: r, step: step, start: time.Now()}
}

// Stop records the step duration under result.
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	if st.metrics != nil {
		st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())
	}

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Analysis step completed")
}

// RecordAnalysis counts a finished analysis.
func (r *Registry) RecordAnalysis(peaks int, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.Analyses.WithLabelValues("error").Inc()
		return
	}
	r.Analyses.WithLabelValues("ok").Inc()
	r.PeaksDetected.Observe(float64(peaks))
}

// RecordError counts a step failure.
func (r *Registry) RecordError(step, errorType string) {
	if r == nil {
		return
	}
	r.Errors.WithLabelValues(step, errorType).Inc()
	log.Warn().
		Str("step", step).
		Str("error_type", errorType).
		Msg("Analysis error recorded")
}

// RecordCache counts a result cache lookup.
func (r *Registry) RecordCache(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.CacheHits.Inc()
	} else {
		r.CacheMisses.Inc()
	}
}

// RecordRequest counts an HTTP request.
func (r *Registry) RecordRequest(route string, code int) {
	if r == nil {
		return
	}
	r.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
