package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/peakscan/internal/analysis"
	"github.com/sawpanic/peakscan/internal/contrib"
	"github.com/sawpanic/peakscan/internal/persistence"
	"github.com/sawpanic/peakscan/internal/report/render"
	"github.com/sawpanic/peakscan/internal/series"
)

// Deps are the collaborators the handlers read from. Runs and Health may be nil.
type Deps struct {
	Source   SeriesSource
	Analyzer *analysis.Analyzer
	Runs     persistence.RunRepo
	Health   persistence.RepositoryHealth
	Defaults analysis.Options
}

// Handlers manages all HTTP endpoint handlers
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Deps) *Handlers {
	if deps.Analyzer == nil {
		deps.Analyzer = analysis.New(nil)
	}
	if deps.Defaults == (analysis.Options{}) {
		deps.Defaults = analysis.DefaultOptions()
	}
	return &Handlers{deps: deps}
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Timestamp: time.Now().UTC()}

	if h.deps.Health != nil {
		resp.Database = h.deps.Health.Health(r.Context())
		if !resp.Database.Healthy {
			resp.Status = "degraded"
		}
	}

	list, err := h.deps.Source.List(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Health check could not list series")
		resp.Status = "degraded"
	}
	resp.Series = len(list)

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

// ListSeries handles GET /series
func (h *Handlers) ListSeries(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Source.List(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if list == nil {
		list = []persistence.SeriesInfo{}
	}
	h.writeJSON(w, http.StatusOK, SeriesListResponse{Series: list})
}

// Analysis handles GET /series/{name}/analysis
func (h *Handlers) Analysis(w http.ResponseWriter, r *http.Request) {
	win, res, ok := h.analyze(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, AnalysisResponse{Window: win, Result: res})
}

// Peaks handles GET /series/{name}/peaks
func (h *Handlers) Peaks(w http.ResponseWriter, r *http.Request) {
	win, res, ok := h.analyze(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, PeaksResponse{Window: win, Peaks: res.Peaks})
}

// TopK handles GET /series/{name}/topk
func (h *Handlers) TopK(w http.ResponseWriter, r *http.Request) {
	win, res, ok := h.analyze(w, r)
	if !ok {
		return
	}
	body := TopKResponse{Window: win, Rows: res.TopK}
	h.writeReport(w, r, render.TopKGrid(res.TopK, res.Options.TopK), body)
}

// Matrix handles GET /series/{name}/matrix
func (h *Handlers) Matrix(w http.ResponseWriter, r *http.Request) {
	win, res, ok := h.analyze(w, r)
	if !ok {
		return
	}
	body := MatrixResponse{Window: win, Entities: res.Entities, Rows: res.Matrix}
	h.writeReport(w, r, render.MatrixGrid(res.Entities, res.Matrix), body)
}

// Annotations handles GET /series/{name}/annotations
func (h *Handlers) Annotations(w http.ResponseWriter, r *http.Request) {
	win, res, ok := h.analyze(w, r)
	if !ok {
		return
	}
	body := AnnotationsResponse{Window: win, Annotations: res.Annotations}
	h.writeReport(w, r, render.AnnotationGrid(res.Annotations), body)
}

// LatestRun handles GET /series/{name}/runs/latest
func (h *Handlers) LatestRun(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		h.writeError(w, r, http.StatusNotImplemented, "persistence_disabled",
			"Analysis runs are only kept when the database is enabled")
		return
	}

	name := mux.Vars(r)["name"]
	run, err := h.deps.Runs.Latest(r.Context(), name)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if run == nil {
		h.writeError(w, r, http.StatusNotFound, "run_not_found",
			fmt.Sprintf("No stored analysis run for series %q", name))
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}

// analyze loads the named series and runs the pipeline with the request's
// option overrides. On failure the error response is already written.
func (h *Handlers) analyze(w http.ResponseWriter, r *http.Request) (Window, *analysis.Result, bool) {
	name := mux.Vars(r)["name"]

	opts, dr, err := h.parseQuery(r)
	if err != nil {
		h.writeFailure(w, r, err)
		return Window{}, nil, false
	}

	s, err := h.deps.Source.Load(r.Context(), name, dr)
	if err != nil {
		h.writeFailure(w, r, err)
		return Window{}, nil, false
	}

	res, err := h.deps.Analyzer.Analyze(r.Context(), s, opts)
	if err != nil {
		h.writeFailure(w, r, err)
		return Window{}, nil, false
	}

	win := Window{Series: name, Days: s.Len(), Options: opts}
	if s.Len() > 0 {
		win.From, win.To = s.First(), s.Last()
	}
	return win, res, true
}

// parseQuery reads prominence, min_distance, k, from and to.
func (h *Handlers) parseQuery(r *http.Request) (analysis.Options, persistence.DateRange, error) {
	q := r.URL.Query()
	opts := h.deps.Defaults
	var dr persistence.DateRange

	if v := q.Get("prominence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, dr, fmt.Errorf("%w: prominence %q is not a number", series.ErrInvalidArgument, v)
		}
		opts.Detection.ProminenceRatio = f
	}
	if v := q.Get("min_distance"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, dr, fmt.Errorf("%w: min_distance %q is not an integer", series.ErrInvalidArgument, v)
		}
		opts.Detection.MinDistance = n
	}
	if v := q.Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, dr, fmt.Errorf("%w: k %q is not an integer", series.ErrInvalidArgument, v)
		}
		opts.TopK = n
	}
	for key, dst := range map[string]*series.Date{"from": &dr.From, "to": &dr.To} {
		if v := q.Get(key); v != "" {
			d, err := series.ParseDate(v)
			if err != nil {
				return opts, dr, fmt.Errorf("%w: %s %q is not a YYYY-MM-DD date", series.ErrInvalidArgument, key, v)
			}
			*dst = d
		}
	}
	if !dr.From.IsZero() && !dr.To.IsZero() && dr.To.Before(dr.From) {
		return opts, dr, fmt.Errorf("%w: to is before from", series.ErrInvalidArgument)
	}

	return opts, dr, opts.Validate()
}

// writeReport writes body as JSON, or g in the format named by ?format=.
func (h *Handlers) writeReport(w http.ResponseWriter, r *http.Request, g render.Grid, body any) {
	v := r.URL.Query().Get("format")
	if v == "" || v == string(render.FormatJSON) {
		h.writeJSON(w, http.StatusOK, body)
		return
	}

	f, err := render.ParseFormat(v)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if f == render.FormatCSV {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	if err := render.Write(w, f, g, body); err != nil {
		log.Error().Err(err).Str("format", v).Msg("Failed to render report")
	}
}

// writeFailure maps err onto a status code and error response
func (h *Handlers) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, persistence.ErrSeriesNotFound):
		h.writeError(w, r, http.StatusNotFound, "series_not_found", err.Error())
	case errors.Is(err, series.ErrInvalidArgument):
		h.writeError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, contrib.ErrPeakNotFound):
		log.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("Peak set does not match series")
		h.writeError(w, r, http.StatusInternalServerError, "peak_not_found", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.writeError(w, r, http.StatusServiceUnavailable, "timeout", "Request did not complete in time")
	default:
		log.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("Request failed")
		h.writeError(w, r, http.StatusInternalServerError, "internal", "Internal error")
	}
}

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}
