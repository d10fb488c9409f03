package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/peakscan/internal/analysis"
	"github.com/sawpanic/peakscan/internal/metrics"
	"github.com/sawpanic/peakscan/internal/persistence"
	"github.com/sawpanic/peakscan/internal/series"
	"github.com/sawpanic/peakscan/internal/series/seriestest"
)

type stubRuns struct {
	latest *persistence.AnalysisRun
}

func (s *stubRuns) Insert(context.Context, *persistence.AnalysisRun) error { return nil }

func (s *stubRuns) Latest(_ context.Context, name string) (*persistence.AnalysisRun, error) {
	if s.latest != nil && s.latest.SeriesName == name {
		return s.latest, nil
	}
	return nil, nil
}

type stubHealth struct{ healthy bool }

func (s stubHealth) Health(context.Context) persistence.HealthCheck {
	return persistence.HealthCheck{Healthy: s.healthy}
}

func (s stubHealth) Ping(context.Context) error { return nil }

func testServer(t *testing.T, mutate func(*Deps, *ServerConfig)) (*Server, *metrics.Registry) {
	t.Helper()

	src := NewMemorySource()
	src.Put("articles", seriestest.Trend(t, 42, 731, 10,
		seriestest.Spike{Day: 74, Size: 5000, Dominant: 1},
		seriestest.Spike{Day: 244, Size: 8000, Dominant: 5},
		seriestest.Spike{Day: 505, Size: 6000, Dominant: 8},
	))
	src.Put("flat", seriestest.Flat(t, 40, 2, 100))

	m := metrics.NewRegistry()
	deps := Deps{Source: src, Analyzer: analysis.New(m)}
	cfg := DefaultServerConfig()
	cfg.RateLimit = 0
	if mutate != nil {
		mutate(&deps, &cfg)
	}
	return newServer(cfg, NewHandlers(deps), m), m
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestServer_Health(t *testing.T) {
	s, _ := testServer(t, nil)

	rec := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 8)

	body := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 2, body.Series)
}

func TestServer_HealthDegraded(t *testing.T) {
	s, _ := testServer(t, func(d *Deps, _ *ServerConfig) {
		d.Health = stubHealth{healthy: false}
	})

	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[HealthResponse](t, rec).Status)
}

func TestServer_ListSeries(t *testing.T) {
	s, _ := testServer(t, nil)

	rec := get(t, s, "/series")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[SeriesListResponse](t, rec)
	require.Len(t, body.Series, 2)
	assert.Equal(t, "articles", body.Series[0].Name)
	assert.Equal(t, 731, body.Series[0].Days)
	assert.Len(t, body.Series[0].Entities, 10)
}

func TestServer_TopK(t *testing.T) {
	s, m := testServer(t, nil)

	rec := get(t, s, "/series/articles/topk")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[TopKResponse](t, rec)
	assert.Equal(t, "articles", body.Series)
	assert.Equal(t, 731, body.Days)
	assert.Equal(t, seriestest.Start, body.From)
	require.Len(t, body.Rows, 3)
	for i, want := range []string{"A1", "A5", "A8"} {
		require.Len(t, body.Rows[i].Slots, 3)
		require.NotNil(t, body.Rows[i].Slots[0])
		assert.Equal(t, want, body.Rows[i].Slots[0].Title)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("/series/{name}/topk", "200")))
}

func TestServer_QueryOverrides(t *testing.T) {
	s, _ := testServer(t, nil)

	rec := get(t, s, "/series/articles/topk?k=5&min_distance=10&prominence=0.25")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[TopKResponse](t, rec)
	assert.Equal(t, 5, body.Options.TopK)
	assert.Equal(t, 10, body.Options.Detection.MinDistance)
	assert.Equal(t, 0.25, body.Options.Detection.ProminenceRatio)
	require.NotEmpty(t, body.Rows)
	assert.Len(t, body.Rows[0].Slots, 5)
}

func TestServer_DateRange(t *testing.T) {
	s, _ := testServer(t, nil)

	rec := get(t, s, "/series/articles/peaks?from=2024-01-01&to=2024-06-30")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[PeaksResponse](t, rec)
	assert.Equal(t, series.NewDate(2024, time.June, 30), body.To)
	require.NotEmpty(t, body.Peaks)
	for _, p := range body.Peaks {
		assert.False(t, body.To.Before(p.Date))
	}
}

func TestServer_Matrix(t *testing.T) {
	s, _ := testServer(t, nil)

	rec := get(t, s, "/series/articles/matrix")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[MatrixResponse](t, rec)
	assert.Len(t, body.Rows, 731)
	assert.Len(t, body.Entities, 10)
	assert.Contains(t, rec.Body.String(), `"percent":null`)
}

func TestServer_CSVFormat(t *testing.T) {
	s, _ := testServer(t, nil)

	rec := get(t, s, "/series/articles/topk?format=csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "Date,Total Views,Top Contributor 1 Title"))
}

func TestServer_Annotations(t *testing.T) {
	s, _ := testServer(t, nil)

	rec := get(t, s, "/series/articles/annotations")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[AnnotationsResponse](t, rec).Annotations, 3)
}

func TestServer_Analysis(t *testing.T) {
	s, _ := testServer(t, nil)

	rec := get(t, s, "/series/flat/analysis")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[AnalysisResponse](t, rec)
	require.NotNil(t, body.Result)
	assert.Empty(t, body.Result.Peaks)
	assert.Len(t, body.Result.Matrix, 40)
}

func TestServer_Errors(t *testing.T) {
	s, _ := testServer(t, nil)

	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"unknown_series", "/series/missing/topk", http.StatusNotFound, "series_not_found"},
		{"bad_prominence", "/series/articles/topk?prominence=abc", http.StatusBadRequest, "invalid_argument"},
		{"prominence_out_of_range", "/series/articles/topk?prominence=1.5", http.StatusBadRequest, "invalid_argument"},
		{"negative_k", "/series/articles/topk?k=-1", http.StatusBadRequest, "invalid_argument"},
		{"zero_distance", "/series/articles/peaks?min_distance=0", http.StatusBadRequest, "invalid_argument"},
		{"bad_date", "/series/articles/peaks?from=01/02/2024", http.StatusBadRequest, "invalid_argument"},
		{"inverted_range", "/series/articles/peaks?from=2024-02-01&to=2024-01-01", http.StatusBadRequest, "invalid_argument"},
		{"empty_window", "/series/articles/peaks?from=2030-01-01", http.StatusBadRequest, "invalid_argument"},
		{"bad_format", "/series/articles/topk?format=xml", http.StatusBadRequest, "invalid_argument"},
		{"no_runs", "/series/articles/runs/latest", http.StatusNotImplemented, "persistence_disabled"},
		{"unknown_endpoint", "/nope", http.StatusNotFound, "endpoint_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, s, tt.target)
			assert.Equal(t, tt.status, rec.Code)
			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEqual(t, "unknown", body.RequestID)
		})
	}
}

func TestServer_LatestRun(t *testing.T) {
	run := &persistence.AnalysisRun{SeriesName: "articles", MinDistance: 30, TopK: 3}
	s, _ := testServer(t, func(d *Deps, _ *ServerConfig) {
		d.Runs = &stubRuns{latest: run}
	})

	rec := get(t, s, "/series/articles/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "articles", decode[persistence.AnalysisRun](t, rec).SeriesName)

	rec = get(t, s, "/series/flat/runs/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "run_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestServer_Metrics(t *testing.T) {
	s, _ := testServer(t, nil)
	get(t, s, "/series/articles/peaks")

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "peakscan_analyses_total")
}

func TestServer_RateLimit(t *testing.T) {
	s, _ := testServer(t, func(_ *Deps, cfg *ServerConfig) {
		cfg.RateLimit = 0.001
		cfg.Burst = 1
	})

	assert.Equal(t, http.StatusOK, get(t, s, "/health").Code)

	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decode[ErrorResponse](t, rec).Code)
}

func TestServer_CORS(t *testing.T) {
	s, _ := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMemorySource_Load(t *testing.T) {
	src := NewMemorySource()
	src.Put("flat", seriestest.Flat(t, 10, 1, 5))

	s, err := src.Load(context.Background(), "flat", persistence.DateRange{From: seriestest.Start.AddDays(3)})
	require.NoError(t, err)
	assert.Equal(t, 7, s.Len())
	assert.Equal(t, seriestest.Start.AddDays(3), s.First())

	_, err = src.Load(context.Background(), "nope", persistence.DateRange{})
	assert.ErrorIs(t, err, persistence.ErrSeriesNotFound)
}
