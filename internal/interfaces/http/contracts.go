package http

import (
	"time"

	"github.com/sawpanic/peakscan/internal/analysis"
	"github.com/sawpanic/peakscan/internal/peaks"
	"github.com/sawpanic/peakscan/internal/persistence"
	"github.com/sawpanic/peakscan/internal/report"
	"github.com/sawpanic/peakscan/internal/series"
)

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse reports service and storage health
type HealthResponse struct {
	Status    string                  `json:"status"` // healthy, degraded
	Timestamp time.Time               `json:"timestamp"`
	Database  persistence.HealthCheck `json:"database"`
	Series    int                     `json:"series"`
}

// SeriesListResponse lists the analyzable series
type SeriesListResponse struct {
	Series []persistence.SeriesInfo `json:"series"`
}

// Window echoes the analyzed date span and settings
type Window struct {
	Series  string           `json:"series"`
	From    series.Date      `json:"from"`
	To      series.Date      `json:"to"`
	Days    int              `json:"days"`
	Options analysis.Options `json:"options"`
}

// AnalysisResponse is the full result for one series
type AnalysisResponse struct {
	Window
	Result *analysis.Result `json:"result"`
}

// PeaksResponse lists the detected peaks
type PeaksResponse struct {
	Window
	Peaks peaks.PeakSet `json:"peaks"`
}

// TopKResponse is the peak summary table
type TopKResponse struct {
	Window
	Rows []report.TopKRow `json:"rows"`
}

// MatrixResponse is the full per-day contribution matrix
type MatrixResponse struct {
	Window
	Entities []series.EntityID  `json:"entities"`
	Rows     []report.MatrixRow `json:"rows"`
}

// AnnotationsResponse carries chart annotations for each peak
type AnnotationsResponse struct {
	Window
	Annotations []report.Annotation `json:"annotations"`
}
