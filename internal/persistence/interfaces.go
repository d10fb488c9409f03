package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/peakscan/internal/series"
)

// ErrSeriesNotFound is returned when a named series has no stored rows.
var ErrSeriesNotFound = errors.New("series not found")

// DateRange bounds a series load; zero bounds are open.
type DateRange struct {
	From series.Date `json:"from"`
	To   series.Date `json:"to"`
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d series.Date) bool {
	if !r.From.IsZero() && d.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && r.To.Before(d) {
		return false
	}
	return true
}

// SeriesInfo describes one stored series.
type SeriesInfo struct {
	Name      string            `json:"name" db:"name"`
	Entities  []series.EntityID `json:"entities" db:"-"`
	Days      int               `json:"days" db:"days"`
	FirstDay  *time.Time        `json:"first_day,omitempty" db:"first_day"`
	LastDay   *time.Time        `json:"last_day,omitempty" db:"last_day"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

// AnalysisRun is a stored analysis with its detected peaks.
type AnalysisRun struct {
	ID              uuid.UUID    `json:"id" db:"id"`
	SeriesName      string       `json:"series_name" db:"series_name"`
	Fingerprint     string       `json:"fingerprint" db:"fingerprint"`
	ProminenceRatio float64      `json:"prominence_ratio" db:"prominence_ratio"`
	MinDistance     int          `json:"min_distance" db:"min_distance"`
	TopK            int          `json:"top_k" db:"top_k"`
	Peaks           []PeakRecord `json:"peaks" db:"-"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}

// PeakRecord is one peak of a run with its per-entity shares.
type PeakRecord struct {
	Day        series.Date                 `json:"day"`
	TotalViews float64                     `json:"total_views"`
	Prominence float64                     `json:"prominence"`
	Percent    map[series.EntityID]float64 `json:"percent"`
}

// SeriesRepo stores daily series.
type SeriesRepo interface {
	// Upsert replaces the entity set and inserts or updates every day of s
	Upsert(ctx context.Context, name string, s *series.Series) error

	// Load reads a series back in date order, optionally bounded
	Load(ctx context.Context, name string, r DateRange) (*series.Series, error)

	// List returns every stored series
	List(ctx context.Context) ([]SeriesInfo, error)
}

// RunRepo stores analysis runs.
type RunRepo interface {
	// Insert stores a run; ID and CreatedAt are assigned when zero
	Insert(ctx context.Context, run *AnalysisRun) error

	// Latest returns the most recent run for a series, or nil
	Latest(ctx context.Context, seriesName string) (*AnalysisRun, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Series SeriesRepo
	Runs   RunRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error
}
