package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/peakscan/internal/persistence"
)

// runRepo implements RunRepo interface for PostgreSQL
type runRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunRepo creates a new PostgreSQL analysis run repository
func NewRunRepo(db *sqlx.DB, timeout time.Duration) persistence.RunRepo {
	return &runRepo{
		db:      db,
		timeout: timeout,
	}
}

// Insert stores run, assigning ID when unset and CreatedAt from the database
func (r *runRepo) Insert(ctx context.Context, run *persistence.AnalysisRun) error {
	if run == nil || run.SeriesName == "" {
		return fmt.Errorf("analysis run requires a series name")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	peaksJSON, err := json.Marshal(run.Peaks)
	if err != nil {
		return fmt.Errorf("failed to marshal peaks: %w", err)
	}

	query := `
		INSERT INTO analysis_runs
		(id, series_name, fingerprint, prominence_ratio, min_distance, top_k, peaks)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err = r.db.QueryRowxContext(ctx, query,
		run.ID, run.SeriesName, run.Fingerprint,
		run.ProminenceRatio, run.MinDistance, run.TopK, peaksJSON).
		Scan(&run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert analysis run: %w", err)
	}

	return nil
}

// Latest returns the most recent run for seriesName, or nil when none exists
func (r *runRepo) Latest(ctx context.Context, seriesName string) (*persistence.AnalysisRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, series_name, fingerprint, prominence_ratio, min_distance, top_k, peaks, created_at
		FROM analysis_runs
		WHERE series_name = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var (
		run       persistence.AnalysisRun
		peaksJSON []byte
	)
	err := r.db.QueryRowxContext(ctx, query, seriesName).Scan(
		&run.ID, &run.SeriesName, &run.Fingerprint,
		&run.ProminenceRatio, &run.MinDistance, &run.TopK,
		&peaksJSON, &run.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest analysis run: %w", err)
	}

	if err := json.Unmarshal(peaksJSON, &run.Peaks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal peaks: %w", err)
	}

	return &run, nil
}
