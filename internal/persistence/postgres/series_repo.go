package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/peakscan/internal/persistence"
	"github.com/sawpanic/peakscan/internal/series"
)

// seriesRepo implements SeriesRepo interface for PostgreSQL
type seriesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSeriesRepo creates a new PostgreSQL series repository
func NewSeriesRepo(db *sqlx.DB, timeout time.Duration) persistence.SeriesRepo {
	return &seriesRepo{
		db:      db,
		timeout: timeout,
	}
}

// Upsert replaces the stored days of name with s in one transaction
func (r *seriesRepo) Upsert(ctx context.Context, name string, s *series.Series) error {
	if name == "" {
		return fmt.Errorf("%w: series name is required", series.ErrInvalidArgument)
	}
	if s == nil {
		return fmt.Errorf("%w: series is nil", series.ErrInvalidArgument)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entitiesJSON, err := json.Marshal(s.Entities())
	if err != nil {
		return fmt.Errorf("failed to marshal entities: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO series_catalog (name, entities, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET
			entities = EXCLUDED.entities,
			updated_at = EXCLUDED.updated_at`,
		name, entitiesJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert series catalog: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_views WHERE series_name = $1`, name); err != nil {
		return fmt.Errorf("failed to clear daily views: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO daily_views (series_name, day, total_views, entity_views)
		VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("failed to prepare daily views insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < s.Len(); i++ {
		rec := s.Record(i)
		viewsJSON, err := json.Marshal(rec.Views)
		if err != nil {
			return fmt.Errorf("failed to marshal views for %s: %w", rec.Date, err)
		}
		if _, err := stmt.ExecContext(ctx, name, rec.Date.Time(), rec.Aggregate, viewsJSON); err != nil {
			return fmt.Errorf("failed to insert day %s: %w", rec.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit series %s: %w", name, err)
	}
	return nil
}

// Load reads name back as a validated series
func (r *seriesRepo) Load(ctx context.Context, name string, dr persistence.DateRange) (*series.Series, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var entitiesJSON []byte
	err := r.db.QueryRowxContext(ctx, `SELECT entities FROM series_catalog WHERE name = $1`, name).Scan(&entitiesJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrSeriesNotFound, name)
		}
		return nil, fmt.Errorf("failed to load series catalog: %w", err)
	}

	var entities []series.EntityID
	if err := json.Unmarshal(entitiesJSON, &entities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entities: %w", err)
	}

	query := `
		SELECT day, total_views, entity_views
		FROM daily_views
		WHERE series_name = $1
		  AND ($2::date IS NULL OR day >= $2::date)
		  AND ($3::date IS NULL OR day <= $3::date)
		ORDER BY day ASC`

	rows, err := r.db.QueryxContext(ctx, query, name, bound(dr.From), bound(dr.To))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily views: %w", err)
	}
	defer rows.Close()

	var out []series.Row
	for rows.Next() {
		var (
			day       time.Time
			total     float64
			viewsJSON []byte
		)
		if err := rows.Scan(&day, &total, &viewsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan daily views: %w", err)
		}
		views := make(map[series.EntityID]float64, len(entities))
		if err := json.Unmarshal(viewsJSON, &views); err != nil {
			return nil, fmt.Errorf("failed to unmarshal views for %s: %w", day.Format("2006-01-02"), err)
		}
		out = append(out, series.Row{Date: series.DateOf(day), Aggregate: total, Views: views})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily views: %w", err)
	}

	return series.New(entities, out)
}

// List returns every stored series with its day bounds
func (r *seriesRepo) List(ctx context.Context) ([]persistence.SeriesInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT c.name, c.entities, c.updated_at,
		       COUNT(d.day) AS days, MIN(d.day) AS first_day, MAX(d.day) AS last_day
		FROM series_catalog c
		LEFT JOIN daily_views d ON d.series_name = c.name
		GROUP BY c.name, c.entities, c.updated_at
		ORDER BY c.name`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	defer rows.Close()

	var out []persistence.SeriesInfo
	for rows.Next() {
		var (
			info         persistence.SeriesInfo
			entitiesJSON []byte
			first, last  sql.NullTime
		)
		if err := rows.Scan(&info.Name, &entitiesJSON, &info.UpdatedAt, &info.Days, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan series info: %w", err)
		}
		if err := json.Unmarshal(entitiesJSON, &info.Entities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entities for %s: %w", info.Name, err)
		}
		if first.Valid {
			info.FirstDay = &first.Time
		}
		if last.Valid {
			info.LastDay = &last.Time
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate series: %w", err)
	}
	return out, nil
}

// bound maps an open range end to NULL
func bound(d series.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.Time()
}
