package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema creates the tables used by the series and run repositories.
const Schema = `
CREATE TABLE IF NOT EXISTS series_catalog (
	name       TEXT PRIMARY KEY,
	entities   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS daily_views (
	series_name  TEXT NOT NULL REFERENCES series_catalog(name) ON DELETE CASCADE,
	day          DATE NOT NULL,
	total_views  DOUBLE PRECISION NOT NULL CHECK (total_views >= 0),
	entity_views JSONB NOT NULL,
	PRIMARY KEY (series_name, day)
);

CREATE TABLE IF NOT EXISTS analysis_runs (
	id               UUID PRIMARY KEY,
	series_name      TEXT NOT NULL REFERENCES series_catalog(name) ON DELETE CASCADE,
	fingerprint      TEXT NOT NULL,
	prominence_ratio DOUBLE PRECISION NOT NULL,
	min_distance     INTEGER NOT NULL,
	top_k            INTEGER NOT NULL,
	peaks            JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS analysis_runs_series_created_idx
	ON analysis_runs (series_name, created_at DESC);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
