package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/peakscan/internal/persistence"
	"github.com/sawpanic/peakscan/internal/series"
	"github.com/sawpanic/peakscan/internal/series/seriestest"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestSeriesRepo_Upsert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSeriesRepo(db, 5*time.Second)

	s := seriestest.FromViews(t, seriestest.Entities(2), [][]float64{
		{10, 20},
		{5, 5},
	})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO series_catalog").
		WithArgs("demo", []byte(`["A0","A1"]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM daily_views").
		WithArgs("demo").
		WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare("INSERT INTO daily_views")
	prep.ExpectExec().
		WithArgs("demo", seriestest.Start.Time(), 30.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("demo", seriestest.Start.AddDays(1).Time(), 10.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Upsert(context.Background(), "demo", s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeriesRepo_UpsertRollsBackOnFailure(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSeriesRepo(db, 5*time.Second)
	s := seriestest.Flat(t, 2, 1, 10)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO series_catalog").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.Upsert(context.Background(), "demo", s)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeriesRepo_UpsertRejectsBadInput(t *testing.T) {
	db, _ := newMock(t)
	repo := NewSeriesRepo(db, time.Second)

	assert.ErrorIs(t, repo.Upsert(context.Background(), "", seriestest.Flat(t, 1, 1, 1)), series.ErrInvalidArgument)
	assert.ErrorIs(t, repo.Upsert(context.Background(), "x", nil), series.ErrInvalidArgument)
}

func TestSeriesRepo_Load(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSeriesRepo(db, 5*time.Second)

	day0 := seriestest.Start.Time()
	day1 := seriestest.Start.AddDays(1).Time()

	mock.ExpectQuery("SELECT entities FROM series_catalog").
		WithArgs("demo").
		WillReturnRows(sqlmock.NewRows([]string{"entities"}).AddRow([]byte(`["A0","A1"]`)))
	mock.ExpectQuery("FROM daily_views").
		WithArgs("demo", day0, nil).
		WillReturnRows(sqlmock.NewRows([]string{"day", "total_views", "entity_views"}).
			AddRow(day0, 30.0, []byte(`{"A0":10,"A1":20}`)).
			AddRow(day1, 10.0, []byte(`{"A0":5,"A1":5}`)))

	s, err := repo.Load(context.Background(), "demo", persistence.DateRange{From: seriestest.Start})
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, []series.EntityID{"A0", "A1"}, s.Entities())
	assert.Equal(t, seriestest.Start.AddDays(1), s.Date(1))
	assert.Equal(t, 20.0, s.View(0, 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeriesRepo_LoadNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSeriesRepo(db, 5*time.Second)

	mock.ExpectQuery("SELECT entities FROM series_catalog").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"entities"}))

	_, err := repo.Load(context.Background(), "missing", persistence.DateRange{})
	assert.ErrorIs(t, err, persistence.ErrSeriesNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeriesRepo_LoadRevalidatesRows(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSeriesRepo(db, 5*time.Second)

	mock.ExpectQuery("SELECT entities FROM series_catalog").
		WillReturnRows(sqlmock.NewRows([]string{"entities"}).AddRow([]byte(`["A0","A1"]`)))
	mock.ExpectQuery("FROM daily_views").
		WillReturnRows(sqlmock.NewRows([]string{"day", "total_views", "entity_views"}).
			AddRow(seriestest.Start.Time(), 99.0, []byte(`{"A0":10,"A1":20}`)))

	_, err := repo.Load(context.Background(), "demo", persistence.DateRange{})
	assert.ErrorIs(t, err, series.ErrInvalidArgument)
}

func TestSeriesRepo_List(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSeriesRepo(db, 5*time.Second)

	updated := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	first := seriestest.Start.Time()
	last := seriestest.Start.AddDays(9).Time()

	mock.ExpectQuery("FROM series_catalog c").
		WillReturnRows(sqlmock.NewRows([]string{"name", "entities", "updated_at", "days", "first_day", "last_day"}).
			AddRow("articles", []byte(`["A0"]`), updated, 10, first, last).
			AddRow("empty", []byte(`[]`), updated, 0, nil, nil))

	infos, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, "articles", infos[0].Name)
	assert.Equal(t, []series.EntityID{"A0"}, infos[0].Entities)
	assert.Equal(t, 10, infos[0].Days)
	require.NotNil(t, infos[0].LastDay)
	assert.Equal(t, last, *infos[0].LastDay)

	assert.Equal(t, 0, infos[1].Days)
	assert.Nil(t, infos[1].FirstDay)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepo_Insert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRunRepo(db, 5*time.Second)

	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	run := &persistence.AnalysisRun{
		SeriesName:      "articles",
		Fingerprint:     "00000000deadbeef",
		ProminenceRatio: 0.2,
		MinDistance:     30,
		TopK:            3,
		Peaks: []persistence.PeakRecord{{
			Day:        seriestest.Start,
			TotalViews: 100,
			Prominence: 80,
			Percent:    map[series.EntityID]float64{"A0": 100},
		}},
	}

	mock.ExpectQuery("INSERT INTO analysis_runs").
		WithArgs(sqlmock.AnyArg(), "articles", "00000000deadbeef", 0.2, 30, 3, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	require.NoError(t, repo.Insert(context.Background(), run))
	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.Equal(t, created, run.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepo_InsertRequiresSeries(t *testing.T) {
	db, _ := newMock(t)
	repo := NewRunRepo(db, time.Second)

	assert.Error(t, repo.Insert(context.Background(), nil))
	assert.Error(t, repo.Insert(context.Background(), &persistence.AnalysisRun{}))
}

func TestRunRepo_Latest(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRunRepo(db, 5*time.Second)

	id := uuid.New()
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM analysis_runs").
		WithArgs("articles").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "series_name", "fingerprint", "prominence_ratio", "min_distance", "top_k", "peaks", "created_at",
		}).AddRow(id.String(), "articles", "00000000deadbeef", 0.2, 30, 3,
			[]byte(`[{"day":"2024-01-01","total_views":100,"prominence":80,"percent":{"A0":100}}]`), created))

	run, err := repo.Latest(context.Background(), "articles")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, id, run.ID)
	require.Len(t, run.Peaks, 1)
	assert.Equal(t, seriestest.Start, run.Peaks[0].Day)
	assert.Equal(t, 100.0, run.Peaks[0].Percent["A0"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepo_LatestNone(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRunRepo(db, 5*time.Second)

	mock.ExpectQuery("FROM analysis_runs").
		WithArgs("articles").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	run, err := repo.Latest(context.Background(), "articles")
	require.NoError(t, err)
	assert.Nil(t, run)
}
