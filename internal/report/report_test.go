package report

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/peakscan/internal/contrib"
	"github.com/sawpanic/peakscan/internal/peaks"
	"github.com/sawpanic/peakscan/internal/series"
	"github.com/sawpanic/peakscan/internal/series/seriestest"
)

// threeDay is a 3-day series with its middle day marked as the only peak.
func threeDay(t *testing.T, ids []series.EntityID, peak []float64) (*series.Series, peaks.PeakSet, contrib.Table) {
	t.Helper()
	low := make([]float64, len(ids))
	for i := range low {
		low[i] = 10
	}
	s := seriestest.FromViews(t, ids, [][]float64{low, peak, low})
	ps := peaks.PeakSet{{Index: 1, Date: s.Date(1), Aggregate: s.Aggregate(1)}}
	table, err := contrib.Compute(s, ps)
	require.NoError(t, err)
	return s, ps, table
}

func TestBuildTopK_SelectsTopContributors(t *testing.T) {
	s, ps, table := threeDay(t, []series.EntityID{"A", "B", "C"}, []float64{700, 200, 100})

	rows, err := BuildTopK(s, ps, table, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, s.Date(1), row.Date)
	assert.Equal(t, 1000.0, row.TotalViews)
	assert.Equal(t, []*Contributor{
		{Title: "A", Views: 700, Percent: 70.0},
		{Title: "B", Views: 200, Percent: 20.0},
	}, row.Slots)
}

func TestBuildTopK_PadsMissingSlots(t *testing.T) {
	s, ps, table := threeDay(t, []series.EntityID{"A", "B", "C"}, []float64{700, 200, 100})

	rows, err := BuildTopK(s, ps, table, 5)
	require.NoError(t, err)
	require.Len(t, rows[0].Slots, 5)
	for i := 0; i < 3; i++ {
		assert.NotNil(t, rows[0].Slots[i])
	}
	assert.Nil(t, rows[0].Slots[3])
	assert.Nil(t, rows[0].Slots[4])

	b, err := json.Marshal(rows[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `null,null]`)
}

func TestBuildTopK_ZeroK(t *testing.T) {
	s, ps, table := threeDay(t, []series.EntityID{"A", "B"}, []float64{7, 3})

	rows, err := BuildTopK(s, ps, table, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].Slots)
	assert.Equal(t, 10.0, rows[0].TotalViews)
}

func TestBuildTopK_NegativeK(t *testing.T) {
	s, ps, table := threeDay(t, []series.EntityID{"A"}, []float64{7})

	_, err := BuildTopK(s, ps, table, -1)
	assert.ErrorIs(t, err, series.ErrInvalidArgument)
}

func TestBuildTopK_TiesBreakByEntityID(t *testing.T) {
	s, ps, table := threeDay(t, []series.EntityID{"C", "A", "B"}, []float64{300, 300, 400})

	rows, err := BuildTopK(s, ps, table, 3)
	require.NoError(t, err)

	var titles []string
	for _, slot := range rows[0].Slots {
		titles = append(titles, slot.Title)
	}
	assert.Equal(t, []string{"B", "A", "C"}, titles)
}

func TestBuildTopK_RoundsToOneDecimal(t *testing.T) {
	s, ps, table := threeDay(t, []series.EntityID{"A", "B", "C"}, []float64{1, 1, 1})

	rows, err := BuildTopK(s, ps, table, 1)
	require.NoError(t, err)
	assert.Equal(t, 33.3, rows[0].Slots[0].Percent)
}

func TestBuildTopK_ZeroAggregatePeak(t *testing.T) {
	ids := []series.EntityID{"A", "B"}
	s := seriestest.FromViews(t, ids, [][]float64{{0, 0}})
	ps := peaks.PeakSet{{Date: s.Date(0)}}
	table, err := contrib.Compute(s, ps)
	require.NoError(t, err)

	rows, err := BuildTopK(s, ps, table, 2)
	require.NoError(t, err)
	for _, slot := range rows[0].Slots {
		require.NotNil(t, slot)
		assert.Equal(t, 0.0, slot.Percent)
	}
}

func TestBuildTopK_MissingContributions(t *testing.T) {
	s, ps, _ := threeDay(t, []series.EntityID{"A"}, []float64{7})

	_, err := BuildTopK(s, ps, contrib.Table{}, 1)
	assert.ErrorIs(t, err, contrib.ErrPeakNotFound)

	foreign := peaks.PeakSet{{Date: s.Last().AddDays(1)}}
	_, err = BuildTopK(s, foreign, contrib.Table{}, 1)
	assert.ErrorIs(t, err, contrib.ErrPeakNotFound)
}

func TestBuildTopK_ViewsNonIncreasing(t *testing.T) {
	s := seriestest.Trend(t, 3, 400, 10,
		seriestest.Spike{Day: 60, Size: 6000, Dominant: 3},
		seriestest.Spike{Day: 250, Size: 9000, Dominant: 7},
	)
	ps, err := peaks.Detect(s, peaks.DefaultConfig())
	require.NoError(t, err)
	table, err := contrib.Compute(s, ps)
	require.NoError(t, err)

	rows, err := BuildTopK(s, ps, table, DefaultTopK)
	require.NoError(t, err)
	require.Len(t, rows, len(ps))

	for _, row := range rows {
		require.Len(t, row.Slots, DefaultTopK)
		for i := 1; i < len(row.Slots); i++ {
			assert.GreaterOrEqual(t, row.Slots[i-1].Views, row.Slots[i].Views)
		}
	}
}

func TestBuildMatrix_Sparsity(t *testing.T) {
	s := seriestest.Trend(t, 11, 300, 4,
		seriestest.Spike{Day: 80, Size: 7000, Dominant: 0},
		seriestest.Spike{Day: 200, Size: 8000, Dominant: 2},
	)
	ps, err := peaks.Detect(s, peaks.DefaultConfig())
	require.NoError(t, err)
	require.NotEmpty(t, ps)
	table, err := contrib.Compute(s, ps)
	require.NoError(t, err)

	rows, err := BuildMatrix(s, ps, table)
	require.NoError(t, err)
	require.Len(t, rows, s.Len())

	for i, row := range rows {
		assert.Equal(t, s.Date(i), row.Date)
		assert.Equal(t, s.Aggregate(i), row.TotalViews)
		require.Len(t, row.Cells, s.NumEntities())

		isPeak := ps.Contains(row.Date)
		assert.Equal(t, isPeak, row.IsPeak)
		for j, cell := range row.Cells {
			assert.Equal(t, s.Entities()[j], cell.Entity)
			if isPeak {
				require.NotNil(t, cell.Percent)
			} else {
				assert.Nil(t, cell.Percent)
			}
		}
	}
}

func TestBuildMatrix_PeakValues(t *testing.T) {
	s, ps, table := threeDay(t, []series.EntityID{"A", "B"}, []float64{750, 250})

	rows, err := BuildMatrix(s, ps, table)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.InDelta(t, 75.0, *rows[1].Cells[0].Percent, 1e-9)
	assert.InDelta(t, 25.0, *rows[1].Cells[1].Percent, 1e-9)

	b, err := json.Marshal(rows[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-01-01","total_views":20,"is_peak":false,"contributions":[{"entity":"A","percent":null},{"entity":"B","percent":null}]}`, string(b))
}

func TestBuildMatrix_NoPeaks(t *testing.T) {
	s := seriestest.Flat(t, 4, 2, 100)

	rows, err := BuildMatrix(s, nil, contrib.Table{})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for _, row := range rows {
		assert.False(t, row.IsPeak)
	}
}

func TestBuildMatrix_Errors(t *testing.T) {
	_, err := BuildMatrix(nil, nil, nil)
	assert.ErrorIs(t, err, series.ErrInvalidArgument)

	s, ps, _ := threeDay(t, []series.EntityID{"A"}, []float64{7})
	_, err = BuildMatrix(s, ps, contrib.Table{})
	assert.ErrorIs(t, err, contrib.ErrPeakNotFound)
}

func TestBuildAnnotations(t *testing.T) {
	s, ps, table := threeDay(t, []series.EntityID{"A", "B", "C", "D"}, []float64{667, 200, 100, 33})

	anns, err := BuildAnnotations(s, ps, table, AnnotationItems)
	require.NoError(t, err)
	require.Len(t, anns, 1)
	assert.Equal(t, []AnnotationItem{
		{Title: "A", Percent: 67},
		{Title: "B", Percent: 20},
		{Title: "C", Percent: 10},
	}, anns[0].Items)

	_, err = BuildAnnotations(s, ps, table, -1)
	assert.ErrorIs(t, err, series.ErrInvalidArgument)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 70.0, Round(69.96, 1))
	assert.Equal(t, 12.4, Round(12.35, 1))
	assert.Equal(t, 67.0, Round(66.7, 0))
}

func TestColumns(t *testing.T) {
	assert.Equal(t, []string{
		"Date", "Total Views",
		"Top Contributor 1 Title", "Top Contributor 1 Views", "Top Contributor 1 %",
	}, TopKColumns(1))
	assert.Equal(t, []string{"Date", "Total Views", "Contribution (A0 %)", "Contribution (A1 %)"},
		MatrixColumns(seriestest.Entities(2)))
}
