package report

import (
	"fmt"

	"github.com/sawpanic/peakscan/internal/contrib"
	"github.com/sawpanic/peakscan/internal/peaks"
	"github.com/sawpanic/peakscan/internal/series"
)

// Cell is one entity's contribution column. Percent is nil on days that are
// not peaks: not computed, which is different from a zero share.
type Cell struct {
	Entity  series.EntityID `json:"entity"`
	Percent *float64        `json:"percent"`
}

// MatrixRow is one day of the full matrix report.
type MatrixRow struct {
	Date       series.Date `json:"date"`
	TotalViews float64     `json:"total_views"`
	IsPeak     bool        `json:"is_peak"`
	Cells      []Cell      `json:"contributions"`
}

// BuildMatrix returns one row per series day in series order, with
// contribution cells populated only on peak days.
func BuildMatrix(s *series.Series, ps peaks.PeakSet, table contrib.Table) ([]MatrixRow, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: series is nil", series.ErrInvalidArgument)
	}
	peakDays := make(map[series.Date]contrib.Day, len(ps))
	for _, p := range ps {
		day, err := lookup(s, table, p)
		if err != nil {
			return nil, err
		}
		peakDays[p.Date] = day
	}

	entities := s.Entities()
	rows := make([]MatrixRow, s.Len())
	for i := range rows {
		date := s.Date(i)
		row := MatrixRow{
			Date:       date,
			TotalViews: s.Aggregate(i),
			Cells:      make([]Cell, len(entities)),
		}
		day, isPeak := peakDays[date]
		row.IsPeak = isPeak
		for j, id := range entities {
			row.Cells[j].Entity = id
			if !isPeak {
				continue
			}
			if c, ok := day.Get(id); ok {
				pct := c.Percent
				row.Cells[j].Percent = &pct
			}
		}
		rows[i] = row
	}
	return rows, nil
}
