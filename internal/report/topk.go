// Package report projects contribution tables into the two peak reports:
// a fixed-width top-K summary per peak and a full per-day matrix.
package report

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/peakscan/internal/contrib"
	"github.com/sawpanic/peakscan/internal/peaks"
	"github.com/sawpanic/peakscan/internal/series"
)

// DefaultTopK is the number of contributors kept per peak.
const DefaultTopK = 3

// Contributor fills one ranked slot of a top-K row.
type Contributor struct {
	Title   string  `json:"title"`
	Views   float64 `json:"views"`
	Percent float64 `json:"percent"` // one decimal place
}

// TopKRow summarizes one peak. Slots has exactly K entries; a nil entry is
// an empty slot (fewer than K entities).
type TopKRow struct {
	Date       series.Date    `json:"date"`
	TotalViews float64        `json:"total_views"`
	Slots      []*Contributor `json:"top_contributors"`
}

// BuildTopK returns one row per peak, in peak order.
func BuildTopK(s *series.Series, ps peaks.PeakSet, table contrib.Table, k int) ([]TopKRow, error) {
	if k < 0 {
		return nil, fmt.Errorf("%w: k must be >= 0, got %d", series.ErrInvalidArgument, k)
	}

	rows := make([]TopKRow, 0, len(ps))
	for _, p := range ps {
		day, err := lookup(s, table, p)
		if err != nil {
			return nil, err
		}

		ranked := Rank(day.Contributions)
		row := TopKRow{
			Date:       p.Date,
			TotalViews: day.Aggregate,
			Slots:      make([]*Contributor, k),
		}
		for i := 0; i < k && i < len(ranked); i++ {
			row.Slots[i] = &Contributor{
				Title:   string(ranked[i].Entity),
				Views:   ranked[i].Views,
				Percent: Round(ranked[i].Percent, 1),
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Rank orders contributions by views descending, then entity id ascending.
// The input is not modified.
func Rank(cs []contrib.Contribution) []contrib.Contribution {
	ranked := make([]contrib.Contribution, len(cs))
	copy(ranked, cs)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Views != ranked[j].Views {
			return ranked[i].Views > ranked[j].Views
		}
		return ranked[i].Entity < ranked[j].Entity
	})
	return ranked
}

// Round rounds v half away from zero to places decimals.
func Round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func lookup(s *series.Series, table contrib.Table, p peaks.Peak) (contrib.Day, error) {
	if s == nil {
		return contrib.Day{}, fmt.Errorf("%w: series is nil", series.ErrInvalidArgument)
	}
	if _, ok := s.IndexOf(p.Date); !ok {
		return contrib.Day{}, fmt.Errorf("%w: %s", contrib.ErrPeakNotFound, p.Date)
	}
	day, ok := table[p.Date]
	if !ok {
		return contrib.Day{}, fmt.Errorf("%w: no contributions for %s", contrib.ErrPeakNotFound, p.Date)
	}
	return day, nil
}
