// Package contrib attributes each peak day's aggregate to its entities.
package contrib

import (
	"errors"
	"fmt"

	"github.com/sawpanic/peakscan/internal/peaks"
	"github.com/sawpanic/peakscan/internal/series"
)

// ErrPeakNotFound means a peak references a day the series does not have.
// It indicates the series and peak set were mismatched by the caller.
var ErrPeakNotFound = errors.New("peak not found in series")

// Contribution is one entity's share of a peak day.
type Contribution struct {
	Entity  series.EntityID `json:"entity"`
	Views   float64         `json:"views"`
	Percent float64         `json:"percent"`
}

// Day holds every entity's contribution on one peak day, in series entity order.
type Day struct {
	Date          series.Date    `json:"date"`
	Aggregate     float64        `json:"total_views"`
	Contributions []Contribution `json:"contributions"`
}

// Get returns the contribution of id on this day.
func (d Day) Get(id series.EntityID) (Contribution, bool) {
	for _, c := range d.Contributions {
		if c.Entity == id {
			return c, true
		}
	}
	return Contribution{}, false
}

// Table maps each peak date to its contributions.
type Table map[series.Date]Day

// Compute derives the contribution table for every peak in ps.
func Compute(s *series.Series, ps peaks.PeakSet) (Table, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: series is nil", series.ErrInvalidArgument)
	}

	entities := s.Entities()
	table := make(Table, len(ps))
	for _, p := range ps {
		i, ok := s.IndexOf(p.Date)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPeakNotFound, p.Date)
		}

		total := s.Aggregate(i)
		day := Day{
			Date:          p.Date,
			Aggregate:     total,
			Contributions: make([]Contribution, len(entities)),
		}
		for j, id := range entities {
			views := s.View(i, j)
			day.Contributions[j] = Contribution{
				Entity:  id,
				Views:   views,
				Percent: Percent(views, total),
			}
		}
		table[p.Date] = day
	}
	return table, nil
}

// Percent returns part/total*100, or 0 when total is 0.
func Percent(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part / total * 100
}
