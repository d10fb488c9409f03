package report

import (
	"fmt"

	"github.com/sawpanic/peakscan/internal/contrib"
	"github.com/sawpanic/peakscan/internal/peaks"
	"github.com/sawpanic/peakscan/internal/series"
)

// AnnotationItems is the number of contributors listed in a peak annotation.
const AnnotationItems = 3

// AnnotationItem is one contributor line of a chart annotation.
type AnnotationItem struct {
	Title   string  `json:"title"`
	Percent float64 `json:"percent"` // whole percent
}

// Annotation carries the data a chart needs to label a peak marker.
type Annotation struct {
	Date       series.Date      `json:"date"`
	TotalViews float64          `json:"total_views"`
	Items      []AnnotationItem `json:"items"`
}

// BuildAnnotations lists the top n contributors of each peak with whole
// percent shares. Unlike the top-K report there is no padding.
func BuildAnnotations(s *series.Series, ps peaks.PeakSet, table contrib.Table, n int) ([]Annotation, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: annotation size must be >= 0, got %d", series.ErrInvalidArgument, n)
	}

	out := make([]Annotation, 0, len(ps))
	for _, p := range ps {
		day, err := lookup(s, table, p)
		if err != nil {
			return nil, err
		}
		ranked := Rank(day.Contributions)
		if len(ranked) > n {
			ranked = ranked[:n]
		}
		a := Annotation{Date: p.Date, TotalViews: day.Aggregate, Items: make([]AnnotationItem, len(ranked))}
		for i, c := range ranked {
			a.Items[i] = AnnotationItem{Title: string(c.Entity), Percent: Round(c.Percent, 0)}
		}
		out = append(out, a)
	}
	return out, nil
}
