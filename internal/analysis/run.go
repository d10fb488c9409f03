package analysis

import (
	"fmt"

	"github.com/sawpanic/peakscan/internal/persistence"
	"github.com/sawpanic/peakscan/internal/series"
)

// Record converts r into a storable run for seriesName.
func (r *Result) Record(seriesName string) *persistence.AnalysisRun {
	run := &persistence.AnalysisRun{
		SeriesName:      seriesName,
		Fingerprint:     fmt.Sprintf("%016x", r.Fingerprint),
		ProminenceRatio: r.Options.Detection.ProminenceRatio,
		MinDistance:     r.Options.Detection.MinDistance,
		TopK:            r.Options.TopK,
		Peaks:           make([]persistence.PeakRecord, 0, len(r.Peaks)),
	}
	for _, p := range r.Peaks {
		rec := persistence.PeakRecord{
			Day:        p.Date,
			TotalViews: p.Aggregate,
			Prominence: p.Prominence,
			Percent:    make(map[series.EntityID]float64, len(r.Entities)),
		}
		for _, c := range r.Contributions[p.Date].Contributions {
			rec.Percent[c.Entity] = c.Percent
		}
		run.Peaks = append(run.Peaks, rec)
	}
	return run
}
