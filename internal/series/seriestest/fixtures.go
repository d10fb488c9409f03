// Package seriestest builds series fixtures for tests.
package seriestest

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sawpanic/peakscan/internal/series"
)

// Start is the first day of every generated fixture.
var Start = series.NewDate(2024, 1, 1)

// Entities returns ids A0..A{n-1}.
func Entities(n int) []series.EntityID {
	ids := make([]series.EntityID, n)
	for i := range ids {
		ids[i] = series.EntityID(fmt.Sprintf("A%d", i))
	}
	return ids
}

// FromViews builds a series starting at Start where views[t][e] is the value
// of entity e on day t; the aggregate is the row sum.
func FromViews(t testing.TB, entities []series.EntityID, views [][]float64) *series.Series {
	t.Helper()
	rows := make([]series.Row, len(views))
	for i, day := range views {
		require.Len(t, day, len(entities), "day %d", i)
		m := make(map[series.EntityID]float64, len(entities))
		total := 0.0
		for j, v := range day {
			m[entities[j]] = v
			total += v
		}
		rows[i] = series.Row{Date: Start.AddDays(i), Aggregate: total, Views: m}
	}
	s, err := series.New(entities, rows)
	require.NoError(t, err)
	return s
}

// FromTotals splits every total evenly across n entities.
func FromTotals(t testing.TB, n int, totals []float64) *series.Series {
	t.Helper()
	views := make([][]float64, len(totals))
	for i, total := range totals {
		views[i] = make([]float64, n)
		for j := range views[i] {
			views[i][j] = total / float64(n)
		}
	}
	return FromViews(t, Entities(n), views)
}

// Flat returns a series of days with a constant total.
func Flat(t testing.TB, days, n int, total float64) *series.Series {
	t.Helper()
	totals := make([]float64, days)
	for i := range totals {
		totals[i] = total
	}
	return FromTotals(t, n, totals)
}

// Spike describes an injected event centered on Day.
type Spike struct {
	Day      int
	Size     float64
	Dominant int
}

// Trend generates a noisy trending series with injected spikes. The baseline
// rises 1000 -> 1500 over the range with two seasonal cycles and gaussian
// noise; each entity holds a fixed 8-13% share. A spike spreads over +-3 days
// with exp(-d^2/10) decay; the dominant entity takes ~70% of it.
func Trend(t testing.TB, seed int64, days, n int, spikes ...Spike) *series.Series {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	shares := make([]float64, n)
	for j := range shares {
		shares[j] = rng.Float64()*0.05 + 0.08
	}

	views := make([][]float64, days)
	for i := range views {
		frac := 0.0
		if days > 1 {
			frac = float64(i) / float64(days-1)
		}
		base := math.Abs(1000 + 500*frac + 100*math.Sin(4*math.Pi*frac) + rng.NormFloat64()*50)
		views[i] = make([]float64, n)
		for j := range views[i] {
			views[i][j] = math.Floor(base * shares[j])
		}
	}

	for _, sp := range spikes {
		for d := -3; d <= 3; d++ {
			day := sp.Day + d
			if day < 0 || day >= days {
				continue
			}
			spike := math.Floor(sp.Size * math.Exp(-float64(d*d)/10))
			dominant := math.Floor(spike*0.7) + float64(rng.Intn(200)-100)
			if dominant < 0 {
				dominant = 0
			}
			rest := math.Max(spike-dominant, 0)
			for j := range views[day] {
				if j == sp.Dominant {
					views[day][j] += dominant
				} else if n > 1 {
					views[day][j] += rest / float64(n-1)
				}
			}
		}
	}

	return FromViews(t, Entities(n), views)
}
