// Package peaks finds prominent, well-separated local maxima in the aggregate
// column of a series.
package peaks

import (
	"fmt"
	"sort"

	"github.com/sawpanic/peakscan/internal/series"
)

// Detection defaults.
const (
	DefaultProminenceRatio = 0.2
	DefaultMinDistance     = 30
)

// Config controls detection.
type Config struct {
	ProminenceRatio float64 `yaml:"prominence_ratio" json:"prominence_ratio"` // fraction of max aggregate, (0, 1]
	MinDistance     int     `yaml:"min_distance" json:"min_distance"`         // days between peaks, >= 1
}

// DefaultConfig returns the detection defaults.
func DefaultConfig() Config {
	return Config{
		ProminenceRatio: DefaultProminenceRatio,
		MinDistance:     DefaultMinDistance,
	}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if !(c.ProminenceRatio > 0 && c.ProminenceRatio <= 1) {
		return fmt.Errorf("%w: prominence_ratio must be in (0, 1], got %v", series.ErrInvalidArgument, c.ProminenceRatio)
	}
	if c.MinDistance < 1 {
		return fmt.Errorf("%w: min_distance must be >= 1, got %d", series.ErrInvalidArgument, c.MinDistance)
	}
	return nil
}

// Peak is a detected spike day.
type Peak struct {
	Index      int         `json:"index"`
	Date       series.Date `json:"date"`
	Aggregate  float64     `json:"total_views"`
	Prominence float64     `json:"prominence"`
}

// PeakSet is ordered by date ascending and pairwise at least MinDistance apart.
type PeakSet []Peak

// Dates returns the peak dates in order.
func (ps PeakSet) Dates() []series.Date {
	out := make([]series.Date, len(ps))
	for i, p := range ps {
		out[i] = p.Date
	}
	return out
}

// Contains reports whether d is a peak day.
func (ps PeakSet) Contains(d series.Date) bool {
	for _, p := range ps {
		if p.Date == d {
			return true
		}
	}
	return false
}

// Detect returns the peaks of s's aggregate column.
//
// A candidate is a local maximum; a flat top counts once, at its middle
// sample. Its prominence is the height above the higher of the two lowest
// points reached walking outward until a strictly higher sample or the
// boundary. Samples at the boundary have no base on the outer side, so their
// prominence is zero. Candidates below ratio*max(aggregate) are dropped, then
// the highest remaining candidates suppress lower ones closer than
// MinDistance (ties favour the earlier day).
func Detect(s *series.Series, cfg Config) (PeakSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s == nil || s.Len() == 0 {
		return nil, fmt.Errorf("%w: series is empty", series.ErrInvalidArgument)
	}

	x := s.Aggregates()
	threshold := cfg.ProminenceRatio * maxOf(x)

	var kept []Peak
	for _, i := range localMaxima(x) {
		p := prominence(x, i)
		if p <= 0 || p < threshold {
			continue
		}
		kept = append(kept, Peak{Index: i, Date: s.Date(i), Aggregate: x[i], Prominence: p})
	}

	return selectByDistance(kept, cfg.MinDistance), nil
}

// Prominence returns the prominence of sample i in s's aggregate column.
func Prominence(s *series.Series, i int) float64 {
	return prominence(s.Aggregates(), i)
}

func maxOf(x []float64) float64 {
	m := x[0]
	for _, v := range x[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// localMaxima returns one index per maximal run of equal samples whose
// neighbours on both sides (where present) are strictly lower.
func localMaxima(x []float64) []int {
	var out []int
	n := len(x)
	for left := 0; left < n; {
		right := left
		for right+1 < n && x[right+1] == x[left] {
			right++
		}
		risesIn := left == 0 || x[left-1] < x[left]
		fallsOut := right == n-1 || x[right+1] < x[right]
		if risesIn && fallsOut {
			out = append(out, (left+right)/2)
		}
		left = right + 1
	}
	return out
}

func prominence(x []float64, i int) float64 {
	v := x[i]

	leftMin := v
	for j := i - 1; j >= 0 && x[j] <= v; j-- {
		if x[j] < leftMin {
			leftMin = x[j]
		}
	}

	rightMin := v
	for j := i + 1; j < len(x) && x[j] <= v; j++ {
		if x[j] < rightMin {
			rightMin = x[j]
		}
	}

	base := leftMin
	if rightMin > base {
		base = rightMin
	}
	return v - base
}

// selectByDistance keeps the highest candidates and drops any lower
// candidate within minDistance of one already kept. Input and output are
// ordered by index.
func selectByDistance(candidates []Peak, minDistance int) PeakSet {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return candidates[order[a]].Aggregate > candidates[order[b]].Aggregate
	})

	removed := make([]bool, len(candidates))
	for _, j := range order {
		if removed[j] {
			continue
		}
		for k := j - 1; k >= 0 && candidates[j].Index-candidates[k].Index < minDistance; k-- {
			removed[k] = true
		}
		for k := j + 1; k < len(candidates) && candidates[k].Index-candidates[j].Index < minDistance; k++ {
			removed[k] = true
		}
	}

	out := make(PeakSet, 0, len(candidates))
	for i, c := range candidates {
		if !removed[i] {
			out = append(out, c)
		}
	}
	return out
}
