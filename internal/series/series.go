package series

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ErrInvalidArgument is returned for malformed input or configuration anywhere
// in the analysis chain (series construction, detection, report building).
var ErrInvalidArgument = errors.New("invalid argument")

// sumTolerance bounds |aggregate - sum(views)| relative to the aggregate.
const sumTolerance = 1e-9

// EntityID identifies one contributor to the aggregate.
type EntityID string

// Row is the construction input for one day of a Series.
type Row struct {
	Date      Date
	Aggregate float64
	Views     map[EntityID]float64
}

// Record is a read-only copy of one day of a Series.
type Record struct {
	Date      Date
	Aggregate float64
	Views     map[EntityID]float64
}

// Series is an immutable daily table of one aggregate and N entity measures.
// Every record carries the same entity set, and the aggregate equals the sum
// of the entity values; both are enforced by New.
type Series struct {
	entities   []EntityID
	entityIdx  map[EntityID]int
	dates      []Date
	aggregates []float64
	views      [][]float64 // [time][entity]
	dateIdx    map[Date]int
}

// New validates rows against entities and builds a Series.
// Rows must be in strictly ascending date order.
func New(entities []EntityID, rows []Row) (*Series, error) {
	s := &Series{
		entities:   make([]EntityID, len(entities)),
		entityIdx:  make(map[EntityID]int, len(entities)),
		dates:      make([]Date, 0, len(rows)),
		aggregates: make([]float64, 0, len(rows)),
		views:      make([][]float64, 0, len(rows)),
		dateIdx:    make(map[Date]int, len(rows)),
	}
	copy(s.entities, entities)

	for i, id := range entities {
		if id == "" {
			return nil, fmt.Errorf("%w: entity %d has an empty id", ErrInvalidArgument, i)
		}
		if _, dup := s.entityIdx[id]; dup {
			return nil, fmt.Errorf("%w: duplicate entity %q", ErrInvalidArgument, id)
		}
		s.entityIdx[id] = i
	}

	for i, row := range rows {
		if row.Date.IsZero() {
			return nil, fmt.Errorf("%w: row %d has no date", ErrInvalidArgument, i)
		}
		if i > 0 && !s.dates[i-1].Before(row.Date) {
			return nil, fmt.Errorf("%w: row %d date %s is not after %s", ErrInvalidArgument, i, row.Date, s.dates[i-1])
		}
		if !validMeasure(row.Aggregate) {
			return nil, fmt.Errorf("%w: %s aggregate %v must be a non-negative finite number", ErrInvalidArgument, row.Date, row.Aggregate)
		}
		if len(row.Views) != len(entities) {
			return nil, fmt.Errorf("%w: %s has %d entities, want %d", ErrInvalidArgument, row.Date, len(row.Views), len(entities))
		}

		views := make([]float64, len(entities))
		sum := 0.0
		for id, v := range row.Views {
			j, ok := s.entityIdx[id]
			if !ok {
				return nil, fmt.Errorf("%w: %s has unknown entity %q", ErrInvalidArgument, row.Date, id)
			}
			if !validMeasure(v) {
				return nil, fmt.Errorf("%w: %s entity %q value %v must be a non-negative finite number", ErrInvalidArgument, row.Date, id, v)
			}
			views[j] = v
			sum += v
		}
		if math.Abs(row.Aggregate-sum) > sumTolerance*math.Max(1, row.Aggregate) {
			return nil, fmt.Errorf("%w: %s aggregate %v != entity sum %v", ErrInvalidArgument, row.Date, row.Aggregate, sum)
		}

		s.dateIdx[row.Date] = i
		s.dates = append(s.dates, row.Date)
		s.aggregates = append(s.aggregates, row.Aggregate)
		s.views = append(s.views, views)
	}

	return s, nil
}

func validMeasure(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Len returns the number of time points.
func (s *Series) Len() int { return len(s.dates) }

// Entities returns the fixed entity order.
func (s *Series) Entities() []EntityID {
	out := make([]EntityID, len(s.entities))
	copy(out, s.entities)
	return out
}

// NumEntities returns the size of the entity set.
func (s *Series) NumEntities() int { return len(s.entities) }

// Date returns the date at index i.
func (s *Series) Date(i int) Date { return s.dates[i] }

// Aggregate returns the aggregate at index i.
func (s *Series) Aggregate(i int) float64 { return s.aggregates[i] }

// View returns the value of the entity at position e on day i.
func (s *Series) View(i, e int) float64 { return s.views[i][e] }

// Aggregates returns a copy of the aggregate column.
func (s *Series) Aggregates() []float64 {
	out := make([]float64, len(s.aggregates))
	copy(out, s.aggregates)
	return out
}

// IndexOf returns the index of date d.
func (s *Series) IndexOf(d Date) (int, bool) {
	i, ok := s.dateIdx[d]
	return i, ok
}

// Record returns a copy of day i.
func (s *Series) Record(i int) Record {
	views := make(map[EntityID]float64, len(s.entities))
	for j, id := range s.entities {
		views[id] = s.views[i][j]
	}
	return Record{Date: s.dates[i], Aggregate: s.aggregates[i], Views: views}
}

// First and Last return the date bounds; both are zero for an empty series.
func (s *Series) First() Date {
	if len(s.dates) == 0 {
		return Date{}
	}
	return s.dates[0]
}

func (s *Series) Last() Date {
	if len(s.dates) == 0 {
		return Date{}
	}
	return s.dates[len(s.dates)-1]
}

// Between returns the days from..to inclusive. A zero bound is open; the
// result may be empty.
func (s *Series) Between(from, to Date) *Series {
	lo, hi := 0, len(s.dates)
	if !from.IsZero() {
		lo = sort.Search(len(s.dates), func(i int) bool { return !s.dates[i].Before(from) })
	}
	if !to.IsZero() {
		hi = sort.Search(len(s.dates), func(i int) bool { return to.Before(s.dates[i]) })
	}
	if hi < lo {
		hi = lo
	}

	out := &Series{
		entities:   s.entities,
		entityIdx:  s.entityIdx,
		dates:      s.dates[lo:hi:hi],
		aggregates: s.aggregates[lo:hi:hi],
		views:      s.views[lo:hi:hi],
		dateIdx:    make(map[Date]int, hi-lo),
	}
	for i, d := range out.dates {
		out.dateIdx[d] = i
	}
	return out
}

// Fingerprint is a content hash of the series, stable across processes.
func (s *Series) Fingerprint() uint64 {
	d := xxhash.New()
	buf := make([]byte, 0, 64)
	for _, id := range s.entities {
		_, _ = d.WriteString(string(id))
		_, _ = d.Write([]byte{0})
	}
	for i, date := range s.dates {
		buf = buf[:0]
		buf = append(buf, date.String()...)
		buf = strconv.AppendFloat(append(buf, '|'), s.aggregates[i], 'g', -1, 64)
		for _, v := range s.views[i] {
			buf = strconv.AppendFloat(append(buf, '|'), v, 'g', -1, 64)
		}
		_, _ = d.Write(append(buf, '\n'))
	}
	return d.Sum64()
}
