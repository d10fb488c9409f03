package http

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/peakscan/internal/persistence"
	"github.com/sawpanic/peakscan/internal/series"
)

// SeriesSource supplies named series to the handlers.
type SeriesSource interface {
	List(ctx context.Context) ([]persistence.SeriesInfo, error)
	Load(ctx context.Context, name string, r persistence.DateRange) (*series.Series, error)
}

// MemorySource serves series held in process, e.g. CSV files loaded at startup.
type MemorySource struct {
	mu      sync.RWMutex
	series  map[string]*series.Series
	updated map[string]time.Time
}

// NewMemorySource returns an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		series:  make(map[string]*series.Series),
		updated: make(map[string]time.Time),
	}
}

// Put adds or replaces a series.
func (m *MemorySource) Put(name string, s *series.Series) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[name] = s
	m.updated[name] = time.Now().UTC()
}

// List returns every held series ordered by name.
func (m *MemorySource) List(_ context.Context) ([]persistence.SeriesInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]persistence.SeriesInfo, 0, len(m.series))
	for name, s := range m.series {
		info := persistence.SeriesInfo{
			Name:      name,
			Entities:  s.Entities(),
			Days:      s.Len(),
			UpdatedAt: m.updated[name],
		}
		if s.Len() > 0 {
			first, last := s.First().Time(), s.Last().Time()
			info.FirstDay, info.LastDay = &first, &last
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Load returns the named series restricted to r.
func (m *MemorySource) Load(_ context.Context, name string, r persistence.DateRange) (*series.Series, error) {
	m.mu.RLock()
	s, ok := m.series[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrSeriesNotFound, name)
	}
	return s.Between(r.From, r.To), nil
}

// RepoSource serves series from the database.
type RepoSource struct {
	Repo persistence.SeriesRepo
}

// List delegates to the repository.
func (r RepoSource) List(ctx context.Context) ([]persistence.SeriesInfo, error) {
	return r.Repo.List(ctx)
}

// Load delegates to the repository.
func (r RepoSource) Load(ctx context.Context, name string, dr persistence.DateRange) (*series.Series, error) {
	return r.Repo.Load(ctx, name, dr)
}
