package memory

import (
	"context"
	"sync"

	"finrank/internal/core"
	ports "finrank/internal/sheets"
)

var _ ports.SeasonArchiver = (*Archive)(nil)

// Archive keeps archived standings in memory, keyed by season number.
type Archive struct {
	mu      sync.Mutex
	seasons map[int][]core.SeasonStanding
	order   []int
}

func New() *Archive {
	return &Archive{seasons: make(map[int][]core.SeasonStanding)}
}

func (a *Archive) ArchiveSeason(_ context.Context, season core.Season, standings []core.SeasonStanding) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.seasons[season.Number]; ok {
		return nil
	}
	a.seasons[season.Number] = append([]core.SeasonStanding(nil), standings...)
	a.order = append(a.order, season.Number)
	return nil
}

// Standings returns the archived standings of a season.
func (a *Archive) Standings(season int) ([]core.SeasonStanding, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.seasons[season]
	return append([]core.SeasonStanding(nil), s...), ok
}

// Seasons returns the archived season numbers in archive order.
func (a *Archive) Seasons() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.order...)
}
