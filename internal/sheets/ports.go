package sheets

import (
	"context"

	"finrank/internal/core"
)

// Ports for outbound adapters.
type (
	// SeasonArchiver stores the final standings of a closed season outside the
	// ranking database. Archiving the same season twice must not duplicate rows.
	SeasonArchiver interface {
		ArchiveSeason(ctx context.Context, season core.Season, standings []core.SeasonStanding) error
	}
)
