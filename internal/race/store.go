package race

import (
	"context"
	"time"

	"github.com/glacials/splits.io/internal/models"
	"github.com/google/uuid"
)

// ListOptions filters ListRaces. Filters combine with AND.
type ListOptions struct {
	// StartedOnly restricts the result to races with a start time.
	StartedOnly bool
	// Unfinished drops started races whose entrants are all done.
	Unfinished bool
	// ActiveAt, when set, keeps only races that are neither finished nor abandoned at that
	// instant (see models.Race.Active).
	ActiveAt time.Time
	// ExcludeSecret drops secret races.
	ExcludeSecret bool
	// Limit caps the number of races returned, newest first. Zero means no limit.
	Limit int
}

// Match reports whether r passes every filter in o other than Limit.
func (o ListOptions) Match(r *models.Race) bool {
	switch {
	case o.StartedOnly && !r.Started():
		return false
	case o.Unfinished && r.Finished():
		return false
	case !o.ActiveAt.IsZero() && !r.Active(o.ActiveAt):
		return false
	case o.ExcludeSecret && r.Visibility == models.VisibilitySecret:
		return false
	}
	return true
}

// Store is the authoritative persistence collaborator for races and entrants.
//
// Implementations return ErrNotFound (or ErrEntrantNotFound for entrant rows) when the
// target is absent and wrap backend failures in ErrTransient. Every entrant mutation also
// bumps the owning race's UpdatedAt.
type Store interface {
	// CreateRace inserts the race and its owner entrant as a single unit.
	CreateRace(ctx context.Context, r *models.Race, owner *models.Entrant) error
	// GetRace loads a race together with all of its entrants.
	GetRace(ctx context.Context, id uuid.UUID) (*models.Race, error)
	// RaceIDsByPrefix returns up to limit race ids whose textual form starts with prefix,
	// oldest first.
	RaceIDsByPrefix(ctx context.Context, prefix string, limit int) ([]uuid.UUID, error)
	ListRaces(ctx context.Context, opts ListOptions) ([]*models.Race, error)
	DeleteRace(ctx context.Context, id uuid.UUID) error

	CreateEntrant(ctx context.Context, e *models.Entrant) error
	UpdateEntrant(ctx context.Context, e *models.Entrant) error
	DeleteEntrant(ctx context.Context, raceID, entrantID uuid.UUID) error

	// StartRace sets started_at and status_text only if the race has not started yet.
	// It reports whether this call performed the transition.
	StartRace(ctx context.Context, id uuid.UUID, startedAt time.Time, status string) (bool, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error

	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
}
