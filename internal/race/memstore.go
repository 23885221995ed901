package race

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/glacials/splits.io/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// MemoryStore keeps races in process memory. It backs tests and single-node development
// runs; state is lost on restart.
type MemoryStore struct {
	mu    sync.Mutex
	clock clockwork.Clock
	races map[uuid.UUID]*models.Race
	runs  map[uuid.UUID]*models.Run
}

// NewMemoryStore returns an empty store stamping UpdatedAt from clock.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		clock: clock,
		races: make(map[uuid.UUID]*models.Race),
		runs:  make(map[uuid.UUID]*models.Run),
	}
}

// PutRun registers a recorded run for ghost entrants.
func (s *MemoryStore) PutRun(run *models.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *run
	c.Splits = append([]time.Duration(nil), run.Splits...)
	s.runs[run.ID] = &c
}

func (s *MemoryStore) CreateRace(_ context.Context, r *models.Race, owner *models.Entrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.races[r.ID]; exists {
		return Invalid("id", "is already taken")
	}
	c := r.Clone()
	c.Entrants = []models.Entrant{owner.Clone()}
	s.races[r.ID] = c
	return nil
}

func (s *MemoryStore) GetRace(_ context.Context, id uuid.UUID) (*models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.races[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) RaceIDsByPrefix(_ context.Context, prefix string, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []*models.Race
	for id, r := range s.races {
		if strings.HasPrefix(id.String(), prefix) {
			matches = append(matches, r)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	ids := make([]uuid.UUID, 0, len(matches))
	for _, r := range matches {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (s *MemoryStore) ListRaces(_ context.Context, opts ListOptions) ([]*models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Race, 0, len(s.races))
	for _, r := range s.races {
		if !opts.Match(r) {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteRace(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.races[id]; !ok {
		return ErrNotFound
	}
	delete(s.races, id)
	return nil
}

func (s *MemoryStore) CreateEntrant(_ context.Context, e *models.Entrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.races[e.RaceID]
	if !ok {
		return ErrNotFound
	}
	for i := range r.Entrants {
		existing := &r.Entrants[i]
		if e.ParticipantID != nil && existing.ParticipantID != nil && *existing.ParticipantID == *e.ParticipantID {
			return Invalid("participant", "has already entered this race")
		}
		if e.RunID != nil && existing.RunID != nil && *existing.RunID == *e.RunID {
			return Invalid("run_id", "is already racing as a ghost")
		}
	}
	r.Entrants = append(r.Entrants, e.Clone())
	r.UpdatedAt = s.clock.Now()
	return nil
}

func (s *MemoryStore) UpdateEntrant(_ context.Context, e *models.Entrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.races[e.RaceID]
	if !ok {
		return ErrEntrantNotFound
	}
	existing := r.EntrantByID(e.ID)
	if existing == nil {
		return ErrEntrantNotFound
	}
	*existing = e.Clone()
	r.UpdatedAt = s.clock.Now()
	return nil
}

func (s *MemoryStore) DeleteEntrant(_ context.Context, raceID, entrantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.races[raceID]
	if !ok {
		return ErrEntrantNotFound
	}
	for i := range r.Entrants {
		if r.Entrants[i].ID == entrantID {
			r.Entrants = append(r.Entrants[:i], r.Entrants[i+1:]...)
			r.UpdatedAt = s.clock.Now()
			return nil
		}
	}
	return ErrEntrantNotFound
}

func (s *MemoryStore) StartRace(_ context.Context, id uuid.UUID, startedAt time.Time, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.races[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.StartedAt != nil {
		return false, nil
	}
	r.StartedAt = &startedAt
	r.StatusText = status
	r.UpdatedAt = s.clock.Now()
	return true, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.races[id]
	if !ok {
		return ErrNotFound
	}
	r.StatusText = status
	r.UpdatedAt = s.clock.Now()
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id uuid.UUID) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *run
	c.Splits = append([]time.Duration(nil), run.Splits...)
	return &c, nil
}
