// internal/models/entrant.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Entrant is one participant's state within a race. Ghost entrants replay a recorded run
// and have no live participant.
type Entrant struct {
	ID            uuid.UUID  `json:"id"`
	RaceID        uuid.UUID  `json:"race_id"`
	ParticipantID *uuid.UUID `json:"participant_id"`
	Ghost         bool       `json:"ghost"`
	RunID         *uuid.UUID `json:"run_id,omitempty"`

	ReadiedAt   *time.Time `json:"readied_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	ForfeitedAt *time.Time `json:"forfeited_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (e *Entrant) Ready() bool     { return e.ReadiedAt != nil }
func (e *Entrant) Finished() bool  { return e.FinishedAt != nil }
func (e *Entrant) Forfeited() bool { return e.ForfeitedAt != nil }

// Done reports whether the entrant has either finished or forfeited.
func (e *Entrant) Done() bool {
	return e.Finished() || e.Forfeited()
}

// Finish records a finish at t and clears any forfeit.
func (e *Entrant) Finish(t time.Time) {
	e.FinishedAt = &t
	e.ForfeitedAt = nil
}

// Forfeit records a forfeit at t and clears any finish.
func (e *Entrant) Forfeit(t time.Time) {
	e.ForfeitedAt = &t
	e.FinishedAt = nil
}

// Rejoin puts the entrant back into the race.
func (e *Entrant) Rejoin() {
	e.FinishedAt = nil
	e.ForfeitedAt = nil
}

// Clone returns a deep copy of the entrant.
func (e Entrant) Clone() Entrant {
	c := e
	if e.ParticipantID != nil {
		id := *e.ParticipantID
		c.ParticipantID = &id
	}
	if e.RunID != nil {
		id := *e.RunID
		c.RunID = &id
	}
	c.ReadiedAt = cloneTime(e.ReadiedAt)
	c.FinishedAt = cloneTime(e.FinishedAt)
	c.ForfeitedAt = cloneTime(e.ForfeitedAt)
	return c
}
