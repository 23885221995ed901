package models

import (
	"time"

	"github.com/google/uuid"
)

// RaceSnapshot is the full view of a race handed to clients. Clients replace their state
// with it wholesale; it never carries the join token.
type RaceSnapshot struct {
	ID         uuid.UUID         `json:"id"`
	Type       RaceKind          `json:"type"`
	OwnerID    uuid.UUID         `json:"owner_id"`
	Visibility Visibility        `json:"visibility"`
	Status     string            `json:"status"`
	StatusText string            `json:"status_text"`
	Title      string            `json:"title"`
	Notes      string            `json:"notes"`
	CategoryID *int64            `json:"category_id,omitempty"`
	GameID     *int64            `json:"game_id,omitempty"`
	CardURL    string            `json:"bingo_card,omitempty"`
	Seed       string            `json:"seed,omitempty"`
	StartedAt  *time.Time        `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Entrants   []EntrantSnapshot `json:"entrants"`
}

type EntrantSnapshot struct {
	ID            uuid.UUID  `json:"id"`
	ParticipantID *uuid.UUID `json:"participant_id"`
	Ghost         bool       `json:"ghost"`
	RunID         *uuid.UUID `json:"run_id,omitempty"`
	ReadiedAt     *time.Time `json:"readied_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	ForfeitedAt   *time.Time `json:"forfeited_at"`
	Place         int        `json:"place,omitempty"`
}

// NewRaceSnapshot copies r into its client-facing form.
func NewRaceSnapshot(r *Race) *RaceSnapshot {
	c := r.Clone()
	s := &RaceSnapshot{
		ID:         c.ID,
		Type:       c.Kind,
		OwnerID:    c.OwnerID,
		Visibility: c.Visibility,
		Status:     c.Status(),
		StatusText: c.StatusText,
		Title:      c.Title(),
		Notes:      c.Notes,
		CategoryID: c.CategoryID,
		GameID:     c.GameID,
		CardURL:    c.CardURL,
		Seed:       c.Seed,
		StartedAt:  c.StartedAt,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
		Entrants:   make([]EntrantSnapshot, 0, len(c.Entrants)),
	}
	if c.Finished() {
		s.FinishedAt = c.FinishedAt()
	}
	for i := range c.Entrants {
		e := &c.Entrants[i]
		s.Entrants = append(s.Entrants, EntrantSnapshot{
			ID:            e.ID,
			ParticipantID: e.ParticipantID,
			Ghost:         e.Ghost,
			RunID:         e.RunID,
			ReadiedAt:     e.ReadiedAt,
			FinishedAt:    e.FinishedAt,
			ForfeitedAt:   e.ForfeitedAt,
			Place:         c.Place(e),
		})
	}
	return s
}
