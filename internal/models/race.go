// internal/models/race.go
package models

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// StartDelay is the grace window between everyone readying up and the race clock starting.
	StartDelay = 20 * time.Second
	// LockAfter is how long a finished race keeps accepting changes.
	LockAfter = 30 * time.Minute
	// AbandonAfter is how long an under-populated race can sit untouched before it is hidden.
	AbandonAfter = time.Hour
	// MinEntrants is the number of entrants required before a race can start.
	MinEntrants = 2
)

// Visibility controls who may view and join a race.
type Visibility string

const (
	VisibilityPublic     Visibility = "public"
	VisibilityInviteOnly Visibility = "invite_only"
	VisibilitySecret     Visibility = "secret"
)

// ParseVisibility returns the visibility named by s, or false if s names none.
func ParseVisibility(s string) (Visibility, bool) {
	switch v := Visibility(s); v {
	case VisibilityPublic, VisibilityInviteOnly, VisibilitySecret:
		return v, true
	}
	return "", false
}

// RequiresToken reports whether viewing a race with this visibility needs its join token.
func (v Visibility) RequiresToken() bool {
	return v == VisibilityInviteOnly || v == VisibilitySecret
}

// RaceKind tags which family of race this is. All kinds share one lifecycle.
type RaceKind string

const (
	KindStandard   RaceKind = "race"
	KindBingo      RaceKind = "bingo"
	KindRandomizer RaceKind = "randomizer"
)

// Values for Race.StatusText.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusEnded      = "ended"
)

// Race is a single competitive session and its entrants.
type Race struct {
	ID         uuid.UUID  `json:"id"`
	Kind       RaceKind   `json:"type"`
	OwnerID    uuid.UUID  `json:"owner_id"`
	Visibility Visibility `json:"visibility"`
	JoinToken  string     `json:"-"`
	StatusText string     `json:"status_text"`
	Notes      string     `json:"notes"`

	// Kind-specific configuration. Standard races use CategoryID, bingo races use GameID and
	// CardURL, randomizer races use GameID and Seed.
	CategoryID *int64 `json:"category_id,omitempty"`
	GameID     *int64 `json:"game_id,omitempty"`
	CardURL    string `json:"bingo_card,omitempty"`
	Seed       string `json:"seed,omitempty"`

	StartedAt *time.Time `json:"started_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Entrants []Entrant `json:"entrants"`
}

// Started reports whether the race has a start time. A race never un-starts.
func (r *Race) Started() bool {
	return r.StartedAt != nil
}

// Finished reports whether the race has started and every entrant is done.
func (r *Race) Finished() bool {
	if !r.Started() {
		return false
	}
	for i := range r.Entrants {
		if !r.Entrants[i].Done() {
			return false
		}
	}
	return true
}

// InProgress reports whether the race has started but not finished.
func (r *Race) InProgress() bool {
	return r.Started() && !r.Finished()
}

// FinishedAt is the latest finish or forfeit time across entrants, or nil if nobody is done.
func (r *Race) FinishedAt() *time.Time {
	var latest *time.Time
	for i := range r.Entrants {
		for _, t := range []*time.Time{r.Entrants[i].FinishedAt, r.Entrants[i].ForfeitedAt} {
			if t != nil && (latest == nil || t.After(*latest)) {
				latest = t
			}
		}
	}
	return latest
}

// Locked reports whether the race finished more than LockAfter ago.
func (r *Race) Locked(now time.Time) bool {
	if !r.Finished() {
		return false
	}
	finishedAt := r.FinishedAt()
	if finishedAt == nil {
		// started with no entrants left at all
		return now.After(r.StartedAt.Add(LockAfter))
	}
	return now.After(finishedAt.Add(LockAfter))
}

// Abandoned reports whether the race has gone untouched for AbandonAfter with too few entrants.
func (r *Race) Abandoned(now time.Time) bool {
	return r.UpdatedAt.Before(now.Add(-AbandonAfter)) && len(r.Entrants) < MinEntrants
}

// Active reports whether the race belongs in live listings.
func (r *Race) Active(now time.Time) bool {
	return !r.Abandoned(now) && !r.Finished()
}

// Status is the lifecycle stage as shown to clients.
func (r *Race) Status() string {
	switch {
	case !r.Started():
		return StatusNotStarted
	case r.Finished():
		return StatusEnded
	default:
		return StatusInProgress
	}
}

// Title is the first line of the notes.
func (r *Race) Title() string {
	title, _, _ := strings.Cut(r.Notes, "\n")
	if title = strings.TrimSpace(title); title != "" {
		return title
	}
	return "Untitled race"
}

// Duration is how long the race ran, or has been running so far. Zero if not started.
func (r *Race) Duration(now time.Time) time.Duration {
	if !r.Started() {
		return 0
	}
	if r.Finished() {
		if finishedAt := r.FinishedAt(); finishedAt != nil {
			return finishedAt.Sub(*r.StartedAt)
		}
		return 0
	}
	if now.Before(*r.StartedAt) {
		return 0
	}
	return now.Sub(*r.StartedAt)
}

// BelongsTo reports whether participant owns the race. Anonymous participants own nothing,
// so races whose owner vanished can't be edited by logged-out users.
func (r *Race) BelongsTo(participant *uuid.UUID) bool {
	return participant != nil && *participant == r.OwnerID
}

// TokenMatches compares token against the race's join token in constant time.
func (r *Race) TokenMatches(token string) bool {
	return r.JoinToken != "" && subtle.ConstantTimeCompare([]byte(r.JoinToken), []byte(token)) == 1
}

// Joinable reports whether participant may act on the race: entrants and the owner always
// can, token holders can for invite-only and secret races, and anyone can for public ones.
func (r *Race) Joinable(participant *uuid.UUID, token string) bool {
	if r.EntrantFor(participant) != nil || r.BelongsTo(participant) {
		return true
	}
	if r.Visibility.RequiresToken() && r.TokenMatches(token) {
		return true
	}
	return r.Visibility == VisibilityPublic
}

// EntrantFor returns the live entrant for participant, or nil.
func (r *Race) EntrantFor(participant *uuid.UUID) *Entrant {
	if participant == nil {
		return nil
	}
	for i := range r.Entrants {
		e := &r.Entrants[i]
		if e.ParticipantID != nil && *e.ParticipantID == *participant {
			return e
		}
	}
	return nil
}

// EntrantByID returns the entrant with the given id, or nil.
func (r *Race) EntrantByID(id uuid.UUID) *Entrant {
	for i := range r.Entrants {
		if r.Entrants[i].ID == id {
			return &r.Entrants[i]
		}
	}
	return nil
}

// AllReady reports whether every entrant has readied up.
func (r *Race) AllReady() bool {
	for i := range r.Entrants {
		if !r.Entrants[i].Ready() {
			return false
		}
	}
	return true
}

// Place is the 1-based finishing position of the entrant, or 0 if it hasn't finished.
// Entrants with identical finish times share a place.
func (r *Race) Place(e *Entrant) int {
	if e.FinishedAt == nil {
		return 0
	}
	place := 1
	for i := range r.Entrants {
		other := r.Entrants[i].FinishedAt
		if other != nil && other.Before(*e.FinishedAt) {
			place++
		}
	}
	return place
}

// Clone returns a deep copy of the race.
func (r *Race) Clone() *Race {
	c := *r
	c.StartedAt = cloneTime(r.StartedAt)
	if r.CategoryID != nil {
		v := *r.CategoryID
		c.CategoryID = &v
	}
	if r.GameID != nil {
		v := *r.GameID
		c.GameID = &v
	}
	c.Entrants = make([]Entrant, len(r.Entrants))
	for i := range r.Entrants {
		c.Entrants[i] = r.Entrants[i].Clone()
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
