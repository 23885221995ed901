package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := t0.Add(d)
	return &t
}

func TestFinishedAndLocked(t *testing.T) {
	r := &Race{
		StartedAt: at(0),
		Entrants: []Entrant{
			{ID: uuid.New(), FinishedAt: at(10 * time.Minute)},
			{ID: uuid.New()},
		},
	}
	assert.False(t, r.Finished())
	assert.True(t, r.InProgress())
	assert.Equal(t, StatusInProgress, r.Status())
	assert.False(t, r.Locked(t0.Add(time.Hour)))

	r.Entrants[1].Forfeit(t0.Add(12 * time.Minute))
	assert.True(t, r.Finished())
	assert.Equal(t, StatusEnded, r.Status())
	require.NotNil(t, r.FinishedAt())
	assert.Equal(t, t0.Add(12*time.Minute), *r.FinishedAt())
	assert.False(t, r.Locked(t0.Add(42*time.Minute)))
	assert.True(t, r.Locked(t0.Add(42*time.Minute+time.Second)))
}

func TestNotStartedIsNeverFinished(t *testing.T) {
	r := &Race{Entrants: []Entrant{{ID: uuid.New(), FinishedAt: at(0)}}}
	assert.False(t, r.Finished())
	assert.Equal(t, StatusNotStarted, r.Status())
	assert.Zero(t, r.Duration(t0.Add(time.Hour)))
}

func TestAbandoned(t *testing.T) {
	r := &Race{UpdatedAt: t0, Entrants: []Entrant{{ID: uuid.New()}}}
	assert.False(t, r.Abandoned(t0.Add(59*time.Minute)))
	assert.True(t, r.Abandoned(t0.Add(61*time.Minute)))
	assert.False(t, r.Active(t0.Add(61*time.Minute)))

	r.Entrants = append(r.Entrants, Entrant{ID: uuid.New()})
	assert.False(t, r.Abandoned(t0.Add(61*time.Minute)))
	assert.True(t, r.Active(t0.Add(61*time.Minute)))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Untitled race", (&Race{}).Title())
	assert.Equal(t, "Untitled race", (&Race{Notes: "\nsecond line"}).Title())
	assert.Equal(t, "Any% race", (&Race{Notes: "Any% race\nbring snacks"}).Title())
}

func TestPlaceAndDuration(t *testing.T) {
	r := &Race{
		StartedAt: at(0),
		Entrants: []Entrant{
			{ID: uuid.New(), FinishedAt: at(20 * time.Minute)},
			{ID: uuid.New(), FinishedAt: at(15 * time.Minute)},
			{ID: uuid.New(), ForfeitedAt: at(5 * time.Minute)},
		},
	}
	assert.Equal(t, 2, r.Place(&r.Entrants[0]))
	assert.Equal(t, 1, r.Place(&r.Entrants[1]))
	assert.Equal(t, 0, r.Place(&r.Entrants[2]))
	assert.Equal(t, 20*time.Minute, r.Duration(t0.Add(time.Hour)))

	r.Entrants[2].Rejoin()
	assert.Equal(t, 30*time.Minute, r.Duration(t0.Add(30*time.Minute)))
}

func TestFinishAndForfeitAreExclusive(t *testing.T) {
	var e Entrant
	e.Finish(t0)
	assert.True(t, e.Finished())
	assert.False(t, e.Forfeited())
	e.Forfeit(t0.Add(time.Second))
	assert.False(t, e.Finished())
	assert.True(t, e.Forfeited())
	e.Finish(t0.Add(2 * time.Second))
	assert.True(t, e.Finished())
	assert.False(t, e.Forfeited())
	e.Rejoin()
	assert.False(t, e.Done())
}

func TestEntrantLookups(t *testing.T) {
	p := uuid.New()
	r := &Race{OwnerID: p, Entrants: []Entrant{{ID: uuid.New()}, {ID: uuid.New(), ParticipantID: &p}}}
	assert.Equal(t, r.Entrants[1].ID, r.EntrantFor(&p).ID)
	assert.Nil(t, r.EntrantFor(nil))
	assert.True(t, r.BelongsTo(&p))
	assert.False(t, r.BelongsTo(nil))
	assert.Equal(t, r.Entrants[0].ID, r.EntrantByID(r.Entrants[0].ID).ID)
}

func TestCloneIsDeep(t *testing.T) {
	p := uuid.New()
	r := &Race{StartedAt: at(0), Entrants: []Entrant{{ID: uuid.New(), ParticipantID: &p, ReadiedAt: at(0)}}}
	c := r.Clone()
	*c.StartedAt = t0.Add(time.Hour)
	c.Entrants[0].ReadiedAt = nil
	assert.Equal(t, t0, *r.StartedAt)
	assert.NotNil(t, r.Entrants[0].ReadiedAt)
}

func TestSnapshotOmitsJoinToken(t *testing.T) {
	r := &Race{ID: uuid.New(), JoinToken: "hunter2", StartedAt: at(0), Entrants: []Entrant{{ID: uuid.New(), FinishedAt: at(time.Minute)}}}
	s := NewRaceSnapshot(r)
	assert.Equal(t, StatusEnded, s.Status)
	require.NotNil(t, s.FinishedAt)
	assert.Equal(t, 1, s.Entrants[0].Place)
}

func TestParseVisibility(t *testing.T) {
	v, ok := ParseVisibility("invite_only")
	assert.True(t, ok)
	assert.True(t, v.RequiresToken())
	_, ok = ParseVisibility("friends")
	assert.False(t, ok)
	assert.False(t, VisibilityPublic.RequiresToken())
}
