// Package scheduler runs deadline-keyed race tasks. Deadlines live in a Backend rather
// than in process timers, so firings survive restarts.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a task does when it fires.
type Kind string

const (
	KindStartBroadcast Kind = "start_broadcast"
	KindGhostSplit     Kind = "ghost_split"
	KindGhostFinish    Kind = "ghost_finish"
)

// Task is a one-shot event armed against a wall-clock deadline.
type Task struct {
	RaceID    uuid.UUID `json:"race_id"`
	Kind      Kind      `json:"kind"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	EntrantID uuid.UUID `json:"entrant_id"` // uuid.Nil for race-level tasks
	At        time.Time `json:"at"`
}

// Key identifies a task. Scheduling the same key twice arms it once.
func (t Task) Key() string {
	return fmt.Sprintf("%s:%s:%s:%d", t.RaceID, t.Kind, t.EntrantID, t.At.UnixMilli())
}

// Backend stores armed tasks until they are acknowledged.
type Backend interface {
	Schedule(ctx context.Context, tasks ...Task) error
	// Due returns up to limit tasks whose deadline is at or before now, earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]Task, error)
	// Ack removes a fired task.
	Ack(ctx context.Context, t Task) error
	// CancelRace drops every task armed for the race.
	CancelRace(ctx context.Context, raceID uuid.UUID) error
}

// Handler reacts to a fired task. A non-nil error leaves the task armed for a retry.
type Handler interface {
	HandleTask(ctx context.Context, t Task) error
}

type HandlerFunc func(ctx context.Context, t Task) error

func (f HandlerFunc) HandleTask(ctx context.Context, t Task) error { return f(ctx, t) }
