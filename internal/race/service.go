// internal/race/service.go
package race

import (
	"context"
	"errors"
	"time"

	"github.com/glacials/splits.io/internal/broadcast"
	"github.com/glacials/splits.io/internal/metrics"
	"github.com/glacials/splits.io/internal/models"
	"github.com/glacials/splits.io/internal/scheduler"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Command is a participant action on a race.
type Command string

const (
	CmdJoin     Command = "join"
	CmdLeave    Command = "leave"
	CmdReady    Command = "ready"
	CmdUnready  Command = "unready"
	CmdForfeit  Command = "forfeit"
	CmdDone     Command = "done"
	CmdRejoin   Command = "rejoin"
	CmdAddGhost Command = "add_ghost"
)

// ParseCommand maps a client action name onto a Command.
func ParseCommand(action string) (Command, bool) {
	switch c := Command(action); c {
	case CmdJoin, CmdLeave, CmdReady, CmdUnready, CmdForfeit, CmdDone, CmdRejoin, CmdAddGhost:
		return c, true
	}
	return "", false
}

// CommandOptions carries per-command inputs captured by the transport.
type CommandOptions struct {
	// ReceivedAt is when the command arrived, taken before any other processing.
	ReceivedAt time.Time
	// ServerTime is the client-measured effective time for done and forfeit.
	ServerTime *time.Time
	// RunID names the recorded run for add_ghost.
	RunID *uuid.UUID
}

// Tasks arms and cancels timed race events.
type Tasks interface {
	Schedule(ctx context.Context, tasks ...scheduler.Task) error
	CancelRace(ctx context.Context, raceID uuid.UUID) error
}

// Service applies commands and timed events to races, one race at a time.
type Service struct {
	store      Store
	tasks      Tasks
	dispatcher broadcast.Dispatcher
	clock      clockwork.Clock
	logger     *logrus.Logger
	locks      *keyedMutex
}

func NewService(store Store, tasks Tasks, dispatcher broadcast.Dispatcher, clock clockwork.Clock, logger *logrus.Logger) *Service {
	return &Service{
		store:      store,
		tasks:      tasks,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     logger,
		locks:      newKeyedMutex(),
	}
}

// Store exposes the underlying store for read-only lookups such as prefix resolution.
func (s *Service) Store() Store { return s.store }

// Find loads a race by id.
func (s *Service) Find(ctx context.Context, id uuid.UUID) (*models.Race, error) {
	r, err := s.store.GetRace(ctx, id)
	if err != nil {
		return nil, transient("find race", err)
	}
	return r, nil
}

// ActiveRaces lists up to limit races that are neither finished, abandoned, nor secret,
// newest first.
func (s *Service) ActiveRaces(ctx context.Context, limit int) ([]*models.Race, error) {
	races, err := s.store.ListRaces(ctx, ListOptions{
		ActiveAt:      s.clock.Now(),
		ExcludeSecret: true,
		Limit:         limit,
	})
	if err != nil {
		return nil, transient("list races", err)
	}
	return races, nil
}

// Execute runs cmd for participant against the race and returns the race as it stands
// afterwards.
func (s *Service) Execute(ctx context.Context, cmd Command, raceID uuid.UUID, participant *uuid.UUID, opts CommandOptions) (*models.Race, error) {
	opts = s.withDefaults(opts)
	var (
		r   *models.Race
		err error
	)
	switch cmd {
	case CmdJoin:
		r, err = s.Join(ctx, raceID, participant, opts)
	case CmdLeave:
		r, err = s.Leave(ctx, raceID, participant, opts)
	case CmdReady:
		r, err = s.Ready(ctx, raceID, participant, opts)
	case CmdUnready:
		r, err = s.Unready(ctx, raceID, participant, opts)
	case CmdForfeit:
		r, err = s.Forfeit(ctx, raceID, participant, opts)
	case CmdDone:
		r, err = s.Done(ctx, raceID, participant, opts)
	case CmdRejoin:
		r, err = s.Rejoin(ctx, raceID, participant, opts)
	case CmdAddGhost:
		r, err = s.AddGhost(ctx, raceID, participant, opts)
	default:
		err = Invalid("action", "is not a race command")
	}
	metrics.RecordCommand(string(cmd), outcome(err), s.clock.Since(opts.ReceivedAt))
	if err != nil && !errors.Is(err, ErrEntrantNotFound) {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"race_id":        raceID,
			"participant_id": ParticipantString(participant),
			"command":        cmd,
		}).Debug("race command rejected")
	}
	return r, err
}

func outcome(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrEntrantNotFound):
		return "ignored"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.As(err, &ve):
		return "invalid"
	default:
		return "rejected"
	}
}

// withRace runs fn on a fresh copy of the race while holding the race lock.
func (s *Service) withRace(ctx context.Context, id uuid.UUID, fn func(r *models.Race) error) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	r, err := s.store.GetRace(ctx, id)
	if err != nil {
		return transient("load race", err)
	}
	return fn(r)
}

// command is the shared shape of entrant commands: authenticate, lock, reload, check the
// lock window, find the caller's entrant, mutate, then broadcast the fresh snapshot.
func (s *Service) command(ctx context.Context, raceID uuid.UUID, participant *uuid.UUID, now time.Time, update string,
	apply func(r *models.Race, e *models.Entrant) error, post func(r *models.Race) error,
) (*models.Race, error) {
	if participant == nil {
		return nil, ErrAuthenticationRequired
	}
	var result *models.Race
	err := s.withRace(ctx, raceID, func(r *models.Race) error {
		if r.Locked(now) {
			return StatusError(StatusFinished, "This race is locked")
		}
		e := r.EntrantFor(participant)
		if e == nil {
			return ErrEntrantNotFound
		}
		if err := apply(r, e); err != nil {
			return err
		}
		fresh := s.broadcastUpdate(ctx, r, update)
		if post != nil {
			if err := post(fresh); err != nil {
				return err
			}
		}
		result = fresh
		return nil
	})
	return result, err
}

// broadcastUpdate sends the snapshot of a race whose mutation has been committed. The race
// is re-read from the store; when that fails, applied (the caller's copy with the mutation
// already made) is broadcast instead, so a persisted change is never reported as failed.
func (s *Service) broadcastUpdate(ctx context.Context, applied *models.Race, message string) *models.Race {
	r, err := s.store.GetRace(ctx, applied.ID)
	if err != nil {
		s.logger.WithError(err).WithField("race_id", applied.ID).Warn("reload after update failed, broadcasting applied state")
		applied.UpdatedAt = s.clock.Now()
		r = applied
	}
	s.dispatcher.BroadcastRace(r.ID, broadcast.New(broadcast.TypeEntrantsUpdated, message, r))
	return r
}

// removeEntrant drops the entrant with id from r's in-memory entrant list.
func removeEntrant(r *models.Race, id uuid.UUID) {
	for i := range r.Entrants {
		if r.Entrants[i].ID == id {
			r.Entrants = append(r.Entrants[:i], r.Entrants[i+1:]...)
			return
		}
	}
}

// Join enters participant into the race.
func (s *Service) Join(ctx context.Context, raceID uuid.UUID, participant *uuid.UUID, opts CommandOptions) (*models.Race, error) {
	opts = s.withDefaults(opts)
	if participant == nil {
		return nil, ErrAuthenticationRequired
	}
	now := opts.ReceivedAt
	var result *models.Race
	err := s.withRace(ctx, raceID, func(r *models.Race) error {
		if r.Locked(now) {
			return StatusError(StatusFinished, "This race is locked")
		}
		if r.EntrantFor(participant) != nil {
			return Invalid("participant", "has already entered this race")
		}
		if r.Started() {
			return StatusError(StatusStarted, "Race has already started")
		}
		id := *participant
		e := &models.Entrant{
			ID:            uuid.New(),
			RaceID:        r.ID,
			ParticipantID: &id,
			CreatedAt:     now,
		}
		if err := s.store.CreateEntrant(ctx, e); err != nil {
			return transient("join race", err)
		}
		r.Entrants = append(r.Entrants, *e)
		result = s.broadcastUpdate(ctx, r, "A new entrant has joined the race")
		return nil
	})
	return result, err
}

// Leave removes participant's entrant. Leaving is only allowed before the start or after
// the finish.
func (s *Service) Leave(ctx context.Context, raceID uuid.UUID, participant *uuid.UUID, opts CommandOptions) (*models.Race, error) {
	opts = s.withDefaults(opts)
	return s.command(ctx, raceID, participant, opts.ReceivedAt, "An entrant has left the race",
		func(r *models.Race, e *models.Entrant) error {
			if r.InProgress() {
				return StatusError(StatusStarted, "Cannot leave a race that is in progress")
			}
			if err := s.store.DeleteEntrant(ctx, r.ID, e.ID); err != nil {
				return transient("leave race", err)
			}
			removeEntrant(r, e.ID)
			return nil
		}, nil)
}

// Ready marks participant ready and starts the race once everyone is.
func (s *Service) Ready(ctx context.Context, raceID uuid.UUID, participant *uuid.UUID, opts CommandOptions) (*models.Race, error) {
	opts = s.withDefaults(opts)
	return s.command(ctx, raceID, participant, opts.ReceivedAt, "An entrant has readied up",
		func(r *models.Race, e *models.Entrant) error {
			if r.Started() {
				return StatusError(StatusStarted, "Race has already started")
			}
			at := opts.ReceivedAt
			e.ReadiedAt = &at
			return s.update(ctx, "ready", e)
		},
		func(r *models.Race) error { return s.maybeStart(ctx, r) })
}

func (s *Service) Unready(ctx context.Context, raceID uuid.UUID, participant *uuid.UUID, opts CommandOptions) (*models.Race, error) {
	opts = s.withDefaults(opts)
	return s.command(ctx, raceID, participant, opts.ReceivedAt, "An entrant has unreadied",
		func(r *models.Race, e *models.Entrant) error {
			if r.Started() {
				return StatusError(StatusStarted, "Race has already started")
			}
			e.ReadiedAt = nil
			return s.update(ctx, "unready", e)
		}, nil)
}

// Forfeit records a forfeit at the effective time and clears any finish.
func (s *Service) Forfeit(ctx context.Context, raceID uuid.UUID, participant *uuid.UUID, opts CommandOptions) (*models.Race, error) {
	opts = s.withDefaults(opts)
	at := effectiveTime(opts)
	return s.command(ctx, raceID, participant, opts.ReceivedAt, "An entrant has forfeited",
		func(r *models.Race, e *models.Entrant) error {
			if !r.Started() {
				return Invalid("race", "has not started yet")
			}
			e.Forfeit(at)
			return s.update(ctx, "forfeit", e)
		},
		func(r *models.Race) error { return s.maybeEnd(ctx, r) })
}

// Done records a finish at the effective time and clears any forfeit.
func (s *Service) Done(ctx context.Context, raceID uuid.UUID, participant *uuid.UUID, opts CommandOptions) (*models.Race, error) {
	opts = s.withDefaults(opts)
	at := effectiveTime(opts)
	return s.command(ctx, raceID, participant, opts.ReceivedAt, "An entrant has finished",
		func(r *models.Race, e *models.Entrant) error {
			if !r.Started() {
				return Invalid("race", "has not started yet")
			}
			if at.Before(*r.StartedAt) {
				return Invalid("finished_at", "cannot be before the race starts")
			}
			e.Finish(at)
			return s.update(ctx, "done", e)
		},
		func(r *models.Race) error { return s.maybeEnd(ctx, r) })
}

// Rejoin puts a finished or forfeited entrant back into the race.
func (s *Service) Rejoin(ctx context.Context, raceID uuid.UUID, participant *uuid.UUID, opts CommandOptions) (*models.Race, error) {
	opts = s.withDefaults(opts)
	return s.command(ctx, raceID, participant, opts.ReceivedAt, "An entrant has rejoined the race",
		func(r *models.Race, e *models.Entrant) error {
			e.Rejoin()
			if err := s.update(ctx, "rejoin", e); err != nil {
				return err
			}
			if r.Started() && r.StatusText == models.StatusEnded {
				if err := s.store.SetStatus(ctx, r.ID, models.StatusInProgress); err != nil {
					return transient("rejoin", err)
				}
				r.StatusText = models.StatusInProgress
			}
			return nil
		}, nil)
}

// AddGhost enters a recorded run as a ghost. Only the owner may do so, before the start.
func (s *Service) AddGhost(ctx context.Context, raceID uuid.UUID, participant *uuid.UUID, opts CommandOptions) (*models.Race, error) {
	opts = s.withDefaults(opts)
	if participant == nil {
		return nil, ErrAuthenticationRequired
	}
	if opts.RunID == nil {
		return nil, Invalid("run_id", "is required")
	}
	now := opts.ReceivedAt
	var result *models.Race
	err := s.withRace(ctx, raceID, func(r *models.Race) error {
		if r.Locked(now) {
			return StatusError(StatusFinished, "This race is locked")
		}
		if !r.BelongsTo(participant) {
			return ErrAuthorizationDenied
		}
		if r.Started() {
			return StatusError(StatusStarted, "Race has already started")
		}
		run, err := s.store.GetRun(ctx, *opts.RunID)
		if errors.Is(err, ErrNotFound) {
			return Invalid("run_id", "does not exist")
		}
		if err != nil {
			return transient("add ghost", err)
		}
		runID := run.ID
		e := &models.Entrant{
			ID:        uuid.New(),
			RaceID:    r.ID,
			Ghost:     true,
			RunID:     &runID,
			ReadiedAt: &now,
			CreatedAt: now,
		}
		if err := s.store.CreateEntrant(ctx, e); err != nil {
			return transient("add ghost", err)
		}
		r.Entrants = append(r.Entrants, *e)
		fresh := s.broadcastUpdate(ctx, r, "A ghost has joined the race")
		result = fresh
		return s.maybeStart(ctx, fresh)
	})
	return result, err
}

func (s *Service) update(ctx context.Context, op string, e *models.Entrant) error {
	if err := s.store.UpdateEntrant(ctx, e); err != nil {
		return transient(op, err)
	}
	return nil
}

func (s *Service) withDefaults(opts CommandOptions) CommandOptions {
	if opts.ReceivedAt.IsZero() {
		opts.ReceivedAt = s.clock.Now()
	}
	return opts
}

// ParticipantString renders a participant for logs.
func ParticipantString(p *uuid.UUID) string {
	if p == nil {
		return "anonymous"
	}
	return p.String()
}

// effectiveTime prefers the client-measured time over the arrival time.
func effectiveTime(opts CommandOptions) time.Time {
	if opts.ServerTime != nil {
		return opts.ServerTime.UTC()
	}
	return opts.ReceivedAt
}

// DeleteRace cancels every armed task for the race and removes it.
func (s *Service) DeleteRace(ctx context.Context, id uuid.UUID) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	if err := s.tasks.CancelRace(ctx, id); err != nil {
		return transient("cancel race tasks", err)
	}
	if err := s.store.DeleteRace(ctx, id); err != nil {
		return transient("delete race", err)
	}
	s.logger.WithField("race_id", id).Info("race deleted")
	return nil
}
