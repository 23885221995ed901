package race

import (
	"context"
	"errors"
	"time"

	"github.com/glacials/splits.io/internal/broadcast"
	"github.com/glacials/splits.io/internal/models"
	"github.com/glacials/splits.io/internal/scheduler"
	"github.com/sirupsen/logrus"
)

// HandleTask applies a fired timed event under the race lock. Tasks for races or ghosts
// that no longer exist are dropped.
func (s *Service) HandleTask(ctx context.Context, t scheduler.Task) error {
	log := s.logger.WithFields(logrus.Fields{"race_id": t.RaceID, "task": t.Kind})
	err := s.withRace(ctx, t.RaceID, func(r *models.Race) error {
		switch t.Kind {
		case scheduler.KindStartBroadcast:
			s.dispatcher.BroadcastRace(r.ID, broadcast.New(t.Type, t.Message, r))
			s.dispatcher.BroadcastGlobal(broadcast.New(t.Type, "A race has started", r))
			return nil
		case scheduler.KindGhostSplit:
			if r.EntrantByID(t.EntrantID) == nil {
				return ErrEntrantNotFound
			}
			s.dispatcher.BroadcastRace(r.ID, broadcast.New(t.Type, t.Message, r))
			return nil
		case scheduler.KindGhostFinish:
			return s.finishGhost(ctx, r, t)
		default:
			log.Warn("dropping task of unknown kind")
			return nil
		}
	})
	if errors.Is(err, ErrNotFound) {
		log.Debug("dropping task for missing race or entrant")
		return nil
	}
	return err
}

func (s *Service) finishGhost(ctx context.Context, r *models.Race, t scheduler.Task) error {
	e := r.EntrantByID(t.EntrantID)
	if e == nil {
		return ErrEntrantNotFound
	}
	if e.FinishedAt != nil && e.FinishedAt.Equal(t.At) {
		// redelivery after the finish was already recorded
		if ShouldEnd(r) && r.StatusText != models.StatusEnded {
			return s.maybeEnd(ctx, r)
		}
		return nil
	}
	e.Finish(t.At)
	if err := s.update(ctx, "finish ghost", e); err != nil {
		return err
	}
	return s.maybeEnd(ctx, s.broadcastUpdate(ctx, r, t.Message))
}

// Recover re-arms timed events for every started, unfinished race from its persisted
// start time. Future events and overdue ghost finishes are armed; overdue announcements
// are skipped. Arming is idempotent, so Recover may run while tasks are already queued.
// It returns the number of tasks armed.
func (s *Service) Recover(ctx context.Context) (int, error) {
	races, err := s.store.ListRaces(ctx, ListOptions{StartedOnly: true, Unfinished: true})
	if err != nil {
		return 0, transient("list started races", err)
	}
	now := s.clock.Now()
	armed := 0
	var failed error
	for _, r := range races {
		runs, err := s.ghostRuns(ctx, r)
		if err != nil {
			s.logger.WithError(err).WithField("race_id", r.ID).Warn("skipping race, ghost runs unavailable")
			failed = err
			continue
		}
		var pending []scheduler.Task
		for _, t := range BuildTasks(r, runs) {
			if t.At.After(now) {
				pending = append(pending, t)
				continue
			}
			if t.Kind == scheduler.KindGhostFinish {
				if e := r.EntrantByID(t.EntrantID); e != nil && !e.Done() {
					pending = append(pending, t)
				}
			}
		}
		if len(pending) == 0 {
			continue
		}
		if err := s.tasks.Schedule(ctx, pending...); err != nil {
			return armed, transient("re-arm race tasks", err)
		}
		armed += len(pending)
		s.logger.WithFields(logrus.Fields{"race_id": r.ID, "tasks": len(pending)}).Debug("re-armed race tasks")
	}
	return armed, failed
}

// RunRecovery calls Recover every interval until ctx is done, so a race whose tasks failed
// to arm is picked up without waiting for a restart.
func (s *Service) RunRecovery(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := s.Recover(ctx); err != nil {
				s.logger.WithError(err).Warn("periodic task recovery failed")
			}
		}
	}
}
