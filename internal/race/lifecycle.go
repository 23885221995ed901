package race

import (
	"context"
	"errors"

	"github.com/glacials/splits.io/internal/broadcast"
	"github.com/glacials/splits.io/internal/models"
	"github.com/glacials/splits.io/internal/scheduler"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ShouldStart reports whether r has enough entrants, all readied, and no start time yet.
func ShouldStart(r *models.Race) bool {
	return !r.Started() && len(r.Entrants) >= models.MinEntrants && r.AllReady()
}

// ShouldEnd reports whether every entrant of a started race is done. It stays true once
// the race has ended, so callers may announce the end more than once.
func ShouldEnd(r *models.Race) bool {
	return r.Finished()
}

// BuildTasks derives every timed task for a started race: the start announcement, plus a
// finish and one split per recorded segment for each ghost whose run is in runs.
func BuildTasks(r *models.Race, runs map[uuid.UUID]*models.Run) []scheduler.Task {
	if !r.Started() {
		return nil
	}
	start := *r.StartedAt
	tasks := []scheduler.Task{{
		RaceID:  r.ID,
		Kind:    scheduler.KindStartBroadcast,
		Type:    broadcast.TypeStartScheduled,
		Message: "The race has started",
		At:      start,
	}}
	for i := range r.Entrants {
		e := &r.Entrants[i]
		if !e.Ghost || e.RunID == nil {
			continue
		}
		run, ok := runs[*e.RunID]
		if !ok {
			continue
		}
		for _, split := range run.Splits {
			tasks = append(tasks, scheduler.Task{
				RaceID:    r.ID,
				Kind:      scheduler.KindGhostSplit,
				Type:      broadcast.TypeEntrantsUpdated,
				Message:   "A ghost has split",
				EntrantID: e.ID,
				At:        start.Add(split),
			})
		}
		tasks = append(tasks, scheduler.Task{
			RaceID:    r.ID,
			Kind:      scheduler.KindGhostFinish,
			Type:      broadcast.TypeEntrantsUpdated,
			Message:   "A ghost has finished",
			EntrantID: e.ID,
			At:        start.Add(run.Duration),
		})
	}
	return tasks
}

// ghostRuns loads the recorded run behind every ghost entrant of r. A run that no longer
// exists is skipped; any other failure is returned so nothing is armed from a partial set.
func (s *Service) ghostRuns(ctx context.Context, r *models.Race) (map[uuid.UUID]*models.Run, error) {
	runs := make(map[uuid.UUID]*models.Run)
	for i := range r.Entrants {
		e := &r.Entrants[i]
		if !e.Ghost || e.RunID == nil {
			continue
		}
		run, err := s.store.GetRun(ctx, *e.RunID)
		if errors.Is(err, ErrNotFound) {
			s.logger.WithFields(logrus.Fields{
				"race_id": r.ID,
				"run_id":  *e.RunID,
			}).Warn("ghost run is gone, not replaying it")
			continue
		}
		if err != nil {
			return nil, transient("load ghost run", err)
		}
		runs[run.ID] = run
	}
	return runs, nil
}

// maybeStart schedules the race start when everyone is ready. The caller holds the race
// lock and r is fresh; the store compare-and-set guards against other processes.
//
// Ghost runs are loaded before the start is committed. If arming the timed tasks fails
// after the commit, the start is still announced and ErrTransient is returned; Recover
// re-arms the race from its persisted start time.
func (s *Service) maybeStart(ctx context.Context, r *models.Race) error {
	if !ShouldStart(r) {
		return nil
	}
	runs, err := s.ghostRuns(ctx, r)
	if err != nil {
		return err
	}
	startedAt := s.clock.Now().Add(models.StartDelay)
	won, err := s.store.StartRace(ctx, r.ID, startedAt, models.StatusInProgress)
	if err != nil {
		return transient("start race", err)
	}
	if !won {
		return nil
	}
	r.StartedAt = &startedAt
	r.StatusText = models.StatusInProgress

	log := s.logger.WithFields(logrus.Fields{"race_id": r.ID, "started_at": startedAt})
	armErr := s.tasks.Schedule(ctx, BuildTasks(r, runs)...)
	if armErr != nil {
		log.WithError(armErr).Error("failed to arm race tasks, leaving them to recovery")
	} else {
		log.Info("race start scheduled")
	}

	s.dispatcher.BroadcastRace(r.ID, broadcast.New(broadcast.TypeStartScheduled, "The race is starting soon", r))
	s.dispatcher.BroadcastGlobal(broadcast.New(broadcast.TypeStartScheduled, "A race is starting soon", r))
	if armErr != nil {
		return transient("arm race tasks", armErr)
	}
	return nil
}

// maybeEnd announces the end of a race whose entrants are all done.
func (s *Service) maybeEnd(ctx context.Context, r *models.Race) error {
	if !ShouldEnd(r) {
		return nil
	}
	if r.StatusText != models.StatusEnded {
		if err := s.store.SetStatus(ctx, r.ID, models.StatusEnded); err != nil {
			return transient("end race", err)
		}
		r.StatusText = models.StatusEnded
		s.logger.WithField("race_id", r.ID).Info("race ended")
	}
	s.dispatcher.BroadcastRace(r.ID, broadcast.New(broadcast.TypeEnded, "The race has ended", r))
	s.dispatcher.BroadcastGlobal(broadcast.New(broadcast.TypeEnded, "A race has ended", r))
	return nil
}
